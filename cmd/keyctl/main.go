// Package main はCLIツールのエントリポイント。
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

const version = "1.0.0"

var (
	apiURL  string
	output  string
	timeout time.Duration
)

// HTTPクライアント
var httpClient *http.Client

func main() {
	rootCmd := &cobra.Command{
		Use:   "keyctl",
		Short: "Keyset Lifecycle Service CLI",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if apiURL == "" {
				apiURL = os.Getenv("KEYCTL_API_URL")
			}
			apiURL = strings.TrimRight(apiURL, "/")
			httpClient = &http.Client{Timeout: timeout}
		},
		SilenceUsage: true,
	}

	// グローバルフラグ
	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "", "API endpoint URL (or set KEYCTL_API_URL)")
	rootCmd.PersistentFlags().StringVar(&output, "output", "text", "Output format: text, json")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "Request timeout")

	// サブコマンド登録
	rootCmd.AddCommand(namespaceCmd())
	rootCmd.AddCommand(createCmd())
	rootCmd.AddCommand(listCmd())
	rootCmd.AddCommand(getCmd())
	rootCmd.AddCommand(updateCmd())
	rootCmd.AddCommand(transitionCmd())
	rootCmd.AddCommand(rotateCmd())
	rootCmd.AddCommand(deleteCmd())
	rootCmd.AddCommand(publicCmd())
	rootCmd.AddCommand(encryptCmd())
	rootCmd.AddCommand(decryptCmd())
	rootCmd.AddCommand(macCmd())
	rootCmd.AddCommand(signCmd())
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// versionCmd はバージョン情報を表示する。
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("keyctl version %s\n", version)
		},
	}
}

// keysetView はテキスト出力で使うキーセットの項目。
type keysetView struct {
	ID          string   `json:"id"`
	NamespaceID int64    `json:"namespace_id"`
	Name        string   `json:"name"`
	KeysetName  string   `json:"keyset_name"`
	Algorithm   string   `json:"algorithm"`
	State       string   `json:"state"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
	UpdatedAt   string   `json:"updated_at"`
}

// call はAPIを呼び出し、want 以外のステータスをエラーにする。
func call(method, path string, body any, want int) ([]byte, error) {
	if apiURL == "" {
		return nil, fmt.Errorf("--api-url is required (or set KEYCTL_API_URL)")
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, apiURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != want {
		return nil, handleErrorResponse(resp.StatusCode, respBody)
	}
	return respBody, nil
}

// printKeyset はキーセットのレスポンスを出力形式に合わせて表示する。
func printKeyset(body []byte, verb string) error {
	if output == "json" {
		fmt.Println(string(body))
		return nil
	}
	var k keysetView
	if err := json.Unmarshal(body, &k); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	fmt.Printf("%s keyset %q (id: %s, state: %s, algorithm: %s)\n", verb, k.Name, k.ID, k.State, k.Algorithm)
	return nil
}

func keysetPath(namespaceID int64, keysetID string) string {
	return fmt.Sprintf("/v1/namespaces/%d/keysets/%s", namespaceID, keysetID)
}

// keysetFlags は --namespace と --id を登録する。
func keysetFlags(cmd *cobra.Command, namespaceID *int64, keysetID *string) {
	cmd.Flags().Int64Var(namespaceID, "namespace", 0, "Namespace ID (required)")
	cmd.Flags().StringVar(keysetID, "id", "", "Keyset ID (required)")
	cmd.MarkFlagRequired("namespace")
	cmd.MarkFlagRequired("id")
}

// namespaceCmd はnamespaceの管理コマンド。
func namespaceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "namespace",
		Short: "Manage namespaces",
	}
	var name string
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a namespace",
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := call(http.MethodPost, "/v1/namespaces", map[string]string{"name": name}, http.StatusCreated)
			if err != nil {
				return err
			}
			if output == "json" {
				fmt.Println(string(body))
				return nil
			}
			var ns struct {
				ID   int64  `json:"id"`
				Name string `json:"name"`
			}
			if err := json.Unmarshal(body, &ns); err != nil {
				return fmt.Errorf("parsing response: %w", err)
			}
			fmt.Printf("Created namespace %q (id: %d)\n", ns.Name, ns.ID)
			return nil
		},
	}
	createCmd.Flags().StringVar(&name, "name", "", "Namespace name (required)")
	createCmd.MarkFlagRequired("name")

	var id int64
	getCmd := &cobra.Command{
		Use:   "get",
		Short: "Get a namespace",
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := call(http.MethodGet, fmt.Sprintf("/v1/namespaces/%d", id), nil, http.StatusOK)
			if err != nil {
				return err
			}
			if output == "json" {
				fmt.Println(string(body))
				return nil
			}
			var ns struct {
				ID        int64  `json:"id"`
				Name      string `json:"name"`
				CreatedAt string `json:"created_at"`
			}
			if err := json.Unmarshal(body, &ns); err != nil {
				return fmt.Errorf("parsing response: %w", err)
			}
			fmt.Printf("Namespace %q (id: %d, created at: %s)\n", ns.Name, ns.ID, ns.CreatedAt)
			return nil
		},
	}
	getCmd.Flags().Int64Var(&id, "id", 0, "Namespace ID (required)")
	getCmd.MarkFlagRequired("id")

	cmd.AddCommand(createCmd, getCmd)
	return cmd
}

// createCmd はキーセットの作成コマンド。
func createCmd() *cobra.Command {
	var (
		namespaceID      int64
		name             string
		algorithm        string
		description      string
		tags             []string
		rotationInterval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a keyset in a namespace",
		RunE: func(cmd *cobra.Command, args []string) error {
			req := map[string]any{
				"name":        name,
				"algorithm":   algorithm,
				"description": description,
				"tags":        tags,
			}
			if rotationInterval > 0 {
				req["rotation_interval"] = rotationInterval.String()
			}
			body, err := call(http.MethodPost, fmt.Sprintf("/v1/namespaces/%d/keysets", namespaceID), req, http.StatusCreated)
			if err != nil {
				return err
			}
			return printKeyset(body, "Created")
		},
	}
	cmd.Flags().Int64Var(&namespaceID, "namespace", 0, "Namespace ID (required)")
	cmd.Flags().StringVar(&name, "name", "", "Keyset display name (required)")
	cmd.Flags().StringVar(&algorithm, "algorithm", "AES256_GCM", "Keyset algorithm")
	cmd.Flags().StringVar(&description, "description", "", "Description")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "Tag (repeatable)")
	cmd.Flags().DurationVar(&rotationInterval, "rotation-interval", 0, "Rotation interval (e.g. 720h)")
	cmd.MarkFlagRequired("namespace")
	cmd.MarkFlagRequired("name")
	return cmd
}

// listCmd はキーセット一覧の取得コマンド。
func listCmd() *cobra.Command {
	var (
		namespaceID int64
		query       string
		state       string
		algorithm   string
		sort        string
		order       string
		page        int
		pageSize    int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List keysets in a namespace",
		RunE: func(cmd *cobra.Command, args []string) error {
			params := url.Values{}
			for k, v := range map[string]string{"q": query, "state": state, "algorithm": algorithm, "sort": sort, "order": order} {
				if v != "" {
					params.Set(k, v)
				}
			}
			if page > 0 {
				params.Set("page", strconv.Itoa(page))
			}
			if pageSize > 0 {
				params.Set("page_size", strconv.Itoa(pageSize))
			}
			path := fmt.Sprintf("/v1/namespaces/%d/keysets", namespaceID)
			if len(params) > 0 {
				path += "?" + params.Encode()
			}

			body, err := call(http.MethodGet, path, nil, http.StatusOK)
			if err != nil {
				return err
			}
			if output == "json" {
				fmt.Println(string(body))
				return nil
			}
			var result struct {
				Keysets []keysetView `json:"keysets"`
				Total   int64        `json:"total"`
				Page    int          `json:"page"`
			}
			if err := json.Unmarshal(body, &result); err != nil {
				return fmt.Errorf("parsing response: %w", err)
			}

			fmt.Printf("%-36s %-24s %-20s %-20s %s\n", "ID", "NAME", "ALGORITHM", "STATE", "UPDATED_AT")
			for _, k := range result.Keysets {
				fmt.Printf("%-36s %-24s %-20s %-20s %s\n", k.ID, k.Name, k.Algorithm, k.State, k.UpdatedAt)
			}
			fmt.Printf("page %d, %d total\n", result.Page, result.Total)
			return nil
		},
	}
	cmd.Flags().Int64Var(&namespaceID, "namespace", 0, "Namespace ID (required)")
	cmd.Flags().StringVar(&query, "query", "", "Search term")
	cmd.Flags().StringVar(&state, "state", "", "Filter by state")
	cmd.Flags().StringVar(&algorithm, "algorithm", "", "Filter by algorithm")
	cmd.Flags().StringVar(&sort, "sort", "", "Sort key: updated, name, state, date")
	cmd.Flags().StringVar(&order, "order", "", "Sort order: asc, desc")
	cmd.Flags().IntVar(&page, "page", 0, "Page number")
	cmd.Flags().IntVar(&pageSize, "page-size", 0, "Page size")
	cmd.MarkFlagRequired("namespace")
	return cmd
}

// getCmd はキーセットの取得コマンド。
func getCmd() *cobra.Command {
	var (
		namespaceID int64
		keysetID    string
	)
	cmd := &cobra.Command{
		Use:   "get",
		Short: "Get keyset metadata",
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := call(http.MethodGet, keysetPath(namespaceID, keysetID), nil, http.StatusOK)
			if err != nil {
				return err
			}
			if output == "json" {
				fmt.Println(string(body))
				return nil
			}
			var k keysetView
			if err := json.Unmarshal(body, &k); err != nil {
				return fmt.Errorf("parsing response: %w", err)
			}
			fmt.Printf("ID:          %s\n", k.ID)
			fmt.Printf("Name:        %s\n", k.Name)
			fmt.Printf("Keyset:      %s\n", k.KeysetName)
			fmt.Printf("Algorithm:   %s\n", k.Algorithm)
			fmt.Printf("State:       %s\n", k.State)
			fmt.Printf("Description: %s\n", k.Description)
			fmt.Printf("Tags:        %s\n", strings.Join(k.Tags, ","))
			fmt.Printf("Updated at:  %s\n", k.UpdatedAt)
			return nil
		},
	}
	keysetFlags(cmd, &namespaceID, &keysetID)
	return cmd
}

// updateCmd は説明とタグの更新コマンド。
func updateCmd() *cobra.Command {
	var (
		namespaceID int64
		keysetID    string
		description string
		tags        []string
	)
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Replace keyset description and tags",
		RunE: func(cmd *cobra.Command, args []string) error {
			req := map[string]any{"description": description, "tags": tags}
			body, err := call(http.MethodPatch, keysetPath(namespaceID, keysetID), req, http.StatusOK)
			if err != nil {
				return err
			}
			return printKeyset(body, "Updated")
		},
	}
	keysetFlags(cmd, &namespaceID, &keysetID)
	cmd.Flags().StringVar(&description, "description", "", "Description")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "Tag (repeatable)")
	return cmd
}

// transitionCmd は状態遷移コマンド。
func transitionCmd() *cobra.Command {
	var (
		namespaceID int64
		keysetID    string
		state       string
	)
	cmd := &cobra.Command{
		Use:   "transition",
		Short: "Change keyset state (active, inactive, pending_destruction)",
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := call(http.MethodPost, keysetPath(namespaceID, keysetID)+"/transition", map[string]string{"state": state}, http.StatusOK)
			if err != nil {
				return err
			}
			return printKeyset(body, "Transitioned")
		},
	}
	keysetFlags(cmd, &namespaceID, &keysetID)
	cmd.Flags().StringVar(&state, "state", "", "Target state (required)")
	cmd.MarkFlagRequired("state")
	return cmd
}

// rotateCmd はキーセットのローテーションコマンド。
func rotateCmd() *cobra.Command {
	var (
		namespaceID int64
		keysetID    string
	)
	cmd := &cobra.Command{
		Use:   "rotate",
		Short: "Add a new primary key to a keyset",
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := call(http.MethodPost, keysetPath(namespaceID, keysetID)+"/rotate", nil, http.StatusOK)
			if err != nil {
				return err
			}
			return printKeyset(body, "Rotated")
		},
	}
	keysetFlags(cmd, &namespaceID, &keysetID)
	return cmd
}

// deleteCmd はキーセットの削除コマンド。
func deleteCmd() *cobra.Command {
	var (
		namespaceID int64
		keysetID    string
	)
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Destroy a keyset and its key material (irreversible)",
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := call(http.MethodDelete, keysetPath(namespaceID, keysetID), nil, http.StatusOK)
			if err != nil {
				return err
			}
			return printKeyset(body, "Destroyed")
		},
	}
	keysetFlags(cmd, &namespaceID, &keysetID)
	return cmd
}

// publicCmd は公開鍵の取得コマンド。
func publicCmd() *cobra.Command {
	var (
		namespaceID int64
		keysetID    string
	)
	cmd := &cobra.Command{
		Use:   "public",
		Short: "Print the public keyset of a signature keyset",
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := call(http.MethodGet, keysetPath(namespaceID, keysetID)+"/public", nil, http.StatusOK)
			if err != nil {
				return err
			}
			fmt.Println(string(body))
			return nil
		},
	}
	keysetFlags(cmd, &namespaceID, &keysetID)
	return cmd
}

func handleErrorResponse(statusCode int, body []byte) error {
	var errResp struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(bytes.NewReader(body)).Decode(&errResp); err == nil && errResp.Message != "" {
		return fmt.Errorf("Error: %s", errResp.Message)
	}
	return fmt.Errorf("Error: server returned status %d", statusCode)
}
