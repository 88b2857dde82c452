package main

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

func b64(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

// postField は暗号操作のエンドポイントを呼び出し、レスポンスの field を表示する。
func postField(namespaceID int64, keysetID, action string, req map[string]string, field string) (string, error) {
	body, err := call(http.MethodPost, keysetPath(namespaceID, keysetID)+"/"+action, req, http.StatusOK)
	if err != nil {
		return "", err
	}
	if output == "json" {
		fmt.Println(string(body))
		return "", nil
	}
	var resp map[string]any
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("parsing response: %w", err)
	}
	return fmt.Sprint(resp[field]), nil
}

// encryptCmd はAEADキーセットでの暗号化コマンド。平文とADは文字列で受け取る。
func encryptCmd() *cobra.Command {
	var (
		namespaceID    int64
		keysetID       string
		plaintext      string
		associatedData string
		deterministic  bool
	)
	cmd := &cobra.Command{
		Use:   "encrypt",
		Short: "Encrypt data with an AEAD or deterministic AEAD keyset",
		RunE: func(cmd *cobra.Command, args []string) error {
			action := "encrypt"
			if deterministic {
				action = "encrypt-deterministic"
			}
			req := map[string]string{"plaintext": b64(plaintext), "associated_data": b64(associatedData)}
			ciphertext, err := postField(namespaceID, keysetID, action, req, "ciphertext")
			if err != nil || ciphertext == "" {
				return err
			}
			fmt.Println(ciphertext)
			return nil
		},
	}
	keysetFlags(cmd, &namespaceID, &keysetID)
	cmd.Flags().StringVar(&plaintext, "plaintext", "", "Plaintext (required)")
	cmd.Flags().StringVar(&associatedData, "associated-data", "", "Associated data")
	cmd.Flags().BoolVar(&deterministic, "deterministic", false, "Use a deterministic AEAD keyset (AES256_SIV)")
	cmd.MarkFlagRequired("plaintext")
	return cmd
}

// decryptCmd はAEADキーセットでの復号コマンド。暗号文はbase64で受け取る。
func decryptCmd() *cobra.Command {
	var (
		namespaceID    int64
		keysetID       string
		ciphertext     string
		associatedData string
		deterministic  bool
	)
	cmd := &cobra.Command{
		Use:   "decrypt",
		Short: "Decrypt base64 ciphertext with an AEAD or deterministic AEAD keyset",
		RunE: func(cmd *cobra.Command, args []string) error {
			action := "decrypt"
			if deterministic {
				action = "decrypt-deterministic"
			}
			req := map[string]string{"ciphertext": ciphertext, "associated_data": b64(associatedData)}
			encoded, err := postField(namespaceID, keysetID, action, req, "plaintext")
			if err != nil || output == "json" {
				return err
			}
			plaintext, err := base64.StdEncoding.DecodeString(encoded)
			if err != nil {
				return fmt.Errorf("decoding plaintext: %w", err)
			}
			fmt.Println(string(plaintext))
			return nil
		},
	}
	keysetFlags(cmd, &namespaceID, &keysetID)
	cmd.Flags().StringVar(&ciphertext, "ciphertext", "", "Base64 ciphertext (required)")
	cmd.Flags().StringVar(&associatedData, "associated-data", "", "Associated data")
	cmd.Flags().BoolVar(&deterministic, "deterministic", false, "Use a deterministic AEAD keyset (AES256_SIV)")
	cmd.MarkFlagRequired("ciphertext")
	return cmd
}

// macCmd はMACの計算と検証コマンド。--tag を渡すと検証する。
func macCmd() *cobra.Command {
	var (
		namespaceID int64
		keysetID    string
		data        string
		tag         string
	)
	cmd := &cobra.Command{
		Use:   "mac",
		Short: "Compute a MAC tag, or verify one with --tag",
		RunE: func(cmd *cobra.Command, args []string) error {
			if tag != "" {
				return verifyResult(postField(namespaceID, keysetID, "mac/verify", map[string]string{"data": b64(data), "tag": tag}, "valid"))
			}
			out, err := postField(namespaceID, keysetID, "mac", map[string]string{"data": b64(data)}, "tag")
			if err != nil || out == "" {
				return err
			}
			fmt.Println(out)
			return nil
		},
	}
	keysetFlags(cmd, &namespaceID, &keysetID)
	cmd.Flags().StringVar(&data, "data", "", "Data (required)")
	cmd.Flags().StringVar(&tag, "tag", "", "Base64 tag to verify")
	cmd.MarkFlagRequired("data")
	return cmd
}

// signCmd は署名の作成と検証コマンド。--signature を渡すと検証する。
func signCmd() *cobra.Command {
	var (
		namespaceID int64
		keysetID    string
		data        string
		signature   string
	)
	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Sign data, or verify a signature with --signature",
		RunE: func(cmd *cobra.Command, args []string) error {
			if signature != "" {
				return verifyResult(postField(namespaceID, keysetID, "verify", map[string]string{"data": b64(data), "signature": signature}, "valid"))
			}
			out, err := postField(namespaceID, keysetID, "sign", map[string]string{"data": b64(data)}, "signature")
			if err != nil || out == "" {
				return err
			}
			fmt.Println(out)
			return nil
		},
	}
	keysetFlags(cmd, &namespaceID, &keysetID)
	cmd.Flags().StringVar(&data, "data", "", "Data (required)")
	cmd.Flags().StringVar(&signature, "signature", "", "Base64 signature to verify")
	cmd.MarkFlagRequired("data")
	return cmd
}

// verifyResult は検証結果を表示し、不一致なら非ゼロ終了にする。
func verifyResult(valid string, err error) error {
	if err != nil || output == "json" {
		return err
	}
	if valid != "true" {
		return fmt.Errorf("Error: verification failed")
	}
	fmt.Println("OK")
	return nil
}
