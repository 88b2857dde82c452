// Package handler はHTTPハンドラを提供する。
package handler

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"keyset-lifecycle-service/internal/domain"
	"keyset-lifecycle-service/internal/keystore"
	"keyset-lifecycle-service/internal/middleware"
	"keyset-lifecycle-service/pkg/httputil"
)

var namespaceNameRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

const maxNamespaceNameLength = 128

// KeysetManager はハンドラが使うキーセット管理の操作。
type KeysetManager interface {
	Find(ctx context.Context, q domain.KeysetQuery) (*domain.KeysetPage, error)
	GetInNamespace(ctx context.Context, namespaceID int64, id string) (*domain.KeysetMetadata, error)
	Create(ctx context.Context, def domain.KeysetMetadataDefinition) (*domain.KeysetMetadata, error)
	Update(ctx context.Context, id, description string, tags []string) (*domain.KeysetMetadata, error)
	Transition(ctx context.Context, id string, target domain.KeysetState) (*domain.KeysetMetadata, error)
	Rotate(ctx context.Context, id string) (*domain.KeysetMetadata, error)
	Delete(ctx context.Context, id string) (*domain.KeysetMetadata, error)
	OperationsInNamespace(ctx context.Context, namespaceID int64, id string) (*keystore.Operations, error)
}

// NamespaceStore はnamespaceの作成と参照を行う。FindByID は存在しない場合 (nil, nil) を返す。
type NamespaceStore interface {
	Create(ctx context.Context, name string) (*domain.Namespace, error)
	FindByID(ctx context.Context, id int64) (*domain.Namespace, error)
}

// KeysetHandler はHTTPハンドラを提供する。
type KeysetHandler struct {
	keysets    KeysetManager
	namespaces NamespaceStore
}

// NewKeysetHandler は新しいKeysetHandlerを生成する。
func NewKeysetHandler(keysets KeysetManager, namespaces NamespaceStore) *KeysetHandler {
	return &KeysetHandler{keysets: keysets, namespaces: namespaces}
}

// KeysetResponse はキーセットメタデータのレスポンス形式。
type KeysetResponse struct {
	ID          string   `json:"id"`
	NamespaceID int64    `json:"namespace_id"`
	Name        string   `json:"name"`
	KeysetName  string   `json:"keyset_name"`
	Algorithm   string   `json:"algorithm"`
	State       string   `json:"state"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
	CreatedAt   string   `json:"created_at"`
	UpdatedAt   string   `json:"updated_at"`
	DestroyedAt string   `json:"destroyed_at,omitempty"`
}

// KeysetListResponse はキーセット一覧のレスポンス形式。
type KeysetListResponse struct {
	Keysets  []KeysetResponse `json:"keysets"`
	Total    int64            `json:"total"`
	Page     int              `json:"page"`
	PageSize int              `json:"page_size"`
}

// NamespaceResponse はnamespaceのレスポンス形式。
type NamespaceResponse struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at"`
}

// CreateNamespaceRequest はnamespace作成のリクエスト形式。
type CreateNamespaceRequest struct {
	Name string `json:"name"`
}

// CreateKeysetRequest はキーセット作成のリクエスト形式。
// RotationInterval は "720h" のような Go の duration 文字列。
type CreateKeysetRequest struct {
	Name             string   `json:"name"`
	Algorithm        string   `json:"algorithm"`
	Description      string   `json:"description"`
	Tags             []string `json:"tags"`
	RotationInterval string   `json:"rotation_interval"`
}

// UpdateKeysetRequest は説明とタグの更新リクエスト形式。
type UpdateKeysetRequest struct {
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
}

// TransitionRequest は状態遷移のリクエスト形式。
type TransitionRequest struct {
	State string `json:"state"`
}

func toKeysetResponse(m *domain.KeysetMetadata) KeysetResponse {
	resp := KeysetResponse{
		ID:          m.ID,
		NamespaceID: m.NamespaceID,
		Name:        m.Name,
		KeysetName:  m.KeysetName,
		Algorithm:   string(m.Algorithm),
		State:       string(m.State),
		Description: m.Description,
		Tags:        m.Tags,
		CreatedAt:   m.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   m.UpdatedAt.Format(time.RFC3339),
	}
	if resp.Tags == nil {
		resp.Tags = []string{}
	}
	if m.DestroyedAt != nil {
		resp.DestroyedAt = m.DestroyedAt.Format(time.RFC3339)
	}
	return resp
}

func parseNamespaceID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "namespace_id"), 10, 64)
	if err != nil || id < 1 {
		return 0, false
	}
	return id, true
}

func validateKeysetID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// pathParams はnamespace IDとキーセットIDを検証して返す。不正な場合はレスポンスを書いて false を返す。
func pathParams(w http.ResponseWriter, r *http.Request) (int64, string, bool) {
	namespaceID, ok := parseNamespaceID(r)
	if !ok {
		httputil.Error(w, http.StatusBadRequest, "INVALID_NAMESPACE_ID", "invalid namespace ID")
		return 0, "", false
	}
	keysetID := chi.URLParam(r, "keyset_id")
	if !validateKeysetID(keysetID) {
		httputil.Error(w, http.StatusBadRequest, "INVALID_KEYSET_ID", "invalid keyset ID format")
		return 0, "", false
	}
	return namespaceID, keysetID, true
}

// writeError はドメインのエラーをステータスコードに変換する。内部エラーの詳細は返さない。
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrKeysetNotFound):
		httputil.Error(w, http.StatusNotFound, "KEYSET_NOT_FOUND", "keyset not found")
	case errors.Is(err, domain.ErrNamespaceNotFound):
		httputil.Error(w, http.StatusNotFound, "NAMESPACE_NOT_FOUND", "namespace not found")
	case errors.Is(err, domain.ErrKeysetInactive):
		httputil.Error(w, http.StatusConflict, "KEYSET_INACTIVE", "keyset is not active")
	case errors.Is(err, domain.ErrNamespaceExists):
		httputil.Error(w, http.StatusConflict, "NAMESPACE_ALREADY_EXISTS", "namespace already exists")
	case errors.Is(err, domain.ErrKeysetExists):
		httputil.Error(w, http.StatusConflict, "KEYSET_ALREADY_EXISTS", "keyset already exists in this namespace")
	case errors.Is(err, domain.ErrTransition):
		httputil.Error(w, http.StatusConflict, "INVALID_TRANSITION", err.Error())
	case errors.Is(err, domain.ErrInvalidArgument):
		httputil.Error(w, http.StatusBadRequest, "INVALID_ARGUMENT", err.Error())
	default:
		httputil.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
	}
}

// audit は失敗した操作と暗号操作を監査ログに残す。ライフサイクルの成功はイベント経由で記録される。
func audit(r *http.Request, operation string, namespaceID int64, keysetID string, err error) {
	result := "SUCCESS"
	if err != nil {
		result = "FAILED"
	}
	middleware.WriteAuditLog(r.Context(), middleware.AuditLog{
		Operation:   operation,
		NamespaceID: namespaceID,
		KeysetID:    keysetID,
		Result:      result,
	})
}

// CreateNamespace はnamespaceを作成する。
func (h *KeysetHandler) CreateNamespace(w http.ResponseWriter, r *http.Request) {
	var req CreateNamespaceRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body")
		return
	}
	if req.Name == "" || len(req.Name) > maxNamespaceNameLength || !namespaceNameRegex.MatchString(req.Name) {
		httputil.Error(w, http.StatusBadRequest, "INVALID_NAMESPACE_NAME", "invalid namespace name format")
		return
	}

	ns, err := h.namespaces.Create(r.Context(), req.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.JSON(w, http.StatusCreated, toNamespaceResponse(ns))
}

// GetNamespace はnamespaceを返す。
func (h *KeysetHandler) GetNamespace(w http.ResponseWriter, r *http.Request) {
	namespaceID, ok := parseNamespaceID(r)
	if !ok {
		httputil.Error(w, http.StatusBadRequest, "INVALID_NAMESPACE_ID", "invalid namespace ID")
		return
	}
	ns, err := h.namespaces.FindByID(r.Context(), namespaceID)
	if err != nil {
		writeError(w, err)
		return
	}
	if ns == nil {
		writeError(w, domain.ErrNamespaceNotFound)
		return
	}
	httputil.JSON(w, http.StatusOK, toNamespaceResponse(ns))
}

func toNamespaceResponse(ns *domain.Namespace) NamespaceResponse {
	return NamespaceResponse{
		ID:        ns.ID,
		Name:      ns.Name,
		CreatedAt: ns.CreatedAt.Format(time.RFC3339),
	}
}

// ListKeysets は条件に一致するキーセットを返す。
func (h *KeysetHandler) ListKeysets(w http.ResponseWriter, r *http.Request) {
	namespaceID, ok := parseNamespaceID(r)
	if !ok {
		httputil.Error(w, http.StatusBadRequest, "INVALID_NAMESPACE_ID", "invalid namespace ID")
		return
	}
	q, err := parseQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}
	q.NamespaceID = namespaceID

	page, err := h.keysets.Find(r.Context(), q)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := KeysetListResponse{
		Keysets:  make([]KeysetResponse, len(page.Items)),
		Total:    page.Total,
		Page:     page.Page,
		PageSize: page.PageSize,
	}
	for i, m := range page.Items {
		resp.Keysets[i] = toKeysetResponse(m)
	}
	httputil.JSON(w, http.StatusOK, resp)
}

func parseQuery(r *http.Request) (domain.KeysetQuery, error) {
	values := r.URL.Query()
	q := domain.KeysetQuery{
		Term: values.Get("q"),
		ID:   values.Get("id"),
		Sort: domain.SortKey(values.Get("sort")),
	}
	if s := values.Get("algorithm"); s != "" {
		alg, err := domain.ParseAlgorithm(s)
		if err != nil {
			return q, err
		}
		q.Algorithm = alg
	}
	if s := values.Get("state"); s != "" {
		state, err := domain.ParseKeysetState(s)
		if err != nil {
			return q, err
		}
		q.State = state
	}
	for name, dst := range map[string]*int{"page": &q.Page, "page_size": &q.PageSize} {
		s := values.Get(name)
		if s == "" {
			continue
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return q, &domain.ValidationError{Field: name, Reason: "must be an integer"}
		}
		*dst = n
	}
	switch values.Get("order") {
	case "":
	case "asc":
		if q.Sort == "" {
			q.Sort = domain.SortByUpdated
		}
		q.Descending = false
	case "desc":
		if q.Sort == "" {
			q.Sort = domain.SortByUpdated
		}
		q.Descending = true
	default:
		return q, &domain.ValidationError{Field: "order", Reason: "must be asc or desc"}
	}
	return q, nil
}

// CreateKeyset はキーセットを作成する。
func (h *KeysetHandler) CreateKeyset(w http.ResponseWriter, r *http.Request) {
	namespaceID, ok := parseNamespaceID(r)
	if !ok {
		httputil.Error(w, http.StatusBadRequest, "INVALID_NAMESPACE_ID", "invalid namespace ID")
		return
	}
	var req CreateKeysetRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body")
		return
	}

	var interval time.Duration
	if req.RotationInterval != "" {
		d, err := time.ParseDuration(req.RotationInterval)
		if err != nil {
			httputil.Error(w, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid rotation_interval")
			return
		}
		interval = d
	}
	alg, err := domain.ParseAlgorithm(req.Algorithm)
	if err != nil {
		writeError(w, err)
		return
	}
	def, err := domain.NewKeysetMetadataDefinition(namespaceID, alg, req.Name, req.Description, req.Tags, interval)
	if err != nil {
		writeError(w, err)
		return
	}

	m, err := h.keysets.Create(r.Context(), def)
	if err != nil {
		audit(r, "CREATE_KEYSET", namespaceID, "", err)
		writeError(w, err)
		return
	}
	httputil.JSON(w, http.StatusCreated, toKeysetResponse(m))
}

// GetKeyset はキーセットのメタデータを返す。
func (h *KeysetHandler) GetKeyset(w http.ResponseWriter, r *http.Request) {
	namespaceID, keysetID, ok := pathParams(w, r)
	if !ok {
		return
	}
	m, err := h.keysets.GetInNamespace(r.Context(), namespaceID, keysetID)
	if err != nil {
		writeError(w, err)
		return
	}
	if m == nil {
		writeError(w, domain.ErrKeysetNotFound)
		return
	}
	httputil.JSON(w, http.StatusOK, toKeysetResponse(m))
}

// ensureInNamespace はキーセットがnamespaceに属していることを確認する。
func (h *KeysetHandler) ensureInNamespace(ctx context.Context, namespaceID int64, keysetID string) error {
	m, err := h.keysets.GetInNamespace(ctx, namespaceID, keysetID)
	if err != nil {
		return err
	}
	if m == nil {
		return domain.ErrKeysetNotFound
	}
	return nil
}

// mutate はnamespaceの所属を確認してから fn を実行し、結果を返す。
func (h *KeysetHandler) mutate(w http.ResponseWriter, r *http.Request, operation string, fn func(ctx context.Context, id string) (*domain.KeysetMetadata, error)) {
	namespaceID, keysetID, ok := pathParams(w, r)
	if !ok {
		return
	}
	err := h.ensureInNamespace(r.Context(), namespaceID, keysetID)
	var m *domain.KeysetMetadata
	if err == nil {
		m, err = fn(r.Context(), keysetID)
	}
	if err != nil {
		audit(r, operation, namespaceID, keysetID, err)
		writeError(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, toKeysetResponse(m))
}

// UpdateKeyset は説明とタグを置き換える。
func (h *KeysetHandler) UpdateKeyset(w http.ResponseWriter, r *http.Request) {
	var req UpdateKeysetRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body")
		return
	}
	h.mutate(w, r, "UPDATE_KEYSET", func(ctx context.Context, id string) (*domain.KeysetMetadata, error) {
		return h.keysets.Update(ctx, id, req.Description, req.Tags)
	})
}

// TransitionKeyset はキーセットの状態を変更する。
func (h *KeysetHandler) TransitionKeyset(w http.ResponseWriter, r *http.Request) {
	var req TransitionRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body")
		return
	}
	target, err := domain.ParseKeysetState(req.State)
	if err != nil {
		writeError(w, err)
		return
	}
	h.mutate(w, r, "TRANSITION_KEYSET", func(ctx context.Context, id string) (*domain.KeysetMetadata, error) {
		return h.keysets.Transition(ctx, id, target)
	})
}

// RotateKeyset はキーセットをローテーションする。
func (h *KeysetHandler) RotateKeyset(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, "ROTATE_KEYSET", h.keysets.Rotate)
}

// DeleteKeyset はキーセットを削除する。
func (h *KeysetHandler) DeleteKeyset(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, "DELETE_KEYSET", h.keysets.Delete)
}
