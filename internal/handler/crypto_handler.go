package handler

import (
	"context"
	"encoding/base64"
	"log/slog"
	"net/http"

	"keyset-lifecycle-service/internal/keystore"
	"keyset-lifecycle-service/pkg/httputil"
)

// EncryptRequest は暗号化のリクエスト形式。値はすべてbase64。
// 決定的暗号化でも同じ形式を使う。
type EncryptRequest struct {
	Plaintext      string `json:"plaintext"`
	AssociatedData string `json:"associated_data"`
}

// EncryptResponse は暗号化のレスポンス形式。
type EncryptResponse struct {
	Ciphertext string `json:"ciphertext"`
}

// DecryptRequest は復号のリクエスト形式。値はすべてbase64。
type DecryptRequest struct {
	Ciphertext     string `json:"ciphertext"`
	AssociatedData string `json:"associated_data"`
}

// DecryptResponse は復号のレスポンス形式。
type DecryptResponse struct {
	Plaintext string `json:"plaintext"`
}

// MACRequest はMAC計算のリクエスト形式。
type MACRequest struct {
	Data string `json:"data"`
}

// MACResponse はMAC計算のレスポンス形式。
type MACResponse struct {
	Tag       string `json:"tag"`
	Algorithm string `json:"algorithm"`
}

// VerifyMACRequest はMAC検証のリクエスト形式。
type VerifyMACRequest struct {
	Data string `json:"data"`
	Tag  string `json:"tag"`
}

// SignRequest は署名のリクエスト形式。
type SignRequest struct {
	Data string `json:"data"`
}

// SignResponse は署名のレスポンス形式。
type SignResponse struct {
	Signature string `json:"signature"`
	Algorithm string `json:"algorithm"`
}

// VerifySignatureRequest は署名検証のリクエスト形式。
type VerifySignatureRequest struct {
	Data      string `json:"data"`
	Signature string `json:"signature"`
}

// VerifyResponse は検証結果。不一致はエラーではなく Valid=false で返す。
type VerifyResponse struct {
	Valid bool `json:"valid"`
}

// primitive はnamespace内のキーセットから get でプリミティブを取り出す。
// get には (*keystore.Operations).AEAD のようなメソッド式を渡す。
func primitive[P any](ctx context.Context, keysets KeysetManager, namespaceID int64, keysetID string, get func(*keystore.Operations, context.Context) (P, error)) (P, *keystore.Operations, error) {
	var zero P
	ops, err := keysets.OperationsInNamespace(ctx, namespaceID, keysetID)
	if err != nil {
		return zero, nil, err
	}
	p, err := get(ops, ctx)
	if err != nil {
		return zero, nil, err
	}
	slog.DebugContext(ctx, "keyset primitive loaded",
		"keyset_name", ops.Name(),
		"algorithm", ops.Algorithm(),
	)
	return p, ops, nil
}

// decodeBase64 はbase64の値をまとめてデコードする。1つでも不正なら false を返す。
func decodeBase64(values ...string) ([][]byte, bool) {
	out := make([][]byte, len(values))
	for i, v := range values {
		b, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return nil, false
		}
		out[i] = b
	}
	return out, true
}

func invalidEncoding(w http.ResponseWriter) {
	httputil.Error(w, http.StatusBadRequest, "INVALID_ENCODING", "payload must be base64 encoded")
}

func invalidBody(w http.ResponseWriter) {
	httputil.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body")
}

// Encrypt はキーセットのAEADで暗号化する。
func (h *KeysetHandler) Encrypt(w http.ResponseWriter, r *http.Request) {
	namespaceID, keysetID, ok := pathParams(w, r)
	if !ok {
		return
	}
	var req EncryptRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		invalidBody(w)
		return
	}
	in, ok := decodeBase64(req.Plaintext, req.AssociatedData)
	if !ok {
		invalidEncoding(w)
		return
	}

	a, _, err := primitive(r.Context(), h.keysets, namespaceID, keysetID, (*keystore.Operations).AEAD)
	var ciphertext []byte
	if err == nil {
		ciphertext, err = a.Encrypt(in[0], in[1])
	}
	audit(r, "ENCRYPT", namespaceID, keysetID, err)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, EncryptResponse{
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
	})
}

// Decrypt はキーセットのAEADで復号する。古い鍵バージョンの暗号文も復号できる。
func (h *KeysetHandler) Decrypt(w http.ResponseWriter, r *http.Request) {
	namespaceID, keysetID, ok := pathParams(w, r)
	if !ok {
		return
	}
	var req DecryptRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		invalidBody(w)
		return
	}
	in, ok := decodeBase64(req.Ciphertext, req.AssociatedData)
	if !ok {
		invalidEncoding(w)
		return
	}

	a, _, err := primitive(r.Context(), h.keysets, namespaceID, keysetID, (*keystore.Operations).AEAD)
	if err != nil {
		audit(r, "DECRYPT", namespaceID, keysetID, err)
		writeError(w, err)
		return
	}
	plaintext, err := a.Decrypt(in[0], in[1])
	audit(r, "DECRYPT", namespaceID, keysetID, err)
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "DECRYPTION_FAILED", "ciphertext could not be decrypted")
		return
	}
	httputil.JSON(w, http.StatusOK, DecryptResponse{
		Plaintext: base64.StdEncoding.EncodeToString(plaintext),
	})
}

// EncryptDeterministic は決定的AEADで暗号化する。同じ入力からは同じ暗号文が得られる。
func (h *KeysetHandler) EncryptDeterministic(w http.ResponseWriter, r *http.Request) {
	namespaceID, keysetID, ok := pathParams(w, r)
	if !ok {
		return
	}
	var req EncryptRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		invalidBody(w)
		return
	}
	in, ok := decodeBase64(req.Plaintext, req.AssociatedData)
	if !ok {
		invalidEncoding(w)
		return
	}

	d, _, err := primitive(r.Context(), h.keysets, namespaceID, keysetID, (*keystore.Operations).DeterministicAEAD)
	var ciphertext []byte
	if err == nil {
		ciphertext, err = d.EncryptDeterministically(in[0], in[1])
	}
	audit(r, "ENCRYPT_DETERMINISTIC", namespaceID, keysetID, err)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, EncryptResponse{
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
	})
}

// DecryptDeterministic は決定的AEADで復号する。
func (h *KeysetHandler) DecryptDeterministic(w http.ResponseWriter, r *http.Request) {
	namespaceID, keysetID, ok := pathParams(w, r)
	if !ok {
		return
	}
	var req DecryptRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		invalidBody(w)
		return
	}
	in, ok := decodeBase64(req.Ciphertext, req.AssociatedData)
	if !ok {
		invalidEncoding(w)
		return
	}

	d, _, err := primitive(r.Context(), h.keysets, namespaceID, keysetID, (*keystore.Operations).DeterministicAEAD)
	if err != nil {
		audit(r, "DECRYPT_DETERMINISTIC", namespaceID, keysetID, err)
		writeError(w, err)
		return
	}
	plaintext, err := d.DecryptDeterministically(in[0], in[1])
	audit(r, "DECRYPT_DETERMINISTIC", namespaceID, keysetID, err)
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "DECRYPTION_FAILED", "ciphertext could not be decrypted")
		return
	}
	httputil.JSON(w, http.StatusOK, DecryptResponse{
		Plaintext: base64.StdEncoding.EncodeToString(plaintext),
	})
}

// ComputeMAC はデータのMACタグを計算する。
func (h *KeysetHandler) ComputeMAC(w http.ResponseWriter, r *http.Request) {
	namespaceID, keysetID, ok := pathParams(w, r)
	if !ok {
		return
	}
	var req MACRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		invalidBody(w)
		return
	}
	in, ok := decodeBase64(req.Data)
	if !ok {
		invalidEncoding(w)
		return
	}

	m, ops, err := primitive(r.Context(), h.keysets, namespaceID, keysetID, (*keystore.Operations).MAC)
	var tag []byte
	if err == nil {
		tag, err = m.ComputeMAC(in[0])
	}
	audit(r, "COMPUTE_MAC", namespaceID, keysetID, err)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, MACResponse{
		Tag:       base64.StdEncoding.EncodeToString(tag),
		Algorithm: string(ops.Algorithm()),
	})
}

// VerifyMAC はMACタグを検証する。ローテーション前の鍵で計算したタグも検証できる。
func (h *KeysetHandler) VerifyMAC(w http.ResponseWriter, r *http.Request) {
	namespaceID, keysetID, ok := pathParams(w, r)
	if !ok {
		return
	}
	var req VerifyMACRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		invalidBody(w)
		return
	}
	in, ok := decodeBase64(req.Data, req.Tag)
	if !ok {
		invalidEncoding(w)
		return
	}

	m, _, err := primitive(r.Context(), h.keysets, namespaceID, keysetID, (*keystore.Operations).MAC)
	if err != nil {
		audit(r, "VERIFY_MAC", namespaceID, keysetID, err)
		writeError(w, err)
		return
	}
	err = m.VerifyMAC(in[1], in[0])
	audit(r, "VERIFY_MAC", namespaceID, keysetID, err)
	httputil.JSON(w, http.StatusOK, VerifyResponse{Valid: err == nil})
}

// Sign はデータに署名する。
func (h *KeysetHandler) Sign(w http.ResponseWriter, r *http.Request) {
	namespaceID, keysetID, ok := pathParams(w, r)
	if !ok {
		return
	}
	var req SignRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		invalidBody(w)
		return
	}
	in, ok := decodeBase64(req.Data)
	if !ok {
		invalidEncoding(w)
		return
	}

	s, ops, err := primitive(r.Context(), h.keysets, namespaceID, keysetID, (*keystore.Operations).Signer)
	var sig []byte
	if err == nil {
		sig, err = s.Sign(in[0])
	}
	audit(r, "SIGN", namespaceID, keysetID, err)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, SignResponse{
		Signature: base64.StdEncoding.EncodeToString(sig),
		Algorithm: string(ops.Algorithm()),
	})
}

// Verify は署名を公開鍵で検証する。
func (h *KeysetHandler) Verify(w http.ResponseWriter, r *http.Request) {
	namespaceID, keysetID, ok := pathParams(w, r)
	if !ok {
		return
	}
	var req VerifySignatureRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		invalidBody(w)
		return
	}
	in, ok := decodeBase64(req.Data, req.Signature)
	if !ok {
		invalidEncoding(w)
		return
	}

	v, _, err := primitive(r.Context(), h.keysets, namespaceID, keysetID, (*keystore.Operations).Verifier)
	if err != nil {
		audit(r, "VERIFY", namespaceID, keysetID, err)
		writeError(w, err)
		return
	}
	err = v.Verify(in[1], in[0])
	audit(r, "VERIFY", namespaceID, keysetID, err)
	httputil.JSON(w, http.StatusOK, VerifyResponse{Valid: err == nil})
}

// GetPublicKeyset は署名用キーセットの公開鍵をJSONで返す。
func (h *KeysetHandler) GetPublicKeyset(w http.ResponseWriter, r *http.Request) {
	namespaceID, keysetID, ok := pathParams(w, r)
	if !ok {
		return
	}
	ops, err := h.keysets.OperationsInNamespace(r.Context(), namespaceID, keysetID)
	if err != nil {
		writeError(w, err)
		return
	}
	body, err := ops.PublicKeysetJSON(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}
