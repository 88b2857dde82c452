package keystore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/tink-crypto/tink-go/v2/keyset"
	"github.com/tink-crypto/tink-go/v2/tink"

	"keyset-lifecycle-service/internal/domain"
)

// storedKeyset はバックエンドに保存するJSON形式。
// キーセット本体はラッピング鍵で暗号化し、関連データにキーセット名を使う。
type storedKeyset struct {
	Provider         string    `json:"provider"`
	WrappingKeyID    string    `json:"wrapping_key_id"`
	Algorithm        string    `json:"algorithm"`
	RotationInterval int64     `json:"rotation_interval_seconds"`
	EncryptedKeyset  []byte    `json:"encrypted_keyset"`
	CreatedAt        time.Time `json:"created_at"`
	RotatedAt        time.Time `json:"rotated_at"`
}

// TinkStore はtink keysetをラップしてBackendに保存するKeysetStore。
type TinkStore struct {
	backend   Backend
	providers *Providers
	clock     clock.Clock
}

// NewTinkStore は新しいTinkStoreを生成する。
func NewTinkStore(backend Backend, providers *Providers, clk clock.Clock) *TinkStore {
	if clk == nil {
		clk = clock.New()
	}
	return &TinkStore{
		backend:   backend,
		providers: providers,
		clock:     clk,
	}
}

// Create は新しいキーセットを生成して保存する。同名が存在する場合は ErrKeysetExists を返す。
func (s *TinkStore) Create(ctx context.Context, provider, wrappingKeyID string, def Definition) (_ *Keyset, err error) {
	ctx, span := startSpan(ctx, "Create", def.Name)
	defer func() { endSpan(span, err) }()

	if def.Name == "" {
		return nil, fmt.Errorf("%w: keyset name is required", domain.ErrInvalidArgument)
	}
	template, err := KeyTemplate(def.Algorithm)
	if err != nil {
		return nil, err
	}
	kek, err := s.providers.Wrapper(ctx, provider, wrappingKeyID)
	if err != nil {
		return nil, err
	}

	handle, err := keyset.NewHandle(template)
	if err != nil {
		return nil, fmt.Errorf("generating keyset: %w", err)
	}

	now := s.clock.Now().UTC()
	ks := &Keyset{
		Name:             def.Name,
		Provider:         provider,
		WrappingKeyID:    wrappingKeyID,
		Algorithm:        def.Algorithm,
		RotationInterval: def.RotationInterval,
		CreatedAt:        now,
		RotatedAt:        now,
		handle:           handle,
	}
	payload, err := encode(ks, kek)
	if err != nil {
		return nil, err
	}
	if err := s.backend.Insert(ctx, def.Name, payload); err != nil {
		return nil, err
	}

	slog.DebugContext(ctx, "keyset material created",
		"keyset_name", def.Name,
		"provider", provider,
		"algorithm", def.Algorithm,
	)
	return s.Read(ctx, def.Name)
}

// Read は名前を指定してキーセットを読み込む。存在しない場合は ErrKeysetNotFound を返す。
func (s *TinkStore) Read(ctx context.Context, name string) (_ *Keyset, err error) {
	ctx, span := startSpan(ctx, "Read", name)
	defer func() { endSpan(span, err) }()

	rec, err := s.backend.Get(ctx, name)
	if err != nil {
		return nil, err
	}

	var stored storedKeyset
	if err := json.Unmarshal(rec.Payload, &stored); err != nil {
		return nil, fmt.Errorf("decoding keyset %q: %w", name, err)
	}
	kek, err := s.providers.Wrapper(ctx, stored.Provider, stored.WrappingKeyID)
	if err != nil {
		return nil, err
	}
	handle, err := keyset.ReadWithAssociatedData(
		keyset.NewBinaryReader(bytes.NewReader(stored.EncryptedKeyset)), kek, []byte(name))
	if err != nil {
		return nil, fmt.Errorf("unwrapping keyset %q: %w", name, err)
	}

	return &Keyset{
		Name:             name,
		Provider:         stored.Provider,
		WrappingKeyID:    stored.WrappingKeyID,
		Algorithm:        domain.Algorithm(stored.Algorithm),
		RotationInterval: time.Duration(stored.RotationInterval) * time.Second,
		CreatedAt:        stored.CreatedAt,
		RotatedAt:        stored.RotatedAt,
		handle:           handle,
		version:          rec.Version,
	}, nil
}

// Rotate は新しい鍵を追加してプライマリに昇格させる。
// 以前の鍵は有効なまま残り、復号・検証にのみ使われる。
// 読み込み後に別の書き込みがあった場合は ErrConflict を返し、ks は変更しない。
func (s *TinkStore) Rotate(ctx context.Context, ks *Keyset) (err error) {
	ctx, span := startSpan(ctx, "Rotate", ks.Name)
	defer func() { endSpan(span, err) }()

	template, err := KeyTemplate(ks.Algorithm)
	if err != nil {
		return err
	}
	kek, err := s.providers.Wrapper(ctx, ks.Provider, ks.WrappingKeyID)
	if err != nil {
		return err
	}

	manager := keyset.NewManagerFromHandle(ks.handle)
	keyID, err := manager.Add(template)
	if err != nil {
		return fmt.Errorf("adding key: %w", err)
	}
	if err := manager.SetPrimary(keyID); err != nil {
		return fmt.Errorf("promoting key %d: %w", keyID, err)
	}
	handle, err := manager.Handle()
	if err != nil {
		return fmt.Errorf("building rotated keyset: %w", err)
	}

	rotated := *ks
	rotated.handle = handle
	rotated.RotatedAt = s.clock.Now().UTC()
	payload, err := encode(&rotated, kek)
	if err != nil {
		return err
	}
	version, err := s.backend.Update(ctx, ks.Name, payload, ks.version)
	if err != nil {
		return err
	}
	rotated.version = version
	*ks = rotated

	slog.DebugContext(ctx, "keyset material rotated",
		"keyset_name", ks.Name,
		"primary_key_id", keyID,
		"key_count", ks.KeyCount(),
	)
	return nil
}

// Remove は名前に紐づく全ての鍵素材を削除する。
func (s *TinkStore) Remove(ctx context.Context, name string) (err error) {
	ctx, span := startSpan(ctx, "Remove", name)
	defer func() { endSpan(span, err) }()

	if err = s.backend.Delete(ctx, name); err != nil {
		return err
	}
	slog.DebugContext(ctx, "keyset material removed", "keyset_name", name)
	return nil
}

func encode(ks *Keyset, kek tink.AEAD) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := ks.handle.WriteWithAssociatedData(keyset.NewBinaryWriter(buf), kek, []byte(ks.Name)); err != nil {
		return nil, fmt.Errorf("wrapping keyset %q: %w", ks.Name, err)
	}
	payload, err := json.Marshal(storedKeyset{
		Provider:         ks.Provider,
		WrappingKeyID:    ks.WrappingKeyID,
		Algorithm:        string(ks.Algorithm),
		RotationInterval: int64(ks.RotationInterval / time.Second),
		EncryptedKeyset:  buf.Bytes(),
		CreatedAt:        ks.CreatedAt,
		RotatedAt:        ks.RotatedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding keyset %q: %w", ks.Name, err)
	}
	return payload, nil
}
