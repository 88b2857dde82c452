package keystore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/tink-crypto/tink-go/v2/aead"
	"github.com/tink-crypto/tink-go/v2/tink"

	"keyset-lifecycle-service/internal/domain"
)

const testWrappingKeyID = "test-kek"

func newTestStore(t *testing.T) (*TinkStore, *MemoryBackend, *clock.Mock) {
	t.Helper()

	kek, err := NewEphemeralWrappingKey()
	if err != nil {
		t.Fatalf("failed to create wrapping key: %v", err)
	}
	providers := NewProviders()
	providers.Register(ProviderLocal, LocalWrapper(map[string]tink.AEAD{testWrappingKeyID: kek}))

	backend := NewMemoryBackend()
	clk := clock.NewMock()
	clk.Set(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	return NewTinkStore(backend, providers, clk), backend, clk
}

func mustCreate(t *testing.T, s *TinkStore, name string, alg domain.Algorithm) *Keyset {
	t.Helper()
	ks, err := s.Create(context.Background(), ProviderLocal, testWrappingKeyID, Definition{
		Name:             name,
		Algorithm:        alg,
		RotationInterval: 24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("Create(%s) failed: %v", name, err)
	}
	return ks
}

func aeadFor(ks *Keyset) (tink.AEAD, error) {
	return aead.New(ks.Handle())
}

func TestTinkStore_CreateAndRead(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestStore(t)

	created := mustCreate(t, s, "ns-1-billing", domain.AlgorithmAES256GCM)
	if created.KeyCount() != 1 {
		t.Errorf("expected 1 key, got %d", created.KeyCount())
	}
	if created.Provider != ProviderLocal || created.WrappingKeyID != testWrappingKeyID {
		t.Errorf("unexpected provider fields: %+v", created)
	}

	read, err := s.Read(ctx, "ns-1-billing")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if read.PrimaryKeyID() != created.PrimaryKeyID() {
		t.Errorf("primary key mismatch: %d != %d", read.PrimaryKeyID(), created.PrimaryKeyID())
	}
	if read.RotationInterval != 24*time.Hour {
		t.Errorf("unexpected rotation interval: %v", read.RotationInterval)
	}
	if read.Algorithm != domain.AlgorithmAES256GCM {
		t.Errorf("unexpected algorithm: %s", read.Algorithm)
	}
}

func TestTinkStore_CreateErrors(t *testing.T) {
	ctx := context.Background()
	s, backend, _ := newTestStore(t)
	mustCreate(t, s, "ns-1-billing", domain.AlgorithmAES256GCM)

	tests := []struct {
		name     string
		provider string
		keyID    string
		def      Definition
		wantErr  error
	}{
		{"duplicate name", ProviderLocal, testWrappingKeyID, Definition{Name: "ns-1-billing", Algorithm: domain.AlgorithmAES256GCM}, ErrKeysetExists},
		{"unknown provider", "vault", testWrappingKeyID, Definition{Name: "ns-1-other", Algorithm: domain.AlgorithmAES256GCM}, ErrUnknownProvider},
		{"unknown algorithm", ProviderLocal, testWrappingKeyID, Definition{Name: "ns-1-other", Algorithm: "ROT13"}, domain.ErrInvalidArgument},
		{"empty name", ProviderLocal, testWrappingKeyID, Definition{Algorithm: domain.AlgorithmAES256GCM}, domain.ErrInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Create(ctx, tt.provider, tt.keyID, tt.def)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
	if backend.Len() != 1 {
		t.Errorf("failed creates must not store material, have %d entries", backend.Len())
	}

	if _, err := s.Create(ctx, ProviderLocal, "missing-kek", Definition{Name: "ns-1-x", Algorithm: domain.AlgorithmAES256GCM}); err == nil {
		t.Error("expected error for unknown wrapping key id")
	}
}

func TestTinkStore_Rotate(t *testing.T) {
	ctx := context.Background()
	s, _, clk := newTestStore(t)
	ks := mustCreate(t, s, "ns-1-billing", domain.AlgorithmAES256GCM)

	before, err := aeadFor(ks)
	if err != nil {
		t.Fatalf("aead: %v", err)
	}
	ciphertext, err := before.Encrypt([]byte("invoice"), []byte("ad"))
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	oldPrimary := ks.PrimaryKeyID()

	clk.Add(time.Hour)
	if err := s.Rotate(ctx, ks); err != nil {
		t.Fatalf("Rotate failed: %v", err)
	}
	if ks.KeyCount() != 2 {
		t.Errorf("expected 2 keys after rotation, got %d", ks.KeyCount())
	}
	if ks.PrimaryKeyID() == oldPrimary {
		t.Error("primary key did not change")
	}
	if !ks.RotatedAt.Equal(clk.Now().UTC()) {
		t.Errorf("RotatedAt = %v, want %v", ks.RotatedAt, clk.Now().UTC())
	}

	// 旧鍵で暗号化したデータは引き続き復号できる
	reread, err := s.Read(ctx, "ns-1-billing")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	after, err := aeadFor(reread)
	if err != nil {
		t.Fatalf("aead: %v", err)
	}
	plaintext, err := after.Decrypt(ciphertext, []byte("ad"))
	if err != nil {
		t.Fatalf("Decrypt with rotated keyset failed: %v", err)
	}
	if string(plaintext) != "invoice" {
		t.Errorf("unexpected plaintext %q", plaintext)
	}

	// 更新後のバージョンで続けてローテーションできる
	if err := s.Rotate(ctx, ks); err != nil {
		t.Fatalf("second Rotate failed: %v", err)
	}
	if ks.KeyCount() != 3 {
		t.Errorf("expected 3 keys, got %d", ks.KeyCount())
	}
}

func TestTinkStore_RotateConflict(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestStore(t)
	mustCreate(t, s, "ns-1-billing", domain.AlgorithmHMACSHA256)

	a, _ := s.Read(ctx, "ns-1-billing")
	b, _ := s.Read(ctx, "ns-1-billing")
	if err := s.Rotate(ctx, a); err != nil {
		t.Fatalf("Rotate failed: %v", err)
	}
	primary := b.PrimaryKeyID()
	if err := s.Rotate(ctx, b); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if b.PrimaryKeyID() != primary || b.KeyCount() != 1 {
		t.Error("failed rotation must leave the keyset unchanged")
	}
}

func TestTinkStore_Remove(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestStore(t)
	mustCreate(t, s, "ns-1-billing", domain.AlgorithmED25519)

	if err := s.Remove(ctx, "ns-1-billing"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if _, err := s.Read(ctx, "ns-1-billing"); !errors.Is(err, ErrKeysetNotFound) {
		t.Fatalf("expected ErrKeysetNotFound after remove, got %v", err)
	}
	if err := s.Remove(ctx, "ns-1-billing"); !errors.Is(err, ErrKeysetNotFound) {
		t.Fatalf("expected ErrKeysetNotFound on second remove, got %v", err)
	}
}

func TestTinkStore_AssociatedDataBindsName(t *testing.T) {
	ctx := context.Background()
	s, backend, _ := newTestStore(t)
	mustCreate(t, s, "ns-1-billing", domain.AlgorithmAES128GCM)

	rec, err := backend.Get(ctx, "ns-1-billing")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if err := backend.Insert(ctx, "ns-2-billing", rec.Payload); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if _, err := s.Read(ctx, "ns-2-billing"); err == nil {
		t.Fatal("keyset copied under another name must not decrypt")
	}
}

func TestKeyset_RotationDue(t *testing.T) {
	s, _, clk := newTestStore(t)
	ks := mustCreate(t, s, "ns-1-billing", domain.AlgorithmAES256SIV)

	if ks.RotationDue(clk.Now()) {
		t.Error("fresh keyset should not be due")
	}
	clk.Add(24 * time.Hour)
	if !ks.RotationDue(clk.Now()) {
		t.Error("keyset should be due once the interval elapsed")
	}
}

func TestKeyTemplate_AllAlgorithms(t *testing.T) {
	algorithms := []domain.Algorithm{
		domain.AlgorithmAES128GCM, domain.AlgorithmAES256GCM, domain.AlgorithmChaCha20Poly1305,
		domain.AlgorithmXChaCha20Poly1305, domain.AlgorithmAES256SIV, domain.AlgorithmHMACSHA256,
		domain.AlgorithmHMACSHA512, domain.AlgorithmECDSAP256, domain.AlgorithmECDSAP384, domain.AlgorithmED25519,
	}
	for _, alg := range algorithms {
		if _, err := KeyTemplate(alg); err != nil {
			t.Errorf("KeyTemplate(%s) failed: %v", alg, err)
		}
	}
}
