package keystore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/tink-crypto/tink-go/v2/keyset"

	"keyset-lifecycle-service/internal/domain"
)

// countingReader は読み込み回数を数えるReader。
type countingReader struct {
	inner Reader
	reads int
	err   error
}

func (r *countingReader) Read(ctx context.Context, name string) (*Keyset, error) {
	r.reads++
	if r.err != nil {
		return nil, r.err
	}
	return r.inner.Read(ctx, name)
}

func TestOperations_LazyRead(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestStore(t)
	mustCreate(t, s, "ns-1-billing", domain.AlgorithmAES256GCM)

	reader := &countingReader{inner: s}
	ops := NewOperations(reader, "ns-1-billing", domain.AlgorithmAES256GCM)
	if reader.reads != 0 {
		t.Fatal("NewOperations must not read the keyset")
	}

	a, err := ops.AEAD(ctx)
	if err != nil {
		t.Fatalf("AEAD failed: %v", err)
	}
	ct, err := a.Encrypt([]byte("secret"), nil)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	a2, err := ops.AEAD(ctx)
	if err != nil {
		t.Fatalf("AEAD failed: %v", err)
	}
	if pt, err := a2.Decrypt(ct, nil); err != nil || string(pt) != "secret" {
		t.Fatalf("Decrypt = %q, %v", pt, err)
	}
	if reader.reads != 1 {
		t.Errorf("expected exactly 1 read, got %d", reader.reads)
	}
}

func TestOperations_ReadErrorNotCached(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestStore(t)
	mustCreate(t, s, "ns-1-billing", domain.AlgorithmHMACSHA512)

	reader := &countingReader{inner: s, err: errors.New("backend unavailable")}
	ops := NewOperations(reader, "ns-1-billing", domain.AlgorithmHMACSHA512)
	if _, err := ops.MAC(ctx); err == nil {
		t.Fatal("expected error from reader")
	}

	reader.err = nil
	m, err := ops.MAC(ctx)
	if err != nil {
		t.Fatalf("MAC failed after recovery: %v", err)
	}
	tag, err := m.ComputeMAC([]byte("msg"))
	if err != nil {
		t.Fatalf("ComputeMAC failed: %v", err)
	}
	if err := m.VerifyMAC(tag, []byte("msg")); err != nil {
		t.Errorf("VerifyMAC failed: %v", err)
	}
	if reader.reads != 2 {
		t.Errorf("expected 2 reads, got %d", reader.reads)
	}
}

func TestOperations_PurposeMismatch(t *testing.T) {
	ctx := context.Background()
	reader := &countingReader{}
	ops := NewOperations(reader, "ns-1-billing", domain.AlgorithmAES256GCM)

	if _, err := ops.Signer(ctx); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("Signer: expected ErrInvalidArgument, got %v", err)
	}
	if _, err := ops.MAC(ctx); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("MAC: expected ErrInvalidArgument, got %v", err)
	}
	if _, err := ops.PublicKeysetJSON(ctx); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("PublicKeysetJSON: expected ErrInvalidArgument, got %v", err)
	}
	if reader.reads != 0 {
		t.Errorf("purpose mismatch must not read material, got %d reads", reader.reads)
	}
}

func TestOperations_SignatureAcrossRotation(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestStore(t)
	ks := mustCreate(t, s, "ns-1-signing", domain.AlgorithmECDSAP256)

	signer, err := NewOperations(s, ks.Name, ks.Algorithm).Signer(ctx)
	if err != nil {
		t.Fatalf("Signer failed: %v", err)
	}
	sig, err := signer.Sign([]byte("payload"))
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}

	if err := s.Rotate(ctx, ks); err != nil {
		t.Fatalf("Rotate failed: %v", err)
	}

	ops := NewOperations(s, ks.Name, ks.Algorithm)
	verifier, err := ops.Verifier(ctx)
	if err != nil {
		t.Fatalf("Verifier failed: %v", err)
	}
	if err := verifier.Verify(sig, []byte("payload")); err != nil {
		t.Errorf("signature from the previous primary must verify: %v", err)
	}

	pub, err := ops.PublicKeysetJSON(ctx)
	if err != nil {
		t.Fatalf("PublicKeysetJSON failed: %v", err)
	}
	if !json.Valid(pub) {
		t.Fatalf("public keyset is not JSON: %s", pub)
	}
	h, err := keyset.ReadWithNoSecrets(keyset.NewJSONReader(bytes.NewReader(pub)))
	if err != nil {
		t.Fatalf("failed to parse public keyset: %v", err)
	}
	if n := len(h.KeysetInfo().GetKeyInfo()); n != 2 {
		t.Errorf("expected 2 public keys, got %d", n)
	}
}

func TestOperations_DeterministicAEAD(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestStore(t)
	ks := mustCreate(t, s, "ns-1-siv", domain.AlgorithmAES256SIV)

	d, err := NewOperations(s, ks.Name, ks.Algorithm).DeterministicAEAD(ctx)
	if err != nil {
		t.Fatalf("DeterministicAEAD failed: %v", err)
	}
	c1, _ := d.EncryptDeterministically([]byte("x"), nil)
	c2, _ := d.EncryptDeterministically([]byte("x"), nil)
	if string(c1) != string(c2) {
		t.Error("deterministic encryption should be stable")
	}
}
