package keystore

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/tink-crypto/tink-go/v2/aead"
	"github.com/tink-crypto/tink-go/v2/daead"
	"github.com/tink-crypto/tink-go/v2/keyset"
	"github.com/tink-crypto/tink-go/v2/mac"
	"github.com/tink-crypto/tink-go/v2/signature"
	"github.com/tink-crypto/tink-go/v2/tink"

	"keyset-lifecycle-service/internal/domain"
)

// Reader はキーセットを名前で読み込む。TinkStore が満たす。
type Reader interface {
	Read(ctx context.Context, name string) (*Keyset, error)
}

// Operations は1つのキーセットに対する暗号操作のハンドル。
// キーセットは最初に使われたときに読み込まれ、成功した結果のみキャッシュされる。
type Operations struct {
	reader    Reader
	name      string
	algorithm domain.Algorithm

	mu     sync.Mutex
	loaded *Keyset
}

// NewOperations は name のキーセットに対する遅延読み込みのハンドルを生成する。この時点ではストアに触れない。
func NewOperations(reader Reader, name string, algorithm domain.Algorithm) *Operations {
	return &Operations{reader: reader, name: name, algorithm: algorithm}
}

// Name はキーセット名を返す。
func (o *Operations) Name() string {
	return o.name
}

// Algorithm はキーセットのアルゴリズムを返す。
func (o *Operations) Algorithm() domain.Algorithm {
	return o.algorithm
}

// Keyset は物理キーセットを返す。未読み込みであればストアから読み込む。
func (o *Operations) Keyset(ctx context.Context) (*Keyset, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.loaded != nil {
		return o.loaded, nil
	}
	ks, err := o.reader.Read(ctx, o.name)
	if err != nil {
		return nil, err
	}
	o.loaded = ks
	return ks, nil
}

func (o *Operations) handleFor(ctx context.Context, purpose domain.Purpose) (*keyset.Handle, error) {
	if got := o.algorithm.Purpose(); got != purpose {
		return nil, fmt.Errorf("%w: keyset %q is a %s keyset, not %s", domain.ErrInvalidArgument, o.name, got, purpose)
	}
	ks, err := o.Keyset(ctx)
	if err != nil {
		return nil, err
	}
	return ks.Handle(), nil
}

// AEAD はAEADプリミティブを返す。
func (o *Operations) AEAD(ctx context.Context) (tink.AEAD, error) {
	h, err := o.handleFor(ctx, domain.PurposeAEAD)
	if err != nil {
		return nil, err
	}
	return aead.New(h)
}

// DeterministicAEAD は決定的AEADプリミティブを返す。
func (o *Operations) DeterministicAEAD(ctx context.Context) (tink.DeterministicAEAD, error) {
	h, err := o.handleFor(ctx, domain.PurposeDeterministicAEAD)
	if err != nil {
		return nil, err
	}
	return daead.New(h)
}

// MAC はMACプリミティブを返す。
func (o *Operations) MAC(ctx context.Context) (tink.MAC, error) {
	h, err := o.handleFor(ctx, domain.PurposeMAC)
	if err != nil {
		return nil, err
	}
	return mac.New(h)
}

// Signer は署名プリミティブを返す。
func (o *Operations) Signer(ctx context.Context) (tink.Signer, error) {
	h, err := o.handleFor(ctx, domain.PurposeSignature)
	if err != nil {
		return nil, err
	}
	return signature.NewSigner(h)
}

// Verifier は検証プリミティブを返す。過去の鍵バージョンによる署名も検証できる。
func (o *Operations) Verifier(ctx context.Context) (tink.Verifier, error) {
	pub, err := o.publicHandle(ctx)
	if err != nil {
		return nil, err
	}
	return signature.NewVerifier(pub)
}

// PublicKeysetJSON は公開鍵のみを含むキーセットをJSONで返す。
func (o *Operations) PublicKeysetJSON(ctx context.Context) ([]byte, error) {
	pub, err := o.publicHandle(ctx)
	if err != nil {
		return nil, err
	}
	buf := new(bytes.Buffer)
	if err := pub.WriteWithNoSecrets(keyset.NewJSONWriter(buf)); err != nil {
		return nil, fmt.Errorf("writing public keyset: %w", err)
	}
	return buf.Bytes(), nil
}

func (o *Operations) publicHandle(ctx context.Context) (*keyset.Handle, error) {
	h, err := o.handleFor(ctx, domain.PurposeSignature)
	if err != nil {
		return nil, err
	}
	pub, err := h.Public()
	if err != nil {
		return nil, fmt.Errorf("extracting public keyset: %w", err)
	}
	return pub, nil
}
