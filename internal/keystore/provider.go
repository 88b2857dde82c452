package keystore

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/tink-crypto/tink-go/v2/aead"
	"github.com/tink-crypto/tink-go/v2/insecurecleartextkeyset"
	"github.com/tink-crypto/tink-go/v2/keyset"
	"github.com/tink-crypto/tink-go/v2/tink"
)

const (
	// ProviderGCPKMS はCloud KMSの鍵でキーセットをラップするプロバイダ。
	ProviderGCPKMS = "gcp-kms"
	// ProviderLocal はローカルのtink AEADでキーセットをラップするプロバイダ（開発・テスト用）。
	ProviderLocal = "local"
)

// WrapperFactory はラッピング鍵IDからキーセット暗号化用のAEADを返す。
type WrapperFactory func(ctx context.Context, wrappingKeyID string) (tink.AEAD, error)

// Providers はプロバイダ名とWrapperFactoryの対応を保持する。
type Providers struct {
	mu        sync.RWMutex
	factories map[string]WrapperFactory
}

// NewProviders は空のProvidersを生成する。
func NewProviders() *Providers {
	return &Providers{factories: make(map[string]WrapperFactory)}
}

// Register はプロバイダを登録する。同名の登録は上書きする。
func (p *Providers) Register(name string, f WrapperFactory) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.factories[name] = f
}

// Wrapper は指定されたプロバイダのラッピングAEADを返す。
func (p *Providers) Wrapper(ctx context.Context, provider, wrappingKeyID string) (tink.AEAD, error) {
	p.mu.RLock()
	f, ok := p.factories[provider]
	p.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}
	kek, err := f(ctx, wrappingKeyID)
	if err != nil {
		return nil, fmt.Errorf("resolving wrapping key %q: %w", wrappingKeyID, err)
	}
	return kek, nil
}

// LocalWrapper はラッピング鍵IDごとのAEADを持つローカルプロバイダを返す。
func LocalWrapper(keys map[string]tink.AEAD) WrapperFactory {
	return func(_ context.Context, wrappingKeyID string) (tink.AEAD, error) {
		kek, ok := keys[wrappingKeyID]
		if !ok {
			return nil, fmt.Errorf("local wrapping key %q is not configured", wrappingKeyID)
		}
		return kek, nil
	}
}

// LoadLocalWrappingKey は平文JSON形式のtink keysetファイルからAEADを読み込む。
func LoadLocalWrappingKey(path string) (tink.AEAD, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening wrapping keyset: %w", err)
	}
	defer f.Close()

	h, err := insecurecleartextkeyset.Read(keyset.NewJSONReader(f))
	if err != nil {
		return nil, fmt.Errorf("reading wrapping keyset: %w", err)
	}
	return aead.New(h)
}

// NewEphemeralWrappingKey はプロセス内でのみ有効なAES256-GCMのAEADを生成する。
func NewEphemeralWrappingKey() (tink.AEAD, error) {
	h, err := keyset.NewHandle(aead.AES256GCMKeyTemplate())
	if err != nil {
		return nil, fmt.Errorf("generating wrapping keyset: %w", err)
	}
	return aead.New(h)
}
