package infra

import (
	"context"
	"fmt"
	"time"

	kms "cloud.google.com/go/kms/apiv1"
	kmspb "cloud.google.com/go/kms/apiv1/kmspb"
	gax "github.com/googleapis/gax-go/v2"
	"github.com/tink-crypto/tink-go/v2/tink"

	"keyset-lifecycle-service/internal/keystore"
)

// kmsTimeout は1回のEncrypt/Decrypt呼び出しの上限時間。
const kmsTimeout = 10 * time.Second

// KMSAPI はラッピングに使うCloud KMSクライアントのメソッド。*kms.KeyManagementClient が満たす。
type KMSAPI interface {
	Encrypt(ctx context.Context, req *kmspb.EncryptRequest, opts ...gax.CallOption) (*kmspb.EncryptResponse, error)
	Decrypt(ctx context.Context, req *kmspb.DecryptRequest, opts ...gax.CallOption) (*kmspb.DecryptResponse, error)
}

// KMSClient はCloud KMSクライアントをラップする。
type KMSClient struct {
	client *kms.KeyManagementClient
}

// NewKMSClient はCloud KMSクライアントを生成する。
func NewKMSClient(ctx context.Context) (*KMSClient, error) {
	client, err := kms.NewKeyManagementClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating KMS client: %w", err)
	}
	return &KMSClient{client: client}, nil
}

// WrapperFactory はラッピング鍵ID（KMSの鍵リソース名）ごとにtink.AEADを返すファクトリ。
func (c *KMSClient) WrapperFactory() keystore.WrapperFactory {
	return KMSWrapperFactory(c.client)
}

// Close はKMSクライアントを閉じる。
func (c *KMSClient) Close() error {
	return c.client.Close()
}

// KMSWrapperFactory は api を使うWrapperFactoryを返す。
func KMSWrapperFactory(api KMSAPI) keystore.WrapperFactory {
	return func(_ context.Context, wrappingKeyID string) (tink.AEAD, error) {
		if wrappingKeyID == "" {
			return nil, fmt.Errorf("KMS key name is required")
		}
		return &kmsAEAD{api: api, keyName: wrappingKeyID}, nil
	}
}

// kmsAEAD はCloud KMSの対称鍵をtink.AEADとして扱う。
type kmsAEAD struct {
	api     KMSAPI
	keyName string
}

var _ tink.AEAD = (*kmsAEAD)(nil)

// Encrypt は平文をCloud KMSで暗号化する。
func (a *kmsAEAD) Encrypt(plaintext, associatedData []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), kmsTimeout)
	defer cancel()

	resp, err := a.api.Encrypt(ctx, &kmspb.EncryptRequest{
		Name:                        a.keyName,
		Plaintext:                   plaintext,
		AdditionalAuthenticatedData: associatedData,
	})
	if err != nil {
		return nil, fmt.Errorf("encrypting with %s: %w", a.keyName, err)
	}
	return resp.Ciphertext, nil
}

// Decrypt は暗号文をCloud KMSで復号する。
func (a *kmsAEAD) Decrypt(ciphertext, associatedData []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), kmsTimeout)
	defer cancel()

	resp, err := a.api.Decrypt(ctx, &kmspb.DecryptRequest{
		Name:                        a.keyName,
		Ciphertext:                  ciphertext,
		AdditionalAuthenticatedData: associatedData,
	})
	if err != nil {
		return nil, fmt.Errorf("decrypting with %s: %w", a.keyName, err)
	}
	return resp.Plaintext, nil
}
