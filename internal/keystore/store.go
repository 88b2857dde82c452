// Package keystore は物理キーセット（tink keyset）の生成・読み込み・ローテーション・削除を提供する。
package keystore

import (
	"context"
	"errors"
	"time"

	"github.com/tink-crypto/tink-go/v2/keyset"

	"keyset-lifecycle-service/internal/domain"
)

var (
	// ErrKeysetNotFound は指定された名前のキーセットがストアに存在しない場合のエラー。
	ErrKeysetNotFound = errors.New("keyset material not found")
	// ErrKeysetExists は同名のキーセットが既にストアに存在する場合のエラー。
	ErrKeysetExists = errors.New("keyset material already exists")
	// ErrConflict は読み込み後に別の書き込みがあったため楽観ロックに失敗した場合のエラー。
	ErrConflict = errors.New("keyset material modified concurrently")
	// ErrUnknownProvider は登録されていないプロバイダ名が指定された場合のエラー。
	ErrUnknownProvider = errors.New("unknown keyset provider")
)

// Definition はキーセット生成時の入力。Name は導出済みの安定名。
type Definition struct {
	Name             string
	Algorithm        domain.Algorithm
	RotationInterval time.Duration
}

// Keyset はストアから読み込まれた物理キーセット。
type Keyset struct {
	Name             string
	Provider         string
	WrappingKeyID    string
	Algorithm        domain.Algorithm
	RotationInterval time.Duration
	CreatedAt        time.Time
	RotatedAt        time.Time

	handle  *keyset.Handle
	version string
}

// Handle は tink の keyset ハンドルを返す。
func (k *Keyset) Handle() *keyset.Handle {
	return k.handle
}

// PrimaryKeyID は現在のプライマリ鍵のIDを返す。
func (k *Keyset) PrimaryKeyID() uint32 {
	return k.handle.KeysetInfo().GetPrimaryKeyId()
}

// KeyCount はキーセットに含まれる鍵バージョンの数を返す。
func (k *Keyset) KeyCount() int {
	return len(k.handle.KeysetInfo().GetKeyInfo())
}

// RotationDue はローテーション間隔を過ぎているかを返す。
func (k *Keyset) RotationDue(now time.Time) bool {
	return k.RotationInterval > 0 && !now.Before(k.RotatedAt.Add(k.RotationInterval))
}

// Record はバックエンドに保存される不透明なペイロードと楽観ロック用のバージョン。
type Record struct {
	Payload []byte
	Version string
}

// Backend はシリアライズ済みキーセットの永続化先。
type Backend interface {
	// Get は ErrKeysetNotFound を返すことがある。
	Get(ctx context.Context, name string) (*Record, error)
	// Insert は同名が存在する場合 ErrKeysetExists を返す。
	Insert(ctx context.Context, name string, payload []byte) error
	// Update は version が一致しない場合 ErrConflict を返す。成功時は新しいバージョンを返す。
	Update(ctx context.Context, name string, payload []byte, version string) (string, error)
	// Delete は存在しない場合 ErrKeysetNotFound を返す。
	Delete(ctx context.Context, name string) error
}
