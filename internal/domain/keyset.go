// Package domain はドメインモデルとビジネスルールを定義する。
package domain

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// KeysetState はキーセットのライフサイクル状態を表す。
type KeysetState string

const (
	// KeysetStateActive は暗号操作に利用可能な状態。作成直後の状態でもある。
	KeysetStateActive KeysetState = "active"
	// KeysetStateInactive は一時的に無効化された状態。
	KeysetStateInactive KeysetState = "inactive"
	// KeysetStatePendingDestruction は破棄予定の状態。Activeへ戻すことができる。
	KeysetStatePendingDestruction KeysetState = "pending_destruction"
	// KeysetStateDestroyed は終端状態。ここから遷移することはできない。
	KeysetStateDestroyed KeysetState = "destroyed"
)

// KeysetStates は定義済みの全状態を返す。
func KeysetStates() []KeysetState {
	return []KeysetState{
		KeysetStateActive,
		KeysetStateInactive,
		KeysetStatePendingDestruction,
		KeysetStateDestroyed,
	}
}

// ParseKeysetState は文字列を KeysetState に変換する。
func ParseKeysetState(s string) (KeysetState, error) {
	state := KeysetState(strings.ToLower(strings.TrimSpace(s)))
	if !slices.Contains(KeysetStates(), state) {
		return "", invalidArgument("state", fmt.Sprintf("unknown keyset state %q", s))
	}
	return state, nil
}

// Purpose はアルゴリズムが提供する暗号プリミティブの種類。
type Purpose string

const (
	PurposeAEAD              Purpose = "aead"
	PurposeDeterministicAEAD Purpose = "daead"
	PurposeMAC               Purpose = "mac"
	PurposeSignature         Purpose = "signature"
)

// Algorithm はキーセットのアルゴリズム識別子。
type Algorithm string

const (
	AlgorithmAES128GCM         Algorithm = "AES128_GCM"
	AlgorithmAES256GCM         Algorithm = "AES256_GCM"
	AlgorithmChaCha20Poly1305  Algorithm = "CHACHA20_POLY1305"
	AlgorithmXChaCha20Poly1305 Algorithm = "XCHACHA20_POLY1305"
	AlgorithmAES256SIV         Algorithm = "AES256_SIV"
	AlgorithmHMACSHA256        Algorithm = "HMAC_SHA256"
	AlgorithmHMACSHA512        Algorithm = "HMAC_SHA512"
	AlgorithmECDSAP256         Algorithm = "ECDSA_P256"
	AlgorithmECDSAP384         Algorithm = "ECDSA_P384"
	AlgorithmED25519           Algorithm = "ED25519"
)

var algorithmPurposes = map[Algorithm]Purpose{
	AlgorithmAES128GCM:         PurposeAEAD,
	AlgorithmAES256GCM:         PurposeAEAD,
	AlgorithmChaCha20Poly1305:  PurposeAEAD,
	AlgorithmXChaCha20Poly1305: PurposeAEAD,
	AlgorithmAES256SIV:         PurposeDeterministicAEAD,
	AlgorithmHMACSHA256:        PurposeMAC,
	AlgorithmHMACSHA512:        PurposeMAC,
	AlgorithmECDSAP256:         PurposeSignature,
	AlgorithmECDSAP384:         PurposeSignature,
	AlgorithmED25519:           PurposeSignature,
}

// ParseAlgorithm は文字列を Algorithm に変換する。大文字小文字は区別しない。
func ParseAlgorithm(s string) (Algorithm, error) {
	alg := Algorithm(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := algorithmPurposes[alg]; !ok {
		return "", invalidArgument("algorithm", fmt.Sprintf("unsupported algorithm %q", s))
	}
	return alg, nil
}

// Purpose はアルゴリズムの用途を返す。未知のアルゴリズムは空文字を返す。
func (a Algorithm) Purpose() Purpose {
	return algorithmPurposes[a]
}

// KeysetMetadata は物理キーセット1つに対応する管理レコード。
type KeysetMetadata struct {
	ID          string
	NamespaceID int64
	KeysetName  string
	Algorithm   Algorithm
	State       KeysetState
	Name        string
	Description string
	Tags        []string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	DestroyedAt *time.Time
}

// IsActive はメタデータが Active 状態かを返す。
func (m *KeysetMetadata) IsActive() bool {
	return m.State == KeysetStateActive
}

// DefaultRotationInterval はローテーション間隔が未指定の場合の既定値。
const DefaultRotationInterval = 180 * 24 * time.Hour

const (
	maxNameLength        = 128
	maxDescriptionLength = 1024
	maxTagLength         = 64
)

// KeysetMetadataDefinition は create に渡す入力値。永続化はされない。
type KeysetMetadataDefinition struct {
	NamespaceID      int64
	Algorithm        Algorithm
	Name             string
	Description      string
	Tags             []string
	RotationInterval time.Duration
}

// KeysetName は定義から導出される安定したキーセット名を返す。
func (d KeysetMetadataDefinition) KeysetName() string {
	return KeysetName(d.NamespaceID, d.Name)
}

// NewKeysetMetadataDefinition は入力を検証して定義を生成する。
// rotationInterval が 0 の場合は DefaultRotationInterval を使う。
func NewKeysetMetadataDefinition(namespaceID int64, algorithm Algorithm, name, description string, tags []string, rotationInterval time.Duration) (KeysetMetadataDefinition, error) {
	if namespaceID <= 0 {
		return KeysetMetadataDefinition{}, invalidArgument("namespace_id", "must be positive")
	}
	if algorithm.Purpose() == "" {
		return KeysetMetadataDefinition{}, invalidArgument("algorithm", fmt.Sprintf("unsupported algorithm %q", algorithm))
	}

	name = strings.TrimSpace(name)
	if name == "" {
		return KeysetMetadataDefinition{}, invalidArgument("name", "is required")
	}
	if len(name) > maxNameLength {
		return KeysetMetadataDefinition{}, invalidArgument("name", fmt.Sprintf("must be at most %d characters", maxNameLength))
	}
	if !hasLetterOrDigit(name) {
		return KeysetMetadataDefinition{}, invalidArgument("name", "must contain at least one letter or digit")
	}

	description, normalized, err := NormalizeDetails(description, tags)
	if err != nil {
		return KeysetMetadataDefinition{}, err
	}

	if rotationInterval < 0 {
		return KeysetMetadataDefinition{}, invalidArgument("rotation_interval", "must not be negative")
	}
	if rotationInterval == 0 {
		rotationInterval = DefaultRotationInterval
	}

	return KeysetMetadataDefinition{
		NamespaceID:      namespaceID,
		Algorithm:        algorithm,
		Name:             name,
		Description:      description,
		Tags:             normalized,
		RotationInterval: rotationInterval,
	}, nil
}

// NormalizeDetails は説明とタグを検証して正規化する。create と update で共通。
func NormalizeDetails(description string, tags []string) (string, []string, error) {
	description = strings.TrimSpace(description)
	if len(description) > maxDescriptionLength {
		return "", nil, invalidArgument("description", fmt.Sprintf("must be at most %d characters", maxDescriptionLength))
	}
	normalized, err := NormalizeTags(tags)
	if err != nil {
		return "", nil, err
	}
	return description, normalized, nil
}

// NormalizeTags はタグの前後空白を除去し、空要素と重複を取り除いてソートする。
func NormalizeTags(tags []string) ([]string, error) {
	if len(tags) == 0 {
		return nil, nil
	}
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if len(tag) > maxTagLength {
			return nil, invalidArgument("tags", fmt.Sprintf("tag %q exceeds %d characters", tag, maxTagLength))
		}
		out = append(out, tag)
	}
	slices.Sort(out)
	out = slices.Compact(out)
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}
