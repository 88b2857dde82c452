package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrKeysetNotFound は指定されたキーセットのメタデータが存在しない場合のエラー。
	ErrKeysetNotFound = errors.New("keyset not found")

	// ErrKeysetInactive は Active 状態を要求する操作を非 Active のキーセットに対して行った場合のエラー。
	ErrKeysetInactive = errors.New("keyset is not active")

	// ErrKeysetExists は同じ namespace に同名のキーセットが既に存在する場合のエラー。
	ErrKeysetExists = errors.New("keyset already exists")

	// ErrTransition は許可されていない状態遷移のエラー。*TransitionError がこれにマッチする。
	ErrTransition = errors.New("illegal keyset state transition")

	// ErrKeysetDestroyed は破棄済みキーセットへの遷移要求のエラー。
	ErrKeysetDestroyed = errors.New("keyset is destroyed")

	// ErrInvalidArgument は入力値が不正な場合のエラー。
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNamespaceNotFound は所有 namespace が存在しない場合のエラー。
	ErrNamespaceNotFound = errors.New("namespace not found")

	// ErrNamespaceExists は同名の namespace が既に存在する場合のエラー。
	ErrNamespaceExists = errors.New("namespace already exists")

	// ErrManagement はストアやリポジトリの予期しない失敗を表す。*ManagementError がこれにマッチする。
	ErrManagement = errors.New("keyset management failed")

	// ErrMigrationFailed はマイグレーション実行時のエラー。
	ErrMigrationFailed = errors.New("migration failed")

	// ErrMigrationFileNotFound はマイグレーションファイルが見つからない場合のエラー。
	ErrMigrationFileNotFound = errors.New("migration file not found")

	// ErrInvalidMigrationFile はマイグレーションファイルのフォーマットが不正な場合のエラー。
	ErrInvalidMigrationFile = errors.New("invalid migration file")

	// ErrMigrationModified は適用済みマイグレーションのファイルが変更されている場合のエラー。
	ErrMigrationModified = errors.New("applied migration was modified")
)

// TransitionError は状態遷移の失敗を表す。現在の状態と要求された状態を保持する。
type TransitionError struct {
	Current KeysetState
	Target  KeysetState
}

func (e *TransitionError) Error() string {
	if e.Current == KeysetStateDestroyed {
		return fmt.Sprintf("keyset is destroyed: cannot transition to %s", e.Target)
	}
	return fmt.Sprintf("illegal keyset state transition from %s to %s", e.Current, e.Target)
}

// Is は ErrTransition と、破棄済みの場合は ErrKeysetDestroyed にもマッチさせる。
func (e *TransitionError) Is(target error) bool {
	if target == ErrTransition {
		return true
	}
	return target == ErrKeysetDestroyed && e.Current == KeysetStateDestroyed
}

// ValidationError は値オブジェクト構築時の検証エラー。ErrInvalidArgument にマッチする。
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidArgument
}

func invalidArgument(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// ManagementError はストアやリポジトリの予期しない失敗を包む。
// 原因は診断用に保持するが、Error() の文字列は呼び出し元へそのまま返さないこと。
type ManagementError struct {
	Op  string
	Err error
}

// NewManagementError は op の失敗として err を包む。
func NewManagementError(op string, err error) *ManagementError {
	return &ManagementError{Op: op, Err: err}
}

func (e *ManagementError) Error() string {
	return fmt.Sprintf("keyset %s failed: %v", e.Op, e.Err)
}

func (e *ManagementError) Unwrap() error {
	return e.Err
}

func (e *ManagementError) Is(target error) bool {
	return target == ErrManagement
}
