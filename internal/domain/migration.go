package domain

import "time"

// MigrationStatus はマイグレーションの適用状態。
type MigrationStatus string

const (
	MigrationStatusPending MigrationStatus = "pending"
	MigrationStatusApplied MigrationStatus = "applied"
	// MigrationStatusModified は適用後にファイルの内容が書き換えられたもの。
	MigrationStatusModified MigrationStatus = "modified"
)

// Migration は migrations/ 配下の1ファイルと、その適用履歴を表す。
type Migration struct {
	Version   string // ファイル名の先頭（例: "001"）
	Name      string
	FilePath  string
	Checksum  string // ファイル内容のSHA-256。履歴側では空の場合がある
	AppliedAt *time.Time
	Status    MigrationStatus
}

// Applied は履歴テーブルに記録済みかを返す。
func (m *Migration) Applied() bool {
	return m.Status != MigrationStatusPending
}
