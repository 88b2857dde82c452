// Package migrations はサービスのスキーマ定義SQLを埋め込みで提供する。
package migrations

import "embed"

// FS は {version}_{name}.sql 形式のマイグレーションファイル群。
//
//go:embed *.sql
var FS embed.FS
