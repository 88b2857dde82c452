package repository

import (
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// sqliteSchema はマイグレーションのSQLite版（MySQL固有の構文を除いたもの）。
const sqliteSchema = `
	CREATE TABLE namespaces (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE TABLE keyset_metadata (
		id TEXT PRIMARY KEY,
		namespace_id INTEGER NOT NULL REFERENCES namespaces(id),
		name TEXT NOT NULL,
		keyset_name TEXT NOT NULL,
		algorithm TEXT NOT NULL,
		state TEXT NOT NULL DEFAULT 'active',
		description TEXT NOT NULL DEFAULT '',
		tags TEXT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		UNIQUE(namespace_id, name),
		UNIQUE(keyset_name)
	);
	CREATE INDEX idx_namespace_state ON keyset_metadata(namespace_id, state);
	CREATE INDEX idx_updated_at ON keyset_metadata(updated_at);
	CREATE TABLE keyset_material (
		name TEXT PRIMARY KEY,
		payload BLOB NOT NULL,
		version INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
`

// setupTestDB はテスト用のインメモリSQLiteデータベースを作成する。
// 複数コネクションから同じデータベースが見えるよう共有キャッシュを使う。
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name()) + "_" + uuid.NewString()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_fk=1", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxIdleConns(4)
	t.Cleanup(func() { sqlDB.Close() })

	if err := db.Exec(sqliteSchema).Error; err != nil {
		t.Fatalf("failed to create schema: %v", err)
	}
	return db
}

func insertNamespace(t *testing.T, db *gorm.DB, id int64, name string) {
	t.Helper()
	if err := db.Exec("INSERT INTO namespaces (id, name) VALUES (?, ?)", id, name).Error; err != nil {
		t.Fatalf("failed to insert namespace: %v", err)
	}
}
