package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"sort"
	"strings"

	"keyset-lifecycle-service/internal/domain"
)

// MigrationRepository はマイグレーション履歴を管理するリポジトリのインターフェース。
type MigrationRepository interface {
	EnsureTable(ctx context.Context) error
	FindAllApplied(ctx context.Context) ([]*domain.Migration, error)
	Apply(ctx context.Context, m *domain.Migration, statements []string) error
}

// MigrationService はマイグレーション実行のビジネスロジックを提供する。
type MigrationService struct {
	repo       MigrationRepository
	migrations fs.FS
}

// NewMigrationService は新しいMigrationServiceを生成する。migrations は .sql ファイルを直下に持つ。
func NewMigrationService(repo MigrationRepository, migrations fs.FS) *MigrationService {
	return &MigrationService{
		repo:       repo,
		migrations: migrations,
	}
}

// scanMigrationFiles は .sql ファイルをバージョン順に列挙する。
func (s *MigrationService) scanMigrationFiles() ([]*domain.Migration, error) {
	entries, err := fs.ReadDir(s.migrations, ".")
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, domain.ErrMigrationFileNotFound
		}
		return nil, fmt.Errorf("reading migrations directory: %w", err)
	}

	var migrations []*domain.Migration
	seen := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		version, name, err := parseMigrationFileName(entry.Name())
		if err != nil {
			return nil, err
		}
		if prev, dup := seen[version]; dup {
			return nil, fmt.Errorf("%w: version %s used by %s and %s", domain.ErrInvalidMigrationFile, version, prev, entry.Name())
		}
		seen[version] = entry.Name()

		filePath := path.Clean(entry.Name())
		data, err := fs.ReadFile(s.migrations, filePath)
		if err != nil {
			return nil, fmt.Errorf("reading migration file %s: %w", filePath, err)
		}
		sum := sha256.Sum256(data)
		migrations = append(migrations, &domain.Migration{
			Version:  version,
			Name:     name,
			FilePath: filePath,
			Checksum: hex.EncodeToString(sum[:]),
			Status:   domain.MigrationStatusPending,
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

// parseMigrationFileName はファイル名からバージョンと名前を抽出する。
// ファイル名のフォーマット: {version}_{name}.sql (例: 001_create_namespaces.sql)
func parseMigrationFileName(filename string) (version, name string, err error) {
	version, name, ok := strings.Cut(strings.TrimSuffix(filename, ".sql"), "_")
	if !ok || version == "" || name == "" {
		return "", "", fmt.Errorf("%w: %s (expected format: {version}_{name}.sql)", domain.ErrInvalidMigrationFile, filename)
	}
	return version, name, nil
}

// splitStatements はセミコロン区切りのSQLを文単位に分割する。-- で始まる行は除く。
func splitStatements(sql string) []string {
	var b strings.Builder
	for _, line := range strings.Split(sql, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}

	var statements []string
	for _, stmt := range strings.Split(b.String(), ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			statements = append(statements, stmt)
		}
	}
	return statements
}

// ApplyMigrations は未適用マイグレーションを番号順に実行し、適用した件数を返す。
// 適用済みファイルが書き換えられていれば何も実行せず ErrMigrationModified を返す。
func (s *MigrationService) ApplyMigrations(ctx context.Context) (int, error) {
	pending, err := s.pendingMigrations(ctx)
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, m := range pending {
		sqlBytes, err := fs.ReadFile(s.migrations, m.FilePath)
		if err != nil {
			return applied, fmt.Errorf("reading migration file %s: %w", m.FilePath, err)
		}
		statements := splitStatements(string(sqlBytes))
		if len(statements) == 0 {
			return applied, fmt.Errorf("%w: %s has no statements", domain.ErrInvalidMigrationFile, m.FilePath)
		}

		if err := s.repo.Apply(ctx, m, statements); err != nil {
			slog.ErrorContext(ctx, "failed to apply migration",
				"operation", "apply_migrations",
				"version", m.Version,
				"error", err,
			)
			return applied, fmt.Errorf("%w: version %s: %v", domain.ErrMigrationFailed, m.Version, err)
		}
		slog.InfoContext(ctx, "migration applied",
			"version", m.Version,
			"name", m.Name,
		)
		applied++
	}
	return applied, nil
}

func (s *MigrationService) pendingMigrations(ctx context.Context) ([]*domain.Migration, error) {
	all, err := s.GetMigrationStatus(ctx)
	if err != nil {
		return nil, err
	}
	var pending []*domain.Migration
	for _, m := range all {
		switch m.Status {
		case domain.MigrationStatusModified:
			return nil, fmt.Errorf("%w: version %s (%s)", domain.ErrMigrationModified, m.Version, m.FilePath)
		case domain.MigrationStatusPending:
			pending = append(pending, m)
		}
	}
	return pending, nil
}

// GetMigrationStatus は全マイグレーションファイルの適用状況を返す。
// 記録済みのチェックサムと内容が異なるファイルは Modified になる。
func (s *MigrationService) GetMigrationStatus(ctx context.Context) ([]*domain.Migration, error) {
	all, err := s.scanMigrationFiles()
	if err != nil {
		return nil, err
	}
	if err := s.repo.EnsureTable(ctx); err != nil {
		return nil, fmt.Errorf("ensuring migration history table: %w", err)
	}

	applied, err := s.repo.FindAllApplied(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to fetch applied migrations",
			"operation", "get_migration_status",
			"error", err,
		)
		return nil, fmt.Errorf("fetching applied migrations: %w", err)
	}

	appliedMap := make(map[string]*domain.Migration, len(applied))
	for _, m := range applied {
		appliedMap[m.Version] = m
	}
	for _, m := range all {
		a, ok := appliedMap[m.Version]
		if !ok {
			continue
		}
		m.AppliedAt = a.AppliedAt
		m.Status = domain.MigrationStatusApplied
		if a.Checksum != "" && a.Checksum != m.Checksum {
			m.Status = domain.MigrationStatusModified
		}
	}
	return all, nil
}
