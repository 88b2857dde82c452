package main

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"keyset-lifecycle-service/config"
	"keyset-lifecycle-service/internal/domain"
	"keyset-lifecycle-service/internal/infra"
	"keyset-lifecycle-service/internal/repository"
	"keyset-lifecycle-service/internal/usecase"
	"keyset-lifecycle-service/migrations"
)

var migrationsDir string

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage database migrations",
	Long: `Apply or inspect the schema migrations of the keyset metadata database.

Connects directly to DATABASE_URL (driver from DATABASE_DRIVER, default mysql).
The SQL files built into keyctl are used unless --dir or MIGRATIONS_DIR is given.`,
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := newMigrationService()
		if err != nil {
			return err
		}

		applied, err := svc.ApplyMigrations(context.Background())
		if applied > 0 {
			fmt.Printf("Applied %d migration(s).\n", applied)
		}
		if err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		if applied == 0 {
			fmt.Println("No pending migrations.")
		}
		return nil
	},
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show migration status",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := newMigrationService()
		if err != nil {
			return err
		}

		all, err := svc.GetMigrationStatus(context.Background())
		if err != nil {
			return fmt.Errorf("failed to get migration status: %w", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "VERSION\tNAME\tSTATUS\tAPPLIED AT")
		modified := 0
		for _, m := range all {
			appliedAt := "-"
			if m.AppliedAt != nil {
				appliedAt = m.AppliedAt.Format("2006-01-02 15:04:05")
			}
			if m.Status == domain.MigrationStatusModified {
				modified++
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", m.Version, m.Name, m.Status, appliedAt)
		}
		if err := w.Flush(); err != nil {
			return fmt.Errorf("failed to flush output: %w", err)
		}
		if modified > 0 {
			return fmt.Errorf("%w: %d file(s)", domain.ErrMigrationModified, modified)
		}
		return nil
	},
}

// migrationFiles は --dir、MIGRATIONS_DIR、埋め込みファイルの順に参照先を決める。
func migrationFiles() fs.FS {
	dir := migrationsDir
	if dir == "" {
		dir = os.Getenv("MIGRATIONS_DIR")
	}
	if dir == "" {
		return migrations.FS
	}
	return os.DirFS(dir)
}

// newMigrationService は DATABASE_DRIVER と DATABASE_URL だけでサービスを組み立てる。
// サーバー用の設定検証は通さない。
func newMigrationService() (*usecase.MigrationService, error) {
	cfg := &config.Config{
		DatabaseDriver: os.Getenv("DATABASE_DRIVER"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
	}
	if cfg.DatabaseDriver == "" {
		cfg.DatabaseDriver = "mysql"
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is required")
	}

	db, err := infra.NewDB(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return usecase.NewMigrationService(repository.NewMigrationRepository(db), migrationFiles()), nil
}

func init() {
	migrateCmd.PersistentFlags().StringVar(&migrationsDir, "dir", "", "directory containing {version}_{name}.sql files")
	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateStatusCmd)
}
