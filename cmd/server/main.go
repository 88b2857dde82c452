// Package main はAPIサーバーのエントリポイント。
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/tink-crypto/tink-go/v2/tink"
	"gorm.io/gorm"

	"keyset-lifecycle-service/config"
	"keyset-lifecycle-service/internal/domain"
	"keyset-lifecycle-service/internal/event"
	"keyset-lifecycle-service/internal/handler"
	"keyset-lifecycle-service/internal/infra"
	"keyset-lifecycle-service/internal/keystore"
	"keyset-lifecycle-service/internal/repository"
	"keyset-lifecycle-service/internal/usecase"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// .envファイルを読み込む（存在しない場合は無視）
	// 既存の環境変数は上書きしない
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// トレーサー初期化（ロガー設定の前に実行）
	tp, err := infra.InitTracer(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initializing tracer: %w", err)
	}
	if tp != nil {
		defer func() {
			if err := tp.Shutdown(context.WithoutCancel(ctx)); err != nil {
				slog.Error("failed to shutdown tracer", "error", err)
			}
		}()
	}

	// トレース情報付きロガーを設定
	infra.SetupLogger(cfg)

	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is not set")
	}
	db, err := infra.NewDB(cfg)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}

	providers, closeProviders, err := newProviders(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeProviders()

	backend, err := newBackend(ctx, cfg, db)
	if err != nil {
		return err
	}

	// DI
	hub := event.NewHub()
	unsubscribe := hub.SubscribeAll(func(ev domain.Event) {
		slog.Debug("keyset event delivered",
			"event", event.Topic(ev.Kind),
			"keyset_id", ev.KeysetID,
		)
	})
	defer unsubscribe()

	keysetRepo := repository.NewKeysetRepository(db)
	store := keystore.NewTinkStore(backend, providers, nil)
	service := usecase.NewKeysetService(
		keysetRepo,
		repository.NewTxManager(db),
		store,
		event.Multi{hub, event.AuditPublisher{}},
		usecase.KeysetServiceConfig{
			Provider:      cfg.KeysetProvider,
			WrappingKeyID: cfg.WrappingKeyID(),
		},
	)
	h := handler.NewKeysetHandler(service, repository.NewNamespaceRepository(db))
	router := handler.NewRouter(h)

	if cfg.PurgeRetention > 0 {
		purge := usecase.NewPurgeService(keysetRepo, service, nil, cfg.PurgeRetention, cfg.PurgeInterval)
		go func() {
			if err := purge.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("keyset purge stopped", "error", err)
			}
		}()
	}
	if cfg.AutoRotateInterval > 0 {
		auto := usecase.NewAutoRotateService(service, service, nil, cfg.AutoRotateInterval)
		go func() {
			if err := auto.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("keyset auto rotation stopped", "error", err)
			}
		}()
	}

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		slog.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("starting server",
		"port", cfg.Port,
		"keyset_provider", cfg.KeysetProvider,
		"keyset_backend", cfg.KeysetBackend,
	)
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	slog.Info("server stopped")
	return nil
}

// newProviders は設定されたラッピングプロバイダを登録する。
func newProviders(ctx context.Context, cfg *config.Config) (*keystore.Providers, func(), error) {
	providers := keystore.NewProviders()
	switch cfg.KeysetProvider {
	case keystore.ProviderGCPKMS:
		kmsClient, err := infra.NewKMSClient(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("initializing KMS client: %w", err)
		}
		providers.Register(keystore.ProviderGCPKMS, kmsClient.WrapperFactory())
		return providers, func() {
			if err := kmsClient.Close(); err != nil {
				slog.Error("failed to close KMS client", "error", err)
			}
		}, nil
	case keystore.ProviderLocal:
		var (
			kek tink.AEAD
			err error
		)
		if cfg.LocalWrappingKeyset != "" {
			kek, err = keystore.LoadLocalWrappingKey(cfg.LocalWrappingKeyset)
		} else {
			slog.Warn("using an ephemeral wrapping key; keysets will be unreadable after restart")
			kek, err = keystore.NewEphemeralWrappingKey()
		}
		if err != nil {
			return nil, nil, fmt.Errorf("loading local wrapping key: %w", err)
		}
		providers.Register(keystore.ProviderLocal, keystore.LocalWrapper(map[string]tink.AEAD{cfg.WrappingKeyID(): kek}))
		return providers, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unsupported keyset provider %q", cfg.KeysetProvider)
	}
}

// newBackend は鍵素材の保存先を生成する。
func newBackend(ctx context.Context, cfg *config.Config, db *gorm.DB) (keystore.Backend, error) {
	switch cfg.KeysetBackend {
	case "sql":
		return repository.NewKeysetMaterialRepository(db, nil), nil
	case "s3":
		client, err := infra.NewS3Client(ctx)
		if err != nil {
			return nil, fmt.Errorf("initializing S3 client: %w", err)
		}
		backend, err := keystore.NewS3Backend(client, cfg.KeysetS3Bucket, cfg.KeysetS3Prefix)
		if err != nil {
			return nil, fmt.Errorf("initializing S3 backend: %w", err)
		}
		return backend, nil
	case "memory":
		slog.Warn("keyset material is kept in memory and lost on restart")
		return keystore.NewMemoryBackend(), nil
	default:
		return nil, fmt.Errorf("unsupported keyset backend %q", cfg.KeysetBackend)
	}
}
