// Package config はアプリケーション設定の読み込みを提供する。
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config はアプリケーション設定を表す。
type Config struct {
	Port               string
	DatabaseDriver     string
	DatabaseURL        string
	GoogleCloudProject string
	LogLevel           string

	// キーセットのラッピング
	KeysetProvider      string
	KMSKeyName          string
	LocalWrappingKeyset string

	// 鍵素材の保存先
	KeysetBackend  string
	KeysetS3Bucket string
	KeysetS3Prefix string

	// 破棄予定キーセットの自動削除。Retention が0なら無効。
	PurgeRetention time.Duration
	PurgeInterval  time.Duration

	// ローテーション間隔を過ぎたキーセットを巡回する間隔。0なら無効。
	AutoRotateInterval time.Duration

	OtelEnabled      bool
	OtelEndpoint     string
	OtelServiceName  string
	OtelSamplingRate float64
}

// Load は環境変数から設定を読み込む。
func Load() (*Config, error) {
	cfg := &Config{
		Port:                getEnv("PORT", "8080"),
		DatabaseDriver:      getEnv("DATABASE_DRIVER", "mysql"),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		GoogleCloudProject:  os.Getenv("GOOGLE_CLOUD_PROJECT"),
		LogLevel:            getEnv("LOG_LEVEL", "INFO"),
		KeysetProvider:      getEnv("KEYSET_PROVIDER", "gcp-kms"),
		KMSKeyName:          os.Getenv("KMS_KEY_NAME"),
		LocalWrappingKeyset: os.Getenv("LOCAL_WRAPPING_KEYSET"),
		KeysetBackend:       getEnv("KEYSET_BACKEND", "sql"),
		KeysetS3Bucket:      os.Getenv("KEYSET_S3_BUCKET"),
		KeysetS3Prefix:      os.Getenv("KEYSET_S3_PREFIX"),
		OtelEndpoint:        getEnv("OTEL_ENDPOINT", "localhost:4317"),
		OtelServiceName:     getEnv("OTEL_SERVICE_NAME", "keyset-lifecycle-service"),
	}

	var err error
	if cfg.PurgeRetention, err = getDuration("KEYSET_PURGE_RETENTION", 0); err != nil {
		return nil, err
	}
	if cfg.PurgeInterval, err = getDuration("KEYSET_PURGE_INTERVAL", time.Hour); err != nil {
		return nil, err
	}
	if cfg.AutoRotateInterval, err = getDuration("KEYSET_AUTOROTATE_INTERVAL", 0); err != nil {
		return nil, err
	}
	if cfg.OtelEnabled, err = getBool("OTEL_ENABLED", false); err != nil {
		return nil, err
	}
	if cfg.OtelSamplingRate, err = getFloat("OTEL_SAMPLING_RATE", 1.0); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate は設定値の組み合わせを検証する。
func (c *Config) Validate() error {
	switch c.DatabaseDriver {
	case "mysql", "sqlite":
	default:
		return fmt.Errorf("DATABASE_DRIVER must be mysql or sqlite, got %q", c.DatabaseDriver)
	}
	switch c.KeysetProvider {
	case "gcp-kms":
		if c.KMSKeyName == "" {
			return fmt.Errorf("KMS_KEY_NAME is required when KEYSET_PROVIDER=gcp-kms")
		}
	case "local":
	default:
		return fmt.Errorf("KEYSET_PROVIDER must be gcp-kms or local, got %q", c.KeysetProvider)
	}
	switch c.KeysetBackend {
	case "sql", "memory":
	case "s3":
		if c.KeysetS3Bucket == "" {
			return fmt.Errorf("KEYSET_S3_BUCKET is required when KEYSET_BACKEND=s3")
		}
	default:
		return fmt.Errorf("KEYSET_BACKEND must be sql, s3 or memory, got %q", c.KeysetBackend)
	}
	if c.PurgeRetention < 0 {
		return fmt.Errorf("KEYSET_PURGE_RETENTION must not be negative")
	}
	if c.PurgeRetention > 0 && c.PurgeInterval <= 0 {
		return fmt.Errorf("KEYSET_PURGE_INTERVAL must be positive when purge is enabled")
	}
	if c.AutoRotateInterval < 0 {
		return fmt.Errorf("KEYSET_AUTOROTATE_INTERVAL must not be negative")
	}
	if c.OtelSamplingRate < 0 || c.OtelSamplingRate > 1 {
		return fmt.Errorf("OTEL_SAMPLING_RATE must be between 0 and 1, got %v", c.OtelSamplingRate)
	}
	return nil
}

// WrappingKeyID は現在のプロバイダで新規キーセットをラップする鍵のIDを返す。
func (c *Config) WrappingKeyID() string {
	if c.KeysetProvider == "local" {
		if c.LocalWrappingKeyset != "" {
			return c.LocalWrappingKeyset
		}
		return "ephemeral"
	}
	return c.KMSKeyName
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", key, err)
	}
	return d, nil
}

func getBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("parsing %s: %w", key, err)
	}
	return b, nil
}

func getFloat(key string, defaultVal float64) (float64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", key, err)
	}
	return f, nil
}
