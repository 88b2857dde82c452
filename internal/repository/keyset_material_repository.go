package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/benbjohnson/clock"
	"gorm.io/gorm"

	"keyset-lifecycle-service/internal/keystore"
)

// KeysetMaterialModel はラップ済みキーセットを保存するgorm用のモデル定義。
type KeysetMaterialModel struct {
	Name      string    `gorm:"type:varchar(96);primaryKey"`
	Payload   []byte    `gorm:"type:mediumblob;not null"`
	Version   int64     `gorm:"not null;default:1"`
	CreatedAt time.Time `gorm:"type:datetime(6);not null"`
	UpdatedAt time.Time `gorm:"type:datetime(6);not null"`
}

// TableName はテーブル名を返す。
func (KeysetMaterialModel) TableName() string {
	return "keyset_material"
}

// KeysetMaterialRepository はkeystore.Backendをデータベース上に実装する。
// メタデータと同じデータベースを使う場合は、context上のトランザクションに参加する。
type KeysetMaterialRepository struct {
	db    *gorm.DB
	clock clock.Clock
}

var _ keystore.Backend = (*KeysetMaterialRepository)(nil)

// NewKeysetMaterialRepository は新しいKeysetMaterialRepositoryを生成する。
// clk が nil の場合は実時間を使う。
func NewKeysetMaterialRepository(db *gorm.DB, clk clock.Clock) *KeysetMaterialRepository {
	if clk == nil {
		clk = clock.New()
	}
	return &KeysetMaterialRepository{db: db, clock: clk}
}

// Get は名前に紐づくペイロードとバージョンを取得する。
func (r *KeysetMaterialRepository) Get(ctx context.Context, name string) (*keystore.Record, error) {
	var model KeysetMaterialModel
	if err := conn(ctx, r.db).Where("name = ?", name).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("keyset %q: %w", name, keystore.ErrKeysetNotFound)
		}
		slog.ErrorContext(ctx, "failed to get keyset material",
			"operation", "get",
			"keyset_name", name,
			"error", err,
		)
		return nil, err
	}
	return &keystore.Record{
		Payload: model.Payload,
		Version: strconv.FormatInt(model.Version, 10),
	}, nil
}

// Insert は新しいペイロードをバージョン1で保存する。
func (r *KeysetMaterialRepository) Insert(ctx context.Context, name string, payload []byte) error {
	now := r.clock.Now().UTC()
	model := &KeysetMaterialModel{
		Name:      name,
		Payload:   payload,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := conn(ctx, r.db).Create(model).Error; err != nil {
		if IsDuplicateKey(err) {
			return fmt.Errorf("keyset %q: %w", name, keystore.ErrKeysetExists)
		}
		slog.ErrorContext(ctx, "failed to insert keyset material",
			"operation", "insert",
			"keyset_name", name,
			"error", err,
		)
		return err
	}
	return nil
}

// Update はバージョンが一致する場合のみペイロードを置き換え、バージョンを1つ進める。
func (r *KeysetMaterialRepository) Update(ctx context.Context, name string, payload []byte, version string) (string, error) {
	current, err := strconv.ParseInt(version, 10, 64)
	if err != nil {
		return "", fmt.Errorf("invalid keyset material version %q: %w", version, err)
	}

	res := conn(ctx, r.db).
		Model(&KeysetMaterialModel{}).
		Where("name = ? AND version = ?", name, current).
		Updates(map[string]any{
			"payload":    payload,
			"version":    gorm.Expr("version + 1"),
			"updated_at": r.clock.Now().UTC(),
		})
	if res.Error != nil {
		slog.ErrorContext(ctx, "failed to update keyset material",
			"operation", "update",
			"keyset_name", name,
			"error", res.Error,
		)
		return "", res.Error
	}
	if res.RowsAffected == 0 {
		var count int64
		if err := conn(ctx, r.db).Model(&KeysetMaterialModel{}).Where("name = ?", name).Count(&count).Error; err != nil {
			return "", err
		}
		if count == 0 {
			return "", fmt.Errorf("keyset %q: %w", name, keystore.ErrKeysetNotFound)
		}
		return "", fmt.Errorf("keyset %q at version %d: %w", name, current, keystore.ErrConflict)
	}
	return strconv.FormatInt(current+1, 10), nil
}

// Delete は名前に紐づくペイロードを削除する。
func (r *KeysetMaterialRepository) Delete(ctx context.Context, name string) error {
	res := conn(ctx, r.db).Where("name = ?", name).Delete(&KeysetMaterialModel{})
	if res.Error != nil {
		slog.ErrorContext(ctx, "failed to delete keyset material",
			"operation", "delete",
			"keyset_name", name,
			"error", res.Error,
		)
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("keyset %q: %w", name, keystore.ErrKeysetNotFound)
	}
	return nil
}
