package repository

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"keyset-lifecycle-service/internal/domain"
)

// NamespaceModel はgorm用のモデル定義。キーセットのスコープに必要な列のみを持つ。
type NamespaceModel struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	Name      string    `gorm:"type:varchar(128);not null;uniqueIndex:uk_namespaces_name"`
	CreatedAt time.Time `gorm:"type:datetime(6);not null;autoCreateTime"`
}

// TableName はテーブル名を返す。
func (NamespaceModel) TableName() string {
	return "namespaces"
}

func (m *NamespaceModel) toDomain() *domain.Namespace {
	return &domain.Namespace{
		ID:        m.ID,
		Name:      m.Name,
		CreatedAt: m.CreatedAt,
	}
}

// NamespaceRepository はnamespaceのデータアクセスを提供する。
type NamespaceRepository struct {
	db *gorm.DB
}

// NewNamespaceRepository は新しいNamespaceRepositoryを生成する。
func NewNamespaceRepository(db *gorm.DB) *NamespaceRepository {
	return &NamespaceRepository{db: db}
}

// Create は新しいnamespaceを保存する。同名が既に存在する場合は domain.ErrNamespaceExists を返す。
func (r *NamespaceRepository) Create(ctx context.Context, name string) (*domain.Namespace, error) {
	model := &NamespaceModel{Name: name}
	if err := conn(ctx, r.db).Create(model).Error; err != nil {
		if IsDuplicateKey(err) {
			return nil, domain.ErrNamespaceExists
		}
		slog.ErrorContext(ctx, "failed to create namespace",
			"operation", "create_namespace",
			"name", name,
			"error", err,
		)
		return nil, err
	}
	return model.toDomain(), nil
}

// FindByID は指定されたIDのnamespaceを取得する。存在しない場合は (nil, nil) を返す。
func (r *NamespaceRepository) FindByID(ctx context.Context, id int64) (*domain.Namespace, error) {
	var model NamespaceModel
	err := conn(ctx, r.db).Where("id = ?", id).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		slog.ErrorContext(ctx, "failed to find namespace",
			"operation", "find_namespace_by_id",
			"namespace_id", id,
			"error", err,
		)
		return nil, err
	}
	return model.toDomain(), nil
}
