// Package repository はデータアクセス層の実装を提供する。
package repository

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"keyset-lifecycle-service/internal/domain"
)

// KeysetMetadataModel はgorm用のモデル定義。
type KeysetMetadataModel struct {
	ID          string    `gorm:"type:char(36);primaryKey"`
	NamespaceID int64     `gorm:"not null;uniqueIndex:uk_namespace_name;index:idx_namespace_state"`
	Name        string    `gorm:"type:varchar(128);not null;uniqueIndex:uk_namespace_name"`
	KeysetName  string    `gorm:"type:varchar(96);not null;uniqueIndex:uk_keyset_name"`
	Algorithm   string    `gorm:"type:varchar(32);not null"`
	State       string    `gorm:"type:varchar(32);not null;default:'active';index:idx_namespace_state"`
	Description string    `gorm:"type:varchar(1024);not null;default:''"`
	Tags        []string  `gorm:"type:text;serializer:json"`
	CreatedAt   time.Time `gorm:"type:datetime(6);not null;autoCreateTime:false"`
	UpdatedAt   time.Time `gorm:"type:datetime(6);not null;autoUpdateTime:false;index:idx_updated_at"`

	Namespace NamespaceModel `gorm:"foreignKey:NamespaceID;constraint:OnDelete:RESTRICT"`
}

// TableName はテーブル名を返す。
func (KeysetMetadataModel) TableName() string {
	return "keyset_metadata"
}

// BeforeCreate はレコード作成前にUUIDを生成する。
func (m *KeysetMetadataModel) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	return nil
}

// toDomain はモデルをドメインエンティティに変換する。
func (m *KeysetMetadataModel) toDomain() *domain.KeysetMetadata {
	return &domain.KeysetMetadata{
		ID:          m.ID,
		NamespaceID: m.NamespaceID,
		KeysetName:  m.KeysetName,
		Algorithm:   domain.Algorithm(m.Algorithm),
		State:       domain.KeysetState(m.State),
		Name:        m.Name,
		Description: m.Description,
		Tags:        m.Tags,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

// KeysetRepository はキーセットメタデータのデータアクセスを提供する。
type KeysetRepository struct {
	db *gorm.DB
}

// NewKeysetRepository は新しいKeysetRepositoryを生成する。
func NewKeysetRepository(db *gorm.DB) *KeysetRepository {
	return &KeysetRepository{db: db}
}

// NamespaceExists は指定されたnamespaceが存在するか確認する。
func (r *KeysetRepository) NamespaceExists(ctx context.Context, namespaceID int64) (bool, error) {
	var count int64
	err := conn(ctx, r.db).
		Model(&NamespaceModel{}).
		Where("id = ?", namespaceID).
		Count(&count).Error
	if err != nil {
		slog.ErrorContext(ctx, "failed to count namespaces",
			"operation", "namespace_exists",
			"namespace_id", namespaceID,
			"error", err,
		)
		return false, err
	}
	return count > 0, nil
}

// ExistsByName は (namespace, 表示名) または導出済みキーセット名が既に使われているか確認する。
func (r *KeysetRepository) ExistsByName(ctx context.Context, namespaceID int64, name, keysetName string) (bool, error) {
	var count int64
	err := conn(ctx, r.db).
		Model(&KeysetMetadataModel{}).
		Where("(namespace_id = ? AND name = ?) OR keyset_name = ?", namespaceID, name, keysetName).
		Count(&count).Error
	if err != nil {
		slog.ErrorContext(ctx, "failed to count keysets by name",
			"operation", "exists_by_name",
			"namespace_id", namespaceID,
			"name", name,
			"error", err,
		)
		return false, err
	}
	return count > 0, nil
}

// FindByID は指定されたIDのメタデータを取得する。存在しない場合は (nil, nil) を返す。
func (r *KeysetRepository) FindByID(ctx context.Context, id string) (*domain.KeysetMetadata, error) {
	return r.first(ctx, "find_by_id", conn(ctx, r.db).Where("id = ?", id))
}

// FindByIDForUpdate はトランザクション内で行ロックを取得してメタデータを取得する。
// SQLiteでは行ロックが無視され、データベース単位のロックで直列化される。
func (r *KeysetRepository) FindByIDForUpdate(ctx context.Context, id string) (*domain.KeysetMetadata, error) {
	q := conn(ctx, r.db).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id)
	return r.first(ctx, "find_by_id_for_update", q)
}

// FindByNamespaceAndID はnamespace内の指定されたIDのメタデータを取得する。
func (r *KeysetRepository) FindByNamespaceAndID(ctx context.Context, namespaceID int64, id string) (*domain.KeysetMetadata, error) {
	q := conn(ctx, r.db).Where("namespace_id = ? AND id = ?", namespaceID, id)
	return r.first(ctx, "find_by_namespace_and_id", q)
}

func (r *KeysetRepository) first(ctx context.Context, operation string, q *gorm.DB) (*domain.KeysetMetadata, error) {
	var model KeysetMetadataModel
	if err := q.First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		slog.ErrorContext(ctx, "failed to find keyset metadata",
			"operation", operation,
			"error", err,
		)
		return nil, err
	}
	return model.toDomain(), nil
}

var sortColumns = map[domain.SortKey]string{
	domain.SortByUpdated: "updated_at",
	domain.SortByName:    "name",
	domain.SortByState:   "state",
	domain.SortByDate:    "created_at",
}

var likeEscaper = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")

// Search は条件に一致するメタデータをページ単位で取得する。q は正規化済みであること。
func (r *KeysetRepository) Search(ctx context.Context, q domain.KeysetQuery) (*domain.KeysetPage, error) {
	base := conn(ctx, r.db).Model(&KeysetMetadataModel{})
	if q.NamespaceID != 0 {
		base = base.Where("namespace_id = ?", q.NamespaceID)
	}
	if q.ID != "" {
		base = base.Where("id = ?", q.ID)
	}
	if q.Algorithm != "" {
		base = base.Where("algorithm = ?", string(q.Algorithm))
	}
	if q.State != "" {
		base = base.Where("state = ?", string(q.State))
	}
	if q.Term != "" {
		like := "%" + likeEscaper.Replace(strings.ToLower(q.Term)) + "%"
		base = base.Where(
			"LOWER(name) LIKE ? ESCAPE '!' OR LOWER(algorithm) LIKE ? ESCAPE '!' OR LOWER(description) LIKE ? ESCAPE '!' OR LOWER(tags) LIKE ? ESCAPE '!'",
			like, like, like, like,
		)
	}
	base = base.Session(&gorm.Session{})

	var total int64
	if err := base.Count(&total).Error; err != nil {
		slog.ErrorContext(ctx, "failed to count keyset metadata",
			"operation", "search",
			"error", err,
		)
		return nil, err
	}

	column, ok := sortColumns[q.Sort]
	if !ok {
		column = sortColumns[domain.SortByUpdated]
	}

	var models []KeysetMetadataModel
	err := base.
		Order(clause.OrderByColumn{Column: clause.Column{Name: column}, Desc: q.Descending}).
		Order("id ASC").
		Offset(q.Offset()).
		Limit(q.PageSize).
		Find(&models).Error
	if err != nil {
		slog.ErrorContext(ctx, "failed to search keyset metadata",
			"operation", "search",
			"error", err,
		)
		return nil, err
	}

	items := make([]*domain.KeysetMetadata, len(models))
	for i := range models {
		items[i] = models[i].toDomain()
	}
	return &domain.KeysetPage{
		Items:    items,
		Total:    total,
		Page:     q.Page,
		PageSize: q.PageSize,
	}, nil
}

// Create は新しいメタデータを保存する。一意制約違反は domain.ErrKeysetExists、
// namespace が存在しない場合は domain.ErrNamespaceNotFound を返す。
func (r *KeysetRepository) Create(ctx context.Context, m *domain.KeysetMetadata) error {
	model := &KeysetMetadataModel{
		ID:          m.ID,
		NamespaceID: m.NamespaceID,
		Name:        m.Name,
		KeysetName:  m.KeysetName,
		Algorithm:   string(m.Algorithm),
		State:       string(m.State),
		Description: m.Description,
		Tags:        m.Tags,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
	if err := conn(ctx, r.db).Omit("Namespace").Create(model).Error; err != nil {
		if IsDuplicateKey(err) {
			return domain.ErrKeysetExists
		}
		if IsForeignKeyViolation(err) {
			return domain.ErrNamespaceNotFound
		}
		slog.ErrorContext(ctx, "failed to create keyset metadata",
			"operation", "create",
			"namespace_id", m.NamespaceID,
			"keyset_name", m.KeysetName,
			"error", err,
		)
		return err
	}
	m.ID = model.ID
	return nil
}

// UpdateDetails は説明とタグを置き換える。タグが空の場合はNULLにする。
func (r *KeysetRepository) UpdateDetails(ctx context.Context, id, description string, tags []string, updatedAt time.Time) error {
	err := conn(ctx, r.db).
		Model(&KeysetMetadataModel{ID: id}).
		Select("description", "tags", "updated_at").
		Updates(&KeysetMetadataModel{
			Description: description,
			Tags:        tags,
			UpdatedAt:   updatedAt,
		}).Error
	if err != nil {
		slog.ErrorContext(ctx, "failed to update keyset details",
			"operation", "update_details",
			"id", id,
			"error", err,
		)
		return err
	}
	return nil
}

// UpdateState は状態を更新する。
func (r *KeysetRepository) UpdateState(ctx context.Context, id string, state domain.KeysetState, updatedAt time.Time) error {
	return r.update(ctx, "update_state", id, map[string]any{
		"state":      string(state),
		"updated_at": updatedAt,
	})
}

// Touch は更新日時のみを更新する。
func (r *KeysetRepository) Touch(ctx context.Context, id string, updatedAt time.Time) error {
	return r.update(ctx, "touch", id, map[string]any{
		"updated_at": updatedAt,
	})
}

// update は行の存在を確認済みである前提で更新する。
// MySQLは値が変わらない行をRowsAffectedに数えないため、件数は見ない。
func (r *KeysetRepository) update(ctx context.Context, operation, id string, values map[string]any) error {
	err := conn(ctx, r.db).
		Model(&KeysetMetadataModel{}).
		Where("id = ?", id).
		Updates(values).Error
	if err != nil {
		slog.ErrorContext(ctx, "failed to update keyset metadata",
			"operation", operation,
			"id", id,
			"error", err,
		)
		return err
	}
	return nil
}

// Delete は指定されたIDのメタデータを物理削除する。
func (r *KeysetRepository) Delete(ctx context.Context, id string) error {
	res := conn(ctx, r.db).Where("id = ?", id).Delete(&KeysetMetadataModel{})
	if res.Error != nil {
		slog.ErrorContext(ctx, "failed to delete keyset metadata",
			"operation", "delete",
			"id", id,
			"error", res.Error,
		)
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrKeysetNotFound
	}
	return nil
}

// FindPendingDestructionBefore は cutoff より前に破棄予定になったメタデータを古い順に取得する。
func (r *KeysetRepository) FindPendingDestructionBefore(ctx context.Context, cutoff time.Time, limit int) ([]*domain.KeysetMetadata, error) {
	var models []KeysetMetadataModel
	err := conn(ctx, r.db).
		Where("state = ? AND updated_at < ?", string(domain.KeysetStatePendingDestruction), cutoff).
		Order("updated_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		slog.ErrorContext(ctx, "failed to find keysets pending destruction",
			"operation", "find_pending_destruction_before",
			"cutoff", cutoff,
			"error", err,
		)
		return nil, err
	}

	items := make([]*domain.KeysetMetadata, len(models))
	for i := range models {
		items[i] = models[i].toDomain()
	}
	return items, nil
}
