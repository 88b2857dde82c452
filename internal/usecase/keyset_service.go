// Package usecase はアプリケーションのユースケースを実装する。
package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"keyset-lifecycle-service/internal/domain"
	"keyset-lifecycle-service/internal/keystore"
)

// KeysetRepository はキーセットメタデータのデータアクセスのインターフェース。
// Find系は存在しない場合 (nil, nil) を返す。
type KeysetRepository interface {
	NamespaceExists(ctx context.Context, namespaceID int64) (bool, error)
	ExistsByName(ctx context.Context, namespaceID int64, name, keysetName string) (bool, error)
	FindByID(ctx context.Context, id string) (*domain.KeysetMetadata, error)
	FindByIDForUpdate(ctx context.Context, id string) (*domain.KeysetMetadata, error)
	FindByNamespaceAndID(ctx context.Context, namespaceID int64, id string) (*domain.KeysetMetadata, error)
	Search(ctx context.Context, q domain.KeysetQuery) (*domain.KeysetPage, error)
	Create(ctx context.Context, m *domain.KeysetMetadata) error
	UpdateDetails(ctx context.Context, id, description string, tags []string, updatedAt time.Time) error
	UpdateState(ctx context.Context, id string, state domain.KeysetState, updatedAt time.Time) error
	Touch(ctx context.Context, id string, updatedAt time.Time) error
	Delete(ctx context.Context, id string) error
}

// TxManager はメタデータのトランザクション境界のインターフェース。
type TxManager interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// KeysetStore は物理キーセットの保存先のインターフェース。
type KeysetStore interface {
	Create(ctx context.Context, provider, wrappingKeyID string, def keystore.Definition) (*keystore.Keyset, error)
	Read(ctx context.Context, name string) (*keystore.Keyset, error)
	Rotate(ctx context.Context, ks *keystore.Keyset) error
	Remove(ctx context.Context, name string) error
}

// EventPublisher はライフサイクルイベントの配信先のインターフェース。
type EventPublisher interface {
	Publish(ctx context.Context, ev domain.Event)
}

// KeysetServiceConfig は新規キーセットのラッピング設定。
type KeysetServiceConfig struct {
	Provider      string
	WrappingKeyID string
	Clock         clock.Clock
}

// KeysetService はキーセットのライフサイクルを管理する。
// プロセス内のロックは持たず、直列化はメタデータのトランザクションと一意制約に任せる。
type KeysetService struct {
	repo          KeysetRepository
	tx            TxManager
	store         KeysetStore
	events        EventPublisher
	clock         clock.Clock
	provider      string
	wrappingKeyID string
}

// NewKeysetService は新しいKeysetServiceを生成する。
func NewKeysetService(repo KeysetRepository, tx TxManager, store KeysetStore, events EventPublisher, cfg KeysetServiceConfig) *KeysetService {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &KeysetService{
		repo:          repo,
		tx:            tx,
		store:         store,
		events:        events,
		clock:         clk,
		provider:      cfg.Provider,
		wrappingKeyID: cfg.WrappingKeyID,
	}
}

// Find は条件に一致するメタデータをページ単位で返す。
func (s *KeysetService) Find(ctx context.Context, q domain.KeysetQuery) (*domain.KeysetPage, error) {
	q, err := q.Normalize()
	if err != nil {
		return nil, err
	}
	page, err := s.repo.Search(ctx, q)
	if err != nil {
		return nil, s.fail("find", err)
	}
	return page, nil
}

// Get はIDでメタデータを返す。存在しない場合は (nil, nil) を返す。
func (s *KeysetService) Get(ctx context.Context, id string) (*domain.KeysetMetadata, error) {
	m, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, s.fail("get", err)
	}
	return m, nil
}

// GetInNamespace はnamespace内のIDでメタデータを返す。存在しない場合は (nil, nil) を返す。
func (s *KeysetService) GetInNamespace(ctx context.Context, namespaceID int64, id string) (*domain.KeysetMetadata, error) {
	m, err := s.repo.FindByNamespaceAndID(ctx, namespaceID, id)
	if err != nil {
		return nil, s.fail("get", err)
	}
	return m, nil
}

// Operations は暗号操作用のハンドルを返す。Active でない場合は鍵素材に触れずに失敗する。
func (s *KeysetService) Operations(ctx context.Context, id string) (*keystore.Operations, error) {
	m, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.operationsFor(m)
}

// OperationsInNamespace はnamespace内のキーセットの暗号操作用のハンドルを返す。
func (s *KeysetService) OperationsInNamespace(ctx context.Context, namespaceID int64, id string) (*keystore.Operations, error) {
	m, err := s.GetInNamespace(ctx, namespaceID, id)
	if err != nil {
		return nil, err
	}
	return s.operationsFor(m)
}

func (s *KeysetService) operationsFor(m *domain.KeysetMetadata) (*keystore.Operations, error) {
	if m == nil {
		return nil, domain.ErrKeysetNotFound
	}
	if !m.IsActive() {
		return nil, domain.ErrKeysetInactive
	}
	return keystore.NewOperations(s.store, m.KeysetName, m.Algorithm), nil
}

// Create は鍵素材とメタデータを生成する。
// メタデータの保存に失敗した場合は生成した鍵素材を削除してから返す。
func (s *KeysetService) Create(ctx context.Context, def domain.KeysetMetadataDefinition) (*domain.KeysetMetadata, error) {
	def, err := domain.NewKeysetMetadataDefinition(def.NamespaceID, def.Algorithm, def.Name, def.Description, def.Tags, def.RotationInterval)
	if err != nil {
		return nil, err
	}
	keysetName := def.KeysetName()

	var (
		created         *domain.KeysetMetadata
		materialCreated bool
	)
	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		ok, err := s.repo.NamespaceExists(ctx, def.NamespaceID)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrNamespaceNotFound
		}

		exists, err := s.repo.ExistsByName(ctx, def.NamespaceID, def.Name, keysetName)
		if err != nil {
			return err
		}
		if exists {
			return domain.ErrKeysetExists
		}

		_, err = s.store.Create(ctx, s.provider, s.wrappingKeyID, keystore.Definition{
			Name:             keysetName,
			Algorithm:        def.Algorithm,
			RotationInterval: def.RotationInterval,
		})
		if err != nil {
			if errors.Is(err, keystore.ErrKeysetExists) {
				slog.WarnContext(ctx, "keyset material exists without metadata",
					"keyset_name", keysetName,
				)
				return domain.ErrKeysetExists
			}
			return fmt.Errorf("creating keyset material: %w", err)
		}
		materialCreated = true

		now := s.clock.Now().UTC()
		m := &domain.KeysetMetadata{
			ID:          uuid.NewString(),
			NamespaceID: def.NamespaceID,
			KeysetName:  keysetName,
			Algorithm:   def.Algorithm,
			State:       domain.KeysetStateActive,
			Name:        def.Name,
			Description: def.Description,
			Tags:        def.Tags,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.repo.Create(ctx, m); err != nil {
			return err
		}
		created = m
		return nil
	})
	if err != nil {
		if materialCreated {
			s.removeOrphan(ctx, keysetName)
		}
		return nil, s.fail("create", err)
	}

	s.publish(ctx, domain.EventCreated, created)
	slog.InfoContext(ctx, "keyset created",
		"event", "keyset.created",
		"keyset_id", created.ID,
		"namespace_id", created.NamespaceID,
		"keyset_name", created.KeysetName,
		"algorithm", created.Algorithm,
	)

	fresh, err := s.repo.FindByID(ctx, created.ID)
	if err != nil || fresh == nil {
		return created, nil
	}
	return fresh, nil
}

// removeOrphan はメタデータを保存できなかった鍵素材を削除する。
// 同じトランザクションで巻き戻された場合は既に存在しない。
func (s *KeysetService) removeOrphan(ctx context.Context, keysetName string) {
	ctx = context.WithoutCancel(ctx)
	if err := s.store.Remove(ctx, keysetName); err != nil && !errors.Is(err, keystore.ErrKeysetNotFound) {
		slog.ErrorContext(ctx, "failed to remove orphaned keyset material",
			"operation", "create",
			"keyset_name", keysetName,
			"error", err,
		)
	}
}

// Update は説明とタグを置き換える。Active でなければ失敗する。イベントは発行しない。
func (s *KeysetService) Update(ctx context.Context, id, description string, tags []string) (*domain.KeysetMetadata, error) {
	description, tags, err := domain.NormalizeDetails(description, tags)
	if err != nil {
		return nil, err
	}

	var updated *domain.KeysetMetadata
	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		m, err := s.lockActive(ctx, id)
		if err != nil {
			return err
		}
		now := s.clock.Now().UTC()
		if err := s.repo.UpdateDetails(ctx, id, description, tags, now); err != nil {
			return err
		}
		m.Description, m.Tags, m.UpdatedAt = description, tags, now
		updated = m
		return nil
	})
	if err != nil {
		return nil, s.fail("update", err)
	}
	return updated, nil
}

// Transition は状態を target に変更する。Destroyed へは Delete でのみ到達できる。
// 現在の状態と同じ target は何もせずに現在のメタデータを返す。
func (s *KeysetService) Transition(ctx context.Context, id string, target domain.KeysetState) (*domain.KeysetMetadata, error) {
	target, err := domain.ParseKeysetState(string(target))
	if err != nil {
		return nil, err
	}
	if target == domain.KeysetStateDestroyed {
		return nil, &domain.ValidationError{Field: "state", Reason: "destroyed is only reachable through delete"}
	}

	var (
		result  *domain.KeysetMetadata
		changed bool
	)
	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		m, err := s.repo.FindByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if m == nil {
			return domain.ErrKeysetNotFound
		}

		noop, err := domain.Transition(m.State, target)
		if err != nil {
			return err
		}
		if noop {
			result = m
			return nil
		}

		now := s.clock.Now().UTC()
		if err := s.repo.UpdateState(ctx, id, target, now); err != nil {
			return err
		}
		m.State, m.UpdatedAt = target, now
		result, changed = m, true
		return nil
	})
	if err != nil {
		return nil, s.fail("transition", err)
	}
	if !changed {
		return result, nil
	}

	kind, _ := domain.EventForTarget(target)
	s.publish(ctx, kind, result)
	slog.InfoContext(ctx, "keyset state changed",
		"event", "keyset."+string(kind),
		"keyset_id", result.ID,
		"namespace_id", result.NamespaceID,
		"state", result.State,
	)
	return result, nil
}

// Rotate は新しい主鍵を追加する。鍵素材のローテーションが成功してからメタデータの更新日時を進める。
func (s *KeysetService) Rotate(ctx context.Context, id string) (*domain.KeysetMetadata, error) {
	return s.rotate(ctx, id, false)
}

// RotateIfDue はローテーション間隔を過ぎている場合のみ Rotate する。
// 期限前、または Active でなくなっていた場合は (nil, nil) を返す。
func (s *KeysetService) RotateIfDue(ctx context.Context, id string) (*domain.KeysetMetadata, error) {
	return s.rotate(ctx, id, true)
}

func (s *KeysetService) rotate(ctx context.Context, id string, onlyIfDue bool) (*domain.KeysetMetadata, error) {
	var (
		rotated *domain.KeysetMetadata
		primary uint32
	)
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		m, err := s.lockActive(ctx, id)
		if onlyIfDue && errors.Is(err, domain.ErrKeysetInactive) {
			return nil
		}
		if err != nil {
			return err
		}

		ks, err := s.store.Read(ctx, m.KeysetName)
		if err != nil {
			return fmt.Errorf("reading keyset material: %w", err)
		}
		if onlyIfDue && !ks.RotationDue(s.clock.Now().UTC()) {
			return nil
		}
		if err := s.store.Rotate(ctx, ks); err != nil {
			return fmt.Errorf("rotating keyset material: %w", err)
		}
		if ks.Handle() != nil {
			primary = ks.PrimaryKeyID()
		}

		now := s.clock.Now().UTC()
		if err := s.repo.Touch(ctx, id, now); err != nil {
			return err
		}
		m.UpdatedAt = now
		rotated = m
		return nil
	})
	if err != nil {
		return nil, s.fail("rotate", err)
	}
	if rotated == nil {
		return nil, nil
	}

	s.publish(ctx, domain.EventRotated, rotated)
	slog.InfoContext(ctx, "keyset rotated",
		"event", "keyset.rotated",
		"keyset_id", rotated.ID,
		"namespace_id", rotated.NamespaceID,
		"primary_key_id", primary,
		"scheduled", onlyIfDue,
	)
	return rotated, nil
}

// Delete はメタデータを削除した後に鍵素材を削除する。取り消しはできない。
// 戻り値は削除時点のスナップショットで、State は Destroyed になる。
func (s *KeysetService) Delete(ctx context.Context, id string) (*domain.KeysetMetadata, error) {
	return s.deleteWhere(ctx, id, nil)
}

// DeletePendingDestruction は cutoff より前から PendingDestruction のままのキーセットを削除する。
// 条件を満たさなくなっていた場合は (nil, nil) を返す。
func (s *KeysetService) DeletePendingDestruction(ctx context.Context, id string, cutoff time.Time) (*domain.KeysetMetadata, error) {
	return s.deleteWhere(ctx, id, func(m *domain.KeysetMetadata) bool {
		return m.State == domain.KeysetStatePendingDestruction && m.UpdatedAt.Before(cutoff)
	})
}

func (s *KeysetService) deleteWhere(ctx context.Context, id string, eligible func(*domain.KeysetMetadata) bool) (*domain.KeysetMetadata, error) {
	var removed *domain.KeysetMetadata
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		m, err := s.repo.FindByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if m == nil {
			return domain.ErrKeysetNotFound
		}
		if eligible != nil && !eligible(m) {
			return nil
		}
		if err := s.repo.Delete(ctx, id); err != nil {
			return err
		}
		removed = m
		return nil
	})
	if err != nil {
		return nil, s.fail("delete", err)
	}
	if removed == nil {
		return nil, nil
	}

	// メタデータの削除は確定済みなので、鍵素材の削除に失敗しても Destroyed を発行する。
	removeErr := s.store.Remove(ctx, removed.KeysetName)
	if errors.Is(removeErr, keystore.ErrKeysetNotFound) {
		slog.WarnContext(ctx, "keyset material already absent",
			"keyset_id", removed.ID,
			"keyset_name", removed.KeysetName,
		)
		removeErr = nil
	}

	now := s.clock.Now().UTC()
	removed.State = domain.KeysetStateDestroyed
	removed.UpdatedAt = now
	removed.DestroyedAt = &now
	s.publish(ctx, domain.EventDestroyed, removed)

	if removeErr != nil {
		slog.ErrorContext(ctx, "failed to remove keyset material after metadata deletion",
			"operation", "delete",
			"keyset_id", removed.ID,
			"keyset_name", removed.KeysetName,
			"error", removeErr,
		)
		return nil, domain.NewManagementError("delete", fmt.Errorf("removing keyset material: %w", removeErr))
	}
	slog.InfoContext(ctx, "keyset destroyed",
		"event", "keyset.destroyed",
		"keyset_id", removed.ID,
		"namespace_id", removed.NamespaceID,
	)
	return removed, nil
}

// lockActive は行ロックを取ってメタデータを読み、Active であることを確認する。
func (s *KeysetService) lockActive(ctx context.Context, id string) (*domain.KeysetMetadata, error) {
	m, err := s.repo.FindByIDForUpdate(ctx, id)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, domain.ErrKeysetNotFound
	}
	if !m.IsActive() {
		return nil, domain.ErrKeysetInactive
	}
	return m, nil
}

func (s *KeysetService) publish(ctx context.Context, kind domain.EventKind, m *domain.KeysetMetadata) {
	s.events.Publish(ctx, domain.Event{
		Kind:        kind,
		KeysetID:    m.ID,
		NamespaceID: m.NamespaceID,
		OccurredAt:  s.clock.Now().UTC(),
	})
}

var expectedErrors = []error{
	domain.ErrKeysetNotFound,
	domain.ErrKeysetInactive,
	domain.ErrKeysetExists,
	domain.ErrTransition,
	domain.ErrInvalidArgument,
	domain.ErrNamespaceNotFound,
	domain.ErrManagement,
}

// fail は想定済みのエラーはそのまま返し、それ以外を ManagementError で包む。
func (s *KeysetService) fail(op string, err error) error {
	for _, expected := range expectedErrors {
		if errors.Is(err, expected) {
			return err
		}
	}
	return domain.NewManagementError(op, err)
}
