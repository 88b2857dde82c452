package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"

	"keyset-lifecycle-service/internal/domain"
)

// purgeBatchSize は1回の掃除で処理する最大件数。
const purgeBatchSize = 100

// PendingDestructionFinder は破棄予定キーセットの一覧を返す。
type PendingDestructionFinder interface {
	FindPendingDestructionBefore(ctx context.Context, cutoff time.Time, limit int) ([]*domain.KeysetMetadata, error)
}

// PendingDestructionDeleter は条件付きでキーセットを削除する。KeysetService が満たす。
type PendingDestructionDeleter interface {
	DeletePendingDestruction(ctx context.Context, id string, cutoff time.Time) (*domain.KeysetMetadata, error)
}

// PurgeService は保持期間を過ぎた PendingDestruction のキーセットを削除する。
type PurgeService struct {
	finder    PendingDestructionFinder
	deleter   PendingDestructionDeleter
	clock     clock.Clock
	retention time.Duration
	interval  time.Duration
}

// NewPurgeService は新しいPurgeServiceを生成する。
func NewPurgeService(finder PendingDestructionFinder, deleter PendingDestructionDeleter, clk clock.Clock, retention, interval time.Duration) *PurgeService {
	if clk == nil {
		clk = clock.New()
	}
	return &PurgeService{
		finder:    finder,
		deleter:   deleter,
		clock:     clk,
		retention: retention,
		interval:  interval,
	}
}

// PurgeOnce は対象を1バッチ削除し、削除した件数を返す。
// 個別の削除失敗はログに残して次に進み、最初のエラーを返す。
func (s *PurgeService) PurgeOnce(ctx context.Context) (int, error) {
	cutoff := s.clock.Now().UTC().Add(-s.retention)
	candidates, err := s.finder.FindPendingDestructionBefore(ctx, cutoff, purgeBatchSize)
	if err != nil {
		return 0, fmt.Errorf("listing keysets pending destruction: %w", err)
	}

	var (
		purged   int
		firstErr error
	)
	for _, m := range candidates {
		removed, err := s.deleter.DeletePendingDestruction(ctx, m.ID, cutoff)
		if errors.Is(err, domain.ErrKeysetNotFound) {
			continue
		}
		if err != nil {
			slog.ErrorContext(ctx, "failed to purge keyset",
				"operation", "purge",
				"keyset_id", m.ID,
				"error", err,
			)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if removed != nil {
			purged++
		}
	}
	if purged > 0 {
		slog.InfoContext(ctx, "purged keysets pending destruction",
			"count", purged,
			"cutoff", cutoff,
		)
	}
	return purged, firstErr
}

// Run は ctx が終わるまで interval ごとに PurgeOnce を実行する。
func (s *PurgeService) Run(ctx context.Context) error {
	ticker := s.clock.Ticker(s.interval)
	defer ticker.Stop()

	slog.InfoContext(ctx, "keyset purge started",
		"retention", s.retention.String(),
		"interval", s.interval.String(),
	)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.PurgeOnce(ctx); err != nil {
				slog.ErrorContext(ctx, "keyset purge run failed", "error", err)
			}
		}
	}
}
