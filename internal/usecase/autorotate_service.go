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

// KeysetFinder はメタデータをページ単位で検索する。KeysetService が満たす。
type KeysetFinder interface {
	Find(ctx context.Context, q domain.KeysetQuery) (*domain.KeysetPage, error)
}

// DueRotator は期限を過ぎたキーセットをローテーションする。KeysetService が満たす。
type DueRotator interface {
	RotateIfDue(ctx context.Context, id string) (*domain.KeysetMetadata, error)
}

// AutoRotateService は Active なキーセットを巡回し、ローテーション間隔を過ぎたものを更新する。
type AutoRotateService struct {
	finder   KeysetFinder
	rotator  DueRotator
	clock    clock.Clock
	interval time.Duration
}

// NewAutoRotateService は新しいAutoRotateServiceを生成する。
func NewAutoRotateService(finder KeysetFinder, rotator DueRotator, clk clock.Clock, interval time.Duration) *AutoRotateService {
	if clk == nil {
		clk = clock.New()
	}
	return &AutoRotateService{
		finder:   finder,
		rotator:  rotator,
		clock:    clk,
		interval: interval,
	}
}

// RotateOnce は Active なキーセットを作成日時順に1周し、ローテーションした件数を返す。
// 個別の失敗はログに残して次に進み、最初のエラーを返す。
func (s *AutoRotateService) RotateOnce(ctx context.Context) (int, error) {
	var (
		rotated  int
		firstErr error
	)
	for page := 1; page <= domain.MaxPage; page++ {
		// 作成日時はローテーションで変わらないので、巡回中にページがずれない
		result, err := s.finder.Find(ctx, domain.KeysetQuery{
			State:    domain.KeysetStateActive,
			Sort:     domain.SortByDate,
			Page:     page,
			PageSize: domain.MaxPageSize,
		})
		if err != nil {
			return rotated, fmt.Errorf("listing active keysets: %w", err)
		}

		for _, m := range result.Items {
			r, err := s.rotator.RotateIfDue(ctx, m.ID)
			if errors.Is(err, domain.ErrKeysetNotFound) || errors.Is(err, domain.ErrKeysetInactive) {
				continue
			}
			if err != nil {
				slog.ErrorContext(ctx, "failed to rotate keyset",
					"operation", "auto_rotate",
					"keyset_id", m.ID,
					"error", err,
				)
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			if r != nil {
				rotated++
			}
		}

		if len(result.Items) == 0 || int64(page*domain.MaxPageSize) >= result.Total {
			break
		}
	}
	if rotated > 0 {
		slog.InfoContext(ctx, "rotated keysets past their rotation interval", "count", rotated)
	}
	return rotated, firstErr
}

// Run は ctx が終わるまで interval ごとに RotateOnce を実行する。
func (s *AutoRotateService) Run(ctx context.Context) error {
	ticker := s.clock.Ticker(s.interval)
	defer ticker.Stop()

	slog.InfoContext(ctx, "keyset auto rotation started", "interval", s.interval.String())
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.RotateOnce(ctx); err != nil {
				slog.ErrorContext(ctx, "keyset auto rotation run failed", "error", err)
			}
		}
	}
}
