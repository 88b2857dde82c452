// Package event はキーセットのライフサイクルイベントの配信を提供する。
// 配信はコミット後に行われ、失敗しても確定済みの操作は取り消されない。
package event

import (
	"context"
	"time"

	"keyset-lifecycle-service/internal/domain"
	"keyset-lifecycle-service/internal/middleware"
)

// Publisher はライフサイクルイベントの配信先。
type Publisher interface {
	Publish(ctx context.Context, ev domain.Event)
}

// Multi は複数のPublisherに順に配信する。
type Multi []Publisher

// Publish は全てのPublisherに配信する。
func (m Multi) Publish(ctx context.Context, ev domain.Event) {
	for _, p := range m {
		p.Publish(ctx, ev)
	}
}

// AuditPublisher はイベントごとに監査ログを出力する。
type AuditPublisher struct{}

// Publish は監査ログを1行出力する。
func (AuditPublisher) Publish(ctx context.Context, ev domain.Event) {
	middleware.WriteAuditLog(ctx, middleware.AuditLog{
		Operation:   Topic(ev.Kind),
		NamespaceID: ev.NamespaceID,
		KeysetID:    ev.KeysetID,
		Result:      "success",
		Timestamp:   ev.OccurredAt.UTC().Format(time.RFC3339),
	})
}

// Discard はイベントを捨てるPublisher。
type Discard struct{}

// Publish は何もしない。
func (Discard) Publish(context.Context, domain.Event) {}
