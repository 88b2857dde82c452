package event

import (
	"context"
	"log/slog"

	"github.com/juju/pubsub/v2"

	"keyset-lifecycle-service/internal/domain"
)

// Topic はイベント種別のトピック名を返す。
func Topic(kind domain.EventKind) string {
	return "keyset." + string(kind)
}

// Hub はプロセス内の購読者にイベントを非同期で配信する。
type Hub struct {
	hub *pubsub.SimpleHub
}

// NewHub は新しいHubを生成する。
func NewHub() *Hub {
	return &Hub{hub: pubsub.NewSimpleHub(nil)}
}

// Publish はイベント種別のトピックにイベントを流す。購読者の処理は待たない。
func (h *Hub) Publish(ctx context.Context, ev domain.Event) {
	slog.DebugContext(ctx, "publishing keyset event",
		"event", Topic(ev.Kind),
		"keyset_id", ev.KeysetID,
	)
	_ = h.hub.Publish(Topic(ev.Kind), ev)
}

// Subscribe は kind のイベントを受け取る関数を登録し、解除用の関数を返す。
func (h *Hub) Subscribe(kind domain.EventKind, fn func(domain.Event)) func() {
	return h.hub.Subscribe(Topic(kind), func(_ string, data interface{}) {
		if ev, ok := data.(domain.Event); ok {
			fn(ev)
		}
	})
}

// SubscribeAll は全種別のイベントを受け取る関数を登録し、解除用の関数を返す。
func (h *Hub) SubscribeAll(fn func(domain.Event)) func() {
	kinds := domain.EventKinds()
	unsubs := make([]func(), 0, len(kinds))
	for _, kind := range kinds {
		unsubs = append(unsubs, h.Subscribe(kind, fn))
	}
	return func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}
}
