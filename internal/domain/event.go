package domain

import "time"

// EventKind はライフサイクルイベントの種類。
type EventKind string

const (
	EventCreated   EventKind = "created"
	EventRotated   EventKind = "rotated"
	EventActivated EventKind = "activated"
	EventDisabled  EventKind = "disabled"
	EventRemoved   EventKind = "removed"
	EventDestroyed EventKind = "destroyed"
)

// EventKinds は全イベント種別を返す。
func EventKinds() []EventKind {
	return []EventKind{EventCreated, EventRotated, EventActivated, EventDisabled, EventRemoved, EventDestroyed}
}

// Event はコミット後に発行されるライフサイクルイベント。
type Event struct {
	Kind        EventKind
	KeysetID    string
	NamespaceID int64
	OccurredAt  time.Time
}

// EventForTarget は遷移先の状態に対応するイベント種別を返す。
func EventForTarget(target KeysetState) (EventKind, bool) {
	switch target {
	case KeysetStateActive:
		return EventActivated, true
	case KeysetStateInactive:
		return EventDisabled, true
	case KeysetStatePendingDestruction:
		return EventRemoved, true
	default:
		return "", false
	}
}
