package domain

import (
	"errors"
	"testing"
)

func TestTransition_Table(t *testing.T) {
	tests := []struct {
		current, target KeysetState
		noop            bool
		wantErr         bool
	}{
		{KeysetStateActive, KeysetStateActive, true, false},
		{KeysetStateActive, KeysetStateInactive, false, false},
		{KeysetStateActive, KeysetStatePendingDestruction, false, false},
		{KeysetStateActive, KeysetStateDestroyed, false, true},
		{KeysetStateInactive, KeysetStateActive, false, false},
		{KeysetStateInactive, KeysetStateInactive, true, false},
		{KeysetStateInactive, KeysetStatePendingDestruction, false, false},
		{KeysetStateInactive, KeysetStateDestroyed, false, true},
		{KeysetStatePendingDestruction, KeysetStateActive, false, false},
		{KeysetStatePendingDestruction, KeysetStateInactive, false, true},
		{KeysetStatePendingDestruction, KeysetStatePendingDestruction, true, false},
		{KeysetStateDestroyed, KeysetStateActive, false, true},
		{KeysetStateDestroyed, KeysetStateDestroyed, false, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.current)+"->"+string(tt.target), func(t *testing.T) {
			noop, err := Transition(tt.current, tt.target)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Transition() error = %v, wantErr %v", err, tt.wantErr)
			}
			if noop != tt.noop {
				t.Errorf("Transition() noop = %v, want %v", noop, tt.noop)
			}
			if err == nil {
				return
			}
			var te *TransitionError
			if !errors.As(err, &te) || te.Current != tt.current || te.Target != tt.target {
				t.Errorf("want TransitionError{%s,%s}, got %v", tt.current, tt.target, err)
			}
			if !errors.Is(err, ErrTransition) {
				t.Error("want errors.Is(err, ErrTransition)")
			}
		})
	}
}

func TestTransition_DestroyedIsTerminal(t *testing.T) {
	for _, target := range KeysetStates() {
		_, err := Transition(KeysetStateDestroyed, target)
		if !errors.Is(err, ErrKeysetDestroyed) {
			t.Errorf("target %s: want ErrKeysetDestroyed, got %v", target, err)
		}
	}
	if _, err := Transition(KeysetStateActive, KeysetStateInactive); errors.Is(err, ErrKeysetDestroyed) {
		t.Error("non-destroyed transition must not match ErrKeysetDestroyed")
	}
}

func TestCanTransition_PendingDestructionToDestroyed(t *testing.T) {
	// 遷移表には辺があるが Transition では受け付けない
	if !CanTransition(KeysetStatePendingDestruction, KeysetStateDestroyed) {
		t.Error("edge pending_destruction -> destroyed must exist")
	}
	if CanTransition(KeysetStateDestroyed, KeysetStateActive) {
		t.Error("destroyed must have no outgoing edges")
	}
}

func TestEventForTarget(t *testing.T) {
	tests := map[KeysetState]EventKind{
		KeysetStateActive:             EventActivated,
		KeysetStateInactive:           EventDisabled,
		KeysetStatePendingDestruction: EventRemoved,
	}
	for state, want := range tests {
		got, ok := EventForTarget(state)
		if !ok || got != want {
			t.Errorf("EventForTarget(%s) = %s, %v; want %s", state, got, ok, want)
		}
	}
	if _, ok := EventForTarget(KeysetStateDestroyed); ok {
		t.Error("destroyed has no transition event")
	}
}
