package domain

// allowedTransitions は有向辺の遷移表。Destroyed への辺は delete 専用であり、
// Transition では PendingDestruction -> Destroyed も受け付けない。
var allowedTransitions = map[KeysetState][]KeysetState{
	KeysetStateActive:             {KeysetStateInactive, KeysetStatePendingDestruction},
	KeysetStateInactive:           {KeysetStateActive, KeysetStatePendingDestruction},
	KeysetStatePendingDestruction: {KeysetStateActive, KeysetStateDestroyed},
	KeysetStateDestroyed:          nil,
}

// CanTransition は current から target への辺が遷移表に存在するかを返す。
func CanTransition(current, target KeysetState) bool {
	for _, s := range allowedTransitions[current] {
		if s == target {
			return true
		}
	}
	return false
}

// Transition は状態遷移を検証する。
// 戻り値 noop が true の場合、current == target で変更不要であることを示す。
// current が Destroyed の場合は target によらず常に失敗する。
func Transition(current, target KeysetState) (noop bool, err error) {
	switch {
	case current == KeysetStateDestroyed:
		return false, &TransitionError{Current: current, Target: target}
	case current == target:
		return true, nil
	case CanTransition(current, target):
		return false, nil
	default:
		return false, &TransitionError{Current: current, Target: target}
	}
}
