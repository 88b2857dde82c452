package domain

import "time"

// Namespace はテナントのスコープ。キーセットは必ずいずれか1つの Namespace に属する。
type Namespace struct {
	ID        int64
	Name      string
	CreatedAt time.Time
}
