package domain

import (
	"fmt"
	"strings"
)

// SortKey は検索結果の並び順のキー。
type SortKey string

const (
	SortByUpdated SortKey = "updated"
	SortByName    SortKey = "name"
	SortByState   SortKey = "state"
	SortByDate    SortKey = "date"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
	// MaxPage は Offset が int に収まるページ番号の上限。
	MaxPage = 100000
)

// KeysetQuery はキーセットメタデータの検索条件。
// ゼロ値のフィールドは条件として扱わない。
type KeysetQuery struct {
	Term        string
	NamespaceID int64
	ID          string
	Algorithm   Algorithm
	State       KeysetState
	Page        int
	PageSize    int
	Sort        SortKey
	Descending  bool
}

// Normalize は既定値を補い、範囲外の値を検証する。
// Sort 未指定時は updated の降順になる。
func (q KeysetQuery) Normalize() (KeysetQuery, error) {
	q.Term = strings.TrimSpace(q.Term)
	if q.Page == 0 {
		q.Page = 1
	}
	if q.Page < 0 || q.Page > MaxPage {
		return q, invalidArgument("page", fmt.Sprintf("must be between 1 and %d", MaxPage))
	}
	if q.PageSize == 0 {
		q.PageSize = DefaultPageSize
	}
	if q.PageSize < 0 || q.PageSize > MaxPageSize {
		return q, invalidArgument("page_size", fmt.Sprintf("must be between 1 and %d", MaxPageSize))
	}
	switch q.Sort {
	case "":
		q.Sort = SortByUpdated
		q.Descending = true
	case SortByUpdated, SortByName, SortByState, SortByDate:
	default:
		return q, invalidArgument("sort", fmt.Sprintf("unknown sort key %q", q.Sort))
	}
	return q, nil
}

// Offset はページに対応する読み飛ばし件数を返す。
func (q KeysetQuery) Offset() int {
	return (q.Page - 1) * q.PageSize
}

// KeysetPage は検索結果の1ページ。
type KeysetPage struct {
	Items    []*KeysetMetadata
	Total    int64
	Page     int
	PageSize int
}
