package model

type PostKind int

const (
	PostNote   PostKind = 1
	PostRepost PostKind = 6
	PostLike   PostKind = 7
)

// Post is a note, repost or liked note in an account mirror. For reposts and
// likes AuthorID is the author of the referenced note.
type Post struct {
	ID        string   `db:"post_id" json:"id"`
	AccountID string   `db:"account_id" json:"account_id"`
	AuthorID  string   `db:"author_id" json:"author_id"`
	Kind      PostKind `db:"kind" json:"kind"`
	Text      string   `db:"text" json:"text"`
	RepostOf  string   `db:"repost_of" json:"repost_of,omitempty"`
	CreatedAt int64    `db:"created_at" json:"created_at"`
	UpdatedAt int64    `db:"updated_at" json:"updated_at"`
}

// Page is one page of a larger ordered result.
type Page[T any] struct {
	Items    []T   `json:"items"`
	Page     int   `json:"page"`
	PageSize int   `json:"page_size"`
	Total    int64 `json:"total"`
}

func (p Page[T]) Pages() int {
	if p.PageSize <= 0 {
		return 0
	}
	return int((p.Total + int64(p.PageSize) - 1) / int64(p.PageSize))
}

// Offset converts a 1-based page number into a row offset.
func Offset(page, size int) uint64 {
	if page < 1 {
		page = 1
	}
	return uint64((page - 1) * size)
}
