package account

import (
	"context"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"github.com/pablof7z/purplewatch/model"
	"github.com/pablof7z/purplewatch/storage"
)

var postColumns = []string{"post_id", "account_id", "author_id", "kind", "text", "repost_of", "created_at", "updated_at"}

// Posts pages through the account's notes and reposts, newest first.
func (a *Account) Posts(ctx context.Context, f Filter, page, size int) (model.Page[model.Post], error) {
	if err := a.ensureFresh(ctx, tablePosts, a.syncPosts); err != nil {
		return model.Page[model.Post]{}, err
	}
	return a.pagePosts(ctx, tablePosts, f, page, size)
}

// Likes pages through the notes the account liked, newest like first.
func (a *Account) Likes(ctx context.Context, f Filter, page, size int) (model.Page[model.Post], error) {
	if err := a.ensureFresh(ctx, tableLikes, a.syncLikes); err != nil {
		return model.Page[model.Post]{}, err
	}
	return a.pagePosts(ctx, tableLikes, f, page, size)
}

func (a *Account) syncPosts(ctx context.Context) error {
	posts, err := a.remote.Posts(ctx, a.id, a.limit)
	if err != nil {
		return err
	}
	return a.storePosts(ctx, tablePosts, posts)
}

func (a *Account) syncLikes(ctx context.Context) error {
	likes, err := a.remote.Likes(ctx, a.id, a.limit)
	if err != nil {
		return err
	}
	return a.storePosts(ctx, tableLikes, likes)
}

// storePosts upserts fetched posts. Older posts stay so the mirror grows
// past a single fetch window.
func (a *Account) storePosts(ctx context.Context, table string, posts []model.Post) error {
	now := a.now()
	return storage.RunInTx(ctx, a.db, func(tx *sqlx.Tx) error {
		for _, chunk := range storage.Chunk(posts, storage.MaxVariables/len(postColumns)) {
			insert := sq.Insert(table).Columns(postColumns...)
			for _, p := range chunk {
				insert = insert.Values(p.ID, a.id, p.AuthorID, p.Kind, p.Text, p.RepostOf, p.CreatedAt, now)
			}
			query, args, err := insert.Suffix(`ON CONFLICT(post_id) DO UPDATE SET
				author_id = excluded.author_id, kind = excluded.kind, text = excluded.text,
				repost_of = excluded.repost_of, created_at = excluded.created_at, updated_at = excluded.updated_at`).ToSql()
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return err
			}
		}
		if len(posts) == 0 {
			// an empty fetch still counts as fresh
			_, err := tx.ExecContext(ctx, "UPDATE "+table+" SET updated_at = ?", now)
			return err
		}
		return nil
	})
}

func (a *Account) pagePosts(ctx context.Context, table string, f Filter, page, size int) (model.Page[model.Post], error) {
	result := model.Page[model.Post]{Page: page, PageSize: size}
	base := postsQuery(table)

	if f.IsZero() {
		if err := a.db.GetContext(ctx, &result.Total, "SELECT COUNT(*) FROM "+table); err != nil {
			return result, err
		}
		posts, err := a.queryPosts(ctx, base.Limit(uint64(size)).Offset(model.Offset(page, size)))
		if err != nil {
			return result, err
		}
		result.Items = posts
		return result, nil
	}

	matcher, err := f.compile(ctx, a.id)
	if err != nil {
		return result, err
	}
	all, err := a.queryPosts(ctx, base)
	if err != nil {
		return result, err
	}
	var matched []model.Post
	for _, p := range all {
		if matcher.match(p) {
			matched = append(matched, p)
		}
	}
	result.Total = int64(len(matched))
	result.Items = pageOf(matched, page, size)
	return result, nil
}

func postsQuery(table string) sq.SelectBuilder {
	return sq.Select(postColumns...).From(table).OrderBy("created_at DESC", "post_id")
}

func (a *Account) queryPosts(ctx context.Context, builder sq.SelectBuilder) ([]model.Post, error) {
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, err
	}
	var posts []model.Post
	if err := a.db.SelectContext(ctx, &posts, query, args...); err != nil {
		return nil, err
	}
	return posts, nil
}

func pageOf[T any](items []T, page, size int) []T {
	start := int(model.Offset(page, size))
	if start >= len(items) {
		return nil
	}
	end := min(start+size, len(items))
	return items[start:end]
}
