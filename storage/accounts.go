package storage

import (
	"context"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"github.com/pablof7z/purplewatch/model"
)

// AccountColumns are the columns scanned into model.Account. name_key is
// derived on write and never selected.
var AccountColumns = []string{
	"account_id",
	"screen_name",
	"display_name",
	"about",
	"website",
	"picture",
	"banner",
	"nip05",
	"bot",
	"friends_count",
	"followers_count",
	"created_at",
	"raw",
	"updated_at",
}

var accountWriteColumns = append([]string{"name_key"}, AccountColumns...)

// accountUpsertSuffix overwrites every attribute: the most recent fetch wins.
var accountUpsertSuffix = func() string {
	sets := make([]string, 0, len(accountWriteColumns))
	for _, col := range accountWriteColumns {
		if col == "account_id" {
			continue
		}
		sets = append(sets, col+" = excluded."+col)
	}
	return "ON CONFLICT(account_id) DO UPDATE SET " + strings.Join(sets, ", ")
}()

// UpsertAccounts writes full account rows into table, keeping every statement
// under MaxVariables bound parameters.
func UpsertAccounts(ctx context.Context, exec sqlx.ExecerContext, table string, accounts []model.Account) error {
	rowsPerInsert := MaxVariables / len(accountWriteColumns)
	for _, chunk := range Chunk(accounts, rowsPerInsert) {
		insert := sq.Insert(table).Columns(accountWriteColumns...)
		for _, a := range chunk {
			insert = insert.Values(
				a.NameKey(), a.ID, a.ScreenName, a.DisplayName, a.About, a.Website,
				a.Picture, a.Banner, a.NIP05, a.Bot, a.FriendsCount, a.FollowersCount,
				a.CreatedAt, a.Raw, a.UpdatedAt,
			)
		}
		query, args, err := insert.Suffix(accountUpsertSuffix).ToSql()
		if err != nil {
			return err
		}
		if _, err := exec.ExecContext(ctx, query, args...); err != nil {
			return err
		}
	}
	return nil
}

// InsertBareAccounts creates placeholder rows (updated_at = 0) for ids that
// have no row yet. Existing rows are left untouched.
func InsertBareAccounts(ctx context.Context, exec sqlx.ExecerContext, table string, ids []string) error {
	for _, chunk := range Chunk(ids, MaxVariables) {
		insert := sq.Insert(table).Columns("account_id")
		for _, id := range chunk {
			insert = insert.Values(id)
		}
		query, args, err := insert.Suffix("ON CONFLICT(account_id) DO NOTHING").ToSql()
		if err != nil {
			return err
		}
		if _, err := exec.ExecContext(ctx, query, args...); err != nil {
			return err
		}
	}
	return nil
}

// SelectAccounts starts an account query on table.
func SelectAccounts(table string) sq.SelectBuilder {
	return sq.Select(AccountColumns...).From(table)
}

// QueryAccounts runs an account query built with SelectAccounts.
func QueryAccounts(ctx context.Context, q sqlx.QueryerContext, builder sq.SelectBuilder) ([]model.Account, error) {
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, err
	}
	var accounts []model.Account
	if err := sqlx.SelectContext(ctx, q, &accounts, query, args...); err != nil {
		return nil, err
	}
	return accounts, nil
}

// PageAccounts returns one page of table ordered by name key then id.
func PageAccounts(ctx context.Context, q sqlx.QueryerContext, builder sq.SelectBuilder, count sq.SelectBuilder, page, size int) (model.Page[model.Account], error) {
	result := model.Page[model.Account]{Page: page, PageSize: size}

	query, args, err := count.ToSql()
	if err != nil {
		return result, err
	}
	if err := sqlx.GetContext(ctx, q, &result.Total, query, args...); err != nil {
		return result, err
	}

	items, err := QueryAccounts(ctx, q, builder.
		OrderBy("name_key", "account_id").
		Limit(uint64(size)).
		Offset(model.Offset(page, size)))
	if err != nil {
		return result, err
	}
	result.Items = items
	return result, nil
}

// DeleteIn removes rows of table whose column value is in keys.
func DeleteIn(ctx context.Context, exec sqlx.ExecerContext, table, column string, keys []string) (int64, error) {
	var deleted int64
	for _, chunk := range Chunk(keys, MaxVariables) {
		query, args, err := sq.Delete(table).Where(sq.Eq{column: chunk}).ToSql()
		if err != nil {
			return deleted, err
		}
		res, err := exec.ExecContext(ctx, query, args...)
		if err != nil {
			return deleted, err
		}
		n, _ := res.RowsAffected()
		deleted += n
	}
	return deleted, nil
}
