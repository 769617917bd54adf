package watchlist

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/pablof7z/purplewatch/model"
	"github.com/pablof7z/purplewatch/storage"
)

const sublistColumns = `s.sublist_id, s.sublist_type_id, s.name, s.external_id,
	(SELECT COUNT(*) FROM account_sublists m WHERE m.sublist_id = s.sublist_id) AS member_count`

// Sublists lists every sublist with its membership count.
func (w *Watchlist) Sublists(ctx context.Context) ([]model.Sublist, error) {
	var sublists []model.Sublist
	err := w.db.SelectContext(ctx, &sublists, `SELECT `+sublistColumns+` FROM sublists s ORDER BY s.sublist_id`)
	if err != nil {
		return nil, fmt.Errorf("list sublists: %w", err)
	}
	return sublists, nil
}

func (w *Watchlist) Sublist(ctx context.Context, id int64) (model.Sublist, error) {
	return getSublist(ctx, w.db, id)
}

// SublistMembers returns a page of the accounts attributed to a sublist.
func (w *Watchlist) SublistMembers(ctx context.Context, sublistID int64, page, size int) (model.Page[model.Account], error) {
	inSublist := sq.Expr("account_id IN (SELECT account_id FROM account_sublists WHERE sublist_id = ?)", sublistID)
	return storage.PageAccounts(ctx, w.db,
		storage.SelectAccounts(memberTable).Where(inSublist),
		sq.Select("COUNT(*)").From(memberTable).Where(inSublist),
		page, size)
}

// SetExclusion flags or unflags an account's membership in a sublist. The
// flag only suppresses the account from the effective watchlist.
func (w *Watchlist) SetExclusion(ctx context.Context, accountID string, sublistID int64, excluded bool) error {
	res, err := w.db.ExecContext(ctx, `
		UPDATE account_sublists SET locally_excluded = ?
		WHERE account_id = ? AND sublist_id = ?
	`, excluded, accountID, sublistID)
	if err != nil {
		return fmt.Errorf("set exclusion: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("membership %s in sublist %d: %w", accountID, sublistID, ErrNotFound)
	}
	return nil
}

// Exclusions lists the accounts locally excluded from a sublist.
func (w *Watchlist) Exclusions(ctx context.Context, sublistID int64) ([]model.Account, error) {
	return storage.QueryAccounts(ctx, w.db, storage.SelectAccounts(memberTable).
		Where(sq.Expr("account_id IN (SELECT account_id FROM account_sublists WHERE sublist_id = ? AND locally_excluded = 1)", sublistID)).
		OrderBy("name_key", "account_id"))
}

// RemoveSublist deletes a sublist, its memberships and any member left
// without a sublist. The self sublist row is never deleted; only its
// memberships are cleared.
func (w *Watchlist) RemoveSublist(ctx context.Context, id int64) error {
	var orphans int64
	err := storage.RunInTx(ctx, w.db, func(tx *sqlx.Tx) error {
		if _, err := getSublist(ctx, tx, id); err != nil {
			return err
		}
		if id != model.SelfSublistID {
			if _, err := tx.ExecContext(ctx, `DELETE FROM sublists WHERE sublist_id = ?`, id); err != nil {
				return err
			}
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM account_sublists WHERE sublist_id = ?`, id); err != nil {
			return err
		}
		var err error
		orphans, err = deleteOrphans(ctx, tx)
		return err
	})
	if err != nil {
		return fmt.Errorf("remove sublist %d: %w", id, err)
	}

	w.log.Info("removed sublist", zap.Int64("sublist_id", id), zap.Int64("orphans", orphans))
	return nil
}

func getSublist(ctx context.Context, q sqlx.QueryerContext, id int64) (model.Sublist, error) {
	var s model.Sublist
	err := sqlx.GetContext(ctx, q, &s, `SELECT `+sublistColumns+` FROM sublists s WHERE s.sublist_id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return s, fmt.Errorf("sublist %d: %w", id, ErrNotFound)
	}
	return s, err
}

// insertMemberships adds (id, sublistID) pairs that do not exist yet. Existing
// pairs keep their exclusion flag.
func insertMemberships(ctx context.Context, exec sqlx.ExecerContext, sublistID int64, ids []string) error {
	for _, chunk := range storage.Chunk(ids, storage.MaxVariables/2) {
		insert := sq.Insert("account_sublists").Columns("account_id", "sublist_id")
		for _, id := range chunk {
			insert = insert.Values(id, sublistID)
		}
		query, args, err := insert.Suffix("ON CONFLICT(account_id, sublist_id) DO NOTHING").ToSql()
		if err != nil {
			return err
		}
		if _, err := exec.ExecContext(ctx, query, args...); err != nil {
			return err
		}
	}
	return nil
}

// deleteOrphans removes watchlist members no sublist references.
func deleteOrphans(ctx context.Context, exec sqlx.ExecerContext) (int64, error) {
	res, err := exec.ExecContext(ctx, `
		DELETE FROM watchlist
		WHERE account_id NOT IN (SELECT account_id FROM account_sublists)
	`)
	if err != nil {
		return 0, fmt.Errorf("delete orphans: %w", err)
	}
	return res.RowsAffected()
}
