package account

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"github.com/pablof7z/purplewatch/model"
	"github.com/pablof7z/purplewatch/storage"
)

// Friends pages through the accounts this account follows, hydrated through
// the resolver. Only f.Members applies.
func (a *Account) Friends(ctx context.Context, f Filter, page, size int) (model.Page[model.Account], error) {
	if err := a.ensureFresh(ctx, tableFriends, a.syncFriends); err != nil {
		return model.Page[model.Account]{}, err
	}
	return a.pageGraph(ctx, tableFriends, f, page, size)
}

// Followers pages through the accounts following this account.
func (a *Account) Followers(ctx context.Context, f Filter, page, size int) (model.Page[model.Account], error) {
	if err := a.ensureFresh(ctx, tableFollowers, a.syncFollowers); err != nil {
		return model.Page[model.Account]{}, err
	}
	return a.pageGraph(ctx, tableFollowers, f, page, size)
}

func (a *Account) FriendIDs(ctx context.Context) ([]string, error) {
	if err := a.ensureFresh(ctx, tableFriends, a.syncFriends); err != nil {
		return nil, err
	}
	return a.graphIDs(ctx, tableFriends)
}

func (a *Account) FollowerIDs(ctx context.Context) ([]string, error) {
	if err := a.ensureFresh(ctx, tableFollowers, a.syncFollowers); err != nil {
		return nil, err
	}
	return a.graphIDs(ctx, tableFollowers)
}

// ListMemberships returns the remote lists that include this account.
func (a *Account) ListMemberships(ctx context.Context) ([]model.RemoteList, error) {
	if err := a.ensureFresh(ctx, tableListMemberships, a.syncListMemberships); err != nil {
		return nil, err
	}
	var lists []model.RemoteList
	err := a.db.SelectContext(ctx, &lists,
		"SELECT list_id, name, owner_id, updated_at FROM "+tableListMemberships+" ORDER BY name, list_id")
	return lists, err
}

func (a *Account) syncFriends(ctx context.Context) error {
	ids, err := a.remote.FriendIDs(ctx, a.id)
	if err != nil {
		return err
	}
	return a.replaceGraph(ctx, tableFriends, ids)
}

func (a *Account) syncFollowers(ctx context.Context) error {
	ids, err := a.remote.FollowerIDs(ctx, a.id, a.limit)
	if err != nil {
		return err
	}
	return a.replaceGraph(ctx, tableFollowers, ids)
}

func (a *Account) syncListMemberships(ctx context.Context) error {
	lists, err := a.remote.ListMemberships(ctx, a.id)
	if err != nil {
		return err
	}
	now := a.now()
	return storage.RunInTx(ctx, a.db, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+tableListMemberships); err != nil {
			return err
		}
		for _, chunk := range storage.Chunk(lists, storage.MaxVariables/4) {
			insert := sq.Insert(tableListMemberships).Columns("list_id", "name", "owner_id", "updated_at")
			for _, l := range chunk {
				insert = insert.Values(l.ExternalID, l.Name, l.OwnerID, now)
			}
			query, args, err := insert.Suffix("ON CONFLICT(list_id) DO NOTHING").ToSql()
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return err
			}
		}
		return nil
	})
}

// replaceGraph swaps the contents of a friends or followers table.
func (a *Account) replaceGraph(ctx context.Context, table string, ids []string) error {
	ids = storage.Dedupe(ids)
	now := a.now()
	return storage.RunInTx(ctx, a.db, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
		for _, chunk := range storage.Chunk(ids, storage.MaxVariables/2) {
			insert := sq.Insert(table).Columns("account_id", "updated_at")
			for _, id := range chunk {
				insert = insert.Values(id, now)
			}
			query, args, err := insert.ToSql()
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return err
			}
		}
		return nil
	})
}

func (a *Account) graphIDs(ctx context.Context, table string) ([]string, error) {
	var ids []string
	err := a.db.SelectContext(ctx, &ids, "SELECT account_id FROM "+table+" ORDER BY account_id")
	return ids, err
}

func (a *Account) pageGraph(ctx context.Context, table string, f Filter, page, size int) (model.Page[model.Account], error) {
	result := model.Page[model.Account]{Page: page, PageSize: size}

	ids, err := a.graphIDs(ctx, table)
	if err != nil {
		return result, err
	}
	if !f.Members.IsZero() {
		members, err := f.Members.resolve(ctx)
		if err != nil {
			return result, err
		}
		ids = intersect(ids, members)
	}
	result.Total = int64(len(ids))

	pageIDs := pageOf(ids, page, size)
	if len(pageIDs) == 0 {
		return result, nil
	}
	resolved, err := a.hydrator.ResolveIDs(ctx, pageIDs)
	byID := make(map[string]model.Account, len(resolved))
	for _, acc := range resolved {
		byID[acc.ID] = acc
	}
	// unresolved ids are still listed so page sizes stay stable
	result.Items = make([]model.Account, 0, len(pageIDs))
	for _, id := range pageIDs {
		acc, ok := byID[id]
		if !ok {
			acc = model.Account{ID: id}
		}
		result.Items = append(result.Items, acc)
	}
	if err != nil {
		return result, fmt.Errorf("hydrate %s: %w", table, err)
	}
	return result, nil
}

func intersect(ids []string, set map[string]struct{}) []string {
	var out []string
	for _, id := range ids {
		if _, ok := set[id]; ok {
			out = append(out, id)
		}
	}
	return out
}
