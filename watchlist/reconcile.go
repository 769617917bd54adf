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

// ImportRequest is a freshly fetched external list.
type ImportRequest struct {
	Kind       model.SourceKind
	ExternalID string
	Name       string
	MemberIDs  []string
}

type ImportResult struct {
	Sublist    model.Sublist
	Added      int
	Removed    int
	Kept       int
	Hydrated   int
	Unresolved int
	Orphans    int64
	Invalid    []string
}

// Import reconciles a sublist with its source's current membership.
//
// Missing or stale member attributes are hydrated first; if that fails
// nothing is written. The diff itself is applied in one transaction:
// memberships that left the source are deleted whether or not they were
// excluded, new ones are inserted unexcluded, and memberships present in
// both the old and new snapshot are left untouched so their exclusion flag
// carries forward. Members left without any sublist are deleted.
func (w *Watchlist) Import(ctx context.Context, req ImportRequest) (ImportResult, error) {
	var result ImportResult
	if req.Kind == model.SourceSelf || req.ExternalID == "" {
		return result, ErrSelfSublist
	}

	ids, invalid := normalizeIDs(req.MemberIDs)
	result.Invalid = invalid
	if len(invalid) > 0 {
		w.log.Warn("skipping invalid account ids",
			zap.String("external_id", req.ExternalID),
			zap.Int("count", len(invalid)))
	}

	needs, err := w.needHydration(ctx, ids)
	if err != nil {
		return result, err
	}
	var hydrated []model.Account
	if len(needs) > 0 {
		hydrated, err = w.hydrator.ResolveIDs(ctx, needs)
		if err != nil {
			return result, fmt.Errorf("hydrate %s: %w", req.ExternalID, err)
		}
	}
	result.Hydrated = len(hydrated)

	err = storage.RunInTx(ctx, w.db, func(tx *sqlx.Tx) error {
		sublist, err := upsertSublist(ctx, tx, req)
		if err != nil {
			return err
		}

		var old []string
		if err := tx.SelectContext(ctx, &old, `SELECT account_id FROM account_sublists WHERE sublist_id = ?`, sublist.ID); err != nil {
			return fmt.Errorf("snapshot memberships: %w", err)
		}

		removed, added, kept := diff(old, ids)
		result.Removed, result.Added, result.Kept = len(removed), len(added), kept

		for _, chunk := range storage.Chunk(removed, storage.MaxVariables-1) {
			query, args, err := sq.Delete("account_sublists").
				Where(sq.Eq{"sublist_id": sublist.ID}).
				Where(sq.Eq{"account_id": chunk}).
				ToSql()
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return fmt.Errorf("delete memberships: %w", err)
			}
		}

		if err := w.writeMembers(ctx, tx, hydrated); err != nil {
			return err
		}
		// ids the resolver could not find still need a row
		if err := storage.InsertBareAccounts(ctx, tx, memberTable, ids); err != nil {
			return fmt.Errorf("insert members: %w", err)
		}
		if err := insertMemberships(ctx, tx, sublist.ID, added); err != nil {
			return fmt.Errorf("insert memberships: %w", err)
		}

		result.Orphans, err = deleteOrphans(ctx, tx)
		if err != nil {
			return err
		}

		result.Sublist, err = getSublist(ctx, tx, sublist.ID)
		return err
	})
	if err != nil {
		return ImportResult{}, fmt.Errorf("import %s: %w", req.ExternalID, err)
	}

	result.Unresolved = len(needs) - len(hydrated)
	w.log.Info("imported sublist",
		zap.Int64("sublist_id", result.Sublist.ID),
		zap.String("external_id", req.ExternalID),
		zap.Int("added", result.Added),
		zap.Int("removed", result.Removed),
		zap.Int("kept", result.Kept),
		zap.Int64("orphans", result.Orphans))
	return result, nil
}

// ImportRelayList imports a list hosted by the remote social graph.
func (w *Watchlist) ImportRelayList(ctx context.Context, ref string) (ImportResult, error) {
	if w.lists == nil {
		return ImportResult{}, errors.New("no relay list fetcher configured")
	}
	list, err := w.lists.ListMembers(ctx, ref)
	if err != nil {
		return ImportResult{}, fmt.Errorf("fetch list %s: %w", ref, err)
	}
	return w.Import(ctx, ImportRequest{
		Kind:       model.SourceRelayList,
		ExternalID: list.ExternalID,
		Name:       list.Name,
		MemberIDs:  list.MemberIDs,
	})
}

// ImportWebList imports an externally hosted block list.
func (w *Watchlist) ImportWebList(ctx context.Context, listID, name string) (ImportResult, error) {
	if w.web == nil {
		return ImportResult{}, errors.New("no web list fetcher configured")
	}
	ids, err := w.web.Fetch(ctx, listID)
	if err != nil {
		return ImportResult{}, fmt.Errorf("fetch web list %s: %w", listID, err)
	}
	if name == "" {
		name = listID
	}
	return w.Import(ctx, ImportRequest{
		Kind:       model.SourceWebList,
		ExternalID: listID,
		Name:       name,
		MemberIDs:  ids,
	})
}

// RefreshSublist re-imports a sublist from its source. The self sublist has
// no source and is left as is.
func (w *Watchlist) RefreshSublist(ctx context.Context, id int64) (ImportResult, error) {
	sublist, err := w.Sublist(ctx, id)
	if err != nil {
		return ImportResult{}, err
	}

	switch sublist.Kind {
	case model.SourceRelayList:
		return w.ImportRelayList(ctx, sublist.ExternalID)
	case model.SourceWebList:
		return w.ImportWebList(ctx, sublist.ExternalID, sublist.Name)
	default:
		return ImportResult{Sublist: sublist}, nil
	}
}

// RefreshAll refreshes every sublist, continuing past failures.
func (w *Watchlist) RefreshAll(ctx context.Context) ([]ImportResult, error) {
	sublists, err := w.Sublists(ctx)
	if err != nil {
		return nil, err
	}

	var (
		results []ImportResult
		errs    []error
	)
	for _, s := range sublists {
		if s.Kind == model.SourceSelf {
			continue
		}
		res, err := w.RefreshSublist(ctx, s.ID)
		if err != nil {
			w.log.Warn("sublist refresh failed", zap.Int64("sublist_id", s.ID), zap.Error(err))
			errs = append(errs, fmt.Errorf("sublist %d: %w", s.ID, err))
			continue
		}
		results = append(results, res)
	}
	return results, errors.Join(errs...)
}

// needHydration returns the ids whose watchlist row is missing, bare or
// older than the TTL.
func (w *Watchlist) needHydration(ctx context.Context, ids []string) ([]string, error) {
	cutoff := w.clock.Now().Add(-w.ttl).Unix()
	fresh := make(map[string]struct{}, len(ids))
	for _, chunk := range storage.Chunk(ids, storage.MaxVariables-1) {
		query, args, err := sq.Select("account_id").From(memberTable).
			Where(sq.Eq{"account_id": chunk}).
			Where(sq.GtOrEq{"updated_at": cutoff}).
			Where(sq.NotEq{"screen_name": ""}).
			ToSql()
		if err != nil {
			return nil, err
		}
		var got []string
		if err := w.db.SelectContext(ctx, &got, query, args...); err != nil {
			return nil, fmt.Errorf("check member freshness: %w", err)
		}
		for _, id := range got {
			fresh[id] = struct{}{}
		}
	}

	var needs []string
	for _, id := range ids {
		if _, ok := fresh[id]; !ok {
			needs = append(needs, id)
		}
	}
	return needs, nil
}

func upsertSublist(ctx context.Context, tx *sqlx.Tx, req ImportRequest) (model.Sublist, error) {
	name := req.Name
	if name == "" {
		name = req.ExternalID
	}

	var id int64
	err := tx.GetContext(ctx, &id, `
		SELECT sublist_id FROM sublists WHERE sublist_type_id = ? AND external_id = ?
	`, req.Kind, req.ExternalID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		res, err := tx.ExecContext(ctx, `
			INSERT INTO sublists (sublist_type_id, name, external_id) VALUES (?, ?, ?)
		`, req.Kind, name, req.ExternalID)
		if err != nil {
			return model.Sublist{}, fmt.Errorf("create sublist: %w", err)
		}
		if id, err = res.LastInsertId(); err != nil {
			return model.Sublist{}, err
		}
	case err != nil:
		return model.Sublist{}, fmt.Errorf("find sublist: %w", err)
	default:
		if _, err := tx.ExecContext(ctx, `UPDATE sublists SET name = ? WHERE sublist_id = ?`, name, id); err != nil {
			return model.Sublist{}, fmt.Errorf("rename sublist: %w", err)
		}
	}
	return model.Sublist{ID: id, Kind: req.Kind, Name: name, ExternalID: req.ExternalID}, nil
}

// diff splits the old and new membership snapshots.
func diff(old, next []string) (removed, added []string, kept int) {
	inNext := make(map[string]struct{}, len(next))
	for _, id := range next {
		inNext[id] = struct{}{}
	}
	inOld := make(map[string]struct{}, len(old))
	for _, id := range old {
		inOld[id] = struct{}{}
		if _, ok := inNext[id]; !ok {
			removed = append(removed, id)
		}
	}
	for _, id := range next {
		if _, ok := inOld[id]; ok {
			kept++
		} else {
			added = append(added, id)
		}
	}
	return removed, added, kept
}
