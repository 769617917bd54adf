package watchlist

import (
	"context"
	"fmt"
	"strings"

	"github.com/dlclark/regexp2"
)

// AddWatchword stores a post filter pattern. Patterns use .NET/Perl regular
// expression syntax and must compile.
func (w *Watchlist) AddWatchword(ctx context.Context, pattern string) error {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return fmt.Errorf("empty watchword")
	}
	if _, err := regexp2.Compile(pattern, regexp2.None); err != nil {
		return fmt.Errorf("watchword %q: %w", pattern, err)
	}
	_, err := w.db.ExecContext(ctx, `INSERT INTO watchwords (pattern) VALUES (?) ON CONFLICT(pattern) DO NOTHING`, pattern)
	return err
}

func (w *Watchlist) Watchwords(ctx context.Context) ([]string, error) {
	var patterns []string
	if err := w.db.SelectContext(ctx, &patterns, `SELECT pattern FROM watchwords ORDER BY pattern`); err != nil {
		return nil, fmt.Errorf("list watchwords: %w", err)
	}
	return patterns, nil
}

func (w *Watchlist) WatchwordCount(ctx context.Context) (int64, error) {
	var n int64
	err := w.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM watchwords`)
	return n, err
}

func (w *Watchlist) RemoveWatchword(ctx context.Context, pattern string) error {
	res, err := w.db.ExecContext(ctx, `DELETE FROM watchwords WHERE pattern = ?`, pattern)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("watchword %q: %w", pattern, ErrNotFound)
	}
	return nil
}
