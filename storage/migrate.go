package storage

import (
	"context"
	"embed"
	"io/fs"

	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
)

//go:embed migrations
var migrations embed.FS

func migrate(ctx context.Context, db *sqlx.DB, ns Namespace) error {
	fsys, err := fs.Sub(migrations, "migrations/"+string(ns))
	if err != nil {
		return err
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db.DB, fsys)
	if err != nil {
		return err
	}

	_, err = provider.Up(ctx)
	return err
}
