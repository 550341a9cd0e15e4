package store

import (
	"database/sql"

	assets "github.com/haatos/multici"
	"github.com/haatos/multici/internal"
	"github.com/pressly/goose/v3"
)

func RunMigrations(db *sql.DB) error {
	goose.SetBaseFS(assets.MigrationsFS)
	if err := goose.SetDialect("sqlite"); err != nil {
		return err
	}
	return goose.Up(db, internal.MigrationsDir)
}
