package store

import (
	"database/sql"
	"fmt"
	"runtime"

	"github.com/haatos/multici/internal/settings"

	_ "modernc.org/sqlite"
)

// InitDatabase opens one of the two connection pools used by the stores.
// The read-write pool holds a single connection so writers never contend
// for the database lock.
func InitDatabase(readonly bool) (*sql.DB, error) {
	db, err := sql.Open("sqlite", settings.Settings.SQLiteDbString(readonly))
	if err != nil {
		return nil, fmt.Errorf("error opening sqlite database: %w", err)
	}

	if readonly {
		db.SetMaxOpenConns(max(4, runtime.NumCPU()))
	} else {
		if _, err := db.Exec("PRAGMA temp_store=memory"); err != nil {
			_ = db.Close()
			return nil, err
		}
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			_ = db.Close()
			return nil, err
		}
		db.SetMaxOpenConns(1)
	}

	return db, nil
}
