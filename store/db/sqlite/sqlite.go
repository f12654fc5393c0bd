package sqlite

import (
	"context"
	"database/sql"
	"strings"

	"github.com/pkg/errors"
	// Import the pure Go SQLite driver.
	_ "modernc.org/sqlite"

	"github.com/incometax/taxbot/internal/profile"
	"github.com/incometax/taxbot/store"
)

type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

// NewDB opens the database at profile.DSN and creates the chat tables.
func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile == nil || profile.DSN == "" {
		return nil, errors.New("dsn required")
	}

	// WAL lets readers proceed while an exchange is being written.
	sep := "?"
	if strings.Contains(profile.DSN, "?") {
		sep = "&"
	}
	db, err := sql.Open("sqlite", profile.DSN+sep+"_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open db with dsn: %s", profile.DSN)
	}
	// A single writer avoids SQLITE_BUSY between concurrent exchanges.
	db.SetMaxOpenConns(1)

	driver := &DB{db: db, profile: profile}
	if err := driver.EnsureChatTables(context.Background()); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to create chat tables")
	}
	return driver, nil
}

func (d *DB) Close() error {
	return d.db.Close()
}
