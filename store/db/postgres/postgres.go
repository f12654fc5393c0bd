package postgres

import (
	"context"
	"database/sql"
	"fmt"

	// Import the PostgreSQL driver.
	_ "github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/incometax/taxbot/internal/profile"
	"github.com/incometax/taxbot/store"
)

type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile == nil {
		return nil, errors.New("profile is nil")
	}

	db, err := sql.Open("postgres", profile.DSN)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open db")
	}
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

func placeholder(n int) string {
	return fmt.Sprintf("$%d", n)
}
