package mysql

import (
	"context"
	"database/sql"

	"github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"

	"github.com/incometax/taxbot/internal/profile"
	"github.com/incometax/taxbot/store"
)

type DB struct {
	db      *sql.DB
	profile *profile.Profile
	config  *mysql.Config
}

func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile == nil {
		return nil, errors.New("profile is nil")
	}

	config, err := mysql.ParseDSN(profile.DSN)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse dsn")
	}
	db, err := sql.Open("mysql", config.FormatDSN())
	if err != nil {
		return nil, errors.Wrap(err, "failed to open db")
	}
	driver := &DB{db: db, profile: profile, config: config}
	if err := driver.EnsureChatTables(context.Background()); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to create chat tables")
	}
	return driver, nil
}

func (d *DB) Close() error {
	return d.db.Close()
}
