package db

import (
	"github.com/pkg/errors"

	"github.com/incometax/taxbot/internal/profile"
	"github.com/incometax/taxbot/store"
	"github.com/incometax/taxbot/store/db/memory"
	"github.com/incometax/taxbot/store/db/mysql"
	"github.com/incometax/taxbot/store/db/postgres"
	"github.com/incometax/taxbot/store/db/sqlite"
)

// NewDBDriver creates a session driver for the configured backend.
func NewDBDriver(profile *profile.Profile) (store.Driver, error) {
	var driver store.Driver
	var err error

	switch profile.Driver {
	case "", "memory":
		driver = memory.NewDB()
	case "sqlite":
		driver, err = sqlite.NewDB(profile)
	case "mysql":
		driver, err = mysql.NewDB(profile)
	case "postgres":
		driver, err = postgres.NewDB(profile)
	default:
		return nil, errors.Errorf("unknown db driver %q", profile.Driver)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to create db driver")
	}
	return driver, nil
}
