package test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcmysql "github.com/testcontainers/testcontainers-go/modules/mysql"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/incometax/taxbot/internal/profile"
	"github.com/incometax/taxbot/store"
	"github.com/incometax/taxbot/store/db"
)

// NewTestingStore builds a store on the driver named by TAXBOT_TEST_DRIVER.
// The postgres and mysql drivers start a container and require TAXBOT_TEST_CONTAINERS=1.
func NewTestingStore(ctx context.Context, t *testing.T) *store.Store {
	return NewTestingStoreWithPolicy(ctx, t, store.ExpiryPolicy{})
}

func NewTestingStoreWithPolicy(ctx context.Context, t *testing.T, policy store.ExpiryPolicy) *store.Store {
	t.Helper()
	profile := getTestingProfile(ctx, t)
	driver, err := db.NewDBDriver(profile)
	if err != nil {
		t.Fatalf("failed to create db driver: %v", err)
	}
	s := store.New(driver, policy)
	t.Cleanup(func() {
		s.Close()
	})
	return s
}

func getDriverFromEnv() string {
	driver := os.Getenv("TAXBOT_TEST_DRIVER")
	if driver == "" {
		driver = "memory"
	}
	return driver
}

func getTestingProfile(ctx context.Context, t *testing.T) *profile.Profile {
	t.Helper()
	p := &profile.Profile{
		Mode:   "test",
		Data:   t.TempDir(),
		Driver: getDriverFromEnv(),
	}
	switch p.Driver {
	case "sqlite":
		p.DSN = filepath.Join(p.Data, "taxbot_test.db")
	case "postgres":
		p.DSN = startPostgres(ctx, t)
	case "mysql":
		p.DSN = startMySQL(ctx, t)
	}
	return p
}

func requireContainers(t *testing.T) {
	t.Helper()
	if os.Getenv("TAXBOT_TEST_CONTAINERS") != "1" {
		t.Skip("set TAXBOT_TEST_CONTAINERS=1 to run container backed tests")
	}
}

func startPostgres(ctx context.Context, t *testing.T) string {
	requireContainers(t)
	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("taxbot"),
		tcpostgres.WithUsername("taxbot"),
		tcpostgres.WithPassword("taxbot"),
		tcpostgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, container)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}
	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get postgres dsn: %v", err)
	}
	return dsn
}

func startMySQL(ctx context.Context, t *testing.T) string {
	requireContainers(t)
	container, err := tcmysql.Run(ctx, "mysql:8.0",
		tcmysql.WithDatabase("taxbot"),
		tcmysql.WithUsername("taxbot"),
		tcmysql.WithPassword("taxbot"),
	)
	testcontainers.CleanupContainer(t, container)
	if err != nil {
		t.Fatalf("failed to start mysql container: %v", err)
	}
	dsn, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("failed to get mysql dsn: %v", err)
	}
	return dsn
}

// FixedClock returns a clock that reports t until advanced.
type FixedClock struct {
	T time.Time
}

func (c *FixedClock) Now() time.Time {
	return c.T
}

func (c *FixedClock) Advance(d time.Duration) {
	c.T = c.T.Add(d)
}
