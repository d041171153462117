package postgres_test

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-cloudfiles/pkg/swiftsim/catalog/catalogtest"
	"github.com/tendant/simple-cloudfiles/pkg/swiftsim/catalog/postgres"
)

func TestPostgresCatalog(t *testing.T) {
	connString := os.Getenv("TEST_DATABASE_URL")
	if connString == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, connString)
	require.NoError(t, err, "Failed to connect to test database")
	defer pool.Close()
	require.NoError(t, pool.Ping(ctx), "Failed to ping test database")

	cat := postgres.NewWithPool(pool)
	require.NoError(t, cat.Migrate(ctx))
	_, err = pool.Exec(ctx, `TRUNCATE swift_object, swift_container, swift_account`)
	require.NoError(t, err)

	catalogtest.Run(t, cat)
}
