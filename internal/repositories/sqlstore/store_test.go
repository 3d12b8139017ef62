package sqlstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/hanko-field/commerce/internal/platform/config"
	"github.com/hanko-field/commerce/internal/platform/sqldb"
	"github.com/hanko-field/commerce/internal/repositories"
)

func openTestStore(t *testing.T) (*gorm.DB, *Registry) {
	t.Helper()
	db, err := sqldb.Open(context.Background(), config.DatabaseConfig{
		Driver:       sqldb.DriverSQLite,
		DSN:          filepath.Join(t.TempDir(), "store.db"),
		MaxOpenConns: 1,
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqldb.Close(db) })
	require.NoError(t, Migrate(context.Background(), db))

	reg, err := NewRegistry(db)
	require.NoError(t, err)
	return db, reg
}

func money(t *testing.T, raw string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(raw)
	require.NoError(t, err)
	return d
}

func requireNotFound(t *testing.T, err error) {
	t.Helper()
	require.Error(t, err)
	var repoErr repositories.RepositoryError
	require.True(t, errors.As(err, &repoErr), "expected repository error, got %T", err)
	require.True(t, repoErr.IsNotFound(), "expected not found, got %v", err)
}
