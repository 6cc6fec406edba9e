package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quynguyen1908/MobileShop-Backend-sub000/internal/config"
)

func TestPoolComesFromConfig(t *testing.T) {
	p := PoolFrom(config.Config{DBMaxOpenConns: 40, DBMaxIdleConns: 8, DBConnMaxLifetime: 5 * time.Minute}).normalize()
	assert.Equal(t, 40, p.MaxOpenConns)
	assert.Equal(t, 8, p.MaxIdleConns)
	assert.Equal(t, 5*time.Minute, p.ConnMaxLifetime)
	assert.Equal(t, 3*time.Second, p.PingTimeout)
}

func TestPoolDefaultsAndClampsIdle(t *testing.T) {
	p := Pool{}.normalize()
	assert.Equal(t, 10, p.MaxOpenConns)
	assert.Equal(t, 5, p.MaxIdleConns)
	assert.Equal(t, 30*time.Minute, p.ConnMaxLifetime)

	p = Pool{MaxOpenConns: 4, MaxIdleConns: 20}.normalize()
	assert.Equal(t, 4, p.MaxIdleConns)
}

func TestOpenRequiresURL(t *testing.T) {
	_, err := Open(context.Background(), "", Pool{})
	assert.ErrorIs(t, err, ErrNoDatabaseURL)
}

func TestMigrationsAreEmbeddedInOrder(t *testing.T) {
	names, err := migrationFiles()
	require.NoError(t, err)
	require.NotEmpty(t, names)
	assert.Equal(t, "migrations/001_init.sql", names[0])
	assert.IsNonDecreasing(t, names)

	script, err := migrations.ReadFile(names[0])
	require.NoError(t, err)
	assert.Contains(t, string(script), "CREATE TABLE IF NOT EXISTS inventories")
}
