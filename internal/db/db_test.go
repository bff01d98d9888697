package db

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationsArePaired(t *testing.T) {
	names, err := fs.Glob(migrations, "migrations/*.sql")
	require.NoError(t, err)
	require.NotEmpty(t, names)

	ups, downs := 0, 0
	for _, n := range names {
		switch {
		case strings.HasSuffix(n, ".up.sql"):
			ups++
			_, err := fs.Stat(migrations, strings.TrimSuffix(n, ".up.sql")+".down.sql")
			assert.NoError(t, err, n)
		case strings.HasSuffix(n, ".down.sql"):
			downs++
		}
	}
	assert.Equal(t, ups, downs)
}

func TestMigrationsSourceOpens(t *testing.T) {
	src, err := iofs.New(migrations, "migrations")
	require.NoError(t, err)
	defer src.Close()

	first, err := src.First()
	require.NoError(t, err)
	assert.Equal(t, uint(1), first)
}

func TestInitMigrationCreatesTables(t *testing.T) {
	raw, err := fs.ReadFile(migrations, "migrations/000001_init.up.sql")
	require.NoError(t, err)
	sql := string(raw)

	for _, table := range []string{"documents", "company_relationships", "extraction_runs", "app_locks"} {
		assert.Contains(t, sql, "CREATE TABLE IF NOT EXISTS "+table+" ")
	}
	assert.Contains(t, sql, "vector(1536)")
	assert.Contains(t, sql, "snapshot_version_seq")
}
