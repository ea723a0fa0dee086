package migrations

import (
	"io"
	"testing"

	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	src, err := iofs.New(sqlFS, "sql")
	require.NoError(t, err)
	t.Cleanup(func() { _ = src.Close() })

	version, err := src.First()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)

	for {
		up, _, err := src.ReadUp(version)
		require.NoError(t, err, "missing up migration for %d", version)
		body, err := io.ReadAll(up)
		require.NoError(t, err)
		up.Close()
		assert.NotEmpty(t, body)

		down, _, err := src.ReadDown(version)
		require.NoError(t, err, "missing down migration for %d", version)
		down.Close()

		next, err := src.Next(version)
		if err != nil {
			break
		}
		version = next
	}
}

func TestInitialSchemaTables(t *testing.T) {
	body, err := sqlFS.ReadFile("sql/000001_init_schema.up.sql")
	require.NoError(t, err)

	for _, table := range []string{"profiles", "subscribers", "guilds", "premium_servers", "invite_logs", "activity_logs"} {
		assert.Contains(t, string(body), "CREATE TABLE IF NOT EXISTS "+table+" ")
	}
	assert.Contains(t, string(body), "email TEXT NOT NULL UNIQUE")
	assert.Contains(t, string(body), "PRIMARY KEY (id, user_id)")
}
