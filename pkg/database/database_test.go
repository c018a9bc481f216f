package database

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/scorebook/pkg/config"
)

func TestSQLiteDSN(t *testing.T) {
	assert.Equal(t, "file:grades.db?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", sqliteDSN("grades.db"))
	assert.Equal(t, "file:grades.db?mode=rwc&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", sqliteDSN("file:grades.db?mode=rwc"))
	assert.Equal(t, "file:x.db?_pragma=journal_mode(WAL)", sqliteDSN("file:x.db?_pragma=journal_mode(WAL)"))
}

func TestOpenSQLiteCreatesParentAndEnforcesForeignKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "grades.db")
	db, err := Open(config.DatabaseConfig{Driver: DriverSQLite, DSN: path})
	require.NoError(t, err)
	defer db.Close()

	var enabled int
	require.NoError(t, db.Get(&enabled, "PRAGMA foreign_keys"))
	assert.Equal(t, 1, enabled)
	assert.Equal(t, "?", db.Rebind("?"))
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(config.DatabaseConfig{Driver: "oracle", DSN: "x"})
	assert.Error(t, err)

	_, err = Open(config.DatabaseConfig{Driver: DriverPostgres})
	assert.Error(t, err)
}
