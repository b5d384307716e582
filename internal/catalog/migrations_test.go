package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func TestRunMigrationsCreatesAllTables(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, runMigrations(db))

	for _, table := range []string{"anime", "tv", "movies", "migrations"} {
		assert.True(t, db.Migrator().HasTable(table), "expected table %s to exist", table)
	}
	assert.True(t, db.Migrator().HasColumn(&TVTitle{}, "seasons_data"))
}

func TestRunMigrationsIsIdempotent(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, runMigrations(db))
	require.NoError(t, runMigrations(db))

	var count int64
	require.NoError(t, db.Table("migrations").Count(&count).Error)
	ledger, err := loadLedger()
	require.NoError(t, err)
	assert.Equal(t, int64(len(ledger)), count)
}

func TestParseMigrationFilename(t *testing.T) {
	id, desc, ok := parseMigrationFilename("4_add_seasons_data.sql")
	require.True(t, ok)
	assert.Equal(t, 4, id)
	assert.Equal(t, "add_seasons_data", desc)

	_, _, ok = parseMigrationFilename("not_a_valid_name.sql")
	assert.False(t, ok)
}

func TestLedgerHasNoDuplicateIDs(t *testing.T) {
	ledger, err := loadLedger()
	require.NoError(t, err)
	seen := map[int]bool{}
	for _, m := range ledger {
		assert.False(t, seen[m.id], "duplicate id %d", m.id)
		seen[m.id] = true
	}
}
