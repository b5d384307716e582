package catalog

import (
	"embed"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"

	"gorm.io/gorm"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// migration is one entry in the monotonic ledger spec.md §4.1 requires:
// an integer id, a description, and a DDL payload. Ids are never reused or
// reordered (enforced by the filename convention: "<id>_<description>.sql").
type migration struct {
	id          int
	description string
	sql         string
}

// runMigrations reads the ledger and executes every unapplied entry in id
// order, each inside its own transaction, recording success before moving
// on. Column-add migrations tolerate re-execution: a "duplicate column"
// error is swallowed rather than aborting startup, matching the teacher's
// internal/database/migrations.go behavior. Any other error aborts startup
// (Open wraps it as StorageFailure and returns no Store).
func runMigrations(db *gorm.DB) error {
	if err := db.Exec(`
		CREATE TABLE IF NOT EXISTS migrations (
			id INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`).Error; err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	ledger, err := loadLedger()
	if err != nil {
		return fmt.Errorf("failed to load migration ledger: %w", err)
	}

	applied, err := appliedIDs(db)
	if err != nil {
		return fmt.Errorf("failed to read applied migrations: %w", err)
	}

	for _, m := range ledger {
		if applied[m.id] {
			continue
		}
		if err := applyMigration(db, m); err != nil {
			return fmt.Errorf("failed to apply migration %d (%s): %w", m.id, m.description, err)
		}
	}

	return nil
}

func loadLedger() ([]migration, error) {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return nil, err
	}

	var ledger []migration
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		id, description, ok := parseMigrationFilename(entry.Name())
		if !ok {
			return nil, fmt.Errorf("migration filename %q does not match '<id>_<description>.sql'", entry.Name())
		}

		content, err := migrationsFS.ReadFile(path.Join("migrations", entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read migration %s: %w", entry.Name(), err)
		}

		ledger = append(ledger, migration{id: id, description: description, sql: string(content)})
	}

	sort.Slice(ledger, func(i, j int) bool { return ledger[i].id < ledger[j].id })

	for i := 1; i < len(ledger); i++ {
		if ledger[i].id == ledger[i-1].id {
			return nil, fmt.Errorf("duplicate migration id %d", ledger[i].id)
		}
	}

	return ledger, nil
}

func parseMigrationFilename(filename string) (id int, description string, ok bool) {
	base := strings.TrimSuffix(filename, ".sql")
	parts := strings.SplitN(base, "_", 2)
	if len(parts) != 2 {
		return 0, "", false
	}
	n, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, "", false
	}
	return n, parts[1], true
}

func appliedIDs(db *gorm.DB) (map[int]bool, error) {
	var rows []struct {
		ID int `gorm:"column:id"`
	}
	if err := db.Table("migrations").Find(&rows).Error; err != nil {
		return nil, err
	}
	applied := make(map[int]bool, len(rows))
	for _, r := range rows {
		applied[r.ID] = true
	}
	return applied, nil
}

func applyMigration(db *gorm.DB, m migration) error {
	tx := db.Begin()
	if tx.Error != nil {
		return tx.Error
	}

	if err := tx.Exec(m.sql).Error; err != nil {
		if isDuplicateColumnError(err) {
			tx.Rollback()
			return db.Exec(
				"INSERT INTO migrations (id, description) VALUES (?, ?)",
				m.id, m.description,
			).Error
		}
		tx.Rollback()
		return err
	}

	if err := tx.Exec(
		"INSERT INTO migrations (id, description) VALUES (?, ?)",
		m.id, m.description,
	).Error; err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit().Error
}

// isDuplicateColumnError matches sqlite's "duplicate column name" error,
// which fires when a column-add migration re-runs against a database that
// already has the column (e.g. a fresh install whose base schema already
// includes it). Any other failure aborts the migration.
func isDuplicateColumnError(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "duplicate column name")
}
