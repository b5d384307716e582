package catalog

import (
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/justchokingaround/acquisitiond/internal/catalogerr"
)

// Store is the durable, concurrency-safe CRUD surface over Titles. It
// dispatches to the correct GORM model/table by Kind, unifying the three
// per-kind tables (anime, tv, movies) behind one API, the same way the
// teacher unifies its per-kind history rows behind a single Downloader
// interface.
type Store struct {
	db *gorm.DB
}

// Open runs the migration ledger against path and returns a ready Store.
// WAL mode, foreign keys and incremental auto-vacuum are set on connect,
// ported in spirit from the teacher's database.go PRAGMA block.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, catalogerr.Wrap(catalogerr.StorageFailure, "open catalog database", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA auto_vacuum=INCREMENTAL",
		"PRAGMA busy_timeout=5000",
	} {
		if err := db.Exec(pragma).Error; err != nil {
			return nil, catalogerr.Wrap(catalogerr.StorageFailure, "set pragma "+pragma, err)
		}
	}

	if err := runMigrations(db); err != nil {
		return nil, catalogerr.Wrap(catalogerr.StorageFailure, "run migrations", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return catalogerr.Wrap(catalogerr.StorageFailure, "get underlying sql.DB", err)
	}
	return sqlDB.Close()
}

// modelFor returns a fresh model pointer for kind, used both for table
// selection and as the Find/Create target.
func modelFor(kind Kind) (interface{ TableName() string }, error) {
	switch kind {
	case KindAnime:
		return &AnimeTitle{}, nil
	case KindSeries:
		return &TVTitle{}, nil
	case KindFilm:
		return &MovieTitle{}, nil
	default:
		return nil, catalogerr.New(catalogerr.ConfigError, fmt.Sprintf("unknown kind %q", kind))
	}
}

// Add inserts a new Title. It fails with a Duplicate-kind error if a Title
// with the same (kind, name) already exists, per invariant I6 (kind and
// provider are fixed at creation; there is no update path for either).
func (s *Store) Add(kind Kind, name, provider, providerRef string, totalUnits int, year string) (bool, error) {
	m, err := modelFor(kind)
	if err != nil {
		return false, err
	}

	var count int64
	if err := s.db.Table(m.TableName()).Where("name = ?", name).Count(&count).Error; err != nil {
		return false, catalogerr.Wrap(catalogerr.StorageFailure, "check existing title", err)
	}
	if count > 0 {
		return false, catalogerr.New(catalogerr.Duplicate, fmt.Sprintf("title %q already exists", name))
	}

	row := Title{
		Name:        name,
		Provider:    provider,
		ProviderRef: providerRef,
		Year:        year,
		TotalUnits:  totalUnits,
		LastRefresh: time.Now(),
	}

	// Each per-kind table carries only its own kind-specific columns:
	// seasons_data exists on tv only, scaricato on movies only.
	var omit []string
	switch kind {
	case KindAnime:
		omit = []string{"seasons_data", "scaricato"}
	case KindSeries:
		omit = []string{"scaricato"}
	case KindFilm:
		omit = []string{"seasons_data"}
	}
	if err := s.db.Table(m.TableName()).Omit(omit...).Create(&row).Error; err != nil {
		return false, catalogerr.Wrap(catalogerr.StorageFailure, "insert title", err)
	}
	return true, nil
}

// Get returns the Title with exactly this name, or a NotFound error.
func (s *Store) Get(kind Kind, name string) (*Title, error) {
	m, err := modelFor(kind)
	if err != nil {
		return nil, err
	}

	var row Title
	err = s.db.Table(m.TableName()).Where("name = ?", name).First(&row).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, catalogerr.New(catalogerr.NotFound, fmt.Sprintf("title %q not found", name))
		}
		return nil, catalogerr.Wrap(catalogerr.StorageFailure, "get title", err)
	}
	row.Kind = kind
	return &row, nil
}

// Search returns the first Title whose name contains substr, case
// insensitively. Used for user-facing partial-name lookups.
func (s *Store) Search(kind Kind, substr string) (*Title, error) {
	m, err := modelFor(kind)
	if err != nil {
		return nil, err
	}

	var row Title
	like := "%" + strings.ToLower(substr) + "%"
	err = s.db.Table(m.TableName()).Where("LOWER(name) LIKE ?", like).Order("name").First(&row).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, catalogerr.New(catalogerr.NotFound, fmt.Sprintf("no title matching %q", substr))
		}
		return nil, catalogerr.Wrap(catalogerr.StorageFailure, "search title", err)
	}
	row.Kind = kind
	return &row, nil
}

// List returns every Title of kind, ordered by name.
func (s *Store) List(kind Kind) ([]Title, error) {
	m, err := modelFor(kind)
	if err != nil {
		return nil, err
	}

	var rows []Title
	if err := s.db.Table(m.TableName()).Order("name").Find(&rows).Error; err != nil {
		return nil, catalogerr.Wrap(catalogerr.StorageFailure, "list titles", err)
	}
	for i := range rows {
		rows[i].Kind = kind
	}
	return rows, nil
}

// UpdateProgress sets downloaded_units directly. Callers that track
// per-season progress should go through UpdateProgressMap instead, which
// derives downloaded_units from the map (invariant I2).
func (s *Store) UpdateProgress(kind Kind, name string, downloadedUnits int) error {
	m, err := modelFor(kind)
	if err != nil {
		return err
	}
	res := s.db.Table(m.TableName()).Where("name = ?", name).
		Update("episodi_scaricati", downloadedUnits)
	return finishUpdate(res, name)
}

// UpdateTotal sets total_units.
func (s *Store) UpdateTotal(kind Kind, name string, totalUnits int) error {
	m, err := modelFor(kind)
	if err != nil {
		return err
	}
	res := s.db.Table(m.TableName()).Where("name = ?", name).
		Update("numero_episodi", totalUnits)
	return finishUpdate(res, name)
}

// UpdateLastRefresh sets last_refresh.
func (s *Store) UpdateLastRefresh(kind Kind, name string, ts time.Time) error {
	m, err := modelFor(kind)
	if err != nil {
		return err
	}
	res := s.db.Table(m.TableName()).Where("name = ?", name).
		Update("last_update", ts)
	return finishUpdate(res, name)
}

// UpdateProgressMap replaces progress_map and recomputes downloaded_units
// from it in the same transaction, preserving invariant I2.
func (s *Store) UpdateProgressMap(kind Kind, name string, pm ProgressMap) error {
	m, err := modelFor(kind)
	if err != nil {
		return err
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Table(m.TableName()).Where("name = ?", name).Updates(map[string]interface{}{
			"seasons_data":      pm,
			"episodi_scaricati": pm.DownloadedCount(),
		})
		return finishUpdate(res, name)
	})
}

// IncrementDownloaded atomically adds one to downloaded_units via a
// single UPDATE ... SET col = col + 1 statement, for kinds that track
// progress as a plain counter rather than a per-season map (flat-episodic
// titles and films). Concurrent completions for the same title are safe
// without a read-modify-write round trip because the increment happens
// inside the database's own row lock.
func (s *Store) IncrementDownloaded(kind Kind, name string) error {
	m, err := modelFor(kind)
	if err != nil {
		return err
	}
	res := s.db.Table(m.TableName()).Where("name = ?", name).
		Update("episodi_scaricati", gorm.Expr("episodi_scaricati + 1"))
	return finishUpdate(res, name)
}

// AddDownloadedUnit marks (season, episode) as downloaded in the
// per-season progress map, reading the current map and re-deriving
// downloaded_units inside one transaction so concurrent completions for
// distinct episodes of the same title never lose each other's update
// (invariant I2). Only valid for kinds whose table carries seasons_data
// (series); calling it for a kind without that column is a programming
// error, not a recoverable one.
func (s *Store) AddDownloadedUnit(kind Kind, name string, season, episode int) error {
	m, err := modelFor(kind)
	if err != nil {
		return err
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		var row Title
		if err := tx.Table(m.TableName()).Where("name = ?", name).First(&row).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return catalogerr.New(catalogerr.NotFound, fmt.Sprintf("title %q not found", name))
			}
			return catalogerr.Wrap(catalogerr.StorageFailure, "read title for progress update", err)
		}
		pm := row.ProgressMap.WithDownloaded(season, episode, 0)
		res := tx.Table(m.TableName()).Where("name = ?", name).Updates(map[string]interface{}{
			"seasons_data":      pm,
			"episodi_scaricati": pm.DownloadedCount(),
		})
		return finishUpdate(res, name)
	})
}

// Remove deletes the Title, returning false (not an error) if it did not
// exist. Directory-subtree removal on disk is the caller's responsibility
// (best-effort, idempotent, out of this Store's scope).
func (s *Store) Remove(kind Kind, name string) (bool, error) {
	m, err := modelFor(kind)
	if err != nil {
		return false, err
	}
	res := s.db.Table(m.TableName()).Where("name = ?", name).Delete(&struct{}{})
	if res.Error != nil {
		return false, catalogerr.Wrap(catalogerr.StorageFailure, "remove title", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// PendingFilms returns every film Title with downloaded_units == 0.
func (s *Store) PendingFilms() ([]Title, error) {
	var rows []Title
	if err := s.db.Table(MovieTitle{}.TableName()).
		Where("episodi_scaricati = 0").Order("name").Find(&rows).Error; err != nil {
		return nil, catalogerr.Wrap(catalogerr.StorageFailure, "list pending films", err)
	}
	for i := range rows {
		rows[i].Kind = KindFilm
	}
	return rows, nil
}

func finishUpdate(res *gorm.DB, name string) error {
	if res.Error != nil {
		return catalogerr.Wrap(catalogerr.StorageFailure, "update title", res.Error)
	}
	if res.RowsAffected == 0 {
		return catalogerr.New(catalogerr.NotFound, fmt.Sprintf("title %q not found", name))
	}
	return nil
}
