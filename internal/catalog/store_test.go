package catalog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/justchokingaround/acquisitiond/internal/catalogerr"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, runMigrations(db))
	return &Store{db: db}
}

func TestAddAndGet(t *testing.T) {
	s := newTestStore(t)

	ok, err := s.Add(KindAnime, "Frieren", "allanime", "/play/frieren", 28, "2023")
	require.NoError(t, err)
	assert.True(t, ok)

	title, err := s.Get(KindAnime, "Frieren")
	require.NoError(t, err)
	assert.Equal(t, "allanime", title.Provider)
	assert.Equal(t, "/play/frieren", title.ProviderRef)
	assert.Equal(t, 28, title.TotalUnits)
	assert.Equal(t, KindAnime, title.Kind)
}

func TestAddDuplicateNameFails(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Add(KindAnime, "Frieren", "allanime", "/play/frieren", 28, "2023")
	require.NoError(t, err)

	_, err = s.Add(KindAnime, "Frieren", "allanime", "/play/frieren", 28, "2023")
	require.Error(t, err)
	assert.True(t, catalogerr.Is(err, catalogerr.Duplicate))
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(KindAnime, "Nonexistent")
	require.Error(t, err)
	assert.True(t, catalogerr.Is(err, catalogerr.NotFound))
}

func TestSearchCaseInsensitiveSubstring(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Add(KindSeries, "Breaking Bad", "streamingcommunity", "abc123/breaking-bad/en", 62, "2008")
	require.NoError(t, err)

	title, err := s.Search(KindSeries, "break")
	require.NoError(t, err)
	assert.Equal(t, "Breaking Bad", title.Name)
}

func TestListOrderedByName(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Add(KindAnime, "Zeta", "allanime", "/z", 1, "")
	require.NoError(t, err)
	_, err = s.Add(KindAnime, "Alpha", "allanime", "/a", 1, "")
	require.NoError(t, err)

	titles, err := s.List(KindAnime)
	require.NoError(t, err)
	require.Len(t, titles, 2)
	assert.Equal(t, "Alpha", titles[0].Name)
	assert.Equal(t, "Zeta", titles[1].Name)
}

func TestUpdateProgressMapRecomputesDownloadedUnits(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Add(KindSeries, "Show", "streamingcommunity", "ref", 24, "")
	require.NoError(t, err)

	pm := ProgressMap{}.WithDownloaded(1, 1, 12).WithDownloaded(1, 2, 12).WithDownloaded(2, 1, 12)
	require.NoError(t, s.UpdateProgressMap(KindSeries, "Show", pm))

	title, err := s.Get(KindSeries, "Show")
	require.NoError(t, err)
	assert.Equal(t, 3, title.DownloadedUnits)
	assert.True(t, title.ProgressMap.Has(1, 1))
	assert.True(t, title.ProgressMap.Has(2, 1))
	assert.False(t, title.ProgressMap.Has(2, 2))
}

func TestUpdateLastRefresh(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Add(KindFilm, "A Film", "streamingcommunity", "ref", 1, "2020")
	require.NoError(t, err)

	ts := time.Now().Truncate(time.Second)
	require.NoError(t, s.UpdateLastRefresh(KindFilm, "A Film", ts))

	title, err := s.Get(KindFilm, "A Film")
	require.NoError(t, err)
	assert.WithinDuration(t, ts, title.LastRefresh, time.Second)
}

func TestUpdateMissingTitleReturnsNotFound(t *testing.T) {
	s := newTestStore(t)
	err := s.UpdateTotal(KindAnime, "Nope", 10)
	require.Error(t, err)
	assert.True(t, catalogerr.Is(err, catalogerr.NotFound))
}

func TestRemove(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Add(KindAnime, "Gone", "allanime", "/g", 1, "")
	require.NoError(t, err)

	ok, err := s.Remove(KindAnime, "Gone")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Remove(KindAnime, "Gone")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPendingFilms(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Add(KindFilm, "Downloaded", "streamingcommunity", "r1", 1, "")
	require.NoError(t, err)
	_, err = s.Add(KindFilm, "Pending", "streamingcommunity", "r2", 1, "")
	require.NoError(t, err)
	require.NoError(t, s.UpdateProgress(KindFilm, "Downloaded", 1))

	pending, err := s.PendingFilms()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "Pending", pending[0].Name)
}
