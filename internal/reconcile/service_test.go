package reconcile

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justchokingaround/acquisitiond/internal/catalog"
	"github.com/justchokingaround/acquisitiond/internal/config"
	"github.com/justchokingaround/acquisitiond/internal/hls"
	"github.com/justchokingaround/acquisitiond/internal/provider"
	"github.com/justchokingaround/acquisitiond/internal/scheduler"
)

type fakeAdapter struct {
	id         string
	inventory  provider.Inventory
	resolveErr error

	mu          sync.Mutex
	gotSelector []provider.UnitSelector
}

func (f *fakeAdapter) AdapterID() string { return f.id }

func (f *fakeAdapter) Search(ctx context.Context, query string) ([]provider.SearchHit, error) {
	return nil, nil
}

func (f *fakeAdapter) Resolve(ctx context.Context, providerRef string) (provider.Inventory, error) {
	if f.resolveErr != nil {
		return provider.Inventory{}, f.resolveErr
	}
	return f.inventory, nil
}

func (f *fakeAdapter) GetPlaylist(ctx context.Context, providerRef string, unit provider.UnitSelector) (provider.PlaylistURL, error) {
	f.mu.Lock()
	f.gotSelector = append(f.gotSelector, unit)
	f.mu.Unlock()
	return provider.PlaylistURL{URL: "https://example.test/master.m3u8", ExpiresAt: time.Now().Add(time.Minute)}, nil
}

func (f *fakeAdapter) selectors() []provider.UnitSelector {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]provider.UnitSelector(nil), f.gotSelector...)
}

type fakeFetcher struct{}

func (f *fakeFetcher) Fetch(ctx context.Context, url string, headers map[string]string, outputPath string, onProgress hls.ProgressFunc) error {
	if onProgress != nil {
		onProgress(hls.Progress{Fraction: 1})
	}
	return nil
}

func newTestService(t *testing.T, adapter provider.Adapter) (*Service, *catalog.Store, *scheduler.Scheduler) {
	t.Helper()

	store, err := catalog.Open(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)

	registry := provider.NewRegistry()
	require.NoError(t, registry.Register(adapter))

	sched := scheduler.New(3, slog.Default())
	t.Cleanup(sched.Stop)

	dest := config.DestinationsConfig{
		AnimeRoot: filepath.Join(t.TempDir(), "anime"),
		TVRoot:    filepath.Join(t.TempDir(), "tv"),
		FilmRoot:  filepath.Join(t.TempDir(), "film"),
	}

	svc, err := New(store, registry, sched, &fakeFetcher{}, dest, slog.Default())
	require.NoError(t, err)

	return svc, store, sched
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.True(t, cond(), "condition not met within %s", timeout)
}

func TestReconcileTitleDownloadsAllMissingAnimeEpisodes(t *testing.T) {
	adapter := &fakeAdapter{id: "allanime", inventory: provider.Inventory{UnitCount: 3}}
	svc, store, _ := newTestService(t, adapter)

	_, err := store.Add(catalog.KindAnime, "X", "allanime", "/play/x.1", 3, "2024")
	require.NoError(t, err)

	require.NoError(t, svc.ReconcileTitle(context.Background(), catalog.KindAnime, "X", nil, true))

	waitFor(t, 2*time.Second, func() bool {
		title, err := store.Get(catalog.KindAnime, "X")
		return err == nil && title.DownloadedUnits == 3
	})

	var gotRefs []string
	for _, sel := range adapter.selectors() {
		gotRefs = append(gotRefs, sel.ProviderEpisodeRef)
	}
	assert.ElementsMatch(t, []string{"1", "2", "3"}, gotRefs, "each episode must resolve with its own provider episode ref, not a blank one")
}

func TestMissingUnitsSkipsAlreadyDownloadedEpisodes(t *testing.T) {
	adapter := &fakeAdapter{id: "allanime", inventory: provider.Inventory{UnitCount: 3}}
	svc, store, _ := newTestService(t, adapter)

	_, err := store.Add(catalog.KindAnime, "X", "allanime", "/play/x.1", 3, "2024")
	require.NoError(t, err)
	require.NoError(t, store.UpdateProgress(catalog.KindAnime, "X", 1))

	missing := missingUnits(mustTitle(t, store, catalog.KindAnime, "X"), adapter.inventory, nil)
	require.Len(t, missing, 2)
	assert.Equal(t, 2, missing[0].Episode)
	assert.Equal(t, 3, missing[1].Episode)

	_ = svc
}

func TestMissingUnitsFloorsDecimalEpisodeNumbers(t *testing.T) {
	title := catalog.Title{Kind: catalog.KindSeries}
	inv := provider.Inventory{Seasons: []provider.Season{
		{Number: 1, Episodes: []provider.Episode{{Number: 1}, {Number: 2.5}}},
	}}

	missing := missingUnits(title, inv, nil)
	require.Len(t, missing, 2)
	assert.Equal(t, 1, missing[0].Episode)
	assert.Equal(t, 2, missing[1].Episode, "episode 2.5 floors to 2")
}

func TestMissingUnitsPopulatesProviderEpisodeRef(t *testing.T) {
	flatTitle := catalog.Title{Kind: catalog.KindAnime}
	flatMissing := missingUnits(flatTitle, provider.Inventory{UnitCount: 2}, nil)
	require.Len(t, flatMissing, 2)
	assert.Equal(t, "1", flatMissing[0].ProviderEpisodeRef)
	assert.Equal(t, "2", flatMissing[1].ProviderEpisodeRef)

	seasonTitle := catalog.Title{Kind: catalog.KindSeries}
	seasonInv := provider.Inventory{Seasons: []provider.Season{
		{Number: 1, Episodes: []provider.Episode{{Number: 1, ProviderEpisodeRef: "ref-1"}}},
	}}
	seasonMissing := missingUnits(seasonTitle, seasonInv, nil)
	require.Len(t, seasonMissing, 1)
	assert.Equal(t, "ref-1", seasonMissing[0].ProviderEpisodeRef)
}

func TestMissingUnitsRestrictsToRequestedSeason(t *testing.T) {
	title := catalog.Title{Kind: catalog.KindSeries}
	inv := provider.Inventory{Seasons: []provider.Season{
		{Number: 1, Episodes: []provider.Episode{{Number: 1}}},
		{Number: 2, Episodes: []provider.Episode{{Number: 1}}},
	}}

	season := 2
	missing := missingUnits(title, inv, &season)
	require.Len(t, missing, 1)
	assert.Equal(t, 2, missing[0].Season)
}

func TestMissingUnitsFilm(t *testing.T) {
	notDownloaded := catalog.Title{Kind: catalog.KindFilm, DownloadedUnits: 0}
	missing := missingUnits(notDownloaded, provider.Inventory{UnitCount: 1}, nil)
	require.Len(t, missing, 1)
	assert.True(t, missing[0].Film)

	downloaded := catalog.Title{Kind: catalog.KindFilm, DownloadedUnits: 1}
	assert.Empty(t, missingUnits(downloaded, provider.Inventory{UnitCount: 1}, nil))
}

func TestShouldRefreshKnownGap(t *testing.T) {
	svc := &Service{}
	title := catalog.Title{Kind: catalog.KindAnime, TotalUnits: 5, DownloadedUnits: 2, LastRefresh: time.Now()}
	assert.True(t, svc.shouldRefresh(title))
}

func TestShouldRefreshProbeWindow(t *testing.T) {
	svc := &Service{}

	tooRecent := catalog.Title{Kind: catalog.KindAnime, TotalUnits: 5, DownloadedUnits: 5, LastRefresh: time.Now().Add(-3 * 24 * time.Hour)}
	assert.False(t, svc.shouldRefresh(tooRecent))

	inWindow := catalog.Title{Kind: catalog.KindAnime, TotalUnits: 5, DownloadedUnits: 5, LastRefresh: time.Now().Add(-10 * 24 * time.Hour)}
	assert.True(t, svc.shouldRefresh(inWindow))

	tooOld := catalog.Title{Kind: catalog.KindAnime, TotalUnits: 5, DownloadedUnits: 5, LastRefresh: time.Now().Add(-30 * 24 * time.Hour)}
	assert.False(t, svc.shouldRefresh(tooOld))
}

func TestShouldRefreshFilmNeverSpeculates(t *testing.T) {
	svc := &Service{}
	title := catalog.Title{Kind: catalog.KindFilm, TotalUnits: 1, DownloadedUnits: 1, LastRefresh: time.Now().Add(-10 * 24 * time.Hour)}
	assert.False(t, svc.shouldRefresh(title))
}

func TestOutputPathMatchesFilesystemLayout(t *testing.T) {
	svc := &Service{destination: config.DestinationsConfig{AnimeRoot: "/anime", TVRoot: "/tv", FilmRoot: "/film"}}

	anime := svc.outputPath(catalog.Title{Kind: catalog.KindAnime, Name: "X"}, scheduler.UnitRef{Episode: 2})
	assert.Equal(t, filepath.Join("/anime", "X", "X - Episode 2"), anime)

	series := svc.outputPath(catalog.Title{Kind: catalog.KindSeries, Name: "Y"}, scheduler.UnitRef{Season: 1, Episode: 3})
	assert.Equal(t, filepath.Join("/tv", "Y", "S01", "Y - S01E03"), series)

	film := svc.outputPath(catalog.Title{Kind: catalog.KindFilm, Name: "Z"}, scheduler.UnitRef{Film: true})
	assert.Equal(t, filepath.Join("/film", "Z", "Z"), film)
}

func TestReconcileTitleDownloadsSeriesEpisodesIntoProgressMap(t *testing.T) {
	adapter := &fakeAdapter{id: "streamingcommunity", inventory: provider.Inventory{Seasons: []provider.Season{
		{Number: 1, Episodes: []provider.Episode{
			{Number: 1, ProviderEpisodeRef: "9001"},
			{Number: 2, ProviderEpisodeRef: "9002"},
		}},
	}}}
	svc, store, _ := newTestService(t, adapter)

	_, err := store.Add(catalog.KindSeries, "Y", "streamingcommunity", "/play/y.1", 2, "2024")
	require.NoError(t, err)

	require.NoError(t, svc.ReconcileTitle(context.Background(), catalog.KindSeries, "Y", nil, true))

	waitFor(t, 2*time.Second, func() bool {
		title, err := store.Get(catalog.KindSeries, "Y")
		return err == nil && title.DownloadedUnits == 2 &&
			title.ProgressMap.Has(1, 1) && title.ProgressMap.Has(1, 2)
	})

	var gotRefs []string
	for _, sel := range adapter.selectors() {
		gotRefs = append(gotRefs, sel.ProviderEpisodeRef)
	}
	assert.ElementsMatch(t, []string{"9001", "9002"}, gotRefs, "each episode must resolve with the adapter's own opaque ref, not the floored episode number")
}

func mustTitle(t *testing.T, store *catalog.Store, kind catalog.Kind, name string) catalog.Title {
	t.Helper()
	title, err := store.Get(kind, name)
	require.NoError(t, err)
	return *title
}
