// Package reconcile is the Reconciliation Service: the policy layer that
// closes the gap between the Catalog Store and the Provider Adapters,
// periodically and on demand, per spec.md §4.5.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/justchokingaround/acquisitiond/internal/catalog"
	"github.com/justchokingaround/acquisitiond/internal/catalogerr"
	"github.com/justchokingaround/acquisitiond/internal/config"
	"github.com/justchokingaround/acquisitiond/internal/hls"
	"github.com/justchokingaround/acquisitiond/internal/provider"
	"github.com/justchokingaround/acquisitiond/internal/scheduler"
)

// probeWindowMin/Max bound the speculative-refresh window for episodic
// titles with no known gap, per spec.md §4.5. The choice of exactly
// 7-21 days is carried over unresolved, per spec.md §9's Open Question
// ("flag for re-evaluation" rather than picking a justified value).
const (
	probeWindowMin = 7 * 24 * time.Hour
	probeWindowMax = 21 * 24 * time.Hour
)

// Service ties the Catalog Store, Provider Registry, Download Scheduler
// and HLS Fetcher together. One process-wide instance, matching the
// teacher's single daemon-process shape.
type Service struct {
	store       *catalog.Store
	registry    *provider.Registry
	scheduler   *scheduler.Scheduler
	fetcher     hls.Fetcher
	destination config.DestinationsConfig

	gocron gocron.Scheduler
	logger *slog.Logger
}

// New builds a Service. The caller owns store/scheduler/fetcher lifetimes;
// Service reads from and writes to the store and submits jobs to the
// scheduler, but never closes or stops any of them.
func New(store *catalog.Store, registry *provider.Registry, sched *scheduler.Scheduler, fetcher hls.Fetcher, destinations config.DestinationsConfig, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}

	gs, err := gocron.NewScheduler()
	if err != nil {
		return nil, catalogerr.Wrap(catalogerr.ConfigError, "create gocron scheduler", err)
	}

	return &Service{
		store:       store,
		registry:    registry,
		scheduler:   sched,
		fetcher:     fetcher,
		destination: destinations,
		gocron:      gs,
		logger:      logger.With("component", "reconcile"),
	}, nil
}

// Start registers the periodic tick at interval and starts gocron. The
// tick is a plain duration job rather than a cron expression, since
// spec.md's tick is "a configurable interval (default daily)", not a cron
// schedule.
func (s *Service) Start(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 24 * time.Hour
	}

	_, err := s.gocron.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			s.runTick(ctx)
		}),
		gocron.WithName("reconcile-tick"),
	)
	if err != nil {
		return catalogerr.Wrap(catalogerr.ConfigError, "register reconcile tick", err)
	}

	s.gocron.Start()
	return nil
}

// Stop shuts the gocron scheduler down. It does not touch the Download
// Scheduler, which the caller owns independently.
func (s *Service) Stop() error {
	return s.gocron.Shutdown()
}

// runTick is the periodic-tick body: for every Title of every kind, in no
// specified order, decide whether to refresh and reconcile if so. Adapter
// failures are logged and do not abort the tick, per spec.md §4.5 step 2.
func (s *Service) runTick(ctx context.Context) {
	for _, kind := range []catalog.Kind{catalog.KindAnime, catalog.KindSeries, catalog.KindFilm} {
		titles, err := s.store.List(kind)
		if err != nil {
			s.logger.Error("list titles for tick", "kind", kind, "error", err)
			continue
		}
		for _, t := range titles {
			if err := s.ReconcileTitle(ctx, kind, t.Name, nil, false); err != nil {
				s.logger.Warn("reconcile title failed", "kind", kind, "name", t.Name, "error", err)
			}
		}
	}
}

// ReconcileTitle is the single entry point both the periodic tick and
// on-demand invocations call, per spec.md §4.5's "on-demand invocations
// ... same logic as the periodic tick, restricted to a single title and
// optionally a single season." A non-nil season restricts the diff to
// that season for episodic titles with a season dimension; it is ignored
// for flat-episodic and film titles.
func (s *Service) ReconcileTitle(ctx context.Context, kind catalog.Kind, name string, season *int, forced bool) error {
	title, err := s.store.Get(kind, name)
	if err != nil {
		return err
	}

	if !forced && !s.shouldRefresh(*title) {
		return nil
	}

	adapter, err := s.registry.Get(title.Provider)
	if err != nil {
		return err
	}

	inv, err := adapter.Resolve(ctx, title.ProviderRef)
	if err != nil {
		s.registry.MarkUnhealthy(title.Provider, err)
		return catalogerr.Wrap(catalogerr.ProviderUnavailable, "resolve inventory for "+name, err)
	}
	s.registry.MarkHealthy(title.Provider)

	missing := missingUnits(*title, inv, season)
	for _, unit := range missing {
		if err := s.submitJob(*title, adapter, unit); err != nil {
			s.logger.Warn("submit job failed", "name", name, "unit", unit, "error", err)
		}
	}

	return s.store.UpdateTotal(kind, name, inv.TotalUnits())
}

// shouldRefresh implements spec.md §4.5 step 1: refresh if there is a
// known gap, or if the title is episodic and last_refresh falls in the
// 7-21 day speculative-probe window.
func (s *Service) shouldRefresh(t catalog.Title) bool {
	if t.DownloadedUnits < t.TotalUnits {
		return true
	}
	if t.Kind == catalog.KindFilm {
		return false
	}
	age := time.Since(t.LastRefresh)
	return age >= probeWindowMin && age <= probeWindowMax
}

// missingUnits diffs inventory against downloaded progress, per spec.md
// §4.5 step 3. Episode numbers are floored before comparison. When
// season is non-nil the result is restricted to that season.
func missingUnits(t catalog.Title, inv provider.Inventory, season *int) []scheduler.UnitRef {
	if t.Kind == catalog.KindFilm {
		if t.DownloadedUnits > 0 {
			return nil
		}
		return []scheduler.UnitRef{{Film: true}}
	}

	if inv.Flat() {
		// The simple/flat adapter never populates ProgressMap (per
		// catalog.AnimeTitle's doc comment); downloaded_units is the sole
		// counter, so episodes are assumed downloaded in order.
		missing := make([]scheduler.UnitRef, 0)
		for ep := t.DownloadedUnits + 1; ep <= inv.UnitCount; ep++ {
			missing = append(missing, scheduler.UnitRef{Season: 0, Episode: ep, ProviderEpisodeRef: strconv.Itoa(ep)})
		}
		return missing
	}

	missing := make([]scheduler.UnitRef, 0)
	for _, s := range inv.Seasons {
		if season != nil && s.Number != *season {
			continue
		}
		for _, ep := range s.Episodes {
			n := ep.FlooredNumber()
			if !t.ProgressMap.Has(s.Number, n) {
				missing = append(missing, scheduler.UnitRef{Season: s.Number, Episode: n, ProviderEpisodeRef: ep.ProviderEpisodeRef})
			}
		}
	}
	return missing
}

// submitJob builds the run_fn closure described in spec.md §4.5 step 4:
// resolve the playlist, invoke the HLS Fetcher, then write the result
// back to the Catalog Store.
func (s *Service) submitJob(t catalog.Title, adapter provider.Adapter, unit scheduler.UnitRef) error {
	jobCtx, cancel := context.WithCancel(context.Background())

	sel := provider.UnitSelector{Film: unit.Film, Season: unit.Season, ProviderEpisodeRef: unit.ProviderEpisodeRef}
	outputPath := s.outputPath(t, unit)

	runFn := func(progress func(float64) bool) error {
		defer cancel()

		playlist, err := adapter.GetPlaylist(jobCtx, t.ProviderRef, sel)
		if err != nil {
			return fmt.Errorf("get playlist: %w", err)
		}

		onProgress := func(p hls.Progress) {
			if progress(p.Fraction) {
				cancel()
			}
		}

		if err := s.fetcher.Fetch(jobCtx, playlist.URL, playlist.Headers, outputPath, onProgress); err != nil {
			return fmt.Errorf("fetch: %w", err)
		}

		return s.recordCompletion(t, unit)
	}

	_, err := s.scheduler.Submit(
		scheduler.TitleRef{Kind: string(t.Kind), Name: t.Name},
		unit,
		runFn,
	)
	if err != nil {
		cancel()
	}
	return err
}

// recordCompletion writes a finished unit back to the Catalog Store, per
// spec.md §4.5 step 4(c). Episodes of the same title can complete
// concurrently (the scheduler runs up to P of them in parallel), so this
// never derives the new state from the t snapshot closed over by submitJob
// — that snapshot goes stale the moment a sibling unit finishes first. Both
// Store methods below re-read and update inside one DB-level transaction/
// statement instead.
func (s *Service) recordCompletion(t catalog.Title, unit scheduler.UnitRef) error {
	switch t.Kind {
	case catalog.KindSeries:
		if err := s.store.AddDownloadedUnit(t.Kind, t.Name, unit.Season, unit.Episode); err != nil {
			return err
		}
	default: // anime (flat-episodic) and film both use the plain counter
		if err := s.store.IncrementDownloaded(t.Kind, t.Name); err != nil {
			return err
		}
	}
	return s.store.UpdateLastRefresh(t.Kind, t.Name, time.Now())
}

// outputPath builds the destination path (without extension; the
// fetcher backend appends .mp4) per spec.md §6's filesystem layout.
func (s *Service) outputPath(t catalog.Title, unit scheduler.UnitRef) string {
	safeName := hls.SanitizeFilename(t.Name)

	switch t.Kind {
	case catalog.KindFilm:
		return filepath.Join(s.destination.FilmRoot, safeName, safeName)
	case catalog.KindSeries:
		seasonDir := fmt.Sprintf("S%02d", unit.Season)
		base := fmt.Sprintf("%s - S%02dE%02d", safeName, unit.Season, unit.Episode)
		return filepath.Join(s.destination.TVRoot, safeName, seasonDir, base)
	default: // anime
		base := fmt.Sprintf("%s - Episode %d", safeName, unit.Episode)
		return filepath.Join(s.destination.AnimeRoot, safeName, base)
	}
}
