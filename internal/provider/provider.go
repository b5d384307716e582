// Package provider defines the narrow capability contract the acquisition
// engine depends on for every upstream source, and a registry for the
// concrete adapters that implement it.
package provider

import (
	"context"
	"time"
)

// Kind mirrors catalog.Kind without importing it, keeping this package free
// of a dependency on the catalog package (adapters are called by name and
// opaque ref, never by catalog row).
type Kind string

const (
	KindAnime  Kind = "anime"
	KindSeries Kind = "series"
	KindFilm   Kind = "film"
)

// SearchHit is one candidate result from Adapter.Search.
type SearchHit struct {
	Ref      string `json:"ref"`
	Name     string `json:"name"`
	Year     string `json:"year,omitempty"`
	KindHint Kind   `json:"kind_hint"`
}

// Episode is a transient value materialized on demand from an adapter; it
// is never persisted on its own (only progress derived from it is).
type Episode struct {
	Season              int           `json:"season,omitempty"`
	Number              float64       `json:"number"`
	ProviderEpisodeRef  string        `json:"provider_episode_ref"`
	DurationSeconds     time.Duration `json:"duration_seconds,omitempty"`
}

// FlooredNumber returns Number floored to an int for diffing purposes, per
// spec.md §4.5: "episode numbering from adapters that report decimals is
// floored to integer before diffing."
func (e Episode) FlooredNumber() int {
	return int(e.Number)
}

// Season is one entry of a structured adapter's season-list inventory.
type Season struct {
	Number   int       `json:"number"`
	Episodes []Episode `json:"episodes"`
}

// Inventory is the result of Adapter.Resolve. Exactly one of the two
// shapes applies depending on what the adapter reports: a flat unit count
// (film, or the simple/flat adapter's episodic titles), or a season list
// (the structured adapter's episodic titles).
type Inventory struct {
	UnitCount int      `json:"unit_count,omitempty"`
	Seasons   []Season `json:"seasons,omitempty"`
}

// Flat reports whether this Inventory has no season dimension.
func (inv Inventory) Flat() bool { return len(inv.Seasons) == 0 }

// TotalUnits returns the inventory size regardless of shape: UnitCount for
// a flat inventory, or the sum of each season's episode count otherwise.
func (inv Inventory) TotalUnits() int {
	if inv.Flat() {
		return inv.UnitCount
	}
	n := 0
	for _, s := range inv.Seasons {
		n += len(s.Episodes)
	}
	return n
}

// UnitSelector identifies what get_playlist should resolve: either the
// whole film, or a specific (season, episode) pair. Season is zero for a
// flat-episodic title.
type UnitSelector struct {
	Film               bool
	Season             int
	ProviderEpisodeRef string
}

// PlaylistURL is a fully-qualified, short-TTL HLS master playlist URL,
// already bearing any query-string credentials the adapter must attach
// (token, expiry, quality flag). Per spec.md §4.2 it must never be
// persisted past the fetch that consumes it.
type PlaylistURL struct {
	URL       string
	ExpiresAt time.Time
	Headers   map[string]string
}

// Adapter is the full capability set the core requires of every provider.
// Nothing beyond this is depended upon, so a new provider can be added
// without touching the catalog, scheduler, or reconciliation packages.
type Adapter interface {
	AdapterID() string
	Search(ctx context.Context, query string) ([]SearchHit, error)
	Resolve(ctx context.Context, providerRef string) (Inventory, error)
	GetPlaylist(ctx context.Context, providerRef string, unit UnitSelector) (PlaylistURL, error)
}
