// Package streamingcommunity implements the structured Provider Adapter:
// season-aware inventory, playlist resolution through an Inertia.js
// single-page-app exchange. Grounded on the teacher's
// internal/providers/movies/hdrezka/hdrezka.go scraping shape (POST form,
// regex source extraction) and on _examples/original_source/streamingcommunity.py
// plus tests/test_streamingcommunity.py, which is the definitive source for
// the five-step playlist-extraction protocol spec.md §4.2 describes
// abstractly: Inertia JSON headers, iframe extraction, script
// concatenation, window.masterPlaylist/streams[] recovery, and the
// canPlayFHD -> h=1 query flag merge.
package streamingcommunity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"

	"github.com/justchokingaround/acquisitiond/internal/catalogerr"
	"github.com/justchokingaround/acquisitiond/internal/provider"
)

const adapterID = "streamingcommunity"

// Adapter is the structured, season-aware Provider Adapter.
type Adapter struct {
	client     *resty.Client
	discoverer *provider.Discoverer

	versionMu sync.RWMutex
	version   string
}

// New builds a streamingcommunity adapter. discoverer resolves the mutable
// host root lazily, per spec.md §4.2.
func New(discoverer *provider.Discoverer) *Adapter {
	return &Adapter{
		client:     resty.New().SetHeader("User-Agent", defaultUserAgent),
		discoverer: discoverer,
	}
}

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

func (a *Adapter) AdapterID() string { return adapterID }

// inertiaHeaders returns the headers required for the SPA's JSON-on-XHR
// exchange, per spec.md §6's wire-protocol description: "X-Inertia: true,
// X-Inertia-Version: <v>".
func (a *Adapter) inertiaHeaders() map[string]string {
	a.versionMu.RLock()
	v := a.version
	a.versionMu.RUnlock()
	return map[string]string{
		"X-Inertia":         "true",
		"X-Inertia-Version": v,
		"Accept":            "application/json",
	}
}

type inertiaSearchPage struct {
	Props struct {
		Titles []struct {
			ID     int    `json:"id"`
			Name   string `json:"name"`
			Slug   string `json:"slug"`
			Type   string `json:"type"`
			Year   string `json:"year"`
			Plot   string `json:"plot"`
			Status string `json:"status"`
		} `json:"titles"`
	} `json:"props"`
}

// Search performs a GET against the site search route and decodes the
// Inertia JSON payload's "titles" prop.
func (a *Adapter) Search(ctx context.Context, query string) ([]provider.SearchHit, error) {
	base, err := a.discoverer.Resolve(ctx)
	if err != nil {
		return nil, catalogerr.Wrap(catalogerr.ProviderUnavailable, "streamingcommunity: discover base url", err)
	}

	resp, err := a.client.R().
		SetContext(ctx).
		SetHeaders(a.inertiaHeaders()).
		SetQueryParam("q", query).
		Get(base + "/search")
	if err != nil {
		return nil, catalogerr.Wrap(catalogerr.ProviderUnavailable, "streamingcommunity search", err)
	}
	if resp.IsError() {
		return nil, catalogerr.New(catalogerr.ProviderUnavailable, fmt.Sprintf("streamingcommunity search: status %d", resp.StatusCode()))
	}

	a.rememberVersion(resp.Header().Get("X-Inertia-Version"))

	var page inertiaSearchPage
	if err := json.Unmarshal(resp.Body(), &page); err != nil {
		return nil, catalogerr.Wrap(catalogerr.ProviderUnavailable, "streamingcommunity search: decode payload", err)
	}

	hits := make([]provider.SearchHit, 0, len(page.Props.Titles))
	for _, t := range page.Props.Titles {
		kind := provider.KindFilm
		if strings.EqualFold(t.Type, "tv") {
			kind = provider.KindSeries
		}
		hits = append(hits, provider.SearchHit{
			Ref:      fmt.Sprintf("%d/%s/it", t.ID, t.Slug),
			Name:     t.Name,
			Year:     t.Year,
			KindHint: kind,
		})
	}
	return hits, nil
}

func (a *Adapter) rememberVersion(v string) {
	if v == "" {
		return
	}
	a.versionMu.Lock()
	a.version = v
	a.versionMu.Unlock()
}

// parseRef splits a providerRef "<id>/<slug>/<language>" triple, the
// opaque encoding this adapter uses for Title.provider_ref.
func parseRef(ref string) (id int, slug, lang string, err error) {
	parts := strings.SplitN(ref, "/", 3)
	if len(parts) != 3 {
		return 0, "", "", fmt.Errorf("invalid provider_ref %q, expected id/slug/language", ref)
	}
	id, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, "", "", fmt.Errorf("invalid provider_ref %q: %w", ref, err)
	}
	return id, parts[1], parts[2], nil
}

type inertiaTitlePage struct {
	Props struct {
		Title struct {
			Seasons []struct {
				ID       int    `json:"id"`
				Number   int    `json:"number"`
				Name     string `json:"name"`
				Slug     string `json:"slug"`
				Episodes []struct {
					ID       int     `json:"id"`
					Number   float64 `json:"number"`
					Name     string  `json:"name"`
					Duration int     `json:"duration"`
				} `json:"episodes"`
			} `json:"seasons"`
		} `json:"title"`
	} `json:"props"`
}

// Resolve fetches the title page and returns a season-structured inventory
// for series, or a single-unit inventory for films (no "seasons" prop).
func (a *Adapter) Resolve(ctx context.Context, providerRef string) (provider.Inventory, error) {
	id, slug, _, err := parseRef(providerRef)
	if err != nil {
		return provider.Inventory{}, catalogerr.Wrap(catalogerr.ConfigError, "streamingcommunity resolve", err)
	}

	base, err := a.discoverer.Resolve(ctx)
	if err != nil {
		return provider.Inventory{}, catalogerr.Wrap(catalogerr.ProviderUnavailable, "streamingcommunity: discover base url", err)
	}

	resp, err := a.client.R().
		SetContext(ctx).
		SetHeaders(a.inertiaHeaders()).
		Get(fmt.Sprintf("%s/titles/%d-%s", base, id, slug))
	if err != nil {
		return provider.Inventory{}, catalogerr.Wrap(catalogerr.ProviderUnavailable, "streamingcommunity resolve", err)
	}
	if resp.IsError() {
		return provider.Inventory{}, catalogerr.New(catalogerr.ProviderUnavailable, fmt.Sprintf("streamingcommunity resolve: status %d", resp.StatusCode()))
	}
	a.rememberVersion(resp.Header().Get("X-Inertia-Version"))

	var page inertiaTitlePage
	if err := json.Unmarshal(resp.Body(), &page); err != nil {
		return provider.Inventory{}, catalogerr.Wrap(catalogerr.ProviderUnavailable, "streamingcommunity resolve: decode payload", err)
	}

	if len(page.Props.Title.Seasons) == 0 {
		return provider.Inventory{UnitCount: 1}, nil
	}

	seasons := make([]provider.Season, 0, len(page.Props.Title.Seasons))
	for _, s := range page.Props.Title.Seasons {
		eps := make([]provider.Episode, 0, len(s.Episodes))
		for _, e := range s.Episodes {
			eps = append(eps, provider.Episode{
				Season:             s.Number,
				Number:             e.Number,
				ProviderEpisodeRef: strconv.Itoa(e.ID),
			})
		}
		seasons = append(seasons, provider.Season{Number: s.Number, Episodes: eps})
	}
	return provider.Inventory{Seasons: seasons}, nil
}

// GetPlaylist runs the five-step extraction protocol against the
// film/episode's iframe page.
func (a *Adapter) GetPlaylist(ctx context.Context, providerRef string, unit provider.UnitSelector) (provider.PlaylistURL, error) {
	id, slug, _, err := parseRef(providerRef)
	if err != nil {
		return provider.PlaylistURL{}, catalogerr.Wrap(catalogerr.ConfigError, "streamingcommunity get_playlist", err)
	}

	base, err := a.discoverer.Resolve(ctx)
	if err != nil {
		return provider.PlaylistURL{}, catalogerr.Wrap(catalogerr.ProviderUnavailable, "streamingcommunity: discover base url", err)
	}

	// Step 1: request the watch/iframe page.
	watchURL := fmt.Sprintf("%s/titles/%d-%s/watch", base, id, slug)
	if !unit.Film {
		watchURL = fmt.Sprintf("%s?episode_id=%s", watchURL, unit.ProviderEpisodeRef)
	}

	resp, err := a.client.R().SetContext(ctx).Get(watchURL)
	if err != nil {
		return provider.PlaylistURL{}, catalogerr.Wrap(catalogerr.PlaylistUnavailable, "streamingcommunity: fetch watch page", err)
	}
	if resp.IsError() {
		return provider.PlaylistURL{}, catalogerr.New(catalogerr.PlaylistUnavailable, fmt.Sprintf("streamingcommunity: watch page status %d", resp.StatusCode()))
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(resp.String()))
	if err != nil {
		return provider.PlaylistURL{}, catalogerr.Wrap(catalogerr.PlaylistUnavailable, "streamingcommunity: parse watch page", err)
	}

	// Step 2: extract the embedded iframe URL.
	iframeSrc, ok := doc.Find("iframe").First().Attr("src")
	if !ok || iframeSrc == "" {
		return provider.PlaylistURL{}, catalogerr.New(catalogerr.PlaylistUnavailable, "streamingcommunity: no iframe found on watch page")
	}
	if strings.HasPrefix(iframeSrc, "//") {
		iframeSrc = "https:" + iframeSrc
	}

	// Step 3: fetch the iframe contents, concatenate all script bodies.
	iframeResp, err := a.client.R().SetContext(ctx).Get(iframeSrc)
	if err != nil {
		return provider.PlaylistURL{}, catalogerr.Wrap(catalogerr.PlaylistUnavailable, "streamingcommunity: fetch iframe", err)
	}
	if iframeResp.IsError() {
		return provider.PlaylistURL{}, catalogerr.New(catalogerr.PlaylistUnavailable, fmt.Sprintf("streamingcommunity: iframe status %d", iframeResp.StatusCode()))
	}

	iframeDoc, err := goquery.NewDocumentFromReader(strings.NewReader(iframeResp.String()))
	if err != nil {
		return provider.PlaylistURL{}, catalogerr.Wrap(catalogerr.PlaylistUnavailable, "streamingcommunity: parse iframe", err)
	}
	var scripts strings.Builder
	iframeDoc.Find("script").Each(func(_ int, s *goquery.Selection) {
		scripts.WriteString(s.Text())
		scripts.WriteString("\n")
	})

	// Step 4/5: recover window.masterPlaylist/streams[] and canPlayFHD,
	// merge token+expiry+h=1 into the playlist URL's query string.
	return extractPlaylistFromScripts(scripts.String())
}

var (
	masterPlaylistRe = regexp.MustCompile(`window\.masterPlaylist\s*=\s*(\{[^;]*\})`)
	streamsRe        = regexp.MustCompile(`window\.streams\s*=\s*(\[[^;]*\])`)
	canPlayFHDRe     = regexp.MustCompile(`window\.canPlayFHD\s*=\s*(true|false)`)
)

type masterPlaylistVars struct {
	URL     string      `json:"url"`
	Token   string      `json:"token"`
	Expires json.Number `json:"expires"`
}

// extractPlaylistFromScripts implements step 4/5 of the protocol: find
// window.masterPlaylist (falling back to the first entry of
// window.streams[] if masterPlaylist is absent), then merge its token,
// expires and an "h=1" flag (when canPlayFHD is true) into the playlist
// URL's query string, per spec.md §4.2.
func extractPlaylistFromScripts(scripts string) (provider.PlaylistURL, error) {
	var mp masterPlaylistVars

	// Page scripts carry JavaScript object literals (bare keys,
	// single-quoted strings); rewrite them into JSON before decoding.
	toJSON := func(s string) []byte {
		s = regexp.MustCompile(`([{,]\s*)([A-Za-z_]\w*)\s*:`).ReplaceAllString(s, `$1"$2":`)
		return []byte(strings.ReplaceAll(s, "'", `"`))
	}

	if m := masterPlaylistRe.FindStringSubmatch(scripts); m != nil {
		if err := json.Unmarshal(toJSON(m[1]), &mp); err != nil {
			return provider.PlaylistURL{}, catalogerr.Wrap(catalogerr.PlaylistUnavailable, "streamingcommunity: parse masterPlaylist", err)
		}
	} else if m := streamsRe.FindStringSubmatch(scripts); m != nil {
		var streams []masterPlaylistVars
		if err := json.Unmarshal(toJSON(m[1]), &streams); err != nil || len(streams) == 0 {
			return provider.PlaylistURL{}, catalogerr.New(catalogerr.PlaylistUnavailable, "streamingcommunity: no usable stream in window.streams")
		}
		mp = streams[0]
	} else {
		return provider.PlaylistURL{}, catalogerr.New(catalogerr.PlaylistUnavailable, "streamingcommunity: no masterPlaylist or streams found in page scripts")
	}

	if mp.URL == "" {
		return provider.PlaylistURL{}, catalogerr.New(catalogerr.PlaylistUnavailable, "streamingcommunity: masterPlaylist missing url")
	}

	canPlayFHD := false
	if m := canPlayFHDRe.FindStringSubmatch(scripts); m != nil {
		canPlayFHD = m[1] == "true"
	}

	parsed, err := url.Parse(mp.URL)
	if err != nil {
		return provider.PlaylistURL{}, catalogerr.Wrap(catalogerr.PlaylistUnavailable, "streamingcommunity: parse playlist url", err)
	}
	q := parsed.Query()
	if mp.Token != "" {
		q.Set("token", mp.Token)
	}
	if mp.Expires != "" {
		q.Set("expires", mp.Expires.String())
	}
	if canPlayFHD {
		q.Set("h", "1")
	}
	parsed.RawQuery = q.Encode()

	return provider.PlaylistURL{URL: parsed.String(), ExpiresAt: expiryFromUnixString(mp.Expires.String())}, nil
}

// expiryFromUnixString parses a unix-seconds string into a time.Time,
// falling back to a short default TTL if the field was absent or
// unparseable (playlists still carry an expiry even when masterPlaylist's
// own "expires" field is missing, since the URL itself embeds one via the
// query string).
func expiryFromUnixString(s string) time.Time {
	if s == "" {
		return time.Now().Add(10 * time.Minute)
	}
	sec, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Now().Add(10 * time.Minute)
	}
	return time.Unix(sec, 0)
}
