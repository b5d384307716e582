// Package allanime implements the simple/flat Provider Adapter, grounded
// on the teacher's internal/providers/anime/allanime/allanime.go: a
// GraphQL-over-HTTP client against api.allanime.day, with an in-memory
// sync.Map response cache. Resolve returns a flat unit count (no season
// dimension), per spec.md §4.2's "simple adapter" contract.
package allanime

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/justchokingaround/acquisitiond/internal/catalogerr"
	"github.com/justchokingaround/acquisitiond/internal/provider"
)

const adapterID = "allanime"

// Adapter is the simple/flat Provider Adapter. Playlist resolution
// delegates to an injected Extractor, consistent with the teacher's
// factory.GetExtractor indirection.
type Adapter struct {
	baseURL   string
	apiURL    string
	client    *http.Client
	extractor Extractor
	searchMu  sync.Map
}

// New builds an allanime adapter. extractor may be nil, in which case a
// MegaCloudExtractor is used, matching the teacher's default.
func New(baseURL, apiURL string, httpClient *http.Client, extractor Extractor) *Adapter {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if extractor == nil {
		extractor = NewMegaCloudExtractor()
	}
	return &Adapter{
		baseURL:   baseURL,
		apiURL:    apiURL,
		client:    httpClient,
		extractor: extractor,
	}
}

func (a *Adapter) AdapterID() string { return adapterID }

type searchResponse struct {
	Data struct {
		Shows struct {
			Edges []struct {
				ID                string      `json:"_id"`
				Name              string      `json:"name"`
				EnglishName       string      `json:"englishName"`
				AvailableEpisodes interface{} `json:"availableEpisodes"`
			} `json:"edges"`
		} `json:"shows"`
	} `json:"data"`
}

const searchGQL = `query($search: SearchInput, $limit: Int, $page: Int, $translationType: VaildTranslationTypeEnumType, $countryOrigin: VaildCountryOriginEnumType) {
	shows(search: $search, limit: $limit, page: $page, translationType: $translationType, countryOrigin: $countryOrigin) {
		edges { _id name englishName availableEpisodes thumbnail __typename }
	}
}`

// Search runs the GraphQL query against api.allanime.day and caches the
// decoded result in process memory keyed by query string, matching the
// teacher's sync.Map-backed searchCache.
func (a *Adapter) Search(ctx context.Context, query string) ([]provider.SearchHit, error) {
	if cached, ok := a.searchMu.Load(query); ok {
		return cached.([]provider.SearchHit), nil
	}

	variables := map[string]interface{}{
		"search": map[string]interface{}{
			"allowAdult":   false,
			"allowUnknown": false,
			"query":        query,
		},
		"limit": 40, "page": 1,
		"translationType": "sub",
		"countryOrigin":   "ALL",
	}
	variablesJSON, err := json.Marshal(variables)
	if err != nil {
		return nil, err
	}

	reqURL := fmt.Sprintf("%s/api?variables=%s&query=%s",
		a.apiURL, url.QueryEscape(string(variablesJSON)), url.QueryEscape(searchGQL))

	body, err := a.get(ctx, reqURL)
	if err != nil {
		return nil, catalogerr.Wrap(catalogerr.ProviderUnavailable, "allanime search", err)
	}

	var sr searchResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return nil, catalogerr.Wrap(catalogerr.ProviderUnavailable, "allanime search: decode response", err)
	}

	var hits []provider.SearchHit
	for _, e := range sr.Data.Shows.Edges {
		name := e.Name
		if e.EnglishName != "" {
			name = e.EnglishName
		}
		hits = append(hits, provider.SearchHit{
			Ref:      e.ID,
			Name:     strings.TrimSpace(name),
			KindHint: provider.KindAnime,
		})
	}

	a.searchMu.Store(query, hits)
	return hits, nil
}

type infoResponse struct {
	Data struct {
		Show struct {
			AvailableEpisodes interface{} `json:"availableEpisodes"`
		} `json:"show"`
	} `json:"data"`
}

const infoGQL = `query($showId: String!) { show(_id: $showId) { _id name availableEpisodes } }`

// Resolve returns the flat episode count for providerRef (the allanime
// show id). No season dimension is ever reported, per the adapter's
// "simple" contract.
func (a *Adapter) Resolve(ctx context.Context, providerRef string) (provider.Inventory, error) {
	variables := map[string]string{"showId": providerRef}
	variablesJSON, err := json.Marshal(variables)
	if err != nil {
		return provider.Inventory{}, err
	}

	reqURL := fmt.Sprintf("%s/api?variables=%s&query=%s",
		a.apiURL, url.QueryEscape(string(variablesJSON)), url.QueryEscape(infoGQL))

	body, err := a.get(ctx, reqURL)
	if err != nil {
		return provider.Inventory{}, catalogerr.Wrap(catalogerr.ProviderUnavailable, "allanime resolve", err)
	}

	var ir infoResponse
	if err := json.Unmarshal(body, &ir); err != nil {
		return provider.Inventory{}, catalogerr.Wrap(catalogerr.ProviderUnavailable, "allanime resolve: decode response", err)
	}

	count := 0
	if episodes, ok := ir.Data.Show.AvailableEpisodes.(map[string]interface{}); ok {
		if sub, ok := episodes["sub"].(float64); ok {
			count = int(sub)
		}
	}

	return provider.Inventory{UnitCount: count}, nil
}

type episodeResponse struct {
	Data struct {
		Episode struct {
			SourceUrls []struct {
				SourceURL string `json:"sourceUrl"`
			} `json:"sourceUrls"`
		} `json:"episode"`
	} `json:"data"`
}

const episodeGQL = `query($showId: String!, $translationType: VaildTranslationTypeEnumType!, $episodeString: String!) {
	episode(showId: $showId, translationType: $translationType, episodeString: $episodeString) {
		episodeString sourceUrls
	}
}`

// GetPlaylist resolves the embed URL for one episode and delegates the
// final unscrambling step to the injected Extractor.
func (a *Adapter) GetPlaylist(ctx context.Context, providerRef string, unit provider.UnitSelector) (provider.PlaylistURL, error) {
	if unit.Film {
		return provider.PlaylistURL{}, catalogerr.New(catalogerr.PlaylistUnavailable, "allanime: adapter is episodic-only, film unit selector not supported")
	}

	variables := map[string]interface{}{
		"showId":          providerRef,
		"translationType": "sub",
		"episodeString":   unit.ProviderEpisodeRef,
	}
	variablesJSON, err := json.Marshal(variables)
	if err != nil {
		return provider.PlaylistURL{}, err
	}

	reqURL := fmt.Sprintf("%s/api?variables=%s&query=%s",
		a.apiURL, url.QueryEscape(string(variablesJSON)), url.QueryEscape(episodeGQL))

	body, err := a.get(ctx, reqURL)
	if err != nil {
		return provider.PlaylistURL{}, catalogerr.Wrap(catalogerr.PlaylistUnavailable, "allanime get_playlist", err)
	}

	var er episodeResponse
	if err := json.Unmarshal(body, &er); err != nil {
		return provider.PlaylistURL{}, catalogerr.Wrap(catalogerr.PlaylistUnavailable, "allanime get_playlist: decode response", err)
	}
	if len(er.Data.Episode.SourceUrls) == 0 {
		return provider.PlaylistURL{}, catalogerr.New(catalogerr.PlaylistUnavailable, "allanime: no source urls for episode")
	}

	embedURL := er.Data.Episode.SourceUrls[0].SourceURL
	playlistURL, expiresAt, err := a.extractor.Extract(ctx, embedURL)
	if err != nil {
		return provider.PlaylistURL{}, catalogerr.Wrap(catalogerr.PlaylistUnavailable, "allanime: extraction failed", err)
	}

	return provider.PlaylistURL{URL: playlistURL, ExpiresAt: expiresAt}, nil
}

func (a *Adapter) get(ctx context.Context, reqURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:109.0) Gecko/20100101 Firefox/121.0")
	req.Header.Set("Referer", a.baseURL)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	return io.ReadAll(resp.Body)
}
