package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/justchokingaround/acquisitiond/internal/catalogerr"
)

// Discoverer resolves an adapter's mutable host root lazily and caches the
// result for the process lifetime, per spec.md §4.2: "resolve it lazily and
// cache the resolution in process memory for the lifetime of the process."
// Grounded on the teacher's remote.Client, which is constructed with a
// fixed BaseURL passed in at startup; this generalizes that into an actual
// resolution step consulting a directory service first, a static list
// second, exactly as spec.md requires, while leaving the maintained
// fallback *list* itself out of scope (spec.md §1).
type Discoverer struct {
	directoryURL string
	fallback     []string
	httpClient   *http.Client

	once     sync.Once
	resolved string
	err      error
}

// NewDiscoverer builds a Discoverer for one adapter. directoryURL is the
// remote directory-service endpoint consulted first; fallback is the short
// static domain list consulted only if that request fails.
func NewDiscoverer(directoryURL string, fallback []string, httpClient *http.Client) *Discoverer {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Discoverer{directoryURL: directoryURL, fallback: fallback, httpClient: httpClient}
}

type directoryResponse struct {
	BaseURL string `json:"base_url"`
	URL     string `json:"url"`
}

// Resolve returns the cached base URL, resolving it on first call. Later
// calls never re-hit the network even if the first resolution used the
// fallback list, matching the "cache ... for the lifetime of the process"
// requirement literally.
func (d *Discoverer) Resolve(ctx context.Context) (string, error) {
	d.once.Do(func() {
		d.resolved, d.err = d.resolveOnce(ctx)
	})
	if d.err != nil {
		return "", d.err
	}
	return d.resolved, nil
}

func (d *Discoverer) resolveOnce(ctx context.Context) (string, error) {
	if d.directoryURL != "" {
		if base, err := d.queryDirectory(ctx); err == nil && base != "" {
			return strings.TrimRight(base, "/"), nil
		}
	}

	for _, candidate := range d.fallback {
		candidate = strings.TrimRight(candidate, "/")
		if candidate != "" {
			return candidate, nil
		}
	}

	return "", catalogerr.New(catalogerr.ProviderUnavailable, "discovery: directory lookup failed and no fallback host available")
}

func (d *Discoverer) queryDirectory(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.directoryURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("directory service returned status %d", resp.StatusCode)
	}

	var dr directoryResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return "", err
	}
	if dr.BaseURL != "" {
		return dr.BaseURL, nil
	}
	return dr.URL, nil
}
