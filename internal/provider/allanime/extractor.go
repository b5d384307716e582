package allanime

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Extractor resolves a source-provider embed URL into a direct HLS
// playlist URL. The simple/flat adapter delegates its final playlist
// extraction step to one of these, per spec.md §4.2 ("the simple adapter
// delegates to its upstream library") — ported from the teacher's
// pkg/extractors.Extractor interface and its MegaCloud implementation.
type Extractor interface {
	Extract(ctx context.Context, embedURL string) (string, time.Time, error)
}

// MegaCloudExtractor calls an external unscrambling service the same way
// the teacher's pkg/extractors/megacloud.go does (crawlr.cc, keyed by a
// fixed provider id), returning the first HLS source URL found.
type MegaCloudExtractor struct {
	client     *http.Client
	providerID string
	serviceURL string
}

func NewMegaCloudExtractor() *MegaCloudExtractor {
	return &MegaCloudExtractor{
		client:     &http.Client{Timeout: 30 * time.Second},
		providerID: "9D7F1B3E8",
		serviceURL: "https://crawlr.cc",
	}
}

type crawlrResponse struct {
	Sources []struct {
		URL  string `json:"url"`
		File string `json:"file"`
	} `json:"sources"`
}

func (m *MegaCloudExtractor) Extract(ctx context.Context, embedURL string) (string, time.Time, error) {
	reqURL := fmt.Sprintf("%s/%s?url=%s", m.serviceURL, m.providerID, url.QueryEscape(embedURL))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return "", time.Time{}, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")
	req.Header.Set("Accept", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("megacloud extract: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", time.Time{}, fmt.Errorf("megacloud extract: unscrambling service returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", time.Time{}, err
	}

	var data crawlrResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return "", time.Time{}, fmt.Errorf("megacloud extract: decode response: %w", err)
	}

	for _, s := range data.Sources {
		sourceURL := s.URL
		if sourceURL == "" {
			sourceURL = s.File
		}
		if strings.HasSuffix(sourceURL, ".m3u8") {
			return sourceURL, time.Now().Add(10 * time.Minute), nil
		}
	}

	return "", time.Time{}, fmt.Errorf("megacloud extract: no m3u8 source in response")
}
