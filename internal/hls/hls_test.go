package hls

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeFilename(t *testing.T) {
	result := SanitizeFilename(`Test: Movie/Show "Title"`)
	assert.NotContains(t, result, ":")
	assert.NotContains(t, result, "/")
	assert.NotContains(t, result, `"`)
}

func TestSanitizeFilenamePreservesNormalChars(t *testing.T) {
	assert.Equal(t, "Normal Movie Title 2024", SanitizeFilename("Normal Movie Title 2024"))
}

func TestNm3u8ProgressParserSegmentCount(t *testing.T) {
	p := &nm3u8ProgressParser{}
	prog, ok := p.parseLine("[████████████████████████████████████] 55.00% (55/100) 10.2 MB/s ETA: 0:00:10")
	assert.True(t, ok)
	assert.InDelta(t, 0.55, prog.Fraction, 0.001)
}

func TestNm3u8ProgressParserPercentOnly(t *testing.T) {
	p := &nm3u8ProgressParser{}
	prog, ok := p.parseLine("Downloading... 42.50%")
	assert.True(t, ok)
	assert.InDelta(t, 0.425, prog.Fraction, 0.001)
}

func TestNm3u8ProgressParserNoMatch(t *testing.T) {
	p := &nm3u8ProgressParser{}
	_, ok := p.parseLine("some unrelated log line")
	assert.False(t, ok)
}

func TestProgressFromFFmpegKV(t *testing.T) {
	kv := map[string]string{
		"out_time_ms": "5000000",
		"total_size":  "1048576",
		"speed":       "2.5x",
	}
	p := progressFromFFmpegKV(kv, 0)
	assert.Equal(t, "2.5x", p.Speed)
	assert.NotEmpty(t, p.DownloadedSize)
}

func TestDetectToolMissingBinary(t *testing.T) {
	info := DetectTool("definitely-not-a-real-binary-xyz", "")
	assert.False(t, info.Available)
}

// TestSegmentedFetcherSkipsExistingFile covers resuming a run whose target
// file is already on disk from a prior attempt: Fetch must report
// completion without invoking N_m3u8DL-RE at all, so this must pass even
// when the tool isn't installed in the test environment.
func TestSegmentedFetcherSkipsExistingFile(t *testing.T) {
	dir := t.TempDir()
	outputPath := filepath.Join(dir, "episode")
	require.NoError(t, os.WriteFile(outputPath+".mp4", []byte("already here"), 0o644))

	f := NewSegmentedFetcher(DefaultNm3u8Config())

	var gotProgress Progress
	called := false
	err := f.Fetch(context.Background(), "https://example.com/playlist.m3u8", nil, outputPath, func(p Progress) {
		called = true
		gotProgress = p
	})

	require.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, 1.0, gotProgress.Fraction)
}

// TestMuxFetcherSkipsExistingFile is the ffmpeg-backend counterpart of
// TestSegmentedFetcherSkipsExistingFile.
func TestMuxFetcherSkipsExistingFile(t *testing.T) {
	dir := t.TempDir()
	outputPath := filepath.Join(dir, "episode")
	require.NoError(t, os.WriteFile(outputPath+".mp4", []byte("already here"), 0o644))

	f := NewMuxFetcher(MuxConfig{})

	var gotProgress Progress
	called := false
	err := f.Fetch(context.Background(), "https://example.com/playlist.m3u8", nil, outputPath, func(p Progress) {
		called = true
		gotProgress = p
	})

	require.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, 1.0, gotProgress.Fraction)
}
