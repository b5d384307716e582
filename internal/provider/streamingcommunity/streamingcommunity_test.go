package streamingcommunity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractPlaylistFromScriptsMasterPlaylist(t *testing.T) {
	scripts := `
	window.video = {id: 123, name: 'test'};
	window.masterPlaylist = {url: 'https://vixcloud.co/playlist.m3u8', token: 'abc123', expires: '1999999999'};
	window.canPlayFHD = true;
	`

	p, err := extractPlaylistFromScripts(scripts)
	require.NoError(t, err)
	assert.Contains(t, p.URL, "vixcloud.co/playlist.m3u8")
	assert.Contains(t, p.URL, "token=abc123")
	assert.Contains(t, p.URL, "h=1")
	assert.False(t, p.ExpiresAt.IsZero())
}

func TestExtractPlaylistFromScriptsFallsBackToStreams(t *testing.T) {
	scripts := `
	window.streams = [{url: 'https://vixcloud.co/alt.m3u8', token: 'xyz', expires: '1999999999'}];
	window.canPlayFHD = false;
	`

	p, err := extractPlaylistFromScripts(scripts)
	require.NoError(t, err)
	assert.Contains(t, p.URL, "alt.m3u8")
	assert.NotContains(t, p.URL, "h=1")
}

func TestExtractPlaylistFromScriptsMissingAll(t *testing.T) {
	_, err := extractPlaylistFromScripts("window.somethingElse = 1;")
	require.Error(t, err)
}

func TestParseRef(t *testing.T) {
	id, slug, lang, err := parseRef("123/breaking-bad/en")
	require.NoError(t, err)
	assert.Equal(t, 123, id)
	assert.Equal(t, "breaking-bad", slug)
	assert.Equal(t, "en", lang)

	_, _, _, err = parseRef("invalid")
	require.Error(t, err)
}
