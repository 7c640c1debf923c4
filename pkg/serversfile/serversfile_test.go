package serversfile

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vikashloomba/mcp-catalog-go/pkg/mcpmgr"
)

const sample = `
servers:
  - https://mcp.linear.app/mcp
  - url: https://api.github.com/mcp
    key: gh
    transport: http
    displayName: GitHub
    headers:
      Authorization: Bearer ${CATALOG_TEST_TOKEN}
`

func TestParseMixedEntries(t *testing.T) {
	t.Setenv("CATALOG_TEST_TOKEN", "s3cret")

	sources, err := Parse([]byte(sample))
	require.NoError(t, err)
	require.Len(t, sources, 2)

	assert.True(t, sources[0].IsURLOnly())
	assert.Equal(t, "https://mcp.linear.app/mcp", sources[0].Descriptor().URL)
	assert.Equal(t, mcpmgr.TransportAuto, sources[0].Descriptor().Transport)

	gh := sources[1].Descriptor()
	assert.False(t, sources[1].IsURLOnly())
	assert.Equal(t, "gh", gh.ExplicitKey)
	assert.Equal(t, mcpmgr.TransportStreamable, gh.Transport)
	assert.Equal(t, "GitHub", gh.DisplayName)
	assert.Equal(t, "Bearer s3cret", gh.Headers["Authorization"])
}

func TestParseErrors(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"missing url":   "servers:\n  - key: x\n",
		"bad transport": "servers:\n  - url: https://a.example\n    transport: stdio\n",
		"nested list":   "servers:\n  - [a, b]\n",
		"not yaml":      "servers: [",
	}
	for name, doc := range cases {
		_, err := Parse([]byte(doc))
		assert.Error(t, err, name)
	}
}

func TestParseEmpty(t *testing.T) {
	t.Parallel()
	sources, err := Parse([]byte("servers: []\n"))
	require.NoError(t, err)
	assert.Empty(t, sources)
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestWatchReportsChanges(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "servers.yaml")
	require.NoError(t, os.WriteFile(path, []byte("servers: []\n"), 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	got := make(chan []mcpmgr.Source, 4)
	w := &Watcher{Path: path, Debounce: 20 * time.Millisecond, OnChange: func(s []mcpmgr.Source) { got <- s }}
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Give the watcher time to register before writing.
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		require.NoError(t, os.WriteFile(path, []byte("servers:\n  - https://api.github.com\n"), 0o600))
		select {
		case sources := <-got:
			require.Len(t, sources, 1)
			assert.Equal(t, "https://api.github.com", sources[0].Descriptor().URL)
			cancel()
			require.NoError(t, <-done)
			return
		case <-tick.C:
		case <-deadline:
			t.Fatal("no change reported")
		}
	}
}
