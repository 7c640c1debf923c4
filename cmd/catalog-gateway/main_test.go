package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vikashloomba/mcp-catalog-go/pkg/mcpmgr"
)

func TestParseLevel(t *testing.T) {
	level, err := parseLevel("debug")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)

	_, err = parseLevel("loud")
	assert.Error(t, err)
}

func TestStaticToken(t *testing.T) {
	verify := staticToken("s3cret")
	info, err := verify(context.Background(), "s3cret", nil)
	require.NoError(t, err)
	assert.False(t, info.Expiration.IsZero())

	_, err = verify(context.Background(), "guess", nil)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestHealthHandlerEmpty(t *testing.T) {
	m := mcpmgr.NewManager(nil)
	defer m.Close(context.Background())

	rec := httptest.NewRecorder()
	healthHandler(m)(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Servers []serverStatus `json:"servers"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Empty(t, body.Servers)
}

func TestRootCommandFlags(t *testing.T) {
	cmd := newRootCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--servers", "catalog.yaml", "--origin", "https://a.example", "--origin", "https://b.example"}))
	servers, err := cmd.Flags().GetString("servers")
	require.NoError(t, err)
	assert.Equal(t, "catalog.yaml", servers)
	origins, err := cmd.Flags().GetStringSlice("origin")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, origins)
}
