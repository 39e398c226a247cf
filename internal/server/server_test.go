package server_test

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/quotabar/quotabar/internal/server"
	"github.com/quotabar/quotabar/pkg/model"
	"github.com/quotabar/quotabar/pkg/snapshot"
	"github.com/quotabar/quotabar/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupServer(t *testing.T) *server.Server {
	t.Helper()

	store, err := snapshot.NewStore(t.TempDir())
	require.NoError(t, err)

	history, err := storage.NewSQLite(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { history.Close() })

	reset := model.NewTimestamp(time.Now().Add(2 * time.Hour))
	snap := &model.UsageSnapshot{
		Provider:    model.ProviderClaude,
		FetchedAt:   model.NewTimestamp(time.Now()),
		DisplayMode: model.ModeUsed,
		Primary: &model.UsageWindow{
			Kind:        model.WindowPrimary,
			UsedPercent: 37.5,
			ResetAt:     &reset,
		},
	}
	require.NoError(t, store.SaveUsage(snap))
	require.NoError(t, history.RecordUsage(t.Context(), snap))

	require.NoError(t, store.SaveTokenUsage(&model.TokenUsageSnapshot{
		Provider:  model.ProviderClaude,
		FetchedAt: model.NewTimestamp(time.Now()),
		Today:     model.TokenUsagePeriod{TotalTokens: 1234, CostUSD: 0.12},
	}))

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return server.NewServer(store, history, logger)
}

func get(t *testing.T, srv *server.Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("GET", path, nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func TestServer_Health(t *testing.T) {
	w := get(t, setupServer(t), "/healthz")
	assert.Equal(t, http.StatusOK, w.Code)

	var resp map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "ok", resp["status"])
}

func TestServer_Usage(t *testing.T) {
	w := get(t, setupServer(t), "/api/usage/claude")
	assert.Equal(t, http.StatusOK, w.Code)

	var snap model.UsageSnapshot
	require.NoError(t, json.NewDecoder(w.Body).Decode(&snap))
	assert.Equal(t, model.ProviderClaude, snap.Provider)
	require.NotNil(t, snap.Primary)
	assert.Equal(t, 37.5, snap.Primary.UsedPercent)
}

func TestServer_Usage_NotFetched(t *testing.T) {
	w := get(t, setupServer(t), "/api/usage/codex")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_Usage_UnknownProvider(t *testing.T) {
	w := get(t, setupServer(t), "/api/usage/gemini")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_Tokens(t *testing.T) {
	w := get(t, setupServer(t), "/api/tokens/claude")
	assert.Equal(t, http.StatusOK, w.Code)

	var snap model.TokenUsageSnapshot
	require.NoError(t, json.NewDecoder(w.Body).Decode(&snap))
	assert.Equal(t, int64(1234), snap.Today.TotalTokens)
}

func TestServer_History(t *testing.T) {
	w := get(t, setupServer(t), "/api/usage/claude/history")
	assert.Equal(t, http.StatusOK, w.Code)

	var entries []storage.UsageHistoryEntry
	require.NoError(t, json.NewDecoder(w.Body).Decode(&entries))
	require.Len(t, entries, 1)
	require.NotNil(t, entries[0].PrimaryUsed)
	assert.Equal(t, 37.5, *entries[0].PrimaryUsed)
}

func TestServer_History_BadSince(t *testing.T) {
	w := get(t, setupServer(t), "/api/usage/claude/history?since=yesterday")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
