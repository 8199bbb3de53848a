package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/flowcanvas/api/handlers"
	"github.com/BaSui01/flowcanvas/config"
	"github.com/BaSui01/flowcanvas/internal/store"
	"github.com/BaSui01/flowcanvas/testutil"
	"github.com/BaSui01/flowcanvas/workflow"
)

func TestBuildRegistry(t *testing.T) {
	t.Run("default palette", func(t *testing.T) {
		r, err := buildRegistry(nil)
		require.NoError(t, err)
		assert.Len(t, r.Categories(), 3)
	})

	t.Run("configured palette", func(t *testing.T) {
		r, err := buildRegistry([]config.PaletteCategory{{
			Name: "自定义",
			Icon: "star",
			Items: []config.PaletteItem{
				{Name: "分支", Variant: "branch", Handles: []string{"yes", "no"}},
				{Name: "总结", Variant: "llm", Model: "gpt-4"},
			},
		}})
		require.NoError(t, err)
		require.Len(t, r.Categories(), 1)

		spec, ok := r.Lookup("分支")
		require.True(t, ok)
		assert.Equal(t, workflow.VariantBranch, spec.Variant)
		assert.Equal(t, workflow.RoleDefault, spec.Role)

		// 内置种类仍然可用于已有文档
		_, ok = r.Lookup("input")
		assert.True(t, ok)
	})

	t.Run("clash with builtin", func(t *testing.T) {
		_, err := buildRegistry([]config.PaletteCategory{{
			Name:  "bad",
			Items: []config.PaletteItem{{Name: "input"}},
		}})
		assert.Error(t, err)
	})
}

func newTestAPI(t *testing.T, cfg config.ServerConfig) (*httptest.Server, *fakeHTTPRecorder) {
	t.Helper()

	st := store.NewMemoryStore()
	registry := workflow.DefaultRegistry()
	sessions := testutil.NewSessionManager(t, st)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	rec := &fakeHTTPRecorder{}
	srv := httptest.NewServer(newAPIHandler(ctx, apiDeps{
		cfg:      cfg,
		registry: registry,
		sessions: sessions,
		store:    st,
		recorder: rec,
		version:  handlers.VersionInfo{Version: "test"},
		logger:   zap.NewNop(),
	}))
	t.Cleanup(srv.Close)
	return srv, rec
}

func TestAPIHandler_Routes(t *testing.T) {
	srv, rec := newTestAPI(t, config.DefaultServerConfig())

	tests := []struct {
		method, path string
		wantStatus   int
		wantRoute    string
	}{
		{http.MethodGet, "/health", http.StatusOK, "/health"},
		{http.MethodGet, "/ready", http.StatusOK, "/ready"},
		{http.MethodGet, "/version", http.StatusOK, "/version"},
		{http.MethodGet, "/api/v1/palette", http.StatusOK, "/api/v1/palette"},
		{http.MethodGet, "/api/v1/workflows", http.StatusOK, "/api/v1/workflows"},
		{http.MethodGet, "/api/v1/workflows/wf-1", http.StatusOK, "/api/v1/workflows/{id}"},
		{http.MethodPost, "/api/v1/workflows/wf-1/save", http.StatusOK, "/api/v1/workflows/{id}/save"},
		{http.MethodGet, "/api/v1/workflows/wf-1/export?format=yaml", http.StatusOK, "/api/v1/workflows/{id}/export"},
		{http.MethodPost, "/api/v1/palette", http.StatusMethodNotAllowed, "/api/v1/palette"},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, srv.URL+tt.path, nil)
			require.NoError(t, err)
			resp, err := srv.Client().Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
			assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
			assert.Equal(t, tt.wantRoute, rec.last().path)
		})
	}
}

func TestAPIHandler_ResponseCarriesRequestID(t *testing.T) {
	srv, _ := newTestAPI(t, config.DefaultServerConfig())

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/v1/workflows/wf-1", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", "trace-me")
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body handlers.Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "trace-me", body.RequestID)
}

func TestAPIHandler_WebSocketThroughMiddleware(t *testing.T) {
	srv, rec := newTestAPI(t, config.DefaultServerConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/workflows/wf-1/ws"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"snapshot"`)

	rec.mu.Lock()
	assert.Equal(t, 1, rec.ws)
	rec.mu.Unlock()

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, ""))
	assert.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return rec.ws == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestAPIHandler_RateLimited(t *testing.T) {
	cfg := config.DefaultServerConfig()
	cfg.RateLimitRPS = 0.001
	cfg.RateLimitBurst = 1
	srv, _ := newTestAPI(t, cfg)

	resp, err := srv.Client().Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = srv.Client().Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}
