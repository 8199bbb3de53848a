package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/flowcanvas/internal/session"
	"github.com/BaSui01/flowcanvas/internal/store"
	"github.com/BaSui01/flowcanvas/testutil"
	"github.com/BaSui01/flowcanvas/workflow"
)

// =============================================================================
// 🔧 测试辅助
// =============================================================================

type testEnv struct {
	store    *store.MemoryStore
	sessions *session.Manager
	mux      *http.ServeMux
}

func newTestEnv(t *testing.T, socket SocketConfig) *testEnv {
	t.Helper()

	st := store.NewMemoryStore()
	sessions := testutil.NewSessionManager(t, st)

	wf := NewWorkflowHandler(sessions, zap.NewNop())
	ws := NewEditorSocketHandler(sessions, socket, nil, zap.NewNop())
	palette := NewPaletteHandler(workflow.DefaultRegistry())

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/palette", palette.HandlePalette)
	mux.HandleFunc("GET /api/v1/workflows", wf.HandleList)
	mux.HandleFunc("GET /api/v1/workflows/{id}", wf.HandleGet)
	mux.HandleFunc("PUT /api/v1/workflows/{id}", wf.HandleReplace)
	mux.HandleFunc("DELETE /api/v1/workflows/{id}", wf.HandleDelete)
	mux.HandleFunc("POST /api/v1/workflows/{id}/intents", wf.HandleIntent)
	mux.HandleFunc("POST /api/v1/workflows/{id}/save", wf.HandleSave)
	mux.HandleFunc("GET /api/v1/workflows/{id}/export", wf.HandleExport)
	mux.HandleFunc("GET /api/v1/workflows/{id}/ws", ws.HandleSocket)

	return &testEnv{store: st, sessions: sessions, mux: mux}
}

func (e *testEnv) do(method, path, contentType string, body []byte) *httptest.ResponseRecorder {
	r := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		r.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	e.mux.ServeHTTP(w, r)
	return w
}

func (e *testEnv) postIntent(t *testing.T, id string, in workflow.Intent) *httptest.ResponseRecorder {
	t.Helper()
	return e.do(http.MethodPost, "/api/v1/workflows/"+id+"/intents", "application/json", testutil.MustJSON(in))
}

// decodeData 解码统一响应并把 data 字段解到 dst
func decodeData(t *testing.T, w *httptest.ResponseRecorder, dst any) Response {
	t.Helper()
	var raw struct {
		Response
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &raw))
	if dst != nil && len(raw.Data) > 0 {
		require.NoError(t, json.Unmarshal(raw.Data, dst))
	}
	return raw.Response
}
