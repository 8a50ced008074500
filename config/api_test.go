package config

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/dynconf/types"
)

// decoded 解码统一响应，Data 保留为原始 JSON
type decoded struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *apiError       `json:"error"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder, data any) decoded {
	t.Helper()
	var resp decoded
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	if data != nil && resp.Data != nil {
		require.NoError(t, json.Unmarshal(resp.Data, data))
	}
	return resp
}

func newTestAPI(t *testing.T) (*ConfigAPIHandler, *Coordinator, int, string) {
	t.Helper()
	c, port := bootstrapped(t)
	path := filepath.Join(t.TempDir(), "nginx.conf")
	require.NoError(t, os.WriteFile(path, []byte(confText(port, "v1")), 0644))
	return NewConfigAPIHandler(c, path, nil), c, port, path
}

// serveAPI 经由 mux 分发，覆盖方法检查与预检
func serveAPI(h *ConfigAPIHandler, w http.ResponseWriter, r *http.Request) {
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	mux.ServeHTTP(w, r)
}

// --- Constructor ---

func TestNewConfigAPIHandler_Origin(t *testing.T) {
	c := newTestCoordinator(t)

	assert.Empty(t, NewConfigAPIHandler(c, "", nil).allowedOrigin)
	assert.Empty(t, NewConfigAPIHandler(c, "", nil, "").allowedOrigin)
	assert.Equal(t, "https://example.com", NewConfigAPIHandler(c, "", nil, "https://example.com").allowedOrigin)
}

// --- CORS preflight ---

func TestConfigAPIHandler_PreflightWithOrigin(t *testing.T) {
	h := NewConfigAPIHandler(newTestCoordinator(t), "", nil, "https://app.example.com")

	w := httptest.NewRecorder()
	serveAPI(h, w, httptest.NewRequest(http.MethodOptions, "/api/v1/config", nil))

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "POST")
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "X-API-Key")
	assert.Equal(t, "86400", w.Header().Get("Access-Control-Max-Age"))
}

func TestConfigAPIHandler_PreflightNoOrigin(t *testing.T) {
	h := NewConfigAPIHandler(newTestCoordinator(t), "", nil)

	w := httptest.NewRecorder()
	serveAPI(h, w, httptest.NewRequest(http.MethodOptions, "/api/v1/config/validate", nil))

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

// --- methodNotAllowed ---

func TestConfigAPIHandler_MethodNotAllowed(t *testing.T) {
	h, _, _, _ := newTestAPI(t)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	tests := []struct {
		method string
		path   string
		allow  string
	}{
		{http.MethodPatch, "/api/v1/config", "GET, OPTIONS"},
		{http.MethodPost, "/api/v1/config/history", "GET, OPTIONS"},
		{http.MethodPut, "/api/v1/config/changes", "GET, OPTIONS"},
		{http.MethodGet, "/api/v1/config/rollback", "POST, OPTIONS"},
		{http.MethodGet, "/api/v1/config/reload", "POST, OPTIONS"},
		{http.MethodGet, "/api/v1/config/validate", "POST, OPTIONS"},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, httptest.NewRequest(tt.method, tt.path, nil))

			assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
			assert.Equal(t, tt.allow, w.Header().Get("Allow"))
			resp := decode(t, w, nil)
			assert.False(t, resp.Success)
			assert.Contains(t, resp.Error.Message, tt.method)
		})
	}
}

// --- GET /api/v1/config ---

func TestConfigAPIHandler_GetConfig(t *testing.T) {
	h, c, port, _ := newTestAPI(t)

	w := httptest.NewRecorder()
	serveAPI(h, w, httptest.NewRequest(http.MethodGet, "/api/v1/config", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "1", w.Header().Get("X-Config-Generation"))

	var view struct {
		Generation uint64 `json:"generation"`
		Checksum   string `json:"checksum"`
		Source     string `json:"source"`
		Ports      []int  `json:"ports"`
		Text       string `json:"text"`
	}
	resp := decode(t, w, &view)
	assert.True(t, resp.Success)
	assert.Equal(t, uint64(1), view.Generation)
	assert.Equal(t, c.Current().Checksum, view.Checksum)
	assert.Equal(t, string(types.SourceBootstrap), view.Source)
	assert.Equal(t, []int{port}, view.Ports)
	assert.Contains(t, view.Text, "dynamic_config;")
}

func TestConfigAPIHandler_GetConfigBeforeBootstrap(t *testing.T) {
	h := NewConfigAPIHandler(newTestCoordinator(t), "", nil)

	w := httptest.NewRecorder()
	serveAPI(h, w, httptest.NewRequest(http.MethodGet, "/api/v1/config", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

// --- history / changes ---

func TestConfigAPIHandler_HistoryAndChanges(t *testing.T) {
	h, c, port, _ := newTestAPI(t)
	for _, body := range []string{"v2", "v3"} {
		w := submit(c, port, http.MethodPost, confText(port, body))
		require.Equal(t, http.StatusOK, w.Code)
	}
	submit(c, port, http.MethodPost, "http { bogus on; }")

	w := httptest.NewRecorder()
	serveAPI(h, w, httptest.NewRequest(http.MethodGet, "/api/v1/config/history", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var history struct {
		Current uint64             `json:"current"`
		Items   []types.ConfigInfo `json:"items"`
	}
	decode(t, w, &history)
	assert.Equal(t, uint64(3), history.Current)
	require.Len(t, history.Items, 3)
	assert.Equal(t, uint64(1), history.Items[0].Generation)

	w = httptest.NewRecorder()
	serveAPI(h, w, httptest.NewRequest(http.MethodGet, "/api/v1/config/changes?limit=2", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var changes struct {
		Count int                   `json:"count"`
		Items []types.ReloadAttempt `json:"items"`
	}
	decode(t, w, &changes)
	assert.Equal(t, 2, changes.Count)
	require.Len(t, changes.Items, 2)
	assert.Equal(t, string(types.ErrSemantic), changes.Items[1].Outcome)

	// 非法的 limit 使用默认值
	w = httptest.NewRecorder()
	serveAPI(h, w, httptest.NewRequest(http.MethodGet, "/api/v1/config/changes?limit=abc", nil))
	decode(t, w, &changes)
	assert.Equal(t, 4, changes.Count)
}

// --- rollback ---

func TestConfigAPIHandler_Rollback(t *testing.T) {
	h, c, port, _ := newTestAPI(t)
	require.Equal(t, http.StatusOK, submit(c, port, http.MethodPost, confText(port, "v2")).Code)

	w := httptest.NewRecorder()
	serveAPI(h, w, httptest.NewRequest(http.MethodPost, "/api/v1/config/rollback?generation=1", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var result struct {
		Generation uint64 `json:"generation"`
	}
	decode(t, w, &result)
	assert.Equal(t, uint64(3), result.Generation)
	assert.Equal(t, "v1", serve(c, port, httptest.NewRequest(http.MethodGet, "/test", nil)).Body.String())

	// JSON 请求体
	w = httptest.NewRecorder()
	serveAPI(h, w, httptest.NewRequest(http.MethodPost, "/api/v1/config/rollback", strings.NewReader(`{"generation":2}`)))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, uint64(4), c.Generation())
}

func TestConfigAPIHandler_RollbackErrors(t *testing.T) {
	h, c, _, _ := newTestAPI(t)

	tests := []struct {
		name   string
		target string
		body   string
		status int
		code   types.ErrorCode
	}{
		{"unknown generation", "/api/v1/config/rollback?generation=99", "", http.StatusNotFound, types.ErrNotFound},
		{"bad query", "/api/v1/config/rollback?generation=abc", "", http.StatusBadRequest, types.ErrInvalidRequest},
		{"zero", "/api/v1/config/rollback?generation=0", "", http.StatusBadRequest, types.ErrInvalidRequest},
		{"missing body", "/api/v1/config/rollback", "", http.StatusBadRequest, types.ErrInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			serveAPI(h, w, httptest.NewRequest(http.MethodPost, tt.target, strings.NewReader(tt.body)))
			assert.Equal(t, tt.status, w.Code)
			resp := decode(t, w, nil)
			require.NotNil(t, resp.Error)
			assert.Equal(t, string(tt.code), resp.Error.Code)
		})
	}
	assert.Equal(t, uint64(1), c.Generation())
}

// --- reload ---

func TestConfigAPIHandler_Reload(t *testing.T) {
	h, c, port, path := newTestAPI(t)

	// 内容未变
	w := httptest.NewRecorder()
	serveAPI(h, w, httptest.NewRequest(http.MethodPost, "/api/v1/config/reload", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, uint64(1), c.Generation())

	require.NoError(t, os.WriteFile(path, []byte(confText(port, "from-disk")), 0644))
	w = httptest.NewRecorder()
	serveAPI(h, w, httptest.NewRequest(http.MethodPost, "/api/v1/config/reload", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, uint64(2), c.Generation())
	assert.Equal(t, types.SourceFile, c.Current().Source)

	require.NoError(t, os.WriteFile(path, []byte("http { bogus on; }"), 0644))
	w = httptest.NewRecorder()
	serveAPI(h, w, httptest.NewRequest(http.MethodPost, "/api/v1/config/reload", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, uint64(2), c.Generation())
}

func TestConfigAPIHandler_ReloadWithoutPath(t *testing.T) {
	c, _ := bootstrapped(t)
	h := NewConfigAPIHandler(c, "", nil)

	w := httptest.NewRecorder()
	serveAPI(h, w, httptest.NewRequest(http.MethodPost, "/api/v1/config/reload", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// --- validate ---

func TestConfigAPIHandler_Validate(t *testing.T) {
	h, c, port, _ := newTestAPI(t)

	w := httptest.NewRecorder()
	serveAPI(h, w, httptest.NewRequest(http.MethodPost, "/api/v1/config/validate", strings.NewReader(confText(port+1, "x"))))
	require.Equal(t, http.StatusOK, w.Code)

	var result struct {
		Valid      bool   `json:"valid"`
		Checksum   string `json:"checksum"`
		Directives int    `json:"directives"`
	}
	decode(t, w, &result)
	assert.True(t, result.Valid)
	assert.NotEmpty(t, result.Checksum)
	// events, worker_connections, http, server, listen, 2 x location, dynamic_config, return
	assert.Equal(t, 9, result.Directives)

	// 校验不发布也不占用端口
	assert.Equal(t, uint64(1), c.Generation())
	assert.Equal(t, []int{port}, c.Fleet().Ports())

	w = httptest.NewRecorder()
	serveAPI(h, w, httptest.NewRequest(http.MethodPost, "/api/v1/config/validate", strings.NewReader("http {\n    invalid_directive on;\n}\n")))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	resp := decode(t, w, nil)
	require.NotNil(t, resp.Error)
	assert.Equal(t, `unknown directive "invalid_directive" in line 2`, resp.Error.Message)
	assert.Equal(t, 2, resp.Error.Line)
}

// --- Middleware: RequireAuth ---

func TestConfigAPIMiddleware_RequireAuth(t *testing.T) {
	h := NewConfigAPIHandler(newTestCoordinator(t), "", nil)
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	tests := []struct {
		name   string
		keys   []string
		method string
		key    string
		status int
	}{
		{"no key", []string{"secret-key"}, http.MethodGet, "", http.StatusUnauthorized},
		{"wrong key", []string{"secret-key"}, http.MethodGet, "wrong-key", http.StatusUnauthorized},
		{"correct key", []string{"secret-key"}, http.MethodGet, "secret-key", http.StatusOK},
		{"second key", []string{"a", "b"}, http.MethodGet, "b", http.StatusOK},
		{"options bypass", []string{"secret-key"}, http.MethodOptions, "", http.StatusOK},
		{"no keys configured", []string{""}, http.MethodGet, "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewConfigAPIMiddleware(h, tt.keys...).RequireAuth(ok)
			req := httptest.NewRequest(tt.method, "/", nil)
			if tt.key != "" {
				req.Header.Set("X-API-Key", tt.key)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)
			assert.Equal(t, tt.status, w.Code)
		})
	}
}

func TestConfigAPIMiddleware_Wrap(t *testing.T) {
	h, _, _, _ := newTestAPI(t)
	mux := http.NewServeMux()
	NewConfigAPIMiddleware(h, "k").Wrap(mux)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/config", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/config", nil)
	req.Header.Set("X-API-Key", "k")
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	// 预检无需密钥，方法错误也要先过鉴权
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/api/v1/config/reload", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/config/reload", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
