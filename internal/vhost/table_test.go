package vhost

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/dynconf/directive"
	"github.com/BaSui01/dynconf/internal/admission"
)

func compile(t *testing.T, text string, opts Options) *Table {
	t.Helper()
	doc, err := directive.ParseAndValidate([]byte(text))
	require.NoError(t, err)
	table, err := Compile(doc, opts)
	require.NoError(t, err)
	return table
}

func do(t *testing.T, table *Table, port int, method, host, target string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest(method, target, body)
	r.Host = host
	w := httptest.NewRecorder()
	table.Serve(port, w, r)
	return w
}

func TestCompile_ReturnLocation(t *testing.T) {
	table := compile(t, `
http {
    server {
        listen 8080;
        location /test { return 200 'test'; }
        location /empty { return 204; }
        location /moved { return 301 https://example.com/new; }
        location /ext { return https://example.com/; }
    }
}`, Options{})

	w := do(t, table, 8080, http.MethodGet, "", "/test", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "test", w.Body.String())
	assert.Equal(t, "text/plain", w.Header().Get("Content-Type"))

	w = do(t, table, 8080, http.MethodGet, "", "/empty", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = do(t, table, 8080, http.MethodGet, "", "/moved", nil)
	assert.Equal(t, http.StatusMovedPermanently, w.Code)
	assert.Equal(t, "https://example.com/new", w.Header().Get("Location"))

	w = do(t, table, 8080, http.MethodGet, "", "/ext", nil)
	assert.Equal(t, http.StatusFound, w.Code)

	w = do(t, table, 8080, http.MethodGet, "", "/nothing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, table, 9999, http.MethodGet, "", "/test", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMatchLocation_Priority(t *testing.T) {
	table := compile(t, `
http {
    server {
        listen 80;
        location / { return 200 'root'; }
        location /images/ { return 200 'prefix-images'; }
        location ^~ /static/ { return 200 'static'; }
        location = /images/logo.png { return 200 'exact'; }
        location ~* \.(png|gif)$ { return 200 'regex'; }
        location /docs/ {
            location /docs/api/ { return 200 'nested'; }
            return 200 'docs';
        }
    }
}`, Options{})

	tests := []struct {
		path string
		want string
	}{
		{"/", "root"},
		{"/other", "root"},
		{"/images/logo.png", "exact"},
		{"/images/a.PNG", "regex"},
		{"/images/readme.txt", "prefix-images"},
		{"/static/a.png", "static"},
		{"/docs/api/x", "nested"},
		{"/docs/guide", "docs"},
		{"/images/../static/b.gif", "static"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := do(t, table, 80, http.MethodGet, "", tt.path, nil)
			assert.Equal(t, tt.want, w.Body.String())
		})
	}
}

func TestPick_ServerName(t *testing.T) {
	table := compile(t, `
http {
    server { listen 80; return 200 'default'; }
    server { listen 80; server_name example.com; return 200 'exact'; }
    server { listen 80; server_name *.example.com; return 200 'wild'; }
    server { listen 80; server_name *.api.example.com; return 200 'wild-longer'; }
    server { listen 81; server_name example.com; return 200 'other-port'; }
}`, Options{})

	tests := []struct {
		host string
		want string
	}{
		{"example.com", "exact"},
		{"EXAMPLE.com:80", "exact"},
		{"www.example.com", "wild"},
		{"v1.api.example.com", "wild-longer"},
		{"unknown.org", "default"},
		{"", "default"},
	}
	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			w := do(t, table, 80, http.MethodGet, tt.host, "/", nil)
			assert.Equal(t, tt.want, w.Body.String())
		})
	}

	w := do(t, table, 81, http.MethodGet, "nomatch", "/", nil)
	assert.Equal(t, "other-port", w.Body.String())
	assert.Equal(t, []int{80, 81}, table.Ports())
}

func TestCompile_HeadersAndTokens(t *testing.T) {
	table := compile(t, `
http {
    add_header X-Global g;
    server_tokens off;
    server {
        listen 80;
        location /inherit { return 200 'a'; }
        location /own {
            add_header X-Own o;
            server_tokens on;
            return 200 'b';
        }
    }
}`, Options{Version: "1.2.3"})

	w := do(t, table, 80, http.MethodGet, "", "/inherit", nil)
	assert.Equal(t, "g", w.Header().Get("X-Global"))
	assert.Equal(t, "dynconf", w.Header().Get("Server"))

	w = do(t, table, 80, http.MethodGet, "", "/own", nil)
	assert.Empty(t, w.Header().Get("X-Global"))
	assert.Equal(t, "o", w.Header().Get("X-Own"))
	assert.Equal(t, "dynconf/1.2.3", w.Header().Get("Server"))
}

func TestCompile_StaticRoot(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hello.txt"), []byte("hello"), 0o644))

	table := compile(t, `
http {
    server {
        listen 80;
        root `+dir+`;
        location /api { return 200 'api'; }
    }
}`, Options{})

	w := do(t, table, 80, http.MethodGet, "", "/hello.txt", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "hello", w.Body.String())

	w = do(t, table, 80, http.MethodGet, "", "/api", nil)
	assert.Equal(t, "api", w.Body.String())
}

func TestCompile_ClientMaxBodySize(t *testing.T) {
	table := compile(t, `
http {
    server {
        listen 80;
        location /small { client_max_body_size 4; return 200 'ok'; }
    }
}`, Options{})

	w := do(t, table, 80, http.MethodPost, "", "/small", strings.NewReader("0123456789"))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	w = do(t, table, 80, http.MethodPost, "", "/small", strings.NewReader("012"))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCompile_DynamicConfigPolicy(t *testing.T) {
	var policies []admission.Policy
	opts := Options{DynamicConfig: func(p admission.Policy) http.Handler {
		policies = append(policies, p)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		})
	}}

	table := compile(t, `
http {
    dynamic_config_allowed_ips 10.0.0.0/8;
    server {
        listen 8080;
        location /update-config {
            dynamic_config;
            dynamic_config_max_body_size 2m;
        }
        location /open {
            dynamic_config;
            dynamic_config_allowed_ips all;
            dynamic_config_trusted_proxies 192.168.0.1;
        }
    }
    server {
        listen 8081;
        location /update-config { dynamic_config; }
    }
}`, opts)

	require.Len(t, policies, 3)
	assert.Equal(t, int64(2<<20), policies[0].MaxBodySize)
	assert.True(t, policies[0].AllowList.Contains(netip.MustParseAddr("10.1.1.1")))
	assert.False(t, policies[0].AllowList.Contains(netip.MustParseAddr("127.0.0.1")))
	assert.Equal(t, http.MethodPost, policies[0].Method)

	assert.True(t, policies[1].AllowList.Contains(netip.MustParseAddr("8.8.8.8")))
	assert.Equal(t, admission.DefaultMaxBodySize, policies[1].MaxBodySize)
	assert.Equal(t, []netip.Prefix{netip.MustParsePrefix("192.168.0.1/32")}, policies[1].TrustedProxies)

	// 继承 http 级别的允许列表
	assert.True(t, policies[2].AllowList.Contains(netip.MustParseAddr("10.9.9.9")))

	w := do(t, table, 8080, http.MethodGet, "", "/update-config", nil)
	assert.Equal(t, http.StatusTeapot, w.Code)
}

func TestCompile_DynamicConfigWithoutFactory(t *testing.T) {
	table := compile(t, `http { server { listen 80; location /u { dynamic_config; } } }`, Options{})
	w := do(t, table, 80, http.MethodPost, "", "/u", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCompile_GlobalsAndPaths(t *testing.T) {
	dir := t.TempDir()
	table := compile(t, `
worker_processes 4;
error_log `+filepath.Join(dir, "error.log")+` warn;
pid `+filepath.Join(dir, "dynconf.pid")+`;
events { worker_connections 2048; }
http {
    keepalive_timeout 30s;
    access_log `+filepath.Join(dir, "access.log")+`;
    server {
        listen 80;
        access_log off;
        location / { access_log `+filepath.Join(dir, "root.log")+`; }
    }
}`, Options{})

	g := table.Globals()
	assert.Equal(t, 4, g.WorkerProcesses)
	assert.Equal(t, 2048, g.WorkerConnections)
	assert.Equal(t, 30*time.Second, g.KeepaliveTimeout)
	assert.Equal(t, "warn", g.ErrorLogLevel)
	assert.Equal(t, []string{filepath.Join(dir, "access.log"), filepath.Join(dir, "root.log")}, table.LogPaths())
	assert.Equal(t, []string{filepath.Join(dir, "dynconf.pid"), filepath.Join(dir, "error.log")}, table.WritablePaths())

	defaults := compile(t, `worker_processes auto;`, Options{})
	assert.Equal(t, 0, defaults.Globals().WorkerProcesses)
	assert.Equal(t, DefaultWorkerConnections, defaults.Globals().WorkerConnections)
	assert.Equal(t, DefaultKeepaliveTimeout, defaults.Globals().KeepaliveTimeout)
	assert.Empty(t, defaults.Ports())
}

func TestCompile_AccessLog(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "access.log")
	logs := NewLogFiles()
	t.Cleanup(func() { _ = logs.Close() })

	table := compile(t, `
http {
    server {
        listen 80;
        access_log `+logPath+`;
        location /test { return 200 'test'; }
    }
}`, Options{Logs: logs})

	opened, err := logs.Open(table.LogPaths())
	require.NoError(t, err)
	assert.Equal(t, []string{logPath}, opened)

	w := do(t, table, 80, http.MethodGet, "", "/test", nil)
	require.Equal(t, http.StatusOK, w.Code)

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"GET /test HTTP/1.1" 200 4`)
}

func TestCompile_NilDocument(t *testing.T) {
	_, err := Compile(nil, Options{})
	assert.Error(t, err)
}
