package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/BaSui01/dynconf/types"
)

func TestSecurityHeaders(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	handler := SecurityHeaders()(inner)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	handler.ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	assert.Equal(t, "default-src 'none'", w.Header().Get("Content-Security-Policy"))
}

func TestRequestID_KeepsClientValue(t *testing.T) {
	var seen string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = types.RequestID(r.Context())
	})

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/health", nil)
	r.Header.Set("X-Request-ID", "abc-123")
	Chain(inner, SecurityHeaders(), RequestID()).ServeHTTP(w, r)

	assert.Equal(t, "abc-123", seen)
	assert.Equal(t, "abc-123", w.Header().Get("X-Request-ID"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
}

func TestRequestID_Generated(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	w := httptest.NewRecorder()
	RequestID()(inner).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Len(t, w.Header().Get("X-Request-ID"), 36)
}

func TestRecovery(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})

	w := httptest.NewRecorder()
	Recovery(zap.NewNop())(inner).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/config", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), string(types.ErrInternalError))
}

func TestRateLimiter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := RateLimiter(ctx, 1, 2, zap.NewNop())(inner)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/api/v1/config", nil)
		r.RemoteAddr = "10.0.0.1:1234"
		handler.ServeHTTP(w, r)
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	// 其他客户端不受影响
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/api/v1/config", nil)
	r.RemoteAddr = "10.0.0.2:1234"
	handler.ServeHTTP(w, r)
	assert.Equal(t, http.StatusOK, w.Code)
}

type recordedRequest struct {
	method string
	route  string
	status int
}

type fakeHTTPMetrics struct {
	got []recordedRequest
}

func (f *fakeHTTPMetrics) RecordHTTPRequest(method, route string, status int, _ time.Duration, _, _ int64) {
	f.got = append(f.got, recordedRequest{method: method, route: route, status: status})
}

func TestObserve_LabelsByRoute(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/config/history", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
	m := &fakeHTTPMetrics{}
	core, logs := observer.New(zap.InfoLevel)
	handler := Observe(zap.New(core), m, MuxRoutes(mux))(mux)

	for _, path := range []string{"/api/v1/config/history?limit=2", "/no/such/42", "/no/such/43"} {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.Equal(t, []recordedRequest{
		{method: http.MethodGet, route: "/api/v1/config/history", status: http.StatusAccepted},
		{method: http.MethodGet, route: "unmatched", status: http.StatusNotFound},
		{method: http.MethodGet, route: "unmatched", status: http.StatusNotFound},
	}, m.got)
	require.Equal(t, 3, logs.Len())
	assert.Equal(t, "/api/v1/config/history", logs.All()[0].ContextMap()["route"])
}

func TestObserve_ServerErrorsLogAtWarn(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	core, logs := observer.New(zap.InfoLevel)
	routes := func(*http.Request) string { return "/api/v1/config" }
	r := httptest.NewRequest(http.MethodPut, "/api/v1/config", nil)
	r = r.WithContext(types.WithRequestID(r.Context(), "req-1"))

	Observe(zap.New(core), nil, routes)(inner).ServeHTTP(httptest.NewRecorder(), r)

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, zap.WarnLevel, entry.Level)
	assert.Equal(t, "req-1", entry.ContextMap()["request_id"])
}

func TestClientLimiter_Sweep(t *testing.T) {
	l := newClientLimiter(10, 0)
	assert.Equal(t, 10, l.burst)

	now := time.Now()
	assert.True(t, l.allow("10.0.0.1", now))
	assert.True(t, l.allow("10.0.0.2", now.Add(2*time.Minute)))

	assert.Equal(t, 1, l.sweep(now.Add(4*time.Minute), limiterIdleTTL), "only the stale client is dropped")
	assert.Equal(t, 0, l.sweep(now.Add(10*time.Minute), limiterIdleTTL))
}
