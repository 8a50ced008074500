package server

import (
	"context"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func localConfig() Config {
	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:0"
	cfg.ShutdownTimeout = 2 * time.Second
	return cfg
}

func get(t *testing.T, addr string) (int, string) {
	t.Helper()
	resp, err := http.Get("http://" + addr + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 75*time.Second, cfg.IdleTimeout)
	assert.Equal(t, 1<<20, cfg.MaxHeaderBytes)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
}

func TestManager_Lifecycle(t *testing.T) {
	m := NewManager(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}), localConfig(), zap.NewNop(), WithName("admin"))

	assert.Equal(t, StateIdle, m.State())
	assert.Equal(t, "127.0.0.1:0", m.Addr())

	require.NoError(t, m.Start())
	assert.Equal(t, StateServing, m.State())
	assert.NotEqual(t, "127.0.0.1:0", m.Addr(), "bound address replaces the configured one")

	code, body := get(t, m.Addr())
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body)

	assert.ErrorIs(t, m.Start(), ErrAlreadyServed)

	require.NoError(t, m.Shutdown(context.Background()))
	assert.Equal(t, StateClosed, m.State())
	require.NoError(t, m.Shutdown(context.Background()), "second shutdown is a no-op")
	assert.ErrorIs(t, m.Start(), ErrServerClosed)
}

func TestManager_ServeExistingListenerWithConnContext(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	type ctxKey struct{}
	m := NewManager(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		v, _ := r.Context().Value(ctxKey{}).(string)
		_, _ = w.Write([]byte(v))
	}), localConfig(), zap.NewNop(),
		WithConnContext(func(ctx context.Context, _ net.Conn) context.Context {
			return context.WithValue(ctx, ctxKey{}, "conn-scoped")
		}))

	require.NoError(t, m.Serve(l))
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })
	assert.Equal(t, l.Addr().String(), m.Addr())

	_, body := get(t, m.Addr())
	assert.Equal(t, "conn-scoped", body)
}

func TestManager_ShutdownDrainsInFlight(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	m := NewManager(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-release
		_, _ = w.Write([]byte("drained"))
	}), localConfig(), zap.NewNop())
	require.NoError(t, m.Start())
	addr := m.Addr()

	result := make(chan string, 1)
	go func() {
		resp, err := http.Get("http://" + addr + "/")
		if err != nil {
			result <- err.Error()
			return
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		result <- string(body)
	}()
	<-started

	done := make(chan error, 1)
	go func() { done <- m.Shutdown(context.Background()) }()

	// 关闭期间拒绝新连接
	require.Eventually(t, func() bool {
		c, err := net.DialTimeout("tcp", addr, 100*time.Millisecond)
		if err == nil {
			c.Close()
		}
		return err != nil
	}, 2*time.Second, 20*time.Millisecond)

	close(release)
	assert.Equal(t, "drained", <-result)
	assert.NoError(t, <-done)
}

func TestManager_ErrorChannel(t *testing.T) {
	ch := make(chan error, 1)
	m := NewManager(http.NewServeMux(), DefaultConfig(), zap.NewNop(), WithErrorChannel(ch))
	assert.Equal(t, (<-chan error)(ch), m.Errors())

	select {
	case <-m.Errors():
		t.Fatal("no error expected before serving")
	default:
	}
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "serving", StateServing.String())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "State(9)", State(9).String())
}
