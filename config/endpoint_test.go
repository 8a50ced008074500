package config

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/BaSui01/dynconf/api"
	"github.com/BaSui01/dynconf/directive"
	"github.com/BaSui01/dynconf/types"
)

func submit(c *Coordinator, port int, method, body string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(method, "/update-config", strings.NewReader(body))
	r.RemoteAddr = "127.0.0.1:40000"
	return serve(c, port, r)
}

// --- 成功路径 ---

func TestEndpoint_SubmitValidConfig(t *testing.T) {
	c, port := bootstrapped(t)

	w := submit(c, port, http.MethodPost, confText(port, "v2"))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Body.String())
	assert.Equal(t, "2", w.Header().Get("X-Config-Generation"))
	assert.Equal(t, uint64(2), c.Generation())

	w = serve(c, port, httptest.NewRequest(http.MethodGet, "/test", nil))
	assert.Equal(t, "v2", w.Body.String())

	changes := c.ChangeLog(1)
	require.Len(t, changes, 1)
	assert.Equal(t, types.SourceHTTP, changes[0].Source)
	assert.Equal(t, "127.0.0.1:40000", changes[0].RemoteAddr)
}

// 修正后重新提交即可生效
func TestEndpoint_ResubmitAfterRejection(t *testing.T) {
	c, port := bootstrapped(t)

	bad := strings.Replace(confText(port, "v2"), "listen", "invalid_directive on;\n        listen", 1)
	w := submit(c, port, http.MethodPost, bad)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "1", w.Header().Get("X-Config-Generation"))

	w = submit(c, port, http.MethodPost, confText(port, "v2"))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, uint64(2), c.Generation())
}

// --- 拒绝路径 ---

func TestEndpoint_RejectsUnknownDirective(t *testing.T) {
	c, port := bootstrapped(t)

	w := submit(c, port, http.MethodPost, "http {\n    invalid_directive on;\n}\n")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "text/plain; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Equal(t, "unknown directive \"invalid_directive\" in line 2\n", w.Body.String())
	assert.Equal(t, uint64(1), c.Generation())

	changes := c.ChangeLog(1)
	require.Len(t, changes, 1)
	assert.Equal(t, string(types.ErrSemantic), changes[0].Outcome)
}

func TestEndpoint_RejectsEmptyBody(t *testing.T) {
	c, port := bootstrapped(t)

	w := submit(c, port, http.MethodPost, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "request body is empty\n", w.Body.String())

	// 仅含注释的配置没有任何指令
	w = submit(c, port, http.MethodPost, "# nothing here\n")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "configuration has no directives\n", w.Body.String())

	assert.Equal(t, uint64(1), c.Generation())
	assert.Equal(t, []int{port}, c.Fleet().Ports())

	// 端点仍在服务
	w = submit(c, port, http.MethodPost, confText(port, "v2"))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, uint64(2), c.Generation())

	changes := c.ChangeLog(3)
	require.Len(t, changes, 3)
	assert.Equal(t, string(types.ErrInvalidRequest), changes[0].Outcome)
	assert.Equal(t, string(types.ErrSemantic), changes[1].Outcome)
}

func TestEndpoint_RejectsSyntaxError(t *testing.T) {
	c, port := bootstrapped(t)

	w := submit(c, port, http.MethodPost, "http { server { listen 80; ")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "unexpected end of file")
	assert.Equal(t, uint64(1), c.Generation())
}

func TestEndpoint_RejectsMethod(t *testing.T) {
	c, port := bootstrapped(t)

	for _, method := range []string{http.MethodGet, http.MethodPut, http.MethodDelete} {
		t.Run(method, func(t *testing.T) {
			w := submit(c, port, method, confText(port, "v2"))
			assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
			assert.Equal(t, http.MethodPost, w.Header().Get("Allow"))
		})
	}
	assert.Equal(t, uint64(1), c.Generation())
}

func TestEndpoint_RejectsDisallowedIP(t *testing.T) {
	c, port := bootstrapped(t)

	r := httptest.NewRequest(http.MethodPost, "/update-config", strings.NewReader(confText(port, "v2")))
	r.RemoteAddr = "203.0.113.9:1234"
	w := serve(c, port, r)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, uint64(1), c.Generation())
}

// 超限请求体在解析之前被拒绝，声明长度与分块传输都一样
func TestEndpoint_BodyLimitBeforeParse(t *testing.T) {
	var parses atomic.Int32
	countingParse := func(b []byte) (*directive.Document, error) {
		parses.Add(1)
		return directive.ParseAndValidate(b)
	}
	c := newTestCoordinator(t, WithEndpointOptions(WithParseFunc(countingParse)))
	port := freePort(t)
	text := fmt.Sprintf(`http {
    server {
        listen %d;
        location /update-config {
            dynamic_config;
            dynamic_config_max_body_size 1k;
        }
    }
}`, port)
	_, err := c.Bootstrap(context.Background(), mustDoc(t, text))
	require.NoError(t, err)

	big := text + "\n# " + strings.Repeat("x", 2048) + "\n"

	w := submit(c, port, http.MethodPost, big)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	r := httptest.NewRequest(http.MethodPost, "/update-config", strings.NewReader(big))
	r.RemoteAddr = "127.0.0.1:40000"
	r.ContentLength = -1
	w = serve(c, port, r)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	assert.Equal(t, int32(0), parses.Load())
	assert.Equal(t, uint64(1), c.Generation())

	w = submit(c, port, http.MethodPost, text)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int32(1), parses.Load())
}

func TestEndpoint_Busy(t *testing.T) {
	c, port := bootstrapped(t, WithQueueTimeout(20*time.Millisecond))

	require.NoError(t, c.lock.Acquire(context.Background(), 1))
	w := submit(c, port, http.MethodPost, confText(port, "v2"))
	c.lock.Release(1)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	assert.Equal(t, uint64(1), c.Generation())
}

// --- JSON 响应 ---

func TestEndpoint_JSONResponses(t *testing.T) {
	c, port := bootstrapped(t)

	r := httptest.NewRequest(http.MethodPost, "/update-config", strings.NewReader(confText(port, "v2")))
	r.RemoteAddr = "127.0.0.1:40000"
	r.Header.Set("Accept", "application/json")
	w := serve(c, port, r)
	require.Equal(t, http.StatusOK, w.Code)

	var ok struct {
		Success bool            `json:"success"`
		Data    api.ApplyResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ok))
	assert.True(t, ok.Success)
	assert.Equal(t, uint64(2), ok.Data.Generation)
	assert.Equal(t, c.Current().Checksum, ok.Data.Checksum)

	r = httptest.NewRequest(http.MethodPost, "/update-config", strings.NewReader("http {\n    invalid_directive on;\n}\n"))
	r.RemoteAddr = "127.0.0.1:40000"
	r.Header.Set("Accept", "application/json")
	w = serve(c, port, r)
	require.Equal(t, http.StatusBadRequest, w.Code)

	var failed api.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &failed))
	assert.False(t, failed.Success)
	require.NotNil(t, failed.Error)
	assert.Equal(t, string(types.ErrSemantic), failed.Error.Code)
	assert.Equal(t, "invalid_directive", failed.Error.Directive)
	assert.Equal(t, 2, failed.Error.Line)
}

func TestRetryAfter(t *testing.T) {
	assert.Equal(t, "1", retryAfter(0))
	assert.Equal(t, "1", retryAfter(200*time.Millisecond))
	assert.Equal(t, "30", retryAfter(30*time.Second))
}

// --- 属性 ---

// 属性：含任意未知指令的提交都被拒绝，代际不变
func TestProperty_UnknownDirectiveKeepsGeneration(t *testing.T) {
	c, port := bootstrapped(t)

	rapid.Check(t, func(rt *rapid.T) {
		name := rapid.StringMatching(`[a-z_]{3,16}`).Filter(func(s string) bool {
			_, known := directive.Lookup(s)
			return !known
		}).Draw(rt, "name")

		body := strings.Replace(confText(port, "x"), "location /test", name+" on;\n        location /test", 1)
		w := submit(c, port, http.MethodPost, body)
		if w.Code != http.StatusBadRequest {
			rt.Fatalf("expected 400 for %q, got %d", name, w.Code)
		}
		if !strings.Contains(w.Body.String(), strconv.Quote(name)) {
			rt.Fatalf("reason does not name the directive: %q", w.Body.String())
		}
		if c.Generation() != 1 {
			rt.Fatalf("generation changed to %d", c.Generation())
		}
	})
}

// 属性：任意有效/无效提交序列之后，代际等于成功次数加一，活动配置是最后一次成功的提交
func TestProperty_ReloadAtomicity(t *testing.T) {
	c, port := bootstrapped(t)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	properties := gopter.NewProperties(parameters)

	seq := 0
	properties.Property("only valid submissions publish", prop.ForAll(
		func(valid []bool) bool {
			startGen := c.Generation()
			applied := uint64(0)
			want := serve(c, port, httptest.NewRequest(http.MethodGet, "/test", nil)).Body.String()

			for _, ok := range valid {
				seq++
				body := "v" + strconv.Itoa(seq)
				text := confText(port, body)
				if !ok {
					text = strings.Replace(text, "listen", "listen_bogus 1;\n        listen", 1)
				}
				w := submit(c, port, http.MethodPost, text)
				if ok != (w.Code == http.StatusOK) {
					t.Logf("submission valid=%v got status %d", ok, w.Code)
					return false
				}
				if ok {
					applied++
					want = body
				}
				got := serve(c, port, httptest.NewRequest(http.MethodGet, "/test", nil)).Body.String()
				if got != want {
					t.Logf("served %q, want %q", got, want)
					return false
				}
			}
			return c.Generation() == startGen+applied
		},
		gen.SliceOfN(6, gen.Bool()),
	))

	properties.TestingRun(t)
}

// 并发读取方只会看到某个完整发布的配置
func TestEndpoint_ConcurrentReadersSeeCompleteSnapshots(t *testing.T) {
	c, port := bootstrapped(t)

	var published sync.Map
	published.Store("v1", true)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	var bad atomic.Int32
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				snap := c.Current()
				r := httptest.NewRequest(http.MethodGet, "/test", nil)
				r = r.WithContext(withSnapshot(r.Context(), snap))
				w := httptest.NewRecorder()
				c.Handler(port).ServeHTTP(w, r)
				// 同一快照的元数据与内容一致
				if w.Code != http.StatusOK || w.Header().Get("X-Config-Generation") != strconv.FormatUint(snap.Generation, 10) {
					bad.Add(1)
				}
				if _, ok := published.Load(w.Body.String()); !ok {
					bad.Add(1)
				}
			}
		}()
	}

	for i := 2; i <= 20; i++ {
		body := "v" + strconv.Itoa(i)
		text := confText(port, body)
		if i%3 == 0 {
			text = strings.Replace(text, "listen", "listen_bogus 1;\n        listen", 1)
		} else {
			published.Store(body, true)
		}
		submit(c, port, http.MethodPost, text)
	}
	cancel()
	wg.Wait()

	assert.Equal(t, int32(0), bad.Load())
}
