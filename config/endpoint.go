package config

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/dynconf/api"
	"github.com/BaSui01/dynconf/api/handlers"
	"github.com/BaSui01/dynconf/directive"
	"github.com/BaSui01/dynconf/internal/admission"
	"github.com/BaSui01/dynconf/internal/pool"
	"github.com/BaSui01/dynconf/types"
)

// =============================================================================
// 🔁 dynamic_config 端点
// =============================================================================

// ParseFunc 解析并校验提交的配置文本
type ParseFunc func(text []byte) (*directive.Document, error)

// EndpointOption 端点选项
type EndpointOption func(*Endpoint)

// WithParseFunc 替换解析函数
func WithParseFunc(fn ParseFunc) EndpointOption {
	return func(e *Endpoint) {
		if fn != nil {
			e.parse = fn
		}
	}
}

// Endpoint 接收 POST 提交的完整配置：准入 → 读取 → 解析校验 → 发布
type Endpoint struct {
	coord  *Coordinator
	guard  *admission.Guard
	parse  ParseFunc
	logger *zap.Logger
}

// NewEndpoint 按准入策略创建端点
func NewEndpoint(coord *Coordinator, policy admission.Policy, opts ...EndpointOption) *Endpoint {
	e := &Endpoint{
		coord:  coord,
		parse:  directive.ParseAndValidate,
		logger: coord.logger.With(zap.String("component", "config_endpoint")),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.guard = admission.NewGuard(policy, admission.WithOnReject(func(r *http.Request, reason admission.DenyReason) {
		coord.metrics.RecordAdmissionRejection(string(reason))
		e.logger.Info("submission rejected",
			zap.String("reason", string(reason)),
			zap.String("method", r.Method),
			zap.String("remote_addr", r.RemoteAddr),
			zap.Int64("content_length", r.ContentLength))
	}))
	return e
}

// ServeHTTP 实现 http.Handler
func (e *Endpoint) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := e.guard.Admit(r); err != nil {
		e.respond(w, r, nil, err)
		return
	}

	buf := pool.ByteBufferPool.Get()
	defer pool.ByteBufferPool.Put(buf)
	if err := e.guard.ReadBody(w, r, buf); err != nil {
		e.respond(w, r, nil, err)
		return
	}

	ctx := types.WithRemoteAddr(r.Context(), r.RemoteAddr)
	ctx = types.WithReloadSource(ctx, types.SourceHTTP)

	if buf.Len() == 0 {
		err := types.NewError(types.ErrInvalidRequest, "request body is empty")
		e.coord.RecordFailure(ctx, types.SourceHTTP, "", err)
		e.respond(w, r, nil, err)
		return
	}

	doc, err := e.parse(buf.Bytes())
	if err != nil {
		e.coord.RecordFailure(ctx, types.SourceHTTP, "", err)
		e.respond(w, r, nil, err)
		return
	}

	snap, err := e.coord.Apply(ctx, doc, types.SourceHTTP)
	e.respond(w, r, snap, err)
}

func (e *Endpoint) respond(w http.ResponseWriter, r *http.Request, snap *Snapshot, err error) {
	generation := e.coord.Generation()
	if snap != nil {
		generation = snap.Generation
	}
	h := w.Header()
	h.Set("X-Config-Generation", strconv.FormatUint(generation, 10))

	status := types.HTTPStatusOf(err)
	switch status {
	case http.StatusMethodNotAllowed:
		h.Set("Allow", e.guard.Policy().Method)
	case http.StatusServiceUnavailable:
		h.Set("Retry-After", retryAfter(e.coord.QueueTimeout()))
	}

	if wantsJSON(r) {
		if err == nil {
			handlers.WriteSuccess(w, r, api.ApplyResult{Generation: snap.Generation, Checksum: snap.Checksum})
			return
		}
		handlers.WriteErr(w, r, err, e.logger)
		return
	}

	if err == nil {
		w.WriteHeader(http.StatusOK)
		return
	}
	h.Set("Content-Type", "text/plain; charset=utf-8")
	h.Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(types.ReasonOf(err) + "\n"))
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

func retryAfter(d time.Duration) string {
	secs := int(d / time.Second)
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}
