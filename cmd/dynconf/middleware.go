package main

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/dynconf/api/handlers"
	"github.com/BaSui01/dynconf/types"
)

// 管理面中间件。只包裹管理监听器；数据面由 vhost.Table 直接服务。

type Middleware func(http.Handler) http.Handler

// Chain 第一个中间件在最外层
func Chain(h http.Handler, middlewares ...Middleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// HTTPMetrics metrics.Collector 实现此接口
type HTTPMetrics interface {
	RecordHTTPRequest(method, path string, status int, duration time.Duration, requestSize, responseSize int64)
}

// RouteFunc 返回请求命中的路由模式，未命中返回空串
type RouteFunc func(r *http.Request) string

// MuxRoutes 以 ServeMux 注册的模式作为指标与 span 名，标签基数等于路由数
func MuxRoutes(mux *http.ServeMux) RouteFunc {
	return func(r *http.Request) string {
		_, pattern := mux.Handler(r)
		return pattern
	}
}

func routeLabel(routes RouteFunc, r *http.Request) string {
	if p := routes(r); p != "" {
		return p
	}
	return "unmatched"
}

func Recovery(logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if v := recover(); v != nil {
					logger.Error("panic in admin handler",
						zap.Any("panic", v),
						zap.String("path", r.URL.Path),
						zap.Stack("stack"))
					handlers.WriteError(w, r, types.NewError(types.ErrInternalError, "internal server error"), nil)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// Observe 为每个请求写一条访问日志并上报 HTTP 指标
func Observe(logger *zap.Logger, collector HTTPMetrics, routes RouteFunc) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := handlers.NewResponseWriter(w)
			next.ServeHTTP(rw, r)
			elapsed := time.Since(start)

			route := routeLabel(routes, r)
			if collector != nil {
				collector.RecordHTTPRequest(r.Method, route, rw.StatusCode, elapsed, max(r.ContentLength, 0), rw.Bytes)
			}

			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("route", route),
				zap.Int("status", rw.StatusCode),
				zap.Duration("duration", elapsed),
				zap.String("remote_addr", r.RemoteAddr),
			}
			if id, ok := types.RequestID(r.Context()); ok {
				fields = append(fields, zap.String("request_id", id))
			}
			if id, ok := types.TraceID(r.Context()); ok {
				fields = append(fields, zap.String("trace_id", id))
			}
			if rw.StatusCode >= http.StatusInternalServerError {
				logger.Warn("admin request", fields...)
				return
			}
			logger.Info("admin request", fields...)
		})
	}
}

// OTelTracing 每个请求一个 server span，延续上游 traceparent
func OTelTracing(routes RouteFunc) Middleware {
	tracer := otel.Tracer("dynconf/admin")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := tracer.Start(ctx, r.Method+" "+routeLabel(routes, r),
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.URLPath(r.URL.Path),
				),
			)
			defer span.End()

			if sc := span.SpanContext(); sc.HasTraceID() {
				ctx = types.WithTraceID(ctx, sc.TraceID().String())
			}
			rw := handlers.NewResponseWriter(w)
			next.ServeHTTP(rw, r.WithContext(ctx))
			span.SetAttributes(attribute.Int("http.response.status_code", rw.StatusCode))
		})
	}
}

// =============================================================================
// 🚦 限流
// =============================================================================

const limiterIdleTTL = 3 * time.Minute

// clientLimiter 每个客户端 IP 一个令牌桶
type clientLimiter struct {
	mu      sync.Mutex
	rps     rate.Limit
	burst   int
	clients map[string]*clientBucket
}

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newClientLimiter(rps float64, burst int) *clientLimiter {
	if burst <= 0 {
		burst = max(1, int(rps))
	}
	return &clientLimiter{rps: rate.Limit(rps), burst: burst, clients: make(map[string]*clientBucket)}
}

func (l *clientLimiter) allow(ip string, now time.Time) bool {
	l.mu.Lock()
	b, ok := l.clients[ip]
	if !ok {
		b = &clientBucket{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.clients[ip] = b
	}
	b.lastSeen = now
	l.mu.Unlock()
	return b.limiter.AllowN(now, 1)
}

// sweep 丢弃 idle 以上未出现的客户端，返回剩余数量
func (l *clientLimiter) sweep(now time.Time, idle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	for ip, b := range l.clients {
		if now.Sub(b.lastSeen) > idle {
			delete(l.clients, ip)
		}
	}
	return len(l.clients)
}

// RateLimiter 按客户端 IP 限流，超限返回 429 与 Retry-After；ctx 结束时停止清理
func RateLimiter(ctx context.Context, rps float64, burst int, logger *zap.Logger) Middleware {
	l := newClientLimiter(rps, burst)
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				l.sweep(now, limiterIdleTTL)
			}
		}
	}()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				ip = r.RemoteAddr
			}
			if !l.allow(ip, time.Now()) {
				logger.Debug("admin rate limit exceeded", zap.String("ip", ip), zap.String("path", r.URL.Path))
				w.Header().Set("Retry-After", "1")
				handlers.WriteError(w, r, types.NewError(types.ErrRateLimited, "too many requests"), nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// =============================================================================
// 🏷️ 请求 ID / 响应头
// =============================================================================

const maxRequestIDLen = 128

// RequestID 沿用客户端的 X-Request-ID，缺失或过长时生成 UUID
func RequestID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get("X-Request-ID")
			if id == "" || len(id) > maxRequestIDLen {
				id = uuid.NewString()
			}
			w.Header().Set("X-Request-ID", id)
			next.ServeHTTP(w, r.WithContext(types.WithRequestID(r.Context(), id)))
		})
	}
}

// SecurityHeaders 管理面只返回 JSON 与纯文本，配置内容不允许被缓存
func SecurityHeaders() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Content-Security-Policy", "default-src 'none'")
			h.Set("Cache-Control", "no-store")
			next.ServeHTTP(w, r)
		})
	}
}
