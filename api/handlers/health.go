package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/dynconf/api"
)

// readyTimeout 就绪探针上所有依赖检查共享的超时
const readyTimeout = 5 * time.Second

// =============================================================================
// 🏥 健康检查 Handler
// =============================================================================

// HealthHandler 管理面的存活/就绪探针
type HealthHandler struct {
	logger     *zap.Logger
	mu         sync.RWMutex
	checks     []HealthCheck
	generation func() uint64
}

// HealthCheck 就绪探针依赖项
type HealthCheck interface {
	Name() string
	Check(ctx context.Context) error
}

// HealthStatus 探针响应体
type HealthStatus struct {
	Status    string    `json:"status"` // healthy | unhealthy
	Timestamp time.Time `json:"timestamp"`
	// Generation 活动配置的代际号
	Generation uint64                 `json:"generation,omitempty"`
	Checks     map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult 单项检查结果
type CheckResult struct {
	Status  string `json:"status"` // pass | fail
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

func NewHealthHandler(logger *zap.Logger) *HealthHandler {
	return &HealthHandler{logger: logger}
}

// SetGenerationSource /ready 要求代际大于 0，即已装载过一份配置
func (h *HealthHandler) SetGenerationSource(fn func() uint64) {
	h.mu.Lock()
	h.generation = fn
	h.mu.Unlock()
}

func (h *HealthHandler) RegisterCheck(check HealthCheck) {
	h.mu.Lock()
	h.checks = append(h.checks, check)
	h.mu.Unlock()
}

func (h *HealthHandler) snapshot() ([]HealthCheck, func() uint64) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]HealthCheck(nil), h.checks...), h.generation
}

// =============================================================================
// 🎯 HTTP 处理程序
// =============================================================================

// HandleHealth 进程存活即返回 200，附带当前代际
// @Summary 健康检查
// @Tags 健康
// @Produce json
// @Success 200 {object} HealthStatus
// @Router /health [get]
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	_, generation := h.snapshot()
	status := HealthStatus{Status: "healthy", Timestamp: time.Now()}
	if generation != nil {
		status.Generation = generation()
	}
	WriteJSON(w, http.StatusOK, status)
}

// HandleHealthz Kubernetes 存活探针
// @Router /healthz [get]
func (h *HealthHandler) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	h.HandleHealth(w, r)
}

// HandleReady 并行运行全部依赖检查，任一失败返回 503
// @Summary 就绪检查
// @Tags 健康
// @Produce json
// @Success 200 {object} HealthStatus
// @Failure 503 {object} HealthStatus
// @Router /ready [get]
func (h *HealthHandler) HandleReady(w http.ResponseWriter, r *http.Request) {
	checks, generation := h.snapshot()

	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	results := make([]CheckResult, len(checks))
	var g errgroup.Group
	for i, check := range checks {
		g.Go(func() error {
			results[i] = h.run(ctx, check)
			return nil
		})
	}
	_ = g.Wait()

	status := HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
		Checks:    make(map[string]CheckResult, len(checks)+1),
	}
	if generation != nil {
		status.Generation = generation()
		res := CheckResult{Status: "pass"}
		if status.Generation == 0 {
			res = CheckResult{Status: "fail", Message: "no active configuration"}
		}
		status.Checks["configuration"] = res
	}
	for i, check := range checks {
		status.Checks[check.Name()] = results[i]
	}

	code := http.StatusOK
	for _, res := range status.Checks {
		if res.Status != "pass" {
			status.Status = "unhealthy"
			code = http.StatusServiceUnavailable
			break
		}
	}
	WriteJSON(w, code, status)
}

func (h *HealthHandler) run(ctx context.Context, check HealthCheck) CheckResult {
	start := time.Now()
	err := check.Check(ctx)
	latency := time.Since(start)

	if err != nil {
		h.logger.Warn("health check failed",
			zap.String("check", check.Name()),
			zap.Duration("latency", latency),
			zap.Error(err),
		)
		return CheckResult{Status: "fail", Message: err.Error(), Latency: latency.String()}
	}
	return CheckResult{Status: "pass", Latency: latency.String()}
}

// HandleVersion 返回构建信息
// @Summary 版本信息
// @Tags 健康
// @Produce json
// @Success 200 {object} api.VersionInfo
// @Router /version [get]
func (h *HealthHandler) HandleVersion(version, buildTime, gitCommit string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteSuccess(w, r, api.VersionInfo{
			Version:   version,
			BuildTime: buildTime,
			GitCommit: gitCommit,
		})
	}
}

// =============================================================================
// 🔧 内置检查
// =============================================================================

// PingCheck 把任意 ping 函数包装为 HealthCheck（审计库、Redis 镜像）
type PingCheck struct {
	name string
	ping func(ctx context.Context) error
}

func NewPingCheck(name string, ping func(ctx context.Context) error) *PingCheck {
	return &PingCheck{name: name, ping: ping}
}

func (c *PingCheck) Name() string                    { return c.name }
func (c *PingCheck) Check(ctx context.Context) error { return c.ping(ctx) }
