// config 包的 HTTP 配置管理 API。
//
// 提供活动配置查询、历史与变更日志查询、回滚、从磁盘重载以及仅校验不发布的能力。
package config

import (
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/dynconf/api"
	"github.com/BaSui01/dynconf/api/handlers"
	"github.com/BaSui01/dynconf/directive"
	"github.com/BaSui01/dynconf/types"
)

const (
	// maxValidateBodySize 校验接口的请求体上限
	maxValidateBodySize = 1 << 20
	// defaultChangesLimit /changes 未指定 limit 时返回的条数
	defaultChangesLimit = 50
)

// ConfigAPIHandler 管理面的 /api/v1/config/* 路由
type ConfigAPIHandler struct {
	coord         *Coordinator
	configPath    string
	allowedOrigin string
	logger        *zap.Logger
}

// apiError 测试中解码错误体用
type apiError = api.ErrorInfo

// route 一条 API 路由；每条路由只接受一个方法（外加 OPTIONS 预检）
type route struct {
	path   string
	method string
	serve  http.HandlerFunc
}

// NewConfigAPIHandler configPath 是 /reload 读取的文件；allowedOrigin 为空时不输出
// Access-Control-Allow-Origin。
func NewConfigAPIHandler(coord *Coordinator, configPath string, logger *zap.Logger, allowedOrigin ...string) *ConfigAPIHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &ConfigAPIHandler{
		coord:      coord,
		configPath: configPath,
		logger:     logger.With(zap.String("component", "config_api")),
	}
	if len(allowedOrigin) > 0 {
		h.allowedOrigin = allowedOrigin[0]
	}
	return h
}

func (h *ConfigAPIHandler) routes() []route {
	return []route{
		{"/api/v1/config", http.MethodGet, h.getConfig},
		{"/api/v1/config/history", http.MethodGet, h.getHistory},
		{"/api/v1/config/changes", http.MethodGet, h.getChanges},
		{"/api/v1/config/rollback", http.MethodPost, h.postRollback},
		{"/api/v1/config/reload", http.MethodPost, h.postReload},
		{"/api/v1/config/validate", http.MethodPost, h.postValidate},
	}
}

// RegisterRoutes 不带鉴权地注册全部路由
func (h *ConfigAPIHandler) RegisterRoutes(mux *http.ServeMux) {
	h.mount(mux, nil)
}

// mount wrap 非空时套在方法检查之外，使 OPTIONS 与 405 同样经过它
func (h *ConfigAPIHandler) mount(mux *http.ServeMux, wrap func(http.Handler) http.Handler) {
	for _, rt := range h.routes() {
		var handler http.Handler = h.guard(rt)
		if wrap != nil {
			handler = wrap(handler)
		}
		mux.Handle(rt.path, handler)
	}
}

// guard 应答 CORS 预检并拒绝不匹配的方法
func (h *ConfigAPIHandler) guard(rt route) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case rt.method:
			rt.serve(w, r)
		case http.MethodOptions:
			h.preflight(w)
		default:
			w.Header().Set("Allow", rt.method+", OPTIONS")
			handlers.WriteJSON(w, http.StatusMethodNotAllowed, api.Response{
				Error: &api.ErrorInfo{
					Code:       "METHOD_NOT_ALLOWED",
					Message:    "method " + r.Method + " not allowed",
					HTTPStatus: http.StatusMethodNotAllowed,
				},
				Timestamp: time.Now(),
			})
		}
	}
}

func (h *ConfigAPIHandler) preflight(w http.ResponseWriter) {
	hdr := w.Header()
	if h.allowedOrigin != "" {
		hdr.Set("Access-Control-Allow-Origin", h.allowedOrigin)
	}
	hdr.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	hdr.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")
	hdr.Set("Access-Control-Max-Age", "86400")
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// 📖 查询
// =============================================================================

// getConfig 返回活动配置
// @Summary 获取活动配置
// @Tags config
// @Produce json
// @Success 200 {object} api.Response "活动配置"
// @Failure 503 {object} api.Response "尚无活动配置"
// @Router /api/v1/config [get]
func (h *ConfigAPIHandler) getConfig(w http.ResponseWriter, r *http.Request) {
	snap := h.coord.Current()
	if snap == nil {
		h.fail(w, r, types.NewError(types.ErrServiceUnavailable, "no active configuration"))
		return
	}
	h.ok(w, r, api.ConfigView{ConfigInfo: snap.Info(), Text: snap.Document.Render()})
}

// getHistory 返回可回滚的快照（旧到新）
// @Summary 获取配置历史
// @Tags config
// @Produce json
// @Success 200 {object} api.Response "历史快照"
// @Router /api/v1/config/history [get]
func (h *ConfigAPIHandler) getHistory(w http.ResponseWriter, r *http.Request) {
	h.ok(w, r, api.HistoryResponse{Current: h.coord.Generation(), Items: h.coord.History()})
}

// getChanges 返回最近的重载尝试，包括被拒绝的提交
// @Summary 获取重载记录
// @Tags config
// @Produce json
// @Param limit query int false "返回的最大记录数" default(50)
// @Success 200 {object} api.Response "重载记录"
// @Router /api/v1/config/changes [get]
func (h *ConfigAPIHandler) getChanges(w http.ResponseWriter, r *http.Request) {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		limit = defaultChangesLimit
	}
	changes := h.coord.ChangeLog(limit)
	h.ok(w, r, api.ChangesResponse{Count: len(changes), Items: changes})
}

// =============================================================================
// ✏️ 变更
// =============================================================================

// postRollback 以新代际重新发布历史配置；目标代际取自 query 或 JSON 请求体
// @Summary 回滚配置
// @Tags config
// @Accept json
// @Produce json
// @Param generation query int false "目标代际"
// @Param request body api.RollbackRequest false "目标代际"
// @Success 200 {object} api.Response "已回滚"
// @Failure 400 {object} api.Response "资源试运行失败"
// @Failure 404 {object} api.Response "代际不在历史中"
// @Router /api/v1/config/rollback [post]
func (h *ConfigAPIHandler) postRollback(w http.ResponseWriter, r *http.Request) {
	target, err := rollbackTarget(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	snap, err := h.coord.Rollback(types.WithRemoteAddr(r.Context(), r.RemoteAddr), target)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, r, api.ApplyResult{Generation: snap.Generation, Checksum: snap.Checksum})
}

func rollbackTarget(r *http.Request) (uint64, error) {
	invalid := types.NewError(types.ErrInvalidRequest, "generation must be a positive integer")

	var req api.RollbackRequest
	if s := r.URL.Query().Get("generation"); s != "" {
		g, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return 0, invalid.WithCause(err)
		}
		req.Generation = g
	} else if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&req); err != nil {
		return 0, types.NewError(types.ErrInvalidRequest, "generation is required").WithCause(err)
	}
	if req.Generation == 0 {
		return 0, invalid
	}
	return req.Generation, nil
}

// postReload 重新读取磁盘上的配置文件；内容未变化时不产生新代际
// @Summary 从文件重载配置
// @Tags config
// @Produce json
// @Success 200 {object} api.Response "配置已发布"
// @Failure 400 {object} api.Response "配置无效或试运行失败"
// @Failure 503 {object} api.Response "重载繁忙"
// @Router /api/v1/config/reload [post]
func (h *ConfigAPIHandler) postReload(w http.ResponseWriter, r *http.Request) {
	if h.configPath == "" {
		h.fail(w, r, types.NewError(types.ErrInvalidRequest, "no configuration path set"))
		return
	}

	ctx := types.WithRemoteAddr(r.Context(), r.RemoteAddr)
	snap, err := h.coord.ReloadFromFile(ctx, h.configPath, types.SourceFile)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, r, api.ApplyResult{Generation: snap.Generation, Checksum: snap.Checksum})
}

// postValidate 类似 nginx -t：只解析与校验，不做试运行也不占用资源
// @Summary 校验配置
// @Tags config
// @Accept plain
// @Produce json
// @Success 200 {object} api.Response "配置有效"
// @Failure 400 {object} api.Response "配置无效"
// @Router /api/v1/config/validate [post]
func (h *ConfigAPIHandler) postValidate(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxValidateBodySize))
	if err != nil {
		h.fail(w, r, types.NewAdmissionError(http.StatusRequestEntityTooLarge, "request body is too large").WithCause(err))
		return
	}

	doc, err := directive.ParseAndValidate(body)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	count := 0
	doc.Walk(func(_ []*directive.Directive, _ *directive.Directive) bool {
		count++
		return true
	})
	h.ok(w, r, api.ValidateResult{Valid: true, Checksum: doc.Checksum(), Directives: count})
}

// =============================================================================
// 📤 响应
// =============================================================================

func (h *ConfigAPIHandler) ok(w http.ResponseWriter, r *http.Request, data any) {
	w.Header().Set("X-Config-Generation", strconv.FormatUint(h.coord.Generation(), 10))
	handlers.WriteSuccess(w, r, data)
}

// fail 重载繁忙时按队列超时给出 Retry-After，且不记错误日志
func (h *ConfigAPIHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	w.Header().Set("X-Config-Generation", strconv.FormatUint(h.coord.Generation(), 10))
	logger := h.logger
	if e, ok := types.AsError(err); ok && e.Retryable {
		w.Header().Set("Retry-After", retryAfter(h.coord.QueueTimeout()))
		logger = nil
	}
	handlers.WriteErr(w, r, err, logger)
}

// =============================================================================
// 🔐 鉴权
// =============================================================================

// ConfigAPIMiddleware 为配置 API 加上 X-API-Key 鉴权
type ConfigAPIMiddleware struct {
	handler *ConfigAPIHandler
	apiKeys [][]byte
}

// NewConfigAPIMiddleware apiKeys 全为空时不鉴权
func NewConfigAPIMiddleware(handler *ConfigAPIHandler, apiKeys ...string) *ConfigAPIMiddleware {
	m := &ConfigAPIMiddleware{handler: handler}
	for _, k := range apiKeys {
		if k != "" {
			m.apiKeys = append(m.apiKeys, []byte(k))
		}
	}
	return m
}

// RequireAuth OPTIONS 预检不需要密钥
func (m *ConfigAPIMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodOptions && !m.authorized(r.Header.Get("X-API-Key")) {
			handlers.WriteErrorMessage(w, r, http.StatusUnauthorized, types.ErrUnauthorized, "invalid or missing API key", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (m *ConfigAPIMiddleware) authorized(key string) bool {
	if len(m.apiKeys) == 0 {
		return true
	}
	if key == "" {
		return false
	}
	for _, k := range m.apiKeys {
		if subtle.ConstantTimeCompare(k, []byte(key)) == 1 {
			return true
		}
	}
	return false
}

// Wrap 注册与 RegisterRoutes 相同的路由并套上鉴权，二者只能选其一
func (m *ConfigAPIMiddleware) Wrap(mux *http.ServeMux) {
	m.handler.mount(mux, m.RequireAuth)
}
