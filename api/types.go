package api

import (
	"time"

	"github.com/BaSui01/dynconf/types"
)

// =============================================================================
// 统一响应信封
// =============================================================================

// Response 是所有 JSON 接口的统一响应结构
// @Description 统一 API 响应结构
type Response struct {
	Success   bool       `json:"success"`
	Data      any        `json:"data,omitempty"`
	Error     *ErrorInfo `json:"error,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
	RequestID string     `json:"request_id,omitempty"`
}

// ErrorInfo 错误信息结构
// @Description 错误详情
type ErrorInfo struct {
	// 错误码，例如 SYNTAX_ERROR
	Code string `json:"code" example:"SYNTAX_ERROR"`
	// 错误原因
	Message string `json:"message" example:"unknown directive \"foo\" in line 3"`
	// 出错的指令
	Directive string `json:"directive,omitempty" example:"foo"`
	// 出错的行号
	Line int `json:"line,omitempty" example:"3"`
	// 是否可以稍后重试
	Retryable  bool `json:"retryable,omitempty"`
	HTTPStatus int  `json:"-"`
}

// ErrorInfoFrom 由 types.Error 构造 ErrorInfo
func ErrorInfoFrom(err *types.Error) *ErrorInfo {
	return &ErrorInfo{
		Code:       string(err.Code),
		Message:    err.Reason(),
		Directive:  err.Directive,
		Line:       err.Line,
		Retryable:  err.Retryable,
		HTTPStatus: types.HTTPStatusOf(err),
	}
}

// =============================================================================
// 配置接口类型
// =============================================================================

// ApplyResult 配置提交结果
// @Description 一次成功发布的结果
type ApplyResult struct {
	// 新的代际号
	Generation uint64 `json:"generation" example:"2"`
	// 配置校验和
	Checksum string `json:"checksum,omitempty" example:"9f86d081884c7d65"`
}

// ConfigView 活动配置
// @Description 当前活动配置及其规范化文本
type ConfigView struct {
	types.ConfigInfo
	// 规范化后的配置文本
	Text string `json:"text"`
}

// ValidateResult 仅校验不发布的结果（类似 nginx -t）
// @Description 校验结果
type ValidateResult struct {
	Valid      bool   `json:"valid"`
	Checksum   string `json:"checksum,omitempty"`
	Directives int    `json:"directives"`
}

// RollbackRequest 回滚请求体
// @Description 回滚到历史代际
type RollbackRequest struct {
	Generation uint64 `json:"generation" example:"3"`
}

// HistoryResponse 历史快照列表
type HistoryResponse struct {
	Current uint64             `json:"current"`
	Items   []types.ConfigInfo `json:"items"`
}

// ChangesResponse 重载尝试列表
type ChangesResponse struct {
	Count int                   `json:"count"`
	Items []types.ReloadAttempt `json:"items"`
}

// VersionInfo 构建信息
type VersionInfo struct {
	Version   string `json:"version"`
	BuildTime string `json:"build_time"`
	GitCommit string `json:"git_commit"`
}
