// Package api 定义 dynconf HTTP 接口的请求与响应类型。
//
// # API Overview
//
// dynconf 暴露两类 HTTP 接口：
//   - 配置端点：任何带 dynamic_config 的 location，POST 纯文本配置即可热重载
//   - 管理接口：/api/v1/config 系列（查询、历史、变更日志、回滚、重载、校验）
//     以及 /health、/healthz、/ready、/version、/metrics
//
// # Authentication
//
// 配置了 API Key 时，管理接口需要通过 X-API-Key 请求头鉴权：
//
//	X-API-Key: your-api-key
//
// 配置端点本身不使用 API Key，而是使用 dynamic_config_allowed_ips 限制来源。
//
// # Response Envelope
//
// JSON 响应统一使用 Response 信封（success、data、error、timestamp）。
// 配置端点仅在 Accept 包含 application/json 时返回 JSON，否则返回纯文本原因。
package api
