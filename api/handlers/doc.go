// Copyright (c) dynconf Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 dynconf 管理接口共用的 HTTP 处理器与响应辅助函数。

# 概述

handlers 包实现健康检查端点以及统一的 JSON 响应与错误处理。
所有 Handler 均遵循标准 net/http 接口，通过 Swagger 注解生成 API 文档。

# 核心类型

  - HealthHandler    — 服务健康检查（/health, /healthz, /ready, /version）
  - Response         — 统一 JSON 响应结构（api.Response 别名）
  - ErrorInfo        — 结构化错误信息，含 code、message、directive、line
  - ResponseWriter   — 包装 http.ResponseWriter 以捕获状态码与字节数
  - HealthCheck      — 可插拔健康检查接口（审计库、Redis 镜像等）

# 主要能力

  - 统一响应格式：WriteSuccess / WriteError / WriteErr / WriteJSON
  - 请求验证：DecodeJSONBody（1 MB 限制 + 严格模式）
  - 错误码到 HTTP 状态码的映射复用 types.HTTPStatusOf
  - 就绪检查：没有活动配置时 /ready 返回 503
*/
package handlers
