// Copyright (c) dynconf Authors.
// Licensed under the MIT License.

/*
Package types 提供 dynconf 的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 directive、config、
admission 等上层模块提供统一的错误契约和 Context 传播工具。

# 核心类型

  - Error / ErrorCode — 结构化错误体系，含 HTTP 状态码、Retryable、
    行号与指令名标记
  - SYNTAX_ERROR / SEMANTIC_ERROR / ADMISSION_DENIED / RESOURCE_ERROR /
    RELOAD_BUSY — 配置重载流水线的错误分类

# 主要能力

  - Context 传播：WithTraceID / WithRequestID / WithReloadSource
  - 错误工具链：AsError / IsErrorCode / IsRetryable / HTTPStatusOf
  - 常用错误构造：NewSyntaxError / NewSemanticError / NewAdmissionError /
    NewResourceError
*/
package types
