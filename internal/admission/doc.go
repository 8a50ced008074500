// Copyright (c) dynconf Authors.
// Licensed under the MIT License.

/*
Package admission 在解析配置之前对重载请求做准入控制。

# 检查顺序

  1. 方法：只允许策略指定的方法（默认 POST），否则 405
  2. 大小：Content-Length 超过上限立即 413；长度未知时由 ReadBody
     通过 http.MaxBytesReader 流式计数，超限同样 413，最多缓冲
     上限加一字节
  3. 来源 IP：对端地址（或受信代理之后的 X-Forwarded-For 客户端）
     必须命中允许列表（精确 IP 或 CIDR），否则 403

所有拒绝都以 *types.Error{Code: types.ErrAdmission} 返回，HTTPStatus
为对应状态码。Guard 与 AllowList 构造后不可变，可被并发使用。
*/
package admission
