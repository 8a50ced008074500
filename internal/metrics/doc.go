// Copyright (c) dynconf Authors.
// Licensed under the MIT License.

/*
包 metrics 定义 dynconf 的 Prometheus 指标。

Collector 通过 promauto 注册到调用方给出的 Registerer（服务进程使用
独立 Registry），所有指标共享同一 namespace，按子系统分组：

  - http：管理面请求计数、延迟、请求/响应体大小。route 标签取
    ServeMux 的路由模式，状态码归类为 2xx..5xx。
  - config：重载尝试（source、outcome）、重载延迟、等锁时长、
    当前代际、最近一次成功重载时间、准入拒绝（reason）。
  - mirror：Redis 镜像读取的命中与未命中。
  - db：审计库连接数（open/idle）与查询延迟。

listeners_active 不带子系统，表示数据面正在监听的端口数。
*/
package metrics
