// Copyright (c) dynconf Authors.
// Licensed under the MIT License.

/*
包 database 为重载审计日志提供 GORM 连接池。

Open 按驱动名（postgres、mysql、sqlite）选择方言；sqlite 使用
glebarez 的纯 Go 驱动，无需 cgo。PoolManager 在后台定时探活，
并通过 StatsRecorder 把连接数交给 metrics.Collector。

WithTransactionRetry 只重试瞬时错误：postgres 的 SQLSTATE
（40001、40P01、55P03）与 mysql 错误号（1205、1213）按驱动的结构化
错误判断，sqlite 的 SQLITE_BUSY 只能按消息匹配。见 IsTransient。
*/
package database
