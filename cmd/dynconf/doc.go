/*
Package main 提供 dynconf 服务端程序入口。

# 概述

cmd/dynconf 启动一个 nginx 风格的 HTTP 服务：按指令配置文件开启业务端口，
并允许在运行时通过 dynamic_config 位置、管理 API、SIGHUP 或文件轮询
重新加载配置，不中断已建立的连接。

# 子命令

  - serve：启动服务（-config 进程设置，-c 指令配置）
  - test：解析并校验指令配置，输出风格与 nginx -t 一致
  - push：向 dynamic_config 位置提交配置文件
  - version、health：版本信息与健康检查

# 主要能力

  - 管理面中间件链：Recovery、RequestID、SecurityHeaders、OTelTracing、
    Observe（访问日志与指标，标签取路由模式）、RateLimiter（基于 IP）
  - 管理监听器：/health、/ready、/version、/metrics 与 /api/v1/config/*
  - 重载旁路：审计日志（数据库）、Redis 镜像、OTel 指标，均在发布后异步执行
  - 优雅关闭：停止触发源 → 关闭管理监听器 → 关闭业务端口 → 排空审计与镜像队列
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
