// Copyright (c) dynconf Authors.
// Licensed under the MIT License.

/*
包 server 提供 HTTP 服务器生命周期管理，支持非阻塞启动、
优雅关闭以及按端口热切换的监听器集合。

# 概述

Manager 封装 net/http.Server，统一管理监听、服务、关闭与错误
传播流程；Fleet 按端口持有多个 Manager，配合配置重载完成
“先绑定、再发布、后下线”的两阶段切换。

# 核心类型

  - Manager：HTTP 服务器管理器，持有 http.Server、net.Listener
    与异步错误通道，生命周期为 idle → serving → closed，
    提供 Start/Serve/Shutdown/State。
  - Config：服务器配置，包含监听地址、读写超时、空闲超时、
    最大请求头大小与优雅关闭超时。
  - Fleet：多端口监听器集合，Reserve 并行绑定缺少的端口。
  - Reservation：试运行阶段的绑定结果，Commit 开始服务并让
    不再声明的端口在后台优雅下线，Release 在回滚时关闭新绑定。

# 主要能力

  - 非阻塞启动：Start/Serve 在后台 goroutine 中运行服务。
  - 优雅关闭：Shutdown 在配置的超时内完成请求排空与连接释放。
  - 连接级上下文：WithConnContext 在连接建立时注入上下文，
    用于把连接固定在接受时的配置代际上。
  - 连接数上限：新监听器按 worker_connections 包装为
    netutil.LimitListener。
*/
package server
