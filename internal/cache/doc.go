/*
包 cache 提供基于 Redis 的活动配置镜像。

# 概述

Manager 封装 go-redis 客户端，负责连接生命周期、健康检查与基础读写。
Mirror 在每次发布后将快照元数据与规范化文本写入 Redis，并在
<prefix>:reloads 频道广播，供同组实例与运维工具观察当前配置。

# 键布局

  - <prefix>:active：最新发布的 Entry，永不过期。
  - <prefix>:gen:<n>：第 n 代的 Entry，按 TTL 过期。
  - <prefix>:reloads：每次写入后发布 ConfigInfo JSON。

# 写入语义

Publish 只做非阻塞入队，不会拖慢重载路径；单个 worker 按入队顺序
以 MULTI/EXEC 写入三条命令，队列容量由 channel.TunableChannel 自动调整。
Redis 不可用时写入失败只记录日志，不影响已发布的配置。
*/
package cache
