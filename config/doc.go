// Package config 提供 dynconf 的配置管理功能。
//
// 包含两类配置：
//
//   - Settings：进程自身的 YAML/环境变量配置（监听地址、日志、审计库、镜像缓存等），
//     由 Loader 加载并在启动时校验。
//   - 业务配置：nginx 风格的指令文档，由 Coordinator 串行发布为不可变的 Snapshot。
//
// Coordinator 负责重载的全过程：等待重载锁、构建快照、并行试运行资源
// （端口、日志文件、pid 路径）、原子发布、提交监听器，以及保留历史以便回滚。
// Endpoint 实现 dynamic_config 位置的 HTTP 提交入口；ConfigAPIHandler 提供
// 管理接口；FileWatcher 轮询配置文件并触发重载。
package config
