// Package tlsutil 提供 dynconf 客户端使用的安全加固 TLS 配置
// （TLS 1.2+，仅 AEAD 密码套件），并支持加载自定义 CA 以信任内网证书。
package tlsutil
