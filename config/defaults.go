// =============================================================================
// 📦 dynconf 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultSettings 返回默认配置
func DefaultSettings() *Settings {
	return &Settings{
		Server:    DefaultServerConfig(),
		Reload:    DefaultReloadConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
		Audit:     DefaultAuditConfig(),
		Mirror:    DefaultMirrorConfig(),
		Metrics:   DefaultMetricsConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ConfigPath:      "conf/nginx.conf",
		AdminAddr:       "127.0.0.1:9091",
		BindHost:        "",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    0,
		RateLimitBurst:  20,
	}
}

// DefaultReloadConfig 返回默认重载策略
func DefaultReloadConfig() ReloadConfig {
	return ReloadConfig{
		QueueTimeout:  30 * time.Second,
		HistorySize:   10,
		ChangeLogSize: 1000,
		Watch:         false,
		WatchInterval: time.Second,
		Persist:       false,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "dynconf",
		SampleRate:   0.1,
	}
}

// DefaultAuditConfig 返回默认审计配置
func DefaultAuditConfig() AuditConfig {
	return AuditConfig{
		Enabled:         false,
		Driver:          "sqlite",
		Host:            "localhost",
		Port:            5432,
		User:            "dynconf",
		Password:        "",
		Name:            "dynconf_audit.db",
		SSLMode:         "disable",
		MaxOpenConns:    5,
		MaxIdleConns:    2,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// DefaultMirrorConfig 返回默认镜像配置
func DefaultMirrorConfig() MirrorConfig {
	return MirrorConfig{
		Enabled:   false,
		Addr:      "localhost:6379",
		Password:  "",
		DB:        0,
		KeyPrefix: "dynconf",
		TTL:       24 * time.Hour,
		PoolSize:  10,
	}
}

// DefaultMetricsConfig 返回默认指标配置
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:   true,
		Namespace: "dynconf",
	}
}
