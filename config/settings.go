package config

import (
	"errors"
	"fmt"
	"time"
)

// Settings 是 dynconf 进程自身的设置，与指令配置（directive 包解析的
// 类 nginx 文件）分开管理。env 标签拼接成覆盖用的环境变量名。
type Settings struct {
	Server    ServerConfig    `yaml:"server" env:"SERVER"`
	Reload    ReloadConfig    `yaml:"reload" env:"RELOAD"`
	Log       LogConfig       `yaml:"log" env:"LOG"`
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
	Audit     AuditConfig     `yaml:"audit" env:"AUDIT"`
	Mirror    MirrorConfig    `yaml:"mirror" env:"MIRROR"`
	Metrics   MetricsConfig   `yaml:"metrics" env:"METRICS"`
}

// ServerConfig 管理监听器与数据面端口
type ServerConfig struct {
	// 启动时装载的指令配置
	ConfigPath string `yaml:"config_path" env:"CONFIG_PATH"`
	// 空串表示不启动管理监听器
	AdminAddr string `yaml:"admin_addr" env:"ADMIN_ADDR"`
	// 数据面端口绑定的主机，空串为所有地址
	BindHost        string        `yaml:"bind_host" env:"BIND_HOST"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// 管理 API 的 X-API-Key，空表示不鉴权
	APIKeys []string `yaml:"api_keys" env:"API_KEYS"`
	// 管理面按客户端 IP 限流，0 关闭
	RateLimitRPS   float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
}

// ReloadConfig 重载策略
type ReloadConfig struct {
	// 等待重载锁的上限，超时返回 503 RELOAD_BUSY
	QueueTimeout time.Duration `yaml:"queue_timeout" env:"QUEUE_TIMEOUT"`
	// 可回滚的历史快照数
	HistorySize   int  `yaml:"history_size" env:"HISTORY_SIZE"`
	ChangeLogSize int  `yaml:"change_log_size" env:"CHANGE_LOG_SIZE"`
	Watch         bool `yaml:"watch" env:"WATCH"`
	// 文件轮询间隔
	WatchInterval time.Duration `yaml:"watch_interval" env:"WATCH_INTERVAL"`
	// 成功重载后把提交内容写回 ConfigPath
	Persist bool `yaml:"persist" env:"PERSIST"`
}

type LogConfig struct {
	// debug, info, warn, error；error_log 指令可在运行时覆盖
	Level string `yaml:"level" env:"LEVEL"`
	// json 或 console
	Format           string   `yaml:"format" env:"FORMAT"`
	OutputPaths      []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	EnableCaller     bool     `yaml:"enable_caller" env:"ENABLE_CALLER"`
	EnableStacktrace bool     `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// AuditConfig 重载审计日志所在的数据库
type AuditConfig struct {
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// postgres, mysql, sqlite
	Driver   string `yaml:"driver" env:"DRIVER"`
	Host     string `yaml:"host" env:"HOST"`
	Port     int    `yaml:"port" env:"PORT"`
	User     string `yaml:"user" env:"USER"`
	Password string `yaml:"password" env:"PASSWORD"`
	// sqlite 时为文件路径
	Name            string        `yaml:"name" env:"NAME"`
	SSLMode         string        `yaml:"ssl_mode" env:"SSL_MODE"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// MirrorConfig 活动配置的 Redis 镜像
type MirrorConfig struct {
	Enabled   bool   `yaml:"enabled" env:"ENABLED"`
	Addr      string `yaml:"addr" env:"ADDR"`
	Password  string `yaml:"password" env:"PASSWORD"`
	DB        int    `yaml:"db" env:"DB"`
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
	// 按代际保存的历史键的过期时间
	TTL      time.Duration `yaml:"ttl" env:"TTL"`
	PoolSize int           `yaml:"pool_size" env:"POOL_SIZE"`
}

type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" env:"ENABLED"`
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
}

// Validate 一次报告全部问题
func (s *Settings) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(s.Server.ConfigPath != "", "server.config_path is required")
	check(s.Reload.QueueTimeout > 0, "reload.queue_timeout must be positive")
	check(s.Reload.HistorySize > 0, "reload.history_size must be positive")
	check(s.Reload.ChangeLogSize > 0, "reload.change_log_size must be positive")
	check(!s.Reload.Watch || s.Reload.WatchInterval > 0, "reload.watch_interval must be positive when watching")
	check(s.Telemetry.SampleRate >= 0 && s.Telemetry.SampleRate <= 1, "telemetry.sample_rate must be between 0 and 1")
	if s.Audit.Enabled {
		switch s.Audit.Driver {
		case "postgres", "mysql", "sqlite":
		default:
			check(false, "audit.driver %q is not supported", s.Audit.Driver)
		}
	}
	check(!s.Mirror.Enabled || s.Mirror.Addr != "", "mirror.addr is required when the mirror is enabled")

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %w", errors.Join(errs...))
	}
	return nil
}

// DSN GORM 方言使用的连接串；未知驱动返回空串
func (d *AuditConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
	case "mysql":
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Name)
	case "sqlite":
		return d.Name
	}
	return ""
}
