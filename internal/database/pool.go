package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// ErrPoolClosed Close 之后的所有操作
var ErrPoolClosed = errors.New("database pool is closed")

// StatsRecorder 接收连接池统计，metrics.Collector 实现此接口
type StatsRecorder interface {
	RecordDBConnections(database string, open, idle int)
}

// PoolConfig 审计库连接池参数
type PoolConfig struct {
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns"`
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" json:"conn_max_idle_time"`
	// 探活间隔，0 表示关闭
	HealthCheckInterval time.Duration `yaml:"health_check_interval" json:"health_check_interval"`
}

// DefaultPoolConfig 审计写入是低频的单写者，连接数保持很小
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxIdleConns:        2,
		MaxOpenConns:        10,
		ConnMaxLifetime:     time.Hour,
		ConnMaxIdleTime:     10 * time.Minute,
		HealthCheckInterval: 30 * time.Second,
	}
}

func (c PoolConfig) Validate() error {
	var errs []error
	if c.MaxOpenConns <= 0 {
		errs = append(errs, errors.New("max_open_conns must be positive"))
	}
	if c.MaxIdleConns <= 0 {
		errs = append(errs, errors.New("max_idle_conns must be positive"))
	} else if c.MaxOpenConns > 0 && c.MaxIdleConns > c.MaxOpenConns {
		errs = append(errs, fmt.Errorf("max_idle_conns (%d) exceeds max_open_conns (%d)", c.MaxIdleConns, c.MaxOpenConns))
	}
	for name, d := range map[string]time.Duration{
		"conn_max_lifetime":     c.ConnMaxLifetime,
		"conn_max_idle_time":    c.ConnMaxIdleTime,
		"health_check_interval": c.HealthCheckInterval,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", name))
		}
	}
	return errors.Join(errs...)
}

func (c PoolConfig) apply(db *sql.DB) {
	db.SetMaxIdleConns(c.MaxIdleConns)
	db.SetMaxOpenConns(c.MaxOpenConns)
	db.SetConnMaxLifetime(c.ConnMaxLifetime)
	db.SetConnMaxIdleTime(c.ConnMaxIdleTime)
}

// PoolOption 连接池选项
type PoolOption func(*PoolManager)

// WithStatsRecorder 每次探活成功后以 name 上报连接数
func WithStatsRecorder(name string, r StatsRecorder) PoolOption {
	return func(pm *PoolManager) {
		pm.name = name
		pm.stats = r
	}
}

// =============================================================================
// 🗄️ 连接池
// =============================================================================

// PoolManager 持有审计库的 GORM 句柄。关闭与进行中的事务通过读写锁互斥。
type PoolManager struct {
	mu     sync.RWMutex
	db     *gorm.DB
	sqlDB  *sql.DB
	config PoolConfig
	name   string
	stats  StatsRecorder
	logger *zap.Logger
	closed bool
	stop   chan struct{}
	done   chan struct{}
}

// Dialector 按驱动名返回 GORM 方言；sqlite 为纯 Go 实现
func Dialector(driver, dsn string) (gorm.Dialector, error) {
	switch driver {
	case "postgres":
		return postgres.Open(dsn), nil
	case "mysql":
		return mysql.Open(dsn), nil
	case "sqlite":
		return sqlite.Open(dsn), nil
	}
	return nil, fmt.Errorf("unsupported database driver %q", driver)
}

// Open 校验配置、连接数据库并启动探活
func Open(driver, dsn string, config PoolConfig, logger *zap.Logger, opts ...PoolOption) (*PoolManager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pool config: %w", err)
	}
	dialector, err := Dialector(driver, dsn)
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Discard})
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", driver, err)
	}
	pm, err := NewPoolManager(db, config, logger, opts...)
	if err != nil {
		if sqlDB, derr := db.DB(); derr == nil {
			_ = sqlDB.Close()
		}
		return nil, err
	}
	return pm, nil
}

// NewPoolManager 接管已打开的 GORM 句柄；测试中配合 sqlmock 使用
func NewPoolManager(db *gorm.DB, config PoolConfig, logger *zap.Logger, opts ...PoolOption) (*PoolManager, error) {
	if db == nil {
		return nil, errors.New("db cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("unwrap sql.DB: %w", err)
	}
	config.apply(sqlDB)

	pm := &PoolManager{
		db:     db,
		sqlDB:  sqlDB,
		config: config,
		name:   db.Dialector.Name(),
		logger: logger.With(zap.String("component", "db_pool")),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(pm)
	}

	if config.HealthCheckInterval > 0 {
		go pm.probeLoop()
	} else {
		close(pm.done)
	}

	pm.logger.Info("database pool ready",
		zap.String("dialect", db.Dialector.Name()),
		zap.String("name", pm.name),
		zap.Int("max_open_conns", config.MaxOpenConns),
	)
	return pm, nil
}

// DB 返回 GORM 句柄
func (pm *PoolManager) DB() *gorm.DB {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.db
}

func (pm *PoolManager) Ping(ctx context.Context) error {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	if pm.closed {
		return ErrPoolClosed
	}
	return pm.sqlDB.PingContext(ctx)
}

func (pm *PoolManager) Stats() sql.DBStats {
	return pm.sqlDB.Stats()
}

// Close 停止探活并关闭连接，可重复调用
func (pm *PoolManager) Close() error {
	pm.mu.Lock()
	if pm.closed {
		pm.mu.Unlock()
		return nil
	}
	pm.closed = true
	close(pm.stop)
	pm.mu.Unlock()

	<-pm.done
	pm.logger.Info("database pool closed")
	return pm.sqlDB.Close()
}

func (pm *PoolManager) probeLoop() {
	defer close(pm.done)
	ticker := time.NewTicker(pm.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-pm.stop:
			return
		case <-ticker.C:
			pm.probe()
		}
	}
}

func (pm *PoolManager) probe() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := pm.Ping(ctx); err != nil {
		if !errors.Is(err, ErrPoolClosed) {
			pm.logger.Warn("database probe failed", zap.Error(err))
		}
		return
	}
	s := pm.Stats()
	if pm.stats != nil {
		pm.stats.RecordDBConnections(pm.name, s.OpenConnections, s.Idle)
	}
}
