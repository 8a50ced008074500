package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	// ErrCacheMiss 键不存在
	ErrCacheMiss = errors.New("cache miss")
	// ErrClosed 管理器已关闭
	ErrClosed = errors.New("cache manager is closed")
)

// IsCacheMiss 判断是否为未命中
func IsCacheMiss(err error) bool {
	return errors.Is(err, ErrCacheMiss)
}

// =============================================================================
// 💾 Redis 连接管理
// =============================================================================

// Config Redis 连接配置
type Config struct {
	Addr         string        `yaml:"addr" json:"addr"`
	Password     string        `yaml:"password" json:"password"`
	DB           int           `yaml:"db" json:"db"`
	MaxRetries   int           `yaml:"max_retries" json:"max_retries"`
	PoolSize     int           `yaml:"pool_size" json:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns" json:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout" json:"dial_timeout"`
	// 后台 PING 间隔，0 表示不检查
	HealthCheckInterval time.Duration `yaml:"health_check_interval" json:"health_check_interval"`
}

func DefaultConfig() Config {
	return Config{
		Addr:                "localhost:6379",
		MaxRetries:          3,
		PoolSize:            10,
		MinIdleConns:        1,
		DialTimeout:         5 * time.Second,
		HealthCheckInterval: 30 * time.Second,
	}
}

// Manager 持有 go-redis 客户端；Mirror 通过它读写镜像键。
// Close 之后所有操作返回 ErrClosed。
type Manager struct {
	mu      sync.RWMutex
	client  *redis.Client
	config  Config
	logger  *zap.Logger
	closed  bool
	healthy bool
	stop    chan struct{}
	done    chan struct{}
}

// NewManager 连接 Redis，初次 PING 失败时返回错误
func NewManager(config Config, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		MaxRetries:   config.MaxRetries,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
		DialTimeout:  config.DialTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis %s: %w", config.Addr, err)
	}

	m := &Manager{
		client:  client,
		config:  config,
		logger:  logger.With(zap.String("component", "cache")),
		healthy: true,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	if config.HealthCheckInterval > 0 {
		go m.healthLoop()
	} else {
		close(m.done)
	}

	m.logger.Info("redis connected", zap.String("addr", config.Addr), zap.Int("db", config.DB))
	return m, nil
}

// do 在读锁内执行 fn，保证 Close 不会与进行中的操作交错
func (m *Manager) do(fn func(c *redis.Client) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return fn(m.client)
}

// GetJSON 读取 key 并解码到 dest；不存在时返回 ErrCacheMiss
func (m *Manager) GetJSON(ctx context.Context, key string, dest any) error {
	var raw []byte
	err := m.do(func(c *redis.Client) error {
		var err error
		raw, err = c.Get(ctx, key).Bytes()
		return err
	})
	switch {
	case errors.Is(err, redis.Nil):
		return ErrCacheMiss
	case err != nil:
		return fmt.Errorf("redis get %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

// TxPipelined 在 MULTI/EXEC 中执行一组命令
func (m *Manager) TxPipelined(ctx context.Context, fn func(redis.Pipeliner) error) error {
	return m.do(func(c *redis.Client) error {
		if _, err := c.TxPipelined(ctx, fn); err != nil {
			return fmt.Errorf("redis pipeline: %w", err)
		}
		return nil
	})
}

// Subscribe 订阅并等待确认，调用方负责关闭返回的 PubSub
func (m *Manager) Subscribe(ctx context.Context, channels ...string) (*redis.PubSub, error) {
	var sub *redis.PubSub
	err := m.do(func(c *redis.Client) error {
		sub = c.Subscribe(ctx, channels...)
		if _, err := sub.Receive(ctx); err != nil {
			_ = sub.Close()
			return fmt.Errorf("redis subscribe: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// Ping 供就绪探针使用
func (m *Manager) Ping(ctx context.Context) error {
	return m.do(func(c *redis.Client) error { return c.Ping(ctx).Err() })
}

// Healthy 最近一次后台 PING 是否成功
func (m *Manager) Healthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.healthy && !m.closed
}

// Close 停止后台检查并关闭连接，可重复调用
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	close(m.stop)
	m.mu.Unlock()

	<-m.done
	return m.client.Close()
}

// healthLoop 只在状态变化时记日志
func (m *Manager) healthLoop() {
	defer close(m.done)
	ticker := time.NewTicker(m.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := m.Ping(ctx)
		cancel()
		if errors.Is(err, ErrClosed) {
			return
		}

		m.mu.Lock()
		was := m.healthy
		m.healthy = err == nil
		m.mu.Unlock()

		switch {
		case was && err != nil:
			m.logger.Warn("redis unreachable", zap.Error(err))
		case !was && err == nil:
			m.logger.Info("redis reachable again")
		}
	}
}
