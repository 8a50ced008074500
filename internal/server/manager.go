package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// 🌐 单个监听器
// =============================================================================

// State 监听器生命周期
type State int

const (
	StateIdle State = iota
	StateServing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateServing:
		return "serving"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

var (
	ErrServerClosed  = errors.New("server is closed")
	ErrAlreadyServed = errors.New("server already started")
)

// Config http.Server 参数
type Config struct {
	Addr            string        `yaml:"addr" json:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	MaxHeaderBytes  int           `yaml:"max_header_bytes" json:"max_header_bytes"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// DefaultConfig keepalive_timeout 未配置时 IdleTimeout 取 75s，与 nginx 一致
func DefaultConfig() Config {
	return Config{
		Addr:            ":8080",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     75 * time.Second,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: 30 * time.Second,
	}
}

// Manager 包装一个 http.Server 与其监听器。
// 管理面和 Fleet 中的每个端口各持有一个。
type Manager struct {
	mu       sync.RWMutex
	server   *http.Server
	listener net.Listener
	state    State
	errCh    chan error
	config   Config
	name     string
	logger   *zap.Logger
}

// ManagerOption 可选项
type ManagerOption func(*Manager)

// WithConnContext 连接建立时调用一次
func WithConnContext(fn func(ctx context.Context, c net.Conn) context.Context) ManagerOption {
	return func(m *Manager) {
		m.server.ConnContext = fn
	}
}

// WithErrorChannel 与其他 Manager 共享异步错误通道
func WithErrorChannel(ch chan error) ManagerOption {
	return func(m *Manager) {
		if ch != nil {
			m.errCh = ch
		}
	}
}

// WithName 日志中的监听器名称
func WithName(name string) ManagerOption {
	return func(m *Manager) {
		m.name = name
	}
}

func NewManager(handler http.Handler, config Config, logger *zap.Logger, opts ...ManagerOption) *Manager {
	m := &Manager{
		server: &http.Server{
			Addr:           config.Addr,
			Handler:        handler,
			ReadTimeout:    config.ReadTimeout,
			WriteTimeout:   config.WriteTimeout,
			IdleTimeout:    config.IdleTimeout,
			MaxHeaderBytes: config.MaxHeaderBytes,
		},
		errCh:  make(chan error, 1),
		config: config,
		name:   "http",
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = logger.With(zap.String("component", "http_server"), zap.String("listener", m.name))
	return m
}

// Start 绑定 config.Addr 并在后台服务
func (m *Manager) Start() error {
	l, err := net.Listen("tcp", m.config.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", m.config.Addr, err)
	}
	if err := m.Serve(l); err != nil {
		_ = l.Close()
		return err
	}
	return nil
}

// Serve 在已绑定的监听器上后台服务；重载时监听器由 Fleet.Reserve 预先打开
func (m *Manager) Serve(l net.Listener) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case StateClosed:
		return ErrServerClosed
	case StateServing:
		return ErrAlreadyServed
	}
	m.listener = l
	m.state = StateServing
	m.logger.Info("listener serving", zap.String("addr", l.Addr().String()))

	go func() {
		if err := m.server.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error("listener failed", zap.Error(err))
			select {
			case m.errCh <- fmt.Errorf("%s: %w", m.name, err):
			default:
			}
		}
	}()
	return nil
}

// Shutdown 停止接受新连接，在 ShutdownTimeout 内排空已有请求。重复调用无副作用。
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateClosed {
		return nil
	}
	m.state = StateClosed
	addr := m.addrLocked()

	if m.config.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.config.ShutdownTimeout)
		defer cancel()
	}
	if err := m.server.Shutdown(ctx); err != nil {
		m.logger.Warn("listener drain incomplete", zap.String("addr", addr), zap.Error(err))
		return err
	}
	m.listener = nil
	m.logger.Info("listener stopped", zap.String("addr", addr))
	return nil
}

// Errors 后台 Serve 的异步错误
func (m *Manager) Errors() <-chan error {
	return m.errCh
}

// State 当前生命周期状态
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Addr 服务中返回实际绑定地址，否则返回配置地址
func (m *Manager) Addr() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.addrLocked()
}

func (m *Manager) addrLocked() string {
	if m.listener != nil {
		return m.listener.Addr().String()
	}
	return m.config.Addr
}
