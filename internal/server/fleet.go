package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// 🚢 多端口监听器集合
// =============================================================================

// PortHandler 为监听端口返回处理器
type PortHandler func(port int) http.Handler

// ListenerOptions 新打开监听器的参数，已在服务的端口不受影响
type ListenerOptions struct {
	// MaxConns 同时连接数上限（worker_connections），0 表示不限
	MaxConns int
	// IdleTimeout keep-alive 空闲超时，0 使用基础配置
	IdleTimeout time.Duration
}

// Fleet 按端口持有一组 Manager。Reserve 先绑定缺少的端口，
// Commit 开始服务并下线不再声明的端口，Release 撤销本次绑定。
type Fleet struct {
	mu       sync.Mutex
	base     Config
	host     string
	handler  PortHandler
	connCtx  func(ctx context.Context, c net.Conn) context.Context
	managers map[int]*Manager
	retiring sync.WaitGroup
	errCh    chan error
	logger   *zap.Logger
}

// FleetOption 可选项
type FleetOption func(*Fleet)

// WithBindHost 设置绑定地址，默认所有地址
func WithBindHost(host string) FleetOption {
	return func(f *Fleet) {
		f.host = host
	}
}

// WithFleetConnContext 设置每个连接的 ConnContext
func WithFleetConnContext(fn func(ctx context.Context, c net.Conn) context.Context) FleetOption {
	return func(f *Fleet) {
		f.connCtx = fn
	}
}

// NewFleet 创建监听器集合
func NewFleet(base Config, handler PortHandler, logger *zap.Logger, opts ...FleetOption) *Fleet {
	f := &Fleet{
		base:     base,
		handler:  handler,
		managers: make(map[int]*Manager),
		errCh:    make(chan error, 8),
		logger:   logger.With(zap.String("component", "listener_fleet")),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Reservation 试运行阶段绑定的端口
type Reservation struct {
	fleet *Fleet
	fresh map[int]net.Listener
	keep  map[int]bool
	opts  ListenerOptions
	done  bool
}

// Reserve 并行绑定 ports 中尚未服务的端口。任一端口失败时关闭本次打开的
// 所有监听器并返回错误，已在服务的端口保持不变。
func (f *Fleet) Reserve(ctx context.Context, ports []int, opts ListenerOptions) (*Reservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	res := &Reservation{
		fleet: f,
		fresh: make(map[int]net.Listener),
		keep:  make(map[int]bool, len(ports)),
		opts:  opts,
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, port := range ports {
		if res.keep[port] {
			continue
		}
		res.keep[port] = true
		if _, serving := f.managers[port]; serving {
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			var lc net.ListenConfig
			l, err := lc.Listen(gctx, "tcp", f.addr(port))
			if err != nil {
				return fmt.Errorf("cannot bind port %d: %w", port, err)
			}
			mu.Lock()
			res.fresh[port] = l
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		res.closeFresh()
		return nil, err
	}
	return res, nil
}

// Fresh 本次新绑定的端口
func (r *Reservation) Fresh() []int {
	out := make([]int, 0, len(r.fresh))
	for p := range r.fresh {
		out = append(out, p)
	}
	sort.Ints(out)
	return out
}

// Release 关闭本次绑定的监听器，未 Commit 前调用
func (r *Reservation) Release() {
	if r.done {
		return
	}
	r.done = true
	r.closeFresh()
}

func (r *Reservation) closeFresh() {
	for p, l := range r.fresh {
		_ = l.Close()
		delete(r.fresh, p)
	}
}

// Commit 新端口开始服务，未声明的端口在后台优雅下线。返回下线的端口。
func (r *Reservation) Commit() ([]int, error) {
	if r.done {
		return nil, fmt.Errorf("reservation already finished")
	}
	r.done = true

	f := r.fleet
	f.mu.Lock()
	defer f.mu.Unlock()

	var errs []error
	for port, l := range r.fresh {
		cfg := f.base
		cfg.Addr = l.Addr().String()
		if r.opts.IdleTimeout > 0 {
			cfg.IdleTimeout = r.opts.IdleTimeout
		}
		if r.opts.MaxConns > 0 {
			l = netutil.LimitListener(l, r.opts.MaxConns)
		}
		m := NewManager(f.handler(port), cfg, f.logger,
			WithName("port "+strconv.Itoa(port)),
			WithErrorChannel(f.errCh), WithConnContext(f.connCtx))
		if err := m.Serve(l); err != nil {
			_ = l.Close()
			errs = append(errs, fmt.Errorf("port %d: %w", port, err))
			continue
		}
		f.managers[port] = m
	}

	var retired []int
	for port, m := range f.managers {
		if r.keep[port] {
			continue
		}
		delete(f.managers, port)
		retired = append(retired, port)
		f.retiring.Add(1)
		go func(port int, m *Manager) {
			defer f.retiring.Done()
			if err := m.Shutdown(context.Background()); err != nil {
				f.logger.Warn("listener retirement did not finish cleanly", zap.Int("port", port), zap.Error(err))
			}
		}(port, m)
	}
	sort.Ints(retired)
	if len(retired) > 0 {
		f.logger.Info("retiring listeners", zap.Ints("ports", retired))
	}
	return retired, errors.Join(errs...)
}

// Ports 正在服务的端口（升序）
func (f *Fleet) Ports() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int, 0, len(f.managers))
	for p := range f.managers {
		out = append(out, p)
	}
	sort.Ints(out)
	return out
}

// Addr 端口的实际监听地址，未服务时返回空串
func (f *Fleet) Addr(port int) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.managers[port]; ok {
		return m.Addr()
	}
	return ""
}

// Errors 所有监听器的异步错误
func (f *Fleet) Errors() <-chan error {
	return f.errCh
}

// Shutdown 关闭全部监听器并等待后台下线完成
func (f *Fleet) Shutdown(ctx context.Context) error {
	f.mu.Lock()
	managers := f.managers
	f.managers = make(map[int]*Manager)
	f.mu.Unlock()

	var (
		mu   sync.Mutex
		errs []error
		wg   sync.WaitGroup
	)
	for port, m := range managers {
		wg.Add(1)
		go func(port int, m *Manager) {
			defer wg.Done()
			if err := m.Shutdown(ctx); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("port %d: %w", port, err))
				mu.Unlock()
			}
		}(port, m)
	}
	wg.Wait()
	f.retiring.Wait()
	return errors.Join(errs...)
}

func (f *Fleet) addr(port int) string {
	return net.JoinHostPort(f.host, strconv.Itoa(port))
}
