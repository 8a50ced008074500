package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/dynconf/api/handlers"
	"github.com/BaSui01/dynconf/config"
	"github.com/BaSui01/dynconf/directive"
	"github.com/BaSui01/dynconf/internal/audit"
	"github.com/BaSui01/dynconf/internal/cache"
	"github.com/BaSui01/dynconf/internal/database"
	"github.com/BaSui01/dynconf/internal/metrics"
	"github.com/BaSui01/dynconf/internal/server"
	"github.com/BaSui01/dynconf/internal/telemetry"
	"github.com/BaSui01/dynconf/types"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 是 dynconf 的主服务器
type Server struct {
	cfg    *config.Settings
	logger *zap.Logger
	level  zap.AtomicLevel

	registry  *prometheus.Registry
	collector *metrics.Collector
	otel      *telemetry.Providers

	coord   *config.Coordinator
	admin   *server.Manager
	health  *handlers.HealthHandler
	watcher *config.FileWatcher

	// 重载旁路
	auditPool *database.PoolManager
	journal   *audit.Recorder
	cacheMgr  *cache.Manager
	mirror    *cache.Mirror

	// 协调器创建前注册的尝试回调
	attemptHooks []config.AttemptCallback

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer 创建新的服务器实例
func NewServer(cfg *config.Settings, logger *zap.Logger, level zap.AtomicLevel) *Server {
	return &Server{
		cfg:    cfg,
		logger: logger,
		level:  level,
		health: handlers.NewHealthHandler(logger),
	}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 启动所有组件。返回错误时已启动的部分需由 Shutdown 清理。
func (s *Server) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)

	// 1. 指标与遥测
	s.initMetrics()
	s.initTelemetry()

	// 2. 重载旁路（不可用时降级运行）
	s.initJournal(ctx)
	s.initMirror()

	// 3. 协调器与引导配置
	s.initCoordinator()
	if err := s.bootstrap(ctx); err != nil {
		return err
	}

	// 4. 管理监听器
	if err := s.startAdmin(ctx); err != nil {
		return fmt.Errorf("failed to start admin listener: %w", err)
	}

	// 5. 重载触发源
	s.watchSignals(ctx)
	if err := s.startWatcher(ctx); err != nil {
		return fmt.Errorf("failed to start file watcher: %w", err)
	}

	s.logger.Info("all components started",
		zap.Uint64("generation", s.coord.Generation()),
		zap.Ints("ports", s.coord.Fleet().Ports()),
		zap.String("admin_addr", s.AdminAddr()),
		zap.Bool("journal", s.journal != nil),
		zap.Bool("mirror", s.mirror != nil),
		zap.Bool("watch", s.watcher != nil),
	)
	return nil
}

func (s *Server) initMetrics() {
	s.registry = prometheus.NewRegistry()
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s.collector = metrics.NewCollectorWith(s.registry, s.cfg.Metrics.Namespace, s.logger)
}

func (s *Server) initTelemetry() {
	p, err := telemetry.Init(s.cfg.Telemetry, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize telemetry", zap.Error(err))
		p = &telemetry.Providers{}
	}
	s.otel = p

	meter, err := telemetry.NewReloadMeter(p.MeterProvider())
	if err != nil {
		s.logger.Warn("failed to create reload meter", zap.Error(err))
		return
	}
	s.afterAttempt(meter.Observe)
}

// initJournal 打开审计库，失败时记录警告并继续
func (s *Server) initJournal(ctx context.Context) {
	ac := s.cfg.Audit
	if !ac.Enabled {
		return
	}

	poolCfg := database.DefaultPoolConfig()
	poolCfg.MaxOpenConns = ac.MaxOpenConns
	poolCfg.MaxIdleConns = ac.MaxIdleConns
	poolCfg.ConnMaxLifetime = ac.ConnMaxLifetime

	pool, err := database.Open(ac.Driver, ac.DSN(), poolCfg, s.logger,
		database.WithStatsRecorder("audit", s.collector))
	if err != nil {
		s.logger.Warn("audit database not available, journal disabled", zap.Error(err))
		return
	}
	if err := audit.Migrate(ctx, pool); err != nil {
		s.logger.Warn("audit migration failed, journal disabled", zap.Error(err))
		_ = pool.Close()
		return
	}

	s.auditPool = pool
	s.journal = audit.NewRecorder(pool, audit.DefaultConfig(), s.logger, audit.WithQueryRecorder(s.collector))
	s.health.RegisterCheck(handlers.NewPingCheck("audit", pool.Ping))
	s.afterAttempt(func(a types.ReloadAttempt) { s.journal.Observe(a) })
	s.logger.Info("reload journal enabled", zap.String("driver", ac.Driver))
}

// initMirror 连接 Redis，失败时记录警告并继续
func (s *Server) initMirror() {
	mc := s.cfg.Mirror
	if !mc.Enabled {
		return
	}

	cacheCfg := cache.DefaultConfig()
	cacheCfg.Addr = mc.Addr
	cacheCfg.Password = mc.Password
	cacheCfg.DB = mc.DB
	if mc.PoolSize > 0 {
		cacheCfg.PoolSize = mc.PoolSize
	}

	mgr, err := cache.NewManager(cacheCfg, s.logger)
	if err != nil {
		s.logger.Warn("redis not available, mirror disabled", zap.Error(err))
		return
	}

	s.cacheMgr = mgr
	s.mirror = cache.NewMirror(mgr, cache.MirrorConfig{KeyPrefix: mc.KeyPrefix, TTL: mc.TTL}, s.logger,
		cache.WithHitRecorder(s.collector))
	s.health.RegisterCheck(handlers.NewPingCheck("mirror", mgr.Ping))
	s.logger.Info("config mirror enabled", zap.String("addr", mc.Addr), zap.String("prefix", mc.KeyPrefix))
}

// afterAttempt 登记每次重载尝试结束后的回调，协调器创建时统一注册
func (s *Server) afterAttempt(cb config.AttemptCallback) {
	s.attemptHooks = append(s.attemptHooks, cb)
}

func (s *Server) initCoordinator() {
	sc := s.cfg.Server
	opts := []config.CoordinatorOption{
		config.WithCoordinatorLogger(s.logger),
		config.WithReloadConfig(s.cfg.Reload),
		config.WithServerConfig(server.Config{
			ReadTimeout:     sc.ReadTimeout,
			WriteTimeout:    sc.WriteTimeout,
			IdleTimeout:     2 * sc.ReadTimeout,
			MaxHeaderBytes:  1 << 20,
			ShutdownTimeout: sc.ShutdownTimeout,
		}),
		config.WithBindHost(sc.BindHost),
		config.WithProcessControl(true),
		config.WithLogLevel(&s.level),
		config.WithProduct("dynconf", Version),
		config.WithMetrics(s.collector),
	}
	if s.cfg.Reload.Persist {
		opts = append(opts, config.WithPersistPath(sc.ConfigPath))
	}
	s.coord = config.NewCoordinator(opts...)

	for _, cb := range s.attemptHooks {
		s.coord.OnAttempt(cb)
	}
	if s.mirror != nil {
		s.coord.OnReload(func(snap *config.Snapshot) {
			s.mirror.Publish(cache.Entry{Info: snap.Info(), Text: snap.Document.Render()})
		})
	}
	s.health.SetGenerationSource(s.coord.Generation)
}

// bootstrap 解析并发布启动配置，失败时进程不应继续启动
func (s *Server) bootstrap(ctx context.Context) error {
	path := s.cfg.Server.ConfigPath
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read configuration %s: %w", path, err)
	}
	doc, err := directive.ParseAndValidate(data)
	if err != nil {
		return fmt.Errorf("invalid configuration %s: %s", path, types.ReasonOf(err))
	}
	snap, err := s.coord.Bootstrap(ctx, doc)
	if err != nil {
		return fmt.Errorf("failed to apply configuration %s: %s", path, types.ReasonOf(err))
	}
	s.logger.Info("initial configuration applied",
		zap.String("path", path),
		zap.Uint64("generation", snap.Generation),
		zap.String("checksum", snap.Checksum))
	return nil
}

// =============================================================================
// 🌐 管理监听器
// =============================================================================

func (s *Server) startAdmin(ctx context.Context) error {
	sc := s.cfg.Server
	if sc.AdminAddr == "" {
		s.logger.Info("admin listener disabled")
		return nil
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.health.HandleHealth)
	mux.HandleFunc("/healthz", s.health.HandleHealthz)
	mux.HandleFunc("/ready", s.health.HandleReady)
	mux.HandleFunc("/version", s.health.HandleVersion(Version, BuildTime, GitCommit))
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry}))

	apiHandler := config.NewConfigAPIHandler(s.coord, sc.ConfigPath, s.logger)
	config.NewConfigAPIMiddleware(apiHandler, sc.APIKeys...).Wrap(mux)

	routes := MuxRoutes(mux)
	middlewares := []Middleware{
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		OTelTracing(routes),
		Observe(s.logger, s.collector, routes),
	}
	if sc.RateLimitRPS > 0 {
		middlewares = append(middlewares, RateLimiter(ctx, sc.RateLimitRPS, sc.RateLimitBurst, s.logger))
	}
	handler := Chain(mux, middlewares...)

	s.admin = server.NewManager(handler, server.Config{
		Addr:            sc.AdminAddr,
		ReadTimeout:     sc.ReadTimeout,
		WriteTimeout:    sc.WriteTimeout,
		IdleTimeout:     2 * sc.ReadTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: sc.ShutdownTimeout,
	}, s.logger, server.WithName("admin"))
	if err := s.admin.Start(); err != nil {
		return err
	}
	s.logger.Info("admin listener started", zap.String("addr", s.admin.Addr()))
	return nil
}

// AdminAddr 管理监听器的实际地址，未启动时为空串
func (s *Server) AdminAddr() string {
	if s.admin == nil {
		return ""
	}
	return s.admin.Addr()
}

// Coordinator 返回重载协调器
func (s *Server) Coordinator() *config.Coordinator {
	return s.coord
}

// =============================================================================
// 🔁 重载触发源
// =============================================================================

// watchSignals 收到 SIGHUP 时从磁盘重载
func (s *Server) watchSignals(ctx context.Context) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer signal.Stop(hup)
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				s.logger.Info("received SIGHUP, reloading configuration")
				if _, err := s.coord.ReloadFromFile(ctx, s.cfg.Server.ConfigPath, types.SourceSignal); err != nil {
					s.logger.Warn("signal reload failed", zap.String("reason", types.ReasonOf(err)))
				}
			}
		}
	}()
}

func (s *Server) startWatcher(ctx context.Context) error {
	rc := s.cfg.Reload
	if !rc.Watch {
		return nil
	}
	w, err := config.NewFileWatcher([]string{s.cfg.Server.ConfigPath},
		config.WithPollInterval(rc.WatchInterval),
		config.WithWatcherLogger(s.logger),
	)
	if err != nil {
		return err
	}
	w.OnChange(config.ReloadOnChange(ctx, s.coord, s.logger))
	if err := w.Start(ctx); err != nil {
		return err
	}
	s.watcher = w
	return nil
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// Wait 阻塞直到 ctx 结束或某个监听器异常退出
func (s *Server) Wait(ctx context.Context) {
	var adminErrs <-chan error
	if s.admin != nil {
		adminErrs = s.admin.Errors()
	}
	select {
	case <-ctx.Done():
		s.logger.Info("shutdown requested")
	case err := <-adminErrs:
		s.logger.Error("admin listener exited unexpectedly", zap.Error(err))
	case err := <-s.coord.Fleet().Errors():
		s.logger.Error("listener exited unexpectedly", zap.Error(err))
	}
}

// Shutdown 按启动的逆序关闭各组件
func (s *Server) Shutdown(ctx context.Context) {
	s.logger.Info("starting graceful shutdown")

	if s.cancel != nil {
		s.cancel()
	}

	if s.watcher != nil {
		if err := s.watcher.Stop(); err != nil {
			s.logger.Warn("file watcher stop error", zap.Error(err))
		}
	}

	if s.admin != nil {
		if err := s.admin.Shutdown(ctx); err != nil {
			s.logger.Error("admin listener shutdown error", zap.Error(err))
		}
	}

	if s.coord != nil {
		if err := s.coord.Shutdown(ctx); err != nil {
			s.logger.Error("listener shutdown error", zap.Error(err))
		}
	}

	var errs []error
	if s.journal != nil {
		errs = append(errs, s.journal.Close(ctx))
	}
	if s.auditPool != nil {
		errs = append(errs, s.auditPool.Close())
	}
	if s.mirror != nil {
		errs = append(errs, s.mirror.Close(ctx))
	}
	if s.cacheMgr != nil {
		errs = append(errs, s.cacheMgr.Close())
	}
	if s.otel != nil {
		errs = append(errs, s.otel.Shutdown(ctx))
	}
	if err := errors.Join(errs...); err != nil {
		s.logger.Warn("side channel shutdown error", zap.Error(err))
	}

	s.wg.Wait()
	s.logger.Info("graceful shutdown completed")
}
