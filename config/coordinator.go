// 配置重载协调器。
//
// 负责把一份已校验的指令文档变成新的活动配置：串行化提交、构建
// 独立快照、试运行资源、原子发布、提交监听器，以及发布后的钩子。
package config

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/BaSui01/dynconf/directive"
	"github.com/BaSui01/dynconf/internal/admission"
	"github.com/BaSui01/dynconf/internal/server"
	"github.com/BaSui01/dynconf/internal/vhost"
	"github.com/BaSui01/dynconf/types"
)

const tracerName = "github.com/BaSui01/dynconf/config"

// --- 类型定义 ---

// ReloadMetrics 重载指标，metrics.Collector 实现此接口
type ReloadMetrics interface {
	RecordReload(source, outcome string, duration time.Duration)
	RecordQueueWait(wait time.Duration)
	SetGeneration(generation uint64)
	SetListeners(n int)
	RecordAdmissionRejection(reason string)
}

type nopMetrics struct{}

func (nopMetrics) RecordReload(string, string, time.Duration) {}
func (nopMetrics) RecordQueueWait(time.Duration)              {}
func (nopMetrics) SetGeneration(uint64)                       {}
func (nopMetrics) SetListeners(int)                           {}
func (nopMetrics) RecordAdmissionRejection(string)            {}

// ReloadCallback 新快照发布后调用，在重载锁内按发布顺序执行，不应阻塞
type ReloadCallback func(snap *Snapshot)

// AttemptCallback 每次重载尝试结束后调用（成功或失败）
type AttemptCallback func(attempt types.ReloadAttempt)

// Coordinator 管理活动配置与重载流程
type Coordinator struct {
	active atomic.Pointer[Snapshot]
	lock   *semaphore.Weighted

	fleet *server.Fleet
	logs  *vhost.LogFiles

	queueTimeout   time.Duration
	historySize    int
	changeLogSize  int
	serverConfig   server.Config
	bindHost       string
	persistPath    string
	processControl bool
	level          *zap.AtomicLevel
	product        string
	version        string
	endpointOpts   []EndpointOption
	metrics        ReloadMetrics
	tracer         trace.Tracer
	logger         *zap.Logger

	mu               sync.RWMutex
	history          []*Snapshot
	changeLog        []types.ReloadAttempt
	reloadCallbacks  []ReloadCallback
	attemptCallbacks []AttemptCallback
}

// --- 选项 ---

// CoordinatorOption 协调器选项
type CoordinatorOption func(*Coordinator)

// WithCoordinatorLogger 设置日志
func WithCoordinatorLogger(logger *zap.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithReloadConfig 应用重载策略（排队超时、历史与变更日志大小）
func WithReloadConfig(cfg ReloadConfig) CoordinatorOption {
	return func(c *Coordinator) {
		if cfg.QueueTimeout > 0 {
			c.queueTimeout = cfg.QueueTimeout
		}
		if cfg.HistorySize > 0 {
			c.historySize = cfg.HistorySize
		}
		if cfg.ChangeLogSize > 0 {
			c.changeLogSize = cfg.ChangeLogSize
		}
	}
}

// WithQueueTimeout 设置等待重载锁的最长时间
func WithQueueTimeout(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		if d > 0 {
			c.queueTimeout = d
		}
	}
}

// WithServerConfig 设置业务监听器的基础 HTTP 参数
func WithServerConfig(cfg server.Config) CoordinatorOption {
	return func(c *Coordinator) {
		c.serverConfig = cfg
	}
}

// WithBindHost 设置业务端口绑定的主机地址
func WithBindHost(host string) CoordinatorOption {
	return func(c *Coordinator) {
		c.bindHost = host
	}
}

// WithPersistPath 把 HTTP 提交和回滚生效的配置写回该路径
func WithPersistPath(path string) CoordinatorOption {
	return func(c *Coordinator) {
		c.persistPath = path
	}
}

// WithProcessControl 允许配置调整 GOMAXPROCS（worker_processes）
func WithProcessControl(enabled bool) CoordinatorOption {
	return func(c *Coordinator) {
		c.processControl = enabled
	}
}

// WithLogLevel 由顶层 error_log 的级别调整进程日志级别
func WithLogLevel(level *zap.AtomicLevel) CoordinatorOption {
	return func(c *Coordinator) {
		c.level = level
	}
}

// WithProduct 设置 Server 响应头的产品名与版本
func WithProduct(product, version string) CoordinatorOption {
	return func(c *Coordinator) {
		c.product = product
		c.version = version
	}
}

// WithMetrics 设置指标记录器
func WithMetrics(m ReloadMetrics) CoordinatorOption {
	return func(c *Coordinator) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithEndpointOptions 设置 dynamic_config 端点的选项
func WithEndpointOptions(opts ...EndpointOption) CoordinatorOption {
	return func(c *Coordinator) {
		c.endpointOpts = append(c.endpointOpts, opts...)
	}
}

// NewCoordinator 创建协调器。调用 Bootstrap 之前没有活动配置。
func NewCoordinator(opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		lock:          semaphore.NewWeighted(1),
		logs:          vhost.NewLogFiles(),
		queueTimeout:  30 * time.Second,
		historySize:   10,
		changeLogSize: 1000,
		serverConfig:  server.DefaultConfig(),
		product:       "dynconf",
		metrics:       nopMetrics{},
		tracer:        otel.Tracer(tracerName),
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(zap.String("component", "reload_coordinator"))
	c.fleet = server.NewFleet(c.serverConfig, c.Handler, c.logger,
		server.WithBindHost(c.bindHost),
		server.WithFleetConnContext(c.ConnContext),
	)
	return c
}

// --- 读取 ---

// Current 返回活动快照，引导前为 nil
func (c *Coordinator) Current() *Snapshot {
	return c.active.Load()
}

// Generation 返回活动配置的代际号，引导前为 0
func (c *Coordinator) Generation() uint64 {
	if s := c.active.Load(); s != nil {
		return s.Generation
	}
	return 0
}

// QueueTimeout 等待重载锁的最长时间
func (c *Coordinator) QueueTimeout() time.Duration {
	return c.queueTimeout
}

// Fleet 返回业务监听器集合
func (c *Coordinator) Fleet() *server.Fleet {
	return c.fleet
}

// ConnContext 把连接建立时的活动快照绑定到连接上下文
func (c *Coordinator) ConnContext(ctx context.Context, _ net.Conn) context.Context {
	return withSnapshot(ctx, c.active.Load())
}

// Handler 返回某个端口的处理器。请求使用连接建立时的快照路由；
// 连接早于当前代际时响应带 Connection: close，客户端重连后使用新配置。
func (c *Coordinator) Handler(port int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cur := c.active.Load()
		snap, ok := SnapshotFrom(r.Context())
		if !ok {
			snap = cur
		}
		if snap == nil {
			http.Error(w, "no active configuration", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("X-Config-Generation", strconv.FormatUint(snap.Generation, 10))
		if cur != nil && snap.Generation < cur.Generation {
			w.Header().Set("Connection", "close")
		}
		snap.Table.Serve(port, w, r)
	})
}

// --- 重载 ---

// Bootstrap 发布启动配置（代际 1）
func (c *Coordinator) Bootstrap(ctx context.Context, doc *directive.Document) (*Snapshot, error) {
	if c.active.Load() != nil {
		return nil, errAlreadyBootstrapped()
	}
	return c.Apply(ctx, doc, types.SourceBootstrap)
}

func errAlreadyBootstrapped() *types.Error {
	return types.NewError(types.ErrInvalidRequest, "configuration already bootstrapped")
}

// Apply 发布一份已通过 directive.Validate 的文档。
// 成功时返回新快照；试运行失败返回 RESOURCE_ERROR，活动配置不变；
// 等锁超时返回可重试的 RELOAD_BUSY。
func (c *Coordinator) Apply(ctx context.Context, doc *directive.Document, source types.ReloadSource) (*Snapshot, error) {
	attempt := c.newAttempt(ctx, source, doc)

	ctx, span := c.tracer.Start(ctx, "config.Apply", trace.WithAttributes(
		attribute.String("reload.source", string(attempt.Source)),
		attribute.String("reload.attempt_id", attempt.ID),
	))
	defer span.End()

	if doc == nil {
		err := types.NewError(types.ErrInvalidRequest, "empty configuration")
		c.finish(&attempt, nil, err)
		return nil, err
	}

	waitStart := time.Now()
	lockCtx, cancel := context.WithTimeout(ctx, c.queueTimeout)
	err := c.lock.Acquire(lockCtx, 1)
	cancel()
	c.metrics.RecordQueueWait(time.Since(waitStart))
	if err != nil {
		busy := types.NewError(types.ErrBusy, "another reload is in progress").
			WithCause(err).
			WithRetryable(true)
		span.SetStatus(codes.Error, busy.Message)
		c.finish(&attempt, nil, busy)
		return nil, busy
	}
	defer c.lock.Release(1)

	snap, err := c.publish(ctx, doc, attempt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, types.ReasonOf(err))
	} else {
		span.SetAttributes(attribute.Int64("reload.generation", int64(snap.Generation)))
	}
	c.finish(&attempt, snap, err)
	return snap, err
}

// RecordFailure 记录在进入 Apply 之前就失败的尝试（解析、校验、读取文件）
func (c *Coordinator) RecordFailure(ctx context.Context, source types.ReloadSource, checksum string, err error) {
	attempt := c.newAttempt(ctx, source, nil)
	attempt.Checksum = checksum
	c.finish(&attempt, nil, err)
}

// ReloadFromFile 读取、解析、校验并发布 path 处的配置。
// 内容与活动配置相同时不产生新代际，直接返回活动快照。
func (c *Coordinator) ReloadFromFile(ctx context.Context, path string, source types.ReloadSource) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		rerr := types.NewResourceError("cannot read configuration file", err)
		c.RecordFailure(ctx, source, "", rerr)
		return nil, rerr
	}
	doc, err := directive.ParseAndValidate(data)
	if err != nil {
		c.RecordFailure(ctx, source, "", err)
		return nil, err
	}
	if cur := c.active.Load(); cur != nil && cur.Checksum == doc.Checksum() {
		c.logger.Info("configuration unchanged, reload skipped",
			zap.String("path", path),
			zap.String("source", string(source)),
			zap.Uint64("generation", cur.Generation))
		return cur, nil
	}
	return c.Apply(ctx, doc, source)
}

// Rollback 以新代际重新发布历史中的某一代配置
func (c *Coordinator) Rollback(ctx context.Context, generation uint64) (*Snapshot, error) {
	var target *Snapshot
	c.mu.RLock()
	for _, s := range c.history {
		if s.Generation == generation {
			target = s
			break
		}
	}
	c.mu.RUnlock()

	if target == nil {
		err := types.Errorf(types.ErrNotFound, "generation %d is not in the history", generation)
		c.RecordFailure(ctx, types.SourceRollback, "", err)
		return nil, err
	}
	c.logger.Info("rolling back configuration", zap.Uint64("target_generation", generation))
	return c.Apply(ctx, target.Document, types.SourceRollback)
}

// publish 在重载锁内执行：构建、试运行、发布、提交
func (c *Coordinator) publish(ctx context.Context, doc *directive.Document, attempt types.ReloadAttempt) (*Snapshot, error) {
	prev := c.active.Load()
	next := uint64(1)
	if prev != nil {
		// 持锁复查，并发的 Bootstrap 只有一个能发布
		if attempt.Source == types.SourceBootstrap {
			return nil, errAlreadyBootstrapped()
		}
		next = prev.Generation + 1
	}

	clone := doc.Clone()
	table, err := vhost.Compile(clone, c.tableOptions())
	if err != nil {
		return nil, types.NewError(types.ErrSemantic, "cannot compile configuration").WithCause(err)
	}

	res, err := c.dryRun(ctx, table)
	if err != nil {
		c.logger.Warn("dry run failed, configuration rolled back",
			zap.String("attempt_id", attempt.ID),
			zap.Uint64("generation", c.Generation()),
			zap.Error(err))
		return nil, err
	}

	snap := &Snapshot{
		Generation: next,
		Document:   clone,
		Table:      table,
		Checksum:   clone.Checksum(),
		Source:     attempt.Source,
		AppliedAt:  time.Now(),
		AttemptID:  attempt.ID,
	}
	c.active.Store(snap)

	retired, err := res.Commit()
	if err != nil {
		c.logger.Error("listener commit incomplete", zap.Uint64("generation", next), zap.Error(err))
	}
	c.logs.Retain(table.LogPaths())
	c.pushHistory(snap)
	c.afterPublish(snap)

	ports := c.fleet.Ports()
	c.metrics.SetGeneration(next)
	c.metrics.SetListeners(len(ports))
	c.logger.Info("configuration applied",
		zap.Uint64("generation", next),
		zap.String("source", string(attempt.Source)),
		zap.String("checksum", snap.Checksum),
		zap.Ints("ports", ports),
		zap.Ints("retired_ports", retired))
	return snap, nil
}

// dryRun 并行绑定端口、打开日志文件并探测 error_log/pid 路径。
// 任一失败时撤销本次占用的全部资源。
func (c *Coordinator) dryRun(ctx context.Context, table *vhost.Table) (*server.Reservation, error) {
	ctx, span := c.tracer.Start(ctx, "config.DryRun")
	defer span.End()

	g := table.Globals()
	var (
		res    *server.Reservation
		opened []string
	)
	eg, egctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		r, err := c.fleet.Reserve(egctx, table.Ports(), server.ListenerOptions{
			MaxConns:    g.WorkerConnections,
			IdleTimeout: g.KeepaliveTimeout,
		})
		res = r
		return err
	})
	eg.Go(func() error {
		o, err := c.logs.Open(table.LogPaths())
		opened = o
		return err
	})
	for _, p := range table.WritablePaths() {
		eg.Go(func() error {
			return vhost.CheckWritable(p)
		})
	}

	if err := eg.Wait(); err != nil {
		if res != nil {
			res.Release()
		}
		c.logs.Release(opened)
		span.RecordError(err)
		return nil, types.NewResourceError("configuration rolled back", err)
	}
	return res, nil
}

func (c *Coordinator) tableOptions() vhost.Options {
	return vhost.Options{
		DynamicConfig: func(policy admission.Policy) http.Handler {
			return NewEndpoint(c, policy, c.endpointOpts...)
		},
		Product: c.product,
		Version: c.version,
		Logs:    c.logs,
	}
}

// --- 发布后钩子 ---

func (c *Coordinator) afterPublish(snap *Snapshot) {
	g := snap.Table.Globals()

	if c.level != nil && g.ErrorLogLevel != "" {
		if lvl, ok := zapLevel(g.ErrorLogLevel); ok && c.level.Level() != lvl {
			c.level.SetLevel(lvl)
			c.logger.Info("log level changed", zap.String("level", lvl.String()))
		}
	}

	if c.processControl {
		procs := g.WorkerProcesses
		if procs == 0 {
			procs = runtime.NumCPU()
		}
		if runtime.GOMAXPROCS(0) != procs {
			runtime.GOMAXPROCS(procs)
			c.logger.Info("GOMAXPROCS changed", zap.Int("procs", procs))
		}
	}

	if g.PidPath != "" {
		pid := fmt.Appendf(nil, "%d\n", os.Getpid())
		if err := writeFileAtomic(g.PidPath, pid); err != nil {
			c.logger.Warn("failed to write pid file", zap.String("path", g.PidPath), zap.Error(err))
		}
	}

	if c.persistPath != "" && (snap.Source == types.SourceHTTP || snap.Source == types.SourceRollback) {
		if err := writeFileAtomic(c.persistPath, []byte(snap.Document.Render())); err != nil {
			c.logger.Warn("failed to persist configuration",
				zap.String("path", c.persistPath), zap.Uint64("generation", snap.Generation), zap.Error(err))
		}
	}
}

// zapLevel 把 error_log 级别映射到 zap 级别
func zapLevel(level string) (zapcore.Level, bool) {
	switch level {
	case "debug":
		return zapcore.DebugLevel, true
	case "info", "notice":
		return zapcore.InfoLevel, true
	case "warn":
		return zapcore.WarnLevel, true
	case "error", "crit", "alert", "emerg":
		return zapcore.ErrorLevel, true
	default:
		return zapcore.InfoLevel, false
	}
}

// writeFileAtomic 先写同目录临时文件再重命名
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

// --- 历史与变更日志 ---

func (c *Coordinator) newAttempt(ctx context.Context, source types.ReloadSource, doc *directive.Document) types.ReloadAttempt {
	if source == "" {
		source, _ = types.ReloadSourceFrom(ctx)
	}
	a := types.ReloadAttempt{
		ID:        uuid.NewString(),
		Source:    source,
		Timestamp: time.Now(),
	}
	if addr, ok := types.RemoteAddr(ctx); ok {
		a.RemoteAddr = addr
	}
	if doc != nil {
		a.Checksum = doc.Checksum()
	}
	return a
}

func (c *Coordinator) finish(a *types.ReloadAttempt, snap *Snapshot, err error) {
	a.Duration = time.Since(a.Timestamp)
	if err != nil {
		a.Outcome = string(types.GetErrorCode(err))
		if a.Outcome == "" {
			a.Outcome = string(types.ErrInternalError)
		}
		a.Reason = types.ReasonOf(err)
		a.Generation = c.Generation()
	} else {
		a.Outcome = types.OutcomeApplied
		a.Generation = snap.Generation
	}
	c.metrics.RecordReload(string(a.Source), a.Outcome, a.Duration)

	c.mu.Lock()
	c.changeLog = append(c.changeLog, *a)
	if len(c.changeLog) > c.changeLogSize {
		c.changeLog = c.changeLog[len(c.changeLog)-c.changeLogSize:]
	}
	reloadCallbacks := append([]ReloadCallback(nil), c.reloadCallbacks...)
	attemptCallbacks := append([]AttemptCallback(nil), c.attemptCallbacks...)
	c.mu.Unlock()

	if err != nil {
		c.logger.Info("reload rejected",
			zap.String("attempt_id", a.ID),
			zap.String("source", string(a.Source)),
			zap.String("outcome", a.Outcome),
			zap.String("reason", a.Reason))
	}

	if snap != nil {
		for _, cb := range reloadCallbacks {
			c.safeCall(func() { cb(snap) })
		}
	}
	for _, cb := range attemptCallbacks {
		c.safeCall(func() { cb(*a) })
	}
}

func (c *Coordinator) safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("reload callback panicked", zap.Any("panic", r))
		}
	}()
	fn()
}

func (c *Coordinator) pushHistory(snap *Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = append(c.history, snap)
	if len(c.history) > c.historySize {
		c.history = c.history[len(c.history)-c.historySize:]
	}
}

// History 返回保留的快照元数据（旧到新）
func (c *Coordinator) History() []types.ConfigInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]types.ConfigInfo, 0, len(c.history))
	for _, s := range c.history {
		out = append(out, s.Info())
	}
	return out
}

// ChangeLog 返回最近 limit 条重载尝试（旧到新），limit <= 0 返回全部
func (c *Coordinator) ChangeLog(limit int) []types.ReloadAttempt {
	c.mu.RLock()
	defer c.mu.RUnlock()
	start := 0
	if limit > 0 && limit < len(c.changeLog) {
		start = len(c.changeLog) - limit
	}
	return append([]types.ReloadAttempt(nil), c.changeLog[start:]...)
}

// OnReload 注册发布回调
func (c *Coordinator) OnReload(cb ReloadCallback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reloadCallbacks = append(c.reloadCallbacks, cb)
}

// OnAttempt 注册尝试回调
func (c *Coordinator) OnAttempt(cb AttemptCallback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attemptCallbacks = append(c.attemptCallbacks, cb)
}

// Shutdown 关闭全部业务监听器与日志文件
func (c *Coordinator) Shutdown(ctx context.Context) error {
	err := c.fleet.Shutdown(ctx)
	if cerr := c.logs.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
