// Package audit 将每次重载尝试异步写入数据库，按发生顺序保存。
package audit

import (
	"context"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/dynconf/internal/channel"
	"github.com/BaSui01/dynconf/internal/database"
	"github.com/BaSui01/dynconf/types"
)

// =============================================================================
// 📝 重载审计
// =============================================================================

// Config 审计写入配置
type Config struct {
	// 写入队列
	Queue channel.TunableConfig
	// 单条写入超时
	WriteTimeout time.Duration
	// 瞬时错误重试次数
	MaxRetries int
}

// DefaultConfig 返回默认审计写入配置
func DefaultConfig() Config {
	return Config{
		Queue:        channel.DefaultTunableConfig(),
		WriteTimeout: 5 * time.Second,
		MaxRetries:   3,
	}
}

// QueryRecorder 记录数据库操作耗时，metrics.Collector 实现此接口
type QueryRecorder interface {
	RecordDBQuery(database, operation string, duration time.Duration)
}

// Recorder 审计记录器。Observe 非阻塞入队，单个 worker 顺序写入。
type Recorder struct {
	pool    *database.PoolManager
	cfg     Config
	queue   *channel.TunableChannel[types.ReloadAttempt]
	queries QueryRecorder
	logger  *zap.Logger
	done    chan struct{}
	written func(types.ReloadAttempt, error)
}

// Option 记录器选项
type Option func(*Recorder)

// WithQueryRecorder 上报写入与查询耗时
func WithQueryRecorder(q QueryRecorder) Option {
	return func(r *Recorder) { r.queries = q }
}

// Migrate 创建或更新 reload_records 表
func Migrate(ctx context.Context, pool *database.PoolManager) error {
	if err := pool.DB().WithContext(ctx).AutoMigrate(&ReloadRecord{}); err != nil {
		return fmt.Errorf("migrate reload_records: %w", err)
	}
	return nil
}

// NewRecorder 创建记录器并启动写入 worker，调用前需先 Migrate
func NewRecorder(pool *database.PoolManager, cfg Config, logger *zap.Logger, opts ...Option) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.Queue.InitialSize == 0 {
		cfg.Queue = def.Queue
	}

	r := &Recorder{
		pool:   pool,
		cfg:    cfg,
		queue:  channel.NewTunableChannel[types.ReloadAttempt](cfg.Queue),
		logger: logger.With(zap.String("component", "audit")),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}

	go r.worker()
	return r
}

// Observe 将一次尝试加入写入队列，队列已满或已关闭时丢弃
func (r *Recorder) Observe(a types.ReloadAttempt) bool {
	if r.queue.TrySend(a) {
		return true
	}
	r.logger.Warn("audit queue full, dropping attempt",
		zap.String("attempt_id", a.ID),
		zap.String("outcome", a.Outcome),
	)
	return false
}

// Recent 返回最近 limit 条记录（旧到新）
func (r *Recorder) Recent(ctx context.Context, limit int) ([]types.ReloadAttempt, error) {
	if limit <= 0 {
		limit = 50
	}
	start := time.Now()

	var records []ReloadRecord
	err := r.pool.DB().WithContext(ctx).
		Order("id DESC").
		Limit(limit).
		Find(&records).Error
	r.observeQuery("select", start)
	if err != nil {
		return nil, fmt.Errorf("query reload records: %w", err)
	}

	slices.Reverse(records)
	out := make([]types.ReloadAttempt, 0, len(records))
	for _, rec := range records {
		out = append(out, rec.Attempt())
	}
	return out, nil
}

// Stats 返回写入队列统计
func (r *Recorder) Stats() channel.TunableChannelStats {
	return r.queue.Stats()
}

// Close 停止接收新记录，等待队列写完或 ctx 结束
func (r *Recorder) Close(ctx context.Context) error {
	r.queue.Close()
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("audit drain interrupted: %w", ctx.Err())
	}
}

func (r *Recorder) worker() {
	defer close(r.done)

	for {
		a, err := r.queue.Receive(context.Background())
		if err != nil {
			return
		}
		err = r.write(a)
		if err != nil {
			r.logger.Error("audit write failed",
				zap.String("attempt_id", a.ID),
				zap.Error(err),
			)
		}
		if r.written != nil {
			r.written(a, err)
		}
		r.queue.Tune()
	}
}

func (r *Recorder) write(a types.ReloadAttempt) error {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.WriteTimeout)
	defer cancel()

	rec := recordOf(a)
	start := time.Now()
	err := r.pool.WithTransactionRetry(ctx, r.cfg.MaxRetries, func(tx *gorm.DB) error {
		return tx.Create(&rec).Error
	})
	r.observeQuery("insert", start)
	return err
}

func (r *Recorder) observeQuery(op string, start time.Time) {
	if r.queries != nil {
		r.queries.RecordDBQuery("audit", op, time.Since(start))
	}
}
