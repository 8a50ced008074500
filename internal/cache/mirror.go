package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/dynconf/internal/channel"
	"github.com/BaSui01/dynconf/types"
)

// =============================================================================
// 🪞 活动配置镜像
// =============================================================================

const mirrorCacheType = "mirror"

// Entry 镜像到 Redis 的一份已发布配置
type Entry struct {
	Info types.ConfigInfo `json:"info"`
	Text string           `json:"text"`
}

// MirrorConfig 镜像配置
type MirrorConfig struct {
	// 键前缀，键为 <prefix>:active 与 <prefix>:gen:<n>
	KeyPrefix string
	// 代际键的过期时间，0 表示永不过期
	TTL time.Duration
	// 写入队列
	Queue channel.TunableConfig
	// 单次写入超时
	WriteTimeout time.Duration
}

// HitRecorder 记录镜像读取命中，metrics.Collector 实现此接口
type HitRecorder interface {
	RecordCacheHit(cacheType string)
	RecordCacheMiss(cacheType string)
}

// Mirror 将每次发布的配置异步写入 Redis 并广播通知。
// 发布路径只做非阻塞入队，写入由单个 worker 按顺序完成。
type Mirror struct {
	mgr     *Manager
	cfg     MirrorConfig
	queue   *channel.TunableChannel[Entry]
	hits    HitRecorder
	logger  *zap.Logger
	done    chan struct{}
	written func(Entry, error)
}

// MirrorOption 镜像选项
type MirrorOption func(*Mirror)

// WithHitRecorder 上报 Active/Generation 的命中情况
func WithHitRecorder(r HitRecorder) MirrorOption {
	return func(m *Mirror) { m.hits = r }
}

// NewMirror 创建镜像并启动写入 worker
func NewMirror(mgr *Manager, cfg MirrorConfig, logger *zap.Logger, opts ...MirrorOption) *Mirror {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "dynconf"
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.Queue.InitialSize == 0 {
		cfg.Queue = channel.DefaultTunableConfig()
	}

	m := &Mirror{
		mgr:    mgr,
		cfg:    cfg,
		queue:  channel.NewTunableChannel[Entry](cfg.Queue),
		logger: logger.With(zap.String("component", "mirror")),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}

	go m.worker()
	return m
}

// ActiveKey 活动配置键
func (m *Mirror) ActiveKey() string { return m.cfg.KeyPrefix + ":active" }

// GenerationKey 指定代际的键
func (m *Mirror) GenerationKey(gen uint64) string {
	return m.cfg.KeyPrefix + ":gen:" + strconv.FormatUint(gen, 10)
}

// Channel 发布通知的频道
func (m *Mirror) Channel() string { return m.cfg.KeyPrefix + ":reloads" }

// Publish 将 e 加入写入队列。队列已满或已关闭时丢弃并返回 false。
func (m *Mirror) Publish(e Entry) bool {
	if m.queue.TrySend(e) {
		return true
	}
	m.logger.Warn("mirror queue full, dropping entry",
		zap.Uint64("generation", e.Info.Generation),
	)
	return false
}

// Active 读取当前镜像的活动配置
func (m *Mirror) Active(ctx context.Context) (*Entry, error) {
	return m.read(ctx, m.ActiveKey())
}

// Generation 读取指定代际的镜像
func (m *Mirror) Generation(ctx context.Context, gen uint64) (*Entry, error) {
	return m.read(ctx, m.GenerationKey(gen))
}

func (m *Mirror) read(ctx context.Context, key string) (*Entry, error) {
	var e Entry
	err := m.mgr.GetJSON(ctx, key, &e)
	if m.hits != nil {
		switch {
		case err == nil:
			m.hits.RecordCacheHit(mirrorCacheType)
		case IsCacheMiss(err):
			m.hits.RecordCacheMiss(mirrorCacheType)
		}
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// Watch 订阅发布通知，每条消息调用一次 fn，直到 ctx 结束
func (m *Mirror) Watch(ctx context.Context, fn func(types.ConfigInfo)) error {
	sub, err := m.mgr.Subscribe(ctx, m.Channel())
	if err != nil {
		return err
	}
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var info types.ConfigInfo
			if err := json.Unmarshal([]byte(msg.Payload), &info); err != nil {
				m.logger.Warn("ignoring malformed reload notification", zap.Error(err))
				continue
			}
			fn(info)
		}
	}
}

// Stats 返回写入队列统计
func (m *Mirror) Stats() channel.TunableChannelStats {
	return m.queue.Stats()
}

// Close 停止接收新条目，等待队列写完或 ctx 结束
func (m *Mirror) Close(ctx context.Context) error {
	m.queue.Close()
	select {
	case <-m.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("mirror drain interrupted: %w", ctx.Err())
	}
}

// =============================================================================
// ✍️ 写入
// =============================================================================

func (m *Mirror) worker() {
	defer close(m.done)

	for {
		e, err := m.queue.Receive(context.Background())
		if err != nil {
			return
		}
		err = m.write(e)
		if err != nil {
			m.logger.Error("mirror write failed",
				zap.Uint64("generation", e.Info.Generation),
				zap.Error(err),
			)
		} else {
			m.logger.Debug("config mirrored", zap.Uint64("generation", e.Info.Generation))
		}
		if m.written != nil {
			m.written(e, err)
		}
		m.queue.Tune()
	}
}

func (m *Mirror) write(e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}
	info, err := json.Marshal(e.Info)
	if err != nil {
		return fmt.Errorf("marshal info: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.WriteTimeout)
	defer cancel()

	return m.mgr.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, m.ActiveKey(), data, 0)
		p.Set(ctx, m.GenerationKey(e.Info.Generation), data, m.cfg.TTL)
		p.Publish(ctx, m.Channel(), info)
		return nil
	})
}
