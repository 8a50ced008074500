package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"github.com/BaSui01/dynconf/types"
)

// =============================================================================
// 👀 配置文件轮询
// =============================================================================

// FileOp 文件变化类型
type FileOp int

const (
	FileOpCreate FileOp = iota
	FileOpWrite
	FileOpRemove
)

func (op FileOp) String() string {
	switch op {
	case FileOpCreate:
		return "CREATE"
	case FileOpWrite:
		return "WRITE"
	case FileOpRemove:
		return "REMOVE"
	}
	return "UNKNOWN"
}

// FileEvent 防抖后交给回调的事件，同一路径在一个窗口内只保留最后一个
type FileEvent struct {
	Path      string    `json:"path"`
	Op        FileOp    `json:"op"`
	Timestamp time.Time `json:"timestamp"`
}

// fileState 修改时间与大小不变时不读文件；变了再比较内容摘要，
// touch 或原样重写不会产生事件
type fileState struct {
	modTime time.Time
	size    int64
	sum     uint64
}

type WatcherOption func(*FileWatcher)

func WithDebounceDelay(d time.Duration) WatcherOption {
	return func(w *FileWatcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

func WithPollInterval(d time.Duration) WatcherOption {
	return func(w *FileWatcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

func WithWatcherLogger(logger *zap.Logger) WatcherOption {
	return func(w *FileWatcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// FileWatcher 轮询一组文件。不依赖 inotify，编辑器的“写临时文件再改名”
// 和 ConfigMap 的符号链接切换都按内容变化处理。
type FileWatcher struct {
	paths    []string
	debounce time.Duration
	interval time.Duration
	logger   *zap.Logger

	mu        sync.Mutex
	callbacks []func(FileEvent)
	state     map[string]fileState
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewFileWatcher 路径解析为绝对路径；不存在的文件在出现时产生 CREATE
func NewFileWatcher(paths []string, opts ...WatcherOption) (*FileWatcher, error) {
	w := &FileWatcher{
		debounce: 100 * time.Millisecond,
		interval: time.Second,
		logger:   zap.NewNop(),
		state:    make(map[string]fileState),
	}
	for _, opt := range opts {
		opt(w)
	}
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", p, err)
		}
		w.paths = append(w.paths, abs)
	}
	return w, nil
}

func (w *FileWatcher) Paths() []string {
	return append([]string(nil), w.paths...)
}

// OnChange 回调在轮询协程中依次执行
func (w *FileWatcher) OnChange(cb func(FileEvent)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, cb)
}

// Start 记录当前文件状态作为基线后开始轮询，ctx 取消或 Stop 时退出
func (w *FileWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return errors.New("watcher already running")
	}
	for _, p := range w.paths {
		if st, ok, err := readState(p); err == nil && ok {
			w.state[p] = st
		} else if err != nil {
			w.logger.Warn("config file unreadable at watch start", zap.String("path", p), zap.Error(err))
		}
	}

	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	go w.run(ctx, w.done)

	w.logger.Info("file watcher started",
		zap.Strings("paths", w.paths),
		zap.Duration("poll_interval", w.interval),
		zap.Duration("debounce", w.debounce))
	return nil
}

// Stop 等待轮询协程退出；进行中的回调会先执行完
func (w *FileWatcher) Stop() error {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.cancel, w.done = nil, nil
	w.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	w.logger.Info("file watcher stopped")
	return nil
}

func (w *FileWatcher) running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cancel != nil
}

func (w *FileWatcher) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	debounce := time.NewTimer(w.debounce)
	debounce.Stop()
	defer debounce.Stop()

	pending := make(map[string]FileEvent)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			events := w.scan()
			for _, e := range events {
				pending[e.Path] = e
			}
			if len(events) > 0 {
				debounce.Reset(w.debounce)
			}
		case <-debounce.C:
			w.dispatch(pending)
			pending = make(map[string]FileEvent)
		}
	}
}

func (w *FileWatcher) dispatch(pending map[string]FileEvent) {
	w.mu.Lock()
	callbacks := slices.Clone(w.callbacks)
	w.mu.Unlock()

	for _, e := range pending {
		w.logger.Debug("config file changed", zap.String("path", e.Path), zap.Stringer("op", e.Op))
		for _, cb := range callbacks {
			cb(e)
		}
	}
}

// scan 与上次观察到的状态比较，返回变化
func (w *FileWatcher) scan() []FileEvent {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	var events []FileEvent
	for _, p := range w.paths {
		prev, known := w.state[p]
		info, err := os.Stat(p)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && known {
				delete(w.state, p)
				events = append(events, FileEvent{Path: p, Op: FileOpRemove, Timestamp: now})
			}
			continue
		}
		if known && info.ModTime().Equal(prev.modTime) && info.Size() == prev.size {
			continue
		}

		st, ok, err := readState(p)
		if err != nil || !ok {
			// 改名过程中短暂消失或不可读，下一轮再看
			continue
		}
		w.state[p] = st
		switch {
		case !known:
			events = append(events, FileEvent{Path: p, Op: FileOpCreate, Timestamp: now})
		case st.sum != prev.sum:
			events = append(events, FileEvent{Path: p, Op: FileOpWrite, Timestamp: now})
		}
	}
	return events
}

// readState ok 为 false 表示文件不存在
func readState(path string) (fileState, bool, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return fileState{}, false, nil
	}
	if err != nil {
		return fileState{}, false, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return fileState{}, false, nil
	}
	if err != nil {
		return fileState{}, false, err
	}
	return fileState{modTime: info.ModTime(), size: info.Size(), sum: xxhash.Sum64(data)}, true, nil
}

// ReloadOnChange 创建或修改时从磁盘重载，来源记为 file。
// 删除只记日志，活动配置保持不变。
func ReloadOnChange(ctx context.Context, coord *Coordinator, logger *zap.Logger) func(FileEvent) {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(e FileEvent) {
		if e.Op == FileOpRemove {
			logger.Warn("config file removed, keeping active configuration",
				zap.String("path", e.Path),
				zap.Uint64("generation", coord.Generation()))
			return
		}
		snap, err := coord.ReloadFromFile(ctx, e.Path, types.SourceFile)
		if err != nil {
			logger.Warn("config file reload failed",
				zap.String("path", e.Path),
				zap.String("reason", types.ReasonOf(err)))
			return
		}
		logger.Debug("config file reload finished",
			zap.String("path", e.Path),
			zap.Uint64("generation", snap.Generation))
	}
}
