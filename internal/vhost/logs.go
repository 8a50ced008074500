package vhost

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// LogFiles 跨代共享的日志文件表。试运行阶段打开新引用的文件，
// 发布后关闭不再被引用的文件。试运行新建的文件在回滚时删除。
type LogFiles struct {
	mu      sync.RWMutex
	files   map[string]*os.File
	created map[string]bool
}

// NewLogFiles 创建空文件表
func NewLogFiles() *LogFiles {
	return &LogFiles{files: make(map[string]*os.File), created: make(map[string]bool)}
}

// Open 打开尚未打开的路径（追加写，必要时创建）。
// 返回本次新打开的路径；任一失败时关闭本次打开的文件并返回错误。
func (l *LogFiles) Open(paths []string) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var opened []string
	for _, p := range paths {
		if _, ok := l.files[p]; ok {
			continue
		}
		_, statErr := os.Stat(p)
		f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
		if err != nil {
			l.releaseLocked(opened)
			return nil, fmt.Errorf("open log file %q: %w", p, err)
		}
		l.files[p] = f
		if errors.Is(statErr, fs.ErrNotExist) {
			l.created[p] = true
		}
		opened = append(opened, p)
	}
	return opened, nil
}

// Release 关闭指定路径，用于试运行失败后的回滚；本次新建的文件一并删除
func (l *LogFiles) Release(paths []string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.releaseLocked(paths)
}

func (l *LogFiles) releaseLocked(paths []string) {
	for _, p := range paths {
		if f, ok := l.files[p]; ok {
			_ = f.Close()
			delete(l.files, p)
		}
		if l.created[p] {
			_ = os.Remove(p)
			delete(l.created, p)
		}
	}
}

// Retain 在发布后调用：关闭 keep 之外的所有文件，新建的文件从此归属活动配置
func (l *LogFiles) Retain(keep []string) {
	keepSet := make(map[string]bool, len(keep))
	for _, p := range keep {
		keepSet[p] = true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	clear(l.created)
	for p, f := range l.files {
		if !keepSet[p] {
			_ = f.Close()
			delete(l.files, p)
		}
	}
}

// Write 写入一行；路径未打开时丢弃
func (l *LogFiles) Write(path string, line []byte) {
	l.mu.RLock()
	f := l.files[path]
	l.mu.RUnlock()
	if f != nil {
		_, _ = f.Write(line) //nolint:errcheck
	}
}

// Paths 当前打开的路径
func (l *LogFiles) Paths() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, 0, len(l.files))
	for p := range l.files {
		out = append(out, p)
	}
	return out
}

// Close 关闭全部文件
func (l *LogFiles) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var errs []error
	for p, f := range l.files {
		if err := f.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(l.files, p)
	}
	return errors.Join(errs...)
}

// CheckWritable 确认路径可以追加写，不留下任何文件：已存在的文件以追加方式打开后关闭，
// 不存在时在所在目录创建并删除一个临时文件。
func CheckWritable(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0)
	if err == nil {
		return f.Close()
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("open %q: %w", path, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".dynconf-write-check-*")
	if err != nil {
		return fmt.Errorf("open %q: %w", path, err)
	}
	name := tmp.Name()
	_ = tmp.Close()
	return os.Remove(name)
}
