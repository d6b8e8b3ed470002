package catalog

import (
	"context"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Watcher 轮询 schema 文件，文件修改后重新加载并注册新增的事件类型。
// 已注册条目保持不变。
type Watcher struct {
	mu sync.Mutex

	catalog  *Catalog
	path     string
	interval time.Duration
	logger   *zap.Logger

	lastMod time.Time
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	onLoad func(added int, err error)
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithPollInterval sets how often the file is stat'ed.
func WithPollInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithLoadCallback is invoked after every reload attempt.
func WithLoadCallback(fn func(added int, err error)) WatcherOption {
	return func(w *Watcher) {
		w.onLoad = fn
	}
}

// NewWatcher creates a watcher for one schema file.
func NewWatcher(c *Catalog, path string, logger *zap.Logger, opts ...WatcherOption) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &Watcher{
		catalog:  c,
		path:     path,
		interval: 2 * time.Second,
		logger:   logger.With(zap.String("component", "schema_watcher"), zap.String("path", path)),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start loads the file once and begins polling until Stop or ctx is done.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.mu.Unlock()

	w.check()

	go w.loop(ctx)
	return nil
}

// Stop terminates polling and waits for the loop to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.stopCh)
	done := w.doneCh
	w.mu.Unlock()

	<-done
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.check()
		}
	}
}

// check 比较修改时间，有变化时重新加载。
func (w *Watcher) check() {
	info, err := os.Stat(w.path)
	if err != nil {
		if !os.IsNotExist(err) {
			w.logger.Warn("failed to stat schema file", zap.Error(err))
		}
		return
	}
	if !info.ModTime().After(w.lastMod) {
		return
	}
	w.lastMod = info.ModTime()

	added, err := w.catalog.LoadFile(w.path)
	if err != nil {
		w.logger.Error("schema reload failed", zap.Error(err))
	}
	if w.onLoad != nil {
		w.onLoad(added, err)
	}
}
