package schema

import (
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/hatlonely/crudkit/log"
	"github.com/pkg/errors"
)

// WatcherOptions 配置文件监听选项
type WatcherOptions[T Record] struct {
	Path     string `validate:"required"`
	Registry *Registry[T]
	Logger   log.Logger
}

// Watcher 监听配置文件，变更后重新构造 Schema
// 构造失败时保留上一次的 Schema 并记录日志
type Watcher[T Record] struct {
	path     string
	registry *Registry[T]
	logger   log.Logger

	mu       sync.RWMutex
	current  *Schema[T]
	onChange []func(*Schema[T])

	watcher   *fsnotify.Watcher
	done      chan struct{}
	once      sync.Once
	closeOnce sync.Once
	closeErr  error
}

func NewWatcherWithOptions[T Record](options *WatcherOptions[T]) (*Watcher[T], error) {
	if options == nil || options.Path == "" {
		return nil, errors.New("file path is required")
	}

	absPath, err := filepath.Abs(options.Path)
	if err != nil {
		return nil, errors.Wrap(err, "invalid file path")
	}

	current, err := LoadFile(absPath, options.Registry)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to load schema")
	}

	return &Watcher[T]{
		path:     absPath,
		registry: options.Registry,
		logger:   log.OrDefault(options.Logger).WithGroup("schemaWatcher"),
		current:  current,
		done:     make(chan struct{}),
	}, nil
}

// Current 返回最近一次成功构造的 Schema
func (w *Watcher[T]) Current() *Schema[T] {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// OnChange 注册变更回调，每次成功重新加载后调用
func (w *Watcher[T]) OnChange(fn func(*Schema[T])) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onChange = append(w.onChange, fn)
}

// Reload 立即重新加载配置文件
func (w *Watcher[T]) Reload() error {
	s, err := LoadFile(w.path, w.registry)
	if err != nil {
		w.logger.Warn("reload schema failed", "path", w.path, "error", err)
		return err
	}

	w.mu.Lock()
	w.current = s
	handlers := make([]func(*Schema[T]), len(w.onChange))
	copy(handlers, w.onChange)
	w.mu.Unlock()

	for _, h := range handlers {
		h(s)
	}
	w.logger.Info("schema reloaded", "path", w.path)
	return nil
}

// Watch 开始监听，只监听一次，重复调用无副作用
func (w *Watcher[T]) Watch() error {
	var initErr error
	w.once.Do(func() {
		select {
		case <-w.done:
			initErr = errors.New("watcher is closed")
			return
		default:
		}
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			initErr = errors.Wrap(err, "failed to create file watcher")
			return
		}
		// 监听目录，兼容编辑器先删除再创建的保存方式
		if err := watcher.Add(filepath.Dir(w.path)); err != nil {
			_ = watcher.Close()
			initErr = errors.Wrap(err, "failed to add directory to watcher")
			return
		}
		w.mu.Lock()
		w.watcher = watcher
		w.mu.Unlock()

		go w.loop(watcher)
	})
	return initErr
}

func (w *Watcher[T]) loop(watcher *fsnotify.Watcher) {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				_ = w.Reload()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", "path", w.path, "error", err)
		}
	}
}

// Close 停止监听，可重复、并发调用
func (w *Watcher[T]) Close() error {
	w.closeOnce.Do(func() {
		close(w.done)
		w.mu.RLock()
		watcher := w.watcher
		w.mu.RUnlock()
		if watcher != nil {
			w.closeErr = watcher.Close()
		}
	})
	return w.closeErr
}
