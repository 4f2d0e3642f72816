package options

import (
	"context"
	"sync"
	"time"

	"github.com/hatlonely/crudkit/cache"
	"github.com/hatlonely/crudkit/log"
	"github.com/hatlonely/crudkit/schema"
	"github.com/pkg/errors"
)

type Options struct {
	// Cache 缓存后端配置，Store 非空时忽略
	Cache *cache.Options `cfg:"cache" yaml:"cache"`

	// Store 共享的缓存实例，多个表格可以共用
	Store cache.Store[string, []schema.Option] `cfg:"-" yaml:"-"`

	// Expiration 缓存过期时间，0 表示不过期
	Expiration time.Duration `cfg:"expiration" yaml:"expiration"`

	// Namespace 缓存键前缀，共享 Store 的多个表格使用不同的前缀
	Namespace string `cfg:"namespace" yaml:"namespace"`

	Logger log.Logger `cfg:"-" yaml:"-"`
}

// Loader 加载并缓存异步选项，每个键在缓存为空时最多同时加载一次
type Loader struct {
	store      cache.Store[string, []schema.Option]
	ownStore   bool
	expiration time.Duration
	namespace  string
	logger     log.Logger

	mu       sync.Mutex
	inflight map[string]bool
}

func NewLoaderWithOptions(options *Options) (*Loader, error) {
	if options == nil {
		options = &Options{}
	}

	l := &Loader{
		store:      options.Store,
		expiration: options.Expiration,
		namespace:  options.Namespace,
		logger:     log.OrDefault(options.Logger).WithGroup("optionsLoader"),
		inflight:   map[string]bool{},
	}

	if l.store == nil {
		store, err := cache.NewStoreWithOptions[string, []schema.Option](options.Cache)
		if err != nil {
			return nil, errors.WithMessage(err, "failed to create option cache")
		}
		l.store = store
		l.ownStore = true
	}

	return l, nil
}

// FilterKey 过滤器选项的缓存键
func FilterKey(key string) string {
	return "filter:" + key
}

// FieldKey 表单字段选项的缓存键
func FieldKey(name string) string {
	return "field:" + name
}

// storeKey 加上命名空间后的实际缓存键
func (l *Loader) storeKey(key string) string {
	if l.namespace == "" {
		return key
	}
	return l.namespace + ":" + key
}

type job struct {
	key    string
	source schema.OptionSource
}

// LoadAll 并发加载所有声明了异步来源的过滤器和字段，跳过缓存已非空的键
// 单个来源失败只记录日志，不影响其他来源
func (l *Loader) LoadAll(ctx context.Context, filters []schema.Filter, fields []schema.Field) {
	var jobs []job
	for _, f := range filters {
		if f.Source != nil {
			jobs = append(jobs, job{key: FilterKey(f.Key), source: f.Source})
		}
	}
	for _, f := range fields {
		if f.Source != nil {
			jobs = append(jobs, job{key: FieldKey(f.Name), source: f.Source})
		}
	}

	var wg sync.WaitGroup
	for _, j := range jobs {
		if !l.acquire(ctx, j.key) {
			continue
		}
		wg.Add(1)
		go func(j job) {
			defer wg.Done()
			defer l.release(j.key)
			l.load(ctx, j)
		}(j)
	}
	wg.Wait()
}

// acquire 键未缓存且没有正在进行的加载时返回 true
func (l *Loader) acquire(ctx context.Context, key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.inflight[key] {
		return false
	}
	if opts, err := l.store.Get(ctx, l.storeKey(key)); err == nil && len(opts) > 0 {
		return false
	}
	l.inflight[key] = true
	return true
}

func (l *Loader) release(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.inflight, key)
}

func (l *Loader) load(ctx context.Context, j job) {
	opts, err := j.source.Load(ctx)
	if err != nil {
		l.logger.WarnContext(ctx, "load options failed", "key", j.key, "error", err.Error())
		return
	}

	if opts == nil {
		opts = []schema.Option{}
	}
	if l.expiration > 0 {
		err = l.store.Set(ctx, l.storeKey(j.key), opts, cache.WithExpiration(l.expiration))
	} else {
		err = l.store.Set(ctx, l.storeKey(j.key), opts)
	}
	if err != nil {
		l.logger.WarnContext(ctx, "cache options failed", "key", j.key, "error", err.Error())
		return
	}
	l.logger.DebugContext(ctx, "options loaded", "key", j.key, "count", len(opts))
}

// Get 读取缓存的选项，未加载或加载失败时返回空
func (l *Loader) Get(ctx context.Context, key string) []schema.Option {
	opts, err := l.store.Get(ctx, l.storeKey(key))
	if err != nil {
		if !errors.Is(err, cache.ErrKeyNotFound) {
			l.logger.WarnContext(ctx, "read option cache failed", "key", key, "error", err.Error())
		}
		return nil
	}
	return opts
}

// FilterOptions 静态选项优先，否则返回缓存的异步选项
func (l *Loader) FilterOptions(ctx context.Context, f schema.Filter) []schema.Option {
	if len(f.Options) > 0 || f.Source == nil {
		return f.Options
	}
	return l.Get(ctx, FilterKey(f.Key))
}

// FieldOptions 静态选项优先，否则返回缓存的异步选项
func (l *Loader) FieldOptions(ctx context.Context, f schema.Field) []schema.Option {
	if len(f.Options) > 0 || f.Source == nil {
		return f.Options
	}
	return l.Get(ctx, FieldKey(f.Name))
}

// Invalidate 删除一个缓存键，下次 LoadAll 时重新加载
func (l *Loader) Invalidate(ctx context.Context, key string) error {
	return l.store.Del(ctx, l.storeKey(key))
}

// Close 关闭自行创建的缓存，共享的缓存由调用方关闭
func (l *Loader) Close() error {
	if !l.ownStore {
		return nil
	}
	return l.store.Close()
}
