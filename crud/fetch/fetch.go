package fetch

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/hatlonely/crudkit/crud/notice"
	"github.com/hatlonely/crudkit/crud/query"
	"github.com/hatlonely/crudkit/log"
	"github.com/hatlonely/crudkit/schema"
	"github.com/pkg/errors"
)

// ErrSuperseded 响应到达时已有更新的请求发出，结果被丢弃
var ErrSuperseded = errors.New("fetch superseded by a newer request")

// Generation 单调递增的请求代号，只有最新代号的响应会被接受
type Generation struct {
	n atomic.Uint64
}

// Next 发出新代号
func (g *Generation) Next() uint64 {
	return g.n.Add(1)
}

// IsLatest 判断 token 是否为最新发出的代号
func (g *Generation) IsLatest(token uint64) bool {
	return g.n.Load() == token
}

// Lister 数据源的 list 操作
type Lister[T schema.Record] interface {
	List(ctx context.Context, query map[string]any) ([]T, error)
}

// ListerFunc 函数形式的 Lister
type ListerFunc[T schema.Record] func(ctx context.Context, query map[string]any) ([]T, error)

func (f ListerFunc[T]) List(ctx context.Context, query map[string]any) ([]T, error) {
	return f(ctx, query)
}

type Options struct {
	Keys query.Keys `cfg:"keys" yaml:"keys"`

	// Extra 每次查询都附带的额外参数
	Extra map[string]any `cfg:"extra" yaml:"extra"`

	Logger   log.Logger      `cfg:"-" yaml:"-"`
	Notifier notice.Notifier `cfg:"-" yaml:"-"`
}

// Fetcher 根据查询状态获取当前页，每次成功获取整体替换记录集
type Fetcher[T schema.Record] struct {
	lister Lister[T]
	state  *query.State
	gen    Generation

	mu        sync.RWMutex
	records   []T
	loading   bool
	err       error
	extra     map[string]any
	listeners []func([]T)

	keys     query.Keys
	logger   log.Logger
	notifier notice.Notifier
}

func NewFetcherWithOptions[T schema.Record](lister Lister[T], state *query.State, options *Options) *Fetcher[T] {
	if options == nil {
		options = &Options{}
	}
	if state == nil {
		state = query.NewState(0)
	}

	extra := make(map[string]any, len(options.Extra))
	for k, v := range options.Extra {
		extra[k] = v
	}

	return &Fetcher[T]{
		lister:   lister,
		state:    state,
		extra:    extra,
		keys:     options.Keys,
		logger:   log.OrDefault(options.Logger).WithGroup("fetcher"),
		notifier: notice.OrDiscard(options.Notifier),
	}
}

// Query 当前状态对应的查询对象
func (f *Fetcher[T]) Query() map[string]any {
	f.mu.RLock()
	extra := f.extra
	f.mu.RUnlock()
	return f.state.Query(f.keys, extra)
}

// Fetch 获取当前页
// 失败时保留之前的记录集并发出可重试的通知；被更新请求取代时返回 ErrSuperseded
func (f *Fetcher[T]) Fetch(ctx context.Context) ([]T, error) {
	token := f.gen.Next()
	q := f.Query()

	f.mu.Lock()
	f.loading = true
	f.mu.Unlock()

	records, err := f.lister.List(ctx, q)

	f.mu.Lock()
	if !f.gen.IsLatest(token) {
		f.mu.Unlock()
		f.logger.DebugContext(ctx, "discard stale response", "token", token)
		return nil, ErrSuperseded
	}
	f.loading = false

	if err != nil {
		f.err = err
		f.mu.Unlock()
		f.logger.WarnContext(ctx, "list failed", "error", err.Error())
		f.notifier.Notify(ctx, notice.Error("Failed to load records", err).Retry())
		return nil, errors.WithMessage(err, "list records")
	}

	if records == nil {
		records = []T{}
	}
	f.records = records
	f.err = nil
	f.state.SetTotal(len(records))
	listeners := append([]func([]T){}, f.listeners...)
	f.mu.Unlock()

	for _, fn := range listeners {
		fn(records)
	}
	return records, nil
}

// Records 最近一次成功获取的记录
func (f *Fetcher[T]) Records() []T {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]T(nil), f.records...)
}

// Find 在当前页中按 id 查找记录
func (f *Fetcher[T]) Find(id int64) (T, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, r := range f.records {
		if r.GetID() == id {
			return r, true
		}
	}
	var zero T
	return zero, false
}

func (f *Fetcher[T]) Loading() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.loading
}

// Err 最近一次获取的错误，成功后清空
func (f *Fetcher[T]) Err() error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.err
}

// SetExtra 替换额外参数
func (f *Fetcher[T]) SetExtra(extra map[string]any) {
	m := make(map[string]any, len(extra))
	for k, v := range extra {
		m[k] = v
	}
	f.mu.Lock()
	f.extra = m
	f.mu.Unlock()
}

// OnFetched 注册页面更新监听
func (f *Fetcher[T]) OnFetched(fn func(records []T)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listeners = append(f.listeners, fn)
}

func (f *Fetcher[T]) State() *query.State {
	return f.state
}
