package dashboard

import (
	"context"
	"sync"

	"github.com/hatlonely/crudkit/crud/fetch"
	"github.com/hatlonely/crudkit/crud/notice"
	"github.com/hatlonely/crudkit/crud/query"
	"github.com/hatlonely/crudkit/crud/view"
	"github.com/hatlonely/crudkit/log"
	"github.com/pkg/errors"
)

var ErrNoFetch = errors.New("dashboard fetch function is required")

// NarrowColumns 窄屏下卡片的列数
const NarrowColumns = 2

type Options[P any] struct {
	Title string `cfg:"title" yaml:"title"`

	// Fetch 获取一次看板数据
	Fetch func(ctx context.Context, params map[string]any) (P, error) `cfg:"-" yaml:"-"`

	// DateRange 是否启用日期范围控件
	DateRange   bool   `cfg:"dateRange" yaml:"dateRange"`
	DateFromKey string `cfg:"dateFromKey" yaml:"dateFromKey" def:"date_from"`
	DateToKey   string `cfg:"dateToKey" yaml:"dateToKey" def:"date_to"`

	// Extra 每次获取都附带的参数
	Extra map[string]any `cfg:"extra" yaml:"extra"`

	// Columns 宽屏下卡片的列数
	Columns int `cfg:"columns" yaml:"columns" def:"4"`

	// Filters 宿主表格当前的过滤条件（已序列化），合并到参数中
	Filters func() map[string]any `cfg:"-" yaml:"-"`

	Viewport *view.Viewport  `cfg:"-" yaml:"-"`
	Logger   log.Logger      `cfg:"-" yaml:"-"`
	Notifier notice.Notifier `cfg:"-" yaml:"-"`
}

// Adapter 看板的获取生命周期：日期范围、参数合并、加载状态、失败重试
// 过期响应按请求代号丢弃
type Adapter[P any] struct {
	title       string
	fetchFn     func(ctx context.Context, params map[string]any) (P, error)
	dateEnabled bool
	fromKey     string
	toKey       string
	extra       map[string]any
	columns     int
	filters     func() map[string]any
	viewport    *view.Viewport
	logger      log.Logger
	notifier    notice.Notifier

	gen fetch.Generation

	mu         sync.RWMutex
	dateRange  query.Range
	payload    P
	hasPayload bool
	loading    bool
	err        error
}

func NewAdapterWithOptions[P any](options *Options[P]) (*Adapter[P], error) {
	if options == nil || options.Fetch == nil {
		return nil, ErrNoFetch
	}

	a := &Adapter[P]{
		title:       options.Title,
		fetchFn:     options.Fetch,
		dateEnabled: options.DateRange,
		fromKey:     options.DateFromKey,
		toKey:       options.DateToKey,
		extra:       map[string]any{},
		columns:     options.Columns,
		filters:     options.Filters,
		viewport:    options.Viewport,
		logger:      log.OrDefault(options.Logger).WithGroup("dashboard"),
		notifier:    notice.OrDiscard(options.Notifier),
	}
	if a.fromKey == "" {
		a.fromKey = "date_from"
	}
	if a.toKey == "" {
		a.toKey = "date_to"
	}
	if a.columns <= 0 {
		a.columns = 4
	}
	for k, v := range options.Extra {
		a.extra[k] = v
	}
	return a, nil
}

// Params 本次获取的参数：额外参数，叠加宿主表格的过滤条件，再叠加日期范围
func (a *Adapter[P]) Params() map[string]any {
	a.mu.RLock()
	defer a.mu.RUnlock()

	params := make(map[string]any, len(a.extra)+2)
	for k, v := range a.extra {
		params[k] = v
	}
	if a.filters != nil {
		for k, v := range query.Serialize(a.filters()) {
			params[k] = v
		}
	}
	if a.dateEnabled {
		if s := query.FormatTime(a.dateRange.From); s != "" {
			params[a.fromKey] = s
		}
		if s := query.FormatTime(a.dateRange.To); s != "" {
			params[a.toKey] = s
		}
	}
	return params
}

// Fetch 获取看板数据，失败时保留上一次的数据并提供重试
func (a *Adapter[P]) Fetch(ctx context.Context) error {
	token := a.gen.Next()
	params := a.Params()

	a.mu.Lock()
	a.loading = true
	a.mu.Unlock()

	payload, err := a.fetchFn(ctx, params)

	a.mu.Lock()
	if !a.gen.IsLatest(token) {
		a.mu.Unlock()
		a.logger.DebugContext(ctx, "discard stale response", "token", token)
		return fetch.ErrSuperseded
	}
	a.loading = false

	if err != nil {
		a.err = err
		a.mu.Unlock()
		a.logger.WarnContext(ctx, "fetch failed", "title", a.title, "error", err.Error())
		a.notifier.Notify(ctx, notice.Error("Failed to load dashboard", err).Retry())
		return errors.WithMessage(err, "fetch dashboard")
	}
	a.payload = payload
	a.hasPayload = true
	a.err = nil
	a.mu.Unlock()
	return nil
}

// Retry 失败后的重试入口
func (a *Adapter[P]) Retry(ctx context.Context) error {
	return a.Fetch(ctx)
}

// SetDateRange 修改日期范围并重新获取，未启用日期范围时只记录不获取
func (a *Adapter[P]) SetDateRange(ctx context.Context, r query.Range) error {
	a.mu.Lock()
	changed := a.dateRange != r
	a.dateRange = r
	a.mu.Unlock()

	if !a.dateEnabled || !changed {
		return nil
	}
	return a.Fetch(ctx)
}

func (a *Adapter[P]) DateRange() query.Range {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.dateRange
}

// SetExtra 替换额外参数，不触发获取
func (a *Adapter[P]) SetExtra(extra map[string]any) {
	m := make(map[string]any, len(extra))
	for k, v := range extra {
		m[k] = v
	}
	a.mu.Lock()
	a.extra = m
	a.mu.Unlock()
}

// Payload 最近一次成功获取的数据
func (a *Adapter[P]) Payload() (P, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.payload, a.hasPayload
}

func (a *Adapter[P]) Loading() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.loading
}

func (a *Adapter[P]) Err() error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.err
}

func (a *Adapter[P]) Title() string {
	return a.title
}

// Columns 窄屏 2 列，宽屏使用配置的列数
func (a *Adapter[P]) Columns() int {
	if a.viewport != nil && a.viewport.Narrow() {
		return NarrowColumns
	}
	return a.columns
}

func (a *Adapter[P]) panel(stats []Stat) Panel {
	a.mu.RLock()
	defer a.mu.RUnlock()
	p := Panel{
		Title:     a.title,
		Columns:   a.Columns(),
		Stats:     stats,
		Loading:   a.loading,
		DateRange: a.dateEnabled,
		FromKey:   a.fromKey,
		ToKey:     a.toKey,
		From:      dateText(a.dateRange.From),
		To:        dateText(a.dateRange.To),
	}
	if a.err != nil {
		p.Error = a.err.Error()
	}
	return p
}
