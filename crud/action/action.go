package action

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/hatlonely/crudkit/crud/notice"
	"github.com/hatlonely/crudkit/log"
	"github.com/hatlonely/crudkit/schema"
	"github.com/pkg/errors"
)

var (
	ErrActionNotFound = errors.New("action not found")
	ErrActionHidden   = errors.New("action is not visible for the record")
	ErrCancelled      = errors.New("action cancelled")
	ErrEmptySelection = errors.New("no records selected")
	ErrBusy           = errors.New("another bulk action is running")
)

// DeleteKey 内置删除操作的键
const DeleteKey = "delete"

// Confirmer 执行带确认文本的操作前征求确认
type Confirmer interface {
	Confirm(ctx context.Context, message string) bool
}

// ConfirmFunc 函数形式的 Confirmer
type ConfirmFunc func(ctx context.Context, message string) bool

func (f ConfirmFunc) Confirm(ctx context.Context, message string) bool {
	return f(ctx, message)
}

// AlwaysConfirm 自动确认，适用于非交互环境
var AlwaysConfirm Confirmer = ConfirmFunc(func(context.Context, string) bool { return true })

type Options[T schema.Record] struct {
	// Confirmer 为空时所有需要确认的操作都被取消
	Confirmer Confirmer

	// Records 当前已加载的页面，批量操作只作用于其中被选中的记录
	Records func() []T

	// Refresh 操作完成后刷新当前页
	Refresh func(ctx context.Context) error

	// OnComplete 设置后替代 Refresh，由调用方负责刷新
	OnComplete func(ctx context.Context, key string)

	// Extra 额外的行操作，例如内置删除
	Extra []schema.RowAction[T]

	Logger   log.Logger
	Notifier notice.Notifier
}

// Dispatcher 执行行操作和批量操作
type Dispatcher[T schema.Record] struct {
	schema     *schema.Schema[T]
	confirmer  Confirmer
	records    func() []T
	refresh    func(ctx context.Context) error
	onComplete func(ctx context.Context, key string)
	extra      []schema.RowAction[T]
	logger     log.Logger
	notifier   notice.Notifier

	busy atomic.Bool

	mu        sync.RWMutex
	selection map[int64]bool
}

func NewDispatcherWithOptions[T schema.Record](s *schema.Schema[T], options *Options[T]) *Dispatcher[T] {
	if options == nil {
		options = &Options[T]{}
	}
	d := &Dispatcher[T]{
		schema:     s,
		confirmer:  options.Confirmer,
		records:    options.Records,
		refresh:    options.Refresh,
		onComplete: options.OnComplete,
		extra:      options.Extra,
		logger:     log.OrDefault(options.Logger).WithGroup("action"),
		notifier:   notice.OrDiscard(options.Notifier),
		selection:  map[int64]bool{},
	}
	if d.records == nil {
		d.records = func() []T { return nil }
	}
	return d
}

// NewDeleteAction 内置删除操作，确认后调用 delete
func NewDeleteAction[T schema.Record](del func(ctx context.Context, id int64) error, confirm string) schema.RowAction[T] {
	if confirm == "" {
		confirm = "Are you sure you want to delete this record?"
	}
	return schema.RowAction[T]{
		Key:     DeleteKey,
		Label:   "Delete",
		Icon:    "delete",
		Danger:  true,
		Confirm: confirm,
		Handler: func(ctx context.Context, record T) error {
			return del(ctx, record.GetID())
		},
	}
}

func (d *Dispatcher[T]) SetSchema(s *schema.Schema[T]) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.schema = s
}

// RowActions 配置的行操作加上额外操作
func (d *Dispatcher[T]) RowActions() []schema.RowAction[T] {
	d.mu.RLock()
	defer d.mu.RUnlock()
	actions := append([]schema.RowAction[T]{}, d.schema.RowActions()...)
	return append(actions, d.extra...)
}

func (d *Dispatcher[T]) rowAction(key string) (schema.RowAction[T], bool) {
	for _, a := range d.RowActions() {
		if a.Key == key {
			return a, true
		}
	}
	return schema.RowAction[T]{}, false
}

// VisibleRowActions 对记录可见的行操作
func (d *Dispatcher[T]) VisibleRowActions(record T) []schema.RowAction[T] {
	var visible []schema.RowAction[T]
	for _, a := range d.RowActions() {
		if a.VisibleFor(record) {
			visible = append(visible, a)
		}
	}
	return visible
}

func (d *Dispatcher[T]) confirm(ctx context.Context, message string) bool {
	if message == "" {
		return true
	}
	if d.confirmer == nil {
		return false
	}
	return d.confirmer.Confirm(ctx, message)
}

// complete 有完成回调时交给调用方，否则刷新当前页
func (d *Dispatcher[T]) complete(ctx context.Context, key string) {
	if d.onComplete != nil {
		d.onComplete(ctx, key)
		return
	}
	if d.refresh != nil {
		if err := d.refresh(ctx); err != nil {
			d.logger.WarnContext(ctx, "refresh after action failed", "action", key, "error", err.Error())
		}
	}
}

// RunRow 对记录执行行操作，失败时记录日志并通知，不刷新
func (d *Dispatcher[T]) RunRow(ctx context.Context, key string, record T) error {
	a, ok := d.rowAction(key)
	if !ok {
		return errors.WithMessagef(ErrActionNotFound, "row action %q", key)
	}
	if !a.VisibleFor(record) {
		return errors.WithMessagef(ErrActionHidden, "row action %q", key)
	}
	if !d.confirm(ctx, a.Confirm) {
		return ErrCancelled
	}
	if a.Handler == nil {
		return errors.Errorf("row action %q has no handler", key)
	}

	if err := a.Handler(ctx, record); err != nil {
		d.logger.ErrorContext(ctx, "row action failed", "action", key, "id", record.GetID(), "error", err.Error())
		d.notifier.Notify(ctx, notice.Error(actionTitle(a.Label, key)+" failed", err))
		return errors.WithMessagef(err, "row action %q", key)
	}

	d.logger.InfoContext(ctx, "row action completed", "action", key, "id", record.GetID())
	d.complete(ctx, key)
	return nil
}

// RunBulk 对当前页中被选中的记录执行批量操作
// 选中为空时给出警告且不调用处理函数；同一时间只能执行一个批量操作
func (d *Dispatcher[T]) RunBulk(ctx context.Context, key string) error {
	d.mu.RLock()
	a, ok := d.schema.BulkAction(key)
	d.mu.RUnlock()
	if !ok {
		return errors.WithMessagef(ErrActionNotFound, "bulk action %q", key)
	}

	selected := d.Selected()
	if len(selected) == 0 {
		d.notifier.Notify(ctx, notice.Warning("Please select at least one record"))
		return ErrEmptySelection
	}

	if !d.busy.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer d.busy.Store(false)

	if !d.confirm(ctx, a.Confirm) {
		return ErrCancelled
	}
	if a.Handler == nil {
		return errors.Errorf("bulk action %q has no handler", key)
	}

	if err := a.Handler(ctx, selected); err != nil {
		d.logger.ErrorContext(ctx, "bulk action failed", "action", key, "count", len(selected), "error", err.Error())
		d.notifier.Notify(ctx, notice.Error(actionTitle(a.Label, key)+" failed", err))
		return errors.WithMessagef(err, "bulk action %q", key)
	}

	d.logger.InfoContext(ctx, "bulk action completed", "action", key, "count", len(selected))
	d.ClearSelection()
	d.complete(ctx, key)
	return nil
}

// Busy 是否有批量操作正在执行
func (d *Dispatcher[T]) Busy() bool {
	return d.busy.Load()
}

func (d *Dispatcher[T]) Select(id int64, selected bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if selected {
		d.selection[id] = true
	} else {
		delete(d.selection, id)
	}
}

// SelectAll 选中当前页的全部记录
func (d *Dispatcher[T]) SelectAll() {
	records := d.records()
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, r := range records {
		d.selection[r.GetID()] = true
	}
}

func (d *Dispatcher[T]) ClearSelection() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.selection = map[int64]bool{}
}

func (d *Dispatcher[T]) IsSelected(id int64) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.selection[id]
}

// Selection 选中的 id，升序
func (d *Dispatcher[T]) Selection() []int64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ids := make([]int64, 0, len(d.selection))
	for id := range d.selection {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Selected 选中集合与当前页的交集，保持页面顺序
func (d *Dispatcher[T]) Selected() []T {
	records := d.records()
	d.mu.RLock()
	defer d.mu.RUnlock()
	var selected []T
	for _, r := range records {
		if d.selection[r.GetID()] {
			selected = append(selected, r)
		}
	}
	return selected
}

func actionTitle(label, key string) string {
	if label != "" {
		return label
	}
	return key
}
