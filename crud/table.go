package crud

import (
	"context"
	"io"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/hatlonely/crudkit/crud/action"
	"github.com/hatlonely/crudkit/crud/fetch"
	"github.com/hatlonely/crudkit/crud/form"
	"github.com/hatlonely/crudkit/crud/notice"
	optionsloader "github.com/hatlonely/crudkit/crud/options"
	"github.com/hatlonely/crudkit/crud/query"
	"github.com/hatlonely/crudkit/crud/view"
	"github.com/hatlonely/crudkit/datasource"
	"github.com/hatlonely/crudkit/log"
	"github.com/hatlonely/crudkit/schema"
	"github.com/pkg/errors"
)

var (
	ErrCreateDisabled = errors.New("create is disabled")
	ErrEditDisabled   = errors.New("edit is disabled")
	ErrRecordNotFound = errors.New("record not found in current page")
	ErrNoDataSource   = errors.New("data source is required")
	ErrNoSchema       = errors.New("schema is required")
)

// Hooks 宿主页面的生命周期回调
type Hooks[T schema.Record] struct {
	// OnFormOpen 表单打开，create 模式下 target 为 nil
	OnFormOpen func(mode form.Mode, target *T)
	// OnFormClose 表单关闭，包括提交成功和取消
	OnFormClose func(mode form.Mode)
	// OnActionComplete 设置后，变更成功时不再自动刷新，由宿主负责
	// key 为操作的键，表单提交为 create 或 edit
	OnActionComplete func(ctx context.Context, key string)
	// OnFetched 每次接受新的页面
	OnFetched func(records []T)
}

type Options[T schema.Record] struct {
	PageSize    int            `cfg:"pageSize" yaml:"pageSize" def:"20"`
	Keys        query.Keys     `cfg:"keys" yaml:"keys"`
	ExtraParams map[string]any `cfg:"extraParams" yaml:"extraParams"`

	EnableCreate bool `cfg:"enableCreate" yaml:"enableCreate"`
	EnableEdit   bool `cfg:"enableEdit" yaml:"enableEdit"`
	EnableDelete bool `cfg:"enableDelete" yaml:"enableDelete"`
	// DeleteConfirm 删除确认文案，为空时使用默认文案
	DeleteConfirm string `cfg:"deleteConfirm" yaml:"deleteConfirm"`

	OptionCache optionsloader.Options `cfg:"optionCache" yaml:"optionCache"`
	View        view.Options          `cfg:"view" yaml:"view"`

	// Transform 编辑表单的初始值，默认使用记录的全部属性
	Transform   func(record T) map[string]any `cfg:"-" yaml:"-"`
	Confirmer   action.Confirmer              `cfg:"-" yaml:"-"`
	Environment view.Environment              `cfg:"-" yaml:"-"`
	Validate    *validator.Validate           `cfg:"-" yaml:"-"`
	Hooks       Hooks[T]                      `cfg:"-" yaml:"-"`
	Logger      log.Logger                    `cfg:"-" yaml:"-"`
	Notifier    notice.Notifier               `cfg:"-" yaml:"-"`
}

// Table 配置驱动的 CRUD 组件：查询状态、数据获取、选项加载、表单、操作和视图
// 每个实例独占自己的状态，方法可以并发调用
type Table[T schema.Record] struct {
	ds       datasource.DataSource[T]
	state    *query.State
	fetcher  *fetch.Fetcher[T]
	loader   *optionsloader.Loader
	form     *form.Controller[T]
	actions  *action.Dispatcher[T]
	viewport *view.Viewport
	renderer *view.Renderer[T]
	notices  *notice.Queue
	logger   log.Logger

	enableCreate bool
	enableEdit   bool
	enableDelete bool

	mu         sync.RWMutex
	schema     *schema.Schema[T]
	detailID   *int64
	dashboards map[int]Refetcher
	nextDash   int
}

// Refetcher 跟随表格过滤条件重新获取的组件，如看板
type Refetcher interface {
	Fetch(ctx context.Context) error
}

func NewTableWithOptions[T schema.Record](s *schema.Schema[T], ds datasource.DataSource[T], options *Options[T]) (*Table[T], error) {
	if s == nil {
		return nil, ErrNoSchema
	}
	if ds == nil {
		return nil, ErrNoDataSource
	}
	if options == nil {
		options = &Options[T]{}
	}

	logger := log.OrDefault(options.Logger)
	queue := notice.NewQueue(0)
	notifier := notice.Multi(queue, options.Notifier)

	t := &Table[T]{
		ds:           ds,
		schema:       s,
		state:        query.NewState(options.PageSize),
		notices:      queue,
		logger:       logger.WithGroup("table"),
		enableCreate: options.EnableCreate,
		enableEdit:   options.EnableEdit,
		enableDelete: options.EnableDelete,
	}

	loaderOptions := options.OptionCache
	loaderOptions.Logger = logger
	if loaderOptions.Store != nil && loaderOptions.Namespace == "" {
		loaderOptions.Namespace = s.Title()
	}
	loader, err := optionsloader.NewLoaderWithOptions(&loaderOptions)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to create options loader")
	}
	t.loader = loader

	renderer, err := view.NewRendererWithOptions[T](&options.View)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to create renderer")
	}
	t.renderer = renderer
	t.viewport = view.NewViewport(options.Environment, renderer.Breakpoint())

	t.fetcher = fetch.NewFetcherWithOptions[T](ds, t.state, &fetch.Options{
		Keys:     options.Keys,
		Extra:    options.ExtraParams,
		Logger:   logger,
		Notifier: notifier,
	})
	if options.Hooks.OnFetched != nil {
		t.fetcher.OnFetched(options.Hooks.OnFetched)
	}
	t.fetcher.OnFetched(t.onFetched)

	onComplete := options.Hooks.OnActionComplete

	t.form = form.NewControllerWithOptions[T](s, ds, &form.Options[T]{
		Transform: options.Transform,
		Validate:  options.Validate,
		Logger:    logger,
		Notifier:  notifier,
		OnOpen:    options.Hooks.OnFormOpen,
		OnClose:   options.Hooks.OnFormClose,
		OnSubmitted: func(ctx context.Context, mode form.Mode, record T) {
			if onComplete != nil {
				onComplete(ctx, mode.String())
				return
			}
			if err := t.Refresh(ctx); err != nil {
				t.logger.WarnContext(ctx, "refresh after submit failed", "error", err.Error())
			}
		},
	})

	var extra []schema.RowAction[T]
	if options.EnableDelete {
		extra = append(extra, action.NewDeleteAction[T](ds.Delete, options.DeleteConfirm))
	}
	t.actions = action.NewDispatcherWithOptions[T](s, &action.Options[T]{
		Confirmer:  options.Confirmer,
		Records:    t.fetcher.Records,
		Refresh:    t.Refresh,
		OnComplete: onComplete,
		Extra:      extra,
		Logger:     logger,
		Notifier:   notifier,
	})

	return t, nil
}

// onFetched 详情中的记录不在新页面中时关闭详情
func (t *Table[T]) onFetched(records []T) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.detailID == nil {
		return
	}
	for _, r := range records {
		if r.GetID() == *t.detailID {
			return
		}
	}
	t.detailID = nil
}

// Mount 订阅视口，加载异步选项并获取第一页
// 选项加载与数据获取并行，选项加载失败不影响数据获取
func (t *Table[T]) Mount(ctx context.Context) error {
	t.viewport.Mount()

	s := t.Schema()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		t.loader.LoadAll(ctx, s.Filters(), s.Fields())
	}()

	err := t.Refresh(ctx)
	wg.Wait()
	return err
}

// Unmount 释放视口订阅
func (t *Table[T]) Unmount() {
	t.viewport.Unmount()
}

// Close 卸载并释放选项缓存
func (t *Table[T]) Close() error {
	t.Unmount()
	return t.loader.Close()
}

func (t *Table[T]) Schema() *schema.Schema[T] {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.schema
}

// SetSchema 切换配置并加载新配置中尚未缓存的选项
func (t *Table[T]) SetSchema(ctx context.Context, s *schema.Schema[T]) error {
	if s == nil {
		return ErrNoSchema
	}
	t.mu.Lock()
	t.schema = s
	t.mu.Unlock()

	t.form.SetSchema(s)
	t.actions.SetSchema(s)
	t.loader.LoadAll(ctx, s.Filters(), s.Fields())
	return nil
}

// Refresh 按当前查询状态重新获取
func (t *Table[T]) Refresh(ctx context.Context) error {
	_, err := t.fetcher.Fetch(ctx)
	return err
}

// AttachDashboard 关联看板，过滤条件变化时看板与表格一起重新获取
// 返回的函数解除关联
func (t *Table[T]) AttachDashboard(d Refetcher) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.dashboards == nil {
		t.dashboards = map[int]Refetcher{}
	}
	id := t.nextDash
	t.nextDash++
	t.dashboards[id] = d
	return func() {
		t.mu.Lock()
		delete(t.dashboards, id)
		t.mu.Unlock()
	}
}

// refetchDashboards 并发获取所有关联的看板，失败由看板自己通知
func (t *Table[T]) refetchDashboards(ctx context.Context) {
	t.mu.RLock()
	dashboards := make([]Refetcher, 0, len(t.dashboards))
	for _, d := range t.dashboards {
		dashboards = append(dashboards, d)
	}
	t.mu.RUnlock()

	var wg sync.WaitGroup
	for _, d := range dashboards {
		wg.Add(1)
		go func(d Refetcher) {
			defer wg.Done()
			if err := d.Fetch(ctx); err != nil && !errors.Is(err, fetch.ErrSuperseded) {
				t.logger.DebugContext(ctx, "dashboard refetch failed", "error", err.Error())
			}
		}(d)
	}
	wg.Wait()
}

// filtersChanged 过滤上下文变化后，表格与看板并行重新获取
func (t *Table[T]) filtersChanged(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		t.refetchDashboards(ctx)
	}()
	err := t.Refresh(ctx)
	wg.Wait()
	return err
}

// SetFilter 修改过滤值，值变化时回到第一页并重新获取
func (t *Table[T]) SetFilter(ctx context.Context, key string, value any) error {
	if !t.state.SetFilter(key, value) {
		return nil
	}
	return t.filtersChanged(ctx)
}

// SetFilters 整体替换过滤值并重新获取
func (t *Table[T]) SetFilters(ctx context.Context, filters map[string]any) error {
	t.state.SetFilters(filters)
	return t.filtersChanged(ctx)
}

// SetSearch 修改搜索词，值变化时回到第一页并重新获取
func (t *Table[T]) SetSearch(ctx context.Context, search string) error {
	if !t.state.SetSearch(search) {
		return nil
	}
	return t.Refresh(ctx)
}

func (t *Table[T]) SetPage(ctx context.Context, page int) error {
	if !t.state.SetPage(page) {
		return nil
	}
	return t.Refresh(ctx)
}

func (t *Table[T]) SetPageSize(ctx context.Context, size int) error {
	if !t.state.SetPageSize(size) {
		return nil
	}
	return t.Refresh(ctx)
}

// SetSort 只对当前页排序，不重新获取
func (t *Table[T]) SetSort(sort query.Sort) {
	t.state.SetSort(sort)
}

// Reset 清空过滤和搜索并重新获取
func (t *Table[T]) Reset(ctx context.Context) error {
	t.state.Reset()
	return t.filtersChanged(ctx)
}

// SetExtraParams 替换额外查询参数，不触发获取
func (t *Table[T]) SetExtraParams(extra map[string]any) {
	t.fetcher.SetExtra(extra)
}

func (t *Table[T]) Records() []T {
	return t.fetcher.Records()
}

func (t *Table[T]) Pagination() query.Pagination {
	return t.state.Pagination()
}

func (t *Table[T]) Loading() bool {
	return t.fetcher.Loading()
}

// Err 最近一次获取的错误
func (t *Table[T]) Err() error {
	return t.fetcher.Err()
}

// Query 当前状态对应的查询对象
func (t *Table[T]) Query() map[string]any {
	return t.fetcher.Query()
}

// Filters 当前过滤值
func (t *Table[T]) Filters() map[string]any {
	return t.state.Filters()
}

// DashboardParams 序列化后的过滤值，用于看板与表格保持同一过滤上下文
func (t *Table[T]) DashboardParams() map[string]any {
	return query.Serialize(t.state.Filters())
}

func (t *Table[T]) Viewport() *view.Viewport {
	return t.viewport
}

func (t *Table[T]) Narrow() bool {
	return t.viewport.Narrow()
}

func (t *Table[T]) Form() *form.Controller[T] {
	return t.form
}

func (t *Table[T]) find(id int64) (T, error) {
	r, ok := t.fetcher.Find(id)
	if !ok {
		return r, errors.WithMessagef(ErrRecordNotFound, "id %d", id)
	}
	return r, nil
}

// OpenCreate 打开创建表单
func (t *Table[T]) OpenCreate() error {
	if !t.enableCreate {
		return ErrCreateDisabled
	}
	t.form.OpenCreate()
	return nil
}

// OpenEdit 以当前页中的记录打开编辑表单
func (t *Table[T]) OpenEdit(id int64) error {
	if !t.enableEdit {
		return ErrEditDisabled
	}
	r, err := t.find(id)
	if err != nil {
		return err
	}
	t.form.OpenEdit(r)
	return nil
}

func (t *Table[T]) CloseForm() {
	t.form.Close()
}

// SetValue 修改表单字段，返回可见性翻转的字段
func (t *Table[T]) SetValue(name string, value any) ([]string, error) {
	return t.form.SetValue(name, value)
}

func (t *Table[T]) SelectFile(name string, file *schema.File) ([]string, error) {
	return t.form.SelectFile(name, file)
}

// Submit 提交表单，成功后刷新（或交给 OnActionComplete）
func (t *Table[T]) Submit(ctx context.Context) (T, error) {
	return t.form.Submit(ctx)
}

// RunRowAction 对当前页中的记录执行行操作
func (t *Table[T]) RunRowAction(ctx context.Context, key string, id int64) error {
	r, err := t.find(id)
	if err != nil {
		return err
	}
	return t.actions.RunRow(ctx, key, r)
}

// Delete 内置删除
func (t *Table[T]) Delete(ctx context.Context, id int64) error {
	if !t.enableDelete {
		return errors.WithMessage(action.ErrActionNotFound, "delete is disabled")
	}
	return t.RunRowAction(ctx, action.DeleteKey, id)
}

func (t *Table[T]) RunBulkAction(ctx context.Context, key string) error {
	return t.actions.RunBulk(ctx, key)
}

func (t *Table[T]) Select(id int64, selected bool) {
	t.actions.Select(id, selected)
}

func (t *Table[T]) SelectAll() {
	t.actions.SelectAll()
}

func (t *Table[T]) ClearSelection() {
	t.actions.ClearSelection()
}

func (t *Table[T]) Selection() []int64 {
	return t.actions.Selection()
}

func (t *Table[T]) Busy() bool {
	return t.actions.Busy()
}

// OpenDetail 打开当前页中记录的详情
func (t *Table[T]) OpenDetail(id int64) error {
	if _, err := t.find(id); err != nil {
		return err
	}
	t.mu.Lock()
	t.detailID = &id
	t.mu.Unlock()
	return nil
}

func (t *Table[T]) CloseDetail() {
	t.mu.Lock()
	t.detailID = nil
	t.mu.Unlock()
}

// Notices 未读的通知
func (t *Table[T]) Notices() []notice.Notice {
	return t.notices.Items()
}

// DrainNotices 取出并清空通知
func (t *Table[T]) DrainNotices() []notice.Notice {
	return t.notices.Drain()
}

// Input 当前状态对应的列表渲染输入
func (t *Table[T]) Input(ctx context.Context) view.Input[T] {
	s := t.Schema()
	var bulk []view.ActionButton
	for _, a := range s.BulkActions() {
		bulk = append(bulk, view.ActionButton{Key: a.Key, Label: a.Label, Icon: a.Icon, Confirm: a.Confirm})
	}

	return view.Input[T]{
		Schema:      s,
		Records:     t.fetcher.Records(),
		Pagination:  t.state.Pagination(),
		Sort:        t.state.Sort(),
		Selected:    t.actions.IsSelected,
		RowActions:  t.actions.RowActions(),
		EditEnabled: t.enableEdit,
		Loading:     t.fetcher.Loading(),
		Toolbar: view.Toolbar{
			Filters: view.FilterViews(s.Filters(), t.state.Filters(), func(f schema.Filter) []schema.Option {
				return t.loader.FilterOptions(ctx, f)
			}),
			Search:       t.state.Search(),
			CanCreate:    t.enableCreate && len(s.Fields()) > 0,
			BulkActions:  bulk,
			SelectedKeys: t.actions.Selection(),
			Busy:         t.actions.Busy(),
		},
	}
}

// Grid 宽屏表格
func (t *Table[T]) Grid(ctx context.Context) view.Grid {
	return t.renderer.Grid(t.Input(ctx))
}

// Cards 窄屏卡片
func (t *Table[T]) Cards(ctx context.Context) view.CardList {
	return t.renderer.Cards(t.Input(ctx))
}

// Render 按当前视口渲染列表
func (t *Table[T]) Render(ctx context.Context, w io.Writer) error {
	return t.renderer.Render(w, t.Input(ctx), t.viewport.Narrow())
}

// Detail 当前打开的详情
func (t *Table[T]) Detail() (view.Detail, bool) {
	t.mu.RLock()
	id := t.detailID
	s := t.schema
	t.mu.RUnlock()
	if id == nil {
		return view.Detail{}, false
	}
	r, ok := t.fetcher.Find(*id)
	if !ok {
		return view.Detail{}, false
	}
	return t.renderer.Detail(s, r, t.viewport.Narrow()), true
}

func (t *Table[T]) RenderDetail(w io.Writer) error {
	d, ok := t.Detail()
	if !ok {
		return nil
	}
	return t.renderer.RenderDetail(w, d)
}

// FormView 当前打开的表单
func (t *Table[T]) FormView(ctx context.Context) (view.FormView, bool) {
	state := t.form.Snapshot()
	if state.Mode == form.ModeClosed {
		return view.FormView{}, false
	}
	return t.renderer.Form(t.Schema(), state, func(f schema.Field) []schema.Option {
		return t.loader.FieldOptions(ctx, f)
	}, t.viewport.Narrow()), true
}

func (t *Table[T]) RenderForm(ctx context.Context, w io.Writer) error {
	fv, ok := t.FormView(ctx)
	if !ok {
		return nil
	}
	return t.renderer.RenderForm(w, fv)
}
