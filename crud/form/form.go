package form

import (
	"context"
	"fmt"
	"path"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/hatlonely/crudkit/crud/notice"
	"github.com/hatlonely/crudkit/datasource"
	"github.com/hatlonely/crudkit/log"
	"github.com/hatlonely/crudkit/schema"
	"github.com/pkg/errors"
)

// Mode 表单模式，同一时间最多一种处于激活状态
type Mode int

const (
	ModeClosed Mode = iota
	ModeCreate
	ModeEdit
)

func (m Mode) String() string {
	switch m {
	case ModeCreate:
		return "create"
	case ModeEdit:
		return "edit"
	default:
		return "closed"
	}
}

var (
	ErrFormClosed = errors.New("form is not open")
	ErrSubmitting = errors.New("form is already submitting")
)

// ValidationError 字段级校验错误，不会到达数据源
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s: %s", name, e.Fields[name]))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Mutator 表单提交使用的数据操作
type Mutator[T schema.Record] interface {
	Create(ctx context.Context, data map[string]any) (T, error)
	Update(ctx context.Context, id int64, data map[string]any) (T, error)
}

type Options[T schema.Record] struct {
	// Transform 编辑模式下由记录生成初始值，默认使用记录的全部属性
	Transform func(record T) map[string]any

	// Validate 执行 Rules 校验的实例，默认 validator.New()
	Validate *validator.Validate

	Logger   log.Logger
	Notifier notice.Notifier

	// OnOpen 表单打开时调用，create 模式下 target 为 nil
	OnOpen func(mode Mode, target *T)
	// OnClose 表单关闭时调用，包括提交成功和取消
	OnClose func(mode Mode)
	// OnSubmitted 提交成功后调用
	OnSubmitted func(ctx context.Context, mode Mode, record T)
}

// State 表单状态快照
type State[T schema.Record] struct {
	Mode       Mode
	Target     *T
	Values     map[string]any
	Visible    map[string]bool
	Errors     map[string]string
	Submitting bool
}

// Controller 管理创建/编辑表单的取值、可见性和提交流程
type Controller[T schema.Record] struct {
	schema    *schema.Schema[T]
	mutator   Mutator[T]
	transform func(record T) map[string]any
	validate  *validator.Validate
	logger    log.Logger
	notifier  notice.Notifier

	onOpen      func(mode Mode, target *T)
	onClose     func(mode Mode)
	onSubmitted func(ctx context.Context, mode Mode, record T)

	mu         sync.Mutex
	session    uint64
	mode       Mode
	target     *T
	values     map[string]any
	inferred   map[string]bool
	visible    map[string]bool
	errors     map[string]string
	submitting bool
}

func NewControllerWithOptions[T schema.Record](s *schema.Schema[T], mutator Mutator[T], options *Options[T]) *Controller[T] {
	if options == nil {
		options = &Options[T]{}
	}
	c := &Controller[T]{
		schema:      s,
		mutator:     mutator,
		transform:   options.Transform,
		validate:    options.Validate,
		logger:      log.OrDefault(options.Logger).WithGroup("form"),
		notifier:    notice.OrDiscard(options.Notifier),
		onOpen:      options.OnOpen,
		onClose:     options.OnClose,
		onSubmitted: options.OnSubmitted,
	}
	if c.transform == nil {
		c.transform = IdentityTransform[T]
	}
	if c.validate == nil {
		c.validate = validator.New()
	}
	return c
}

// IdentityTransform 返回记录全部属性的副本
func IdentityTransform[T schema.Record](record T) map[string]any {
	attrs := schema.Attributes(record)
	values := make(map[string]any, len(attrs))
	for k, v := range attrs {
		values[k] = v
	}
	return values
}

// SetSchema 切换配置，不影响当前打开的表单取值
func (c *Controller[T]) SetSchema(s *schema.Schema[T]) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.schema = s
	if c.mode != ModeClosed {
		c.recomputeVisibility()
	}
}

// OpenCreate 以默认值打开创建表单
func (c *Controller[T]) OpenCreate() {
	c.mu.Lock()
	prev := c.mode

	values := map[string]any{}
	for _, f := range c.schema.Fields() {
		values[f.Name] = defaultValue(f)
	}
	c.reset(ModeCreate, nil, values, map[string]bool{})
	c.mu.Unlock()

	c.fireTransition(prev, ModeCreate, nil)
}

// OpenEdit 以 Transform(record) 打开编辑表单，缺失的字段推断默认值且不参与提交
func (c *Controller[T]) OpenEdit(record T) {
	values := copyValues(c.transform(record))
	if values == nil {
		values = map[string]any{}
	}

	c.mu.Lock()
	prev := c.mode

	inferred := map[string]bool{}
	for _, f := range c.schema.Fields() {
		if _, ok := values[f.Name]; !ok {
			values[f.Name] = defaultValue(f)
			inferred[f.Name] = true
		}
	}
	target := record
	c.reset(ModeEdit, &target, values, inferred)
	c.mu.Unlock()

	c.fireTransition(prev, ModeEdit, &target)
}

func (c *Controller[T]) reset(mode Mode, target *T, values map[string]any, inferred map[string]bool) {
	c.session++
	c.mode = mode
	c.target = target
	c.values = values
	c.inferred = inferred
	c.errors = map[string]string{}
	c.visible = map[string]bool{}
	c.submitting = false
	c.recomputeVisibility()
}

func (c *Controller[T]) fireTransition(prev, next Mode, target *T) {
	if prev != ModeClosed && c.onClose != nil {
		c.onClose(prev)
	}
	if c.onOpen != nil {
		c.onOpen(next, target)
	}
}

// Close 取消表单
func (c *Controller[T]) Close() {
	c.mu.Lock()
	prev := c.mode
	if prev == ModeClosed {
		c.mu.Unlock()
		return
	}
	c.clear()
	c.mu.Unlock()

	if c.onClose != nil {
		c.onClose(prev)
	}
}

func (c *Controller[T]) clear() {
	c.session++
	c.mode = ModeClosed
	c.target = nil
	c.values = nil
	c.inferred = nil
	c.visible = nil
	c.errors = nil
	c.submitting = false
}

func (c *Controller[T]) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Target 编辑模式下的目标记录
func (c *Controller[T]) Target() (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.target == nil {
		var zero T
		return zero, false
	}
	return *c.target, true
}

func (c *Controller[T]) Value(name string) any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.values[name]
}

// Values 当前全部取值的副本
func (c *Controller[T]) Values() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return copyValues(c.values)
}

func (c *Controller[T]) Visible(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.visible[name]
}

// VisibleFields 当前可见的字段，保持配置顺序
func (c *Controller[T]) VisibleFields() []schema.Field {
	c.mu.Lock()
	defer c.mu.Unlock()
	var fields []schema.Field
	for _, f := range c.schema.Fields() {
		if c.visible[f.Name] {
			fields = append(fields, f)
		}
	}
	return fields
}

func (c *Controller[T]) Errors() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := make(map[string]string, len(c.errors))
	for k, v := range c.errors {
		m[k] = v
	}
	return m
}

func (c *Controller[T]) Snapshot() State[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := State[T]{
		Mode:       c.mode,
		Target:     c.target,
		Values:     copyValues(c.values),
		Visible:    map[string]bool{},
		Errors:     map[string]string{},
		Submitting: c.submitting,
	}
	for k, v := range c.visible {
		s.Visible[k] = v
	}
	for k, v := range c.errors {
		s.Errors[k] = v
	}
	return s
}

// SetValue 修改一个字段的取值，返回可见性发生翻转的字段名
// 其他字段的取值不会被修改，隐藏字段保留原值
func (c *Controller[T]) SetValue(name string, value any) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mode == ModeClosed {
		return nil, ErrFormClosed
	}
	c.set(name, value)
	return c.recomputeVisibility(), nil
}

func (c *Controller[T]) set(name string, value any) {
	c.values[name] = value
	delete(c.inferred, name)
	delete(c.errors, name)
}

// SelectFile 为文件字段选择文件，声明依赖该字段且当前为空的字段自动填充为去掉扩展名的文件名
func (c *Controller[T]) SelectFile(name string, file *schema.File) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mode == ModeClosed {
		return nil, ErrFormClosed
	}
	if f, ok := c.schema.Field(name); !ok || f.Kind != schema.FieldFile {
		return nil, errors.Errorf("%q is not a file field", name)
	}

	if file == nil {
		c.set(name, nil)
		return c.recomputeVisibility(), nil
	}
	c.set(name, file)

	derived := strings.TrimSuffix(file.Name, path.Ext(file.Name))
	for _, f := range c.schema.Fields() {
		if f.Name == name || f.Kind == schema.FieldFile || !f.DependsOn(name) {
			continue
		}
		if isEmptyValue(c.values[f.Name]) {
			c.set(f.Name, derived)
		}
	}
	return c.recomputeVisibility(), nil
}

func (c *Controller[T]) recomputeVisibility() []string {
	env := copyValues(c.values)
	var flipped []string
	for _, f := range c.schema.Fields() {
		visible := f.Visible == nil || f.Visible.Evaluate(env)
		prev, known := c.visible[f.Name]
		if known && prev != visible {
			flipped = append(flipped, f.Name)
		}
		c.visible[f.Name] = visible
	}
	return flipped
}

// Payload 提交的数据：编辑模式下未修改过的推断默认值不发送
func (c *Controller[T]) Payload() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.payload()
}

func (c *Controller[T]) payload() map[string]any {
	data := make(map[string]any, len(c.values))
	for k, v := range c.values {
		if c.inferred[k] {
			continue
		}
		data[k] = v
	}
	return data
}

// Validate 只校验当前可见的字段
func (c *Controller[T]) Validate() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mode == ModeClosed {
		return ErrFormClosed
	}
	return c.validateVisible()
}

func (c *Controller[T]) validateVisible() error {
	errs := map[string]string{}
	for _, f := range c.schema.Fields() {
		if !c.visible[f.Name] {
			continue
		}
		if msg := c.validateField(f, c.values[f.Name]); msg != "" {
			errs[f.Name] = msg
		}
	}
	c.errors = errs
	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}

func (c *Controller[T]) validateField(f schema.Field, v any) string {
	required := f.Required
	if f.Kind == schema.FieldFile && c.mode == ModeEdit {
		required = false
	}

	if isEmptyValue(v) {
		if required {
			return "is required"
		}
		return ""
	}

	if f.Kind == schema.FieldNumber {
		n, ok := schema.ToFloat64(v)
		if !ok {
			return "must be a number"
		}
		if f.Min != nil && n < *f.Min {
			return fmt.Sprintf("must be at least %v", *f.Min)
		}
		if f.Max != nil && n > *f.Max {
			return fmt.Sprintf("must be at most %v", *f.Max)
		}
	}

	if f.Kind == schema.FieldSelect && len(f.Options) > 0 {
		if !optionsContain(f.Options, v, f.Multiple) {
			return "is not a valid option"
		}
	}

	if f.Rules != "" && f.Kind != schema.FieldFile {
		if err := c.validate.Var(v, f.Rules); err != nil {
			var verrs validator.ValidationErrors
			if errors.As(err, &verrs) && len(verrs) > 0 {
				return fmt.Sprintf("failed on the '%s' rule", verrs[0].Tag())
			}
			c.logger.Warn("invalid validation rule", "field", f.Name, "rules", f.Rules, "error", err.Error())
		}
	}
	return ""
}

// Submit 校验可见字段后调用 create 或 update
// 成功时关闭表单；失败时表单保持打开，取值不变，不可处理实体类错误映射为字段错误
func (c *Controller[T]) Submit(ctx context.Context) (T, error) {
	var zero T

	c.mu.Lock()
	if c.mode == ModeClosed {
		c.mu.Unlock()
		return zero, ErrFormClosed
	}
	if c.submitting {
		c.mu.Unlock()
		return zero, ErrSubmitting
	}
	if err := c.validateVisible(); err != nil {
		c.mu.Unlock()
		return zero, err
	}
	mode := c.mode
	session := c.session
	data := c.payload()
	var id int64
	if c.target != nil {
		id = (*c.target).GetID()
	}
	c.submitting = true
	c.mu.Unlock()

	var record T
	var err error
	if mode == ModeCreate {
		record, err = c.mutator.Create(ctx, data)
	} else {
		record, err = c.mutator.Update(ctx, id, data)
	}

	c.mu.Lock()
	current := c.session == session
	if current {
		c.submitting = false
	}

	if err != nil {
		if current {
			for name, msg := range datasource.FieldErrors(err) {
				c.errors[name] = msg
			}
		}
		c.mu.Unlock()
		c.logger.WarnContext(ctx, "submit failed", "mode", mode.String(), "id", id, "error", err.Error())
		c.notifier.Notify(ctx, notice.Error("Failed to save", err))
		return zero, errors.WithMessagef(err, "%s record", mode.String())
	}

	if current {
		c.clear()
	}
	c.mu.Unlock()

	if current && c.onClose != nil {
		c.onClose(mode)
	}
	c.notifier.Notify(ctx, notice.Success("Saved"))
	if c.onSubmitted != nil {
		c.onSubmitted(ctx, mode, record)
	}
	return record, nil
}

// defaultValue 声明的默认值，否则为类型零值：boolean 为 false，文本类为 ""，其他为 nil
func defaultValue(f schema.Field) any {
	if f.Default != nil {
		return f.Default
	}
	switch f.Kind {
	case schema.FieldBoolean:
		return false
	case schema.FieldText, schema.FieldTextarea, schema.FieldSecret:
		return ""
	case schema.FieldSelect:
		if f.Multiple {
			return nil
		}
		return ""
	}
	return nil
}

func isEmptyValue(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case schema.File:
		return t.Name == "" && len(t.Data) == 0
	case *schema.File:
		return t == nil || (t.Name == "" && len(t.Data) == 0)
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() == 0
	case reflect.Pointer:
		return rv.IsNil()
	}
	return false
}

func optionsContain(options []schema.Option, v any, multiple bool) bool {
	if multiple {
		rv := reflect.ValueOf(v)
		if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
			for i := 0; i < rv.Len(); i++ {
				if !optionsContain(options, rv.Index(i).Interface(), false) {
					return false
				}
			}
			return true
		}
	}
	for _, o := range options {
		if schema.ValueEqual(o.Value, v) {
			return true
		}
	}
	return false
}

func copyValues(values map[string]any) map[string]any {
	if values == nil {
		return nil
	}
	m := make(map[string]any, len(values))
	for k, v := range values {
		m[k] = v
	}
	return m
}
