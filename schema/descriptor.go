package schema

import (
	"context"
	"html/template"
)

// FilterKind 过滤器类型
type FilterKind string

const (
	FilterText      FilterKind = "text"
	FilterSelect    FilterKind = "select"
	FilterDate      FilterKind = "date"
	FilterDateRange FilterKind = "dateRange"
)

// FieldKind 表单字段类型
type FieldKind string

const (
	FieldText     FieldKind = "text"
	FieldTextarea FieldKind = "textarea"
	FieldSelect   FieldKind = "select"
	FieldNumber   FieldKind = "number"
	FieldDate     FieldKind = "date"
	FieldDatetime FieldKind = "datetime"
	FieldBoolean  FieldKind = "boolean"
	FieldSecret   FieldKind = "secret"
	FieldFile     FieldKind = "file"
	FieldCustom   FieldKind = "custom"
)

var filterKinds = map[FilterKind]bool{
	FilterText: true, FilterSelect: true, FilterDate: true, FilterDateRange: true,
}

var fieldKinds = map[FieldKind]bool{
	FieldText: true, FieldTextarea: true, FieldSelect: true, FieldNumber: true, FieldDate: true,
	FieldDatetime: true, FieldBoolean: true, FieldSecret: true, FieldFile: true, FieldCustom: true,
}

// Option 下拉选项
type Option struct {
	Label string `json:"label" yaml:"label" toml:"label" msgpack:"label"`
	Value any    `json:"value" yaml:"value" toml:"value" msgpack:"value"`
}

// OptionSource 异步选项来源
type OptionSource interface {
	Load(ctx context.Context) ([]Option, error)
}

// OptionSourceFunc 函数形式的 OptionSource
type OptionSourceFunc func(ctx context.Context) ([]Option, error)

func (f OptionSourceFunc) Load(ctx context.Context) ([]Option, error) {
	return f(ctx)
}

// CellRenderer 单元格渲染覆盖
type CellRenderer[T Record] interface {
	Render(value any, record T) template.HTML
}

// RenderFunc 函数形式的 CellRenderer
type RenderFunc[T Record] func(value any, record T) template.HTML

func (f RenderFunc[T]) Render(value any, record T) template.HTML {
	return f(value, record)
}

// FieldRenderer 自定义表单控件渲染
type FieldRenderer interface {
	RenderField(field Field, value any) template.HTML
}

// FieldRenderFunc 函数形式的 FieldRenderer
type FieldRenderFunc func(field Field, value any) template.HTML

func (f FieldRenderFunc) RenderField(field Field, value any) template.HTML {
	return f(field, value)
}

// File 文件字段的值，引擎只透传不解析
type File struct {
	Name        string `json:"name"`
	ContentType string `json:"contentType,omitempty"`
	Size        int64  `json:"size,omitempty"`
	Data        []byte `json:"-"`
}

// Column 列描述
type Column[T Record] struct {
	Key   string
	Title string
	// Path 取值路径，为空时使用 Key
	Path     Path
	Render   CellRenderer[T]
	Width    int
	Ellipsis bool
	Sortable bool
}

// Filter 过滤器描述
type Filter struct {
	Key         string
	Label       string
	Kind        FilterKind
	Options     []Option
	Source      OptionSource
	Multiple    bool
	Placeholder string
}

// Field 表单字段描述
type Field struct {
	Name  string
	Label string
	Kind  FieldKind
	// Required 必填，file 类型在编辑模式下放宽
	Required bool
	// Rules validator 校验规则，例如 "email,max=64"
	Rules        string
	Placeholder  string
	Help         string
	Options      []Option
	Source       OptionSource
	Multiple     bool
	Dependencies []string
	// Visible 可见性谓词，nil 表示始终可见
	Visible Predicate
	Min     *float64
	Max     *float64
	Default any
	Render  FieldRenderer
}

// DependsOn 判断字段是否声明依赖 name
func (f Field) DependsOn(name string) bool {
	for _, d := range f.Dependencies {
		if d == name {
			return true
		}
	}
	return false
}

// RowAction 行操作
type RowAction[T Record] struct {
	Key    string
	Label  string
	Icon   string
	Danger bool
	// Visible 为 nil 时对所有记录可见
	Visible func(record T) bool
	// Confirm 非空时执行前需要确认
	Confirm string
	Handler func(ctx context.Context, record T) error
}

// VisibleFor 判断操作对记录是否可见
func (a RowAction[T]) VisibleFor(record T) bool {
	return a.Visible == nil || a.Visible(record)
}

// BulkAction 批量操作
type BulkAction[T Record] struct {
	Key     string
	Label   string
	Icon    string
	Confirm string
	Handler func(ctx context.Context, records []T) error
}
