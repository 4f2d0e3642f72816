package view

import (
	"html/template"

	"github.com/hatlonely/crudkit/crud/query"
	"github.com/hatlonely/crudkit/schema"
)

// Surface 详情的展示容器
type Surface string

const (
	SurfaceDrawer Surface = "drawer"
	SurfaceModal  Surface = "modal"
)

type Cell struct {
	Key      string
	Raw      any
	HTML     template.HTML
	Ellipsis bool
}

type ActionButton struct {
	Key     string
	Label   string
	Icon    string
	Danger  bool
	Confirm string
}

type GridColumn struct {
	Key      string
	Title    string
	Width    int
	Ellipsis bool
	Sortable bool
	// SortDir 当前排序方向：asc, desc 或空
	SortDir string
}

type GridRow struct {
	ID       int64
	Cells    []Cell
	Actions  []ActionButton
	Selected bool
}

type Pager struct {
	Page     int
	PageSize int
	Total    int
	HasPrev  bool
	// HasNext 页面装满时认为可能还有下一页
	HasNext bool
}

type FilterOption struct {
	Label    string
	Value    string
	Selected bool
}

type FilterView struct {
	Key         string
	Label       string
	Kind        schema.FilterKind
	Multiple    bool
	Placeholder string
	Options     []FilterOption
	// Value 单值过滤器的当前值，范围过滤器使用 From/To
	Value string
	From  string
	To    string
}

type Toolbar struct {
	Filters      []FilterView
	Search       string
	CanCreate    bool
	BulkActions  []ActionButton
	SelectedKeys []int64
	Busy         bool
}

// Grid 宽屏表格
type Grid struct {
	Title   string
	Toolbar Toolbar
	Columns []GridColumn
	// HasActions 是否有末尾的操作列
	HasActions bool
	// Selectable 是否渲染选择框，只有配置了批量操作时为 true
	Selectable bool
	Rows       []GridRow
	Pager      Pager
	Loading    bool
	Sort       query.Sort
}

type LabeledValue struct {
	Key   string
	Label string
	HTML  template.HTML
}

type Card struct {
	ID       int64
	Primary  Cell
	Fields   []LabeledValue
	Actions  []ActionButton
	Selected bool
}

// CardList 窄屏卡片列表
type CardList struct {
	Title      string
	Toolbar    Toolbar
	Cards      []Card
	Selectable bool
	Pager      Pager
	Loading    bool
}

type DetailItem struct {
	Key   string
	Label string
	HTML  template.HTML
	// Muted id、created_at、updated_at 弱化显示
	Muted bool
}

// Detail 只读详情，窄屏为抽屉，宽屏为弹窗
type Detail struct {
	Surface Surface
	Title   string
	ID      int64
	Items   []DetailItem
}

type FormOption struct {
	Label    string
	Value    string
	Selected bool
}

type FormField struct {
	Name        string
	Label       string
	Kind        schema.FieldKind
	Required    bool
	Multiple    bool
	Placeholder string
	Help        string
	Min         *float64
	Max         *float64
	Value       any
	// Text 输入框中显示的文本
	Text    string
	Checked bool
	Options []FormOption
	Error   string
	// Control 自定义控件渲染结果
	Control template.HTML
}

type FormView struct {
	Mode       string
	Title      string
	Surface    Surface
	Fields     []FormField
	Submitting bool
}
