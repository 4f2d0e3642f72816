package view

import (
	"fmt"
	"html/template"
	"reflect"
	"sort"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/hatlonely/crudkit/crud/form"
	"github.com/hatlonely/crudkit/crud/query"
	"github.com/hatlonely/crudkit/schema"
)

// EditKey 内置编辑操作的键
const EditKey = "edit"

var metaKeys = []string{"id", "created_at", "updated_at"}

type Options struct {
	Breakpoint int `cfg:"breakpoint" yaml:"breakpoint" def:"768"`

	// CardFields 窄屏卡片中主字段之外最多展示的列数
	CardFields int `cfg:"cardFields" yaml:"cardFields" def:"3"`

	// TruncateAt 详情中超过该长度的文本被截断
	TruncateAt int    `cfg:"truncateAt" yaml:"truncateAt" def:"120"`
	TimeLayout string `cfg:"timeLayout" yaml:"timeLayout" def:"2006-01-02 15:04:05"`

	Location *time.Location `cfg:"-" yaml:"-"`
}

// Input 渲染表格或卡片列表需要的状态
type Input[T schema.Record] struct {
	Schema     *schema.Schema[T]
	Records    []T
	Pagination query.Pagination
	Sort       query.Sort
	// Selected 判断记录是否被选中
	Selected func(id int64) bool
	// RowActions 全部行操作（包括内置删除），按记录的可见性过滤
	RowActions  []schema.RowAction[T]
	EditEnabled bool
	Toolbar     Toolbar
	Loading     bool
}

// Renderer 生成宽屏表格、窄屏卡片、详情和表单的视图模型
type Renderer[T schema.Record] struct {
	formatter  *Formatter
	cardFields int
	breakpoint int
	templates  *template.Template
}

func NewRendererWithOptions[T schema.Record](options *Options) (*Renderer[T], error) {
	if options == nil {
		options = &Options{}
	}
	r := &Renderer[T]{
		formatter: (&Formatter{
			Location:   options.Location,
			TimeLayout: options.TimeLayout,
			TruncateAt: options.TruncateAt,
		}).withDefaults(),
		cardFields: options.CardFields,
		breakpoint: options.Breakpoint,
	}
	if r.cardFields <= 0 {
		r.cardFields = 3
	}
	if r.breakpoint <= 0 {
		r.breakpoint = DefaultBreakpoint
	}

	tmpl, err := parseTemplates()
	if err != nil {
		return nil, err
	}
	r.templates = tmpl
	return r, nil
}

func (r *Renderer[T]) Formatter() *Formatter {
	return r.formatter
}

func (r *Renderer[T]) Breakpoint() int {
	return r.breakpoint
}

func (r *Renderer[T]) cell(s *schema.Schema[T], c schema.Column[T], record T) Cell {
	v := s.Value(c, record)
	cell := Cell{Key: c.Key, Raw: v, Ellipsis: c.Ellipsis}
	if c.Render != nil {
		cell.HTML = c.Render.Render(v, record)
	} else {
		cell.HTML = r.formatter.Format(v).HTML()
	}
	return cell
}

func (r *Renderer[T]) actions(in Input[T], record T) []ActionButton {
	var buttons []ActionButton
	if in.EditEnabled {
		buttons = append(buttons, ActionButton{Key: EditKey, Label: "Edit", Icon: "edit"})
	}
	for _, a := range in.RowActions {
		if a.VisibleFor(record) {
			buttons = append(buttons, ActionButton{Key: a.Key, Label: a.Label, Icon: a.Icon, Danger: a.Danger, Confirm: a.Confirm})
		}
	}
	return buttons
}

func pager(p query.Pagination) Pager {
	return Pager{
		Page:     p.Page,
		PageSize: p.PageSize,
		Total:    p.Total,
		HasPrev:  p.Page > 1,
		HasNext:  p.PageSize > 0 && p.Total >= p.PageSize,
	}
}

// Grid 宽屏表格：N 个配置列，启用编辑、删除或配置了行操作时追加一个操作列
func (r *Renderer[T]) Grid(in Input[T]) Grid {
	s := in.Schema
	g := Grid{
		Title:      s.Title(),
		Toolbar:    in.Toolbar,
		HasActions: in.EditEnabled || len(in.RowActions) > 0,
		Selectable: len(s.BulkActions()) > 0,
		Pager:      pager(in.Pagination),
		Loading:    in.Loading,
		Sort:       in.Sort,
	}

	for _, c := range s.Columns() {
		col := GridColumn{Key: c.Key, Title: columnTitle(c), Width: c.Width, Ellipsis: c.Ellipsis, Sortable: c.Sortable}
		if c.Sortable && in.Sort.Key == c.Key {
			col.SortDir = "asc"
			if in.Sort.Desc {
				col.SortDir = "desc"
			}
		}
		g.Columns = append(g.Columns, col)
	}

	for _, record := range SortRecords(s, in.Records, in.Sort) {
		row := GridRow{ID: record.GetID()}
		for _, c := range s.Columns() {
			row.Cells = append(row.Cells, r.cell(s, c, record))
		}
		if g.HasActions {
			row.Actions = r.actions(in, record)
		}
		row.Selected = g.Selectable && in.Selected != nil && in.Selected(row.ID)
		g.Rows = append(g.Rows, row)
	}
	return g
}

// Cards 窄屏卡片：主字段加上最多 CardFields 个其他列
func (r *Renderer[T]) Cards(in Input[T]) CardList {
	s := in.Schema
	list := CardList{
		Title:      s.Title(),
		Toolbar:    in.Toolbar,
		Selectable: len(s.BulkActions()) > 0,
		Pager:      pager(in.Pagination),
		Loading:    in.Loading,
	}

	primary, _ := s.PrimaryColumn()
	var others []schema.Column[T]
	for _, c := range s.Columns() {
		if c.Key == primary.Key {
			continue
		}
		if len(others) >= r.cardFields {
			break
		}
		others = append(others, c)
	}

	for _, record := range SortRecords(s, in.Records, in.Sort) {
		card := Card{ID: record.GetID(), Primary: r.cell(s, primary, record)}
		for _, c := range others {
			cell := r.cell(s, c, record)
			card.Fields = append(card.Fields, LabeledValue{Key: c.Key, Label: columnTitle(c), HTML: cell.HTML})
		}
		card.Actions = r.actions(in, record)
		card.Selected = list.Selectable && in.Selected != nil && in.Selected(card.ID)
		list.Cards = append(list.Cards, card)
	}
	return list
}

// Detail 渲染全部列和未被列覆盖的属性，id、created_at、updated_at 最后弱化显示
func (r *Renderer[T]) Detail(s *schema.Schema[T], record T, narrow bool) Detail {
	d := Detail{Surface: SurfaceModal, Title: s.Title(), ID: record.GetID()}
	if narrow {
		d.Surface = SurfaceDrawer
	}

	isMeta := map[string]bool{}
	for _, k := range metaKeys {
		isMeta[k] = true
	}

	metaColumns := map[string]schema.Column[T]{}
	for _, c := range s.Columns() {
		if isMeta[c.Key] {
			metaColumns[c.Key] = c
			continue
		}
		d.Items = append(d.Items, DetailItem{Key: c.Key, Label: columnTitle(c), HTML: r.cell(s, c, record).HTML})
	}

	attrs := schema.Attributes(record)
	covered := s.CoveredKeys()
	var rest []string
	for k := range attrs {
		if !covered[k] && !isMeta[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	for _, k := range rest {
		d.Items = append(d.Items, DetailItem{Key: k, Label: humanize(k), HTML: r.formatter.Format(attrs[k]).HTML()})
	}

	for _, k := range metaKeys {
		if c, ok := metaColumns[k]; ok {
			d.Items = append(d.Items, DetailItem{Key: k, Label: columnTitle(c), HTML: r.cell(s, c, record).HTML, Muted: true})
			continue
		}
		if v, ok := attrs[k]; ok && v != nil {
			d.Items = append(d.Items, DetailItem{Key: k, Label: humanize(k), HTML: r.formatter.Format(v).HTML(), Muted: true})
		}
	}
	return d
}

// Form 表单视图，只包含当前可见的字段
func (r *Renderer[T]) Form(s *schema.Schema[T], state form.State[T], options func(f schema.Field) []schema.Option, narrow bool) FormView {
	fv := FormView{Mode: state.Mode.String(), Submitting: state.Submitting, Surface: SurfaceModal}
	if narrow {
		fv.Surface = SurfaceDrawer
	}
	switch state.Mode {
	case form.ModeCreate:
		fv.Title = strings.TrimSpace("Create " + s.Title())
	case form.ModeEdit:
		fv.Title = strings.TrimSpace("Edit " + s.Title())
	}

	for _, f := range s.Fields() {
		if !state.Visible[f.Name] {
			continue
		}
		v := state.Values[f.Name]
		ff := FormField{
			Name:        f.Name,
			Label:       fieldLabel(f),
			Kind:        f.Kind,
			Required:    f.Required && !(f.Kind == schema.FieldFile && state.Mode == form.ModeEdit),
			Multiple:    f.Multiple,
			Placeholder: f.Placeholder,
			Help:        f.Help,
			Min:         f.Min,
			Max:         f.Max,
			Value:       v,
			Text:        inputText(v),
			Error:       state.Errors[f.Name],
		}
		if b, ok := v.(bool); ok {
			ff.Checked = b
		}
		if f.Kind == schema.FieldSelect {
			opts := f.Options
			if options != nil {
				opts = options(f)
			}
			for _, o := range opts {
				ff.Options = append(ff.Options, FormOption{
					Label:    o.Label,
					Value:    fmt.Sprint(o.Value),
					Selected: optionSelected(o.Value, v),
				})
			}
		}
		if f.Render != nil {
			ff.Control = f.Render.RenderField(f, v)
		}
		fv.Fields = append(fv.Fields, ff)
	}
	return fv
}

// SortRecords 按可排序列对当前页做稳定排序，返回新切片
func SortRecords[T schema.Record](s *schema.Schema[T], records []T, by query.Sort) []T {
	out := append([]T(nil), records...)
	if by.Key == "" {
		return out
	}
	var column schema.Column[T]
	found := false
	for _, c := range s.Columns() {
		if c.Key == by.Key && c.Sortable {
			column, found = c, true
			break
		}
	}
	if !found {
		return out
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := s.Value(column, out[i]), s.Value(column, out[j])
		if a == nil || b == nil {
			return a != nil
		}
		cmp := compareValues(a, b)
		if by.Desc {
			return cmp > 0
		}
		return cmp < 0
	})
	return out
}

// compareValues nil 最大，依次尝试数值、时间、布尔、字符串比较
func compareValues(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}
	if fa, ok := schema.ToFloat64(a); ok {
		if fb, ok := schema.ToFloat64(b); ok {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			}
			return 0
		}
	}
	if ta, ok := toTime(a); ok {
		if tb, ok := toTime(b); ok {
			return ta.Compare(tb)
		}
	}
	if ba, ok := a.(bool); ok {
		if bb, ok := b.(bool); ok {
			switch {
			case ba == bb:
				return 0
			case !ba:
				return -1
			}
			return 1
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		return parseISO(t)
	}
	return time.Time{}, false
}

func columnTitle[T schema.Record](c schema.Column[T]) string {
	if c.Title != "" {
		return c.Title
	}
	return humanize(c.Key)
}

func fieldLabel(f schema.Field) string {
	if f.Label != "" {
		return f.Label
	}
	return humanize(f.Name)
}

// humanize created_at -> Created at
func humanize(key string) string {
	s := strings.ReplaceAll(key, "_", " ")
	if s == "" {
		return s
	}
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + s[size:]
}

func inputText(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return ""
	case float64:
		return fmt.Sprint(t)
	case time.Time:
		if t.IsZero() {
			return ""
		}
		return t.Format(time.RFC3339)
	case *schema.File:
		if t == nil {
			return ""
		}
		return t.Name
	case schema.File:
		return t.Name
	}
	return fmt.Sprint(v)
}

func optionSelected(option, value any) bool {
	rv := reflect.ValueOf(value)
	if value != nil && (rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array) {
		for i := 0; i < rv.Len(); i++ {
			if schema.ValueEqual(option, rv.Index(i).Interface()) {
				return true
			}
		}
		return false
	}
	return value != nil && schema.ValueEqual(option, value)
}

// FilterViews 工具栏中的过滤器控件，options 返回已加载的选项
func FilterViews(filters []schema.Filter, values map[string]any, options func(f schema.Filter) []schema.Option) []FilterView {
	views := make([]FilterView, 0, len(filters))
	for _, f := range filters {
		label := f.Label
		if label == "" {
			label = humanize(f.Key)
		}
		fv := FilterView{Key: f.Key, Label: label, Kind: f.Kind, Multiple: f.Multiple, Placeholder: f.Placeholder}
		v := values[f.Key]
		switch f.Kind {
		case schema.FilterDateRange:
			if r, ok := v.(query.Range); ok {
				fv.From = dateText(r.From)
				fv.To = dateText(r.To)
			}
		case schema.FilterDate:
			if t, ok := v.(time.Time); ok {
				fv.Value = dateText(t)
			} else if v != nil {
				fv.Value = fmt.Sprint(v)
			}
		case schema.FilterSelect:
			opts := f.Options
			if options != nil {
				opts = options(f)
			}
			for _, o := range opts {
				fv.Options = append(fv.Options, FilterOption{Label: o.Label, Value: fmt.Sprint(o.Value), Selected: optionSelected(o.Value, v)})
			}
		default:
			if v != nil {
				fv.Value = fmt.Sprint(v)
			}
		}
		views = append(views, fv)
	}
	return views
}

func dateText(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02")
}
