package schema

import (
	"github.com/ohler55/ojg/jp"
	"github.com/pkg/errors"
)

var (
	ErrInvalidSchema = errors.New("invalid schema")
)

// Options 构造 Schema 的描述集合
type Options[T Record] struct {
	Title string
	// PrimaryColumn 窄屏卡片的主字段，为空时使用第一列
	PrimaryColumn string
	Columns       []Column[T]
	Filters       []Filter
	Fields        []Field
	RowActions    []RowAction[T]
	BulkActions   []BulkAction[T]
}

// Schema 不可变的配置描述，构造时完成校验和路径编译
type Schema[T Record] struct {
	title         string
	primaryColumn string
	columns       []Column[T]
	filters       []Filter
	fields        []Field
	rowActions    []RowAction[T]
	bulkActions   []BulkAction[T]

	paths      map[string]jp.Expr
	fieldIndex map[string]int
}

func New[T Record](options *Options[T]) (*Schema[T], error) {
	if options == nil {
		return nil, errors.WithMessage(ErrInvalidSchema, "options is nil")
	}

	s := &Schema[T]{
		title:         options.Title,
		primaryColumn: options.PrimaryColumn,
		columns:       append([]Column[T](nil), options.Columns...),
		filters:       append([]Filter(nil), options.Filters...),
		fields:        append([]Field(nil), options.Fields...),
		rowActions:    append([]RowAction[T](nil), options.RowActions...),
		bulkActions:   append([]BulkAction[T](nil), options.BulkActions...),
		paths:         map[string]jp.Expr{},
		fieldIndex:    map[string]int{},
	}

	if err := s.validate(); err != nil {
		return nil, errors.WithMessage(ErrInvalidSchema, err.Error())
	}
	return s, nil
}

// MustNew 校验失败时 panic，用于静态配置
func MustNew[T Record](options *Options[T]) *Schema[T] {
	s, err := New(options)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *Schema[T]) validate() error {
	for i := range s.columns {
		c := &s.columns[i]
		if c.Key == "" {
			return errors.Errorf("column %d: empty key", i)
		}
		if _, ok := s.paths[c.Key]; ok {
			return errors.Errorf("duplicate column key %q", c.Key)
		}
		if len(c.Path) == 0 {
			c.Path = Path{c.Key}
		}
		x, err := c.Path.compile()
		if err != nil {
			return errors.WithMessagef(err, "column %q", c.Key)
		}
		s.paths[c.Key] = x
	}

	if s.primaryColumn != "" {
		if _, ok := s.paths[s.primaryColumn]; !ok {
			return errors.Errorf("primary column %q is not a column", s.primaryColumn)
		}
	}

	filterKeys := map[string]bool{}
	for i, f := range s.filters {
		if f.Key == "" {
			return errors.Errorf("filter %d: empty key", i)
		}
		if filterKeys[f.Key] {
			return errors.Errorf("duplicate filter key %q", f.Key)
		}
		filterKeys[f.Key] = true
		if f.Kind == "" {
			s.filters[i].Kind = FilterText
		} else if !filterKinds[f.Kind] {
			return errors.Errorf("filter %q: unknown kind %q", f.Key, f.Kind)
		}
	}

	for i, f := range s.fields {
		if f.Name == "" {
			return errors.Errorf("field %d: empty name", i)
		}
		if _, ok := s.fieldIndex[f.Name]; ok {
			return errors.Errorf("duplicate field name %q", f.Name)
		}
		s.fieldIndex[f.Name] = i
		if f.Kind == "" {
			s.fields[i].Kind = FieldText
		} else if !fieldKinds[f.Kind] {
			return errors.Errorf("field %q: unknown kind %q", f.Name, f.Kind)
		}
		if f.Kind == FieldSelect && len(f.Options) == 0 && f.Source == nil {
			return errors.Errorf("select field %q has neither options nor source", f.Name)
		}
		if f.Min != nil && f.Max != nil && *f.Min > *f.Max {
			return errors.Errorf("field %q: min greater than max", f.Name)
		}
	}
	for _, f := range s.fields {
		for _, dep := range f.Dependencies {
			if _, ok := s.fieldIndex[dep]; !ok {
				return errors.Errorf("field %q depends on unknown field %q", f.Name, dep)
			}
			if dep == f.Name {
				return errors.Errorf("field %q depends on itself", f.Name)
			}
		}
	}

	actionKeys := map[string]bool{}
	for i, a := range s.rowActions {
		if a.Key == "" || a.Handler == nil {
			return errors.Errorf("row action %d: key and handler are required", i)
		}
		if actionKeys[a.Key] {
			return errors.Errorf("duplicate row action key %q", a.Key)
		}
		actionKeys[a.Key] = true
	}
	bulkKeys := map[string]bool{}
	for i, a := range s.bulkActions {
		if a.Key == "" || a.Handler == nil {
			return errors.Errorf("bulk action %d: key and handler are required", i)
		}
		if bulkKeys[a.Key] {
			return errors.Errorf("duplicate bulk action key %q", a.Key)
		}
		bulkKeys[a.Key] = true
	}

	return nil
}

func (s *Schema[T]) Title() string { return s.title }

func (s *Schema[T]) Columns() []Column[T] { return s.columns }

func (s *Schema[T]) Filters() []Filter { return s.filters }

func (s *Schema[T]) Fields() []Field { return s.fields }

func (s *Schema[T]) RowActions() []RowAction[T] { return s.rowActions }

func (s *Schema[T]) BulkActions() []BulkAction[T] { return s.bulkActions }

// PrimaryColumn 返回窄屏卡片的主列
func (s *Schema[T]) PrimaryColumn() (Column[T], bool) {
	if len(s.columns) == 0 {
		return Column[T]{}, false
	}
	if s.primaryColumn == "" {
		return s.columns[0], true
	}
	for _, c := range s.columns {
		if c.Key == s.primaryColumn {
			return c, true
		}
	}
	return s.columns[0], true
}

func (s *Schema[T]) Field(name string) (Field, bool) {
	i, ok := s.fieldIndex[name]
	if !ok {
		return Field{}, false
	}
	return s.fields[i], true
}

func (s *Schema[T]) Filter(key string) (Filter, bool) {
	for _, f := range s.filters {
		if f.Key == key {
			return f, true
		}
	}
	return Filter{}, false
}

func (s *Schema[T]) RowAction(key string) (RowAction[T], bool) {
	for _, a := range s.rowActions {
		if a.Key == key {
			return a, true
		}
	}
	return RowAction[T]{}, false
}

func (s *Schema[T]) BulkAction(key string) (BulkAction[T], bool) {
	for _, a := range s.bulkActions {
		if a.Key == key {
			return a, true
		}
	}
	return BulkAction[T]{}, false
}

// Value 按列的取值路径读取记录中的值
func (s *Schema[T]) Value(column Column[T], record T) any {
	x, ok := s.paths[column.Key]
	if !ok {
		path := column.Path
		if len(path) == 0 {
			path = Path{column.Key}
		}
		return Lookup(record, path)
	}
	return lookup(record, x)
}

// CoveredKeys 返回被列覆盖的顶层属性名
func (s *Schema[T]) CoveredKeys() map[string]bool {
	covered := make(map[string]bool, len(s.columns))
	for _, c := range s.columns {
		covered[c.Key] = true
		if len(c.Path) > 0 {
			covered[c.Path[0]] = true
		}
	}
	return covered
}
