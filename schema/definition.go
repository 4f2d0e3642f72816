package schema

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Definition 声明式配置文件的结构，支持 yaml, toml, json
type Definition struct {
	Title         string             `yaml:"title" toml:"title" json:"title"`
	PrimaryColumn string             `yaml:"primaryColumn" toml:"primaryColumn" json:"primaryColumn"`
	Columns       []ColumnDefinition `yaml:"columns" toml:"columns" json:"columns" validate:"dive"`
	Filters       []FilterDefinition `yaml:"filters" toml:"filters" json:"filters" validate:"dive"`
	Fields        []FieldDefinition  `yaml:"fields" toml:"fields" json:"fields" validate:"dive"`
	RowActions    []ActionDefinition `yaml:"rowActions" toml:"rowActions" json:"rowActions" validate:"dive"`
	BulkActions   []ActionDefinition `yaml:"bulkActions" toml:"bulkActions" json:"bulkActions" validate:"dive"`
}

type ColumnDefinition struct {
	Key   string `yaml:"key" toml:"key" json:"key" validate:"required"`
	Title string `yaml:"title" toml:"title" json:"title"`
	// Path 以 "." 分隔的取值路径
	Path     string `yaml:"path" toml:"path" json:"path"`
	Renderer string `yaml:"renderer" toml:"renderer" json:"renderer"`
	Width    int    `yaml:"width" toml:"width" json:"width" validate:"gte=0"`
	Ellipsis bool   `yaml:"ellipsis" toml:"ellipsis" json:"ellipsis"`
	Sortable bool   `yaml:"sortable" toml:"sortable" json:"sortable"`
}

type FilterDefinition struct {
	Key         string   `yaml:"key" toml:"key" json:"key" validate:"required"`
	Label       string   `yaml:"label" toml:"label" json:"label"`
	Kind        string   `yaml:"kind" toml:"kind" json:"kind" validate:"omitempty,oneof=text select date dateRange"`
	Options     []Option `yaml:"options" toml:"options" json:"options"`
	Source      string   `yaml:"source" toml:"source" json:"source"`
	Multiple    bool     `yaml:"multiple" toml:"multiple" json:"multiple"`
	Placeholder string   `yaml:"placeholder" toml:"placeholder" json:"placeholder"`
}

type FieldDefinition struct {
	Name         string   `yaml:"name" toml:"name" json:"name" validate:"required"`
	Label        string   `yaml:"label" toml:"label" json:"label"`
	Kind         string   `yaml:"kind" toml:"kind" json:"kind" validate:"omitempty,oneof=text textarea select number date datetime boolean secret file custom"`
	Required     bool     `yaml:"required" toml:"required" json:"required"`
	Rules        string   `yaml:"rules" toml:"rules" json:"rules"`
	Placeholder  string   `yaml:"placeholder" toml:"placeholder" json:"placeholder"`
	Help         string   `yaml:"help" toml:"help" json:"help"`
	Options      []Option `yaml:"options" toml:"options" json:"options"`
	Source       string   `yaml:"source" toml:"source" json:"source"`
	Multiple     bool     `yaml:"multiple" toml:"multiple" json:"multiple"`
	Dependencies []string `yaml:"dependencies" toml:"dependencies" json:"dependencies"`
	// VisibleWhen expr 表达式，例如 `kind == "transfer"`
	VisibleWhen string   `yaml:"visibleWhen" toml:"visibleWhen" json:"visibleWhen"`
	Min         *float64 `yaml:"min" toml:"min" json:"min"`
	Max         *float64 `yaml:"max" toml:"max" json:"max"`
	Default     any      `yaml:"default" toml:"default" json:"default"`
	Renderer    string   `yaml:"renderer" toml:"renderer" json:"renderer"`
}

type ActionDefinition struct {
	Key     string `yaml:"key" toml:"key" json:"key" validate:"required"`
	Label   string `yaml:"label" toml:"label" json:"label"`
	Icon    string `yaml:"icon" toml:"icon" json:"icon"`
	Danger  bool   `yaml:"danger" toml:"danger" json:"danger"`
	Confirm string `yaml:"confirm" toml:"confirm" json:"confirm"`
	Handler string `yaml:"handler" toml:"handler" json:"handler" validate:"required"`
	// VisibleWhen 行操作的可见性表达式，输入为记录属性
	VisibleWhen string `yaml:"visibleWhen" toml:"visibleWhen" json:"visibleWhen"`
}

// DecodeDefinition 按格式解码配置，format 取值 yaml, yml, toml, json
func DecodeDefinition(data []byte, format string) (*Definition, error) {
	def := &Definition{}
	switch strings.ToLower(strings.TrimPrefix(format, ".")) {
	case "yaml", "yml":
		if err := yaml.Unmarshal(data, def); err != nil {
			return nil, errors.Wrap(err, "failed to decode yaml")
		}
	case "toml":
		if err := toml.Unmarshal(data, def); err != nil {
			return nil, errors.Wrap(err, "failed to decode toml")
		}
	case "json":
		if err := json.Unmarshal(data, def); err != nil {
			return nil, errors.Wrap(err, "failed to decode json")
		}
	default:
		return nil, errors.Errorf("unsupported format: %s", format)
	}

	if err := validator.New().Struct(def); err != nil {
		return nil, errors.Wrap(err, "invalid definition")
	}
	return def, nil
}

// LoadDefinition 从文件加载配置，格式由扩展名决定
func LoadDefinition(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read file")
	}
	return DecodeDefinition(data, filepath.Ext(path))
}

// Registry 声明式配置中按名称引用的渲染器、选项来源和操作处理函数
type Registry[T Record] struct {
	mu             sync.RWMutex
	renderers      map[string]CellRenderer[T]
	fieldRenderers map[string]FieldRenderer
	sources        map[string]OptionSource
	rowHandlers    map[string]func(ctx context.Context, record T) error
	bulkHandlers   map[string]func(ctx context.Context, records []T) error
}

func NewRegistry[T Record]() *Registry[T] {
	return &Registry[T]{
		renderers:      map[string]CellRenderer[T]{},
		fieldRenderers: map[string]FieldRenderer{},
		sources:        map[string]OptionSource{},
		rowHandlers:    map[string]func(ctx context.Context, record T) error{},
		bulkHandlers:   map[string]func(ctx context.Context, records []T) error{},
	}
}

func (r *Registry[T]) RegisterRenderer(name string, renderer CellRenderer[T]) *Registry[T] {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.renderers[name] = renderer
	return r
}

func (r *Registry[T]) RegisterFieldRenderer(name string, renderer FieldRenderer) *Registry[T] {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fieldRenderers[name] = renderer
	return r
}

func (r *Registry[T]) RegisterSource(name string, source OptionSource) *Registry[T] {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[name] = source
	return r
}

func (r *Registry[T]) RegisterRowHandler(name string, handler func(ctx context.Context, record T) error) *Registry[T] {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rowHandlers[name] = handler
	return r
}

func (r *Registry[T]) RegisterBulkHandler(name string, handler func(ctx context.Context, records []T) error) *Registry[T] {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bulkHandlers[name] = handler
	return r
}

// Build 将配置解析为 Schema，引用的名称必须已注册
func Build[T Record](def *Definition, registry *Registry[T]) (*Schema[T], error) {
	if def == nil {
		return nil, errors.New("definition is nil")
	}
	if registry == nil {
		registry = NewRegistry[T]()
	}
	registry.mu.RLock()
	defer registry.mu.RUnlock()

	options := &Options[T]{Title: def.Title, PrimaryColumn: def.PrimaryColumn}

	for _, c := range def.Columns {
		column := Column[T]{
			Key:      c.Key,
			Title:    c.Title,
			Path:     ParsePath(c.Path),
			Width:    c.Width,
			Ellipsis: c.Ellipsis,
			Sortable: c.Sortable,
		}
		if c.Renderer != "" {
			renderer, ok := registry.renderers[c.Renderer]
			if !ok {
				return nil, errors.Errorf("column %q: renderer %q not registered", c.Key, c.Renderer)
			}
			column.Render = renderer
		}
		options.Columns = append(options.Columns, column)
	}

	for _, f := range def.Filters {
		filter := Filter{
			Key:         f.Key,
			Label:       f.Label,
			Kind:        FilterKind(f.Kind),
			Options:     f.Options,
			Multiple:    f.Multiple,
			Placeholder: f.Placeholder,
		}
		if f.Source != "" {
			source, ok := registry.sources[f.Source]
			if !ok {
				return nil, errors.Errorf("filter %q: source %q not registered", f.Key, f.Source)
			}
			filter.Source = source
		}
		options.Filters = append(options.Filters, filter)
	}

	for _, f := range def.Fields {
		field := Field{
			Name:         f.Name,
			Label:        f.Label,
			Kind:         FieldKind(f.Kind),
			Required:     f.Required,
			Rules:        f.Rules,
			Placeholder:  f.Placeholder,
			Help:         f.Help,
			Options:      f.Options,
			Multiple:     f.Multiple,
			Dependencies: f.Dependencies,
			Min:          f.Min,
			Max:          f.Max,
			Default:      f.Default,
		}
		if f.Source != "" {
			source, ok := registry.sources[f.Source]
			if !ok {
				return nil, errors.Errorf("field %q: source %q not registered", f.Name, f.Source)
			}
			field.Source = source
		}
		if f.Renderer != "" {
			renderer, ok := registry.fieldRenderers[f.Renderer]
			if !ok {
				return nil, errors.Errorf("field %q: renderer %q not registered", f.Name, f.Renderer)
			}
			field.Render = renderer
		}
		if f.VisibleWhen != "" {
			p, err := NewExprPredicate(f.VisibleWhen)
			if err != nil {
				return nil, errors.WithMessagef(err, "field %q", f.Name)
			}
			field.Visible = p
		}
		options.Fields = append(options.Fields, field)
	}

	for _, a := range def.RowActions {
		handler, ok := registry.rowHandlers[a.Handler]
		if !ok {
			return nil, errors.Errorf("row action %q: handler %q not registered", a.Key, a.Handler)
		}
		action := RowAction[T]{
			Key:     a.Key,
			Label:   a.Label,
			Icon:    a.Icon,
			Danger:  a.Danger,
			Confirm: a.Confirm,
			Handler: handler,
		}
		if a.VisibleWhen != "" {
			p, err := NewExprPredicate(a.VisibleWhen)
			if err != nil {
				return nil, errors.WithMessagef(err, "row action %q", a.Key)
			}
			action.Visible = func(record T) bool {
				return p.Evaluate(Attributes(record))
			}
		}
		options.RowActions = append(options.RowActions, action)
	}

	for _, a := range def.BulkActions {
		handler, ok := registry.bulkHandlers[a.Handler]
		if !ok {
			return nil, errors.Errorf("bulk action %q: handler %q not registered", a.Key, a.Handler)
		}
		options.BulkActions = append(options.BulkActions, BulkAction[T]{
			Key:     a.Key,
			Label:   a.Label,
			Icon:    a.Icon,
			Confirm: a.Confirm,
			Handler: handler,
		})
	}

	return New(options)
}

// LoadFile 读取配置文件并构造 Schema
func LoadFile[T Record](path string, registry *Registry[T]) (*Schema[T], error) {
	def, err := LoadDefinition(path)
	if err != nil {
		return nil, err
	}
	return Build(def, registry)
}
