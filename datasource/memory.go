package datasource

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/hatlonely/crudkit/datasource/idgen"
	"github.com/hatlonely/crudkit/schema"
	"github.com/pkg/errors"
)

type MemoryOptions[T schema.Record] struct {
	Query QueryOptions `cfg:"query" yaml:"query"`

	// Unique 取值必须唯一的字段，冲突时返回 UnprocessableError
	Unique []string `cfg:"unique" yaml:"unique"`

	// Decode 将属性集合转换为记录，默认 MapRecord 直接复制，其他类型经 JSON 转换
	Decode func(attrs map[string]any) (T, error)

	// Seed 初始记录
	Seed []T

	// IDGenerator 新记录的 id 来源，默认从已有记录的最大 id 之后自增
	IDGenerator idgen.Generator `cfg:"-" yaml:"-"`
}

// Memory 进程内数据源，按插入顺序返回记录
type Memory[T schema.Record] struct {
	mu      sync.RWMutex
	records []T
	ids     idgen.Generator

	query  QueryOptions
	unique []string
	decode func(attrs map[string]any) (T, error)
}

func NewMemoryWithOptions[T schema.Record](options *MemoryOptions[T]) *Memory[T] {
	if options == nil {
		options = &MemoryOptions[T]{}
	}
	m := &Memory[T]{
		query:  options.Query,
		unique: options.Unique,
		decode: options.Decode,
		ids:    options.IDGenerator,
	}
	if m.decode == nil {
		m.decode = decodeRecord[T]
	}
	if m.ids == nil {
		seq := idgen.NewSequenceWithOptions(nil)
		for _, r := range options.Seed {
			seq.Observe(r.GetID())
		}
		m.ids = seq
	}
	m.records = append(m.records, options.Seed...)
	return m
}

func decodeRecord[T schema.Record](attrs map[string]any) (T, error) {
	var record T
	if _, ok := any(record).(schema.MapRecord); ok {
		m := make(schema.MapRecord, len(attrs))
		for k, v := range attrs {
			m[k] = v
		}
		return any(m).(T), nil
	}

	data, err := json.Marshal(attrs)
	if err != nil {
		return record, errors.Wrap(err, "marshal attributes")
	}
	if err := json.Unmarshal(data, &record); err != nil {
		return record, errors.Wrap(err, "unmarshal record")
	}
	return record, nil
}

func (m *Memory[T]) List(ctx context.Context, query map[string]any) ([]T, error) {
	q := ParseQuery(query, &m.query)

	m.mu.RLock()
	defer m.mu.RUnlock()

	matched := make([]T, 0, len(m.records))
	for _, r := range m.records {
		if q.Where.Match(schema.Attributes(r)) {
			matched = append(matched, r)
		}
	}
	return page(matched, q.Offset, q.Limit), nil
}

func (m *Memory[T]) Create(ctx context.Context, data map[string]any) (T, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var zero T
	attrs := make(map[string]any, len(data)+1)
	for k, v := range data {
		attrs[k] = v
	}
	if err := m.checkUnique(attrs, 0); err != nil {
		return zero, err
	}

	id, err := m.ids.NextID(ctx)
	if err != nil {
		return zero, errors.WithMessage(err, "generate id")
	}
	if m.index(id) >= 0 {
		return zero, errors.Errorf("generated id %d already exists", id)
	}
	attrs["id"] = id

	record, err := m.decode(attrs)
	if err != nil {
		return zero, errors.WithMessage(err, "decode record")
	}
	m.records = append(m.records, record)
	return record, nil
}

func (m *Memory[T]) Update(ctx context.Context, id int64, data map[string]any) (T, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var zero T
	i := m.index(id)
	if i < 0 {
		return zero, errors.WithMessagef(ErrNotFound, "id %d", id)
	}

	attrs := map[string]any{}
	for k, v := range schema.Attributes(m.records[i]) {
		attrs[k] = v
	}
	for k, v := range data {
		if k == "id" {
			continue
		}
		attrs[k] = v
	}

	if err := m.checkUnique(attrs, id); err != nil {
		return zero, err
	}

	record, err := m.decode(attrs)
	if err != nil {
		return zero, errors.WithMessage(err, "decode record")
	}
	m.records[i] = record
	return record, nil
}

func (m *Memory[T]) Delete(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.index(id)
	if i < 0 {
		return errors.WithMessagef(ErrNotFound, "id %d", id)
	}
	m.records = append(m.records[:i], m.records[i+1:]...)
	return nil
}

// Len 当前记录数
func (m *Memory[T]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

func (m *Memory[T]) index(id int64) int {
	for i, r := range m.records {
		if r.GetID() == id {
			return i
		}
	}
	return -1
}

func (m *Memory[T]) checkUnique(attrs map[string]any, selfID int64) error {
	fields := map[string]string{}
	for _, name := range m.unique {
		v, ok := attrs[name]
		if !ok || v == nil {
			continue
		}
		for _, r := range m.records {
			if r.GetID() == selfID {
				continue
			}
			if fmt.Sprint(schema.Attributes(r)[name]) == fmt.Sprint(v) {
				fields[name] = "already exists"
				break
			}
		}
	}
	if len(fields) > 0 {
		return NewUnprocessableError("duplicate value", fields)
	}
	return nil
}
