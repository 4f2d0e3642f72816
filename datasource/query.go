package datasource

import (
	"reflect"
	"sort"

	"github.com/hatlonely/crudkit/datasource/clause"
	"github.com/hatlonely/crudkit/schema"
)

// QueryOptions 查询对象的解析规则
type QueryOptions struct {
	OffsetKey string `cfg:"offsetKey" yaml:"offsetKey" def:"skip"`
	LimitKey  string `cfg:"limitKey" yaml:"limitKey" def:"limit"`
	SearchKey string `cfg:"searchKey" yaml:"searchKey" def:"search"`

	// SearchFields 全文搜索匹配的字段
	SearchFields []string `cfg:"searchFields" yaml:"searchFields"`

	// RangeFields 取值为两元素数组时按 [from, to] 解析的字段，其余数组按多值匹配
	RangeFields []string `cfg:"rangeFields" yaml:"rangeFields"`

	// Fields 允许过滤的字段，为空时不限制
	Fields []string `cfg:"fields" yaml:"fields"`

	// DefaultLimit limit 缺省时使用，0 表示不限制
	DefaultLimit int `cfg:"defaultLimit" yaml:"defaultLimit"`
}

// ParsedQuery 解析后的查询
type ParsedQuery struct {
	Offset int
	Limit  int
	Search string
	Where  *clause.Bool
}

func (o *QueryOptions) keys() (string, string, string) {
	offsetKey, limitKey, searchKey := "skip", "limit", "search"
	if o != nil {
		if o.OffsetKey != "" {
			offsetKey = o.OffsetKey
		}
		if o.LimitKey != "" {
			limitKey = o.LimitKey
		}
		if o.SearchKey != "" {
			searchKey = o.SearchKey
		}
	}
	return offsetKey, limitKey, searchKey
}

// ParseQuery 将扁平的查询对象转换为分页参数和过滤条件
func ParseQuery(query map[string]any, options *QueryOptions) *ParsedQuery {
	if options == nil {
		options = &QueryOptions{}
	}
	offsetKey, limitKey, searchKey := options.keys()

	q := &ParsedQuery{Limit: options.DefaultLimit, Where: &clause.Bool{}}

	ranges := toSet(options.RangeFields)
	allowed := toSet(options.Fields)

	// 按键排序保证生成的条件顺序稳定
	keys := make([]string, 0, len(query))
	for k := range query {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := query[k]
		switch k {
		case offsetKey:
			if n, ok := schema.ToInt64(v); ok && n > 0 {
				q.Offset = int(n)
			}
			continue
		case limitKey:
			if n, ok := schema.ToInt64(v); ok && n > 0 {
				q.Limit = int(n)
			}
			continue
		case searchKey:
			if s, ok := v.(string); ok {
				q.Search = s
			}
			continue
		}

		if len(allowed) > 0 && !allowed[k] {
			continue
		}
		if c := toClause(k, v, ranges[k]); c != nil {
			q.Where.Must = append(q.Where.Must, c)
		}
	}

	if q.Search != "" && len(options.SearchFields) > 0 {
		q.Where.Must = append(q.Where.Must, &clause.Match{Fields: options.SearchFields, Value: q.Search})
	}

	return q
}

func toClause(key string, value any, isRange bool) clause.Clause {
	if value == nil {
		return nil
	}
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return &clause.Term{Field: key, Value: value}
	}
	if _, isBytes := value.([]byte); isBytes {
		return &clause.Term{Field: key, Value: value}
	}

	values := make([]any, rv.Len())
	for i := range values {
		values[i] = rv.Index(i).Interface()
	}

	if isRange {
		if len(values) != 2 {
			return nil
		}
		r := &clause.Range{Field: key}
		if !isEmpty(values[0]) {
			r.Gte = values[0]
		}
		if !isEmpty(values[1]) {
			r.Lte = values[1]
		}
		return r
	}
	return &clause.Terms{Field: key, Values: values}
}

func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && s == ""
}

func toSet(values []string) map[string]bool {
	m := make(map[string]bool, len(values))
	for _, v := range values {
		m[v] = true
	}
	return m
}

// page 对内存中的结果做 offset/limit 截取
func page[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
