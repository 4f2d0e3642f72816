package clause

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// ClauseType 条件类型
type ClauseType string

const (
	ClauseTypeBool  ClauseType = "bool"
	ClauseTypeTerm  ClauseType = "term"
	ClauseTypeTerms ClauseType = "terms"
	ClauseTypeRange ClauseType = "range"
	ClauseTypeMatch ClauseType = "match"
)

var ErrInvalidField = errors.New("invalid field name")

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// Clause 查询条件，可以生成 SQL、mongo 过滤文档、es 查询，也可以在内存中匹配
type Clause interface {
	Type() ClauseType
	ToSQL() (string, []any, error)
	ToMongo() (map[string]any, error)
	ToES() map[string]any
	Match(attrs map[string]any) bool
}

func checkField(field string) error {
	if !identPattern.MatchString(field) {
		return errors.WithMessagef(ErrInvalidField, "%q", field)
	}
	return nil
}

// Term 精确匹配
type Term struct {
	Field string
	Value any
}

func (c *Term) Type() ClauseType { return ClauseTypeTerm }

func (c *Term) ToSQL() (string, []any, error) {
	if err := checkField(c.Field); err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("%s = ?", c.Field), []any{c.Value}, nil
}

func (c *Term) ToMongo() (map[string]any, error) {
	if err := checkField(c.Field); err != nil {
		return nil, err
	}
	return map[string]any{c.Field: c.Value}, nil
}

func (c *Term) ToES() map[string]any {
	return map[string]any{"term": map[string]any{c.Field: c.Value}}
}

func (c *Term) Match(attrs map[string]any) bool {
	return equal(attrs[c.Field], c.Value)
}

// Terms 多值匹配，对应 SQL IN
type Terms struct {
	Field  string
	Values []any
}

func (c *Terms) Type() ClauseType { return ClauseTypeTerms }

func (c *Terms) ToSQL() (string, []any, error) {
	if err := checkField(c.Field); err != nil {
		return "", nil, err
	}
	if len(c.Values) == 0 {
		return "1=0", nil, nil
	}
	return fmt.Sprintf("%s IN ?", c.Field), []any{c.Values}, nil
}

func (c *Terms) ToMongo() (map[string]any, error) {
	if err := checkField(c.Field); err != nil {
		return nil, err
	}
	values := c.Values
	if values == nil {
		values = []any{}
	}
	return map[string]any{c.Field: map[string]any{"$in": values}}, nil
}

func (c *Terms) ToES() map[string]any {
	values := c.Values
	if values == nil {
		values = []any{}
	}
	return map[string]any{"terms": map[string]any{c.Field: values}}
}

func (c *Terms) Match(attrs map[string]any) bool {
	v := attrs[c.Field]
	for _, candidate := range c.Values {
		if equal(v, candidate) {
			return true
		}
	}
	return false
}

// Range 闭区间范围，Gte 或 Lte 为 nil 表示不限制
type Range struct {
	Field string
	Gte   any
	Lte   any
}

func (c *Range) Type() ClauseType { return ClauseTypeRange }

func (c *Range) ToSQL() (string, []any, error) {
	if err := checkField(c.Field); err != nil {
		return "", nil, err
	}
	var conditions []string
	var args []any
	if c.Gte != nil {
		conditions = append(conditions, fmt.Sprintf("%s >= ?", c.Field))
		args = append(args, c.Gte)
	}
	if c.Lte != nil {
		conditions = append(conditions, fmt.Sprintf("%s <= ?", c.Field))
		args = append(args, c.Lte)
	}
	if len(conditions) == 0 {
		return "1=1", nil, nil
	}
	return strings.Join(conditions, " AND "), args, nil
}

func (c *Range) ToMongo() (map[string]any, error) {
	if err := checkField(c.Field); err != nil {
		return nil, err
	}
	condition := map[string]any{}
	if c.Gte != nil {
		condition["$gte"] = c.Gte
	}
	if c.Lte != nil {
		condition["$lte"] = c.Lte
	}
	if len(condition) == 0 {
		return map[string]any{}, nil
	}
	return map[string]any{c.Field: condition}, nil
}

func (c *Range) ToES() map[string]any {
	condition := map[string]any{}
	if c.Gte != nil {
		condition["gte"] = c.Gte
	}
	if c.Lte != nil {
		condition["lte"] = c.Lte
	}
	if len(condition) == 0 {
		return map[string]any{"match_all": map[string]any{}}
	}
	return map[string]any{"range": map[string]any{c.Field: condition}}
}

func (c *Range) Match(attrs map[string]any) bool {
	v, ok := attrs[c.Field]
	if !ok || v == nil {
		return false
	}
	if c.Gte != nil && compare(v, c.Gte) < 0 {
		return false
	}
	if c.Lte != nil && compare(v, c.Lte) > 0 {
		return false
	}
	return true
}

// Match 模糊匹配，任一字段包含 Value 即成立
type Match struct {
	Fields []string
	Value  string
}

func (c *Match) Type() ClauseType { return ClauseTypeMatch }

func (c *Match) ToSQL() (string, []any, error) {
	if len(c.Fields) == 0 {
		return "1=1", nil, nil
	}
	conditions := make([]string, 0, len(c.Fields))
	args := make([]any, 0, len(c.Fields))
	pattern := "%" + c.Value + "%"
	for _, f := range c.Fields {
		if err := checkField(f); err != nil {
			return "", nil, err
		}
		conditions = append(conditions, fmt.Sprintf("%s LIKE ?", f))
		args = append(args, pattern)
	}
	return "(" + strings.Join(conditions, " OR ") + ")", args, nil
}

// ToMongo 任一字段的不区分大小写正则匹配，Value 按字面量转义
func (c *Match) ToMongo() (map[string]any, error) {
	if len(c.Fields) == 0 {
		return map[string]any{}, nil
	}
	pattern := regexp.QuoteMeta(c.Value)
	or := make([]any, 0, len(c.Fields))
	for _, f := range c.Fields {
		if err := checkField(f); err != nil {
			return nil, err
		}
		or = append(or, map[string]any{f: map[string]any{"$regex": pattern, "$options": "i"}})
	}
	if len(or) == 1 {
		return or[0].(map[string]any), nil
	}
	return map[string]any{"$or": or}, nil
}

func (c *Match) ToES() map[string]any {
	if len(c.Fields) == 0 {
		return map[string]any{"match_all": map[string]any{}}
	}
	should := make([]any, 0, len(c.Fields))
	for _, f := range c.Fields {
		should = append(should, map[string]any{"wildcard": map[string]any{
			f: map[string]any{"value": "*" + escapeWildcard(c.Value) + "*", "case_insensitive": true},
		}})
	}
	return map[string]any{"bool": map[string]any{"should": should, "minimum_should_match": 1}}
}

func (c *Match) Match(attrs map[string]any) bool {
	needle := strings.ToLower(c.Value)
	for _, f := range c.Fields {
		if v, ok := attrs[f]; ok && v != nil {
			if strings.Contains(strings.ToLower(fmt.Sprint(v)), needle) {
				return true
			}
		}
	}
	return false
}

// Bool 所有 Must 条件同时成立
type Bool struct {
	Must []Clause
}

func (c *Bool) Type() ClauseType { return ClauseTypeBool }

func (c *Bool) ToSQL() (string, []any, error) {
	if len(c.Must) == 0 {
		return "1=1", nil, nil
	}
	conditions := make([]string, 0, len(c.Must))
	var args []any
	for _, m := range c.Must {
		sql, a, err := m.ToSQL()
		if err != nil {
			return "", nil, err
		}
		conditions = append(conditions, "("+sql+")")
		args = append(args, a...)
	}
	return strings.Join(conditions, " AND "), args, nil
}

func (c *Bool) ToMongo() (map[string]any, error) {
	and := make([]any, 0, len(c.Must))
	for _, m := range c.Must {
		condition, err := m.ToMongo()
		if err != nil {
			return nil, err
		}
		if len(condition) > 0 {
			and = append(and, condition)
		}
	}
	switch len(and) {
	case 0:
		return map[string]any{}, nil
	case 1:
		return and[0].(map[string]any), nil
	}
	return map[string]any{"$and": and}, nil
}

func (c *Bool) ToES() map[string]any {
	if len(c.Must) == 0 {
		return map[string]any{"match_all": map[string]any{}}
	}
	filter := make([]any, 0, len(c.Must))
	for _, m := range c.Must {
		filter = append(filter, m.ToES())
	}
	return map[string]any{"bool": map[string]any{"filter": filter}}
}

func (c *Bool) Match(attrs map[string]any) bool {
	for _, m := range c.Must {
		if !m.Match(attrs) {
			return false
		}
	}
	return true
}

var wildcardReplacer = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`)

func escapeWildcard(s string) string {
	return wildcardReplacer.Replace(s)
}

func equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

// compare 依次尝试按时间、数值、字符串比较
func compare(a, b any) int {
	if ta, ok := toTime(a); ok {
		if tb, ok := toTime(b); ok {
			return ta.Compare(tb)
		}
	}
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			}
			return 0
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02"} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed, true
			}
		}
	}
	return time.Time{}, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
