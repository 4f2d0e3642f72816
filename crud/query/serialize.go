package query

import (
	"reflect"
	"time"
)

// Serialize 规范化过滤值：时间转为 ISO-8601 字符串，时间范围转为两元素字符串数组，
// 空值（nil、空字符串、空数组、零时间、空范围）被省略
func Serialize(filters map[string]any) map[string]any {
	out := make(map[string]any, len(filters))
	for k, v := range filters {
		if sv, ok := serializeValue(v); ok {
			out[k] = sv
		}
	}
	return out
}

func serializeValue(v any) (any, bool) {
	switch t := v.(type) {
	case nil:
		return nil, false
	case string:
		return t, t != ""
	case time.Time:
		return FormatTime(t), !t.IsZero()
	case *time.Time:
		if t == nil || t.IsZero() {
			return nil, false
		}
		return FormatTime(*t), true
	case Range:
		return t.Strings(), !t.IsZero()
	case *Range:
		if t == nil || t.IsZero() {
			return nil, false
		}
		return t.Strings(), true
	case []time.Time:
		if len(t) == 0 {
			return nil, false
		}
		out := make([]string, 0, len(t))
		for _, tm := range t {
			out = append(out, FormatTime(tm))
		}
		return out, true
	case []any:
		if len(t) == 0 {
			return nil, false
		}
		out := make([]any, 0, len(t))
		for _, e := range t {
			if se, ok := serializeValue(e); ok {
				out = append(out, se)
			}
		}
		return out, len(out) > 0
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return v, rv.Len() > 0
	case reflect.Pointer:
		if rv.IsNil() {
			return nil, false
		}
	}
	return v, true
}

func isEmpty(v any) bool {
	_, ok := serializeValue(v)
	return !ok
}
