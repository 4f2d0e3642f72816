package schema

import (
	"encoding/json"
	"math"
	"strconv"
)

// Record 实体记录，唯一要求是不可变的整数主键
type Record interface {
	GetID() int64
}

// Fielder 可以直接暴露属性集合的记录，路径查找优先使用 Fields
type Fielder interface {
	Fields() map[string]any
}

// MapRecord 通用记录容器，主键保存在 "id" 字段
type MapRecord map[string]any

func (m MapRecord) GetID() int64 {
	id, _ := ToInt64(m["id"])
	return id
}

func (m MapRecord) Fields() map[string]any {
	return m
}

// Attributes 返回记录的属性集合
// 未实现 Fielder 的记录通过 JSON 形式展开，字段名遵循 json tag
func Attributes(record any) map[string]any {
	switch v := record.(type) {
	case nil:
		return nil
	case Fielder:
		return v.Fields()
	case map[string]any:
		return v
	}

	data, err := json.Marshal(record)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	return m
}

// ToInt64 将常见的数值表示转换为 int64
func ToInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case float32:
		return int64(n), float32(int64(n)) == n
	case float64:
		return int64(n), float64(int64(n)) == n
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	}
	return 0, false
}

// ToFloat64 将常见的数值表示转换为 float64
func ToFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	if i, ok := ToInt64(v); ok {
		return float64(i), true
	}
	return 0, false
}
