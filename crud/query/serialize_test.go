package query

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSerializeValues(t *testing.T) {
	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		value any
		want  any
		keep  bool
	}{
		{"字符串", "active", "active", true},
		{"空字符串", "", nil, false},
		{"nil", nil, nil, false},
		{"数字", 0, 0, true},
		{"布尔", false, false, true},
		{"时间", day, "2024-01-01T00:00:00Z", true},
		{"零时间", time.Time{}, nil, false},
		{"时间范围", Range{From: day, To: day.AddDate(0, 0, 30)}, []string{"2024-01-01T00:00:00Z", "2024-01-31T00:00:00Z"}, true},
		{"单端时间范围", Range{From: day}, []string{"2024-01-01T00:00:00Z", ""}, true},
		{"空时间范围", Range{}, nil, false},
		{"空切片", []string{}, nil, false},
		{"字符串切片", []string{"a", "b"}, []string{"a", "b"}, true},
		{"混合切片", []any{"a", "", day}, []any{"a", "2024-01-01T00:00:00Z"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Serialize(map[string]any{"k": tt.value})
			v, ok := out["k"]
			assert.Equal(t, tt.keep, ok)
			if tt.keep {
				assert.Equal(t, tt.want, v)
			}
		})
	}
}
