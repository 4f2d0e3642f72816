package view

import (
	"encoding/json"
	"fmt"
	"html/template"
	"reflect"
	"regexp"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/hatlonely/crudkit/schema"
)

// ValueKind 格式化后的值类别
type ValueKind string

const (
	KindEmpty ValueKind = "empty"
	KindBool  ValueKind = "bool"
	KindTime  ValueKind = "time"
	KindJSON  ValueKind = "json"
	KindFile  ValueKind = "file"
	KindText  ValueKind = "text"
)

// Formatted 格式化结果
type Formatted struct {
	Kind ValueKind
	Text string
	// Truncated 文本被截断，Full 保存完整内容
	Truncated bool
	Full      string
	// Bool 仅 KindBool 有效
	Bool bool
}

// Formatter 通用值格式化
type Formatter struct {
	Location   *time.Location
	TimeLayout string
	TruncateAt int
	Yes        string
	No         string
	Empty      string
}

var isoPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}(:\d{2}(\.\d+)?)?(Z|[+-]\d{2}:?\d{2})?$`)

var isoLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
}

func DefaultFormatter() *Formatter {
	return &Formatter{
		Location:   time.Local,
		TimeLayout: "2006-01-02 15:04:05",
		TruncateAt: 120,
		Yes:        "Yes",
		No:         "No",
		Empty:      "-",
	}
}

func (f *Formatter) withDefaults() *Formatter {
	d := DefaultFormatter()
	if f == nil {
		return d
	}
	out := *f
	if out.Location == nil {
		out.Location = d.Location
	}
	if out.TimeLayout == "" {
		out.TimeLayout = d.TimeLayout
	}
	if out.TruncateAt <= 0 {
		out.TruncateAt = d.TruncateAt
	}
	if out.Yes == "" {
		out.Yes = d.Yes
	}
	if out.No == "" {
		out.No = d.No
	}
	if out.Empty == "" {
		out.Empty = d.Empty
	}
	return &out
}

// Format 布尔值转为 Yes/No，ISO 时间字符串转为本地时间，复合值转为缩进 JSON，长文本截断
func (f *Formatter) Format(v any) Formatted {
	f = f.withDefaults()

	switch t := v.(type) {
	case nil:
		return Formatted{Kind: KindEmpty, Text: f.Empty}
	case bool:
		text := f.No
		if t {
			text = f.Yes
		}
		return Formatted{Kind: KindBool, Text: text, Bool: t}
	case time.Time:
		if t.IsZero() {
			return Formatted{Kind: KindEmpty, Text: f.Empty}
		}
		return Formatted{Kind: KindTime, Text: t.In(f.Location).Format(f.TimeLayout)}
	case *time.Time:
		if t == nil {
			return Formatted{Kind: KindEmpty, Text: f.Empty}
		}
		return f.Format(*t)
	case schema.File:
		return Formatted{Kind: KindFile, Text: t.Name}
	case *schema.File:
		if t == nil {
			return Formatted{Kind: KindEmpty, Text: f.Empty}
		}
		return Formatted{Kind: KindFile, Text: t.Name}
	case string:
		if t == "" {
			return Formatted{Kind: KindEmpty, Text: f.Empty}
		}
		if tm, ok := parseISO(t); ok {
			return Formatted{Kind: KindTime, Text: tm.In(f.Location).Format(f.TimeLayout)}
		}
		return f.text(t)
	case json.Number:
		return Formatted{Kind: KindText, Text: t.String()}
	case float64:
		return Formatted{Kind: KindText, Text: strconv.FormatFloat(t, 'f', -1, 64)}
	case float32:
		return Formatted{Kind: KindText, Text: strconv.FormatFloat(float64(t), 'f', -1, 32)}
	case fmt.Stringer:
		return f.text(t.String())
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct:
		if (rv.Kind() == reflect.Map || rv.Kind() == reflect.Slice) && rv.IsNil() {
			return Formatted{Kind: KindEmpty, Text: f.Empty}
		}
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return f.text(fmt.Sprint(v))
		}
		return Formatted{Kind: KindJSON, Text: string(data)}
	case reflect.Pointer:
		if rv.IsNil() {
			return Formatted{Kind: KindEmpty, Text: f.Empty}
		}
		return f.Format(rv.Elem().Interface())
	}
	return f.text(fmt.Sprint(v))
}

func (f *Formatter) text(s string) Formatted {
	if utf8.RuneCountInString(s) <= f.TruncateAt {
		return Formatted{Kind: KindText, Text: s}
	}
	runes := []rune(s)
	return Formatted{Kind: KindText, Text: string(runes[:f.TruncateAt]) + "…", Truncated: true, Full: s}
}

// HTML 带样式的 HTML 片段
func (v Formatted) HTML() template.HTML {
	switch v.Kind {
	case KindEmpty:
		return template.HTML(`<span class="ck-empty">` + template.HTMLEscapeString(v.Text) + `</span>`)
	case KindBool:
		class := "ck-tag ck-tag-no"
		if v.Bool {
			class = "ck-tag ck-tag-yes"
		}
		return template.HTML(`<span class="` + class + `">` + template.HTMLEscapeString(v.Text) + `</span>`)
	case KindTime:
		return template.HTML(`<time>` + template.HTMLEscapeString(v.Text) + `</time>`)
	case KindJSON:
		return template.HTML(`<pre class="ck-json">` + template.HTMLEscapeString(v.Text) + `</pre>`)
	}
	if v.Truncated {
		return template.HTML(`<details class="ck-expand"><summary>` + template.HTMLEscapeString(v.Text) +
			`</summary>` + template.HTMLEscapeString(v.Full) + `</details>`)
	}
	return template.HTML(template.HTMLEscapeString(v.Text))
}

// FormatValue 使用默认格式化规则
func FormatValue(v any) Formatted {
	return DefaultFormatter().Format(v)
}

func parseISO(s string) (time.Time, bool) {
	if !isoPattern.MatchString(s) {
		return time.Time{}, false
	}
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
