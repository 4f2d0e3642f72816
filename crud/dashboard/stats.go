package dashboard

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/pkg/errors"
)

// Tone 指标的颜色倾向
type Tone string

const (
	ToneNeutral  Tone = ""
	TonePositive Tone = "positive"
	ToneNegative Tone = "negative"
)

// Stat 一个指标卡片
type Stat struct {
	Key   string
	Label string
	Value any
	// Text 展示文本，为空时使用 Value 的默认格式
	Text string
	Tone Tone
}

// Display 卡片上显示的文本
func (s Stat) Display() string {
	if s.Text != "" {
		return s.Text
	}
	switch v := s.Value.(type) {
	case nil:
		return "-"
	case float64:
		return fmt.Sprintf("%.2f", v)
	case float32:
		return fmt.Sprintf("%.2f", v)
	}
	return fmt.Sprint(s.Value)
}

// Panel 看板视图模型
type Panel struct {
	Title   string
	Columns int
	Stats   []Stat
	// Loading 为 true 时显示遮罩
	Loading bool
	// Error 非空时显示重试入口
	Error     string
	DateRange bool
	// FromKey, ToKey 日期输入框的参数名
	FromKey string
	ToKey   string
	From    string
	To      string
}

// Summary 财务汇总数据
type Summary struct {
	Income  float64 `json:"income" yaml:"income"`
	Expense float64 `json:"expense" yaml:"expense"`
	Net     float64 `json:"net" yaml:"net"`
	Count   int64   `json:"count" yaml:"count"`
}

// FinancialSummary 固定四项指标的财务看板：收入、支出、净额、笔数
type FinancialSummary struct {
	*Adapter[Summary]
}

func NewFinancialSummaryWithOptions(options *Options[Summary]) (*FinancialSummary, error) {
	a, err := NewAdapterWithOptions(options)
	if err != nil {
		return nil, err
	}
	return &FinancialSummary{Adapter: a}, nil
}

func (f *FinancialSummary) Stats() []Stat {
	s, ok := f.Payload()
	if !ok {
		return nil
	}
	net := ToneNeutral
	switch {
	case s.Net > 0:
		net = TonePositive
	case s.Net < 0:
		net = ToneNegative
	}
	return []Stat{
		{Key: "income", Label: "Income", Value: s.Income, Tone: TonePositive},
		{Key: "expense", Label: "Expense", Value: s.Expense, Tone: ToneNegative},
		{Key: "net", Label: "Net", Value: s.Net, Tone: net},
		{Key: "count", Label: "Count", Value: s.Count},
	}
}

func (f *FinancialSummary) Panel() Panel {
	return f.panel(f.Stats())
}

func (f *FinancialSummary) Render(w io.Writer) error {
	return renderPanel(w, f.Panel())
}

// StatList 由调用方的渲染函数把一次获取的数据转换为任意指标列表
type StatList[P any] struct {
	*Adapter[P]
	render func(payload P) []Stat
}

func NewStatListWithOptions[P any](options *Options[P], render func(payload P) []Stat) (*StatList[P], error) {
	if render == nil {
		return nil, errors.New("stat list render function is required")
	}
	a, err := NewAdapterWithOptions(options)
	if err != nil {
		return nil, err
	}
	return &StatList[P]{Adapter: a, render: render}, nil
}

func (l *StatList[P]) Stats() []Stat {
	p, ok := l.Payload()
	if !ok {
		return nil
	}
	return l.render(p)
}

func (l *StatList[P]) Panel() Panel {
	return l.panel(l.Stats())
}

func (l *StatList[P]) Render(w io.Writer) error {
	return renderPanel(w, l.Panel())
}

//go:embed templates/*.html
var templateFS embed.FS

var panelTemplate = template.Must(template.New("dashboard").ParseFS(templateFS, "templates/*.html"))

func renderPanel(w io.Writer, p Panel) error {
	if err := panelTemplate.ExecuteTemplate(w, "ck_dashboard", p); err != nil {
		return errors.Wrap(err, "execute template ck_dashboard failed")
	}
	return nil
}

// HTML 渲染为字符串片段
func HTML(p Panel) (template.HTML, error) {
	var buf bytes.Buffer
	if err := renderPanel(&buf, p); err != nil {
		return "", err
	}
	return template.HTML(buf.String()), nil
}

func dateText(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02")
}
