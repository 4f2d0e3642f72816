package view

import (
	"bytes"
	"embed"
	"html/template"
	"io"
	"strconv"

	"github.com/hatlonely/crudkit/schema"
	"github.com/pkg/errors"
)

//go:embed templates/*.html
var templateFS embed.FS

// TemplateFuncs 模板中可用的辅助函数
func TemplateFuncs() template.FuncMap {
	return template.FuncMap{
		"add":       func(a, b int) int { return a + b },
		"sub":       func(a, b int) int { return a - b },
		"kind":      func(k schema.FilterKind) string { return string(k) },
		"fieldKind": func(k schema.FieldKind) string { return string(k) },
		"deref": func(f *float64) string {
			if f == nil {
				return ""
			}
			return strconv.FormatFloat(*f, 'f', -1, 64)
		},
		"colspan": func(g Grid) int {
			n := len(g.Columns)
			if g.Selectable {
				n++
			}
			if g.HasActions {
				n++
			}
			return n
		},
	}
}

func parseTemplates() (*template.Template, error) {
	tmpl, err := template.New("crudkit").Funcs(TemplateFuncs()).ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, errors.Wrap(err, "template.ParseFS failed")
	}
	return tmpl, nil
}

func (r *Renderer[T]) execute(w io.Writer, name string, data any) error {
	if err := r.templates.ExecuteTemplate(w, name, data); err != nil {
		return errors.Wrapf(err, "execute template %s failed", name)
	}
	return nil
}

func (r *Renderer[T]) RenderGrid(w io.Writer, g Grid) error {
	return r.execute(w, "ck_grid", g)
}

func (r *Renderer[T]) RenderCards(w io.Writer, c CardList) error {
	return r.execute(w, "ck_cards", c)
}

func (r *Renderer[T]) RenderDetail(w io.Writer, d Detail) error {
	return r.execute(w, "ck_detail", d)
}

func (r *Renderer[T]) RenderForm(w io.Writer, f FormView) error {
	return r.execute(w, "ck_form", f)
}

// Render 按宽窄布局渲染列表
func (r *Renderer[T]) Render(w io.Writer, in Input[T], narrow bool) error {
	if narrow {
		return r.RenderCards(w, r.Cards(in))
	}
	return r.RenderGrid(w, r.Grid(in))
}

// HTML 渲染为字符串片段
func (r *Renderer[T]) HTML(in Input[T], narrow bool) (template.HTML, error) {
	var buf bytes.Buffer
	if err := r.Render(&buf, in, narrow); err != nil {
		return "", err
	}
	return template.HTML(buf.String()), nil
}
