package view

import (
	"bytes"
	"context"
	"html/template"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/hatlonely/crudkit/crud/form"
	"github.com/hatlonely/crudkit/crud/query"
	"github.com/hatlonely/crudkit/schema"
	. "github.com/smartystreets/goconvey/convey"
)

func noop(ctx context.Context, r schema.MapRecord) error { return nil }

func testSchema(bulk bool) *schema.Schema[schema.MapRecord] {
	options := &schema.Options[schema.MapRecord]{
		Title: "Accounts",
		Columns: []schema.Column[schema.MapRecord]{
			{Key: "name", Title: "Name", Sortable: true},
			{Key: "status", Title: "Status"},
			{Key: "amount", Title: "Amount", Sortable: true},
			{Key: "active", Title: "Active"},
			{Key: "created_at", Title: "Created"},
		},
	}
	if bulk {
		options.BulkActions = []schema.BulkAction[schema.MapRecord]{{
			Key: "export", Label: "Export",
			Handler: func(ctx context.Context, records []schema.MapRecord) error { return nil },
		}}
	}
	return schema.MustNew(options)
}

func testRecords() []schema.MapRecord {
	return []schema.MapRecord{
		{"id": int64(1), "name": "bob", "status": "active", "amount": 30.0, "active": true, "created_at": "2024-01-02T03:04:05Z", "note": "n1"},
		{"id": int64(2), "name": "alice", "status": "locked", "amount": 10.0, "active": false, "created_at": "2024-01-03T03:04:05Z"},
		{"id": int64(3), "name": "carol", "status": "active", "amount": nil, "active": true},
	}
}

func newRenderer() *Renderer[schema.MapRecord] {
	r, err := NewRendererWithOptions[schema.MapRecord](&Options{Location: time.UTC})
	So(err, ShouldBeNil)
	return r
}

func TestGrid(t *testing.T) {
	Convey("宽屏表格", t, func() {
		r := newRenderer()
		in := Input[schema.MapRecord]{
			Schema:     testSchema(false),
			Records:    testRecords(),
			Pagination: query.Pagination{Page: 1, PageSize: 3, Total: 3},
		}

		Convey("N 列且没有操作列", func() {
			g := r.Grid(in)
			So(g.Columns, ShouldHaveLength, 5)
			So(g.HasActions, ShouldBeFalse)
			So(g.Selectable, ShouldBeFalse)
			So(g.Rows[0].Cells, ShouldHaveLength, 5)
			So(g.Rows[0].Actions, ShouldBeEmpty)
			So(g.Pager.HasNext, ShouldBeTrue)
			So(g.Pager.HasPrev, ShouldBeFalse)
		})

		Convey("启用编辑时有操作列", func() {
			in.EditEnabled = true
			g := r.Grid(in)
			So(g.HasActions, ShouldBeTrue)
			So(g.Rows[0].Actions[0].Key, ShouldEqual, EditKey)

			var buf bytes.Buffer
			So(r.RenderGrid(&buf, g), ShouldBeNil)
			So(strings.Count(buf.String(), "</th>"), ShouldEqual, 6)
			So(buf.String(), ShouldNotContainSubstring, `type="checkbox"`)
		})

		Convey("行操作按记录可见性过滤", func() {
			in.RowActions = []schema.RowAction[schema.MapRecord]{{
				Key: "lock", Label: "Lock", Handler: noop,
				Visible: func(r schema.MapRecord) bool { return r["status"] != "locked" },
			}}
			g := r.Grid(in)
			So(g.HasActions, ShouldBeTrue)
			So(g.Rows[0].Actions, ShouldHaveLength, 1)
			So(g.Rows[1].Actions, ShouldBeEmpty)
		})

		Convey("配置了批量操作才有选择框", func() {
			in.Schema = testSchema(true)
			in.Selected = func(id int64) bool { return id == 2 }
			g := r.Grid(in)
			So(g.Selectable, ShouldBeTrue)
			So(g.Rows[1].Selected, ShouldBeTrue)
			So(g.Rows[0].Selected, ShouldBeFalse)

			var buf bytes.Buffer
			So(r.RenderGrid(&buf, g), ShouldBeNil)
			So(buf.String(), ShouldContainSubstring, `data-select="all"`)
			So(buf.String(), ShouldContainSubstring, `data-select="2" checked`)
		})

		Convey("当前页按可排序列排序", func() {
			in.Sort = query.Sort{Key: "name"}
			g := r.Grid(in)
			So(g.Rows[0].ID, ShouldEqual, 2)
			So(g.Rows[2].ID, ShouldEqual, 3)
			So(g.Columns[0].SortDir, ShouldEqual, "asc")

			in.Sort = query.Sort{Key: "amount", Desc: true}
			g = r.Grid(in)
			So(g.Rows[0].ID, ShouldEqual, 1)
			So(g.Rows[2].ID, ShouldEqual, 3)

			in.Sort = query.Sort{Key: "status"}
			g = r.Grid(in)
			So(g.Rows[0].ID, ShouldEqual, 1)
		})

		Convey("单元格格式化", func() {
			g := r.Grid(in)
			So(string(g.Rows[0].Cells[3].HTML), ShouldContainSubstring, "Yes")
			So(string(g.Rows[1].Cells[3].HTML), ShouldContainSubstring, "No")
			So(string(g.Rows[0].Cells[4].HTML), ShouldEqual, "<time>2024-01-02 03:04:05</time>")
			So(string(g.Rows[2].Cells[2].HTML), ShouldContainSubstring, "ck-empty")
		})

		Convey("自定义单元格渲染", func() {
			in.Schema = schema.MustNew(&schema.Options[schema.MapRecord]{
				Columns: []schema.Column[schema.MapRecord]{{
					Key: "name",
					Render: schema.RenderFunc[schema.MapRecord](func(v any, r schema.MapRecord) template.HTML {
						return template.HTML("<b>" + template.HTMLEscapeString(v.(string)) + "</b>")
					}),
				}},
			})
			g := r.Grid(in)
			So(string(g.Rows[0].Cells[0].HTML), ShouldEqual, "<b>bob</b>")
		})
	})
}

func TestCards(t *testing.T) {
	Convey("窄屏卡片", t, func() {
		r := newRenderer()
		in := Input[schema.MapRecord]{
			Schema:      testSchema(true),
			Records:     testRecords(),
			Pagination:  query.Pagination{Page: 2, PageSize: 10, Total: 3},
			EditEnabled: true,
		}
		list := r.Cards(in)
		So(list.Cards, ShouldHaveLength, 3)
		So(string(list.Cards[0].Primary.HTML), ShouldEqual, "bob")
		So(list.Cards[0].Fields, ShouldHaveLength, 3)
		So(list.Cards[0].Fields[0].Key, ShouldEqual, "status")
		So(list.Cards[0].Actions[0].Key, ShouldEqual, EditKey)
		So(list.Selectable, ShouldBeTrue)
		So(list.Pager.HasPrev, ShouldBeTrue)
		So(list.Pager.HasNext, ShouldBeFalse)

		var buf bytes.Buffer
		So(r.Render(&buf, in, true), ShouldBeNil)
		So(buf.String(), ShouldContainSubstring, `class="ck-card"`)
		So(buf.String(), ShouldNotContainSubstring, "<table>")
	})
}

func TestDetail(t *testing.T) {
	Convey("详情", t, func() {
		r := newRenderer()
		s := testSchema(false)
		record := testRecords()[0]
		record["updated_at"] = "2024-02-01T00:00:00Z"
		record["extra"] = map[string]any{"a": 1}

		d := r.Detail(s, record, false)
		So(d.Surface, ShouldEqual, SurfaceModal)
		So(r.Detail(s, record, true).Surface, ShouldEqual, SurfaceDrawer)

		var keys []string
		for _, item := range d.Items {
			keys = append(keys, item.Key)
		}
		So(keys, ShouldResemble, []string{"name", "status", "amount", "active", "extra", "note", "id", "created_at", "updated_at"})
		for _, item := range d.Items[:6] {
			So(item.Muted, ShouldBeFalse)
		}
		for _, item := range d.Items[6:] {
			So(item.Muted, ShouldBeTrue)
		}
		So(string(d.Items[4].HTML), ShouldContainSubstring, "ck-json")

		var buf bytes.Buffer
		So(r.RenderDetail(&buf, d), ShouldBeNil)
		So(buf.String(), ShouldContainSubstring, "ck-muted")
	})

	Convey("非 ASCII 键的标签", t, func() {
		r := newRenderer()
		s := schema.MustNew(&schema.Options[schema.MapRecord]{
			Columns: []schema.Column[schema.MapRecord]{{Key: "名称"}},
		})
		d := r.Detail(s, schema.MapRecord{"id": int64(1), "名称": "现金", "备注": "日常", "état": "ok"}, false)

		labels := map[string]string{}
		for _, item := range d.Items {
			So(utf8.ValidString(item.Label), ShouldBeTrue)
			labels[item.Key] = item.Label
		}
		So(labels["名称"], ShouldEqual, "名称")
		So(labels["备注"], ShouldEqual, "备注")
		So(labels["état"], ShouldEqual, "État")
		So(humanize("created_at"), ShouldEqual, "Created at")
	})
}

func TestForm(t *testing.T) {
	Convey("表单视图", t, func() {
		r := newRenderer()
		s := schema.MustNew(&schema.Options[schema.MapRecord]{
			Title:   "Account",
			Columns: []schema.Column[schema.MapRecord]{{Key: "name"}},
			Fields: []schema.Field{
				{Name: "name", Required: true},
				{Name: "kind", Kind: schema.FieldSelect, Options: []schema.Option{{Label: "A", Value: "a"}, {Label: "B", Value: "b"}}},
				{Name: "avatar", Kind: schema.FieldFile, Required: true},
				{Name: "secret", Kind: schema.FieldSecret},
			},
		})
		state := form.State[schema.MapRecord]{
			Mode:    form.ModeEdit,
			Values:  map[string]any{"name": "bob", "kind": "b", "secret": "x"},
			Visible: map[string]bool{"name": true, "kind": true, "avatar": true},
			Errors:  map[string]string{"name": "is required"},
		}

		fv := r.Form(s, state, nil, true)
		So(fv.Title, ShouldEqual, "Edit Account")
		So(fv.Surface, ShouldEqual, SurfaceDrawer)
		So(fv.Fields, ShouldHaveLength, 3)
		So(fv.Fields[0].Error, ShouldEqual, "is required")
		So(fv.Fields[1].Options[1].Selected, ShouldBeTrue)
		So(fv.Fields[2].Required, ShouldBeFalse)

		state.Mode = form.ModeCreate
		So(r.Form(s, state, nil, false).Fields[2].Required, ShouldBeTrue)

		var buf bytes.Buffer
		So(r.RenderForm(&buf, fv), ShouldBeNil)
		So(buf.String(), ShouldContainSubstring, `type="file"`)
		So(buf.String(), ShouldNotContainSubstring, `name="secret"`)
	})
}

func TestFormat(t *testing.T) {
	Convey("值格式化", t, func() {
		f := &Formatter{Location: time.UTC}
		So(f.Format(true).Text, ShouldEqual, "Yes")
		So(f.Format(false).Text, ShouldEqual, "No")
		So(f.Format(nil).Kind, ShouldEqual, KindEmpty)
		So(f.Format("").Kind, ShouldEqual, KindEmpty)
		So(f.Format("2024-01-31T10:00:00Z").Text, ShouldEqual, "2024-01-31 10:00:00")
		So(f.Format("2024-01-31").Kind, ShouldEqual, KindText)
		So(f.Format(map[string]any{"a": 1}).Text, ShouldEqual, "{\n  \"a\": 1\n}")
		So(f.Format([]int{1, 2}).Kind, ShouldEqual, KindJSON)
		So(f.Format(&schema.File{Name: "a.png"}).Text, ShouldEqual, "a.png")
		So(f.Format(12.5).Text, ShouldEqual, "12.5")

		long := strings.Repeat("字", 130)
		v := f.Format(long)
		So(v.Truncated, ShouldBeTrue)
		So(v.Full, ShouldEqual, long)
		So(len([]rune(v.Text)), ShouldEqual, 121)
		So(string(v.HTML()), ShouldStartWith, `<details class="ck-expand">`)

		So(string(FormatValue("<b>").HTML()), ShouldEqual, "&lt;b&gt;")
	})
}

func TestFilterViews(t *testing.T) {
	Convey("过滤器控件", t, func() {
		from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		to := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)
		views := FilterViews([]schema.Filter{
			{Key: "status", Kind: schema.FilterSelect, Options: []schema.Option{{Label: "Active", Value: "active"}}},
			{Key: "created_at", Kind: schema.FilterDateRange},
			{Key: "q", Kind: schema.FilterText},
		}, map[string]any{
			"status":     "active",
			"created_at": query.Range{From: from, To: to},
		}, nil)
		So(views, ShouldHaveLength, 3)
		So(views[0].Options[0].Selected, ShouldBeTrue)
		So(views[1].From, ShouldEqual, "2024-01-01")
		So(views[1].To, ShouldEqual, "2024-01-31")
		So(views[1].Label, ShouldEqual, "Created at")
		So(views[2].Value, ShouldEqual, "")
	})
}

func TestViewport(t *testing.T) {
	Convey("视口", t, func() {
		w := NewWindow(1024)
		v := NewViewport(w, 0)
		So(v.Breakpoint(), ShouldEqual, DefaultBreakpoint)

		var changes []bool
		v.OnChange(func(narrow bool) { changes = append(changes, narrow) })

		v.Mount()
		v.Mount()
		So(w.Subscribers(), ShouldEqual, 1)
		So(v.Narrow(), ShouldBeFalse)

		w.Resize(500)
		So(v.Narrow(), ShouldBeTrue)
		w.Resize(600)
		w.Resize(800)
		So(changes, ShouldResemble, []bool{true, false})

		v.Unmount()
		So(w.Subscribers(), ShouldEqual, 0)
		w.Resize(300)
		So(v.Width(), ShouldEqual, 800)
	})
}
