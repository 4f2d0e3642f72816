package form

import (
	"context"
	"testing"

	"github.com/hatlonely/crudkit/crud/notice"
	"github.com/hatlonely/crudkit/datasource"
	"github.com/hatlonely/crudkit/log"
	"github.com/hatlonely/crudkit/schema"
	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"
)

func float64Ptr(f float64) *float64 { return &f }

func transactionSchema() *schema.Schema[schema.MapRecord] {
	return schema.MustNew(&schema.Options[schema.MapRecord]{
		Columns: []schema.Column[schema.MapRecord]{{Key: "description"}},
		Fields: []schema.Field{
			{Name: "type", Kind: schema.FieldSelect, Required: true, Options: []schema.Option{
				{Label: "Income", Value: "income"}, {Label: "Expense", Value: "expense"}, {Label: "Transfer", Value: "transfer"},
			}},
			{Name: "amount", Kind: schema.FieldNumber, Required: true, Min: float64Ptr(0), Max: float64Ptr(10000)},
			{Name: "to_account_id", Kind: schema.FieldNumber, Required: true, Visible: schema.Equals("type", "transfer")},
			{Name: "description", Kind: schema.FieldText},
			{Name: "email", Kind: schema.FieldText, Rules: "email"},
			{Name: "reconciled", Kind: schema.FieldBoolean},
		},
	})
}

func documentSchema() *schema.Schema[schema.MapRecord] {
	return schema.MustNew(&schema.Options[schema.MapRecord]{
		Columns: []schema.Column[schema.MapRecord]{{Key: "name"}},
		Fields: []schema.Field{
			{Name: "file", Kind: schema.FieldFile, Required: true},
			{Name: "name", Kind: schema.FieldText, Dependencies: []string{"file"}},
			{Name: "note", Kind: schema.FieldText},
		},
	})
}

func TestVisibility(t *testing.T) {
	Convey("依赖字段的可见性", t, func() {
		c := NewControllerWithOptions[schema.MapRecord](transactionSchema(), datasource.NewMemoryWithOptions[schema.MapRecord](nil), &Options[schema.MapRecord]{Logger: log.Discard()})
		c.OpenCreate()
		So(c.Visible("to_account_id"), ShouldBeFalse)

		_, err := c.SetValue("amount", 12)
		So(err, ShouldBeNil)
		_, err = c.SetValue("to_account_id", 7)
		So(err, ShouldBeNil)
		before := c.Values()

		flipped, err := c.SetValue("type", "transfer")
		So(err, ShouldBeNil)
		So(flipped, ShouldResemble, []string{"to_account_id"})
		So(c.Visible("to_account_id"), ShouldBeTrue)

		after := c.Values()
		delete(before, "type")
		delete(after, "type")
		So(after, ShouldResemble, before)

		flipped, err = c.SetValue("type", "expense")
		So(err, ShouldBeNil)
		So(flipped, ShouldResemble, []string{"to_account_id"})
		So(c.Value("to_account_id"), ShouldEqual, 7)

		flipped, err = c.SetValue("description", "lunch")
		So(err, ShouldBeNil)
		So(flipped, ShouldBeEmpty)

		Convey("隐藏字段不参与校验", func() {
			_, _ = c.SetValue("to_account_id", nil)
			So(c.Validate(), ShouldBeNil)
		})

		Convey("表单关闭后不能修改", func() {
			c.Close()
			_, err := c.SetValue("type", "income")
			So(err, ShouldEqual, ErrFormClosed)
		})
	})
}

func TestValidate(t *testing.T) {
	Convey("校验", t, func() {
		c := NewControllerWithOptions[schema.MapRecord](transactionSchema(), datasource.NewMemoryWithOptions[schema.MapRecord](nil), nil)
		c.OpenCreate()

		err := c.Validate()
		var verr *ValidationError
		So(errors.As(err, &verr), ShouldBeTrue)
		So(verr.Fields, ShouldContainKey, "type")
		So(verr.Fields, ShouldContainKey, "amount")
		So(verr.Fields, ShouldNotContainKey, "to_account_id")

		_, _ = c.SetValue("type", "refund")
		_, _ = c.SetValue("amount", 20000)
		_, _ = c.SetValue("email", "not-an-email")
		So(c.Validate(), ShouldNotBeNil)
		errs := c.Errors()
		So(errs["type"], ShouldEqual, "is not a valid option")
		So(errs["amount"], ShouldEqual, "must be at most 10000")
		So(errs["email"], ShouldEqual, "failed on the 'email' rule")

		_, _ = c.SetValue("type", "income")
		_, _ = c.SetValue("amount", "abc")
		_, _ = c.SetValue("email", "a@b.com")
		So(c.Validate(), ShouldNotBeNil)
		So(c.Errors(), ShouldResemble, map[string]string{"amount": "must be a number"})

		_, _ = c.SetValue("amount", -1)
		So(c.Validate(), ShouldNotBeNil)
		So(c.Errors()["amount"], ShouldEqual, "must be at least 0")

		_, _ = c.SetValue("amount", "15.5")
		So(c.Validate(), ShouldBeNil)
	})
}

func TestSubmitCreate(t *testing.T) {
	Convey("创建", t, func() {
		ctx := context.Background()
		queue := notice.NewQueue(0)
		var submitted []Mode
		var closed []Mode
		ds := datasource.NewMemoryWithOptions(&datasource.MemoryOptions[schema.MapRecord]{Unique: []string{"description"}})

		var fail error
		mutator := &datasource.Funcs[schema.MapRecord]{
			CreateFunc: func(ctx context.Context, data map[string]any) (schema.MapRecord, error) {
				if fail != nil {
					return nil, fail
				}
				return ds.Create(ctx, data)
			},
		}
		c := NewControllerWithOptions[schema.MapRecord](transactionSchema(), mutator, &Options[schema.MapRecord]{
			Logger:      log.Discard(),
			Notifier:    queue,
			OnClose:     func(mode Mode) { closed = append(closed, mode) },
			OnSubmitted: func(ctx context.Context, mode Mode, record schema.MapRecord) { submitted = append(submitted, mode) },
		})
		c.OpenCreate()
		_, _ = c.SetValue("type", "income")
		_, _ = c.SetValue("amount", 100)
		_, _ = c.SetValue("description", "salary")

		Convey("成功后关闭表单并触发刷新", func() {
			record, err := c.Submit(ctx)
			So(err, ShouldBeNil)
			So(record.GetID(), ShouldEqual, 1)
			So(record["reconciled"], ShouldEqual, false)
			So(c.Mode(), ShouldEqual, ModeClosed)
			So(submitted, ShouldResemble, []Mode{ModeCreate})
			So(closed, ShouldResemble, []Mode{ModeCreate})
			So(ds.Len(), ShouldEqual, 1)
		})

		Convey("失败时保持打开且取值不变", func() {
			fail = errors.New("service unavailable")
			before := c.Values()
			_, err := c.Submit(ctx)
			So(err, ShouldNotBeNil)
			So(c.Mode(), ShouldEqual, ModeCreate)
			So(c.Values(), ShouldResemble, before)
			So(submitted, ShouldBeEmpty)
			So(closed, ShouldBeEmpty)
			items := queue.Items()
			So(items, ShouldHaveLength, 1)
			So(items[0].Level, ShouldEqual, notice.LevelError)
		})

		Convey("不可处理实体错误映射到字段", func() {
			_, err := ds.Create(ctx, map[string]any{"description": "salary"})
			So(err, ShouldBeNil)
			_, err = c.Submit(ctx)
			So(datasource.IsUnprocessable(err), ShouldBeTrue)
			So(c.Mode(), ShouldEqual, ModeCreate)
			So(c.Errors()["description"], ShouldEqual, "already exists")
		})

		Convey("校验失败不调用数据源", func() {
			_, _ = c.SetValue("amount", nil)
			_, err := c.Submit(ctx)
			var verr *ValidationError
			So(errors.As(err, &verr), ShouldBeTrue)
			So(ds.Len(), ShouldEqual, 0)
			So(queue.Len(), ShouldEqual, 0)
		})
	})
}

func TestSubmitEditIdempotent(t *testing.T) {
	Convey("未修改的编辑提交与 Transform 结果一致", t, func() {
		ctx := context.Background()
		var payload map[string]any
		var updatedID int64
		mutator := &datasource.Funcs[schema.MapRecord]{
			UpdateFunc: func(ctx context.Context, id int64, data map[string]any) (schema.MapRecord, error) {
				updatedID = id
				payload = data
				return schema.MapRecord(data), nil
			},
		}
		original := schema.MapRecord{"id": int64(3), "type": "expense", "amount": 42.5, "description": "taxi", "created_at": "2024-01-02T03:04:05Z"}

		Convey("默认 Transform", func() {
			c := NewControllerWithOptions[schema.MapRecord](transactionSchema(), mutator, nil)
			c.OpenEdit(original)
			So(c.Value("reconciled"), ShouldEqual, false)
			So(c.Value("email"), ShouldEqual, "")

			_, err := c.Submit(ctx)
			So(err, ShouldBeNil)
			So(updatedID, ShouldEqual, 3)
			So(payload, ShouldResemble, IdentityTransform(original))
		})

		Convey("自定义 Transform", func() {
			transform := func(r schema.MapRecord) map[string]any {
				return map[string]any{"type": r["type"], "amount": r["amount"]}
			}
			c := NewControllerWithOptions[schema.MapRecord](transactionSchema(), mutator, &Options[schema.MapRecord]{Transform: transform})
			c.OpenEdit(original)
			_, err := c.Submit(ctx)
			So(err, ShouldBeNil)
			So(payload, ShouldResemble, transform(original))

			Convey("修改过的推断字段会被发送", func() {
				c.OpenEdit(original)
				_, _ = c.SetValue("reconciled", true)
				_, err := c.Submit(ctx)
				So(err, ShouldBeNil)
				So(payload["reconciled"], ShouldEqual, true)
			})
		})
	})
}

func TestFileField(t *testing.T) {
	Convey("文件字段", t, func() {
		ctx := context.Background()
		ds := datasource.NewMemoryWithOptions[schema.MapRecord](nil)

		Convey("创建时必填", func() {
			c := NewControllerWithOptions[schema.MapRecord](documentSchema(), ds, nil)
			c.OpenCreate()
			_, err := c.Submit(ctx)
			var verr *ValidationError
			So(errors.As(err, &verr), ShouldBeTrue)
			So(verr.Fields, ShouldContainKey, "file")
			So(ds.Len(), ShouldEqual, 0)
		})

		Convey("编辑时可以不重新上传", func() {
			record, err := ds.Create(ctx, map[string]any{"name": "report"})
			So(err, ShouldBeNil)
			c := NewControllerWithOptions[schema.MapRecord](documentSchema(), ds, nil)
			c.OpenEdit(record)
			_, err = c.Submit(ctx)
			So(err, ShouldBeNil)
		})

		Convey("选择文件填充声明依赖的空字段", func() {
			c := NewControllerWithOptions[schema.MapRecord](documentSchema(), ds, nil)
			c.OpenCreate()
			file := &schema.File{Name: "q1.report.pdf", ContentType: "application/pdf", Data: []byte("%PDF")}
			_, err := c.SelectFile("file", file)
			So(err, ShouldBeNil)
			So(c.Value("name"), ShouldEqual, "q1.report")
			So(c.Value("note"), ShouldEqual, "")

			record, err := c.Submit(ctx)
			So(err, ShouldBeNil)
			So(record["file"], ShouldEqual, file)

			Convey("已有值不会被覆盖", func() {
				c.OpenCreate()
				_, _ = c.SetValue("name", "custom")
				_, _ = c.SelectFile("file", &schema.File{Name: "other.csv"})
				So(c.Value("name"), ShouldEqual, "custom")
			})
		})

		Convey("非文件字段", func() {
			c := NewControllerWithOptions[schema.MapRecord](documentSchema(), ds, nil)
			c.OpenCreate()
			_, err := c.SelectFile("name", &schema.File{Name: "x"})
			So(err, ShouldNotBeNil)
		})
	})
}

func TestTransitions(t *testing.T) {
	Convey("打开和关闭回调", t, func() {
		var events []string
		c := NewControllerWithOptions[schema.MapRecord](documentSchema(), datasource.NewMemoryWithOptions[schema.MapRecord](nil), &Options[schema.MapRecord]{
			OnOpen: func(mode Mode, target *schema.MapRecord) {
				events = append(events, "open:"+mode.String())
			},
			OnClose: func(mode Mode) { events = append(events, "close:"+mode.String()) },
		})

		c.OpenCreate()
		c.OpenEdit(schema.MapRecord{"id": 1})
		target, ok := c.Target()
		So(ok, ShouldBeTrue)
		So(target.GetID(), ShouldEqual, 1)
		c.Close()
		c.Close()
		So(events, ShouldResemble, []string{"open:create", "close:create", "open:edit", "close:edit"})
		So(c.Snapshot().Mode, ShouldEqual, ModeClosed)
	})
}
