package action

import (
	"context"
	"testing"
	"time"

	"github.com/hatlonely/crudkit/crud/notice"
	"github.com/hatlonely/crudkit/datasource"
	"github.com/hatlonely/crudkit/log"
	"github.com/hatlonely/crudkit/schema"
	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"
)

func TestRunRow(t *testing.T) {
	Convey("行操作", t, func() {
		ctx := context.Background()
		var handled []int64
		var refreshes int
		var fail error
		s := schema.MustNew(&schema.Options[schema.MapRecord]{
			Columns: []schema.Column[schema.MapRecord]{{Key: "name"}},
			RowActions: []schema.RowAction[schema.MapRecord]{
				{
					Key: "archive", Label: "Archive", Confirm: "Archive this record?",
					Visible: func(r schema.MapRecord) bool { return r["status"] != "archived" },
					Handler: func(ctx context.Context, r schema.MapRecord) error {
						if fail != nil {
							return fail
						}
						handled = append(handled, r.GetID())
						return nil
					},
				},
			},
		})
		confirmed := true
		queue := notice.NewQueue(0)
		d := NewDispatcherWithOptions(s, &Options[schema.MapRecord]{
			Confirmer: ConfirmFunc(func(ctx context.Context, message string) bool { return confirmed }),
			Refresh:   func(ctx context.Context) error { refreshes++; return nil },
			Logger:    log.Discard(),
			Notifier:  queue,
		})
		record := schema.MapRecord{"id": 1, "status": "active"}

		Convey("确认后执行并刷新", func() {
			So(d.RunRow(ctx, "archive", record), ShouldBeNil)
			So(handled, ShouldResemble, []int64{1})
			So(refreshes, ShouldEqual, 1)
		})

		Convey("取消确认不执行", func() {
			confirmed = false
			So(d.RunRow(ctx, "archive", record), ShouldEqual, ErrCancelled)
			So(handled, ShouldBeEmpty)
			So(refreshes, ShouldEqual, 0)
		})

		Convey("对记录不可见的操作被拒绝", func() {
			err := d.RunRow(ctx, "archive", schema.MapRecord{"id": 2, "status": "archived"})
			So(errors.Is(err, ErrActionHidden), ShouldBeTrue)
			So(d.VisibleRowActions(schema.MapRecord{"id": 2, "status": "archived"}), ShouldBeEmpty)
		})

		Convey("处理失败时通知且不刷新", func() {
			fail = errors.New("locked")
			So(d.RunRow(ctx, "archive", record), ShouldNotBeNil)
			So(refreshes, ShouldEqual, 0)
			So(queue.Items()[0].Level, ShouldEqual, notice.LevelError)
		})

		Convey("未知操作", func() {
			So(errors.Is(d.RunRow(ctx, "nope", record), ErrActionNotFound), ShouldBeTrue)
		})

		Convey("完成回调替代刷新", func() {
			var completed []string
			d := NewDispatcherWithOptions(s, &Options[schema.MapRecord]{
				Confirmer:  AlwaysConfirm,
				Refresh:    func(ctx context.Context) error { refreshes++; return nil },
				OnComplete: func(ctx context.Context, key string) { completed = append(completed, key) },
				Logger:     log.Discard(),
			})
			So(d.RunRow(ctx, "archive", record), ShouldBeNil)
			So(completed, ShouldResemble, []string{"archive"})
			So(refreshes, ShouldEqual, 0)
		})
	})
}

func TestDeleteAction(t *testing.T) {
	Convey("内置删除", t, func() {
		ctx := context.Background()
		ds := datasource.NewMemoryWithOptions(&datasource.MemoryOptions[schema.MapRecord]{
			Seed: []schema.MapRecord{{"id": int64(1)}, {"id": int64(2)}},
		})
		s := schema.MustNew(&schema.Options[schema.MapRecord]{Columns: []schema.Column[schema.MapRecord]{{Key: "id"}}})

		var asked string
		d := NewDispatcherWithOptions(s, &Options[schema.MapRecord]{
			Confirmer: ConfirmFunc(func(ctx context.Context, message string) bool { asked = message; return true }),
			Extra:     []schema.RowAction[schema.MapRecord]{NewDeleteAction[schema.MapRecord](ds.Delete, "")},
			Logger:    log.Discard(),
		})
		So(d.RowActions(), ShouldHaveLength, 1)
		So(d.RunRow(ctx, DeleteKey, schema.MapRecord{"id": int64(1)}), ShouldBeNil)
		So(asked, ShouldNotBeEmpty)
		So(ds.Len(), ShouldEqual, 1)

		So(errors.Is(d.RunRow(ctx, DeleteKey, schema.MapRecord{"id": int64(1)}), datasource.ErrNotFound), ShouldBeTrue)

		Convey("没有 Confirmer 时需要确认的操作被取消", func() {
			d := NewDispatcherWithOptions(s, &Options[schema.MapRecord]{
				Extra:  []schema.RowAction[schema.MapRecord]{NewDeleteAction[schema.MapRecord](ds.Delete, "Delete?")},
				Logger: log.Discard(),
			})
			So(d.RunRow(ctx, DeleteKey, schema.MapRecord{"id": int64(2)}), ShouldEqual, ErrCancelled)
			So(ds.Len(), ShouldEqual, 1)
		})
	})
}

func TestRunBulk(t *testing.T) {
	Convey("批量操作", t, func() {
		ctx := context.Background()
		page := []schema.MapRecord{{"id": 1}, {"id": 2}, {"id": 3}}
		var calls [][]int64
		var fail error
		var block chan struct{}
		s := schema.MustNew(&schema.Options[schema.MapRecord]{
			Columns: []schema.Column[schema.MapRecord]{{Key: "id"}},
			BulkActions: []schema.BulkAction[schema.MapRecord]{{
				Key: "export", Label: "Export",
				Handler: func(ctx context.Context, records []schema.MapRecord) error {
					if block != nil {
						<-block
					}
					var ids []int64
					for _, r := range records {
						ids = append(ids, r.GetID())
					}
					calls = append(calls, ids)
					return fail
				},
			}},
		})
		var refreshes int
		queue := notice.NewQueue(0)
		d := NewDispatcherWithOptions(s, &Options[schema.MapRecord]{
			Records:  func() []schema.MapRecord { return page },
			Refresh:  func(ctx context.Context) error { refreshes++; return nil },
			Logger:   log.Discard(),
			Notifier: queue,
		})

		Convey("未选中任何记录时警告且不调用处理函数", func() {
			So(d.RunBulk(ctx, "export"), ShouldEqual, ErrEmptySelection)
			So(calls, ShouldBeEmpty)
			items := queue.Items()
			So(items, ShouldHaveLength, 1)
			So(items[0].Level, ShouldEqual, notice.LevelWarning)
		})

		Convey("只作用于当前页中的选中记录", func() {
			d.Select(3, true)
			d.Select(1, true)
			d.Select(99, true)
			So(d.Selection(), ShouldResemble, []int64{1, 3, 99})

			So(d.RunBulk(ctx, "export"), ShouldBeNil)
			So(calls, ShouldResemble, [][]int64{{1, 3}})
			So(d.Selection(), ShouldBeEmpty)
			So(refreshes, ShouldEqual, 1)
		})

		Convey("失败时保留选中", func() {
			fail = errors.New("quota exceeded")
			d.SelectAll()
			So(d.RunBulk(ctx, "export"), ShouldNotBeNil)
			So(d.Selection(), ShouldResemble, []int64{1, 2, 3})
			So(refreshes, ShouldEqual, 0)
			So(queue.Items()[0].Level, ShouldEqual, notice.LevelError)
		})

		Convey("执行期间拒绝第二个批量操作", func() {
			block = make(chan struct{})
			d.Select(2, true)
			done := make(chan error, 1)
			go func() { done <- d.RunBulk(ctx, "export") }()

			deadline := time.Now().Add(2 * time.Second)
			for !d.Busy() && time.Now().Before(deadline) {
				time.Sleep(time.Millisecond)
			}
			So(d.Busy(), ShouldBeTrue)
			So(d.RunBulk(ctx, "export"), ShouldEqual, ErrBusy)

			close(block)
			So(<-done, ShouldBeNil)
			So(d.Busy(), ShouldBeFalse)
		})

		Convey("取消选中", func() {
			d.Select(1, true)
			So(d.IsSelected(1), ShouldBeTrue)
			d.Select(1, false)
			So(d.IsSelected(1), ShouldBeFalse)
			d.SelectAll()
			d.ClearSelection()
			So(d.Selected(), ShouldBeEmpty)
		})
	})
}
