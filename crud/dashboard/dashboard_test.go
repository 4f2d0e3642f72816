package dashboard

import (
	"bytes"
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hatlonely/crudkit/crud/fetch"
	"github.com/hatlonely/crudkit/crud/notice"
	"github.com/hatlonely/crudkit/crud/query"
	"github.com/hatlonely/crudkit/crud/view"
	"github.com/hatlonely/crudkit/log"
	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"
)

func TestFinancialSummary(t *testing.T) {
	Convey("财务看板", t, func() {
		ctx := context.Background()
		var calls []map[string]any
		var fail error
		tableFilters := map[string]any{
			"status":     "active",
			"created_at": query.Range{From: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
			"empty":      "",
		}
		queue := notice.NewQueue(0)
		window := view.NewWindow(1200)
		viewport := view.NewViewport(window, 0)
		viewport.Mount()

		d, err := NewFinancialSummaryWithOptions(&Options[Summary]{
			Title:     "Summary",
			DateRange: true,
			Extra:     map[string]any{"currency": "USD", "status": "all"},
			Filters:   func() map[string]any { return tableFilters },
			Viewport:  viewport,
			Logger:    log.Discard(),
			Notifier:  queue,
			Fetch: func(ctx context.Context, params map[string]any) (Summary, error) {
				calls = append(calls, params)
				if fail != nil {
					return Summary{}, fail
				}
				return Summary{Income: 1200, Expense: 200.5, Net: 999.5, Count: 7}, nil
			},
		})
		So(err, ShouldBeNil)

		Convey("日期范围序列化为 ISO 字符串并与表格过滤条件合并", func() {
			So(d.SetDateRange(ctx, query.Range{
				From: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
				To:   time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
			}), ShouldBeNil)
			So(calls, ShouldHaveLength, 1)
			So(calls[0], ShouldResemble, map[string]any{
				"currency":   "USD",
				"status":     "active",
				"created_at": []string{"2024-03-01T00:00:00Z", ""},
				"date_from":  "2024-01-01T00:00:00Z",
				"date_to":    "2024-01-31T00:00:00Z",
			})

			var buf bytes.Buffer
			So(d.Render(&buf), ShouldBeNil)
			So(buf.String(), ShouldContainSubstring, `name="date_from" value="2024-01-01"`)
			So(buf.String(), ShouldContainSubstring, `name="date_to" value="2024-01-31"`)

			Convey("相同的范围不重复获取", func() {
				So(d.SetDateRange(ctx, d.DateRange()), ShouldBeNil)
				So(calls, ShouldHaveLength, 1)
			})
		})

		Convey("四项指标", func() {
			So(d.Stats(), ShouldBeNil)
			So(d.Fetch(ctx), ShouldBeNil)
			stats := d.Stats()
			So(stats, ShouldHaveLength, 4)
			So(stats[0].Display(), ShouldEqual, "1200.00")
			So(stats[2].Tone, ShouldEqual, TonePositive)
			So(stats[3].Display(), ShouldEqual, "7")

			var buf bytes.Buffer
			So(d.Render(&buf), ShouldBeNil)
			So(buf.String(), ShouldContainSubstring, `data-columns="4"`)
			So(buf.String(), ShouldContainSubstring, "999.50")
			So(buf.String(), ShouldNotContainSubstring, "Retry")
		})

		Convey("窄屏两列", func() {
			So(d.Columns(), ShouldEqual, 4)
			window.Resize(500)
			So(d.Columns(), ShouldEqual, NarrowColumns)
			So(d.Panel().Columns, ShouldEqual, 2)
		})

		Convey("失败后保留数据并可重试", func() {
			So(d.Fetch(ctx), ShouldBeNil)
			fail = errors.New("timeout")
			So(d.Fetch(ctx), ShouldNotBeNil)
			So(d.Err(), ShouldNotBeNil)
			payload, ok := d.Payload()
			So(ok, ShouldBeTrue)
			So(payload.Count, ShouldEqual, 7)
			So(queue.Items()[0].Retryable, ShouldBeTrue)
			So(d.Panel().Error, ShouldEqual, "timeout")

			var buf bytes.Buffer
			So(d.Render(&buf), ShouldBeNil)
			So(buf.String(), ShouldContainSubstring, `data-action="retry"`)

			fail = nil
			So(d.Retry(ctx), ShouldBeNil)
			So(d.Err(), ShouldBeNil)
		})
	})
}

func TestDateKeys(t *testing.T) {
	Convey("自定义日期参数名", t, func() {
		ctx := context.Background()
		var last map[string]any
		d, err := NewFinancialSummaryWithOptions(&Options[Summary]{
			DateRange:   true,
			DateFromKey: "start",
			DateToKey:   "end",
			Logger:      log.Discard(),
			Fetch: func(ctx context.Context, params map[string]any) (Summary, error) {
				last = params
				return Summary{}, nil
			},
		})
		So(err, ShouldBeNil)
		So(d.SetDateRange(ctx, query.Range{From: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)}), ShouldBeNil)
		So(last, ShouldResemble, map[string]any{"start": "2024-05-01T00:00:00Z"})

		var buf bytes.Buffer
		So(d.Render(&buf), ShouldBeNil)
		So(buf.String(), ShouldContainSubstring, `name="start" value="2024-05-01"`)
		So(buf.String(), ShouldContainSubstring, `name="end" value=""`)
		So(buf.String(), ShouldNotContainSubstring, "date_from")
	})
}

func TestStatList(t *testing.T) {
	Convey("任意指标列表", t, func() {
		ctx := context.Background()
		type payload struct {
			Online  int
			Offline int
		}

		release := make(chan struct{})
		started := make(chan struct{})
		var calls atomic.Int32
		l, err := NewStatListWithOptions(&Options[payload]{
			Logger: log.Discard(),
			Fetch: func(ctx context.Context, params map[string]any) (payload, error) {
				if calls.Add(1) == 1 {
					close(started)
					<-release
					return payload{Online: 1}, nil
				}
				return payload{Online: 5, Offline: 2}, nil
			},
		}, func(p payload) []Stat {
			return []Stat{
				{Key: "online", Label: "Online", Value: p.Online},
				{Key: "offline", Label: "Offline", Value: p.Offline, Tone: ToneNegative},
			}
		})
		So(err, ShouldBeNil)

		Convey("过期响应被丢弃", func() {
			done := make(chan error, 1)
			go func() { done <- l.Fetch(ctx) }()

			<-started
			So(l.Loading(), ShouldBeTrue)
			So(l.Fetch(ctx), ShouldBeNil)
			close(release)
			So(<-done, ShouldEqual, fetch.ErrSuperseded)

			stats := l.Stats()
			So(stats, ShouldHaveLength, 2)
			So(stats[0].Value, ShouldEqual, 5)
			So(l.Loading(), ShouldBeFalse)
		})
	})

	Convey("缺少必需参数", t, func() {
		_, err := NewAdapterWithOptions[Summary](nil)
		So(err, ShouldEqual, ErrNoFetch)
		_, err = NewStatListWithOptions(&Options[int]{
			Fetch: func(ctx context.Context, params map[string]any) (int, error) { return 0, nil },
		}, nil)
		So(err, ShouldNotBeNil)
	})
}
