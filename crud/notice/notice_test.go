package notice

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/hatlonely/crudkit/log"
	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"
)

func TestQueue(t *testing.T) {
	Convey("Queue", t, func() {
		ctx := context.Background()
		q := NewQueue(2)
		q.Notify(ctx, Info("a"))
		q.Notify(ctx, Warning("b"))
		q.Notify(ctx, Error("c", errors.New("boom")).Retry())

		items := q.Items()
		So(items, ShouldHaveLength, 2)
		So(items[0].Message, ShouldEqual, "b")
		So(items[1].Level, ShouldEqual, LevelError)
		So(items[1].Retryable, ShouldBeTrue)
		So(items[1].Message, ShouldEqual, "boom")

		q.Dismiss(0)
		So(q.Len(), ShouldEqual, 1)
		q.Dismiss(5)
		So(q.Len(), ShouldEqual, 1)

		So(q.Drain(), ShouldHaveLength, 1)
		So(q.Len(), ShouldEqual, 0)
	})
}

func TestMulti(t *testing.T) {
	Convey("Multi", t, func() {
		var got []Notice
		a := NewQueue(0)
		n := Multi(a, nil, NotifierFunc(func(ctx context.Context, n Notice) { got = append(got, n) }))
		n.Notify(context.Background(), Success("saved"))
		So(a.Len(), ShouldEqual, 1)
		So(got, ShouldHaveLength, 1)

		OrDiscard(nil).Notify(context.Background(), Info("dropped"))
	})
}

func TestLogNotifier(t *testing.T) {
	Convey("LogNotifier", t, func() {
		var buf bytes.Buffer
		logger := log.NewSLogWithHandler(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
		NewLogNotifier(logger).Notify(context.Background(), Error("fetch failed", errors.New("timeout")).Retry())
		So(buf.String(), ShouldContainSubstring, "level=ERROR")
		So(buf.String(), ShouldContainSubstring, "notice.message=timeout")
		So(buf.String(), ShouldContainSubstring, "notice.retryable=true")
	})
}
