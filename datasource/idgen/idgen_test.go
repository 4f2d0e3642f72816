package idgen

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	. "github.com/smartystreets/goconvey/convey"
)

func TestGenerators(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	node := int64(7)
	factories := map[string]*Options{
		"sequence":  {Type: "sequence"},
		"snowflake": {Type: "snowflake", Snowflake: SnowflakeOptions{Node: &node}},
		"redis":     {Type: "redis", Redis: RedisOptions{Endpoint: mr.Addr(), Key: "test:id"}},
	}

	for name, options := range factories {
		Convey(name, t, func() {
			mr.FlushAll()
			g, err := NewGeneratorWithOptions(options)
			So(err, ShouldBeNil)

			Convey("单调递增", func() {
				prev := int64(0)
				for i := 0; i < 100; i++ {
					id, err := g.NextID(ctx)
					So(err, ShouldBeNil)
					So(id, ShouldBeGreaterThan, prev)
					prev = id
				}
			})

			Convey("并发不重复", func() {
				var mu sync.Mutex
				seen := map[int64]bool{}
				var wg sync.WaitGroup
				for i := 0; i < 8; i++ {
					wg.Add(1)
					go func() {
						defer wg.Done()
						for j := 0; j < 50; j++ {
							id, err := g.NextID(ctx)
							if err != nil {
								continue
							}
							mu.Lock()
							seen[id] = true
							mu.Unlock()
						}
					}()
				}
				wg.Wait()
				So(seen, ShouldHaveLength, 400)
			})
		})
	}

	Convey("未知类型", t, func() {
		_, err := NewGeneratorWithOptions(&Options{Type: "uuid"})
		So(err, ShouldNotBeNil)
	})
}

func TestSequence(t *testing.T) {
	Convey("起始值与已有记录", t, func() {
		ctx := context.Background()
		s := NewSequenceWithOptions(&SequenceOptions{Start: 10})
		id, _ := s.NextID(ctx)
		So(id, ShouldEqual, 10)

		s.Observe(42)
		s.Observe(5)
		id, _ = s.NextID(ctx)
		So(id, ShouldEqual, 43)
	})
}

func TestSnowflake(t *testing.T) {
	Convey("id 结构", t, func() {
		node := int64(123)
		s := NewSnowflakeWithOptions(&SnowflakeOptions{Node: &node})
		fixed := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
		s.now = func() time.Time { return fixed }

		id1, err := s.NextID(context.Background())
		So(err, ShouldBeNil)
		id2, _ := s.NextID(context.Background())

		ts, n, seq := s.Parse(id1)
		So(ts.Equal(fixed), ShouldBeTrue)
		So(n, ShouldEqual, 123)
		So(seq, ShouldEqual, 0)

		_, _, seq = s.Parse(id2)
		So(seq, ShouldEqual, 1)
	})

	Convey("节点编号截断到 10 位", t, func() {
		node := int64(maxNode + 5)
		s := NewSnowflakeWithOptions(&SnowflakeOptions{Node: &node})
		So(s.node, ShouldEqual, 4)
	})

	Convey("时钟回拨不产生重复", t, func() {
		s := NewSnowflakeWithOptions(nil)
		now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
		s.now = func() time.Time { return now }
		id1, _ := s.NextID(context.Background())
		now = now.Add(-time.Second)
		id2, _ := s.NextID(context.Background())
		So(id2, ShouldBeGreaterThan, id1)
	})
}

func TestRedis(t *testing.T) {
	Convey("共享计数器", t, func() {
		mr := miniredis.RunT(t)
		ctx := context.Background()

		a, err := NewRedisWithOptions(&RedisOptions{Endpoint: mr.Addr(), Key: "accounts:id", Start: 100})
		So(err, ShouldBeNil)
		defer a.Close()
		b, err := NewRedisWithOptions(&RedisOptions{Endpoint: mr.Addr(), Key: "accounts:id", Start: 100})
		So(err, ShouldBeNil)
		defer b.Close()

		id, err := a.NextID(ctx)
		So(err, ShouldBeNil)
		So(id, ShouldEqual, 100)
		id, _ = b.NextID(ctx)
		So(id, ShouldEqual, 101)

		So(a.Observe(ctx, 500), ShouldBeNil)
		So(b.Observe(ctx, 200), ShouldBeNil)
		id, _ = b.NextID(ctx)
		So(id, ShouldEqual, 501)

		down, err := NewRedisWithOptions(&RedisOptions{Endpoint: "127.0.0.1:1", Timeout: 200 * time.Millisecond})
		So(err, ShouldBeNil)
		defer down.Close()
		_, err = down.NextID(ctx)
		So(err, ShouldNotBeNil)
	})
}
