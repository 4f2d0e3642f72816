package clause

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestTerm(t *testing.T) {
	Convey("Term", t, func() {
		c := &Term{Field: "status", Value: "active"}
		sql, args, err := c.ToSQL()
		So(err, ShouldBeNil)
		So(sql, ShouldEqual, "status = ?")
		So(args, ShouldResemble, []any{"active"})

		So(c.Match(map[string]any{"status": "active"}), ShouldBeTrue)
		So(c.Match(map[string]any{"status": "closed"}), ShouldBeFalse)
		So(c.Match(map[string]any{}), ShouldBeFalse)

		Convey("数值比较忽略类型", func() {
			So((&Term{Field: "n", Value: 3}).Match(map[string]any{"n": float64(3)}), ShouldBeTrue)
		})

		Convey("非法字段名", func() {
			_, _, err := (&Term{Field: "status; drop table", Value: 1}).ToSQL()
			So(err, ShouldNotBeNil)
		})
	})
}

func TestTerms(t *testing.T) {
	Convey("Terms", t, func() {
		c := &Terms{Field: "kind", Values: []any{"a", "b"}}
		sql, args, err := c.ToSQL()
		So(err, ShouldBeNil)
		So(sql, ShouldEqual, "kind IN ?")
		So(args, ShouldResemble, []any{[]any{"a", "b"}})
		So(c.Match(map[string]any{"kind": "b"}), ShouldBeTrue)
		So(c.Match(map[string]any{"kind": "c"}), ShouldBeFalse)

		sql, _, err = (&Terms{Field: "kind"}).ToSQL()
		So(err, ShouldBeNil)
		So(sql, ShouldEqual, "1=0")
	})
}

func TestRange(t *testing.T) {
	Convey("Range", t, func() {
		c := &Range{Field: "created_at", Gte: "2024-01-01T00:00:00Z", Lte: "2024-01-31T23:59:59Z"}
		sql, args, err := c.ToSQL()
		So(err, ShouldBeNil)
		So(sql, ShouldEqual, "created_at >= ? AND created_at <= ?")
		So(len(args), ShouldEqual, 2)

		So(c.Match(map[string]any{"created_at": "2024-01-15T12:00:00Z"}), ShouldBeTrue)
		So(c.Match(map[string]any{"created_at": "2024-02-01"}), ShouldBeFalse)
		So(c.Match(map[string]any{}), ShouldBeFalse)

		Convey("单边范围", func() {
			c := &Range{Field: "amount", Gte: 10}
			sql, _, err := c.ToSQL()
			So(err, ShouldBeNil)
			So(sql, ShouldEqual, "amount >= ?")
			So(c.Match(map[string]any{"amount": 12.5}), ShouldBeTrue)
			So(c.Match(map[string]any{"amount": 9}), ShouldBeFalse)
		})

		Convey("无边界", func() {
			sql, args, err := (&Range{Field: "amount"}).ToSQL()
			So(err, ShouldBeNil)
			So(sql, ShouldEqual, "1=1")
			So(args, ShouldBeNil)
		})
	})
}

func TestMatch(t *testing.T) {
	Convey("Match", t, func() {
		c := &Match{Fields: []string{"name", "email"}, Value: "Ali"}
		sql, args, err := c.ToSQL()
		So(err, ShouldBeNil)
		So(sql, ShouldEqual, "(name LIKE ? OR email LIKE ?)")
		So(args, ShouldResemble, []any{"%Ali%", "%Ali%"})

		So(c.Match(map[string]any{"name": "alice"}), ShouldBeTrue)
		So(c.Match(map[string]any{"name": "bob", "email": "ALICE@x.com"}), ShouldBeTrue)
		So(c.Match(map[string]any{"name": "bob"}), ShouldBeFalse)
	})
}

func TestBool(t *testing.T) {
	Convey("Bool", t, func() {
		c := &Bool{Must: []Clause{
			&Term{Field: "status", Value: "active"},
			&Range{Field: "amount", Lte: 100},
		}}
		sql, args, err := c.ToSQL()
		So(err, ShouldBeNil)
		So(sql, ShouldEqual, "(status = ?) AND (amount <= ?)")
		So(args, ShouldResemble, []any{"active", 100})

		So(c.Match(map[string]any{"status": "active", "amount": 50}), ShouldBeTrue)
		So(c.Match(map[string]any{"status": "active", "amount": 150}), ShouldBeFalse)

		sql, _, err = (&Bool{}).ToSQL()
		So(err, ShouldBeNil)
		So(sql, ShouldEqual, "1=1")
		So((&Bool{}).Match(nil), ShouldBeTrue)

		Convey("子条件错误向上传递", func() {
			_, _, err := (&Bool{Must: []Clause{&Term{Field: "1x"}}}).ToSQL()
			So(err, ShouldNotBeNil)
		})
	})
}

func TestToMongo(t *testing.T) {
	Convey("ToMongo", t, func() {
		c := &Bool{Must: []Clause{
			&Term{Field: "status", Value: "active"},
			&Terms{Field: "kind", Values: []any{"a", "b"}},
			&Range{Field: "created_at", Gte: "2024-01-01"},
			&Range{Field: "amount"},
		}}
		filter, err := c.ToMongo()
		So(err, ShouldBeNil)
		So(filter, ShouldResemble, map[string]any{"$and": []any{
			map[string]any{"status": "active"},
			map[string]any{"kind": map[string]any{"$in": []any{"a", "b"}}},
			map[string]any{"created_at": map[string]any{"$gte": "2024-01-01"}},
		}})

		Convey("单个条件不包 $and", func() {
			filter, err := (&Bool{Must: []Clause{&Term{Field: "status", Value: "x"}}}).ToMongo()
			So(err, ShouldBeNil)
			So(filter, ShouldResemble, map[string]any{"status": "x"})

			filter, err = (&Bool{}).ToMongo()
			So(err, ShouldBeNil)
			So(filter, ShouldBeEmpty)
		})

		Convey("模糊匹配转义正则", func() {
			filter, err := (&Match{Fields: []string{"name"}, Value: "a.b"}).ToMongo()
			So(err, ShouldBeNil)
			So(filter, ShouldResemble, map[string]any{"name": map[string]any{"$regex": `a\.b`, "$options": "i"}})

			filter, err = (&Match{Fields: []string{"name", "email"}, Value: "ali"}).ToMongo()
			So(err, ShouldBeNil)
			So(filter["$or"], ShouldHaveLength, 2)
		})

		Convey("非法字段名", func() {
			_, err := (&Bool{Must: []Clause{&Term{Field: "$where", Value: 1}}}).ToMongo()
			So(err, ShouldNotBeNil)
		})
	})
}

func TestToES(t *testing.T) {
	Convey("ToES", t, func() {
		So((&Bool{}).ToES(), ShouldResemble, map[string]any{"match_all": map[string]any{}})

		q := (&Bool{Must: []Clause{
			&Term{Field: "status", Value: "active"},
			&Range{Field: "amount", Gte: 10, Lte: 20},
		}}).ToES()
		So(q, ShouldResemble, map[string]any{"bool": map[string]any{"filter": []any{
			map[string]any{"term": map[string]any{"status": "active"}},
			map[string]any{"range": map[string]any{"amount": map[string]any{"gte": 10, "lte": 20}}},
		}}})

		Convey("多值匹配", func() {
			So((&Terms{Field: "kind"}).ToES(), ShouldResemble, map[string]any{"terms": map[string]any{"kind": []any{}}})
		})

		Convey("通配符转义", func() {
			q := (&Match{Fields: []string{"name"}, Value: "a*b?"}).ToES()
			should := q["bool"].(map[string]any)["should"].([]any)
			So(should, ShouldHaveLength, 1)
			So(should[0], ShouldResemble, map[string]any{"wildcard": map[string]any{
				"name": map[string]any{"value": `*a\*b\?*`, "case_insensitive": true},
			}})
		})
	})
}
