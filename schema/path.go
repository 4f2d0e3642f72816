package schema

import (
	"strconv"
	"strings"

	"github.com/ohler55/ojg/jp"
	"github.com/pkg/errors"
)

// Path 取值路径，按顺序逐层查找，数字段表示数组下标
type Path []string

// ParsePath 解析以 "." 分隔的路径，例如 "account.name"
func ParsePath(s string) Path {
	if s == "" {
		return nil
	}
	return Path(strings.Split(s, "."))
}

func (p Path) String() string {
	return strings.Join(p, ".")
}

// compile 将路径编译为 JSONPath 表达式
func (p Path) compile() (jp.Expr, error) {
	if len(p) == 0 {
		return nil, errors.New("empty path")
	}

	x := jp.R()
	for i, seg := range p {
		if seg == "" {
			return nil, errors.Errorf("empty segment at %d in path %q", i, p.String())
		}
		if n, err := strconv.Atoi(seg); err == nil && n >= 0 {
			x = x.N(n)
			continue
		}
		x = x.C(seg)
	}
	return x, nil
}

// Lookup 按路径从记录中取值，路径不存在时返回 nil
func Lookup(record any, p Path) any {
	x, err := p.compile()
	if err != nil {
		return nil
	}
	return lookup(record, x)
}

func lookup(record any, x jp.Expr) any {
	attrs := Attributes(record)
	if attrs == nil {
		return nil
	}
	return x.First(attrs)
}
