package schema

import (
	"fmt"
	"reflect"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/pkg/errors"
)

// Predicate 可见性谓词，输入为表单当前的完整取值
type Predicate interface {
	Evaluate(values map[string]any) bool
}

// PredicateFunc 函数形式的 Predicate
type PredicateFunc func(values map[string]any) bool

func (f PredicateFunc) Evaluate(values map[string]any) bool {
	return f(values)
}

// Equals 字段取值等于 value 时成立
func Equals(field string, value any) Predicate {
	return PredicateFunc(func(values map[string]any) bool {
		return looseEqual(values[field], value)
	})
}

// In 字段取值属于 candidates 之一时成立
func In(field string, candidates ...any) Predicate {
	return PredicateFunc(func(values map[string]any) bool {
		for _, c := range candidates {
			if looseEqual(values[field], c) {
				return true
			}
		}
		return false
	})
}

// ValueEqual 宽松比较，数值按大小比较，其余按字符串形式比较
func ValueEqual(a, b any) bool {
	return looseEqual(a, b)
}

func looseEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if fa, ok := ToFloat64(a); ok {
		if fb, ok := ToFloat64(b); ok {
			if _, isStr := a.(string); !isStr {
				return fa == fb
			}
		}
	}
	if reflect.TypeOf(a).Comparable() && reflect.TypeOf(b).Comparable() && a == b {
		return true
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

// ExprPredicate 基于 expr 表达式的谓词，例如 `type == "transfer"`
type ExprPredicate struct {
	source  string
	program *vm.Program
}

func NewExprPredicate(expression string) (*ExprPredicate, error) {
	if expression == "" {
		return nil, errors.New("empty expression")
	}
	program, err := expr.Compile(expression, expr.AllowUndefinedVariables(), expr.AsBool())
	if err != nil {
		return nil, errors.Wrapf(err, "compile expression %q", expression)
	}
	return &ExprPredicate{source: expression, program: program}, nil
}

// Evaluate 表达式执行失败时视为不成立
func (p *ExprPredicate) Evaluate(values map[string]any) bool {
	env := values
	if env == nil {
		env = map[string]any{}
	}
	out, err := expr.Run(p.program, env)
	if err != nil {
		return false
	}
	b, _ := out.(bool)
	return b
}

func (p *ExprPredicate) String() string {
	return p.source
}
