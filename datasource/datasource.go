package datasource

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/hatlonely/crudkit/schema"
	"github.com/pkg/errors"
)

var (
	ErrNotFound = errors.New("record not found")
	// ErrUnprocessable 可恢复的校验类错误，由表单就地处理，不会向上升级
	ErrUnprocessable = errors.New("unprocessable entity")
)

// DataSource 实体的四个数据操作
type DataSource[T schema.Record] interface {
	List(ctx context.Context, query map[string]any) ([]T, error)
	Create(ctx context.Context, data map[string]any) (T, error)
	Update(ctx context.Context, id int64, data map[string]any) (T, error)
	Delete(ctx context.Context, id int64) error
}

// UnprocessableError 携带字段级错误信息的 ErrUnprocessable
type UnprocessableError struct {
	Message string
	// Fields 字段名 -> 错误信息
	Fields map[string]string
}

func NewUnprocessableError(message string, fields map[string]string) *UnprocessableError {
	return &UnprocessableError{Message: message, Fields: fields}
}

func (e *UnprocessableError) Error() string {
	if len(e.Fields) == 0 {
		if e.Message == "" {
			return ErrUnprocessable.Error()
		}
		return fmt.Sprintf("%s: %s", ErrUnprocessable.Error(), e.Message)
	}

	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s: %s", name, e.Fields[name]))
	}
	msg := e.Message
	if msg == "" {
		msg = ErrUnprocessable.Error()
	}
	return fmt.Sprintf("%s [%s]", msg, strings.Join(parts, ", "))
}

func (e *UnprocessableError) Is(target error) bool {
	return target == ErrUnprocessable
}

// IsUnprocessable 判断错误是否属于不可处理实体类
func IsUnprocessable(err error) bool {
	return errors.Is(err, ErrUnprocessable)
}

// FieldErrors 提取错误中的字段级信息，没有时返回 nil
func FieldErrors(err error) map[string]string {
	var ue *UnprocessableError
	if errors.As(err, &ue) {
		return ue.Fields
	}
	return nil
}

// Funcs 使用函数实现 DataSource，未设置的操作返回错误
type Funcs[T schema.Record] struct {
	ListFunc   func(ctx context.Context, query map[string]any) ([]T, error)
	CreateFunc func(ctx context.Context, data map[string]any) (T, error)
	UpdateFunc func(ctx context.Context, id int64, data map[string]any) (T, error)
	DeleteFunc func(ctx context.Context, id int64) error
}

var errNotImplemented = errors.New("operation not implemented")

func (f *Funcs[T]) List(ctx context.Context, query map[string]any) ([]T, error) {
	if f.ListFunc == nil {
		return nil, errors.WithMessage(errNotImplemented, "list")
	}
	return f.ListFunc(ctx, query)
}

func (f *Funcs[T]) Create(ctx context.Context, data map[string]any) (T, error) {
	if f.CreateFunc == nil {
		var zero T
		return zero, errors.WithMessage(errNotImplemented, "create")
	}
	return f.CreateFunc(ctx, data)
}

func (f *Funcs[T]) Update(ctx context.Context, id int64, data map[string]any) (T, error) {
	if f.UpdateFunc == nil {
		var zero T
		return zero, errors.WithMessage(errNotImplemented, "update")
	}
	return f.UpdateFunc(ctx, id, data)
}

func (f *Funcs[T]) Delete(ctx context.Context, id int64) error {
	if f.DeleteFunc == nil {
		return errors.WithMessage(errNotImplemented, "delete")
	}
	return f.DeleteFunc(ctx, id)
}
