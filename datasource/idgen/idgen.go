// Package idgen 为数据源生成记录主键
package idgen

import (
	"context"
	"sync/atomic"

	"github.com/pkg/errors"
)

// Generator 生成新记录的 id，id 必须为正数且不重复
type Generator interface {
	NextID(ctx context.Context) (int64, error)
}

type Options struct {
	// Type 生成器类型：sequence, snowflake, redis
	Type string `cfg:"type" yaml:"type" def:"sequence" validate:"omitempty,oneof=sequence snowflake redis"`

	Sequence  SequenceOptions  `cfg:"sequence" yaml:"sequence"`
	Snowflake SnowflakeOptions `cfg:"snowflake" yaml:"snowflake"`
	Redis     RedisOptions     `cfg:"redis" yaml:"redis"`
}

func NewGeneratorWithOptions(options *Options) (Generator, error) {
	if options == nil {
		options = &Options{}
	}
	switch options.Type {
	case "", "sequence":
		return NewSequenceWithOptions(&options.Sequence), nil
	case "snowflake":
		return NewSnowflakeWithOptions(&options.Snowflake), nil
	case "redis":
		return NewRedisWithOptions(&options.Redis)
	}
	return nil, errors.Errorf("unsupported id generator type [%s]", options.Type)
}

type SequenceOptions struct {
	// Start 第一个 id
	Start int64 `cfg:"start" yaml:"start" def:"1"`
}

// Sequence 进程内自增序列
type Sequence struct {
	last atomic.Int64
}

func NewSequenceWithOptions(options *SequenceOptions) *Sequence {
	s := &Sequence{}
	start := int64(1)
	if options != nil && options.Start > 0 {
		start = options.Start
	}
	s.last.Store(start - 1)
	return s
}

func (s *Sequence) NextID(ctx context.Context) (int64, error) {
	return s.last.Add(1), nil
}

// Observe 确保之后生成的 id 大于 id，用于载入已有记录
func (s *Sequence) Observe(id int64) {
	for {
		last := s.last.Load()
		if id <= last || s.last.CompareAndSwap(last, id) {
			return
		}
	}
}
