package cache

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

var (
	ErrKeyNotFound     = errors.New("key not found")
	ErrConditionFailed = errors.New("condition failed")
)

type setOptions struct {
	Expiration time.Duration
	IfNotExist bool
}

type setOption func(*setOptions)

func WithExpiration(expiration time.Duration) setOption {
	return func(options *setOptions) {
		options.Expiration = expiration
	}
}

func WithIfNotExist() setOption {
	return func(options *setOptions) {
		options.IfNotExist = true
	}
}

func applySetOptions(opts []setOption) *setOptions {
	options := &setOptions{}
	for _, opt := range opts {
		opt(options)
	}
	return options
}

// Store 缓存存储接口，所有实现都可以并发使用
type Store[K comparable, V any] interface {
	// Set 设置键值对，WithIfNotExist 时键存在则返回 ErrConditionFailed
	Set(ctx context.Context, key K, value V, opts ...setOption) error
	// Get 获取键对应的值，键不存在时返回 ErrKeyNotFound
	Get(ctx context.Context, key K) (V, error)
	// Del 删除键，键不存在时也返回成功
	Del(ctx context.Context, key K) error
	Close() error
}

// Options 存储配置，Type 取值 map, syncMap, freecache, redis
type Options struct {
	Type      string                 `cfg:"type" yaml:"type" validate:"omitempty,oneof=map syncMap freecache redis"`
	FreeCache *FreeCacheStoreOptions `cfg:"freecache" yaml:"freecache"`
	Redis     *RedisStoreOptions     `cfg:"redis" yaml:"redis"`
}

// NewStoreWithOptions 根据配置创建存储，未指定类型时使用 SyncMapStore
func NewStoreWithOptions[K comparable, V any](options *Options) (Store[K, V], error) {
	if options == nil {
		return NewSyncMapStore[K, V](), nil
	}

	switch options.Type {
	case "", "syncMap":
		return NewSyncMapStore[K, V](), nil
	case "map":
		return NewMapStore[K, V](), nil
	case "freecache":
		return NewFreeCacheStoreWithOptions[K, V](options.FreeCache)
	case "redis":
		return NewRedisStoreWithOptions[K, V](options.Redis)
	default:
		return nil, errors.Errorf("unsupported store type: %s", options.Type)
	}
}
