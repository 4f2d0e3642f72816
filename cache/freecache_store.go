package cache

import (
	"context"
	"time"

	"github.com/coocood/freecache"
	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
)

// FreeCacheStoreOptions freecache 配置
type FreeCacheStoreOptions struct {
	// Size 缓存容量（字节），freecache 最小 512KB
	Size       int           `cfg:"size" yaml:"size" def:"1048576"`
	DefaultTTL time.Duration `cfg:"defaultTTL" yaml:"defaultTTL"`
}

// FreeCacheStore 基于 freecache 的进程内存储，键和值使用 msgpack 序列化
type FreeCacheStore[K comparable, V any] struct {
	cache      *freecache.Cache
	defaultTTL time.Duration
}

func NewFreeCacheStoreWithOptions[K comparable, V any](options *FreeCacheStoreOptions) (*FreeCacheStore[K, V], error) {
	if options == nil {
		options = &FreeCacheStoreOptions{}
	}
	size := options.Size
	if size <= 0 {
		size = 1024 * 1024
	}
	if options.DefaultTTL < 0 {
		return nil, errors.New("defaultTTL must not be negative")
	}

	return &FreeCacheStore[K, V]{
		cache:      freecache.NewCache(size),
		defaultTTL: options.DefaultTTL,
	}, nil
}

func (s *FreeCacheStore[K, V]) Set(ctx context.Context, key K, value V, opts ...setOption) error {
	options := applySetOptions(opts)

	keyBytes, err := msgpack.Marshal(key)
	if err != nil {
		return errors.Wrap(err, "serialize key")
	}
	valueBytes, err := msgpack.Marshal(value)
	if err != nil {
		return errors.Wrap(err, "serialize value")
	}

	if options.IfNotExist {
		if _, err := s.cache.Get(keyBytes); err == nil {
			return ErrConditionFailed
		}
	}

	expiration := options.Expiration
	if expiration == 0 {
		expiration = s.defaultTTL
	}
	return s.cache.Set(keyBytes, valueBytes, int(expiration.Seconds()))
}

func (s *FreeCacheStore[K, V]) Get(ctx context.Context, key K) (V, error) {
	var zero V

	keyBytes, err := msgpack.Marshal(key)
	if err != nil {
		return zero, errors.Wrap(err, "serialize key")
	}

	valueBytes, err := s.cache.Get(keyBytes)
	if err != nil {
		return zero, ErrKeyNotFound
	}

	var value V
	if err := msgpack.Unmarshal(valueBytes, &value); err != nil {
		return zero, errors.Wrap(err, "deserialize value")
	}
	return value, nil
}

func (s *FreeCacheStore[K, V]) Del(ctx context.Context, key K) error {
	keyBytes, err := msgpack.Marshal(key)
	if err != nil {
		return errors.Wrap(err, "serialize key")
	}
	s.cache.Del(keyBytes)
	return nil
}

func (s *FreeCacheStore[K, V]) Close() error {
	s.cache.Clear()
	return nil
}
