package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
)

type RedisStoreOptions struct {
	// host:port 地址
	Endpoint string `cfg:"endpoint" yaml:"endpoint" validate:"required"`

	Username string `cfg:"username" yaml:"username"`
	Password string `cfg:"password" yaml:"password"`

	// 连接到服务器后选择的数据库
	DB int `cfg:"db" yaml:"db" def:"0"`

	// KeyPrefix 键前缀，多个实例共享同一个 redis 时用于隔离
	KeyPrefix string `cfg:"keyPrefix" yaml:"keyPrefix"`

	// 默认 TTL，0 表示不过期
	DefaultTTL time.Duration `cfg:"defaultTTL" yaml:"defaultTTL"`

	DialTimeout  time.Duration `cfg:"dialTimeout" yaml:"dialTimeout" def:"5s"`
	ReadTimeout  time.Duration `cfg:"readTimeout" yaml:"readTimeout" def:"3s"`
	WriteTimeout time.Duration `cfg:"writeTimeout" yaml:"writeTimeout" def:"3s"`
	PoolSize     int           `cfg:"poolSize" yaml:"poolSize" def:"10"`
}

// RedisStore 基于 redis 的共享存储，值使用 msgpack 序列化
type RedisStore[K comparable, V any] struct {
	client     *redis.Client
	keyPrefix  string
	defaultTTL time.Duration
}

func NewRedisStoreWithOptions[K comparable, V any](options *RedisStoreOptions) (*RedisStore[K, V], error) {
	if options == nil || options.Endpoint == "" {
		return nil, errors.New("redis endpoint is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         options.Endpoint,
		Username:     options.Username,
		Password:     options.Password,
		DB:           options.DB,
		DialTimeout:  options.DialTimeout,
		ReadTimeout:  options.ReadTimeout,
		WriteTimeout: options.WriteTimeout,
		PoolSize:     options.PoolSize,
	})

	return &RedisStore[K, V]{
		client:     client,
		keyPrefix:  options.KeyPrefix,
		defaultTTL: options.DefaultTTL,
	}, nil
}

func (s *RedisStore[K, V]) key(k K) string {
	return s.keyPrefix + fmt.Sprint(k)
}

func (s *RedisStore[K, V]) Set(ctx context.Context, key K, value V, opts ...setOption) error {
	options := applySetOptions(opts)

	data, err := msgpack.Marshal(value)
	if err != nil {
		return errors.Wrap(err, "serialize value")
	}

	expiration := options.Expiration
	if expiration == 0 {
		expiration = s.defaultTTL
	}

	if options.IfNotExist {
		ok, err := s.client.SetNX(ctx, s.key(key), data, expiration).Result()
		if err != nil {
			return errors.Wrap(err, "redis setnx failed")
		}
		if !ok {
			return ErrConditionFailed
		}
		return nil
	}

	if err := s.client.Set(ctx, s.key(key), data, expiration).Err(); err != nil {
		return errors.Wrap(err, "redis set failed")
	}
	return nil
}

func (s *RedisStore[K, V]) Get(ctx context.Context, key K) (V, error) {
	var zero V

	data, err := s.client.Get(ctx, s.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return zero, ErrKeyNotFound
		}
		return zero, errors.Wrap(err, "redis get failed")
	}

	var value V
	if err := msgpack.Unmarshal(data, &value); err != nil {
		return zero, errors.Wrap(err, "deserialize value")
	}
	return value, nil
}

func (s *RedisStore[K, V]) Del(ctx context.Context, key K) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return errors.Wrap(err, "redis del failed")
	}
	return nil
}

func (s *RedisStore[K, V]) Close() error {
	return s.client.Close()
}
