package idgen

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

type RedisOptions struct {
	Endpoint string `cfg:"endpoint" yaml:"endpoint" def:"localhost:6379"`
	Password string `cfg:"password" yaml:"password"`
	DB       int    `cfg:"db" yaml:"db"`

	// Key 计数器的键，每个资源一个
	Key string `cfg:"key" yaml:"key" def:"crudkit:id"`

	// Start 计数器不存在时的起始 id
	Start int64 `cfg:"start" yaml:"start" def:"1"`

	Timeout time.Duration `cfg:"timeout" yaml:"timeout" def:"3s"`

	// Client 已有的客户端，设置后忽略连接参数
	Client redis.UniversalClient `cfg:"-" yaml:"-"`
}

// Redis 基于 INCR 的共享计数器，多个进程共用同一序列
type Redis struct {
	client  redis.UniversalClient
	key     string
	start   int64
	timeout time.Duration
}

func NewRedisWithOptions(options *RedisOptions) (*Redis, error) {
	if options == nil {
		options = &RedisOptions{}
	}
	r := &Redis{
		client:  options.Client,
		key:     options.Key,
		start:   options.Start,
		timeout: options.Timeout,
	}
	if r.client == nil {
		endpoint := options.Endpoint
		if endpoint == "" {
			endpoint = "localhost:6379"
		}
		r.client = redis.NewClient(&redis.Options{
			Addr:     endpoint,
			Password: options.Password,
			DB:       options.DB,
		})
	}
	if r.key == "" {
		r.key = "crudkit:id"
	}
	if r.start <= 0 {
		r.start = 1
	}
	if r.timeout <= 0 {
		r.timeout = 3 * time.Second
	}
	return r, nil
}

func (r *Redis) NextID(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if r.start > 1 {
		// 只在计数器不存在时生效
		if err := r.client.SetNX(ctx, r.key, r.start-1, 0).Err(); err != nil {
			return 0, errors.Wrapf(err, "redis setnx %s", r.key)
		}
	}
	id, err := r.client.Incr(ctx, r.key).Result()
	if err != nil {
		return 0, errors.Wrapf(err, "redis incr %s", r.key)
	}
	return id, nil
}

// Observe 把计数器推进到至少 id
func (r *Redis) Observe(ctx context.Context, id int64) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	for {
		err := r.client.Watch(ctx, func(tx *redis.Tx) error {
			cur, err := tx.Get(ctx, r.key).Int64()
			if err != nil && err != redis.Nil {
				return err
			}
			if cur >= id {
				return nil
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, r.key, id, 0)
				return nil
			})
			return err
		}, r.key)
		if err == redis.TxFailedErr {
			continue
		}
		return errors.Wrapf(err, "redis observe %s", r.key)
	}
}

func (r *Redis) Close() error {
	return r.client.Close()
}
