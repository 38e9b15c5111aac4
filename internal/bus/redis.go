package bus

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// RedisConfig 描述 Redis 队列的连接参数。
type RedisConfig struct {
	Address   string
	Password  string
	DB        int
	KeyPrefix string
	BlockWait time.Duration
}

// RedisBroker 每个队列对应一个 list：LPUSH 投递、BRPOP 消费。
// 处理失败的消息推入 <key>:dead。
type RedisBroker struct {
	client *goredis.Client
	prefix string
	wait   time.Duration
}

// NewRedisBroker 连接 Redis 并验证可用性。
func NewRedisBroker(ctx context.Context, cfg RedisConfig) (*RedisBroker, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return NewRedisBrokerWithClient(client, cfg.KeyPrefix, cfg.BlockWait), nil
}

// NewRedisBrokerWithClient 复用已有客户端。
func NewRedisBrokerWithClient(client *goredis.Client, prefix string, wait time.Duration) *RedisBroker {
	if prefix == "" {
		prefix = "archi:queue:"
	}
	if wait <= 0 {
		wait = 5 * time.Second
	}
	return &RedisBroker{client: client, prefix: prefix, wait: wait}
}

func (b *RedisBroker) key(queue string) string { return b.prefix + queue }

// DeadLetterKey 返回队列对应的死信 list。
func (b *RedisBroker) DeadLetterKey(queue string) string { return b.key(queue) + ":dead" }

// Publish 实现 Broker。
func (b *RedisBroker) Publish(ctx context.Context, queue string, body []byte) error {
	if err := b.client.LPush(ctx, b.key(queue), body).Err(); err != nil {
		return fmt.Errorf("Redis 发布消息失败: %w", err)
	}
	return nil
}

// Consume 实现 Broker。
func (b *RedisBroker) Consume(ctx context.Context, queue string, handler Handler) error {
	key := b.key(queue)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		values, err := b.client.BRPop(ctx, b.wait, key).Result()
		if err != nil {
			if errors.Is(err, goredis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("Redis 取消息失败: %w", err)
		}
		if len(values) != 2 {
			continue
		}
		body := []byte(values[1])
		if handlerErr := handler(ctx, body); handlerErr != nil {
			if err := b.client.LPush(context.WithoutCancel(ctx), b.DeadLetterKey(queue), body).Err(); err != nil {
				return fmt.Errorf("Redis 写入死信失败: %w", err)
			}
		}
	}
}

// Close 关闭 Redis 连接。
func (b *RedisBroker) Close() error {
	if b == nil || b.client == nil {
		return nil
	}
	return b.client.Close()
}
