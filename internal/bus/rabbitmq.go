package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/Dmoore628/PersonalAssistant/pkg/logger"
)

// RabbitMQConfig 描述 RabbitMQ 连接参数。
type RabbitMQConfig struct {
	URL      string
	Prefetch int
}

// RabbitMQBroker 基于默认交换机按队列名路由。队列持久化、消息持久投递、
// 手动确认；处理失败的消息以 requeue=false 拒绝，交给死信交换机（若已配置）。
type RabbitMQBroker struct {
	conn     *amqp.Connection
	prefetch int
	logger   *slog.Logger

	pubMu    sync.Mutex
	pubCh    *amqp.Channel
	declared sync.Map
}

// NewRabbitMQBroker 建立连接与发布用的 channel。
func NewRabbitMQBroker(cfg RabbitMQConfig) (*RabbitMQBroker, error) {
	if cfg.URL == "" {
		return nil, errors.New("RabbitMQ URL 不能为空")
	}
	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = 1
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("连接 RabbitMQ 失败: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("创建 RabbitMQ channel 失败: %w", err)
	}
	return &RabbitMQBroker{conn: conn, pubCh: ch, prefetch: prefetch, logger: logger.Named("bus.rabbitmq")}, nil
}

func declareQueue(ch *amqp.Channel, queue string) error {
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("声明 RabbitMQ 队列 %s 失败: %w", queue, err)
	}
	return nil
}

// Publish 实现 Broker。
func (b *RabbitMQBroker) Publish(ctx context.Context, queue string, body []byte) error {
	b.pubMu.Lock()
	defer b.pubMu.Unlock()

	if _, ok := b.declared.Load(queue); !ok {
		if err := declareQueue(b.pubCh, queue); err != nil {
			return err
		}
		b.declared.Store(queue, struct{}{})
	}
	return b.pubCh.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now(),
		Body:         body,
	})
}

// Consume 实现 Broker。每个队列使用独立 channel 与 prefetch。
func (b *RabbitMQBroker) Consume(ctx context.Context, queue string, handler Handler) error {
	ch, err := b.conn.Channel()
	if err != nil {
		return fmt.Errorf("创建 RabbitMQ channel 失败: %w", err)
	}
	defer ch.Close()

	if err := ch.Qos(b.prefetch, 0, false); err != nil {
		return fmt.Errorf("设置 RabbitMQ QOS 失败: %w", err)
	}
	if err := declareQueue(ch, queue); err != nil {
		return err
	}
	msgs, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("订阅 RabbitMQ 队列失败: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return fmt.Errorf("RabbitMQ 队列 %s 的投递通道已关闭", queue)
			}
			if err := handler(ctx, msg.Body); err != nil {
				if nackErr := msg.Nack(false, false); nackErr != nil {
					b.logger.Warn("拒绝消息失败", "queue", queue, "error", nackErr)
				}
				continue
			}
			if ackErr := msg.Ack(false); ackErr != nil {
				b.logger.Warn("确认消息失败", "queue", queue, "error", ackErr)
			}
		}
	}
}

// Close 关闭 RabbitMQ 连接。
func (b *RabbitMQBroker) Close() error {
	if b == nil {
		return nil
	}
	if b.pubCh != nil {
		_ = b.pubCh.Close()
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}
