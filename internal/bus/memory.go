package bus

import (
	"context"
	"errors"
	"sync"
)

// MemoryBroker 用带缓冲的 channel 模拟队列，供测试与单进程部署使用。
// 处理失败的消息保存在死信列表中。
type MemoryBroker struct {
	size int

	mu     sync.Mutex
	queues map[string]chan []byte
	dead   map[string][][]byte
	closed bool
	done   chan struct{}
}

// NewMemoryBroker 创建内存总线，size 为每个队列的缓冲长度。
func NewMemoryBroker(size int) *MemoryBroker {
	if size <= 0 {
		size = 256
	}
	return &MemoryBroker{
		size:   size,
		queues: make(map[string]chan []byte),
		dead:   make(map[string][][]byte),
		done:   make(chan struct{}),
	}
}

func (b *MemoryBroker) queue(name string) (chan []byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, errors.New("消息总线已关闭")
	}
	ch, ok := b.queues[name]
	if !ok {
		ch = make(chan []byte, b.size)
		b.queues[name] = ch
	}
	return ch, nil
}

// Publish 实现 Broker。
func (b *MemoryBroker) Publish(ctx context.Context, queue string, body []byte) error {
	ch, err := b.queue(queue)
	if err != nil {
		return err
	}
	msg := append([]byte(nil), body...)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-b.done:
		return errors.New("消息总线已关闭")
	case ch <- msg:
		return nil
	}
}

// Consume 实现 Broker。
func (b *MemoryBroker) Consume(ctx context.Context, queue string, handler Handler) error {
	ch, err := b.queue(queue)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-b.done:
			return errors.New("消息总线已关闭")
		case msg := <-ch:
			if err := handler(ctx, msg); err != nil {
				b.mu.Lock()
				b.dead[queue] = append(b.dead[queue], msg)
				b.mu.Unlock()
			}
		}
	}
}

// Drain 取出队列中当前积压的全部消息，不经过处理器。
func (b *MemoryBroker) Drain(queue string) [][]byte {
	ch, err := b.queue(queue)
	if err != nil {
		return nil
	}
	var out [][]byte
	for {
		select {
		case msg := <-ch:
			out = append(out, msg)
		default:
			return out
		}
	}
}

// DeadLetters 返回处理失败的消息。
func (b *MemoryBroker) DeadLetters(queue string) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([][]byte(nil), b.dead[queue]...)
}

// Close 停止全部消费循环，之后的投递都会失败。
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	close(b.done)
	return nil
}
