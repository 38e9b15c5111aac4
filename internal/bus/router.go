package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Dmoore628/PersonalAssistant/pkg/logger"
)

// Router 为每个登记的队列运行一个消费循环。处理器的错误与 panic
// 只会被记录并让该消息进入死信，不会终止循环。
type Router struct {
	broker Broker
	logger *slog.Logger

	mu       sync.Mutex
	handlers map[string]Handler
}

// NewRouter 创建路由器。
func NewRouter(broker Broker) *Router {
	return &Router{broker: broker, logger: logger.Named("bus.router"), handlers: make(map[string]Handler)}
}

// Handle 登记队列处理器，同一队列只保留最后一次登记。
func (r *Router) Handle(queue string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[queue] = handler
}

// Queues 返回已登记的队列，按字母序排列。
func (r *Router) Queues() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.handlers))
	for q := range r.handlers {
		out = append(out, q)
	}
	sort.Strings(out)
	return out
}

// Run 阻塞直到 ctx 结束或任一队列的底层连接出错。
// ctx 正常结束时返回 nil。
func (r *Router) Run(ctx context.Context) error {
	r.mu.Lock()
	handlers := make(map[string]Handler, len(r.handlers))
	for q, h := range r.handlers {
		handlers[q] = h
	}
	r.mu.Unlock()

	if len(handlers) == 0 {
		return errors.New("没有登记任何队列处理器")
	}

	g, gctx := errgroup.WithContext(ctx)
	for queue, handler := range handlers {
		queue, handler := queue, handler
		g.Go(func() error {
			r.logger.Info("开始消费队列", "queue", queue)
			err := r.broker.Consume(gctx, queue, r.wrap(queue, handler))
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("消费队列 %s 失败: %w", queue, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (r *Router) wrap(queue string, handler Handler) Handler {
	return func(ctx context.Context, body []byte) (err error) {
		start := time.Now()
		defer func() {
			if rec := recover(); rec != nil {
				err = fmt.Errorf("处理器 panic: %v", rec)
			}
			if err != nil {
				r.logger.Error("消息处理失败", "queue", queue, "error", err, "duration", time.Since(start))
				return
			}
			r.logger.Debug("消息处理完成", "queue", queue, "duration", time.Since(start))
		}()
		return handler(ctx, body)
	}
}
