package action

import (
	"context"
	"log/slog"

	"github.com/Dmoore628/PersonalAssistant/pkg/logger"
	"github.com/Dmoore628/PersonalAssistant/pkg/plugin"
)

type publisher interface {
	Publish(ctx context.Context, queue string, body []byte) error
}

// PluginHost 把动作注册表与消息总线暴露给插件。插件只能新增动作类型，
// 不能覆盖内置类型。
type PluginHost struct {
	registry  *Registry
	publisher publisher
	logger    *slog.Logger
}

var _ plugin.Host = (*PluginHost)(nil)

// NewPluginHost 创建插件宿主，publisher 可为 nil。
func NewPluginHost(registry *Registry, pub publisher) *PluginHost {
	return &PluginHost{registry: registry, publisher: pub, logger: logger.Named("plugin.host")}
}

// RegisterAction 实现 plugin.Host。
func (h *PluginHost) RegisterAction(actionType string, fn plugin.ActionFunc) error {
	if fn == nil {
		return h.registry.Add(actionType, nil)
	}
	return h.registry.Add(actionType, func(ctx context.Context, params map[string]any) (Result, error) {
		res, err := fn(ctx, params)
		if err != nil {
			return Result{}, err
		}
		return Result{Success: res.Success, Data: res.Data, Error: res.Error}, nil
	})
}

// Publish 实现 plugin.Host。
func (h *PluginHost) Publish(ctx context.Context, queue string, body []byte) error {
	if h.publisher == nil {
		return plugin.ErrNoHost
	}
	return h.publisher.Publish(ctx, queue, body)
}

// Logger 实现 plugin.Host。
func (h *PluginHost) Logger() *slog.Logger { return h.logger }
