package action

import (
	"context"
	"sort"
	"sync"

	xerrors "github.com/Dmoore628/PersonalAssistant/internal/errors"
)

// CodeUnknownAction 表示没有任何处理器认领该动作类型。
const CodeUnknownAction xerrors.Code = "ACTION_UNKNOWN"

func init() {
	xerrors.Register(CodeUnknownAction, xerrors.Attributes{Message: "unknown action type", Severity: xerrors.SeverityWarning})
}

// Result 是一次动作调用的结果。Success 为 false 时 Error 给出原因。
type Result struct {
	Success bool           `json:"success"`
	Data    map[string]any `json:"result_data,omitempty"`
	Error   string         `json:"error_message,omitempty"`
}

// Executor 执行单个动作。实现需要尊重 ctx 的截止时间。
type Executor interface {
	Execute(ctx context.Context, actionType string, params map[string]any) (Result, error)
}

// Handler 处理一种动作类型。
type Handler func(ctx context.Context, params map[string]any) (Result, error)

// Registry 按动作类型分发到对应处理器。
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry 创建空的动作注册表。
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register 登记处理器，同名类型会被覆盖。
func (r *Registry) Register(actionType string, handler Handler) {
	if handler == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[actionType] = handler
}

// Add 登记处理器，类型已存在时返回 CONFLICT 错误而不覆盖。
func (r *Registry) Add(actionType string, handler Handler) error {
	if actionType == "" || handler == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "动作类型与处理器均不能为空")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[actionType]; exists {
		return xerrors.New(xerrors.CodeConflict, "动作类型已登记: "+actionType, xerrors.WithMetadata("action_type", actionType))
	}
	r.handlers[actionType] = handler
	return nil
}

// Types 返回已登记的动作类型，按字母序排列。
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Execute 实现 Executor。
func (r *Registry) Execute(ctx context.Context, actionType string, params map[string]any) (Result, error) {
	r.mu.RLock()
	handler, ok := r.handlers[actionType]
	r.mu.RUnlock()
	if !ok {
		return Result{}, xerrors.New(CodeUnknownAction, "unknown action type "+actionType, xerrors.WithMetadata("action_type", actionType))
	}
	if params == nil {
		params = map[string]any{}
	}
	return handler(ctx, params)
}

// Func 让普通函数满足 Executor。
type Func func(ctx context.Context, actionType string, params map[string]any) (Result, error)

// Execute 调用函数本身。
func (f Func) Execute(ctx context.Context, actionType string, params map[string]any) (Result, error) {
	return f(ctx, actionType, params)
}

// Has 报告动作类型是否已登记。
func (r *Registry) Has(actionType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[actionType]
	return ok
}

// Layered 优先使用本地注册表，未登记的类型交给 fallback。
func Layered(local *Registry, fallback Executor) Executor {
	if fallback == nil {
		return local
	}
	return Func(func(ctx context.Context, actionType string, params map[string]any) (Result, error) {
		if local.Has(actionType) {
			return local.Execute(ctx, actionType, params)
		}
		return fallback.Execute(ctx, actionType, params)
	})
}
