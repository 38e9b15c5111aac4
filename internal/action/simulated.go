package action

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"
)

// Simulated 模拟桌面操作，不触碰真实的窗口系统。
// 打开的应用会被记录下来，关闭未打开的应用会失败。
type Simulated struct {
	latency time.Duration

	mu      sync.Mutex
	running map[string]int
}

// SimulatedOption 调整模拟器行为。
type SimulatedOption func(*Simulated)

// WithLatency 设置每个动作的模拟耗时。
func WithLatency(d time.Duration) SimulatedOption {
	return func(s *Simulated) {
		if d >= 0 {
			s.latency = d
		}
	}
}

// RegisterSimulated 把全部模拟动作登记到注册表中。
func RegisterSimulated(reg *Registry, opts ...SimulatedOption) *Simulated {
	s := &Simulated{latency: 100 * time.Millisecond, running: make(map[string]int)}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	reg.Register("open_application", s.openApplication)
	reg.Register("close_application", s.closeApplication)
	reg.Register("click", s.click)
	reg.Register("type", s.typeText)
	reg.Register("key_press", s.keyPress)
	reg.Register("scroll", s.scroll)
	reg.Register("switch_window", s.switchWindow)
	reg.Register("wait", s.wait)
	return s
}

// Running 返回当前处于打开状态的应用数量。
func (s *Simulated) Running() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.running)
}

func (s *Simulated) openApplication(ctx context.Context, params map[string]any) (Result, error) {
	if err := sleep(ctx, s.latency); err != nil {
		return Result{}, err
	}
	name := stringParam(params, "app_name", "")
	if name == "" {
		return Result{Success: false, Error: "app_name is required"}, nil
	}
	s.mu.Lock()
	pid, already := s.running[name]
	if !already {
		h := fnv.New32a()
		_, _ = h.Write([]byte(name))
		pid = int(h.Sum32() % 100000)
		s.running[name] = pid
	}
	s.mu.Unlock()

	message := fmt.Sprintf("Application %s opened successfully", name)
	if already {
		message = fmt.Sprintf("Application %s already running", name)
	}
	return Result{Success: true, Data: map[string]any{
		"action":     "open_application",
		"app_name":   name,
		"process_id": pid,
		"result":     message,
	}}, nil
}

func (s *Simulated) closeApplication(ctx context.Context, params map[string]any) (Result, error) {
	if err := sleep(ctx, s.latency); err != nil {
		return Result{}, err
	}
	name := stringParam(params, "app_name", "")
	s.mu.Lock()
	_, ok := s.running[name]
	delete(s.running, name)
	s.mu.Unlock()
	if !ok {
		return Result{Success: false, Error: fmt.Sprintf("Application %s not running", name)}, nil
	}
	return Result{Success: true, Data: map[string]any{
		"action":   "close_application",
		"app_name": name,
		"result":   fmt.Sprintf("Application %s closed successfully", name),
	}}, nil
}

func (s *Simulated) click(ctx context.Context, params map[string]any) (Result, error) {
	if err := sleep(ctx, s.latency); err != nil {
		return Result{}, err
	}
	x, y := numberParam(params, "x", 0), numberParam(params, "y", 0)
	button := stringParam(params, "button", "left")
	return Result{Success: true, Data: map[string]any{
		"action":   "click",
		"position": map[string]any{"x": x, "y": y},
		"button":   button,
		"result":   fmt.Sprintf("Clicked at (%v, %v)", x, y),
	}}, nil
}

func (s *Simulated) typeText(ctx context.Context, params map[string]any) (Result, error) {
	if err := sleep(ctx, s.latency); err != nil {
		return Result{}, err
	}
	text := stringParam(params, "text", "")
	return Result{Success: true, Data: map[string]any{
		"action": "type",
		"text":   text,
		"result": "Typed: " + text,
	}}, nil
}

func (s *Simulated) keyPress(ctx context.Context, params map[string]any) (Result, error) {
	if err := sleep(ctx, s.latency); err != nil {
		return Result{}, err
	}
	keys := params["keys"]
	if keys == nil {
		keys = []any{}
	}
	return Result{Success: true, Data: map[string]any{"action": "key_press", "keys": keys}}, nil
}

func (s *Simulated) scroll(ctx context.Context, params map[string]any) (Result, error) {
	if err := sleep(ctx, s.latency); err != nil {
		return Result{}, err
	}
	direction := stringParam(params, "direction", "up")
	amount := numberParam(params, "amount", 3)
	return Result{Success: true, Data: map[string]any{"action": "scroll", "direction": direction, "amount": amount}}, nil
}

func (s *Simulated) switchWindow(ctx context.Context, params map[string]any) (Result, error) {
	if err := sleep(ctx, s.latency); err != nil {
		return Result{}, err
	}
	title := stringParam(params, "window_title", "")
	return Result{Success: true, Data: map[string]any{"action": "switch_window", "window_title": title}}, nil
}

// wait 按 parameters.duration（秒）等待，超时或取消时提前返回错误。
func (s *Simulated) wait(ctx context.Context, params map[string]any) (Result, error) {
	duration := numberParam(params, "duration", 1)
	if duration < 0 {
		return Result{Success: false, Error: "duration must not be negative"}, nil
	}
	if err := sleep(ctx, time.Duration(duration*float64(time.Second))); err != nil {
		return Result{}, err
	}
	return Result{Success: true, Data: map[string]any{
		"action":   "wait",
		"duration": duration,
		"result":   fmt.Sprintf("Waited %v seconds", duration),
	}}, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func stringParam(params map[string]any, key, fallback string) string {
	if v, ok := params[key].(string); ok {
		return v
	}
	return fallback
}

func numberParam(params map[string]any, key string, fallback float64) float64 {
	switch v := params[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return fallback
	}
}
