package alerting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/Dmoore628/PersonalAssistant/internal/bus"
	xerrors "github.com/Dmoore628/PersonalAssistant/internal/errors"
	"github.com/Dmoore628/PersonalAssistant/internal/workflow"
	"github.com/Dmoore628/PersonalAssistant/pkg/logger"
)

// Channel 表示通知渠道。
type Channel string

// 支持的通知渠道
const (
	ChannelBus Channel = "bus"
	ChannelLog Channel = "log"
)

// Event 描述一次需要告警的事件。
type Event struct {
	Code        xerrors.Code
	Message     string
	Severity    xerrors.Severity
	WorkflowID  string
	FailedSteps []string
	Retries     int
	Metadata    map[string]string
	OccurredAt  time.Time
}

// Notifier 负责将事件发送到指定渠道。
type Notifier interface {
	Channel() Channel
	Notify(ctx context.Context, event Event) error
}

// Dispatcher 将事件广播给多个通知器。
type Dispatcher interface {
	Notify(ctx context.Context, event Event) error
}

// FanoutDispatcher 实现将事件投递到多个通知器的逻辑。
type FanoutDispatcher struct {
	notifiers map[Channel]Notifier
}

// NewFanout 创建一个新的 FanoutDispatcher，同一渠道只保留最后一个。
func NewFanout(notifiers ...Notifier) *FanoutDispatcher {
	set := make(map[Channel]Notifier, len(notifiers))
	for _, n := range notifiers {
		if n == nil {
			continue
		}
		set[n.Channel()] = n
	}
	return &FanoutDispatcher{notifiers: set}
}

// Notify 将事件广播至所有注册渠道。
func (d *FanoutDispatcher) Notify(ctx context.Context, event Event) error {
	if d == nil {
		return nil
	}
	var errs []error
	for _, notifier := range d.notifiers {
		if err := notifier.Notify(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("channel %s: %w", notifier.Channel(), err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// BusNotifier 把告警作为 system.notification 发布，由 HUD 展示。
type BusNotifier struct {
	Publisher bus.Publisher
}

// Channel 返回总线渠道。
func (n *BusNotifier) Channel() Channel { return ChannelBus }

// Notify 发布通知。
func (n *BusNotifier) Notify(ctx context.Context, event Event) error {
	if n == nil || n.Publisher == nil {
		logger.L().Warn("BusNotifier 未正确配置，跳过发送", slog.String("workflow_id", event.WorkflowID))
		return nil
	}
	msg := bus.Notification{
		Title:    fmt.Sprintf("[%s] %s", event.Severity, event.Code),
		Message:  event.Message,
		Type:     "alert",
		Priority: priorityOf(event.Severity),
	}
	return bus.PublishJSON(ctx, n.Publisher, bus.QueueNotification, msg)
}

// LogNotifier 把告警写入应用日志。
type LogNotifier struct {
	Logger *slog.Logger
}

// Channel 返回日志渠道。
func (n *LogNotifier) Channel() Channel { return ChannelLog }

// Notify 按严重程度写日志。
func (n *LogNotifier) Notify(ctx context.Context, event Event) error {
	l := logger.Named("alerting")
	if n != nil && n.Logger != nil {
		l = n.Logger
	}
	level := slog.LevelWarn
	if event.Severity == xerrors.SeverityCritical {
		level = slog.LevelError
	}
	attrs := []any{
		slog.String("code", string(event.Code)),
		slog.String("workflow_id", event.WorkflowID),
		slog.Any("failed_steps", event.FailedSteps),
		slog.Int("retries", event.Retries),
		slog.Time("occurred_at", event.OccurredAt),
	}
	keys := make([]string, 0, len(event.Metadata))
	for k := range event.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, slog.String(k, event.Metadata[k]))
	}
	l.Log(ctx, level, event.Message, attrs...)
	return nil
}

func priorityOf(sev xerrors.Severity) int {
	switch sev {
	case xerrors.SeverityCritical:
		return 1
	case xerrors.SeverityWarning:
		return 2
	default:
		return 3
	}
}

// WorkflowObserver 返回一个 RunObserver：运行以 failed 结束时生成告警。
// 关键步骤失败导致的中止按 critical 处理，其余按错误码登记的级别。
func WorkflowObserver(d Dispatcher) workflow.RunObserver {
	return func(ctx context.Context, run *workflow.RunContext, result *workflow.Result) {
		if d == nil || result.Status != workflow.StatusFailed {
			return
		}
		event := failureEvent(run, result)
		if err := d.Notify(ctx, event); err != nil {
			logger.L().Warn("告警发送失败", slog.String("workflow_id", result.WorkflowID), slog.Any("error", err))
		}
	}
}

func failureEvent(run *workflow.RunContext, result *workflow.Result) Event {
	code := workflow.CodeActionFailed
	var failed []string
	aborted := false
	for _, sr := range result.StepResults {
		if sr.Success {
			continue
		}
		failed = append(failed, sr.StepID)
		if sr.Attempt == 0 {
			code = workflow.CodeDependencyNotMet
		}
		if step, ok := stepByID(run, sr.StepID); ok && step.IsCritical() {
			aborted = true
		}
	}

	severity := xerrors.AttributesOf(code).Severity
	if aborted {
		severity = xerrors.SeverityCritical
	}
	return Event{
		Code:        code,
		Message:     fmt.Sprintf("workflow %s failed: %d/%d steps succeeded (failed: %s)", displayName(result), result.SuccessfulSteps, result.TotalSteps, strings.Join(failed, ", ")),
		Severity:    severity,
		WorkflowID:  result.WorkflowID,
		FailedSteps: failed,
		Retries:     result.RetryAttempts,
		Metadata: map[string]string{
			"success_rate": fmt.Sprintf("%.2f", result.SuccessRate),
		},
		OccurredAt: result.EndTime,
	}
}

func stepByID(run *workflow.RunContext, id string) (workflow.Step, bool) {
	if run == nil || run.Definition == nil {
		return workflow.Step{}, false
	}
	for _, s := range run.Definition.Steps {
		if s.ID == id {
			return s, true
		}
	}
	return workflow.Step{}, false
}

func displayName(result *workflow.Result) string {
	if result.WorkflowName != "" {
		return result.WorkflowName
	}
	return result.WorkflowID
}
