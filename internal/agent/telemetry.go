package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Dmoore628/PersonalAssistant/internal/bus"
	"github.com/Dmoore628/PersonalAssistant/internal/workflow"
	"github.com/Dmoore628/PersonalAssistant/pkg/logger"
)

// Telemetry 把执行器的步骤与运行事件发布到 task.progress 和 system.notification。
// 发布失败只记录日志，不影响工作流本身。
type Telemetry struct {
	publisher bus.Publisher
	now       func() time.Time
	logger    *slog.Logger
}

// NewTelemetry 创建遥测发布器。
func NewTelemetry(publisher bus.Publisher, now func() time.Time) *Telemetry {
	if now == nil {
		now = time.Now
	}
	return &Telemetry{publisher: publisher, now: now, logger: logger.Named("agent.telemetry")}
}

// OnStep 实现 workflow.StepObserver。
func (t *Telemetry) OnStep(ctx context.Context, run *workflow.RunContext, res workflow.StepResult) {
	total := len(run.Definition.Steps)
	progress := 0.0
	if total > 0 {
		progress = float64(res.StepIndex+1) / float64(total)
	}
	msg := bus.Progress{
		ExecutionID: run.WorkflowID,
		Step:        res.StepIndex,
		TotalSteps:  total,
		Action:      res.ActionType,
		Success:     res.Success,
		Progress:    progress,
		Timestamp:   bus.Timestamp(t.now()),
	}
	if err := bus.PublishJSON(ctx, t.publisher, bus.QueueTaskProgress, msg); err != nil {
		t.logger.Warn("发布进度失败", "workflow_id", run.WorkflowID, "step", res.StepIndex, "error", err)
	}
}

// OnFinish 实现 workflow.RunObserver。
func (t *Telemetry) OnFinish(ctx context.Context, run *workflow.RunContext, result *workflow.Result) {
	if err := bus.PublishJSON(ctx, t.publisher, bus.QueueNotification, runNotification(result)); err != nil {
		t.logger.Warn("发布结束通知失败", "workflow_id", run.WorkflowID, "error", err)
	}
}

func runNotification(result *workflow.Result) bus.Notification {
	name := result.WorkflowName
	if name == "" {
		name = result.WorkflowID
	}
	summary := fmt.Sprintf("%s: %d/%d steps succeeded", name, result.SuccessfulSteps, result.TotalSteps)
	switch result.Status {
	case workflow.StatusCompleted:
		return bus.Notification{Title: "Workflow completed", Message: summary, Type: "success", Priority: 3}
	case workflow.StatusCancelled:
		return bus.Notification{Title: "Workflow cancelled", Message: summary, Type: "warning", Priority: 2}
	default:
		return bus.Notification{Title: "Workflow failed", Message: summary, Type: "error", Priority: 1}
	}
}
