package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Dmoore628/PersonalAssistant/internal/bus"
	xerrors "github.com/Dmoore628/PersonalAssistant/internal/errors"
	"github.com/Dmoore628/PersonalAssistant/internal/workflow"
	"github.com/Dmoore628/PersonalAssistant/pkg/logger"
)

const (
	// SourcePlanner 是计划调度器发布消息时使用的来源标识。
	SourcePlanner = "planning_agent"

	defaultPlanPriority = 3
)

// Planner 消费 plan.created：带步骤的计划被转换为链式工作流投递到 system.execute，
// 每个计划都会写入 memory.store 并发送一条通知。
type Planner struct {
	publisher bus.Publisher
	now       func() time.Time
	logger    *slog.Logger
}

// NewPlanner 创建计划调度器。
func NewPlanner(publisher bus.Publisher, now func() time.Time) *Planner {
	if now == nil {
		now = time.Now
	}
	return &Planner{publisher: publisher, now: now, logger: logger.Named("agent.planner")}
}

// Handle 是 plan.created 的处理器。
func (p *Planner) Handle(ctx context.Context, body []byte) error {
	var plan bus.Plan
	if err := bus.Decode(body, &plan); err != nil {
		return err
	}
	if strings.TrimSpace(plan.ID) == "" {
		plan.ID = uuid.NewString()
	}
	if plan.Priority <= 0 {
		plan.Priority = defaultPlanPriority
	}

	scheduled := false
	if def, ok := BuildWorkflow(plan); ok {
		params, err := json.Marshal(def)
		if err != nil {
			return xerrors.Wrap(bus.CodePublishFailed, err, "encode workflow for plan "+plan.ID)
		}
		cmd := bus.Command{
			Action:     bus.ActionExecuteWorkflow,
			Parameters: params,
			Source:     SourcePlanner,
			Target:     SourceExecutionAgent,
		}
		if err := bus.PublishJSON(ctx, p.publisher, bus.QueueSystemExecute, cmd); err != nil {
			return err
		}
		scheduled = true
		p.logger.Info("计划已转换为工作流", "plan_id", plan.ID, "steps", len(def.Steps))
	}

	if err := bus.PublishJSON(ctx, p.publisher, bus.QueueMemoryStore, planRecord(plan, p.now())); err != nil {
		return err
	}
	return bus.PublishJSON(ctx, p.publisher, bus.QueueNotification, planNotification(plan, scheduled))
}

// BuildWorkflow 把计划步骤转换为顺序依赖的工作流：每一步依赖上一步，
// 动作类型即步骤文本。计划没有可用步骤时返回 false。
func BuildWorkflow(plan bus.Plan) (workflow.Definition, bool) {
	def := workflow.Definition{
		ID:          plan.ID,
		Name:        plan.Title,
		Description: plan.Description,
		CreatedBy:   plan.Source,
	}
	prev := ""
	for _, text := range plan.Steps {
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		step := workflow.Step{
			ID:         fmt.Sprintf("step_%d", len(def.Steps)),
			ActionType: text,
			Parameters: map[string]any{"plan_id": plan.ID},
		}
		if prev != "" {
			step.Dependencies = []string{prev}
		}
		def.Steps = append(def.Steps, step)
		prev = step.ID
	}
	return def, len(def.Steps) > 0
}

func planRecord(plan bus.Plan, now time.Time) bus.MemoryRecord {
	fields := map[string]any{
		"id":          plan.ID,
		"title":       plan.Title,
		"description": plan.Description,
		"priority":    plan.Priority,
		"tags":        plan.Tags,
		"source":      plan.Source,
		"steps":       plan.Steps,
		"created_at":  bus.Timestamp(now),
	}
	if plan.EstimatedDuration != nil {
		fields["estimated_duration"] = *plan.EstimatedDuration
	}
	return bus.NewMemoryRecord("plan", fields)
}

func planNotification(plan bus.Plan, scheduled bool) bus.Notification {
	msg := fmt.Sprintf("Plan %q received", plan.Title)
	if scheduled {
		msg = fmt.Sprintf("Plan %q scheduled with %d steps", plan.Title, len(plan.Steps))
	}
	return bus.Notification{Title: "New plan", Message: msg, Type: "info", Priority: plan.Priority}
}
