package agent

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"log/slog"
	"strings"
	"time"

	"github.com/Dmoore628/PersonalAssistant/internal/action"
	"github.com/Dmoore628/PersonalAssistant/internal/bus"
	xerrors "github.com/Dmoore628/PersonalAssistant/internal/errors"
	"github.com/Dmoore628/PersonalAssistant/internal/workflow"
	"github.com/Dmoore628/PersonalAssistant/pkg/logger"
)

// SourceExecutionAgent 是执行代理发布结果时使用的来源标识。
const SourceExecutionAgent = "execution_agent"

// WorkflowRunner 同步执行工作流，workflow.Executor 实现了该接口。
type WorkflowRunner interface {
	Execute(ctx context.Context, def workflow.Definition) (*workflow.Result, error)
}

// ExecutionAgent 把 system.execute 上的命令交给工作流执行器或动作执行器，
// 并把结果发布到 system.result。
type ExecutionAgent struct {
	runner    WorkflowRunner
	actions   action.Executor
	publisher bus.Publisher
	timeout   time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// Option 定义可选的 Agent 配置。
type Option func(*ExecutionAgent)

// WithActionTimeout 设置单个动作命令的超时时间。
func WithActionTimeout(timeout time.Duration) Option {
	return func(a *ExecutionAgent) {
		if timeout > 0 {
			a.timeout = timeout
		}
	}
}

// WithClock 替换时间来源，主要用于测试。
func WithClock(now func() time.Time) Option {
	return func(a *ExecutionAgent) {
		if now != nil {
			a.now = now
		}
	}
}

// NewExecutionAgent 创建执行代理。
func NewExecutionAgent(runner WorkflowRunner, actions action.Executor, publisher bus.Publisher, opts ...Option) *ExecutionAgent {
	a := &ExecutionAgent{
		runner:    runner,
		actions:   actions,
		publisher: publisher,
		timeout:   workflow.DefaultStepTimeout,
		now:       time.Now,
		logger:    logger.Named("agent.execution"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// Handle 是 system.execute 的处理器。
// 命令本身无法解码时返回错误，由总线转入死信；
// 命令可解码但执行失败时发布 success=false 的结果并视为已处理。
func (a *ExecutionAgent) Handle(ctx context.Context, body []byte) error {
	var cmd bus.Command
	if err := bus.Decode(body, &cmd); err != nil {
		return err
	}
	cmd.Action = strings.TrimSpace(cmd.Action)
	if cmd.Action == "" {
		return xerrors.New(bus.CodeDecodeFailed, "command action is empty")
	}

	var outcome bus.CommandResult
	if cmd.Action == bus.ActionExecuteWorkflow {
		outcome = a.runWorkflow(ctx, cmd)
	} else {
		outcome = a.runAction(ctx, cmd)
	}
	outcome.Source = SourceExecutionAgent
	outcome.Action = cmd.Action
	outcome.Timestamp = bus.Timestamp(a.now())

	return bus.PublishJSON(ctx, a.publisher, bus.QueueSystemResult, outcome)
}

func (a *ExecutionAgent) runWorkflow(ctx context.Context, cmd bus.Command) bus.CommandResult {
	if a.runner == nil {
		return failure(xerrors.New(xerrors.CodeInitializationFailure, "未配置工作流执行器"))
	}
	def, err := workflow.DecodeDefinition(cmd.Parameters)
	if err != nil {
		a.logger.Warn("拒绝非法工作流", "source", cmd.Source, "error", err)
		return failure(err)
	}
	if def.CreatedBy == "" {
		def.CreatedBy = cmd.Source
	}

	result, err := a.runner.Execute(ctx, *def)
	if err != nil {
		a.logger.Warn("工作流未能执行", "workflow_id", def.ID, "error", err)
		return failure(err)
	}
	out := bus.CommandResult{Success: result.Success, Result: result}
	if !result.Success {
		out.Error = "workflow " + string(result.Status)
	}
	return out
}

func (a *ExecutionAgent) runAction(ctx context.Context, cmd bus.Command) bus.CommandResult {
	if a.actions == nil {
		return failure(xerrors.New(xerrors.CodeInitializationFailure, "未配置动作执行器"))
	}
	params := map[string]any{}
	if len(cmd.Parameters) > 0 && string(cmd.Parameters) != "null" {
		if err := json.Unmarshal(cmd.Parameters, &params); err != nil {
			return failure(xerrors.Wrap(bus.CodeDecodeFailed, err, "parameters must be an object"))
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	res, err := a.actions.Execute(callCtx, cmd.Action, params)
	if err != nil {
		if stdErrors.Is(callCtx.Err(), context.DeadlineExceeded) {
			err = xerrors.Wrap(workflow.CodeActionTimeout, err, "action timed out after "+a.timeout.String())
		}
		return failure(err)
	}
	out := bus.CommandResult{Success: res.Success, Result: res.Data}
	if !res.Success {
		out.Error = res.Error
		if out.Error == "" {
			out.Error = "action reported failure"
		}
	}
	return out
}

func failure(err error) bus.CommandResult {
	return bus.CommandResult{Success: false, Error: err.Error()}
}
