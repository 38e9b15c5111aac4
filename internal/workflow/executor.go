package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Dmoore628/PersonalAssistant/internal/action"
	xerrors "github.com/Dmoore628/PersonalAssistant/internal/errors"
	"github.com/Dmoore628/PersonalAssistant/pkg/logger"
)

// StepObserver 在每个 StepResult 追加之后被调用。
type StepObserver func(ctx context.Context, run *RunContext, result StepResult)

// RunObserver 在运行进入终态后被调用一次。
type RunObserver func(ctx context.Context, run *RunContext, result *Result)

// Executor 顺序执行工作流步骤并维护运行登记表。不同运行之间互不加锁。
type Executor struct {
	actions        action.Executor
	registry       *Registry
	threshold      float64
	defaultPolicy  RetryPolicy
	defaultTimeout time.Duration
	wait           WaitFunc
	now            func() time.Time
	logger         *slog.Logger

	stepObservers []StepObserver
	runObservers  []RunObserver

	wg sync.WaitGroup
}

// Option 配置 Executor。
type Option func(*Executor)

// WithSuccessThreshold 设置整体成功所需的最低成功率，取值 [0, 1]。
func WithSuccessThreshold(threshold float64) Option {
	return func(e *Executor) {
		if threshold >= 0 && threshold <= 1 {
			e.threshold = threshold
		}
	}
}

// WithDefaultRetryPolicy 设置步骤与工作流都未声明时使用的重试策略。
func WithDefaultRetryPolicy(policy RetryPolicy) Option {
	return func(e *Executor) {
		policy = policy.withDefaults()
		if validatePolicy(policy) == nil {
			e.defaultPolicy = policy
		}
	}
}

// WithDefaultStepTimeout 设置步骤未声明超时时的时限。
func WithDefaultStepTimeout(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.defaultTimeout = d
		}
	}
}

// WithWaitFunc 替换重试之间的等待实现。
func WithWaitFunc(wait WaitFunc) Option {
	return func(e *Executor) {
		if wait != nil {
			e.wait = wait
		}
	}
}

// WithClock 替换时间来源。
func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		if now != nil {
			e.now = now
		}
	}
}

// WithLogger 设置应用日志。
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithStepObserver 追加步骤观察者。
func WithStepObserver(obs StepObserver) Option {
	return func(e *Executor) {
		if obs != nil {
			e.stepObservers = append(e.stepObservers, obs)
		}
	}
}

// WithRunObserver 追加终态观察者。
func WithRunObserver(obs RunObserver) Option {
	return func(e *Executor) {
		if obs != nil {
			e.runObservers = append(e.runObservers, obs)
		}
	}
}

// NewExecutor 创建执行器。store 为空时使用内存存储。
func NewExecutor(actions action.Executor, store ResultStore, opts ...Option) *Executor {
	e := &Executor{
		actions:        actions,
		registry:       NewRegistry(store),
		threshold:      DefaultSuccessThreshold,
		defaultPolicy:  DefaultRetryPolicy(),
		defaultTimeout: DefaultStepTimeout,
		wait:           TimerWait,
		now:            time.Now,
		logger:         logger.Named("workflow"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Registry 返回运行登记表。
func (e *Executor) Registry() *Registry {
	return e.registry
}

// Execute 校验并同步执行工作流，返回最终结果。
// 定义非法时返回 WORKFLOW_VALIDATION_FAILED，同 ID 正在运行时返回 WORKFLOW_CONFLICT，
// 这两种情况都不会登记运行。被取消的运行返回 status=cancelled 的结果。
func (e *Executor) Execute(ctx context.Context, def Definition) (*Result, error) {
	rc, err := e.start(def)
	if err != nil {
		return nil, err
	}
	return e.run(ctx, rc)
}

// Submit 校验并登记工作流后在后台执行，立即返回 workflow_id。
// ctx 控制整个运行的生命周期。
func (e *Executor) Submit(ctx context.Context, def Definition) (string, error) {
	rc, err := e.start(def)
	if err != nil {
		return "", err
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if _, err := e.run(ctx, rc); err != nil {
			e.logger.Error("后台工作流结束时出错", "workflow_id", rc.WorkflowID, "error", err)
		}
	}()
	return rc.WorkflowID, nil
}

// Status 查询运行状态。既不在运行中也没有结果时返回 ErrNotFound。
func (e *Executor) Status(ctx context.Context, workflowID string) (*StatusReport, error) {
	rc, result, err := e.registry.lookup(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if rc != nil {
		return runningReport(rc), nil
	}
	return finishedReport(result), nil
}

// Result 返回已完成运行的结果。运行尚未结束时返回 WORKFLOW_CONFLICT。
func (e *Executor) Result(ctx context.Context, workflowID string) (*Result, error) {
	rc, result, err := e.registry.lookup(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if rc != nil {
		return nil, xerrors.New(CodeConflict, "workflow "+workflowID+" is still running", xerrors.WithMetadata("workflow_id", workflowID))
	}
	return result, nil
}

// Cancel 取消运行中的工作流。返回 false 表示该 ID 不在运行中。
// 取消后立即可以查到 status=cancelled 的结果；运行协程会在下一个挂起点停下。
func (e *Executor) Cancel(ctx context.Context, workflowID string) (bool, error) {
	result, ok, err := e.registry.cancel(ctx, workflowID, e.now())
	if !ok {
		return false, nil
	}
	e.logger.Info("工作流已取消", "workflow_id", workflowID, "completed_steps", len(result.StepResults))
	return true, err
}

// Shutdown 取消全部运行中的工作流并等待后台运行退出。
func (e *Executor) Shutdown(ctx context.Context) error {
	for _, id := range e.registry.ActiveIDs() {
		if _, err := e.Cancel(ctx, id); err != nil {
			e.logger.Warn("关闭时取消工作流失败", "workflow_id", id, "error", err)
		}
	}
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Executor) start(def Definition) (*RunContext, error) {
	prepared, err := Prepare(def)
	if err != nil {
		return nil, err
	}
	rc := newRunContext(prepared, e.now())
	if err := e.registry.register(rc); err != nil {
		return nil, err
	}
	return rc, nil
}

func (e *Executor) run(ctx context.Context, rc *RunContext) (*Result, error) {
	def := rc.Definition
	e.logger.Info("工作流开始执行", "workflow_id", rc.WorkflowID, "name", def.Name, "steps", len(def.Steps))

	for i, step := range def.Steps {
		if rc.Cancelled() || ctx.Err() != nil {
			return e.stop(ctx, rc)
		}
		rc.setCurrentStep(i)

		var res StepResult
		if ok, missing := checkDependencies(step, rc.Results()); !ok {
			res = deniedResult(step, i)
			e.logger.Warn("依赖未满足，跳过执行", "workflow_id", rc.WorkflowID, "step_id", step.ID, "missing", missing)
		} else {
			r, err := e.runStep(ctx, rc, i, step)
			if err != nil {
				return e.stop(ctx, rc)
			}
			res = r
		}

		if !rc.appendResult(res) {
			return e.stop(ctx, rc)
		}
		e.notifyStep(ctx, rc, res)

		if !res.Success && step.IsCritical() {
			e.logger.Warn("关键步骤失败，终止工作流", "workflow_id", rc.WorkflowID, "step_id", step.ID, "step_index", i)
			break
		}
	}

	results, retries := rc.snapshot()
	result := summarize(def, results, retries, rc.StartTime, e.now(), e.threshold, false)
	final, err := e.registry.complete(context.WithoutCancel(ctx), rc, result)
	e.finish(ctx, rc, final)
	return final, err
}

// stop 处理取消信号或 ctx 结束，不再产生新的 StepResult。
func (e *Executor) stop(ctx context.Context, rc *RunContext) (*Result, error) {
	final, err := e.registry.abort(context.WithoutCancel(ctx), rc, e.now())
	e.finish(ctx, rc, final)
	return final, err
}

func (e *Executor) finish(ctx context.Context, rc *RunContext, result *Result) {
	if result == nil {
		return
	}
	attrs := []any{
		"workflow_id", result.WorkflowID,
		"name", result.WorkflowName,
		"status", string(result.Status),
		"success", result.Success,
		"success_rate", result.SuccessRate,
		"total_steps", result.TotalSteps,
		"successful_steps", result.SuccessfulSteps,
		"retry_attempts", result.RetryAttempts,
		"execution_time", result.ExecutionTime,
	}
	e.logger.Info("工作流结束", "workflow_id", result.WorkflowID, "status", string(result.Status))
	logger.Audit().Info("workflow.finished", attrs...)

	for _, obs := range e.runObservers {
		e.safeCall(rc, func() { obs(context.WithoutCancel(ctx), rc, result) })
	}
}

func (e *Executor) notifyStep(ctx context.Context, rc *RunContext, res StepResult) {
	for _, obs := range e.stepObservers {
		e.safeCall(rc, func() { obs(ctx, rc, res) })
	}
}

func (e *Executor) safeCall(rc *RunContext, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("观察者发生 panic", "workflow_id", rc.WorkflowID, "panic", fmt.Sprint(r))
		}
	}()
	fn()
}

func (e *Executor) policyFor(def *Definition, step Step) RetryPolicy {
	switch {
	case step.RetryPolicy != nil:
		return *step.RetryPolicy
	case def.RetryPolicy != nil:
		return *def.RetryPolicy
	default:
		return e.defaultPolicy
	}
}

func (e *Executor) timeoutFor(step Step) time.Duration {
	if step.Timeout > 0 {
		return secondsToDuration(step.Timeout)
	}
	return e.defaultTimeout
}
