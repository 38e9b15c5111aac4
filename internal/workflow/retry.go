package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Dmoore628/PersonalAssistant/internal/action"
	xerrors "github.com/Dmoore628/PersonalAssistant/internal/errors"
)

// WaitFunc 挂起当前运行 d 时长。cancel 关闭或 ctx 结束时提前返回错误。
type WaitFunc func(ctx context.Context, d time.Duration, cancel <-chan struct{}) error

// TimerWait 是默认的 WaitFunc，只阻塞调用它的协程。
func TimerWait(ctx context.Context, d time.Duration, cancel <-chan struct{}) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-cancel:
		return ErrCancelled
	case <-timer.C:
		return nil
	}
}

type attemptOutcome struct {
	result action.Result
	err    error
}

// runStep 按重试策略驱动单个步骤。动作失败与超时都记在 StepResult 里；
// 只有取消或 ctx 结束才返回 error。
func (e *Executor) runStep(ctx context.Context, rc *RunContext, index int, step Step) (StepResult, error) {
	policy := e.policyFor(rc.Definition, step)
	timeout := e.timeoutFor(step)

	var lastErr string
	for attempt := 1; attempt <= policy.MaxRetries+1; attempt++ {
		started := e.now()
		res, err := e.invoke(ctx, rc, step, timeout)
		if err == nil && res.Success {
			return StepResult{
				StepID:        step.ID,
				StepIndex:     index,
				ActionType:    step.ActionType,
				Success:       true,
				Attempt:       attempt,
				ExecutionTime: e.now().Sub(started).Seconds(),
				Payload:       res.Data,
			}, nil
		}

		if rc.Cancelled() {
			return StepResult{}, ErrCancelled
		}
		if err := ctx.Err(); err != nil {
			return StepResult{}, err
		}

		lastErr = failureText(res, err)
		rc.addRetry()
		e.logger.Warn("步骤执行失败",
			"workflow_id", rc.WorkflowID,
			"step_id", step.ID,
			"attempt", attempt,
			"max_attempts", policy.MaxRetries+1,
			"error", lastErr,
		)
		if attempt > policy.MaxRetries {
			break
		}
		if err := e.wait(ctx, policy.Delay(attempt), rc.Done()); err != nil {
			return StepResult{}, err
		}
	}

	return StepResult{
		StepID:     step.ID,
		StepIndex:  index,
		ActionType: step.ActionType,
		Success:    false,
		Attempt:    policy.MaxRetries + 1,
		Error:      lastErr,
	}, nil
}

// invoke 在 timeout 内调用动作执行器。执行器不响应 ctx 时也会按时返回，
// 遗留的调用结果写入带缓冲的通道后被丢弃。运行被取消时调用上下文随之结束。
func (e *Executor) invoke(ctx context.Context, rc *RunContext, step Step, timeout time.Duration) (action.Result, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	go func() {
		select {
		case <-rc.Done():
			cancel()
		case <-callCtx.Done():
		}
	}()

	params := make(map[string]any, len(step.Parameters))
	for k, v := range step.Parameters {
		params[k] = v
	}

	done := make(chan attemptOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- attemptOutcome{err: xerrors.New(CodeActionFailed, fmt.Sprintf("action panicked: %v", r))}
			}
		}()
		res, err := e.actions.Execute(callCtx, step.ActionType, params)
		done <- attemptOutcome{result: res, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil && rc.Cancelled() {
			return action.Result{}, ErrCancelled
		}
		if out.err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return action.Result{}, timeoutError(timeout)
		}
		return out.result, out.err
	case <-callCtx.Done():
		if rc.Cancelled() {
			return action.Result{}, ErrCancelled
		}
		if err := ctx.Err(); err != nil {
			return action.Result{}, err
		}
		return action.Result{}, timeoutError(timeout)
	}
}

func timeoutError(timeout time.Duration) error {
	return xerrors.New(CodeActionTimeout, fmt.Sprintf("action timed out after %s", timeout))
}

func failureText(res action.Result, err error) string {
	switch {
	case err != nil:
		if e, ok := xerrors.From(err); ok {
			return e.Message()
		}
		return err.Error()
	case res.Error != "":
		return res.Error
	default:
		return "action reported failure"
	}
}
