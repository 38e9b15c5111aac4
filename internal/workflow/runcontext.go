package workflow

import (
	"sync"
	"time"
)

// RunContext 是一次运行的可变状态。执行协程是唯一的写入方，
// 状态查询与取消会并发读取，因此所有字段都受锁保护。
type RunContext struct {
	WorkflowID string
	Definition *Definition
	StartTime  time.Time

	mu           sync.Mutex
	currentStep  int
	totalRetries int
	results      []StepResult
	cancelled    bool
	settled      bool
	done         chan struct{}

	final    *Result
	finalErr error
	saved    chan struct{}
}

func newRunContext(def *Definition, start time.Time) *RunContext {
	return &RunContext{
		WorkflowID: def.ID,
		Definition: def,
		StartTime:  start,
		results:    make([]StepResult, 0, len(def.Steps)),
		done:       make(chan struct{}),
		saved:      make(chan struct{}),
	}
}

// CurrentStep 返回正在执行的步骤下标。
func (rc *RunContext) CurrentStep() int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.currentStep
}

// TotalRetries 返回目前为止失败的尝试次数。
func (rc *RunContext) TotalRetries() int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.totalRetries
}

// Results 返回已产生结果的副本。
func (rc *RunContext) Results() []StepResult {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return append([]StepResult(nil), rc.results...)
}

// Cancelled 报告运行是否已收到取消请求。
func (rc *RunContext) Cancelled() bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.cancelled
}

// Done 在取消时关闭。
func (rc *RunContext) Done() <-chan struct{} {
	return rc.done
}

func (rc *RunContext) setCurrentStep(i int) {
	rc.mu.Lock()
	rc.currentStep = i
	rc.mu.Unlock()
}

func (rc *RunContext) addRetry() {
	rc.mu.Lock()
	rc.totalRetries++
	rc.mu.Unlock()
}

// appendResult 追加结果；运行已取消时丢弃并返回 false。
func (rc *RunContext) appendResult(r StepResult) bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.cancelled {
		return false
	}
	rc.results = append(rc.results, r)
	return true
}

// cancel 标记取消并原子地返回此刻的结果与重试计数。
// 运行已经取消或已由 claim 认领终态时返回 false。
func (rc *RunContext) cancel() ([]StepResult, int, bool) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.settled {
		return nil, 0, false
	}
	rc.settled = true
	rc.cancelled = true
	close(rc.done)
	return append([]StepResult(nil), rc.results...), rc.totalRetries, true
}

// claim 为正常结束认领终态。与 cancel 互斥，先到者负责持久化。
func (rc *RunContext) claim() bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.settled {
		return false
	}
	rc.settled = true
	return true
}

// publish 记录认领方持久化的终态结果，并唤醒 awaitFinal。只能调用一次。
func (rc *RunContext) publish(result *Result, err error) {
	rc.mu.Lock()
	rc.final = result
	rc.finalErr = err
	rc.mu.Unlock()
	close(rc.saved)
}

// awaitFinal 等待认领方完成持久化并返回它保存的结果。
func (rc *RunContext) awaitFinal() (*Result, error) {
	<-rc.saved
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.final, rc.finalErr
}

// snapshot 返回结果与重试计数的一致视图。
func (rc *RunContext) snapshot() ([]StepResult, int) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return append([]StepResult(nil), rc.results...), rc.totalRetries
}
