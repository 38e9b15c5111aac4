package workflow

import (
	"encoding/json"
	"math"
	"time"
)

// Status 表示一次运行所处的阶段。
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal 判断状态是否为终态。
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

const (
	// DefaultSuccessThreshold 是判定整体成功所需的最低成功率（含）。
	DefaultSuccessThreshold = 0.8
	// DefaultStepTimeout 是步骤未声明超时时使用的单次尝试时限。
	DefaultStepTimeout = 30 * time.Second
)

// RetryPolicy 描述步骤失败后的重试方式。InitialDelay 以秒为单位。
type RetryPolicy struct {
	MaxRetries        int     `json:"max_retries"`
	InitialDelay      float64 `json:"initial_delay"`
	BackoffMultiplier float64 `json:"backoff_multiplier"`
}

// DefaultRetryPolicy 返回默认策略：最多重试 3 次，首次等待 1 秒，每次翻倍。
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, InitialDelay: 1, BackoffMultiplier: 2}
}

// UnmarshalJSON 缺省字段取默认值，并兼容 retry_delay 写法。
func (p *RetryPolicy) UnmarshalJSON(data []byte) error {
	var raw struct {
		MaxRetries        *int     `json:"max_retries"`
		InitialDelay      *float64 `json:"initial_delay"`
		RetryDelay        *float64 `json:"retry_delay"`
		BackoffMultiplier *float64 `json:"backoff_multiplier"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := DefaultRetryPolicy()
	if raw.MaxRetries != nil {
		out.MaxRetries = *raw.MaxRetries
	}
	switch {
	case raw.InitialDelay != nil:
		out.InitialDelay = *raw.InitialDelay
	case raw.RetryDelay != nil:
		out.InitialDelay = *raw.RetryDelay
	}
	if raw.BackoffMultiplier != nil {
		out.BackoffMultiplier = *raw.BackoffMultiplier
	}
	*p = out
	return nil
}

// withDefaults 补齐以零值构造的策略。MaxRetries 为 0 表示不重试，保持原样。
func (p RetryPolicy) withDefaults() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.InitialDelay == 0 {
		p.InitialDelay = def.InitialDelay
	}
	if p.BackoffMultiplier == 0 {
		p.BackoffMultiplier = def.BackoffMultiplier
	}
	return p
}

// Delay 返回第 failed 次失败之后、下一次尝试之前的等待时长：
// initial_delay × multiplier^(failed-1)。
func (p RetryPolicy) Delay(failed int) time.Duration {
	if failed < 1 {
		failed = 1
	}
	seconds := p.InitialDelay * math.Pow(p.BackoffMultiplier, float64(failed-1))
	return secondsToDuration(seconds)
}

// Step 是工作流中的一个动作。Timeout 以秒为单位，0 表示使用默认值。
type Step struct {
	ID           string         `json:"id,omitempty"`
	ActionType   string         `json:"action_type"`
	Parameters   map[string]any `json:"parameters,omitempty"`
	Dependencies []string       `json:"dependencies,omitempty"`
	Timeout      float64        `json:"timeout,omitempty"`
	Critical     *bool          `json:"critical,omitempty"`
	RetryPolicy  *RetryPolicy   `json:"retry_policy,omitempty"`
}

// IsCritical 判断步骤失败是否终止整个运行。
// 未显式声明时读取 parameters.critical，仍缺省则视为关键步骤。
func (s Step) IsCritical() bool {
	if s.Critical != nil {
		return *s.Critical
	}
	if v, ok := s.Parameters["critical"].(bool); ok {
		return v
	}
	return true
}

// Definition 是提交执行的工作流描述，提交后不再修改。
type Definition struct {
	ID          string       `json:"id,omitempty"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Steps       []Step       `json:"steps"`
	RetryPolicy *RetryPolicy `json:"retry_policy,omitempty"`
	CreatedBy   string       `json:"created_by,omitempty"`
}

// UnmarshalJSON 兼容以 actions 表示步骤列表的旧格式。
func (d *Definition) UnmarshalJSON(data []byte) error {
	type plain Definition
	var raw struct {
		plain
		Actions []Step `json:"actions"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*d = Definition(raw.plain)
	if len(d.Steps) == 0 && len(raw.Actions) > 0 {
		d.Steps = raw.Actions
	}
	return nil
}

// StepResult 记录单个步骤的最终结果。ExecutionTime 以秒为单位。
type StepResult struct {
	StepID        string         `json:"step_id"`
	StepIndex     int            `json:"step_index"`
	ActionType    string         `json:"action_type"`
	Success       bool           `json:"success"`
	Attempt       int            `json:"attempt"`
	ExecutionTime float64        `json:"execution_time"`
	Error         string         `json:"error,omitempty"`
	Payload       map[string]any `json:"payload,omitempty"`
}

// Result 是一次运行的最终汇总。
type Result struct {
	WorkflowID      string       `json:"workflow_id"`
	WorkflowName    string       `json:"workflow_name"`
	Status          Status       `json:"status"`
	Success         bool         `json:"success"`
	SuccessRate     float64      `json:"success_rate"`
	TotalSteps      int          `json:"total_steps"`
	SuccessfulSteps int          `json:"successful_steps"`
	ExecutionTime   float64      `json:"execution_time"`
	StepResults     []StepResult `json:"step_results"`
	RetryAttempts   int          `json:"retry_attempts"`
	StartTime       time.Time    `json:"start_time"`
	EndTime         time.Time    `json:"end_time"`
}

// Clone 返回不共享步骤切片的副本。
func (r *Result) Clone() *Result {
	if r == nil {
		return nil
	}
	out := *r
	out.StepResults = append([]StepResult(nil), r.StepResults...)
	return &out
}

// summarize 按阈值汇总已产生的步骤结果。取消的运行总是不成功。
func summarize(def *Definition, results []StepResult, retries int, start, end time.Time, threshold float64, cancelled bool) *Result {
	out := &Result{
		WorkflowID:    def.ID,
		WorkflowName:  def.Name,
		TotalSteps:    len(results),
		StepResults:   append([]StepResult(nil), results...),
		RetryAttempts: retries,
		StartTime:     start,
		EndTime:       end,
		ExecutionTime: end.Sub(start).Seconds(),
	}
	for _, r := range results {
		if r.Success {
			out.SuccessfulSteps++
		}
	}
	if out.TotalSteps > 0 {
		out.SuccessRate = float64(out.SuccessfulSteps) / float64(out.TotalSteps)
	}
	switch {
	case cancelled:
		out.Status = StatusCancelled
	case out.TotalSteps > 0 && out.SuccessRate >= threshold:
		out.Success = true
		out.Status = StatusCompleted
	default:
		out.Status = StatusFailed
	}
	return out
}

func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}
