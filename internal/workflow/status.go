package workflow

import "time"

// StatusReport 是状态查询的返回值。运行中时携带进度字段，
// 终态时携带 success 与 execution_time。
type StatusReport struct {
	WorkflowID    string     `json:"workflow_id"`
	Status        Status     `json:"status"`
	StartTime     *time.Time `json:"start_time,omitempty"`
	CurrentStep   *int       `json:"current_step,omitempty"`
	TotalSteps    *int       `json:"total_steps,omitempty"`
	Success       *bool      `json:"success,omitempty"`
	ExecutionTime *float64   `json:"execution_time,omitempty"`
}

func runningReport(rc *RunContext) *StatusReport {
	start := rc.StartTime
	current := rc.CurrentStep()
	total := len(rc.Definition.Steps)
	return &StatusReport{
		WorkflowID:  rc.WorkflowID,
		Status:      StatusRunning,
		StartTime:   &start,
		CurrentStep: &current,
		TotalSteps:  &total,
	}
}

func finishedReport(r *Result) *StatusReport {
	success := r.Success
	elapsed := r.ExecutionTime
	return &StatusReport{
		WorkflowID:    r.WorkflowID,
		Status:        r.Status,
		Success:       &success,
		ExecutionTime: &elapsed,
	}
}
