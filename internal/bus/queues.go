package bus

import (
	"encoding/json"
	"time"
)

const (
	QueuePlanCreated   = "plan.created"
	QueueSystemExecute = "system.execute"
	QueueSystemResult  = "system.result"
	QueueTaskProgress  = "task.progress"
	QueueNotification  = "system.notification"
	QueueMemoryStore   = "memory.store"
)

// Queues 列出全部已知队列。
var Queues = []string{
	QueuePlanCreated,
	QueueSystemExecute,
	QueueSystemResult,
	QueueTaskProgress,
	QueueNotification,
	QueueMemoryStore,
}

// ActionExecuteWorkflow 是 system.execute 中表示“执行整个工作流”的动作名。
const ActionExecuteWorkflow = "execute_workflow"

// Plan 是 plan.created 的消息体。Priority 1 最高，5 最低。
type Plan struct {
	ID                   string   `json:"id"`
	Title                string   `json:"title"`
	Description          string   `json:"description,omitempty"`
	Priority             int      `json:"priority,omitempty"`
	Tags                 []string `json:"tags,omitempty"`
	Source               string   `json:"source,omitempty"`
	Steps                []string `json:"steps,omitempty"`
	EstimatedDuration    *int     `json:"estimated_duration,omitempty"`
	RequiresConfirmation bool     `json:"requires_confirmation,omitempty"`
}

// Command 是 system.execute 的消息体。Parameters 保留原始 JSON，
// 由处理方按动作决定如何解码。
type Command struct {
	Action     string          `json:"action"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
	Source     string          `json:"source,omitempty"`
	Target     string          `json:"target,omitempty"`
}

// CommandResult 是 system.result 的消息体。
type CommandResult struct {
	Source    string  `json:"source,omitempty"`
	Action    string  `json:"action"`
	Success   bool    `json:"success"`
	Result    any     `json:"result,omitempty"`
	Error     string  `json:"error,omitempty"`
	Timestamp float64 `json:"timestamp"`
}

// Progress 是 task.progress 的消息体，Progress 取值 [0, 1]。
type Progress struct {
	ExecutionID string  `json:"execution_id"`
	Step        int     `json:"step"`
	TotalSteps  int     `json:"total_steps"`
	Action      string  `json:"action"`
	Success     bool    `json:"success"`
	Progress    float64 `json:"progress"`
	Timestamp   float64 `json:"timestamp"`
}

// Notification 是 system.notification 的消息体。
type Notification struct {
	Title    string `json:"title"`
	Message  string `json:"message"`
	Type     string `json:"type"`
	Priority int    `json:"priority"`
}

// MemoryRecord 是 memory.store 的消息体：type 字段加上各类型自己的字段。
type MemoryRecord map[string]any

// NewMemoryRecord 构造指定类型的记录。
func NewMemoryRecord(recordType string, fields map[string]any) MemoryRecord {
	rec := make(MemoryRecord, len(fields)+1)
	for k, v := range fields {
		rec[k] = v
	}
	rec["type"] = recordType
	return rec
}

// Type 返回记录类型。
func (r MemoryRecord) Type() string {
	s, _ := r["type"].(string)
	return s
}

// Timestamp 把时间转换为消息中使用的 Unix 秒（含小数）。
func Timestamp(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
