package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Dmoore628/PersonalAssistant/internal/workflow"
)

const (
	upsertResultSQL = `INSERT INTO workflow_results
    (workflow_id, workflow_name, status, success, success_rate, total_steps, successful_steps, retry_attempts, execution_time, step_results, start_time, end_time)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    ON DUPLICATE KEY UPDATE workflow_name = VALUES(workflow_name), status = VALUES(status), success = VALUES(success),
    success_rate = VALUES(success_rate), total_steps = VALUES(total_steps), successful_steps = VALUES(successful_steps),
    retry_attempts = VALUES(retry_attempts), execution_time = VALUES(execution_time), step_results = VALUES(step_results),
    start_time = VALUES(start_time), end_time = VALUES(end_time)`

	selectResultSQL = `SELECT workflow_id, workflow_name, status, success, success_rate, total_steps, successful_steps, retry_attempts, execution_time, step_results, start_time, end_time
    FROM workflow_results WHERE workflow_id = ?`

	deleteResultsBeforeSQL = `DELETE FROM workflow_results WHERE end_time < ?`
)

// ResultStore 把工作流终态结果保存在 workflow_results 表中。
// 时间以毫秒时间戳存储，步骤结果以 JSON 存储。
type ResultStore struct {
	db *sql.DB
}

var _ workflow.ResultStore = (*ResultStore)(nil)

// NewResultStore 建立连接池并执行迁移。
func NewResultStore(ctx context.Context, cfg Config) (*ResultStore, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &ResultStore{db: db}, nil
}

// Save 实现 workflow.ResultStore，同 ID 覆盖。
func (s *ResultStore) Save(ctx context.Context, r *workflow.Result) error {
	if r == nil {
		return nil
	}
	steps := r.StepResults
	if steps == nil {
		steps = []workflow.StepResult{}
	}
	encoded, err := json.Marshal(steps)
	if err != nil {
		return fmt.Errorf("序列化步骤结果失败: %w", err)
	}
	_, err = s.db.ExecContext(ctx, upsertResultSQL,
		r.WorkflowID, r.WorkflowName, string(r.Status), r.Success, r.SuccessRate,
		r.TotalSteps, r.SuccessfulSteps, r.RetryAttempts, r.ExecutionTime, string(encoded),
		r.StartTime.UnixMilli(), r.EndTime.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("写入工作流结果失败: %w", err)
	}
	return nil
}

// Get 实现 workflow.ResultStore。
func (s *ResultStore) Get(ctx context.Context, workflowID string) (*workflow.Result, error) {
	var (
		r      workflow.Result
		status string
		steps  []byte
		start  int64
		end    int64
	)
	err := s.db.QueryRowContext(ctx, selectResultSQL, workflowID).Scan(
		&r.WorkflowID, &r.WorkflowName, &status, &r.Success, &r.SuccessRate,
		&r.TotalSteps, &r.SuccessfulSteps, &r.RetryAttempts, &r.ExecutionTime, &steps,
		&start, &end,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, workflow.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("查询工作流结果失败: %w", err)
	}
	if err := json.Unmarshal(steps, &r.StepResults); err != nil {
		return nil, fmt.Errorf("解析步骤结果失败: %w", err)
	}
	r.Status = workflow.Status(status)
	r.StartTime = time.UnixMilli(start).UTC()
	r.EndTime = time.UnixMilli(end).UTC()
	return &r, nil
}

// DeleteBefore 实现 workflow.ResultStore。
func (s *ResultStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, deleteResultsBeforeSQL, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("清理工作流结果失败: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("读取清理数量失败: %w", err)
	}
	return int(n), nil
}

// Close 关闭连接池。
func (s *ResultStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
