package mysql

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/Dmoore628/PersonalAssistant/internal/workflow"
)

var resultColumns = []string{"workflow_id", "workflow_name", "status", "success", "success_rate", "total_steps", "successful_steps", "retry_attempts", "execution_time", "step_results", "start_time", "end_time"}

func TestResultStoreSaveAndGet(t *testing.T) {
	t.Parallel()

	start := time.UnixMilli(1_700_000_000_000).UTC()
	end := start.Add(1500 * time.Millisecond)
	rows := mockRowsData{
		columns: resultColumns,
		values: [][]driver.Value{{
			"wf-1", "daily", "completed", int64(1), 0.8, int64(5), int64(4), int64(2), 1.5,
			[]byte(`[{"step_id":"s1","step_index":0,"action_type":"click","success":true,"attempt":1,"execution_time":0.1}]`),
			start.UnixMilli(), end.UnixMilli(),
		}},
	}
	db, drv := newMockDB(t, []mockOperation{
		execOp(upsertResultSQL, mockResult{rowsAffected: 1}),
		queryOp(selectResultSQL, rows),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	store := &ResultStore{db: db}
	err := store.Save(context.Background(), &workflow.Result{
		WorkflowID: "wf-1", WorkflowName: "daily", Status: workflow.StatusCompleted, Success: true,
		SuccessRate: 0.8, TotalSteps: 5, SuccessfulSteps: 4, RetryAttempts: 2, ExecutionTime: 1.5,
		StartTime: start, EndTime: end,
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := store.Get(context.Background(), "wf-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != workflow.StatusCompleted || !got.Success || got.SuccessfulSteps != 4 {
		t.Fatalf("unexpected result: %+v", got)
	}
	if len(got.StepResults) != 1 || got.StepResults[0].StepID != "s1" {
		t.Fatalf("step results not decoded: %+v", got.StepResults)
	}
	if !got.EndTime.Equal(end) {
		t.Fatalf("end time mismatch: %v vs %v", got.EndTime, end)
	}
}

func TestResultStoreGetMissing(t *testing.T) {
	t.Parallel()

	db, drv := newMockDB(t, []mockOperation{
		queryOp(selectResultSQL, mockRowsData{columns: resultColumns}),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	store := &ResultStore{db: db}
	if _, err := store.Get(context.Background(), "ghost"); !errors.Is(err, workflow.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestResultStoreDeleteBefore(t *testing.T) {
	t.Parallel()

	db, drv := newMockDB(t, []mockOperation{
		execOp(deleteResultsBeforeSQL, mockResult{rowsAffected: 2}),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	store := &ResultStore{db: db}
	n, err := store.DeleteBefore(context.Background(), time.Now())
	if err != nil || n != 2 {
		t.Fatalf("delete before: n=%d err=%v", n, err)
	}
}

func TestRunMigrationsAppliesPending(t *testing.T) {
	t.Parallel()

	db, drv := newMockDB(t, []mockOperation{
		execOp(createMigrationsTableSQL, mockResult{}),
		queryOp(`SELECT version FROM schema_migrations`, mockRowsData{columns: []string{"version"}}),
		beginOp(),
		execOp(firstMigrationStatement(), mockResult{}),
		execOp(`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`, mockResult{rowsAffected: 1}),
		commitOp(),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	if err := runMigrations(context.Background(), db); err != nil {
		t.Fatalf("run migrations: %v", err)
	}
}

func TestRunMigrationsSkipsApplied(t *testing.T) {
	t.Parallel()

	db, drv := newMockDB(t, []mockOperation{
		execOp(createMigrationsTableSQL, mockResult{}),
		queryOp(`SELECT version FROM schema_migrations`, mockRowsData{
			columns: []string{"version"},
			values:  [][]driver.Value{{"0001"}},
		}),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	if err := runMigrations(context.Background(), db); err != nil {
		t.Fatalf("run migrations: %v", err)
	}
}

func TestRunMigrationsRollsBackOnFailure(t *testing.T) {
	t.Parallel()

	failing := execOp(firstMigrationStatement(), mockResult{})
	failing.err = fmt.Errorf("table is locked")
	db, drv := newMockDB(t, []mockOperation{
		execOp(createMigrationsTableSQL, mockResult{}),
		queryOp(`SELECT version FROM schema_migrations`, mockRowsData{columns: []string{"version"}}),
		beginOp(),
		failing,
		rollbackOp(),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	if err := runMigrations(context.Background(), db); err == nil {
		t.Fatalf("expected migration failure")
	}
}

func firstMigrationStatement() string {
	content, err := embeddedMigrations.ReadFile("0001_create_workflow_results.sql")
	if err != nil {
		panic(fmt.Sprintf("failed to read migration: %v", err))
	}
	statements := splitSQLStatements(string(content))
	if len(statements) == 0 {
		panic("no statements in migration")
	}
	return statements[0]
}
