package workflow

import (
	xerrors "github.com/Dmoore628/PersonalAssistant/internal/errors"
)

const (
	CodeValidationFailed xerrors.Code = "WORKFLOW_VALIDATION_FAILED"
	CodeConflict         xerrors.Code = "WORKFLOW_CONFLICT"
	CodeNotFound         xerrors.Code = "WORKFLOW_NOT_FOUND"
	CodeDependencyNotMet xerrors.Code = "DEPENDENCY_NOT_MET"
	CodeActionFailed     xerrors.Code = "ACTION_FAILED"
	CodeActionTimeout    xerrors.Code = "ACTION_TIMEOUT"
	CodeCancelled        xerrors.Code = "WORKFLOW_CANCELLED"
)

// DependencyNotMet 是依赖未满足时写入 StepResult.Error 的固定文本。
const DependencyNotMet = "dependency_not_met"

var (
	// ErrNotFound 表示既不在运行中也没有已完成记录。
	ErrNotFound = xerrors.New(CodeNotFound, "workflow not found")
	// ErrConflict 表示同一 ID 的运行仍在进行。
	ErrConflict = xerrors.New(CodeConflict, "workflow is already running")
	// ErrCancelled 表示运行已被取消。
	ErrCancelled = xerrors.New(CodeCancelled, "workflow cancelled")
)

func init() {
	xerrors.Register(CodeValidationFailed, xerrors.Attributes{Message: "workflow definition is invalid", Severity: xerrors.SeverityInfo})
	xerrors.Register(CodeConflict, xerrors.Attributes{Message: "workflow is already running", Severity: xerrors.SeverityWarning})
	xerrors.Register(CodeNotFound, xerrors.Attributes{Message: "workflow not found", Severity: xerrors.SeverityInfo})
	xerrors.Register(CodeDependencyNotMet, xerrors.Attributes{Message: DependencyNotMet, Severity: xerrors.SeverityWarning})
	xerrors.Register(CodeActionFailed, xerrors.Attributes{Message: "action failed", Severity: xerrors.SeverityWarning, Retryable: true})
	xerrors.Register(CodeActionTimeout, xerrors.Attributes{Message: "action timed out", Severity: xerrors.SeverityWarning, Retryable: true})
	xerrors.Register(CodeCancelled, xerrors.Attributes{Message: "workflow cancelled", Severity: xerrors.SeverityInfo})
}

func validationError(message string, opts ...xerrors.Option) *xerrors.Error {
	return xerrors.New(CodeValidationFailed, message, opts...)
}
