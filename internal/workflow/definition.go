package workflow

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	xerrors "github.com/Dmoore628/PersonalAssistant/internal/errors"
)

// Prepare 复制定义、补齐默认值并校验，返回可以直接执行的副本。
// 调用方持有的原定义不会被修改。
func Prepare(def Definition) (*Definition, error) {
	out := cloneDefinition(def)
	if strings.TrimSpace(out.ID) == "" {
		out.ID = uuid.NewString()
	}
	if out.RetryPolicy != nil {
		p := out.RetryPolicy.withDefaults()
		out.RetryPolicy = &p
	}
	for i := range out.Steps {
		step := &out.Steps[i]
		step.ID = strings.TrimSpace(step.ID)
		if step.ID == "" {
			step.ID = "step_" + strconv.Itoa(i)
		}
		step.ActionType = strings.TrimSpace(step.ActionType)
		if step.RetryPolicy != nil {
			p := step.RetryPolicy.withDefaults()
			step.RetryPolicy = &p
		}
	}
	if err := Validate(out); err != nil {
		return nil, err
	}
	return out, nil
}

// Validate 检查定义的结构约束，发现的第一个问题以 WORKFLOW_VALIDATION_FAILED 返回。
func Validate(def *Definition) error {
	if def == nil {
		return validationError("workflow definition is required")
	}
	if def.RetryPolicy != nil {
		if err := validatePolicy(*def.RetryPolicy); err != nil {
			return validationError("workflow retry_policy: " + err.Error())
		}
	}

	ids := make(map[string]int, len(def.Steps))
	for i, step := range def.Steps {
		if step.ID == "" {
			return validationError(fmt.Sprintf("step %d has an empty id", i), xerrors.WithMetadata("step_index", strconv.Itoa(i)))
		}
		if prev, ok := ids[step.ID]; ok {
			return validationError(fmt.Sprintf("duplicate step id %q at index %d and %d", step.ID, prev, i), xerrors.WithMetadata("step_id", step.ID))
		}
		ids[step.ID] = i
	}

	for i, step := range def.Steps {
		meta := xerrors.WithMetadata("step_id", step.ID)
		if step.ActionType == "" {
			return validationError(fmt.Sprintf("step %q has an empty action_type", step.ID), meta)
		}
		if step.Timeout < 0 {
			return validationError(fmt.Sprintf("step %q has a negative timeout", step.ID), meta)
		}
		if step.RetryPolicy != nil {
			if err := validatePolicy(*step.RetryPolicy); err != nil {
				return validationError(fmt.Sprintf("step %q retry_policy: %v", step.ID, err), meta)
			}
		}
		for _, dep := range step.Dependencies {
			if _, ok := ids[dep]; !ok {
				return validationError(fmt.Sprintf("step %q (index %d) depends on unknown step %q", step.ID, i, dep), meta)
			}
		}
	}
	return nil
}

func validatePolicy(p RetryPolicy) error {
	switch {
	case p.MaxRetries < 0:
		return fmt.Errorf("max_retries must be >= 0, got %d", p.MaxRetries)
	case p.InitialDelay <= 0:
		return fmt.Errorf("initial_delay must be > 0, got %v", p.InitialDelay)
	case p.BackoffMultiplier < 1:
		return fmt.Errorf("backoff_multiplier must be >= 1, got %v", p.BackoffMultiplier)
	}
	return nil
}

func cloneDefinition(def Definition) *Definition {
	out := def
	if def.RetryPolicy != nil {
		p := *def.RetryPolicy
		out.RetryPolicy = &p
	}
	out.Steps = make([]Step, len(def.Steps))
	for i, step := range def.Steps {
		cp := step
		if step.Parameters != nil {
			cp.Parameters = make(map[string]any, len(step.Parameters))
			for k, v := range step.Parameters {
				cp.Parameters[k] = v
			}
		}
		cp.Dependencies = append([]string(nil), step.Dependencies...)
		if step.Critical != nil {
			c := *step.Critical
			cp.Critical = &c
		}
		if step.RetryPolicy != nil {
			p := *step.RetryPolicy
			cp.RetryPolicy = &p
		}
		out.Steps[i] = cp
	}
	return &out
}
