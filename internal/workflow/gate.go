package workflow

// checkDependencies 判断步骤的全部依赖是否都已有成功的结果。
// 依赖只看 prior 中的记录：尚未执行、被拒或失败的依赖都算未满足。
func checkDependencies(step Step, prior []StepResult) (bool, []string) {
	if len(step.Dependencies) == 0 {
		return true, nil
	}
	succeeded := make(map[string]struct{}, len(prior))
	for _, r := range prior {
		if r.Success {
			succeeded[r.StepID] = struct{}{}
		}
	}
	var missing []string
	for _, dep := range step.Dependencies {
		if _, ok := succeeded[dep]; !ok {
			missing = append(missing, dep)
		}
	}
	return len(missing) == 0, missing
}

func deniedResult(step Step, index int) StepResult {
	return StepResult{
		StepID:     step.ID,
		StepIndex:  index,
		ActionType: step.ActionType,
		Success:    false,
		Attempt:    0,
		Error:      DependencyNotMet,
	}
}
