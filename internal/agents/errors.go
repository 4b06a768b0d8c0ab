package agents

import (
	"errors"
	"fmt"
)

// ErrEmptyPlan matches any *PlanError.
var ErrEmptyPlan = errors.New("agent plan has no valid tasks")

// PlanError reports a model plan in which every task failed validation
// although breaks were submitted.
type PlanError struct {
	Breaks   int
	Returned int
}

func (e *PlanError) Error() string {
	return fmt.Sprintf("agent plan has no valid tasks: %d breaks submitted, %d tasks returned, all invalid", e.Breaks, e.Returned)
}

func (e *PlanError) Is(target error) bool {
	return target == ErrEmptyPlan
}
