package solver

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInfeasible   = errors.New("solver: model is infeasible")
	ErrTimeout      = errors.New("solver: time limit reached")
	ErrCanceled     = errors.New("solver: solve canceled")
	ErrInvalidModel = errors.New("solver: invalid model")
	ErrFailure      = errors.New("solver: internal failure")
)

// InfeasibleError names the constraint classes that most often proved nodes
// infeasible, most frequent first. Classes is empty when nothing was recorded.
type InfeasibleError struct {
	Model   string
	Classes []string
}

func (e *InfeasibleError) Error() string {
	if len(e.Classes) == 0 {
		return fmt.Sprintf("solver: model %q is infeasible", e.Model)
	}
	return fmt.Sprintf("solver: model %q is infeasible (suspected: %s)", e.Model, strings.Join(e.Classes, ", "))
}

func (e *InfeasibleError) Unwrap() error {
	return ErrInfeasible
}
