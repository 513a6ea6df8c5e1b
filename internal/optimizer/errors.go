package optimizer

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrDataError           = errors.New("invalid player data")
	ErrInfeasibleSelection = errors.New("no feasible selection")
	ErrSolverTimeout       = errors.New("solver timed out")
	ErrSolverFailure       = errors.New("solver failed")
	ErrCanceled            = errors.New("selection canceled")
	ErrInvalidRules        = errors.New("invalid selection rules")

	// ErrChangeCapInfeasible means the update is feasible only with more
	// transfers than allowed. It matches ErrInfeasibleSelection too.
	ErrChangeCapInfeasible = fmt.Errorf("%w: transfer cap too tight", ErrInfeasibleSelection)
)

// Constraint classes reported when a selection is infeasible.
const (
	ClassSquadSize = "squad_size"
	ClassBudget    = "budget"
	ClassPosition  = "position"
	ClassClub      = "club"
	ClassCaptain   = "captain"
	ClassChangeCap = "change_cap"
	ClassLineup    = "lineup_size"
	ClassFormation = "formation"
)

// DataError rejects input before anything is sent to the solver.
type DataError struct {
	Field  string
	Reason string
}

func (e *DataError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrDataError, e.Field, e.Reason)
}

func (e *DataError) Unwrap() error {
	return ErrDataError
}

// InfeasibleError reports which stage failed and the constraint classes
// suspected of binding, if the solver could tell.
type InfeasibleError struct {
	Stage     string
	Suspected []string
	cause     error
}

func (e *InfeasibleError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Stage, e.cause)
	if len(e.Suspected) > 0 {
		msg += fmt.Sprintf(" (suspected: %s)", strings.Join(e.Suspected, ", "))
	}
	return msg
}

func (e *InfeasibleError) Unwrap() error {
	return e.cause
}
