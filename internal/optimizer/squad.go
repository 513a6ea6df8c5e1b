package optimizer

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/stitts-dev/fpl-optimizer/internal/models"
	"github.com/stitts-dev/fpl-optimizer/internal/pool"
	"github.com/stitts-dev/fpl-optimizer/internal/solver"
)

// SolverFactory returns a fresh solver for each solve.
type SolverFactory func() solver.Solver

type options struct {
	newSolver SolverFactory
	logger    *logrus.Entry
}

type Option func(*options)

// WithSolver overrides the default branch-and-bound solver.
func WithSolver(f SolverFactory) Option {
	return func(o *options) { o.newSolver = f }
}

func WithLogger(l *logrus.Entry) Option {
	return func(o *options) { o.logger = l }
}

func buildOptions(opts []Option) options {
	o := options{
		newSolver: func() solver.Solver { return solver.NewBranchAndBound() },
		logger:    logrus.NewEntry(logrus.StandardLogger()),
	}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// SelectSquad picks the squad and captain maximizing Σ (selected+captain)*score
// under budget, position quotas and the club limit. Among equal-objective
// squads the first one the solver proves optimal is returned.
func SelectSquad(ctx context.Context, p models.PlayerPool, rules Rules, opts ...Option) (*models.Squad, error) {
	o := buildOptions(opts)
	if err := checkPool(p, rules); err != nil {
		return nil, err
	}

	players := dominanceFilter(p.Players, rules, nil)
	sm := buildSquadModel("squad", players, rules, rules.Budget, nil)
	if ids, captainID := greedySquad(players, rules, rules.Budget); ids != nil {
		sm.hint(ids, captainID)
	}

	o.logger.WithFields(logrus.Fields{
		"pool_size":  p.Len(),
		"candidates": len(players),
		"budget":     rules.Budget,
	}).Debug("Solving squad selection")

	sol, err := o.newSolver().Solve(ctx, sm.model)
	if err != nil {
		return nil, translate("squad selection", err)
	}

	squad := sm.decode(sol, rules, rules.Budget)
	o.logger.WithFields(logrus.Fields{
		"objective":  squad.Objective,
		"total_cost": squad.TotalCost,
		"captain_id": squad.CaptainID,
		"nodes":      sol.Nodes,
	}).Info("Squad selected")
	return squad, nil
}

// checkPool rejects malformed records and pools that cannot fill the quotas.
func checkPool(p models.PlayerPool, rules Rules) error {
	if err := pool.Validate(p.Players); err != nil {
		var ve *pool.ValidationError
		if errors.As(err, &ve) {
			return &DataError{Field: ve.Field, Reason: ve.Error()}
		}
		return &DataError{Field: "players", Reason: err.Error()}
	}
	if p.Len() < rules.SquadSize {
		return &DataError{Field: "players", Reason: fmt.Sprintf("pool has %d players, squad needs %d", p.Len(), rules.SquadSize)}
	}
	counts := p.CountByPosition()
	for _, pos := range models.Positions {
		if counts[pos] < rules.Quota[pos] {
			return &DataError{
				Field:  "position",
				Reason: fmt.Sprintf("pool has %d %s players, quota is %d", counts[pos], pos, rules.Quota[pos]),
			}
		}
	}
	return nil
}

// translate maps solver outcomes onto the selection error taxonomy.
func translate(stage string, err error) error {
	var inf *solver.InfeasibleError
	switch {
	case errors.As(err, &inf):
		return &InfeasibleError{Stage: stage, Suspected: inf.Classes, cause: ErrInfeasibleSelection}
	case errors.Is(err, solver.ErrTimeout):
		return fmt.Errorf("%s: %w", stage, ErrSolverTimeout)
	case errors.Is(err, solver.ErrCanceled):
		return fmt.Errorf("%s: %w", stage, ErrCanceled)
	default:
		return fmt.Errorf("%s: %w: %v", stage, ErrSolverFailure, err)
	}
}
