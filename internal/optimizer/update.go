package optimizer

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/stitts-dev/fpl-optimizer/internal/models"
)

// UpdateSquad re-selects a squad that keeps at least SquadSize-MaxChanges
// players from req.PriorIDs. With req.Bank set the budget is the bank plus
// the current price of every prior player still in the pool; otherwise
// rules.Budget applies.
//
// ErrChangeCapInfeasible is returned when the selection would be feasible
// with more transfers.
func UpdateSquad(ctx context.Context, p models.PlayerPool, req models.TransferRequest, rules Rules, opts ...Option) (*models.Squad, error) {
	o := buildOptions(opts)
	if err := checkPool(p, rules); err != nil {
		return nil, err
	}
	if err := checkTransferRequest(req, rules); err != nil {
		return nil, err
	}

	byID := p.ByID()
	prior := make(map[int]bool, len(req.PriorIDs))
	available := make([]int, 0, len(req.PriorIDs))
	for _, id := range req.PriorIDs {
		prior[id] = true
		if _, ok := byID[id]; ok {
			available = append(available, id)
		}
	}

	budget := updateBudget(req, rules, available, byID)
	keep := rules.SquadSize - req.MaxChanges
	log := o.logger.WithFields(logrus.Fields{
		"prior_in_pool": len(available),
		"max_changes":   req.MaxChanges,
		"budget":        budget,
	})

	if len(available) < keep {
		log.Warn("Not enough prior players left in the pool to honor the transfer cap")
		return nil, &InfeasibleError{
			Stage:     "squad update",
			Suspected: []string{ClassChangeCap},
			cause:     ErrChangeCapInfeasible,
		}
	}

	players := dominanceFilter(p.Players, rules, prior)
	sm := buildSquadModel("squad_update", players, rules, budget, &changeCap{Prior: prior, Keep: keep})
	if len(available) == rules.SquadSize {
		sm.hint(available, bestCaptain(available, byID))
	}

	log.Debug("Solving squad update")
	sol, err := o.newSolver().Solve(ctx, sm.model)
	if err != nil {
		err = translate("squad update", err)
		if errors.Is(err, ErrInfeasibleSelection) && capIsBinding(ctx, o, players, rules, budget) {
			var inf *InfeasibleError
			if errors.As(err, &inf) {
				inf.cause = ErrChangeCapInfeasible
				inf.Suspected = prependClass(ClassChangeCap, inf.Suspected)
			}
			log.Warn("Squad update infeasible under the transfer cap")
		}
		return nil, err
	}

	squad := sm.decode(sol, rules, budget)
	kept := 0
	for _, m := range squad.Members {
		if prior[m.ID] {
			kept++
		}
	}
	log.WithFields(logrus.Fields{
		"objective": squad.Objective,
		"kept":      kept,
		"transfers": rules.SquadSize - kept,
	}).Info("Squad updated")
	return squad, nil
}

// updateBudget is the money available after notionally selling the prior
// squad at current prices: bank plus the value of prior players still listed.
func updateBudget(req models.TransferRequest, rules Rules, available []int, byID map[int]models.Player) int {
	if req.Bank == nil {
		return rules.Budget
	}
	budget := *req.Bank
	for _, id := range available {
		budget += byID[id].Cost
	}
	return budget
}

// capIsBinding re-solves without the transfer cap to tell a too-tight cap
// apart from a selection that is infeasible regardless.
func capIsBinding(ctx context.Context, o options, players []models.Player, rules Rules, budget int) bool {
	// A completed greedy squad already proves feasibility.
	if ids, _ := greedySquad(players, rules, budget); ids != nil {
		return true
	}
	relaxed := buildSquadModel("squad_update_relaxed", players, rules, budget, nil)
	_, err := o.newSolver().Solve(ctx, relaxed.model)
	return err == nil
}

func prependClass(class string, classes []string) []string {
	out := []string{class}
	for _, c := range classes {
		if c != class {
			out = append(out, c)
		}
	}
	return out
}

func checkTransferRequest(req models.TransferRequest, rules Rules) error {
	if req.MaxChanges < 0 || req.MaxChanges > rules.SquadSize {
		return &DataError{Field: "max_changes", Reason: fmt.Sprintf("must be in [0, %d], got %d", rules.SquadSize, req.MaxChanges)}
	}
	if len(req.PriorIDs) > rules.SquadSize {
		return &DataError{Field: "prior_player_ids", Reason: fmt.Sprintf("has %d ids, squad size is %d", len(req.PriorIDs), rules.SquadSize)}
	}
	seen := make(map[int]bool, len(req.PriorIDs))
	for _, id := range req.PriorIDs {
		if seen[id] {
			return &DataError{Field: "prior_player_ids", Reason: fmt.Sprintf("duplicate id %d", id)}
		}
		seen[id] = true
	}
	if req.Bank != nil && *req.Bank < 0 {
		return &DataError{Field: "bank", Reason: "must be >= 0"}
	}
	return nil
}
