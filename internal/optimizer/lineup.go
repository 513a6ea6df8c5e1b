package optimizer

import (
	"context"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/stitts-dev/fpl-optimizer/internal/models"
	"github.com/stitts-dev/fpl-optimizer/internal/solver"
)

// SelectLineup marks the starting XI of a squad, maximizing the starters'
// score within the formation bounds. The captain is carried over untouched
// and the input squad is not modified.
func SelectLineup(ctx context.Context, squad *models.Squad, rules Rules, opts ...Option) (*models.Squad, error) {
	o := buildOptions(opts)
	if err := checkSquad(squad, rules); err != nil {
		return nil, err
	}

	out := squad.Clone()
	m := solver.NewModel("lineup")
	vars := make([]int, len(out.Members))
	size := make([]solver.Term, 0, len(out.Members))
	byPosition := make(map[models.Position][]solver.Term)
	for i, member := range out.Members {
		vars[i] = m.AddBinary(fmt.Sprintf("first_xi[%d]", member.ID), member.Score)
		t := solver.Term{Var: vars[i], Coef: 1}
		size = append(size, t)
		byPosition[member.Position] = append(byPosition[member.Position], t)
	}
	m.AddConstraint("lineup_size", ClassLineup, size, solver.Equal, float64(rules.LineupSize))
	for _, pos := range models.Positions {
		bounds := rules.Formation[pos]
		m.AddConstraint("min_"+string(pos), ClassFormation, byPosition[pos], solver.GreaterEqual, float64(bounds.Min))
		m.AddConstraint("max_"+string(pos), ClassFormation, byPosition[pos], solver.LessEqual, float64(bounds.Max))
	}
	if starters := greedyLineup(out.Members, rules); starters != nil {
		hint := make([]bool, len(vars))
		for i := range out.Members {
			hint[vars[i]] = starters[i]
		}
		m.SetHint(hint)
	}

	sol, err := o.newSolver().Solve(ctx, m)
	if err != nil {
		return nil, translate("lineup selection", err)
	}

	for i := range out.Members {
		out.Members[i].FirstXI = sol.Value(vars[i])
		out.Members[i].BenchOrder = 0
	}
	orderBench(out.Members)

	o.logger.WithFields(logrus.Fields{
		"formation": out.Formation(),
		"objective": sol.Objective,
	}).Debug("Lineup selected")
	return out, nil
}

// checkSquad verifies the lineup input is a complete squad.
func checkSquad(squad *models.Squad, rules Rules) error {
	if squad == nil {
		return &DataError{Field: "squad", Reason: "missing"}
	}
	if len(squad.Members) != rules.SquadSize {
		return &DataError{Field: "squad", Reason: fmt.Sprintf("has %d members, expected %d", len(squad.Members), rules.SquadSize)}
	}
	players := make([]models.Player, len(squad.Members))
	for i, m := range squad.Members {
		players[i] = m.Player
	}
	return checkPool(models.PlayerPool{Players: players}, rules)
}

// greedyLineup takes each position's minimum by score, then the best of the
// rest up to the maxima. Returns nil if the bounds cannot be met.
func greedyLineup(members []models.SquadMember, rules Rules) []bool {
	idx := make([]int, len(members))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return members[idx[a]].Score > members[idx[b]].Score
	})

	starters := make([]bool, len(members))
	count := make(map[models.Position]int)
	picked := 0
	for _, i := range idx {
		pos := members[i].Position
		if count[pos] < rules.Formation[pos].Min {
			starters[i] = true
			count[pos]++
			picked++
		}
	}
	for _, i := range idx {
		if picked == rules.LineupSize {
			break
		}
		pos := members[i].Position
		if !starters[i] && count[pos] < rules.Formation[pos].Max {
			starters[i] = true
			count[pos]++
			picked++
		}
	}
	if picked != rules.LineupSize {
		return nil
	}
	return starters
}

// orderBench numbers non-starters by descending score, then id.
func orderBench(members []models.SquadMember) {
	bench := make([]int, 0, len(members))
	for i, m := range members {
		if !m.FirstXI {
			bench = append(bench, i)
		}
	}
	sort.SliceStable(bench, func(a, b int) bool {
		ma, mb := members[bench[a]], members[bench[b]]
		if ma.Score != mb.Score {
			return ma.Score > mb.Score
		}
		return ma.ID < mb.ID
	})
	for n, i := range bench {
		members[i].BenchOrder = n + 1
	}
}
