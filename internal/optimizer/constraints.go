package optimizer

import (
	"fmt"
	"sort"

	"github.com/stitts-dev/fpl-optimizer/internal/models"
	"github.com/stitts-dev/fpl-optimizer/internal/solver"
)

// changeCap keeps at least Keep of the Prior players in the squad.
type changeCap struct {
	Prior map[int]bool
	Keep  int
}

// squadModel is the selection ILP shared by new and update selections:
// selected[i] and captain[i] per player, objective Σ (selected+captain)*score.
type squadModel struct {
	model    *solver.Model
	players  []models.Player
	selected []int
	captain  []int
}

func buildSquadModel(name string, players []models.Player, rules Rules, budget int, limit *changeCap) *squadModel {
	sm := &squadModel{
		model:    solver.NewModel(name),
		players:  players,
		selected: make([]int, len(players)),
		captain:  make([]int, len(players)),
	}
	m := sm.model

	for i, p := range players {
		sm.selected[i] = m.AddBinary(fmt.Sprintf("selected[%d]", p.ID), p.Score)
		sm.captain[i] = m.AddBinary(fmt.Sprintf("captain[%d]", p.ID), p.Score)
	}

	size := make([]solver.Term, 0, len(players))
	cost := make([]solver.Term, 0, len(players))
	captains := make([]solver.Term, 0, len(players))
	byPosition := make(map[models.Position][]solver.Term)
	byClub := make(map[string][]solver.Term)
	for i, p := range players {
		sel := sm.selected[i]
		size = append(size, solver.Term{Var: sel, Coef: 1})
		cost = append(cost, solver.Term{Var: sel, Coef: float64(p.Cost)})
		captains = append(captains, solver.Term{Var: sm.captain[i], Coef: 1})
		byPosition[p.Position] = append(byPosition[p.Position], solver.Term{Var: sel, Coef: 1})
		byClub[p.Club] = append(byClub[p.Club], solver.Term{Var: sel, Coef: 1})
	}

	m.AddConstraint("squad_size", ClassSquadSize, size, solver.Equal, float64(rules.SquadSize))
	m.AddConstraint("budget", ClassBudget, cost, solver.LessEqual, float64(budget))
	m.AddConstraint("one_captain", ClassCaptain, captains, solver.Equal, 1)

	for _, pos := range models.Positions {
		m.AddConstraint("quota_"+string(pos), ClassPosition, byPosition[pos], solver.LessEqual, float64(rules.Quota[pos]))
	}

	clubs := make([]string, 0, len(byClub))
	for c := range byClub {
		clubs = append(clubs, c)
	}
	sort.Strings(clubs)
	for _, c := range clubs {
		m.AddConstraint("club_"+c, ClassClub, byClub[c], solver.LessEqual, float64(rules.ClubLimit))
	}

	// One link per player; propagation enforces them, so the LP bound stays
	// at a few dozen rows however large the pool is.
	for i, p := range players {
		m.AddLazyConstraint(fmt.Sprintf("captain_in_squad[%d]", p.ID), ClassCaptain,
			[]solver.Term{{Var: sm.captain[i], Coef: 1}, {Var: sm.selected[i], Coef: -1}},
			solver.LessEqual, 0)
	}

	if limit != nil {
		kept := make([]solver.Term, 0, len(limit.Prior))
		for i, p := range players {
			if limit.Prior[p.ID] {
				kept = append(kept, solver.Term{Var: sm.selected[i], Coef: 1})
			}
		}
		m.AddConstraint("change_cap", ClassChangeCap, kept, solver.GreaterEqual, float64(limit.Keep))
	}

	return sm
}

// hint encodes a squad (player ids plus captain) as a model assignment.
func (sm *squadModel) hint(ids []int, captainID int) {
	want := make(map[int]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	values := make([]bool, sm.model.NumVariables())
	found := 0
	for i, p := range sm.players {
		if want[p.ID] {
			values[sm.selected[i]] = true
			found++
		}
		if p.ID == captainID {
			values[sm.captain[i]] = true
		}
	}
	if found == len(ids) {
		sm.model.SetHint(values)
	}
}

// decode turns a solution into a squad. Members are ordered by position,
// then score, then id.
func (sm *squadModel) decode(sol *solver.Solution, rules Rules, budget int) *models.Squad {
	squad := &models.Squad{Budget: budget}
	for i, p := range sm.players {
		if !sol.Value(sm.selected[i]) {
			continue
		}
		captain := sol.Value(sm.captain[i])
		squad.Members = append(squad.Members, models.SquadMember{Player: p, Picked: true, Captain: captain})
		squad.TotalCost += p.Cost
		squad.Objective += p.Score
		if captain {
			squad.CaptainID = p.ID
			squad.Objective += p.Score
		}
	}
	sortMembers(squad.Members)
	applyCaptainTieBreak(squad, rules.CaptainTieBreak)
	return squad
}

func sortMembers(members []models.SquadMember) {
	rank := make(map[models.Position]int, len(models.Positions))
	for i, p := range models.Positions {
		rank[p] = i
	}
	sort.SliceStable(members, func(i, j int) bool {
		a, b := members[i], members[j]
		if rank[a.Position] != rank[b.Position] {
			return rank[a.Position] < rank[b.Position]
		}
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		return a.ID < b.ID
	})
}

// applyCaptainTieBreak moves the armband between members of equal score.
// The objective is unchanged.
func applyCaptainTieBreak(squad *models.Squad, policy CaptainTieBreak) {
	if policy != TieBreakTotalPoints {
		return
	}
	current, ok := squad.Captain()
	if !ok {
		return
	}
	best := current
	for _, m := range squad.Members {
		if m.Score != current.Score {
			continue
		}
		if m.TotalPoints > best.TotalPoints || (m.TotalPoints == best.TotalPoints && m.ID < best.ID) {
			best = m
		}
	}
	if best.ID == current.ID {
		return
	}
	for i := range squad.Members {
		squad.Members[i].Captain = squad.Members[i].ID == best.ID
	}
	squad.CaptainID = best.ID
}
