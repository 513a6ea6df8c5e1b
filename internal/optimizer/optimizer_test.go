package optimizer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stitts-dev/fpl-optimizer/internal/models"
	"github.com/stitts-dev/fpl-optimizer/internal/solver"
)

// fixturePool spreads 26 players over eight clubs with varied prices, so the
// 1000 budget binds (cheapest legal squad 840, best-score squad 1076).
func fixturePool() models.PlayerPool {
	clubs := []string{"ARS", "AVL", "BOU", "BRE", "BHA", "CHE", "CRY", "EVE"}
	layout := []struct {
		pos models.Position
		n   int
	}{
		{models.Goalkeeper, 4}, {models.Defender, 8}, {models.Midfielder, 8}, {models.Forward, 6},
	}
	var players []models.Player
	i := 0
	for _, l := range layout {
		for k := 0; k < l.n; k++ {
			cost := 40 + (i*37)%60
			players = append(players, models.Player{
				ID:          i + 1,
				Name:        string(l.pos) + "-" + clubs[i%len(clubs)],
				Club:        clubs[i%len(clubs)],
				Position:    l.pos,
				Cost:        cost,
				TotalPoints: (i * 13) % 120,
				Score:       float64((i*53)%97)/10 + float64(cost)/20,
			})
			i++
		}
	}
	return models.NewPlayerPool(2024, 10, players)
}

// cheapestSquad is the 840-cost legal squad of fixturePool.
var cheapestSquad = []int{1, 3, 5, 6, 8, 10, 11, 13, 14, 16, 18, 19, 21, 24, 26}

// uniformPool builds the single-club pool with one standout defender.
func uniformPool() models.PlayerPool {
	var players []models.Player
	id := 1
	add := func(pos models.Position, n int) {
		for k := 0; k < n; k++ {
			players = append(players, models.Player{ID: id, Name: "P", Club: "FCU", Position: pos, Cost: 50, Score: 1.0})
			id++
		}
	}
	add(models.Goalkeeper, 4)
	add(models.Defender, 10)
	add(models.Midfielder, 10)
	add(models.Forward, 8)
	players[7].Score = 5.0 // a defender
	return models.NewPlayerPool(2024, 1, players)
}

func assertValidSquad(t *testing.T, squad *models.Squad, rules Rules) {
	t.Helper()
	require.Len(t, squad.Members, rules.SquadSize)

	cost, captains := 0, 0
	ids := make(map[int]bool)
	for _, m := range squad.Members {
		assert.True(t, m.Picked)
		assert.False(t, ids[m.ID], "duplicate member %d", m.ID)
		ids[m.ID] = true
		cost += m.Cost
		if m.Captain {
			captains++
			assert.Equal(t, squad.CaptainID, m.ID)
		}
	}
	assert.Equal(t, 1, captains)
	assert.Equal(t, cost, squad.TotalCost)
	assert.LessOrEqual(t, cost, squad.Budget)

	byPos := squad.CountBy(func(m models.SquadMember) string { return string(m.Position) }, false)
	for _, pos := range models.Positions {
		assert.Equal(t, rules.Quota[pos], byPos[string(pos)], "position %s", pos)
	}
	for club, n := range squad.CountBy(func(m models.SquadMember) string { return m.Club }, false) {
		assert.LessOrEqual(t, n, rules.ClubLimit, "club %s", club)
	}
}

func assertValidLineup(t *testing.T, squad *models.Squad, rules Rules) {
	t.Helper()
	starters := squad.Starters()
	require.Len(t, starters, rules.LineupSize)

	byPos := squad.CountBy(func(m models.SquadMember) string { return string(m.Position) }, true)
	for _, pos := range models.Positions {
		b := rules.Formation[pos]
		assert.GreaterOrEqual(t, byPos[string(pos)], b.Min, "position %s", pos)
		assert.LessOrEqual(t, byPos[string(pos)], b.Max, "position %s", pos)
	}

	bench := squad.Bench()
	require.Len(t, bench, rules.SquadSize-rules.LineupSize)
	for i, m := range bench {
		assert.Equal(t, i+1, m.BenchOrder)
		if i > 0 {
			assert.GreaterOrEqual(t, bench[i-1].Score, m.Score)
		}
	}
}

func TestSelectSquad_FixturePool(t *testing.T) {
	rules := DefaultRules()
	squad, err := SelectSquad(context.Background(), fixturePool(), rules)
	require.NoError(t, err)

	assertValidSquad(t, squad, rules)
	assert.InDelta(t, 154.45, squad.Objective, 1e-6)
	assert.Equal(t, 988, squad.TotalCost)
	assert.Equal(t, 10, squad.CaptainID)
}

func TestSelectSquad_StandoutDefenderIsCaptain(t *testing.T) {
	rules := DefaultRules()
	rules.ClubLimit = rules.SquadSize

	squad, err := SelectSquad(context.Background(), uniformPool(), rules)
	require.NoError(t, err)

	assertValidSquad(t, squad, rules)
	assert.Equal(t, 8, squad.CaptainID)
	assert.Equal(t, 750, squad.TotalCost)
	assert.InDelta(t, 14*1.0+2*5.0, squad.Objective, 1e-9)

	captain, ok := squad.Captain()
	require.True(t, ok)
	assert.Equal(t, models.Defender, captain.Position)
}

func TestSelectSquad_ObjectiveIsDeterministic(t *testing.T) {
	rules := DefaultRules()
	first, err := SelectSquad(context.Background(), fixturePool(), rules)
	require.NoError(t, err)
	second, err := SelectSquad(context.Background(), fixturePool(), rules)
	require.NoError(t, err)

	assert.InDelta(t, first.Objective, second.Objective, 1e-9)
}

func TestSelectSquad_BudgetTooLow(t *testing.T) {
	players := make([]models.Player, 0, 15)
	clubs := []string{"A", "B", "C", "D", "E"}
	id := 1
	for _, pos := range models.Positions {
		for k := 0; k < DefaultRules().Quota[pos]; k++ {
			players = append(players, models.Player{ID: id, Club: clubs[id%5], Position: pos, Cost: 100, Score: 1})
			id++
		}
	}

	_, err := SelectSquad(context.Background(), models.NewPlayerPool(2024, 1, players), DefaultRules())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInfeasibleSelection)
	assert.NotErrorIs(t, err, ErrChangeCapInfeasible)

	var inf *InfeasibleError
	require.True(t, errors.As(err, &inf))
	assert.Contains(t, inf.Suspected, ClassBudget)
}

func TestSelectSquad_DataErrors(t *testing.T) {
	tests := []struct {
		name  string
		pool  func() models.PlayerPool
		field string
	}{
		{
			name: "duplicate id",
			pool: func() models.PlayerPool {
				p := fixturePool()
				p.Players[1].ID = p.Players[0].ID
				return p
			},
			field: "player_id",
		},
		{
			name: "negative cost",
			pool: func() models.PlayerPool {
				p := fixturePool()
				p.Players[3].Cost = -5
				return p
			},
			field: "cost",
		},
		{
			name: "too few forwards",
			pool: func() models.PlayerPool {
				p := fixturePool()
				var keep []models.Player
				for _, pl := range p.Players {
					if pl.Position != models.Forward || pl.ID < 23 {
						keep = append(keep, pl)
					}
				}
				p.Players = keep
				return p
			},
			field: "position",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := SelectSquad(context.Background(), tt.pool(), DefaultRules())
			var de *DataError
			require.True(t, errors.As(err, &de), "got %v", err)
			assert.Equal(t, tt.field, de.Field)
			assert.ErrorIs(t, err, ErrDataError)
		})
	}
}

func TestSelectSquad_CaptainTieBreak(t *testing.T) {
	rules := DefaultRules()
	rules.ClubLimit = rules.SquadSize
	rules.CaptainTieBreak = TieBreakTotalPoints

	p := uniformPool()
	p.Players[7].TotalPoints = 10
	p.Players[15].Score = 5.0 // a midfielder level with the defender
	p.Players[15].TotalPoints = 80

	squad, err := SelectSquad(context.Background(), p, rules)
	require.NoError(t, err)
	assert.Equal(t, p.Players[15].ID, squad.CaptainID)
	assert.InDelta(t, 13*1.0+5.0+2*5.0, squad.Objective, 1e-9)
}

func TestSelectLineup(t *testing.T) {
	rules := DefaultRules()
	squad, err := SelectSquad(context.Background(), fixturePool(), rules)
	require.NoError(t, err)
	before := squad.Clone()

	lineup, err := SelectLineup(context.Background(), squad, rules)
	require.NoError(t, err)

	assertValidLineup(t, lineup, rules)
	assert.Equal(t, squad.CaptainID, lineup.CaptainID)
	assert.ElementsMatch(t, squad.IDs(), lineup.IDs())
	assert.Equal(t, before, squad, "input squad must not change")
	assert.False(t, squad.HasLineup())
}

func TestSelectLineup_PicksBestEleven(t *testing.T) {
	rules := DefaultRules()
	members := []models.SquadMember{}
	add := func(id int, pos models.Position, score float64) {
		members = append(members, models.SquadMember{
			Player: models.Player{ID: id, Club: "C", Position: pos, Cost: 50, Score: score},
			Picked: true,
		})
	}
	add(1, models.Goalkeeper, 6)
	add(2, models.Goalkeeper, 5)
	for i := 0; i < 5; i++ {
		add(10+i, models.Defender, float64(1+i)) // 1..5
	}
	for i := 0; i < 5; i++ {
		add(20+i, models.Midfielder, float64(6+i)) // 6..10
	}
	for i := 0; i < 3; i++ {
		add(30+i, models.Forward, float64(2+i)) // 2..4
	}
	members[2].Captain = true
	squad := &models.Squad{Members: members, CaptainID: members[2].ID}

	lineup, err := SelectLineup(context.Background(), squad, rules)
	require.NoError(t, err)
	assertValidLineup(t, lineup, rules)

	// GK 6, three best defenders, all five midfielders, two best forwards.
	assert.Equal(t, "3-5-2", lineup.Formation())
	var total float64
	for _, m := range lineup.Starters() {
		total += m.Score
	}
	assert.InDelta(t, 6+(3+4+5)+(6+7+8+9+10)+(3+4), total, 1e-9)
	assert.Equal(t, 10, lineup.CaptainID)

	bench := lineup.Bench()
	assert.Equal(t, []int{2, 11, 30, 10}, []int{bench[0].ID, bench[1].ID, bench[2].ID, bench[3].ID})
}

func TestSelectLineup_FormationVariant(t *testing.T) {
	rules := DefaultRules()
	rules.Formation[models.Defender] = Range{Min: 5, Max: 5}
	require.NoError(t, rules.Validate())

	squad, err := SelectSquad(context.Background(), fixturePool(), rules)
	require.NoError(t, err)
	lineup, err := SelectLineup(context.Background(), squad, rules)
	require.NoError(t, err)

	assertValidLineup(t, lineup, rules)
	assert.Equal(t, "5", lineup.Formation()[:1])
}

func TestSelectLineup_RejectsIncompleteSquad(t *testing.T) {
	squad := &models.Squad{Members: []models.SquadMember{{Player: models.Player{ID: 1, Position: models.Goalkeeper, Cost: 40}}}}
	_, err := SelectLineup(context.Background(), squad, DefaultRules())
	assert.ErrorIs(t, err, ErrDataError)
}

func TestUpdateSquad_NoChangesKeepsPrior(t *testing.T) {
	rules := DefaultRules()
	req := models.TransferRequest{PriorIDs: cheapestSquad, MaxChanges: 0}

	squad, err := UpdateSquad(context.Background(), fixturePool(), req, rules)
	require.NoError(t, err)

	assertValidSquad(t, squad, rules)
	assert.ElementsMatch(t, cheapestSquad, squad.IDs())
	assert.InDelta(t, 125.85, squad.Objective, 1e-6)
}

func TestUpdateSquad_OverlapAndBudget(t *testing.T) {
	rules := DefaultRules()

	t.Run("rules budget", func(t *testing.T) {
		req := models.TransferRequest{PriorIDs: cheapestSquad, MaxChanges: 3}
		squad, err := UpdateSquad(context.Background(), fixturePool(), req, rules)
		require.NoError(t, err)

		assertValidSquad(t, squad, rules)
		assert.GreaterOrEqual(t, overlap(squad.IDs(), cheapestSquad), rules.SquadSize-3)
		assert.InDelta(t, 148.9, squad.Objective, 1e-6)
		assert.Equal(t, 1000, squad.Budget)
	})

	t.Run("bank plus sale value", func(t *testing.T) {
		bank := 100
		req := models.TransferRequest{PriorIDs: cheapestSquad, MaxChanges: 3, Bank: &bank}
		squad, err := UpdateSquad(context.Background(), fixturePool(), req, rules)
		require.NoError(t, err)

		assertValidSquad(t, squad, rules)
		assert.Equal(t, 940, squad.Budget)
		assert.LessOrEqual(t, squad.TotalCost, 940)
		assert.GreaterOrEqual(t, overlap(squad.IDs(), cheapestSquad), rules.SquadSize-3)
		assert.InDelta(t, 145.7, squad.Objective, 1e-6)
	})
}

func TestUpdateSquad_ChangeCapInfeasible(t *testing.T) {
	rules := DefaultRules()

	t.Run("prior priced out", func(t *testing.T) {
		p := fixturePool()
		// Three price rises take the prior squad to 1020 against a 1000 budget.
		for i := range p.Players {
			switch p.Players[i].ID {
			case 1, 5, 14:
				p.Players[i].Cost += 60
			}
		}

		_, err := UpdateSquad(context.Background(), p, models.TransferRequest{PriorIDs: cheapestSquad, MaxChanges: 0}, rules)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrChangeCapInfeasible)
		assert.ErrorIs(t, err, ErrInfeasibleSelection)

		squad, err := UpdateSquad(context.Background(), p, models.TransferRequest{PriorIDs: cheapestSquad, MaxChanges: 3}, rules)
		require.NoError(t, err)
		assertValidSquad(t, squad, rules)
	})

	t.Run("prior players left the pool", func(t *testing.T) {
		req := models.TransferRequest{PriorIDs: []int{1, 3, 5, 6, 8, 10, 11, 13, 14, 16, 18, 19, 21, 900, 901}, MaxChanges: 1}
		_, err := UpdateSquad(context.Background(), fixturePool(), req, rules)
		assert.ErrorIs(t, err, ErrChangeCapInfeasible)
	})

	t.Run("infeasible regardless of cap", func(t *testing.T) {
		tight := rules.WithBudget(500)
		_, err := UpdateSquad(context.Background(), fixturePool(), models.TransferRequest{PriorIDs: cheapestSquad, MaxChanges: 0}, tight)
		assert.ErrorIs(t, err, ErrInfeasibleSelection)
		assert.NotErrorIs(t, err, ErrChangeCapInfeasible)
	})
}

func TestUpdateSquad_InvalidRequest(t *testing.T) {
	rules := DefaultRules()
	_, err := UpdateSquad(context.Background(), fixturePool(), models.TransferRequest{PriorIDs: []int{1, 1}, MaxChanges: 2}, rules)
	assert.ErrorIs(t, err, ErrDataError)

	_, err = UpdateSquad(context.Background(), fixturePool(), models.TransferRequest{PriorIDs: cheapestSquad, MaxChanges: -1}, rules)
	assert.ErrorIs(t, err, ErrDataError)
}

func TestDominanceFilter(t *testing.T) {
	rules := DefaultRules()
	players := []models.Player{
		{ID: 1, Club: "X", Position: models.Forward, Cost: 50, Score: 5},
		{ID: 2, Club: "X", Position: models.Forward, Cost: 50, Score: 5},
		{ID: 3, Club: "X", Position: models.Forward, Cost: 60, Score: 6},
		{ID: 4, Club: "X", Position: models.Forward, Cost: 70, Score: 4}, // dominated by 1, 2 and 3
		{ID: 5, Club: "Y", Position: models.Forward, Cost: 70, Score: 4},
	}

	kept := dominanceFilter(players, rules, nil)
	ids := make([]int, len(kept))
	for i, p := range kept {
		ids[i] = p.ID
	}
	assert.Equal(t, []int{1, 2, 3, 5}, ids)

	// A prior member is only dominated by other prior members.
	kept = dominanceFilter(players, rules, map[int]bool{4: true})
	assert.Len(t, kept, 5)
}

func overlap(a, b []int) int {
	set := make(map[int]bool, len(b))
	for _, id := range b {
		set[id] = true
	}
	n := 0
	for _, id := range a {
		if set[id] {
			n++
		}
	}
	return n
}

// blockingSolver waits for the context and reports it the way BranchAndBound does.
type blockingSolver struct{}

func (blockingSolver) Solve(ctx context.Context, _ *solver.Model) (*solver.Solution, error) {
	<-ctx.Done()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, solver.ErrTimeout
	}
	return nil, solver.ErrCanceled
}

type failingSolver struct{}

func (failingSolver) Solve(context.Context, *solver.Model) (*solver.Solution, error) {
	return nil, errors.New("numerical trouble")
}

func TestSelector(t *testing.T) {
	t.Run("select runs squad then lineup", func(t *testing.T) {
		sel, err := NewSelector(DefaultRules(), 10*time.Second)
		require.NoError(t, err)

		squad, err := sel.Select(context.Background(), fixturePool())
		require.NoError(t, err)
		assertValidSquad(t, squad, sel.Rules())
		assertValidLineup(t, squad, sel.Rules())
	})

	t.Run("update runs update then lineup", func(t *testing.T) {
		sel, err := NewSelector(DefaultRules(), 10*time.Second)
		require.NoError(t, err)

		squad, err := sel.Update(context.Background(), fixturePool(), models.TransferRequest{PriorIDs: cheapestSquad, MaxChanges: 2})
		require.NoError(t, err)
		assertValidLineup(t, squad, sel.Rules())
		assert.GreaterOrEqual(t, overlap(squad.IDs(), cheapestSquad), 13)
	})

	t.Run("invalid rules rejected", func(t *testing.T) {
		r := DefaultRules()
		r.SquadSize = 16
		_, err := NewSelector(r, time.Second)
		assert.ErrorIs(t, err, ErrInvalidRules)
	})

	t.Run("with rules", func(t *testing.T) {
		sel, err := NewSelector(DefaultRules(), 10*time.Second)
		require.NoError(t, err)

		tight, err := sel.WithRules(DefaultRules().WithBudget(500))
		require.NoError(t, err)
		assert.Equal(t, 1000, sel.Rules().Budget)
		assert.Equal(t, 500, tight.Rules().Budget)

		bad := DefaultRules()
		bad.ClubLimit = 0
		_, err = sel.WithRules(bad)
		assert.ErrorIs(t, err, ErrInvalidRules)
	})

	t.Run("timeout", func(t *testing.T) {
		sel, err := NewSelector(DefaultRules(), 20*time.Millisecond,
			WithSolver(func() solver.Solver { return blockingSolver{} }))
		require.NoError(t, err)

		_, err = sel.Select(context.Background(), fixturePool())
		assert.ErrorIs(t, err, ErrSolverTimeout)
	})

	t.Run("canceled", func(t *testing.T) {
		sel, err := NewSelector(DefaultRules(), time.Minute,
			WithSolver(func() solver.Solver { return blockingSolver{} }))
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(10 * time.Millisecond)
			cancel()
		}()
		_, err = sel.Select(ctx, fixturePool())
		assert.ErrorIs(t, err, ErrCanceled)
	})

	t.Run("solver failure", func(t *testing.T) {
		sel, err := NewSelector(DefaultRules(), time.Second,
			WithSolver(func() solver.Solver { return failingSolver{} }))
		require.NoError(t, err)

		_, err = sel.Select(context.Background(), fixturePool())
		assert.ErrorIs(t, err, ErrSolverFailure)
	})
}
