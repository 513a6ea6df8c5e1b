package optimizer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stitts-dev/fpl-optimizer/internal/models"
)

// miniRules is a six-player game (1-2-2-1, two per club) small enough to
// enumerate every squad.
func miniRules() Rules {
	return Rules{
		Budget:     300,
		ClubLimit:  2,
		SquadSize:  6,
		LineupSize: 4,
		Quota: PositionQuota{
			models.Goalkeeper: 1,
			models.Defender:   2,
			models.Midfielder: 2,
			models.Forward:    1,
		},
		Formation: FormationBounds{
			models.Goalkeeper: {Min: 1, Max: 1},
			models.Defender:   {Min: 1, Max: 2},
			models.Midfielder: {Min: 1, Max: 2},
			models.Forward:    {Min: 1, Max: 1},
		},
		CaptainTieBreak: TieBreakNone,
	}
}

func miniPool(rng *rand.Rand) models.PlayerPool {
	clubs := []string{"ARS", "BRE", "CHE", "LIV"}
	base := []models.Position{
		models.Goalkeeper, models.Defender, models.Defender,
		models.Midfielder, models.Midfielder, models.Forward,
	}
	players := make([]models.Player, 0, 16)
	for i := 0; i < 16; i++ {
		pos := models.Positions[rng.Intn(len(models.Positions))]
		if i < len(base) {
			pos = base[i]
		}
		players = append(players, models.Player{
			ID:       i + 1,
			Name:     fmt.Sprintf("P%d", i+1),
			Club:     clubs[rng.Intn(len(clubs))],
			Position: pos,
			Cost:     20 + rng.Intn(61),
			Score:    math.Round(rng.Float64()*1000) / 100,
		})
	}
	return models.NewPlayerPool(2024, 5, players)
}

// bestByEnumeration returns the optimal objective over every legal squad,
// or false when none exists.
func bestByEnumeration(p models.PlayerPool, rules Rules, prior map[int]bool, keep int) (float64, bool) {
	best, found := 0.0, false
	n := p.Len()
	var pick func(start int, chosen []models.Player)
	pick = func(start int, chosen []models.Player) {
		if len(chosen) == rules.SquadSize {
			cost, kept, total, top := 0, 0, 0.0, 0.0
			positions := make(map[models.Position]int)
			clubs := make(map[string]int)
			for _, pl := range chosen {
				cost += pl.Cost
				positions[pl.Position]++
				clubs[pl.Club]++
				total += pl.Score
				top = math.Max(top, pl.Score)
				if prior[pl.ID] {
					kept++
				}
			}
			if cost > rules.Budget || kept < keep {
				return
			}
			for _, pos := range models.Positions {
				if positions[pos] != rules.Quota[pos] {
					return
				}
			}
			for _, c := range clubs {
				if c > rules.ClubLimit {
					return
				}
			}
			if obj := total + top; !found || obj > best {
				best, found = obj, true
			}
			return
		}
		for i := start; i < n; i++ {
			pick(i+1, append(chosen, p.Players[i]))
		}
	}
	pick(0, make([]models.Player, 0, rules.SquadSize))
	return best, found
}

func TestSquadSelection_MatchesEnumeration(t *testing.T) {
	rules := miniRules()
	for seed := int64(0); seed < 150; seed++ {
		rng := rand.New(rand.NewSource(seed))
		p := miniPool(rng)
		perm := rng.Perm(p.Len())
		priorIDs := make([]int, rules.SquadSize)
		prior := make(map[int]bool)
		for i := range priorIDs {
			priorIDs[i] = p.Players[perm[i]].ID
			prior[priorIDs[i]] = true
		}
		maxChanges := rng.Intn(rules.SquadSize)

		t.Run(fmt.Sprintf("seed %d select", seed), func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()

			want, ok := bestByEnumeration(p, rules, nil, 0)
			squad, err := SelectSquad(ctx, p, rules)
			if !ok {
				assert.ErrorIs(t, err, ErrInfeasibleSelection)
				return
			}
			require.NoError(t, err)
			assertValidSquad(t, squad, rules)
			assert.InDelta(t, want, squad.Objective, 1e-5)
		})

		t.Run(fmt.Sprintf("seed %d update", seed), func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()

			keep := rules.SquadSize - maxChanges
			want, ok := bestByEnumeration(p, rules, prior, keep)
			squad, err := UpdateSquad(ctx, p, models.TransferRequest{PriorIDs: priorIDs, MaxChanges: maxChanges}, rules)
			if !ok {
				require.Error(t, err)
				if _, free := bestByEnumeration(p, rules, nil, 0); free {
					assert.ErrorIs(t, err, ErrChangeCapInfeasible)
				} else {
					assert.ErrorIs(t, err, ErrInfeasibleSelection)
				}
				return
			}
			require.NoError(t, err)
			assertValidSquad(t, squad, rules)
			assert.InDelta(t, want, squad.Objective, 1e-5)
			assert.GreaterOrEqual(t, overlap(squad.IDs(), priorIDs), keep)
		})
	}
}

// leaguePool draws a full-size pool: twenty clubs, positions in squad
// proportion, prices rising with quality and noisy scores in [0, 1].
func leaguePool(seed int64, size int) models.PlayerPool {
	rng := rand.New(rand.NewSource(seed))
	players := make([]models.Player, 0, size)
	for i := 0; i < size; i++ {
		var pos models.Position
		switch r := rng.Intn(15); {
		case r < 2:
			pos = models.Goalkeeper
		case r < 7:
			pos = models.Defender
		case r < 12:
			pos = models.Midfielder
		default:
			pos = models.Forward
		}
		quality := rng.Float64()
		cost := max(38, 40+int(quality*90)+rng.Intn(15)-7)
		players = append(players, models.Player{
			ID:          i + 1,
			Name:        fmt.Sprintf("P%d", i+1),
			Club:        fmt.Sprintf("C%02d", rng.Intn(20)),
			Position:    pos,
			Cost:        cost,
			TotalPoints: int(quality * 250 * rng.Float64()),
			Score:       math.Round((0.7*quality+0.3*rng.Float64())*1e4) / 1e4,
		})
	}
	return models.NewPlayerPool(2024, 12, players)
}

func TestSelectSquad_FullSizePool(t *testing.T) {
	if testing.Short() {
		t.Skip("full-size pool")
	}
	rules := DefaultRules()
	for _, seed := range []int64{1, 2, 3} {
		t.Run(fmt.Sprintf("seed %d", seed), func(t *testing.T) {
			p := leaguePool(seed, 660)
			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
			defer cancel()

			squad, err := SelectSquad(ctx, p, rules)
			require.NoError(t, err)
			assertValidSquad(t, squad, rules)

			ids, captainID := greedySquad(p.Players, rules, rules.Budget)
			require.NotNil(t, ids)
			greedy := 0.0
			byID := p.ByID()
			for _, id := range ids {
				greedy += byID[id].Score
			}
			greedy += byID[captainID].Score
			assert.GreaterOrEqual(t, squad.Objective, greedy-1e-9)

			captain, ok := squad.Captain()
			require.True(t, ok)
			for _, m := range squad.Members {
				assert.LessOrEqual(t, m.Score, captain.Score)
			}
		})
	}
}

func TestUpdateSquad_FullSizePool(t *testing.T) {
	if testing.Short() {
		t.Skip("full-size pool")
	}
	rules := DefaultRules()
	p := leaguePool(7, 660)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	first, err := SelectSquad(ctx, p, rules)
	require.NoError(t, err)

	// A week later: scores move, prices do not.
	next := leaguePool(8, 660)
	for i := range next.Players {
		next.Players[i].Cost = p.Players[i].Cost
		next.Players[i].Position = p.Players[i].Position
		next.Players[i].Club = p.Players[i].Club
	}
	bank := first.Budget - first.TotalCost
	req := models.TransferRequest{PriorIDs: first.IDs(), MaxChanges: 2, Bank: &bank}

	updated, err := UpdateSquad(ctx, next, req, rules)
	require.NoError(t, err)
	assertValidSquad(t, updated, rules)
	assert.GreaterOrEqual(t, overlap(updated.IDs(), first.IDs()), rules.SquadSize-2)
	assert.Equal(t, rules.Budget, updated.Budget)
}

func TestSelectSquad_DeadlineOnFullSizePool(t *testing.T) {
	p := leaguePool(11, 660)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := SelectSquad(ctx, p, DefaultRules())
	elapsed := time.Since(start)

	if err != nil {
		assert.True(t, errors.Is(err, ErrSolverTimeout), "got %v", err)
	}
	assert.Less(t, elapsed, 2*time.Second)
}
