package optimizer

import (
	"sort"

	"github.com/stitts-dev/fpl-optimizer/internal/models"
)

// dominanceFilter drops players that can never be needed. Player j is
// dropped when at least min(quota, club limit) kept players of the same
// position and club cost no more, score no less, and are prior members
// whenever j is. Any optimal squad using j can swap in one of them, so the
// optimal objective is preserved.
func dominanceFilter(players []models.Player, rules Rules, prior map[int]bool) []models.Player {
	type key struct {
		pos  models.Position
		club string
	}
	groups := make(map[key][]models.Player)
	for _, p := range players {
		k := key{p.Position, p.Club}
		groups[k] = append(groups[k], p)
	}

	drop := make(map[int]bool)
	for k, group := range groups {
		threshold := min(rules.Quota[k.pos], rules.ClubLimit)
		sort.Slice(group, func(i, j int) bool {
			a, b := group[i], group[j]
			if a.Score != b.Score {
				return a.Score > b.Score
			}
			if a.Cost != b.Cost {
				return a.Cost < b.Cost
			}
			if prior[a.ID] != prior[b.ID] {
				return prior[a.ID]
			}
			return a.ID < b.ID
		})

		kept := make([]models.Player, 0, len(group))
		for _, p := range group {
			dominators := 0
			for _, q := range kept {
				if q.Cost <= p.Cost && q.Score >= p.Score && (prior[q.ID] || !prior[p.ID]) {
					dominators++
				}
			}
			if dominators >= threshold {
				drop[p.ID] = true
				continue
			}
			kept = append(kept, p)
		}
	}

	out := make([]models.Player, 0, len(players)-len(drop))
	for _, p := range players {
		if !drop[p.ID] {
			out = append(out, p)
		}
	}
	return out
}

// greedySquad fills the quotas best score first while keeping enough budget
// to complete the squad with the cheapest remaining players. It returns nil
// when the greedy pass cannot finish; the result is only a warm start.
func greedySquad(players []models.Player, rules Rules, budget int) (ids []int, captainID int) {
	ordered := append([]models.Player(nil), players...)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Score != ordered[j].Score {
			return ordered[i].Score > ordered[j].Score
		}
		if ordered[i].Cost != ordered[j].Cost {
			return ordered[i].Cost < ordered[j].Cost
		}
		return ordered[i].ID < ordered[j].ID
	})

	cheapest := make(map[models.Position][]int)
	for _, p := range players {
		cheapest[p.Position] = append(cheapest[p.Position], p.Cost)
	}
	for pos := range cheapest {
		sort.Ints(cheapest[pos])
	}

	posCount := make(map[models.Position]int)
	clubCount := make(map[string]int)
	spent := 0

	// reserve is the cheapest cost of filling every open slot except one at pos.
	reserve := func(pos models.Position) int {
		total := 0
		for _, q := range models.Positions {
			open := rules.Quota[q] - posCount[q]
			if q == pos {
				open--
			}
			for i := 0; i < open && i < len(cheapest[q]); i++ {
				total += cheapest[q][i]
			}
		}
		return total
	}

	for _, p := range ordered {
		if len(ids) == rules.SquadSize {
			break
		}
		if posCount[p.Position] >= rules.Quota[p.Position] || clubCount[p.Club] >= rules.ClubLimit {
			continue
		}
		if spent+p.Cost+reserve(p.Position) > budget {
			continue
		}
		ids = append(ids, p.ID)
		posCount[p.Position]++
		clubCount[p.Club]++
		spent += p.Cost
		if len(ids) == 1 {
			captainID = p.ID
		}
	}
	if len(ids) != rules.SquadSize {
		return nil, 0
	}
	return ids, captainID
}

// bestCaptain returns the highest scoring player among ids, lowest id on ties.
func bestCaptain(ids []int, byID map[int]models.Player) int {
	var best models.Player
	found := false
	for _, id := range ids {
		p, ok := byID[id]
		if !ok {
			continue
		}
		if !found || p.Score > best.Score || (p.Score == best.Score && p.ID < best.ID) {
			best, found = p, true
		}
	}
	return best.ID
}
