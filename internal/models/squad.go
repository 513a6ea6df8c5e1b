package models

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// SquadMember is a selected player plus its selection flags.
type SquadMember struct {
	Player
	Picked     bool `json:"picked"`
	Captain    bool `json:"captain"`
	FirstXI    bool `json:"first_xi"`
	BenchOrder int  `json:"bench_order,omitempty"` // 1-based, 0 for starters
}

// Squad is the result of one optimization run. Values are re-derived, never edited in place.
type Squad struct {
	Members   []SquadMember `json:"members"`
	CaptainID int           `json:"captain_id"`
	Budget    int           `json:"budget"`
	TotalCost int           `json:"total_cost"`
	Objective float64       `json:"objective"`
	// Set by the caller, not the optimizer
	RunID      string    `json:"run_id,omitempty"`
	Season     int       `json:"season,omitempty"`
	Gameweek   int       `json:"gameweek,omitempty"`
	SelectedAt time.Time `json:"selected_at,omitempty"`
}

// Clone returns a deep copy so derived stages never share member slices.
func (s *Squad) Clone() *Squad {
	cp := *s
	cp.Members = make([]SquadMember, len(s.Members))
	copy(cp.Members, s.Members)
	return &cp
}

func (s *Squad) IDs() []int {
	ids := make([]int, len(s.Members))
	for i, m := range s.Members {
		ids[i] = m.ID
	}
	return ids
}

func (s *Squad) Captain() (SquadMember, bool) {
	for _, m := range s.Members {
		if m.Captain {
			return m, true
		}
	}
	return SquadMember{}, false
}

// HasLineup reports whether a starting XI has been chosen.
func (s *Squad) HasLineup() bool {
	for _, m := range s.Members {
		if m.FirstXI {
			return true
		}
	}
	return false
}

// Starters returns the XI in position order (GK, DEF, MID, FWD), highest score first.
func (s *Squad) Starters() []SquadMember {
	var out []SquadMember
	for _, m := range s.Members {
		if m.FirstXI {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		pi, pj := positionRank(out[i].Position), positionRank(out[j].Position)
		if pi != pj {
			return pi < pj
		}
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Bench returns the non-starters in bench order.
func (s *Squad) Bench() []SquadMember {
	var out []SquadMember
	for _, m := range s.Members {
		if !m.FirstXI {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].BenchOrder < out[j].BenchOrder
	})
	return out
}

// Formation renders the outfield shape of the XI, e.g. "4-4-2".
func (s *Squad) Formation() string {
	if !s.HasLineup() {
		return ""
	}
	counts := make(map[Position]int)
	for _, m := range s.Members {
		if m.FirstXI {
			counts[m.Position]++
		}
	}
	parts := make([]string, 0, 3)
	for _, p := range []Position{Defender, Midfielder, Forward} {
		parts = append(parts, fmt.Sprintf("%d", counts[p]))
	}
	return strings.Join(parts, "-")
}

// CountBy tallies members by an arbitrary key, optionally restricted to starters.
func (s *Squad) CountBy(key func(SquadMember) string, startersOnly bool) map[string]int {
	out := make(map[string]int)
	for _, m := range s.Members {
		if startersOnly && !m.FirstXI {
			continue
		}
		out[key(m)]++
	}
	return out
}

func positionRank(p Position) int {
	for i, pos := range Positions {
		if pos == p {
			return i
		}
	}
	return len(Positions)
}

// TransferRequest asks for a re-selection that keeps most of a prior squad.
type TransferRequest struct {
	PriorIDs   []int `json:"prior_player_ids"`
	MaxChanges int   `json:"max_changes"`
	// Bank is the unspent money held alongside the prior squad. When set, the update
	// budget becomes Bank plus the current value of the prior players still in the pool.
	Bank *int `json:"bank,omitempty"`
}

// PriorSquad is the last stored squad an update starts from.
type PriorSquad struct {
	PlayerIDs []int `json:"player_ids"`
	// Bank is the money left unspent when the squad was picked.
	Bank int `json:"bank"`
}
