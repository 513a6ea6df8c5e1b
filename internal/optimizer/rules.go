package optimizer

import (
	"fmt"
	"strings"

	"github.com/stitts-dev/fpl-optimizer/internal/models"
)

// Range is an inclusive [Min, Max] count bound.
type Range struct {
	Min int `json:"min" mapstructure:"min"`
	Max int `json:"max" mapstructure:"max"`
}

// PositionQuota is the exact number of squad members required per position.
type PositionQuota map[models.Position]int

// FormationBounds limits how many starters each position may field.
type FormationBounds map[models.Position]Range

// CaptainTieBreak decides between captains of equal score.
type CaptainTieBreak string

const (
	// TieBreakNone keeps whichever captain the solver returned.
	TieBreakNone CaptainTieBreak = "none"
	// TieBreakTotalPoints prefers the higher season total, then the lower id.
	TieBreakTotalPoints CaptainTieBreak = "total_points"
)

// ParseCaptainTieBreak accepts the policy names, with "" meaning none.
func ParseCaptainTieBreak(s string) (CaptainTieBreak, error) {
	switch CaptainTieBreak(strings.ToLower(strings.TrimSpace(s))) {
	case "", TieBreakNone:
		return TieBreakNone, nil
	case TieBreakTotalPoints:
		return TieBreakTotalPoints, nil
	}
	return "", fmt.Errorf("%w: unknown captain tie-break %q", ErrInvalidRules, s)
}

// Rules is the league configuration a selection runs under.
type Rules struct {
	Budget          int             `json:"budget"`
	ClubLimit       int             `json:"club_limit"`
	SquadSize       int             `json:"squad_size"`
	LineupSize      int             `json:"lineup_size"`
	Quota           PositionQuota   `json:"position_quota"`
	Formation       FormationBounds `json:"formation_bounds"`
	CaptainTieBreak CaptainTieBreak `json:"captain_tie_break,omitempty"`
}

// DefaultRules returns the standard FPL rules: 100.0m budget in tenths,
// 2-5-5-3 squad, at most three players per club.
func DefaultRules() Rules {
	return Rules{
		Budget:     1000,
		ClubLimit:  3,
		SquadSize:  15,
		LineupSize: 11,
		Quota: PositionQuota{
			models.Goalkeeper: 2,
			models.Defender:   5,
			models.Midfielder: 5,
			models.Forward:    3,
		},
		Formation: FormationBounds{
			models.Goalkeeper: {Min: 1, Max: 1},
			models.Defender:   {Min: 3, Max: 5},
			models.Midfielder: {Min: 2, Max: 5},
			models.Forward:    {Min: 1, Max: 3},
		},
		CaptainTieBreak: TieBreakNone,
	}
}

// WithBudget returns a copy of r with a different budget.
func (r Rules) WithBudget(budget int) Rules {
	r.Budget = budget
	return r
}

// Validate checks that quotas and formation bounds can produce a squad and a
// lineup at all. It runs once at startup, not per solve.
func (r Rules) Validate() error {
	if r.Budget <= 0 {
		return fmt.Errorf("%w: budget must be positive, got %d", ErrInvalidRules, r.Budget)
	}
	if r.ClubLimit < 1 {
		return fmt.Errorf("%w: club limit must be at least 1, got %d", ErrInvalidRules, r.ClubLimit)
	}
	if r.SquadSize <= 0 || r.LineupSize <= 0 || r.LineupSize > r.SquadSize {
		return fmt.Errorf("%w: lineup size %d must be in [1, squad size %d]", ErrInvalidRules, r.LineupSize, r.SquadSize)
	}
	if len(r.Quota) != len(models.Positions) {
		return fmt.Errorf("%w: quota must cover exactly %d positions, got %d", ErrInvalidRules, len(models.Positions), len(r.Quota))
	}
	if len(r.Formation) != len(models.Positions) {
		return fmt.Errorf("%w: formation must cover exactly %d positions, got %d", ErrInvalidRules, len(models.Positions), len(r.Formation))
	}

	quotaSum, minSum, maxSum := 0, 0, 0
	for _, p := range models.Positions {
		q, ok := r.Quota[p]
		if !ok || q < 0 {
			return fmt.Errorf("%w: missing or negative quota for %s", ErrInvalidRules, p)
		}
		f, ok := r.Formation[p]
		if !ok {
			return fmt.Errorf("%w: missing formation bounds for %s", ErrInvalidRules, p)
		}
		if f.Min < 0 || f.Min > f.Max {
			return fmt.Errorf("%w: %s formation bounds [%d, %d] are inverted", ErrInvalidRules, p, f.Min, f.Max)
		}
		if f.Min > q {
			return fmt.Errorf("%w: %s needs %d starters but the quota is %d", ErrInvalidRules, p, f.Min, q)
		}
		quotaSum += q
		minSum += f.Min
		maxSum += min(f.Max, q)
	}
	if quotaSum != r.SquadSize {
		return fmt.Errorf("%w: quotas sum to %d, squad size is %d", ErrInvalidRules, quotaSum, r.SquadSize)
	}
	if minSum > r.LineupSize || maxSum < r.LineupSize {
		return fmt.Errorf("%w: formation allows %d to %d starters, lineup size is %d", ErrInvalidRules, minSum, maxSum, r.LineupSize)
	}
	if _, err := ParseCaptainTieBreak(string(r.CaptainTieBreak)); err != nil {
		return err
	}
	return nil
}
