package pool

import (
	"fmt"
	"math"

	"github.com/stitts-dev/fpl-optimizer/internal/models"
)

// ValidationError describes the first malformed player record found.
type ValidationError struct {
	PlayerID int
	Field    string
	Reason   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("player %d: invalid %s: %s", e.PlayerID, e.Field, e.Reason)
}

// Validate checks the per-record invariants of a scored pool: unique ids,
// one of the four positions, positive cost, non-negative points and a
// finite score. Records are checked in order, so the error is deterministic.
func Validate(players []models.Player) error {
	seen := make(map[int]struct{}, len(players))
	for _, p := range players {
		if _, dup := seen[p.ID]; dup {
			return &ValidationError{PlayerID: p.ID, Field: "player_id", Reason: "duplicate id"}
		}
		seen[p.ID] = struct{}{}

		switch {
		case !p.Position.Valid():
			return &ValidationError{PlayerID: p.ID, Field: "position", Reason: fmt.Sprintf("unknown position %q", p.Position)}
		case p.Cost <= 0:
			return &ValidationError{PlayerID: p.ID, Field: "cost", Reason: fmt.Sprintf("must be positive, got %d", p.Cost)}
		case p.TotalPoints < 0:
			return &ValidationError{PlayerID: p.ID, Field: "total_points", Reason: fmt.Sprintf("must be >= 0, got %d", p.TotalPoints)}
		case math.IsNaN(p.Score) || math.IsInf(p.Score, 0):
			return &ValidationError{PlayerID: p.ID, Field: "score", Reason: "must be finite"}
		}
	}
	return nil
}
