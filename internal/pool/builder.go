package pool

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"

	"github.com/stitts-dev/fpl-optimizer/internal/models"
)

const (
	DefaultOddsWeightDefensive = 0.6
	DefaultOddsWeightAttacking = 0.4

	StatusAvailable = "a"
)

// RawPlayer is an unscored player as published by the league.
type RawPlayer struct {
	ID          int
	Name        string
	Club        string
	Position    models.Position
	Cost        int
	TotalPoints int
	Status      string
}

// Builder scores raw players into an immutable PlayerPool by blending
// normalized season points with the club's win probability.
type Builder struct {
	// OddsWeightDefensive applies to goalkeepers and defenders,
	// OddsWeightAttacking to midfielders and forwards.
	OddsWeightDefensive float64
	OddsWeightAttacking float64
	ExcludeUnavailable  bool
	Logger              *logrus.Entry
}

func NewBuilder() *Builder {
	return &Builder{
		OddsWeightDefensive: DefaultOddsWeightDefensive,
		OddsWeightAttacking: DefaultOddsWeightAttacking,
		ExcludeUnavailable:  true,
	}
}

func (b *Builder) weight(p models.Position) float64 {
	if p == models.Goalkeeper || p == models.Defender {
		return b.OddsWeightDefensive
	}
	return b.OddsWeightAttacking
}

// Build returns the scored pool for one gameweek. winProb is keyed by club;
// a missing club is a blank gameweek and contributes zero.
func (b *Builder) Build(season, gameweek int, raw []RawPlayer, winProb map[string]float64) (models.PlayerPool, error) {
	for _, w := range []float64{b.OddsWeightDefensive, b.OddsWeightAttacking} {
		if w < 0 || w > 1 {
			return models.PlayerPool{}, fmt.Errorf("odds weight %.2f outside [0, 1]", w)
		}
	}

	eligible := make([]RawPlayer, 0, len(raw))
	excluded := 0
	for _, r := range raw {
		if b.ExcludeUnavailable && r.Status != "" && r.Status != StatusAvailable {
			excluded++
			continue
		}
		eligible = append(eligible, r)
	}

	points := make([]float64, len(eligible))
	for i, r := range eligible {
		points[i] = float64(r.TotalPoints)
	}
	maxPoints := 0.0
	if len(points) > 0 {
		maxPoints = floats.Max(points)
	}

	players := make([]models.Player, len(eligible))
	for i, r := range eligible {
		scaled := 0.0
		if maxPoints > 0 {
			scaled = points[i] / maxPoints
		}
		w := b.weight(r.Position)
		players[i] = models.Player{
			ID:          r.ID,
			Name:        r.Name,
			Club:        r.Club,
			Position:    r.Position,
			Cost:        r.Cost,
			TotalPoints: r.TotalPoints,
			Score:       (1-w)*scaled + w*winProb[r.Club],
		}
	}

	if err := Validate(players); err != nil {
		return models.PlayerPool{}, err
	}

	b.log().WithFields(logrus.Fields{
		"season":     season,
		"gameweek":   gameweek,
		"players":    len(players),
		"excluded":   excluded,
		"max_points": maxPoints,
		"clubs":      len(winProb),
	}).Debug("Scored player pool built")

	return models.NewPlayerPool(season, gameweek, players), nil
}

func (b *Builder) log() *logrus.Entry {
	if b.Logger != nil {
		return b.Logger
	}
	return logrus.NewEntry(logrus.StandardLogger())
}
