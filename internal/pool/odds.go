package pool

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

var ErrNoOdds = errors.New("no usable bookmaker odds")

// BookmakerOdds holds one bookmaker's decimal prices for a match.
type BookmakerOdds struct {
	Bookmaker string  `json:"bookmaker"`
	Home      float64 `json:"home"`
	Draw      float64 `json:"draw"`
	Away      float64 `json:"away"`
}

// FixtureOdds is a single fixture with every bookmaker quote collected for it.
type FixtureOdds struct {
	HomeClub   string          `json:"home_club"`
	AwayClub   string          `json:"away_club"`
	Bookmakers []BookmakerOdds `json:"bookmakers"`
}

// Outcome is the margin-free probability of each result.
type Outcome struct {
	Home float64 `json:"home"`
	Draw float64 `json:"draw"`
	Away float64 `json:"away"`
}

// RemoveMargin turns decimal prices into probabilities summing to one.
// A zero draw price is treated as a two-way market.
func RemoveMargin(o BookmakerOdds) (Outcome, error) {
	if o.Home <= 1 || o.Away <= 1 || (o.Draw != 0 && o.Draw <= 1) {
		return Outcome{}, fmt.Errorf("bookmaker %q: prices must exceed 1.0", o.Bookmaker)
	}
	implied := []float64{1 / o.Home, 0, 1 / o.Away}
	if o.Draw != 0 {
		implied[1] = 1 / o.Draw
	}
	floats.Scale(1/floats.Sum(implied), implied)
	return Outcome{Home: implied[0], Draw: implied[1], Away: implied[2]}, nil
}

// Consensus averages the margin-free probabilities across bookmakers.
// Malformed quotes are skipped; ErrNoOdds is returned when none remain.
func Consensus(f FixtureOdds) (Outcome, error) {
	var home, draw, away []float64
	for _, b := range f.Bookmakers {
		o, err := RemoveMargin(b)
		if err != nil {
			continue
		}
		home = append(home, o.Home)
		draw = append(draw, o.Draw)
		away = append(away, o.Away)
	}
	if len(home) == 0 {
		return Outcome{}, fmt.Errorf("%s v %s: %w", f.HomeClub, f.AwayClub, ErrNoOdds)
	}
	return Outcome{
		Home: stat.Mean(home, nil),
		Draw: stat.Mean(draw, nil),
		Away: stat.Mean(away, nil),
	}, nil
}

// WinProbabilities maps each club to its chance of winning at least one
// fixture in the gameweek. Two fixtures combine as p1 + p2 - p1*p2; clubs
// without a fixture are absent and read as zero.
func WinProbabilities(fixtures []FixtureOdds) (map[string]float64, error) {
	lose := make(map[string]float64)
	for _, f := range fixtures {
		o, err := Consensus(f)
		if err != nil {
			return nil, err
		}
		for club, p := range map[string]float64{f.HomeClub: o.Home, f.AwayClub: o.Away} {
			if _, ok := lose[club]; !ok {
				lose[club] = 1
			}
			lose[club] *= 1 - p
		}
	}
	win := make(map[string]float64, len(lose))
	for club, q := range lose {
		win[club] = 1 - q
	}
	return win, nil
}
