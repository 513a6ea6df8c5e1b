package providers

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/stitts-dev/fpl-optimizer/internal/models"
	"github.com/stitts-dev/fpl-optimizer/internal/pool"
)

// PoolProvider assembles the scored player pool for a gameweek from FPL
// player data and bookmaker odds.
type PoolProvider struct {
	fpl     *FPLClient
	odds    *OddsClient
	builder *pool.Builder
	logger  *logrus.Entry
}

// NewPoolProvider wires the clients together. odds may be nil, in which case
// every club's win probability is zero and scores rest on points alone.
func NewPoolProvider(fpl *FPLClient, odds *OddsClient, builder *pool.Builder, logger *logrus.Entry) *PoolProvider {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &PoolProvider{fpl: fpl, odds: odds, builder: builder, logger: logger}
}

func (p *PoolProvider) GetPool(ctx context.Context, season, gameweek int) (models.PlayerPool, error) {
	boot, err := p.fpl.Bootstrap(ctx)
	if err != nil {
		return models.PlayerPool{}, err
	}
	if gameweek <= 0 {
		gameweek = boot.NextGameweek()
		if gameweek == 0 {
			return models.PlayerPool{}, fmt.Errorf("no upcoming gameweek in season %d", season)
		}
	}

	fixtures, err := p.fpl.Fixtures(ctx, gameweek)
	if err != nil {
		return models.PlayerPool{}, err
	}

	var priced []pool.FixtureOdds
	if p.odds.Enabled() {
		upcoming, err := p.odds.Upcoming(ctx)
		if err != nil {
			return models.PlayerPool{}, err
		}
		priced = matchFixtures(fixtures, boot, upcoming)
	} else {
		p.logger.Warn("No odds API key configured, scoring on points only")
	}

	winProb, err := pool.WinProbabilities(priced)
	if err != nil {
		return models.PlayerPool{}, err
	}

	p.logger.WithFields(logrus.Fields{
		"gameweek":        gameweek,
		"fixtures":        len(fixtures),
		"priced":          len(priced),
		"clubs_with_odds": len(winProb),
	}).Info("Building player pool")

	return p.builder.Build(season, gameweek, boot.RawPlayers(), winProb)
}

// matchFixtures pairs each FPL fixture with the bookmaker event between the
// same two clubs and relabels it with FPL short names. Fixtures without a
// priced event or without any usable quote are dropped.
func matchFixtures(fixtures []Fixture, boot *Bootstrap, events []pool.FixtureOdds) []pool.FixtureOdds {
	type pair struct{ home, away string }
	byClubs := make(map[pair]pool.FixtureOdds, len(events))
	for _, e := range events {
		byClubs[pair{canonicalClub(e.HomeClub), canonicalClub(e.AwayClub)}] = e
	}

	names := boot.TeamNames()
	short := boot.ShortNames()
	out := make([]pool.FixtureOdds, 0, len(fixtures))
	for _, f := range fixtures {
		e, ok := byClubs[pair{canonicalClub(names[f.TeamH]), canonicalClub(names[f.TeamA])}]
		if !ok || len(e.Bookmakers) == 0 {
			continue
		}
		if _, err := pool.Consensus(e); err != nil {
			continue
		}
		out = append(out, pool.FixtureOdds{
			HomeClub:   short[f.TeamH],
			AwayClub:   short[f.TeamA],
			Bookmakers: e.Bookmakers,
		})
	}
	return out
}
