package providers

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/stitts-dev/fpl-optimizer/internal/pool"
)

// OddsClient reads head-to-head bookmaker prices from the-odds-api.
type OddsClient struct {
	baseURL string
	apiKey  string
	sport   string
	regions string
	guard   *guard
	logger  *logrus.Entry
}

func NewOddsClient(baseURL, apiKey, sport, regions string, cfg GuardConfig, logger *logrus.Entry) *OddsClient {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &OddsClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		sport:   sport,
		regions: regions,
		guard:   newGuard("odds", cfg, logger),
		logger:  logger,
	}
}

type oddsEvent struct {
	ID           string          `json:"id"`
	CommenceTime string          `json:"commence_time"`
	HomeTeam     string          `json:"home_team"`
	AwayTeam     string          `json:"away_team"`
	Bookmakers   []oddsBookmaker `json:"bookmakers"`
}

type oddsBookmaker struct {
	Key     string       `json:"key"`
	Title   string       `json:"title"`
	Markets []oddsMarket `json:"markets"`
}

type oddsMarket struct {
	Key      string        `json:"key"`
	Outcomes []oddsOutcome `json:"outcomes"`
}

type oddsOutcome struct {
	Name  string  `json:"name"`
	Price float64 `json:"price"`
}

// Enabled reports whether an API key is configured.
func (c *OddsClient) Enabled() bool {
	return c != nil && c.apiKey != ""
}

// Upcoming returns upcoming fixtures with every bookmaker's h2h prices.
// Club names are the bookmakers' full names, e.g. "Manchester City".
func (c *OddsClient) Upcoming(ctx context.Context) ([]pool.FixtureOdds, error) {
	q := url.Values{}
	q.Set("apiKey", c.apiKey)
	q.Set("regions", c.regions)
	q.Set("markets", "h2h")
	q.Set("oddsFormat", "decimal")
	endpoint := fmt.Sprintf("%s/v4/sports/%s/odds?%s", c.baseURL, url.PathEscape(c.sport), q.Encode())

	var events []oddsEvent
	if err := c.guard.getJSON(ctx, endpoint, nil, &events); err != nil {
		return nil, fmt.Errorf("fetch odds: %w", err)
	}

	out := make([]pool.FixtureOdds, 0, len(events))
	for _, e := range events {
		f := pool.FixtureOdds{HomeClub: e.HomeTeam, AwayClub: e.AwayTeam}
		for _, b := range e.Bookmakers {
			if quote, ok := h2hQuote(b, e.HomeTeam, e.AwayTeam); ok {
				f.Bookmakers = append(f.Bookmakers, quote)
			}
		}
		out = append(out, f)
	}

	c.logger.WithFields(logrus.Fields{
		"events": len(out),
		"sport":  c.sport,
	}).Debug("Fetched bookmaker odds")
	return out, nil
}

func h2hQuote(b oddsBookmaker, home, away string) (pool.BookmakerOdds, bool) {
	for _, m := range b.Markets {
		if m.Key != "h2h" {
			continue
		}
		q := pool.BookmakerOdds{Bookmaker: b.Key}
		for _, o := range m.Outcomes {
			switch o.Name {
			case home:
				q.Home = o.Price
			case away:
				q.Away = o.Price
			case "Draw":
				q.Draw = o.Price
			}
		}
		return q, q.Home > 0 && q.Away > 0
	}
	return pool.BookmakerOdds{}, false
}

// bookmakerAliases maps bookmaker club names onto FPL team names where the
// two differ.
var bookmakerAliases = map[string]string{
	"manchester city":          "man city",
	"manchester united":        "man utd",
	"tottenham hotspur":        "spurs",
	"nottingham forest":        "nott'm forest",
	"brighton and hove albion": "brighton",
	"leicester city":           "leicester",
	"leeds united":             "leeds",
	"newcastle united":         "newcastle",
	"west ham united":          "west ham",
	"wolverhampton wanderers":  "wolves",
	"ipswich town":             "ipswich",
	"luton town":               "luton",
	"sheffield united":         "sheffield utd",
	"afc bournemouth":          "bournemouth",
}

// canonicalClub normalizes a club name from either source for matching.
func canonicalClub(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	if alias, ok := bookmakerAliases[n]; ok {
		return alias
	}
	return n
}
