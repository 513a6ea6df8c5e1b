package providers

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/stitts-dev/fpl-optimizer/internal/models"
	"github.com/stitts-dev/fpl-optimizer/internal/pool"
)

// FPLClient reads players, clubs and fixtures from the Fantasy Premier League API.
type FPLClient struct {
	baseURL string
	guard   *guard
	logger  *logrus.Entry
}

func NewFPLClient(baseURL string, cfg GuardConfig, logger *logrus.Entry) *FPLClient {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &FPLClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		guard:   newGuard("fpl", cfg, logger),
		logger:  logger,
	}
}

// FPL API response structures
type Bootstrap struct {
	Elements []fplElement `json:"elements"`
	Teams    []fplTeam    `json:"teams"`
	Events   []fplEvent   `json:"events"`
}

type fplElement struct {
	ID          int    `json:"id"`
	FirstName   string `json:"first_name"`
	SecondName  string `json:"second_name"`
	WebName     string `json:"web_name"`
	Team        int    `json:"team"`
	ElementType int    `json:"element_type"`
	Status      string `json:"status"`
	TotalPoints int    `json:"total_points"`
	NowCost     int    `json:"now_cost"`
	Minutes     int    `json:"minutes"`
}

type fplTeam struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	ShortName string `json:"short_name"`
}

type fplEvent struct {
	ID         int  `json:"id"`
	IsCurrent  bool `json:"is_current"`
	IsNext     bool `json:"is_next"`
	IsFinished bool `json:"finished"`
}

// Fixture is one scheduled match between two FPL team ids.
type Fixture struct {
	ID    int  `json:"id"`
	Event *int `json:"event"`
	TeamH int  `json:"team_h"`
	TeamA int  `json:"team_a"`
}

func (c *FPLClient) Bootstrap(ctx context.Context) (*Bootstrap, error) {
	var b Bootstrap
	if err := c.guard.getJSON(ctx, c.baseURL+"/bootstrap-static/", nil, &b); err != nil {
		return nil, fmt.Errorf("fetch bootstrap: %w", err)
	}
	c.logger.WithFields(logrus.Fields{
		"elements": len(b.Elements),
		"teams":    len(b.Teams),
	}).Debug("Fetched FPL bootstrap")
	return &b, nil
}

// Fixtures returns the matches scheduled for a gameweek. A blank gameweek
// for a club simply has no fixture; a double has two.
func (c *FPLClient) Fixtures(ctx context.Context, gameweek int) ([]Fixture, error) {
	var fixtures []Fixture
	url := fmt.Sprintf("%s/fixtures/?event=%d", c.baseURL, gameweek)
	if err := c.guard.getJSON(ctx, url, nil, &fixtures); err != nil {
		return nil, fmt.Errorf("fetch fixtures for gameweek %d: %w", gameweek, err)
	}
	return fixtures, nil
}

// NextGameweek is the first event flagged is_next, or 0 once the season is over.
func (b *Bootstrap) NextGameweek() int {
	for _, e := range b.Events {
		if e.IsNext {
			return e.ID
		}
	}
	return 0
}

// TeamNames maps team id to the FPL display name, e.g. "Man City".
func (b *Bootstrap) TeamNames() map[int]string {
	out := make(map[int]string, len(b.Teams))
	for _, t := range b.Teams {
		out[t.ID] = t.Name
	}
	return out
}

// ShortNames maps team id to the three-letter club code used as Player.Club.
func (b *Bootstrap) ShortNames() map[int]string {
	out := make(map[int]string, len(b.Teams))
	for _, t := range b.Teams {
		out[t.ID] = t.ShortName
	}
	return out
}

// RawPlayers converts elements into unscored players. Elements with an
// unknown element_type (e.g. managers) are skipped.
func (b *Bootstrap) RawPlayers() []pool.RawPlayer {
	clubs := b.ShortNames()
	out := make([]pool.RawPlayer, 0, len(b.Elements))
	for _, e := range b.Elements {
		pos, err := models.ParsePosition(strconv.Itoa(e.ElementType))
		if err != nil {
			continue
		}
		name := e.WebName
		if name == "" {
			name = strings.TrimSpace(e.FirstName + " " + e.SecondName)
		}
		out = append(out, pool.RawPlayer{
			ID:          e.ID,
			Name:        name,
			Club:        clubs[e.Team],
			Position:    pos,
			Cost:        e.NowCost,
			TotalPoints: max(e.TotalPoints, 0),
			Status:      e.Status,
		})
	}
	return out
}
