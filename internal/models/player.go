package models

import (
	"fmt"
	"strings"
)

// Position is a player's FPL position.
type Position string

const (
	Goalkeeper Position = "GK"
	Defender   Position = "DEF"
	Midfielder Position = "MID"
	Forward    Position = "FWD"
)

// Positions lists every position in squad display order.
var Positions = []Position{Goalkeeper, Defender, Midfielder, Forward}

func (p Position) Valid() bool {
	switch p {
	case Goalkeeper, Defender, Midfielder, Forward:
		return true
	}
	return false
}

// ParsePosition accepts the canonical codes plus FPL's element_type numbers and long names.
func ParsePosition(s string) (Position, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "GK", "GKP", "1", "GOALKEEPER":
		return Goalkeeper, nil
	case "DEF", "2", "DEFENDER":
		return Defender, nil
	case "MID", "3", "MIDFIELDER":
		return Midfielder, nil
	case "FWD", "4", "FORWARD":
		return Forward, nil
	}
	return "", fmt.Errorf("unknown position %q", s)
}

// Player is one eligible, already scored player for a season/gameweek.
type Player struct {
	ID          int      `json:"player_id"`
	Name        string   `json:"name"`
	Club        string   `json:"club"`
	Position    Position `json:"position"`
	Cost        int      `json:"cost"`
	TotalPoints int      `json:"total_points"`
	Score       float64  `json:"score"`
}

// PlayerPool is the scored input table for one selection cycle. Treat it as read-only.
type PlayerPool struct {
	Season   int      `json:"season"`
	Gameweek int      `json:"gameweek"`
	Players  []Player `json:"players"`
}

// NewPlayerPool copies players so later changes by the caller cannot leak into the pool.
func NewPlayerPool(season, gameweek int, players []Player) PlayerPool {
	cp := make([]Player, len(players))
	copy(cp, players)
	return PlayerPool{Season: season, Gameweek: gameweek, Players: cp}
}

func (p PlayerPool) Len() int {
	return len(p.Players)
}

// ByID indexes the pool by player id. Duplicate ids keep the last occurrence.
func (p PlayerPool) ByID() map[int]Player {
	out := make(map[int]Player, len(p.Players))
	for _, pl := range p.Players {
		out[pl.ID] = pl
	}
	return out
}

// CountByPosition returns how many pool players play each position.
func (p PlayerPool) CountByPosition() map[Position]int {
	out := make(map[Position]int, len(Positions))
	for _, pl := range p.Players {
		out[pl.Position]++
	}
	return out
}
