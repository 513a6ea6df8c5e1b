package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// SquadSelection is a persisted squad, one row per selection run.
type SquadSelection struct {
	ID         uint           `gorm:"primaryKey" json:"id"`
	RunID      uuid.UUID      `gorm:"type:uuid;uniqueIndex;not null" json:"run_id"`
	Season     int            `gorm:"not null;index:idx_selection_season_gameweek" json:"season"`
	Gameweek   int            `gorm:"not null;index:idx_selection_season_gameweek" json:"gameweek"`
	CaptainID  int            `gorm:"not null" json:"captain_id"`
	Budget     int            `gorm:"not null" json:"budget"`
	TotalCost  int            `gorm:"not null" json:"total_cost"`
	Objective  float64        `gorm:"not null" json:"objective"`
	Formation  string         `json:"formation"`
	PlayerIDs  datatypes.JSON `json:"player_ids"`
	SelectedAt time.Time      `gorm:"not null;index" json:"selected_at"`
	CreatedAt  time.Time      `json:"created_at"`

	// Associations
	Players []SquadSelectionPlayer `gorm:"foreignKey:SelectionID;constraint:OnDelete:CASCADE" json:"players,omitempty"`
}

func (SquadSelection) TableName() string {
	return "squad_selections"
}

// SquadSelectionPlayer is one member of a persisted squad with the score it was picked on.
type SquadSelectionPlayer struct {
	ID          uint    `gorm:"primaryKey" json:"-"`
	SelectionID uint    `gorm:"not null;index" json:"-"`
	PlayerID    int     `gorm:"not null" json:"player_id"`
	Name        string  `json:"name"`
	Club        string  `gorm:"not null" json:"club"`
	Position    string  `gorm:"not null" json:"position"`
	Cost        int     `gorm:"not null" json:"cost"`
	TotalPoints int     `json:"total_points"`
	Score       float64 `json:"score"`
	Captain     bool    `gorm:"default:false" json:"captain"`
	FirstXI     bool    `gorm:"default:false" json:"first_xi"`
	BenchOrder  int     `json:"bench_order"`
}

func (SquadSelectionPlayer) TableName() string {
	return "squad_selection_players"
}

// NewSquadSelection flattens a squad into its persisted form. A missing or
// malformed RunID gets a fresh one.
func NewSquadSelection(s *Squad) (*SquadSelection, error) {
	runID, err := uuid.Parse(s.RunID)
	if err != nil {
		runID = uuid.New()
	}
	ids, err := json.Marshal(s.IDs())
	if err != nil {
		return nil, fmt.Errorf("failed to encode player ids: %w", err)
	}

	selectedAt := s.SelectedAt
	if selectedAt.IsZero() {
		selectedAt = time.Now().UTC()
	}

	sel := &SquadSelection{
		RunID:      runID,
		Season:     s.Season,
		Gameweek:   s.Gameweek,
		CaptainID:  s.CaptainID,
		Budget:     s.Budget,
		TotalCost:  s.TotalCost,
		Objective:  s.Objective,
		Formation:  s.Formation(),
		PlayerIDs:  datatypes.JSON(ids),
		SelectedAt: selectedAt,
		Players:    make([]SquadSelectionPlayer, 0, len(s.Members)),
	}
	for _, m := range s.Members {
		sel.Players = append(sel.Players, SquadSelectionPlayer{
			PlayerID:    m.ID,
			Name:        m.Name,
			Club:        m.Club,
			Position:    string(m.Position),
			Cost:        m.Cost,
			TotalPoints: m.TotalPoints,
			Score:       m.Score,
			Captain:     m.Captain,
			FirstXI:     m.FirstXI,
			BenchOrder:  m.BenchOrder,
		})
	}
	return sel, nil
}

// MemberIDs decodes the stored player id list.
func (s *SquadSelection) MemberIDs() ([]int, error) {
	var ids []int
	if len(s.PlayerIDs) == 0 {
		return ids, nil
	}
	if err := json.Unmarshal(s.PlayerIDs, &ids); err != nil {
		return nil, fmt.Errorf("selection %s: bad player_ids: %w", s.RunID, err)
	}
	return ids, nil
}

// Prior returns the stored member ids together with the unspent budget.
func (s *SquadSelection) Prior() (PriorSquad, error) {
	ids, err := s.MemberIDs()
	if err != nil {
		return PriorSquad{}, err
	}
	return PriorSquad{PlayerIDs: ids, Bank: max(0, s.Budget-s.TotalCost)}, nil
}

// ToSquad rebuilds the squad from a selection loaded with its players,
// keeping the stored member order.
func (s *SquadSelection) ToSquad() *Squad {
	squad := &Squad{
		Members:    make([]SquadMember, 0, len(s.Players)),
		CaptainID:  s.CaptainID,
		Budget:     s.Budget,
		TotalCost:  s.TotalCost,
		Objective:  s.Objective,
		RunID:      s.RunID.String(),
		Season:     s.Season,
		Gameweek:   s.Gameweek,
		SelectedAt: s.SelectedAt,
	}
	for _, p := range s.Players {
		squad.Members = append(squad.Members, SquadMember{
			Player: Player{
				ID:          p.PlayerID,
				Name:        p.Name,
				Club:        p.Club,
				Position:    Position(p.Position),
				Cost:        p.Cost,
				TotalPoints: p.TotalPoints,
				Score:       p.Score,
			},
			Picked:     true,
			Captain:    p.Captain,
			FirstXI:    p.FirstXI,
			BenchOrder: p.BenchOrder,
		})
	}
	return squad
}
