package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/stitts-dev/fpl-optimizer/internal/models"
)

var ErrSelectionNotFound = errors.New("selection not found")

// AutoMigrate creates or updates the selection tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.SquadSelection{}, &models.SquadSelectionPlayer{}); err != nil {
		return fmt.Errorf("failed to migrate selection models: %w", err)
	}
	return nil
}

// DropTables removes the selection tables, players first.
func DropTables(db *gorm.DB) error {
	return db.Migrator().DropTable(&models.SquadSelectionPlayer{}, &models.SquadSelection{})
}

// GormSquadRepository stores selection history in postgres or sqlite.
type GormSquadRepository struct {
	db     *gorm.DB
	logger *logrus.Entry
}

func NewGormSquadRepository(db *gorm.DB, logger *logrus.Entry) *GormSquadRepository {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &GormSquadRepository{db: db, logger: logger.WithField("component", "squad_repository")}
}

// SaveSelection persists the squad and its members in one transaction.
func (r *GormSquadRepository) SaveSelection(ctx context.Context, squad *models.Squad) error {
	sel, err := models.NewSquadSelection(squad)
	if err != nil {
		return err
	}

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(sel).Error
	})
	if err != nil {
		return fmt.Errorf("failed to save selection for gameweek %d: %w", squad.Gameweek, err)
	}

	r.logger.WithFields(logrus.Fields{
		"run_id":   sel.RunID,
		"season":   sel.Season,
		"gameweek": sel.Gameweek,
		"players":  len(sel.Players),
	}).Info("Selection saved")
	return nil
}

// LoadPrior returns the most recent squad selected for an earlier gameweek of
// the same season, with the bank it left. ok is false when there is none.
func (r *GormSquadRepository) LoadPrior(ctx context.Context, season, gameweek int) (models.PriorSquad, bool, error) {
	var sel models.SquadSelection
	err := r.db.WithContext(ctx).
		Where("season = ? AND gameweek < ?", season, gameweek).
		Order("gameweek DESC").
		Order("selected_at DESC").
		Order("id DESC").
		First(&sel).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.PriorSquad{}, false, nil
	}
	if err != nil {
		return models.PriorSquad{}, false, fmt.Errorf("failed to load prior selection: %w", err)
	}

	prior, err := sel.Prior()
	if err != nil {
		return models.PriorSquad{}, false, err
	}
	return prior, true, nil
}

// LoadSelection returns the latest squad stored for a gameweek.
func (r *GormSquadRepository) LoadSelection(ctx context.Context, season, gameweek int) (*models.Squad, error) {
	var sel models.SquadSelection
	err := r.db.WithContext(ctx).
		Preload("Players", func(db *gorm.DB) *gorm.DB {
			return db.Order("id ASC")
		}).
		Where("season = ? AND gameweek = ?", season, gameweek).
		Order("selected_at DESC").
		Order("id DESC").
		First(&sel).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("season %d gameweek %d: %w", season, gameweek, ErrSelectionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load selection: %w", err)
	}
	return sel.ToSquad(), nil
}
