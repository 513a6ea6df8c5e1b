package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/stitts-dev/fpl-optimizer/internal/models"
	"github.com/stitts-dev/fpl-optimizer/internal/optimizer"
	"github.com/stitts-dev/fpl-optimizer/internal/solver"
	ws "github.com/stitts-dev/fpl-optimizer/internal/websocket"
	"github.com/stitts-dev/fpl-optimizer/pkg/logger"
)

// PlayerDataProvider supplies the scored pool for a gameweek. gameweek <= 0
// asks for the next one.
type PlayerDataProvider interface {
	GetPool(ctx context.Context, season, gameweek int) (models.PlayerPool, error)
}

// SquadRepository keeps the history of selected squads.
type SquadRepository interface {
	LoadPrior(ctx context.Context, season, gameweek int) (models.PriorSquad, bool, error)
	SaveSelection(ctx context.Context, squad *models.Squad) error
}

type ProgressPublisher interface {
	Publish(event ws.Event)
}

// Selection modes reported in RunResult.
const (
	ModeSelect   = "select"
	ModeUpdate   = "update"
	ModeFallback = "fallback"
)

type SelectionConfig struct {
	// FallbackToFresh retries with a fresh selection when the transfer cap
	// alone makes the update infeasible.
	FallbackToFresh bool
	MaxLPIterations int
}

type RunResult struct {
	RunID  string        `json:"run_id"`
	Mode   string        `json:"mode"`
	Cached bool          `json:"cached"`
	Squad  *models.Squad `json:"squad"`
}

// SelectionService runs the weekly pipeline: fetch the pool, find the prior
// squad, select or update, then persist and cache the result.
type SelectionService struct {
	provider  PlayerDataProvider
	repo      SquadRepository
	selector  *optimizer.Selector
	cache     *SquadCache
	publisher ProgressPublisher
	cfg       SelectionConfig
	logger    *logrus.Entry
}

// NewSelectionService wires the pipeline. cache, publisher and logger may be nil.
func NewSelectionService(
	provider PlayerDataProvider,
	repo SquadRepository,
	selector *optimizer.Selector,
	cache *SquadCache,
	publisher ProgressPublisher,
	cfg SelectionConfig,
	logger *logrus.Entry,
) *SelectionService {
	return &SelectionService{
		provider:  provider,
		repo:      repo,
		selector:  selector,
		cache:     cache,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
	}
}

// NewSolverFactory builds branch-and-bound solvers with the configured
// per-node pivot cap, reporting progress to fn when it is non-nil.
func NewSolverFactory(maxLPIterations int, log *logrus.Entry, fn solver.ProgressFunc) optimizer.SolverFactory {
	return func() solver.Solver {
		bb := solver.NewBranchAndBound()
		if maxLPIterations != 0 {
			bb.MaxLPIterations = maxLPIterations
		}
		bb.Logger = log
		bb.Progress = fn
		return bb
	}
}

// Run selects the squad for season/gameweek. With maxChanges >= 0 and a
// prior squad on record the run is an update capped at maxChanges
// transfers, funded by the prior bank plus the sale value of the prior
// players; otherwise it is a fresh selection.
func (s *SelectionService) Run(ctx context.Context, season, gameweek, maxChanges int) (*RunResult, error) {
	runID := uuid.NewString()
	start := time.Now()

	p, err := s.provider.GetPool(ctx, season, gameweek)
	if err != nil {
		return nil, s.fail(runID, fmt.Errorf("failed to load player pool: %w", err))
	}
	log := s.runLogger(runID, season, p.Gameweek)
	log.WithField("players", p.Len()).Info("Starting selection run")

	var req *models.TransferRequest
	if maxChanges >= 0 {
		prior, ok, err := s.repo.LoadPrior(ctx, season, p.Gameweek)
		if err != nil {
			return nil, s.fail(runID, err)
		}
		if ok {
			bank := prior.Bank
			req = &models.TransferRequest{PriorIDs: prior.PlayerIDs, MaxChanges: maxChanges, Bank: &bank}
			log.WithField("bank", bank).Debug("Updating from prior squad")
		}
	}

	var progress solver.ProgressFunc
	if s.publisher != nil {
		progress = func(pr solver.Progress) {
			s.publisher.Publish(ws.ProgressEvent(runID, pr))
		}
	}
	sel := s.selector.With(
		optimizer.WithLogger(log),
		optimizer.WithSolver(NewSolverFactory(s.cfg.MaxLPIterations, log, progress)),
	)

	result := &RunResult{RunID: runID, Mode: ModeSelect}
	if req != nil {
		result.Mode = ModeUpdate
	}
	squad, cached, err := s.solve(ctx, sel, p, req)
	if err != nil && errors.Is(err, optimizer.ErrChangeCapInfeasible) && s.cfg.FallbackToFresh {
		log.WithError(err).Warn("Transfer cap infeasible, falling back to a fresh selection")
		result.Mode = ModeFallback
		squad, cached, err = s.solve(ctx, sel, p, nil)
	}
	if err != nil {
		log.WithError(err).Error("Selection run failed")
		return nil, s.fail(runID, err)
	}

	squad.RunID = runID
	squad.Season = season
	squad.Gameweek = p.Gameweek
	squad.SelectedAt = time.Now().UTC()
	result.Squad = squad
	result.Cached = cached

	if err := s.repo.SaveSelection(ctx, squad); err != nil {
		return nil, s.fail(runID, err)
	}

	log.WithFields(logrus.Fields{
		"mode":        result.Mode,
		"cached":      cached,
		"objective":   squad.Objective,
		"total_cost":  squad.TotalCost,
		"formation":   squad.Formation(),
		"duration_ms": time.Since(start).Milliseconds(),
	}).Info("Selection run completed")

	if s.publisher != nil {
		s.publisher.Publish(ws.Event{
			Type:      ws.EventCompleted,
			RunID:     runID,
			Stage:     result.Mode,
			Found:     true,
			Objective: squad.Objective,
		})
	}
	return result, nil
}

// solve consults the cache before running the selector.
func (s *SelectionService) solve(ctx context.Context, sel *optimizer.Selector, p models.PlayerPool, req *models.TransferRequest) (*models.Squad, bool, error) {
	key, err := SquadKey(p, sel.Rules(), req)
	if err != nil {
		return nil, false, err
	}
	if squad, ok, err := s.cache.Get(ctx, key); err != nil {
		s.log().WithError(err).Warn("Squad cache read failed")
	} else if ok {
		return squad, true, nil
	}

	var squad *models.Squad
	if req != nil {
		squad, err = sel.Update(ctx, p, *req)
	} else {
		squad, err = sel.Select(ctx, p)
	}
	if err != nil {
		return nil, false, err
	}

	if err := s.cache.Set(ctx, key, squad); err != nil {
		s.log().WithError(err).Warn("Squad cache write failed")
	}
	return squad, false, nil
}

func (s *SelectionService) fail(runID string, err error) error {
	if s.publisher != nil {
		s.publisher.Publish(ws.Event{Type: ws.EventFailed, RunID: runID, Error: err.Error()})
	}
	return err
}

func (s *SelectionService) runLogger(runID string, season, gameweek int) *logrus.Entry {
	if s.logger == nil {
		return logger.WithSelectionContext(runID, season, gameweek)
	}
	return s.logger.WithFields(logrus.Fields{
		"run_id":   runID,
		"season":   season,
		"gameweek": gameweek,
	})
}

func (s *SelectionService) log() *logrus.Entry {
	if s.logger == nil {
		return logger.WithService("selection")
	}
	return s.logger
}
