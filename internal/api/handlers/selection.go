package handlers

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/stitts-dev/fpl-optimizer/internal/models"
	"github.com/stitts-dev/fpl-optimizer/internal/optimizer"
	"github.com/stitts-dev/fpl-optimizer/internal/providers"
	"github.com/stitts-dev/fpl-optimizer/internal/repository"
	"github.com/stitts-dev/fpl-optimizer/internal/services"
	"github.com/stitts-dev/fpl-optimizer/pkg/utils"
)

// SelectionLoader reads persisted squads.
type SelectionLoader interface {
	LoadSelection(ctx context.Context, season, gameweek int) (*models.Squad, error)
}

type SelectionHandler struct {
	selector   *optimizer.Selector
	runner     services.Runner
	loader     SelectionLoader
	cache      *services.SquadCache
	season     int
	maxChanges int
	logger     *logrus.Entry
}

// NewSelectionHandler serves the optimizer endpoints. season and maxChanges
// are the defaults for pipeline runs.
func NewSelectionHandler(
	selector *optimizer.Selector,
	runner services.Runner,
	loader SelectionLoader,
	cache *services.SquadCache,
	season, maxChanges int,
	logger *logrus.Entry,
) *SelectionHandler {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &SelectionHandler{
		selector:   selector,
		runner:     runner,
		loader:     loader,
		cache:      cache,
		season:     season,
		maxChanges: maxChanges,
		logger:     logger.WithField("component", "selection_handler"),
	}
}

// rulesOverride replaces parts of the server rules for one request.
type rulesOverride struct {
	Budget          *int                      `json:"budget"`
	ClubLimit       *int                      `json:"club_limit"`
	Formation       optimizer.FormationBounds `json:"formation_bounds"`
	CaptainTieBreak *string                   `json:"captain_tie_break"`
}

type squadRequest struct {
	Season   int             `json:"season"`
	Gameweek int             `json:"gameweek"`
	Players  []models.Player `json:"players" binding:"required,min=1"`
	Rules    *rulesOverride  `json:"rules"`
}

type updateRequest struct {
	squadRequest
	PriorIDs   []int `json:"prior_player_ids" binding:"required"`
	MaxChanges int   `json:"max_changes" binding:"min=0"`
	Bank       *int  `json:"bank"`
}

type lineupRequest struct {
	Players   []models.Player `json:"players" binding:"required"`
	CaptainID int             `json:"captain_id"`
	Rules     *rulesOverride  `json:"rules"`
}

type runRequest struct {
	Season     int  `json:"season"`
	Gameweek   int  `json:"gameweek"`
	MaxChanges *int `json:"max_changes"`
}

// SquadResponse adds the derived lineup views to a squad.
type SquadResponse struct {
	*models.Squad
	Formation string               `json:"formation"`
	Starters  []models.SquadMember `json:"starters"`
	Bench     []models.SquadMember `json:"bench"`
	Cached    bool                 `json:"cached"`
}

func newSquadResponse(squad *models.Squad, cached bool) SquadResponse {
	return SquadResponse{
		Squad:     squad,
		Formation: squad.Formation(),
		Starters:  squad.Starters(),
		Bench:     squad.Bench(),
		Cached:    cached,
	}
}

// SelectSquad picks a squad, captain and lineup from the posted pool.
func (h *SelectionHandler) SelectSquad(c *gin.Context) {
	var req squadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendValidationError(c, "Invalid request body", err.Error())
		return
	}

	sel, err := h.selectorFor(req.Rules)
	if err != nil {
		h.sendError(c, err)
		return
	}
	pool := models.NewPlayerPool(req.Season, req.Gameweek, req.Players)
	squad, cached, err := h.cached(c.Request.Context(), pool, sel.Rules(), nil, func(ctx context.Context) (*models.Squad, error) {
		return sel.Select(ctx, pool)
	})
	if err != nil {
		h.sendError(c, err)
		return
	}
	utils.SendSuccess(c, newSquadResponse(squad, cached))
}

// UpdateSquad re-selects against a prior squad with capped transfers.
func (h *SelectionHandler) UpdateSquad(c *gin.Context) {
	var req updateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendValidationError(c, "Invalid request body", err.Error())
		return
	}

	sel, err := h.selectorFor(req.Rules)
	if err != nil {
		h.sendError(c, err)
		return
	}
	pool := models.NewPlayerPool(req.Season, req.Gameweek, req.Players)
	transfer := models.TransferRequest{PriorIDs: req.PriorIDs, MaxChanges: req.MaxChanges, Bank: req.Bank}
	squad, cached, err := h.cached(c.Request.Context(), pool, sel.Rules(), &transfer, func(ctx context.Context) (*models.Squad, error) {
		return sel.Update(ctx, pool, transfer)
	})
	if err != nil {
		h.sendError(c, err)
		return
	}
	utils.SendSuccess(c, newSquadResponse(squad, cached))
}

// SelectLineup picks the starting XI of a posted 15-man squad.
func (h *SelectionHandler) SelectLineup(c *gin.Context) {
	var req lineupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendValidationError(c, "Invalid request body", err.Error())
		return
	}

	sel, err := h.selectorFor(req.Rules)
	if err != nil {
		h.sendError(c, err)
		return
	}

	squad := &models.Squad{Budget: sel.Rules().Budget, CaptainID: req.CaptainID}
	for _, p := range req.Players {
		m := models.SquadMember{Player: p, Picked: true, Captain: p.ID == req.CaptainID}
		squad.Members = append(squad.Members, m)
		squad.TotalCost += p.Cost
		squad.Objective += p.Score
		if m.Captain {
			squad.Objective += p.Score
		}
	}
	if req.CaptainID != 0 {
		if _, ok := squad.Captain(); !ok {
			utils.SendValidationError(c, "Invalid captain", "captain_id is not in the squad")
			return
		}
	}

	out, err := sel.Lineup(c.Request.Context(), squad)
	if err != nil {
		h.sendError(c, err)
		return
	}
	utils.SendSuccess(c, newSquadResponse(out, false))
}

// RunSelection runs the full pipeline for a gameweek; gameweek 0 means the next one.
func (h *SelectionHandler) RunSelection(c *gin.Context) {
	var req runRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.SendValidationError(c, "Invalid request body", err.Error())
			return
		}
	}
	if req.Season == 0 {
		req.Season = h.season
	}
	maxChanges := h.maxChanges
	if req.MaxChanges != nil {
		maxChanges = *req.MaxChanges
	}

	res, err := h.runner.Run(c.Request.Context(), req.Season, req.Gameweek, maxChanges)
	if err != nil {
		h.sendError(c, err)
		return
	}
	utils.SendSuccess(c, gin.H{
		"run_id": res.RunID,
		"mode":   res.Mode,
		"squad":  newSquadResponse(res.Squad, res.Cached),
	})
}

// GetSelection returns the latest stored squad for /selections/:season/:gameweek.
func (h *SelectionHandler) GetSelection(c *gin.Context) {
	season, err := strconv.Atoi(c.Param("season"))
	if err != nil {
		utils.SendValidationError(c, "Invalid season", err.Error())
		return
	}
	gameweek, err := strconv.Atoi(c.Param("gameweek"))
	if err != nil {
		utils.SendValidationError(c, "Invalid gameweek", err.Error())
		return
	}

	squad, err := h.loader.LoadSelection(c.Request.Context(), season, gameweek)
	if err != nil {
		h.sendError(c, err)
		return
	}
	utils.SendSuccess(c, newSquadResponse(squad, false))
}

func (h *SelectionHandler) selectorFor(o *rulesOverride) (*optimizer.Selector, error) {
	if o == nil {
		return h.selector, nil
	}
	rules := h.selector.Rules()
	if o.Budget != nil {
		rules.Budget = *o.Budget
	}
	if o.ClubLimit != nil {
		rules.ClubLimit = *o.ClubLimit
	}
	if len(o.Formation) > 0 {
		formation := make(optimizer.FormationBounds, len(rules.Formation))
		for pos, r := range rules.Formation {
			formation[pos] = r
		}
		for pos, r := range o.Formation {
			formation[pos] = r
		}
		rules.Formation = formation
	}
	if o.CaptainTieBreak != nil {
		policy, err := optimizer.ParseCaptainTieBreak(*o.CaptainTieBreak)
		if err != nil {
			return nil, err
		}
		rules.CaptainTieBreak = policy
	}
	return h.selector.WithRules(rules)
}

func (h *SelectionHandler) cached(
	ctx context.Context,
	pool models.PlayerPool,
	rules optimizer.Rules,
	req *models.TransferRequest,
	solve func(context.Context) (*models.Squad, error),
) (*models.Squad, bool, error) {
	key, err := services.SquadKey(pool, rules, req)
	if err != nil {
		return nil, false, err
	}
	if squad, ok, err := h.cache.Get(ctx, key); err != nil {
		h.logger.WithError(err).Warn("Squad cache read failed")
	} else if ok {
		return squad, true, nil
	}

	squad, err := solve(ctx)
	if err != nil {
		return nil, false, err
	}
	if err := h.cache.Set(ctx, key, squad); err != nil {
		h.logger.WithError(err).Warn("Squad cache write failed")
	}
	return squad, false, nil
}

// sendError maps selection errors onto HTTP statuses and error codes.
func (h *SelectionHandler) sendError(c *gin.Context, err error) {
	var (
		infeasible *optimizer.InfeasibleError
		dataErr    *optimizer.DataError
		details    string
	)
	if errors.As(err, &infeasible) && len(infeasible.Suspected) > 0 {
		details = "suspected: " + strings.Join(infeasible.Suspected, ", ")
	}

	switch {
	case errors.As(err, &dataErr), errors.Is(err, optimizer.ErrInvalidRules):
		utils.SendValidationError(c, "Invalid selection input", err.Error())
	case errors.Is(err, optimizer.ErrChangeCapInfeasible):
		utils.SendError(c, utils.NewAppError(utils.ErrCodeChangeCapInfeasible, "Transfer cap too tight for a feasible squad", details))
	case errors.Is(err, optimizer.ErrInfeasibleSelection):
		utils.SendError(c, utils.NewAppError(utils.ErrCodeInfeasible, "No feasible selection", details))
	case errors.Is(err, optimizer.ErrSolverTimeout):
		utils.SendError(c, utils.NewAppError(utils.ErrCodeSolverTimeout, "Solver exceeded its time limit"))
	case errors.Is(err, optimizer.ErrCanceled):
		utils.SendError(c, utils.NewAppError(utils.ErrCodeCanceled, "Selection canceled"))
	case errors.Is(err, optimizer.ErrSolverFailure):
		h.logger.WithError(err).Error("Solver failure")
		utils.SendError(c, utils.NewAppError(utils.ErrCodeSolverFailure, "Solver failed"))
	case errors.Is(err, providers.ErrUpstream):
		utils.SendError(c, utils.NewAppError(utils.ErrCodeUpstream, "Player data unavailable", err.Error()))
	case errors.Is(err, repository.ErrSelectionNotFound):
		utils.SendError(c, utils.NewAppError(utils.ErrCodeNotFound, "Selection not found"))
	default:
		h.logger.WithError(err).Error("Selection request failed")
		utils.SendError(c, utils.NewAppError(utils.ErrCodeInternal, "Selection failed"))
	}
}
