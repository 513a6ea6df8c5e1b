package optimizer

import (
	"context"
	"time"

	"github.com/stitts-dev/fpl-optimizer/internal/models"
)

// Selector runs the selection stages under one rule set. It holds no state
// between calls; every stage gets its own solver and its own deadline.
type Selector struct {
	rules            Rules
	maxSolveDuration time.Duration
	opts             []Option
}

// NewSelector validates rules once up front. maxSolveDuration <= 0 disables
// the per-stage deadline.
func NewSelector(rules Rules, maxSolveDuration time.Duration, opts ...Option) (*Selector, error) {
	if err := rules.Validate(); err != nil {
		return nil, err
	}
	return &Selector{
		rules:            rules,
		maxSolveDuration: maxSolveDuration,
		opts:             opts,
	}, nil
}

func (s *Selector) Rules() Rules {
	return s.rules
}

// With returns a copy of s with extra options, e.g. a per-run logger.
func (s *Selector) With(opts ...Option) *Selector {
	cp := *s
	cp.opts = append(append([]Option(nil), s.opts...), opts...)
	return &cp
}

// WithRules returns a copy of s running under different rules.
func (s *Selector) WithRules(rules Rules) (*Selector, error) {
	if err := rules.Validate(); err != nil {
		return nil, err
	}
	cp := *s
	cp.rules = rules
	return &cp, nil
}

// Select picks a fresh squad and its lineup.
func (s *Selector) Select(ctx context.Context, p models.PlayerPool) (*models.Squad, error) {
	squad, err := s.stage(ctx, func(ctx context.Context) (*models.Squad, error) {
		return SelectSquad(ctx, p, s.rules, s.opts...)
	})
	if err != nil {
		return nil, err
	}
	return s.Lineup(ctx, squad)
}

// Update re-selects against a prior squad, then picks the lineup.
func (s *Selector) Update(ctx context.Context, p models.PlayerPool, req models.TransferRequest) (*models.Squad, error) {
	squad, err := s.stage(ctx, func(ctx context.Context) (*models.Squad, error) {
		return UpdateSquad(ctx, p, req, s.rules, s.opts...)
	})
	if err != nil {
		return nil, err
	}
	return s.Lineup(ctx, squad)
}

// Lineup picks the starting XI for an existing squad.
func (s *Selector) Lineup(ctx context.Context, squad *models.Squad) (*models.Squad, error) {
	return s.stage(ctx, func(ctx context.Context) (*models.Squad, error) {
		return SelectLineup(ctx, squad, s.rules, s.opts...)
	})
}

func (s *Selector) stage(ctx context.Context, run func(context.Context) (*models.Squad, error)) (*models.Squad, error) {
	if s.maxSolveDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.maxSolveDuration)
		defer cancel()
	}
	return run(ctx)
}
