package solver

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	DefaultMaxLPIterations = 5000
	DefaultTolerance       = 1e-6
	progressEvery          = 500
)

// Progress is a snapshot of a running search.
type Progress struct {
	Model     string        `json:"model"`
	Nodes     int           `json:"nodes"`
	Incumbent float64       `json:"incumbent"`
	Found     bool          `json:"found"`
	Elapsed   time.Duration `json:"elapsed"`
}

type ProgressFunc func(Progress)

// BranchAndBound solves binary models exactly with depth-first search.
// Each node is tightened by bound propagation and bounded by the LP
// relaxation, warm started from its parent's basis. Nodes whose bound cannot
// beat the incumbent are pruned, and variables whose reduced cost exceeds the
// remaining gap are fixed for the whole subtree.
type BranchAndBound struct {
	// MaxLPIterations caps dual simplex pivots per node. A capped node keeps
	// the bound reached so far. Negative disables the LP and uses the
	// objective-sum bound.
	MaxLPIterations int
	Tolerance       float64
	Progress        ProgressFunc
	Logger          *logrus.Entry
}

var _ Solver = (*BranchAndBound)(nil)

func NewBranchAndBound() *BranchAndBound {
	return &BranchAndBound{
		MaxLPIterations: DefaultMaxLPIterations,
		Tolerance:       DefaultTolerance,
	}
}

func (b *BranchAndBound) log() *logrus.Entry {
	if b.Logger != nil {
		return b.Logger
	}
	return logrus.NewEntry(logrus.StandardLogger())
}

func (b *BranchAndBound) maxPivots() int {
	if b.MaxLPIterations == 0 {
		return DefaultMaxLPIterations
	}
	return b.MaxLPIterations
}

type node struct {
	fix   []int8
	dirty []int
	basis *lpBasis // parent's final LP basis, shared read-only
}

type search struct {
	cfg       *BranchAndBound
	model     *Model
	prop      *propagator
	lp        *lpRelaxation
	start     time.Time
	nodes     int
	lpSolves  int
	best      []bool
	bestObj   float64
	found     bool
	conflicts map[string]int
}

// Solve returns an optimal assignment, or ErrInfeasible wrapped in an
// *InfeasibleError, ErrTimeout when ctx's deadline passes, ErrCanceled when
// ctx is canceled.
func (b *BranchAndBound) Solve(ctx context.Context, m *Model) (sol *Solution, err error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	defer func() {
		if r := recover(); r != nil {
			sol, err = nil, fmt.Errorf("%w: %v", ErrFailure, r)
		}
	}()

	s := &search{
		cfg:       b,
		model:     m,
		prop:      newPropagator(m),
		start:     time.Now(),
		bestObj:   math.Inf(-1),
		conflicts: make(map[string]int),
	}
	if b.MaxLPIterations >= 0 {
		s.lp = newLPRelaxation(m)
	}
	s.tryHint()

	root := make([]int8, m.NumVariables())
	for i := range root {
		root[i] = unfixed
	}
	stack := []node{{fix: root}}

	for len(stack) > 0 {
		if err := ctxError(ctx); err != nil {
			b.log().WithFields(logrus.Fields{
				"model": m.Name,
				"nodes": s.nodes,
				"found": s.found,
			}).Warn("Search stopped before proving optimality")
			return nil, err
		}

		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		s.nodes++
		if s.nodes%progressEvery == 0 {
			s.report()
		}

		children := s.expand(ctx, n)
		stack = append(stack, children...)
	}

	if !s.found {
		return nil, &InfeasibleError{Model: m.Name, Classes: s.suspects()}
	}
	if c, bad := m.Violated(s.best); bad {
		return nil, fmt.Errorf("%w: incumbent violates %s", ErrFailure, c.Name)
	}

	elapsed := time.Since(s.start)
	b.log().WithFields(logrus.Fields{
		"model":     m.Name,
		"nodes":     s.nodes,
		"lp_solves": s.lpSolves,
		"objective": s.bestObj,
		"elapsed":   elapsed.String(),
	}).Debug("Search complete")

	return &Solution{
		Values:    s.best,
		Objective: s.bestObj,
		Nodes:     s.nodes,
		LPSolves:  s.lpSolves,
		Elapsed:   elapsed.Seconds(),
	}, nil
}

func ctxError(ctx context.Context) error {
	switch err := ctx.Err(); {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return ErrTimeout
	default:
		return ErrCanceled
	}
}

// expand processes one node and returns the children to push, preferred
// child last.
func (s *search) expand(ctx context.Context, n node) []node {
	if failed := s.prop.run(n.fix, n.dirty); failed >= 0 {
		s.conflicts[s.model.Constraints[failed].Class]++
		return nil
	}

	free := make([]int, 0)
	for v, st := range n.fix {
		if st == unfixed {
			free = append(free, v)
		}
	}
	if len(free) == 0 {
		s.offer(toValues(n.fix))
		return nil
	}

	rel := lpResult{status: lpUnavailable, row: -1}
	if s.lp != nil {
		s.lpSolves++
		rel = s.lp.solve(ctx, n.fix, n.basis, s.cfg.maxPivots())
	}

	switch rel.status {
	case lpInfeasible:
		if rel.row >= 0 {
			s.conflicts[s.lp.class[rel.row]]++
		}
		return nil
	case lpUnavailable:
		rel.bound = weakBound(s.model, n.fix, free)
	}
	if s.prunable(rel.bound) {
		return nil
	}

	branchVar, prefer := -1, fixed1
	var implied []int
	basis := n.basis
	if rel.status == lpOptimal {
		basis = rel.basis
		candidate := toValues(n.fix)
		integral := true
		for _, v := range free {
			x := rel.values[v]
			candidate[v] = x >= 0.5
			if math.Abs(x-math.Round(x)) > integralTol {
				integral = false
			}
		}
		accepted := s.offer(candidate)
		if integral && accepted {
			return nil
		}
		if s.prunable(rel.bound) {
			return nil
		}
		implied = s.reducedCostFix(n.fix, free, rel)
		branchVar, prefer = mostFractional(free, n.fix, rel.values)
		if branchVar < 0 {
			branchVar, prefer = s.repairVar(candidate, n.fix)
		}
	}
	if branchVar < 0 {
		branchVar = s.bestCoefficient(free, n.fix)
	}
	if branchVar < 0 {
		// Reduced costs fixed every free variable.
		return []node{{fix: n.fix, dirty: implied, basis: basis}}
	}

	other := fixed0
	if prefer == fixed0 {
		other = fixed1
	}
	return []node{
		s.child(n.fix, branchVar, other, implied, basis),
		s.child(n.fix, branchVar, prefer, implied, basis),
	}
}

// prunable reports whether a node bounded by bound cannot improve on the incumbent.
func (s *search) prunable(bound float64) bool {
	return s.found && bound+s.margin(bound) <= s.bestObj+s.cfg.Tolerance
}

// reducedCostFix fixes free variables that sit at a bound in the LP optimum
// and whose reduced cost is larger than the gap to the incumbent: moving them
// cannot lead to a better solution anywhere below this node.
func (s *search) reducedCostFix(fix []int8, free []int, rel lpResult) []int {
	if !s.found {
		return nil
	}
	gap := rel.bound + s.margin(rel.bound) - s.bestObj - s.cfg.Tolerance
	var fixed []int
	for _, v := range free {
		d, x := rel.reduced[v], rel.values[v]
		switch {
		case x <= integralTol && -d >= gap:
			fix[v] = fixed0
		case x >= 1-integralTol && d >= gap:
			fix[v] = fixed1
		default:
			continue
		}
		fixed = append(fixed, v)
	}
	return fixed
}

// repairVar picks a branching variable when the LP optimum is integral but
// breaks a lazy constraint: the first free variable of the broken constraint,
// preferring the value the LP gave it.
func (s *search) repairVar(candidate []bool, fix []int8) (int, int8) {
	c, bad := s.model.Violated(candidate)
	if !bad {
		return -1, fixed1
	}
	for _, t := range c.Terms {
		if fix[t.Var] != unfixed {
			continue
		}
		if candidate[t.Var] {
			return t.Var, fixed1
		}
		return t.Var, fixed0
	}
	return -1, fixed1
}

func (s *search) child(parent []int8, v int, value int8, implied []int, basis *lpBasis) node {
	fix := append([]int8(nil), parent...)
	fix[v] = value
	dirty := append([]int{v}, implied...)
	return node{fix: fix, dirty: dirty, basis: basis}
}

// offer records values as the incumbent when feasible and strictly better.
// It reports whether values was feasible.
func (s *search) offer(values []bool) bool {
	if _, bad := s.model.Violated(values); bad {
		return false
	}
	obj := s.model.Objective(values)
	if !s.found || obj > s.bestObj+s.cfg.Tolerance {
		s.best, s.bestObj, s.found = values, obj, true
		s.report()
	}
	return true
}

func (s *search) tryHint() {
	h := s.model.hint
	if len(h) != s.model.NumVariables() {
		return
	}
	if !s.offer(append([]bool(nil), h...)) {
		s.cfg.log().WithField("model", s.model.Name).Debug("Ignoring infeasible hint")
	}
}

// margin absorbs simplex round-off so near-ties are still explored.
func (s *search) margin(bound float64) float64 {
	return 1e-9 * (1 + math.Abs(bound))
}

func (s *search) report() {
	if s.cfg.Progress == nil {
		return
	}
	s.cfg.Progress(Progress{
		Model:     s.model.Name,
		Nodes:     s.nodes,
		Incumbent: s.bestObj,
		Found:     s.found,
		Elapsed:   time.Since(s.start),
	})
}

// bestCoefficient returns the still-free variable with the largest
// objective coefficient, or -1.
func (s *search) bestCoefficient(free []int, fix []int8) int {
	best := -1
	for _, v := range free {
		if fix[v] != unfixed {
			continue
		}
		if best < 0 || s.model.Variables[v].Objective > s.model.Variables[best].Objective {
			best = v
		}
	}
	return best
}

// suspects orders conflict classes by how often they closed a node.
func (s *search) suspects() []string {
	classes := make([]string, 0, len(s.conflicts))
	for c := range s.conflicts {
		if c != "" {
			classes = append(classes, c)
		}
	}
	sort.Slice(classes, func(i, j int) bool {
		ci, cj := s.conflicts[classes[i]], s.conflicts[classes[j]]
		if ci != cj {
			return ci > cj
		}
		return classes[i] < classes[j]
	})
	return classes
}

// mostFractional picks the free variable whose LP value is closest to 0.5,
// preferring the side it leans towards. It returns -1 if all are integral.
func mostFractional(free []int, fix []int8, values []float64) (int, int8) {
	best, bestDist := -1, math.Inf(1)
	for _, v := range free {
		if fix[v] != unfixed {
			continue
		}
		x := values[v]
		if math.Abs(x-math.Round(x)) <= integralTol {
			continue
		}
		if d := math.Abs(x - 0.5); d < bestDist {
			best, bestDist = v, d
		}
	}
	if best < 0 {
		return -1, fixed1
	}
	if values[best] >= 0.5 {
		return best, fixed1
	}
	return best, fixed0
}

func toValues(fix []int8) []bool {
	values := make([]bool, len(fix))
	for i, st := range fix {
		values[i] = st == fixed1
	}
	return values
}
