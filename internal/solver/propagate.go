package solver

import "math"

const (
	feasTol     = 1e-9
	integralTol = 1e-6
)

const (
	unfixed int8 = -1
	fixed0  int8 = 0
	fixed1  int8 = 1
)

// propagator tightens variable fixings using min/max row activity.
type propagator struct {
	model  *Model
	occurs [][]int // variable -> constraint indices
}

func newPropagator(m *Model) *propagator {
	occurs := make([][]int, len(m.Variables))
	for ci, c := range m.Constraints {
		for _, t := range c.Terms {
			occurs[t.Var] = append(occurs[t.Var], ci)
		}
	}
	return &propagator{model: m, occurs: occurs}
}

// run propagates from the given dirty variables, or from every constraint
// when dirty is nil. It reports the index of the first constraint that can no
// longer be satisfied, or -1.
func (p *propagator) run(fix []int8, dirty []int) int {
	queued := make([]bool, len(p.model.Constraints))
	queue := make([]int, 0, len(p.model.Constraints))
	push := func(ci int) {
		if !queued[ci] {
			queued[ci] = true
			queue = append(queue, ci)
		}
	}
	if dirty == nil {
		for ci := range p.model.Constraints {
			push(ci)
		}
	} else {
		for _, v := range dirty {
			for _, ci := range p.occurs[v] {
				push(ci)
			}
		}
	}

	for len(queue) > 0 {
		ci := queue[0]
		queue = queue[1:]
		queued[ci] = false

		c := &p.model.Constraints[ci]
		lo, hi := activityRange(c, fix)
		eps := feasTol * (1 + math.Abs(c.RHS))
		upper := c.Sense == LessEqual || c.Sense == Equal
		lower := c.Sense == GreaterEqual || c.Sense == Equal

		if upper && lo > c.RHS+eps {
			return ci
		}
		if lower && hi < c.RHS-eps {
			return ci
		}

		changed := false
		for _, t := range c.Terms {
			if fix[t.Var] != unfixed {
				continue
			}
			var force int8 = unfixed
			if upper {
				// lo assumes the cheapest value for this term.
				if t.Coef > 0 && lo+t.Coef > c.RHS+eps {
					force = fixed0
				} else if t.Coef < 0 && lo-t.Coef > c.RHS+eps {
					force = fixed1
				}
			}
			if force == unfixed && lower {
				if t.Coef > 0 && hi-t.Coef < c.RHS-eps {
					force = fixed1
				} else if t.Coef < 0 && hi+t.Coef < c.RHS-eps {
					force = fixed0
				}
			}
			if force == unfixed {
				continue
			}
			fix[t.Var] = force
			changed = true
			for _, other := range p.occurs[t.Var] {
				push(other)
			}
			break
		}
		if changed {
			push(ci)
		}
	}
	return -1
}

// activityRange returns the smallest and largest activity reachable given
// the current fixings.
func activityRange(c *Constraint, fix []int8) (lo, hi float64) {
	for _, t := range c.Terms {
		switch fix[t.Var] {
		case fixed1:
			lo += t.Coef
			hi += t.Coef
		case unfixed:
			if t.Coef > 0 {
				hi += t.Coef
			} else {
				lo += t.Coef
			}
		}
	}
	return lo, hi
}
