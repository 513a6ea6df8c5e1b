package solver

import (
	"context"
	"fmt"
	"math"
)

// Solver finds an optimal assignment for a model. Implementations must not
// keep state between calls.
type Solver interface {
	Solve(ctx context.Context, m *Model) (*Solution, error)
}

// Sense is the comparison used by a linear constraint.
type Sense int

const (
	LessEqual Sense = iota
	GreaterEqual
	Equal
)

func (s Sense) String() string {
	switch s {
	case LessEqual:
		return "<="
	case GreaterEqual:
		return ">="
	case Equal:
		return "=="
	}
	return "?"
}

// Term is one coefficient * variable product.
type Term struct {
	Var  int
	Coef float64
}

// Constraint is Σ terms (sense) RHS. Class groups constraints for infeasibility reports.
// Lazy constraints are enforced by propagation and on every incumbent but left
// out of the LP relaxation.
type Constraint struct {
	Name  string
	Class string
	Terms []Term
	Sense Sense
	RHS   float64
	Lazy  bool
}

// Variable is a binary decision variable with its objective coefficient.
type Variable struct {
	Name      string
	Objective float64
}

// Model is a maximization problem over binary variables.
type Model struct {
	Name        string
	Variables   []Variable
	Constraints []Constraint
	hint        []bool
}

func NewModel(name string) *Model {
	return &Model{Name: name}
}

// AddBinary adds a 0/1 variable and returns its index.
func (m *Model) AddBinary(name string, objective float64) int {
	m.Variables = append(m.Variables, Variable{Name: name, Objective: objective})
	return len(m.Variables) - 1
}

// AddConstraint appends a constraint. Repeated variables are merged and zero
// coefficients dropped, so callers may build terms naively.
func (m *Model) AddConstraint(name, class string, terms []Term, sense Sense, rhs float64) {
	m.addConstraint(name, class, terms, sense, rhs, false)
}

// AddLazyConstraint appends a constraint that the LP bound ignores. Use it for
// large families of two-variable links that propagation already enforces.
func (m *Model) AddLazyConstraint(name, class string, terms []Term, sense Sense, rhs float64) {
	m.addConstraint(name, class, terms, sense, rhs, true)
}

func (m *Model) addConstraint(name, class string, terms []Term, sense Sense, rhs float64, lazy bool) {
	merged := make(map[int]float64, len(terms))
	order := make([]int, 0, len(terms))
	for _, t := range terms {
		if _, seen := merged[t.Var]; !seen {
			order = append(order, t.Var)
		}
		merged[t.Var] += t.Coef
	}
	clean := make([]Term, 0, len(order))
	for _, v := range order {
		if merged[v] != 0 {
			clean = append(clean, Term{Var: v, Coef: merged[v]})
		}
	}
	m.Constraints = append(m.Constraints, Constraint{
		Name:  name,
		Class: class,
		Terms: clean,
		Sense: sense,
		RHS:   rhs,
		Lazy:  lazy,
	})
}

// SetHint supplies a candidate assignment. The solver uses it as the first
// incumbent when it is feasible and ignores it otherwise.
func (m *Model) SetHint(values []bool) {
	m.hint = append([]bool(nil), values...)
}

func (m *Model) NumVariables() int {
	return len(m.Variables)
}

// Validate checks indices and coefficients before a solve.
func (m *Model) Validate() error {
	if len(m.Variables) == 0 {
		return fmt.Errorf("%w: model %q has no variables", ErrInvalidModel, m.Name)
	}
	for i, v := range m.Variables {
		if math.IsNaN(v.Objective) || math.IsInf(v.Objective, 0) {
			return fmt.Errorf("%w: variable %d (%s) has non-finite objective", ErrInvalidModel, i, v.Name)
		}
	}
	for _, c := range m.Constraints {
		if math.IsNaN(c.RHS) || math.IsInf(c.RHS, 0) {
			return fmt.Errorf("%w: constraint %s has non-finite rhs", ErrInvalidModel, c.Name)
		}
		for _, t := range c.Terms {
			if t.Var < 0 || t.Var >= len(m.Variables) {
				return fmt.Errorf("%w: constraint %s references unknown variable %d", ErrInvalidModel, c.Name, t.Var)
			}
			if math.IsNaN(t.Coef) || math.IsInf(t.Coef, 0) {
				return fmt.Errorf("%w: constraint %s has non-finite coefficient", ErrInvalidModel, c.Name)
			}
		}
	}
	return nil
}

// Objective evaluates the objective for a full assignment.
func (m *Model) Objective(values []bool) float64 {
	total := 0.0
	for i, on := range values {
		if on {
			total += m.Variables[i].Objective
		}
	}
	return total
}

// Violated returns the first constraint the assignment breaks, if any.
func (m *Model) Violated(values []bool) (Constraint, bool) {
	for _, c := range m.Constraints {
		act := 0.0
		for _, t := range c.Terms {
			if values[t.Var] {
				act += t.Coef
			}
		}
		if !satisfied(act, c.Sense, c.RHS) {
			return c, true
		}
	}
	return Constraint{}, false
}

func satisfied(activity float64, sense Sense, rhs float64) bool {
	eps := feasTol * (1 + math.Abs(rhs))
	switch sense {
	case LessEqual:
		return activity <= rhs+eps
	case GreaterEqual:
		return activity >= rhs-eps
	default:
		return math.Abs(activity-rhs) <= eps
	}
}

// Solution is an optimal assignment.
type Solution struct {
	Values    []bool
	Objective float64
	Nodes     int
	LPSolves  int
	Elapsed   float64 // seconds
}

func (s *Solution) Value(v int) bool {
	return s.Values[v]
}
