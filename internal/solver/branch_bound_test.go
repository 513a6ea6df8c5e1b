package solver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// knapsack: values 10, 13, 7, 8 with weights 5, 7, 4, 3 and capacity 10.
func knapsackModel() *Model {
	m := NewModel("knapsack")
	values := []float64{10, 13, 7, 8}
	weights := []float64{5, 7, 4, 3}
	terms := make([]Term, len(values))
	for i, v := range values {
		idx := m.AddBinary("item", v)
		terms[i] = Term{Var: idx, Coef: weights[i]}
	}
	m.AddConstraint("capacity", "budget", terms, LessEqual, 10)
	return m
}

func TestBranchAndBound_Knapsack(t *testing.T) {
	sol, err := NewBranchAndBound().Solve(context.Background(), knapsackModel())
	require.NoError(t, err)

	// Items 1 and 3 (13 + 8, weight 10) beat 0+3 (18) and 0+2 (17).
	assert.InDelta(t, 21.0, sol.Objective, 1e-9)
	assert.Equal(t, []bool{false, true, false, true}, sol.Values)
}

func TestBranchAndBound_WeakBoundMatchesLP(t *testing.T) {
	withLP, err := NewBranchAndBound().Solve(context.Background(), knapsackModel())
	require.NoError(t, err)

	noLP := NewBranchAndBound()
	noLP.MaxLPIterations = -1
	weak, err := noLP.Solve(context.Background(), knapsackModel())
	require.NoError(t, err)

	assert.InDelta(t, withLP.Objective, weak.Objective, 1e-9)
	assert.Equal(t, withLP.Values, weak.Values)
}

func TestBranchAndBound_LazyConstraintRepairsIntegralLP(t *testing.T) {
	// y picks a bonus that only counts for a chosen x; the links are left out
	// of the LP, whose optimum (x1, y0) breaks them.
	m := NewModel("captain")
	x0 := m.AddBinary("x0", 1)
	x1 := m.AddBinary("x1", 2)
	y0 := m.AddBinary("y0", 5)
	y1 := m.AddBinary("y1", 2)
	m.AddConstraint("size", "size", []Term{{x0, 1}, {x1, 1}}, Equal, 1)
	m.AddConstraint("one", "captain", []Term{{y0, 1}, {y1, 1}}, Equal, 1)
	m.AddLazyConstraint("link0", "captain", []Term{{y0, 1}, {x0, -1}}, LessEqual, 0)
	m.AddLazyConstraint("link1", "captain", []Term{{y1, 1}, {x1, -1}}, LessEqual, 0)

	sol, err := NewBranchAndBound().Solve(context.Background(), m)
	require.NoError(t, err)
	assert.InDelta(t, 6.0, sol.Objective, 1e-9)
	assert.Equal(t, []bool{true, false, true, false}, sol.Values)
}

func TestBranchAndBound_EqualityAndCardinality(t *testing.T) {
	m := NewModel("pick-two")
	scores := []float64{4, 9, 1, 6, 6}
	terms := make([]Term, 0, len(scores))
	for _, s := range scores {
		terms = append(terms, Term{Var: m.AddBinary("x", s), Coef: 1})
	}
	m.AddConstraint("count", "size", terms, Equal, 2)
	// x1 and x3 cannot both be chosen.
	m.AddConstraint("conflict", "club", []Term{{Var: 1, Coef: 1}, {Var: 3, Coef: 1}}, LessEqual, 1)

	sol, err := NewBranchAndBound().Solve(context.Background(), m)
	require.NoError(t, err)
	assert.InDelta(t, 15.0, sol.Objective, 1e-9)
	assert.Equal(t, []bool{false, true, false, false, true}, sol.Values)
}

func TestBranchAndBound_GreaterEqual(t *testing.T) {
	m := NewModel("cover")
	a := m.AddBinary("a", -3)
	b := m.AddBinary("b", -2)
	c := m.AddBinary("c", -4)
	m.AddConstraint("cover", "coverage", []Term{{a, 1}, {b, 1}, {c, 1}}, GreaterEqual, 2)

	sol, err := NewBranchAndBound().Solve(context.Background(), m)
	require.NoError(t, err)
	assert.InDelta(t, -5.0, sol.Objective, 1e-9)
	assert.Equal(t, []bool{true, true, false}, sol.Values)
}

func TestBranchAndBound_InfeasibleReportsClass(t *testing.T) {
	m := NewModel("impossible")
	x := m.AddBinary("x", 1)
	y := m.AddBinary("y", 1)
	m.AddConstraint("need-both", "size", []Term{{x, 1}, {y, 1}}, Equal, 2)
	m.AddConstraint("cap", "budget", []Term{{x, 3}, {y, 3}}, LessEqual, 5)

	_, err := NewBranchAndBound().Solve(context.Background(), m)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInfeasible))

	var inf *InfeasibleError
	require.True(t, errors.As(err, &inf))
	assert.NotEmpty(t, inf.Classes)
	assert.Contains(t, []string{"size", "budget"}, inf.Classes[0])
}

func TestBranchAndBound_ContextErrors(t *testing.T) {
	t.Run("canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := NewBranchAndBound().Solve(ctx, knapsackModel())
		assert.ErrorIs(t, err, ErrCanceled)
	})

	t.Run("deadline", func(t *testing.T) {
		ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
		defer cancel()
		_, err := NewBranchAndBound().Solve(ctx, knapsackModel())
		assert.ErrorIs(t, err, ErrTimeout)
	})
}

func TestBranchAndBound_DeadlineStopsLongSearch(t *testing.T) {
	// Σ 2x = 41 has no integer solution, but neither propagation nor the LP
	// notices until most variables are fixed, so the search is exponential.
	m := NewModel("parity")
	terms := make([]Term, 0, 40)
	for i := 0; i < 40; i++ {
		terms = append(terms, Term{Var: m.AddBinary("x", float64(i%7)+1), Coef: 2})
	}
	m.AddConstraint("parity", "size", terms, Equal, 41)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := NewBranchAndBound().Solve(ctx, m)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), time.Second)
}

func TestBranchAndBound_HintAndProgress(t *testing.T) {
	m := knapsackModel()
	m.SetHint([]bool{true, false, false, true})

	var events []Progress
	bb := NewBranchAndBound()
	bb.Progress = func(p Progress) { events = append(events, p) }

	sol, err := bb.Solve(context.Background(), m)
	require.NoError(t, err)
	assert.InDelta(t, 21.0, sol.Objective, 1e-9)

	require.NotEmpty(t, events)
	assert.True(t, events[0].Found)
	assert.InDelta(t, 18.0, events[0].Incumbent, 1e-9)
}

func TestBranchAndBound_InfeasibleHintIgnored(t *testing.T) {
	m := knapsackModel()
	m.SetHint([]bool{true, true, true, true})

	sol, err := NewBranchAndBound().Solve(context.Background(), m)
	require.NoError(t, err)
	assert.InDelta(t, 21.0, sol.Objective, 1e-9)
}

func TestModel_Validate(t *testing.T) {
	empty := NewModel("empty")
	assert.ErrorIs(t, empty.Validate(), ErrInvalidModel)

	bad := NewModel("bad")
	bad.AddBinary("x", 1)
	bad.AddConstraint("oob", "size", []Term{{Var: 4, Coef: 1}}, LessEqual, 1)
	assert.ErrorIs(t, bad.Validate(), ErrInvalidModel)
}

func TestModel_AddConstraintMergesTerms(t *testing.T) {
	m := NewModel("merge")
	x := m.AddBinary("x", 1)
	y := m.AddBinary("y", 1)
	m.AddConstraint("c", "size", []Term{{x, 1}, {y, 2}, {x, 1}, {y, -2}}, LessEqual, 2)

	require.Len(t, m.Constraints, 1)
	assert.Equal(t, []Term{{Var: x, Coef: 2}}, m.Constraints[0].Terms)
}

func TestPropagator_FixesForcedVariables(t *testing.T) {
	m := NewModel("prop")
	a := m.AddBinary("a", 1)
	b := m.AddBinary("b", 1)
	c := m.AddBinary("c", 1)
	m.AddConstraint("all", "size", []Term{{a, 1}, {b, 1}, {c, 1}}, Equal, 3)

	fix := []int8{unfixed, unfixed, unfixed}
	require.Equal(t, -1, newPropagator(m).run(fix, nil))
	assert.Equal(t, []int8{fixed1, fixed1, fixed1}, fix)

	fix = []int8{fixed0, unfixed, unfixed}
	assert.Equal(t, 0, newPropagator(m).run(fix, nil))
}

func TestLPRelaxation_Knapsack(t *testing.T) {
	m := knapsackModel()
	lp := newLPRelaxation(m)
	free := []int8{unfixed, unfixed, unfixed, unfixed}

	root := lp.solve(context.Background(), free, nil, DefaultMaxLPIterations)
	require.Equal(t, lpOptimal, root.status)
	// Items 3 and 0 fill 8 of 10; the rest goes to 2/7 of item 1.
	assert.InDelta(t, 18+26.0/7, root.bound, 1e-9)
	assert.InDelta(t, 1.0, root.values[0], 1e-9)
	assert.InDelta(t, 2.0/7, root.values[1], 1e-9)
	assert.InDelta(t, 0.0, root.values[2], 1e-9)
	assert.InDelta(t, 1.0, root.values[3], 1e-9)

	child := []int8{unfixed, fixed0, unfixed, unfixed}
	warm := lp.solve(context.Background(), child, root.basis, DefaultMaxLPIterations)
	cold := lp.solve(context.Background(), child, nil, DefaultMaxLPIterations)
	require.Equal(t, lpOptimal, warm.status)
	require.Equal(t, lpOptimal, cold.status)
	assert.InDelta(t, 21.5, warm.bound, 1e-9)
	assert.InDelta(t, cold.bound, warm.bound, 1e-9)
}

func TestLPRelaxation_StopsEarlyWithValidBound(t *testing.T) {
	m := knapsackModel()
	lp := newLPRelaxation(m)
	free := []int8{unfixed, unfixed, unfixed, unfixed}

	capped := lp.solve(context.Background(), free, nil, 0)
	assert.Equal(t, lpStopped, capped.status)
	assert.GreaterOrEqual(t, capped.bound, 18+26.0/7-1e-9)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	stopped := lp.solve(ctx, free, nil, DefaultMaxLPIterations)
	assert.Equal(t, lpStopped, stopped.status)
	assert.GreaterOrEqual(t, stopped.bound, 18+26.0/7-1e-9)
}

func TestLPRelaxation_Infeasible(t *testing.T) {
	m := NewModel("over")
	x := m.AddBinary("x", 1)
	y := m.AddBinary("y", 1)
	m.AddConstraint("need", "size", []Term{{x, 1}, {y, 1}}, GreaterEqual, 2)
	lp := newLPRelaxation(m)

	res := lp.solve(context.Background(), []int8{fixed0, unfixed}, nil, DefaultMaxLPIterations)
	assert.Equal(t, lpInfeasible, res.status)
	assert.Equal(t, 0, res.row)
}
