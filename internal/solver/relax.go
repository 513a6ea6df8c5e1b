package solver

import (
	"context"
	"math"

	"gonum.org/v1/gonum/mat"
)

type lpStatus int

const (
	lpOptimal lpStatus = iota
	lpInfeasible
	// lpStopped means the pivot cap or ctx ended the solve early. The bound
	// is still a valid upper bound; values are not available.
	lpStopped
	lpUnavailable
)

const (
	primalTol     = 1e-7
	dualTol       = 1e-9
	pivotTol      = 1e-9
	refactorEvery = 64
	ctxCheckEvery = 16
	// Non-improving pivots before switching to smallest-index choices.
	blandAfter = 50
)

type lpEntry struct {
	row  int
	coef float64
}

// lpRelaxation is the LP over a model's non-lazy constraints, built once per
// search and solved at every node. Row i reads a·x + s_i = rhs_i. Each slack
// is boxed by the activity range of its row, so every column has finite
// bounds and any basis can be made dual feasible by moving nonbasic columns
// to the bound their reduced cost favours. That lets each node run the dual
// simplex from its parent's basis.
type lpRelaxation struct {
	rows    int
	cols    int
	column  [][]lpEntry
	rhs     []float64
	obj     []float64 // cols + rows entries, slacks are zero
	slackLo []float64
	slackHi []float64
	class   []string
}

// lpBasis is a warm start: the basic column of every row and, for nonbasic
// columns, whether they sit at their upper bound.
type lpBasis struct {
	basic []int
	upper []bool
}

type lpResult struct {
	status  lpStatus
	bound   float64
	values  []float64 // structural column values when optimal
	reduced []float64 // structural reduced costs when optimal
	basis   *lpBasis
	row     int // row proven infeasible, -1 when unknown
}

func newLPRelaxation(m *Model) *lpRelaxation {
	lp := &lpRelaxation{
		cols:   m.NumVariables(),
		column: make([][]lpEntry, m.NumVariables()),
	}
	for _, c := range m.Constraints {
		if c.Lazy || len(c.Terms) == 0 {
			continue
		}
		row := lp.rows
		lp.rows++

		minAct, maxAct := 0.0, 0.0
		for _, t := range c.Terms {
			lp.column[t.Var] = append(lp.column[t.Var], lpEntry{row: row, coef: t.Coef})
			if t.Coef < 0 {
				minAct += t.Coef
			} else {
				maxAct += t.Coef
			}
		}

		var lo, hi float64
		switch c.Sense {
		case LessEqual:
			hi = math.Max(0, c.RHS-minAct)
		case GreaterEqual:
			lo = math.Min(0, c.RHS-maxAct)
		}
		lp.rhs = append(lp.rhs, c.RHS)
		lp.slackLo = append(lp.slackLo, lo)
		lp.slackHi = append(lp.slackHi, hi)
		lp.class = append(lp.class, c.Class)
	}

	lp.obj = make([]float64, lp.cols+lp.rows)
	for j, v := range m.Variables {
		lp.obj[j] = v.Objective
	}
	return lp
}

// dot returns v·a_j.
func (lp *lpRelaxation) dot(v []float64, j int) float64 {
	if j >= lp.cols {
		return v[j-lp.cols]
	}
	total := 0.0
	for _, e := range lp.column[j] {
		total += v[e.row] * e.coef
	}
	return total
}

// axpy adds f·a_j to dst.
func (lp *lpRelaxation) axpy(dst []float64, j int, f float64) {
	if j >= lp.cols {
		dst[j-lp.cols] += f
		return
	}
	for _, e := range lp.column[j] {
		dst[e.row] += f * e.coef
	}
}

// factor inverts the basis matrix. It reports false when the basis is
// singular or too ill-conditioned to trust.
func (lp *lpRelaxation) factor(basic []int) ([]float64, bool) {
	m := lp.rows
	B := mat.NewDense(m, m, nil)
	for i, j := range basic {
		if j >= lp.cols {
			B.Set(j-lp.cols, i, 1)
			continue
		}
		for _, e := range lp.column[j] {
			B.Set(e.row, i, e.coef)
		}
	}
	var inv mat.Dense
	if err := inv.Inverse(B); err != nil {
		return nil, false
	}
	out := make([]float64, m*m)
	for r := 0; r < m; r++ {
		for c := 0; c < m; c++ {
			out[r*m+c] = inv.At(r, c)
		}
	}
	return out, true
}

func (lp *lpRelaxation) slackBasis() ([]int, []float64) {
	m := lp.rows
	basic := make([]int, m)
	binv := make([]float64, m*m)
	for i := range basic {
		basic[i] = lp.cols + i
		binv[i*m+i] = 1
	}
	return basic, binv
}

// solve maximizes the objective over the node's box, starting from start
// when given. It stops after maxPivots pivots or when ctx is done; the bound
// of a stopped solve is the dual objective, which never underestimates the
// LP optimum.
func (lp *lpRelaxation) solve(ctx context.Context, fix []int8, start *lpBasis, maxPivots int) lpResult {
	n, m := lp.cols, lp.rows
	total := n + m

	lo := make([]float64, total)
	hi := make([]float64, total)
	for j := 0; j < n; j++ {
		switch fix[j] {
		case fixed1:
			lo[j], hi[j] = 1, 1
		case unfixed:
			hi[j] = 1
		}
	}
	for i := 0; i < m; i++ {
		lo[n+i], hi[n+i] = lp.slackLo[i], lp.slackHi[i]
	}

	basic := make([]int, m)
	upper := make([]bool, total)
	var binv []float64
	if start != nil && len(start.basic) == m && len(start.upper) == total {
		copy(basic, start.basic)
		copy(upper, start.upper)
		if m > 0 {
			var ok bool
			if binv, ok = lp.factor(basic); !ok {
				basic, binv = lp.slackBasis()
			}
		}
	} else {
		basic, binv = lp.slackBasis()
	}

	isBasic := make([]bool, total)
	for _, j := range basic {
		isBasic[j] = true
	}

	value := func(j int) float64 {
		if upper[j] {
			return hi[j]
		}
		return lo[j]
	}

	y := make([]float64, m)
	d := make([]float64, total)
	beta := make([]float64, m)
	xB := make([]float64, m)
	w := make([]float64, m)

	lastObj := math.Inf(1)
	stall, pivots := 0, 0
	for iter := 0; ; iter++ {
		// Duals y = c_B B^-1, then reduced costs. Nonbasic columns move to
		// the bound their reduced cost favours, which keeps the basis dual
		// feasible.
		for k := range y {
			y[k] = 0
		}
		for i, j := range basic {
			cj := lp.obj[j]
			if cj == 0 {
				continue
			}
			row := binv[i*m : (i+1)*m]
			for k, v := range row {
				y[k] += cj * v
			}
		}
		for j := 0; j < total; j++ {
			if isBasic[j] {
				d[j] = 0
				continue
			}
			d[j] = lp.obj[j] - lp.dot(y, j)
			switch {
			case lo[j] == hi[j]:
				upper[j] = false
			case d[j] > dualTol:
				upper[j] = true
			case d[j] < -dualTol:
				upper[j] = false
			}
		}

		copy(beta, lp.rhs)
		for j := 0; j < total; j++ {
			if isBasic[j] {
				continue
			}
			if v := value(j); v != 0 {
				lp.axpy(beta, j, -v)
			}
		}
		for i := 0; i < m; i++ {
			row := binv[i*m : (i+1)*m]
			s := 0.0
			for k, v := range row {
				s += v * beta[k]
			}
			xB[i] = s
		}

		obj := 0.0
		for j := 0; j < n; j++ {
			if !isBasic[j] {
				obj += lp.obj[j] * value(j)
			}
		}
		for i, j := range basic {
			obj += lp.obj[j] * xB[i]
		}

		if obj < lastObj-1e-12*(1+math.Abs(obj)) {
			lastObj, stall = obj, 0
		} else {
			stall++
		}
		bland := stall >= blandAfter

		// Leaving row: the most violated basic bound.
		r, below, worst := -1, false, 0.0
		for i, j := range basic {
			tol := primalTol * (1 + math.Max(math.Abs(lo[j]), math.Abs(hi[j])))
			var viol float64
			var under bool
			switch {
			case xB[i] < lo[j]-tol:
				viol, under = lo[j]-xB[i], true
			case xB[i] > hi[j]+tol:
				viol, under = xB[i]-hi[j], false
			default:
				continue
			}
			if bland {
				if r < 0 || j < basic[r] {
					r, below, worst = i, under, viol
				}
				continue
			}
			if viol > worst {
				r, below, worst = i, under, viol
			}
		}

		if r < 0 {
			res := lpResult{
				status:  lpOptimal,
				bound:   obj,
				values:  make([]float64, n),
				reduced: append([]float64(nil), d[:n]...),
				basis: &lpBasis{
					basic: append([]int(nil), basic...),
					upper: append([]bool(nil), upper...),
				},
				row: -1,
			}
			for j := 0; j < n; j++ {
				if !isBasic[j] {
					res.values[j] = value(j)
				}
			}
			for i, j := range basic {
				if j < n {
					res.values[j] = math.Min(hi[j], math.Max(lo[j], xB[i]))
				}
			}
			return res
		}

		if pivots >= maxPivots || (iter%ctxCheckEvery == 0 && ctx.Err() != nil) {
			return lpResult{status: lpStopped, bound: obj, row: -1}
		}

		// Entering column: the dual ratio test over row r of B^-1 A. Below
		// its lower bound the leaving variable must rise, above its upper
		// bound it must fall.
		rho := binv[r*m : (r+1)*m]
		q, best, bestAlpha := -1, math.Inf(1), 0.0
		for j := 0; j < total; j++ {
			if isBasic[j] || lo[j] == hi[j] {
				continue
			}
			alpha := lp.dot(rho, j)
			if math.Abs(alpha) < pivotTol {
				continue
			}
			raises := (!upper[j] && alpha < 0) || (upper[j] && alpha > 0)
			if raises != below {
				continue
			}
			ratio := math.Abs(d[j]) / math.Abs(alpha)
			switch {
			case q < 0 || ratio < best-1e-12:
				q, best, bestAlpha = j, ratio, alpha
			case !bland && ratio <= best+1e-12 && math.Abs(alpha) > math.Abs(bestAlpha):
				q, best, bestAlpha = j, ratio, alpha
			}
		}
		if q < 0 {
			res := lpResult{status: lpInfeasible, row: -1}
			if basic[r] >= n {
				res.row = basic[r] - n
			}
			return res
		}

		for i := 0; i < m; i++ {
			w[i] = lp.dot(binv[i*m:(i+1)*m], q)
		}
		piv := w[r]
		pr := binv[r*m : (r+1)*m]
		for k := range pr {
			pr[k] /= piv
		}
		for i := 0; i < m; i++ {
			if i == r || w[i] == 0 {
				continue
			}
			f := w[i]
			ri := binv[i*m : (i+1)*m]
			for k := range ri {
				ri[k] -= f * pr[k]
			}
		}

		leaving := basic[r]
		isBasic[leaving] = false
		upper[leaving] = !below
		isBasic[q] = true
		upper[q] = false
		basic[r] = q

		pivots++
		if pivots%refactorEvery == 0 {
			inv, ok := lp.factor(basic)
			if !ok {
				return lpResult{status: lpUnavailable, row: -1}
			}
			binv = inv
		}
	}
}

func fixedObjective(m *Model, fix []int8) float64 {
	total := 0.0
	for v, s := range fix {
		if s == fixed1 {
			total += m.Variables[v].Objective
		}
	}
	return total
}

// weakBound assumes every free variable with a positive coefficient is set.
func weakBound(m *Model, fix []int8, free []int) float64 {
	total := fixedObjective(m, fix)
	for _, v := range free {
		if c := m.Variables[v].Objective; c > 0 {
			total += c
		}
	}
	return total
}
