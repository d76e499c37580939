package opt

import (
	"fmt"
	"log/slog"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

const (
	// maxResampleRounds bounds the rejection sampling in Ask. Rows still out
	// of bounds afterwards are clamped.
	maxResampleRounds = 100

	minEigenvalue      = 1e-20
	maxConditionNumber = 1e14
	minArea            = 1e-11
	flatTolerance      = 1e-12
)

// CMAESParams configures a CMAES optimizer.
type CMAESParams struct {
	Sigma0      float64
	BatchSize   int // 0 selects 4 + floor(3 ln n)
	SolutionDim int
	WeightRule  WeightRule
	Seed        int64
}

// CMAES is a covariance matrix adaptation evolution strategy whose parent
// count is chosen by the caller on every Tell.
type CMAES struct {
	n          int
	batchSize  int
	sigma0     float64
	weightRule WeightRule
	rng        *rand.Rand

	mean  []float64
	sigma float64
	pc    []float64
	ps    []float64
	cov   *mat.SymDense

	// Eigensystem of cov, refreshed lazily in Ask.
	eigenvalues  []float64
	eigenbasis   *mat.Dense
	invsqrt      *mat.Dense
	lazyGapEvals float64
	eigenEval    int

	currentEval int
}

// DefaultBatchSize returns the standard CMA-ES population size for dim.
func DefaultBatchSize(dim int) int {
	return 4 + int(math.Floor(3*math.Log(float64(dim))))
}

// NewCMAES validates params and returns an optimizer centred at the origin.
// Call Reset to choose the initial mean.
func NewCMAES(p CMAESParams) (*CMAES, error) {
	if p.SolutionDim <= 0 {
		return nil, &ConfigError{Field: "solution_dim", Value: fmt.Sprint(p.SolutionDim), Reason: "must be positive"}
	}
	if !(p.Sigma0 > 0) || math.IsInf(p.Sigma0, 0) {
		return nil, &ConfigError{Field: "sigma0", Value: fmt.Sprint(p.Sigma0), Reason: "must be a positive finite number"}
	}
	if p.BatchSize < 0 {
		return nil, &ConfigError{Field: "batch_size", Value: fmt.Sprint(p.BatchSize), Reason: "cannot be negative"}
	}
	if _, err := ParseWeightRule(string(p.WeightRule)); err != nil {
		return nil, err
	}

	batchSize := p.BatchSize
	if batchSize == 0 {
		batchSize = DefaultBatchSize(p.SolutionDim)
	}

	c := &CMAES{
		n:          p.SolutionDim,
		batchSize:  batchSize,
		sigma0:     p.Sigma0,
		weightRule: p.WeightRule,
		rng:        rand.New(rand.NewSource(p.Seed)),
	}

	mu := max(1, batchSize/2)
	_, mueff := truncationWeights(mu)
	_, _, c1, cmu := c.strategyParams(mueff)
	c.lazyGapEvals = 0.5 * float64(c.n) * float64(batchSize) / (c1 + cmu) / float64(c.n*c.n)

	c.Reset(make([]float64, c.n))
	return c, nil
}

// BatchSize returns the number of solutions produced by Ask.
func (c *CMAES) BatchSize() int {
	return c.batchSize
}

// Mean returns a copy of the current distribution mean.
func (c *CMAES) Mean() []float64 {
	return append([]float64(nil), c.mean...)
}

// Sigma returns the current step size.
func (c *CMAES) Sigma() float64 {
	return c.sigma
}

// ConditionNumber returns the ratio of the largest to the smallest
// eigenvalue of the covariance matrix as of the last decomposition.
func (c *CMAES) ConditionNumber() float64 {
	lo, hi := minMax(c.eigenvalues)
	return hi / lo
}

// Reset restarts the search around mean.
func (c *CMAES) Reset(mean []float64) {
	c.mean = append(c.mean[:0], mean...)
	c.sigma = c.sigma0
	c.pc = make([]float64, c.n)
	c.ps = make([]float64, c.n)

	c.cov = mat.NewSymDense(c.n, nil)
	for i := 0; i < c.n; i++ {
		c.cov.SetSym(i, i, 1)
	}
	c.currentEval = 0
	c.updateEigensystem(true)
}

// Ask samples a batch from N(mean, sigma^2 C). Rows violating a finite bound
// are resampled, then clamped if they still violate it.
func (c *CMAES) Ask(lower, upper []float64) [][]float64 {
	c.updateEigensystem(false)

	solutions := make([][]float64, c.batchSize)
	for i := range solutions {
		solutions[i] = make([]float64, c.n)
	}

	remaining := make([]int, c.batchSize)
	for i := range remaining {
		remaining[i] = i
	}
	for round := 0; round < maxResampleRounds && len(remaining) > 0; round++ {
		var next []int
		for _, i := range remaining {
			c.sample(solutions[i])
			if !inBounds(solutions[i], lower, upper) {
				next = append(next, i)
			}
		}
		remaining = next
	}
	for _, i := range remaining {
		clampInto(solutions[i], lower, upper)
	}
	if len(remaining) > 0 {
		slog.Debug("Clamped solutions after resampling", "count", len(remaining))
	}

	return solutions
}

// sample draws one solution into dst.
func (c *CMAES) sample(dst []float64) {
	z := mat.NewVecDense(c.n, nil)
	for j := 0; j < c.n; j++ {
		z.SetVec(j, c.rng.NormFloat64()*math.Sqrt(c.eigenvalues[j]))
	}
	var y mat.VecDense
	y.MulVec(c.eigenbasis, z)
	for j := 0; j < c.n; j++ {
		dst[j] = c.mean[j] + c.sigma*y.AtVec(j)
	}
}

// Tell recombines the first numParents rows of ranked into a new mean and
// adapts the paths, covariance and step size.
func (c *CMAES) Tell(ranked [][]float64, numParents int) {
	c.currentEval += len(ranked)
	if numParents <= 0 {
		return
	}
	numParents = min(numParents, len(ranked))

	weights, mueff := truncationWeights(numParents)
	cc, cs, c1, cmu := c.strategyParams(mueff)
	n := float64(c.n)
	damps := 1 + 2*math.Max(0, math.Sqrt((mueff-1)/(n+1))-1) + cs

	oldMean := append([]float64(nil), c.mean...)
	for j := range c.mean {
		c.mean[j] = 0
	}
	for i, w := range weights {
		for j, x := range ranked[i] {
			c.mean[j] += w * x
		}
	}

	yw := make([]float64, c.n)
	for j := range yw {
		yw[j] = (c.mean[j] - oldMean[j]) / c.sigma
	}
	var z mat.VecDense
	z.MulVec(c.invsqrt, mat.NewVecDense(c.n, yw))

	psCoef := math.Sqrt(cs * (2 - cs) * mueff)
	for j := range c.ps {
		c.ps[j] = (1-cs)*c.ps[j] + psCoef*z.AtVec(j)
	}
	psNorm2 := dot(c.ps, c.ps)

	left := psNorm2 / n / (1 - math.Pow(1-cs, 2*float64(c.currentEval)/float64(c.batchSize)))
	hsig := 0.0
	if left < 2+4/(n+1) {
		hsig = 1
	}

	pcCoef := hsig * math.Sqrt(cc*(2-cc)*mueff)
	for j := range c.pc {
		c.pc[j] = (1-cc)*c.pc[j] + pcCoef*yw[j]
	}

	// Rank-mu terms: positive for parents, negative for the rest when active.
	type term struct {
		w float64
		y []float64
	}
	terms := make([]term, 0, len(ranked))
	weightSum := 0.0
	for i, w := range weights {
		terms = append(terms, term{w: w, y: c.deviation(ranked[i], oldMean)})
		weightSum += w
	}
	if c.weightRule == WeightActive && cmu > 0 && numParents < len(ranked) {
		neg := activeWeights(numParents, len(ranked), mueff, n, c1, cmu)
		for k, w := range neg {
			y := c.deviation(ranked[numParents+k], oldMean)
			var cy mat.VecDense
			cy.MulVec(c.invsqrt, mat.NewVecDense(c.n, y))
			weightSum += w
			norm2 := dot(cy.RawVector().Data, cy.RawVector().Data)
			if norm2 > 0 {
				w *= n / norm2
			}
			terms = append(terms, term{w: w, y: y})
		}
	}

	c1a := c1 * (1 - (1-hsig*hsig)*cc*(2-cc))
	c.cov.ScaleSym(1-c1a-cmu*weightSum, c.cov)
	c.cov.SymRankOne(c.cov, c1, mat.NewVecDense(c.n, c.pc))
	for _, t := range terms {
		c.cov.SymRankOne(c.cov, cmu*t.w, mat.NewVecDense(c.n, t.y))
	}

	chiN := math.Sqrt(n) * (1 - 1/(4*n) + 1/(21*n*n))
	c.sigma *= math.Exp(math.Min(1, (cs/damps)*(math.Sqrt(psNorm2)/chiN-1)))
}

// CheckStop applies the standard CMA-ES termination tolerances. The flat
// value check ignores order, so values may be in any order.
func (c *CMAES) CheckStop(rankingValues []float64) bool {
	if c.ConditionNumber() > maxConditionNumber {
		return true
	}
	_, hi := minMax(c.eigenvalues)
	if c.sigma*math.Sqrt(hi) < minArea {
		return true
	}
	if len(rankingValues) >= 2 {
		lo, hi := minMax(rankingValues)
		if hi-lo < flatTolerance {
			return true
		}
	}
	return false
}

func (c *CMAES) deviation(x, oldMean []float64) []float64 {
	y := make([]float64, c.n)
	for j := range y {
		y[j] = (x[j] - oldMean[j]) / c.sigma
	}
	return y
}

func (c *CMAES) strategyParams(mueff float64) (cc, cs, c1, cmu float64) {
	n := float64(c.n)
	cc = (4 + mueff/n) / (n + 4 + 2*mueff/n)
	cs = (mueff + 2) / (n + mueff + 5)
	c1 = 2 / ((n+1.3)*(n+1.3) + mueff)
	cmu = math.Min(1-c1, 2*(mueff-2+1/mueff)/((n+2)*(n+2)+mueff))
	return cc, cs, c1, cmu
}

func (c *CMAES) updateEigensystem(force bool) {
	if !force && float64(c.currentEval-c.eigenEval) < c.lazyGapEvals {
		return
	}

	var es mat.EigenSym
	if ok := es.Factorize(c.cov, true); !ok {
		slog.Warn("Covariance eigendecomposition failed, keeping previous basis")
		return
	}
	values := es.Values(nil)
	for i, v := range values {
		if v < minEigenvalue {
			values[i] = minEigenvalue
		}
	}
	var basis mat.Dense
	es.VectorsTo(&basis)

	scaled := mat.DenseCopyOf(&basis)
	for j, v := range values {
		for i := 0; i < c.n; i++ {
			scaled.Set(i, j, scaled.At(i, j)/math.Sqrt(v))
		}
	}
	var invsqrt mat.Dense
	invsqrt.Mul(scaled, basis.T())

	c.eigenvalues = values
	c.eigenbasis = &basis
	c.invsqrt = &invsqrt
	c.eigenEval = c.currentEval
}

// truncationWeights returns normalised log weights for mu parents and the
// variance effective selection mass.
func truncationWeights(mu int) ([]float64, float64) {
	weights := make([]float64, mu)
	sum := 0.0
	for i := range weights {
		weights[i] = math.Log(float64(mu)+0.5) - math.Log(float64(i+1))
		sum += weights[i]
	}
	sq := 0.0
	for i := range weights {
		weights[i] /= sum
		sq += weights[i] * weights[i]
	}
	return weights, 1 / sq
}

// activeWeights returns the negative weights for ranks mu+1..lambda.
func activeWeights(mu, lambda int, mueff, n, c1, cmu float64) []float64 {
	raw := make([]float64, lambda-mu)
	sum, sq := 0.0, 0.0
	for k := range raw {
		raw[k] = math.Log(float64(mu)+0.5) - math.Log(float64(mu+k+1))
		sum += raw[k]
		sq += raw[k] * raw[k]
	}
	if sum == 0 {
		return raw
	}
	mueffMinus := sum * sum / sq
	alpha := math.Min(1+c1/cmu, 1+2*mueffMinus/(mueff+2))
	alpha = math.Min(alpha, (1-c1-cmu)/(n*cmu))
	scale := alpha / math.Abs(sum)
	for k := range raw {
		raw[k] *= scale
	}
	return raw
}

func inBounds(x, lower, upper []float64) bool {
	for j, v := range x {
		if j < len(lower) && v < lower[j] {
			return false
		}
		if j < len(upper) && v > upper[j] {
			return false
		}
	}
	return true
}

func clampInto(x, lower, upper []float64) {
	for j := range x {
		if j < len(lower) && x[j] < lower[j] {
			x[j] = lower[j]
		}
		if j < len(upper) && x[j] > upper[j] {
			x[j] = upper[j]
		}
	}
}

func dot(a, b []float64) float64 {
	s := 0.0
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

func minMax(xs []float64) (float64, float64) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, x := range xs {
		lo = math.Min(lo, x)
		hi = math.Max(hi, x)
	}
	return lo, hi
}
