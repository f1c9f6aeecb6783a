// Package cma implements the Covariance Matrix Adaptation Evolution Strategy.
//
// An Engine owns a multivariate Gaussian search distribution (mean, global
// step size, covariance) and adapts it from the ranking of sampled points.
// Lower scores are better. The engine does no I/O and has no notion of
// convergence; the caller decides when to stop.
//
// An Engine is not safe for concurrent use. Sample, Update, ExportState and
// ImportState must be serialized by the caller. Distinct engines are independent.
package cma

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/cwbudde/cmaes/internal/linalg"
)

// hSigThreshold is the published stall threshold factor for the rank-one update.
const hSigThreshold = 1.4

// Engine is a CMA-ES instance for a fixed dimension.
type Engine struct {
	backend linalg.Backend
	cfg     Config
	params  Params

	mean      *mat.VecDense
	sigma     float64
	pathC     *mat.VecDense
	pathSigma *mat.VecDense

	// Spectral factors of covariance, refreshed every SamplesPerEig evaluations.
	basis             *mat.Dense
	eigVals           []float64 // square roots of the covariance eigenvalues
	covariance        *mat.SymDense
	covarianceInvSqrt *mat.Dense

	evalCount          int
	evalCountAtLastEig int
}

// New creates an engine centred on initialMean. The dimension is len(initialMean).
func New(cfg Config, initialMean []float64, backend linalg.Backend) (*Engine, error) {
	params, err := DeriveParams(cfg, len(initialMean))
	if err != nil {
		return nil, err
	}
	if backend == nil {
		return nil, &ConfigError{Field: "Backend", Reason: "cannot be nil"}
	}
	for i, v := range initialMean {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, &ConfigError{Field: "InitialMean", Reason: fmt.Sprintf("entry %d is not finite", i)}
		}
	}

	n := params.Dim
	mean := mat.NewVecDense(n, nil)
	mean.CopyVec(mat.NewVecDense(n, initialMean))

	eigVals := make([]float64, n)
	for i := range eigVals {
		eigVals[i] = 1
	}
	basis := identity(n)

	return &Engine{
		backend:            backend,
		cfg:                cfg,
		params:             params,
		mean:               mean,
		sigma:              cfg.StepSize,
		pathC:              mat.NewVecDense(n, nil),
		pathSigma:          mat.NewVecDense(n, nil),
		basis:              basis,
		eigVals:            eigVals,
		covariance:         spectralSym(basis, squares(eigVals)),
		covarianceInvSqrt:  spectral(basis, reciprocals(eigVals)),
		evalCount:          0,
		evalCountAtLastEig: 0,
	}, nil
}

// Sample draws Population candidates as rows of a [λ×N] matrix:
// mean + σ·B·(D⊙z) with z ~ N(0,I). The engine state is not modified.
func (e *Engine) Sample() *mat.Dense {
	lambda, n := e.params.Population, e.params.Dim

	z := e.backend.NormalMatrix(lambda, n)

	// Row k of z·D·Bᵀ equals B·(D⊙z_k).
	var scaled mat.Dense
	scaled.Mul(z, mat.NewDiagDense(n, append([]float64(nil), e.eigVals...)))
	var steps mat.Dense
	steps.Mul(&scaled, e.basis.T())

	out := mat.NewDense(lambda, n, nil)
	for k := 0; k < lambda; k++ {
		for j := 0; j < n; j++ {
			out.Set(k, j, e.mean.AtVec(j)+e.sigma*steps.At(k, j))
		}
	}
	return out
}

// Update adapts the distribution from one evaluated generation. samples must
// be [λ×N] and scores must have λ entries; lower scores are better.
//
// All intermediate results are buffered and the state is committed only once
// every step has succeeded. On error the engine is unchanged.
func (e *Engine) Update(samples mat.Matrix, scores []float64) error {
	p := e.params
	lambda, n, mu := p.Population, p.Dim, p.RecombinationCount

	rows, cols := samples.Dims()
	if rows != lambda || cols != n {
		return &ShapeError{Field: "samples", Want: []int{lambda, n}, Got: []int{rows, cols}}
	}
	if len(scores) != rows {
		return &ShapeError{Field: "scores", Want: []int{rows}, Got: []int{len(scores)}}
	}

	evalCount := e.evalCount + lambda
	selected := rankAscending(scores)[:mu]

	// Recombination: mean_new = mean_old + Σ wᵢ(xᵢ − mean_old).
	oldMean := e.mean
	sigma := e.sigma
	steps := make([]*mat.VecDense, mu)
	shift := mat.NewVecDense(n, nil)
	for k, idx := range selected {
		d := mat.NewVecDense(n, nil)
		for j := 0; j < n; j++ {
			diff := samples.At(idx, j) - oldMean.AtVec(j)
			shift.SetVec(j, shift.AtVec(j)+p.Weights[k]*diff)
			d.SetVec(j, diff/sigma)
		}
		steps[k] = d
	}
	mean := mat.NewVecDense(n, nil)
	mean.AddVec(oldMean, shift)

	// y = (mean_new − mean_old)/σ
	y := mat.NewVecDense(n, nil)
	y.SubVec(mean, oldMean)
	y.ScaleVec(1/sigma, y)

	cs := p.TimeConstantSigma
	var whitened mat.VecDense
	whitened.MulVec(e.covarianceInvSqrt, y)
	pathSigma := mat.NewVecDense(n, nil)
	pathSigma.ScaleVec(1-cs, e.pathSigma)
	pathSigma.AddScaledVec(pathSigma, math.Sqrt(cs*(2-cs)*p.VarianceEffectiveness), &whitened)
	pathSigmaNorm := mat.Norm(pathSigma, 2)

	hSig := 0.0
	correction := math.Sqrt(1 - math.Pow(1-cs, 2*float64(evalCount)/float64(lambda)))
	if pathSigmaNorm/correction/p.ExpectedNorm < hSigThreshold+2/float64(n+1) {
		hSig = 1
	}

	cc := p.TimeConstantC
	pathC := mat.NewVecDense(n, nil)
	pathC.ScaleVec(1-cc, e.pathC)
	pathC.AddScaledVec(pathC, hSig*math.Sqrt(cc*(2-cc)*p.VarianceEffectiveness), y)

	c1, cmu := p.LRRank1, p.LRRankRecombination
	retained := 1 - c1 - cmu + c1*(1-hSig)*cc*(2-cc)
	covariance := mat.NewSymDense(n, nil)
	covariance.ScaleSym(retained, e.covariance)
	covariance.SymRankOne(covariance, c1, pathC)
	for k, d := range steps {
		covariance.SymRankOne(covariance, cmu*p.Weights[k], d)
	}

	newSigma := sigma * math.Exp((cs/p.SigmaDamping)*(pathSigmaNorm/p.ExpectedNorm-1))
	if math.IsNaN(newSigma) || math.IsInf(newSigma, 0) || newSigma <= 0 {
		return fmt.Errorf("%w: step size became %v", ErrNumeric, newSigma)
	}

	basis, eigVals, invSqrt := e.basis, e.eigVals, e.covarianceInvSqrt
	lastEig := e.evalCountAtLastEig
	if float64(evalCount-lastEig) > p.SamplesPerEig {
		refreshed, err := e.refresh(covariance)
		if err != nil {
			return err
		}
		lastEig = evalCount
		covariance = refreshed.covariance
		basis, eigVals, invSqrt = refreshed.basis, refreshed.eigVals, refreshed.invSqrt
	}

	e.evalCount = evalCount
	e.mean = mean
	e.pathSigma = pathSigma
	e.pathC = pathC
	e.covariance = covariance
	e.sigma = newSigma
	e.evalCountAtLastEig = lastEig
	e.basis = basis
	e.eigVals = eigVals
	e.covarianceInvSqrt = invSqrt
	return nil
}

type spectralFactors struct {
	covariance *mat.SymDense
	basis      *mat.Dense
	eigVals    []float64
	invSqrt    *mat.Dense
}

// refresh decomposes covariance and rebuilds it from its factors, which only
// removes floating-point asymmetry.
func (e *Engine) refresh(covariance *mat.SymDense) (*spectralFactors, error) {
	u, s, err := e.backend.SymSVD(covariance)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNumeric, err)
	}

	eigVals := make([]float64, len(s))
	for i, v := range s {
		eigVals[i] = math.Sqrt(v)
		if !(eigVals[i] > 0) || math.IsInf(eigVals[i], 0) {
			return nil, fmt.Errorf("%w: covariance eigenvalue %d is %v", ErrNumeric, i, v)
		}
	}

	return &spectralFactors{
		covariance: spectralSym(u, s),
		basis:      u,
		eigVals:    eigVals,
		invSqrt:    spectral(u, reciprocals(eigVals)),
	}, nil
}

// Dim returns the problem dimension N.
func (e *Engine) Dim() int { return e.params.Dim }

// Population returns λ.
func (e *Engine) Population() int { return e.params.Population }

// Config returns the config the engine was built from.
func (e *Engine) Config() Config { return e.cfg }

// Params returns a copy of the derived hyperparameters.
func (e *Engine) Params() Params {
	p := e.params
	p.Weights = append([]float64(nil), e.params.Weights...)
	return p
}

// Mean returns a copy of the current distribution mean.
func (e *Engine) Mean() []float64 {
	return append([]float64(nil), e.mean.RawVector().Data...)
}

// Sigma returns the current global step size.
func (e *Engine) Sigma() float64 { return e.sigma }

// EvalCount returns the number of samples evaluated so far.
func (e *Engine) EvalCount() int { return e.evalCount }

// Covariance returns a copy of the current covariance matrix.
func (e *Engine) Covariance() *mat.SymDense {
	c := mat.NewSymDense(e.params.Dim, nil)
	c.CopySym(e.covariance)
	return c
}

// EigenValues returns a copy of the square roots of the covariance eigenvalues
// as of the last spectral refresh.
func (e *Engine) EigenValues() []float64 {
	return append([]float64(nil), e.eigVals...)
}

// CovarianceCondition is the ratio of the largest to the smallest covariance
// eigenvalue as of the last spectral refresh.
func (e *Engine) CovarianceCondition() float64 {
	lo, hi := e.eigVals[0], e.eigVals[0]
	for _, v := range e.eigVals[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	r := hi / lo
	return r * r
}

// rankAscending returns sample indices ordered by score, best first.
// Non-finite scores rank last; ties keep their input order.
func rankAscending(scores []float64) []int {
	idx := make([]int, len(scores))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		sa, sb := scores[idx[a]], scores[idx[b]]
		if math.IsNaN(sb) {
			return !math.IsNaN(sa)
		}
		return sa < sb
	})
	return idx
}

func identity(n int) *mat.Dense {
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return m
}

// spectral returns U·diag(d)·Uᵀ.
func spectral(u mat.Matrix, d []float64) *mat.Dense {
	n := len(d)
	var ud mat.Dense
	ud.Mul(u, mat.NewDiagDense(n, append([]float64(nil), d...)))
	out := mat.NewDense(n, n, nil)
	out.Mul(&ud, u.T())
	return out
}

// spectralSym is spectral with the result stored symmetrically.
func spectralSym(u mat.Matrix, d []float64) *mat.SymDense {
	return symmetrize(spectral(u, d))
}

func symmetrize(a *mat.Dense) *mat.SymDense {
	n, _ := a.Dims()
	s := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			s.SetSym(i, j, 0.5*(a.At(i, j)+a.At(j, i)))
		}
	}
	return s
}

func squares(v []float64) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = x * x
	}
	return out
}

func reciprocals(v []float64) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = 1 / x
	}
	return out
}
