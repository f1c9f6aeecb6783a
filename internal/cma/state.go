package cma

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/cwbudde/cmaes/internal/linalg"
)

// symmetryTolerance bounds |Cᵢⱼ − Cⱼᵢ| relative to the entry magnitude on import.
const symmetryTolerance = 1e-9

// State is a snapshot of every evolving field of an Engine.
// Tensor fields are opaque payloads produced by the engine's backend.
type State struct {
	Mean               linalg.TensorState `json:"mean"`
	Sigma              float64            `json:"sigma"`
	PathC              linalg.TensorState `json:"pathC"`
	PathSigma          linalg.TensorState `json:"pathSigma"`
	Basis              linalg.TensorState `json:"basis"`
	EigVals            linalg.TensorState `json:"eigVals"`
	Covariance         linalg.TensorState `json:"covariance"`
	CovarianceInvSqrt  linalg.TensorState `json:"covarianceInvSqrt"`
	EvalCount          int                `json:"evalCount"`
	EvalCountAtLastEig int                `json:"evalCountAtLastEig"`
}

// ExportState serializes the current state.
func (e *Engine) ExportState() (State, error) {
	b := e.backend
	var (
		st  State
		err error
	)

	if st.Mean, err = b.EncodeVector(e.mean); err != nil {
		return State{}, fmt.Errorf("failed to export mean: %w", err)
	}
	if st.PathC, err = b.EncodeVector(e.pathC); err != nil {
		return State{}, fmt.Errorf("failed to export pathC: %w", err)
	}
	if st.PathSigma, err = b.EncodeVector(e.pathSigma); err != nil {
		return State{}, fmt.Errorf("failed to export pathSigma: %w", err)
	}
	if st.Basis, err = b.EncodeMatrix(e.basis); err != nil {
		return State{}, fmt.Errorf("failed to export basis: %w", err)
	}
	if st.EigVals, err = b.EncodeVector(mat.NewVecDense(len(e.eigVals), append([]float64(nil), e.eigVals...))); err != nil {
		return State{}, fmt.Errorf("failed to export eigVals: %w", err)
	}
	if st.Covariance, err = b.EncodeMatrix(e.covariance); err != nil {
		return State{}, fmt.Errorf("failed to export covariance: %w", err)
	}
	if st.CovarianceInvSqrt, err = b.EncodeMatrix(e.covarianceInvSqrt); err != nil {
		return State{}, fmt.Errorf("failed to export covarianceInvSqrt: %w", err)
	}

	st.Sigma = e.sigma
	st.EvalCount = e.evalCount
	st.EvalCountAtLastEig = e.evalCountAtLastEig
	return st, nil
}

// ImportState replaces the evolving state with st. Every field is decoded and
// validated against the engine's dimension before anything is committed, so
// on error the engine is unchanged.
func (e *Engine) ImportState(st State) error {
	n := e.params.Dim

	mean, err := e.decodeVector("mean", st.Mean, n)
	if err != nil {
		return err
	}
	pathC, err := e.decodeVector("pathC", st.PathC, n)
	if err != nil {
		return err
	}
	pathSigma, err := e.decodeVector("pathSigma", st.PathSigma, n)
	if err != nil {
		return err
	}
	eigVec, err := e.decodeVector("eigVals", st.EigVals, n)
	if err != nil {
		return err
	}
	basis, err := e.decodeMatrix("basis", st.Basis, n)
	if err != nil {
		return err
	}
	covDense, err := e.decodeMatrix("covariance", st.Covariance, n)
	if err != nil {
		return err
	}
	invSqrt, err := e.decodeMatrix("covarianceInvSqrt", st.CovarianceInvSqrt, n)
	if err != nil {
		return err
	}

	eigVals := make([]float64, n)
	for i := range eigVals {
		v := eigVec.AtVec(i)
		if !(v > 0) || math.IsInf(v, 0) {
			return &DeserializeError{Field: "eigVals", Err: fmt.Errorf("entry %d is %v, want positive", i, v)}
		}
		eigVals[i] = v
	}

	covariance := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			a, b := covDense.At(i, j), covDense.At(j, i)
			if math.Abs(a-b) > symmetryTolerance*math.Max(1, math.Max(math.Abs(a), math.Abs(b))) {
				return &DeserializeError{Field: "covariance", Err: fmt.Errorf("not symmetric at (%d,%d)", i, j)}
			}
			covariance.SetSym(i, j, a)
		}
	}

	if math.IsNaN(st.Sigma) || math.IsInf(st.Sigma, 0) || st.Sigma <= 0 {
		return &DeserializeError{Field: "sigma", Err: fmt.Errorf("got %v, want positive", st.Sigma)}
	}
	if st.EvalCount < 0 || st.EvalCountAtLastEig < 0 || st.EvalCountAtLastEig > st.EvalCount {
		return &DeserializeError{
			Field: "evalCountAtLastEig",
			Err:   fmt.Errorf("counters %d/%d out of order", st.EvalCountAtLastEig, st.EvalCount),
		}
	}

	e.mean = mean
	e.sigma = st.Sigma
	e.pathC = pathC
	e.pathSigma = pathSigma
	e.basis = basis
	e.eigVals = eigVals
	e.covariance = covariance
	e.covarianceInvSqrt = invSqrt
	e.evalCount = st.EvalCount
	e.evalCountAtLastEig = st.EvalCountAtLastEig
	return nil
}

func (e *Engine) decodeVector(field string, payload linalg.TensorState, n int) (*mat.VecDense, error) {
	v, err := e.backend.DecodeVector(payload)
	if err != nil {
		return nil, &DeserializeError{Field: field, Err: err}
	}
	if v.Len() != n {
		return nil, &DeserializeError{Field: field, Err: fmt.Errorf("length %d, want %d", v.Len(), n)}
	}
	return v, nil
}

func (e *Engine) decodeMatrix(field string, payload linalg.TensorState, n int) (*mat.Dense, error) {
	m, err := e.backend.DecodeMatrix(payload)
	if err != nil {
		return nil, &DeserializeError{Field: field, Err: err}
	}
	if r, c := m.Dims(); r != n || c != n {
		return nil, &DeserializeError{Field: field, Err: fmt.Errorf("shape [%d %d], want [%d %d]", r, c, n, n)}
	}
	return m, nil
}
