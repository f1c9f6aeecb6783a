package cma

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/cwbudde/cmaes/internal/linalg"
)

func TestState_RoundTrip(t *testing.T) {
	src := newEngine(t, DefaultConfig(), []float64{0, 0}, 4)
	for i := 0; i < 12; i++ {
		step(t, src, rosenbrock)
	}

	st, err := src.ExportState()
	require.NoError(t, err)

	// Persist through JSON the way checkpoints do.
	data, err := json.Marshal(st)
	require.NoError(t, err)
	var decoded State
	require.NoError(t, json.Unmarshal(data, &decoded))

	dst := newEngine(t, DefaultConfig(), []float64{7, 7}, 99)
	require.NoError(t, dst.ImportState(decoded))

	assert.Equal(t, src.Mean(), dst.Mean())
	assert.Equal(t, src.Sigma(), dst.Sigma())
	assert.True(t, mat.Equal(src.Covariance(), dst.Covariance()))
	assert.Equal(t, src.EigenValues(), dst.EigenValues())
	assert.True(t, mat.Equal(src.basis, dst.basis))
	assert.True(t, mat.Equal(src.covarianceInvSqrt, dst.covarianceInvSqrt))
	assert.True(t, mat.Equal(src.pathC, dst.pathC))
	assert.True(t, mat.Equal(src.pathSigma, dst.pathSigma))
	assert.Equal(t, src.EvalCount(), dst.EvalCount())
	assert.Equal(t, src.evalCountAtLastEig, dst.evalCountAtLastEig)

	again, err := dst.ExportState()
	require.NoError(t, err)
	assert.Equal(t, st, again)
}

func TestState_ImportedEngineContinuesIdentically(t *testing.T) {
	z := linalg.NewGonum(17).NormalMatrix(6, 2)
	a, err := New(DefaultConfig(), []float64{0, 0}, &fixedNoise{Gonum: linalg.NewGonum(1), z: z})
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		step(t, a, rosenbrock)
	}

	st, err := a.ExportState()
	require.NoError(t, err)
	b, err := New(DefaultConfig(), []float64{0, 0}, &fixedNoise{Gonum: linalg.NewGonum(2), z: z})
	require.NoError(t, err)
	require.NoError(t, b.ImportState(st))

	for i := 0; i < 5; i++ {
		step(t, a, rosenbrock)
		step(t, b, rosenbrock)
	}
	assert.Equal(t, a.Mean(), b.Mean())
	assert.Equal(t, a.Sigma(), b.Sigma())
}

func TestState_ImportRejectsCorruptField(t *testing.T) {
	src := newEngine(t, DefaultConfig(), []float64{0, 0}, 4)
	step(t, src, rosenbrock)
	good, err := src.ExportState()
	require.NoError(t, err)

	other := newEngine(t, DefaultConfig(), []float64{0, 0, 0}, 4)
	threeDim, err := other.ExportState()
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*State)
		field  string
	}{
		{"garbage mean", func(s *State) { s.Mean = linalg.TensorState("garbage") }, "mean"},
		{"empty basis", func(s *State) { s.Basis = nil }, "basis"},
		{"truncated covariance", func(s *State) { s.Covariance = s.Covariance[:len(s.Covariance)-3] }, "covariance"},
		{"wrong dimension path", func(s *State) { s.PathC = threeDim.PathC }, "pathC"},
		{"wrong dimension inverse", func(s *State) { s.CovarianceInvSqrt = threeDim.CovarianceInvSqrt }, "covarianceInvSqrt"},
		{"non-positive sigma", func(s *State) { s.Sigma = 0 }, "sigma"},
		{"counters out of order", func(s *State) { s.EvalCountAtLastEig = s.EvalCount + 1 }, "evalCountAtLastEig"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dst := newEngine(t, DefaultConfig(), []float64{3, 4}, 8)
			before, err := dst.ExportState()
			require.NoError(t, err)

			bad := good
			tt.mutate(&bad)

			err = dst.ImportState(bad)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrDeserialize))

			var desErr *DeserializeError
			require.True(t, errors.As(err, &desErr))
			assert.Equal(t, tt.field, desErr.Field)

			after, err := dst.ExportState()
			require.NoError(t, err)
			assert.Equal(t, before, after, "failed import must not touch the engine")
		})
	}
}

func TestState_ImportRejectsNonPositiveEigVals(t *testing.T) {
	g := linalg.NewGonum(1)
	src := newEngine(t, DefaultConfig(), []float64{0, 0}, 4)
	st, err := src.ExportState()
	require.NoError(t, err)

	st.EigVals, err = g.EncodeVector(mat.NewVecDense(2, []float64{1, 0}))
	require.NoError(t, err)

	err = src.ImportState(st)
	assert.True(t, errors.Is(err, ErrDeserialize))
}

func TestState_ImportRejectsAsymmetricCovariance(t *testing.T) {
	g := linalg.NewGonum(1)
	src := newEngine(t, DefaultConfig(), []float64{0, 0}, 4)
	st, err := src.ExportState()
	require.NoError(t, err)

	st.Covariance, err = g.EncodeMatrix(mat.NewDense(2, 2, []float64{1, 0.5, 0.1, 1}))
	require.NoError(t, err)

	err = src.ImportState(st)
	var desErr *DeserializeError
	require.True(t, errors.As(err, &desErr))
	assert.Equal(t, "covariance", desErr.Field)
}
