package linalg

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestNormalMatrix_Deterministic(t *testing.T) {
	a := NewGonum(7).NormalMatrix(4, 3)
	b := NewGonum(7).NormalMatrix(4, 3)

	r, c := a.Dims()
	assert.Equal(t, 4, r)
	assert.Equal(t, 3, c)
	assert.True(t, mat.Equal(a, b), "same seed must give identical draws")

	other := NewGonum(8).NormalMatrix(4, 3)
	assert.False(t, mat.Equal(a, other))
}

func TestNormalMatrix_Moments(t *testing.T) {
	z := NewGonum(1).NormalMatrix(200, 50)

	var sum, sumSq float64
	raw := z.RawMatrix().Data
	for _, v := range raw {
		sum += v
		sumSq += v * v
	}
	n := float64(len(raw))
	mean := sum / n
	variance := sumSq/n - mean*mean

	assert.InDelta(t, 0, mean, 0.05)
	assert.InDelta(t, 1, variance, 0.05)
}

func TestSymSVD_Reconstructs(t *testing.T) {
	a := mat.NewSymDense(3, []float64{
		4, 1, 0.5,
		1, 3, 0.2,
		0.5, 0.2, 2,
	})

	u, s, err := NewGonum(1).SymSVD(a)
	require.NoError(t, err)
	require.Len(t, s, 3)

	var rebuilt mat.Dense
	rebuilt.Mul(u, mat.NewDiagDense(3, s))
	rebuilt.Mul(&rebuilt, u.T())
	assert.True(t, mat.EqualApprox(&rebuilt, a, 1e-12))

	var gram mat.Dense
	gram.Mul(u.T(), u)
	assert.True(t, mat.EqualApprox(&gram, eye(3), 1e-12), "U must be orthonormal")

	for _, v := range s {
		assert.Greater(t, v, 0.0)
	}
}

func TestSymSVD_NonFinite(t *testing.T) {
	a := mat.NewSymDense(2, []float64{1, math.NaN(), math.NaN(), 1})

	_, _, err := NewGonum(1).SymSVD(a)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotConverged))
}

func TestEncodeDecode_Matrix(t *testing.T) {
	g := NewGonum(1)
	m := mat.NewDense(2, 3, []float64{1, 2, 3, 4, 5, 6})

	state, err := g.EncodeMatrix(m)
	require.NoError(t, err)

	back, err := g.DecodeMatrix(state)
	require.NoError(t, err)
	assert.True(t, mat.Equal(m, back))
}

func TestEncodeDecode_SymmetricMatrix(t *testing.T) {
	g := NewGonum(1)
	s := mat.NewSymDense(2, []float64{2, 1, 1, 3})

	state, err := g.EncodeMatrix(s)
	require.NoError(t, err)

	back, err := g.DecodeMatrix(state)
	require.NoError(t, err)
	assert.True(t, mat.Equal(s, back))
}

func TestEncodeDecode_Vector(t *testing.T) {
	g := NewGonum(1)
	v := mat.NewVecDense(3, []float64{0.5, -1, 1e-300})

	state, err := g.EncodeVector(v)
	require.NoError(t, err)

	back, err := g.DecodeVector(state)
	require.NoError(t, err)
	assert.True(t, mat.Equal(v, back))
}

func TestDecode_Garbage(t *testing.T) {
	g := NewGonum(1)

	_, err := g.DecodeMatrix(TensorState("not a tensor"))
	assert.True(t, errors.Is(err, ErrDecode))

	_, err = g.DecodeVector(nil)
	assert.True(t, errors.Is(err, ErrDecode))
}

func eye(n int) *mat.Dense {
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return m
}
