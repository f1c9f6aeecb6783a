package linalg

import (
	"fmt"
	"math"
	"math/rand"
	"sync"

	"gonum.org/v1/gonum/mat"
)

// Gonum is the production Backend built on gonum/mat.
// It is safe for concurrent use; the random source is guarded by a mutex.
type Gonum struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewGonum creates a gonum backend whose random draws are reproducible for a given seed.
func NewGonum(seed int64) *Gonum {
	return &Gonum{rng: rand.New(rand.NewSource(seed))}
}

// NormalMatrix fills a rows×cols matrix with N(0,1) draws in row-major order.
func (g *Gonum) NormalMatrix(rows, cols int) *mat.Dense {
	data := make([]float64, rows*cols)

	g.mu.Lock()
	for i := range data {
		data[i] = g.rng.NormFloat64()
	}
	g.mu.Unlock()

	return mat.NewDense(rows, cols, data)
}

// SymSVD runs a full SVD on a. For a symmetric PSD matrix the left singular
// vectors are its eigenvectors and the singular values its eigenvalues.
// Singular values come back in descending order.
func (g *Gonum) SymSVD(a mat.Symmetric) (*mat.Dense, []float64, error) {
	n := a.SymmetricDim()
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			if v := a.At(i, j); math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, nil, fmt.Errorf("%w: non-finite entry at (%d,%d)", ErrNotConverged, i, j)
			}
		}
	}

	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDFull); !ok {
		return nil, nil, ErrNotConverged
	}

	var u mat.Dense
	svd.UTo(&u)
	s := svd.Values(nil)

	for i, v := range s {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return nil, nil, fmt.Errorf("%w: singular value %d is %v", ErrNotConverged, i, v)
		}
	}
	return &u, s, nil
}

// EncodeMatrix serializes m with gonum's binary format.
func (g *Gonum) EncodeMatrix(m mat.Matrix) (TensorState, error) {
	data, err := mat.DenseCopyOf(m).MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to encode matrix: %w", err)
	}
	return data, nil
}

// EncodeVector serializes v with gonum's binary format.
func (g *Gonum) EncodeVector(v mat.Vector) (TensorState, error) {
	vec := mat.NewVecDense(v.Len(), nil)
	vec.CopyVec(v)
	data, err := vec.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to encode vector: %w", err)
	}
	return data, nil
}

// DecodeMatrix restores a matrix written by EncodeMatrix.
func (g *Gonum) DecodeMatrix(state TensorState) (*mat.Dense, error) {
	if len(state) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrDecode)
	}
	var m mat.Dense
	if err := m.UnmarshalBinary(state); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return &m, nil
}

// DecodeVector restores a vector written by EncodeVector.
func (g *Gonum) DecodeVector(state TensorState) (*mat.VecDense, error) {
	if len(state) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrDecode)
	}
	var v mat.VecDense
	if err := v.UnmarshalBinary(state); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return &v, nil
}
