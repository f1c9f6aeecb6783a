// Package linalg defines the numeric backend consumed by the CMA engine.
//
// Dense arithmetic (products, transposes, outer products, reductions) is done
// directly on gonum matrix types. The Backend interface covers the operations
// that must be swappable: random sampling, the symmetric decomposition and the
// opaque tensor encoding used for persisted state.
package linalg

import (
	"errors"

	"gonum.org/v1/gonum/mat"
)

// TensorState is the opaque serialized form of a vector or matrix.
// It marshals to JSON as a base64 string.
type TensorState []byte

// ErrNotConverged is returned when a decomposition fails or yields non-finite values.
var ErrNotConverged = errors.New("linalg: decomposition did not converge")

// ErrDecode is returned when a TensorState cannot be turned back into a tensor.
var ErrDecode = errors.New("linalg: cannot decode tensor state")

// Backend is the numeric collaborator of the CMA engine.
// Every call is synchronous: results are fully materialized on return.
type Backend interface {
	// NormalMatrix returns a rows×cols matrix of independent standard-normal draws.
	NormalMatrix(rows, cols int) *mat.Dense

	// SymSVD factorizes the symmetric positive semi-definite matrix a as
	// U·diag(s)·Uᵀ. U has orthonormal columns, s is non-negative and aligned
	// with the columns of U. The order of s is implementation defined.
	SymSVD(a mat.Symmetric) (u *mat.Dense, s []float64, err error)

	EncodeMatrix(m mat.Matrix) (TensorState, error)
	EncodeVector(v mat.Vector) (TensorState, error)
	DecodeMatrix(state TensorState) (*mat.Dense, error)
	DecodeVector(state TensorState) (*mat.VecDense, error)
}
