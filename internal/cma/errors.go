package cma

import (
	"errors"
	"fmt"
)

// ErrInvalidConfig matches any *ConfigError via errors.Is.
var ErrInvalidConfig = &ConfigError{}

// ErrShapeMismatch matches any *ShapeError via errors.Is.
var ErrShapeMismatch = &ShapeError{}

// ErrDeserialize matches any *DeserializeError via errors.Is.
var ErrDeserialize = &DeserializeError{}

// ErrNumeric is returned when the backend fails mid-update (e.g. the
// decomposition does not converge). The engine state is left untouched.
var ErrNumeric = errors.New("cma: numeric failure")

// ConfigError reports a configuration rejected at construction.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return "cma: invalid config"
	}
	return "cma: invalid config: " + e.Field + " " + e.Reason
}

func (e *ConfigError) Is(target error) bool {
	_, ok := target.(*ConfigError)
	return ok
}

// ShapeError reports update inputs whose dimensions disagree with the engine.
type ShapeError struct {
	Field string
	Want  []int
	Got   []int
}

func (e *ShapeError) Error() string {
	if e.Field == "" {
		return "cma: shape mismatch"
	}
	return fmt.Sprintf("cma: shape mismatch: %s has shape %v, want %v", e.Field, e.Got, e.Want)
}

func (e *ShapeError) Is(target error) bool {
	_, ok := target.(*ShapeError)
	return ok
}

// DeserializeError reports a state field that could not be restored.
type DeserializeError struct {
	Field string
	Err   error
}

func (e *DeserializeError) Error() string {
	if e.Field == "" {
		return "cma: cannot deserialize state"
	}
	if e.Err == nil {
		return "cma: cannot deserialize state field " + e.Field
	}
	return "cma: cannot deserialize state field " + e.Field + ": " + e.Err.Error()
}

func (e *DeserializeError) Unwrap() error { return e.Err }

func (e *DeserializeError) Is(target error) bool {
	_, ok := target.(*DeserializeError)
	return ok
}
