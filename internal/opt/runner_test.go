package opt

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwbudde/cmaes/internal/bench"
	"github.com/cwbudde/cmaes/internal/cma"
	"github.com/cwbudde/cmaes/internal/linalg"
)

func newTestEngine(t *testing.T, mean []float64, seed int64) *cma.Engine {
	t.Helper()
	e, err := cma.New(cma.DefaultConfig(), mean, linalg.NewGonum(seed))
	require.NoError(t, err)
	return e
}

func TestRunCMA_MaxGenerations(t *testing.T) {
	e := newTestEngine(t, []float64{3, 3}, 1)

	var seen []int
	res, err := RunCMA(context.Background(), e, bench.Sphere, RunOptions{
		MaxGenerations: 10,
		OnGeneration: func(g Generation) error {
			seen = append(seen, g.Index)
			return nil
		},
	})
	require.NoError(t, err)

	assert.Equal(t, StopMaxGenerations, res.Stop)
	assert.Equal(t, 10, res.Generations)
	assert.Equal(t, 10*e.Population(), res.Evaluations)
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, seen)
	assert.Equal(t, 18.0, res.InitialCost)
	assert.LessOrEqual(t, res.BestCost, res.InitialCost)
	assert.Equal(t, bench.Sphere(res.BestParams), res.BestCost)
}

func TestRunCMA_BestCostMonotone(t *testing.T) {
	e := newTestEngine(t, []float64{-1, 2, 0.5}, 2)

	last := math.Inf(1)
	_, err := RunCMA(context.Background(), e, bench.Rastrigin, RunOptions{
		MaxGenerations: 60,
		OnGeneration: func(g Generation) error {
			assert.LessOrEqual(t, g.BestCost, last)
			assert.LessOrEqual(t, g.BestCost, g.GenerationBest)
			last = g.BestCost
			return nil
		},
	})
	require.NoError(t, err)
}

func TestRunCMA_TolX(t *testing.T) {
	e := newTestEngine(t, []float64{2, -2}, 3)

	res, err := RunCMA(context.Background(), e, bench.Sphere, RunOptions{
		MaxGenerations: 5000,
		TolX:           1e-8,
	})
	require.NoError(t, err)

	assert.Equal(t, StopTolX, res.Stop)
	assert.Less(t, res.Generations, 5000)
	assert.Less(t, res.BestCost, 1e-12)
}

func TestRunCMA_Stalled(t *testing.T) {
	e := newTestEngine(t, []float64{0, 0}, 4)
	flat := func([]float64) float64 { return 1 }

	res, err := RunCMA(context.Background(), e, flat, RunOptions{
		MaxGenerations: 1000,
		Convergence:    ConvergenceConfig{Enabled: true, Patience: 5, Threshold: 1e-6},
	})
	require.NoError(t, err)

	// The first generation seeds the tracker, then five stale ones follow.
	assert.Equal(t, StopStalled, res.Stop)
	assert.Equal(t, 6, res.Generations)
}

func TestRunCMA_Cancelled(t *testing.T) {
	e := newTestEngine(t, []float64{0, 0}, 5)
	ctx, cancel := context.WithCancel(context.Background())

	res, err := RunCMA(ctx, e, bench.Sphere, RunOptions{
		OnGeneration: func(g Generation) error {
			if g.Index == 3 {
				cancel()
			}
			return nil
		},
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StopCancelled, res.Stop)
	assert.Equal(t, 3, res.Generations)
}

func TestRunCMA_CallbackError(t *testing.T) {
	e := newTestEngine(t, []float64{0, 0}, 6)
	boom := errors.New("disk full")

	res, err := RunCMA(context.Background(), e, bench.Sphere, RunOptions{
		MaxGenerations: 10,
		OnGeneration:   func(Generation) error { return boom },
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, StopFailed, res.Stop)
	assert.Equal(t, 1, res.Generations)
}

func TestRunCMA_ResumeOffsets(t *testing.T) {
	e := newTestEngine(t, []float64{1, 1}, 7)

	res, err := RunCMA(context.Background(), e, bench.Sphere, RunOptions{
		MaxGenerations:  25,
		StartGeneration: 20,
		BestParams:      []float64{0.1, 0.1},
		BestCost:        0.02,
		InitialCost:     99,
	})
	require.NoError(t, err)

	assert.Equal(t, 25, res.Generations)
	assert.Equal(t, 99.0, res.InitialCost)
	assert.LessOrEqual(t, res.BestCost, 0.02)
}
