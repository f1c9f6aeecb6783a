package opt

import (
	"context"
	"log/slog"
	"math"

	"github.com/cwbudde/cmaes/internal/cma"
	"github.com/cwbudde/cmaes/internal/linalg"
)

// CMAAdapter exposes the CMA engine through the Optimizer interface.
// The distribution starts at the centre of the box with σ₀ = stepFrac × the
// widest side. The box is not enforced on samples.
type CMAAdapter struct {
	maxGens  int
	popSize  int
	stepFrac float64
	tolX     float64
	seed     int64
}

// NewCMA creates a CMA-ES optimizer adapter. popSize 0 derives λ from the dimension.
func NewCMA(maxGens, popSize int, seed int64) Optimizer {
	return &CMAAdapter{
		maxGens:  maxGens,
		popSize:  popSize,
		stepFrac: 0.3,
		tolX:     1e-12,
		seed:     seed,
	}
}

// Run executes CMA-ES and returns the best point evaluated.
func (c *CMAAdapter) Run(eval func([]float64) float64, lower, upper []float64, dim int) ([]float64, float64) {
	mean := make([]float64, dim)
	width := 0.0
	for i := 0; i < dim; i++ {
		mean[i] = 0.5 * (lower[i] + upper[i])
		width = math.Max(width, upper[i]-lower[i])
	}
	if width <= 0 {
		width = 1
	}

	cfg := cma.DefaultConfig()
	cfg.Population = c.popSize
	cfg.StepSize = c.stepFrac * width

	engine, err := cma.New(cfg, mean, linalg.NewGonum(c.seed))
	if err != nil {
		slog.Error("Failed to create CMA engine", "error", err)
		return mean, eval(mean)
	}

	res, err := RunCMA(context.Background(), engine, eval, RunOptions{
		MaxGenerations: c.maxGens,
		TolX:           c.tolX,
		Convergence:    DisabledConvergenceConfig(),
	})
	if err != nil {
		slog.Warn("CMA run ended with error", "error", err)
	}
	return res.BestParams, res.BestCost
}
