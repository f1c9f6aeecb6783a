package opt

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/cwbudde/cmaes/internal/cma"
)

// StopReason explains why RunCMA returned.
type StopReason string

const (
	StopMaxGenerations StopReason = "max_generations"
	StopTolX           StopReason = "tolx"
	StopStalled        StopReason = "stalled"
	StopCancelled      StopReason = "cancelled"
	StopFailed         StopReason = "failed"
)

// Generation is reported to RunOptions.OnGeneration after every update.
type Generation struct {
	// Index counts completed generations, including any resumed offset
	Index int `json:"generation"`

	// BestCost and BestParams are the best point evaluated so far
	BestCost   float64   `json:"bestCost"`
	BestParams []float64 `json:"bestParams,omitempty"`

	// GenerationBest is the lowest score within this generation
	GenerationBest float64 `json:"generationBest"`

	InitialCost float64 `json:"initialCost"`

	Sigma       float64 `json:"sigma"`
	Condition   float64 `json:"condition"`
	Evaluations int     `json:"evaluations"`
}

// RunOptions configures RunCMA.
type RunOptions struct {
	// MaxGenerations is the absolute generation budget (0 = unbounded)
	MaxGenerations int

	// StartGeneration offsets generation numbering when resuming
	StartGeneration int

	// TolX stops once σ·max(√eig(C)) drops below it (0 = disabled)
	TolX float64

	Convergence ConvergenceConfig

	// BestParams/BestCost carry the incumbent over from a previous run.
	// InitialCost is reused when BestParams is set.
	BestParams  []float64
	BestCost    float64
	InitialCost float64

	// OnGeneration is invoked after each update; a non-nil error aborts the run
	OnGeneration func(Generation) error
}

// Result summarizes a RunCMA call.
type Result struct {
	BestParams  []float64  `json:"bestParams"`
	BestCost    float64    `json:"bestCost"`
	InitialCost float64    `json:"initialCost"`
	Generations int        `json:"generations"`
	Evaluations int        `json:"evaluations"`
	Stop        StopReason `json:"stop"`
	Mean        []float64  `json:"mean"`
	Sigma       float64    `json:"sigma"`
}

// RunCMA drives engine through sample/evaluate/update cycles until a stop
// criterion fires or ctx is cancelled. The engine is owned by this call for
// its duration.
func RunCMA(ctx context.Context, engine *cma.Engine, eval func([]float64) float64, opts RunOptions) (*Result, error) {
	res := &Result{
		BestCost:    math.Inf(1),
		Generations: opts.StartGeneration,
	}

	if opts.BestParams != nil {
		res.BestParams = append([]float64(nil), opts.BestParams...)
		res.BestCost = opts.BestCost
		res.InitialCost = opts.InitialCost
	} else {
		start := engine.Mean()
		res.InitialCost = eval(start)
		res.BestParams = start
		res.BestCost = res.InitialCost
	}

	tracker := NewConvergenceTracker(opts.Convergence)

	slog.Info("Starting CMA-ES run",
		"dim", engine.Dim(),
		"population", engine.Population(),
		"start_generation", opts.StartGeneration,
		"max_generations", opts.MaxGenerations,
		"initial_cost", res.InitialCost,
	)

	finish := func(stop StopReason) *Result {
		res.Stop = stop
		res.Mean = engine.Mean()
		res.Sigma = engine.Sigma()
		res.Evaluations = engine.EvalCount()
		slog.Info("CMA-ES run finished",
			"stop", stop,
			"generations", res.Generations,
			"evaluations", res.Evaluations,
			"best_cost", res.BestCost,
			"sigma", res.Sigma,
		)
		return res
	}

	for opts.MaxGenerations <= 0 || res.Generations < opts.MaxGenerations {
		if err := ctx.Err(); err != nil {
			return finish(StopCancelled), err
		}

		samples := engine.Sample()
		rows, _ := samples.Dims()
		scores := make([]float64, rows)
		genBest := math.Inf(1)
		for i := range scores {
			x := mat.Row(nil, i, samples)
			scores[i] = eval(x)
			if scores[i] < genBest {
				genBest = scores[i]
			}
			if scores[i] < res.BestCost {
				res.BestCost = scores[i]
				res.BestParams = x
			}
		}

		if err := engine.Update(samples, scores); err != nil {
			finish(StopFailed)
			return res, fmt.Errorf("update failed at generation %d: %w", res.Generations+1, err)
		}
		res.Generations++

		gen := Generation{
			Index:          res.Generations,
			BestCost:       res.BestCost,
			BestParams:     append([]float64(nil), res.BestParams...),
			GenerationBest: genBest,
			InitialCost:    res.InitialCost,
			Sigma:          engine.Sigma(),
			Condition:      engine.CovarianceCondition(),
			Evaluations:    engine.EvalCount(),
		}
		slog.Debug("Generation complete",
			"generation", gen.Index,
			"best_cost", gen.BestCost,
			"generation_best", gen.GenerationBest,
			"sigma", gen.Sigma,
		)

		if opts.OnGeneration != nil {
			if err := opts.OnGeneration(gen); err != nil {
				finish(StopFailed)
				return res, fmt.Errorf("generation callback failed: %w", err)
			}
		}

		if opts.TolX > 0 && engine.Sigma()*maxFloat(engine.EigenValues()) < opts.TolX {
			return finish(StopTolX), nil
		}
		if tracker.Update(res.BestCost) {
			return finish(StopStalled), nil
		}
	}

	return finish(StopMaxGenerations), nil
}

func maxFloat(v []float64) float64 {
	m := math.Inf(-1)
	for _, x := range v {
		m = math.Max(m, x)
	}
	return m
}
