package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/floats"

	"github.com/cwbudde/cmaes/internal/bench"
	"github.com/cwbudde/cmaes/internal/opt"
)

var (
	benchObjectives []string
	benchDim        int
	benchGens       int
	benchPop        int
	benchSeed       int64
)

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Compare CMA-ES with the Mayfly baseline",
	Long: `Runs CMA-ES and the Mayfly optimizer on each benchmark objective with the
same budget and prints the best cost, distance to the known optimum and wall time.`,
	RunE: runBench,
}

func init() {
	benchCmd.Flags().StringSliceVar(&benchObjectives, "objectives", bench.Names(), "Objectives to run")
	benchCmd.Flags().IntVar(&benchDim, "dim", 10, "Problem dimension")
	benchCmd.Flags().IntVar(&benchGens, "generations", 500, "Generation (iteration) budget per optimizer")
	benchCmd.Flags().IntVar(&benchPop, "pop", 0, "Population size (0 = CMA-ES default, Mayfly uses 30)")
	benchCmd.Flags().Int64Var(&benchSeed, "seed", 1, "Random seed")
	rootCmd.AddCommand(benchCmd)
}

type benchRow struct {
	optimizer string
	objective string
	cost      float64
	distance  float64
	elapsed   time.Duration
}

func runBench(cmd *cobra.Command, args []string) error {
	if benchDim <= 0 || benchGens <= 0 {
		return fmt.Errorf("--dim and --generations must be positive")
	}

	mayflyPop := benchPop
	if mayflyPop == 0 {
		mayflyPop = 30
	}
	optimizers := []struct {
		name string
		opt  opt.Optimizer
	}{
		{"cma", opt.NewCMA(benchGens, benchPop, benchSeed)},
		{"mayfly", opt.NewMayfly(benchGens, mayflyPop, benchSeed)},
	}

	var rows []benchRow
	for _, name := range benchObjectives {
		objective, err := bench.Lookup(strings.TrimSpace(name))
		if err != nil {
			return err
		}
		lower, upper := objective.Bounds(benchDim)
		optimum := objective.Optimum(benchDim)

		for _, o := range optimizers {
			start := time.Now()
			params, cost := o.opt.Run(objective.Func, lower, upper, benchDim)
			row := benchRow{
				optimizer: o.name,
				objective: objective.Name,
				cost:      cost,
				distance:  floats.Distance(params, optimum, 2),
				elapsed:   time.Since(start),
			}
			slog.Debug("Benchmark finished", "optimizer", row.optimizer, "objective", row.objective, "cost", row.cost)
			rows = append(rows, row)
		}
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "OBJECTIVE\tOPTIMIZER\tBEST COST\tDIST TO OPTIMUM\tTIME")
	for _, r := range rows {
		fmt.Fprintf(w, "%s\t%s\t%.6g\t%.4g\t%s\n", r.objective, r.optimizer, r.cost, r.distance, r.elapsed.Round(time.Millisecond))
	}
	return w.Flush()
}
