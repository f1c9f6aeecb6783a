package opt

// Optimizer defines a box-seeded black-box minimizer.
type Optimizer interface {
	// Run executes the optimization
	// eval: objective function to minimize
	// lower, upper: box used to place the initial search distribution
	// dim: dimensionality of parameter space
	// Returns: best parameters and best cost
	Run(eval func([]float64) float64, lower, upper []float64, dim int) ([]float64, float64)
}
