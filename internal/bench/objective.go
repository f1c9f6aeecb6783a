// Package bench provides standard test objectives for continuous optimizers.
package bench

import (
	"fmt"
	"math"
	"sort"
)

// Func is an objective to minimize.
type Func func(x []float64) float64

// Objective describes a benchmark function with its search box and known optimum.
type Objective struct {
	Name string
	Func Func

	// Lower and Upper bound every coordinate of the default search box.
	Lower float64
	Upper float64

	// Optimum returns the global minimizer for the given dimension.
	Optimum func(dim int) []float64
}

// Bounds expands the scalar box to per-coordinate slices.
func (o Objective) Bounds(dim int) (lower, upper []float64) {
	lower = make([]float64, dim)
	upper = make([]float64, dim)
	for i := 0; i < dim; i++ {
		lower[i] = o.Lower
		upper[i] = o.Upper
	}
	return lower, upper
}

var registry = map[string]Objective{
	"sphere": {
		Name: "sphere", Func: Sphere, Lower: -5, Upper: 5,
		Optimum: constant(0),
	},
	"rosenbrock": {
		Name: "rosenbrock", Func: Rosenbrock, Lower: -2, Upper: 2,
		Optimum: constant(1),
	},
	"rastrigin": {
		Name: "rastrigin", Func: Rastrigin, Lower: -5.12, Upper: 5.12,
		Optimum: constant(0),
	},
	"ellipsoid": {
		Name: "ellipsoid", Func: Ellipsoid, Lower: -5, Upper: 5,
		Optimum: constant(0),
	},
	"ackley": {
		Name: "ackley", Func: Ackley, Lower: -32.768, Upper: 32.768,
		Optimum: constant(0),
	},
}

// Lookup returns the objective registered under name.
func Lookup(name string) (Objective, error) {
	o, ok := registry[name]
	if !ok {
		return Objective{}, fmt.Errorf("unknown objective: %s (available: %v)", name, Names())
	}
	return o, nil
}

// Names lists the registered objectives in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func constant(v float64) func(int) []float64 {
	return func(dim int) []float64 {
		x := make([]float64, dim)
		for i := range x {
			x[i] = v
		}
		return x
	}
}

// Sphere: f(x) = Σ xᵢ², minimum 0 at the origin.
func Sphere(x []float64) float64 {
	var sum float64
	for _, v := range x {
		sum += v * v
	}
	return sum
}

// Rosenbrock is the generalized banana valley, minimum 0 at (1,…,1).
func Rosenbrock(x []float64) float64 {
	var sum float64
	for i := 0; i+1 < len(x); i++ {
		a := 1 - x[i]
		b := x[i+1] - x[i]*x[i]
		sum += a*a + 100*b*b
	}
	return sum
}

// Rastrigin is highly multimodal, minimum 0 at the origin.
func Rastrigin(x []float64) float64 {
	sum := 10 * float64(len(x))
	for _, v := range x {
		sum += v*v - 10*math.Cos(2*math.Pi*v)
	}
	return sum
}

// Ellipsoid is a separable quadratic with condition number 1e6.
func Ellipsoid(x []float64) float64 {
	n := len(x)
	if n == 1 {
		return x[0] * x[0]
	}
	var sum float64
	for i, v := range x {
		sum += math.Pow(1e6, float64(i)/float64(n-1)) * v * v
	}
	return sum
}

// Ackley has a nearly flat outer region and a deep hole at the origin.
func Ackley(x []float64) float64 {
	n := float64(len(x))
	var sq, cs float64
	for _, v := range x {
		sq += v * v
		cs += math.Cos(2 * math.Pi * v)
	}
	return -20*math.Exp(-0.2*math.Sqrt(sq/n)) - math.Exp(cs/n) + 20 + math.E
}
