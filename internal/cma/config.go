package cma

import (
	"math"
)

// Config holds the user-facing settings of an engine. Zero Population and
// SamplesPerEig mean "derive from the dimension".
type Config struct {
	// StepSize is the initial global step size σ₀.
	StepSize float64 `json:"stepSize" yaml:"step_size"`

	// Population is the number of samples per generation (λ).
	Population int `json:"population,omitempty" yaml:"population"`

	// RecombinationFrac is the share of the population recombined into the mean, in (0,1].
	RecombinationFrac float64 `json:"recombinationFrac" yaml:"recombination_frac"`

	// SamplesPerEig is the number of evaluations between spectral refreshes.
	SamplesPerEig int `json:"samplesPerEig,omitempty" yaml:"samples_per_eig"`
}

// DefaultConfig returns σ₀ = 0.5 and a half-population recombination.
func DefaultConfig() Config {
	return Config{
		StepSize:          0.5,
		RecombinationFrac: 0.5,
	}
}

// Validate checks the config independently of the problem dimension.
func (c Config) Validate() error {
	if math.IsNaN(c.StepSize) || math.IsInf(c.StepSize, 0) || c.StepSize <= 0 {
		return &ConfigError{Field: "StepSize", Reason: "must be positive and finite"}
	}
	if c.Population < 0 {
		return &ConfigError{Field: "Population", Reason: "must be positive"}
	}
	if math.IsNaN(c.RecombinationFrac) || c.RecombinationFrac <= 0 || c.RecombinationFrac > 1 {
		return &ConfigError{Field: "RecombinationFrac", Reason: "must be in (0,1]"}
	}
	if c.SamplesPerEig < 0 {
		return &ConfigError{Field: "SamplesPerEig", Reason: "must be positive"}
	}
	return nil
}

// Params are the hyperparameters derived once from a Config and a dimension.
// They never change for the lifetime of an engine.
type Params struct {
	Dim                int
	Population         int
	RecombinationCount int

	// Weights are positive, sum to 1 and are sorted descending.
	Weights []float64

	VarianceEffectiveness float64
	TimeConstantC         float64
	TimeConstantSigma     float64
	LRRank1               float64
	LRRankRecombination   float64
	SigmaDamping          float64
	ExpectedNorm          float64
	SamplesPerEig         float64
}

// DeriveParams computes the strategy parameters for an n-dimensional problem.
func DeriveParams(cfg Config, n int) (Params, error) {
	if n < 1 {
		return Params{}, &ConfigError{Field: "Dim", Reason: "must be at least 1"}
	}
	if err := cfg.Validate(); err != nil {
		return Params{}, err
	}

	nf := float64(n)

	lambda := cfg.Population
	if lambda == 0 {
		lambda = 4 + int(math.Floor(3*math.Log(nf)))
	}
	if lambda < 1 {
		return Params{}, &ConfigError{Field: "Population", Reason: "must be positive"}
	}

	mu := int(math.Round(cfg.RecombinationFrac * float64(lambda)))
	if mu < 1 {
		mu = 1
	}

	bias := math.Log(float64(mu) + 0.5)
	weights := make([]float64, mu)
	var sum float64
	for i := range weights {
		weights[i] = bias - math.Log(float64(i+1))
		sum += weights[i]
	}
	var sumSq float64
	for i := range weights {
		weights[i] /= sum
		sumSq += weights[i] * weights[i]
	}
	muEff := 1 / sumSq

	cc := (4 + muEff/nf) / (nf + 4 + 2*muEff/nf)
	cs := (muEff + 2) / (nf + muEff + 5)
	c1 := 2 / (math.Pow(nf+1.3, 2) + muEff)
	cmu := math.Min(1-c1, 2*(muEff-2+1/muEff)/(math.Pow(nf+2, 2)+muEff))
	damps := 1 + 2*math.Max(0, math.Sqrt((muEff-1)/(nf+1))-1) + cs
	chiN := math.Sqrt(nf) * (1 - 1/(4*nf) + 1/(21*nf*nf))

	samplesPerEig := float64(cfg.SamplesPerEig)
	if cfg.SamplesPerEig == 0 {
		samplesPerEig = float64(lambda) / (c1 + cmu) / nf / 10
	}

	return Params{
		Dim:                   n,
		Population:            lambda,
		RecombinationCount:    mu,
		Weights:               weights,
		VarianceEffectiveness: muEff,
		TimeConstantC:         cc,
		TimeConstantSigma:     cs,
		LRRank1:               c1,
		LRRankRecombination:   cmu,
		SigmaDamping:          damps,
		ExpectedNorm:          chiN,
		SamplesPerEig:         samplesPerEig,
	}, nil
}
