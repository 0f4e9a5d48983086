package sim

import (
	"math"
	"math/rand"

	"github.com/crml-dev/crmlrun/internal/lang"
)

// Frequency model ids. FreqGamma rounds a gamma rate directly to a count; the
// two gamma-poisson families mix a gamma rate through a Poisson draw and have
// a negative-binomial marginal.
const (
	FreqPoisson                  = "poisson"
	FreqGamma                    = "gamma"
	FreqGammaPoisson             = "gamma_poisson"
	FreqHierarchicalGammaPoisson = "hierarchical_gamma_poisson"
)

// Reference-matching defaults when hierarchical parameters are omitted.
const (
	defaultAlphaBase = 1.5
	defaultBetaBase  = 1.5
)

// frequencySampler produces the event count for one run. exposure and the
// per-run control multiplier scale the rate before sampling, never the count.
type frequencySampler struct {
	model  string
	params lang.FrequencyParameters
}

func compileFrequency(f lang.Frequency) (*frequencySampler, error) {
	switch f.Model {
	case FreqPoisson, FreqGamma, FreqGammaPoisson, FreqHierarchicalGammaPoisson:
		return &frequencySampler{model: f.Model, params: f.Parameters}, nil
	default:
		return nil, &UnsupportedModelError{Kind: "frequency", Model: f.Model}
	}
}

func (s *frequencySampler) sample(r *rand.Rand, exposure, multiplier float64) int {
	switch s.model {
	case FreqPoisson:
		lambda := s.params.Lambda.Or(0)
		if lambda <= 0 {
			return 0
		}
		return samplePoisson(r, lambda*exposure*multiplier)

	case FreqGamma:
		shape := s.params.Shape.Or(0)
		scale := s.params.Scale.Or(0)
		if shape <= 0 || scale <= 0 {
			return 0
		}
		rate := sampleGamma(r, shape, scale) * exposure * multiplier
		n := math.Round(rate)
		if n < 0 {
			return 0
		}
		return int(n)

	case FreqGammaPoisson:
		alpha := s.params.Alpha.Or(0)
		beta := s.params.Beta.Or(0)
		if alpha <= 0 || beta <= 0 {
			return 0
		}
		lambda := sampleGamma(r, alpha, beta) * exposure * multiplier
		return samplePoisson(r, lambda)

	case FreqHierarchicalGammaPoisson:
		alpha := s.params.AlphaBase.Or(s.params.Alpha.Or(defaultAlphaBase))
		beta := s.params.BetaBase.Or(s.params.Beta.Or(defaultBetaBase))
		if alpha <= 0 || beta <= 0 {
			return 0
		}
		lambda := sampleGamma(r, alpha, beta) * exposure * multiplier
		return samplePoisson(r, lambda)
	}
	return 0
}
