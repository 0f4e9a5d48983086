package sim

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/crml-dev/crmlrun/internal/fx"
	"github.com/crml-dev/crmlrun/internal/lang"
)

// Severity model ids.
const (
	SevLognormal = "lognormal"
	SevGamma     = "gamma"
	SevMixture   = "mixture"
)

// severitySampler draws per-event losses in the engine base currency. All
// currency conversion and calibration happens at compile time so the sampling
// hot path is arithmetic only.
type severitySampler struct {
	model string

	mu    float64
	sigma float64

	shape float64
	scale float64

	// mixture: cumulative weights aligned with components
	components []severitySampler
	cumWeights []float64

	// legacy behavior: sample only the first mixture component
	firstOnly bool
}

// compileSeverity resolves parameters into a samplable distribution in the
// converter's base currency.
func compileSeverity(sev lang.Severity, conv *fx.Converter, compatFirstComponent bool) (*severitySampler, error) {
	switch sev.Model {
	case SevLognormal:
		return compileLognormal(sev.Parameters, conv)
	case SevGamma:
		return compileGammaSeverity(sev.Parameters, conv)
	case SevMixture:
		return compileMixture(sev.Components, conv, compatFirstComponent)
	default:
		return nil, &UnsupportedModelError{Kind: "severity", Model: sev.Model}
	}
}

func compileLognormal(p lang.SeverityParameters, conv *fx.Converter) (*severitySampler, error) {
	currency := p.Currency
	if currency == "" {
		currency = conv.Base()
	}

	if len(p.SingleLosses) > 0 {
		mu, sigma, err := CalibrateLognormal(p.SingleLosses, currency, conv)
		if err != nil {
			return nil, err
		}
		return &severitySampler{model: SevLognormal, mu: mu, sigma: sigma}, nil
	}

	if p.Median.Set && p.Mu.Set {
		return nil, &CalibrationError{Reason: "cannot use both 'median' and 'mu', choose one"}
	}

	var mu float64
	switch {
	case p.Median.Set:
		median, err := conv.ToBase(p.Median.Value, currency)
		if err != nil {
			return nil, err
		}
		if median <= 0 {
			return nil, &CalibrationError{Reason: fmt.Sprintf("median must be positive, got %g", median)}
		}
		mu = math.Log(median)
	case p.Mu.Set:
		mu = p.Mu.Value
		// mu shifts by ln(rate) under a currency change
		if currency != conv.Base() {
			rate, err := conv.ToBase(1.0, currency)
			if err != nil {
				return nil, err
			}
			mu += math.Log(rate)
		}
	default:
		return nil, &CalibrationError{Reason: "lognormal requires 'median', 'mu', or 'single_losses'"}
	}

	if !p.Sigma.Set || p.Sigma.Value <= 0 {
		return nil, &CalibrationError{Reason: "lognormal requires a positive 'sigma'"}
	}
	return &severitySampler{model: SevLognormal, mu: mu, sigma: p.Sigma.Value}, nil
}

func compileGammaSeverity(p lang.SeverityParameters, conv *fx.Converter) (*severitySampler, error) {
	shape := p.Shape.Or(0)
	scale := p.Scale.Or(0)
	if shape <= 0 || scale <= 0 {
		return nil, &CalibrationError{Reason: "gamma severity requires positive 'shape' and 'scale'"}
	}
	currency := p.Currency
	if currency == "" {
		currency = conv.Base()
	}
	// the scale parameter is monetary and converts linearly
	scale, err := conv.ToBase(scale, currency)
	if err != nil {
		return nil, err
	}
	return &severitySampler{model: SevGamma, shape: shape, scale: scale}, nil
}

func compileMixture(components []lang.SeverityComponent, conv *fx.Converter, firstOnly bool) (*severitySampler, error) {
	if len(components) == 0 {
		return nil, &CalibrationError{Reason: "mixture severity requires at least one component"}
	}

	s := &severitySampler{model: SevMixture, firstOnly: firstOnly}
	total := 0.0
	for i, c := range components {
		var (
			comp *severitySampler
			err  error
		)
		switch c.Model {
		case SevLognormal:
			comp, err = compileLognormal(c.Parameters, conv)
		case SevGamma:
			comp, err = compileGammaSeverity(c.Parameters, conv)
		default:
			err = &UnsupportedModelError{Kind: "severity", Model: c.Model}
		}
		if err != nil {
			return nil, fmt.Errorf("mixture component %d: %w", i, err)
		}
		w := c.Weight.Or(1.0 / float64(len(components)))
		if w < 0 {
			return nil, &CalibrationError{Reason: fmt.Sprintf("mixture component %d has negative weight", i)}
		}
		total += w
		s.components = append(s.components, *comp)
		s.cumWeights = append(s.cumWeights, total)
	}
	if total <= 0 {
		return nil, &CalibrationError{Reason: "mixture weights must sum to a positive value"}
	}
	for i := range s.cumWeights {
		s.cumWeights[i] /= total
	}
	return s, nil
}

func (s *severitySampler) sample(r *rand.Rand) float64 {
	switch s.model {
	case SevLognormal:
		return sampleLognormal(r, s.mu, s.sigma)
	case SevGamma:
		return sampleGamma(r, s.shape, s.scale)
	case SevMixture:
		if s.firstOnly {
			return s.components[0].sample(r)
		}
		u := r.Float64()
		idx := sort.SearchFloat64s(s.cumWeights, u)
		if idx >= len(s.components) {
			idx = len(s.components) - 1
		}
		return s.components[idx].sample(r)
	}
	return 0
}

// CalibrateLognormal fits mu/sigma from observed single-event losses. Losses
// are converted to the base currency first; mu is the log of their median and
// sigma the population standard deviation of their logs.
func CalibrateLognormal(losses lang.NumberList, currency string, conv *fx.Converter) (mu, sigma float64, err error) {
	if len(losses) < 2 {
		return 0, 0, &CalibrationError{Reason: "single_losses must contain at least 2 values"}
	}
	base := make([]float64, len(losses))
	for i, v := range losses {
		b, cerr := conv.ToBase(v, currency)
		if cerr != nil {
			return 0, 0, cerr
		}
		if b <= 0 {
			return 0, 0, &CalibrationError{Reason: "single_losses values must be positive"}
		}
		base[i] = b
	}

	sorted := append([]float64(nil), base...)
	sort.Float64s(sorted)
	var median float64
	n := len(sorted)
	if n%2 == 1 {
		median = sorted[n/2]
	} else {
		median = (sorted[n/2-1] + sorted[n/2]) / 2
	}
	mu = math.Log(median)

	logs := make([]float64, n)
	mean := 0.0
	for i, v := range base {
		logs[i] = math.Log(v)
		mean += logs[i]
	}
	mean /= float64(n)
	ss := 0.0
	for _, lv := range logs {
		d := lv - mean
		ss += d * d
	}
	sigma = math.Sqrt(ss / float64(n))
	return mu, sigma, nil
}
