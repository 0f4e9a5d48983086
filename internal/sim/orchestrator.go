package sim

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/crml-dev/crmlrun/internal/fx"
	"github.com/crml-dev/crmlrun/internal/lang"
	"github.com/crml-dev/crmlrun/internal/plan"
)

// EngineName identifies this engine in result envelopes.
const EngineName = "crmlrun"

// Options control one simulation execution.
type Options struct {
	Runs        int
	Seed        *int64
	Parallelism int
	ChunkSize   int

	// RawSampleLimit caps the samples artifact; the full vector always feeds
	// the metrics.
	RawSampleLimit int
	HistogramBins  int

	EngineVersion string

	// CompatFirstComponentMixture reproduces the legacy behavior of sampling
	// only the first mixture component instead of weighted selection.
	CompatFirstComponentMixture bool

	// Progress, when set, is invoked after every completed chunk with the
	// number of finished runs. Called from worker goroutines; must be safe
	// for concurrent use.
	Progress func(completed, total int)
}

func (o Options) withDefaults() Options {
	if o.Runs <= 0 {
		o.Runs = 10000
	}
	if o.Parallelism <= 0 {
		o.Parallelism = runtime.NumCPU()
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = 1024
	}
	if o.RawSampleLimit <= 0 {
		o.RawSampleLimit = 1000
	}
	if o.HistogramBins <= 0 {
		o.HistogramBins = 50
	}
	if o.EngineVersion == "" {
		o.EngineVersion = "dev"
	}
	return o
}

type compiledScenario struct {
	id       string
	exposure float64
	weight   float64
	freq     *frequencySampler
	sev      *severitySampler
	controls []plan.ResolvedControl
}

// Engine runs execution plans. Safe for concurrent use; each Run call derives
// all randomness from its own seed.
type Engine struct {
	conv *fx.Converter
	opts Options
}

func New(conv *fx.Converter, opts Options) *Engine {
	if conv == nil {
		conv = fx.NewConverter(nil)
	}
	return &Engine{conv: conv, opts: opts.withDefaults()}
}

// Run executes the plan and returns the result envelope. Fatal problems
// produce an envelope with Success=false plus a non-nil error; the envelope
// always carries the error strings for serialization.
func (e *Engine) Run(ctx context.Context, p *plan.ExecutionPlan) (*lang.ResultEnvelope, error) {
	started := time.Now().UTC()
	env := lang.NewResultEnvelope(EngineName, e.opts.EngineVersion)
	env.Run = lang.RunInfo{
		ID:        uuid.NewString(),
		Runs:      e.opts.Runs,
		Seed:      e.opts.Seed,
		StartedAt: &started,
	}
	env.Inputs = lang.InputInfo{ModelName: p.PortfolioName}
	for _, w := range p.Warnings {
		env.Warnings = append(env.Warnings, w.Path+": "+w.Message)
	}

	fail := func(err error) (*lang.ResultEnvelope, error) {
		env.Errors = append(env.Errors, err.Error())
		env.Run.RuntimeMS = float64(time.Since(started)) / float64(time.Millisecond)
		return env, err
	}

	scenarios, cm, err := e.preflight(p)
	if err != nil {
		return fail(err)
	}

	seed := int64(0)
	if e.opts.Seed != nil {
		seed = *e.opts.Seed
	} else {
		seed = rand.Int63()
	}

	total, err := e.simulate(ctx, p.Method, scenarios, cm, seed)
	if err != nil {
		return fail(err)
	}

	// reporting currency conversion happens once, on the aggregated vector
	if e.conv.Base() != e.conv.Output() {
		factor, cerr := e.conv.FromBase(1.0, e.conv.Output())
		if cerr != nil {
			return fail(cerr)
		}
		for i := range total {
			total[i] *= factor
		}
	}

	if clamped := clampNonFinite(total); clamped > 0 {
		env.Warnings = append(env.Warnings,
			fmt.Sprintf("clamped %d non-finite loss samples to zero", clamped))
	}

	e.fillResults(env, total)
	env.Run.RuntimeMS = float64(time.Since(started)) / float64(time.Millisecond)
	env.Success = true

	log.Info().
		Str("portfolio", p.PortfolioName).
		Int("runs", e.opts.Runs).
		Int("scenarios", len(scenarios)).
		Float64("runtime_ms", env.Run.RuntimeMS).
		Msg("Simulation complete")
	return env, nil
}

// preflight compiles every scenario and the control model, collecting all
// problems before any sampling happens.
func (e *Engine) preflight(p *plan.ExecutionPlan) ([]compiledScenario, *controlModel, error) {
	if len(p.Scenarios) == 0 {
		return nil, nil, fmt.Errorf("portfolio contains no scenarios")
	}
	switch p.Method {
	case lang.MethodSum, lang.MethodMax, lang.MethodMixture, lang.MethodChooseOne:
	default:
		return nil, nil, fmt.Errorf("unsupported aggregation method %q", p.Method)
	}
	if _, err := e.conv.FromBase(1.0, e.conv.Output()); err != nil {
		return nil, nil, err
	}

	var errs []error
	scenarios := make([]compiledScenario, 0, len(p.Scenarios))
	for _, sp := range p.Scenarios {
		cs := compiledScenario{
			id:       sp.ID,
			exposure: sp.Exposure,
			weight:   sp.Weight,
			controls: sp.Controls,
		}
		freq, err := compileFrequency(sp.Frequency)
		if err != nil {
			errs = append(errs, fmt.Errorf("scenario %q: %w", sp.ID, err))
		}
		sev, err := compileSeverity(sp.Severity, e.conv, e.opts.CompatFirstComponentMixture)
		if err != nil {
			errs = append(errs, fmt.Errorf("scenario %q: %w", sp.ID, err))
		}
		cs.freq, cs.sev = freq, sev
		scenarios = append(scenarios, cs)
	}

	cm, err := buildControlModel(p)
	if err != nil {
		errs = append(errs, err)
	}

	// wrapping keeps the typed error kinds reachable through errors.As
	switch len(errs) {
	case 0:
		return scenarios, cm, nil
	case 1:
		return nil, nil, errs[0]
	default:
		return nil, nil, fmt.Errorf("%d preflight errors: %w", len(errs), errors.Join(errs...))
	}
}

// simulate runs the chunked Monte Carlo loop. Chunks are claimed atomically by
// a fixed worker pool; each run derives its streams from (seed, label, run
// index) so results never depend on scheduling. Cancellation is observed at
// chunk boundaries and discards all partial results.
func (e *Engine) simulate(
	ctx context.Context,
	method string,
	scenarios []compiledScenario,
	cm *controlModel,
	seed int64,
) ([]float64, error) {
	runs := e.opts.Runs
	total := make([]float64, runs)

	weights := normalizedWeights(scenarios)

	var next, done int64
	var wg sync.WaitGroup
	for w := 0; w < e.opts.Parallelism; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				start := int(atomic.AddInt64(&next, int64(e.opts.ChunkSize))) - e.opts.ChunkSize
				if start >= runs {
					return
				}
				if ctx.Err() != nil {
					return
				}
				end := start + e.opts.ChunkSize
				if end > runs {
					end = runs
				}
				for i := start; i < end; i++ {
					total[i] = e.runOnce(method, scenarios, cm, weights, seed, i)
				}
				if e.opts.Progress != nil {
					e.opts.Progress(int(atomic.AddInt64(&done, int64(end-start))), runs)
				}
			}
		}()
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("simulation cancelled: %w", err)
	}
	return total, nil
}

// runOnce produces the aggregated portfolio loss for a single run index.
func (e *Engine) runOnce(
	method string,
	scenarios []compiledScenario,
	cm *controlModel,
	weights []float64,
	seed int64,
	run int,
) float64 {
	states := cm.sampleStates(newStream(seed, controlsStreamLabel, run))

	losses := make([]float64, len(scenarios))
	for si := range scenarios {
		sc := &scenarios[si]
		r := newStream(seed, sc.id, run)
		freqMult, sevMult := scenarioMultipliers(sc.controls, states)

		count := sc.freq.sample(r, sc.exposure, freqMult)
		loss := 0.0
		for k := 0; k < count; k++ {
			loss += sc.sev.sample(r)
		}
		losses[si] = loss * sevMult
	}

	switch method {
	case lang.MethodSum:
		sum := 0.0
		for _, l := range losses {
			sum += l
		}
		return sum
	case lang.MethodMax:
		max := losses[0]
		for _, l := range losses[1:] {
			if l > max {
				max = l
			}
		}
		return max
	case lang.MethodMixture, lang.MethodChooseOne:
		ar := newStream(seed, aggregateStreamLabel, run)
		u := ar.Float64()
		cum := 0.0
		for i, w := range weights {
			cum += w
			if u <= cum {
				return losses[i]
			}
		}
		return losses[len(losses)-1]
	}
	return 0
}

// normalizedWeights returns the mixture selection weights. A non-positive sum
// falls back to equal weighting.
func normalizedWeights(scenarios []compiledScenario) []float64 {
	weights := make([]float64, len(scenarios))
	sum := 0.0
	for i, sc := range scenarios {
		w := sc.weight
		if w < 0 || math.IsNaN(w) {
			w = 0
		}
		weights[i] = w
		sum += w
	}
	if sum <= 0 {
		for i := range weights {
			weights[i] = 1.0 / float64(len(weights))
		}
		return weights
	}
	for i := range weights {
		weights[i] /= sum
	}
	return weights
}

func clampNonFinite(values []float64) int {
	clamped := 0
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			values[i] = 0
			clamped++
		}
	}
	return clamped
}

// fillResults populates the envelope's measures and artifacts from the final
// loss vector, in the output currency.
func (e *Engine) fillResults(env *lang.ResultEnvelope, total []float64) {
	code := e.conv.Output()
	unit := &lang.CurrencyUnit{Kind: "currency", Code: code, Symbol: fx.Symbol(code)}
	env.Units = &lang.Units{Currency: *unit, Horizon: "annual"}

	m := Summarize(total)
	varLabel := "Value at Risk"
	env.Results.Measures = []lang.Measure{
		{ID: lang.MeasureEAL, Label: "Expected Annual Loss", Value: m.EAL, Unit: unit},
		{ID: lang.MeasureMin, Label: "Minimum Loss", Value: m.Min, Unit: unit},
		{ID: lang.MeasureMax, Label: "Maximum Loss", Value: m.Max, Unit: unit},
		{ID: lang.MeasureMedian, Label: "Median Loss", Value: m.Median, Unit: unit},
		{ID: lang.MeasureStdDev, Label: "Standard Deviation", Value: m.StdDev, Unit: unit},
		{ID: lang.MeasureVaR, Label: varLabel, Value: m.VaR95, Unit: unit, Parameters: map[string]interface{}{"level": 0.95}},
		{ID: lang.MeasureVaR, Label: varLabel, Value: m.VaR99, Unit: unit, Parameters: map[string]interface{}{"level": 0.99}},
		{ID: lang.MeasureVaR, Label: varLabel, Value: m.VaR999, Unit: unit, Parameters: map[string]interface{}{"level": 0.999}},
	}

	edges, counts := Histogram(total, e.opts.HistogramBins)
	if len(edges) > 0 {
		env.Results.Artifacts = append(env.Results.Artifacts, lang.Artifact{
			Kind:     lang.ArtifactHistogram,
			ID:       "loss.annual",
			Unit:     unit,
			BinEdges: edges,
			Counts:   counts,
			Binning:  map[string]interface{}{"method": "fixed_bins", "bin_count": len(counts)},
		})
	}

	limit := e.opts.RawSampleLimit
	if limit > len(total) {
		limit = len(total)
	}
	env.Results.Artifacts = append(env.Results.Artifacts, lang.Artifact{
		Kind:                lang.ArtifactSamples,
		ID:                  "loss.annual",
		Unit:                unit,
		Values:              append([]float64(nil), total[:limit]...),
		SampleCountTotal:    len(total),
		SampleCountReturned: limit,
		Sampling:            map[string]interface{}{"method": "first_n"},
	})
}
