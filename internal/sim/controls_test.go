package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crml-dev/crmlrun/internal/lang"
	"github.com/crml-dev/crmlrun/internal/plan"
)

func TestCholesky_IdentityAndToeplitz(t *testing.T) {
	l, err := cholesky([][]float64{{1, 0}, {0, 1}})
	require.NoError(t, err)
	assert.Equal(t, 1.0, l[0][0])
	assert.Equal(t, 0.0, l[1][0])

	l, err = cholesky(plan.ToeplitzMatrix(3, 0.5))
	require.NoError(t, err)
	assert.InDelta(t, 0.5, l[1][0], 1e-12)
}

func TestNewCopulaSampler_JitterRecoversDegenerateMatrix(t *testing.T) {
	// rho=1 is positive semi-definite only; the jitter retry must accept it
	cs, err := newCopulaSampler(plan.ToeplitzMatrix(2, 1.0))
	require.NoError(t, err)

	r := newStream(123, controlsStreamLabel, 0)
	for i := 0; i < 200; i++ {
		u := cs.draw(r)
		assert.InDelta(t, u[0], u[1], 0.01, "perfectly correlated targets draw near-identical uniforms")
	}
}

func TestControlModel_PerfectCorrelationCouplesStates(t *testing.T) {
	p := &plan.ExecutionPlan{
		Method: lang.MethodSum,
		Scenarios: []*plan.ScenarioPlan{{
			ID: "s",
			Controls: []plan.ResolvedControl{
				{ID: "a", Reliability: 0.5, Effectiveness: 0.5, Coverage: 1, Affects: lang.AffectsFrequency},
				{ID: "b", Reliability: 0.5, Effectiveness: 0.5, Coverage: 1, Affects: lang.AffectsFrequency},
			},
		}},
		Copula: &plan.CopulaPlan{ControlIDs: []string{"a", "b"}, Matrix: plan.ToeplitzMatrix(2, 1.0)},
	}
	cm, err := buildControlModel(p)
	require.NoError(t, err)

	// the PSD jitter leaves a hair of independent noise, so allow a handful
	// of disagreements right at the reliability threshold
	mismatches := 0
	for i := 0; i < 500; i++ {
		states := cm.sampleStates(newStream(99, controlsStreamLabel, i))
		if states["a"] != states["b"] {
			mismatches++
		}
	}
	assert.LessOrEqual(t, mismatches, 5, "equal reliability under rho=1 should fail together almost always")
}

func TestControlModel_ReliabilityOneIsAlwaysUp(t *testing.T) {
	p := &plan.ExecutionPlan{
		Method: lang.MethodSum,
		Scenarios: []*plan.ScenarioPlan{{
			ID: "s",
			Controls: []plan.ResolvedControl{
				{ID: "a", Reliability: 1.0, Effectiveness: 0.9, Coverage: 1, Affects: lang.AffectsFrequency},
			},
		}},
	}
	cm, err := buildControlModel(p)
	require.NoError(t, err)

	for i := 0; i < 200; i++ {
		states := cm.sampleStates(newStream(1, controlsStreamLabel, i))
		assert.True(t, states["a"])
	}
}

func TestControlModel_FirstDeclarationWinsReliability(t *testing.T) {
	p := &plan.ExecutionPlan{
		Method: lang.MethodSum,
		Scenarios: []*plan.ScenarioPlan{
			{ID: "s1", Controls: []plan.ResolvedControl{{ID: "a", Reliability: 1.0, Affects: lang.AffectsFrequency}}},
			{ID: "s2", Controls: []plan.ResolvedControl{{ID: "a", Reliability: 0.0, Affects: lang.AffectsFrequency}}},
		},
	}
	cm, err := buildControlModel(p)
	require.NoError(t, err)
	assert.Equal(t, 1.0, cm.reliability["a"], "a control keeps the reliability of its first declaration")
}

func TestScenarioMultipliers_Surfaces(t *testing.T) {
	controls := []plan.ResolvedControl{
		{ID: "f", Effectiveness: 0.5, Coverage: 1, Affects: lang.AffectsFrequency},
		{ID: "s", Effectiveness: 0.5, Coverage: 0.5, Affects: lang.AffectsSeverity},
		{ID: "b", Effectiveness: 0.2, Coverage: 1, Affects: lang.AffectsBoth},
	}
	states := map[string]bool{"f": true, "s": true, "b": true}

	freqMult, sevMult := scenarioMultipliers(controls, states)
	assert.InDelta(t, 0.5*0.8, freqMult, 1e-12)
	assert.InDelta(t, 0.75*0.8, sevMult, 1e-12)

	states["f"] = false
	freqMult, _ = scenarioMultipliers(controls, states)
	assert.InDelta(t, 0.8, freqMult, 1e-12, "a failed control contributes no reduction")

	// unsampled controls default to up
	freqMult, _ = scenarioMultipliers(controls, map[string]bool{})
	assert.InDelta(t, 0.5*0.8, freqMult, 1e-12)
}

func TestSamplePoisson_MeanTracksLambda(t *testing.T) {
	r := newStream(5, "poisson", 0)
	for _, lambda := range []float64{0.5, 8, 120} {
		n := 20000
		sum := 0
		for i := 0; i < n; i++ {
			sum += samplePoisson(r, lambda)
		}
		mean := float64(sum) / float64(n)
		assert.InEpsilon(t, lambda, mean, 0.05, "lambda=%g", lambda)
	}
	assert.Equal(t, 0, samplePoisson(r, 0))
	assert.Equal(t, 0, samplePoisson(r, -1))
}

func TestSampleGamma_MeanIsShapeTimesScale(t *testing.T) {
	r := newStream(6, "gamma", 0)
	for _, tc := range []struct{ shape, scale float64 }{{0.5, 2}, {2, 3}, {9, 0.5}} {
		n := 20000
		sum := 0.0
		for i := 0; i < n; i++ {
			sum += sampleGamma(r, tc.shape, tc.scale)
		}
		assert.InEpsilon(t, tc.shape*tc.scale, sum/float64(n), 0.05, "shape=%g scale=%g", tc.shape, tc.scale)
	}
}

func TestStreamSeed_IndependentAxes(t *testing.T) {
	assert.NotEqual(t, streamSeed(1, "a", 0), streamSeed(1, "a", 1))
	assert.NotEqual(t, streamSeed(1, "a", 0), streamSeed(1, "b", 0))
	assert.NotEqual(t, streamSeed(1, "a", 0), streamSeed(2, "a", 0))
	assert.Equal(t, streamSeed(7, "x", 3), streamSeed(7, "x", 3))
}

func TestFrequencySampler_GammaPoissonMean(t *testing.T) {
	freq, err := compileFrequency(lang.Frequency{
		Model: FreqGammaPoisson,
		Parameters: lang.FrequencyParameters{
			Alpha: lang.Number{Value: 2.0, Set: true},
			Beta:  lang.Number{Value: 1.5, Set: true},
		},
	})
	require.NoError(t, err)

	// counts are Poisson mixed over Gamma(2, 1.5), so the marginal mean is
	// alpha * beta * exposure
	r := newStream(11, "gamma_poisson", 0)
	n := 20000
	sum := 0
	for i := 0; i < n; i++ {
		sum += freq.sample(r, 10, 1.0)
	}
	assert.InEpsilon(t, 2.0*1.5*10, float64(sum)/float64(n), 0.05)

	missing, err := compileFrequency(lang.Frequency{Model: FreqGammaPoisson})
	require.NoError(t, err)
	assert.Equal(t, 0, missing.sample(r, 10, 1.0), "unset parameters collapse to zero events")
}

func TestFrequencySampler_HierarchicalDefaults(t *testing.T) {
	freq, err := compileFrequency(lang.Frequency{Model: FreqHierarchicalGammaPoisson})
	require.NoError(t, err)

	r := newStream(12, "hier", 0)
	n := 20000
	sum := 0
	for i := 0; i < n; i++ {
		sum += freq.sample(r, 1, 1.0)
	}
	assert.InEpsilon(t, 1.5*1.5, float64(sum)/float64(n), 0.05,
		"omitted hierarchical parameters fall back to alpha_base=beta_base=1.5")
}

func TestCompileFrequency_UnknownModel(t *testing.T) {
	_, err := compileFrequency(lang.Frequency{Model: "weibull"})
	require.Error(t, err)
	var ume *UnsupportedModelError
	require.ErrorAs(t, err, &ume)
	assert.Equal(t, "frequency", ume.Kind)
}
