package plan

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crml-dev/crmlrun/internal/lang"
)

func scenarioDoc(t *testing.T, text string) *lang.ScenarioDoc {
	t.Helper()
	doc, err := lang.ParseScenario([]byte(text))
	require.NoError(t, err)
	return doc
}

func portfolioDoc(t *testing.T, text string) *lang.PortfolioDoc {
	t.Helper()
	doc, err := lang.ParsePortfolio([]byte(text))
	require.NoError(t, err)
	return doc
}

const plannerScenario = `
crml_scenario: "1.0"
meta: {name: ransomware, description: d}
scenario:
  frequency:
    basis: per_asset_unit_per_year
    model: poisson
    parameters: {lambda: 0.1}
  severity:
    model: lognormal
    parameters: {median: 40000, sigma: 1.1, currency: USD}
  controls:
    - "cisv8:10.1"
`

const plannerPortfolio = `
crml_portfolio: "1.0"
meta: {name: acme}
portfolio:
  assets:
    - {name: laptops, cardinality: 400, tags: [endpoint]}
    - {name: servers, cardinality: 100, tags: [dc]}
  controls:
    - id: "cisv8:10.1"
      implementation_effectiveness: 0.9
      coverage: {value: 0.8, basis: endpoints}
      reliability: 0.95
      affects: frequency
  scenarios:
    - id: ransomware
      path: s.yaml
      binding: {applies_to_assets: [laptops]}
  semantics: {method: sum}
`

func TestPlanPortfolio_ExposureFromBoundAssets(t *testing.T) {
	portfolio := portfolioDoc(t, plannerPortfolio)
	scenarios := map[string]*lang.ScenarioDoc{"ransomware": scenarioDoc(t, plannerScenario)}

	p, err := PlanPortfolio(portfolio, scenarios, nil, nil, Options{})
	require.NoError(t, err)
	require.Len(t, p.Scenarios, 1)

	sp := p.Scenarios[0]
	assert.Equal(t, 400.0, sp.Exposure, "exposure sums cardinality of bound assets only")
	assert.Equal(t, []string{"laptops"}, sp.BoundAssets)

	require.Len(t, sp.Controls, 1)
	rc := sp.Controls[0]
	assert.Equal(t, 0.9, rc.Effectiveness)
	assert.Equal(t, 0.8, rc.Coverage)
	assert.Equal(t, 0.95, rc.Reliability)
	assert.Equal(t, lang.AffectsFrequency, rc.Affects)
}

func TestPlanPortfolio_OrganizationBasisIgnoresCardinality(t *testing.T) {
	scenario := scenarioDoc(t, `
crml_scenario: "1.0"
meta: {name: bec, description: d}
scenario:
  frequency: {basis: per_organization_per_year, model: poisson, parameters: {lambda: 2.0}}
  severity: {model: lognormal, parameters: {median: 20000, sigma: 0.9, currency: USD}}
`)
	portfolio := portfolioDoc(t, plannerPortfolio)
	portfolio.Portfolio.Scenarios[0].ID = "bec"

	p, err := PlanPortfolio(portfolio, map[string]*lang.ScenarioDoc{"bec": scenario}, nil, nil, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1.0, p.Scenarios[0].Exposure)
}

func TestPlanPortfolio_CollectsAllErrors(t *testing.T) {
	portfolio := portfolioDoc(t, `
crml_portfolio: "1.0"
meta: {name: broken}
portfolio:
  assets: [{name: a, cardinality: 10}]
  scenarios:
    - {id: missing, path: missing.yaml}
    - id: badbind
      path: b.yaml
      binding: {applies_to_assets: [ghost]}
  semantics: {method: median}
`)
	scenarios := map[string]*lang.ScenarioDoc{"badbind": scenarioDoc(t, plannerScenario)}

	_, err := PlanPortfolio(portfolio, scenarios, nil, nil, Options{})
	require.Error(t, err)
	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.GreaterOrEqual(t, len(perr.Messages), 3, "method, missing scenario, and unknown asset must all be reported: %v", perr.Messages)
}

func TestPlanPortfolio_EmptyBindingIsError(t *testing.T) {
	portfolio := portfolioDoc(t, plannerPortfolio)
	empty := []string{}
	portfolio.Portfolio.Scenarios[0].Binding.AppliesToAssets = &empty

	_, err := PlanPortfolio(portfolio, map[string]*lang.ScenarioDoc{"ransomware": scenarioDoc(t, plannerScenario)}, nil, nil, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "binds no assets")
}

func TestPlanPortfolio_PrecedenceScenarioOverInventoryOverAssessment(t *testing.T) {
	scenario := scenarioDoc(t, `
crml_scenario: "1.0"
meta: {name: s, description: d}
scenario:
  frequency: {model: poisson, parameters: {lambda: 1.0}}
  severity: {model: lognormal, parameters: {median: 10000, sigma: 1.0, currency: USD}}
  controls:
    - id: "cisv8:10.1"
      implementation_effectiveness: 0.5
      potency: 0.5
`)
	portfolio := portfolioDoc(t, plannerPortfolio)
	portfolio.Portfolio.Scenarios[0].ID = "s"
	portfolio.Portfolio.Scenarios[0].Binding.AppliesToAssets = nil

	assessment, err := lang.ParseAssessment([]byte(`
crml_assessment: "1.0"
meta: {name: a}
assessment:
  framework: CISv8
  assessments:
    - {id: "cisv8:10.1", implementation_effectiveness: 0.2, reliability: 0.5}
`))
	require.NoError(t, err)

	p, err := PlanPortfolio(portfolio, map[string]*lang.ScenarioDoc{"s": scenario},
		nil, []*lang.AssessmentDoc{assessment}, Options{})
	require.NoError(t, err)

	rc := p.Scenarios[0].Controls[0]
	assert.InDelta(t, 0.225, rc.Effectiveness, 1e-12,
		"inventory effectiveness 0.9 scaled by scenario factor 0.5 and potency 0.5")
	assert.Equal(t, 0.95, rc.Reliability, "inventory reliability overrides assessment")
}

func TestPlanPortfolio_ScenarioFactorsScaleInventory(t *testing.T) {
	scenario := scenarioDoc(t, `
crml_scenario: "1.0"
meta: {name: s, description: d}
scenario:
  frequency: {model: poisson, parameters: {lambda: 1.0}}
  severity: {model: lognormal, parameters: {median: 10000, sigma: 1.0, currency: USD}}
  controls:
    - id: "cisv8:10.1"
      implementation_effectiveness: 0.5
      coverage: {value: 0.5}
`)
	portfolio := portfolioDoc(t, `
crml_portfolio: "1.0"
meta: {name: acme}
portfolio:
  assets: [{name: laptops, cardinality: 10}]
  controls:
    - id: "cisv8:10.1"
      implementation_effectiveness: 0.4
      coverage: {value: 0.5, basis: endpoints}
  scenarios: [{id: s, path: s.yaml}]
  semantics: {method: sum}
`)

	p, err := PlanPortfolio(portfolio, map[string]*lang.ScenarioDoc{"s": scenario}, nil, nil, Options{})
	require.NoError(t, err)

	rc := p.Scenarios[0].Controls[0]
	assert.InDelta(t, 0.2, rc.Effectiveness, 1e-12, "scenario value multiplies the inventory value, it does not replace it")
	assert.InDelta(t, 0.25, rc.Coverage, 1e-12, "coverage factors compose the same way")
	assert.Equal(t, "endpoints", rc.CoverageBasis)
}

func TestPlanPortfolio_NoPostureSourceIsError(t *testing.T) {
	portfolio := portfolioDoc(t, `
crml_portfolio: "1.0"
meta: {name: acme}
portfolio:
  assets: [{name: laptops, cardinality: 10}]
  scenarios: [{id: ransomware, path: s.yaml}]
  semantics: {method: sum}
`)
	scenarios := map[string]*lang.ScenarioDoc{"ransomware": scenarioDoc(t, plannerScenario)}

	_, err := PlanPortfolio(portfolio, scenarios, nil, nil, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no posture")

	p, err := PlanPortfolio(portfolio, scenarios, nil, nil, Options{LenientReferences: true})
	require.NoError(t, err)
	assert.Empty(t, p.Scenarios[0].Controls, "lenient mode skips the unresolvable reference")
	assert.NotEmpty(t, p.Warnings)
}

func TestPlanPortfolio_ZeroCardinalityBindingIsError(t *testing.T) {
	scenario := scenarioDoc(t, `
crml_scenario: "1.0"
meta: {name: s, description: d}
scenario:
  frequency: {basis: per_asset_unit_per_year, model: poisson, parameters: {lambda: 0.1}}
  severity: {model: lognormal, parameters: {median: 10000, sigma: 1.0, currency: USD}}
`)
	portfolio := portfolioDoc(t, `
crml_portfolio: "1.0"
meta: {name: acme}
portfolio:
  assets: [{name: decommissioned, cardinality: 0}]
  scenarios: [{id: s, path: s.yaml}]
  semantics: {method: sum}
`)

	_, err := PlanPortfolio(portfolio, map[string]*lang.ScenarioDoc{"s": scenario}, nil, nil, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "zero total cardinality")

	p, err := PlanPortfolio(portfolio, map[string]*lang.ScenarioDoc{"s": scenario}, nil, nil, Options{LenientReferences: true})
	require.NoError(t, err)
	assert.Equal(t, 0.0, p.Scenarios[0].Exposure)
	assert.NotEmpty(t, p.Warnings)
}

func TestPlanPortfolio_OrganizationBasisBindingWarns(t *testing.T) {
	scenario := scenarioDoc(t, `
crml_scenario: "1.0"
meta: {name: bec, description: d}
scenario:
  frequency: {basis: per_organization_per_year, model: poisson, parameters: {lambda: 2.0}}
  severity: {model: lognormal, parameters: {median: 20000, sigma: 0.9, currency: USD}}
`)
	portfolio := portfolioDoc(t, plannerPortfolio)
	portfolio.Portfolio.Scenarios[0].ID = "bec"

	p, err := PlanPortfolio(portfolio, map[string]*lang.ScenarioDoc{"bec": scenario}, nil, nil, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1.0, p.Scenarios[0].Exposure)

	found := false
	for _, w := range p.Warnings {
		if strings.Contains(w.Message, "does not scale exposure") {
			found = true
		}
	}
	assert.True(t, found, "explicit binding on an organization-basis scenario should warn: %v", p.Warnings)
}

func TestPlanPortfolio_CMMLevelMapsToEffectiveness(t *testing.T) {
	scenario := scenarioDoc(t, plannerScenario)
	portfolio := portfolioDoc(t, `
crml_portfolio: "1.0"
meta: {name: acme}
portfolio:
  assets: [{name: laptops, cardinality: 10}]
  scenarios: [{id: ransomware, path: s.yaml}]
  semantics: {method: sum}
`)
	assessment, err := lang.ParseAssessment([]byte(`
crml_assessment: "1.0"
meta: {name: a}
assessment:
  framework: SCF
  assessments:
    - {id: "cisv8:10.1", scf_cmm_level: 4}
`))
	require.NoError(t, err)

	p, err := PlanPortfolio(portfolio, map[string]*lang.ScenarioDoc{"ransomware": scenario},
		nil, []*lang.AssessmentDoc{assessment}, Options{})
	require.NoError(t, err)
	assert.Equal(t, 0.70, p.Scenarios[0].Controls[0].Effectiveness)
}

func TestPlanPortfolio_CatalogGatesControlIDs(t *testing.T) {
	catalog, err := lang.ParseCatalog([]byte(`
crml_control_catalog: "1.0"
meta: {name: cisv8}
catalog:
  framework: CISv8
  controls:
    - {id: "cisv8:99.9", title: other}
`))
	require.NoError(t, err)

	portfolio := portfolioDoc(t, plannerPortfolio)
	scenarios := map[string]*lang.ScenarioDoc{"ransomware": scenarioDoc(t, plannerScenario)}

	_, err = PlanPortfolio(portfolio, scenarios, []*lang.CatalogDoc{catalog}, nil, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found in any supplied catalog")

	p, err := PlanPortfolio(portfolio, scenarios, []*lang.CatalogDoc{catalog}, nil, Options{LenientReferences: true})
	require.NoError(t, err)
	assert.Empty(t, p.Scenarios[0].Controls, "lenient mode drops the unknown reference")
}

func TestPlanPortfolio_CopulaToeplitz(t *testing.T) {
	portfolio := portfolioDoc(t, plannerPortfolio)
	portfolio.Portfolio.Controls = append(portfolio.Portfolio.Controls, lang.PortfolioControl{ID: "cisv8:11.1"})
	portfolio.Portfolio.Dependency = &lang.PortfolioDependency{Copula: &lang.DependencyCopula{
		Type:      "gaussian",
		Targets:   []string{"control:cisv8:10.1:state", "control:cisv8:11.1:state"},
		Structure: "toeplitz",
		Rho:       lang.Number{Value: 0.6, Set: true},
	}}

	p, err := PlanPortfolio(portfolio, map[string]*lang.ScenarioDoc{"ransomware": scenarioDoc(t, plannerScenario)}, nil, nil, Options{})
	require.NoError(t, err)
	require.NotNil(t, p.Copula)
	assert.Equal(t, []string{"cisv8:10.1", "cisv8:11.1"}, p.Copula.ControlIDs)
	assert.InDelta(t, 0.6, p.Copula.Matrix[0][1], 1e-12)
	assert.Equal(t, 1.0, p.Copula.Matrix[0][0])
}

func TestPlanPortfolio_CopulaAcceptsAssessedControls(t *testing.T) {
	portfolio := portfolioDoc(t, plannerPortfolio)
	portfolio.Portfolio.Dependency = &lang.PortfolioDependency{Copula: &lang.DependencyCopula{
		Type:      "gaussian",
		Targets:   []string{"control:cisv8:10.1:state", "control:cisv8:99.1:state"},
		Structure: "toeplitz",
		Rho:       lang.Number{Value: 0.3, Set: true},
	}}
	assessment, err := lang.ParseAssessment([]byte(`
crml_assessment: "1.0"
meta: {name: a}
assessment:
  framework: CISv8
  assessments:
    - {id: "cisv8:99.1", implementation_effectiveness: 0.6}
`))
	require.NoError(t, err)

	p, err := PlanPortfolio(portfolio, map[string]*lang.ScenarioDoc{"ransomware": scenarioDoc(t, plannerScenario)},
		nil, []*lang.AssessmentDoc{assessment}, Options{})
	require.NoError(t, err, "a control known only through an assessment pack is a valid copula target")
	require.NotNil(t, p.Copula)
	assert.Equal(t, []string{"cisv8:10.1", "cisv8:99.1"}, p.Copula.ControlIDs)
}

func TestPlanPortfolio_CopulaBadTarget(t *testing.T) {
	portfolio := portfolioDoc(t, plannerPortfolio)
	portfolio.Portfolio.Dependency = &lang.PortfolioDependency{Copula: &lang.DependencyCopula{
		Targets: []string{"asset:laptops:state"},
	}}

	_, err := PlanPortfolio(portfolio, map[string]*lang.ScenarioDoc{"ransomware": scenarioDoc(t, plannerScenario)}, nil, nil, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported copula target")
}

func TestPlanScenario_StandaloneUnitExposure(t *testing.T) {
	doc := scenarioDoc(t, `
crml_scenario: "1.0"
meta: {name: solo, description: d}
scenario:
  frequency: {model: poisson, parameters: {lambda: 0.5}}
  severity: {model: lognormal, parameters: {median: 10000, sigma: 1.0, currency: USD}}
  controls:
    - "cisv8:10.1"
    - {id: "cisv8:11.1", implementation_effectiveness: 0.6}
`)
	p, err := PlanScenario(doc, Options{})
	require.NoError(t, err)
	require.Len(t, p.Scenarios, 1)
	assert.Equal(t, 1.0, p.Scenarios[0].Exposure)
	require.Len(t, p.Scenarios[0].Controls, 1, "bare reference without posture is skipped")
	assert.Equal(t, "cisv8:11.1", p.Scenarios[0].Controls[0].ID)
	assert.NotEmpty(t, p.Warnings)
}

func TestToeplitzMatrix_Shape(t *testing.T) {
	m := ToeplitzMatrix(3, 0.5)
	assert.Equal(t, 1.0, m[1][1])
	assert.Equal(t, 0.5, m[0][1])
	assert.Equal(t, 0.25, m[0][2])
	assert.Equal(t, m[2][0], m[0][2])
}

func TestValidateCorrMatrix_Failures(t *testing.T) {
	cases := []struct {
		name   string
		matrix [][]float64
		substr string
	}{
		{"wrong dim", [][]float64{{1}}, "expected 2"},
		{"bad diagonal", [][]float64{{1, 0}, {0, 0.5}}, "must be 1"},
		{"asymmetric", [][]float64{{1, 0.3}, {0.4, 1}}, "not symmetric"},
		{"out of range", [][]float64{{1, 1.5}, {1.5, 1}}, "[-1, 1]"},
	}
	for i, tc := range cases {
		err := ValidateCorrMatrix(tc.matrix, 2)
		require.Error(t, err, fmt.Sprintf("case %d (%s)", i, tc.name))
		assert.Contains(t, err.Error(), tc.substr, tc.name)
	}
}

func TestEffectivenessFromCMM(t *testing.T) {
	eff, err := EffectivenessFromCMM(0)
	require.NoError(t, err)
	assert.Equal(t, 0.0, eff)

	eff, err = EffectivenessFromCMM(5)
	require.NoError(t, err)
	assert.Equal(t, 0.90, eff)

	_, err = EffectivenessFromCMM(6)
	assert.Error(t, err)
}
