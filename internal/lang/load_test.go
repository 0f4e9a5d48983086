package lang

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const scenarioYAML = `
crml_scenario: "1.0"
meta:
  name: "ransomware-endpoints"
  description: "Ransomware against the endpoint fleet"
scenario:
  frequency:
    basis: per_asset_unit_per_year
    model: poisson
    parameters:
      lambda: 0.1
  severity:
    model: lognormal
    parameters:
      median: "45 000"
      sigma: 1.2
      currency: EUR
  controls:
    - "cisv8:10.1"
    - id: "cisv8:11.1"
      potency: 0.8
      coverage: {value: "75%", basis: endpoints}
`

const portfolioYAML = `
crml_portfolio: "1.0"
meta:
  name: "acme-2026"
portfolio:
  assets:
    - {name: laptops, cardinality: 400, tags: [endpoint]}
    - {name: servers, cardinality: 100, tags: [dc]}
  controls:
    - id: "cisv8:10.1"
      implementation_effectiveness: 0.9
      coverage: {value: 1.0, basis: endpoints}
      reliability: 0.99
      affects: frequency
  scenarios:
    - id: ransomware
      path: scenarios/ransomware.yaml
      weight: 0.7
      binding:
        applies_to_assets: [laptops]
  semantics:
    method: sum
  dependency:
    copula:
      type: gaussian
      targets: ["control:cisv8:10.1:state"]
      structure: toeplitz
      rho: 0.6
`

func TestParseScenario_FullDocument(t *testing.T) {
	doc, err := ParseScenario([]byte(scenarioYAML))
	require.NoError(t, err)

	assert.Equal(t, "ransomware-endpoints", doc.Meta.Name)
	assert.Equal(t, BasisPerAssetUnitPerYear, doc.Scenario.Frequency.Basis)
	assert.Equal(t, 0.1, doc.Scenario.Frequency.Parameters.Lambda.Value)
	assert.Equal(t, 45000.0, doc.Scenario.Severity.Parameters.Median.Value, "numberish median should parse")
	assert.Equal(t, "EUR", doc.Scenario.Severity.Parameters.Currency)

	require.Len(t, doc.Scenario.Controls, 2)
	assert.Equal(t, "cisv8:10.1", doc.Scenario.Controls[0].ID, "bare string reference")
	assert.False(t, doc.Scenario.Controls[0].Potency.Set)

	c := doc.Scenario.Controls[1]
	assert.Equal(t, "cisv8:11.1", c.ID)
	assert.Equal(t, 0.8, c.Potency.Value)
	require.NotNil(t, c.Coverage)
	assert.InDelta(t, 0.75, c.Coverage.Value.Value, 1e-12, "percent coverage factor")
}

func TestParseScenario_MissingModelFails(t *testing.T) {
	_, err := ParseScenario([]byte("crml_scenario: \"1.0\"\nmeta: {name: x}\nscenario:\n  frequency: {model: poisson}\n  severity: {}\n"))
	assert.Error(t, err, "severity.model is mandatory")
}

func TestParsePortfolio_FullDocument(t *testing.T) {
	doc, err := ParsePortfolio([]byte(portfolioYAML))
	require.NoError(t, err)

	require.Len(t, doc.Portfolio.Assets, 2)
	assert.Equal(t, 400, doc.Portfolio.Assets[0].Cardinality)

	require.Len(t, doc.Portfolio.Scenarios, 1)
	ref := doc.Portfolio.Scenarios[0]
	assert.Equal(t, "ransomware", ref.ID)
	assert.Equal(t, 0.7, ref.Weight.Value)
	require.NotNil(t, ref.Binding.AppliesToAssets)
	assert.Equal(t, []string{"laptops"}, *ref.Binding.AppliesToAssets)

	require.NotNil(t, doc.Portfolio.Dependency)
	cop := doc.Portfolio.Dependency.Copula
	require.NotNil(t, cop)
	assert.Equal(t, "toeplitz", cop.Structure)
	assert.Equal(t, 0.6, cop.Rho.Value)
}

func TestParsePortfolio_OmittedBindingIsNil(t *testing.T) {
	yamlText := `
crml_portfolio: "1.0"
meta: {name: p}
portfolio:
  assets: [{name: a, cardinality: 1}]
  scenarios: [{id: s, path: s.yaml}]
  semantics: {method: sum}
`
	doc, err := ParsePortfolio([]byte(yamlText))
	require.NoError(t, err)
	assert.Nil(t, doc.Portfolio.Scenarios[0].Binding.AppliesToAssets,
		"omitted applies_to_assets must stay nil (binds all assets), distinct from an empty list")
}

func TestParseAssessment_CMMExclusivity(t *testing.T) {
	good := `
crml_assessment: "1.0"
meta: {name: a}
assessment:
  framework: CISv8
  assessments:
    - id: "cisv8:2.3"
      scf_cmm_level: 4
`
	doc, err := ParseAssessment([]byte(good))
	require.NoError(t, err)
	require.NotNil(t, doc.Assessment.Assessments[0].SCFCMMLevel)
	assert.Equal(t, 4, *doc.Assessment.Assessments[0].SCFCMMLevel)

	mixed := `
crml_assessment: "1.0"
meta: {name: a}
assessment:
  framework: Org
  assessments:
    - id: "org:iam.mfa"
      scf_cmm_level: 3
      implementation_effectiveness: 0.7
`
	_, err = ParseAssessment([]byte(mixed))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "either scf_cmm_level")
}

func TestParseAssessment_LegacyTopLevelKey(t *testing.T) {
	legacy := `
crml_control_assessment: "1.0"
meta: {name: a}
assessment:
  framework: CISv8
  assessments:
    - id: "cisv8:2.3"
      implementation_effectiveness: 0.9
`
	doc, err := ParseAssessment([]byte(legacy))
	require.NoError(t, err)
	assert.Equal(t, "1.0", doc.CRMLAssessment)
}

func TestDetectKind(t *testing.T) {
	kind, err := DetectKind([]byte(portfolioYAML))
	require.NoError(t, err)
	assert.Equal(t, KindPortfolio, kind)

	kind, err = DetectKind([]byte(scenarioYAML))
	require.NoError(t, err)
	assert.Equal(t, KindScenario, kind)

	kind, err = DetectKind([]byte("foo: bar\n"))
	require.NoError(t, err)
	assert.Equal(t, KindUnknown, kind)
}
