package lang

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Document kind detection keys. A YAML document is classified by its
// top-level version field.
const (
	KindScenario   = "scenario"
	KindPortfolio  = "portfolio"
	KindBundle     = "bundle"
	KindCatalog    = "catalog"
	KindAssessment = "assessment"
	KindUnknown    = "unknown"
)

// DetectKind classifies raw YAML by its top-level CRML version key without
// fully decoding the document.
func DetectKind(data []byte) (string, error) {
	var probe map[string]interface{}
	if err := yaml.Unmarshal(data, &probe); err != nil {
		return KindUnknown, fmt.Errorf("failed to parse YAML: %w", err)
	}
	switch {
	case probe["crml_portfolio_bundle"] != nil:
		return KindBundle, nil
	case probe["crml_portfolio"] != nil:
		return KindPortfolio, nil
	case probe["crml_scenario"] != nil:
		return KindScenario, nil
	case probe["crml_control_catalog"] != nil:
		return KindCatalog, nil
	case probe["crml_assessment"] != nil, probe["crml_control_assessment"] != nil:
		return KindAssessment, nil
	}
	return KindUnknown, nil
}

func decodeStrictTopLevel(data []byte, out interface{}, what string) error {
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse %s YAML: %w", what, err)
	}
	return nil
}

// ParseScenario decodes and shape-checks a scenario document.
func ParseScenario(data []byte) (*ScenarioDoc, error) {
	var doc ScenarioDoc
	if err := decodeStrictTopLevel(data, &doc, "scenario"); err != nil {
		return nil, err
	}
	if doc.CRMLScenario == "" {
		return nil, fmt.Errorf("missing 'crml_scenario' version field")
	}
	if doc.Scenario.Frequency.Model == "" {
		return nil, fmt.Errorf("scenario.frequency.model is required")
	}
	if doc.Scenario.Severity.Model == "" {
		return nil, fmt.Errorf("scenario.severity.model is required")
	}
	return &doc, nil
}

// ParsePortfolio decodes and shape-checks a portfolio document.
func ParsePortfolio(data []byte) (*PortfolioDoc, error) {
	var doc PortfolioDoc
	if err := decodeStrictTopLevel(data, &doc, "portfolio"); err != nil {
		return nil, err
	}
	if doc.CRMLPortfolio == "" {
		return nil, fmt.Errorf("missing 'crml_portfolio' version field")
	}
	if len(doc.Portfolio.Scenarios) == 0 {
		return nil, fmt.Errorf("portfolio.scenarios must not be empty")
	}
	if doc.Portfolio.Semantics.Method == "" {
		return nil, fmt.Errorf("portfolio.semantics.method is required")
	}
	for i, a := range doc.Portfolio.Assets {
		if a.Name == "" {
			return nil, fmt.Errorf("portfolio.assets[%d].name is required", i)
		}
		if a.Cardinality < 0 {
			return nil, fmt.Errorf("portfolio.assets[%d].cardinality must be >= 0", i)
		}
	}
	return &doc, nil
}

// ParseBundle decodes and shape-checks a portfolio bundle document.
func ParseBundle(data []byte) (*BundleDoc, error) {
	var doc BundleDoc
	if err := decodeStrictTopLevel(data, &doc, "bundle"); err != nil {
		return nil, err
	}
	if doc.CRMLPortfolioBundle == "" {
		return nil, fmt.Errorf("missing 'crml_portfolio_bundle' version field")
	}
	return &doc, nil
}

// ParseCatalog decodes and shape-checks a control catalog document.
func ParseCatalog(data []byte) (*CatalogDoc, error) {
	var doc CatalogDoc
	if err := decodeStrictTopLevel(data, &doc, "control catalog"); err != nil {
		return nil, err
	}
	if doc.CRMLControlCatalog == "" {
		return nil, fmt.Errorf("missing 'crml_control_catalog' version field")
	}
	return &doc, nil
}

// ParseAssessment decodes and shape-checks a control assessment document.
// The legacy top-level key 'crml_control_assessment' is accepted.
func ParseAssessment(data []byte) (*AssessmentDoc, error) {
	var doc AssessmentDoc
	if err := decodeStrictTopLevel(data, &doc, "assessment"); err != nil {
		return nil, err
	}
	if doc.CRMLAssessment == "" {
		var legacy struct {
			CRMLControlAssessment string         `yaml:"crml_control_assessment"`
			Meta                  Meta           `yaml:"meta"`
			Assessment            AssessmentPack `yaml:"assessment"`
		}
		if err := yaml.Unmarshal(data, &legacy); err == nil && legacy.CRMLControlAssessment != "" {
			doc = AssessmentDoc{
				CRMLAssessment: legacy.CRMLControlAssessment,
				Meta:           legacy.Meta,
				Assessment:     legacy.Assessment,
			}
		}
	}
	if doc.CRMLAssessment == "" {
		return nil, fmt.Errorf("missing 'crml_assessment' version field")
	}
	for i, a := range doc.Assessment.Assessments {
		if a.SCFCMMLevel != nil {
			if *a.SCFCMMLevel < 0 || *a.SCFCMMLevel > 5 {
				return nil, fmt.Errorf("assessment.assessments[%d].scf_cmm_level must be in [0,5]", i)
			}
			if a.ImplementationEffectiveness.Set || a.Coverage != nil || a.Reliability.Set {
				return nil, fmt.Errorf(
					"assessment.assessments[%d]: provide either scf_cmm_level or quantitative posture fields, not both", i)
			}
		}
	}
	return &doc, nil
}

// LoadScenarioFile reads and parses a scenario document from disk.
func LoadScenarioFile(path string) (*ScenarioDoc, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// LoadPortfolioFile reads and parses a portfolio document from disk.
func LoadPortfolioFile(path string) (*PortfolioDoc, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read portfolio file: %w", err)
	}
	return ParsePortfolio(data)
}

// LoadBundleFile reads and parses a portfolio bundle document from disk.
func LoadBundleFile(path string) (*BundleDoc, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read bundle file: %w", err)
	}
	return ParseBundle(data)
}

// LoadCatalogFile reads and parses a control catalog document from disk.
func LoadCatalogFile(path string) (*CatalogDoc, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read control catalog file: %w", err)
	}
	return ParseCatalog(data)
}

// LoadAssessmentFile reads and parses an assessment document from disk.
func LoadAssessmentFile(path string) (*AssessmentDoc, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read assessment file: %w", err)
	}
	return ParseAssessment(data)
}
