package lang

// BundledScenario is a scenario document inlined into a portfolio bundle,
// keyed by the portfolio's scenario id. SourcePath is traceability only;
// engines never read it from disk.
type BundledScenario struct {
	ID         string      `yaml:"id"`
	Weight     Number      `yaml:"weight,omitempty"`
	SourcePath string      `yaml:"source_path,omitempty"`
	Scenario   ScenarioDoc `yaml:"scenario"`
}

// BundlePayload is the inlined content of a portfolio bundle. Engines consume
// it without filesystem access.
type BundlePayload struct {
	Portfolio       PortfolioDoc           `yaml:"portfolio"`
	Scenarios       []BundledScenario      `yaml:"scenarios"`
	ControlCatalogs []CatalogDoc           `yaml:"control_catalogs,omitempty"`
	Assessments     []AssessmentDoc        `yaml:"assessments,omitempty"`
	Metadata        map[string]interface{} `yaml:"metadata,omitempty"`
}

// BundleDoc is a single self-contained artifact: the portfolio document plus
// every referenced scenario and control pack, inlined.
type BundleDoc struct {
	CRMLPortfolioBundle string        `yaml:"crml_portfolio_bundle"`
	Meta                Meta          `yaml:"meta"`
	PortfolioBundle     BundlePayload `yaml:"portfolio_bundle"`
}
