package lang

// Asset is one portfolio exposure entry. Cardinality counts the number of
// exchangeable exposure units the asset represents.
type Asset struct {
	Name             string            `yaml:"name"`
	Cardinality      int               `yaml:"cardinality"`
	Tags             []string          `yaml:"tags,omitempty"`
	CriticalityIndex *CriticalityIndex `yaml:"criticality_index,omitempty"`
}

// CriticalityIndex is asset-level criticality metadata. The engine only uses
// the type for homogeneity checks; the rest is carried for tools.
type CriticalityIndex struct {
	Type    string             `yaml:"type,omitempty"`
	Inputs  map[string]string  `yaml:"inputs,omitempty"`
	Weights map[string]float64 `yaml:"weights,omitempty"`
}

// Aggregation method tags for portfolio semantics.
const (
	MethodSum       = "sum"
	MethodMax       = "max"
	MethodMixture   = "mixture"
	MethodChooseOne = "choose_one"
)

// PortfolioConstraints tune how strictly references are checked at load time.
type PortfolioConstraints struct {
	RequirePathsExist bool `yaml:"require_paths_exist,omitempty"`
	ValidateScenarios bool `yaml:"validate_scenarios,omitempty"`
}

// PortfolioSemantics declares how scenario loss samples combine.
type PortfolioSemantics struct {
	Method      string               `yaml:"method"`
	Constraints PortfolioConstraints `yaml:"constraints,omitempty"`
}

// ScenarioBinding restricts a scenario to a subset of portfolio assets. A nil
// AppliesToAssets binds all assets; an empty list binds none.
type ScenarioBinding struct {
	AppliesToAssets *[]string `yaml:"applies_to_assets,omitempty"`
}

// ScenarioRef references a scenario document from a portfolio.
type ScenarioRef struct {
	ID      string          `yaml:"id"`
	Path    string          `yaml:"path,omitempty"`
	Weight  Number          `yaml:"weight,omitempty"`
	Binding ScenarioBinding `yaml:"binding,omitempty"`
	Tags    []string        `yaml:"tags,omitempty"`
}

// Control effect surfaces.
const (
	AffectsFrequency = "frequency"
	AffectsSeverity  = "severity"
	AffectsBoth      = "both"
)

// PortfolioControl is an inventory entry for a deployed control.
type PortfolioControl struct {
	ID                          string       `yaml:"id"`
	ImplementationEffectiveness Factor       `yaml:"implementation_effectiveness,omitempty"`
	Coverage                    *CoverageRef `yaml:"coverage,omitempty"`
	Reliability                 Factor       `yaml:"reliability,omitempty"`
	Affects                     string       `yaml:"affects,omitempty"`
	Notes                       string       `yaml:"notes,omitempty"`
}

// DependencyCopula specifies a Gaussian copula over target references.
// Supported targets have the shape control:<id>:state; the target order
// defines the copula dimension and matrix indexing.
type DependencyCopula struct {
	Type      string      `yaml:"type,omitempty"`
	Targets   []string    `yaml:"targets"`
	Structure string      `yaml:"structure,omitempty"`
	Rho       Number      `yaml:"rho,omitempty"`
	Matrix    [][]float64 `yaml:"matrix,omitempty"`
}

// PortfolioDependency wraps the optional dependency structure.
type PortfolioDependency struct {
	Copula *DependencyCopula `yaml:"copula,omitempty"`
}

// Portfolio is the model payload of a portfolio document.
type Portfolio struct {
	Assets             []Asset                `yaml:"assets"`
	Controls           []PortfolioControl     `yaml:"controls,omitempty"`
	ControlCatalogs    []string               `yaml:"control_catalogs,omitempty"`
	ControlAssessments []string               `yaml:"control_assessments,omitempty"`
	Scenarios          []ScenarioRef          `yaml:"scenarios"`
	Semantics          PortfolioSemantics     `yaml:"semantics"`
	Dependency         *PortfolioDependency   `yaml:"dependency,omitempty"`
	Context            map[string]interface{} `yaml:"context,omitempty"`
}

// PortfolioDoc is a complete CRML portfolio document.
type PortfolioDoc struct {
	CRMLPortfolio string    `yaml:"crml_portfolio"`
	Meta          Meta      `yaml:"meta"`
	Portfolio     Portfolio `yaml:"portfolio"`
}
