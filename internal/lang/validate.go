package lang

import (
	"fmt"
	"math"
)

// Message levels.
const (
	LevelError   = "error"
	LevelWarning = "warning"
)

// ValidationMessage is one issue found while validating a document.
type ValidationMessage struct {
	Level   string `yaml:"level" json:"level"`
	Path    string `yaml:"path" json:"path"`
	Message string `yaml:"message" json:"message"`
}

// ValidationReport collects every issue found in a document. OK is true when
// no errors (warnings allowed) were recorded.
type ValidationReport struct {
	OK       bool                `yaml:"ok" json:"ok"`
	Errors   []ValidationMessage `yaml:"errors" json:"errors"`
	Warnings []ValidationMessage `yaml:"warnings" json:"warnings"`
}

func (r *ValidationReport) error(path, format string, args ...interface{}) {
	r.Errors = append(r.Errors, ValidationMessage{Level: LevelError, Path: path, Message: fmt.Sprintf(format, args...)})
}

func (r *ValidationReport) warn(path, format string, args ...interface{}) {
	r.Warnings = append(r.Warnings, ValidationMessage{Level: LevelWarning, Path: path, Message: fmt.Sprintf(format, args...)})
}

func (r *ValidationReport) finalize() *ValidationReport {
	r.OK = len(r.Errors) == 0
	if r.Errors == nil {
		r.Errors = []ValidationMessage{}
	}
	if r.Warnings == nil {
		r.Warnings = []ValidationMessage{}
	}
	return r
}

const currentDocVersion = "1.0"

// ValidateScenario runs semantic checks over a parsed scenario document.
// Shape errors are caught earlier by ParseScenario; this layer adds the
// warnings and cross-field checks a schema cannot express.
func ValidateScenario(doc *ScenarioDoc) *ValidationReport {
	r := &ValidationReport{}

	if doc.CRMLScenario != currentDocVersion {
		r.warn("crml_scenario", "scenario version %q is not current; consider upgrading to %q", doc.CRMLScenario, currentDocVersion)
	}
	if doc.Meta.Name == "" {
		r.error("meta.name", "meta.name is required")
	}
	if doc.Meta.Description == "" {
		r.warn("meta.description", "'meta.description' is missing; recommended for documentation and context")
	}

	freq := doc.Scenario.Frequency
	switch freq.Basis {
	case "", BasisPerOrganizationPerYear, BasisPerAssetUnitPerYear:
	default:
		r.error("scenario.frequency.basis", "unknown frequency basis %q", freq.Basis)
	}

	sev := doc.Scenario.Severity
	if sev.Model == "mixture" {
		if len(sev.Components) == 0 {
			r.error("scenario.severity.components", "mixture severity requires at least one component")
		}
		total := 0.0
		for _, c := range sev.Components {
			total += c.Weight.Or(0)
		}
		if len(sev.Components) > 0 && math.Abs(total-1.0) > 0.001 {
			r.warn("scenario.severity.components", "mixture weights sum to %.3f, should sum to 1.0", total)
		}
	}

	p := sev.Parameters
	monetary := p.Median.Set || p.Mu.Set || len(p.SingleLosses) > 0
	if monetary && p.Currency == "" {
		r.warn("scenario.severity.parameters",
			"severity has monetary values but no 'currency' property; specify the currency to avoid implicit assumptions")
	}

	if sev.Model == "lognormal" {
		exclusive := 0
		if p.Median.Set {
			exclusive++
		}
		if p.Mu.Set {
			exclusive++
		}
		if len(p.SingleLosses) > 0 {
			exclusive++
		}
		if exclusive > 1 {
			r.error("scenario.severity.parameters",
				"lognormal accepts exactly one of median, mu, or single_losses")
		}
		if len(p.SingleLosses) == 1 {
			r.error("scenario.severity.parameters.single_losses", "single_losses requires at least 2 values")
		}
	}

	seen := map[string]bool{}
	dup := false
	for _, c := range doc.Scenario.Controls {
		if seen[c.ID] {
			dup = true
		}
		seen[c.ID] = true
	}
	if dup {
		r.warn("scenario.controls", "scenario 'controls' contains duplicate control ids")
	}

	return r.finalize()
}

// ValidatePortfolio runs semantic checks over a parsed portfolio document.
func ValidatePortfolio(doc *PortfolioDoc) *ValidationReport {
	r := &ValidationReport{}

	if doc.CRMLPortfolio != currentDocVersion {
		r.warn("crml_portfolio", "portfolio version %q is not current; consider upgrading to %q", doc.CRMLPortfolio, currentDocVersion)
	}
	if doc.Meta.Name == "" {
		r.error("meta.name", "meta.name is required")
	}

	switch doc.Portfolio.Semantics.Method {
	case MethodSum, MethodMax, MethodMixture, MethodChooseOne:
	default:
		r.error("portfolio.semantics.method", "unknown aggregation method %q", doc.Portfolio.Semantics.Method)
	}

	names := map[string]bool{}
	for i, a := range doc.Portfolio.Assets {
		if names[a.Name] {
			r.error(fmt.Sprintf("portfolio.assets[%d].name", i), "duplicate asset name %q", a.Name)
		}
		names[a.Name] = true
	}

	ids := map[string]bool{}
	for i, c := range doc.Portfolio.Controls {
		if c.ID == "" {
			r.error(fmt.Sprintf("portfolio.controls[%d].id", i), "control id is required")
			continue
		}
		if ids[c.ID] {
			r.warn(fmt.Sprintf("portfolio.controls[%d].id", i), "duplicate control inventory entry %q", c.ID)
		}
		ids[c.ID] = true
		switch c.Affects {
		case "", AffectsFrequency, AffectsSeverity, AffectsBoth:
		default:
			r.error(fmt.Sprintf("portfolio.controls[%d].affects", i), "unknown effect surface %q", c.Affects)
		}
	}

	sids := map[string]bool{}
	for i, s := range doc.Portfolio.Scenarios {
		if s.ID == "" {
			r.error(fmt.Sprintf("portfolio.scenarios[%d].id", i), "scenario id is required")
		}
		if sids[s.ID] {
			r.error(fmt.Sprintf("portfolio.scenarios[%d].id", i), "duplicate scenario id %q", s.ID)
		}
		sids[s.ID] = true
		if s.Weight.Set && s.Weight.Value < 0 {
			r.error(fmt.Sprintf("portfolio.scenarios[%d].weight", i), "weight must be >= 0")
		}
	}

	if (doc.Portfolio.Semantics.Method == MethodMixture || doc.Portfolio.Semantics.Method == MethodChooseOne) &&
		len(doc.Portfolio.Scenarios) > 0 {
		total, anySet := 0.0, false
		for _, s := range doc.Portfolio.Scenarios {
			if s.Weight.Set {
				anySet = true
				total += s.Weight.Value
			}
		}
		if anySet && math.Abs(total-1.0) > 0.001 {
			r.warn("portfolio.scenarios", "scenario weights sum to %.3f, should sum to 1.0 (weights are normalized at run time)", total)
		}
	}

	return r.finalize()
}
