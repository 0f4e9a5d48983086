// Package plan compiles CRML documents into an execution plan: scenario
// bindings resolved to exposures, control postures merged across sources, and
// the dependency copula expanded into a concrete correlation matrix. Planning
// collects every problem it finds before failing so a user can fix a document
// in one pass.
package plan

import (
	"fmt"
	"strings"

	"github.com/crml-dev/crmlrun/internal/lang"
)

// ResolvedControl is the merged posture of one control as it applies to one
// scenario. All factors are clamped to [0, 1].
type ResolvedControl struct {
	ID            string  `yaml:"id" json:"id"`
	Effectiveness float64 `yaml:"effectiveness" json:"effectiveness"`
	Coverage      float64 `yaml:"coverage" json:"coverage"`
	CoverageBasis string  `yaml:"coverage_basis,omitempty" json:"coverage_basis,omitempty"`
	Reliability   float64 `yaml:"reliability" json:"reliability"`
	Affects       string  `yaml:"affects" json:"affects"`
}

// ScenarioPlan is one scenario compiled against the portfolio: exposure
// resolved, posture merged, ready to sample.
type ScenarioPlan struct {
	ID          string            `yaml:"id" json:"id"`
	Name        string            `yaml:"name,omitempty" json:"name,omitempty"`
	Weight      float64           `yaml:"weight" json:"weight"`
	Exposure    float64           `yaml:"exposure" json:"exposure"`
	BoundAssets []string          `yaml:"bound_assets,omitempty" json:"bound_assets,omitempty"`
	Frequency   lang.Frequency    `yaml:"frequency" json:"frequency"`
	Severity    lang.Severity     `yaml:"severity" json:"severity"`
	Controls    []ResolvedControl `yaml:"controls,omitempty" json:"controls,omitempty"`
}

// CopulaPlan is the dependency copula expanded to concrete control ids and a
// validated correlation matrix. ControlIDs fixes the matrix indexing.
type CopulaPlan struct {
	ControlIDs []string    `yaml:"control_ids" json:"control_ids"`
	Matrix     [][]float64 `yaml:"matrix" json:"matrix"`
}

// ExecutionPlan is the compiled form of a portfolio, the sole input of the
// simulation engine.
type ExecutionPlan struct {
	PortfolioName string          `yaml:"portfolio_name" json:"portfolio_name"`
	Method        string          `yaml:"method" json:"method"`
	Scenarios     []*ScenarioPlan `yaml:"scenarios" json:"scenarios"`
	Copula        *CopulaPlan     `yaml:"copula,omitempty" json:"copula,omitempty"`

	Warnings []lang.ValidationMessage `yaml:"warnings,omitempty" json:"warnings,omitempty"`
}

// Error aggregates every planning problem found in one pass.
type Error struct {
	Messages []lang.ValidationMessage
}

func (e *Error) Error() string {
	if len(e.Messages) == 1 {
		return "planning failed: " + e.Messages[0].Message
	}
	parts := make([]string, 0, len(e.Messages))
	for _, m := range e.Messages {
		parts = append(parts, m.Path+": "+m.Message)
	}
	return fmt.Sprintf("planning failed with %d errors: %s", len(e.Messages), strings.Join(parts, "; "))
}

// Options tunes planner strictness.
type Options struct {
	// LenientReferences downgrades unknown asset and catalog references from
	// errors to warnings, dropping the offending reference.
	LenientReferences bool
}
