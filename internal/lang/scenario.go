package lang

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Meta carries document metadata shared by every CRML document type.
type Meta struct {
	Name                 string                 `yaml:"name"`
	Version              string                 `yaml:"version,omitempty"`
	Description          string                 `yaml:"description,omitempty"`
	Author               string                 `yaml:"author,omitempty"`
	Organization         string                 `yaml:"organization,omitempty"`
	Industries           []string               `yaml:"industries,omitempty"`
	Locale               map[string]interface{} `yaml:"locale,omitempty"`
	RegulatoryFrameworks []string               `yaml:"regulatory_frameworks,omitempty"`
	Tags                 []string               `yaml:"tags,omitempty"`
}

// Frequency basis values declare whether a scenario rate is organization-wide
// or must be scaled by the exposure of bound assets.
const (
	BasisPerOrganizationPerYear = "per_organization_per_year"
	BasisPerAssetUnitPerYear    = "per_asset_unit_per_year"
)

// FrequencyParameters holds the union of parameters across frequency families.
// Unused fields stay unset; the engine validates the combination at plan time.
type FrequencyParameters struct {
	Lambda    Number `yaml:"lambda,omitempty"`
	Shape     Number `yaml:"shape,omitempty"`
	Scale     Number `yaml:"scale,omitempty"`
	Alpha     Number `yaml:"alpha,omitempty"`
	Beta      Number `yaml:"beta,omitempty"`
	AlphaBase Number `yaml:"alpha_base,omitempty"`
	BetaBase  Number `yaml:"beta_base,omitempty"`
}

// Frequency declares how often loss events occur.
type Frequency struct {
	Basis      string              `yaml:"basis,omitempty"`
	Model      string              `yaml:"model"`
	Parameters FrequencyParameters `yaml:"parameters,omitempty"`
}

// SeverityParameters holds the union of parameters across severity families.
type SeverityParameters struct {
	Median       Number     `yaml:"median,omitempty"`
	Mu           Number     `yaml:"mu,omitempty"`
	Sigma        Number     `yaml:"sigma,omitempty"`
	Shape        Number     `yaml:"shape,omitempty"`
	Scale        Number     `yaml:"scale,omitempty"`
	Currency     string     `yaml:"currency,omitempty"`
	SingleLosses NumberList `yaml:"single_losses,omitempty"`
}

// SeverityComponent is one weighted member of a mixture severity model. The
// document form is a single-key mapping, e.g. {lognormal: {...}} or
// {gamma: {...}}, with the weight nested inside.
type SeverityComponent struct {
	Model      string
	Weight     Factor
	Parameters SeverityParameters
}

// UnmarshalYAML implements yaml.Unmarshaler for the single-key mapping form.
func (c *SeverityComponent) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode || len(node.Content) != 2 {
		return fmt.Errorf("mixture component must be a single-key mapping like {lognormal: {...}}")
	}
	c.Model = node.Content[0].Value

	var body struct {
		Weight Factor `yaml:"weight"`
		SeverityParameters
	}
	if err := node.Content[1].Decode(&body); err != nil {
		return fmt.Errorf("mixture component %q: %w", c.Model, err)
	}
	c.Weight = body.Weight
	c.Parameters = body.SeverityParameters
	return nil
}

// MarshalYAML implements yaml.Marshaler, restoring the single-key form.
func (c SeverityComponent) MarshalYAML() (interface{}, error) {
	body := map[string]interface{}{}
	if c.Weight.Set {
		body["weight"] = c.Weight.Value
	}
	if c.Parameters.Median.Set {
		body["median"] = c.Parameters.Median.Value
	}
	if c.Parameters.Mu.Set {
		body["mu"] = c.Parameters.Mu.Value
	}
	if c.Parameters.Sigma.Set {
		body["sigma"] = c.Parameters.Sigma.Value
	}
	if c.Parameters.Shape.Set {
		body["shape"] = c.Parameters.Shape.Value
	}
	if c.Parameters.Scale.Set {
		body["scale"] = c.Parameters.Scale.Value
	}
	if c.Parameters.Currency != "" {
		body["currency"] = c.Parameters.Currency
	}
	if len(c.Parameters.SingleLosses) > 0 {
		body["single_losses"] = []float64(c.Parameters.SingleLosses)
	}
	return map[string]interface{}{c.Model: body}, nil
}

// Severity declares the per-event loss magnitude model.
type Severity struct {
	Model      string              `yaml:"model"`
	Parameters SeverityParameters  `yaml:"parameters,omitempty"`
	Components []SeverityComponent `yaml:"components,omitempty"`
}

// CoverageRef is a coverage value together with the population it is measured
// over (endpoints, employees, ...).
type CoverageRef struct {
	Value Factor `yaml:"value"`
	Basis string `yaml:"basis"`
}

// ScenarioControl references a control from a scenario, optionally scoped
// with scenario-specific applicability factors. The document form is either a
// bare control-id string or a mapping with override fields.
type ScenarioControl struct {
	ID                          string
	ImplementationEffectiveness Factor
	Coverage                    *CoverageRef
	Potency                     Factor
}

// UnmarshalYAML implements yaml.Unmarshaler for both document forms.
func (c *ScenarioControl) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		c.ID = node.Value
		if c.ID == "" {
			return fmt.Errorf("control reference must not be empty")
		}
		return nil
	}
	var body struct {
		ID                          string       `yaml:"id"`
		ImplementationEffectiveness Factor       `yaml:"implementation_effectiveness"`
		Coverage                    *CoverageRef `yaml:"coverage"`
		Potency                     Factor       `yaml:"potency"`
	}
	if err := node.Decode(&body); err != nil {
		return err
	}
	if body.ID == "" {
		return fmt.Errorf("control reference mapping requires an 'id'")
	}
	c.ID = body.ID
	c.ImplementationEffectiveness = body.ImplementationEffectiveness
	c.Coverage = body.Coverage
	c.Potency = body.Potency
	return nil
}

// MarshalYAML implements yaml.Marshaler; bare references serialize back to
// plain strings.
func (c ScenarioControl) MarshalYAML() (interface{}, error) {
	if !c.ImplementationEffectiveness.Set && c.Coverage == nil && !c.Potency.Set {
		return c.ID, nil
	}
	out := map[string]interface{}{"id": c.ID}
	if c.ImplementationEffectiveness.Set {
		out["implementation_effectiveness"] = c.ImplementationEffectiveness.Value
	}
	if c.Coverage != nil {
		out["coverage"] = c.Coverage
	}
	if c.Potency.Set {
		out["potency"] = c.Potency.Value
	}
	return out, nil
}

// Scenario is the model payload of a scenario document.
type Scenario struct {
	Frequency Frequency         `yaml:"frequency"`
	Severity  Severity          `yaml:"severity"`
	Controls  []ScenarioControl `yaml:"controls,omitempty"`
}

// ScenarioDoc is a complete CRML scenario document.
type ScenarioDoc struct {
	CRMLScenario string   `yaml:"crml_scenario"`
	Meta         Meta     `yaml:"meta"`
	Scenario     Scenario `yaml:"scenario"`
}
