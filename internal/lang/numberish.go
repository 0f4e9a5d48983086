package lang

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// cleanNumericString strips readability separators commonly used in YAML
// documents: regular spaces, thin spaces (U+202F), underscores and commas.
func cleanNumericString(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, "_", "")
	s = strings.ReplaceAll(s, ",", "")
	return s
}

// ParseFloatish parses a float from a YAML scalar that may be a plain number
// or a human-formatted string like "1 000" or "2_500.5". When allowPercent is
// true a trailing "%" divides the value by 100.
func ParseFloatish(raw string, allowPercent bool) (float64, error) {
	s := cleanNumericString(raw)
	if s == "" {
		return 0, fmt.Errorf("empty numeric string")
	}
	if strings.HasSuffix(s, "%") {
		if !allowPercent {
			return 0, fmt.Errorf("percent values are not allowed here: %q", raw)
		}
		v, err := strconv.ParseFloat(strings.TrimSuffix(s, "%"), 64)
		if err != nil {
			return 0, fmt.Errorf("invalid percent value %q: %w", raw, err)
		}
		return v / 100.0, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid numeric value %q: %w", raw, err)
	}
	return v, nil
}

// ParseIntish parses an integer from a YAML scalar that may carry separators.
// Floats are rejected even when integer-valued, matching strict document
// semantics for cardinalities.
func ParseIntish(raw string) (int, error) {
	s := cleanNumericString(raw)
	if s == "" {
		return 0, fmt.Errorf("empty integer string")
	}
	if strings.HasSuffix(s, "%") {
		return 0, fmt.Errorf("percent values are not allowed for integers: %q", raw)
	}
	s = strings.TrimPrefix(s, "+")
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid integer value %q: %w", raw, err)
	}
	return v, nil
}

// Number is an optional float64 document field accepting numberish scalars
// ("1 000", "2_500"). Percent suffixes are rejected.
type Number struct {
	Value float64
	Set   bool
}

// Factor is like Number but additionally accepts percent notation ("85%"),
// used for effectiveness/probability style fields.
type Factor struct {
	Value float64
	Set   bool
}

func unmarshalNumberish(node *yaml.Node, allowPercent bool) (float64, bool, error) {
	if node.Tag == "!!null" || node.Value == "" && node.Kind == yaml.ScalarNode && node.Tag != "!!str" {
		return 0, false, nil
	}
	if node.Kind != yaml.ScalarNode {
		return 0, false, fmt.Errorf("expected a numeric scalar, got %s", node.Tag)
	}
	if node.Tag == "!!bool" {
		return 0, false, fmt.Errorf("boolean is not a valid numeric value")
	}
	v, err := ParseFloatish(node.Value, allowPercent)
	if err != nil {
		return 0, false, err
	}
	return v, true, nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (n *Number) UnmarshalYAML(node *yaml.Node) error {
	v, set, err := unmarshalNumberish(node, false)
	if err != nil {
		return err
	}
	n.Value, n.Set = v, set
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (n Number) MarshalYAML() (interface{}, error) {
	if !n.Set {
		return nil, nil
	}
	return n.Value, nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (f *Factor) UnmarshalYAML(node *yaml.Node) error {
	v, set, err := unmarshalNumberish(node, true)
	if err != nil {
		return err
	}
	f.Value, f.Set = v, set
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (f Factor) MarshalYAML() (interface{}, error) {
	if !f.Set {
		return nil, nil
	}
	return f.Value, nil
}

// Or returns the field value, or fallback when the field was absent.
func (n Number) Or(fallback float64) float64 {
	if !n.Set {
		return fallback
	}
	return n.Value
}

// Or returns the field value, or fallback when the field was absent.
func (f Factor) Or(fallback float64) float64 {
	if !f.Set {
		return fallback
	}
	return f.Value
}

// NumberList is a list of numberish scalars (used by single_losses).
type NumberList []float64

// UnmarshalYAML implements yaml.Unmarshaler.
func (l *NumberList) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.SequenceNode {
		return fmt.Errorf("expected a sequence of numbers, got %s", node.Tag)
	}
	out := make([]float64, 0, len(node.Content))
	for i, item := range node.Content {
		v, set, err := unmarshalNumberish(item, false)
		if err != nil {
			return fmt.Errorf("element %d: %w", i, err)
		}
		if !set {
			return fmt.Errorf("element %d: null is not a valid number", i)
		}
		out = append(out, v)
	}
	*l = out
	return nil
}
