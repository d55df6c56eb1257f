// internal/scenario/document.go
package scenario

import (
	"fmt"

	"github.com/xkilldash9x/walkthrough/api/schemas"
	"gopkg.in/yaml.v3"
)

// document is the on-disk shape of a scenario file. A file holds either a
// single scenario at the top level or a suite under `scenarios:`.
type document struct {
	rawScenario `yaml:",inline"`
	Scenarios   []rawScenario `yaml:"scenarios"`
}

type rawScenario struct {
	Name        string            `yaml:"name"`
	Description string            `yaml:"description"`
	Tags        []string          `yaml:"tags"`
	Vars        map[string]string `yaml:"vars"`
	Steps       []rawStep         `yaml:"steps"`
}

func (r *rawScenario) isZero() bool {
	return r.Name == "" && r.Description == "" && len(r.Tags) == 0 && len(r.Vars) == 0 && len(r.Steps) == 0
}

// stepFields carries every field any step kind may use. Values stay strings
// until interpolation has run; count kinds convert Expected afterwards.
type stepFields struct {
	Kind     string `yaml:"kind"`
	Target   string `yaml:"target"`
	Text     string `yaml:"text"`
	Payload  string `yaml:"payload"`
	Expected string `yaml:"expected"`
}

// rawStep is one decoded step before interpolation and validation.
type rawStep struct {
	Name     string
	Timeout  string
	IsAction bool
	Fields   stepFields
	Line     int
}

// UnmarshalYAML accepts the compact form, where the kind is the key
// (`- click: "#go"`), and the long form (`- action: {kind: click, target: "#go"}`).
func (s *rawStep) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: step must be a mapping, got %s", node.Line, kindName(node))
	}
	s.Line = node.Line

	var kindKey string
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]

		switch key.Value {
		case "name":
			if err := value.Decode(&s.Name); err != nil {
				return fmt.Errorf("line %d: name: %w", value.Line, err)
			}
			continue
		case "timeout":
			if err := value.Decode(&s.Timeout); err != nil {
				return fmt.Errorf("line %d: timeout: %w", value.Line, err)
			}
			continue
		}

		if kindKey != "" {
			return fmt.Errorf("line %d: step declares both %q and %q", key.Line, kindKey, key.Value)
		}
		kindKey = key.Value

		switch key.Value {
		case "action", "assertion":
			s.IsAction = key.Value == "action"
			if value.Kind != yaml.MappingNode {
				return fmt.Errorf("line %d: %s must be a mapping with a kind", value.Line, key.Value)
			}
			if err := decodeFields(value, &s.Fields); err != nil {
				return fmt.Errorf("%s: %w", key.Value, err)
			}
		default:
			isAction, known := lookupKind(key.Value)
			if !known {
				return fmt.Errorf("line %d: unknown step kind %q", key.Line, key.Value)
			}
			s.IsAction = isAction
			if err := s.decodeCompact(key.Value, value); err != nil {
				return err
			}
		}
	}

	if kindKey == "" {
		return fmt.Errorf("line %d: step has no action or assertion", node.Line)
	}
	return nil
}

// decodeCompact fills Fields from `kind: value`. A scalar value is the most
// natural argument of the kind; a mapping spells the fields out.
func (s *rawStep) decodeCompact(kind string, value *yaml.Node) error {
	s.Fields.Kind = kind
	switch value.Kind {
	case yaml.MappingNode:
		var f stepFields
		if err := decodeFields(value, &f); err != nil {
			return fmt.Errorf("%s: %w", kind, err)
		}
		if f.Kind != "" && f.Kind != kind {
			return fmt.Errorf("line %d: %s step cannot declare kind %q", value.Line, kind, f.Kind)
		}
		f.Kind = kind
		s.Fields = f
	case yaml.ScalarNode:
		switch schemas.AssertionKind(kind) {
		case schemas.AssertURLContains, schemas.AssertContainsText, schemas.AssertNotContainsText:
			// `- urlContains: /service/x` and `- containsText: Welcome` (page text).
			s.Fields.Expected = value.Value
		default:
			s.Fields.Target = value.Value
		}
	default:
		return fmt.Errorf("line %d: %s expects a string or a mapping, got %s", value.Line, kind, kindName(value))
	}
	return nil
}

var stepFieldNames = map[string]bool{"kind": true, "target": true, "text": true, "payload": true, "expected": true}

// decodeFields decodes a step mapping, rejecting keys stepFields does not know.
func decodeFields(node *yaml.Node, f *stepFields) error {
	for i := 0; i+1 < len(node.Content); i += 2 {
		if k := node.Content[i]; !stepFieldNames[k.Value] {
			return fmt.Errorf("line %d: unknown field %q", k.Line, k.Value)
		}
	}
	if err := node.Decode(f); err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	return nil
}

func lookupKind(key string) (isAction, known bool) {
	for _, k := range schemas.ActionKinds {
		if string(k) == key {
			return true, true
		}
	}
	for _, k := range schemas.AssertionKinds {
		if string(k) == key {
			return false, true
		}
	}
	return false, false
}

func kindName(n *yaml.Node) string {
	switch n.Kind {
	case yaml.SequenceNode:
		return "a list"
	case yaml.MappingNode:
		return "a mapping"
	case yaml.ScalarNode:
		return "a scalar"
	case yaml.AliasNode:
		return "an alias"
	default:
		return "an empty document"
	}
}
