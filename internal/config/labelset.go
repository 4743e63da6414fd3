package config

import (
	"bytes"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// LabelSet maps short label names to definitions and keeps document order.
type LabelSet struct {
	names []string
	defs  map[string]LabelDefinition
}

// NewLabelSet is a convenience for building sets in code.
func NewLabelSet(entries ...NamedLabel) LabelSet {
	var s LabelSet
	for _, e := range entries {
		s.Set(e.Name, e.LabelDefinition)
	}
	return s
}

// NamedLabel pairs a short name with its definition.
type NamedLabel struct {
	Name string
	LabelDefinition
}

// Set adds or replaces a definition. New names are appended.
func (s *LabelSet) Set(name string, def LabelDefinition) {
	if s.defs == nil {
		s.defs = make(map[string]LabelDefinition)
	}
	if _, ok := s.defs[name]; !ok {
		s.names = append(s.names, name)
	}
	s.defs[name] = def
}

func (s LabelSet) Get(name string) (LabelDefinition, bool) {
	def, ok := s.defs[name]
	return def, ok
}

func (s LabelSet) Has(name string) bool {
	_, ok := s.defs[name]
	return ok
}

// Names returns short names in document order.
func (s LabelSet) Names() []string {
	return append([]string(nil), s.names...)
}

func (s LabelSet) Len() int { return len(s.names) }

var labelDefinitionKeys = map[string]bool{"color": true, "description": true, "sla_hours": true}

func (s *LabelSet) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: labels must be a mapping of short name to definition", node.Line)
	}
	var out LabelSet
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]
		name := key.Value
		if name == "" {
			return fmt.Errorf("line %d: empty label name", key.Line)
		}
		if out.Has(name) {
			return fmt.Errorf("line %d: duplicate label %q", key.Line, name)
		}
		var def LabelDefinition
		switch value.Kind {
		case yaml.MappingNode:
			for j := 0; j+1 < len(value.Content); j += 2 {
				field := value.Content[j]
				if !labelDefinitionKeys[field.Value] {
					return fmt.Errorf("line %d: field %s not found in label definition %q", field.Line, field.Value, name)
				}
			}
			if err := value.Decode(&def); err != nil {
				return err
			}
		case yaml.ScalarNode:
			if value.ShortTag() != "!!null" {
				return fmt.Errorf("line %d: label %q must be a mapping", value.Line, name)
			}
		default:
			return fmt.Errorf("line %d: label %q must be a mapping", value.Line, name)
		}
		out.Set(name, def)
	}
	*s = out
	return nil
}

func (s LabelSet) MarshalYAML() (interface{}, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, name := range s.names {
		var value yaml.Node
		if err := value.Encode(s.defs[name]); err != nil {
			return nil, err
		}
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: name},
			&value,
		)
	}
	return node, nil
}

// MarshalJSON writes an object whose keys follow document order.
func (s LabelSet) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range s.names {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(s.defs[name])
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads an object written by MarshalJSON, keeping key order.
func (s *LabelSet) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*s = LabelSet{}
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("labels must be an object")
	}
	var out LabelSet
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, _ := tok.(string)
		if out.Has(name) {
			return fmt.Errorf("duplicate label %q", name)
		}
		var def LabelDefinition
		if err := dec.Decode(&def); err != nil {
			return err
		}
		out.Set(name, def)
	}
	*s = out
	return nil
}
