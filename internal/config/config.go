package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// WorkflowConfig models .gitea/workflow.yaml. It is treated as immutable once parsed.
type WorkflowConfig struct {
	Project    Project    `yaml:"project" json:"project"`
	Labels     Labels     `yaml:"labels" json:"labels"`
	Board      Board      `yaml:"board" json:"board"`
	Automation Automation `yaml:"automation" json:"automation"`
}

type Project struct {
	Type     string `yaml:"type" json:"type"`
	Language string `yaml:"language,omitempty" json:"language,omitempty"`
}

// Labels holds the five label categories.
type Labels struct {
	Status   LabelCategory `yaml:"status" json:"status"`
	Priority LabelCategory `yaml:"priority" json:"priority"`
	Type     LabelCategory `yaml:"type" json:"type"`
	Area     LabelCategory `yaml:"area" json:"area"`
	Workflow LabelCategory `yaml:"workflow" json:"workflow"`
}

type LabelCategory struct {
	Prefix     string   `yaml:"prefix" json:"prefix"`
	AllowEmpty bool     `yaml:"allow_empty,omitempty" json:"allow_empty,omitempty"`
	Labels     LabelSet `yaml:"labels" json:"labels"`
}

type LabelDefinition struct {
	Color       string `yaml:"color" json:"color"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	// SLAHours is only meaningful on priority labels.
	SLAHours *int `yaml:"sla_hours,omitempty" json:"sla_hours,omitempty"`
}

type Board struct {
	Name    string        `yaml:"name" json:"name"`
	Columns []BoardColumn `yaml:"columns" json:"columns"`
}

type BoardColumn struct {
	Name   string `yaml:"name" json:"name"`
	MapsTo string `yaml:"maps_to" json:"maps_to"`
}

type Automation struct {
	LabelInference     LabelInference     `yaml:"label_inference" json:"label_inference"`
	PriorityEscalation PriorityEscalation `yaml:"priority_escalation" json:"priority_escalation"`
	BlockedDetection   BlockedDetection   `yaml:"blocked_detection" json:"blocked_detection"`
}

type LabelInference struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
}

type PriorityEscalation struct {
	Enabled bool             `yaml:"enabled" json:"enabled"`
	Rules   []EscalationRule `yaml:"rules,omitempty" json:"rules,omitempty"`
}

type EscalationRule struct {
	FromPriority string `yaml:"from_priority" json:"from_priority"`
	ToPriority   string `yaml:"to_priority" json:"to_priority"`
	AfterDays    int    `yaml:"after_days" json:"after_days"`
}

type BlockedDetection struct {
	Enabled bool           `yaml:"enabled" json:"enabled"`
	SLA     map[string]int `yaml:"sla,omitempty" json:"sla,omitempty"`
	// WarningFraction is the tail of the SLA window reported as "warning". Zero means DefaultWarningFraction.
	WarningFraction float64 `yaml:"warning_fraction,omitempty" json:"warning_fraction,omitempty"`
}

// Problem is a single line/field level message produced while parsing.
type Problem struct {
	Line    int    `json:"line,omitempty"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

func (p Problem) String() string {
	var b strings.Builder
	if p.Line > 0 {
		fmt.Fprintf(&b, "line %d: ", p.Line)
	}
	if p.Field != "" {
		b.WriteString(p.Field)
		b.WriteString(": ")
	}
	b.WriteString(p.Message)
	return b.String()
}

// ParseError reports why a workflow document was rejected. Nothing is applied on failure.
type ParseError struct {
	Problems []Problem
}

func (e *ParseError) Error() string {
	msgs := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		msgs = append(msgs, p.String())
	}
	return "invalid workflow config: " + strings.Join(msgs, "; ")
}

var lineRe = regexp.MustCompile(`line (\d+): (.*)$`)

func problemFromText(text string) Problem {
	text = strings.TrimPrefix(text, "yaml: ")
	if m := lineRe.FindStringSubmatch(text); m != nil {
		line, _ := strconv.Atoi(m[1])
		return Problem{Line: line, Message: m[2]}
	}
	return Problem{Message: text}
}

func parseErrorFrom(err error) *ParseError {
	var te *yaml.TypeError
	if errors.As(err, &te) {
		pe := &ParseError{}
		for _, msg := range te.Errors {
			pe.Problems = append(pe.Problems, problemFromText(msg))
		}
		return pe
	}
	return &ParseError{Problems: []Problem{problemFromText(err.Error())}}
}

// Parse decodes and structurally checks a workflow document.
// Semantic checks live in Validate.
func Parse(data []byte) (*WorkflowConfig, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, &ParseError{Problems: []Problem{{Message: "document is empty"}}}
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var cfg WorkflowConfig
	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &ParseError{Problems: []Problem{{Message: "document is empty"}}}
		}
		return nil, parseErrorFrom(err)
	}
	var problems []Problem
	if strings.TrimSpace(cfg.Project.Type) == "" {
		problems = append(problems, Problem{Field: "project.type", Message: "is required"})
	}
	if !hasSection(data, "labels") {
		problems = append(problems, Problem{Field: "labels", Message: "is required"})
	}
	for i, col := range cfg.Board.Columns {
		if strings.TrimSpace(col.MapsTo) == "" {
			problems = append(problems, Problem{Field: fmt.Sprintf("board.columns[%d].maps_to", i), Message: "is required"})
		}
	}
	for i, rule := range cfg.Automation.PriorityEscalation.Rules {
		if rule.FromPriority == "" || rule.ToPriority == "" {
			problems = append(problems, Problem{Field: fmt.Sprintf("automation.priority_escalation.rules[%d]", i), Message: "from_priority and to_priority are required"})
		}
	}
	if len(problems) > 0 {
		return nil, &ParseError{Problems: problems}
	}
	return &cfg, nil
}

// hasSection reports whether the top-level mapping has a non-null key.
func hasSection(data []byte, key string) bool {
	var doc map[string]yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return false
	}
	node, ok := doc[key]
	return ok && node.Tag != "!!null"
}

// Serialize renders the config back to YAML. Parse(Serialize(c)) yields c.
func Serialize(cfg *WorkflowConfig) ([]byte, error) {
	if cfg == nil {
		return nil, errors.New("nil workflow config")
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return nil, fmt.Errorf("encode workflow config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Path returns the workflow document path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, ".gitea", "workflow.yaml")
}

// Load reads and parses the workflow document from a workspace.
func Load(workspace string) (*WorkflowConfig, error) {
	path := Path(workspace)
	cfg, err := FromFile(path)
	if err != nil && errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config %s not found; create one with wf config init", path)
	}
	return cfg, err
}

// LoadOptional returns nil,nil if the document does not exist.
func LoadOptional(path string) (*WorkflowConfig, error) {
	cfg, err := FromFile(path)
	if err != nil && errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return cfg, err
}

// FromFile reads a workflow document from the given path.
func FromFile(path string) (*WorkflowConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}
