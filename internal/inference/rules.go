package inference

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Source selects what a trigger pattern is matched against.
type Source string

const (
	SourceText   Source = "text"   // title and body
	SourceTitle  Source = "title"  // title only
	SourceLabels Source = "labels" // each existing label name
)

// TriggerSpec is one weighted signal for a short label name.
type TriggerSpec struct {
	Name    string  `yaml:"name" json:"name"`
	Pattern string  `yaml:"pattern" json:"pattern"`
	Weight  float64 `yaml:"weight" json:"weight"`
	Source  Source  `yaml:"source,omitempty" json:"source,omitempty"`
}

// RuleTable maps category -> short label name -> triggers.
type RuleTable map[string]map[string][]TriggerSpec

// Weights used outside the table.
const (
	// GenericWeight applies when a configured short name has no table entry
	// and appears as a whole word in the issue text.
	GenericWeight = 0.4
	// LabelEchoWeight applies when an existing unprefixed label equals a short name.
	LabelEchoWeight = 0.5
	// MinConfidence is the score a candidate must exceed.
	MinConfidence = 0.0
)

// SecurityPattern matches security terms in issue text. Priority escalation
// uses the same signal for its fast-path.
const SecurityPattern = `(?i)\b(security|vulnerab\w*|cve-\d{4}-\w+|exploit\w*|xss|csrf|sql\s+injection|remote code execution)\b`

// DefaultRules returns a fresh copy of the built-in rule table.
func DefaultRules() RuleTable {
	return RuleTable{
		"type": {
			"bug": {
				{Name: "bug keyword", Pattern: `(?i)\b(bug|broken|crash(es|ed)?|errors?|fail(s|ed|ure)?|exception|regression|not working)\b`, Weight: 0.6},
				{Name: "stack trace", Pattern: `(?i)(stack ?trace|traceback|panic:|segfault|nil pointer)`, Weight: 0.3},
				{Name: "bug title", Pattern: `(?i)^\s*(\[bug\]|bug:|fix\b)`, Weight: 0.3, Source: SourceTitle},
			},
			"feature": {
				{Name: "feature keyword", Pattern: `(?i)\b(add|support for|implement|new feature|feature request|enhancement|would be nice|allow)\b`, Weight: 0.5},
				{Name: "feature title", Pattern: `(?i)^\s*(\[feature\]|feat(ure)?:)`, Weight: 0.4, Source: SourceTitle},
			},
			"docs": {
				{Name: "docs keyword", Pattern: `(?i)\b(docs?|documentation|readme|typo|guide|tutorial|changelog)\b`, Weight: 0.6},
				{Name: "docs title", Pattern: `(?i)^\s*docs?:`, Weight: 0.3, Source: SourceTitle},
			},
			"refactor": {
				{Name: "refactor keyword", Pattern: `(?i)\b(refactor(ing)?|clean ?up|restructure|tech(nical)? debt|simplify|rename)\b`, Weight: 0.6},
			},
			"test": {
				{Name: "test keyword", Pattern: `(?i)\b(tests?|testing|coverage|unit tests?|flaky|e2e)\b`, Weight: 0.5},
			},
			"security": {
				{Name: "security keyword", Pattern: SecurityPattern, Weight: 0.8},
				{Name: "cve id", Pattern: `(?i)\bcve-\d{4}`, Weight: 0.2},
			},
		},
		"priority": {
			"P0": {
				{Name: "critical keyword", Pattern: `(?i)\b(critical|urgent|outage|production (is )?down|data loss|emergency|asap)\b`, Weight: 0.7},
				{Name: "security signal", Pattern: SecurityPattern, Weight: 0.3},
				{Name: "critical label", Pattern: `(?i)^(critical|urgent|severity[/:]critical)$`, Weight: 0.5, Source: SourceLabels},
			},
			"P1": {
				{Name: "high keyword", Pattern: `(?i)\b(important|high priority|blocker|blocking|major|severe)\b`, Weight: 0.6},
			},
			"P2": {
				{Name: "medium keyword", Pattern: `(?i)\b(medium|moderate|normal priority)\b`, Weight: 0.4},
			},
			"P3": {
				{Name: "low keyword", Pattern: `(?i)\b(minor|low priority|nice to have|cosmetic|trivial|someday)\b`, Weight: 0.6},
			},
		},
		"area": {
			"api": {
				{Name: "api keyword", Pattern: `(?i)\b(api|endpoints?|rest|graphql|grpc|http|status code)\b`, Weight: 0.5},
			},
			"database": {
				{Name: "database keyword", Pattern: `(?i)\b(database|db|sql|query|queries|migrations?|schema|postgres(ql)?|mysql|sqlite)\b`, Weight: 0.5},
			},
			"auth": {
				{Name: "auth keyword", Pattern: `(?i)\b(auth(entication|orization)?|login|logout|password|token|oauth|jwt|session|permissions?)\b`, Weight: 0.5},
			},
			"infrastructure": {
				{Name: "infra keyword", Pattern: `(?i)\b(deploy(ment)?|ci|cd|docker|kubernetes|k8s|terraform|pipeline|infra(structure)?)\b`, Weight: 0.5},
			},
			"ui": {
				{Name: "ui keyword", Pattern: `(?i)\b(ui|button|layout|css|styles?|render(ing)?|page|screen|modal)\b`, Weight: 0.5},
			},
			"ux": {
				{Name: "ux keyword", Pattern: `(?i)\b(ux|usability|user experience|confusing|intuitive|onboarding)\b`, Weight: 0.5},
			},
			"components": {
				{Name: "component keyword", Pattern: `(?i)\b(components?|widgets?|design system)\b`, Weight: 0.5},
			},
			"accessibility": {
				{Name: "a11y keyword", Pattern: `(?i)\b(accessibility|a11y|screen reader|aria|contrast|keyboard navigation)\b`, Weight: 0.6},
			},
			"core": {
				{Name: "core keyword", Pattern: `(?i)\b(core|engine|internals?)\b`, Weight: 0.4},
			},
			"build": {
				{Name: "build keyword", Pattern: `(?i)\b(build|compile|packaging|release|bundle|makefile|goreleaser)\b`, Weight: 0.5},
			},
			"examples": {
				{Name: "examples keyword", Pattern: `(?i)\b(examples?|samples?|demo)\b`, Weight: 0.5},
			},
		},
	}
}

// Merge returns a copy of t where each short label present in o replaces t's entry.
func (t RuleTable) Merge(o RuleTable) RuleTable {
	out := RuleTable{}
	for cat, labels := range t {
		out[cat] = map[string][]TriggerSpec{}
		for name, specs := range labels {
			out[cat][name] = append([]TriggerSpec(nil), specs...)
		}
	}
	for cat, labels := range o {
		if out[cat] == nil {
			out[cat] = map[string][]TriggerSpec{}
		}
		for name, specs := range labels {
			out[cat][name] = append([]TriggerSpec(nil), specs...)
		}
	}
	return out
}

// LoadRules decodes a YAML rule table.
func LoadRules(data []byte) (RuleTable, error) {
	var table RuleTable
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("parse rule table: %w", err)
	}
	if table == nil {
		table = RuleTable{}
	}
	return table, nil
}

// LoadRulesFile reads a YAML rule table and layers it over DefaultRules.
func LoadRulesFile(path string) (RuleTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	override, err := LoadRules(data)
	if err != nil {
		return nil, err
	}
	return DefaultRules().Merge(override), nil
}
