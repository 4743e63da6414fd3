package config

import "fmt"

// Supported project types.
const (
	ProjectBackend   = "backend"
	ProjectFrontend  = "frontend"
	ProjectFullstack = "fullstack"
	ProjectLibrary   = "library"
)

var projectTypes = map[string]bool{
	ProjectBackend:   true,
	ProjectFrontend:  true,
	ProjectFullstack: true,
	ProjectLibrary:   true,
}

// ValidProjectType reports whether t is a supported project type.
func ValidProjectType(t string) bool {
	return projectTypes[t]
}

func hours(h int) *int { return &h }

func label(name, color, description string) NamedLabel {
	return NamedLabel{Name: name, LabelDefinition: LabelDefinition{Color: color, Description: description}}
}

var areaLabels = map[string][]NamedLabel{
	ProjectBackend: {
		label("api", "1d76db", "HTTP/RPC API surface"),
		label("database", "5319e7", "Schema, queries and migrations"),
		label("auth", "b60205", "Authentication and authorization"),
		label("infrastructure", "006b75", "Deployment, CI and operations"),
	},
	ProjectFrontend: {
		label("ui", "1d76db", "Visual components and layout"),
		label("ux", "c5def5", "Interaction design and usability"),
		label("components", "5319e7", "Shared component library"),
		label("accessibility", "0e8a16", "Accessibility compliance"),
	},
	ProjectFullstack: {
		label("api", "1d76db", "HTTP/RPC API surface"),
		label("ui", "c5def5", "Visual components and layout"),
		label("database", "5319e7", "Schema, queries and migrations"),
		label("infrastructure", "006b75", "Deployment, CI and operations"),
	},
	ProjectLibrary: {
		label("core", "1d76db", "Core library code"),
		label("api", "5319e7", "Public API and compatibility"),
		label("build", "006b75", "Build, packaging and release"),
		label("examples", "c5def5", "Examples and samples"),
	},
}

// GenerateDefault builds the canonical starter config. It is deterministic.
func GenerateDefault(projectType, language string) *WorkflowConfig {
	cfg := &WorkflowConfig{
		Project: Project{Type: projectType, Language: language},
	}

	cfg.Labels.Status = LabelCategory{
		Prefix: "status/",
		Labels: NewLabelSet(
			label("backlog", "ededed", "Not yet scheduled"),
			label("in-progress", "fbca04", "Actively being worked on"),
			label("review", "0052cc", "Awaiting code review"),
			label("testing", "5319e7", "Under verification"),
			label("done", "0e8a16", "Completed"),
		),
	}

	priorities := []struct {
		name, color, desc string
	}{
		{"P0", "b60205", "Critical: drop everything"},
		{"P1", "d93f0b", "High: next up"},
		{"P2", "fbca04", "Medium: planned work"},
		{"P3", "0e8a16", "Low: when time allows"},
	}
	var prio LabelSet
	for _, p := range priorities {
		prio.Set(p.name, LabelDefinition{Color: p.color, Description: p.desc, SLAHours: hours(DefaultSLAHours(p.name))})
	}
	cfg.Labels.Priority = LabelCategory{Prefix: "priority/", Labels: prio}

	cfg.Labels.Type = LabelCategory{
		Prefix: "type/",
		Labels: NewLabelSet(
			label("bug", "d73a4a", "Something is not working"),
			label("feature", "a2eeef", "New functionality"),
			label("docs", "0075ca", "Documentation changes"),
			label("refactor", "cfd3d7", "Code restructuring without behavior change"),
			label("test", "bfd4f2", "Test coverage and tooling"),
			label("security", "b60205", "Security issue or hardening"),
		),
	}

	areas, ok := areaLabels[projectType]
	if !ok {
		areas = []NamedLabel{label("core", "1d76db", "Core code")}
	}
	cfg.Labels.Area = LabelCategory{Prefix: "area/", Labels: NewLabelSet(areas...)}

	cfg.Labels.Workflow = LabelCategory{
		Labels: NewLabelSet(
			label("blocked", "b60205", "Waiting on something external"),
			label("needs-info", "d876e3", "More information required from reporter"),
			label("needs-review", "fbca04", "Needs triage or review"),
			label("duplicate", "cfd3d7", "Duplicate of another issue"),
		),
	}

	cfg.Board = Board{
		Name: "Development",
		Columns: []BoardColumn{
			{Name: "Backlog", MapsTo: "backlog"},
			{Name: "In Progress", MapsTo: "in-progress"},
			{Name: "Review", MapsTo: "review"},
			{Name: "Testing", MapsTo: "testing"},
			{Name: "Done", MapsTo: "done"},
		},
	}

	sla := make(map[string]int, len(priorities))
	for _, p := range priorities {
		sla[p.name] = DefaultSLAHours(p.name)
	}
	cfg.Automation = Automation{
		LabelInference:     LabelInference{Enabled: true},
		PriorityEscalation: PriorityEscalation{Enabled: true, Rules: DefaultLadder()},
		BlockedDetection:   BlockedDetection{Enabled: true, SLA: sla},
	}
	return cfg
}

// DefaultYAML returns the serialized starter config.
func DefaultYAML(projectType, language string) ([]byte, error) {
	data, err := Serialize(GenerateDefault(projectType, language))
	if err != nil {
		return nil, fmt.Errorf("serialize default config: %w", err)
	}
	return data, nil
}
