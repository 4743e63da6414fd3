package config_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/SupenBysz/gitea-mcp-tool-sub001/internal/config"
)

func TestDefaultRoundTrip(t *testing.T) {
	for _, typ := range []string{"backend", "frontend", "fullstack", "library"} {
		for _, lang := range []string{"", "go", "typescript"} {
			cfg := config.GenerateDefault(typ, lang)
			data, err := config.Serialize(cfg)
			if err != nil {
				t.Fatalf("serialize %s/%s: %v", typ, lang, err)
			}
			parsed, err := config.Parse(data)
			if err != nil {
				t.Fatalf("parse %s/%s: %v\n%s", typ, lang, err, data)
			}
			if !reflect.DeepEqual(cfg, parsed) {
				t.Fatalf("round trip mismatch for %s/%s\n%s", typ, lang, data)
			}
		}
	}
}

func TestDefaultIsValid(t *testing.T) {
	cfg := config.GenerateDefault("backend", "go")
	res := cfg.Validate()
	if !res.Valid {
		t.Fatalf("expected default config to be valid: %v", res.Errors)
	}
	if len(res.Warnings) != 0 {
		t.Fatalf("expected no warnings, got %v", res.Warnings)
	}
	if got := len(cfg.Board.Columns); got != 5 {
		t.Fatalf("expected 5 columns, got %d", got)
	}
	for i, name := range cfg.Labels.Status.Labels.Names() {
		if cfg.Board.Columns[i].MapsTo != name {
			t.Fatalf("column %d maps to %q, want %q", i, cfg.Board.Columns[i].MapsTo, name)
		}
	}
}

func TestGenerateDefaultDeterministic(t *testing.T) {
	a, _ := config.DefaultYAML("fullstack", "go")
	b, _ := config.DefaultYAML("fullstack", "go")
	if string(a) != string(b) {
		t.Fatalf("default yaml differs between calls")
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	cases := []struct {
		name string
		doc  string
		want string
	}{
		{"empty", "   \n", "document is empty"},
		{"syntax", "project:\n  type: backend\n   bad: [\n", "line"},
		{"unknown field", "project:\n  type: backend\n  colour: red\n", "colour"},
		{"missing type", "project:\n  language: go\n", "project.type"},
		{"duplicate label", "project:\n  type: backend\nlabels:\n  priority:\n    labels:\n      P0: {color: ff0000}\n      P0: {color: 00ff00}\n", "duplicate label"},
		{"unknown label field", "project:\n  type: backend\nlabels:\n  type:\n    labels:\n      bug: {color: ff0000, weight: 3}\n", "weight"},
		{"missing labels", "project:\n  type: backend\n", "labels: is required"},
		{"null labels", "project:\n  type: backend\nlabels:\n", "labels: is required"},
		{"column without maps_to", "project:\n  type: backend\nlabels:\n  type:\n    labels:\n      bug: {color: ff0000}\nboard:\n  name: b\n  columns:\n    - name: Todo\n", "maps_to"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := config.Parse([]byte(tc.doc))
			if err == nil {
				t.Fatalf("expected parse error")
			}
			if cfg != nil {
				t.Fatalf("expected no partial config on failure")
			}
			var pe *config.ParseError
			if !errors.As(err, &pe) || len(pe.Problems) == 0 {
				t.Fatalf("expected ParseError with problems, got %T %v", err, err)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err.Error(), tc.want)
			}
		})
	}
}

func TestParseReportsLine(t *testing.T) {
	doc := "project:\n  type: backend\nlabels:\n  priority:\n    labels:\n      P0: {color: ff0000}\n      P0: {color: 00ff00}\n"
	_, err := config.Parse([]byte(doc))
	var pe *config.ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ParseError, got %v", err)
	}
	if pe.Problems[0].Line != 7 {
		t.Fatalf("expected line 7, got %+v", pe.Problems[0])
	}
}

func TestParsePreservesLabelOrder(t *testing.T) {
	doc := `project:
  type: library
labels:
  area:
    prefix: "area/"
    labels:
      zeta: {color: "000000"}
      alpha: {color: "111111"}
      mid: {color: "222222"}
`
	cfg, err := config.Parse([]byte(doc))
	if err != nil {
		t.Fatal(err)
	}
	got := cfg.Labels.Area.Labels.Names()
	want := []string{"zeta", "alpha", "mid"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("order %v, want %v", got, want)
	}
}

func TestValidateDanglingColumn(t *testing.T) {
	cfg := config.GenerateDefault("backend", "")
	cfg.Board.Columns = append(cfg.Board.Columns, config.BoardColumn{Name: "Archive", MapsTo: "archived"})
	res := cfg.Validate()
	if res.Valid {
		t.Fatalf("expected invalid config")
	}
	found := false
	for _, e := range res.Errors {
		if strings.Contains(e, `"Archive"`) && strings.Contains(e, `"archived"`) {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected error referencing column Archive, got %v", res.Errors)
	}
	if res.Err() == nil {
		t.Fatalf("expected Err() to be non-nil")
	}
}

func TestValidateRules(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(c *config.WorkflowConfig)
		wantErr string
		wantWrn string
	}{
		{
			name:    "unknown project type",
			mutate:  func(c *config.WorkflowConfig) { c.Project.Type = "mobile" },
			wantErr: "project.type",
		},
		{
			name:    "empty category",
			mutate:  func(c *config.WorkflowConfig) { c.Labels.Area = config.LabelCategory{Prefix: "area/"} },
			wantErr: "labels.area defines no labels",
		},
		{
			name:    "sla references unknown priority",
			mutate:  func(c *config.WorkflowConfig) { c.Automation.BlockedDetection.SLA["P9"] = 10 },
			wantErr: `undefined priority "P9"`,
		},
		{
			name: "bad color",
			mutate: func(c *config.WorkflowConfig) {
				c.Labels.Type.Labels.Set("bug", config.LabelDefinition{Color: "red"})
			},
			wantErr: "6-digit hex",
		},
		{
			name: "full name collision",
			mutate: func(c *config.WorkflowConfig) {
				c.Labels.Area.Prefix = ""
				c.Labels.Area.Labels.Set("blocked", config.LabelDefinition{Color: "000000"})
			},
			wantErr: `"blocked" is defined in both`,
		},
		{
			name: "escalation rule with unknown priority",
			mutate: func(c *config.WorkflowConfig) {
				c.Automation.PriorityEscalation.Rules = []config.EscalationRule{{FromPriority: "P4", ToPriority: "P3", AfterDays: 5}}
			},
			wantErr: "from_priority",
		},
		{
			name: "sla hours outside priority",
			mutate: func(c *config.WorkflowConfig) {
				h := 5
				c.Labels.Type.Labels.Set("bug", config.LabelDefinition{Color: "d73a4a", SLAHours: &h})
			},
			wantWrn: "ignored outside the priority category",
		},
		{
			name: "downgrading rule",
			mutate: func(c *config.WorkflowConfig) {
				c.Automation.PriorityEscalation.Rules = []config.EscalationRule{{FromPriority: "P1", ToPriority: "P2", AfterDays: 5}}
			},
			wantWrn: "does not raise urgency",
		},
		{
			name: "unmapped status",
			mutate: func(c *config.WorkflowConfig) {
				c.Board.Columns = c.Board.Columns[:4]
			},
			wantWrn: `status "done" is not placed`,
		},
		{
			name: "allow empty category",
			mutate: func(c *config.WorkflowConfig) {
				c.Labels.Area = config.LabelCategory{Prefix: "area/", AllowEmpty: true}
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.GenerateDefault("backend", "go")
			tc.mutate(cfg)
			res := cfg.Validate()
			if tc.wantErr == "" && !res.Valid {
				t.Fatalf("unexpected errors: %v", res.Errors)
			}
			if tc.wantErr != "" && !containsSubstring(res.Errors, tc.wantErr) {
				t.Fatalf("errors %v missing %q", res.Errors, tc.wantErr)
			}
			if tc.wantWrn != "" && !containsSubstring(res.Warnings, tc.wantWrn) {
				t.Fatalf("warnings %v missing %q", res.Warnings, tc.wantWrn)
			}
		})
	}
}

func TestDerivedQueries(t *testing.T) {
	cfg := config.GenerateDefault("frontend", "typescript")
	p := cfg.LabelPrefixes()
	if p.Status != "status/" || p.Priority != "priority/" || p.Type != "type/" || p.Area != "area/" || p.Workflow != "" {
		t.Fatalf("unexpected prefixes %+v", p)
	}
	all := cfg.AllLabels()
	if len(all) != 5+4+6+4+4 {
		t.Fatalf("unexpected label count %d", len(all))
	}
	if all[0].Name != "status/backlog" || all[0].Category != config.CategoryStatus {
		t.Fatalf("unexpected first label %+v", all[0])
	}
	if all[5].Name != "priority/P0" {
		t.Fatalf("priority labels should follow status, got %+v", all[5])
	}
	if last := all[len(all)-1]; last.Name != "duplicate" || last.Category != config.CategoryWorkflow {
		t.Fatalf("unexpected last label %+v", last)
	}
	if short, ok := cfg.ShortName(config.CategoryPriority, "priority/P1"); !ok || short != "P1" {
		t.Fatalf("short name lookup failed: %q %v", short, ok)
	}
	if _, ok := cfg.ShortName(config.CategoryPriority, "priority/P7"); ok {
		t.Fatalf("expected unknown priority to fail lookup")
	}
}

func TestSLAHoursDefaults(t *testing.T) {
	cfg := &config.WorkflowConfig{Project: config.Project{Type: "backend"}}
	want := map[string]int{"P0": 4, "P1": 24, "P2": 72, "P3": 168, "P9": 168}
	for prio, h := range want {
		if got := cfg.SLAHours(prio); got != h {
			t.Fatalf("SLAHours(%s)=%d want %d", prio, got, h)
		}
	}
	eight := 8
	cfg.Labels.Priority.Labels.Set("P0", config.LabelDefinition{Color: "b60205", SLAHours: &eight})
	if got := cfg.SLAHours("P0"); got != 8 {
		t.Fatalf("configured SLA ignored: %d", got)
	}
	if got := len(cfg.EscalationLadder()); got != 3 {
		t.Fatalf("expected default ladder, got %d rules", got)
	}
}

func TestLoadOptionalAndPath(t *testing.T) {
	dir := t.TempDir()
	path := config.Path(dir)
	cfg, err := config.LoadOptional(path)
	if err != nil || cfg != nil {
		t.Fatalf("expected nil,nil for missing file, got %v %v", cfg, err)
	}
	if _, err := config.Load(dir); err == nil || !strings.Contains(err.Error(), "wf config init") {
		t.Fatalf("expected init hint, got %v", err)
	}
	writeDefault(t, path, "library")
	cfg, err = config.Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Project.Type != "library" {
		t.Fatalf("unexpected project type %q", cfg.Project.Type)
	}
}

func TestWatcherReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "workflow.yaml")
	writeDefault(t, path, "backend")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w, err := config.Watch(ctx, path, nil)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer w.Close()
	if w.Current().Project.Type != "backend" {
		t.Fatalf("unexpected initial config")
	}

	if err := os.WriteFile(path, []byte("project: [broken\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(200 * time.Millisecond)
	if w.Current().Project.Type != "backend" {
		t.Fatalf("broken document should not replace config")
	}

	writeDefault(t, path, "frontend")
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if w.Current().Project.Type == "frontend" {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("config was not reloaded")
}

func writeDefault(t *testing.T, path, typ string) {
	t.Helper()
	data, err := config.DefaultYAML(typ, "go")
	if err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func containsSubstring(items []string, sub string) bool {
	for _, it := range items {
		if strings.Contains(it, sub) {
			return true
		}
	}
	return false
}
