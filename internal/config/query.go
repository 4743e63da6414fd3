package config

import "strings"

// Category names a label category.
type Category string

const (
	CategoryStatus   Category = "status"
	CategoryPriority Category = "priority"
	CategoryType     Category = "type"
	CategoryArea     Category = "area"
	CategoryWorkflow Category = "workflow"
)

// Categories returns every category in canonical order.
func Categories() []Category {
	return []Category{CategoryStatus, CategoryPriority, CategoryType, CategoryArea, CategoryWorkflow}
}

// DefaultPriority is assumed for issues without a recognizable priority label.
const DefaultPriority = "P3"

// DefaultWarningFraction is the share of the SLA window reported as "warning".
const DefaultWarningFraction = 0.2

var defaultSLAHours = map[string]int{
	"P0": 4,
	"P1": 24,
	"P2": 72,
	"P3": 168,
}

var defaultPriorities = []string{"P0", "P1", "P2", "P3"}

// DefaultSLAHours returns the built-in SLA for a priority; unknown names get the P3 value.
func DefaultSLAHours(priority string) int {
	if h, ok := defaultSLAHours[priority]; ok {
		return h
	}
	return defaultSLAHours[DefaultPriority]
}

// DefaultLadder is the aging ladder used when the config defines no rules.
func DefaultLadder() []EscalationRule {
	return []EscalationRule{
		{FromPriority: "P3", ToPriority: "P2", AfterDays: 30},
		{FromPriority: "P2", ToPriority: "P1", AfterDays: 14},
		{FromPriority: "P1", ToPriority: "P0", AfterDays: 3},
	}
}

// Prefixes holds the prefix of each category.
type Prefixes struct {
	Status   string `json:"status"`
	Priority string `json:"priority"`
	Type     string `json:"type"`
	Area     string `json:"area"`
	Workflow string `json:"workflow"`
}

// LabelSpec is a flattened, fully-qualified label.
type LabelSpec struct {
	Name        string   `json:"name"`
	Category    Category `json:"category"`
	Color       string   `json:"color"`
	Description string   `json:"description,omitempty"`
}

// Category returns the named category; unknown names yield the zero value.
func (c *WorkflowConfig) Category(cat Category) LabelCategory {
	switch cat {
	case CategoryStatus:
		return c.Labels.Status
	case CategoryPriority:
		return c.Labels.Priority
	case CategoryType:
		return c.Labels.Type
	case CategoryArea:
		return c.Labels.Area
	case CategoryWorkflow:
		return c.Labels.Workflow
	}
	return LabelCategory{}
}

func (c *WorkflowConfig) LabelPrefixes() Prefixes {
	return Prefixes{
		Status:   c.Labels.Status.Prefix,
		Priority: c.Labels.Priority.Prefix,
		Type:     c.Labels.Type.Prefix,
		Area:     c.Labels.Area.Prefix,
		Workflow: c.Labels.Workflow.Prefix,
	}
}

// AllLabels flattens every category: status, priority, type, area, workflow.
func (c *WorkflowConfig) AllLabels() []LabelSpec {
	var out []LabelSpec
	for _, cat := range Categories() {
		lc := c.Category(cat)
		for _, name := range lc.Labels.Names() {
			def, _ := lc.Labels.Get(name)
			out = append(out, LabelSpec{
				Name:        lc.Prefix + name,
				Category:    cat,
				Color:       def.Color,
				Description: def.Description,
			})
		}
	}
	return out
}

// FullName prefixes a short name with its category prefix.
func (c *WorkflowConfig) FullName(cat Category, short string) string {
	return c.Category(cat).Prefix + short
}

// ShortName resolves a full label name to a short name defined in cat.
func (c *WorkflowConfig) ShortName(cat Category, label string) (string, bool) {
	lc := c.Category(cat)
	if !strings.HasPrefix(label, lc.Prefix) {
		return "", false
	}
	short := strings.TrimPrefix(label, lc.Prefix)
	if !lc.Labels.Has(short) {
		return "", false
	}
	return short, true
}

// PriorityNames lists priorities from most to least urgent.
func (c *WorkflowConfig) PriorityNames() []string {
	if c.Labels.Priority.Labels.Len() > 0 {
		return c.Labels.Priority.Labels.Names()
	}
	return append([]string(nil), defaultPriorities...)
}

// PriorityRank returns the urgency rank of a priority, 0 being the most urgent.
func (c *WorkflowConfig) PriorityRank(priority string) (int, bool) {
	for i, name := range c.PriorityNames() {
		if name == priority {
			return i, true
		}
	}
	return 0, false
}

// FallbackPriority is assigned to issues without a recognizable priority
// label: DefaultPriority when defined, else the least urgent priority.
func (c *WorkflowConfig) FallbackPriority() string {
	names := c.PriorityNames()
	for _, name := range names {
		if name == DefaultPriority {
			return name
		}
	}
	return names[len(names)-1]
}

// TopPriority is the most urgent priority.
func (c *WorkflowConfig) TopPriority() string {
	return c.PriorityNames()[0]
}

// SLAHours returns the label's sla_hours or the built-in default.
func (c *WorkflowConfig) SLAHours(priority string) int {
	if def, ok := c.Labels.Priority.Labels.Get(priority); ok && def.SLAHours != nil && *def.SLAHours > 0 {
		return *def.SLAHours
	}
	return DefaultSLAHours(priority)
}

// EscalationLadder returns configured rules or DefaultLadder.
func (c *WorkflowConfig) EscalationLadder() []EscalationRule {
	if len(c.Automation.PriorityEscalation.Rules) > 0 {
		return c.Automation.PriorityEscalation.Rules
	}
	return DefaultLadder()
}

// WarningFraction returns the configured warning fraction or the default.
func (c *WorkflowConfig) WarningFraction() float64 {
	f := c.Automation.BlockedDetection.WarningFraction
	if f <= 0 || f >= 1 {
		return DefaultWarningFraction
	}
	return f
}
