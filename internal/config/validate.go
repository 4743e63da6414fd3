package config

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// ValidationResult separates blocking errors from informational warnings.
type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

func (r *ValidationResult) errorf(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *ValidationResult) warnf(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

var colorRe = regexp.MustCompile(`^[0-9a-fA-F]{6}$`)

// Validate checks cross references of an already parsed config.
func (c *WorkflowConfig) Validate() ValidationResult {
	var res ValidationResult

	if !ValidProjectType(c.Project.Type) {
		res.errorf("project.type %q must be one of backend, frontend, fullstack, library", c.Project.Type)
	}

	seen := map[string]Category{}
	for _, cat := range Categories() {
		lc := c.Category(cat)
		if lc.Labels.Len() == 0 && !lc.AllowEmpty {
			res.errorf("labels.%s defines no labels (set allow_empty: true to permit this)", cat)
		}
		for _, name := range lc.Labels.Names() {
			def, _ := lc.Labels.Get(name)
			if !colorRe.MatchString(strings.TrimPrefix(def.Color, "#")) {
				res.errorf("labels.%s.%s: color %q is not a 6-digit hex value", cat, name, def.Color)
			}
			if def.SLAHours != nil {
				if *def.SLAHours <= 0 {
					res.errorf("labels.%s.%s: sla_hours must be positive", cat, name)
				}
				if cat != CategoryPriority {
					res.warnf("labels.%s.%s: sla_hours is ignored outside the priority category", cat, name)
				}
			}
			full := lc.Prefix + name
			if other, dup := seen[full]; dup {
				res.errorf("label %q is defined in both %s and %s", full, other, cat)
			} else {
				seen[full] = cat
			}
		}
	}

	c.validateBoard(&res)
	c.validateAutomation(&res)

	res.Valid = len(res.Errors) == 0
	return res
}

func (c *WorkflowConfig) validateBoard(res *ValidationResult) {
	status := c.Labels.Status.Labels
	columnNames := map[string]bool{}
	mapped := map[string]bool{}
	for i, col := range c.Board.Columns {
		if strings.TrimSpace(col.Name) == "" {
			res.errorf("board.columns[%d] has an empty name", i)
		} else if columnNames[col.Name] {
			res.errorf("board column %q is defined more than once", col.Name)
		}
		columnNames[col.Name] = true
		if !status.Has(col.MapsTo) {
			res.errorf("board column %q maps to unknown status %q", col.Name, col.MapsTo)
			continue
		}
		mapped[col.MapsTo] = true
	}
	if len(c.Board.Columns) > 0 {
		for _, name := range status.Names() {
			if !mapped[name] {
				res.warnf("status %q is not placed on any board column", name)
			}
		}
	}
}

func (c *WorkflowConfig) validateAutomation(res *ValidationResult) {
	prio := c.Labels.Priority.Labels
	bd := c.Automation.BlockedDetection

	keys := make([]string, 0, len(bd.SLA))
	for k := range bd.SLA {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !prio.Has(k) {
			res.errorf("automation.blocked_detection.sla references undefined priority %q", k)
		}
		if bd.SLA[k] <= 0 {
			res.errorf("automation.blocked_detection.sla.%s must be positive", k)
		}
	}
	if bd.WarningFraction < 0 || bd.WarningFraction >= 1 {
		res.warnf("automation.blocked_detection.warning_fraction %v is outside (0,1); using %v", bd.WarningFraction, DefaultWarningFraction)
	}
	if bd.Enabled {
		for _, name := range prio.Names() {
			def, _ := prio.Get(name)
			_, inMap := bd.SLA[name]
			if def.SLAHours == nil && !inMap {
				res.warnf("priority %q has no SLA configured; default of %dh applies", name, DefaultSLAHours(name))
			}
		}
	}

	for i, rule := range c.Automation.PriorityEscalation.Rules {
		from, fromOK := c.PriorityRank(rule.FromPriority)
		to, toOK := c.PriorityRank(rule.ToPriority)
		if !fromOK || !prio.Has(rule.FromPriority) {
			res.errorf("automation.priority_escalation.rules[%d]: undefined from_priority %q", i, rule.FromPriority)
		}
		if !toOK || !prio.Has(rule.ToPriority) {
			res.errorf("automation.priority_escalation.rules[%d]: undefined to_priority %q", i, rule.ToPriority)
		}
		if rule.AfterDays <= 0 {
			res.errorf("automation.priority_escalation.rules[%d]: after_days must be positive", i)
		}
		if fromOK && toOK && to >= from {
			res.warnf("automation.priority_escalation.rules[%d]: %s -> %s does not raise urgency", i, rule.FromPriority, rule.ToPriority)
		}
	}
}

// Err joins the validation errors, or returns nil when there are none.
func (r ValidationResult) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	return fmt.Errorf("workflow config has %d error(s): %s", len(r.Errors), strings.Join(r.Errors, "; "))
}
