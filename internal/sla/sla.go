// Package sla ages open issues against per-priority SLAs and plans
// priority escalations. Nothing here mutates its inputs.
package sla

import (
	"sort"
	"time"

	"github.com/SupenBysz/gitea-mcp-tool-sub001/internal/config"
	"github.com/SupenBysz/gitea-mcp-tool-sub001/internal/domain"
)

// BlockedLabel is the workflow label that marks an issue as blocked.
const BlockedLabel = "blocked"

// Evaluator computes SLA and escalation results relative to Now.
type Evaluator struct {
	Now func() time.Time
}

func (e Evaluator) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

// Priority resolves the issue's priority short name. When several priority
// labels are present the most urgent wins; none or unknown yields the
// config's fallback priority.
func Priority(issue domain.Issue, cfg *config.WorkflowConfig) string {
	best, bestRank := "", -1
	for _, l := range issue.Labels {
		short, ok := cfg.ShortName(config.CategoryPriority, l)
		if !ok {
			continue
		}
		rank, ok := cfg.PriorityRank(short)
		if !ok {
			continue
		}
		if bestRank < 0 || rank < bestRank {
			best, bestRank = short, rank
		}
	}
	if best == "" {
		return cfg.FallbackPriority()
	}
	return best
}

// SLAHours resolves the SLA for a priority: blocked_detection.sla, then the
// label's sla_hours, then the built-in default.
func SLAHours(cfg *config.WorkflowConfig, priority string) float64 {
	if h, ok := cfg.Automation.BlockedDetection.SLA[priority]; ok && h > 0 {
		return float64(h)
	}
	return float64(cfg.SLAHours(priority))
}

// Classify applies the blocked/warning rule to one measurement.
func Classify(ageHours, slaHours, warningFraction float64) (domain.BlockedState, float64) {
	exceeded := ageHours - slaHours
	switch {
	case exceeded > 0:
		return domain.StateBlocked, exceeded
	case exceeded > -warningFraction*slaHours:
		return domain.StateWarning, exceeded
	}
	return domain.StateOK, exceeded
}

// Evaluate computes a BlockedStatus for every open issue. override, when set,
// replaces the SLA for all priorities. Results are ordered blocked, warning,
// ok; then by exceededBy descending; then by issue number.
func (e Evaluator) Evaluate(issues []domain.Issue, cfg *config.WorkflowConfig, override *float64) []domain.BlockedStatus {
	out := make([]domain.BlockedStatus, 0, len(issues))
	if cfg == nil {
		return out
	}
	now := e.now()
	fraction := cfg.WarningFraction()
	blockedLabel := cfg.FullName(config.CategoryWorkflow, BlockedLabel)

	for _, issue := range issues {
		if !issue.Open() {
			continue
		}
		prio := Priority(issue, cfg)
		sla := SLAHours(cfg, prio)
		if override != nil && *override > 0 {
			sla = *override
		}
		age := now.Sub(issue.LastActivity()).Hours()
		state, exceeded := Classify(age, sla, fraction)
		out = append(out, domain.BlockedStatus{
			IssueNumber:     issue.Number,
			Title:           issue.Title,
			Priority:        prio,
			State:           state,
			AgeHours:        age,
			SLAHours:        sla,
			ExceededBy:      exceeded,
			HasBlockedLabel: issue.HasLabel(blockedLabel),
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.State.Rank() != b.State.Rank() {
			return a.State.Rank() < b.State.Rank()
		}
		if a.ExceededBy != b.ExceededBy {
			return a.ExceededBy > b.ExceededBy
		}
		return a.IssueNumber < b.IssueNumber
	})
	return out
}

// Summary counts statuses per state.
func Summary(statuses []domain.BlockedStatus) map[domain.BlockedState]int {
	counts := map[domain.BlockedState]int{
		domain.StateBlocked: 0,
		domain.StateWarning: 0,
		domain.StateOK:      0,
	}
	for _, s := range statuses {
		counts[s.State]++
	}
	return counts
}
