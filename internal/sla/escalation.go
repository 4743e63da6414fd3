package sla

import (
	"fmt"
	"regexp"

	"github.com/SupenBysz/gitea-mcp-tool-sub001/internal/config"
	"github.com/SupenBysz/gitea-mcp-tool-sub001/internal/domain"
	"github.com/SupenBysz/gitea-mcp-tool-sub001/internal/inference"
)

const (
	ReasonSecurity = "security auto-escalation"
	securityLabel  = "security"
)

var securitySignal = regexp.MustCompile(inference.SecurityPattern)

// HasSecuritySignal reports whether the issue carries the security type label
// or mentions a security term in its title or body.
func HasSecuritySignal(issue domain.Issue, cfg *config.WorkflowConfig) bool {
	if cfg.Labels.Type.Labels.Has(securityLabel) && issue.HasLabel(cfg.FullName(config.CategoryType, securityLabel)) {
		return true
	}
	return securitySignal.MatchString(issue.Title) || securitySignal.MatchString(issue.Body)
}

// Escalate plans priority changes for open issues. The security fast-path
// wins over the aging ladder. repoLabels are the full label names that exist
// on the remote repository; decisions whose target label is absent are flagged.
func (e Evaluator) Escalate(issues []domain.Issue, cfg *config.WorkflowConfig, repoLabels []string, dryRun bool) []domain.EscalationDecision {
	out := []domain.EscalationDecision{}
	if cfg == nil {
		return out
	}
	now := e.now()
	top := cfg.TopPriority()
	ladder := cfg.EscalationLadder()
	existing := make(map[string]bool, len(repoLabels))
	for _, l := range repoLabels {
		existing[l] = true
	}

	for _, issue := range issues {
		if !issue.Open() {
			continue
		}
		current := Priority(issue, cfg)
		var target, reason string

		if HasSecuritySignal(issue, cfg) && current != top {
			target, reason = top, ReasonSecurity
		} else {
			ageDays := int(now.Sub(issue.CreatedAt).Hours() / 24)
			for _, rule := range ladder {
				if rule.FromPriority == current && ageDays >= rule.AfterDays {
					target = rule.ToPriority
					reason = fmt.Sprintf("exceeded %d days unresolved", rule.AfterDays)
					break
				}
			}
		}
		if target == "" || target == current {
			continue
		}

		d := domain.EscalationDecision{
			IssueNumber: issue.Number,
			Title:       issue.Title,
			OldPriority: current,
			NewPriority: target,
			Reason:      reason,
			AddLabel:    cfg.FullName(config.CategoryPriority, target),
			DryRun:      dryRun,
		}
		if full := cfg.FullName(config.CategoryPriority, current); issue.HasLabel(full) {
			d.RemoveLabel = full
		}
		if repoLabels != nil && !existing[d.AddLabel] {
			d.LabelMissing = true
		}
		out = append(out, d)
	}
	return out
}
