package sla

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SupenBysz/gitea-mcp-tool-sub001/internal/config"
	"github.com/SupenBysz/gitea-mcp-tool-sub001/internal/domain"
	"github.com/SupenBysz/gitea-mcp-tool-sub001/internal/inference"
)

func TestEscalate_SecurityFastPath(t *testing.T) {
	cfg := config.GenerateDefault("backend", "go")
	issues := []domain.Issue{{
		Number:    3,
		Title:     "Critical security vulnerability (CVE-2024-xxxx)",
		Labels:    []string{"priority/P2"},
		CreatedAt: hoursAgo(1),
	}}

	got := evaluator().Escalate(issues, cfg, nil, true)
	require.Len(t, got, 1)
	assert.Equal(t, "P2", got[0].OldPriority)
	assert.Equal(t, "P0", got[0].NewPriority)
	assert.Equal(t, ReasonSecurity, got[0].Reason)
	assert.Equal(t, "priority/P2", got[0].RemoveLabel)
	assert.Equal(t, "priority/P0", got[0].AddLabel)
	assert.True(t, got[0].DryRun)
	assert.False(t, got[0].LabelMissing)
}

func TestEscalate_AgingLadder(t *testing.T) {
	cfg := config.GenerateDefault("backend", "go")
	issues := []domain.Issue{{
		Number:    4,
		Title:     "Improve log output",
		Labels:    []string{"priority/P3"},
		CreatedAt: daysAgo(31),
		UpdatedAt: hoursAgo(1),
	}}

	got := evaluator().Escalate(issues, cfg, nil, false)
	require.Len(t, got, 1)
	assert.Equal(t, "P3", got[0].OldPriority)
	assert.Equal(t, "P2", got[0].NewPriority)
	assert.Equal(t, "exceeded 30 days unresolved", got[0].Reason)
	assert.False(t, got[0].DryRun)
}

func TestEscalate_SecurityBeatsLadder(t *testing.T) {
	cfg := config.GenerateDefault("backend", "go")
	issues := []domain.Issue{
		{Number: 1, Title: "XSS in profile page", Labels: []string{"priority/P3"}, CreatedAt: daysAgo(90)},
		{Number: 2, Title: "Tidy up", Labels: []string{"priority/P1", "type/security"}, CreatedAt: daysAgo(10)},
	}

	got := evaluator().Escalate(issues, cfg, nil, true)
	require.Len(t, got, 2)
	for _, d := range got {
		assert.Equal(t, ReasonSecurity, d.Reason)
		assert.Equal(t, "P0", d.NewPriority)
	}
}

func TestEscalate_NoDecision(t *testing.T) {
	cfg := config.GenerateDefault("backend", "go")
	issues := []domain.Issue{
		{Number: 1, Title: "Security review", Labels: []string{"priority/P0"}, CreatedAt: daysAgo(100)},
		{Number: 2, Title: "Young issue", Labels: []string{"priority/P3"}, CreatedAt: daysAgo(29)},
		{Number: 3, Title: "Old but closed", Labels: []string{"priority/P3"}, CreatedAt: daysAgo(400), State: "closed"},
		{Number: 4, Title: "P2 not old enough", Labels: []string{"priority/P2"}, CreatedAt: daysAgo(13)},
	}

	got := evaluator().Escalate(issues, cfg, nil, true)
	assert.Empty(t, got)
}

func TestEscalate_DefaultPriorityAndMissingLabel(t *testing.T) {
	cfg := config.GenerateDefault("backend", "go")
	issues := []domain.Issue{{Number: 9, Title: "Unlabeled", CreatedAt: daysAgo(45)}}

	got := evaluator().Escalate(issues, cfg, []string{"priority/P3", "priority/P0"}, true)
	require.Len(t, got, 1)
	assert.Equal(t, "P3", got[0].OldPriority)
	assert.Equal(t, "P2", got[0].NewPriority)
	assert.Empty(t, got[0].RemoveLabel, "issue had no priority label")
	assert.True(t, got[0].LabelMissing)
}

func TestEscalate_ConfiguredRulesReplaceDefault(t *testing.T) {
	cfg := config.GenerateDefault("backend", "go")
	cfg.Automation.PriorityEscalation.Rules = []config.EscalationRule{
		{FromPriority: "P3", ToPriority: "P1", AfterDays: 7},
	}
	issues := []domain.Issue{
		{Number: 1, Title: "a", Labels: []string{"priority/P3"}, CreatedAt: daysAgo(8)},
		{Number: 2, Title: "b", Labels: []string{"priority/P2"}, CreatedAt: daysAgo(60)},
	}

	got := evaluator().Escalate(issues, cfg, nil, true)
	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].IssueNumber)
	assert.Equal(t, "P1", got[0].NewPriority)
	assert.Equal(t, "exceeded 7 days unresolved", got[0].Reason)
}

func TestEscalate_DoesNotMutateInput(t *testing.T) {
	cfg := config.GenerateDefault("backend", "go")
	labels := []string{"priority/P3"}
	issues := []domain.Issue{{Number: 1, Title: "old", Labels: labels, CreatedAt: daysAgo(40)}}

	_ = evaluator().Escalate(issues, cfg, nil, false)
	assert.Equal(t, []string{"priority/P3"}, issues[0].Labels)
}

func TestSecuritySignalMatchesInference(t *testing.T) {
	cfg := config.GenerateDefault("backend", "go")
	titles := map[string]bool{
		"XSS in comment preview":                    true,
		"Exploitable deserialization in importer":   true,
		"Remote code execution via template upload": true,
		"Improve log output":                        false,
		"Update README":                             false,
	}
	for title, want := range titles {
		issue := domain.Issue{Number: 1, Title: title}
		assert.Equal(t, want, HasSecuritySignal(issue, cfg), title)

		r, ok := inference.Infer(issue, cfg).Get("type")
		assert.Equal(t, want, ok && r.Label == "type/security", title)
	}
}
