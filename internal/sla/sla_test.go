package sla

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SupenBysz/gitea-mcp-tool-sub001/internal/config"
	"github.com/SupenBysz/gitea-mcp-tool-sub001/internal/domain"
)

var fixedNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func evaluator() Evaluator {
	return Evaluator{Now: func() time.Time { return fixedNow }}
}

func hoursAgo(h float64) time.Time {
	return fixedNow.Add(-time.Duration(h * float64(time.Hour)))
}

func daysAgo(d int) time.Time {
	return fixedNow.AddDate(0, 0, -d)
}

func TestEvaluate_BlockedScenario(t *testing.T) {
	cfg := config.GenerateDefault("backend", "go")
	issues := []domain.Issue{{
		Number:    1,
		Title:     "Outage",
		Labels:    []string{"priority/P0"},
		CreatedAt: hoursAgo(10),
		UpdatedAt: hoursAgo(5),
	}}

	got := evaluator().Evaluate(issues, cfg, nil)
	require.Len(t, got, 1)
	assert.Equal(t, domain.StateBlocked, got[0].State)
	assert.Equal(t, "P0", got[0].Priority)
	assert.InDelta(t, 4, got[0].SLAHours, 1e-9)
	assert.InDelta(t, 1, got[0].ExceededBy, 1e-9)
}

func TestEvaluate_WarningScenario(t *testing.T) {
	cfg := config.GenerateDefault("backend", "go")
	issues := []domain.Issue{{
		Number:    2,
		Labels:    []string{"priority/P0"},
		CreatedAt: hoursAgo(20),
		UpdatedAt: hoursAgo(3.5),
	}}

	got := evaluator().Evaluate(issues, cfg, nil)
	require.Len(t, got, 1)
	assert.Equal(t, domain.StateWarning, got[0].State)
	assert.InDelta(t, -0.5, got[0].ExceededBy, 1e-9)
}

func TestEvaluate_Monotonic(t *testing.T) {
	cfg := config.GenerateDefault("frontend", "")
	prev := domain.StateOK.Rank()
	for age := 0.0; age <= 60; age += 0.25 {
		got := evaluator().Evaluate([]domain.Issue{{
			Number:    1,
			Labels:    []string{"priority/P1"},
			CreatedAt: hoursAgo(age),
			UpdatedAt: hoursAgo(age),
		}}, cfg, nil)
		require.Len(t, got, 1)
		rank := got[0].State.Rank()
		require.LessOrEqual(t, rank, prev, "state moved backward at age %v", age)
		prev = rank
	}
	assert.Equal(t, domain.StateBlocked.Rank(), prev)
}

func TestEvaluate_SLAResolution(t *testing.T) {
	cfg := config.GenerateDefault("backend", "go")
	cfg.Automation.BlockedDetection.SLA["P1"] = 10
	issue := domain.Issue{Number: 5, Labels: []string{"priority/P1"}, CreatedAt: hoursAgo(12), UpdatedAt: hoursAgo(12)}

	got := evaluator().Evaluate([]domain.Issue{issue}, cfg, nil)
	require.Len(t, got, 1)
	assert.InDelta(t, 10, got[0].SLAHours, 1e-9, "blocked_detection.sla wins over sla_hours")
	assert.Equal(t, domain.StateBlocked, got[0].State)

	override := 48.0
	got = evaluator().Evaluate([]domain.Issue{issue}, cfg, &override)
	assert.InDelta(t, 48, got[0].SLAHours, 1e-9)
	assert.Equal(t, domain.StateOK, got[0].State)

	delete(cfg.Automation.BlockedDetection.SLA, "P1")
	got = evaluator().Evaluate([]domain.Issue{issue}, cfg, nil)
	assert.InDelta(t, 24, got[0].SLAHours, 1e-9, "falls back to sla_hours")
}

func TestEvaluate_DefaultsUnknownPriority(t *testing.T) {
	cfg := config.GenerateDefault("library", "")
	issues := []domain.Issue{
		{Number: 1, CreatedAt: hoursAgo(1)},
		{Number: 2, Labels: []string{"priority/P9", "kind/bug"}, CreatedAt: hoursAgo(1)},
	}

	got := evaluator().Evaluate(issues, cfg, nil)
	require.Len(t, got, 2)
	for _, s := range got {
		assert.Equal(t, "P3", s.Priority)
		assert.InDelta(t, 168, s.SLAHours, 1e-9)
		assert.Equal(t, domain.StateOK, s.State)
	}
}

func TestEvaluate_FallbackToLeastUrgentCustomPriority(t *testing.T) {
	cfg := config.GenerateDefault("library", "")
	h := 10
	cfg.Labels.Priority = config.LabelCategory{
		Prefix: "priority/",
		Labels: config.NewLabelSet(
			config.NamedLabel{Name: "high", LabelDefinition: config.LabelDefinition{Color: "b60205"}},
			config.NamedLabel{Name: "low", LabelDefinition: config.LabelDefinition{Color: "0e8a16", SLAHours: &h}},
		),
	}
	cfg.Automation.BlockedDetection.SLA = nil

	got := evaluator().Evaluate([]domain.Issue{{Number: 1, CreatedAt: hoursAgo(11)}}, cfg, nil)
	require.Len(t, got, 1)
	assert.Equal(t, "low", got[0].Priority)
	assert.InDelta(t, 10, got[0].SLAHours, 1e-9)
	assert.Equal(t, domain.StateBlocked, got[0].State)
	assert.Equal(t, "low", cfg.FallbackPriority())
}

func TestEvaluate_MostUrgentPriorityWins(t *testing.T) {
	cfg := config.GenerateDefault("backend", "")
	issue := domain.Issue{Number: 1, Labels: []string{"priority/P3", "priority/P1"}, CreatedAt: hoursAgo(1)}
	got := evaluator().Evaluate([]domain.Issue{issue}, cfg, nil)
	require.Len(t, got, 1)
	assert.Equal(t, "P1", got[0].Priority)
}

func TestEvaluate_OrderingAndClosed(t *testing.T) {
	cfg := config.GenerateDefault("backend", "go")
	issues := []domain.Issue{
		{Number: 10, Labels: []string{"priority/P3"}, CreatedAt: hoursAgo(1)},
		{Number: 11, Labels: []string{"priority/P0"}, CreatedAt: hoursAgo(6)},
		{Number: 12, Labels: []string{"priority/P0", "blocked"}, CreatedAt: hoursAgo(9)},
		{Number: 13, Labels: []string{"priority/P0"}, CreatedAt: hoursAgo(3.9)},
		{Number: 14, Labels: []string{"priority/P0"}, CreatedAt: hoursAgo(6)},
		{Number: 15, Labels: []string{"priority/P0"}, CreatedAt: hoursAgo(100), State: "closed"},
	}

	got := evaluator().Evaluate(issues, cfg, nil)
	var order []int
	for _, s := range got {
		order = append(order, s.IssueNumber)
	}
	assert.Equal(t, []int{12, 11, 14, 13, 10}, order)
	assert.True(t, got[0].HasBlockedLabel)
	assert.False(t, got[1].HasBlockedLabel)

	counts := Summary(got)
	assert.Equal(t, 3, counts[domain.StateBlocked])
	assert.Equal(t, 1, counts[domain.StateWarning])
	assert.Equal(t, 1, counts[domain.StateOK])
}

func TestEvaluate_WarningFractionFromConfig(t *testing.T) {
	cfg := config.GenerateDefault("backend", "go")
	issue := domain.Issue{Number: 1, Labels: []string{"priority/P2"}, CreatedAt: hoursAgo(50)}

	got := evaluator().Evaluate([]domain.Issue{issue}, cfg, nil)
	assert.Equal(t, domain.StateOK, got[0].State, "50h of 72h is outside the default warning window")

	cfg.Automation.BlockedDetection.WarningFraction = 0.5
	got = evaluator().Evaluate([]domain.Issue{issue}, cfg, nil)
	assert.Equal(t, domain.StateWarning, got[0].State)
}

func TestEvaluate_EmptyInput(t *testing.T) {
	cfg := config.GenerateDefault("backend", "go")
	got := evaluator().Evaluate(nil, cfg, nil)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		age, sla float64
		want     domain.BlockedState
	}{
		{5, 4, domain.StateBlocked},
		{4, 4, domain.StateWarning},
		{3.5, 4, domain.StateWarning},
		{3, 4, domain.StateOK},
		{0, 4, domain.StateOK},
	}
	for _, tt := range tests {
		got, _ := Classify(tt.age, tt.sla, 0.2)
		assert.Equal(t, tt.want, got, "age=%v sla=%v", tt.age, tt.sla)
	}
}
