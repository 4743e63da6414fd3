package engine_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/SupenBysz/gitea-mcp-tool-sub001/internal/config"
	"github.com/SupenBysz/gitea-mcp-tool-sub001/internal/db"
	"github.com/SupenBysz/gitea-mcp-tool-sub001/internal/domain"
	"github.com/SupenBysz/gitea-mcp-tool-sub001/internal/engine"
	"github.com/SupenBysz/gitea-mcp-tool-sub001/internal/events"
	"github.com/SupenBysz/gitea-mcp-tool-sub001/internal/migrate"
	"github.com/SupenBysz/gitea-mcp-tool-sub001/internal/repo"
)

var testNow = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

type testEnv struct {
	Engine engine.Engine
	Config *config.WorkflowConfig
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	ctx := context.Background()
	if err := migrate.Migrate(ctx, conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn)
	eng.Now = func() time.Time { return testNow }
	return testEnv{Engine: eng, Config: config.GenerateDefault("backend", "go"), Ctx: ctx}
}

func sampleIssues() []domain.Issue {
	return []domain.Issue{
		{Number: 1, Title: "Login page crashes", Labels: []string{"priority/P0"}, CreatedAt: testNow.Add(-10 * time.Hour), UpdatedAt: testNow.Add(-5 * time.Hour)},
		{Number: 2, Title: "SQL injection in search", Labels: []string{"priority/P2"}, CreatedAt: testNow.Add(-2 * time.Hour)},
		{Number: 3, Title: "Polish README", Labels: []string{"priority/P3"}, CreatedAt: testNow.AddDate(0, 0, -40), UpdatedAt: testNow.Add(-time.Hour)},
		{Number: 4, Title: "Closed thing", State: "closed", CreatedAt: testNow.AddDate(-1, 0, 0)},
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	if err := migrate.Migrate(env.Ctx, env.Engine.DB); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	v, err := migrate.Version(env.Ctx, env.Engine.DB)
	if err != nil {
		t.Fatal(err)
	}
	ms, err := migrate.Load()
	if err != nil {
		t.Fatal(err)
	}
	if v != ms[len(ms)-1].Version {
		t.Fatalf("expected version %d, got %d", ms[len(ms)-1].Version, v)
	}
}

func TestDetectBlockedRecordsRun(t *testing.T) {
	env := newTestEnv(t)
	statuses, run, err := env.Engine.DetectBlocked(env.Ctx, env.Config, sampleIssues(), nil, engine.RunOptions{Repository: "acme/api", ActorID: "tester"})
	if err != nil {
		t.Fatalf("detect blocked: %v", err)
	}
	if len(statuses) != 3 {
		t.Fatalf("expected 3 open issues, got %d", len(statuses))
	}
	if statuses[0].IssueNumber != 1 || statuses[0].State != domain.StateBlocked {
		t.Fatalf("expected issue 1 blocked first, got %+v", statuses[0])
	}
	if run.Kind != domain.RunBlocked || run.ItemCount != 1 {
		t.Fatalf("unexpected run %+v", run)
	}

	detail, err := env.Engine.GetRun(env.Ctx, run.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if detail.Repository != "acme/api" || len(detail.Items) != 1 || detail.Items[0].Subject != "blocked" {
		t.Fatalf("unexpected detail %+v", detail)
	}
	var summary map[string]int
	if err := json.Unmarshal([]byte(detail.Summary), &summary); err != nil {
		t.Fatalf("summary json: %v", err)
	}
	if summary["blocked"] != 1 || summary["ok"] != 2 {
		t.Fatalf("unexpected summary %v", summary)
	}

	evs, err := env.Engine.Repo.LatestEvents(env.Ctx, repo.EventFilters{Repository: "acme/api"})
	if err != nil {
		t.Fatal(err)
	}
	if len(evs) != 1 || evs[0].Type != events.TypeRunRecorded || evs[0].EntityID != run.ID || evs[0].ActorID != "tester" {
		t.Fatalf("unexpected events %+v", evs)
	}
}

func TestEscalatePriorities(t *testing.T) {
	env := newTestEnv(t)
	decisions, run, err := env.Engine.EscalatePriorities(env.Ctx, env.Config, sampleIssues(), nil, engine.RunOptions{Repository: "acme/api", DryRun: true})
	if err != nil {
		t.Fatalf("escalate: %v", err)
	}
	if len(decisions) != 2 {
		t.Fatalf("expected 2 decisions, got %+v", decisions)
	}
	if decisions[0].IssueNumber != 2 || decisions[0].NewPriority != "P0" {
		t.Fatalf("expected security escalation for #2, got %+v", decisions[0])
	}
	if decisions[1].IssueNumber != 3 || decisions[1].NewPriority != "P2" {
		t.Fatalf("expected ladder escalation for #3, got %+v", decisions[1])
	}
	if !run.DryRun || run.ItemCount != 2 {
		t.Fatalf("unexpected run %+v", run)
	}
}

func TestInferLabelsAndPlanSync(t *testing.T) {
	env := newTestEnv(t)
	results, run, err := env.Engine.InferLabels(env.Ctx, env.Config, sampleIssues()[:1], engine.RunOptions{})
	if err != nil {
		t.Fatalf("infer: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected one result, got %d", len(results))
	}
	if _, ok := results[0].Get("type"); !ok {
		t.Fatalf("expected a type suggestion, got %+v", results[0])
	}
	if run.Kind != domain.RunInference {
		t.Fatalf("unexpected run kind %s", run.Kind)
	}

	plan, run, err := env.Engine.PlanSync(env.Ctx, env.Config,
		[]domain.RemoteLabel{{Name: "priority/P0", Color: "ff0000"}},
		[]domain.RemoteColumn{{Name: "Backlog"}},
		engine.RunOptions{Repository: "acme/api"})
	if err != nil {
		t.Fatalf("plan sync: %v", err)
	}
	if len(plan.Labels.Updated) != 1 || len(plan.Columns.Created) != 4 {
		t.Fatalf("unexpected plan %+v", plan)
	}
	if run.ItemCount != len(plan.Labels.Created)+1+4 {
		t.Fatalf("unexpected item count %d", run.ItemCount)
	}
}

func TestInvalidConfigBlocksAutomation(t *testing.T) {
	env := newTestEnv(t)
	env.Config.Board.Columns = append(env.Config.Board.Columns, config.BoardColumn{Name: "Archive", MapsTo: "archived"})

	_, _, err := env.Engine.DetectBlocked(env.Ctx, env.Config, sampleIssues(), nil, engine.RunOptions{Repository: "acme/api"})
	if !errors.Is(err, engine.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	runs, err := env.Engine.Repo.ListRuns(env.Ctx, repo.RunFilters{})
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 0 {
		t.Fatalf("no run should be recorded, got %d", len(runs))
	}
	evs, err := env.Engine.Repo.LatestEvents(env.Ctx, repo.EventFilters{Type: events.TypeConfigRejected})
	if err != nil {
		t.Fatal(err)
	}
	if len(evs) != 1 {
		t.Fatalf("expected a config.rejected event, got %d", len(evs))
	}
}

func TestDisabledFeature(t *testing.T) {
	env := newTestEnv(t)
	env.Config.Automation.LabelInference.Enabled = false
	_, _, err := env.Engine.InferLabels(env.Ctx, env.Config, sampleIssues(), engine.RunOptions{})
	if !errors.Is(err, engine.ErrFeatureDisabled) {
		t.Fatalf("expected ErrFeatureDisabled, got %v", err)
	}
}

func TestListRunsPagination(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 5; i++ {
		env.Engine.Now = func() time.Time { return testNow.Add(time.Duration(i) * time.Minute) }
		if _, _, err := env.Engine.DetectBlocked(env.Ctx, env.Config, nil, nil, engine.RunOptions{Repository: "acme/api"}); err != nil {
			t.Fatal(err)
		}
	}
	page, err := env.Engine.Repo.ListRuns(env.Ctx, repo.RunFilters{Repository: "acme/api", Limit: 3})
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 3 {
		t.Fatalf("expected 3 runs, got %d", len(page))
	}
	last := page[len(page)-1]
	rest, err := env.Engine.Repo.ListRuns(env.Ctx, repo.RunFilters{Repository: "acme/api", CursorCreatedAt: last.CreatedAt, CursorID: last.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(rest) != 2 {
		t.Fatalf("expected 2 remaining runs, got %d", len(rest))
	}
	if _, err := env.Engine.Repo.GetRun(env.Ctx, "missing"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	counts, err := env.Engine.Repo.CountRunsByKind(env.Ctx, "acme/api")
	if err != nil {
		t.Fatal(err)
	}
	if counts[domain.RunBlocked] != 5 {
		t.Fatalf("unexpected counts %v", counts)
	}
}

func TestEvaluateRepositories(t *testing.T) {
	env := newTestEnv(t)
	broken := config.GenerateDefault("frontend", "")
	broken.Labels.Status = config.LabelCategory{Prefix: "status/"}

	var inputs []engine.RepositoryInput
	for i := 0; i < 6; i++ {
		inputs = append(inputs, engine.RepositoryInput{
			Repository: fmt.Sprintf("acme/repo-%d", i),
			Config:     env.Config,
			Issues:     sampleIssues(),
		})
	}
	inputs = append(inputs, engine.RepositoryInput{Repository: "acme/broken", Config: broken, Issues: sampleIssues()})
	inputs = append(inputs, engine.RepositoryInput{Repository: "acme/unreadable", ConfigErr: errors.New("config bad.yaml: line 3: field colour not found"), Issues: sampleIssues()})

	reports, err := env.Engine.EvaluateRepositories(env.Ctx, inputs, 3, "batch")
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(reports) != len(inputs) {
		t.Fatalf("expected %d reports, got %d", len(inputs), len(reports))
	}
	for i, r := range reports[:6] {
		if r.Repository != inputs[i].Repository {
			t.Fatalf("report order changed: %s vs %s", r.Repository, inputs[i].Repository)
		}
		if r.Error != "" || r.Counts[domain.StateBlocked] != 1 || len(r.Escalations) != 2 {
			t.Fatalf("unexpected report %+v", r)
		}
	}
	if reports[6].Error == "" {
		t.Fatalf("expected broken repo to report an error")
	}
	if reports[7].Error != "config bad.yaml: line 3: field colour not found" {
		t.Fatalf("expected load error to be reported as is, got %q", reports[7].Error)
	}
	rejected, err := env.Engine.Repo.LatestEvents(env.Ctx, repo.EventFilters{Repository: "acme/unreadable"})
	if err != nil {
		t.Fatal(err)
	}
	if len(rejected) != 1 || rejected[0].Type != events.TypeConfigRejected {
		t.Fatalf("expected one config.rejected event, got %+v", rejected)
	}
	runs, err := env.Engine.Repo.ListRuns(env.Ctx, repo.RunFilters{Kind: domain.RunEscalation})
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 6 {
		t.Fatalf("expected 6 escalation runs, got %d", len(runs))
	}
}

func TestEngineWithoutDB(t *testing.T) {
	eng := engine.Engine{Now: func() time.Time { return testNow }}
	statuses, run, err := eng.DetectBlocked(context.Background(), config.GenerateDefault("library", ""), sampleIssues(), nil, engine.RunOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(statuses) != 3 || run.ID == "" {
		t.Fatalf("unexpected result %d %+v", len(statuses), run)
	}
}
