package workflowsdk

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/SupenBysz/gitea-mcp-tool-sub001/internal/config"
	"github.com/SupenBysz/gitea-mcp-tool-sub001/internal/db"
	"github.com/SupenBysz/gitea-mcp-tool-sub001/internal/engine"
	"github.com/SupenBysz/gitea-mcp-tool-sub001/internal/migrate"
	"github.com/SupenBysz/gitea-mcp-tool-sub001/internal/server"
)

const secret = "sdk-secret"

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(context.Background(), conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	handler, err := server.New(server.Config{
		Engine: engine.New(conn),
		Source: config.NewStatic(config.GenerateDefault("fullstack", "typescript")),
		Auth:   server.AuthConfig{JWTSecret: secret},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(func() {
		srv.Close()
		conn.Close()
	})
	return srv
}

func token(t *testing.T, subject string) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: subject}).SignedString([]byte(secret))
	if err != nil {
		t.Fatal(err)
	}
	return signed
}

func TestClientRoundTrip(t *testing.T) {
	srv := newServer(t)
	ctx := context.Background()
	c := New(srv.URL, "acme/web", token(t, "sdk"))

	if err := c.Health(ctx); err != nil {
		t.Fatalf("health: %v", err)
	}

	now := time.Now().UTC()
	issues := []Issue{
		{Number: 1, Title: "Checkout crashes", Labels: []string{"priority/P1"}, CreatedAt: now.Add(-30 * time.Hour)},
		{Number: 2, Title: "Token leak in logs", Body: "possible security vulnerability", Labels: []string{"priority/P3"}, CreatedAt: now.Add(-time.Hour)},
	}

	statuses, run, err := c.DetectBlocked(ctx, issues, 0)
	if err != nil {
		t.Fatalf("detect blocked: %v", err)
	}
	if len(statuses) != 2 || statuses[0].IssueNumber != 1 || statuses[0].State != "blocked" {
		t.Fatalf("unexpected statuses %+v", statuses)
	}
	if run.Repository != "acme/web" || run.ActorID != "sdk" {
		t.Fatalf("unexpected run %+v", run)
	}

	decisions, _, err := c.PlanEscalations(ctx, issues, nil, true)
	if err != nil {
		t.Fatalf("escalations: %v", err)
	}
	if len(decisions) != 1 || decisions[0].IssueNumber != 2 || decisions[0].NewPriority != "P0" {
		t.Fatalf("unexpected decisions %+v", decisions)
	}

	results, _, err := c.InferLabels(ctx, issues[:1])
	if err != nil {
		t.Fatalf("infer: %v", err)
	}
	if len(results) != 1 || len(results[0].All) == 0 {
		t.Fatalf("unexpected inference %+v", results)
	}

	plan, _, err := c.PlanSync(ctx, []Label{{Name: "legacy", Color: "000000"}}, nil)
	if err != nil {
		t.Fatalf("plan sync: %v", err)
	}
	if len(plan.Labels.Unmanaged) != 1 || len(plan.Columns.Created) != 5 {
		t.Fatalf("unexpected plan %+v", plan)
	}

	page, err := c.RunsPage(ctx, "", 2, "")
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	if len(page.Items) != 2 || page.NextCursor == "" {
		t.Fatalf("unexpected runs page %+v", page)
	}
	rest, err := c.RunsPage(ctx, "", 10, page.NextCursor)
	if err != nil {
		t.Fatalf("runs page 2: %v", err)
	}
	if len(rest.Items) != 2 {
		t.Fatalf("expected 2 remaining runs, got %d", len(rest.Items))
	}
	detail, err := c.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if detail.ID != run.ID || len(detail.Items) != 1 {
		t.Fatalf("unexpected run detail %+v", detail)
	}

	events, err := c.Events(ctx, 10)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 4 {
		t.Fatalf("expected 4 events, got %d", len(events))
	}
}

func TestClientConfigEndpoints(t *testing.T) {
	srv := newServer(t)
	ctx := context.Background()
	c := New(srv.URL, "acme/web", token(t, "sdk"))

	doc, err := c.DefaultConfig(ctx, "library", "go")
	if err != nil {
		t.Fatalf("default config: %v", err)
	}
	res, err := c.ValidateConfig(ctx, []byte(doc))
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !res.Valid {
		t.Fatalf("expected default document to validate: %+v", res)
	}
	res, err = c.ValidateConfig(ctx, []byte("project: [\n"))
	if err != nil {
		t.Fatalf("validate broken: %v", err)
	}
	if res.Valid || len(res.Errors) == 0 {
		t.Fatalf("expected parse errors, got %+v", res)
	}
}

func TestClientErrors(t *testing.T) {
	srv := newServer(t)
	ctx := context.Background()

	anon := New(srv.URL, "acme/web", "")
	if _, err := anon.Events(ctx, 1); !IsCode(err, "unauthorized") {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	c := New(srv.URL, "acme/web", token(t, "sdk"))
	_, err := c.GetRun(ctx, "missing")
	if !IsCode(err, "not_found") {
		t.Fatalf("expected not_found, got %v", err)
	}
	if ae, ok := err.(*APIError); !ok || ae.StatusCode != http.StatusNotFound {
		t.Fatalf("expected *APIError 404, got %#v", err)
	}
}
