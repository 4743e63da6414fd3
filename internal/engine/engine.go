package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/SupenBysz/gitea-mcp-tool-sub001/internal/boardsync"
	"github.com/SupenBysz/gitea-mcp-tool-sub001/internal/config"
	"github.com/SupenBysz/gitea-mcp-tool-sub001/internal/domain"
	"github.com/SupenBysz/gitea-mcp-tool-sub001/internal/events"
	"github.com/SupenBysz/gitea-mcp-tool-sub001/internal/inference"
	"github.com/SupenBysz/gitea-mcp-tool-sub001/internal/repo"
	"github.com/SupenBysz/gitea-mcp-tool-sub001/internal/sla"
)

var (
	ErrInvalidConfig   = errors.New("invalid workflow config")
	ErrFeatureDisabled = errors.New("automation feature disabled")
)

// Engine runs the rule components against a workflow config and records
// each run. With a nil DB nothing is recorded.
type Engine struct {
	DB        *sql.DB
	Repo      repo.Repo
	Events    events.Writer
	Inference *inference.Engine
	Now       func() time.Time
	Logger    *log.Logger
}

func New(db *sql.DB) Engine {
	return Engine{
		DB:        db,
		Repo:      repo.Repo{DB: db},
		Events:    events.Writer{},
		Inference: inference.MustNew(inference.DefaultRules()),
		Now:       time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) logger() *log.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return log.Default()
}

func (e Engine) eventWriter() events.Writer {
	w := e.Events
	if w.Now == nil {
		w.Now = e.now
	}
	return w
}

func (e Engine) evaluator() sla.Evaluator {
	return sla.Evaluator{Now: e.now}
}

// RunOptions identify who ran what against which repository.
type RunOptions struct {
	Repository string
	ActorID    string
	DryRun     bool
}

// CheckConfig returns ErrInvalidConfig when validation reports errors.
func CheckConfig(cfg *config.WorkflowConfig) error {
	if cfg == nil {
		return fmt.Errorf("%w: no config loaded", ErrInvalidConfig)
	}
	res := cfg.Validate()
	if res.Valid {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(res.Errors, "; "))
}

func (e Engine) guard(ctx context.Context, cfg *config.WorkflowConfig, feature string, enabled bool, opts RunOptions) error {
	if err := CheckConfig(cfg); err != nil {
		if recErr := e.rejectConfig(ctx, feature, err, opts); recErr != nil {
			return recErr
		}
		return err
	}
	if !enabled {
		return fmt.Errorf("%w: %s", ErrFeatureDisabled, feature)
	}
	return nil
}

// rejectConfig logs and records a config.rejected event for cause.
func (e Engine) rejectConfig(ctx context.Context, feature string, cause error, opts RunOptions) error {
	e.logger().Printf("%s for %s rejected: %v", feature, repoName(opts), cause)
	if e.DB == nil {
		return nil
	}
	return e.appendOnly(ctx, events.Entry{
		Type:       events.TypeConfigRejected,
		Repository: opts.Repository,
		EntityKind: "config",
		ActorID:    opts.ActorID,
		Payload:    events.Payload{"feature": feature, "error": cause.Error()},
	})
}

func repoName(opts RunOptions) string {
	if opts.Repository == "" {
		return "workspace"
	}
	return opts.Repository
}

// InferLabels suggests labels for each issue.
func (e Engine) InferLabels(ctx context.Context, cfg *config.WorkflowConfig, issues []domain.Issue, opts RunOptions) ([]domain.Inference, domain.Run, error) {
	if err := e.guard(ctx, cfg, "label_inference", cfg != nil && cfg.Automation.LabelInference.Enabled, opts); err != nil {
		return nil, domain.Run{}, err
	}
	ie := e.Inference
	if ie == nil {
		ie = inference.MustNew(inference.DefaultRules())
	}
	results := make([]domain.Inference, 0, len(issues))
	var items []domain.RunItem
	suggested := 0
	for _, issue := range issues {
		res := ie.Infer(issue, cfg)
		results = append(results, res)
		for _, r := range res.All {
			suggested++
			items = appendItem(items, issue.Number, r.Label, r)
		}
	}
	run, err := e.record(ctx, domain.RunInference, opts, len(items), map[string]any{
		"issues":      len(issues),
		"suggestions": suggested,
	}, items)
	return results, run, err
}

// DetectBlocked ages open issues against their SLA.
func (e Engine) DetectBlocked(ctx context.Context, cfg *config.WorkflowConfig, issues []domain.Issue, override *float64, opts RunOptions) ([]domain.BlockedStatus, domain.Run, error) {
	if err := e.guard(ctx, cfg, "blocked_detection", cfg != nil && cfg.Automation.BlockedDetection.Enabled, opts); err != nil {
		return nil, domain.Run{}, err
	}
	statuses := e.evaluator().Evaluate(issues, cfg, override)
	var items []domain.RunItem
	for _, s := range statuses {
		if s.State == domain.StateOK {
			continue
		}
		items = appendItem(items, s.IssueNumber, string(s.State), s)
	}
	counts := sla.Summary(statuses)
	summary := map[string]any{
		"blocked": counts[domain.StateBlocked],
		"warning": counts[domain.StateWarning],
		"ok":      counts[domain.StateOK],
	}
	if override != nil {
		summary["override_hours"] = *override
	}
	run, err := e.record(ctx, domain.RunBlocked, opts, len(items), summary, items)
	return statuses, run, err
}

// EscalatePriorities plans priority changes. Applying them is up to the caller.
func (e Engine) EscalatePriorities(ctx context.Context, cfg *config.WorkflowConfig, issues []domain.Issue, repoLabels []string, opts RunOptions) ([]domain.EscalationDecision, domain.Run, error) {
	if err := e.guard(ctx, cfg, "priority_escalation", cfg != nil && cfg.Automation.PriorityEscalation.Enabled, opts); err != nil {
		return nil, domain.Run{}, err
	}
	decisions := e.evaluator().Escalate(issues, cfg, repoLabels, opts.DryRun)
	var items []domain.RunItem
	security := 0
	for _, d := range decisions {
		if d.Reason == sla.ReasonSecurity {
			security++
		}
		items = appendItem(items, d.IssueNumber, d.OldPriority+"->"+d.NewPriority, d)
	}
	run, err := e.record(ctx, domain.RunEscalation, opts, len(decisions), map[string]any{
		"issues":    len(issues),
		"decisions": len(decisions),
		"security":  security,
	}, items)
	return decisions, run, err
}

// PlanSync diffs the configured labels and columns against remote snapshots.
func (e Engine) PlanSync(ctx context.Context, cfg *config.WorkflowConfig, labels []domain.RemoteLabel, columns []domain.RemoteColumn, opts RunOptions) (domain.BoardSyncPlan, domain.Run, error) {
	if err := e.guard(ctx, cfg, "board_sync", true, opts); err != nil {
		return domain.BoardSyncPlan{}, domain.Run{}, err
	}
	plan := boardsync.Plan(cfg, labels, columns)
	var items []domain.RunItem
	for _, it := range plan.Labels.Created {
		items = appendItem(items, 0, "create label "+it.Name, it)
	}
	for _, it := range plan.Labels.Updated {
		items = appendItem(items, 0, "update label "+it.Name, it)
	}
	for _, it := range plan.Columns.Created {
		items = appendItem(items, 0, "create column "+it.Name, it)
	}
	run, err := e.record(ctx, domain.RunSync, opts, len(items), map[string]any{
		"labels_created":  len(plan.Labels.Created),
		"labels_updated":  len(plan.Labels.Updated),
		"labels_skipped":  len(plan.Labels.Skipped),
		"columns_created": len(plan.Columns.Created),
		"columns_skipped": len(plan.Columns.Skipped),
		"unmanaged":       len(plan.Labels.Unmanaged) + len(plan.Columns.Unmanaged),
	}, items)
	return plan, run, err
}

func appendItem(items []domain.RunItem, issue int, subject string, detail any) []domain.RunItem {
	data, err := json.Marshal(detail)
	if err != nil {
		data = []byte("{}")
	}
	it := domain.RunItem{Seq: len(items) + 1, Subject: subject, Detail: string(data)}
	if issue > 0 {
		n := issue
		it.IssueNumber = &n
	}
	return append(items, it)
}

func (e Engine) record(ctx context.Context, kind string, opts RunOptions, count int, summary map[string]any, items []domain.RunItem) (domain.Run, error) {
	data, err := json.Marshal(summary)
	if err != nil {
		return domain.Run{}, fmt.Errorf("marshal run summary: %w", err)
	}
	run := domain.Run{
		ID:         uuid.NewString(),
		Repository: opts.Repository,
		Kind:       kind,
		DryRun:     opts.DryRun || kind != domain.RunEscalation,
		ItemCount:  count,
		Summary:    string(data),
		ActorID:    opts.ActorID,
		CreatedAt:  e.now().UTC().Format(time.RFC3339),
	}
	if e.DB == nil {
		return run, nil
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Run{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertRunTx(ctx, tx, run); err != nil {
		return domain.Run{}, fmt.Errorf("insert run: %w", err)
	}
	for i := range items {
		items[i].RunID = run.ID
	}
	if err := e.Repo.InsertRunItemsTx(ctx, tx, items); err != nil {
		return domain.Run{}, err
	}
	if err := e.eventWriter().Append(ctx, tx, events.Entry{
		Type:       events.TypeRunRecorded,
		Repository: run.Repository,
		EntityKind: "run",
		EntityID:   run.ID,
		ActorID:    opts.ActorID,
		Payload:    events.Payload{"kind": kind, "items": count, "dry_run": run.DryRun},
	}); err != nil {
		return domain.Run{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Run{}, err
	}
	return run, nil
}

func (e Engine) appendOnly(ctx context.Context, entry events.Entry) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.eventWriter().Append(ctx, tx, entry); err != nil {
		return err
	}
	return tx.Commit()
}

// RunDetail is a run with its recorded items.
type RunDetail struct {
	domain.Run
	Items []domain.RunItem `json:"items"`
}

func (e Engine) GetRun(ctx context.Context, id string) (RunDetail, error) {
	run, err := e.Repo.GetRun(ctx, id)
	if err != nil {
		return RunDetail{}, err
	}
	items, err := e.Repo.ListRunItems(ctx, id)
	if err != nil {
		return RunDetail{}, err
	}
	return RunDetail{Run: run, Items: items}, nil
}
