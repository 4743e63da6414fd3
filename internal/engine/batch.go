package engine

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/SupenBysz/gitea-mcp-tool-sub001/internal/config"
	"github.com/SupenBysz/gitea-mcp-tool-sub001/internal/domain"
	"github.com/SupenBysz/gitea-mcp-tool-sub001/internal/sla"
)

// RepositoryInput is one repository's config and issue snapshot.
type RepositoryInput struct {
	Repository string
	Config     *config.WorkflowConfig
	// ConfigErr is why Config could not be loaded. It is reported as the
	// repository's error instead of evaluating.
	ConfigErr  error
	Issues     []domain.Issue
	RepoLabels []string
}

// RepositoryReport is the triage outcome for one repository. Error is set
// when the repository's config blocked evaluation; other repositories still run.
type RepositoryReport struct {
	Repository  string                      `json:"repository"`
	Counts      map[domain.BlockedState]int `json:"counts,omitempty"`
	Blocked     []domain.BlockedStatus      `json:"blocked,omitempty"`
	Escalations []domain.EscalationDecision `json:"escalations,omitempty"`
	Error       string                      `json:"error,omitempty"`
}

const defaultConcurrency = 4

// EvaluateRepositories runs blocked detection and a dry-run escalation for
// every input in parallel. Reports keep input order.
func (e Engine) EvaluateRepositories(ctx context.Context, inputs []RepositoryInput, concurrency int, actorID string) ([]RepositoryReport, error) {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	reports := make([]RepositoryReport, len(inputs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, in := range inputs {
		i, in := i, in
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			report, err := e.evaluateRepository(gctx, in, actorID)
			if err != nil {
				return err
			}
			reports[i] = report
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return reports, nil
}

func (e Engine) evaluateRepository(ctx context.Context, in RepositoryInput, actorID string) (RepositoryReport, error) {
	report := RepositoryReport{Repository: in.Repository}
	opts := RunOptions{Repository: in.Repository, ActorID: actorID, DryRun: true}

	if in.ConfigErr != nil {
		if err := e.rejectConfig(ctx, "batch", in.ConfigErr, opts); err != nil {
			return report, err
		}
		report.Error = in.ConfigErr.Error()
		return report, nil
	}

	statuses, _, err := e.DetectBlocked(ctx, in.Config, in.Issues, nil, opts)
	switch {
	case errors.Is(err, ErrInvalidConfig):
		report.Error = err.Error()
		return report, nil
	case errors.Is(err, ErrFeatureDisabled):
	case err != nil:
		return report, err
	default:
		report.Counts = sla.Summary(statuses)
		for _, s := range statuses {
			if s.State != domain.StateOK {
				report.Blocked = append(report.Blocked, s)
			}
		}
	}

	decisions, _, err := e.EscalatePriorities(ctx, in.Config, in.Issues, in.RepoLabels, opts)
	switch {
	case errors.Is(err, ErrFeatureDisabled):
	case err != nil:
		return report, err
	default:
		report.Escalations = decisions
	}
	return report, nil
}
