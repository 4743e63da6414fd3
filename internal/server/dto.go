package server

import (
	"encoding/json"
	"time"

	"github.com/SupenBysz/gitea-mcp-tool-sub001/internal/config"
	"github.com/SupenBysz/gitea-mcp-tool-sub001/internal/domain"
	"github.com/SupenBysz/gitea-mcp-tool-sub001/internal/engine"
)

// Request payloads

type IssueRequest struct {
	Number    int        `json:"number" minimum:"1"`
	Title     string     `json:"title"`
	Body      string     `json:"body,omitempty"`
	Labels    []string   `json:"labels,omitempty"`
	State     string     `json:"state,omitempty" enum:"open,closed"`
	CreatedAt time.Time  `json:"created_at" format:"date-time"`
	UpdatedAt *time.Time `json:"updated_at,omitempty" format:"date-time"`
}

type InferLabelsRequest struct {
	Issues []IssueRequest `json:"issues"`
}

type DetectBlockedRequest struct {
	Issues        []IssueRequest `json:"issues"`
	OverrideHours *float64       `json:"override_hours,omitempty" exclusiveMinimum:"0"`
}

type PlanEscalationsRequest struct {
	Issues     []IssueRequest `json:"issues"`
	RepoLabels []string       `json:"repo_labels,omitempty"`
	DryRun     *bool          `json:"dry_run,omitempty"`
}

type PlanSyncRequest struct {
	Labels  []domain.RemoteLabel  `json:"labels"`
	Columns []domain.RemoteColumn `json:"columns,omitempty"`
}

type ValidateConfigRequest struct {
	YAML string `json:"yaml" example:"project:\n  type: backend\n"`
}

// Response payloads

type RunResponse struct {
	ID         string         `json:"id"`
	Repository string         `json:"repository"`
	Kind       string         `json:"kind" enum:"inference,blocked,escalation,sync"`
	DryRun     bool           `json:"dry_run"`
	ItemCount  int            `json:"item_count"`
	Summary    map[string]any `json:"summary,omitempty"`
	ActorID    string         `json:"actor_id,omitempty"`
	CreatedAt  string         `json:"created_at" format:"date-time"`
}

type RunItemResponse struct {
	Seq         int            `json:"seq"`
	IssueNumber *int           `json:"issue_number,omitempty"`
	Subject     string         `json:"subject"`
	Detail      map[string]any `json:"detail,omitempty"`
}

type RunDetailResponse struct {
	RunResponse
	Items []RunItemResponse `json:"items"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	Repository string         `json:"repository,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload,omitempty"`
}

type ConfigResponse struct {
	Config     *config.WorkflowConfig  `json:"config"`
	Validation config.ValidationResult `json:"validation"`
	Prefixes   config.Prefixes         `json:"prefixes"`
	Labels     []config.LabelSpec      `json:"labels"`
}

type ValidateConfigResponse struct {
	Valid    bool             `json:"valid"`
	Errors   []string         `json:"errors"`
	Warnings []string         `json:"warnings"`
	Problems []config.Problem `json:"problems,omitempty"`
}

type DefaultConfigResponse struct {
	Config *config.WorkflowConfig `json:"config"`
	YAML   string                 `json:"yaml"`
}

type InferLabelsResponse struct {
	Run     RunResponse        `json:"run"`
	Results []domain.Inference `json:"results"`
}

type DetectBlockedResponse struct {
	Run      RunResponse            `json:"run"`
	Counts   map[string]int         `json:"counts"`
	Statuses []domain.BlockedStatus `json:"statuses"`
}

type PlanEscalationsResponse struct {
	Run       RunResponse                 `json:"run"`
	Decisions []domain.EscalationDecision `json:"decisions"`
}

type PlanSyncResponse struct {
	Run  RunResponse          `json:"run"`
	Plan domain.BoardSyncPlan `json:"plan"`
}

type paginatedRuns struct {
	Items      []RunResponse `json:"items"`
	NextCursor string        `json:"next_cursor,omitempty"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// Conversion helpers

func toIssues(in []IssueRequest) []domain.Issue {
	res := make([]domain.Issue, 0, len(in))
	for _, r := range in {
		issue := domain.Issue{
			Number:    r.Number,
			Title:     r.Title,
			Body:      r.Body,
			Labels:    r.Labels,
			State:     r.State,
			CreatedAt: r.CreatedAt,
		}
		if r.UpdatedAt != nil {
			issue.UpdatedAt = *r.UpdatedAt
		}
		res = append(res, issue)
	}
	return res
}

func runResponse(r domain.Run) RunResponse {
	return RunResponse{
		ID:         r.ID,
		Repository: r.Repository,
		Kind:       r.Kind,
		DryRun:     r.DryRun,
		ItemCount:  r.ItemCount,
		Summary:    decodeJSONMap(r.Summary),
		ActorID:    r.ActorID,
		CreatedAt:  r.CreatedAt,
	}
}

func runDetailResponse(d engine.RunDetail) RunDetailResponse {
	res := RunDetailResponse{RunResponse: runResponse(d.Run), Items: []RunItemResponse{}}
	for _, it := range d.Items {
		res.Items = append(res.Items, RunItemResponse{
			Seq:         it.Seq,
			IssueNumber: it.IssueNumber,
			Subject:     it.Subject,
			Detail:      decodeJSONMap(it.Detail),
		})
	}
	return res
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		Repository: e.Repository,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

func configResponse(cfg *config.WorkflowConfig) ConfigResponse {
	return ConfigResponse{
		Config:     cfg,
		Validation: validationResponse(cfg.Validate()),
		Prefixes:   cfg.LabelPrefixes(),
		Labels:     nonNilSlice(cfg.AllLabels()),
	}
}

func validationResponse(res config.ValidationResult) config.ValidationResult {
	res.Errors = nonNilSlice(res.Errors)
	res.Warnings = nonNilSlice(res.Warnings)
	return res
}

// JSON helpers

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var tmp any
	if err := json.Unmarshal([]byte(raw), &tmp); err != nil {
		return nil
	}
	if obj, ok := tmp.(map[string]any); ok {
		return obj
	}
	return nil
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
