package workflowsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Gitea workflow API client.
type Client struct {
	BaseURL string
	// Repository is the owner/name the automation endpoints act on.
	Repository  string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, repository, token string) *Client {
	return &Client{
		BaseURL:     baseURL,
		Repository:  repository,
		BearerToken: token,
		Timeout:     10 * time.Second,
	}
}

// Issue is the snapshot sent to the automation endpoints.
type Issue struct {
	Number    int        `json:"number"`
	Title     string     `json:"title"`
	Body      string     `json:"body,omitempty"`
	Labels    []string   `json:"labels,omitempty"`
	State     string     `json:"state,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// Label is a repository label as known to the tracker.
type Label struct {
	ID          int64  `json:"id,omitempty"`
	Name        string `json:"name"`
	Color       string `json:"color"`
	Description string `json:"description,omitempty"`
}

// Column is a project board column.
type Column struct {
	ID   int64  `json:"id,omitempty"`
	Name string `json:"name"`
}

// Run is a recorded evaluation.
type Run struct {
	ID         string         `json:"id"`
	Repository string         `json:"repository"`
	Kind       string         `json:"kind"`
	DryRun     bool           `json:"dry_run"`
	ItemCount  int            `json:"item_count"`
	Summary    map[string]any `json:"summary,omitempty"`
	ActorID    string         `json:"actor_id,omitempty"`
	CreatedAt  string         `json:"created_at"`
}

type RunItem struct {
	Seq         int            `json:"seq"`
	IssueNumber *int           `json:"issue_number,omitempty"`
	Subject     string         `json:"subject"`
	Detail      map[string]any `json:"detail,omitempty"`
}

type RunDetail struct {
	Run
	Items []RunItem `json:"items"`
}

// Suggestion is one inferred label.
type Suggestion struct {
	Category   string  `json:"category"`
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

type Inference struct {
	IssueNumber int          `json:"issue_number"`
	All         []Suggestion `json:"all"`
}

type BlockedStatus struct {
	IssueNumber     int     `json:"issue_number"`
	Title           string  `json:"title"`
	Priority        string  `json:"priority"`
	State           string  `json:"state"`
	AgeHours        float64 `json:"age_hours"`
	SLAHours        float64 `json:"sla_hours"`
	ExceededBy      float64 `json:"exceeded_by"`
	HasBlockedLabel bool    `json:"has_blocked_label"`
}

type EscalationDecision struct {
	IssueNumber  int    `json:"issue_number"`
	Title        string `json:"title"`
	OldPriority  string `json:"old_priority"`
	NewPriority  string `json:"new_priority"`
	Reason       string `json:"reason"`
	RemoveLabel  string `json:"remove_label,omitempty"`
	AddLabel     string `json:"add_label"`
	LabelMissing bool   `json:"label_missing,omitempty"`
	DryRun       bool   `json:"dry_run"`
}

type SyncItem struct {
	Name        string   `json:"name"`
	Color       string   `json:"color,omitempty"`
	Description string   `json:"description,omitempty"`
	MapsTo      string   `json:"maps_to,omitempty"`
	RemoteID    int64    `json:"remote_id,omitempty"`
	Changes     []string `json:"changes,omitempty"`
}

type SyncPlan struct {
	Created   []SyncItem `json:"created"`
	Updated   []SyncItem `json:"updated"`
	Skipped   []SyncItem `json:"skipped"`
	Unmanaged []string   `json:"unmanaged,omitempty"`
}

type BoardSyncPlan struct {
	Labels  SyncPlan `json:"labels"`
	Columns SyncPlan `json:"columns"`
}

type Validation struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	Repository string         `json:"repository"`
	EntityID   string         `json:"entity_id"`
	EntityKind string         `json:"entity_kind"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// APIError wraps non-2xx responses. Code is taken from the error envelope
// when the body carries one.
type APIError struct {
	StatusCode int
	Code       string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d code=%s body=%s", e.StatusCode, e.Code, e.Body)
}

// IsCode reports whether err is an APIError with the given envelope code.
func IsCode(err error, code string) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.Code == code
}

type PaginatedRuns struct {
	Items      []Run  `json:"items"`
	NextCursor string `json:"next_cursor"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// Health checks the server without credentials.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "v0/health", nil, nil)
}

// ValidateConfig parses and validates a workflow document on the server.
func (c *Client) ValidateConfig(ctx context.Context, doc []byte) (Validation, error) {
	var resp Validation
	err := c.do(ctx, http.MethodPost, "v0/config/validate", map[string]any{"yaml": string(doc)}, &resp)
	return resp, err
}

// DefaultConfig returns the starter document for a project type as YAML.
func (c *Client) DefaultConfig(ctx context.Context, projectType, language string) (string, error) {
	q := url.Values{"type": {projectType}}
	if language != "" {
		q.Set("language", language)
	}
	var resp struct {
		YAML string `json:"yaml"`
	}
	err := c.do(ctx, http.MethodGet, "v0/config/default?"+q.Encode(), nil, &resp)
	return resp.YAML, err
}

// InferLabels asks for label suggestions.
func (c *Client) InferLabels(ctx context.Context, issues []Issue) ([]Inference, Run, error) {
	var resp struct {
		Run     Run         `json:"run"`
		Results []Inference `json:"results"`
	}
	err := c.do(ctx, http.MethodPost, c.repoPath("inference"), map[string]any{"issues": nonNil(issues)}, &resp)
	return resp.Results, resp.Run, err
}

// DetectBlocked classifies issues against their SLA. overrideHours <= 0 uses the configured SLA.
func (c *Client) DetectBlocked(ctx context.Context, issues []Issue, overrideHours float64) ([]BlockedStatus, Run, error) {
	body := map[string]any{"issues": nonNil(issues)}
	if overrideHours > 0 {
		body["override_hours"] = overrideHours
	}
	var resp struct {
		Run      Run             `json:"run"`
		Statuses []BlockedStatus `json:"statuses"`
	}
	err := c.do(ctx, http.MethodPost, c.repoPath("blocked"), body, &resp)
	return resp.Statuses, resp.Run, err
}

// PlanEscalations returns the priority changes the caller should apply.
func (c *Client) PlanEscalations(ctx context.Context, issues []Issue, repoLabels []string, dryRun bool) ([]EscalationDecision, Run, error) {
	body := map[string]any{
		"issues":  nonNil(issues),
		"dry_run": dryRun,
	}
	if repoLabels != nil {
		body["repo_labels"] = repoLabels
	}
	var resp struct {
		Run       Run                  `json:"run"`
		Decisions []EscalationDecision `json:"decisions"`
	}
	err := c.do(ctx, http.MethodPost, c.repoPath("escalations"), body, &resp)
	return resp.Decisions, resp.Run, err
}

// PlanSync diffs the configured labels and columns against the given remote state.
func (c *Client) PlanSync(ctx context.Context, labels []Label, columns []Column) (BoardSyncPlan, Run, error) {
	body := map[string]any{"labels": nonNil(labels), "columns": nonNil(columns)}
	var resp struct {
		Run  Run           `json:"run"`
		Plan BoardSyncPlan `json:"plan"`
	}
	err := c.do(ctx, http.MethodPost, c.repoPath("sync-plan"), body, &resp)
	return resp.Plan, resp.Run, err
}

// RunsPage lists runs for the client's repository.
func (c *Client) RunsPage(ctx context.Context, kind string, limit int, cursor string) (PaginatedRuns, error) {
	q := url.Values{}
	if c.Repository != "" {
		q.Set("repository", c.Repository)
	}
	if kind != "" {
		q.Set("kind", kind)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	var resp PaginatedRuns
	err := c.do(ctx, http.MethodGet, withQuery("v0/runs", q), nil, &resp)
	return resp, err
}

// GetRun fetches a run with its items.
func (c *Client) GetRun(ctx context.Context, id string) (RunDetail, error) {
	var resp RunDetail
	err := c.do(ctx, http.MethodGet, "v0/runs/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if c.Repository != "" {
		q.Set("repository", c.Repository)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, withQuery("v0/events", q), nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code string `json:"code"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) repoPath(p string) string {
	owner, name, _ := strings.Cut(c.Repository, "/")
	return fmt.Sprintf("v0/repos/%s/%s/%s", url.PathEscape(owner), url.PathEscape(name), strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}

func withQuery(endpoint string, q url.Values) string {
	if len(q) == 0 {
		return endpoint
	}
	return endpoint + "?" + q.Encode()
}

func nonNil[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
