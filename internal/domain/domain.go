package domain

import "time"

// Issue is a snapshot of a tracker issue. Labels hold full label names.
type Issue struct {
	Number    int       `json:"number" yaml:"number"`
	Title     string    `json:"title" yaml:"title"`
	Body      string    `json:"body,omitempty" yaml:"body,omitempty"`
	Labels    []string  `json:"labels,omitempty" yaml:"labels,omitempty"`
	State     string    `json:"state,omitempty" yaml:"state,omitempty" enum:"open,closed"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at" format:"date-time"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at" format:"date-time"`
}

// Open treats an empty state as open.
func (i Issue) Open() bool {
	return i.State == "" || i.State == "open"
}

// HasLabel reports whether the issue carries the full label name.
func (i Issue) HasLabel(name string) bool {
	for _, l := range i.Labels {
		if l == name {
			return true
		}
	}
	return false
}

// LastActivity is the later of created and updated.
func (i Issue) LastActivity() time.Time {
	if i.UpdatedAt.After(i.CreatedAt) {
		return i.UpdatedAt
	}
	return i.CreatedAt
}

type RemoteLabel struct {
	ID          int64  `json:"id,omitempty"`
	Name        string `json:"name"`
	Color       string `json:"color"`
	Description string `json:"description,omitempty"`
}

type RemoteColumn struct {
	ID   int64  `json:"id,omitempty"`
	Name string `json:"name"`
}

type InferenceResult struct {
	Category   string  `json:"category" enum:"type,priority,area"`
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence" minimum:"0" maximum:"1"`
	Reason     string  `json:"reason"`
}

// Inference is the aggregate suggestion set for one issue.
type Inference struct {
	IssueNumber int               `json:"issue_number"`
	All         []InferenceResult `json:"all"`
}

// Get returns the candidate for a category, if any.
func (in Inference) Get(category string) (InferenceResult, bool) {
	for _, r := range in.All {
		if r.Category == category {
			return r, true
		}
	}
	return InferenceResult{}, false
}

type BlockedState string

const (
	StateBlocked BlockedState = "blocked"
	StateWarning BlockedState = "warning"
	StateOK      BlockedState = "ok"
)

// Rank orders states for triage: blocked first.
func (s BlockedState) Rank() int {
	switch s {
	case StateBlocked:
		return 0
	case StateWarning:
		return 1
	}
	return 2
}

type BlockedStatus struct {
	IssueNumber     int          `json:"issue_number"`
	Title           string       `json:"title"`
	Priority        string       `json:"priority"`
	State           BlockedState `json:"state" enum:"blocked,warning,ok"`
	AgeHours        float64      `json:"age_hours"`
	SLAHours        float64      `json:"sla_hours"`
	ExceededBy      float64      `json:"exceeded_by"`
	HasBlockedLabel bool         `json:"has_blocked_label"`
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

// SyncItem is one entry of a sync plan. Current is set for updates.
type SyncItem struct {
	Name        string      `json:"name"`
	Color       string      `json:"color,omitempty"`
	Description string      `json:"description,omitempty"`
	MapsTo      string      `json:"maps_to,omitempty"`
	RemoteID    int64       `json:"remote_id,omitempty"`
	Current     *LabelState `json:"current,omitempty"`
	Changes     []string    `json:"changes,omitempty"`
}

// LabelState is the remote color and description before an update.
type LabelState struct {
	Color       string `json:"color"`
	Description string `json:"description"`
}

type SyncPlan struct {
	Created   []SyncItem `json:"created"`
	Updated   []SyncItem `json:"updated"`
	Skipped   []SyncItem `json:"skipped"`
	Unmanaged []string   `json:"unmanaged,omitempty"`
}

// Empty reports whether applying the plan would change nothing.
func (p SyncPlan) Empty() bool {
	return len(p.Created) == 0 && len(p.Updated) == 0
}

type BoardSyncPlan struct {
	Labels  SyncPlan `json:"labels"`
	Columns SyncPlan `json:"columns"`
}

// Run kinds.
const (
	RunInference  = "inference"
	RunBlocked    = "blocked"
	RunEscalation = "escalation"
	RunSync       = "sync"
)

type Run struct {
	ID         string `json:"id"`
	Repository string `json:"repository"`
	Kind       string `json:"kind" enum:"inference,blocked,escalation,sync"`
	DryRun     bool   `json:"dry_run"`
	ItemCount  int    `json:"item_count"`
	Summary    string `json:"summary_json,omitempty"`
	ActorID    string `json:"actor_id,omitempty"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}

// RunItem is one recorded result of a run: a suggestion, status, decision or plan entry.
type RunItem struct {
	RunID       string `json:"run_id"`
	Seq         int    `json:"seq"`
	IssueNumber *int   `json:"issue_number,omitempty"`
	Subject     string `json:"subject"`
	Detail      string `json:"detail_json"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	Repository string `json:"repository,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
