// Package boardsync diffs the desired label and column layout against what
// exists on the remote tracker. Plans are additive: nothing is ever deleted.
package boardsync

import (
	"strings"

	"github.com/SupenBysz/gitea-mcp-tool-sub001/internal/config"
	"github.com/SupenBysz/gitea-mcp-tool-sub001/internal/domain"
)

func normalizeColor(c string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(c), "#"))
}

func newPlan() domain.SyncPlan {
	return domain.SyncPlan{
		Created: []domain.SyncItem{},
		Updated: []domain.SyncItem{},
		Skipped: []domain.SyncItem{},
	}
}

// PlanLabelSync compares desired labels with remote ones by exact full name.
func PlanLabelSync(desired []config.LabelSpec, remote []domain.RemoteLabel) domain.SyncPlan {
	plan := newPlan()
	byName := make(map[string]domain.RemoteLabel, len(remote))
	for _, r := range remote {
		if _, dup := byName[r.Name]; !dup {
			byName[r.Name] = r
		}
	}

	wanted := make(map[string]bool, len(desired))
	for _, d := range desired {
		if wanted[d.Name] {
			continue
		}
		wanted[d.Name] = true
		item := domain.SyncItem{Name: d.Name, Color: normalizeColor(d.Color), Description: d.Description}

		r, ok := byName[d.Name]
		if !ok {
			plan.Created = append(plan.Created, item)
			continue
		}
		item.RemoteID = r.ID
		var changes []string
		if normalizeColor(r.Color) != normalizeColor(d.Color) {
			changes = append(changes, "color")
		}
		if r.Description != d.Description {
			changes = append(changes, "description")
		}
		if len(changes) == 0 {
			plan.Skipped = append(plan.Skipped, item)
			continue
		}
		item.Changes = changes
		item.Current = &domain.LabelState{Color: normalizeColor(r.Color), Description: r.Description}
		plan.Updated = append(plan.Updated, item)
	}

	for _, r := range remote {
		if !wanted[r.Name] {
			plan.Unmanaged = append(plan.Unmanaged, r.Name)
		}
	}
	return plan
}

// PlanColumnSync creates missing columns by exact name. Existing columns are
// skipped; no column attributes besides the name are tracked.
func PlanColumnSync(columns []config.BoardColumn, remote []domain.RemoteColumn) domain.SyncPlan {
	plan := newPlan()
	byName := make(map[string]domain.RemoteColumn, len(remote))
	for _, r := range remote {
		if _, dup := byName[r.Name]; !dup {
			byName[r.Name] = r
		}
	}

	wanted := make(map[string]bool, len(columns))
	for _, c := range columns {
		if wanted[c.Name] {
			continue
		}
		wanted[c.Name] = true
		item := domain.SyncItem{Name: c.Name, MapsTo: c.MapsTo}
		if r, ok := byName[c.Name]; ok {
			item.RemoteID = r.ID
			plan.Skipped = append(plan.Skipped, item)
			continue
		}
		plan.Created = append(plan.Created, item)
	}

	for _, r := range remote {
		if !wanted[r.Name] {
			plan.Unmanaged = append(plan.Unmanaged, r.Name)
		}
	}
	return plan
}

// Plan builds both plans for a workflow config.
func Plan(cfg *config.WorkflowConfig, labels []domain.RemoteLabel, columns []domain.RemoteColumn) domain.BoardSyncPlan {
	return domain.BoardSyncPlan{
		Labels:  PlanLabelSync(cfg.AllLabels(), labels),
		Columns: PlanColumnSync(cfg.Board.Columns, columns),
	}
}

// Apply merges a plan's creates and updates into a label snapshot, the way
// the tracker would look after executing it.
func Apply(plan domain.SyncPlan, remote []domain.RemoteLabel) []domain.RemoteLabel {
	out := append([]domain.RemoteLabel(nil), remote...)
	index := make(map[string]int, len(out))
	for i, r := range out {
		index[r.Name] = i
	}
	for _, u := range plan.Updated {
		if i, ok := index[u.Name]; ok {
			out[i].Color = u.Color
			out[i].Description = u.Description
		}
	}
	for _, c := range plan.Created {
		out = append(out, domain.RemoteLabel{Name: c.Name, Color: c.Color, Description: c.Description})
	}
	return out
}

// ApplyColumns merges a column plan's creates into a column snapshot.
func ApplyColumns(plan domain.SyncPlan, remote []domain.RemoteColumn) []domain.RemoteColumn {
	out := append([]domain.RemoteColumn(nil), remote...)
	for _, c := range plan.Created {
		out = append(out, domain.RemoteColumn{Name: c.Name})
	}
	return out
}
