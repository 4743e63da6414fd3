package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/SupenBysz/gitea-mcp-tool-sub001/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const runColumns = `id,repository,kind,dry_run,item_count,COALESCE(summary_json,''),COALESCE(actor_id,''),created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (domain.Run, error) {
	var r domain.Run
	var dryRun int
	err := row.Scan(&r.ID, &r.Repository, &r.Kind, &dryRun, &r.ItemCount, &r.Summary, &r.ActorID, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return r, ErrNotFound
	}
	r.DryRun = dryRun != 0
	return r, err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (r Repo) InsertRunTx(ctx context.Context, tx *sql.Tx, run domain.Run) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO runs(id,repository,kind,dry_run,item_count,summary_json,actor_id,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		run.ID, run.Repository, run.Kind, boolInt(run.DryRun), run.ItemCount, nullable(run.Summary), nullable(run.ActorID), run.CreatedAt)
	return err
}

func (r Repo) InsertRunItemsTx(ctx context.Context, tx *sql.Tx, items []domain.RunItem) error {
	if len(items) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO run_items(run_id,seq,issue_number,subject,detail_json) VALUES (?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, it := range items {
		if _, err := stmt.ExecContext(ctx, it.RunID, it.Seq, nullableIntPtr(it.IssueNumber), it.Subject, it.Detail); err != nil {
			return fmt.Errorf("insert run item %d: %w", it.Seq, err)
		}
	}
	return nil
}

func (r Repo) GetRun(ctx context.Context, id string) (domain.Run, error) {
	return scanRun(r.DB.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id=?`, id))
}

func (r Repo) ListRunItems(ctx context.Context, runID string) ([]domain.RunItem, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT run_id,seq,issue_number,subject,detail_json FROM run_items WHERE run_id=? ORDER BY seq`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.RunItem
	for rows.Next() {
		var it domain.RunItem
		var issue sql.NullInt64
		if err := rows.Scan(&it.RunID, &it.Seq, &issue, &it.Subject, &it.Detail); err != nil {
			return nil, err
		}
		if issue.Valid {
			n := int(issue.Int64)
			it.IssueNumber = &n
		}
		res = append(res, it)
	}
	return res, rows.Err()
}

type RunFilters struct {
	Repository      string
	Kind            string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

// ListRuns returns runs newest first, with keyset pagination on (created_at, id).
func (r Repo) ListRuns(ctx context.Context, f RunFilters) ([]domain.Run, error) {
	var clauses []string
	var args []any
	if f.Repository != "" {
		clauses = append(clauses, "repository=?")
		args = append(args, f.Repository)
	}
	if f.Kind != "" {
		clauses = append(clauses, "kind=?")
		args = append(args, f.Kind)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + runColumns + ` FROM runs ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, run)
	}
	return res, rows.Err()
}

// CountRunsByKind summarizes the history of a repository.
func (r Repo) CountRunsByKind(ctx context.Context, repository string) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT kind, COUNT(*) FROM runs WHERE repository=? GROUP BY kind`, repository)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		res[kind] = n
	}
	return res, rows.Err()
}

type EventFilters struct {
	Repository string
	Type       string
	EntityKind string
	EntityID   string
	Limit      int
	// Before returns events with an id lower than this cursor.
	Before int64
}

// LatestEvents returns events newest first.
func (r Repo) LatestEvents(ctx context.Context, f EventFilters) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.Repository != "" {
		clauses = append(clauses, "repository=?")
		args = append(args, f.Repository)
	}
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	if f.EntityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, f.EntityKind)
	}
	if f.EntityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, f.EntityID)
	}
	if f.Before > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, f.Before)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`SELECT id,ts,type,COALESCE(repository,''),entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events WHERE %s ORDER BY id DESC LIMIT ?`, strings.Join(clauses, " AND "))
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.Repository, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// EventsAfter returns events with ids greater than cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64, repository string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	clauses := []string{"id>?"}
	args := []any{cursor}
	if repository != "" {
		clauses = append(clauses, "repository=?")
		args = append(args, repository)
	}
	query := fmt.Sprintf(`SELECT id,ts,type,COALESCE(repository,''),entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events WHERE %s ORDER BY id ASC LIMIT ?`, strings.Join(clauses, " AND "))
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.Repository, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableIntPtr(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}
