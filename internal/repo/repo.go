package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

// querier lets the same scan helpers run inside or outside a transaction.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (r Repo) q(tx *sql.Tx) querier {
	if tx != nil {
		return tx
	}
	return r.DB
}

// --- jobs ---

func (r Repo) InsertJob(ctx context.Context, j JobRecord) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO jobs(id,owner_id,kind,title,status,created_at) VALUES (?,?,?,?,?,?)`,
		j.ID, j.OwnerID, j.Kind, j.Title, j.Status, j.CreatedAt)
	return err
}

type JobRecord struct {
	ID        string
	OwnerID   string
	Kind      string
	Title     string
	Status    string
	CreatedAt string
}

func (r Repo) GetJob(ctx context.Context, tx *sql.Tx, id string) (JobRecord, error) {
	var j JobRecord
	err := r.q(tx).QueryRowContext(ctx, `SELECT id,owner_id,kind,title,status,created_at FROM jobs WHERE id=?`, id).
		Scan(&j.ID, &j.OwnerID, &j.Kind, &j.Title, &j.Status, &j.CreatedAt)
	if err == sql.ErrNoRows {
		return j, ErrNotFound
	}
	return j, err
}

func (r Repo) UpdateJobStatus(ctx context.Context, tx *sql.Tx, id, status string) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE jobs SET status=? WHERE id=?`, status, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- proposals ---

type ProposalRecord struct {
	ID        string
	JobID     string
	OwnerID   string
	Status    string
	CoverNote string
	CreatedAt string
}

func (r Repo) InsertProposal(ctx context.Context, p ProposalRecord) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO proposals(id,job_id,owner_id,status,cover_note,created_at) VALUES (?,?,?,?,?,?)`,
		p.ID, p.JobID, p.OwnerID, p.Status, nullable(p.CoverNote), p.CreatedAt)
	return err
}

func (r Repo) GetProposal(ctx context.Context, tx *sql.Tx, id string) (ProposalRecord, error) {
	var p ProposalRecord
	var note sql.NullString
	err := r.q(tx).QueryRowContext(ctx, `SELECT id,job_id,owner_id,status,cover_note,created_at FROM proposals WHERE id=?`, id).
		Scan(&p.ID, &p.JobID, &p.OwnerID, &p.Status, &note, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if note.Valid {
		p.CoverNote = note.String
	}
	return p, err
}

func (r Repo) UpdateProposalStatus(ctx context.Context, tx *sql.Tx, id, status string) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE proposals SET status=? WHERE id=?`, status, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- events ---

type EventFilters struct {
	ConversationID string
	Type           string
	EntityKind     string
	EntityID       string
	Limit          int
	Cursor         int64
}

func (r Repo) LatestEvents(ctx context.Context, f EventFilters) ([]EventRecord, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.ConversationID != "" {
		clauses = append(clauses, "conversation_id=?")
		args = append(args, f.ConversationID)
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
	if f.Cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, f.Cursor)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,conversation_id,entity_kind,entity_id,actor_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	return r.scanEvents(ctx, query, args...)
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64) ([]EventRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id,ts,type,conversation_id,entity_kind,entity_id,actor_id,payload_json FROM events WHERE id>? ORDER BY id ASC LIMIT ?`
	return r.scanEvents(ctx, query, cursor, limit)
}

// LatestEventID returns the most recent event ID.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events`)
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

type EventRecord struct {
	ID             int64
	TS             string
	Type           string
	ConversationID string
	EntityKind     string
	EntityID       string
	ActorID        string
	Payload        string
}

func (r Repo) scanEvents(ctx context.Context, query string, args ...any) ([]EventRecord, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []EventRecord
	for rows.Next() {
		var e EventRecord
		var convID, entityID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &convID, &e.EntityKind, &entityID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		if convID.Valid {
			e.ConversationID = convID.String
		}
		if entityID.Valid {
			e.EntityID = entityID.String
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
