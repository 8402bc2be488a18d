package repo

import (
	"context"
	"database/sql"

	"gigline/internal/domain"
)

// UpsertConversation inserts the conversation unless one already exists
// for the (job_id, proposal_id) pair, then returns the surviving row.
// The unique index makes concurrent first access converge on one record.
func (r Repo) UpsertConversation(ctx context.Context, tx *sql.Tx, c domain.Conversation) (domain.Conversation, error) {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO conversations(id,job_id,proposal_id,job_owner_id,proposal_owner_id,is_active,created_at)
VALUES (?,?,?,?,?,?,?)
ON CONFLICT(job_id,proposal_id) DO NOTHING`,
		c.ID, c.JobID, c.ProposalID, c.JobOwnerID, c.ProposalOwnerID, boolToInt(c.IsActive), c.CreatedAt)
	if err != nil {
		return domain.Conversation{}, err
	}
	return r.GetConversationByPair(ctx, tx, c.JobID, c.ProposalID)
}

func (r Repo) GetConversation(ctx context.Context, tx *sql.Tx, id string) (domain.Conversation, error) {
	return r.scanConversation(r.q(tx).QueryRowContext(ctx,
		`SELECT id,job_id,proposal_id,job_owner_id,proposal_owner_id,is_active,created_at FROM conversations WHERE id=?`, id))
}

func (r Repo) GetConversationByPair(ctx context.Context, tx *sql.Tx, jobID, proposalID string) (domain.Conversation, error) {
	return r.scanConversation(r.q(tx).QueryRowContext(ctx,
		`SELECT id,job_id,proposal_id,job_owner_id,proposal_owner_id,is_active,created_at FROM conversations WHERE job_id=? AND proposal_id=?`, jobID, proposalID))
}

func (r Repo) scanConversation(row *sql.Row) (domain.Conversation, error) {
	var c domain.Conversation
	var active int
	err := row.Scan(&c.ID, &c.JobID, &c.ProposalID, &c.JobOwnerID, &c.ProposalOwnerID, &active, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	c.IsActive = active != 0
	return c, err
}

func (r Repo) SetConversationActive(ctx context.Context, tx *sql.Tx, id string, active bool) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE conversations SET is_active=? WHERE id=?`, boolToInt(active), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListConversationsForActor returns conversations the actor participates in.
// Inactive conversations stay visible to the job owner only.
func (r Repo) ListConversationsForActor(ctx context.Context, actorID string) ([]domain.Conversation, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,job_id,proposal_id,job_owner_id,proposal_owner_id,is_active,created_at FROM conversations
WHERE job_owner_id=? OR (proposal_owner_id=? AND is_active=1)
ORDER BY created_at DESC, id DESC`, actorID, actorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Conversation
	for rows.Next() {
		var c domain.Conversation
		var active int
		if err := rows.Scan(&c.ID, &c.JobID, &c.ProposalID, &c.JobOwnerID, &c.ProposalOwnerID, &active, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.IsActive = active != 0
		res = append(res, c)
	}
	return res, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
