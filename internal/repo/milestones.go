package repo

import (
	"context"
	"database/sql"
	"strings"

	"gigline/internal/domain"
)

func (r Repo) InsertMilestone(ctx context.Context, tx *sql.Tx, m domain.Milestone) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO milestones(id,conversation_id,proposal_id,agreement_id,title,description,amount,due_date,status,accepted_at,completed_at,payment_released_at,payment_received_at,payment_proof_ref,created_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		m.ID, m.ConversationID, m.ProposalID, m.AgreementID, m.Title, nullable(m.Description), m.Amount, nullable(m.DueDate), m.Status,
		nullableStringPtr(m.AcceptedAt), nullableStringPtr(m.CompletedAt), nullableStringPtr(m.PaymentReleasedAt), nullableStringPtr(m.PaymentReceivedAt),
		nullableStringPtr(m.PaymentProofRef), m.CreatedAt)
	return err
}

func (r Repo) UpdateMilestone(ctx context.Context, tx *sql.Tx, m domain.Milestone) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE milestones SET status=?, accepted_at=?, completed_at=?, payment_released_at=?, payment_received_at=?, payment_proof_ref=? WHERE id=?`,
		m.Status, nullableStringPtr(m.AcceptedAt), nullableStringPtr(m.CompletedAt), nullableStringPtr(m.PaymentReleasedAt),
		nullableStringPtr(m.PaymentReceivedAt), nullableStringPtr(m.PaymentProofRef), m.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetMilestone(ctx context.Context, tx *sql.Tx, id string) (domain.Milestone, error) {
	row := r.q(tx).QueryRowContext(ctx, milestoneSelect+` WHERE id=?`, id)
	m, err := scanMilestoneRow(row)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	return m, err
}

// SumMilestoneAmounts totals the non-rejected amounts under an agreement.
// Must run inside the same transaction as the dependent insert so the
// budget check-and-insert is one atomic unit.
func (r Repo) SumMilestoneAmounts(ctx context.Context, tx *sql.Tx, agreementID string) (float64, error) {
	var sum float64
	err := r.q(tx).QueryRowContext(ctx, `SELECT COALESCE(SUM(amount),0) FROM milestones WHERE agreement_id=? AND status<>?`,
		agreementID, domain.MilestoneRejected).Scan(&sum)
	return sum, err
}

type MilestoneFilters struct {
	ConversationID string
	AgreementID    string
	Status         string
	Limit          int
}

func (r Repo) ListMilestones(ctx context.Context, f MilestoneFilters) ([]domain.Milestone, error) {
	var clauses []string
	var args []any
	if f.ConversationID != "" {
		clauses = append(clauses, "conversation_id=?")
		args = append(args, f.ConversationID)
	}
	if f.AgreementID != "" {
		clauses = append(clauses, "agreement_id=?")
		args = append(args, f.AgreementID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := milestoneSelect + " " + where + ` ORDER BY created_at ASC, id ASC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Milestone
	for rows.Next() {
		m, err := scanMilestoneRows(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

const milestoneSelect = `SELECT id,conversation_id,proposal_id,agreement_id,title,description,amount,due_date,status,accepted_at,completed_at,payment_released_at,payment_received_at,payment_proof_ref,created_at FROM milestones`

func scanMilestoneRow(row *sql.Row) (domain.Milestone, error) {
	var m domain.Milestone
	var desc, due, acceptedAt, completedAt, releasedAt, receivedAt, proofRef sql.NullString
	err := row.Scan(&m.ID, &m.ConversationID, &m.ProposalID, &m.AgreementID, &m.Title, &desc, &m.Amount, &due, &m.Status,
		&acceptedAt, &completedAt, &releasedAt, &receivedAt, &proofRef, &m.CreatedAt)
	if err != nil {
		return m, err
	}
	applyMilestoneNulls(&m, desc, due, acceptedAt, completedAt, releasedAt, receivedAt, proofRef)
	return m, nil
}

func scanMilestoneRows(rows *sql.Rows) (domain.Milestone, error) {
	var m domain.Milestone
	var desc, due, acceptedAt, completedAt, releasedAt, receivedAt, proofRef sql.NullString
	err := rows.Scan(&m.ID, &m.ConversationID, &m.ProposalID, &m.AgreementID, &m.Title, &desc, &m.Amount, &due, &m.Status,
		&acceptedAt, &completedAt, &releasedAt, &receivedAt, &proofRef, &m.CreatedAt)
	if err != nil {
		return m, err
	}
	applyMilestoneNulls(&m, desc, due, acceptedAt, completedAt, releasedAt, receivedAt, proofRef)
	return m, nil
}

func applyMilestoneNulls(m *domain.Milestone, desc, due, acceptedAt, completedAt, releasedAt, receivedAt, proofRef sql.NullString) {
	if desc.Valid {
		m.Description = desc.String
	}
	if due.Valid {
		m.DueDate = due.String
	}
	if acceptedAt.Valid {
		m.AcceptedAt = &acceptedAt.String
	}
	if completedAt.Valid {
		m.CompletedAt = &completedAt.String
	}
	if releasedAt.Valid {
		m.PaymentReleasedAt = &releasedAt.String
	}
	if receivedAt.Valid {
		m.PaymentReceivedAt = &receivedAt.String
	}
	if proofRef.Valid {
		m.PaymentProofRef = &proofRef.String
	}
}
