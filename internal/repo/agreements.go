package repo

import (
	"context"
	"database/sql"

	"gigline/internal/domain"
)

func (r Repo) InsertAgreement(ctx context.Context, tx *sql.Tx, a domain.Agreement) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO agreements(id,proposal_id,conversation_id,created_by,start_date,end_date,payment_amount,payment_method,payment_structure,is_hourly,hourly_rate,total_hours,additional_notes,status,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		a.ID, a.ProposalID, a.ConversationID, a.CreatedBy, a.StartDate, a.EndDate, a.PaymentAmount, a.PaymentMethod, a.PaymentStructure,
		boolToInt(a.IsHourly), a.HourlyRate, a.TotalHours, nullable(a.AdditionalNotes), a.Status, a.CreatedAt, a.UpdatedAt)
	return err
}

// UpdateAgreementTerms overwrites a proposed agreement's terms in place.
func (r Repo) UpdateAgreementTerms(ctx context.Context, tx *sql.Tx, a domain.Agreement) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE agreements SET start_date=?, end_date=?, payment_amount=?, payment_method=?, payment_structure=?, is_hourly=?, hourly_rate=?, total_hours=?, additional_notes=?, updated_at=? WHERE id=?`,
		a.StartDate, a.EndDate, a.PaymentAmount, a.PaymentMethod, a.PaymentStructure,
		boolToInt(a.IsHourly), a.HourlyRate, a.TotalHours, nullable(a.AdditionalNotes), a.UpdatedAt, a.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) SetAgreementStatus(ctx context.Context, tx *sql.Tx, id, status, updatedAt string) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE agreements SET status=?, updated_at=? WHERE id=?`, status, updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteAgreement(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM agreements WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetAgreement(ctx context.Context, tx *sql.Tx, id string) (domain.Agreement, error) {
	return scanAgreement(r.q(tx).QueryRowContext(ctx, agreementSelect+` WHERE id=?`, id))
}

// GetAgreementByConversation returns the single agreement bound to the
// conversation, if any; the unique column guarantees at most one.
func (r Repo) GetAgreementByConversation(ctx context.Context, tx *sql.Tx, conversationID string) (domain.Agreement, error) {
	return scanAgreement(r.q(tx).QueryRowContext(ctx, agreementSelect+` WHERE conversation_id=?`, conversationID))
}

const agreementSelect = `SELECT id,proposal_id,conversation_id,created_by,start_date,end_date,payment_amount,payment_method,payment_structure,is_hourly,hourly_rate,total_hours,additional_notes,status,created_at,updated_at FROM agreements`

func scanAgreement(row *sql.Row) (domain.Agreement, error) {
	var a domain.Agreement
	var hourly int
	var notes sql.NullString
	err := row.Scan(&a.ID, &a.ProposalID, &a.ConversationID, &a.CreatedBy, &a.StartDate, &a.EndDate, &a.PaymentAmount, &a.PaymentMethod,
		&a.PaymentStructure, &hourly, &a.HourlyRate, &a.TotalHours, &notes, &a.Status, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	a.IsHourly = hourly != 0
	if notes.Valid {
		a.AdditionalNotes = notes.String
	}
	return a, err
}
