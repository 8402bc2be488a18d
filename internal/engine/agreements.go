package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"gigline/internal/domain"
	"gigline/internal/events"
	"gigline/internal/repo"
)

// AgreementOptions are the negotiable terms of a proposal.
type AgreementOptions struct {
	ConversationID   string
	ActorID          string
	StartDate        string
	EndDate          string
	PaymentAmount    float64
	PaymentMethod    string
	PaymentStructure string
	IsHourly         bool
	HourlyRate       float64
	TotalHours       float64
	AdditionalNotes  string
}

func (e Engine) validateTerms(opts AgreementOptions) error {
	start, err := time.Parse("2006-01-02", opts.StartDate)
	if err != nil {
		return validationErrorf("invalid start date %q", opts.StartDate)
	}
	end, err := time.Parse("2006-01-02", opts.EndDate)
	if err != nil {
		return validationErrorf("invalid end date %q", opts.EndDate)
	}
	if end.Before(start) {
		return validationErrorf("end date must not precede start date")
	}
	if opts.IsHourly {
		if opts.HourlyRate <= 0 {
			return validationErrorf("hourly rate must be positive")
		}
		if opts.TotalHours <= 0 {
			return validationErrorf("estimated total hours must be positive")
		}
	} else if opts.PaymentAmount <= 0 {
		return validationErrorf("payment amount must be positive")
	}
	if opts.PaymentStructure != domain.PaymentStructureFull && opts.PaymentStructure != domain.PaymentStructureMilestone {
		return validationErrorf("payment structure must be %s or %s", domain.PaymentStructureFull, domain.PaymentStructureMilestone)
	}
	if e.Config != nil && !e.Config.AllowsPaymentMethod(opts.PaymentMethod) {
		return validationErrorf("payment method %q is not in the catalog", opts.PaymentMethod)
	}
	return nil
}

// ProposeAgreement opens the negotiation. Valid only while the
// conversation carries no agreement; the prior one must be confirmed,
// edited in place, or deleted first.
func (e Engine) ProposeAgreement(ctx context.Context, opts AgreementOptions) (domain.Agreement, error) {
	if opts.PaymentStructure == "" {
		opts.PaymentStructure = domain.PaymentStructureFull
	}
	if err := e.validateTerms(opts); err != nil {
		return domain.Agreement{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Agreement{}, err
	}
	defer tx.Rollback()

	conv, err := e.Repo.GetConversation(ctx, tx, opts.ConversationID)
	if err != nil {
		return domain.Agreement{}, err
	}
	role, err := participantRole(conv, opts.ActorID)
	if err != nil {
		return domain.Agreement{}, err
	}
	if role == "worker" && !conv.IsActive {
		return domain.Agreement{}, ErrConversationClosed
	}
	if _, err := e.Repo.GetAgreementByConversation(ctx, tx, conv.ID); err == nil {
		return domain.Agreement{}, ErrAgreementExists
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Agreement{}, err
	}

	now := e.nowStr()
	a := domain.Agreement{
		ID:               uuid.New().String(),
		ProposalID:       conv.ProposalID,
		ConversationID:   conv.ID,
		CreatedBy:        opts.ActorID,
		StartDate:        opts.StartDate,
		EndDate:          opts.EndDate,
		PaymentAmount:    opts.PaymentAmount,
		PaymentMethod:    opts.PaymentMethod,
		PaymentStructure: opts.PaymentStructure,
		IsHourly:         opts.IsHourly,
		HourlyRate:       opts.HourlyRate,
		TotalHours:       opts.TotalHours,
		AdditionalNotes:  opts.AdditionalNotes,
		Status:           domain.AgreementProposed,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := e.Repo.InsertAgreement(ctx, tx, a); err != nil {
		return domain.Agreement{}, fmt.Errorf("insert agreement: %w", err)
	}
	msg, err := e.systemMessage(ctx, tx, conv.ID, opts.ActorID,
		fmt.Sprintf("An agreement was proposed: %s. The other party is waiting on you to review and confirm.", describeTerms(a)))
	if err != nil {
		return domain.Agreement{}, err
	}
	if err := e.Events.Append(ctx, tx, "agreement.proposed", conv.ID, "agreement", a.ID, opts.ActorID, events.EventPayload{
		"total": a.TotalValue(),
	}); err != nil {
		return domain.Agreement{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Agreement{}, err
	}
	e.notify([]domain.Message{msg})
	return a, nil
}

// EditAgreement overwrites the terms of a proposed agreement in place.
// Creator only; does not reset who is waiting on whom.
func (e Engine) EditAgreement(ctx context.Context, agreementID string, opts AgreementOptions, actorID string) (domain.Agreement, error) {
	if opts.PaymentStructure == "" {
		opts.PaymentStructure = domain.PaymentStructureFull
	}
	if err := e.validateTerms(opts); err != nil {
		return domain.Agreement{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Agreement{}, err
	}
	defer tx.Rollback()

	a, err := e.Repo.GetAgreement(ctx, tx, agreementID)
	if err != nil {
		return domain.Agreement{}, err
	}
	if a.Status != domain.AgreementProposed {
		return domain.Agreement{}, ErrAgreementImmutable
	}
	if a.CreatedBy != actorID {
		return domain.Agreement{}, ErrNotCreator
	}
	a.StartDate = opts.StartDate
	a.EndDate = opts.EndDate
	a.PaymentAmount = opts.PaymentAmount
	a.PaymentMethod = opts.PaymentMethod
	a.PaymentStructure = opts.PaymentStructure
	a.IsHourly = opts.IsHourly
	a.HourlyRate = opts.HourlyRate
	a.TotalHours = opts.TotalHours
	a.AdditionalNotes = opts.AdditionalNotes
	a.UpdatedAt = e.nowStr()
	if err := e.Repo.UpdateAgreementTerms(ctx, tx, a); err != nil {
		return domain.Agreement{}, err
	}
	msg, err := e.systemMessage(ctx, tx, a.ConversationID, actorID,
		fmt.Sprintf("The proposed agreement was updated: %s. Still waiting on the other party to confirm.", describeTerms(a)))
	if err != nil {
		return domain.Agreement{}, err
	}
	if err := e.Events.Append(ctx, tx, "agreement.edited", a.ConversationID, "agreement", a.ID, actorID, events.EventPayload{
		"total": a.TotalValue(),
	}); err != nil {
		return domain.Agreement{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Agreement{}, err
	}
	e.notify([]domain.Message{msg})
	return a, nil
}

// DeleteAgreement withdraws a proposed agreement and returns the
// conversation to the no-agreement state. Creator only.
func (e Engine) DeleteAgreement(ctx context.Context, agreementID, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	a, err := e.Repo.GetAgreement(ctx, tx, agreementID)
	if err != nil {
		return err
	}
	if a.Status != domain.AgreementProposed {
		return ErrAgreementImmutable
	}
	if a.CreatedBy != actorID {
		return ErrNotCreator
	}
	if err := e.Repo.DeleteAgreement(ctx, tx, agreementID); err != nil {
		return err
	}
	msg, err := e.systemMessage(ctx, tx, a.ConversationID, actorID, "The proposed agreement was withdrawn.")
	if err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "agreement.deleted", a.ConversationID, "agreement", a.ID, actorID, nil); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	e.notify([]domain.Message{msg})
	return nil
}

// ConfirmAgreement accepts the proposal. Counterparty only; on success
// the agreement becomes immutable, the proposal is accepted and the job
// moves to in_progress, all in one transaction. The hourly total is
// fixed from this point on.
func (e Engine) ConfirmAgreement(ctx context.Context, agreementID, actorID string) (domain.Agreement, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Agreement{}, err
	}
	defer tx.Rollback()

	a, err := e.Repo.GetAgreement(ctx, tx, agreementID)
	if err != nil {
		return domain.Agreement{}, err
	}
	if a.Status != domain.AgreementProposed {
		return domain.Agreement{}, ErrAgreementImmutable
	}
	if a.CreatedBy == actorID {
		return domain.Agreement{}, ErrNotCounterparty
	}
	conv, err := e.Repo.GetConversation(ctx, tx, a.ConversationID)
	if err != nil {
		return domain.Agreement{}, err
	}
	if _, err := participantRole(conv, actorID); err != nil {
		return domain.Agreement{}, err
	}

	now := e.nowStr()
	if err := e.Repo.SetAgreementStatus(ctx, tx, a.ID, domain.AgreementAccepted, now); err != nil {
		return domain.Agreement{}, err
	}
	if err := e.Repo.UpdateProposalStatus(ctx, tx, a.ProposalID, "accepted"); err != nil {
		return domain.Agreement{}, err
	}
	if err := e.Repo.UpdateJobStatus(ctx, tx, conv.JobID, "in_progress"); err != nil {
		return domain.Agreement{}, err
	}
	a.Status = domain.AgreementAccepted
	a.UpdatedAt = now
	msg, err := e.systemMessage(ctx, tx, conv.ID, actorID,
		fmt.Sprintf("Agreement confirmed: %s. The job is now in progress.", describeTerms(a)))
	if err != nil {
		return domain.Agreement{}, err
	}
	if err := e.Events.Append(ctx, tx, "agreement.confirmed", conv.ID, "agreement", a.ID, actorID, events.EventPayload{
		"total":       a.TotalValue(),
		"proposal_id": a.ProposalID,
		"job_id":      conv.JobID,
	}); err != nil {
		return domain.Agreement{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Agreement{}, err
	}
	e.notify([]domain.Message{msg})
	return a, nil
}

// GetAgreement returns the agreement visible to a participant.
func (e Engine) GetAgreement(ctx context.Context, conversationID, actorID string) (domain.Agreement, error) {
	if _, err := e.GetConversation(ctx, conversationID, actorID); err != nil {
		return domain.Agreement{}, err
	}
	return e.Repo.GetAgreementByConversation(ctx, nil, conversationID)
}

func describeTerms(a domain.Agreement) string {
	if a.IsHourly {
		return fmt.Sprintf("%s to %s, hourly at %.2f for an estimated %.1f hours (total %.2f) via %s",
			a.StartDate, a.EndDate, a.HourlyRate, a.TotalHours, a.TotalValue(), a.PaymentMethod)
	}
	structure := "paid in full"
	if a.PaymentStructure == domain.PaymentStructureMilestone {
		structure = "paid per milestone"
	}
	return fmt.Sprintf("%s to %s, fixed price %.2f %s via %s",
		a.StartDate, a.EndDate, a.PaymentAmount, structure, a.PaymentMethod)
}
