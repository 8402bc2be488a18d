package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"gigline/internal/domain"
	"gigline/internal/events"
	"gigline/internal/repo"
)

// MilestoneOptions plan a unit of fixed-price work.
type MilestoneOptions struct {
	ConversationID string
	ActorID        string
	Title          string
	Description    string
	Amount         float64
	DueDate        string
}

// TimesheetOptions bill already-performed hourly work.
type TimesheetOptions struct {
	ConversationID string
	ActorID        string
	HoursWorked    float64
	WeekStart      string
	WeekEnd        string
	Description    string
}

// CreateMilestone plans a fixed-price milestone. Job owner only, and the
// budget check and insert run as one atomic unit: two concurrent calls
// cannot both pass against a stale remaining-budget read.
func (e Engine) CreateMilestone(ctx context.Context, opts MilestoneOptions) (domain.Milestone, error) {
	if opts.Title == "" {
		return domain.Milestone{}, validationErrorf("title is required")
	}
	if opts.Amount <= 0 {
		return domain.Milestone{}, validationErrorf("amount must be positive")
	}
	if opts.DueDate != "" {
		if _, err := time.Parse("2006-01-02", opts.DueDate); err != nil {
			return domain.Milestone{}, validationErrorf("invalid due date %q", opts.DueDate)
		}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Milestone{}, err
	}
	defer tx.Rollback()

	conv, a, err := e.activeAgreement(ctx, tx, opts.ConversationID)
	if err != nil {
		return domain.Milestone{}, err
	}
	if opts.ActorID != conv.JobOwnerID {
		return domain.Milestone{}, WrongRoleError{Op: "planning a milestone", Required: "job owner"}
	}
	if a.IsHourly {
		return domain.Milestone{}, validationErrorf("hourly agreements bill through timesheets, not milestones")
	}
	if a.PaymentStructure != domain.PaymentStructureMilestone {
		return domain.Milestone{}, validationErrorf("agreement is not structured for milestone payments")
	}
	if err := e.checkBudget(ctx, tx, a, opts.Amount); err != nil {
		return domain.Milestone{}, err
	}

	m := domain.Milestone{
		ID:             uuid.New().String(),
		ConversationID: conv.ID,
		ProposalID:     conv.ProposalID,
		AgreementID:    a.ID,
		Title:          opts.Title,
		Description:    opts.Description,
		Amount:         opts.Amount,
		DueDate:        opts.DueDate,
		Status:         domain.MilestonePending,
		CreatedAt:      e.nowStr(),
	}
	if err := e.Repo.InsertMilestone(ctx, tx, m); err != nil {
		return domain.Milestone{}, fmt.Errorf("insert milestone: %w", err)
	}
	msg, err := e.systemMessage(ctx, tx, conv.ID, opts.ActorID,
		fmt.Sprintf("Milestone %q planned for %.2f. Waiting on the worker to accept.", m.Title, m.Amount))
	if err != nil {
		return domain.Milestone{}, err
	}
	if err := e.Events.Append(ctx, tx, "milestone.created", conv.ID, "milestone", m.ID, opts.ActorID, events.EventPayload{
		"amount": m.Amount,
		"title":  m.Title,
	}); err != nil {
		return domain.Milestone{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Milestone{}, err
	}
	e.notify([]domain.Message{msg})
	return m, nil
}

// SubmitTimesheet bills hourly work after the fact. Worker only. The
// entry starts at completed: the work already happened, so there is no
// acceptance step, only the payment tail of the lifecycle.
func (e Engine) SubmitTimesheet(ctx context.Context, opts TimesheetOptions) (domain.Milestone, error) {
	if opts.HoursWorked <= 0 {
		return domain.Milestone{}, validationErrorf("hours worked must be positive")
	}
	start, err := time.Parse("2006-01-02", opts.WeekStart)
	if err != nil {
		return domain.Milestone{}, validationErrorf("invalid week start %q", opts.WeekStart)
	}
	end, err := time.Parse("2006-01-02", opts.WeekEnd)
	if err != nil {
		return domain.Milestone{}, validationErrorf("invalid week end %q", opts.WeekEnd)
	}
	if end.Before(start) {
		return domain.Milestone{}, validationErrorf("week end must not precede week start")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Milestone{}, err
	}
	defer tx.Rollback()

	conv, a, err := e.activeAgreement(ctx, tx, opts.ConversationID)
	if err != nil {
		return domain.Milestone{}, err
	}
	if opts.ActorID != conv.ProposalOwnerID {
		return domain.Milestone{}, WrongRoleError{Op: "submitting a timesheet", Required: "worker"}
	}
	if !conv.IsActive {
		return domain.Milestone{}, ErrConversationClosed
	}
	if !a.IsHourly {
		return domain.Milestone{}, validationErrorf("fixed-price agreements are billed through milestones, not timesheets")
	}
	amount := opts.HoursWorked * a.HourlyRate
	if err := e.checkBudget(ctx, tx, a, amount); err != nil {
		return domain.Milestone{}, err
	}

	now := e.nowStr()
	m := domain.Milestone{
		ID:             uuid.New().String(),
		ConversationID: conv.ID,
		ProposalID:     conv.ProposalID,
		AgreementID:    a.ID,
		Title:          fmt.Sprintf("Timesheet %s to %s", opts.WeekStart, opts.WeekEnd),
		Description:    opts.Description,
		Amount:         amount,
		DueDate:        opts.WeekEnd,
		Status:         domain.MilestoneCompleted,
		CompletedAt:    &now,
		CreatedAt:      now,
	}
	if err := e.Repo.InsertMilestone(ctx, tx, m); err != nil {
		return domain.Milestone{}, fmt.Errorf("insert timesheet: %w", err)
	}
	msg, err := e.systemMessage(ctx, tx, conv.ID, opts.ActorID,
		fmt.Sprintf("Timesheet submitted: %.1f hours (%.2f) for %s to %s. Waiting on the job owner to release payment.",
			opts.HoursWorked, amount, opts.WeekStart, opts.WeekEnd))
	if err != nil {
		return domain.Milestone{}, err
	}
	if err := e.Events.Append(ctx, tx, "timesheet.submitted", conv.ID, "milestone", m.ID, opts.ActorID, events.EventPayload{
		"hours":  opts.HoursWorked,
		"amount": amount,
	}); err != nil {
		return domain.Milestone{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Milestone{}, err
	}
	e.notify([]domain.Message{msg})
	return m, nil
}

// AcceptMilestone: worker commits to a planned milestone.
func (e Engine) AcceptMilestone(ctx context.Context, milestoneID, actorID string) (domain.Milestone, error) {
	return e.advanceMilestone(ctx, milestoneID, actorID, domain.MilestoneAccepted, "")
}

// DeclineMilestone: worker abandons a milestone still in planning.
// Rejected amounts return to the budget.
func (e Engine) DeclineMilestone(ctx context.Context, milestoneID, actorID string) (domain.Milestone, error) {
	return e.advanceMilestone(ctx, milestoneID, actorID, domain.MilestoneRejected, "")
}

// CompleteMilestone: worker marks the work done.
func (e Engine) CompleteMilestone(ctx context.Context, milestoneID, actorID string) (domain.Milestone, error) {
	return e.advanceMilestone(ctx, milestoneID, actorID, domain.MilestoneCompleted, "")
}

// ReleasePayment: owner attests payment was sent, attaching a proof
// reference from the blob store. The ledger stores only the reference.
func (e Engine) ReleasePayment(ctx context.Context, milestoneID, actorID, proofRef string) (domain.Milestone, error) {
	if proofRef == "" {
		return domain.Milestone{}, validationErrorf("payment proof reference is required")
	}
	return e.advanceMilestone(ctx, milestoneID, actorID, domain.MilestoneReleased, proofRef)
}

// ConfirmPaymentReceived: worker attests the payment arrived. Terminal.
func (e Engine) ConfirmPaymentReceived(ctx context.Context, milestoneID, actorID string) (domain.Milestone, error) {
	return e.advanceMilestone(ctx, milestoneID, actorID, domain.MilestoneReceived, "")
}

// ListMilestones returns the ledger for a conversation.
func (e Engine) ListMilestones(ctx context.Context, conversationID, actorID string, f repo.MilestoneFilters) ([]domain.Milestone, error) {
	if _, err := e.GetConversation(ctx, conversationID, actorID); err != nil {
		return nil, err
	}
	f.ConversationID = conversationID
	return e.Repo.ListMilestones(ctx, f)
}

// transition table: from status -> target status -> role allowed to move.
var milestoneTransitions = map[string]map[string]string{
	domain.MilestonePending: {
		domain.MilestoneAccepted: "worker",
		domain.MilestoneRejected: "worker",
	},
	domain.MilestoneAccepted: {
		domain.MilestoneCompleted: "worker",
	},
	domain.MilestoneCompleted: {
		domain.MilestoneReleased: "owner",
	},
	domain.MilestoneReleased: {
		domain.MilestoneReceived: "worker",
	},
}

func (e Engine) advanceMilestone(ctx context.Context, milestoneID, actorID, target, proofRef string) (domain.Milestone, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Milestone{}, err
	}
	defer tx.Rollback()

	m, err := e.Repo.GetMilestone(ctx, tx, milestoneID)
	if err != nil {
		return domain.Milestone{}, err
	}
	conv, err := e.Repo.GetConversation(ctx, tx, m.ConversationID)
	if err != nil {
		return domain.Milestone{}, err
	}
	role, err := participantRole(conv, actorID)
	if err != nil {
		return domain.Milestone{}, err
	}
	if role == "worker" && !conv.IsActive {
		return domain.Milestone{}, ErrConversationClosed
	}
	requiredRole, ok := milestoneTransitions[m.Status][target]
	if !ok || role != requiredRole {
		return domain.Milestone{}, InvalidTransitionError{MilestoneID: m.ID, From: m.Status, To: target}
	}

	now := e.nowStr()
	from := m.Status
	m.Status = target
	var narration string
	switch target {
	case domain.MilestoneAccepted:
		m.AcceptedAt = &now
		narration = fmt.Sprintf("Milestone %q accepted. Work can begin.", m.Title)
	case domain.MilestoneRejected:
		narration = fmt.Sprintf("Milestone %q was declined and removed from the plan.", m.Title)
	case domain.MilestoneCompleted:
		m.CompletedAt = &now
		narration = fmt.Sprintf("Milestone %q marked as completed. Waiting on the job owner to release payment.", m.Title)
	case domain.MilestoneReleased:
		m.PaymentReleasedAt = &now
		m.PaymentProofRef = &proofRef
		narration = fmt.Sprintf("Payment of %.2f released for milestone %q with proof attached. Waiting on the worker to confirm receipt.", m.Amount, m.Title)
	case domain.MilestoneReceived:
		m.PaymentReceivedAt = &now
		narration = fmt.Sprintf("Payment of %.2f received for milestone %q.", m.Amount, m.Title)
	}
	if err := e.Repo.UpdateMilestone(ctx, tx, m); err != nil {
		return domain.Milestone{}, err
	}
	msg, err := e.systemMessage(ctx, tx, conv.ID, actorID, narration)
	if err != nil {
		return domain.Milestone{}, err
	}
	if err := e.Events.Append(ctx, tx, "milestone."+target, conv.ID, "milestone", m.ID, actorID, events.EventPayload{
		"from":   from,
		"to":     target,
		"amount": m.Amount,
	}); err != nil {
		return domain.Milestone{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Milestone{}, err
	}
	e.notify([]domain.Message{msg})
	return m, nil
}

// activeAgreement loads the conversation and its accepted agreement.
func (e Engine) activeAgreement(ctx context.Context, tx *sql.Tx, conversationID string) (domain.Conversation, domain.Agreement, error) {
	conv, err := e.Repo.GetConversation(ctx, tx, conversationID)
	if err != nil {
		return domain.Conversation{}, domain.Agreement{}, err
	}
	a, err := e.Repo.GetAgreementByConversation(ctx, tx, conversationID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return conv, a, fmt.Errorf("no agreement for conversation %s: %w", conversationID, err)
		}
		return conv, a, err
	}
	if a.Status != domain.AgreementAccepted {
		return conv, a, ErrAgreementNotConfirmed
	}
	return conv, a, nil
}

// checkBudget enforces the ledger invariant inside the caller's
// transaction: non-rejected amounts never exceed the agreement total.
func (e Engine) checkBudget(ctx context.Context, tx *sql.Tx, a domain.Agreement, amount float64) error {
	sum, err := e.Repo.SumMilestoneAmounts(ctx, tx, a.ID)
	if err != nil {
		return err
	}
	total := a.TotalValue()
	if sum+amount > total {
		return BudgetExceededError{AgreementID: a.ID, Amount: amount, Remaining: total - sum}
	}
	return nil
}
