package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidReference means the job or proposal behind a conversation
	// could not be resolved, or the identifiers do not belong together.
	ErrInvalidReference = errors.New("invalid job or proposal reference")

	// ErrNotParticipant means the actor is neither the job owner nor the
	// proposal owner of the conversation.
	ErrNotParticipant = errors.New("actor is not a participant in this conversation")

	// ErrAwaitingOpening blocks the proposal owner until the job owner has
	// sent the first message.
	ErrAwaitingOpening = errors.New("conversation awaits the job owner's opening message")

	// ErrConversationClosed blocks the proposal owner once the conversation
	// has been deactivated.
	ErrConversationClosed = errors.New("conversation is no longer active")

	// ErrAgreementExists rejects a second proposal while one is unresolved.
	ErrAgreementExists = errors.New("an agreement already exists for this conversation")

	// ErrAgreementImmutable rejects edits or deletes after acceptance.
	ErrAgreementImmutable = errors.New("agreement is accepted and can no longer change")

	// ErrNotCreator rejects edit/delete attempts by the counterparty.
	ErrNotCreator = errors.New("only the agreement creator may do this")

	// ErrNotCounterparty rejects self-confirmation by the creator.
	ErrNotCounterparty = errors.New("the agreement creator cannot confirm their own proposal")

	// ErrAgreementNotConfirmed blocks ledger operations until the
	// agreement has been accepted by the counterparty.
	ErrAgreementNotConfirmed = errors.New("agreement is not confirmed yet")
)

// ValidationError rejects malformed or ill-suited input before any state
// is touched.
type ValidationError struct {
	Msg string
}

func (e ValidationError) Error() string { return e.Msg }

func validationErrorf(format string, args ...any) error {
	return ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// BudgetExceededError rejects a milestone or timesheet whose amount would
// push the non-rejected total past the agreement's value.
type BudgetExceededError struct {
	AgreementID string
	Amount      float64
	Remaining   float64
}

func (e BudgetExceededError) Error() string {
	return fmt.Sprintf("amount %.2f exceeds remaining budget %.2f on agreement %s", e.Amount, e.Remaining, e.AgreementID)
}

// InvalidTransitionError rejects out-of-order or out-of-role milestone moves.
type InvalidTransitionError struct {
	MilestoneID string
	From        string
	To          string
}

func (e InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid milestone transition %s -> %s on %s", e.From, e.To, e.MilestoneID)
}

// WrongRoleError rejects an operation reserved for the other party.
type WrongRoleError struct {
	Op       string
	Required string
}

func (e WrongRoleError) Error() string {
	return fmt.Sprintf("%s is reserved for the %s", e.Op, e.Required)
}
