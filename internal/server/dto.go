package server

import (
	"gigline/internal/domain"
	"gigline/internal/repo"
)

type RegisterJobRequest struct {
	ID      string `json:"id"`
	OwnerID string `json:"owner_id"`
	Kind    string `json:"kind" enum:"online,offline"`
	Title   string `json:"title"`
}

type RegisterProposalRequest struct {
	ID        string `json:"id"`
	JobID     string `json:"job_id"`
	OwnerID   string `json:"owner_id"`
	CoverNote string `json:"cover_note,omitempty"`
}

type OpenConversationRequest struct {
	JobID           string `json:"job_id"`
	ProposalID      string `json:"proposal_id"`
	JobOwnerID      string `json:"job_owner_id"`
	ProposalOwnerID string `json:"proposal_owner_id"`
}

type SendMessageRequest struct {
	Content string `json:"content"`
}

type AgreementRequest struct {
	StartDate        string  `json:"start_date" format:"date"`
	EndDate          string  `json:"end_date" format:"date"`
	PaymentAmount    float64 `json:"payment_amount,omitempty"`
	PaymentMethod    string  `json:"payment_method"`
	PaymentStructure string  `json:"payment_structure,omitempty" enum:"full,milestone,"`
	IsHourly         bool    `json:"is_hourly,omitempty"`
	HourlyRate       float64 `json:"hourly_rate,omitempty"`
	TotalHours       float64 `json:"total_hours,omitempty"`
	AdditionalNotes  string  `json:"additional_notes,omitempty"`
}

type CreateMilestoneRequest struct {
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Amount      float64 `json:"amount"`
	DueDate     string  `json:"due_date,omitempty" format:"date"`
}

type SubmitTimesheetRequest struct {
	HoursWorked float64 `json:"hours_worked"`
	WeekStart   string  `json:"week_start" format:"date"`
	WeekEnd     string  `json:"week_end" format:"date"`
	Description string  `json:"description,omitempty"`
}

type ReleasePaymentRequest struct {
	ProofRef string `json:"proof_ref"`
}

type CreateKeyRequest struct {
	ActorID string `json:"actor_id"`
	Name    string `json:"name,omitempty"`
}

type KeyResponse struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	Key       string `json:"key,omitempty"`
	CreatedAt string `json:"created_at"`
}

type EventResponse struct {
	ID             int64  `json:"id"`
	TS             string `json:"ts"`
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id,omitempty"`
	EntityKind     string `json:"entity_kind"`
	EntityID       string `json:"entity_id,omitempty"`
	ActorID        string `json:"actor_id"`
	Payload        string `json:"payload_json,omitempty"`
}

func eventResponse(e repo.EventRecord) EventResponse {
	return EventResponse(e)
}

type paginatedMessages struct {
	Items      []domain.Message `json:"items"`
	NextCursor string           `json:"next_cursor,omitempty"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor int64           `json:"next_cursor,omitempty"`
}
