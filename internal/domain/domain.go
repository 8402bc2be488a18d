package domain

// Job kinds; the online/offline discriminant is fixed at registration.
const (
	JobKindOnline  = "online"
	JobKindOffline = "offline"
)

type Job struct {
	ID        string `json:"id"`
	OwnerID   string `json:"owner_id"`
	Kind      string `json:"kind" enum:"online,offline"`
	Title     string `json:"title"`
	Status    string `json:"status" enum:"open,in_progress,completed,closed"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Proposal struct {
	ID        string `json:"id"`
	JobID     string `json:"job_id"`
	OwnerID   string `json:"owner_id"`
	Status    string `json:"status" enum:"submitted,accepted,withdrawn"`
	CoverNote string `json:"cover_note,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Conversation binds one job and one proposal; at most one exists per pair.
type Conversation struct {
	ID              string `json:"id"`
	JobID           string `json:"job_id"`
	ProposalID      string `json:"proposal_id"`
	JobOwnerID      string `json:"job_owner_id"`
	ProposalOwnerID string `json:"proposal_owner_id"`
	IsActive        bool   `json:"is_active"`
	CreatedAt       string `json:"created_at" format:"date-time"`
}

type Message struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	SenderID       string `json:"sender_id"`
	Content        string `json:"content"`
	IsSystem       bool   `json:"is_system"`
	Read           bool   `json:"read"`
	CreatedAt      string `json:"created_at" format:"date-time"`
}

const (
	AgreementProposed = "proposed"
	AgreementAccepted = "accepted"

	PaymentStructureFull      = "full"
	PaymentStructureMilestone = "milestone"
)

type Agreement struct {
	ID               string  `json:"id"`
	ProposalID       string  `json:"proposal_id"`
	ConversationID   string  `json:"conversation_id"`
	CreatedBy        string  `json:"created_by"`
	StartDate        string  `json:"start_date" format:"date"`
	EndDate          string  `json:"end_date" format:"date"`
	PaymentAmount    float64 `json:"payment_amount"`
	PaymentMethod    string  `json:"payment_method"`
	PaymentStructure string  `json:"payment_structure" enum:"full,milestone"`
	IsHourly         bool    `json:"is_hourly"`
	HourlyRate       float64 `json:"hourly_rate,omitempty"`
	TotalHours       float64 `json:"total_hours,omitempty"`
	AdditionalNotes  string  `json:"additional_notes,omitempty"`
	Status           string  `json:"status" enum:"proposed,accepted"`
	CreatedAt        string  `json:"created_at" format:"date-time"`
	UpdatedAt        string  `json:"updated_at" format:"date-time"`
}

// TotalValue is the budget every milestone draws against. For hourly
// agreements it is fixed at confirmation time; extra or fewer actual
// hours are reconciled through timesheet entries, never by mutating
// the agreement.
func (a Agreement) TotalValue() float64 {
	if a.IsHourly {
		return a.HourlyRate * a.TotalHours
	}
	return a.PaymentAmount
}

const (
	MilestonePending   = "pending"
	MilestoneAccepted  = "accepted"
	MilestoneCompleted = "completed"
	MilestoneReleased  = "payment_released"
	MilestoneReceived  = "payment_received"
	MilestoneRejected  = "rejected"
)

// Milestone is one budget-bounded unit of work. Hourly timesheet
// entries share the table and the payment tail of the lifecycle.
type Milestone struct {
	ID                string  `json:"id"`
	ConversationID    string  `json:"conversation_id"`
	ProposalID        string  `json:"proposal_id"`
	AgreementID       string  `json:"agreement_id"`
	Title             string  `json:"title"`
	Description       string  `json:"description,omitempty"`
	Amount            float64 `json:"amount"`
	DueDate           string  `json:"due_date,omitempty" format:"date"`
	Status            string  `json:"status" enum:"pending,accepted,completed,payment_released,payment_received,rejected"`
	AcceptedAt        *string `json:"accepted_at,omitempty" format:"date-time"`
	CompletedAt       *string `json:"completed_at,omitempty" format:"date-time"`
	PaymentReleasedAt *string `json:"payment_released_at,omitempty" format:"date-time"`
	PaymentReceivedAt *string `json:"payment_received_at,omitempty" format:"date-time"`
	PaymentProofRef   *string `json:"payment_proof_ref,omitempty"`
	CreatedAt         string  `json:"created_at" format:"date-time"`
}

type Event struct {
	ID             int64  `json:"id"`
	TS             string `json:"ts" format:"date-time"`
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id,omitempty"`
	EntityKind     string `json:"entity_kind"`
	EntityID       string `json:"entity_id,omitempty"`
	ActorID        string `json:"actor_id"`
	Payload        string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
