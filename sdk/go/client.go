package giglinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Gigline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	ActorID     string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Conversation represents the API conversation model.
type Conversation struct {
	ID              string `json:"id"`
	JobID           string `json:"job_id"`
	ProposalID      string `json:"proposal_id"`
	JobOwnerID      string `json:"job_owner_id"`
	ProposalOwnerID string `json:"proposal_owner_id"`
	IsActive        bool   `json:"is_active"`
	CreatedAt       string `json:"created_at"`
}

// Message represents a chat entry.
type Message struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	SenderID       string `json:"sender_id"`
	Content        string `json:"content"`
	IsSystem       bool   `json:"is_system"`
	IsRead         bool   `json:"is_read"`
	CreatedAt      string `json:"created_at"`
}

// Agreement represents the negotiated terms.
type Agreement struct {
	ID               string  `json:"id"`
	ConversationID   string  `json:"conversation_id"`
	CreatedBy        string  `json:"created_by"`
	Status           string  `json:"status"`
	StartDate        string  `json:"start_date,omitempty"`
	EndDate          string  `json:"end_date,omitempty"`
	PaymentAmount    float64 `json:"payment_amount,omitempty"`
	PaymentMethod    string  `json:"payment_method"`
	PaymentStructure string  `json:"payment_structure"`
	IsHourly         bool    `json:"is_hourly"`
	HourlyRate       float64 `json:"hourly_rate,omitempty"`
	TotalHours       float64 `json:"total_hours,omitempty"`
	AdditionalNotes  string  `json:"additional_notes,omitempty"`
	CreatedAt        string  `json:"created_at"`
	UpdatedAt        string  `json:"updated_at"`
}

// Milestone represents a ledger entry, fixed-price or timesheet.
type Milestone struct {
	ID              string  `json:"id"`
	ConversationID  string  `json:"conversation_id"`
	Title           string  `json:"title"`
	Description     string  `json:"description,omitempty"`
	Amount          float64 `json:"amount"`
	Status          string  `json:"status"`
	DueDate         string  `json:"due_date,omitempty"`
	IsTimesheet     bool    `json:"is_timesheet"`
	HoursWorked     float64 `json:"hours_worked,omitempty"`
	PaymentProofRef string  `json:"payment_proof_ref,omitempty"`
	CreatedAt       string  `json:"created_at"`
}

// Event represents a log entry.
type Event struct {
	ID             int64          `json:"id"`
	TS             string         `json:"ts"`
	Type           string         `json:"type"`
	ConversationID string         `json:"conversation_id"`
	EntityKind     string         `json:"entity_kind"`
	EntityID       string         `json:"entity_id"`
	ActorID        string         `json:"actor_id"`
	Payload        map[string]any `json:"payload"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedMessages wraps message listings with cursors.
type PaginatedMessages struct {
	Items      []Message `json:"items"`
	NextCursor string    `json:"next_cursor"`
}

// PaginatedEvents wraps event listings with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor int64   `json:"next_cursor"`
}

// OpenConversation opens (or fetches) the conversation for a job and proposal.
func (c *Client) OpenConversation(ctx context.Context, jobID, proposalID, jobOwnerID, proposalOwnerID string) (Conversation, error) {
	body := map[string]any{
		"job_id":            jobID,
		"proposal_id":       proposalID,
		"job_owner_id":      jobOwnerID,
		"proposal_owner_id": proposalOwnerID,
	}
	var resp Conversation
	err := c.do(ctx, http.MethodPost, "v0/conversations", body, &resp)
	return resp, err
}

// SendMessage posts a message to a conversation.
func (c *Client) SendMessage(ctx context.Context, conversationID, content string) (Message, error) {
	body := map[string]any{"content": content}
	var resp Message
	endpoint := fmt.Sprintf("v0/conversations/%s/messages", url.PathEscape(conversationID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// Messages returns a page of conversation history, oldest first.
func (c *Client) Messages(ctx context.Context, conversationID string, limit int, cursor string) (PaginatedMessages, error) {
	endpoint := fmt.Sprintf("v0/conversations/%s/messages", url.PathEscape(conversationID))
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", limit))
	}
	if cursor != "" {
		params.Set("cursor", cursor)
	}
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	var resp PaginatedMessages
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// MarkRead marks the counterparty's messages as read and returns the count.
func (c *Client) MarkRead(ctx context.Context, conversationID string) (int64, error) {
	var resp struct {
		Marked int64 `json:"marked"`
	}
	endpoint := fmt.Sprintf("v0/conversations/%s/read", url.PathEscape(conversationID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp.Marked, err
}

// ProposeAgreement proposes terms for a conversation.
func (c *Client) ProposeAgreement(ctx context.Context, conversationID string, terms map[string]any) (Agreement, error) {
	var resp Agreement
	endpoint := fmt.Sprintf("v0/conversations/%s/agreement", url.PathEscape(conversationID))
	err := c.do(ctx, http.MethodPost, endpoint, terms, &resp)
	return resp, err
}

// ConfirmAgreement confirms an agreement as the counterparty.
func (c *Client) ConfirmAgreement(ctx context.Context, agreementID string) (Agreement, error) {
	var resp Agreement
	endpoint := fmt.Sprintf("v0/agreements/%s/confirm", url.PathEscape(agreementID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// CreateMilestone plans a fixed-price milestone.
func (c *Client) CreateMilestone(ctx context.Context, conversationID, title string, amount float64, dueDate string) (Milestone, error) {
	body := map[string]any{
		"title":    title,
		"amount":   amount,
		"due_date": dueDate,
	}
	var resp Milestone
	endpoint := fmt.Sprintf("v0/conversations/%s/milestones", url.PathEscape(conversationID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// TransitionMilestone applies a lifecycle action: accept, decline,
// complete, or confirm-received.
func (c *Client) TransitionMilestone(ctx context.Context, milestoneID, action string) (Milestone, error) {
	var resp Milestone
	endpoint := fmt.Sprintf("v0/milestones/%s/%s", url.PathEscape(milestoneID), url.PathEscape(action))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// ReleasePayment releases a completed milestone's payment with proof.
func (c *Client) ReleasePayment(ctx context.Context, milestoneID, proofRef string) (Milestone, error) {
	body := map[string]any{"proof_ref": proofRef}
	var resp Milestone
	endpoint := fmt.Sprintf("v0/milestones/%s/release", url.PathEscape(milestoneID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// Milestones lists a conversation's ledger.
func (c *Client) Milestones(ctx context.Context, conversationID, status string) ([]Milestone, error) {
	endpoint := fmt.Sprintf("v0/conversations/%s/milestones", url.PathEscape(conversationID))
	if status != "" {
		endpoint += "?status=" + url.QueryEscape(status)
	}
	var resp []Milestone
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, 0)
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor int64) (PaginatedEvents, error) {
	endpoint := "v0/events"
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", limit))
	}
	if cursor > 0 {
		params.Set("cursor", fmt.Sprintf("%d", cursor))
	}
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	case c.ActorID != "":
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
