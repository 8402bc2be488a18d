package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"gigline/internal/domain"
	"gigline/internal/events"
	"gigline/internal/repo"
)

const maxMessageLength = 4000

// SendMessage persists a human message under the permission gate. The
// gate is computed from the message history inside the transaction, not
// from cached state: while no non-system message exists, only the job
// owner may send; the first such message opens the conversation for good.
func (e Engine) SendMessage(ctx context.Context, conversationID, senderID, body string) (domain.Message, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return domain.Message{}, validationErrorf("message body is required")
	}
	if len(body) > maxMessageLength {
		return domain.Message{}, validationErrorf("message exceeds %d characters", maxMessageLength)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Message{}, err
	}
	defer tx.Rollback()

	conv, err := e.Repo.GetConversation(ctx, tx, conversationID)
	if err != nil {
		return domain.Message{}, err
	}
	role, err := participantRole(conv, senderID)
	if err != nil {
		return domain.Message{}, err
	}
	if role == "worker" && !conv.IsActive {
		return domain.Message{}, ErrConversationClosed
	}
	humanCount, err := e.Repo.CountHumanMessages(ctx, tx, conversationID)
	if err != nil {
		return domain.Message{}, err
	}
	if humanCount == 0 && role != "owner" {
		return domain.Message{}, ErrAwaitingOpening
	}

	m := domain.Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        body,
		CreatedAt:      e.nowStr(),
	}
	if err := e.Repo.InsertMessage(ctx, tx, m); err != nil {
		return domain.Message{}, fmt.Errorf("insert message: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "message.sent", conversationID, "message", m.ID, senderID, events.EventPayload{
		"gate_opened": humanCount == 0,
	}); err != nil {
		return domain.Message{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Message{}, err
	}
	e.notify([]domain.Message{m})
	return m, nil
}

// ListMessages returns the conversation history in creation order,
// subject to the visibility rule.
func (e Engine) ListMessages(ctx context.Context, conversationID, actorID string, f repo.MessageFilters) ([]domain.Message, error) {
	if _, err := e.GetConversation(ctx, conversationID, actorID); err != nil {
		return nil, err
	}
	f.ConversationID = conversationID
	return e.Repo.ListMessages(ctx, f)
}

// MarkRead flags the counterparty's messages as read. Best effort: the
// caller may log a failure but delivery never depends on it.
func (e Engine) MarkRead(ctx context.Context, conversationID, readerID string) (int64, error) {
	conv, err := e.Repo.GetConversation(ctx, nil, conversationID)
	if err != nil {
		return 0, err
	}
	if _, err := participantRole(conv, readerID); err != nil {
		return 0, err
	}
	return e.Repo.MarkMessagesRead(ctx, conversationID, readerID)
}

// systemMessage appends a workflow-authored narration to the conversation
// within the caller's transaction. Returned for post-commit notification.
func (e Engine) systemMessage(ctx context.Context, tx *sql.Tx, conversationID, actorID, text string) (domain.Message, error) {
	m := domain.Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		SenderID:       actorID,
		Content:        text,
		IsSystem:       true,
		CreatedAt:      e.nowStr(),
	}
	if err := e.Repo.InsertMessage(ctx, tx, m); err != nil {
		return domain.Message{}, fmt.Errorf("insert system message: %w", err)
	}
	return m, nil
}
