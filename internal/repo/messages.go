package repo

import (
	"context"
	"database/sql"
	"strings"

	"gigline/internal/domain"
)

func (r Repo) InsertMessage(ctx context.Context, tx *sql.Tx, m domain.Message) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO messages(id,conversation_id,sender_id,content,is_system,read,created_at) VALUES (?,?,?,?,?,?,?)`,
		m.ID, m.ConversationID, m.SenderID, m.Content, boolToInt(m.IsSystem), boolToInt(m.Read), m.CreatedAt)
	return err
}

func (r Repo) GetMessage(ctx context.Context, id string) (domain.Message, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,conversation_id,sender_id,content,is_system,read,created_at FROM messages WHERE id=?`, id)
	return scanMessage(row)
}

func scanMessage(row *sql.Row) (domain.Message, error) {
	var m domain.Message
	var isSystem, read int
	err := row.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &isSystem, &read, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	m.IsSystem = isSystem != 0
	m.Read = read != 0
	return m, err
}

// CountHumanMessages counts non-system messages; zero means the
// conversation is still awaiting the job owner's opening message.
func (r Repo) CountHumanMessages(ctx context.Context, tx *sql.Tx, conversationID string) (int, error) {
	var n int
	err := r.q(tx).QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE conversation_id=? AND is_system=0`, conversationID).Scan(&n)
	return n, err
}

type MessageFilters struct {
	ConversationID  string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

// ListMessages returns messages in creation order (ascending, stable by id).
func (r Repo) ListMessages(ctx context.Context, f MessageFilters) ([]domain.Message, error) {
	clauses := []string{"conversation_id=?"}
	args := []any{f.ConversationID}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at > ? OR (created_at = ? AND id > ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := `SELECT id,conversation_id,sender_id,content,is_system,read,created_at FROM messages ` + where + ` ORDER BY created_at ASC, id ASC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Message
	for rows.Next() {
		var m domain.Message
		var isSystem, read int
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &isSystem, &read, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.IsSystem = isSystem != 0
		m.Read = read != 0
		res = append(res, m)
	}
	return res, rows.Err()
}

// MarkMessagesRead flags messages not authored by the reader as read.
func (r Repo) MarkMessagesRead(ctx context.Context, conversationID, readerID string) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `UPDATE messages SET read=1 WHERE conversation_id=? AND sender_id<>? AND read=0`, conversationID, readerID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
