package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/soyeahso/livedesk/internal/domain"
)

// PersistMessage appends a message to its conversation.
func (db *DB) PersistMessage(ctx context.Context, m *domain.Message) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.Kind == "" {
		m.Kind = domain.KindText
	}

	var dedup sql.NullString
	if m.DedupKey != "" {
		dedup = sql.NullString{String: m.DedupKey, Valid: true}
	}
	created := FormatTime(m.CreatedAt)

	tx, err := db.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin message insert: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE conversations SET last_activity_at = MAX(last_activity_at, ?) WHERE id = ?`,
		created, m.ConversationID)
	if err != nil {
		return fmt.Errorf("touching conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("conversation %s: %w", m.ConversationID, ErrNotFound)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, role, sender, body, kind, attachment, dedup_key, seen, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ConversationID, string(m.Role), m.Sender, m.Body, string(m.Kind),
		m.Attachment, dedup, m.Seen, created,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("message %s: %w", m.ID, ErrDuplicate)
		}
		return fmt.Errorf("inserting message: %w", err)
	}
	return tx.Commit()
}

// ListMessages returns a conversation's messages oldest first.
func (db *DB) ListMessages(ctx context.Context, conversationID string, limit int) ([]domain.Message, error) {
	const cols = `seq, id, conversation_id, role, sender, body, kind, attachment, COALESCE(dedup_key, ''), seen, created_at`
	var rows *sql.Rows
	var err error
	if limit > 0 {
		rows, err = db.sql.QueryContext(ctx,
			`SELECT * FROM (
			   SELECT `+cols+` FROM messages WHERE conversation_id = ?
			   ORDER BY created_at DESC, seq DESC LIMIT ?
			 ) ORDER BY created_at, seq`, conversationID, limit)
	} else {
		rows, err = db.sql.QueryContext(ctx,
			`SELECT `+cols+` FROM messages WHERE conversation_id = ? ORDER BY created_at, seq`,
			conversationID)
	}
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	defer rows.Close()

	var out []domain.Message
	for rows.Next() {
		var m domain.Message
		var seq int64
		var role, kind, created string
		if err := rows.Scan(&seq, &m.ID, &m.ConversationID, &role, &m.Sender, &m.Body,
			&kind, &m.Attachment, &m.DedupKey, &m.Seen, &created); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		m.Role = domain.Role(role)
		m.Kind = domain.Kind(kind)
		m.CreatedAt, _ = ParseTime(created)
		out = append(out, m)
	}
	return out, rows.Err()
}

// HasMessageKind reports whether the conversation holds a message of kind.
func (db *DB) HasMessageKind(ctx context.Context, conversationID string, kind domain.Kind) (bool, error) {
	var n int
	err := db.sql.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE conversation_id = ? AND kind = ?`,
		conversationID, string(kind)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("counting messages: %w", err)
	}
	return n > 0, nil
}

// MarkSeen flags messages not written by reader as seen.
func (db *DB) MarkSeen(ctx context.Context, conversationID string, reader domain.Role) (int, error) {
	res, err := db.sql.ExecContext(ctx,
		`UPDATE messages SET seen = 1 WHERE conversation_id = ? AND role != ? AND seen = 0`,
		conversationID, string(reader))
	if err != nil {
		return 0, fmt.Errorf("marking seen: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
