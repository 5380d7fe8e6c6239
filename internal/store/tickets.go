package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/soyeahso/livedesk/internal/domain"
)

// CreateTicket stores a ticket record.
func (db *DB) CreateTicket(ctx context.Context, t *domain.Ticket) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	_, err := db.sql.ExecContext(ctx,
		`INSERT INTO tickets (id, conversation_id, org_id, contact_name, contact_email, contact_phone,
		                      query, priority, source, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.ConversationID, t.OrgID, t.Contact.Name, t.Contact.Email, t.Contact.Phone,
		t.Query, string(t.Priority), string(t.Source), FormatTime(t.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("ticket %s: %w", t.ID, ErrDuplicate)
		}
		return fmt.Errorf("inserting ticket: %w", err)
	}
	return nil
}

// ListTickets returns the tickets raised from a conversation, oldest first.
func (db *DB) ListTickets(ctx context.Context, conversationID string) ([]domain.Ticket, error) {
	rows, err := db.sql.QueryContext(ctx,
		`SELECT id, conversation_id, org_id, contact_name, contact_email, contact_phone,
		        query, priority, source, created_at
		 FROM tickets WHERE conversation_id = ? ORDER BY created_at, id`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("listing tickets: %w", err)
	}
	defer rows.Close()

	var out []domain.Ticket
	for rows.Next() {
		var t domain.Ticket
		var priority, source, created string
		if err := rows.Scan(&t.ID, &t.ConversationID, &t.OrgID, &t.Contact.Name, &t.Contact.Email,
			&t.Contact.Phone, &t.Query, &priority, &source, &created); err != nil {
			return nil, fmt.Errorf("scanning ticket: %w", err)
		}
		t.Priority = domain.TicketPriority(priority)
		t.Source = domain.TicketSource(source)
		t.CreatedAt, _ = ParseTime(created)
		out = append(out, t)
	}
	return out, rows.Err()
}
