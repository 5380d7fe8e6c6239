package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/soyeahso/livedesk/internal/domain"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const conversationColumns = `id, org_id, source_url, client_ip, name, email, status, assignment, category,
	identity_stage, pending_message, escalated, summary, created_at, last_activity_at, ended_at, ended_by`

// CreateConversation inserts a new conversation.
func (db *DB) CreateConversation(ctx context.Context, c *domain.Conversation) error {
	if err := c.Validate(); err != nil {
		return err
	}
	_, err := db.sql.ExecContext(ctx,
		`INSERT INTO conversations (`+conversationColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.OrgID, c.SourceURL, c.ClientIP, c.Name, c.Email,
		string(c.Status), c.Assignment, string(c.Category),
		string(c.IdentityStage), c.PendingMessage, c.Escalated, c.Summary,
		FormatTime(c.CreatedAt), FormatTime(c.LastActivityAt), nullTime(c), c.EndedBy,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("conversation %s: %w", c.ID, ErrDuplicate)
		}
		return fmt.Errorf("inserting conversation: %w", err)
	}
	return nil
}

// GetConversation loads a conversation by id.
func (db *DB) GetConversation(ctx context.Context, id string) (*domain.Conversation, error) {
	row := db.sql.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id)
	c, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading conversation: %w", err)
	}
	return c, nil
}

// UpdateConversation overwrites the mutable fields of a conversation.
func (db *DB) UpdateConversation(ctx context.Context, c *domain.Conversation) error {
	if err := c.Validate(); err != nil {
		return err
	}
	res, err := db.sql.ExecContext(ctx,
		`UPDATE conversations SET
		   name = ?, email = ?, status = ?, assignment = ?, category = ?,
		   identity_stage = ?, pending_message = ?, escalated = ?, summary = ?,
		   last_activity_at = ?, ended_at = ?, ended_by = ?
		 WHERE id = ?`,
		c.Name, c.Email, string(c.Status), c.Assignment, string(c.Category),
		string(c.IdentityStage), c.PendingMessage, c.Escalated, c.Summary,
		FormatTime(c.LastActivityAt), nullTime(c), c.EndedBy,
		c.ID,
	)
	if err != nil {
		return fmt.Errorf("updating conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("conversation %s: %w", c.ID, ErrNotFound)
	}
	return nil
}

// ListConversations returns conversations by most recent activity.
func (db *DB) ListConversations(ctx context.Context, f ConversationFilter) ([]*domain.Conversation, error) {
	var where []string
	var args []any
	if f.OrgID != "" {
		where = append(where, "org_id = ?")
		args = append(args, f.OrgID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}

	q := `SELECT ` + conversationColumns + ` FROM conversations`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY last_activity_at DESC`
	if f.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := db.sql.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	defer rows.Close()

	var out []*domain.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanConversation(s scanner) (*domain.Conversation, error) {
	var c domain.Conversation
	var status, category, stage, createdAt, lastActivity string
	var endedAt sql.NullString
	if err := s.Scan(
		&c.ID, &c.OrgID, &c.SourceURL, &c.ClientIP, &c.Name, &c.Email,
		&status, &c.Assignment, &category, &stage, &c.PendingMessage,
		&c.Escalated, &c.Summary, &createdAt, &lastActivity, &endedAt, &c.EndedBy,
	); err != nil {
		return nil, err
	}
	c.Status = domain.Status(status)
	c.Category = domain.Category(category)
	c.IdentityStage = domain.IdentityStage(stage)
	c.CreatedAt, _ = ParseTime(createdAt)
	c.LastActivityAt, _ = ParseTime(lastActivity)
	if endedAt.Valid {
		t, err := ParseTime(endedAt.String)
		if err == nil {
			c.EndedAt = &t
		}
	}
	return &c, nil
}

func nullTime(c *domain.Conversation) sql.NullString {
	if c.EndedAt == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: FormatTime(*c.EndedAt), Valid: true}
}

// isUniqueViolation reports a primary key or UNIQUE index conflict.
func isUniqueViolation(err error) bool {
	var serr *sqlite.Error
	if !errors.As(err, &serr) {
		return false
	}
	switch serr.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	}
	return false
}
