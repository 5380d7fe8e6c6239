// Package postgres implements store.Store on PostgreSQL through a pgx pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/soyeahso/livedesk/internal/domain"
	"github.com/soyeahso/livedesk/internal/logging"
	"github.com/soyeahso/livedesk/internal/store"
)

// Store wraps a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
	log  *logging.Logger
}

var _ store.Store = (*Store)(nil)

// Open connects to dsn, verifies the connection, and runs migrations.
func Open(ctx context.Context, dsn string, log *logging.Logger) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres dsn: %w", err)
	}
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	s := &Store{pool: pool, log: log.Sub("store")}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	s.log.Info().Str("host", poolCfg.ConnConfig.Host).Msg("postgres store opened")
	return s, nil
}

// Close releases pool resources.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

var migrations = []struct {
	Version int
	Name    string
	SQL     string
}{
	{1, "create conversations and messages", `
		CREATE TABLE conversations (
			id               TEXT PRIMARY KEY,
			org_id           TEXT NOT NULL,
			source_url       TEXT NOT NULL DEFAULT '',
			client_ip        TEXT NOT NULL DEFAULT '',
			name             TEXT NOT NULL DEFAULT '',
			email            TEXT NOT NULL DEFAULT '',
			status           TEXT NOT NULL DEFAULT 'active',
			assignment       TEXT NOT NULL DEFAULT '',
			category         TEXT NOT NULL DEFAULT 'ai-handled',
			identity_stage   TEXT NOT NULL DEFAULT '',
			pending_message  TEXT NOT NULL DEFAULT '',
			escalated        BOOLEAN NOT NULL DEFAULT FALSE,
			summary          TEXT NOT NULL DEFAULT '',
			created_at       TIMESTAMPTZ NOT NULL,
			last_activity_at TIMESTAMPTZ NOT NULL,
			ended_at         TIMESTAMPTZ,
			ended_by         TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX idx_conversations_org ON conversations (org_id, status);

		CREATE TABLE messages (
			seq             BIGSERIAL PRIMARY KEY,
			id              TEXT NOT NULL UNIQUE,
			conversation_id TEXT NOT NULL REFERENCES conversations(id),
			role            TEXT NOT NULL,
			sender          TEXT NOT NULL DEFAULT '',
			body            TEXT NOT NULL,
			kind            TEXT NOT NULL DEFAULT 'text',
			attachment      TEXT NOT NULL DEFAULT '',
			dedup_key       TEXT UNIQUE,
			seen            BOOLEAN NOT NULL DEFAULT FALSE,
			created_at      TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX idx_messages_conversation ON messages (conversation_id, created_at, seq);
	`},
	{2, "create tickets and agents", `
		CREATE TABLE tickets (
			id              TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL DEFAULT '',
			org_id          TEXT NOT NULL,
			contact_name    TEXT NOT NULL DEFAULT '',
			contact_email   TEXT NOT NULL DEFAULT '',
			contact_phone   TEXT NOT NULL DEFAULT '',
			query           TEXT NOT NULL,
			priority        TEXT NOT NULL DEFAULT 'medium',
			source          TEXT NOT NULL,
			created_at      TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX idx_tickets_conversation ON tickets (conversation_id);

		CREATE TABLE agents (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL DEFAULT '',
			online     BOOLEAN NOT NULL DEFAULT FALSE,
			updated_at TIMESTAMPTZ NOT NULL
		);
	`},
}

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`); err != nil {
		return fmt.Errorf("creating migrations table: %w", err)
	}

	for _, m := range migrations {
		var applied bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version = $1)`, m.Version,
		).Scan(&applied); err != nil {
			return fmt.Errorf("checking migration %d: %w", m.Version, err)
		}
		if applied {
			continue
		}

		s.log.Info().Int("version", m.Version).Str("name", m.Name).Msg("applying migration")
		err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, m.SQL); err != nil {
				return fmt.Errorf("migration %d (%s): %w", m.Version, m.Name, err)
			}
			_, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, m.Version)
			return err
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

const conversationColumns = `id, org_id, source_url, client_ip, name, email, status, assignment, category,
	identity_stage, pending_message, escalated, summary, created_at, last_activity_at, ended_at, ended_by`

// CreateConversation implements store.Store.
func (s *Store) CreateConversation(ctx context.Context, c *domain.Conversation) error {
	if err := c.Validate(); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO conversations (`+conversationColumns+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		c.ID, c.OrgID, c.SourceURL, c.ClientIP, c.Name, c.Email,
		string(c.Status), c.Assignment, string(c.Category),
		string(c.IdentityStage), c.PendingMessage, c.Escalated, c.Summary,
		c.CreatedAt, c.LastActivityAt, c.EndedAt, c.EndedBy,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("conversation %s: %w", c.ID, store.ErrDuplicate)
		}
		return fmt.Errorf("inserting conversation: %w", err)
	}
	return nil
}

// GetConversation implements store.Store.
func (s *Store) GetConversation(ctx context.Context, id string) (*domain.Conversation, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id = $1`, id)
	c, err := scanConversation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("conversation %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading conversation: %w", err)
	}
	return c, nil
}

// UpdateConversation implements store.Store.
func (s *Store) UpdateConversation(ctx context.Context, c *domain.Conversation) error {
	if err := c.Validate(); err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE conversations SET
		   name = $1, email = $2, status = $3, assignment = $4, category = $5,
		   identity_stage = $6, pending_message = $7, escalated = $8, summary = $9,
		   last_activity_at = $10, ended_at = $11, ended_by = $12
		 WHERE id = $13`,
		c.Name, c.Email, string(c.Status), c.Assignment, string(c.Category),
		string(c.IdentityStage), c.PendingMessage, c.Escalated, c.Summary,
		c.LastActivityAt, c.EndedAt, c.EndedBy, c.ID,
	)
	if err != nil {
		return fmt.Errorf("updating conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("conversation %s: %w", c.ID, store.ErrNotFound)
	}
	return nil
}

// ListConversations implements store.Store.
func (s *Store) ListConversations(ctx context.Context, f store.ConversationFilter) ([]*domain.Conversation, error) {
	var where []string
	var args []any
	if f.OrgID != "" {
		args = append(args, f.OrgID)
		where = append(where, fmt.Sprintf("org_id = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	q := `SELECT ` + conversationColumns + ` FROM conversations`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY last_activity_at DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := s.pool.Query(ctx, q, args...)
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

func scanConversation(row pgx.Row) (*domain.Conversation, error) {
	var c domain.Conversation
	var status, category, stage string
	if err := row.Scan(
		&c.ID, &c.OrgID, &c.SourceURL, &c.ClientIP, &c.Name, &c.Email,
		&status, &c.Assignment, &category, &stage, &c.PendingMessage,
		&c.Escalated, &c.Summary, &c.CreatedAt, &c.LastActivityAt, &c.EndedAt, &c.EndedBy,
	); err != nil {
		return nil, err
	}
	c.Status = domain.Status(status)
	c.Category = domain.Category(category)
	c.IdentityStage = domain.IdentityStage(stage)
	return &c, nil
}

// PersistMessage implements store.Store.
func (s *Store) PersistMessage(ctx context.Context, m *domain.Message) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.Kind == "" {
		m.Kind = domain.KindText
	}
	var dedup *string
	if m.DedupKey != "" {
		dedup = &m.DedupKey
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE conversations SET last_activity_at = GREATEST(last_activity_at, $1) WHERE id = $2`,
			m.CreatedAt, m.ConversationID)
		if err != nil {
			return fmt.Errorf("touching conversation: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("conversation %s: %w", m.ConversationID, store.ErrNotFound)
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO messages (id, conversation_id, role, sender, body, kind, attachment, dedup_key, seen, created_at)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
			m.ID, m.ConversationID, string(m.Role), m.Sender, m.Body, string(m.Kind),
			m.Attachment, dedup, m.Seen, m.CreatedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("message %s: %w", m.ID, store.ErrDuplicate)
			}
			return fmt.Errorf("inserting message: %w", err)
		}
		return nil
	})
}

// ListMessages implements store.Store.
func (s *Store) ListMessages(ctx context.Context, conversationID string, limit int) ([]domain.Message, error) {
	q := `SELECT id, conversation_id, role, sender, body, kind, attachment, COALESCE(dedup_key, ''), seen, created_at
	      FROM messages WHERE conversation_id = $1 ORDER BY created_at DESC, seq DESC`
	args := []any{conversationID}
	if limit > 0 {
		q += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	defer rows.Close()

	var out []domain.Message
	for rows.Next() {
		var m domain.Message
		var role, kind string
		if err := rows.Scan(&m.ID, &m.ConversationID, &role, &m.Sender, &m.Body, &kind,
			&m.Attachment, &m.DedupKey, &m.Seen, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		m.Role = domain.Role(role)
		m.Kind = domain.Kind(kind)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Fetched newest first so LIMIT keeps the tail; flip back to oldest first.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// HasMessageKind implements store.Store.
func (s *Store) HasMessageKind(ctx context.Context, conversationID string, kind domain.Kind) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM messages WHERE conversation_id = $1 AND kind = $2)`,
		conversationID, string(kind)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking message kind: %w", err)
	}
	return exists, nil
}

// MarkSeen implements store.Store.
func (s *Store) MarkSeen(ctx context.Context, conversationID string, reader domain.Role) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE messages SET seen = TRUE WHERE conversation_id = $1 AND role <> $2 AND NOT seen`,
		conversationID, string(reader))
	if err != nil {
		return 0, fmt.Errorf("marking seen: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// CreateTicket implements store.Store.
func (s *Store) CreateTicket(ctx context.Context, t *domain.Ticket) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO tickets (id, conversation_id, org_id, contact_name, contact_email, contact_phone,
		                      query, priority, source, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		t.ID, t.ConversationID, t.OrgID, t.Contact.Name, t.Contact.Email, t.Contact.Phone,
		t.Query, string(t.Priority), string(t.Source), t.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("ticket %s: %w", t.ID, store.ErrDuplicate)
		}
		return fmt.Errorf("inserting ticket: %w", err)
	}
	return nil
}

// ListTickets implements store.Store.
func (s *Store) ListTickets(ctx context.Context, conversationID string) ([]domain.Ticket, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, conversation_id, org_id, contact_name, contact_email, contact_phone,
		        query, priority, source, created_at
		 FROM tickets WHERE conversation_id = $1 ORDER BY created_at, id`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("listing tickets: %w", err)
	}
	defer rows.Close()

	var out []domain.Ticket
	for rows.Next() {
		var t domain.Ticket
		var priority, source string
		if err := rows.Scan(&t.ID, &t.ConversationID, &t.OrgID, &t.Contact.Name, &t.Contact.Email,
			&t.Contact.Phone, &t.Query, &priority, &source, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning ticket: %w", err)
		}
		t.Priority = domain.TicketPriority(priority)
		t.Source = domain.TicketSource(source)
		out = append(out, t)
	}
	return out, rows.Err()
}

// SetAgentOnline implements store.Store.
func (s *Store) SetAgentOnline(ctx context.Context, agentID, name string, online bool) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO agents (id, name, online, updated_at) VALUES ($1, $2, $3, now())
		 ON CONFLICT (id) DO UPDATE SET
		   name = CASE WHEN EXCLUDED.name <> '' THEN EXCLUDED.name ELSE agents.name END,
		   online = EXCLUDED.online,
		   updated_at = EXCLUDED.updated_at`,
		agentID, name, online)
	if err != nil {
		return fmt.Errorf("updating agent %s: %w", agentID, err)
	}
	return nil
}

// ListOnlineAgents implements store.Store.
func (s *Store) ListOnlineAgents(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM agents WHERE online ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing agents: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// ResetAgents implements store.Store.
func (s *Store) ResetAgents(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `UPDATE agents SET online = FALSE`)
	return err
}
