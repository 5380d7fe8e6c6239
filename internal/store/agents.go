package store

import (
	"context"
	"fmt"
	"time"
)

// SetAgentOnline upserts the agent's online flag.
func (db *DB) SetAgentOnline(ctx context.Context, agentID, name string, online bool) error {
	_, err := db.sql.ExecContext(ctx,
		`INSERT INTO agents (id, name, online, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   name = CASE WHEN excluded.name != '' THEN excluded.name ELSE agents.name END,
		   online = excluded.online,
		   updated_at = excluded.updated_at`,
		agentID, name, online, FormatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("updating agent %s: %w", agentID, err)
	}
	return nil
}

// ListOnlineAgents returns the ids mirrored as online.
func (db *DB) ListOnlineAgents(ctx context.Context) ([]string, error) {
	rows, err := db.sql.QueryContext(ctx, `SELECT id FROM agents WHERE online = 1 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing agents: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ResetAgents clears every online flag. Presence is not durable, so a fresh
// process starts with nobody online.
func (db *DB) ResetAgents(ctx context.Context) error {
	_, err := db.sql.ExecContext(ctx, `UPDATE agents SET online = 0`)
	return err
}
