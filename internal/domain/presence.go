package domain

import "time"

// AgentPresence is an ephemeral record of a connected human agent.
type AgentPresence struct {
	AgentID string    `json:"id"`
	Name    string    `json:"name"`
	ConnID  string    `json:"-"`
	Since   time.Time `json:"since"`
}
