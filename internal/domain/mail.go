package domain

import (
	"errors"
	"time"
)

// ErrReplyApplied reports a mail reply whose dedup key is already stored.
var ErrReplyApplied = errors.New("mail reply already applied")

// MailReply is a reply reconciled from the mailbox channel.
type MailReply struct {
	ConversationID string    `json:"conversationId"`
	OrgID          string    `json:"orgId"`
	From           string    `json:"from"`
	Subject        string    `json:"subject,omitempty"`
	Body           string    `json:"body"`
	ReceivedAt     time.Time `json:"receivedAt"`
	DedupKey       string    `json:"dedupKey"` // mail Message-ID
	Strategy       string    `json:"strategy"` // which token extraction matched
}
