// Package responder is the client for the external answer-generation
// service. It produces automated answers while no agent is present and
// summaries once a conversation ends.
package responder

import (
	"context"
	"errors"

	"github.com/soyeahso/livedesk/internal/config"
)

// ErrNotConfigured is returned when no responder endpoint is set.
var ErrNotConfigured = errors.New("responder: endpoint not configured")

// Turn is one prior message handed to the responder as context.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// AnswerRequest is the input to GenerateAnswer.
type AnswerRequest struct {
	Message        string       `json:"message"`
	OrgID          string       `json:"orgId"`
	AIOrgID        string       `json:"aiOrgId,omitempty"`
	ConversationID string       `json:"conversationId"`
	FAQs           []config.FAQ `json:"faqs,omitempty"`
	History        []Turn       `json:"history,omitempty"`
}

// Answer is the responder's reply. Question is an optional follow-up the
// widget offers as a quick reply; TicketSignal asks for escalation.
type Answer struct {
	Answer       string `json:"answer"`
	Question     string `json:"question,omitempty"`
	TicketSignal bool   `json:"ticketSignal,omitempty"`
}

// SummaryRequest is the input to Summarize.
type SummaryRequest struct {
	ConversationID string `json:"conversationId"`
	OrgID          string `json:"orgId"`
	AIOrgID        string `json:"aiOrgId,omitempty"`
	Transcript     []Turn `json:"transcript"`
}

// Client generates answers and summaries.
type Client interface {
	GenerateAnswer(ctx context.Context, req AnswerRequest) (*Answer, error)
	Summarize(ctx context.Context, req SummaryRequest) (string, error)
	Name() string
}

// New returns an HTTP client for cfg, or a client that always fails with
// ErrNotConfigured when no endpoint is set.
func New(cfg config.ResponderConfig) Client {
	if cfg.Endpoint == "" {
		return unconfigured{}
	}
	return NewHTTPClient(cfg)
}

type unconfigured struct{}

func (unconfigured) GenerateAnswer(context.Context, AnswerRequest) (*Answer, error) {
	return nil, ErrNotConfigured
}

func (unconfigured) Summarize(context.Context, SummaryRequest) (string, error) {
	return "", ErrNotConfigured
}

func (unconfigured) Name() string { return "none" }
