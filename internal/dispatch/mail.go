package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/soyeahso/livedesk/internal/apperr"
	"github.com/soyeahso/livedesk/internal/domain"
	"github.com/soyeahso/livedesk/internal/hooks"
	"github.com/soyeahso/livedesk/internal/store"
)

// IngestMailReply appends a visitor's mail reply to its conversation. A
// reply whose dedup key is already stored is left alone and reported as
// domain.ErrReplyApplied. Replies are accepted
// on ended conversations too; they are never auto-answered.
func (e *Engine) IngestMailReply(ctx context.Context, r domain.MailReply) error {
	if clean(r.Body) == "" {
		return apperr.Invalid("mail reply body is empty")
	}
	if r.DedupKey == "" {
		return apperr.Invalid("mail reply has no dedup key")
	}

	unlock := e.locks.Lock(r.ConversationID)
	defer unlock()

	conv, err := e.load(ctx, r.ConversationID)
	if err != nil {
		return err
	}
	if r.OrgID != "" && conv.OrgID != r.OrgID {
		return apperr.Invalid("conversation %s does not belong to org %s", conv.ID, r.OrgID)
	}

	msg, err := e.persist(ctx, conv, domain.Message{
		Role:     domain.RoleVisitor,
		Sender:   r.From,
		Body:     clean(r.Body),
		Kind:     domain.KindMailReply,
		DedupKey: r.DedupKey,
	})
	if errors.Is(err, store.ErrDuplicate) {
		e.log.Debug().Str("conversation", conv.ID).Str("dedupKey", r.DedupKey).Msg("mail reply already applied")
		return fmt.Errorf("conversation %s: %w", conv.ID, domain.ErrReplyApplied)
	}
	if err != nil {
		return err
	}
	if err := e.save(ctx, conv); err != nil {
		return err
	}
	unlock()

	e.log.Info().Str("conversation", conv.ID).Str("from", r.From).Str("strategy", r.Strategy).Msg("mail reply merged")
	e.publish(conv, domain.NewMessageEvent(msg))
	e.notifyAgents(domain.Notification{
		Type:           domain.NotifyMailReply,
		ConversationID: conv.ID,
		Text:           "New mail reply from " + r.From,
	})
	e.hooks.EmitAsync(ctx, hooks.EventMessageReceived, map[string]any{
		"conversationId": conv.ID,
		"orgId":          conv.OrgID,
		"role":           string(msg.Role),
		"kind":           string(msg.Kind),
		"body":           msg.Body,
	})
	return nil
}
