package mailer

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ConversationHeader carries the conversation id on outbound mail so replies
// from clients that keep custom headers can be matched.
const ConversationHeader = "X-Livedesk-Conversation"

// SubjectMarker returns the subject tag that identifies a conversation.
func SubjectMarker(conversationID string) string {
	return "[Thread #" + conversationID + "]"
}

// NewMessageID returns a Message-ID that encodes the conversation id, so
// In-Reply-To and References on replies point back to it.
func NewMessageID(conversationID, fromAddress string) string {
	domain := "livedesk.local"
	if at := strings.LastIndex(fromAddress, "@"); at >= 0 && at < len(fromAddress)-1 {
		domain = fromAddress[at+1:]
	}
	return fmt.Sprintf("<conv-%s.%s@%s>", conversationID, uuid.NewString(), domain)
}
