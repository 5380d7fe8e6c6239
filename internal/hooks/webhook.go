package hooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/soyeahso/livedesk/internal/config"
	"github.com/soyeahso/livedesk/internal/version"
)

const defaultWebhookTimeout = 10 * time.Second

// SignatureHeader carries "sha256=<hex hmac of body>" when a secret is set.
const SignatureHeader = "X-Livedesk-Signature"

// Sign returns the SignatureHeader value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Webhook returns a handler that POSTs the payload as JSON to entry.URL.
// Non-2xx responses are reported as errors; there is no retry.
func Webhook(client *http.Client, entry config.HookEntry) Handler {
	if client == nil {
		client = http.DefaultClient
	}
	timeout := time.Duration(entry.Timeout) * time.Millisecond
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	return func(ctx context.Context, p Payload) error {
		body, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("encoding payload: %w", err)
		}

		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, entry.URL, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("building request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", version.UserAgent())
		req.Header.Set("X-Livedesk-Event", p.Event)
		req.Header.Set("X-Livedesk-Delivery", p.ID)
		if entry.Secret != "" {
			req.Header.Set(SignatureHeader, Sign(entry.Secret, body))
		}

		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("posting webhook: %w", err)
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return fmt.Errorf("webhook %s returned %d", entry.URL, resp.StatusCode)
		}
		return nil
	}
}

// RegisterWebhooks subscribes every configured webhook and returns how many
// were registered.
func RegisterWebhooks(m *Manager, cfg config.HooksConfig, client *http.Client) int {
	n := 0
	for event, entries := range map[string][]config.HookEntry{
		EventConversationEnded: cfg.ConversationEnded,
		EventTicketCreated:     cfg.TicketCreated,
	} {
		for _, e := range entries {
			m.On(event, "webhook:"+e.URL, Webhook(client, e))
			n++
		}
	}
	return n
}
