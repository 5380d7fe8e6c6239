package mailbox

import (
	"regexp"
	"strings"
)

// Strategies name which part of a message carried the conversation token.
const (
	StrategySubject = "subject"
	StrategyReplyTo = "reply-headers"
	StrategyHeader  = "custom-header"
)

var (
	subjectToken = regexp.MustCompile(`\[Thread #([A-Za-z0-9_-]+)\]`)
	replyToken   = regexp.MustCompile(`<conv-([A-Za-z0-9_-]+)\.[^@>\s]+@[^>\s]+>`)
	headerToken  = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

	// "On Tue, 3 Mar 2026 at 10:00, Acme <support@acme.test> wrote:"
	wroteLine = regexp.MustCompile(`(?i)^on\s.+wrote:\s*$`)
	// Outlook-style separators.
	originalLine = regexp.MustCompile(`(?i)^-{2,}\s*original message\s*-{2,}$`)
)

// ExtractToken finds the conversation id a reply belongs to. Sources are
// tried in order: subject marker, reply-chain headers, custom header.
func ExtractToken(p *Parsed) (id, strategy string, ok bool) {
	if m := subjectToken.FindStringSubmatch(p.Subject); m != nil {
		return m[1], StrategySubject, true
	}
	for _, h := range []string{p.InReplyTo, p.References} {
		if m := replyToken.FindStringSubmatch(h); m != nil {
			return m[1], StrategyReplyTo, true
		}
	}
	if headerToken.MatchString(p.ConvHeader) {
		return p.ConvHeader, StrategyHeader, true
	}
	return "", "", false
}

// ExtractReply returns the new text of a reply, dropping quoted history and
// the signature block.
func ExtractReply(body string) string {
	lines := strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n")

	var out []string
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if line == "-- " || line == "--" {
			break
		}
		if wroteLine.MatchString(trimmed) || originalLine.MatchString(trimmed) {
			break
		}
		// Some clients wrap the attribution line across two lines.
		if strings.HasPrefix(strings.ToLower(trimmed), "on ") && i+1 < len(lines) &&
			wroteLine.MatchString(trimmed+" "+strings.TrimSpace(lines[i+1])) {
			break
		}
		if strings.HasPrefix(trimmed, ">") {
			continue
		}
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
