package mailbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractToken_Order(t *testing.T) {
	tests := []struct {
		name     string
		p        Parsed
		id       string
		strategy string
		ok       bool
	}{
		{
			name:     "subject wins",
			p:        Parsed{Subject: "Re: hello [Thread #C123]", InReplyTo: "<conv-C999.x@acme.test>", ConvHeader: "C777"},
			id:       "C123",
			strategy: StrategySubject,
			ok:       true,
		},
		{
			name:     "in-reply-to",
			p:        Parsed{Subject: "Re: hello", InReplyTo: "<conv-C123.0c1d-2e@acme.test>"},
			id:       "C123",
			strategy: StrategyReplyTo,
			ok:       true,
		},
		{
			name:     "references",
			p:        Parsed{References: "<abc@mail.x.com> <conv-4f2a-9b.77@acme.test>"},
			id:       "4f2a-9b",
			strategy: StrategyReplyTo,
			ok:       true,
		},
		{
			name:     "custom header",
			p:        Parsed{Subject: "hello", ConvHeader: "C123"},
			id:       "C123",
			strategy: StrategyHeader,
			ok:       true,
		},
		{
			name: "nothing",
			p:    Parsed{Subject: "hello", References: "<abc@mail.x.com>"},
		},
		{
			name: "malformed header",
			p:    Parsed{ConvHeader: "C1 23"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, strategy, ok := ExtractToken(&tt.p)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.id, id)
			assert.Equal(t, tt.strategy, strategy)
		})
	}
}

func TestExtractReply(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "plain",
			body: "Thanks, resolved\n",
			want: "Thanks, resolved",
		},
		{
			name: "quoted lines",
			body: "Sounds good.\n\n> Your order shipped today.\n> Sam\n",
			want: "Sounds good.",
		},
		{
			name: "attribution line",
			body: "Thanks, resolved\n\nOn Tue, 3 Mar 2026 at 10:00, Acme <support@acme.test> wrote:\n> Your order shipped.\n",
			want: "Thanks, resolved",
		},
		{
			name: "wrapped attribution",
			body: "Yes please\nOn Tue, 3 Mar 2026 at 10:00, Acme Support\n<support@acme.test> wrote:\nold text\n",
			want: "Yes please",
		},
		{
			name: "signature",
			body: "Got it\n-- \nJane Doe\nCEO, Example\n",
			want: "Got it",
		},
		{
			name: "outlook separator",
			body: "Fine by me\r\n\r\n-----Original Message-----\r\nFrom: Acme\r\n",
			want: "Fine by me",
		},
		{
			name: "only quotes",
			body: "> hello\n> there\n",
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractReply(tt.body))
		})
	}
}
