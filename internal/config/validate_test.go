package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func issuePaths(issues []ValidationIssue) []string {
	var paths []string
	for _, i := range issues {
		paths = append(paths, i.Path)
	}
	return paths
}

func TestValidate_ValidDefaults(t *testing.T) {
	cfg := Defaults()
	assert.Empty(t, Validate(&cfg))
}

func TestValidate_InvalidPort(t *testing.T) {
	for _, port := range []int{-1, 65536, 99999} {
		cfg := Defaults()
		cfg.Gateway.Port = port
		issues := Validate(&cfg)
		require.Len(t, issues, 1)
		assert.Equal(t, "gateway.port", issues[0].Path)
	}
}

func TestValidate_InvalidBind(t *testing.T) {
	cfg := Defaults()
	cfg.Gateway.Bind = "tailnet"
	assert.Equal(t, []string{"gateway.bind"}, issuePaths(Validate(&cfg)))
}

func TestValidate_CustomBindRequiresHost(t *testing.T) {
	cfg := Defaults()
	cfg.Gateway.Bind = "custom"
	assert.Equal(t, []string{"gateway.customBindHost"}, issuePaths(Validate(&cfg)))

	cfg.Gateway.CustomBindHost = "10.0.0.5"
	assert.Empty(t, Validate(&cfg))
}

func TestValidate_InvalidAuthMode(t *testing.T) {
	cfg := Defaults()
	cfg.Gateway.Auth.Mode = "oauth"
	assert.Equal(t, []string{"gateway.auth.mode"}, issuePaths(Validate(&cfg)))
}

func TestValidate_LogLevels(t *testing.T) {
	for _, level := range []string{"silent", "fatal", "error", "warn", "info", "debug", "trace"} {
		cfg := Defaults()
		cfg.Logging.Level = level
		assert.Empty(t, Validate(&cfg), level)
	}

	cfg := Defaults()
	cfg.Logging.Level = "verbose"
	assert.Equal(t, []string{"logging.level"}, issuePaths(Validate(&cfg)))
}

func TestValidate_InvalidConsoleStyle(t *testing.T) {
	cfg := Defaults()
	cfg.Logging.ConsoleStyle = "fancy"
	assert.Equal(t, []string{"logging.consoleStyle"}, issuePaths(Validate(&cfg)))
}

func TestValidate_Store(t *testing.T) {
	cfg := Defaults()
	cfg.Store.Driver = "mysql"
	assert.Equal(t, []string{"store.driver"}, issuePaths(Validate(&cfg)))

	cfg = Defaults()
	cfg.Store.Driver = "postgres"
	assert.Equal(t, []string{"store.dsn"}, issuePaths(Validate(&cfg)))

	cfg.Store.DSN = "postgres://localhost/livedesk"
	assert.Empty(t, Validate(&cfg))
}

func TestValidate_ResponderEndpoint(t *testing.T) {
	cfg := Defaults()
	cfg.Responder.Endpoint = "not a url"
	assert.Equal(t, []string{"responder.endpoint"}, issuePaths(Validate(&cfg)))

	cfg.Responder.Endpoint = "https://answers.example.com/v1"
	assert.Empty(t, Validate(&cfg))
}

func TestValidate_MailboxInterval(t *testing.T) {
	cfg := Defaults()
	cfg.Mailbox.IntervalSeconds = 30
	assert.Equal(t, []string{"mailbox.intervalSeconds"}, issuePaths(Validate(&cfg)))

	cfg.Mailbox.IntervalSeconds = 60
	assert.Empty(t, Validate(&cfg))
}

func TestValidate_DedupBackend(t *testing.T) {
	cfg := Defaults()
	cfg.Mailbox.Dedup.Backend = "memcached"
	assert.Equal(t, []string{"mailbox.dedup.backend"}, issuePaths(Validate(&cfg)))

	cfg.Mailbox.Dedup.Backend = "redis"
	assert.Equal(t, []string{"mailbox.dedup.redis.addr"}, issuePaths(Validate(&cfg)))

	cfg.Mailbox.Dedup.Redis.Addr = "localhost:6379"
	assert.Empty(t, Validate(&cfg))
}

func TestValidate_Organizations(t *testing.T) {
	cfg := Defaults()
	cfg.Organizations = []OrganizationConfig{
		{ID: "acme"},
		{ID: "acme"},
		{},
	}
	paths := issuePaths(Validate(&cfg))
	assert.Equal(t, []string{"organizations[1].id", "organizations[2].id"}, paths)
}

func TestValidate_OrganizationOrigins(t *testing.T) {
	cfg := Defaults()
	cfg.Organizations = []OrganizationConfig{{
		ID:             "acme",
		AllowedOrigins: []string{"https://shop.example", "shop.example", "https://shop.example/widget"},
	}}
	paths := issuePaths(Validate(&cfg))
	assert.Equal(t, []string{"organizations[0].allowedOrigins[1]", "organizations[0].allowedOrigins[2]"}, paths)
}

func TestValidate_OrganizationMail(t *testing.T) {
	cfg := Defaults()
	cfg.Organizations = []OrganizationConfig{{
		ID: "acme",
		Mail: MailConfig{
			SMTP: &SMTPConfig{},
			IMAP: &IMAPConfig{Port: 70000},
		},
	}}
	paths := issuePaths(Validate(&cfg))
	assert.Contains(t, paths, "organizations[0].mail.smtp.host")
	assert.Contains(t, paths, "organizations[0].mail.fromAddress")
	assert.Contains(t, paths, "organizations[0].mail.imap.host")
	assert.Contains(t, paths, "organizations[0].mail.imap.username")
	assert.Contains(t, paths, "organizations[0].mail.imap.port")
}

func TestValidate_OrganizationBadFromAddress(t *testing.T) {
	cfg := Defaults()
	cfg.Organizations = []OrganizationConfig{{
		ID:   "acme",
		Mail: MailConfig{FromAddress: "not-an-address"},
	}}
	assert.Equal(t, []string{"organizations[0].mail.fromAddress"}, issuePaths(Validate(&cfg)))
}

func TestValidate_Hooks(t *testing.T) {
	cfg := Defaults()
	cfg.Hooks.ConversationEnded = []HookEntry{{URL: "https://crm.example.com/hook"}, {}}
	cfg.Hooks.TicketCreated = []HookEntry{{}}
	assert.Equal(t, []string{"hooks.conversationEnded[1].url", "hooks.ticketCreated[0].url"}, issuePaths(Validate(&cfg)))
}

func TestValidate_MultipleIssues(t *testing.T) {
	cfg := Defaults()
	cfg.Gateway.Port = -1
	cfg.Logging.Level = "bogus"
	cfg.Store.Driver = "bogus"
	assert.Len(t, Validate(&cfg), 3)
}

func TestValidationIssueString(t *testing.T) {
	issue := ValidationIssue{Path: "gateway.port", Message: "port must be 0-65535, got -1"}
	assert.Equal(t, "gateway.port: port must be 0-65535, got -1", issue.String())
}
