package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	assert.Equal(t, DefaultPort, cfg.Gateway.Port)
	assert.Equal(t, "loopback", cfg.Gateway.Bind)
	assert.Equal(t, "token", cfg.Gateway.Auth.Mode)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, 120, cfg.Mailbox.IntervalSeconds)
	assert.Equal(t, 10, cfg.Mailbox.IOTimeoutSeconds)
	assert.Equal(t, "memory", cfg.Mailbox.Dedup.Backend)
	assert.NotEmpty(t, cfg.Dispatch.HandoffNotice)
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.yaml")
	require.NoError(t, err)
	// Should return defaults
	assert.Equal(t, DefaultPort, cfg.Gateway.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadValidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	yaml := `
gateway:
  port: 9999
  bind: lan
  auth:
    mode: token
    token: secret123
logging:
  level: debug
  consoleStyle: json
store:
  driver: memory
mailbox:
  enabled: true
  intervalSeconds: 300
organizations:
  - id: acme
    name: Acme Inc
    aiOrgId: ai-acme
    collectIdentity: true
    faqs:
      - question: Do you ship abroad?
        answer: Yes, worldwide.
    mail:
      fromAddress: support@acme.test
      smtp:
        host: smtp.acme.test
      imap:
        host: imap.acme.test
        username: support@acme.test
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Gateway.Port)
	assert.Equal(t, "lan", cfg.Gateway.Bind)
	assert.Equal(t, "secret123", cfg.Gateway.Auth.Token)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.ConsoleStyle)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.True(t, cfg.Mailbox.Enabled)
	assert.Equal(t, 300, cfg.Mailbox.IntervalSeconds)
	assert.Equal(t, DefaultLookbackHours, cfg.Mailbox.LookbackHours)

	require.Len(t, cfg.Organizations, 1)
	org := cfg.Organizations[0]
	assert.Equal(t, "acme", org.ID)
	assert.Equal(t, "ai-acme", org.AIOrgID)
	assert.True(t, org.CollectIdentity)
	require.Len(t, org.FAQs, 1)
	assert.Equal(t, "Yes, worldwide.", org.FAQs[0].Answer)

	require.NotNil(t, org.Mail.SMTP)
	assert.Equal(t, 587, org.Mail.SMTP.Port)
	require.NotNil(t, org.Mail.IMAP)
	assert.Equal(t, 993, org.Mail.IMAP.Port)
	assert.Equal(t, "INBOX", org.Mail.IMAP.Mailbox)
	assert.True(t, org.Mail.IMAP.UseTLS())
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{{invalid yaml"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config")
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("LIVEDESK_GATEWAY_PORT", "12345")
	t.Setenv("LIVEDESK_LOG_LEVEL", "TRACE")
	t.Setenv("LIVEDESK_STORE_DRIVER", "Memory")
	t.Setenv("LIVEDESK_AUTORESTART", "1")

	cfg, err := Load("/nonexistent/config.yaml")
	require.NoError(t, err)

	assert.Equal(t, 12345, cfg.Gateway.Port)
	assert.Equal(t, "trace", cfg.Logging.Level)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.True(t, cfg.Dev.AutoRestart)
}

func TestLoadExpandsSecrets(t *testing.T) {
	t.Setenv("ACME_SMTP_PASSWORD", "s3cret")
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
organizations:
  - id: acme
    mail:
      fromAddress: support@acme.test
      smtp:
        host: smtp.acme.test
        password: ${ACME_SMTP_PASSWORD}
      imap:
        host: imap.acme.test
        username: u
        password: ${UNSET_LIVEDESK_VAR}
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.Organizations[0].Mail.SMTP.Password)
	assert.Equal(t, "${UNSET_LIVEDESK_VAR}", cfg.Organizations[0].Mail.IMAP.Password)
}

func TestIMAPPlainPort(t *testing.T) {
	off := false
	cfg := Defaults()
	cfg.Organizations = []OrganizationConfig{{
		ID:   "acme",
		Mail: MailConfig{IMAP: &IMAPConfig{Host: "h", Username: "u", TLS: &off}},
	}}
	applyDefaults(&cfg)
	assert.Equal(t, 143, cfg.Organizations[0].Mail.IMAP.Port)
}

func TestParseConfigPath(t *testing.T) {
	tests := []struct {
		input   string
		want    []string
		wantErr bool
	}{
		{"gateway.port", []string{"gateway", "port"}, false},
		{"mailbox.dedup.backend", []string{"mailbox", "dedup", "backend"}, false},
		{"organizations[1].mail.smtp.host", []string{"organizations", "1", "mail", "smtp", "host"}, false},
		{"organizations.0.id", []string{"organizations", "0", "id"}, false},
		{"", nil, true},
		{"gateway..port", nil, true},
		{"agents.defaults", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseConfigPath(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestLoadRawAndSaveRaw(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	raw := map[string]any{
		"gateway": map[string]any{
			"port": 9999,
		},
	}

	require.NoError(t, SaveRaw(path, raw))

	loaded, err := LoadRaw(path)
	require.NoError(t, err)

	val, ok := GetValueAtPath(loaded, []string{"gateway", "port"})
	assert.True(t, ok)
	assert.Equal(t, 9999, val)
}

func TestLoadRawEmptyFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	raw, err := LoadRaw(path)
	require.NoError(t, err)
	assert.NotNil(t, raw)
}

func TestResolvePathsCustomHome(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("LIVEDESK_HOME", tmp)

	paths, err := ResolvePaths()
	require.NoError(t, err)
	assert.Equal(t, tmp, paths.Base)
	assert.Equal(t, filepath.Join(tmp, "config.yaml"), paths.Config)
	assert.Equal(t, filepath.Join(tmp, "data", "livedesk.db"), paths.DatabasePath())
}

func TestEnsureDirs(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("LIVEDESK_HOME", tmp)

	paths, err := ResolvePaths()
	require.NoError(t, err)
	require.NoError(t, paths.EnsureDirs())

	for _, d := range []string{paths.Logs, paths.Data} {
		info, err := os.Stat(d)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}
