package config

import (
	"fmt"
	"net/mail"
	"net/url"
	"slices"

	"github.com/soyeahso/livedesk/internal/logging"
)

// ValidationIssue describes a problem with a config value.
type ValidationIssue struct {
	Path    string
	Message string
}

func (v ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

// Validate checks a Config for issues. Returns nil if valid.
func Validate(cfg *Config) []ValidationIssue {
	var issues []ValidationIssue
	add := func(path, format string, args ...any) {
		issues = append(issues, ValidationIssue{Path: path, Message: fmt.Sprintf(format, args...)})
	}

	// Gateway validation
	if cfg.Gateway.Port < 0 || cfg.Gateway.Port > 65535 {
		add("gateway.port", "port must be 0-65535, got %d", cfg.Gateway.Port)
	}

	validBinds := []string{"loopback", "lan", "custom"}
	if cfg.Gateway.Bind != "" && !slices.Contains(validBinds, cfg.Gateway.Bind) {
		add("gateway.bind", "must be one of %v, got %q", validBinds, cfg.Gateway.Bind)
	}
	if cfg.Gateway.Bind == "custom" && cfg.Gateway.CustomBindHost == "" {
		add("gateway.customBindHost", "required when bind is custom")
	}

	validAuthModes := []string{"token", "password"}
	if cfg.Gateway.Auth.Mode != "" && !slices.Contains(validAuthModes, cfg.Gateway.Auth.Mode) {
		add("gateway.auth.mode", "must be one of %v, got %q", validAuthModes, cfg.Gateway.Auth.Mode)
	}

	// Logging validation
	if _, err := logging.ParseLevel(cfg.Logging.Level); err != nil {
		add("logging.level", "must be one of %v, got %q", logging.Levels, cfg.Logging.Level)
	}
	validConsoleStyles := []string{"pretty", "json"}
	if cfg.Logging.ConsoleStyle != "" && !slices.Contains(validConsoleStyles, cfg.Logging.ConsoleStyle) {
		add("logging.consoleStyle", "must be one of %v, got %q", validConsoleStyles, cfg.Logging.ConsoleStyle)
	}

	// Store validation
	validDrivers := []string{"sqlite", "postgres", "memory"}
	if cfg.Store.Driver != "" && !slices.Contains(validDrivers, cfg.Store.Driver) {
		add("store.driver", "must be one of %v, got %q", validDrivers, cfg.Store.Driver)
	}
	if cfg.Store.Driver == "postgres" && cfg.Store.DSN == "" {
		add("store.dsn", "required when driver is postgres")
	}

	// Responder validation
	if cfg.Responder.Endpoint != "" {
		if u, err := url.Parse(cfg.Responder.Endpoint); err != nil || u.Scheme == "" || u.Host == "" {
			add("responder.endpoint", "must be an absolute URL, got %q", cfg.Responder.Endpoint)
		}
	}
	if cfg.Responder.TimeoutSeconds < 0 {
		add("responder.timeoutSeconds", "must not be negative")
	}

	// Mailbox validation
	if cfg.Mailbox.IntervalSeconds != 0 && cfg.Mailbox.IntervalSeconds < MinMailboxInterval {
		add("mailbox.intervalSeconds", "must be at least %d, got %d", MinMailboxInterval, cfg.Mailbox.IntervalSeconds)
	}
	if cfg.Mailbox.LookbackHours < 0 {
		add("mailbox.lookbackHours", "must not be negative")
	}
	validDedup := []string{"memory", "redis"}
	if cfg.Mailbox.Dedup.Backend != "" && !slices.Contains(validDedup, cfg.Mailbox.Dedup.Backend) {
		add("mailbox.dedup.backend", "must be one of %v, got %q", validDedup, cfg.Mailbox.Dedup.Backend)
	}
	if cfg.Mailbox.Dedup.Backend == "redis" && cfg.Mailbox.Dedup.Redis.Addr == "" {
		add("mailbox.dedup.redis.addr", "required when backend is redis")
	}

	// Organization validation
	seen := map[string]bool{}
	for i, o := range cfg.Organizations {
		prefix := fmt.Sprintf("organizations[%d]", i)
		if o.ID == "" {
			add(prefix+".id", "id is required")
		} else if seen[o.ID] {
			add(prefix+".id", "duplicate organization id %q", o.ID)
		}
		seen[o.ID] = true

		for j, origin := range o.AllowedOrigins {
			if u, err := url.Parse(origin); err != nil || u.Scheme == "" || u.Host == "" || u.Path != "" {
				add(fmt.Sprintf("%s.allowedOrigins[%d]", prefix, j), "must be scheme://host[:port], got %q", origin)
			}
		}

		if o.Mail.FromAddress != "" {
			if _, err := mail.ParseAddress(o.Mail.FromAddress); err != nil {
				add(prefix+".mail.fromAddress", "invalid address %q", o.Mail.FromAddress)
			}
		}
		if s := o.Mail.SMTP; s != nil {
			if s.Host == "" {
				add(prefix+".mail.smtp.host", "host is required")
			}
			if s.Port < 0 || s.Port > 65535 {
				add(prefix+".mail.smtp.port", "port must be 0-65535, got %d", s.Port)
			}
			if o.Mail.FromAddress == "" {
				add(prefix+".mail.fromAddress", "required when smtp is configured")
			}
		}
		if m := o.Mail.IMAP; m != nil {
			if m.Host == "" {
				add(prefix+".mail.imap.host", "host is required")
			}
			if m.Username == "" {
				add(prefix+".mail.imap.username", "username is required")
			}
			if m.Port < 0 || m.Port > 65535 {
				add(prefix+".mail.imap.port", "port must be 0-65535, got %d", m.Port)
			}
		}
	}

	// Hooks validation
	for i, h := range cfg.Hooks.ConversationEnded {
		if h.URL == "" {
			add(fmt.Sprintf("hooks.conversationEnded[%d].url", i), "url is required")
		}
	}
	for i, h := range cfg.Hooks.TicketCreated {
		if h.URL == "" {
			add(fmt.Sprintf("hooks.ticketCreated[%d].url", i), "url is required")
		}
	}

	return issues
}
