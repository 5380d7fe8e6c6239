package config

import (
	"os"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR_NAME} patterns in strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvVars replaces ${VAR} patterns with environment variable values.
// Unset variables are left unchanged.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match
	})
}

// expandSensitiveFields processes environment variable references in
// credential fields so passwords and tokens can be stored as ${ENV_VAR}.
func expandSensitiveFields(cfg *Config) {
	cfg.Gateway.Auth.Token = expandEnvVars(cfg.Gateway.Auth.Token)
	cfg.Gateway.Auth.Password = expandEnvVars(cfg.Gateway.Auth.Password)
	cfg.Store.DSN = expandEnvVars(cfg.Store.DSN)
	cfg.Responder.APIKey = expandEnvVars(cfg.Responder.APIKey)
	cfg.Mailbox.Dedup.Redis.Password = expandEnvVars(cfg.Mailbox.Dedup.Redis.Password)
	for i := range cfg.Organizations {
		mail := &cfg.Organizations[i].Mail
		if mail.SMTP != nil {
			mail.SMTP.Password = expandEnvVars(mail.SMTP.Password)
		}
		if mail.IMAP != nil {
			mail.IMAP.Password = expandEnvVars(mail.IMAP.Password)
		}
	}
	for _, entries := range [][]HookEntry{cfg.Hooks.ConversationEnded, cfg.Hooks.TicketCreated} {
		for i := range entries {
			entries[i].Secret = expandEnvVars(entries[i].Secret)
		}
	}
}

// Load reads the config file, applies environment overrides, and returns
// a merged Config. Missing files produce defaults only.
func Load(path string) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(&cfg)
			return cfg, nil
		}
		return cfg, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	expandSensitiveFields(&cfg)
	return cfg, nil
}

// LoadRaw reads the config file into a generic map for path-based access.
func LoadRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{}, nil
		}
		return nil, err
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

// DecodeRaw turns a raw map back into a Config with defaults applied.
// Environment overrides are not applied, so the result reflects the file.
func DecodeRaw(raw map[string]any) (Config, error) {
	cfg := Defaults()
	data, err := yaml.Marshal(raw)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, &ConfigError{Message: "invalid config: " + err.Error()}
	}
	applyDefaults(&cfg)
	return cfg, nil
}

// SaveRaw writes a generic map back to a YAML config file.
func SaveRaw(path string, raw map[string]any) error {
	data, err := yaml.Marshal(raw)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// applyDefaults fills zero-value fields with sensible defaults.
func applyDefaults(cfg *Config) {
	d := Defaults()

	if cfg.Gateway.Port == 0 {
		cfg.Gateway.Port = d.Gateway.Port
	}
	if cfg.Gateway.Bind == "" {
		cfg.Gateway.Bind = d.Gateway.Bind
	}
	if cfg.Gateway.Auth.Mode == "" {
		cfg.Gateway.Auth.Mode = d.Gateway.Auth.Mode
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = d.Logging.Level
	}
	if cfg.Logging.ConsoleStyle == "" {
		cfg.Logging.ConsoleStyle = d.Logging.ConsoleStyle
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = d.Store.Driver
	}
	if cfg.Responder.TimeoutSeconds == 0 {
		cfg.Responder.TimeoutSeconds = d.Responder.TimeoutSeconds
	}
	if cfg.Mailbox.IntervalSeconds == 0 {
		cfg.Mailbox.IntervalSeconds = d.Mailbox.IntervalSeconds
	}
	if cfg.Mailbox.LookbackHours == 0 {
		cfg.Mailbox.LookbackHours = d.Mailbox.LookbackHours
	}
	if cfg.Mailbox.IOTimeoutSeconds == 0 {
		cfg.Mailbox.IOTimeoutSeconds = d.Mailbox.IOTimeoutSeconds
	}
	if cfg.Mailbox.Dedup.Backend == "" {
		cfg.Mailbox.Dedup.Backend = d.Mailbox.Dedup.Backend
	}
	if cfg.Mailbox.Dedup.TTLHours == 0 {
		cfg.Mailbox.Dedup.TTLHours = d.Mailbox.Dedup.TTLHours
	}
	if cfg.Mailbox.Dedup.MaxEntries == 0 {
		cfg.Mailbox.Dedup.MaxEntries = d.Mailbox.Dedup.MaxEntries
	}
	if cfg.Dispatch.HandoffNotice == "" {
		cfg.Dispatch.HandoffNotice = d.Dispatch.HandoffNotice
	}
	if cfg.Dispatch.NamePrompt == "" {
		cfg.Dispatch.NamePrompt = d.Dispatch.NamePrompt
	}
	if cfg.Dispatch.EmailPrompt == "" {
		cfg.Dispatch.EmailPrompt = d.Dispatch.EmailPrompt
	}
	if cfg.Dispatch.InvalidEmailPrompt == "" {
		cfg.Dispatch.InvalidEmailPrompt = d.Dispatch.InvalidEmailPrompt
	}
	for i := range cfg.Organizations {
		mail := &cfg.Organizations[i].Mail
		if mail.SMTP != nil && mail.SMTP.Port == 0 {
			mail.SMTP.Port = 587
		}
		if mail.IMAP != nil {
			if mail.IMAP.Mailbox == "" {
				mail.IMAP.Mailbox = "INBOX"
			}
			if mail.IMAP.Port == 0 {
				if mail.IMAP.UseTLS() {
					mail.IMAP.Port = 993
				} else {
					mail.IMAP.Port = 143
				}
			}
		}
	}
}

// applyEnvOverrides reads LIVEDESK_* environment variables and overrides config values.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LIVEDESK_GATEWAY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Gateway.Port = port
		}
	}
	if v := os.Getenv("LIVEDESK_GATEWAY_BIND"); v != "" {
		cfg.Gateway.Bind = v
	}
	if v := os.Getenv("LIVEDESK_GATEWAY_TOKEN"); v != "" {
		cfg.Gateway.Auth.Token = v
	}
	if v := os.Getenv("LIVEDESK_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("LIVEDESK_STORE_DRIVER"); v != "" {
		cfg.Store.Driver = strings.ToLower(v)
	}
	if v := os.Getenv("LIVEDESK_STORE_DSN"); v != "" {
		cfg.Store.DSN = v
	}
	if v := os.Getenv("LIVEDESK_RESPONDER_ENDPOINT"); v != "" {
		cfg.Responder.Endpoint = v
	}
	if v := os.Getenv("LIVEDESK_RESPONDER_API_KEY"); v != "" {
		cfg.Responder.APIKey = v
	}
	if v := os.Getenv("LIVEDESK_REDIS_ADDR"); v != "" {
		cfg.Mailbox.Dedup.Redis.Addr = v
	}
	if v := os.Getenv("LIVEDESK_AUTORESTART"); v == "1" || strings.EqualFold(v, "true") {
		cfg.Dev.AutoRestart = true
	}
}
