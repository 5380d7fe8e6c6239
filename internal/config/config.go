package config

import "fmt"

// ConfigError represents a configuration error.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s", e.Message)
}

const (
	DefaultPort               = 18790
	DefaultMailboxInterval    = 120
	MinMailboxInterval        = 60
	DefaultLookbackHours      = 72
	DefaultIOTimeoutSeconds   = 10
	DefaultResponderTimeout   = 30
	DefaultDedupTTLHours      = 24
	DefaultDedupMaxEntries    = 10000
	DefaultHandoffNotice      = "An agent has joined and will be with you shortly."
	DefaultNamePrompt         = "Before we start, what's your name?"
	DefaultEmailPrompt        = "Thanks! What's the best email to reach you at?"
	DefaultInvalidEmailPrompt = "That doesn't look like a valid email address. Could you check it and try again?"
)

// Defaults returns a Config with sensible defaults applied.
func Defaults() Config {
	return Config{
		Gateway: GatewayConfig{
			Port: DefaultPort,
			Bind: "loopback",
			Auth: GatewayAuth{
				Mode: "token",
			},
		},
		Logging: LoggingConfig{
			Level:        "info",
			ConsoleStyle: "pretty",
		},
		Store: StoreConfig{
			Driver: "sqlite",
		},
		Responder: ResponderConfig{
			TimeoutSeconds: DefaultResponderTimeout,
		},
		Mailbox: MailboxConfig{
			IntervalSeconds:  DefaultMailboxInterval,
			LookbackHours:    DefaultLookbackHours,
			IOTimeoutSeconds: DefaultIOTimeoutSeconds,
			Dedup: DedupConfig{
				Backend:    "memory",
				TTLHours:   DefaultDedupTTLHours,
				MaxEntries: DefaultDedupMaxEntries,
			},
		},
		Dispatch: DispatchConfig{
			HandoffNotice:      DefaultHandoffNotice,
			NamePrompt:         DefaultNamePrompt,
			EmailPrompt:        DefaultEmailPrompt,
			InvalidEmailPrompt: DefaultInvalidEmailPrompt,
		},
	}
}
