package config

// Config is the root configuration for livedesk.
type Config struct {
	Gateway       GatewayConfig        `yaml:"gateway,omitempty"`
	Logging       LoggingConfig        `yaml:"logging,omitempty"`
	Store         StoreConfig          `yaml:"store,omitempty"`
	Responder     ResponderConfig      `yaml:"responder,omitempty"`
	Mailbox       MailboxConfig        `yaml:"mailbox,omitempty"`
	Dispatch      DispatchConfig       `yaml:"dispatch,omitempty"`
	Organizations []OrganizationConfig `yaml:"organizations,omitempty"`
	Hooks         HooksConfig          `yaml:"hooks,omitempty"`
	Dev           DevConfig            `yaml:"dev,omitempty"`
}

// GatewayConfig controls the gateway HTTP/WebSocket server.
type GatewayConfig struct {
	Port           int         `yaml:"port,omitempty"`
	Bind           string      `yaml:"bind,omitempty"` // "loopback" | "lan" | "custom"
	CustomBindHost string      `yaml:"customBindHost,omitempty"`
	Auth           GatewayAuth `yaml:"auth,omitempty"`
	AllowedOrigins []string    `yaml:"allowedOrigins,omitempty"`
}

// GatewayAuth configures agent authentication.
type GatewayAuth struct {
	Mode     string `yaml:"mode,omitempty"` // "token" | "password"
	Token    string `yaml:"token,omitempty"`
	Password string `yaml:"password,omitempty"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level        string `yaml:"level,omitempty"` // "silent" | "fatal" | "error" | "warn" | "info" | "debug" | "trace"
	File         string `yaml:"file,omitempty"`
	ConsoleStyle string `yaml:"consoleStyle,omitempty"` // "pretty" | "json"
}

// StoreConfig selects the conversation store backend.
type StoreConfig struct {
	Driver string `yaml:"driver,omitempty"` // "sqlite" | "postgres" | "memory"
	Path   string `yaml:"path,omitempty"`   // sqlite database file
	DSN    string `yaml:"dsn,omitempty"`    // postgres connection string
}

// ResponderConfig points at the automated answer service.
type ResponderConfig struct {
	Endpoint       string `yaml:"endpoint,omitempty"`
	APIKey         string `yaml:"apiKey,omitempty"`
	TimeoutSeconds int    `yaml:"timeoutSeconds,omitempty"`
}

// MailboxConfig controls the reply poller.
type MailboxConfig struct {
	Enabled          bool        `yaml:"enabled,omitempty"`
	IntervalSeconds  int         `yaml:"intervalSeconds,omitempty"`
	LookbackHours    int         `yaml:"lookbackHours,omitempty"`
	IOTimeoutSeconds int         `yaml:"ioTimeoutSeconds,omitempty"`
	Dedup            DedupConfig `yaml:"dedup,omitempty"`
}

// DedupConfig selects the seen-set backend for mail replies.
type DedupConfig struct {
	Backend    string      `yaml:"backend,omitempty"` // "memory" | "redis"
	TTLHours   int         `yaml:"ttlHours,omitempty"`
	MaxEntries int         `yaml:"maxEntries,omitempty"`
	Redis      RedisConfig `yaml:"redis,omitempty"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string `yaml:"addr,omitempty"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
}

// DispatchConfig holds the texts the engine sends on its own behalf.
type DispatchConfig struct {
	HandoffNotice      string `yaml:"handoffNotice,omitempty"`
	NamePrompt         string `yaml:"namePrompt,omitempty"`
	EmailPrompt        string `yaml:"emailPrompt,omitempty"`
	InvalidEmailPrompt string `yaml:"invalidEmailPrompt,omitempty"`
}

// OrganizationConfig defines a tenant served by this deployment.
type OrganizationConfig struct {
	ID              string     `yaml:"id"`
	Name            string     `yaml:"name,omitempty"`
	AIOrgID         string     `yaml:"aiOrgId,omitempty"`
	CollectIdentity bool       `yaml:"collectIdentity,omitempty"`
	FAQs            []FAQ      `yaml:"faqs,omitempty"`
	Mail            MailConfig `yaml:"mail,omitempty"`
	// AllowedOrigins restricts which sites may embed this org's widget.
	// Empty means any origin the gateway accepts.
	AllowedOrigins []string `yaml:"allowedOrigins,omitempty"`
}

// FAQ is a question/answer pair handed to the responder.
type FAQ struct {
	Question string `yaml:"question" json:"question"`
	Answer   string `yaml:"answer" json:"answer"`
}

// MailConfig holds an organization's outbound and inbound mail settings.
type MailConfig struct {
	FromAddress string      `yaml:"fromAddress,omitempty"`
	FromName    string      `yaml:"fromName,omitempty"`
	SMTP        *SMTPConfig `yaml:"smtp,omitempty"`
	IMAP        *IMAPConfig `yaml:"imap,omitempty"`
}

// SMTPConfig configures outbound mail.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port,omitempty"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	// PerMinute caps outbound messages for the organization; 0 means 30.
	PerMinute int `yaml:"perMinute,omitempty"`
}

// IMAPConfig configures the inbound reply mailbox.
type IMAPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port,omitempty"`
	Username string `yaml:"username"`
	Password string `yaml:"password,omitempty"`
	Mailbox  string `yaml:"mailbox,omitempty"`
	TLS      *bool  `yaml:"tls,omitempty"` // defaults to true
}

// UseTLS reports whether the IMAP connection should use implicit TLS.
func (c *IMAPConfig) UseTLS() bool {
	return c.TLS == nil || *c.TLS
}

// HooksConfig defines webhooks fired on outward events.
type HooksConfig struct {
	ConversationEnded []HookEntry `yaml:"conversationEnded,omitempty"`
	TicketCreated     []HookEntry `yaml:"ticketCreated,omitempty"`
}

// HookEntry defines a single webhook target.
type HookEntry struct {
	URL     string `yaml:"url"`
	Timeout int    `yaml:"timeout,omitempty"` // milliseconds
	// Secret signs the body; receivers check X-Livedesk-Signature.
	Secret string `yaml:"secret,omitempty"`
}

// DevConfig holds developer conveniences.
type DevConfig struct {
	AutoRestart bool `yaml:"autoRestart,omitempty"`
}
