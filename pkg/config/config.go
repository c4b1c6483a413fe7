// Package config provides centralized configuration for the conversion pipeline.
// Values come from the environment, optionally seeded from a .env file.
package config

import (
	"fmt"
	"log"
	"slices"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is the complete runtime configuration.
type Config struct {
	Port               string        `env:"PORT" envDefault:"8080"`
	ReleaseMode        bool          `env:"RELEASE_MODE" envDefault:"false"`
	ServerReadTimeout  time.Duration `env:"SERVER_READ_TIMEOUT" envDefault:"15s"`
	ServerWriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" envDefault:"15s"`
	ServerIdleTimeout  time.Duration `env:"SERVER_IDLE_TIMEOUT" envDefault:"60s"`
	ShutdownTimeout    time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`
	CORSAllowOrigins   []string      `env:"CORS_ALLOW_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000,http://127.0.0.1:3000"`
	AdminJWTSecret     string        `env:"ADMIN_JWT_SECRET"`

	Identity   IdentityConfig   `envPrefix:"IDENTITY_"`
	Dispatch   DispatchConfig   `envPrefix:"DISPATCH_"`
	Meta       MetaConfig       `envPrefix:"META_"`
	Snapchat   SnapchatConfig   `envPrefix:"SNAPCHAT_"`
	TikTok     TikTokConfig     `envPrefix:"TIKTOK_"`
	Webhook    WebhookConfig    `envPrefix:"WEBHOOK_"`
	Email      EmailConfig      `envPrefix:"EMAIL_"`
	DataLayer  DataLayerConfig  `envPrefix:"DATALAYER_"`
	Journal    JournalConfig    `envPrefix:"JOURNAL_"`
	Logging    LoggingConfig    `envPrefix:"LOG_"`
	Tracing    TracingConfig    `envPrefix:"OTEL_"`
	LeadRoutes LeadRoutesConfig `envPrefix:"LEAD_"`
}

// IdentityConfig controls the browser-local identity store.
type IdentityConfig struct {
	Namespace       string            `env:"NAMESPACE" envDefault:"tractstack"`
	VisitHistoryCap int               `env:"VISIT_HISTORY_CAP" envDefault:"50"`
	SubmissionCap   int               `env:"SUBMISSION_CAP" envDefault:"20"`
	InterestCap     int               `env:"INTEREST_CAP" envDefault:"10"`
	SealingKey      string            `env:"SEALING_KEY"`
	InterestRules   map[string]string `env:"INTEREST_RULES" envKeyValSeparator:"=" envSeparator:"," envDefault:"italy=italy,london=uk,scotland=uk,cruise=cruise,trip=travel"`
}

// DispatchConfig bounds the fan-out. SinkTimeouts overrides Timeout per sink name.
type DispatchConfig struct {
	Timeout        time.Duration            `env:"SINK_TIMEOUT" envDefault:"4s"`
	SinkTimeouts   map[string]time.Duration `env:"SINK_TIMEOUTS" envKeyValSeparator:"=" envSeparator:","`
	TrackPageViews bool                     `env:"TRACK_PAGE_VIEWS" envDefault:"false"`
	RecordTimeout  time.Duration            `env:"RECORD_TIMEOUT" envDefault:"2s"`
}

// SinkNames lists every sink a per-sink timeout may name, in roster order.
var SinkNames = []string{
	"meta_pixel",
	"meta_capi",
	"snapchat_capi",
	"tiktok_events",
	"datalayer",
	"crm_webhook",
	"email",
}

// MetaConfig covers both the pixel beacon and the server-side conversion API.
type MetaConfig struct {
	PixelID       string `env:"PIXEL_ID"`
	AccessToken   string `env:"ACCESS_TOKEN"`
	TestEventCode string `env:"TEST_EVENT_CODE"`
	GraphVersion  string `env:"GRAPH_VERSION" envDefault:"v17.0"`
	GraphBaseURL  string `env:"GRAPH_BASE_URL" envDefault:"https://graph.facebook.com"`
	PixelEndpoint string `env:"PIXEL_ENDPOINT" envDefault:"https://www.facebook.com/tr"`
	Currency      string `env:"CURRENCY" envDefault:"SAR"`
}

// SnapchatConfig configures the Snapchat Conversions API relay.
type SnapchatConfig struct {
	PixelID     string `env:"PIXEL_ID"`
	AccessToken string `env:"ACCESS_TOKEN"`
	BaseURL     string `env:"BASE_URL" envDefault:"https://tr.snapchat.com"`
}

// TikTokConfig configures the TikTok Events API relay.
type TikTokConfig struct {
	PixelID       string `env:"PIXEL_ID"`
	AccessToken   string `env:"ACCESS_TOKEN"`
	TestEventCode string `env:"TEST_EVENT_CODE"`
	Endpoint      string `env:"ENDPOINT" envDefault:"https://business-api.tiktok.com/open_api/v1.3/event/track/"`
}

// WebhookConfig configures the CRM relay. PartialURL receives in-progress
// form data and falls back to URL.
type WebhookConfig struct {
	URL           string `env:"URL"`
	PartialURL    string `env:"PARTIAL_URL"`
	SigningSecret string `env:"SIGNING_SECRET"`
	Issuer        string `env:"ISSUER" envDefault:"tractstack-leads"`
}

// EmailConfig configures the transactional lead notifier.
type EmailConfig struct {
	ResendAPIKey string   `env:"RESEND_API_KEY"`
	From         string   `env:"FROM" envDefault:"noreply@tractstack.com"`
	FromName     string   `env:"FROM_NAME" envDefault:"TractStack Leads"`
	Recipients   []string `env:"RECIPIENTS" envSeparator:","`
}

// DataLayerConfig toggles the websocket data layer channel.
type DataLayerConfig struct {
	Enabled      bool          `env:"ENABLED" envDefault:"true"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT" envDefault:"2s"`
	BufferSize   int           `env:"BUFFER_SIZE" envDefault:"16"`
}

// JournalConfig selects where outcome reports are recorded. Driver is one of
// sqlite3, libsql or postgres; empty disables the journal.
type JournalConfig struct {
	Driver     string `env:"DRIVER" envDefault:"sqlite3"`
	DSN        string `env:"DSN" envDefault:"data/conversions.db"`
	TursoURL   string `env:"TURSO_URL"`
	TursoToken string `env:"TURSO_TOKEN"`
}

// LoggingConfig mirrors logging.LoggerConfig.
type LoggingConfig struct {
	Directory string `env:"DIRECTORY" envDefault:"logs"`
	ToFile    bool   `env:"TO_FILE" envDefault:"true"`
	JSON      bool   `env:"JSON" envDefault:"true"`
	Level     string `env:"LEVEL" envDefault:"INFO"`
}

// TracingConfig enables OTLP/HTTP export of dispatch spans. An empty
// endpoint leaves the global no-op provider in place.
type TracingConfig struct {
	Endpoint    string `env:"ENDPOINT"`
	Enabled     bool   `env:"ENABLED" envDefault:"true"`
	ServiceName string `env:"SERVICE_NAME" envDefault:"tractstack-leads"`
}

// LeadRoutesConfig names the thank-you destination used after a submission.
type LeadRoutesConfig struct {
	ThankYouURL string `env:"THANK_YOU_URL" envDefault:"/thank-you"`
}

// Load reads .env (when present) and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err == nil {
		log.Println("Loaded configuration overrides from .env file")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return cfg, cfg.Validate()
}

// LoadFrom parses configuration from an explicit variable set, ignoring the
// process environment.
func LoadFrom(vars map[string]string) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Environment: vars}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate rejects values the pipeline cannot honor.
func (c *Config) Validate() error {
	if c.Dispatch.Timeout <= 0 {
		return fmt.Errorf("DISPATCH_SINK_TIMEOUT must be positive, got %s", c.Dispatch.Timeout)
	}
	for name, timeout := range c.Dispatch.SinkTimeouts {
		if !slices.Contains(SinkNames, name) {
			return fmt.Errorf("DISPATCH_SINK_TIMEOUTS names unknown sink %q, want one of %v", name, SinkNames)
		}
		if timeout <= 0 {
			return fmt.Errorf("sink timeout for %s must be positive, got %s", name, timeout)
		}
	}
	if c.Dispatch.RecordTimeout <= 0 {
		return fmt.Errorf("DISPATCH_RECORD_TIMEOUT must be positive, got %s", c.Dispatch.RecordTimeout)
	}
	if c.Identity.VisitHistoryCap <= 0 || c.Identity.SubmissionCap <= 0 || c.Identity.InterestCap <= 0 {
		return fmt.Errorf("identity history caps must be positive")
	}
	if c.Identity.Namespace == "" {
		return fmt.Errorf("IDENTITY_NAMESPACE must not be empty")
	}
	switch c.Journal.Driver {
	case "", "sqlite3", "libsql", "postgres":
	default:
		return fmt.Errorf("unsupported JOURNAL_DRIVER %q", c.Journal.Driver)
	}
	return nil
}

// SlowestSinkTimeout is the upper bound for one dispatch to settle.
func (c *Config) SlowestSinkTimeout() time.Duration {
	slowest := c.Dispatch.Timeout
	for _, timeout := range c.Dispatch.SinkTimeouts {
		if timeout > slowest {
			slowest = timeout
		}
	}
	return slowest
}
