package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Log      LogConfig      `mapstructure:"log"`
	Google   GoogleConfig   `mapstructure:"google"`
	Template TemplateConfig `mapstructure:"template"`
	Email    EmailConfig    `mapstructure:"email"`
	Lock     LockConfig     `mapstructure:"lock"`
	Timeouts TimeoutConfig  `mapstructure:"timeouts"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Audit    AuditConfig    `mapstructure:"audit"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	// WebhookSecret, when set, must be presented as a bearer token by the form trigger.
	WebhookSecret string `mapstructure:"webhook_secret"`
	RateLimit     struct {
		Enabled bool          `mapstructure:"enabled"`
		Limit   int           `mapstructure:"limit"`
		Window  time.Duration `mapstructure:"window"`
	} `mapstructure:"rate_limit"`
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	// Enabled turns on job persistence. Without it jobs are only logged.
	Enabled        bool   `mapstructure:"enabled"`
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Name           string `mapstructure:"name"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	SSLMode        string `mapstructure:"ssl_mode"`
	MaxConnections int    `mapstructure:"max_connections"`
}

// DSN returns the PostgreSQL connection string
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	// Enabled switches the document lock, rate limiting and alert fan-out to Redis.
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// GoogleConfig holds the OAuth2 credentials used for the Slides and Gmail APIs.
// Either CredentialsJSON/CredentialsFile or ClientID+ClientSecret+RefreshToken must be set.
type GoogleConfig struct {
	// CredentialsJSON is a service account or authorized_user credentials document.
	CredentialsJSON string `mapstructure:"credentials_json"`
	// CredentialsFile is a path to the same document (e.g. token.json).
	CredentialsFile string `mapstructure:"credentials_file"`
	// Subject is the mailbox impersonated by a service account with domain-wide delegation.
	Subject      string `mapstructure:"subject"`
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	RefreshToken string `mapstructure:"refresh_token"`
	// SlidesEndpoint and GmailEndpoint override the API base URLs (tests, proxies).
	SlidesEndpoint string `mapstructure:"slides_endpoint"`
	GmailEndpoint  string `mapstructure:"gmail_endpoint"`
}

// TemplateConfig describes the shared certificate template.
type TemplateConfig struct {
	PresentationID string `mapstructure:"presentation_id"`
	Placeholder    string `mapstructure:"placeholder"`
	// ThumbnailSize is one of SMALL, MEDIUM, LARGE.
	ThumbnailSize string `mapstructure:"thumbnail_size"`
}

// EmailConfig holds email sending configuration
type EmailConfig struct {
	// Provider is the dispatcher to use: "gmail" or "smtp".
	Provider      string `mapstructure:"provider"`
	SenderAddress string `mapstructure:"sender_address"`
	SenderName    string `mapstructure:"sender_name"`
	ReplyTo       string `mapstructure:"reply_to"`
	// Subject and Body are text/template strings rendered with {{.Name}}.
	Subject  string `mapstructure:"subject"`
	Body     string `mapstructure:"body"`
	Boundary string `mapstructure:"boundary"`
	// MaxArtifactSize caps the artifact download in bytes.
	MaxArtifactSize int64      `mapstructure:"max_artifact_size"`
	SMTP            SMTPConfig `mapstructure:"smtp"`
}

// SMTPConfig holds the SMTP dispatcher settings.
type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	SSL      bool   `mapstructure:"ssl"`
}

// LockConfig controls the per-document mutual exclusion.
type LockConfig struct {
	// TTL bounds how long a crashed holder can keep a Redis lock.
	TTL          time.Duration `mapstructure:"ttl"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	// WaitTimeout bounds how long a job waits for the document.
	WaitTimeout time.Duration `mapstructure:"wait_timeout"`
}

// TimeoutConfig bounds every network call made by a job.
type TimeoutConfig struct {
	Slides time.Duration `mapstructure:"slides"`
	Fetch  time.Duration `mapstructure:"fetch"`
	Mail   time.Duration `mapstructure:"mail"`
	// Reset is the budget for a best-effort reset after a failure or cancellation.
	Reset time.Duration `mapstructure:"reset"`
	// Job bounds a whole synchronous request.
	Job time.Duration `mapstructure:"job"`
}

// QueueConfig enables asynchronous processing through NATS JetStream.
type QueueConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	Stream  string `mapstructure:"stream"`
	Subject string `mapstructure:"subject"`
	// Durable names the single pull consumer shared by all workers.
	Durable string `mapstructure:"durable"`
	// MaxDeliver caps redeliveries of a job that keeps failing transiently.
	MaxDeliver int `mapstructure:"max_deliver"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// AuditConfig schedules the periodic template check run by the worker.
type AuditConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Schedule is a five-field cron expression.
	Schedule string        `mapstructure:"schedule"`
	Timeout  time.Duration `mapstructure:"timeout"`
	// Repair resets the names recorded on dirty jobs when the audit finds the placeholder missing.
	Repair bool `mapstructure:"repair"`
}

// Load reads configuration from file and environment variables
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/certgen")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix("CERTGEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Validate checks the settings every job needs.
func (c *Config) Validate() error {
	if c.Template.PresentationID == "" {
		return fmt.Errorf("template.presentation_id is required")
	}
	if c.Template.Placeholder == "" {
		return fmt.Errorf("template.placeholder must not be empty")
	}
	switch c.Email.Provider {
	case "gmail":
	case "smtp":
		if c.Email.SMTP.Host == "" {
			return fmt.Errorf("email.smtp.host is required for the smtp provider")
		}
		if c.Email.SenderAddress == "" {
			return fmt.Errorf("email.sender_address is required for the smtp provider")
		}
	default:
		return fmt.Errorf("unknown email.provider %q", c.Email.Provider)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.webhook_secret", "")
	v.SetDefault("server.rate_limit.enabled", false)
	v.SetDefault("server.rate_limit.limit", 30)
	v.SetDefault("server.rate_limit.window", "1m")

	// Database defaults
	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "certgen")
	v.SetDefault("database.user", "certgen")
	v.SetDefault("database.password", "")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_connections", 10)

	// Redis defaults
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Google defaults
	v.SetDefault("google.credentials_json", "")
	v.SetDefault("google.credentials_file", "")
	v.SetDefault("google.subject", "")
	v.SetDefault("google.client_id", "")
	v.SetDefault("google.client_secret", "")
	v.SetDefault("google.refresh_token", "")
	v.SetDefault("google.slides_endpoint", "")
	v.SetDefault("google.gmail_endpoint", "")

	// Template defaults
	v.SetDefault("template.presentation_id", "")
	v.SetDefault("template.placeholder", "<<NAME>>")
	v.SetDefault("template.thumbnail_size", "LARGE")

	// Email defaults
	v.SetDefault("email.provider", "gmail")
	v.SetDefault("email.sender_address", "")
	v.SetDefault("email.sender_name", "")
	v.SetDefault("email.reply_to", "")
	v.SetDefault("email.subject", "Your certificate, {{.Name}}")
	v.SetDefault("email.body", "Hello {{.Name}},\n\nYour certificate is attached.\n")
	v.SetDefault("email.boundary", "certgen_boundary")
	v.SetDefault("email.max_artifact_size", 20<<20)
	v.SetDefault("email.smtp.host", "")
	v.SetDefault("email.smtp.port", 587)
	v.SetDefault("email.smtp.username", "")
	v.SetDefault("email.smtp.password", "")
	v.SetDefault("email.smtp.ssl", false)

	// Lock defaults
	v.SetDefault("lock.ttl", "2m")
	v.SetDefault("lock.poll_interval", "200ms")
	v.SetDefault("lock.wait_timeout", "1m")

	// Timeout defaults
	v.SetDefault("timeouts.slides", "20s")
	v.SetDefault("timeouts.fetch", "30s")
	v.SetDefault("timeouts.mail", "20s")
	v.SetDefault("timeouts.reset", "20s")
	v.SetDefault("timeouts.job", "3m")

	// Queue defaults
	v.SetDefault("queue.enabled", false)
	v.SetDefault("queue.url", "nats://127.0.0.1:4222")
	v.SetDefault("queue.stream", "CERTIFICATES")
	v.SetDefault("queue.subject", "CERTIFICATES.generate")
	v.SetDefault("queue.durable", "certgen-worker")
	v.SetDefault("queue.max_deliver", 5)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	// Audit defaults
	v.SetDefault("audit.enabled", false)
	v.SetDefault("audit.schedule", "*/15 * * * *")
	v.SetDefault("audit.timeout", "2m")
	v.SetDefault("audit.repair", false)
}
