// internal/common/config/config.go
package config

import "fmt"

// Config is the main application configuration struct.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Mail     MailConfig     `mapstructure:"mail"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Site     SiteConfig     `mapstructure:"site"`
	Database DatabaseConfig `mapstructure:"database"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

// MailConfig selects and configures the outbound mail provider.
type MailConfig struct {
	Provider string     `mapstructure:"provider"` // "smtp" or "ses"
	SMTP     SMTPConfig `mapstructure:"smtp"`
	SES      SESConfig  `mapstructure:"ses"`
}

type SMTPConfig struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	UseSSL      bool   `mapstructure:"use_ssl"`
	UseTLS      bool   `mapstructure:"use_tls"`
	DefaultFrom string `mapstructure:"default_from"`
	Domain      string `mapstructure:"domain"` // Message-ID domain, falls back to the sender domain
}

type SESConfig struct {
	Region    string `mapstructure:"region"`
	FromEmail string `mapstructure:"from_email"`
}

// EngineConfig holds the delivery engine's runtime settings.
type EngineConfig struct {
	MaxAttempts        int            `mapstructure:"max_attempts"`
	StatusSaveInterval int            `mapstructure:"status_save_interval"` // seconds
	DequeueTimeout     int            `mapstructure:"dequeue_timeout"`      // milliseconds
	SendTimeout        int            `mapstructure:"send_timeout"`         // milliseconds
	RetentionDays      int            `mapstructure:"retention_days"`
	Snapshot           SnapshotConfig `mapstructure:"snapshot"`
}

// SnapshotConfig selects and configures the ledger snapshot backend.
type SnapshotConfig struct {
	Backend string `mapstructure:"backend"` // "file" or "redis"
	Path    string `mapstructure:"path"`    // file backend
	Key     string `mapstructure:"key"`     // redis backend
}

// SiteConfig holds process-wide values merged into every template context.
type SiteConfig struct {
	Name         string `mapstructure:"name"`
	SupportEmail string `mapstructure:"support_email"`
	BaseURL      string `mapstructure:"base_url"`
	EventName    string `mapstructure:"event_name"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}
