// internal/common/config/loader.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

func Load() (*Config, error) {
	loadEnvFile()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("../../configs")
	viper.AddConfigPath(".")

	// Enable ENV override like MAIL_SMTP_HOST
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	env := os.Getenv("APP_ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading base config: %w", err)
		}
	}

	// Environment overlay, ignored when absent
	envConfigFile := fmt.Sprintf("config.%s", env)
	viper.SetConfigName(envConfigFile)
	_ = viper.MergeInConfig()

	expandEnvVars(viper.GetViper())

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	overrideEmptyConfig(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// loadEnvFile tries the usual locations so the daemon, tools, and tests all
// pick up the same .env regardless of working directory.
func loadEnvFile() {
	possiblePaths := []string{
		".env",
		"../.env",
		"../../.env",
		"../../../.env",
	}

	if rootDir := findProjectRoot(); rootDir != "" {
		possiblePaths = append(possiblePaths, filepath.Join(rootDir, ".env"))
	}

	for _, path := range possiblePaths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				return
			}
		}
	}
}

// findProjectRoot walks up directories looking for go.mod
func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

// expandEnvVars resolves ${VAR} placeholders in string values.
func expandEnvVars(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		val := v.Get(key)

		if strVal, ok := val.(string); ok {
			if strings.Contains(strVal, "${") || (strings.HasPrefix(strVal, "$") && len(strVal) > 1) {
				expanded := os.ExpandEnv(strVal)
				if expanded != strVal && expanded != "" {
					v.Set(key, expanded)
				}
			}
		}
	}
}

// overrideEmptyConfig falls back to well-known environment variables for
// values that are still empty after expansion.
func overrideEmptyConfig(cfg *Config) {
	if cfg.Mail.SMTP.Host == "" {
		if val := os.Getenv("MAIL_SERVER"); val != "" {
			cfg.Mail.SMTP.Host = val
		}
	}
	if cfg.Mail.SMTP.Username == "" {
		if val := os.Getenv("MAIL_USERNAME"); val != "" {
			cfg.Mail.SMTP.Username = val
		}
	}
	if cfg.Mail.SMTP.Password == "" {
		if val := os.Getenv("MAIL_PASSWORD"); val != "" {
			cfg.Mail.SMTP.Password = val
		}
	}
	if cfg.Mail.SMTP.DefaultFrom == "" {
		if val := os.Getenv("MAIL_DEFAULT_SENDER"); val != "" {
			cfg.Mail.SMTP.DefaultFrom = val
		}
	}

	if cfg.Database.Postgres.User == "" {
		if val := os.Getenv("DB_USER"); val != "" {
			cfg.Database.Postgres.User = val
		}
	}
	if cfg.Database.Postgres.Password == "" {
		if val := os.Getenv("DB_PASSWORD"); val != "" {
			cfg.Database.Postgres.Password = val
		}
	}
}

// LoadFromFile loads configuration from a specific file path
func LoadFromFile(path string) (*Config, error) {
	loadEnvFile()

	viper.SetConfigFile(path)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	expandEnvVars(viper.GetViper())

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	overrideEmptyConfig(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// applyDefaults sets default values for optional configuration fields
func applyDefaults(cfg *Config) {
	if cfg.Mail.Provider == "" {
		cfg.Mail.Provider = "smtp"
	}
	if cfg.Mail.SMTP.Port == 0 {
		cfg.Mail.SMTP.Port = 587
	}

	// Engine defaults
	if cfg.Engine.MaxAttempts == 0 {
		cfg.Engine.MaxAttempts = 3
	}
	if cfg.Engine.StatusSaveInterval == 0 {
		cfg.Engine.StatusSaveInterval = 60
	}
	if cfg.Engine.DequeueTimeout == 0 {
		cfg.Engine.DequeueTimeout = 1000
	}
	if cfg.Engine.SendTimeout == 0 {
		cfg.Engine.SendTimeout = 30000
	}
	if cfg.Engine.RetentionDays == 0 {
		cfg.Engine.RetentionDays = 30
	}
	if cfg.Engine.Snapshot.Backend == "" {
		cfg.Engine.Snapshot.Backend = "file"
	}
	if cfg.Engine.Snapshot.Path == "" {
		cfg.Engine.Snapshot.Path = "data/email_statuses.json"
	}
	if cfg.Engine.Snapshot.Key == "" {
		cfg.Engine.Snapshot.Key = "mailer:statuses"
	}

	// Site defaults
	if cfg.Site.Name == "" {
		cfg.Site.Name = "Event Registration"
	}
	if cfg.Site.SupportEmail == "" {
		cfg.Site.SupportEmail = "support@example.com"
	}
	if cfg.Site.BaseURL == "" {
		cfg.Site.BaseURL = "http://localhost:5000"
	}

	// Database defaults
	if cfg.Database.Postgres.MaxConnections == 0 {
		cfg.Database.Postgres.MaxConnections = 25
	}
	if cfg.Database.Postgres.MaxIdle == 0 {
		cfg.Database.Postgres.MaxIdle = 5
	}
	if cfg.Database.Postgres.SSLMode == "" {
		cfg.Database.Postgres.SSLMode = "disable"
	}

	// Logging defaults
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
}

// validateConfig validates critical configuration fields. Missing mail
// settings are fatal at startup: the engine refuses to initialize rather than
// silently drop mail later.
func validateConfig(cfg *Config) error {
	switch cfg.Mail.Provider {
	case "smtp":
		if cfg.Mail.SMTP.Host == "" {
			return fmt.Errorf("mail.smtp.host is required")
		}
		if cfg.Mail.SMTP.Port <= 0 || cfg.Mail.SMTP.Port > 65535 {
			return fmt.Errorf("mail.smtp.port must be between 1 and 65535")
		}
		if cfg.Mail.SMTP.Username == "" {
			return fmt.Errorf("mail.smtp.username is required")
		}
		if cfg.Mail.SMTP.Password == "" {
			return fmt.Errorf("mail.smtp.password is required")
		}
		if cfg.Mail.SMTP.DefaultFrom == "" {
			return fmt.Errorf("mail.smtp.default_from is required")
		}
	case "ses":
		if cfg.Mail.SES.Region == "" {
			return fmt.Errorf("mail.ses.region is required")
		}
		if cfg.Mail.SES.FromEmail == "" {
			return fmt.Errorf("mail.ses.from_email is required")
		}
	default:
		return fmt.Errorf("mail.provider must be \"smtp\" or \"ses\", got %q", cfg.Mail.Provider)
	}

	if cfg.Engine.MaxAttempts < 1 {
		return fmt.Errorf("engine.max_attempts must be >= 1")
	}

	switch cfg.Engine.Snapshot.Backend {
	case "file", "redis":
	default:
		return fmt.Errorf("engine.snapshot.backend must be \"file\" or \"redis\", got %q", cfg.Engine.Snapshot.Backend)
	}

	if cfg.Engine.Snapshot.Backend == "redis" && cfg.Database.Redis.Address == "" {
		return fmt.Errorf("database.redis.address is required for the redis snapshot backend")
	}

	return nil
}

// GetDuration converts milliseconds from config to time.Duration
func GetDuration(milliseconds int) time.Duration {
	return time.Duration(milliseconds) * time.Millisecond
}
