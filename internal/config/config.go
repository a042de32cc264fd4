// Package config loads the reconciler configuration from a YAML file,
// RECON_ environment variables and command-line flags.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Veraticus/receipt-reconciler/internal/common"
	"github.com/Veraticus/receipt-reconciler/internal/pattern"
)

// EnvPrefix prefixes every environment override, e.g. RECON_DATABASE_PATH.
const EnvPrefix = "RECON"

// Config is the complete configuration.
type Config struct {
	Database   DatabaseConfig   `mapstructure:"database"`
	Server     ServerConfig     `mapstructure:"server"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Mail       MailConfig       `mapstructure:"mail"`
	Automation AutomationConfig `mapstructure:"automation"`
	Matching   MatchingConfig   `mapstructure:"matching"`
}

// DatabaseConfig locates the SQLite database.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// ServerConfig configures the RPC server.
type ServerConfig struct {
	Addr         string   `mapstructure:"addr"`
	AllowOrigins []string `mapstructure:"allow_origins"`
}

// AutomationConfig configures queues, the runner and the worker trigger.
type AutomationConfig struct {
	TriggerURL      string        `mapstructure:"trigger_url"`
	TriggerToken    string        `mapstructure:"trigger_token"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	StaleAfter      time.Duration `mapstructure:"stale_after"`
	RunStaleAfter   time.Duration `mapstructure:"run_stale_after"`
	TriggerTimeout  time.Duration `mapstructure:"trigger_timeout"`
	MaxRetries      int           `mapstructure:"max_retries"`
	DispatchWorkers int           `mapstructure:"dispatch_workers"`
	DispatchQueue   int           `mapstructure:"dispatch_queue"`
	Concurrency     int           `mapstructure:"concurrency"`
}

// RedisConfig enables the shared run lock. An empty Addr keeps locks in
// process.
type RedisConfig struct {
	Addr       string `mapstructure:"addr"`
	LockPrefix string `mapstructure:"lock_prefix"`
}

// MailConfig configures the Gmail mailbox used by mail sync jobs.
type MailConfig struct {
	ClientID     string        `mapstructure:"client_id"`
	ClientSecret string        `mapstructure:"client_secret"`
	TokenFile    string        `mapstructure:"token_file"`
	Lookback     time.Duration `mapstructure:"lookback"`
	Window       time.Duration `mapstructure:"window"`
	Limit        int           `mapstructure:"limit"`
}

// Enabled reports whether Gmail credentials are configured.
func (m MailConfig) Enabled() bool {
	return m.ClientID != "" && m.ClientSecret != ""
}

// MatchingConfig tunes partner conflict resolution and suggestion floors.
type MatchingConfig struct {
	TieBreak      pattern.Side `mapstructure:"tie_break"`
	PartnerFloor  int          `mapstructure:"partner_floor"`
	CategoryFloor int          `mapstructure:"category_floor"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SetDefaults registers every key with its default so that environment
// overrides apply to all of them.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.path", "~/.local/share/recon/recon.db")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.allow_origins", []string{"*"})

	v.SetDefault("automation.poll_interval", 30*time.Second)
	v.SetDefault("automation.stale_after", 10*time.Minute)
	v.SetDefault("automation.run_stale_after", time.Hour)
	v.SetDefault("automation.max_retries", 3)
	v.SetDefault("automation.trigger_url", "")
	v.SetDefault("automation.trigger_token", "")
	v.SetDefault("automation.trigger_timeout", 15*time.Second)
	v.SetDefault("automation.dispatch_workers", 4)
	v.SetDefault("automation.dispatch_queue", 256)
	v.SetDefault("automation.concurrency", 4)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.lock_prefix", "recon:lock:")

	v.SetDefault("mail.client_id", "")
	v.SetDefault("mail.client_secret", "")
	v.SetDefault("mail.token_file", "~/.config/recon/gmail-token.json")
	v.SetDefault("mail.lookback", 30*24*time.Hour)
	v.SetDefault("mail.window", 14*24*time.Hour)
	v.SetDefault("mail.limit", 25)

	v.SetDefault("matching.tie_break", string(pattern.DefaultTieBreak))
	v.SetDefault("matching.partner_floor", pattern.PartnerKind.Floor)
	v.SetDefault("matching.category_floor", pattern.CategoryKind.Floor)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
}

// BindEnv maps RECON_SECTION_KEY variables onto section.key.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load decodes and validates the configuration held by v. Paths are
// expanded.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrInvalidConfig, err)
	}

	cfg.Database.Path = ExpandPath(cfg.Database.Path)
	cfg.Mail.TokenFile = ExpandPath(cfg.Mail.TokenFile)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	var problems []string

	if c.Database.Path == "" {
		problems = append(problems, "database.path is required")
	}
	if c.Server.Addr == "" {
		problems = append(problems, "server.addr is required")
	}
	if c.Automation.PollInterval <= 0 {
		problems = append(problems, "automation.poll_interval must be positive")
	}
	if c.Automation.StaleAfter <= 0 {
		problems = append(problems, "automation.stale_after must be positive")
	}
	if c.Automation.RunStaleAfter <= 0 {
		problems = append(problems, "automation.run_stale_after must be positive")
	}
	if c.Automation.MaxRetries < 0 {
		problems = append(problems, "automation.max_retries must not be negative")
	}
	if c.Automation.DispatchWorkers < 1 {
		problems = append(problems, "automation.dispatch_workers must be at least 1")
	}
	switch c.Matching.TieBreak {
	case pattern.SideTransaction, pattern.SideFile:
	default:
		problems = append(problems, fmt.Sprintf("matching.tie_break must be %q or %q", pattern.SideTransaction, pattern.SideFile))
	}
	if !validFloor(c.Matching.PartnerFloor) {
		problems = append(problems, "matching.partner_floor must be between 0 and 100")
	}
	if !validFloor(c.Matching.CategoryFloor) {
		problems = append(problems, "matching.category_floor must be between 0 and 100")
	}
	if c.Mail.Enabled() && c.Mail.TokenFile == "" {
		problems = append(problems, "mail.token_file is required when mail is configured")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", common.ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

func validFloor(floor int) bool {
	return floor >= 0 && floor <= 100
}

// ExpandPath expands a leading ~ and environment variables in a path.
func ExpandPath(path string) string {
	if path == "" {
		return path
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
		}
	}
	return os.ExpandEnv(path)
}
