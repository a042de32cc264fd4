package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/receipt-reconciler/internal/common"
	"github.com/Veraticus/receipt-reconciler/internal/pattern"
)

func newViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	BindEnv(v)
	return v
}

func TestLoad_Defaults(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	cfg, err := Load(newViper())
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, ".local/share/recon/recon.db"), cfg.Database.Path)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowOrigins)
	assert.Equal(t, 30*time.Second, cfg.Automation.PollInterval)
	assert.Equal(t, 10*time.Minute, cfg.Automation.StaleAfter)
	assert.Equal(t, time.Hour, cfg.Automation.RunStaleAfter)
	assert.Equal(t, 3, cfg.Automation.MaxRetries)
	assert.Equal(t, pattern.DefaultTieBreak, cfg.Matching.TieBreak)
	assert.Equal(t, 40, cfg.Matching.PartnerFloor)
	assert.Equal(t, 40, cfg.Matching.CategoryFloor)
	assert.False(t, cfg.Mail.Enabled())
	assert.Empty(t, cfg.Redis.Addr)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("RECON_AUTOMATION_STALE_AFTER", "5m")
	t.Setenv("RECON_MATCHING_TIE_BREAK", "file")
	t.Setenv("RECON_REDIS_ADDR", "redis://localhost:6379/0")
	t.Setenv("RECON_DATABASE_PATH", "$RECON_TEST_DIR/recon.db")
	t.Setenv("RECON_TEST_DIR", "/srv/data")

	cfg, err := Load(newViper())
	require.NoError(t, err)

	assert.Equal(t, 5*time.Minute, cfg.Automation.StaleAfter)
	assert.Equal(t, pattern.SideFile, cfg.Matching.TieBreak)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Redis.Addr)
	assert.Equal(t, "/srv/data/recon.db", cfg.Database.Path)
}

func TestLoad_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: 127.0.0.1:9000
automation:
  poll_interval: 1m
  max_retries: 5
mail:
  client_id: id
  client_secret: secret
  token_file: /etc/recon/token.json
matching:
  category_floor: 60
`), 0600))

	v := newViper()
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
	assert.Equal(t, time.Minute, cfg.Automation.PollInterval)
	assert.Equal(t, 5, cfg.Automation.MaxRetries)
	assert.True(t, cfg.Mail.Enabled())
	assert.Equal(t, "/etc/recon/token.json", cfg.Mail.TokenFile)
	assert.Equal(t, 60, cfg.Matching.CategoryFloor)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		mutate func(*Config)
		name   string
		want   string
	}{
		{func(c *Config) { c.Matching.TieBreak = "bank" }, "unknown tie break", "matching.tie_break"},
		{func(c *Config) { c.Matching.PartnerFloor = 101 }, "partner floor above range", "matching.partner_floor"},
		{func(c *Config) { c.Matching.CategoryFloor = -1 }, "category floor below range", "matching.category_floor"},
		{func(c *Config) { c.Automation.StaleAfter = 0 }, "stale window", "automation.stale_after"},
		{func(c *Config) { c.Automation.RunStaleAfter = -time.Minute }, "run stale window", "automation.run_stale_after"},
		{func(c *Config) { c.Automation.DispatchWorkers = 0 }, "no dispatch workers", "automation.dispatch_workers"},
		{func(c *Config) { c.Database.Path = "" }, "no database", "database.path"},
		{func(c *Config) {
			c.Mail.ClientID, c.Mail.ClientSecret, c.Mail.TokenFile = "id", "secret", ""
		}, "mail without token", "mail.token_file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(newViper())
			require.NoError(t, err)
			tt.mutate(cfg)

			err = cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, common.ErrInvalidConfig))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	t.Setenv("RECON_DATA", "/var/lib/recon")

	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"~", home},
		{"~/recon/recon.db", filepath.Join(home, "recon/recon.db")},
		{"$RECON_DATA/recon.db", "/var/lib/recon/recon.db"},
		{"/abs/path.db", "/abs/path.db"},
		{"relative~/x", "relative~/x"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ExpandPath(tt.in), tt.in)
	}
}
