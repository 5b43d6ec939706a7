package am

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func defaultConfig(t *testing.T) *Config {
	t.Helper()
	v := viper.New()
	SetDefaults(v)
	cfg, err := LoadWithViper(v)
	require.NoError(t, err)
	return cfg
}

func TestLoad_Defaults(t *testing.T) {
	cfg := defaultConfig(t)

	assert.Equal(t, "wakeup.db", cfg.Database.Path)
	assert.Equal(t, DefaultServerAddr, cfg.Server.Addr)
	assert.Equal(t, 60*time.Second, cfg.Scheduler.TickInterval())
	assert.Equal(t, cfg.Scheduler.TickInterval(), cfg.Scheduler.Tolerance(), "tolerance follows tick interval")
	assert.Equal(t, 2*time.Minute, cfg.Scheduler.Lease())
	assert.Equal(t, 30*time.Minute, cfg.Scheduler.MaxLateness())
	assert.Equal(t, 4, cfg.Workers.Count)
	assert.Equal(t, 10*time.Second, cfg.Provider.Timeout())
	assert.Equal(t, 10*time.Second, cfg.Weather.Timeout())
	assert.True(t, cfg.Provider.Enabled)
	assert.Equal(t, DefaultSMSLimit, cfg.Provider.SMSLimit)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wakeup.toml")
	content := `
[scheduler]
tick_interval_seconds = 30
tolerance_seconds = 45

[workers]
count = 8

[provider]
account_sid = "AC123"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.Scheduler.TickInterval())
	assert.Equal(t, 45*time.Second, cfg.Scheduler.Tolerance())
	assert.Equal(t, 8, cfg.Workers.Count)
	assert.Equal(t, "AC123", cfg.Provider.AccountSID)
	assert.Equal(t, 256, cfg.Workers.QueueSize, "unset values keep defaults")
}

func TestMergeConfigFiles_Precedence(t *testing.T) {
	dir := t.TempDir()
	low := filepath.Join(dir, "low.toml")
	high := filepath.Join(dir, "high.toml")
	require.NoError(t, os.WriteFile(low, []byte("[workers]\ncount = 2\nqueue_size = 10\n"), 0600))
	require.NoError(t, os.WriteFile(high, []byte("[workers]\ncount = 6\n"), 0600))

	v := viper.New()
	SetDefaults(v)
	mergeConfigFiles(v, []string{low, filepath.Join(dir, "missing.toml"), high})

	cfg, err := LoadWithViper(v)
	require.NoError(t, err)
	assert.Equal(t, 6, cfg.Workers.Count)
	assert.Equal(t, 10, cfg.Workers.QueueSize)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults are valid", mutate: func(*Config) {}},
		{name: "zero tick interval", mutate: func(c *Config) { c.Scheduler.TickIntervalSeconds = 0 }, wantErr: "tick_interval_seconds"},
		{name: "negative tolerance", mutate: func(c *Config) { c.Scheduler.ToleranceSeconds = -1 }, wantErr: "tolerance_seconds"},
		{name: "negative max lateness", mutate: func(c *Config) { c.Scheduler.MaxLatenessSeconds = -1 }, wantErr: "max_lateness_seconds"},
		{name: "zero lease", mutate: func(c *Config) { c.Scheduler.LeaseSeconds = 0 }, wantErr: "lease_seconds"},
		{name: "bad cron", mutate: func(c *Config) { c.Scheduler.MaintenanceCron = "every now and then" }, wantErr: "maintenance_cron"},
		{name: "empty cron disables maintenance", mutate: func(c *Config) { c.Scheduler.MaintenanceCron = "" }},
		{name: "zero workers", mutate: func(c *Config) { c.Workers.Count = 0 }, wantErr: "workers.count"},
		{name: "negative rate", mutate: func(c *Config) { c.Workers.RatePerSecond = -2 }, wantErr: "rate_per_second"},
		{name: "empty database path", mutate: func(c *Config) { c.Database.Path = "" }, wantErr: "database.path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig(t)
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestApplyCredentialGates(t *testing.T) {
	cfg := defaultConfig(t)
	disabled := cfg.ApplyCredentialGates()

	assert.Len(t, disabled, 2)
	assert.False(t, cfg.Provider.Enabled)
	assert.False(t, cfg.Weather.Enabled)

	cfg = defaultConfig(t)
	cfg.Provider.AccountSID = "AC1"
	cfg.Provider.AuthToken = "secret"
	cfg.Provider.FromNumber = "+15550000000"
	cfg.Weather.APIKey = "key"
	assert.Empty(t, cfg.ApplyCredentialGates())
	assert.True(t, cfg.Provider.Enabled)
	assert.True(t, cfg.Weather.Enabled)
}

func TestConfigWatcher_Reload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wakeup.toml")
	require.NoError(t, os.WriteFile(path, []byte("[workers]\nrate_per_second = 1.0\n"), 0600))

	w, err := NewConfigWatcher([]string{path}, func() (*Config, error) { return LoadFromFile(path) }, zap.NewNop().Sugar())
	require.NoError(t, err)
	w.debouncePeriod = 10 * time.Millisecond

	reloaded := make(chan *Config, 1)
	w.OnReload(func(c *Config) error {
		select {
		case reloaded <- c:
		default:
		}
		return nil
	})
	w.Start()
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte("[workers]\nrate_per_second = 5.0\n"), 0600))

	select {
	case cfg := <-reloaded:
		assert.Equal(t, 5.0, cfg.Workers.RatePerSecond)
	case <-time.After(5 * time.Second):
		t.Fatal("config reload was not observed")
	}
}

func TestNewConfigWatcher_NoPaths(t *testing.T) {
	_, err := NewConfigWatcher(nil, Load, zap.NewNop().Sugar())
	assert.Error(t, err)
}

func TestMaxLateness_NotBelowTolerance(t *testing.T) {
	s := SchedulerConfig{TickIntervalSeconds: 60, ToleranceSeconds: 90, MaxLatenessSeconds: 30}
	assert.Equal(t, 90*time.Second, s.MaxLateness())

	s.MaxLatenessSeconds = 600
	assert.Equal(t, 10*time.Minute, s.MaxLateness())
}
