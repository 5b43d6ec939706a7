// Package am loads the wake-up service configuration ("as modified").
//
// Sources are merged lowest to highest: built-in defaults, system file,
// user file, project file, then WAKEUP_* environment variables.
package am

import "time"

// Config represents the wake-up service configuration
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database" toml:"database"`
	Server    ServerConfig    `mapstructure:"server" toml:"server"`
	Scheduler SchedulerConfig `mapstructure:"scheduler" toml:"scheduler"`
	Workers   WorkersConfig   `mapstructure:"workers" toml:"workers"`
	Provider  ProviderConfig  `mapstructure:"provider" toml:"provider"`
	Weather   WeatherConfig   `mapstructure:"weather" toml:"weather"`
	Interact  InteractConfig  `mapstructure:"interact" toml:"interact"`
	Logging   LoggingConfig   `mapstructure:"logging" toml:"logging"`
}

// DatabaseConfig configures the SQLite database
type DatabaseConfig struct {
	Path string `mapstructure:"path" toml:"path"`
}

// ServerConfig configures the webhook and API server
type ServerConfig struct {
	Addr      string `mapstructure:"addr" toml:"addr"`
	PublicURL string `mapstructure:"public_url" toml:"public_url"` // base URL the provider calls back on
}

// SchedulerConfig configures due-record detection
type SchedulerConfig struct {
	TickIntervalSeconds int    `mapstructure:"tick_interval_seconds" toml:"tick_interval_seconds"`
	ToleranceSeconds    int    `mapstructure:"tolerance_seconds" toml:"tolerance_seconds"` // 0 = same as tick interval
	LeaseSeconds        int    `mapstructure:"lease_seconds" toml:"lease_seconds"`
	MaxLatenessSeconds  int    `mapstructure:"max_lateness_seconds" toml:"max_lateness_seconds"` // expired claims are retried until this long after the scheduled time
	MaintenanceCron     string `mapstructure:"maintenance_cron" toml:"maintenance_cron"`
}

// WorkersConfig configures the execution worker pool
type WorkersConfig struct {
	Count              int     `mapstructure:"count" toml:"count"`
	QueueSize          int     `mapstructure:"queue_size" toml:"queue_size"`
	TaskTimeoutSeconds int     `mapstructure:"task_timeout_seconds" toml:"task_timeout_seconds"`
	RatePerSecond      float64 `mapstructure:"rate_per_second" toml:"rate_per_second"` // 0 = unlimited
}

// ProviderConfig configures the telephony gateway (Twilio)
type ProviderConfig struct {
	Enabled          bool   `mapstructure:"enabled" toml:"enabled"`
	AccountSID       string `mapstructure:"account_sid" toml:"account_sid"`
	AuthToken        string `mapstructure:"auth_token" toml:"-"`
	FromNumber       string `mapstructure:"from_number" toml:"from_number"`
	VerifyServiceSID string `mapstructure:"verify_service_sid" toml:"verify_service_sid"`
	BaseURL          string `mapstructure:"base_url" toml:"base_url"`
	VerifyBaseURL    string `mapstructure:"verify_base_url" toml:"verify_base_url"`
	TimeoutSeconds   int    `mapstructure:"timeout_seconds" toml:"timeout_seconds"`
	SMSLimit         int    `mapstructure:"sms_limit" toml:"sms_limit"`
	RecordCalls      bool   `mapstructure:"record_calls" toml:"record_calls"`
}

// WeatherConfig configures the weather lookup (OpenWeatherMap)
type WeatherConfig struct {
	Enabled        bool   `mapstructure:"enabled" toml:"enabled"`
	APIKey         string `mapstructure:"api_key" toml:"-"`
	BaseURL        string `mapstructure:"base_url" toml:"base_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds" toml:"timeout_seconds"`
}

// InteractConfig configures inbound interaction handling
type InteractConfig struct {
	ReplyLimitPerMinute int `mapstructure:"reply_limit_per_minute" toml:"reply_limit_per_minute"` // SMS replies per sender, 0 = unlimited
}

// LoggingConfig configures log output
type LoggingConfig struct {
	JSON  bool   `mapstructure:"json" toml:"json"`
	Level string `mapstructure:"level" toml:"level"`
}

// TickInterval returns the scheduler tick interval as a duration
func (s SchedulerConfig) TickInterval() time.Duration {
	return time.Duration(s.TickIntervalSeconds) * time.Second
}

// Tolerance returns the due-window half width. Defaults to the tick interval.
func (s SchedulerConfig) Tolerance() time.Duration {
	if s.ToleranceSeconds <= 0 {
		return s.TickInterval()
	}
	return time.Duration(s.ToleranceSeconds) * time.Second
}

// Lease returns how long a claim stays exclusive
func (s SchedulerConfig) Lease() time.Duration {
	return time.Duration(s.LeaseSeconds) * time.Second
}

// MaxLateness returns how long after its scheduled time an expired claim may
// still be retried. Never shorter than the tolerance.
func (s SchedulerConfig) MaxLateness() time.Duration {
	d := time.Duration(s.MaxLatenessSeconds) * time.Second
	if d < s.Tolerance() {
		return s.Tolerance()
	}
	return d
}

// TaskTimeout returns the per-execution deadline
func (w WorkersConfig) TaskTimeout() time.Duration {
	return time.Duration(w.TaskTimeoutSeconds) * time.Second
}

// Timeout returns the HTTP timeout for provider requests
func (p ProviderConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutSeconds) * time.Second
}

// Timeout returns the HTTP timeout for weather requests
func (w WeatherConfig) Timeout() time.Duration {
	return time.Duration(w.TimeoutSeconds) * time.Second
}
