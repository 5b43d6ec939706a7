package am

import (
	"github.com/spf13/viper"
)

// Default values
const (
	DefaultServerAddr          = ":8080"
	DefaultTickIntervalSeconds = 60
	DefaultLeaseSeconds        = 120
	DefaultMaxLatenessSeconds  = 1800
	DefaultMaintenanceCron     = "*/5 * * * *"
	DefaultSMSLimit            = 1600
	DefaultReplyLimitPerMinute = 5
	DefaultDirPermissions      = 0750
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.path", "wakeup.db")

	v.SetDefault("server.addr", DefaultServerAddr)
	v.SetDefault("server.public_url", "http://localhost:8080")

	v.SetDefault("scheduler.tick_interval_seconds", DefaultTickIntervalSeconds)
	v.SetDefault("scheduler.tolerance_seconds", 0) // follows tick interval
	v.SetDefault("scheduler.lease_seconds", DefaultLeaseSeconds)
	v.SetDefault("scheduler.max_lateness_seconds", DefaultMaxLatenessSeconds)
	v.SetDefault("scheduler.maintenance_cron", DefaultMaintenanceCron)

	v.SetDefault("workers.count", 4)
	v.SetDefault("workers.queue_size", 256)
	v.SetDefault("workers.task_timeout_seconds", 60)
	v.SetDefault("workers.rate_per_second", 0)

	v.SetDefault("provider.enabled", true)
	v.SetDefault("provider.base_url", "https://api.twilio.com")
	v.SetDefault("provider.verify_base_url", "https://verify.twilio.com")
	v.SetDefault("provider.timeout_seconds", 10)
	v.SetDefault("provider.sms_limit", DefaultSMSLimit)
	v.SetDefault("provider.record_calls", false)

	v.SetDefault("weather.enabled", true)
	v.SetDefault("weather.base_url", "http://api.openweathermap.org/data/2.5/weather")
	v.SetDefault("weather.timeout_seconds", 10)

	v.SetDefault("interact.reply_limit_per_minute", DefaultReplyLimitPerMinute)

	v.SetDefault("logging.json", false)
	v.SetDefault("logging.level", "info")
}

// BindSensitiveEnvVars binds credentials to their conventional environment variable names
func BindSensitiveEnvVars(v *viper.Viper) {
	_ = v.BindEnv("provider.account_sid", "WAKEUP_PROVIDER_ACCOUNT_SID", "TWILIO_ACCOUNT_SID")
	_ = v.BindEnv("provider.auth_token", "WAKEUP_PROVIDER_AUTH_TOKEN", "TWILIO_AUTH_TOKEN")
	_ = v.BindEnv("provider.from_number", "WAKEUP_PROVIDER_FROM_NUMBER", "TWILIO_PHONE_NUMBER")
	_ = v.BindEnv("provider.verify_service_sid", "WAKEUP_PROVIDER_VERIFY_SERVICE_SID", "TWILIO_VERIFY_SERVICE_SID")
	_ = v.BindEnv("weather.api_key", "WAKEUP_WEATHER_API_KEY", "OPENWEATHER_API_KEY")
}
