package am

import (
	"github.com/robfig/cron/v3"

	"github.com/teranos/wakeup/errors"
)

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database.path cannot be empty")
	}

	if c.Scheduler.TickIntervalSeconds <= 0 {
		return errors.Newf("scheduler.tick_interval_seconds must be > 0, got %d", c.Scheduler.TickIntervalSeconds)
	}
	if c.Scheduler.ToleranceSeconds < 0 {
		return errors.Newf("scheduler.tolerance_seconds must be >= 0, got %d", c.Scheduler.ToleranceSeconds)
	}
	if c.Scheduler.LeaseSeconds <= 0 {
		return errors.Newf("scheduler.lease_seconds must be > 0, got %d", c.Scheduler.LeaseSeconds)
	}
	if c.Scheduler.MaxLatenessSeconds < 0 {
		return errors.Newf("scheduler.max_lateness_seconds must be >= 0, got %d", c.Scheduler.MaxLatenessSeconds)
	}
	if c.Scheduler.MaintenanceCron != "" {
		if _, err := cron.ParseStandard(c.Scheduler.MaintenanceCron); err != nil {
			return errors.Wrapf(err, "scheduler.maintenance_cron %q is not a valid cron expression", c.Scheduler.MaintenanceCron)
		}
	}

	if c.Workers.Count <= 0 {
		return errors.Newf("workers.count must be > 0, got %d", c.Workers.Count)
	}
	if c.Workers.QueueSize <= 0 {
		return errors.Newf("workers.queue_size must be > 0, got %d", c.Workers.QueueSize)
	}
	if c.Workers.TaskTimeoutSeconds <= 0 {
		return errors.Newf("workers.task_timeout_seconds must be > 0, got %d", c.Workers.TaskTimeoutSeconds)
	}
	if c.Workers.RatePerSecond < 0 {
		return errors.Newf("workers.rate_per_second must be >= 0, got %f", c.Workers.RatePerSecond)
	}

	if c.Provider.TimeoutSeconds <= 0 {
		return errors.Newf("provider.timeout_seconds must be > 0, got %d", c.Provider.TimeoutSeconds)
	}
	if c.Provider.SMSLimit <= 0 {
		return errors.Newf("provider.sms_limit must be > 0, got %d", c.Provider.SMSLimit)
	}
	if c.Weather.TimeoutSeconds <= 0 {
		return errors.Newf("weather.timeout_seconds must be > 0, got %d", c.Weather.TimeoutSeconds)
	}
	if c.Interact.ReplyLimitPerMinute < 0 {
		return errors.Newf("interact.reply_limit_per_minute must be >= 0, got %d", c.Interact.ReplyLimitPerMinute)
	}

	return nil
}

// ApplyCredentialGates turns off integrations that are enabled but lack
// credentials. Returns one message per integration it disabled.
func (c *Config) ApplyCredentialGates() []string {
	var disabled []string

	if c.Provider.Enabled && (c.Provider.AccountSID == "" || c.Provider.AuthToken == "" || c.Provider.FromNumber == "") {
		c.Provider.Enabled = false
		disabled = append(disabled, "provider disabled: account_sid, auth_token and from_number are required")
	}
	if c.Weather.Enabled && c.Weather.APIKey == "" {
		c.Weather.Enabled = false
		disabled = append(disabled, "weather disabled: api_key is required")
	}

	return disabled
}
