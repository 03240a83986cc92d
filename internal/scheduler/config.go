package scheduler

import (
	"time"

	"github.com/smallbiznis/staybook/internal/config"
)

const (
	JobOutboxRelay  = "outbox_relay"
	JobExpirySweep  = "expiry_sweep"
	JobDailyRevenue = "daily_revenue"
)

// Config controls per-job intervals and timeouts.
type Config struct {
	OutboxRelayInterval time.Duration
	ExpirySweepInterval time.Duration
	ReportInterval      time.Duration
	JobTimeout          time.Duration
	LockTTL             time.Duration
	EnabledJobs         []string
}

func DefaultConfig() Config {
	return Config{
		OutboxRelayInterval: time.Second,
		ExpirySweepInterval: 5 * time.Minute,
		ReportInterval:      time.Minute,
		JobTimeout:          30 * time.Second,
		LockTTL:             2 * time.Minute,
	}
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		OutboxRelayInterval: cfg.Scheduler.OutboxRelayInterval,
		ExpirySweepInterval: cfg.Scheduler.ExpirySweepInterval,
		ReportInterval:      cfg.Scheduler.ReportInterval,
		EnabledJobs:         cfg.Scheduler.EnabledJobs,
	}.withDefaults()
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.OutboxRelayInterval <= 0 {
		c.OutboxRelayInterval = defaults.OutboxRelayInterval
	}
	if c.ExpirySweepInterval <= 0 {
		c.ExpirySweepInterval = defaults.ExpirySweepInterval
	}
	if c.ReportInterval <= 0 {
		c.ReportInterval = defaults.ReportInterval
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.LockTTL <= 0 {
		c.LockTTL = defaults.LockTTL
	}
	return c
}
