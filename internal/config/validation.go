package config

import (
	"errors"
	"fmt"
)

// ErrInvalidConfig wraps all validation failures.
var ErrInvalidConfig = errors.New("invalid configuration")

// Validate checks the configuration for errors. Misconfiguration is
// fatal at startup: the daemon refuses to run rather than monitor with
// a policy it cannot honor.
func (c *Config) Validate() error {
	var problems []string

	switch c.Profile.AgeGroup {
	case "elementary", "middle_school", "high_school":
	default:
		problems = append(problems, fmt.Sprintf("profile.age_group: unknown value %q", c.Profile.AgeGroup))
	}
	switch c.Profile.Strictness {
	case "permissive", "moderate", "strict":
	default:
		problems = append(problems, fmt.Sprintf("profile.strictness: unknown value %q", c.Profile.Strictness))
	}

	if c.Monitor.IdleTimeoutMs <= 0 {
		problems = append(problems, "monitor.idle_timeout_ms must be positive")
	}
	if c.Monitor.HardCap <= 0 {
		problems = append(problems, "monitor.hard_cap must be positive")
	}
	if c.Monitor.LengthThreshold <= 0 {
		problems = append(problems, "monitor.length_threshold must be positive")
	}

	if c.Capture.QueueDepth <= 0 {
		problems = append(problems, "capture.queue_depth must be positive")
	}
	if c.Capture.TimeoutMs <= 0 {
		problems = append(problems, "capture.timeout_ms must be positive")
	}

	if c.Analysis.TimeoutSec <= 0 {
		problems = append(problems, "analysis.timeout_sec must be positive")
	}
	if c.Analysis.CacheSize <= 0 {
		problems = append(problems, "analysis.cache_size must be positive")
	}

	if c.Lock.TimeoutSec <= 0 {
		problems = append(problems, "lock.timeout_sec must be positive")
	}
	switch c.Lock.OnTimeout {
	case OnTimeoutRemainLocked, OnTimeoutAutoAllow:
	default:
		problems = append(problems, fmt.Sprintf("lock.on_timeout: unknown policy %q", c.Lock.OnTimeout))
	}

	switch c.Storage.Type {
	case "sqlite":
		if c.Storage.Path == "" {
			problems = append(problems, "storage.path required for sqlite")
		}
	case "memory":
	default:
		problems = append(problems, fmt.Sprintf("storage.type: unknown value %q", c.Storage.Type))
	}

	switch c.Notify.Backend {
	case "dbus", "log", "":
	default:
		problems = append(problems, fmt.Sprintf("notify.backend: unknown value %q", c.Notify.Backend))
	}

	if c.Dashboard.Enabled && c.Dashboard.Addr == "" {
		problems = append(problems, "dashboard.addr required when dashboard is enabled")
	}

	if len(problems) > 0 {
		msg := problems[0]
		for _, p := range problems[1:] {
			msg += "; " + p
		}
		return fmt.Errorf("%w: %s", ErrInvalidConfig, msg)
	}
	return nil
}
