// Package config handles configuration loading, validation, and
// management for guardiand.
package config

import (
	"os"
	"path/filepath"
)

// Version is the current configuration schema version.
const Version = 1

// Config holds the complete daemon configuration.
type Config struct {
	// Version is the configuration schema version.
	Version int `toml:"version" json:"version" yaml:"version"`

	// Profile selects the active age group and strictness.
	Profile ProfileConfig `toml:"profile" json:"profile" yaml:"profile"`

	// Monitor configures input segmentation.
	Monitor MonitorConfig `toml:"monitor" json:"monitor" yaml:"monitor"`

	// Capture configures screenshot correlation.
	Capture CaptureConfig `toml:"capture" json:"capture" yaml:"capture"`

	// Analysis configures the content analysis dispatch and cache.
	Analysis AnalysisConfig `toml:"analysis" json:"analysis" yaml:"analysis"`

	// Rules configures the judgment rule table.
	Rules RulesConfig `toml:"rules" json:"rules" yaml:"rules"`

	// Lock configures the lock coordinator.
	Lock LockConfig `toml:"lock" json:"lock" yaml:"lock"`

	// Dashboard configures the parent dashboard fan-out.
	Dashboard DashboardConfig `toml:"dashboard" json:"dashboard" yaml:"dashboard"`

	// Notify configures parent notifications.
	Notify NotifyConfig `toml:"notify" json:"notify" yaml:"notify"`

	// Storage configures session persistence.
	Storage StorageConfig `toml:"storage" json:"storage" yaml:"storage"`

	// Logging configures structured logging.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`

	// IPC configures the control socket for guardianctl.
	IPC IPCConfig `toml:"ipc" json:"ipc" yaml:"ipc"`
}

// ProfileConfig selects the rule applicability axes.
type ProfileConfig struct {
	// AgeGroup is one of elementary, middle_school, high_school.
	AgeGroup string `toml:"age_group" json:"age_group" yaml:"age_group"`

	// Strictness is one of permissive, moderate, strict.
	Strictness string `toml:"strictness" json:"strictness" yaml:"strictness"`
}

// MonitorConfig holds input aggregation thresholds.
type MonitorConfig struct {
	// IdleTimeoutMs finalizes an open segment after this much silence.
	IdleTimeoutMs int `toml:"idle_timeout_ms" json:"idle_timeout_ms" yaml:"idle_timeout_ms"`

	// IdleShortMs is the reduced silence window once the buffer holds
	// LengthThreshold characters.
	IdleShortMs int `toml:"idle_short_ms" json:"idle_short_ms" yaml:"idle_short_ms"`

	// LengthThreshold is the buffered length at which IdleShortMs applies.
	LengthThreshold int `toml:"length_threshold" json:"length_threshold" yaml:"length_threshold"`

	// HardCap force-finalizes an unterminated segment.
	HardCap int `toml:"hard_cap" json:"hard_cap" yaml:"hard_cap"`

	// TickMs is the idle-check interval of the monitoring loop.
	TickMs int `toml:"tick_ms" json:"tick_ms" yaml:"tick_ms"`
}

// CaptureConfig holds screenshot correlation settings.
type CaptureConfig struct {
	// Enabled toggles screenshots entirely; analysis is text-only when off.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// Command is the screenshot command line (must write an encoded
	// image to stdout). Empty probes grim, scrot, import in order.
	Command []string `toml:"command" json:"command" yaml:"command"`

	// TimeoutMs bounds one capture attempt.
	TimeoutMs int `toml:"timeout_ms" json:"timeout_ms" yaml:"timeout_ms"`

	// QueueDepth bounds pending segments behind an in-flight capture.
	QueueDepth int `toml:"queue_depth" json:"queue_depth" yaml:"queue_depth"`

	// FailureWarnAfter surfaces a health warning after this many
	// consecutive capture failures.
	FailureWarnAfter int `toml:"failure_warn_after" json:"failure_warn_after" yaml:"failure_warn_after"`
}

// AnalysisConfig holds analysis dispatch settings.
type AnalysisConfig struct {
	// Endpoint is the URL of the multimodal analysis service. Empty
	// selects the built-in local heuristic analyzer.
	Endpoint string `toml:"endpoint" json:"endpoint" yaml:"endpoint"`

	// APIKey is sent as a bearer token on analysis calls.
	APIKey string `toml:"api_key" json:"api_key" yaml:"api_key"`

	// TimeoutSec is the hard timeout for one analysis call.
	TimeoutSec int `toml:"timeout_sec" json:"timeout_sec" yaml:"timeout_sec"`

	// CacheTTLMin is the verdict cache TTL in minutes.
	CacheTTLMin int `toml:"cache_ttl_min" json:"cache_ttl_min" yaml:"cache_ttl_min"`

	// CacheSize bounds the verdict cache (LRU eviction).
	CacheSize int `toml:"cache_size" json:"cache_size" yaml:"cache_size"`

	// EmergencyKeywords force block when present in typed text.
	// Empty uses the built-in list.
	EmergencyKeywords []string `toml:"emergency_keywords" json:"emergency_keywords" yaml:"emergency_keywords"`
}

// RulesConfig holds the judgment rule table settings.
type RulesConfig struct {
	// Path is an optional JSON rules file appended to the built-in
	// table. Watched for changes; edits trigger an explicit reload.
	Path string `toml:"path" json:"path" yaml:"path"`
}

// LockConfig holds lock coordinator settings.
type LockConfig struct {
	// TimeoutSec is the approval timeout from lock creation.
	TimeoutSec int `toml:"timeout_sec" json:"timeout_sec" yaml:"timeout_sec"`

	// OnTimeout is "remain-locked" (default) or "auto-allow".
	// Auto-allow is an explicit opt-in and is logged prominently.
	OnTimeout string `toml:"on_timeout" json:"on_timeout" yaml:"on_timeout"`

	// Persist keeps lock state across daemon restarts.
	Persist bool `toml:"persist" json:"persist" yaml:"persist"`
}

// Lock timeout policies.
const (
	OnTimeoutRemainLocked = "remain-locked"
	OnTimeoutAutoAllow    = "auto-allow"
)

// DashboardConfig holds the WebSocket fan-out settings.
type DashboardConfig struct {
	// Enabled toggles the dashboard server.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// Addr is the listen address for dashboard clients.
	Addr string `toml:"addr" json:"addr" yaml:"addr"`

	// ParentPINHash is the bcrypt hash of the parent PIN. Approvals
	// and remote unlock require a PIN-authenticated client.
	ParentPINHash string `toml:"parent_pin_hash" json:"parent_pin_hash" yaml:"parent_pin_hash"`

	// HeartbeatSec is the expected client heartbeat interval.
	HeartbeatSec int `toml:"heartbeat_sec" json:"heartbeat_sec" yaml:"heartbeat_sec"`
}

// NotifyConfig holds parent notification settings.
type NotifyConfig struct {
	// Enabled toggles notifications.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// Backend is "dbus" (desktop notifications) or "log".
	Backend string `toml:"backend" json:"backend" yaml:"backend"`
}

// StorageConfig holds persistence settings.
type StorageConfig struct {
	// Type is "sqlite" or "memory".
	Type string `toml:"type" json:"type" yaml:"type"`

	// Path is the sqlite database file.
	Path string `toml:"path" json:"path" yaml:"path"`

	// RetentionDays prunes sessions older than this in the nightly sweep.
	RetentionDays int `toml:"retention_days" json:"retention_days" yaml:"retention_days"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is "debug", "info", "warn", or "error".
	Level string `toml:"level" json:"level" yaml:"level"`

	// Format is "text" or "json".
	Format string `toml:"format" json:"format" yaml:"format"`

	// Output is "stdout", "stderr", "file", or "both".
	Output string `toml:"output" json:"output" yaml:"output"`

	// FilePath is the log file path when Output includes "file".
	FilePath string `toml:"file_path" json:"file_path" yaml:"file_path"`

	// MaxSizeMB is the rotation threshold.
	MaxSizeMB int `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`

	// MaxBackups is the number of rotated files to keep.
	MaxBackups int `toml:"max_backups" json:"max_backups" yaml:"max_backups"`
}

// IPCConfig holds control socket settings.
type IPCConfig struct {
	// Enabled toggles the control socket.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// SocketPath is the Unix socket guardianctl connects to.
	SocketPath string `toml:"socket_path" json:"socket_path" yaml:"socket_path"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	dir := GuardianDir()

	return &Config{
		Version: Version,
		Profile: ProfileConfig{
			AgeGroup:   "elementary",
			Strictness: "moderate",
		},
		Monitor: MonitorConfig{
			IdleTimeoutMs:   2000,
			IdleShortMs:     1000,
			LengthThreshold: 10,
			HardCap:         500,
			TickMs:          250,
		},
		Capture: CaptureConfig{
			Enabled:          true,
			TimeoutMs:        500,
			QueueDepth:       5,
			FailureWarnAfter: 3,
		},
		Analysis: AnalysisConfig{
			TimeoutSec:  5,
			CacheTTLMin: 30,
			CacheSize:   256,
		},
		Rules: RulesConfig{
			Path: "",
		},
		Lock: LockConfig{
			TimeoutSec: 300,
			OnTimeout:  OnTimeoutRemainLocked,
			Persist:    true,
		},
		Dashboard: DashboardConfig{
			Enabled:      true,
			Addr:         "localhost:8080",
			HeartbeatSec: 30,
		},
		Notify: NotifyConfig{
			Enabled: true,
			Backend: "dbus",
		},
		Storage: StorageConfig{
			Type:          "sqlite",
			Path:          filepath.Join(dir, "sessions.db"),
			RetentionDays: 30,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "file",
			FilePath:   filepath.Join(dir, "guardiand.log"),
			MaxSizeMB:  50,
			MaxBackups: 5,
		},
		IPC: IPCConfig{
			Enabled:    true,
			SocketPath: defaultSocketPath(),
		},
	}
}

// GuardianDir returns the base guardiand directory, honoring the
// GUARDIAND_DATA_DIR override.
func GuardianDir() string {
	if envDir := os.Getenv("GUARDIAND_DATA_DIR"); envDir != "" {
		return envDir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".guardiand")
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	return filepath.Join(GuardianDir(), "config.toml")
}

func defaultSocketPath() string {
	if xdgRuntime := os.Getenv("XDG_RUNTIME_DIR"); xdgRuntime != "" {
		return filepath.Join(xdgRuntime, "guardiand.sock")
	}
	return filepath.Join(GuardianDir(), "guardiand.sock")
}

// ApplyEnvOverrides applies GUARDIAND_* environment overrides.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("GUARDIAND_STORAGE_PATH"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv("GUARDIAND_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("GUARDIAND_LOG_PATH"); v != "" {
		c.Logging.FilePath = v
	}
	if v := os.Getenv("GUARDIAND_SOCKET_PATH"); v != "" {
		c.IPC.SocketPath = v
	}
	if v := os.Getenv("GUARDIAND_DASHBOARD_ADDR"); v != "" {
		c.Dashboard.Addr = v
	}
	if v := os.Getenv("GUARDIAND_PARENT_PIN_HASH"); v != "" {
		c.Dashboard.ParentPINHash = v
	}
	if v := os.Getenv("GUARDIAND_RULES_PATH"); v != "" {
		c.Rules.Path = v
	}
	if v := os.Getenv("GUARDIAND_ANALYSIS_ENDPOINT"); v != "" {
		c.Analysis.Endpoint = v
	}
	if v := os.Getenv("GUARDIAND_ANALYSIS_API_KEY"); v != "" {
		c.Analysis.APIKey = v
	}
}

// EnsureDirectories creates the directories the daemon writes to.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		GuardianDir(),
		filepath.Dir(c.Storage.Path),
		filepath.Dir(c.Logging.FilePath),
		filepath.Dir(c.IPC.SocketPath),
	}
	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			return err
		}
	}
	return nil
}
