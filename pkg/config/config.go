// Package config holds the typed configuration for a browseruse run and the
// loader that merges persisted YAML, environment variables and explicit
// overrides into it.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Claim modes accepted by AgentSettings.ClaimMode.
const (
	ClaimExclusive = "exclusive"
	ClaimShared    = "shared"
)

// Config is the root configuration for a run.
type Config struct {
	Browser   BrowserProfile   `yaml:"browser" json:"browser"`
	Agent     AgentSettings    `yaml:"agent" json:"agent"`
	LLM       LLMSettings      `yaml:"llm" json:"llm"`
	Watchdogs WatchdogSettings `yaml:"watchdogs" json:"watchdogs"`
	Metrics   MetricsSettings  `yaml:"metrics" json:"metrics"`
	Logging   LoggingSettings  `yaml:"logging" json:"logging"`
}

// BrowserProfile describes how a session launches or connects to a browser.
type BrowserProfile struct {
	// Headless launches the browser without a window.
	Headless bool `yaml:"headless" json:"headless"`

	// CDPURL connects to an existing browser instead of launching one.
	CDPURL string `yaml:"cdp_url" json:"cdp_url"`

	Channel        string   `yaml:"channel" json:"channel"`
	ExecutablePath string   `yaml:"executable_path" json:"executable_path"`
	Args           []string `yaml:"args" json:"args"`
	UserAgent      string   `yaml:"user_agent" json:"user_agent"`

	ViewportWidth  int `yaml:"viewport_width" json:"viewport_width"`
	ViewportHeight int `yaml:"viewport_height" json:"viewport_height"`

	// Permissions are granted to every context on connect, using
	// playwright permission names (geolocation, clipboard-read, ...).
	Permissions []string `yaml:"permissions" json:"permissions"`

	NavigationTimeout time.Duration `yaml:"navigation_timeout" json:"navigation_timeout"`

	// MaxErrors bounds the browser errors a session keeps for its state
	// snapshot.
	MaxErrors int `yaml:"max_errors" json:"max_errors"`

	// StartURL is opened in the first tab after connecting.
	StartURL string `yaml:"start_url" json:"start_url"`
}

// AgentSettings controls the agent step loop.
type AgentSettings struct {
	MaxSteps    int    `yaml:"max_steps" json:"max_steps"`
	MaxFailures int    `yaml:"max_failures" json:"max_failures"`
	ClaimMode   string `yaml:"claim_mode" json:"claim_mode"`

	// StepTimeout bounds a single observe/decide/act step.
	StepTimeout time.Duration `yaml:"step_timeout" json:"step_timeout"`

	// RequestsPerMinute rate limits LLM calls. Zero disables limiting.
	RequestsPerMinute float64 `yaml:"requests_per_minute" json:"requests_per_minute"`

	// SensitiveData maps a domain glob ("*" for any) to placeholder values
	// substituted into <secret>key</secret> action parameters.
	SensitiveData map[string]map[string]string `yaml:"sensitive_data" json:"sensitive_data"`

	// AvailableFilePaths are files actions may read or upload.
	AvailableFilePaths []string `yaml:"available_file_paths" json:"available_file_paths"`
}

// WatchdogSettings configures the session watchdogs.
type WatchdogSettings struct {
	Crash       CrashWatchdogSettings       `yaml:"crash" json:"crash"`
	Network     NetworkWatchdogSettings     `yaml:"network" json:"network"`
	Permissions PermissionsWatchdogSettings `yaml:"permissions" json:"permissions"`
}

// CrashWatchdogSettings configures crash and responsiveness monitoring.
type CrashWatchdogSettings struct {
	Enabled             bool          `yaml:"enabled" json:"enabled"`
	HealthCheckInterval time.Duration `yaml:"health_check_interval" json:"health_check_interval"`
	HealthCheckTimeout  time.Duration `yaml:"health_check_timeout" json:"health_check_timeout"`
	FailureThreshold    int           `yaml:"failure_threshold" json:"failure_threshold"`
}

// NetworkWatchdogSettings configures pending-request tracking.
type NetworkWatchdogSettings struct {
	Enabled        bool          `yaml:"enabled" json:"enabled"`
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`
	SweepInterval  time.Duration `yaml:"sweep_interval" json:"sweep_interval"`
}

// PermissionsWatchdogSettings toggles permission granting on connect.
type PermissionsWatchdogSettings struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
}

// MetricsSettings configures the Prometheus endpoint.
type MetricsSettings struct {
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	Addr      string `yaml:"addr" json:"addr"`
	Namespace string `yaml:"namespace" json:"namespace"`
}

// LoggingSettings configures the run log.
type LoggingSettings struct {
	// Level is one of debug, info, warn, error or off.
	Level string `yaml:"level" json:"level"`
	Dir   string `yaml:"dir" json:"dir"`
}

// Default returns a configuration suitable for a local headless run.
func Default() *Config {
	return &Config{
		Browser: BrowserProfile{
			Headless:          true,
			ViewportWidth:     1280,
			ViewportHeight:    1100,
			NavigationTimeout: 30 * time.Second,
			MaxErrors:         50,
		},
		Agent: AgentSettings{
			MaxSteps:    100,
			MaxFailures: 3,
			ClaimMode:   ClaimExclusive,
			StepTimeout: 3 * time.Minute,
		},
		LLM: NewLLMSettings(),
		Watchdogs: WatchdogSettings{
			Crash: CrashWatchdogSettings{
				Enabled:             true,
				HealthCheckInterval: 10 * time.Second,
				HealthCheckTimeout:  5 * time.Second,
				FailureThreshold:    3,
			},
			Network: NetworkWatchdogSettings{
				Enabled:        true,
				RequestTimeout: 30 * time.Second,
				SweepInterval:  5 * time.Second,
			},
			Permissions: PermissionsWatchdogSettings{Enabled: true},
		},
		Metrics: MetricsSettings{
			Addr:      ":9464",
			Namespace: "browseruse",
		},
		Logging: LoggingSettings{Level: "info"},
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Agent.MaxSteps <= 0 {
		return fmt.Errorf("agent.max_steps must be positive")
	}
	if c.Agent.MaxFailures <= 0 {
		return fmt.Errorf("agent.max_failures must be positive")
	}
	if c.Agent.ClaimMode != ClaimExclusive && c.Agent.ClaimMode != ClaimShared {
		return fmt.Errorf("invalid agent.claim_mode: %s (must be '%s' or '%s')", c.Agent.ClaimMode, ClaimExclusive, ClaimShared)
	}
	if c.Agent.StepTimeout < 0 {
		return fmt.Errorf("agent.step_timeout cannot be negative")
	}
	if c.Agent.RequestsPerMinute < 0 {
		return fmt.Errorf("agent.requests_per_minute cannot be negative")
	}

	if c.Browser.ViewportWidth < 0 || c.Browser.ViewportHeight < 0 {
		return fmt.Errorf("browser viewport cannot be negative")
	}
	if c.Browser.NavigationTimeout < 0 {
		return fmt.Errorf("browser.navigation_timeout cannot be negative")
	}
	if c.Browser.MaxErrors < 0 {
		return fmt.Errorf("browser.max_errors cannot be negative")
	}

	crash := c.Watchdogs.Crash
	if crash.Enabled {
		if crash.HealthCheckInterval <= 0 {
			return fmt.Errorf("watchdogs.crash.health_check_interval must be positive")
		}
		if crash.FailureThreshold <= 0 {
			return fmt.Errorf("watchdogs.crash.failure_threshold must be positive")
		}
	}
	network := c.Watchdogs.Network
	if network.Enabled && (network.RequestTimeout <= 0 || network.SweepInterval <= 0) {
		return fmt.Errorf("watchdogs.network timeouts must be positive")
	}

	if err := c.LLM.Validate(); err != nil {
		return err
	}

	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "warning", "error", "off":
	default:
		return fmt.Errorf("invalid logging.level: %s", c.Logging.Level)
	}

	return nil
}
