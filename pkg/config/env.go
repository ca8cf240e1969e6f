package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Environment variables read by Load.
const (
	EnvHeadless     = "BROWSERUSE_HEADLESS"
	EnvCDPURL       = "BROWSERUSE_CDP_URL"
	EnvPermissions  = "BROWSERUSE_PERMISSIONS"
	EnvModel        = "BROWSERUSE_MODEL"
	EnvMaxSteps     = "BROWSERUSE_MAX_STEPS"
	EnvClaimMode    = "BROWSERUSE_CLAIM_MODE"
	EnvStepTimeout  = "BROWSERUSE_STEP_TIMEOUT"
	EnvLogLevel     = "BROWSERUSE_LOG_LEVEL"
	EnvLogDir       = "BROWSERUSE_LOG_DIR"
	EnvMetricsAddr  = "BROWSERUSE_METRICS_ADDR"
	EnvOpenAIKey    = "OPENAI_API_KEY"
	EnvOpenAIBase   = "OPENAI_BASE_URL"
	EnvAPIKeyCustom = "BROWSERUSE_API_KEY"
)

type lookupFunc func(key string) (string, bool)

func applyEnv(cfg *Config, lookup lookupFunc) error {
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		if !ok {
			return "", false
		}
		v = strings.TrimSpace(v)
		return v, v != ""
	}

	if v, ok := get(EnvHeadless); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvHeadless, err)
		}
		cfg.Browser.Headless = b
	}
	if v, ok := get(EnvCDPURL); ok {
		cfg.Browser.CDPURL = v
	}
	if v, ok := get(EnvPermissions); ok {
		cfg.Browser.Permissions = splitList(v)
	}
	if v, ok := get(EnvModel); ok {
		cfg.LLM.Model = v
	}
	if v, ok := get(EnvMaxSteps); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvMaxSteps, err)
		}
		cfg.Agent.MaxSteps = n
	}
	if v, ok := get(EnvClaimMode); ok {
		cfg.Agent.ClaimMode = strings.ToLower(v)
	}
	if v, ok := get(EnvStepTimeout); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvStepTimeout, err)
		}
		cfg.Agent.StepTimeout = d
	}
	if v, ok := get(EnvLogLevel); ok {
		cfg.Logging.Level = v
	}
	if v, ok := get(EnvLogDir); ok {
		cfg.Logging.Dir = v
	}
	if v, ok := get(EnvMetricsAddr); ok {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Addr = v
	}

	// The project-specific key wins over the provider's conventional one.
	if v, ok := get(EnvOpenAIKey); ok {
		cfg.LLM.APIKey = v
	}
	if v, ok := get(EnvAPIKeyCustom); ok {
		cfg.LLM.APIKey = v
	}
	if v, ok := get(EnvOpenAIBase); ok {
		cfg.LLM.BaseURL = v
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
