// Package config parses Aegis's process configuration: the environment
// variables spec.md §6 enumerates. For AEGIS_MCP_CONFIG it keeps only the
// path; cmd/aegisd reads the YAML upstream-servers file itself. Parsing
// failures are reported as
// aegiserr.ConfigurationError so cmd/aegisd can exit(1) per spec.md §6's
// "1 config/startup failure" exit code without a type switch at the call
// site.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/aegis-proxy/aegis/pkg/aegiserr"
)

// Config is the full process configuration (spec.md §6).
type Config struct {
	Port        int
	LogLevel    string
	LLMProvider string
	LLMModel    string
	LLMTimeout  time.Duration

	CacheEnabled bool
	CacheTTL     time.Duration
	CacheMaxSize int

	MaxConcurrentRequests int
	RequestTimeout        time.Duration

	APIAuthEnabled bool
	APIAuthToken   string

	AegisMCPConfig string

	// MaxDelegationDepth is not in spec.md §6's literal enumerated
	// env-var list, but §4.9 requires it be configurable per deployment;
	// supplemented here as AEGIS_MAX_DELEGATION_DEPTH, defaulting to the
	// spec's stated default of 3 when unset.
	MaxDelegationDepth int

	// PolicyStorePath, AuditLogPath and ReportSinkPath are likewise
	// supplemented beyond spec.md §6's enumerated list: §6's "Persisted
	// state" names policies JSON, policy history JSON, and an append-only
	// audit log as on-disk artifacts every deployment needs a path for,
	// but never names the env var. AEGIS_-prefixed to match
	// AEGIS_MAX_DELEGATION_DEPTH and AEGIS_MCP_CONFIG's precedent.
	PolicyStorePath string
	AuditLogPath    string
	ReportSinkPath  string
}

// defaults mirror spec.md's stated defaults where one is given, and
// otherwise the most conservative (safest, smallest) value.
func defaults() Config {
	return Config{
		Port:                   8080,
		LogLevel:               "info",
		LLMProvider:            "",
		LLMModel:               "",
		LLMTimeout:             15 * time.Second,
		CacheEnabled:           true,
		CacheTTL:               5 * time.Minute,
		CacheMaxSize:           10000,
		MaxConcurrentRequests:  100,
		RequestTimeout:         30 * time.Second,
		APIAuthEnabled:         false,
		APIAuthToken:           "",
		AegisMCPConfig:         "",
		MaxDelegationDepth:     3,
		PolicyStorePath:        "./data/policies.json",
		AuditLogPath:           "./data/audit.jsonl",
		ReportSinkPath:         "./data/reports.jsonl",
	}
}

// Load reads the process environment into a Config, applying defaults()
// for anything unset and validating the result.
func Load() (*Config, error) {
	cfg := defaults()

	if v, ok := os.LookupEnv("PORT"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, &aegiserr.ConfigurationError{Field: "PORT", Detail: err.Error()}
		}
		cfg.Port = n
	}
	if v, ok := os.LookupEnv("LOG_LEVEL"); ok {
		cfg.LogLevel = v
	}
	if v, ok := os.LookupEnv("LLM_PROVIDER"); ok {
		cfg.LLMProvider = v
	}
	if v, ok := os.LookupEnv("LLM_MODEL"); ok {
		cfg.LLMModel = v
	}
	if v, ok := os.LookupEnv("LLM_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, &aegiserr.ConfigurationError{Field: "LLM_TIMEOUT", Detail: err.Error()}
		}
		cfg.LLMTimeout = d
	}
	if v, ok := os.LookupEnv("CACHE_ENABLED"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, &aegiserr.ConfigurationError{Field: "CACHE_ENABLED", Detail: err.Error()}
		}
		cfg.CacheEnabled = b
	}
	if v, ok := os.LookupEnv("CACHE_TTL"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, &aegiserr.ConfigurationError{Field: "CACHE_TTL", Detail: err.Error()}
		}
		cfg.CacheTTL = d
	}
	if v, ok := os.LookupEnv("CACHE_MAX_SIZE"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, &aegiserr.ConfigurationError{Field: "CACHE_MAX_SIZE", Detail: err.Error()}
		}
		cfg.CacheMaxSize = n
	}
	if v, ok := os.LookupEnv("MAX_CONCURRENT_REQUESTS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, &aegiserr.ConfigurationError{Field: "MAX_CONCURRENT_REQUESTS", Detail: err.Error()}
		}
		cfg.MaxConcurrentRequests = n
	}
	if v, ok := os.LookupEnv("REQUEST_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, &aegiserr.ConfigurationError{Field: "REQUEST_TIMEOUT", Detail: err.Error()}
		}
		cfg.RequestTimeout = d
	}
	if v, ok := os.LookupEnv("API_AUTH_ENABLED"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, &aegiserr.ConfigurationError{Field: "API_AUTH_ENABLED", Detail: err.Error()}
		}
		cfg.APIAuthEnabled = b
	}
	if v, ok := os.LookupEnv("API_AUTH_TOKEN"); ok {
		cfg.APIAuthToken = v
	}
	if v, ok := os.LookupEnv("AEGIS_MCP_CONFIG"); ok {
		cfg.AegisMCPConfig = v
	}
	if v, ok := os.LookupEnv("AEGIS_MAX_DELEGATION_DEPTH"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, &aegiserr.ConfigurationError{Field: "AEGIS_MAX_DELEGATION_DEPTH", Detail: err.Error()}
		}
		cfg.MaxDelegationDepth = n
	}
	if v, ok := os.LookupEnv("AEGIS_POLICY_STORE_PATH"); ok {
		cfg.PolicyStorePath = v
	}
	if v, ok := os.LookupEnv("AEGIS_AUDIT_LOG_PATH"); ok {
		cfg.AuditLogPath = v
	}
	if v, ok := os.LookupEnv("AEGIS_REPORT_SINK_PATH"); ok {
		cfg.ReportSinkPath = v
	}

	if cfg.APIAuthEnabled && cfg.APIAuthToken == "" {
		return nil, &aegiserr.ConfigurationError{Field: "API_AUTH_TOKEN", Detail: "required when API_AUTH_ENABLED=true"}
	}

	return &cfg, nil
}
