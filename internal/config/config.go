// Package config decodes the YAML configuration file for agentscriptd:
// the listen address the broker serves on, the default security level and
// its per-level overrides, structured logging, and the resource-budget
// defaults new sessions inherit unless a create-session request overrides
// them. Grounded on the teacher's internal/config package: a
// struct-of-structs decoded with gopkg.in/yaml.v3, KnownFields(true) so a
// typo'd key fails loudly, environment-variable overrides applied after
// decode, defaults applied after that, then a single aggregated
// validation pass.
package config

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/haasonsaas/agentscript/internal/script/preset"
	"github.com/haasonsaas/agentscript/internal/session"
)

// CurrentVersion is the latest config file version this build understands.
const CurrentVersion = 1

// Config is the top-level agentscriptd configuration.
type Config struct {
	Version  int            `yaml:"version"`
	Server   ServerConfig   `yaml:"server"`
	Security SecurityConfig `yaml:"security"`
	Logging  LoggingConfig  `yaml:"logging"`
	Limits   LimitsConfig   `yaml:"limits"`
}

// ServerConfig configures the broker's listen address and capacity.
type ServerConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	MetricsPort int    `yaml:"metrics_port"`

	// MaxSessions bounds concurrent in-flight sessions. 0 means unbounded.
	MaxSessions int `yaml:"max_sessions"`
}

// SecurityConfig picks the default preset.Level new sessions run under
// and lets individual levels be tightened further than their built-in
// defaults.
type SecurityConfig struct {
	DefaultLevel string                        `yaml:"default_level"`
	Levels       map[string]SecurityLevelTweak `yaml:"levels"`
}

// SecurityLevelTweak layers onto a preset.Level's built-in rule options
// without replacing them: ExtraGlobals and ToolAllowlist are additive,
// matching preset.Builder's own additive WithExtraGlobals/WithToolAllowlist
// semantics.
type SecurityLevelTweak struct {
	ExtraGlobals  []string `yaml:"extra_globals"`
	ToolAllowlist []string `yaml:"tool_allowlist"`
}

// LoggingConfig controls the structured logger's verbosity and encoding.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LimitsConfig mirrors session.Limits' overridable fields; zero values
// here mean "use preset.DefaultLimits' own default for this field", the
// same fallthrough a CreateSessionRequest.limits override uses.
type LimitsConfig struct {
	SessionTTLMs        int64 `yaml:"session_ttl_ms"`
	MaxToolCalls        int64 `yaml:"max_tool_calls"`
	MaxStdoutBytes      int64 `yaml:"max_stdout_bytes"`
	MaxToolResultBytes  int64 `yaml:"max_tool_result_bytes"`
	ToolTimeoutMs       int64 `yaml:"tool_timeout_ms"`
	HeartbeatIntervalMs int64 `yaml:"heartbeat_interval_ms"`
}

// Load reads, decodes, defaults, and validates the configuration file at
// path. Environment variables take precedence over file contents;
// defaults fill anything still unset after that.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	decoder := yaml.NewDecoder(strings.NewReader(expanded))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("failed to parse config: expected single document")
	}

	if err := ValidateVersion(cfg.Version); err != nil {
		return nil, err
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Default returns a Config with every default applied and no file read,
// for callers that are fine running agentscriptd with no config file.
func Default() *Config {
	cfg := &Config{Version: CurrentVersion}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8443
	}
	if cfg.Server.MetricsPort == 0 {
		cfg.Server.MetricsPort = 9090
	}

	if cfg.Security.DefaultLevel == "" {
		cfg.Security.DefaultLevel = string(preset.LevelStandard)
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if value := strings.TrimSpace(os.Getenv("AGENTSCRIPT_HOST")); value != "" {
		cfg.Server.Host = value
	}
	if value := strings.TrimSpace(os.Getenv("AGENTSCRIPT_PORT")); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			cfg.Server.Port = parsed
		}
	}
	if value := strings.TrimSpace(os.Getenv("AGENTSCRIPT_METRICS_PORT")); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			cfg.Server.MetricsPort = parsed
		}
	}
	if value := strings.TrimSpace(os.Getenv("AGENTSCRIPT_DEFAULT_LEVEL")); value != "" {
		cfg.Security.DefaultLevel = value
	}
	if value := strings.TrimSpace(os.Getenv("AGENTSCRIPT_LOG_LEVEL")); value != "" {
		cfg.Logging.Level = value
	}
}

// ConfigValidationError aggregates every validation issue found in one
// pass, so a caller fixing a config file sees every problem at once
// instead of one per Load attempt.
type ConfigValidationError struct {
	Issues []string
}

func (e *ConfigValidationError) Error() string {
	return "config validation failed:\n- " + strings.Join(e.Issues, "\n- ")
}

func validateConfig(cfg *Config) error {
	if cfg == nil {
		return nil
	}

	var issues []string

	if !validLevel(cfg.Security.DefaultLevel) {
		issues = append(issues, fmt.Sprintf("security.default_level %q must be one of STRICT, SECURE, STANDARD, PERMISSIVE", cfg.Security.DefaultLevel))
	}
	for name := range cfg.Security.Levels {
		if !validLevel(name) {
			issues = append(issues, fmt.Sprintf("security.levels key %q must be one of STRICT, SECURE, STANDARD, PERMISSIVE", name))
		}
	}

	if !validLogLevel(cfg.Logging.Level) {
		issues = append(issues, fmt.Sprintf("logging.level %q must be one of debug, info, warn, error", cfg.Logging.Level))
	}
	if !validLogFormat(cfg.Logging.Format) {
		issues = append(issues, fmt.Sprintf("logging.format %q must be \"json\" or \"text\"", cfg.Logging.Format))
	}

	if cfg.Server.MaxSessions < 0 {
		issues = append(issues, "server.max_sessions must be >= 0")
	}
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		issues = append(issues, "server.port must be between 0 and 65535")
	}
	if cfg.Server.MetricsPort < 0 || cfg.Server.MetricsPort > 65535 {
		issues = append(issues, "server.metrics_port must be between 0 and 65535")
	}

	for field, value := range map[string]int64{
		"limits.session_ttl_ms":        cfg.Limits.SessionTTLMs,
		"limits.max_tool_calls":        cfg.Limits.MaxToolCalls,
		"limits.max_stdout_bytes":      cfg.Limits.MaxStdoutBytes,
		"limits.max_tool_result_bytes": cfg.Limits.MaxToolResultBytes,
		"limits.tool_timeout_ms":       cfg.Limits.ToolTimeoutMs,
		"limits.heartbeat_interval_ms": cfg.Limits.HeartbeatIntervalMs,
	} {
		if value < 0 {
			issues = append(issues, fmt.Sprintf("%s must be >= 0", field))
		}
	}

	if len(issues) > 0 {
		return &ConfigValidationError{Issues: issues}
	}
	return nil
}

func validLevel(level string) bool {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case string(preset.LevelStrict), string(preset.LevelSecure), string(preset.LevelStandard), string(preset.LevelPermissive):
		return true
	default:
		return false
	}
}

func validLogLevel(level string) bool {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug", "info", "warn", "error":
		return true
	default:
		return false
	}
}

func validLogFormat(format string) bool {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json", "text":
		return true
	default:
		return false
	}
}

// VersionError describes a configuration version mismatch.
type VersionError struct {
	Version int
	Current int
	Reason  string
}

func (e *VersionError) Error() string {
	if e.Reason == "newer than this build" {
		return fmt.Sprintf("config version %d is newer than this build (current: %d); upgrade agentscriptd to continue", e.Version, e.Current)
	}
	return fmt.Sprintf("config version %d is %s (current: %d)", e.Version, e.Reason, e.Current)
}

// ValidateVersion ensures the config file declares a version this build
// understands.
func ValidateVersion(version int) error {
	if version <= 0 {
		return &VersionError{Version: version, Current: CurrentVersion, Reason: "missing"}
	}
	if version < CurrentVersion {
		return &VersionError{Version: version, Current: CurrentVersion, Reason: "outdated"}
	}
	if version > CurrentVersion {
		return &VersionError{Version: version, Current: CurrentVersion, Reason: "newer than this build"}
	}
	return nil
}

// ToPreset builds a preset.Preset for level using cfg's per-level tweaks,
// if any are configured for it.
func (cfg *Config) ToPreset(level preset.Level) preset.Preset {
	b := preset.NewBuilder(level)
	if tweak, ok := cfg.Security.Levels[string(level)]; ok {
		if len(tweak.ExtraGlobals) > 0 {
			b = b.WithExtraGlobals(tweak.ExtraGlobals...)
		}
		if len(tweak.ToolAllowlist) > 0 {
			b = b.WithToolAllowlist(tweak.ToolAllowlist...)
		}
	}
	return b.Build()
}

// DefaultLevel returns the configured default preset.Level.
func (cfg *Config) DefaultLevel() preset.Level {
	return preset.Level(strings.ToUpper(strings.TrimSpace(cfg.Security.DefaultLevel)))
}

// ApplyTo overlays any non-zero field in l onto base, the same
// narrow-or-widen semantics session.Limits.ApplyOverrides uses for a
// per-request override. Intended to sit between the preset's own
// defaults and a request's overrides: preset defaults < config defaults
// < request overrides.
func (l LimitsConfig) ApplyTo(base session.Limits) session.Limits {
	out := base
	if l.SessionTTLMs > 0 {
		out.SessionTTLMs = l.SessionTTLMs
	}
	if l.MaxToolCalls > 0 {
		out.MaxToolCalls = l.MaxToolCalls
	}
	if l.MaxStdoutBytes > 0 {
		out.MaxStdoutBytes = l.MaxStdoutBytes
	}
	if l.MaxToolResultBytes > 0 {
		out.MaxToolResultBytes = l.MaxToolResultBytes
	}
	if l.ToolTimeoutMs > 0 {
		out.ToolTimeoutMs = l.ToolTimeoutMs
	}
	if l.HeartbeatIntervalMs > 0 {
		out.HeartbeatIntervalMs = l.HeartbeatIntervalMs
	}
	return out
}
