// Package config handles loading and validating warden configuration.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	units "github.com/docker/go-units"
	goutils "github.com/jkaninda/go-utils"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/jkaninda/warden/internal/sandbox"
	"github.com/jkaninda/warden/internal/security"
)

func init() {
	// Load .env file if it exists
	_ = godotenv.Load()
}

// Config is the root configuration for warden.
type Config struct {
	Workspace     string              `json:"workspace" yaml:"workspace"` // Default: ~/.warden/workspace. Override: WARDEN_WORKSPACE.
	Logging       LoggingConfig       `json:"logging" yaml:"logging"`
	Runtime       RuntimeConfig       `json:"runtime" yaml:"runtime"`
	Security      SecurityConfig      `json:"security" yaml:"security"`
	Tools         ToolsConfig         `json:"tools" yaml:"tools"`
	Observability ObservabilityConfig `json:"observability" yaml:"observability"`
	HTTP          HTTPConfig          `json:"http" yaml:"http"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`   // debug|info|warn|error. Override: WARDEN_LOG_LEVEL.
	Format string `json:"format" yaml:"format"` // json|text
}

// RuntimeConfig selects the sandbox backend. Override: WARDEN_RUNTIME.
type RuntimeConfig struct {
	Type               string           `json:"type" yaml:"type"`
	MountAllowlistPath string           `json:"mount_allowlist_path" yaml:"mount_allowlist_path"`
	Docker             DockerConfig     `json:"docker" yaml:"docker"`
	Apple              AppleConfig      `json:"apple" yaml:"apple"`
	Landlock           LandlockConfig   `json:"landlock" yaml:"landlock"`
	Firejail           FirejailConfig   `json:"firejail" yaml:"firejail"`
	Bubblewrap         BubblewrapConfig `json:"bubblewrap" yaml:"bubblewrap"`
}

type DockerConfig struct {
	Image       string   `json:"image" yaml:"image"`
	MemoryLimit string   `json:"memory_limit" yaml:"memory_limit"` // docker --memory, e.g. "512m"
	CPULimit    string   `json:"cpu_limit" yaml:"cpu_limit"`       // docker --cpus, e.g. "1.0"
	Network     string   `json:"network" yaml:"network"`
	NoLimits    bool     `json:"no_limits" yaml:"no_limits"`
	ExtraMounts []string `json:"extra_mounts" yaml:"extra_mounts"` // host:container[:ro]
}

type AppleConfig struct {
	Image       string   `json:"image" yaml:"image"`
	ExtraMounts []string `json:"extra_mounts" yaml:"extra_mounts"`
}

type LandlockConfig struct {
	ReadDirs         []string `json:"fs_read_dirs" yaml:"fs_read_dirs"`
	WriteDirs        []string `json:"fs_write_dirs" yaml:"fs_write_dirs"`
	IncludeWorkspace bool     `json:"include_workspace" yaml:"include_workspace"`
	Strict           bool     `json:"strict" yaml:"strict"` // refuse to run on kernels without Landlock
}

type FirejailConfig struct {
	Profile   string   `json:"profile" yaml:"profile"`
	ExtraArgs []string `json:"extra_args" yaml:"extra_args"`
}

type BubblewrapConfig struct {
	ROBinds   []string `json:"ro_binds" yaml:"ro_binds"`
	DevBind   bool     `json:"dev_bind" yaml:"dev_bind"`
	ProcBind  bool     `json:"proc_bind" yaml:"proc_bind"`
	ExtraArgs []string `json:"extra_args" yaml:"extra_args"`
}

type SecurityConfig struct {
	Shell ShellSecurityConfig `json:"shell" yaml:"shell"`
}

// ShellSecurityConfig configures the command policy. Patterns are added
// to the built-in blocklist, never replacing it.
type ShellSecurityConfig struct {
	Enabled         bool     `json:"enabled" yaml:"enabled"`
	BlockedPatterns []string `json:"blocked_patterns" yaml:"blocked_patterns"`
	BlockedRegexes  []string `json:"blocked_regexes" yaml:"blocked_regexes"`
	Allowlist       []string `json:"allowlist" yaml:"allowlist"`
	AllowlistMode   string   `json:"allowlist_mode" yaml:"allowlist_mode"` // off|warn|strict
}

type ToolsConfig struct {
	Shell ShellToolConfig `json:"shell" yaml:"shell"`
}

type ShellToolConfig struct {
	DefaultTimeoutSeconds int `json:"default_timeout_seconds" yaml:"default_timeout_seconds"`
	MaxOutputBytes        int `json:"max_output_bytes" yaml:"max_output_bytes"`
}

// ObservabilityConfig configures metrics, tracing and anomaly detection.
type ObservabilityConfig struct {
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`
	Tracing TracingConfig `json:"tracing" yaml:"tracing"`
	Anomaly AnomalyConfig `json:"anomaly" yaml:"anomaly"`
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"` // Default: "/metrics"
}

// TracingConfig configures OpenTelemetry distributed tracing.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`         // OTLP endpoint, e.g. "localhost:4317"
	Protocol    string  `json:"protocol" yaml:"protocol"`         // "grpc" or "http". Default: "grpc"
	ServiceName string  `json:"service_name" yaml:"service_name"` // Default: "warden"
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate"`   // 0.0–1.0. Default: 1.0
	Insecure    bool    `json:"insecure" yaml:"insecure"`
}

// AnomalyConfig configures threshold-based anomaly detection over
// command executions.
type AnomalyConfig struct {
	Enabled            bool    `json:"enabled" yaml:"enabled"`
	ErrorRateThreshold float64 `json:"error_rate_threshold" yaml:"error_rate_threshold"` // e.g. 0.5 = 50% failures
	BlockedThreshold   int     `json:"blocked_threshold" yaml:"blocked_threshold"`       // policy rejections per caller per window
	WindowSeconds      int     `json:"window_seconds" yaml:"window_seconds"`             // Default: 300
}

// HTTPConfig configures the HTTP tool gateway.
type HTTPConfig struct {
	Enabled             bool              `json:"enabled" yaml:"enabled"`
	ListenAddr          string            `json:"listen_addr" yaml:"listen_addr"`
	MaxRequestSizeBytes int64             `json:"max_request_size_bytes" yaml:"max_request_size_bytes"`
	APIKeys             map[string]string `json:"api_keys" yaml:"api_keys"` // API key → caller ID.
	RateLimit           RateLimitConfig   `json:"rate_limit" yaml:"rate_limit"`
}

// RateLimitConfig configures per-caller rate limiting.
type RateLimitConfig struct {
	RequestsPerMinute int `json:"requests_per_minute" yaml:"requests_per_minute"`
	BurstSize         int `json:"burst_size" yaml:"burst_size"`
}

// Default returns a configuration with every field at its documented default.
func Default() *Config {
	home, _ := os.UserHomeDir()
	base := filepath.Join(home, ".warden")
	return &Config{
		Workspace: filepath.Join(base, "workspace"),
		Logging:   LoggingConfig{Level: "info", Format: "json"},
		Runtime: RuntimeConfig{
			Type:               string(sandbox.RuntimeNative),
			MountAllowlistPath: filepath.Join(base, "mount-allowlist.json"),
			Docker: DockerConfig{
				Image:       "alpine:latest",
				MemoryLimit: "512m",
				CPULimit:    "1.0",
				Network:     "none",
			},
			Landlock: LandlockConfig{
				ReadDirs:         []string{"/usr", "/bin", "/sbin", "/lib", "/lib64", "/etc"},
				WriteDirs:        []string{"/tmp"},
				IncludeWorkspace: true,
			},
			Bubblewrap: BubblewrapConfig{
				ROBinds:  []string{"/usr", "/lib", "/lib64", "/bin", "/sbin", "/etc"},
				DevBind:  true,
				ProcBind: true,
			},
		},
		Security: SecurityConfig{
			Shell: ShellSecurityConfig{Enabled: true, AllowlistMode: string(security.AllowlistOff)},
		},
		Tools: ToolsConfig{
			Shell: ShellToolConfig{
				DefaultTimeoutSeconds: sandbox.DefaultTimeoutSeconds,
				MaxOutputBytes:        1 << 20,
			},
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{Path: "/metrics"},
			Tracing: TracingConfig{Protocol: "grpc", ServiceName: "warden", SampleRate: 1.0},
			Anomaly: AnomalyConfig{ErrorRateThreshold: 0.5, BlockedThreshold: 5, WindowSeconds: 300},
		},
		HTTP: HTTPConfig{
			ListenAddr:          ":8080",
			MaxRequestSizeBytes: 1 << 20,
			RateLimit:           RateLimitConfig{RequestsPerMinute: 30},
		},
	}
}

// DefaultPath returns the default config file path (~/.warden/config.yaml).
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "warden.yaml"
	}
	return filepath.Join(home, ".warden", "config.yaml")
}

// ResolvePath picks the config file: the explicit flag value, then
// WARDEN_CONFIG, then DefaultPath.
func ResolvePath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return goutils.Env("WARDEN_CONFIG", DefaultPath())
}

// Load reads a JSON or YAML config file on top of Default and returns a
// validated Config. The format is detected by extension: .yml/.yaml for
// YAML, everything else for JSON. Environment variables take precedence.
func Load(path string) (*Config, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path %s: %w", path, err)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", resolved, err)
	}

	cfg := Default()
	if isYAML(resolved) {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML config %s: %w", resolved, err)
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing JSON config %s: %w", resolved, err)
		}
	}

	return finish(cfg)
}

// LoadOrDefault is Load, except that a missing file yields the defaults.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return finish(Default())
	}
	return cfg, err
}

func finish(cfg *Config) (*Config, error) {
	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("WARDEN_WORKSPACE"); v != "" {
		c.Workspace = v
	}
	if v := os.Getenv("WARDEN_RUNTIME"); v != "" {
		c.Runtime.Type = v
	}
	if v := os.Getenv("WARDEN_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Save writes the config to path as YAML or JSON (by extension),
// creating the parent directory if needed.
func (c *Config) Save(path string) error {
	resolved, err := resolvePath(path)
	if err != nil {
		return fmt.Errorf("resolving config path %s: %w", path, err)
	}

	var data []byte
	if isYAML(resolved) {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
		data = append(data, '\n')
	}
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(resolved), 0750); err != nil {
		return fmt.Errorf("creating directory %s: %w", filepath.Dir(resolved), err)
	}
	if err := os.WriteFile(resolved, data, 0644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// SandboxConfig converts the runtime section into the factory's config.
func (c *Config) SandboxConfig() sandbox.RuntimeConfig {
	rt := c.Runtime
	typ, _ := sandbox.ParseRuntimeType(rt.Type)

	var extra []string
	switch typ {
	case sandbox.RuntimeDocker:
		extra = rt.Docker.ExtraMounts
	case sandbox.RuntimeApple:
		extra = rt.Apple.ExtraMounts
	}

	return sandbox.RuntimeConfig{
		Type: typ,
		Docker: sandbox.DockerConfig{
			Image:       rt.Docker.Image,
			MemoryLimit: rt.Docker.MemoryLimit,
			CPULimit:    rt.Docker.CPULimit,
			Network:     rt.Docker.Network,
			NoLimits:    rt.Docker.NoLimits,
		},
		Apple: sandbox.AppleConfig{Image: rt.Apple.Image},
		Landlock: sandbox.LandlockConfig{
			ReadDirs:         rt.Landlock.ReadDirs,
			WriteDirs:        rt.Landlock.WriteDirs,
			IncludeWorkspace: rt.Landlock.IncludeWorkspace,
			Strict:           rt.Landlock.Strict,
		},
		Firejail: sandbox.FirejailConfig{
			Profile:   rt.Firejail.Profile,
			ExtraArgs: rt.Firejail.ExtraArgs,
		},
		Bubblewrap: sandbox.BubblewrapConfig{
			ROBinds:   rt.Bubblewrap.ROBinds,
			DevBind:   rt.Bubblewrap.DevBind,
			ProcBind:  rt.Bubblewrap.ProcBind,
			ExtraArgs: rt.Bubblewrap.ExtraArgs,
		},
		ExtraMounts:        extra,
		MountAllowlistPath: rt.MountAllowlistPath,
	}
}

// ShellPolicy converts the shell security section into a policy config.
func (c *Config) ShellPolicy() security.ShellPolicyConfig {
	s := c.Security.Shell
	return security.ShellPolicyConfig{
		Enabled:         s.Enabled,
		BlockedPatterns: s.BlockedPatterns,
		BlockedRegexes:  s.BlockedRegexes,
		Allowlist:       s.Allowlist,
		AllowlistMode:   security.AllowlistMode(s.AllowlistMode),
	}
}

// LogLevel returns the configured slog level.
func (c *Config) LogLevel() slog.Level {
	lvl, _ := parseLevel(c.Logging.Level)
	return lvl
}

// ResolvedWorkspace returns the workspace root with ~ expanded.
func (c *Config) ResolvedWorkspace() string {
	resolved, err := resolvePath(c.Workspace)
	if err != nil {
		return c.Workspace
	}
	return resolved
}

func (c *Config) validate() error {
	if _, err := sandbox.ParseRuntimeType(c.Runtime.Type); err != nil {
		return fmt.Errorf("runtime.type: %w", err)
	}
	if _, err := parseLevel(c.Logging.Level); err != nil {
		return err
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "json", "text":
	default:
		return fmt.Errorf("logging.format %q is not supported (use json or text)", c.Logging.Format)
	}

	d := c.Runtime.Docker
	if !d.NoLimits {
		if d.MemoryLimit != "" {
			if _, err := units.RAMInBytes(d.MemoryLimit); err != nil {
				return fmt.Errorf("runtime.docker.memory_limit %q: %w", d.MemoryLimit, err)
			}
		}
		if d.CPULimit != "" {
			cpus, err := strconv.ParseFloat(d.CPULimit, 64)
			if err != nil || cpus <= 0 {
				return fmt.Errorf("runtime.docker.cpu_limit %q must be a positive number", d.CPULimit)
			}
		}
	}

	if _, err := security.ParseAllowlistMode(c.Security.Shell.AllowlistMode); err != nil {
		return fmt.Errorf("security.shell.allowlist_mode: %w", err)
	}
	// Compiling the policy validates every regex.
	if _, err := security.NewCommandPolicy(c.ShellPolicy(), slog.Default()); err != nil {
		return fmt.Errorf("security.shell: %w", err)
	}

	if c.Tools.Shell.DefaultTimeoutSeconds < 0 {
		return fmt.Errorf("tools.shell.default_timeout_seconds must not be negative")
	}
	if c.Tools.Shell.MaxOutputBytes < 0 {
		return fmt.Errorf("tools.shell.max_output_bytes must not be negative")
	}

	tr := c.Observability.Tracing
	if tr.Enabled {
		switch tr.Protocol {
		case "", "grpc", "http":
		default:
			return fmt.Errorf("observability.tracing.protocol %q is not supported (use grpc or http)", tr.Protocol)
		}
		if tr.SampleRate < 0 || tr.SampleRate > 1 {
			return fmt.Errorf("observability.tracing.sample_rate must be between 0 and 1")
		}
	}
	if c.Observability.Anomaly.WindowSeconds < 0 {
		return fmt.Errorf("observability.anomaly.window_seconds must not be negative")
	}

	if c.HTTP.Enabled && len(c.HTTP.APIKeys) == 0 {
		return fmt.Errorf("http.api_keys must contain at least one key when the HTTP gateway is enabled")
	}
	if c.HTTP.RateLimit.RequestsPerMinute < 0 {
		return fmt.Errorf("http.rate_limit.requests_per_minute must not be negative")
	}
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("logging.level %q is not supported (use debug, info, warn or error)", s)
	}
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yml", ".yaml":
		return true
	}
	return false
}

func resolvePath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}
