package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jkaninda/warden/internal/sandbox"
	"github.com/jkaninda/warden/internal/security"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Runtime.Type != "native" {
		t.Errorf("runtime.type = %q, want native", cfg.Runtime.Type)
	}
	if !cfg.Security.Shell.Enabled {
		t.Error("shell policy must be enabled by default")
	}
	if cfg.Tools.Shell.DefaultTimeoutSeconds != 60 {
		t.Errorf("default timeout = %d", cfg.Tools.Shell.DefaultTimeoutSeconds)
	}
}

func TestLoadYAMLKeepsDefaults(t *testing.T) {
	path := writeFile(t, "config.yaml", `
runtime:
  type: docker
  docker:
    image: busybox:latest
security:
  shell:
    allowlist: [ls, git]
    allowlist_mode: strict
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Runtime.Type != "docker" || cfg.Runtime.Docker.Image != "busybox:latest" {
		t.Errorf("runtime = %+v", cfg.Runtime)
	}
	// Fields not in the file keep their defaults.
	if cfg.Runtime.Docker.MemoryLimit != "512m" || cfg.Runtime.Docker.Network != "none" {
		t.Errorf("docker defaults lost: %+v", cfg.Runtime.Docker)
	}
	if !cfg.Runtime.Bubblewrap.DevBind || !cfg.Runtime.Landlock.IncludeWorkspace {
		t.Error("boolean defaults lost")
	}
	if !cfg.Security.Shell.Enabled || cfg.Security.Shell.AllowlistMode != "strict" {
		t.Errorf("shell security = %+v", cfg.Security.Shell)
	}
}

func TestLoadJSON(t *testing.T) {
	path := writeFile(t, "config.json", `{"runtime": {"type": "landlock", "landlock": {"strict": true, "fs_write_dirs": []}}}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Runtime.Type != "landlock" || !cfg.Runtime.Landlock.Strict {
		t.Errorf("landlock = %+v", cfg.Runtime.Landlock)
	}
	if cfg.Runtime.Landlock.WriteDirs == nil || len(cfg.Runtime.Landlock.WriteDirs) != 0 {
		t.Errorf("explicit empty write dirs = %#v", cfg.Runtime.Landlock.WriteDirs)
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"unknown runtime", "runtime: {type: qemu}", "runtime.type"},
		{"unknown allowlist mode", "security: {shell: {allowlist_mode: paranoid}}", "allowlist_mode"},
		{"bad regex", "security: {shell: {blocked_regexes: ['(unclosed']}}", "security.shell"},
		{"bad memory", "runtime: {docker: {memory_limit: lots}}", "memory_limit"},
		{"bad cpu", "runtime: {docker: {cpu_limit: '-1'}}", "cpu_limit"},
		{"negative timeout", "tools: {shell: {default_timeout_seconds: -5}}", "default_timeout_seconds"},
		{"bad log level", "logging: {level: loud}", "logging.level"},
		{"bad log format", "logging: {format: xml}", "logging.format"},
		{"http without keys", "http: {enabled: true}", "api_keys"},
		{"bad tracing protocol", "observability: {tracing: {enabled: true, protocol: udp}}", "protocol"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, "config.yaml", tt.content)
			_, err := Load(path)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestNoLimitsSkipsLimitValidation(t *testing.T) {
	path := writeFile(t, "config.yaml", "runtime: {docker: {no_limits: true, memory_limit: lots}}")
	if _, err := Load(path); err != nil {
		t.Errorf("no_limits should skip limit parsing: %v", err)
	}
}

func TestLoadOrDefault(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.yaml")
	cfg, err := LoadOrDefault(missing)
	if err != nil {
		t.Fatalf("LoadOrDefault: %v", err)
	}
	if cfg.Runtime.Type != "native" {
		t.Errorf("runtime.type = %q", cfg.Runtime.Type)
	}

	bad := writeFile(t, "config.yaml", "runtime: {type: qemu}")
	if _, err := LoadOrDefault(bad); err == nil {
		t.Error("invalid existing file must still fail")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("WARDEN_WORKSPACE", "/srv/warden")
	t.Setenv("WARDEN_RUNTIME", "bubblewrap")
	t.Setenv("WARDEN_LOG_LEVEL", "debug")

	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Workspace != "/srv/warden" || cfg.Runtime.Type != "bubblewrap" {
		t.Errorf("env overrides not applied: %+v", cfg)
	}
	if cfg.LogLevel() != slog.LevelDebug {
		t.Errorf("LogLevel() = %v", cfg.LogLevel())
	}
}

func TestEnvOverrideIsValidated(t *testing.T) {
	t.Setenv("WARDEN_RUNTIME", "vm")
	if _, err := LoadOrDefault(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("invalid WARDEN_RUNTIME accepted")
	}
}

func TestResolvePath(t *testing.T) {
	t.Setenv("WARDEN_CONFIG", "/etc/warden/config.yaml")
	if got := ResolvePath("/tmp/explicit.yaml"); got != "/tmp/explicit.yaml" {
		t.Errorf("flag value ignored: %q", got)
	}
	if got := ResolvePath(""); got != "/etc/warden/config.yaml" {
		t.Errorf("WARDEN_CONFIG ignored: %q", got)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	for _, name := range []string{"config.yaml", "config.json"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", name)

			cfg := Default()
			cfg.Runtime.Type = "firejail"
			cfg.Runtime.Firejail.Profile = "default"
			if err := cfg.Save(path); err != nil {
				t.Fatalf("Save: %v", err)
			}

			loaded, err := Load(path)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if loaded.Runtime.Type != "firejail" || loaded.Runtime.Firejail.Profile != "default" {
				t.Errorf("round trip lost runtime: %+v", loaded.Runtime)
			}
		})
	}
}

func TestSandboxConfig(t *testing.T) {
	cfg := Default()
	cfg.Runtime.Type = "docker"
	cfg.Runtime.Docker.ExtraMounts = []string{"/data:/data:ro"}
	cfg.Runtime.Apple.ExtraMounts = []string{"/other:/other"}

	rc := cfg.SandboxConfig()
	if rc.Type != sandbox.RuntimeDocker {
		t.Errorf("Type = %q", rc.Type)
	}
	if len(rc.ExtraMounts) != 1 || rc.ExtraMounts[0] != "/data:/data:ro" {
		t.Errorf("ExtraMounts = %v, want the docker list only", rc.ExtraMounts)
	}
	if rc.Docker.Image != "alpine:latest" || rc.Docker.CPULimit != "1.0" {
		t.Errorf("Docker = %+v", rc.Docker)
	}
	if !rc.Bubblewrap.DevBind || len(rc.Landlock.ReadDirs) == 0 {
		t.Error("per-backend defaults not carried over")
	}

	cfg.Runtime.Type = "apple"
	if rc := cfg.SandboxConfig(); len(rc.ExtraMounts) != 1 || rc.ExtraMounts[0] != "/other:/other" {
		t.Errorf("apple ExtraMounts = %v", rc.ExtraMounts)
	}
}

func TestShellPolicy(t *testing.T) {
	cfg := Default()
	cfg.Security.Shell.BlockedPatterns = []string{"terraform destroy"}

	policy, err := security.NewCommandPolicy(cfg.ShellPolicy(), slog.Default())
	if err != nil {
		t.Fatal(err)
	}
	if err := policy.Validate("terraform destroy -auto-approve"); !errors.Is(err, security.ErrSecurityViolation) {
		t.Errorf("custom pattern not enforced: %v", err)
	}
	// Defaults still apply alongside custom patterns.
	if err := policy.Validate("cat /etc/shadow"); !errors.Is(err, security.ErrSecurityViolation) {
		t.Errorf("default pattern dropped: %v", err)
	}
}
