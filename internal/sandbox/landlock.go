package sandbox

import (
	"context"
	"log/slog"
)

// Default Landlock directory grants.
var (
	defaultLandlockReadDirs  = []string{"/usr", "/bin", "/sbin", "/lib", "/lib64", "/etc"}
	defaultLandlockWriteDirs = []string{"/tmp"}
)

// LandlockConfig configures the Landlock backend.
type LandlockConfig struct {
	// ReadDirs are granted read and execute access. Nil selects the defaults.
	ReadDirs []string

	// WriteDirs are granted full access. Nil selects the defaults.
	WriteDirs []string

	// IncludeWorkspace grants full access to the request's working directory
	// and to the host side of every request mount (read-only mounts get read access).
	IncludeWorkspace bool

	// Strict refuses to run when the kernel cannot enforce Landlock.
	// When false the command runs unrestricted and a warning is logged.
	Strict bool
}

// DefaultLandlockConfig returns the system read dirs, /tmp as writable,
// and workspace inclusion enabled.
func DefaultLandlockConfig() LandlockConfig {
	return LandlockConfig{
		ReadDirs:         append([]string(nil), defaultLandlockReadDirs...),
		WriteDirs:        append([]string(nil), defaultLandlockWriteDirs...),
		IncludeWorkspace: true,
	}
}

// LandlockRuntime runs commands through sh -c with kernel filesystem
// restrictions applied to the child before it executes the shell.
type LandlockRuntime struct {
	cfg    LandlockConfig
	logger *slog.Logger
}

// NewLandlockRuntime creates a Landlock backend.
func NewLandlockRuntime(cfg LandlockConfig, logger *slog.Logger) *LandlockRuntime {
	if cfg.ReadDirs == nil {
		cfg.ReadDirs = append([]string(nil), defaultLandlockReadDirs...)
	}
	if cfg.WriteDirs == nil {
		cfg.WriteDirs = append([]string(nil), defaultLandlockWriteDirs...)
	}
	return &LandlockRuntime{cfg: cfg, logger: logger}
}

func (r *LandlockRuntime) Name() string { return NameLandlock }

// IsAvailable always reports true. Kernel support is negotiated when a
// command runs, and Strict decides what happens when it is missing.
func (r *LandlockRuntime) IsAvailable(context.Context) bool { return true }

// pathRule grants access to everything beneath path.
type pathRule struct {
	path  string
	write bool
}

// rules returns the path grants for one request.
func (r *LandlockRuntime) rules(req CommandRequest) []pathRule {
	rules := make([]pathRule, 0, len(r.cfg.ReadDirs)+len(r.cfg.WriteDirs)+len(req.Mounts)+1)
	for _, p := range r.cfg.ReadDirs {
		rules = append(rules, pathRule{path: p})
	}
	for _, p := range r.cfg.WriteDirs {
		rules = append(rules, pathRule{path: p, write: true})
	}
	if r.cfg.IncludeWorkspace {
		if req.WorkDir != "" {
			rules = append(rules, pathRule{path: req.WorkDir, write: true})
		}
		for _, m := range req.Mounts {
			rules = append(rules, pathRule{path: m.HostPath, write: !m.ReadOnly})
		}
	}
	return rules
}
