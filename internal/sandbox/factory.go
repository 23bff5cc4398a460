package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jkaninda/warden/internal/security"
	"golang.org/x/sync/errgroup"
)

// RuntimeType selects exactly one backend.
type RuntimeType string

const (
	RuntimeNative     RuntimeType = NameNative
	RuntimeDocker     RuntimeType = NameDocker
	RuntimeApple      RuntimeType = NameApple
	RuntimeLandlock   RuntimeType = NameLandlock
	RuntimeFirejail   RuntimeType = NameFirejail
	RuntimeBubblewrap RuntimeType = NameBubblewrap
)

// RuntimeTypes lists every backend in display order.
var RuntimeTypes = []RuntimeType{
	RuntimeNative,
	RuntimeDocker,
	RuntimeApple,
	RuntimeLandlock,
	RuntimeFirejail,
	RuntimeBubblewrap,
}

// ParseRuntimeType converts a config string. Empty means native.
func ParseRuntimeType(s string) (RuntimeType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return RuntimeNative, nil
	}
	for _, t := range RuntimeTypes {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown runtime type %q", s)
}

// RuntimeConfig selects and configures a backend.
type RuntimeConfig struct {
	Type RuntimeType

	Docker     DockerConfig
	Apple      AppleConfig
	Landlock   LandlockConfig
	Firejail   FirejailConfig
	Bubblewrap BubblewrapConfig

	// ExtraMounts are host:container[:ro] specs for the container backends.
	// They are validated against the JSON allowlist at MountAllowlistPath.
	ExtraMounts        []string
	MountAllowlistPath string
}

// DefaultRuntimeConfig returns a native runtime with safe per-backend defaults.
func DefaultRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{
		Type:       RuntimeNative,
		Landlock:   DefaultLandlockConfig(),
		Bubblewrap: DefaultBubblewrapConfig(),
	}
}

// CreateRuntime constructs the configured backend and verifies its
// prerequisites. It never falls back to another backend: if the requested
// one is unavailable a NotAvailable error is returned.
func CreateRuntime(ctx context.Context, cfg RuntimeConfig, logger *slog.Logger) (Runtime, error) {
	var rt Runtime
	var unavailable string

	switch cfg.Type {
	case "", RuntimeNative:
		return NewNativeRuntime(logger), nil

	case RuntimeLandlock:
		return NewLandlockRuntime(cfg.Landlock, logger), nil

	case RuntimeDocker:
		mounts, err := extraMounts(cfg)
		if err != nil {
			return nil, err
		}
		dc := cfg.Docker
		dc.ExtraMounts = append(dc.ExtraMounts, mounts...)
		rt = NewDockerRuntime(dc, logger)
		unavailable = "Docker is not installed or not running"

	case RuntimeApple:
		if !appleSupported() {
			return nil, NotAvailable("Apple Container is only available on macOS")
		}
		mounts, err := extraMounts(cfg)
		if err != nil {
			return nil, err
		}
		ac := cfg.Apple
		ac.ExtraMounts = append(ac.ExtraMounts, mounts...)
		rt = NewAppleRuntime(ac, logger)
		unavailable = "Apple Container is not available (requires macOS 15+ and the container CLI)"

	case RuntimeFirejail:
		rt = NewFirejailRuntime(cfg.Firejail, logger)
		unavailable = "firejail binary not found on PATH. Install with: sudo apt install firejail"

	case RuntimeBubblewrap:
		rt = NewBubblewrapRuntime(cfg.Bubblewrap, logger)
		unavailable = "bwrap binary not found on PATH. Install with: sudo apt install bubblewrap"

	default:
		return nil, NotAvailable(fmt.Sprintf("unknown runtime type %q", cfg.Type))
	}

	if !rt.IsAvailable(ctx) {
		return nil, NotAvailable(unavailable)
	}
	logger.Info("sandbox runtime ready", slog.String("runtime", rt.Name()))
	return rt, nil
}

// extraMounts validates the configured extra mounts.
func extraMounts(cfg RuntimeConfig) ([]MountSpec, error) {
	validated, err := security.ValidateExtraMounts(cfg.ExtraMounts, cfg.MountAllowlistPath)
	if err != nil {
		return nil, err
	}
	mounts := make([]MountSpec, 0, len(validated))
	for _, m := range validated {
		mounts = append(mounts, MountSpec{HostPath: m.HostPath, TargetPath: m.ContainerPath, ReadOnly: m.ReadOnly})
	}
	return mounts, nil
}

// AvailableRuntimes probes every backend with default configuration and
// returns the names that respond, in RuntimeTypes order. Native is always
// included. The result is for diagnostics; it is never used for fallback.
func AvailableRuntimes(ctx context.Context, logger *slog.Logger) []string {
	defaults := DefaultRuntimeConfig()
	probes := []Runtime{
		NewNativeRuntime(logger),
		NewDockerRuntime(defaults.Docker, logger),
		NewAppleRuntime(defaults.Apple, logger),
		NewLandlockRuntime(defaults.Landlock, logger),
		NewFirejailRuntime(defaults.Firejail, logger),
		NewBubblewrapRuntime(defaults.Bubblewrap, logger),
	}

	ok := make([]bool, len(probes))
	var g errgroup.Group
	for i, rt := range probes {
		g.Go(func() error {
			ok[i] = rt.IsAvailable(ctx)
			return nil
		})
	}
	_ = g.Wait()

	names := make([]string, 0, len(probes))
	for i, rt := range probes {
		if ok[i] || rt.Name() == NameNative {
			names = append(names, rt.Name())
		}
	}
	return names
}
