package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jkaninda/warden/internal/config"
	"github.com/jkaninda/warden/internal/observability"
	"github.com/jkaninda/warden/internal/sandbox"
	"github.com/jkaninda/warden/internal/security"
	"github.com/jkaninda/warden/internal/tools"
	"github.com/jkaninda/warden/internal/tools/shell"
	"github.com/jkaninda/warden/internal/workspace"
)

// Exit codes shared by the exec and remote commands.
const (
	ExitSuccess         = 0
	ExitFailure         = 1
	ExitPolicyDenied    = 2
	ExitRuntimeUnusable = 3
)

// SharedComponents holds the subsystems every command that executes
// something needs. Built once by initShared, torn down by Cleanup.
type SharedComponents struct {
	Config    *config.Config
	Logger    *slog.Logger
	Workspace *workspace.Workspace
	Obs       *observability.Observability
	Policy    *security.CommandPolicy
	Runtime   *sandbox.Handle
	ToolReg   *tools.Registry

	cleanups []func()
}

// Cleanup runs all deferred cleanup functions in reverse order.
func (sc *SharedComponents) Cleanup() {
	for i := len(sc.cleanups) - 1; i >= 0; i-- {
		sc.cleanups[i]()
	}
}

func (sc *SharedComponents) addCleanup(fn func()) {
	sc.cleanups = append(sc.cleanups, fn)
}

// loadConfig reads the config selected by --config or WARDEN_CONFIG.
// A missing file means defaults.
func loadConfig() (*config.Config, error) {
	return config.LoadOrDefault(config.ResolvePath(configPath))
}

// newLogger builds the process logger from the logging section.
// Logs go to w so command output on stdout stays clean.
func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel()}
	if cfg.Logging.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// initShared performs the initialization shared by exec and serve.
// Callers must call sc.Cleanup() when done.
func initShared(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*SharedComponents, error) {
	sc := &SharedComponents{
		Config: cfg,
		Logger: logger,
	}

	// Workspace.
	ws, err := workspace.New(cfg.ResolvedWorkspace())
	if err != nil {
		return nil, fmt.Errorf("initializing workspace: %w", err)
	}
	if err := ws.EnsureAll(); err != nil {
		return nil, fmt.Errorf("initializing workspace: %w", err)
	}
	sc.Workspace = ws
	logger.Debug("workspace initialized", slog.String("root", ws.Root))

	// Observability.
	obs, err := observability.New(cfg.Observability, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing observability: %w", err)
	}
	sc.Obs = obs
	sc.addCleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		obs.Shutdown(shutdownCtx)
	})
	logger.Debug("observability initialized",
		slog.Bool("metrics", obs.Metrics != nil),
		slog.Bool("tracing", obs.Tracer != nil),
		slog.Bool("anomaly", obs.Anomaly != nil),
	)

	// Command policy.
	policy, err := security.NewCommandPolicy(cfg.ShellPolicy(), logger)
	if err != nil {
		sc.Cleanup()
		return nil, fmt.Errorf("initializing command policy: %w", err)
	}
	sc.Policy = policy

	// Sandbox runtime.
	rt, err := buildRuntime(ctx, cfg, obs, logger)
	if err != nil {
		sc.Cleanup()
		return nil, err
	}
	sc.Runtime = sandbox.NewHandle(rt)
	obs.Health.AddCheck("runtime", observability.RuntimeCheck(sc.Runtime))

	// Tools.
	sc.ToolReg = tools.NewRegistry()
	sc.ToolReg.Register(buildShellTool(cfg, policy, sc.Runtime, obs, logger))

	return sc, nil
}

// buildRuntime creates the configured runtime and wraps it with
// observability. An unavailable backend is an error, never a fallback.
func buildRuntime(ctx context.Context, cfg *config.Config, obs *observability.Observability, logger *slog.Logger) (sandbox.Runtime, error) {
	rt, err := sandbox.CreateRuntime(ctx, cfg.SandboxConfig(), logger)
	if err != nil {
		if errors.Is(err, sandbox.ErrNotAvailable) {
			return nil, fmt.Errorf("runtime %q: %w (run `warden runtimes` to see what this host supports)", cfg.Runtime.Type, err)
		}
		return nil, fmt.Errorf("creating runtime %q: %w", cfg.Runtime.Type, err)
	}
	if obs.MetricsOrNil() == nil && obs.TracerOrNil() == nil && obs.AnomalyOrNil() == nil {
		return rt, nil
	}
	return observability.NewInstrumentedRuntime(rt, obs.Metrics, obs.Tracer, obs.Anomaly), nil
}

func buildShellTool(cfg *config.Config, policy *security.CommandPolicy, rt sandbox.Runtime, obs *observability.Observability, logger *slog.Logger) tools.Tool {
	tool := shell.NewTool(policy, rt, shell.Config{
		DefaultTimeoutSecs: uint64(cfg.Tools.Shell.DefaultTimeoutSeconds),
		MaxOutputBytes:     cfg.Tools.Shell.MaxOutputBytes,
	}, logger)
	if obs.MetricsOrNil() == nil && obs.TracerOrNil() == nil && obs.AnomalyOrNil() == nil {
		return tool
	}
	return observability.NewInstrumentedTool(tool, obs.Metrics, obs.Tracer, obs.Anomaly)
}

// exitCodeFor maps a tool outcome to the process exit status.
func exitCodeFor(result *tools.Result, err error) int {
	switch {
	case errors.Is(err, security.ErrSecurityViolation):
		return ExitPolicyDenied
	case errors.Is(err, sandbox.ErrNotAvailable):
		return ExitRuntimeUnusable
	case err != nil:
		return ExitFailure
	case result == nil || !result.Success:
		return ExitFailure
	default:
		return ExitSuccess
	}
}
