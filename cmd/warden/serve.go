package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	goutils "github.com/jkaninda/go-utils"

	"github.com/jkaninda/warden/internal/config"
	"github.com/jkaninda/warden/internal/gateway"
	"github.com/jkaninda/warden/internal/gateway/httpapi"
	"github.com/jkaninda/warden/internal/observability"
	"github.com/jkaninda/warden/internal/ratelimit"
	"github.com/jkaninda/warden/internal/sandbox"
	"github.com/jkaninda/warden/internal/secrets"
)

var (
	servePort string
	serveDocs bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the shell tool over HTTP",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&servePort, "port", "", "override HTTP listen address (e.g. :8080)")
	serveCmd.Flags().BoolVar(&serveDocs, "docs", false, "serve OpenAPI documentation")
}

// runServe starts the HTTP gateway and blocks until SIGINT/SIGTERM.
func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if servePort != "" {
		cfg.HTTP.ListenAddr = servePort
	}
	cfg.HTTP.APIKeys = mergeEnvAPIKeys(cfg.HTTP.APIKeys, goutils.Env("WARDEN_API_KEYS", ""))
	if len(cfg.HTTP.APIKeys) == 0 {
		return fmt.Errorf("no API keys configured: set http.api_keys or WARDEN_API_KEYS")
	}
	provider, err := secrets.DefaultProvider()
	if err != nil {
		return fmt.Errorf("secret provider: %w", err)
	}
	if cfg.HTTP.APIKeys, err = secrets.ResolveAPIKeys(cmd.Context(), provider, cfg.HTTP.APIKeys); err != nil {
		return fmt.Errorf("resolving API keys: %w", err)
	}

	logger := newLogger(cfg, os.Stderr)
	logger.Info("starting http gateway", slog.String("config", config.ResolvePath(configPath)))

	// Signal-aware context.
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sc, err := initShared(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer sc.Cleanup()

	limiter := ratelimit.NewLimiter(ratelimit.Config{
		RequestsPerMinute: cfg.HTTP.RateLimit.RequestsPerMinute,
		BurstSize:         cfg.HTTP.RateLimit.BurstSize,
	})
	go pruneLimiter(ctx, limiter, time.Minute, logger)

	// SIGHUP re-reads the config and swaps the runtime. In-flight commands
	// finish on the runtime they started with.
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				newCfg, err := loadConfig()
				if err == nil {
					err = reloadRuntime(ctx, sc.Runtime, newCfg, sc.Obs, logger)
				}
				if err != nil {
					logger.Error("runtime reload failed, keeping current runtime", slog.String("error", err.Error()))
				}
			}
		}
	}()

	httpCfg := httpapi.Config{
		ListenAddr:     cfg.HTTP.ListenAddr,
		EnableDocs:     serveDocs,
		Version:        version,
		APIKeys:        cfg.HTTP.APIKeys,
		MaxRequestSize: cfg.HTTP.MaxRequestSizeBytes,
		HealthChecker:  sc.Obs.Health,
		Metrics:        sc.Obs.Metrics,
	}
	if sc.Obs.Metrics != nil {
		httpCfg.MetricsRegistry = sc.Obs.Metrics.Registry
		httpCfg.MetricsPath = cfg.Observability.Metrics.Path
	}
	if sc.Obs.Tracer != nil {
		httpCfg.Tracer = sc.Obs.Tracer.Tracer()
	}
	var gw gateway.Gateway = httpapi.NewGateway(httpCfg, sc.ToolReg, sc.Workspace, limiter, logger)

	errs := make(chan error, 1)
	go func() {
		errs <- gw.Start(ctx)
	}()

	// Wait for signal or gateway error.
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errs:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("gateway exited with error", slog.String("error", err.Error()))
			return err
		}
		return nil
	}

	// Graceful shutdown with deadline.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := gw.Stop(shutdownCtx); err != nil {
		logger.Error("stopping gateway", slog.String("error", err.Error()))
	}
	return nil
}

// reloadRuntime builds the runtime cfg selects and installs it in h.
// On error h is left untouched.
func reloadRuntime(ctx context.Context, h *sandbox.Handle, cfg *config.Config, obs *observability.Observability, logger *slog.Logger) error {
	rt, err := buildRuntime(ctx, cfg, obs, logger)
	if err != nil {
		return err
	}
	prev := h.Swap(rt)
	logger.Info("runtime reloaded",
		slog.String("previous", prev.Name()),
		slog.String("current", rt.Name()),
	)
	return nil
}

// mergeEnvAPIKeys adds "key:caller" pairs from a comma-separated list.
// Malformed entries are ignored.
func mergeEnvAPIKeys(keys map[string]string, env string) map[string]string {
	merged := make(map[string]string, len(keys))
	for k, v := range keys {
		merged[k] = v
	}
	if env == "" {
		return merged
	}
	for _, entry := range strings.Split(env, ",") {
		parts := strings.SplitN(strings.TrimSpace(entry), ":", 2)
		if len(parts) == 2 && parts[0] != "" && parts[1] != "" {
			merged[parts[0]] = parts[1]
		}
	}
	return merged
}

// pruneLimiter drops idle rate-limit buckets until ctx is done.
func pruneLimiter(ctx context.Context, l *ratelimit.Limiter, every time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := l.Prune(); n > 0 {
				logger.Debug("rate limiter pruned", slog.Int("callers", n))
			}
		}
	}
}
