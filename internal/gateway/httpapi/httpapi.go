// Package httpapi exposes the warden tools over HTTP.
//
// Security:
//   - API key authentication on every /v1 request (constant-time comparison)
//   - Request body size limits (default 1 MB)
//   - Per-caller rate limiting via token bucket
//   - Each caller runs inside its own workspace directory
//   - All requests logged with correlation IDs
//   - TLS expected via reverse proxy (not handled here)
package httpapi

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/jkaninda/okapi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/warden/internal/observability"
	"github.com/jkaninda/warden/internal/ratelimit"
	"github.com/jkaninda/warden/internal/sandbox"
	"github.com/jkaninda/warden/internal/security"
	"github.com/jkaninda/warden/internal/tools"
	"github.com/jkaninda/warden/internal/workspace"
)

const defaultMaxRequestSize = 1 << 20 // 1 MB

// ErrorBody is the standard error response used in OpenAPI documentation.
type ErrorBody struct {
	Error         string `json:"error"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// Config configures the HTTP API gateway.
type Config struct {
	ListenAddr     string // e.g., ":8080"
	EnableDocs     bool
	Version        string
	APIKeys        map[string]string // API key → caller ID.
	MaxRequestSize int64             // Maximum request body in bytes. 0 = 1 MB default.

	// Observability
	MetricsRegistry *prometheus.Registry            // Custom Prometheus registry for /metrics.
	MetricsPath     string                          // Path for metrics endpoint. Default: "/metrics".
	HealthChecker   *observability.HealthChecker    // Health checker for /readyz.
	Metrics         *observability.MetricsCollector // Metrics collector for HTTP middleware.
	Tracer          trace.Tracer                    // OTel tracer for HTTP middleware.
}

// Gateway is the HTTP API gateway.
type Gateway struct {
	config    Config
	registry  *tools.Registry
	workspace *workspace.Workspace // nil = commands run without a caller workspace.
	limiter   *ratelimit.Limiter
	logger    *slog.Logger
	server    *http.Server

	okapi *okapi.Okapi
	group *okapi.Group
}

// NewGateway creates an HTTP API gateway serving the tools in reg.
func NewGateway(cfg Config, reg *tools.Registry, ws *workspace.Workspace, rl *ratelimit.Limiter, logger *slog.Logger) *Gateway {
	if cfg.MaxRequestSize <= 0 {
		cfg.MaxRequestSize = defaultMaxRequestSize
	}
	return &Gateway{
		config:    cfg,
		registry:  reg,
		workspace: ws,
		limiter:   rl,
		logger:    logger,
		okapi:     okapi.New(okapi.WithMaxMultipartMemory(defaultMaxRequestSize)),
	}
}

func (g *Gateway) WithOpenAPIDocs() *Gateway {
	version := g.config.Version
	if version == "" {
		version = "dev"
	}
	g.okapi.WithOpenAPIDocs(
		okapi.OpenAPI{
			Title:   "Warden",
			Version: version,
		},
	)
	return g
}

// Start launches the HTTP server and blocks until it exits.
func (g *Gateway) Start(ctx context.Context) error {
	maxSize := g.config.MaxRequestSize
	g.okapi.UseMiddleware(func(next http.Handler) http.Handler {
		return http.MaxBytesHandler(next, maxSize)
	})

	// Authenticated /v1 group. Metrics run first so rejected requests are counted.
	if g.config.Metrics != nil || g.config.Tracer != nil {
		g.group = g.okapi.Group("/v1", observability.MetricsMiddleware(g.config.Metrics, g.config.Tracer), g.authenticate)
	} else {
		g.group = g.okapi.Group("/v1", g.authenticate)
	}

	g.group.Get("/tools", g.handleListTools,
		okapi.DocSummary("List the available tools"),
		okapi.DocTags("Tools"),
		okapi.DocResponse([]tools.Definition{}),
		okapi.DocResponse(http.StatusUnauthorized, ErrorBody{}),
	)
	g.group.Post("/tools/shell", g.handleShell,
		okapi.DocSummary("Run a shell command in the configured sandbox"),
		okapi.DocTags("Tools"),
		okapi.DocRequestBody(ShellRequest{}),
		okapi.DocResponse(ToolResponse{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		okapi.DocResponse(http.StatusUnauthorized, ErrorBody{}),
		okapi.DocResponse(http.StatusForbidden, ErrorBody{}),
		okapi.DocResponse(http.StatusTooManyRequests, ErrorBody{}),
		okapi.DocResponse(http.StatusServiceUnavailable, ErrorBody{}),
		okapi.DocResponse(http.StatusGatewayTimeout, ErrorBody{}),
	)

	// Observability endpoints (unauthenticated).
	g.okapi.Get("/healthz", g.handleLiveness)
	g.okapi.Get("/readyz", g.handleReadiness)

	if g.config.MetricsRegistry != nil {
		path := g.config.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		g.okapi.HandleStd("GET", path, promhttp.HandlerFor(g.config.MetricsRegistry, promhttp.HandlerOpts{}).ServeHTTP)
	}
	if g.config.EnableDocs {
		g.WithOpenAPIDocs()
	}

	g.server = &http.Server{
		Addr:              g.config.ListenAddr,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// No write timeout: the tool timeout bounds long commands.
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
		BaseContext:  func(_ net.Listener) context.Context { return ctx },
	}

	g.logger.Info("http api gateway starting", slog.String("addr", g.config.ListenAddr))
	return g.okapi.StartServer(g.server)
}

// Stop gracefully shuts down the HTTP server.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}
	g.logger.Info("http api gateway stopping")
	return g.okapi.Shutdown(g.server)
}

// --- Handlers ---

// ShellRequest is the JSON body for POST /v1/tools/shell.
type ShellRequest struct {
	Command string `json:"command"`
	Timeout *int64 `json:"timeout,omitempty"` // Seconds. Omitted = tool default.
}

// params converts the request into tool arguments.
func (r ShellRequest) params() map[string]any {
	p := map[string]any{"command": r.Command}
	if r.Timeout != nil {
		p["timeout"] = *r.Timeout
	}
	return p
}

// ToolResponse is the JSON response for a tool call.
type ToolResponse struct {
	Output        string         `json:"output"`
	Success       bool           `json:"success"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	CorrelationID string         `json:"correlation_id"`
}

func (g *Gateway) handleListTools(c *okapi.Context) error {
	return c.OK(g.registry.Definitions())
}

func (g *Gateway) handleShell(c *okapi.Context) error {
	callerID := c.GetString("userID")

	if g.limiter != nil {
		if err := g.limiter.Allow(callerID); err != nil {
			return c.AbortTooManyRequests("rate limit exceeded")
		}
	}

	var req ShellRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}

	tool := g.registry.Get("shell")
	if tool == nil {
		return c.AbortServiceUnavailable("shell tool not configured")
	}

	params := req.params()
	if err := tool.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorBody{Error: err.Error()})
	}

	correlationID := newCorrelationID()
	ctx := tools.ContextWithUserID(c.Context(), callerID)
	if g.workspace != nil {
		ctx = tools.ContextWithWorkspace(ctx, g.workspace.CallerDir(callerID))
	}

	g.logger.Info("http tool call",
		slog.String("caller", callerID),
		slog.String("tool", tool.Name()),
		slog.String("correlation_id", correlationID),
	)

	result, err := tool.Execute(ctx, params)
	if err != nil {
		code := statusForError(err)
		if code == http.StatusInternalServerError {
			g.logger.Error("tool call failed",
				slog.String("correlation_id", correlationID),
				slog.String("error", err.Error()),
			)
		}
		return c.JSON(code, ErrorBody{Error: err.Error(), CorrelationID: correlationID})
	}

	return c.OK(ToolResponse{
		Output:        result.Output,
		Success:       result.Success,
		Metadata:      result.Metadata,
		CorrelationID: correlationID,
	})
}

// HealthResponse is the JSON response for GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
}

// handleLiveness is the Kubernetes liveness probe
func (g *Gateway) handleLiveness(c *okapi.Context) error {
	return c.OK(&HealthResponse{Status: "ok"})
}

// handleReadiness checks all registered dependencies and returns 200 or 503.
func (g *Gateway) handleReadiness(c *okapi.Context) error {
	if g.config.HealthChecker == nil {
		return c.OK(&HealthResponse{Status: "ok"})
	}

	status := g.config.HealthChecker.CheckReady(c.Context())
	code := http.StatusOK
	if status.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, status)
}

// --- Authentication ---

// authenticate validates the API key and stores the mapped caller ID.
func (g *Gateway) authenticate(next okapi.HandlerFunc) okapi.HandlerFunc {
	return func(c *okapi.Context) error {
		authHeader := c.Header("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return c.AbortUnauthorized("missing or invalid Authorization header")
		}
		callerID, ok := lookupAPIKey(g.config.APIKeys, strings.TrimPrefix(authHeader, "Bearer "))
		if !ok {
			return c.AbortUnauthorized("invalid API key")
		}
		c.Set("userID", callerID)
		return next(c)
	}
}

// lookupAPIKey compares apiKey against every configured key so the time
// taken does not depend on which key matched.
func lookupAPIKey(keys map[string]string, apiKey string) (string, bool) {
	callerID := ""
	for key, id := range keys {
		if subtle.ConstantTimeCompare([]byte(apiKey), []byte(key)) == 1 {
			callerID = id
		}
	}
	return callerID, callerID != ""
}

// --- Helpers ---

// statusForError maps tool errors to HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, security.ErrSecurityViolation):
		return http.StatusForbidden
	case errors.Is(err, tools.ErrMissingArgument), errors.Is(err, tools.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, sandbox.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, sandbox.ErrNotAvailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func newCorrelationID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
