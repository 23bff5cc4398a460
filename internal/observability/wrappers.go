package observability

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/warden/internal/sandbox"
	"github.com/jkaninda/warden/internal/security"
	"github.com/jkaninda/warden/internal/tools"
)

// --- InstrumentedRuntime ---

// InstrumentedRuntime wraps a sandbox.Runtime with metrics, tracing, and anomaly detection.
type InstrumentedRuntime struct {
	inner   sandbox.Runtime
	metrics *MetricsCollector
	tracer  trace.Tracer
	anomaly *AnomalyDetector
}

// NewInstrumentedRuntime wraps a runtime with observability.
func NewInstrumentedRuntime(inner sandbox.Runtime, metrics *MetricsCollector, ts *TracerSetup, anomaly *AnomalyDetector) *InstrumentedRuntime {
	var tracer trace.Tracer
	if ts != nil {
		tracer = ts.Tracer()
	}
	return &InstrumentedRuntime{
		inner:   inner,
		metrics: metrics,
		tracer:  tracer,
		anomaly: anomaly,
	}
}

func (r *InstrumentedRuntime) Name() string { return r.inner.Name() }

func (r *InstrumentedRuntime) IsAvailable(ctx context.Context) bool {
	return r.inner.IsAvailable(ctx)
}

// Execute tags ctx with an execution ID unless the caller already set one,
// so the span and the backend's log lines and container names share it.
func (r *InstrumentedRuntime) Execute(ctx context.Context, command string, req sandbox.CommandRequest) (*sandbox.CommandOutput, error) {
	name := r.inner.Name()

	execID, ok := sandbox.ExecutionIDFromContext(ctx)
	if !ok {
		execID = uuid.NewString()
		ctx = sandbox.ContextWithExecutionID(ctx, execID)
	}

	var span trace.Span
	if r.tracer != nil {
		ctx, span = r.tracer.Start(ctx, "runtime.execute",
			trace.WithAttributes(
				attribute.String("runtime.name", name),
				attribute.String("warden.execution_id", execID),
				attribute.Int64("runtime.timeout_secs", int64(req.TimeoutSecs)),
				attribute.Int("runtime.mounts", len(req.Mounts)),
			))
		defer span.End()
	}

	if r.metrics != nil {
		r.metrics.ActiveExecutions.Inc()
		defer r.metrics.ActiveExecutions.Dec()
	}

	start := time.Now()
	out, err := r.inner.Execute(ctx, command, req)
	duration := time.Since(start).Seconds()

	status := runtimeStatus(out, err)
	if span != nil {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else if out != nil && out.ExitCode != nil {
			span.SetAttributes(attribute.Int("runtime.exit_code", *out.ExitCode))
		}
	}

	if r.metrics != nil {
		r.metrics.RuntimeExecutionsTotal.WithLabelValues(name, status).Inc()
		r.metrics.RuntimeExecutionDuration.WithLabelValues(name).Observe(duration)
	}

	if r.anomaly != nil {
		if err != nil {
			r.anomaly.RecordError("runtime_" + name)
		} else {
			r.anomaly.RecordSuccess("runtime_" + name)
		}
	}

	return out, err
}

func runtimeStatus(out *sandbox.CommandOutput, err error) string {
	switch {
	case errors.Is(err, sandbox.ErrTimeout):
		return "timeout"
	case errors.Is(err, sandbox.ErrNotAvailable):
		return "not_available"
	case err != nil:
		return "error"
	case out == nil:
		return "error"
	case out.ExitCode == nil:
		return "killed"
	case *out.ExitCode != 0:
		return "nonzero_exit"
	default:
		return "success"
	}
}

// --- InstrumentedTool ---

// InstrumentedTool wraps a tools.Tool. Policy rejections are counted and
// fed to the anomaly detector under the caller from the context.
type InstrumentedTool struct {
	inner   tools.Tool
	metrics *MetricsCollector
	tracer  trace.Tracer
	anomaly *AnomalyDetector
}

// NewInstrumentedTool wraps a tool with observability.
func NewInstrumentedTool(inner tools.Tool, metrics *MetricsCollector, ts *TracerSetup, anomaly *AnomalyDetector) *InstrumentedTool {
	var tracer trace.Tracer
	if ts != nil {
		tracer = ts.Tracer()
	}
	return &InstrumentedTool{
		inner:   inner,
		metrics: metrics,
		tracer:  tracer,
		anomaly: anomaly,
	}
}

func (t *InstrumentedTool) Name() string                         { return t.inner.Name() }
func (t *InstrumentedTool) Description() string                  { return t.inner.Description() }
func (t *InstrumentedTool) InputSchema() map[string]any          { return t.inner.InputSchema() }
func (t *InstrumentedTool) Validate(params map[string]any) error { return t.inner.Validate(params) }

func (t *InstrumentedTool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	name := t.inner.Name()

	var span trace.Span
	if t.tracer != nil {
		ctx, span = t.tracer.Start(ctx, "tool.execute",
			trace.WithAttributes(attribute.String("tool.name", name)))
		defer span.End()
	}

	start := time.Now()
	result, err := t.inner.Execute(ctx, params)
	duration := time.Since(start).Seconds()

	if span != nil && err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	var violation *security.SecurityViolation
	switch {
	case errors.As(err, &violation):
		if t.metrics != nil {
			t.metrics.PolicyChecksTotal.WithLabelValues("blocked", violation.Kind.String()).Inc()
			t.metrics.ToolExecutionsTotal.WithLabelValues(name, "blocked").Inc()
		}
		if span != nil {
			span.SetAttributes(attribute.String("security.violation", violation.Kind.String()))
		}
		t.anomaly.RecordBlocked(tools.UserIDFromContext(ctx), violation.Pattern)
		return result, err

	case errors.Is(err, tools.ErrMissingArgument), errors.Is(err, tools.ErrInvalidArgument):
		// Malformed calls never reached the policy or the runtime.
		return result, err
	}

	status := "success"
	if err != nil || result == nil || !result.Success {
		status = "error"
	}
	if t.metrics != nil {
		t.metrics.PolicyChecksTotal.WithLabelValues("allowed", "").Inc()
		t.metrics.ToolExecutionsTotal.WithLabelValues(name, status).Inc()
		t.metrics.ToolExecutionDuration.WithLabelValues(name).Observe(duration)
	}
	return result, err
}

// Compile-time interface checks.
var (
	_ sandbox.Runtime = (*InstrumentedRuntime)(nil)
	_ tools.Tool      = (*InstrumentedTool)(nil)
)

// statusCode returns the HTTP status code as a string for metric labels.
func statusCode(code int) string {
	return strconv.Itoa(code)
}
