package observability

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/jkaninda/warden/internal/config"
	"github.com/jkaninda/warden/internal/sandbox"
	"github.com/jkaninda/warden/internal/security"
	"github.com/jkaninda/warden/internal/tools"
)

// --- No-op Path ---

func TestNew_AllDisabled(t *testing.T) {
	obs, err := New(config.ObservabilityConfig{}, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if obs.Metrics != nil {
		t.Error("metrics should be nil when not enabled")
	}
	if obs.Tracer != nil {
		t.Error("tracer should be nil when not enabled")
	}
	if obs.Anomaly != nil {
		t.Error("anomaly should be nil when not enabled")
	}
	if obs.Health == nil {
		t.Error("health checker should always be created")
	}
}

func TestNew_MetricsAndAnomaly(t *testing.T) {
	obs, err := New(config.ObservabilityConfig{
		Metrics: config.MetricsConfig{Enabled: true},
		Anomaly: config.AnomalyConfig{Enabled: true},
	}, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if obs.MetricsOrNil() == nil {
		t.Error("expected metrics collector")
	}
	if obs.AnomalyOrNil() == nil {
		t.Error("expected anomaly detector")
	}
	if obs.TracerOrNil() != nil {
		t.Error("tracing was not enabled")
	}
}

func TestObservability_NilReceiver(t *testing.T) {
	var obs *Observability
	obs.Shutdown(context.Background())
	if obs.TracerOrNil() != nil || obs.MetricsOrNil() != nil || obs.AnomalyOrNil() != nil {
		t.Error("expected nil components from nil Observability")
	}
}

func TestNewTracerSetup_Disabled(t *testing.T) {
	ts, err := NewTracerSetup(config.TracingConfig{})
	if err != nil {
		t.Fatalf("NewTracerSetup() error: %v", err)
	}
	if ts != nil {
		t.Fatal("expected nil setup when tracing is disabled")
	}
	// A nil setup still hands out a usable tracer.
	_, span := ts.Tracer().Start(context.Background(), "noop")
	span.End()
	if err := ts.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error: %v", err)
	}
}

// --- MetricsCollector ---

func TestMetricsCollector_RecordAndGather(t *testing.T) {
	m := NewMetricsCollector()

	m.RuntimeExecutionsTotal.WithLabelValues("native", "success").Inc()
	m.RuntimeExecutionsTotal.WithLabelValues("native", "success").Inc()
	m.RuntimeExecutionsTotal.WithLabelValues("native", "timeout").Inc()
	m.PolicyChecksTotal.WithLabelValues("blocked", "blocked_pattern").Inc()
	m.HTTPRequestsTotal.WithLabelValues("POST", "/v1/tools/shell", "200").Inc()

	reg := m.Registry
	if got := counterValue(t, reg, "warden_runtime_executions_total", prometheus.Labels{"runtime": "native", "status": "success"}); got != 2 {
		t.Errorf("success count = %v, want 2", got)
	}
	if got := counterValue(t, reg, "warden_runtime_executions_total", prometheus.Labels{"status": "timeout"}); got != 1 {
		t.Errorf("timeout count = %v, want 1", got)
	}
	if got := counterValue(t, reg, "warden_security_policy_checks_total", prometheus.Labels{"result": "blocked"}); got != 1 {
		t.Errorf("blocked count = %v, want 1", got)
	}
	if got := counterValue(t, reg, "warden_http_requests_total", prometheus.Labels{"status_code": "200"}); got != 1 {
		t.Errorf("http count = %v, want 1", got)
	}
}

// --- HealthChecker ---

func TestHealthChecker_NoChecks(t *testing.T) {
	h := NewHealthChecker(nil)
	if status := h.CheckReady(context.Background()); status.Status != "ok" {
		t.Errorf("status = %q, want ok", status.Status)
	}
}

func TestHealthChecker_OneFails(t *testing.T) {
	h := NewHealthChecker(nil)
	h.AddCheck("docker", func(ctx context.Context) error { return errors.New("daemon unreachable") })
	h.AddCheck("workspace", func(ctx context.Context) error { return nil })

	status := h.CheckReady(context.Background())
	if status.Status != "degraded" {
		t.Errorf("status = %q, want degraded", status.Status)
	}
	if got := status.Checks["docker"]; got.Status != "fail" || got.Message != "daemon unreachable" {
		t.Errorf("docker check = %+v", got)
	}
	if status.Checks["workspace"].Status != "ok" {
		t.Errorf("workspace check = %q, want ok", status.Checks["workspace"].Status)
	}
}

func TestHealthChecker_Liveness(t *testing.T) {
	h := NewHealthChecker(nil)
	h.AddCheck("never", func(ctx context.Context) error { return errors.New("down") })
	if status := h.CheckHealth(); status.Status != "ok" {
		t.Errorf("liveness status = %q, want ok", status.Status)
	}
}

func TestRuntimeCheck(t *testing.T) {
	up := RuntimeCheck(&stubRuntime{name: "native", available: true})
	if err := up(context.Background()); err != nil {
		t.Errorf("available runtime: %v", err)
	}

	down := RuntimeCheck(&stubRuntime{name: "docker"})
	err := down(context.Background())
	if err == nil || err.Error() != "runtime docker is not available" {
		t.Errorf("unavailable runtime error = %v", err)
	}
}

// --- AnomalyDetector ---

func TestAnomalyDetector_NilSafe(t *testing.T) {
	var a *AnomalyDetector
	if a.RecordError("op") {
		t.Error("nil detector reported an anomaly")
	}
	a.RecordSuccess("op")
	if a.RecordBlocked("alice", "rm -rf /") {
		t.Error("nil detector reported an anomaly")
	}
	if a.ErrorRate("op") != 0 {
		t.Error("nil detector has a non-zero error rate")
	}
}

func TestAnomalyDetector_ErrorRateThreshold(t *testing.T) {
	a := NewAnomalyDetector(config.AnomalyConfig{
		Enabled:            true,
		ErrorRateThreshold: 0.5,
		WindowSeconds:      60,
	}, nil)
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return clock }

	for range 4 {
		a.RecordSuccess("runtime_docker")
	}
	// 4/8 errors sits on the threshold; the fifth error crosses it.
	for i := 1; i <= 4; i++ {
		if a.RecordError("runtime_docker") {
			t.Fatalf("error %d: anomaly reported below threshold", i)
		}
	}
	if !a.RecordError("runtime_docker") {
		t.Fatal("expected anomaly at 5/9 errors")
	}
	if got, want := a.ErrorRate("runtime_docker"), 5.0/9.0; got != want {
		t.Errorf("ErrorRate = %v, want %v", got, want)
	}

	clock = clock.Add(61 * time.Second)
	if got := a.ErrorRate("runtime_docker"); got != 0 {
		t.Errorf("ErrorRate after window = %v, want 0", got)
	}
}

func TestAnomalyDetector_MinSamples(t *testing.T) {
	a := NewAnomalyDetector(config.AnomalyConfig{ErrorRateThreshold: 0.1}, nil)
	for i := 1; i < minSamples; i++ {
		if a.RecordError("op") {
			t.Fatalf("anomaly reported after %d samples", i)
		}
	}
	if !a.RecordError("op") {
		t.Error("expected anomaly once enough samples exist")
	}
}

func TestAnomalyDetector_BlockedThreshold(t *testing.T) {
	a := NewAnomalyDetector(config.AnomalyConfig{BlockedThreshold: 3, WindowSeconds: 60}, nil)
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return clock }

	if a.RecordBlocked("alice", "rm -rf /") || a.RecordBlocked("alice", "rm -rf /") {
		t.Fatal("anomaly reported below threshold")
	}
	if a.RecordBlocked("bob", "mkfs") {
		t.Fatal("callers must be counted separately")
	}
	if !a.RecordBlocked("alice", "dd if=") {
		t.Fatal("expected anomaly on third blocked command")
	}

	clock = clock.Add(2 * time.Minute)
	if a.RecordBlocked("alice", "rm -rf /") {
		t.Error("old rejections should have left the window")
	}
}

// --- InstrumentedRuntime ---

type stubRuntime struct {
	name      string
	available bool
	out       *sandbox.CommandOutput
	err       error
	calls     int
	execID    string
}

func (s *stubRuntime) Name() string                         { return s.name }
func (s *stubRuntime) IsAvailable(ctx context.Context) bool { return s.available }
func (s *stubRuntime) Execute(ctx context.Context, command string, req sandbox.CommandRequest) (*sandbox.CommandOutput, error) {
	s.calls++
	s.execID, _ = sandbox.ExecutionIDFromContext(ctx)
	return s.out, s.err
}

func TestInstrumentedRuntime_Status(t *testing.T) {
	tests := []struct {
		name   string
		out    *sandbox.CommandOutput
		err    error
		status string
	}{
		{"success", sandbox.NewCommandOutput("ok", "", 0), nil, "success"},
		{"nonzero", sandbox.NewCommandOutput("", "boom", 2), nil, "nonzero_exit"},
		{"killed", sandbox.NewCommandOutput("", "", -1), nil, "killed"},
		{"timeout", nil, sandbox.Timeout(5), "timeout"},
		{"not available", nil, sandbox.NotAvailable("docker daemon not running"), "not_available"},
		{"failed", nil, sandbox.ExecutionFailed("spawn", errors.New("exec format error")), "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMetricsCollector()
			inner := &stubRuntime{name: "native", available: true, out: tt.out, err: tt.err}
			rt := NewInstrumentedRuntime(inner, m, nil, nil)

			out, err := rt.Execute(context.Background(), "true", sandbox.NewCommandRequest())
			if !errors.Is(err, tt.err) || out != tt.out {
				t.Fatalf("wrapper changed the result: out=%v err=%v", out, err)
			}
			if inner.calls != 1 {
				t.Errorf("inner calls = %d, want 1", inner.calls)
			}
			labels := prometheus.Labels{"runtime": "native", "status": tt.status}
			if got := counterValue(t, m.Registry, "warden_runtime_executions_total", labels); got != 1 {
				t.Errorf("executions{status=%s} = %v, want 1", tt.status, got)
			}
			if got := gaugeValue(t, m.Registry, "warden_runtime_active_executions"); got != 0 {
				t.Errorf("active executions = %v after return, want 0", got)
			}
		})
	}
}

func TestInstrumentedRuntime_Delegates(t *testing.T) {
	rt := NewInstrumentedRuntime(&stubRuntime{name: "firejail", available: true}, nil, nil, nil)
	if rt.Name() != "firejail" {
		t.Errorf("Name() = %q", rt.Name())
	}
	if !rt.IsAvailable(context.Background()) {
		t.Error("IsAvailable() should delegate")
	}
}

func TestInstrumentedRuntime_NilComponents(t *testing.T) {
	inner := &stubRuntime{name: "native", out: sandbox.NewCommandOutput("", "", 0)}
	rt := NewInstrumentedRuntime(inner, nil, nil, nil)
	if _, err := rt.Execute(context.Background(), "true", sandbox.NewCommandRequest()); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
}

func TestInstrumentedRuntime_Span(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	ts := newTracerSetup("test", sdktrace.WithSpanProcessor(rec))
	defer ts.Shutdown(context.Background())

	inner := &stubRuntime{name: "docker", err: sandbox.Timeout(1)}
	rt := NewInstrumentedRuntime(inner, nil, ts, nil)
	_, _ = rt.Execute(context.Background(), "sleep 5", sandbox.NewCommandRequest().WithTimeout(1))

	spans := rec.Ended()
	if len(spans) != 1 {
		t.Fatalf("ended spans = %d, want 1", len(spans))
	}
	span := spans[0]
	if span.Name() != "runtime.execute" {
		t.Errorf("span name = %q", span.Name())
	}
	if span.Status().Code != codes.Error {
		t.Errorf("span status = %v, want Error", span.Status().Code)
	}
	var found bool
	for _, kv := range span.Attributes() {
		if string(kv.Key) == "runtime.name" && kv.Value.AsString() == "docker" {
			found = true
		}
	}
	if !found {
		t.Error("runtime.name attribute missing")
	}
}

func TestInstrumentedRuntime_ExecutionID(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	ts := newTracerSetup("test", sdktrace.WithSpanProcessor(rec))
	defer ts.Shutdown(context.Background())

	inner := &stubRuntime{name: "native", out: sandbox.NewCommandOutput("", "", 0)}
	rt := NewInstrumentedRuntime(inner, nil, ts, nil)

	_, _ = rt.Execute(context.Background(), "true", sandbox.NewCommandRequest())
	if inner.execID == "" {
		t.Fatal("inner runtime got no execution ID")
	}
	generated := inner.execID

	ctx := sandbox.ContextWithExecutionID(context.Background(), "req-42")
	_, _ = rt.Execute(ctx, "true", sandbox.NewCommandRequest())
	if inner.execID != "req-42" {
		t.Errorf("caller execution ID replaced: got %q", inner.execID)
	}

	spans := rec.Ended()
	if len(spans) != 2 {
		t.Fatalf("ended spans = %d, want 2", len(spans))
	}
	for i, want := range []string{generated, "req-42"} {
		var got string
		for _, kv := range spans[i].Attributes() {
			if string(kv.Key) == "warden.execution_id" {
				got = kv.Value.AsString()
			}
		}
		if got != want {
			t.Errorf("span %d warden.execution_id = %q, want %q", i, got, want)
		}
	}
}

func TestNewSampler(t *testing.T) {
	tests := []struct {
		rate float64
		want string
	}{
		{0, "AlwaysOnSampler"},
		{-1, "AlwaysOnSampler"},
		{7, "AlwaysOnSampler"},
		{0.25, "TraceIDRatioBased{0.25}"},
	}
	for _, tt := range tests {
		desc := newSampler(tt.rate).Description()
		if !strings.HasPrefix(desc, "ParentBased{") || !strings.Contains(desc, "root:"+tt.want) {
			t.Errorf("newSampler(%v) = %s", tt.rate, desc)
		}
	}
}

func TestNewResource(t *testing.T) {
	res, err := newResource(context.Background(), "warden-test")
	if err != nil {
		t.Fatalf("newResource() error: %v", err)
	}
	attrs := map[string]string{}
	for _, kv := range res.Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	if attrs["service.name"] != "warden-test" {
		t.Errorf("service.name = %q", attrs["service.name"])
	}
	if attrs["warden.component"] != "sandbox" {
		t.Errorf("warden.component = %q", attrs["warden.component"])
	}
	if attrs["host.name"] == "" {
		t.Error("host.name missing")
	}
}

func TestInstrumentedRuntime_FeedsAnomaly(t *testing.T) {
	a := NewAnomalyDetector(config.AnomalyConfig{ErrorRateThreshold: 0.5}, nil)
	inner := &stubRuntime{name: "docker", err: sandbox.NotAvailable("no daemon")}
	rt := NewInstrumentedRuntime(inner, nil, nil, a)

	for range 3 {
		_, _ = rt.Execute(context.Background(), "true", sandbox.NewCommandRequest())
	}
	if got := a.ErrorRate("runtime_docker"); got != 1 {
		t.Errorf("ErrorRate = %v, want 1", got)
	}
}

// --- InstrumentedTool ---

type stubTool struct {
	result *tools.Result
	err    error
}

func (s *stubTool) Name() string                         { return "shell" }
func (s *stubTool) Description() string                  { return "stub" }
func (s *stubTool) InputSchema() map[string]any          { return map[string]any{"type": "object"} }
func (s *stubTool) Validate(params map[string]any) error { return nil }
func (s *stubTool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	return s.result, s.err
}

func TestInstrumentedTool_Blocked(t *testing.T) {
	m := NewMetricsCollector()
	a := NewAnomalyDetector(config.AnomalyConfig{BlockedThreshold: 2}, nil)
	violation := &security.SecurityViolation{
		Kind:    security.ViolationBlocked,
		Pattern: "rm -rf /",
		Reason:  "command contains blocked pattern 'rm -rf /'",
	}
	tool := NewInstrumentedTool(&stubTool{err: fmt.Errorf("shell command rejected: %w", violation)}, m, nil, a)
	ctx := tools.ContextWithUserID(context.Background(), "alice")

	_, err := tool.Execute(ctx, map[string]any{"command": "rm -rf /"})
	if !errors.Is(err, security.ErrSecurityViolation) {
		t.Fatalf("error = %v, want security violation", err)
	}

	blocked := prometheus.Labels{"result": "blocked", "kind": "blocked_pattern"}
	if got := counterValue(t, m.Registry, "warden_security_policy_checks_total", blocked); got != 1 {
		t.Errorf("blocked checks = %v, want 1", got)
	}
	if got := counterValue(t, m.Registry, "warden_tool_executions_total", prometheus.Labels{"status": "blocked"}); got != 1 {
		t.Errorf("blocked tool executions = %v, want 1", got)
	}

	// The first rejection was recorded against alice; the second trips the threshold.
	if !a.RecordBlocked("alice", "rm -rf /") {
		t.Error("blocked command was not attributed to the caller")
	}
}

func TestInstrumentedTool_Outcomes(t *testing.T) {
	tests := []struct {
		name    string
		result  *tools.Result
		err     error
		status  string
		allowed float64
	}{
		{"success", &tools.Result{Output: "ok", Success: true}, nil, "success", 1},
		{"nonzero exit", &tools.Result{Output: "[Exit code: 1]"}, nil, "error", 1},
		{"runtime error", nil, fmt.Errorf("sandbox execution: %w", sandbox.Timeout(3)), "error", 1},
		{"bad arguments", nil, fmt.Errorf("%w: command", tools.ErrMissingArgument), "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMetricsCollector()
			tool := NewInstrumentedTool(&stubTool{result: tt.result, err: tt.err}, m, nil, nil)

			res, err := tool.Execute(context.Background(), map[string]any{"command": "x"})
			if res != tt.result || !errors.Is(err, tt.err) {
				t.Fatalf("wrapper changed the result: res=%v err=%v", res, err)
			}

			allowed := prometheus.Labels{"result": "allowed"}
			if got := counterValue(t, m.Registry, "warden_security_policy_checks_total", allowed); got != tt.allowed {
				t.Errorf("allowed checks = %v, want %v", got, tt.allowed)
			}
			if tt.status == "" {
				return
			}
			labels := prometheus.Labels{"tool": "shell", "status": tt.status}
			if got := counterValue(t, m.Registry, "warden_tool_executions_total", labels); got != 1 {
				t.Errorf("tool executions{status=%s} = %v, want 1", tt.status, got)
			}
		})
	}
}

func TestInstrumentedTool_Delegates(t *testing.T) {
	tool := NewInstrumentedTool(&stubTool{}, nil, nil, nil)
	if tool.Name() != "shell" || tool.Description() != "stub" {
		t.Errorf("metadata not delegated: %q %q", tool.Name(), tool.Description())
	}
	if tool.InputSchema()["type"] != "object" {
		t.Error("schema not delegated")
	}
}

// --- Helpers ---

func labelMap(pairs []*dto.LabelPair) map[string]string {
	m := make(map[string]string)
	for _, p := range pairs {
		m[p.GetName()] = p.GetValue()
	}
	return m
}

func findMetric(t *testing.T, reg *prometheus.Registry, name string, labels prometheus.Labels) *dto.Metric {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather error: %v", err)
	}
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, metric := range f.GetMetric() {
			lm := labelMap(metric.GetLabel())
			match := true
			for k, v := range labels {
				if lm[k] != v {
					match = false
					break
				}
			}
			if match {
				return metric
			}
		}
	}
	return nil
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels prometheus.Labels) float64 {
	t.Helper()
	return findMetric(t, reg, name, labels).GetCounter().GetValue()
}

func gaugeValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	return findMetric(t, reg, name, nil).GetGauge().GetValue()
}
