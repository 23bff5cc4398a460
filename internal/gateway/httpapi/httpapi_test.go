package httpapi

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/jkaninda/warden/internal/gateway"
	"github.com/jkaninda/warden/internal/sandbox"
	"github.com/jkaninda/warden/internal/security"
	"github.com/jkaninda/warden/internal/tools"
)

var _ gateway.Gateway = (*Gateway)(nil)

func TestStatusForError(t *testing.T) {
	violation := &security.SecurityViolation{Kind: security.ViolationBlocked, Pattern: "mkfs", Reason: "blocked"}

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"policy rejection", fmt.Errorf("shell command rejected: %w", violation), http.StatusForbidden},
		{"missing argument", fmt.Errorf("%w: command", tools.ErrMissingArgument), http.StatusBadRequest},
		{"invalid argument", fmt.Errorf("%w: timeout", tools.ErrInvalidArgument), http.StatusBadRequest},
		{"timeout", fmt.Errorf("sandbox execution: %w", sandbox.Timeout(30)), http.StatusGatewayTimeout},
		{"not available", fmt.Errorf("sandbox execution: %w", sandbox.NotAvailable("docker not running")), http.StatusServiceUnavailable},
		{"execution failed", fmt.Errorf("sandbox execution: %w", sandbox.ExecutionFailed("spawn", errors.New("no sh"))), http.StatusInternalServerError},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := statusForError(tt.err); got != tt.want {
				t.Errorf("statusForError(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestLookupAPIKey(t *testing.T) {
	keys := map[string]string{
		"key-alice": "alice",
		"key-bob":   "bob",
	}

	tests := []struct {
		key    string
		caller string
		ok     bool
	}{
		{"key-alice", "alice", true},
		{"key-bob", "bob", true},
		{"key-alic", "", false},
		{"", "", false},
		{"KEY-ALICE", "", false},
	}
	for _, tt := range tests {
		caller, ok := lookupAPIKey(keys, tt.key)
		if caller != tt.caller || ok != tt.ok {
			t.Errorf("lookupAPIKey(%q) = (%q, %v), want (%q, %v)", tt.key, caller, ok, tt.caller, tt.ok)
		}
	}

	if _, ok := lookupAPIKey(nil, "anything"); ok {
		t.Error("no keys configured must reject every request")
	}
}

func TestShellRequestParams(t *testing.T) {
	p := ShellRequest{Command: "ls -la"}.params()
	if p["command"] != "ls -la" {
		t.Errorf("command = %v", p["command"])
	}
	if _, ok := p["timeout"]; ok {
		t.Error("omitted timeout must not be forwarded")
	}

	timeout := int64(5)
	p = ShellRequest{Command: "sleep 1", Timeout: &timeout}.params()
	secs, ok, err := tools.OptionalPositiveInt(p, "timeout")
	if err != nil || !ok || secs != 5 {
		t.Errorf("timeout = (%d, %v, %v), want (5, true, nil)", secs, ok, err)
	}

	zero := int64(0)
	p = ShellRequest{Command: "true", Timeout: &zero}.params()
	if _, _, err := tools.OptionalPositiveInt(p, "timeout"); !errors.Is(err, tools.ErrInvalidArgument) {
		t.Errorf("zero timeout error = %v, want ErrInvalidArgument", err)
	}
}

func TestNewGateway_DefaultRequestSize(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	g := NewGateway(Config{ListenAddr: ":0"}, tools.NewRegistry(), nil, nil, logger)
	if g.config.MaxRequestSize != defaultMaxRequestSize {
		t.Errorf("MaxRequestSize = %d, want %d", g.config.MaxRequestSize, defaultMaxRequestSize)
	}

	g = NewGateway(Config{MaxRequestSize: 4096}, tools.NewRegistry(), nil, nil, logger)
	if g.config.MaxRequestSize != 4096 {
		t.Errorf("MaxRequestSize = %d, want 4096", g.config.MaxRequestSize)
	}
}

func TestStopBeforeStart(t *testing.T) {
	g := NewGateway(Config{}, tools.NewRegistry(), nil, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := g.Stop(t.Context()); err != nil {
		t.Errorf("Stop() before Start() = %v", err)
	}
}
