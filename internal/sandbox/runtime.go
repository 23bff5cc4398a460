// Package sandbox provides the pluggable execution backends that run shell
// commands on behalf of the agent. Each backend wraps one isolation
// technology (none, Docker, Apple containers, Landlock, Firejail, Bubblewrap)
// behind the same Runtime interface.
//
// Command text reaching a Runtime has already passed the command security
// policy. That policy is a textual heuristic; the isolation backends are the
// primary safety boundary.
package sandbox

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultTimeoutSeconds is applied when a CommandRequest carries no timeout.
const DefaultTimeoutSeconds = 60

// Runtime identifiers returned by Name().
const (
	NameNative     = "native"
	NameDocker     = "docker"
	NameApple      = "apple"
	NameLandlock   = "landlock"
	NameFirejail   = "firejail"
	NameBubblewrap = "bubblewrap"
)

// Runtime executes one shell command under a specific isolation technology.
// Implementations hold no mutable state between calls and are safe for
// concurrent use: every Execute spawns, supervises and reaps its own process.
type Runtime interface {
	// Name returns the stable backend identifier (e.g. "docker").
	Name() string

	// IsAvailable probes the environment for the backend's prerequisites.
	// Unavailability is an expected outcome, never an error.
	IsAvailable(ctx context.Context) bool

	// Execute runs command through "sh -c" inside the backend.
	// A non-zero exit status is reported in CommandOutput, not as an error.
	Execute(ctx context.Context, command string, req CommandRequest) (*CommandOutput, error)
}

// MountSpec grants a sandboxed process access to a host path.
type MountSpec struct {
	HostPath   string
	TargetPath string
	ReadOnly   bool
}

// CommandRequest is the unit of work handed to a Runtime.
type CommandRequest struct {
	// WorkDir is the working directory. Empty = backend default.
	WorkDir string

	// Env is overlaid on the environment of the sandboxed process.
	Env map[string]string

	// TimeoutSecs bounds wall-clock execution. Zero = DefaultTimeoutSeconds.
	TimeoutSecs uint64

	// Mounts are honored by container-style backends.
	Mounts []MountSpec
}

// NewCommandRequest returns a request with the default timeout.
func NewCommandRequest() CommandRequest {
	return CommandRequest{TimeoutSecs: DefaultTimeoutSeconds}
}

// WithWorkDir returns a copy of r with the working directory set.
func (r CommandRequest) WithWorkDir(dir string) CommandRequest {
	r.WorkDir = dir
	return r
}

// WithEnv returns a copy of r with key=value added to the environment overlay.
func (r CommandRequest) WithEnv(key, value string) CommandRequest {
	env := make(map[string]string, len(r.Env)+1)
	for k, v := range r.Env {
		env[k] = v
	}
	env[key] = value
	r.Env = env
	return r
}

// WithTimeout returns a copy of r with the timeout set in seconds.
func (r CommandRequest) WithTimeout(secs uint64) CommandRequest {
	r.TimeoutSecs = secs
	return r
}

// WithMount returns a copy of r with an additional bind mount.
func (r CommandRequest) WithMount(host, target string, readOnly bool) CommandRequest {
	mounts := make([]MountSpec, 0, len(r.Mounts)+1)
	mounts = append(mounts, r.Mounts...)
	r.Mounts = append(mounts, MountSpec{HostPath: host, TargetPath: target, ReadOnly: readOnly})
	return r
}

// timeoutSecs resolves the effective timeout.
func (r CommandRequest) timeoutSecs() uint64 {
	if r.TimeoutSecs == 0 {
		return DefaultTimeoutSeconds
	}
	return r.TimeoutSecs
}

func (r CommandRequest) timeout() time.Duration {
	return time.Duration(r.timeoutSecs()) * time.Second
}

// CommandOutput is the captured result of one execution.
type CommandOutput struct {
	Stdout string
	Stderr string

	// ExitCode is nil when the process was killed by a signal.
	ExitCode *int

	Duration time.Duration
}

// NewCommandOutput builds a CommandOutput. A negative exit code means the
// status is unknown (killed by signal) and is stored as nil.
func NewCommandOutput(stdout, stderr string, exitCode int) *CommandOutput {
	out := &CommandOutput{Stdout: stdout, Stderr: stderr}
	if exitCode >= 0 {
		code := exitCode
		out.ExitCode = &code
	}
	return out
}

// Success reports whether the process exited with status 0.
func (o *CommandOutput) Success() bool {
	return o.ExitCode != nil && *o.ExitCode == 0
}

// Format renders the output for the model. The layout is stable:
// stdout, an optional stderr section, then an exit marker when the
// command did not succeed.
func (o *CommandOutput) Format() string {
	var b strings.Builder
	b.WriteString(o.Stdout)

	if o.Stderr != "" {
		b.WriteString("\n--- stderr ---\n")
		b.WriteString(o.Stderr)
	}

	switch {
	case o.ExitCode == nil:
		b.WriteString("\n[Killed by signal]")
	case *o.ExitCode != 0:
		b.WriteString("\n[Exit code: ")
		b.WriteString(strconv.Itoa(*o.ExitCode))
		b.WriteString("]")
	}

	if b.Len() == 0 {
		return "(no output)"
	}
	return b.String()
}

type executionIDKey struct{}

// ContextWithExecutionID tags ctx with the ID a backend uses in its log
// lines and sandbox names, so callers can correlate them with their own
// records.
func ContextWithExecutionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, executionIDKey{}, id)
}

// ExecutionIDFromContext returns the execution ID set by
// ContextWithExecutionID, if any.
func ExecutionIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(executionIDKey{}).(string)
	return id, ok && id != ""
}

// executionID returns the ID carried by ctx, or a fresh one.
func executionID(ctx context.Context) string {
	if id, ok := ExecutionIDFromContext(ctx); ok {
		return id
	}
	return uuid.NewString()
}
