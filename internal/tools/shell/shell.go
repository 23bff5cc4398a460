// Package shell implements the sandboxed shell execution tool.
// Every command is checked by the command policy and then run by the
// configured sandbox runtime; nothing executes on the host directly.
package shell

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/jkaninda/warden/internal/sandbox"
	"github.com/jkaninda/warden/internal/security"
	"github.com/jkaninda/warden/internal/tools"
)

// ToolName is the name the LLM uses to call the tool.
const ToolName = "shell"

// Config holds the tool's limits.
type Config struct {
	// DefaultTimeoutSecs applies when the call carries no timeout. 0 means 60.
	DefaultTimeoutSecs uint64
	// MaxOutputBytes caps the formatted result. 0 means tools.MaxOutputBytes.
	MaxOutputBytes int
}

// Tool executes shell commands inside a sandbox runtime.
type Tool struct {
	policy         *security.CommandPolicy
	runtime        sandbox.Runtime
	defaultTimeout uint64
	maxOutput      int
	logger         *slog.Logger
}

// NewTool creates a shell tool. Pass a *sandbox.Handle as rt when the
// runtime may be replaced while the tool is live.
func NewTool(policy *security.CommandPolicy, rt sandbox.Runtime, cfg Config, logger *slog.Logger) *Tool {
	if policy == nil {
		policy = security.DefaultCommandPolicy(logger)
	}
	if cfg.DefaultTimeoutSecs == 0 {
		cfg.DefaultTimeoutSecs = sandbox.DefaultTimeoutSeconds
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = tools.MaxOutputBytes
	}
	return &Tool{
		policy:         policy,
		runtime:        rt,
		defaultTimeout: cfg.DefaultTimeoutSecs,
		maxOutput:      cfg.MaxOutputBytes,
		logger:         logger,
	}
}

func (t *Tool) Name() string        { return ToolName }
func (t *Tool) Description() string { return "Execute a shell command and return the output" }
func (t *Tool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{"type": "string", "description": "The shell command to execute"},
			"timeout": map[string]any{
				"type":        "integer",
				"description": fmt.Sprintf("Timeout in seconds (default: %d)", t.defaultTimeout),
			},
		},
		"required": []string{"command"},
	}
}

// Validate checks that required params are present and well-formed.
// It does not consult the command policy.
func (t *Tool) Validate(params map[string]any) error {
	if _, err := tools.StringArg(params, "command"); err != nil {
		return err
	}
	_, _, err := tools.OptionalPositiveInt(params, "timeout")
	return err
}

// Execute runs the command through the policy and then the sandbox.
//
// Required params:
//
//	"command" (string): the shell command to execute
//
// Optional params:
//
//	"timeout" (integer): seconds, overrides the default
//
// The workspace, when present in ctx, is resolved to its canonical path and
// becomes the working directory and a read-write bind mount of that path.
func (t *Tool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	command, err := tools.StringArg(params, "command")
	if err != nil {
		return nil, err
	}

	if err := t.policy.Validate(command); err != nil {
		t.logger.WarnContext(ctx, "shell command rejected by policy",
			slog.String("command", command),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("shell command rejected: %w", err)
	}

	timeout, ok, err := tools.OptionalPositiveInt(params, "timeout")
	if err != nil {
		return nil, err
	}
	if !ok {
		timeout = t.defaultTimeout
	}

	req := sandbox.NewCommandRequest().WithTimeout(timeout)
	if ws := tools.WorkspaceFromContext(ctx); ws != "" {
		resolved, err := filepath.EvalSymlinks(ws)
		if err == nil {
			resolved, err = filepath.Abs(resolved)
		}
		if err != nil {
			return nil, fmt.Errorf("resolving workspace: %w", sandbox.ExecutionFailed("workspace "+ws, err))
		}
		req = req.WithWorkDir(resolved).WithMount(resolved, resolved, false)
	}

	t.logger.InfoContext(ctx, "shell tool executing",
		slog.String("command", command),
		slog.String("runtime", t.runtime.Name()),
		slog.Uint64("timeout_secs", timeout),
	)

	out, err := t.runtime.Execute(ctx, command, req)
	if err != nil {
		return nil, fmt.Errorf("sandbox execution: %w", err)
	}

	var exitCode any
	if out.ExitCode != nil {
		exitCode = *out.ExitCode
	}

	return &tools.Result{
		Output:  tools.TruncateOutput(out.Format(), t.maxOutput),
		Success: out.Success(),
		Metadata: map[string]any{
			"exit_code": exitCode,
			"duration":  out.Duration.String(),
			"runtime":   t.runtime.Name(),
		},
	}, nil
}
