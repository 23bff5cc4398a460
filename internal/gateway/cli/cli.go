// Package cli implements an interactive prompt that runs each line through
// the shell tool.
package cli

import (
	"bufio"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/jkaninda/warden/internal/security"
	"github.com/jkaninda/warden/internal/tools"
)

// Gateway is the interactive command-line interface.
type Gateway struct {
	tool     tools.Tool
	callerID string
	workDir  string
	in       io.Reader
	out      io.Writer
	errOut   io.Writer
	logger   *slog.Logger
	done     chan struct{} // closed by Stop to signal shutdown
}

// Config wires the prompt to its streams and caller identity.
type Config struct {
	CallerID string
	WorkDir  string // Passed to the tool as the caller workspace. Empty = none.
	In       io.Reader
	Out      io.Writer
	ErrOut   io.Writer
}

// NewGateway creates a CLI gateway backed by the given tool.
func NewGateway(tool tools.Tool, cfg Config, logger *slog.Logger) *Gateway {
	if cfg.CallerID == "" {
		cfg.CallerID = "cli"
	}
	if cfg.ErrOut == nil {
		cfg.ErrOut = cfg.Out
	}
	return &Gateway{
		tool:     tool,
		callerID: cfg.CallerID,
		workDir:  cfg.WorkDir,
		in:       cfg.In,
		out:      cfg.Out,
		errOut:   cfg.ErrOut,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Start runs the interactive REPL. Blocks until ctx is cancelled,
// Stop is called, input ends, or the user types "exit".
func (g *Gateway) Start(ctx context.Context) error {
	scanner := bufio.NewScanner(g.in)

	fmt.Fprintln(g.out, "Warden interactive shell. Every command goes through the policy and sandbox.")
	fmt.Fprintln(g.out, "Type a command (or \"exit\" to quit).")
	fmt.Fprintln(g.out)

	for {
		fmt.Fprint(g.out, "warden> ")

		// Check for context cancellation or Stop signal between prompts.
		select {
		case <-ctx.Done():
			fmt.Fprintln(g.out, "\nShutting down.")
			return nil
		case <-g.done:
			fmt.Fprintln(g.out, "\nShutting down.")
			return nil
		default:
		}

		if !scanner.Scan() {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			fmt.Fprintln(g.out, "Goodbye.")
			return nil
		}

		g.run(ctx, line)
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading stdin: %w", err)
	}
	fmt.Fprintln(g.out)
	return nil
}

// run executes one line and prints the result or the reason it did not run.
func (g *Gateway) run(ctx context.Context, line string) {
	correlationID := newCorrelationID()
	g.logger.DebugContext(ctx, "cli command",
		slog.String("caller", g.callerID),
		slog.String("correlation_id", correlationID),
	)

	ctx = tools.ContextWithUserID(ctx, g.callerID)
	if g.workDir != "" {
		ctx = tools.ContextWithWorkspace(ctx, g.workDir)
	}

	result, err := g.tool.Execute(ctx, map[string]any{"command": line})
	if err != nil {
		var violation *security.SecurityViolation
		if errors.As(err, &violation) {
			fmt.Fprintf(g.errOut, "Blocked: %s\n", violation.Reason)
			return
		}
		g.logger.ErrorContext(ctx, "command failed",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)
		fmt.Fprintf(g.errOut, "Error: %v\n", err)
		return
	}
	fmt.Fprintln(g.out, result.Output)
}

// Stop signals the REPL to shut down.
func (g *Gateway) Stop(_ context.Context) error {
	select {
	case <-g.done:
		// Already closed.
	default:
		close(g.done)
	}
	return nil
}

// newCorrelationID generates a short random hex ID for request tracing.
func newCorrelationID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return fmt.Sprintf("%x", b)
}
