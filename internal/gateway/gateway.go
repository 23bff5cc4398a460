// Package gateway defines the interface for entry points that accept
// shell commands from callers.
package gateway

import "context"

// Gateway is a caller-facing entry point (interactive CLI, HTTP).
type Gateway interface {
	// Start launches the gateway's loop and blocks until the gateway
	// exits or the context is canceled. Returns an error only on failure.
	Start(ctx context.Context) error

	// Stop performs graceful shutdown. The context carries a deadline
	// for the grace period. In-flight commands should drain before returning.
	Stop(ctx context.Context) error
}
