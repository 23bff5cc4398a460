package sandbox

import (
	"context"
	"sync/atomic"
)

// Handle is a shared reference to the active Runtime. Callers load the
// current runtime for each execution; Swap replaces it wholesale, so an
// in-flight Execute keeps the runtime it started with.
type Handle struct {
	rt atomic.Pointer[runtimeBox]
}

// runtimeBox lets atomic.Pointer hold an interface value.
type runtimeBox struct {
	Runtime
}

// NewHandle returns a Handle pointing at rt.
func NewHandle(rt Runtime) *Handle {
	h := &Handle{}
	h.rt.Store(&runtimeBox{rt})
	return h
}

// Load returns the current runtime.
func (h *Handle) Load() Runtime {
	return h.rt.Load().Runtime
}

// Swap installs rt and returns the previous runtime.
func (h *Handle) Swap(rt Runtime) Runtime {
	return h.rt.Swap(&runtimeBox{rt}).Runtime
}

// Name returns the name of the current runtime.
func (h *Handle) Name() string {
	return h.Load().Name()
}

// IsAvailable probes the current runtime.
func (h *Handle) IsAvailable(ctx context.Context) bool {
	return h.Load().IsAvailable(ctx)
}

// Execute runs command on the runtime current at call time.
func (h *Handle) Execute(ctx context.Context, command string, req CommandRequest) (*CommandOutput, error) {
	return h.Load().Execute(ctx, command, req)
}
