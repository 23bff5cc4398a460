package sandbox

import (
	"context"
	"sync"
	"testing"
	"time"
)

// blockingRuntime holds Execute open until release is closed.
type blockingRuntime struct {
	name    string
	started chan struct{}
	release chan struct{}
}

func (b *blockingRuntime) Name() string                     { return b.name }
func (b *blockingRuntime) IsAvailable(context.Context) bool { return true }

func (b *blockingRuntime) Execute(_ context.Context, _ string, _ CommandRequest) (*CommandOutput, error) {
	close(b.started)
	<-b.release
	return NewCommandOutput(b.name, "", 0), nil
}

func TestHandle_SwapLeavesInFlightCallsOnOldRuntime(t *testing.T) {
	old := &blockingRuntime{name: "old", started: make(chan struct{}), release: make(chan struct{})}
	h := NewHandle(old)

	var wg sync.WaitGroup
	var got string
	wg.Add(1)
	go func() {
		defer wg.Done()
		out, err := h.Execute(context.Background(), "x", NewCommandRequest())
		if err != nil {
			t.Errorf("unexpected error: %v", err)
			return
		}
		got = out.Stdout
	}()

	select {
	case <-old.started:
	case <-time.After(2 * time.Second):
		t.Fatal("execute did not start")
	}

	prev := h.Swap(NewNativeRuntime(testLogger()))
	if prev.Name() != "old" {
		t.Errorf("Swap() returned %q, want old", prev.Name())
	}
	if h.Name() != "native" {
		t.Errorf("Name() after swap = %q, want native", h.Name())
	}

	close(old.release)
	wg.Wait()
	if got != "old" {
		t.Errorf("in-flight execution ran on %q, want old", got)
	}
}
