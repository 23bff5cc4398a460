//go:build !linux

package sandbox

import "context"

func (r *BubblewrapRuntime) IsAvailable(context.Context) bool { return false }

func (r *BubblewrapRuntime) Execute(context.Context, string, CommandRequest) (*CommandOutput, error) {
	return nil, NotAvailable("the bubblewrap runtime is only built for Linux")
}
