//go:build !linux

package sandbox

import "context"

func (r *FirejailRuntime) IsAvailable(context.Context) bool { return false }

func (r *FirejailRuntime) Execute(context.Context, string, CommandRequest) (*CommandOutput, error) {
	return nil, NotAvailable("the firejail runtime is only built for Linux")
}
