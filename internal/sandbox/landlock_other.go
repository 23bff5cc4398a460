//go:build !linux

package sandbox

import "context"

func (r *LandlockRuntime) Execute(context.Context, string, CommandRequest) (*CommandOutput, error) {
	return nil, NotAvailable("Landlock requires Linux 5.13 or newer")
}
