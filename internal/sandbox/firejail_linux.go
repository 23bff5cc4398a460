//go:build linux

package sandbox

import "context"

const firejailBinary = "firejail"

// IsAvailable reports whether the firejail binary resolves on PATH.
func (r *FirejailRuntime) IsAvailable(context.Context) bool {
	return lookPath(firejailBinary)
}

// Execute runs command under firejail. The working directory and
// environment overlay are applied to the firejail process, which passes
// them through to the sandboxed shell.
func (r *FirejailRuntime) Execute(ctx context.Context, command string, req CommandRequest) (*CommandOutput, error) {
	return runProcess(ctx, r.logger, processSpec{
		runtime:     NameFirejail,
		path:        firejailBinary,
		args:        r.buildArgs(command),
		dir:         req.WorkDir,
		env:         overlayEnv(req.Env),
		timeoutSecs: req.timeoutSecs(),
	})
}
