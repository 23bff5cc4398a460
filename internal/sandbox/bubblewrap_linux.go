//go:build linux

package sandbox

import "context"

const bwrapBinary = "bwrap"

// IsAvailable reports whether bwrap resolves on PATH.
func (r *BubblewrapRuntime) IsAvailable(context.Context) bool {
	return lookPath(bwrapBinary)
}

// Execute runs command under bwrap. The working directory is bound
// read-write and used as the current directory; the environment overlay
// is inherited by the sandboxed shell.
func (r *BubblewrapRuntime) Execute(ctx context.Context, command string, req CommandRequest) (*CommandOutput, error) {
	return runProcess(ctx, r.logger, processSpec{
		runtime:     NameBubblewrap,
		path:        bwrapBinary,
		args:        r.buildArgs(command, req.WorkDir),
		dir:         req.WorkDir,
		env:         overlayEnv(req.Env),
		timeoutSecs: req.timeoutSecs(),
	})
}
