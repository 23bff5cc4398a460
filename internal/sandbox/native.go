package sandbox

import (
	"context"
	"log/slog"
)

// NativeRuntime runs commands directly on the host through sh -c.
//
// It provides no isolation. Its safety depends entirely on the command
// security policy having already run.
type NativeRuntime struct {
	logger *slog.Logger
}

// NewNativeRuntime creates a native runtime.
func NewNativeRuntime(logger *slog.Logger) *NativeRuntime {
	return &NativeRuntime{logger: logger}
}

func (r *NativeRuntime) Name() string { return NameNative }

// IsAvailable always reports true: the host shell has no prerequisites.
func (r *NativeRuntime) IsAvailable(context.Context) bool { return true }

// Execute runs command with the request's working directory and
// environment overlay applied to the host environment.
func (r *NativeRuntime) Execute(ctx context.Context, command string, req CommandRequest) (*CommandOutput, error) {
	return runProcess(ctx, r.logger, processSpec{
		runtime:     NameNative,
		path:        "sh",
		args:        []string{"-c", command},
		dir:         req.WorkDir,
		env:         overlayEnv(req.Env),
		timeoutSecs: req.timeoutSecs(),
	})
}
