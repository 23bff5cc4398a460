package sandbox

import (
	"context"
	"errors"
	"log/slog"
	"os/exec"
	goruntime "runtime"
	"time"
)

const (
	appleProbeTimeout   = 5 * time.Second
	appleCleanupTimeout = 10 * time.Second
)

// AppleConfig configures the Apple container backend.
type AppleConfig struct {
	// Image is passed as --image when set; otherwise the tool default applies.
	Image       string
	ExtraMounts []MountSpec
}

// AppleRuntime runs each command in a fresh container through Apple's
// "container" tool. It is only available on macOS.
type AppleRuntime struct {
	image       string
	extraMounts []MountSpec
	logger      *slog.Logger
}

// NewAppleRuntime creates an Apple container backend.
func NewAppleRuntime(cfg AppleConfig, logger *slog.Logger) *AppleRuntime {
	return &AppleRuntime{
		image:       cfg.Image,
		extraMounts: cfg.ExtraMounts,
		logger:      logger,
	}
}

func (r *AppleRuntime) Name() string { return NameApple }

// IsAvailable reports true on macOS when "container --version" succeeds.
func (r *AppleRuntime) IsAvailable(ctx context.Context) bool {
	if !appleSupported() {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, appleProbeTimeout)
	defer cancel()
	return exec.CommandContext(ctx, "container", "--version").Run() == nil
}

func (r *AppleRuntime) Execute(ctx context.Context, command string, req CommandRequest) (*CommandOutput, error) {
	if !appleSupported() {
		return nil, NotAvailable("Apple Container is only available on macOS")
	}
	execID := executionID(ctx)
	name := containerName(execID)

	out, err := runProcess(ctx, r.logger, processSpec{
		runtime:     NameApple,
		execID:      execID,
		path:        "container",
		args:        r.buildArgs(command, req, name),
		timeoutSecs: req.timeoutSecs(),
	})
	if errors.Is(err, ErrTimeout) || (err != nil && ctx.Err() != nil) {
		// Killing the CLI does not stop the container.
		r.forceRemoveContainer(name)
	}
	return out, err
}

// buildArgs returns the container CLI arguments:
//
//	run --rm [--name N] [--image I] [--workdir DIR] [--mount type=bind,...]* [--env K=V]* -- sh -c CMD
func (r *AppleRuntime) buildArgs(command string, req CommandRequest, name string) []string {
	args := []string{"run", "--rm"}
	if name != "" {
		args = append(args, "--name", name)
	}
	if r.image != "" {
		args = append(args, "--image", r.image)
	}
	if req.WorkDir != "" {
		args = append(args, "--workdir", req.WorkDir)
	}
	for _, m := range append(append([]MountSpec(nil), req.Mounts...), r.extraMounts...) {
		args = append(args, "--mount", appleMountArg(m))
	}
	for _, k := range sortedKeys(req.Env) {
		args = append(args, "--env", k+"="+req.Env[k])
	}
	return append(args, "--", "sh", "-c", command)
}

// forceRemoveContainer deletes a container that outlived its CLI process.
func (r *AppleRuntime) forceRemoveContainer(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), appleCleanupTimeout)
	defer cancel()

	if out, err := exec.CommandContext(ctx, "container", cleanupArgs(name)...).CombinedOutput(); err != nil {
		r.logger.Warn("failed to force-remove container",
			slog.String("container", name),
			slog.String("error", err.Error()),
			slog.String("output", string(out)),
		)
	}
}

func cleanupArgs(name string) []string {
	return []string{"delete", "--force", name}
}

func appleMountArg(m MountSpec) string {
	spec := "type=bind,source=" + m.HostPath + ",target=" + m.TargetPath
	if m.ReadOnly {
		spec += ",readonly"
	}
	return spec
}

func appleSupported() bool { return goruntime.GOOS == "darwin" }
