package sandbox

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/google/uuid"
)

const (
	defaultDockerImage   = "alpine:latest"
	defaultDockerMemory  = "512m"
	defaultDockerCPUs    = "1.0"
	defaultDockerNetwork = "none"

	dockerProbeTimeout   = 5 * time.Second
	dockerCleanupTimeout = 10 * time.Second
)

// DockerConfig configures the Docker backend.
// Empty fields fall back to the safe defaults (alpine, 512m, 1 CPU, no network).
type DockerConfig struct {
	Image       string
	MemoryLimit string
	CPULimit    string
	Network     string

	// NoLimits drops the --memory and --cpus flags entirely.
	NoLimits bool

	// ExtraMounts are added to every container, after request mounts.
	ExtraMounts []MountSpec
}

// DockerRuntime runs each command in a fresh "docker run --rm" container.
//
// Execution goes through the docker CLI so the invocation matches what
// operators run by hand. The Engine API client is used for the daemon
// health probe and to force-remove containers left behind by a timeout.
type DockerRuntime struct {
	image       string
	memoryLimit string
	cpuLimit    string
	network     string
	extraMounts []MountSpec
	logger      *slog.Logger
}

// NewDockerRuntime creates a Docker backend.
func NewDockerRuntime(cfg DockerConfig, logger *slog.Logger) *DockerRuntime {
	r := &DockerRuntime{
		image:       cfg.Image,
		memoryLimit: cfg.MemoryLimit,
		cpuLimit:    cfg.CPULimit,
		network:     cfg.Network,
		extraMounts: cfg.ExtraMounts,
		logger:      logger,
	}
	if r.image == "" {
		r.image = defaultDockerImage
	}
	if r.network == "" {
		r.network = defaultDockerNetwork
	}
	if cfg.NoLimits {
		r.memoryLimit, r.cpuLimit = "", ""
	} else {
		if r.memoryLimit == "" {
			r.memoryLimit = defaultDockerMemory
		}
		if r.cpuLimit == "" {
			r.cpuLimit = defaultDockerCPUs
		}
	}
	return r
}

func (r *DockerRuntime) Name() string { return NameDocker }

// IsAvailable requires the docker CLI on PATH and a daemon that answers a ping.
func (r *DockerRuntime) IsAvailable(ctx context.Context) bool {
	if !lookPath("docker") {
		return false
	}
	cli, err := newDockerClient()
	if err != nil {
		return false
	}
	defer cli.Close()

	ctx, cancel := context.WithTimeout(ctx, dockerProbeTimeout)
	defer cancel()
	_, err = cli.Ping(ctx)
	return err == nil
}

// Execute runs command in an ephemeral container.
func (r *DockerRuntime) Execute(ctx context.Context, command string, req CommandRequest) (*CommandOutput, error) {
	execID := executionID(ctx)
	name := containerName(execID)

	out, err := runProcess(ctx, r.logger, processSpec{
		runtime:     NameDocker,
		execID:      execID,
		path:        "docker",
		args:        r.buildArgs(command, req, name),
		timeoutSecs: req.timeoutSecs(),
	})
	if errors.Is(err, ErrTimeout) || (err != nil && ctx.Err() != nil) {
		// Killing the CLI does not stop the container.
		r.forceRemoveContainer(name)
	}
	return out, err
}

// buildArgs returns the docker CLI arguments:
//
//	run --rm [--name N] --network M [--memory L] [--cpus C] [-w DIR] [-v H:C[:ro]]* [-e K=V]* IMAGE sh -c CMD
func (r *DockerRuntime) buildArgs(command string, req CommandRequest, name string) []string {
	args := []string{"run", "--rm"}
	if name != "" {
		args = append(args, "--name", name)
	}
	args = append(args, "--network", r.network)

	if r.memoryLimit != "" {
		args = append(args, "--memory", r.memoryLimit)
	}
	if r.cpuLimit != "" {
		args = append(args, "--cpus", r.cpuLimit)
	}
	if req.WorkDir != "" {
		args = append(args, "-w", req.WorkDir)
	}
	for _, m := range append(append([]MountSpec(nil), req.Mounts...), r.extraMounts...) {
		args = append(args, "-v", dockerMountArg(m))
	}
	for _, k := range sortedKeys(req.Env) {
		args = append(args, "-e", k+"="+req.Env[k])
	}

	return append(args, r.image, "sh", "-c", command)
}

// dockerMountArg translates a MountSpec to -v syntax.
func dockerMountArg(m MountSpec) string {
	spec := m.HostPath + ":" + m.TargetPath
	if m.ReadOnly {
		spec += ":ro"
	}
	return spec
}

// forceRemoveContainer removes a container that outlived its CLI process.
func (r *DockerRuntime) forceRemoveContainer(name string) {
	cli, err := newDockerClient()
	if err != nil {
		r.logger.Warn("failed to create docker client for cleanup",
			slog.String("container", name),
			slog.String("error", err.Error()),
		)
		return
	}
	defer cli.Close()

	ctx, cancel := context.WithTimeout(context.Background(), dockerCleanupTimeout)
	defer cancel()

	err = cli.ContainerRemove(ctx, name, container.RemoveOptions{Force: true})
	if err != nil && !cerrdefs.IsNotFound(err) {
		r.logger.Warn("failed to force-remove container",
			slog.String("container", name),
			slog.String("error", err.Error()),
		)
	}
}

func newDockerClient() (*client.Client, error) {
	return client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
}

// containerName derives a container name from an execution ID. Only
// letters and digits are kept, at most 12 of them.
func containerName(execID string) string {
	var b strings.Builder
	for _, r := range execID {
		if b.Len() == 12 {
			break
		}
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return containerName(uuid.NewString())
	}
	return "warden-sbx-" + b.String()
}
