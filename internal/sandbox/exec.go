package sandbox

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"strings"
	"syscall"
	"time"
)

const (
	// maxOutputBytes caps stdout/stderr to prevent OOM from chatty commands.
	maxOutputBytes = 1 << 20 // 1 MB

	// drainDelay bounds how long output is drained after the process group
	// has been killed. Only a process that left the group can hold the pipes
	// that long.
	drainDelay = 2 * time.Second
)

var errCommandTimeout = errors.New("command timeout")

// processSpec describes one supervised child process.
type processSpec struct {
	runtime     string   // backend name, for logs
	execID      string   // execution ID; taken from ctx when empty
	path        string   // binary to run
	args        []string // argv without argv[0]
	dir         string
	env         []string // full environment; nil inherits the host environment
	timeoutSecs uint64

	// start replaces cmd.Start when the spawn needs special handling.
	start func(cmd *exec.Cmd) error
}

// runProcess spawns spec in its own process group, captures its output and
// enforces the timeout by killing the whole group. Once the lead process
// exits the group is killed as well, so backgrounded children never outlive
// the command. A non-zero exit status is returned as a CommandOutput, never
// as an error.
func runProcess(ctx context.Context, logger *slog.Logger, spec processSpec) (*CommandOutput, error) {
	if spec.execID == "" {
		spec.execID = executionID(ctx)
	}
	timeout := time.Duration(spec.timeoutSecs) * time.Second

	runCtx, cancel := context.WithTimeoutCause(ctx, timeout, errCommandTimeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, spec.path, spec.args...)
	cmd.Dir = spec.dir
	cmd.Env = spec.env

	// The child leads its own process group so wrapped binaries and their
	// grandchildren are killed together.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		// Negative PID = kill the entire process group.
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	// Real pipes instead of io.Writers: Wait then returns when the lead
	// process exits, even while a background child still holds the write end.
	stdout, err := newCapture()
	if err != nil {
		return nil, ExecutionFailed("creating stdout pipe", err)
	}
	stderr, err := newCapture()
	if err != nil {
		stdout.abort()
		return nil, ExecutionFailed("creating stderr pipe", err)
	}
	cmd.Stdout = stdout.w
	cmd.Stderr = stderr.w

	log := logger.With(
		slog.String("runtime", spec.runtime),
		slog.String("execution_id", spec.execID),
	)
	log.Info("sandbox executing",
		slog.String("binary", spec.path),
		slog.String("dir", spec.dir),
		slog.Duration("timeout", timeout),
	)

	start := time.Now()
	startFn := spec.start
	if startFn == nil {
		startFn = (*exec.Cmd).Start
	}
	err = startFn(cmd)
	// The child holds its own copies of the write ends.
	stdout.closeWriter()
	stderr.closeWriter()
	if err != nil {
		stdout.abort()
		stderr.abort()
		var rtErr *RuntimeError
		if errors.As(err, &rtErr) {
			return nil, rtErr
		}
		return nil, ExecutionFailed("spawning "+spec.path, err)
	}

	waitErr := cmd.Wait()
	duration := time.Since(start)

	// Reap whatever the command left running in its group. ESRCH just means
	// nothing was left.
	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		log.Warn("killing leftover process group", slog.String("error", err.Error()))
	}
	drainCaptures(drainDelay, stdout, stderr)

	if context.Cause(runCtx) == errCommandTimeout {
		log.Warn("sandbox execution timed out",
			slog.Duration("timeout", timeout),
			slog.Duration("duration", duration),
		)
		return nil, Timeout(spec.timeoutSecs)
	}

	exitCode := 0
	if waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			return nil, ExecutionFailed("waiting for "+spec.path, waitErr)
		}
		// ExitCode is -1 when the process was terminated by a signal.
		exitCode = exitErr.ExitCode()
		if exitCode < 0 && ctx.Err() != nil {
			return nil, ExecutionFailed("execution canceled", ctx.Err())
		}
	}

	log.Info("sandbox execution completed",
		slog.Int("exit_code", exitCode),
		slog.Duration("duration", duration),
		slog.Int("stdout_bytes", stdout.buf.Len()),
		slog.Int("stderr_bytes", stderr.buf.Len()),
	)

	out := NewCommandOutput(
		strings.ToValidUTF8(stdout.buf.String(), "\uFFFD"),
		strings.ToValidUTF8(stderr.buf.String(), "\uFFFD"),
		exitCode,
	)
	out.Duration = duration
	return out, nil
}

// capture drains one output pipe of a child into a capped buffer.
type capture struct {
	r, w *os.File
	buf  bytes.Buffer
	done chan struct{}
}

func newCapture() (*capture, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	c := &capture{r: r, w: w, done: make(chan struct{})}
	go func() {
		defer close(c.done)
		_, _ = io.Copy(&limitedWriter{w: &c.buf, remaining: maxOutputBytes}, r)
	}()
	return c, nil
}

func (c *capture) closeWriter() { _ = c.w.Close() }

// abort stops the reader without waiting for output.
func (c *capture) abort() {
	_ = c.w.Close()
	_ = c.r.Close()
	<-c.done
}

// drainCaptures waits for every capture to reach EOF. After delay the
// read ends are closed and whatever was read so far is kept.
func drainCaptures(delay time.Duration, captures ...*capture) {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	for _, c := range captures {
		select {
		case <-c.done:
		case <-timer.C:
			for _, c := range captures {
				_ = c.r.Close()
				<-c.done
			}
			return
		}
	}
	for _, c := range captures {
		_ = c.r.Close()
	}
}

// overlayEnv returns the host environment with overrides applied.
// Keys are emitted in sorted order so the result is deterministic.
func overlayEnv(overrides map[string]string) []string {
	env := os.Environ()
	if len(overrides) == 0 {
		return env
	}
	filtered := env[:0:0]
	for _, kv := range env {
		key, _, _ := strings.Cut(kv, "=")
		if _, ok := overrides[key]; !ok {
			filtered = append(filtered, kv)
		}
	}
	for _, k := range sortedKeys(overrides) {
		filtered = append(filtered, k+"="+overrides[k])
	}
	return filtered
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// lookPath reports whether name resolves on PATH.
func lookPath(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

// limitedWriter wraps a writer and stops writing after a byte limit.
// Excess data is discarded, not reported as an error.
type limitedWriter struct {
	w         io.Writer
	remaining int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	if lw.remaining <= 0 {
		return len(p), nil
	}
	n := len(p)
	if n > lw.remaining {
		p = p[:lw.remaining]
	}
	written, err := lw.w.Write(p)
	lw.remaining -= written
	if err != nil {
		return written, err
	}
	return n, nil
}
