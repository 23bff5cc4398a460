package sandbox

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	goruntime "runtime"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// skipIfNoBinary skips the test if name does not resolve on PATH.
func skipIfNoBinary(t *testing.T, name string) {
	t.Helper()
	if _, err := exec.LookPath(name); err != nil {
		t.Skipf("%s not found on PATH, skipping integration test", name)
	}
}

// skipIfNoDocker skips the test if the Docker daemon is unavailable.
func skipIfNoDocker(t *testing.T) {
	t.Helper()
	if err := exec.Command("docker", "info").Run(); err != nil {
		t.Skip("docker not available, skipping integration test")
	}
}

// waitProcessGone polls until pid no longer exists.
func waitProcessGone(t *testing.T, pid int) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if err := syscall.Kill(pid, 0); errors.Is(err, syscall.ESRCH) || isZombie(pid) {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Errorf("process %d still running after timeout", pid)
}

func exitCode(t *testing.T, out *CommandOutput) int {
	t.Helper()
	if out.ExitCode == nil {
		t.Fatalf("exit code is nil (killed by signal)")
	}
	return *out.ExitCode
}

// isZombie reports whether pid has exited but not yet been reaped by its
// new parent. Only detectable where /proc is mounted.
func isZombie(pid int) bool {
	data, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/stat")
	if err != nil {
		return false
	}
	// Format: pid (comm) state ...
	stat := string(data)
	i := strings.LastIndexByte(stat, ')')
	return i >= 0 && i+2 < len(stat) && stat[i+2] == 'Z'
}

// skipIfNotLinux skips tests for Linux-only backends.
func skipIfNotLinux(t *testing.T) {
	t.Helper()
	if goruntime.GOOS != "linux" {
		t.Skip("linux-only runtime")
	}
}

// livePIDsWithArgs returns the non-zombie processes whose argv is exactly
// args. Reads /proc, so callers must be on Linux.
func livePIDsWithArgs(t *testing.T, args ...string) []int {
	t.Helper()
	want := strings.Join(args, "\x00") + "\x00"
	entries, err := os.ReadDir("/proc")
	if err != nil {
		t.Fatalf("reading /proc: %v", err)
	}
	var pids []int
	for _, e := range entries {
		pid, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		data, err := os.ReadFile("/proc/" + e.Name() + "/cmdline")
		if err != nil || string(data) != want || isZombie(pid) {
			continue
		}
		pids = append(pids, pid)
	}
	return pids
}
