//go:build linux

package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Landlock access rights grouped by the ABI version that introduced them.
const (
	landlockReadAccess = unix.LANDLOCK_ACCESS_FS_EXECUTE |
		unix.LANDLOCK_ACCESS_FS_READ_FILE |
		unix.LANDLOCK_ACCESS_FS_READ_DIR

	landlockAccessV1 = landlockReadAccess |
		unix.LANDLOCK_ACCESS_FS_WRITE_FILE |
		unix.LANDLOCK_ACCESS_FS_REMOVE_DIR |
		unix.LANDLOCK_ACCESS_FS_REMOVE_FILE |
		unix.LANDLOCK_ACCESS_FS_MAKE_CHAR |
		unix.LANDLOCK_ACCESS_FS_MAKE_DIR |
		unix.LANDLOCK_ACCESS_FS_MAKE_REG |
		unix.LANDLOCK_ACCESS_FS_MAKE_SOCK |
		unix.LANDLOCK_ACCESS_FS_MAKE_FIFO |
		unix.LANDLOCK_ACCESS_FS_MAKE_BLOCK |
		unix.LANDLOCK_ACCESS_FS_MAKE_SYM

	landlockAccessV2 = landlockAccessV1 | unix.LANDLOCK_ACCESS_FS_REFER
	landlockAccessV3 = landlockAccessV2 | unix.LANDLOCK_ACCESS_FS_TRUNCATE

	// Rights that may be granted on a regular file rather than a directory.
	landlockFileAccess = unix.LANDLOCK_ACCESS_FS_EXECUTE |
		unix.LANDLOCK_ACCESS_FS_WRITE_FILE |
		unix.LANDLOCK_ACCESS_FS_READ_FILE |
		unix.LANDLOCK_ACCESS_FS_TRUNCATE
)

// landlockABI returns the kernel's Landlock ABI version, or 0 when
// Landlock is unsupported or disabled.
func landlockABI() int {
	v, _, errno := unix.Syscall(unix.SYS_LANDLOCK_CREATE_RULESET, 0, 0, unix.LANDLOCK_CREATE_RULESET_VERSION)
	if errno != 0 {
		return 0
	}
	return int(v)
}

// handledAccess returns the rights handled by the ruleset for an ABI.
// Versions beyond 3 are treated as 3.
func handledAccess(abi int) uint64 {
	switch {
	case abi >= 3:
		return landlockAccessV3
	case abi == 2:
		return landlockAccessV2
	default:
		return landlockAccessV1
	}
}

// Execute runs command under a Landlock domain built from the configured
// directories. The ruleset is applied to a dedicated OS thread which then
// starts the child, so the restriction is inherited by the shell and never
// reaches the rest of this process.
func (r *LandlockRuntime) Execute(ctx context.Context, command string, req CommandRequest) (*CommandOutput, error) {
	spec := processSpec{
		runtime:     NameLandlock,
		path:        "sh",
		args:        []string{"-c", command},
		dir:         req.WorkDir,
		env:         overlayEnv(req.Env),
		timeoutSecs: req.timeoutSecs(),
	}

	abi := landlockABI()
	if abi < 1 {
		if r.cfg.Strict {
			return nil, NotAvailable("Landlock is not supported by this kernel (requires Linux 5.13+ with Landlock enabled)")
		}
		r.logger.Warn("landlock not supported by kernel, running unrestricted")
		return runProcess(ctx, r.logger, spec)
	}

	rules := r.rules(req)
	spec.start = func(cmd *exec.Cmd) error {
		return startRestricted(cmd, abi, rules, r.logger)
	}
	return runProcess(ctx, r.logger, spec)
}

// startRestricted starts cmd from a locked OS thread carrying the Landlock
// domain. The thread is never unlocked, so the Go runtime discards it when
// the goroutine returns.
func startRestricted(cmd *exec.Cmd, abi int, rules []pathRule, logger *slog.Logger) error {
	// Start would open /dev/null for stdin after the thread is restricted.
	if cmd.Stdin == nil {
		devNull, err := os.Open(os.DevNull)
		if err != nil {
			return ExecutionFailed("opening "+os.DevNull, err)
		}
		defer devNull.Close()
		cmd.Stdin = devNull
	}

	errc := make(chan error, 1)
	go func() {
		runtime.LockOSThread()
		if err := restrictThread(abi, rules, logger); err != nil {
			errc <- err
			return
		}
		errc <- cmd.Start()
	}()
	return <-errc
}

// restrictThread creates a ruleset, adds one rule per existing path and
// enforces it on the calling thread.
func restrictThread(abi int, rules []pathRule, logger *slog.Logger) error {
	handled := handledAccess(abi)
	attr := unix.LandlockRulesetAttr{Access_fs: handled}

	fd, _, errno := unix.Syscall(unix.SYS_LANDLOCK_CREATE_RULESET,
		uintptr(unsafe.Pointer(&attr)), unsafe.Sizeof(attr), 0)
	if errno != 0 {
		return ExecutionFailed("landlock_create_ruleset", errno)
	}
	rulesetFd := int(fd)
	defer unix.Close(rulesetFd)

	for _, rule := range rules {
		access := handled & landlockReadAccess
		if rule.write {
			access = handled
		}
		if err := addPathRule(rulesetFd, rule.path, access); err != nil {
			if os.IsNotExist(err) {
				logger.Debug("landlock path missing, skipped", slog.String("path", rule.path))
				continue
			}
			return ExecutionFailed(fmt.Sprintf("landlock rule for %s", rule.path), err)
		}
	}

	if err := unix.Prctl(unix.PR_SET_NO_NEW_PRIVS, 1, 0, 0, 0); err != nil {
		return ExecutionFailed("prctl(PR_SET_NO_NEW_PRIVS)", err)
	}
	if _, _, errno := unix.Syscall(unix.SYS_LANDLOCK_RESTRICT_SELF, uintptr(rulesetFd), 0, 0); errno != 0 {
		return ExecutionFailed("landlock_restrict_self", errno)
	}
	return nil
}

func addPathRule(rulesetFd int, path string, access uint64) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		access &= landlockFileAccess
	}

	fd, err := unix.Open(path, unix.O_PATH|unix.O_CLOEXEC, 0)
	if err != nil {
		return &os.PathError{Op: "open", Path: path, Err: err}
	}
	defer unix.Close(fd)

	attr := unix.LandlockPathBeneathAttr{
		Allowed_access: access,
		Parent_fd:      int32(fd),
	}
	_, _, errno := unix.Syscall6(unix.SYS_LANDLOCK_ADD_RULE,
		uintptr(rulesetFd), unix.LANDLOCK_RULE_PATH_BENEATH,
		uintptr(unsafe.Pointer(&attr)), 0, 0, 0)
	if errno != 0 {
		return errno
	}
	return nil
}
