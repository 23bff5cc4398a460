package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jkaninda/warden/internal/config"
	"github.com/jkaninda/warden/internal/sandbox"
	"github.com/jkaninda/warden/internal/security"
)

var onboardOutput string

var onboardingCmd = &cobra.Command{
	Use:   "onboarding",
	Short: "Interactive setup wizard",
	Long: `Choose the sandbox runtime and command policy through an interactive
wizard and persist them to the configuration file. An existing file is
used as the starting point.`,
	RunE: runOnboarding,
}

func init() {
	onboardingCmd.Flags().StringVar(&onboardOutput, "output", "", "output config file path (default: the --config path)")
}

func runOnboarding(cmd *cobra.Command, _ []string) error {
	path := onboardOutput
	if path == "" {
		path = config.ResolvePath(configPath)
	}
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	available := sandbox.AvailableRuntimes(ctx, newLogger(cfg, io.Discard))
	cancel()

	w := newWizard(os.Stdin, os.Stdout)
	fmt.Fprintln(w.out, "Warden Configuration Wizard")
	fmt.Fprintln(w.out, "===========================")

	configureRuntime(w, cfg, available)
	configurePolicy(w, cfg)
	configureHTTP(w, cfg)

	if !w.promptYesNo(fmt.Sprintf("Write to %s?", path), true) {
		fmt.Fprintln(w.out, "Nothing written.")
		return nil
	}
	if err := cfg.Save(path); err != nil {
		return err
	}
	fmt.Fprintf(w.out, "Config written to %s\n", path)
	fmt.Fprintln(w.out, "Try it with: warden exec -- echo hello")
	return nil
}

// wizard reads answers line by line.
type wizard struct {
	scanner *bufio.Scanner
	out     io.Writer
	eof     bool // input exhausted; prompts return their defaults
}

func newWizard(in io.Reader, out io.Writer) *wizard {
	return &wizard{scanner: bufio.NewScanner(in), out: out}
}

// configureRuntime asks for the runtime type and its backend settings.
// Unavailable runtimes can still be chosen; the host may change before
// warden runs, and startup reports the problem instead of falling back.
func configureRuntime(w *wizard, cfg *config.Config, available []string) {
	fmt.Fprintln(w.out)
	fmt.Fprintln(w.out, "=== Runtime Configuration ===")
	fmt.Fprintln(w.out, "Choose the runtime used to isolate shell commands:")
	for i, t := range sandbox.RuntimeTypes {
		status := "not available on this host"
		if slices.Contains(available, string(t)) {
			status = "available"
		}
		fmt.Fprintf(w.out, "  %d. %-11s %s (%s)\n", i+1, t, runtimeBlurb(t), status)
	}

	current := cfg.Runtime.Type
	if current == "" {
		current = string(sandbox.RuntimeNative)
	}
	var typ sandbox.RuntimeType
	for {
		answer := w.prompt("Runtime", current)
		t, ok := parseRuntimeChoice(answer)
		if ok {
			typ = t
			break
		}
		fmt.Fprintln(w.out, "Invalid choice. Please try again.")
	}
	cfg.Runtime.Type = string(typ)

	switch typ {
	case sandbox.RuntimeDocker:
		cfg.Runtime.Docker.Image = w.prompt("Docker image", cfg.Runtime.Docker.Image)
		cfg.Runtime.Docker.Network = w.prompt("Docker network", cfg.Runtime.Docker.Network)
		cfg.Runtime.Docker.NoLimits = !w.promptYesNo("Apply memory and CPU limits?", !cfg.Runtime.Docker.NoLimits)
		if !cfg.Runtime.Docker.NoLimits {
			cfg.Runtime.Docker.MemoryLimit = w.prompt("Memory limit", cfg.Runtime.Docker.MemoryLimit)
			cfg.Runtime.Docker.CPULimit = w.prompt("CPU limit", cfg.Runtime.Docker.CPULimit)
		}
		cfg.Runtime.Docker.ExtraMounts = promptMounts(w, cfg.Runtime.Docker.ExtraMounts)
	case sandbox.RuntimeApple:
		image := cfg.Runtime.Apple.Image
		if image == "" {
			image = "alpine:latest"
		}
		cfg.Runtime.Apple.Image = w.prompt("Container image", image)
		cfg.Runtime.Apple.ExtraMounts = promptMounts(w, cfg.Runtime.Apple.ExtraMounts)
	case sandbox.RuntimeLandlock:
		cfg.Runtime.Landlock.Strict = w.promptYesNo("Refuse to run on kernels without Landlock?", cfg.Runtime.Landlock.Strict)
	case sandbox.RuntimeFirejail:
		cfg.Runtime.Firejail.Profile = w.prompt("Firejail profile (empty = default)", cfg.Runtime.Firejail.Profile)
	}

	if !slices.Contains(available, string(typ)) {
		fmt.Fprintf(w.out, "Warning: %s is not available right now; warden will refuse to start until it is.\n", typ)
	}
	fmt.Fprintf(w.out, "Configured: %s runtime\n", typ)
}

// promptMounts asks for extra bind mounts and rejects sensitive host paths
// up front. The mount allowlist is still enforced when the runtime starts.
func promptMounts(w *wizard, current []string) []string {
	for {
		answer := w.prompt("Extra mounts, host:container[:ro] comma separated (\"none\" to clear)", strings.Join(current, ","))
		if answer == "none" {
			return nil
		}
		var mounts []string
		var rejected error
		for _, m := range strings.Split(answer, ",") {
			if m = strings.TrimSpace(m); m == "" {
				continue
			}
			if err := security.CheckMountNotBlocked(m); err != nil {
				rejected = err
				break
			}
			mounts = append(mounts, m)
		}
		if rejected == nil {
			return mounts
		}
		fmt.Fprintf(w.out, "Rejected: %v\n", rejected)
		if w.eof {
			return nil
		}
	}
}

// configurePolicy asks for the allowlist mode of the command policy.
func configurePolicy(w *wizard, cfg *config.Config) {
	fmt.Fprintln(w.out)
	fmt.Fprintln(w.out, "=== Command Policy ===")
	fmt.Fprintln(w.out, "The blocklist is always on. The allowlist restricts the first word of each command.")

	for {
		answer := w.prompt("Allowlist mode (off/warn/strict)", cfg.Security.Shell.AllowlistMode)
		mode, err := security.ParseAllowlistMode(answer)
		if err == nil {
			cfg.Security.Shell.AllowlistMode = string(mode)
			break
		}
		fmt.Fprintln(w.out, err)
	}
	if cfg.Security.Shell.AllowlistMode == string(security.AllowlistOff) {
		return
	}
	extra := w.prompt("Extra allowed commands, comma separated (empty = built-in list only)", "")
	for _, c := range strings.Split(extra, ",") {
		if c = strings.TrimSpace(c); c != "" && !slices.Contains(cfg.Security.Shell.Allowlist, c) {
			cfg.Security.Shell.Allowlist = append(cfg.Security.Shell.Allowlist, c)
		}
	}
}

// configureHTTP optionally enables the HTTP gateway with a generated key.
func configureHTTP(w *wizard, cfg *config.Config) {
	fmt.Fprintln(w.out)
	fmt.Fprintln(w.out, "=== HTTP Gateway ===")
	cfg.HTTP.Enabled = w.promptYesNo("Serve the shell tool over HTTP?", cfg.HTTP.Enabled)
	if !cfg.HTTP.Enabled {
		return
	}
	cfg.HTTP.ListenAddr = w.prompt("HTTP listen address", cfg.HTTP.ListenAddr)
	if len(cfg.HTTP.APIKeys) > 0 && !w.promptYesNo("Generate an additional API key?", false) {
		return
	}
	caller := w.prompt("Caller ID for the new API key", "agent")
	key := uuid.NewString()
	if cfg.HTTP.APIKeys == nil {
		cfg.HTTP.APIKeys = make(map[string]string)
	}
	cfg.HTTP.APIKeys[key] = caller
	fmt.Fprintf(w.out, "API key for %s: %s\n", caller, key)
}

// parseRuntimeChoice accepts a menu number or a runtime name.
func parseRuntimeChoice(answer string) (sandbox.RuntimeType, bool) {
	if n, err := strconv.Atoi(answer); err == nil {
		if n < 1 || n > len(sandbox.RuntimeTypes) {
			return "", false
		}
		return sandbox.RuntimeTypes[n-1], true
	}
	t, err := sandbox.ParseRuntimeType(answer)
	if err != nil {
		return "", false
	}
	return t, true
}

func runtimeBlurb(t sandbox.RuntimeType) string {
	switch t {
	case sandbox.RuntimeNative:
		return "no isolation, policy only"
	case sandbox.RuntimeDocker:
		return "Docker container per command"
	case sandbox.RuntimeApple:
		return "Apple Container (macOS 15+)"
	case sandbox.RuntimeLandlock:
		return "Landlock LSM (Linux 5.13+)"
	case sandbox.RuntimeFirejail:
		return "firejail namespaces"
	case sandbox.RuntimeBubblewrap:
		return "bwrap namespaces"
	default:
		return ""
	}
}

// prompt asks the user for input with a default value.
func (w *wizard) prompt(label, defaultVal string) string {
	if defaultVal != "" {
		fmt.Fprintf(w.out, "%s [%s]: ", label, defaultVal)
	} else {
		fmt.Fprintf(w.out, "%s: ", label)
	}
	if !w.scanner.Scan() {
		w.eof = true
		return defaultVal
	}
	val := strings.TrimSpace(w.scanner.Text())
	if val == "" {
		return defaultVal
	}
	return val
}

// promptYesNo asks a yes/no question.
func (w *wizard) promptYesNo(question string, defaultYes bool) bool {
	suffix := "[Y/n]"
	if !defaultYes {
		suffix = "[y/N]"
	}
	fmt.Fprintf(w.out, "%s %s: ", question, suffix)
	if !w.scanner.Scan() {
		return defaultYes
	}
	answer := strings.TrimSpace(strings.ToLower(w.scanner.Text()))
	if answer == "" {
		return defaultYes
	}
	return answer == "y" || answer == "yes"
}
