package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jkaninda/warden/internal/sandbox"
	"github.com/jkaninda/warden/internal/tools"
	"github.com/jkaninda/warden/internal/tools/shell"
)

var (
	execTimeout int
	execRuntime string
	execWorkDir string
	execCaller  string
)

var execCmd = &cobra.Command{
	Use:   "exec [flags] -- <command>",
	Short: "Run one shell command through the policy and sandbox",
	Long: `Run a shell command exactly as an agent would: the command policy
checks it first, then the configured runtime executes it.

Examples:
  warden exec -- ls -la
  warden exec --runtime docker --timeout 10 -- 'uname -a'

Exit codes:
  0  command succeeded
  1  command failed or could not be executed
  2  rejected by the command policy
  3  runtime not available`,
	Args: cobra.MinimumNArgs(1),
	RunE: runExec,
}

func init() {
	execCmd.Flags().IntVar(&execTimeout, "timeout", 0, "timeout in seconds (default: tools.shell.default_timeout_seconds)")
	execCmd.Flags().StringVar(&execRuntime, "runtime", "", "override the configured runtime for this call")
	execCmd.Flags().StringVar(&execWorkDir, "workdir", "", "working directory (default: the caller's workspace directory)")
	execCmd.Flags().StringVar(&execCaller, "caller", "cli", "caller ID used for the workspace and anomaly tracking")
}

func runExec(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if execRuntime != "" {
		typ, err := sandbox.ParseRuntimeType(execRuntime)
		if err != nil {
			return err
		}
		cfg.Runtime.Type = string(typ)
	}
	logger := newLogger(cfg, os.Stderr)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sc, err := initShared(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCodeFor(nil, err))
	}
	defer sc.Cleanup()

	workDir := execWorkDir
	if workDir == "" {
		workDir = sc.Workspace.CallerDir(execCaller)
	} else if workDir, err = filepath.Abs(workDir); err != nil {
		return fmt.Errorf("resolving workdir: %w", err)
	}

	params := map[string]any{"command": strings.Join(args, " ")}
	if execTimeout != 0 {
		params["timeout"] = execTimeout
	}

	result, err := runTool(ctx, sc.ToolReg.Get(shell.ToolName), params, execCaller, workDir)
	if err != nil {
		logger.Debug("exec failed", slog.String("error", err.Error()))
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	} else {
		fmt.Println(result.Output)
	}

	code := exitCodeFor(result, err)
	if code != ExitSuccess {
		sc.Cleanup()
		os.Exit(code)
	}
	return nil
}

// runTool validates params and executes tool on behalf of callerID.
func runTool(ctx context.Context, tool tools.Tool, params map[string]any, callerID, workDir string) (*tools.Result, error) {
	if err := tool.Validate(params); err != nil {
		return nil, err
	}
	ctx = tools.ContextWithUserID(ctx, callerID)
	if workDir != "" {
		ctx = tools.ContextWithWorkspace(ctx, workDir)
	}
	return tool.Execute(ctx, params)
}
