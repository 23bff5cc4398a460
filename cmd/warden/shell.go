package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jkaninda/warden/internal/gateway/cli"
	"github.com/jkaninda/warden/internal/tools/shell"
)

var shellCaller string

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Interactive prompt that runs each line through the policy and sandbox",
	RunE:  runShell,
}

func init() {
	shellCmd.Flags().StringVar(&shellCaller, "caller", "cli", "caller ID used for the workspace and anomaly tracking")
}

func runShell(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
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

	fmt.Fprintf(os.Stdout, "runtime: %s\n", sc.Runtime.Name())
	gw := cli.NewGateway(sc.ToolReg.Get(shell.ToolName), cli.Config{
		CallerID: shellCaller,
		WorkDir:  sc.Workspace.CallerDir(shellCaller),
		In:       os.Stdin,
		Out:      os.Stdout,
		ErrOut:   os.Stderr,
	}, logger)
	return gw.Start(ctx)
}
