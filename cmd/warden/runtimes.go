package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/jkaninda/warden/internal/sandbox"
)

var runtimesCmd = &cobra.Command{
	Use:   "runtimes",
	Short: "List the sandbox runtimes available on this host",
	RunE:  runRuntimes,
}

func runRuntimes(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg, os.Stderr)

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	available := sandbox.AvailableRuntimes(ctx, logger)
	printRuntimes(os.Stdout, available, cfg.Runtime.Type)
	return nil
}

// printRuntimes writes one line per known runtime, marking the configured one.
func printRuntimes(w io.Writer, available []string, configured string) {
	if configured == "" {
		configured = string(sandbox.RuntimeNative)
	}
	for _, t := range sandbox.RuntimeTypes {
		name := string(t)
		status := "unavailable"
		if slices.Contains(available, name) {
			status = "available"
		}
		marker := " "
		if name == configured {
			marker = "*"
		}
		fmt.Fprintf(w, "%s %-11s %s\n", marker, name, status)
	}
}
