// Warden runs shell commands for AI agents inside a pluggable sandbox.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "warden",
	Short: "Sandboxed shell execution for AI agents",
	Long: `Warden checks shell commands against a security policy and runs them
inside a pluggable sandbox runtime (native, docker, apple, landlock,
firejail, bubblewrap). Use it directly from the command line or serve
the shell tool over HTTP.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default ~/.warden/config.yaml, or WARDEN_CONFIG)")
	rootCmd.AddCommand(execCmd, shellCmd, runtimesCmd, onboardingCmd, serveCmd, remoteCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(ExitFailure)
	}
}
