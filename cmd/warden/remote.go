package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	goutils "github.com/jkaninda/go-utils"

	"github.com/jkaninda/warden/internal/gateway/httpapi"
)

var (
	remoteGatewayURL  string
	remoteAPIKey      string
	remoteTimeout     int
	remoteHTTPTimeout int
)

var remoteCmd = &cobra.Command{
	Use:   "remote [flags] -- <command>",
	Short: "Run a shell command on a warden HTTP gateway",
	Long: `Send a shell command to a running "warden serve" instance.
The gateway applies its own policy and runtime.

Examples:
  warden remote -- uname -a
  warden remote --gateway-url http://sandbox:8080 --timeout 30 -- make test

Exit codes:
  0  command succeeded
  1  command failed
  2  rejected by policy, unauthorized or rate limited
  3  gateway or runtime unavailable`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRemote,
}

func init() {
	remoteCmd.Flags().StringVar(&remoteGatewayURL, "gateway-url", "http://localhost:8080", "gateway HTTP API URL (or WARDEN_GATEWAY_URL env)")
	remoteCmd.Flags().StringVar(&remoteAPIKey, "api-key", "", "API key for gateway authentication (or WARDEN_API_KEY env)")
	remoteCmd.Flags().IntVar(&remoteTimeout, "timeout", 0, "command timeout in seconds (default: the gateway's)")
	remoteCmd.Flags().IntVar(&remoteHTTPTimeout, "http-timeout", 300, "HTTP request timeout in seconds")
}

func runRemote(cmd *cobra.Command, args []string) error {
	apiKey := goutils.Env("WARDEN_API_KEY", remoteAPIKey)
	if apiKey == "" {
		fmt.Fprintln(os.Stderr, "Error: API key required (use --api-key or set WARDEN_API_KEY)")
		os.Exit(ExitPolicyDenied)
	}
	gatewayURL := strings.TrimRight(goutils.Env("WARDEN_GATEWAY_URL", remoteGatewayURL), "/")

	req := httpapi.ShellRequest{Command: strings.Join(args, " ")}
	if remoteTimeout != 0 {
		t := int64(remoteTimeout)
		req.Timeout = &t
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), time.Duration(remoteHTTPTimeout)*time.Second)
	defer cancel()

	code := remoteShell(ctx, http.DefaultClient, gatewayURL, apiKey, req, os.Stdout, os.Stderr)
	if code != ExitSuccess {
		os.Exit(code)
	}
	return nil
}

// remoteShell posts req to the gateway, prints the result and returns the exit code.
func remoteShell(ctx context.Context, client *http.Client, gatewayURL, apiKey string, body httpapi.ShellRequest, stdout, stderr io.Writer) int {
	reqBody, _ := json.Marshal(body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, gatewayURL+"/v1/tools/shell", bytes.NewReader(reqBody))
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return ExitFailure
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := client.Do(req)
	if err != nil {
		fmt.Fprintf(stderr, "Error: cannot reach gateway at %s: %v\n", gatewayURL, err)
		return ExitRuntimeUnusable
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	var errBody httpapi.ErrorBody
	_ = json.Unmarshal(respBody, &errBody)

	switch resp.StatusCode {
	case http.StatusOK:
		var result httpapi.ToolResponse
		if err := json.Unmarshal(respBody, &result); err != nil {
			fmt.Fprintf(stderr, "Error: decoding gateway response: %v\n", err)
			return ExitFailure
		}
		fmt.Fprintln(stdout, result.Output)
		fmt.Fprintf(stderr, "[correlation_id=%s]\n", result.CorrelationID)
		if !result.Success {
			return ExitFailure
		}
		return ExitSuccess

	case http.StatusForbidden:
		fmt.Fprintf(stderr, "Error: %s\n", errBody.Error)
		return ExitPolicyDenied

	case http.StatusUnauthorized:
		fmt.Fprintln(stderr, "Error: unauthorized (check API key)")
		return ExitPolicyDenied

	case http.StatusTooManyRequests:
		fmt.Fprintln(stderr, "Error: rate limited, try again later")
		return ExitPolicyDenied

	case http.StatusServiceUnavailable, http.StatusBadGateway:
		fmt.Fprintf(stderr, "Error: unavailable (%d): %s\n", resp.StatusCode, errBody.Error)
		return ExitRuntimeUnusable

	default:
		fmt.Fprintf(stderr, "Error: gateway returned %d: %s\n", resp.StatusCode, strings.TrimSpace(string(respBody)))
		return ExitFailure
	}
}
