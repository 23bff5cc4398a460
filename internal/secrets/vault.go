package secrets

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	goutils "github.com/jkaninda/go-utils"
)

// VaultConfig locates a HashiCorp Vault server.
type VaultConfig struct {
	Address       string
	Token         string
	Namespace     string // Enterprise namespace. Optional.
	Timeout       time.Duration
	TLSSkipVerify bool
}

// VaultConfigFromEnv reads VAULT_ADDR, VAULT_TOKEN, VAULT_NAMESPACE and
// VAULT_SKIP_VERIFY. Address is empty when Vault is not configured.
func VaultConfigFromEnv() VaultConfig {
	return VaultConfig{
		Address:       goutils.Env("VAULT_ADDR", ""),
		Token:         goutils.Env("VAULT_TOKEN", ""),
		Namespace:     goutils.Env("VAULT_NAMESPACE", ""),
		TLSSkipVerify: goutils.Env("VAULT_SKIP_VERIFY", "") == "true",
	}
}

// VaultProvider resolves "vault://<kv v2 api path>#<field>" references,
// for example "vault://secret/data/warden#ci-bot". The field is required
// because an API key is a single string.
type VaultProvider struct {
	address   string
	token     string
	namespace string
	client    *http.Client
}

// NewVaultProvider validates cfg and builds a token-authenticated client.
func NewVaultProvider(cfg VaultConfig) (*VaultProvider, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("vault address is required (VAULT_ADDR)")
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("vault token is required (VAULT_TOKEN)")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.TLSSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &VaultProvider{
		address:   strings.TrimRight(cfg.Address, "/"),
		token:     cfg.Token,
		namespace: cfg.Namespace,
		client:    &http.Client{Timeout: cfg.Timeout, Transport: transport},
	}, nil
}

func (p *VaultProvider) Name() string { return "vault" }

func (p *VaultProvider) Resolve(ctx context.Context, ref string) (string, error) {
	raw, ok := strings.CutPrefix(ref, "vault://")
	if !ok {
		return "", fmt.Errorf("%w: vault provider got %q", errUnhandled, ref)
	}
	path, field, _ := strings.Cut(raw, "#")
	if path == "" || field == "" {
		return "", fmt.Errorf("%w: vault reference needs a path and #field, got %q", ErrSecretNotFound, ref)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.address+"/v1/"+path, nil)
	if err != nil {
		return "", fmt.Errorf("building vault request: %w", err)
	}
	req.Header.Set("X-Vault-Token", p.token)
	if p.namespace != "" {
		req.Header.Set("X-Vault-Namespace", p.namespace)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("vault request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", fmt.Errorf("%w: vault path %q not found", ErrSecretNotFound, path)
	case resp.StatusCode == http.StatusForbidden:
		return "", fmt.Errorf("vault access denied for path %q", path)
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("vault returned status %d for path %q", resp.StatusCode, path)
	}

	// KV v2 envelope: {"data": {"data": {...}, "metadata": {...}}}
	var envelope struct {
		Data struct {
			Data map[string]any `json:"data"`
		} `json:"data"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&envelope); err != nil {
		return "", fmt.Errorf("parsing vault response: %w", err)
	}

	val, ok := envelope.Data.Data[field]
	if !ok {
		return "", fmt.Errorf("%w: field %q not found in vault path %q", ErrSecretNotFound, field, path)
	}
	str, ok := val.(string)
	if !ok || str == "" {
		return "", fmt.Errorf("vault field %q in path %q is not a non-empty string", field, path)
	}
	return str, nil
}
