package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestIsReference(t *testing.T) {
	tests := map[string]bool{
		"env://WARDEN_KEY":          true,
		"vault://secret/data/x#key": true,
		"plain-key-123":             false,
		"https://example.com":       false,
		"":                          false,
	}
	for in, want := range tests {
		if got := IsReference(in); got != want {
			t.Errorf("IsReference(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestEnvProvider(t *testing.T) {
	t.Setenv("WARDEN_TEST_KEY", "s3cret")
	p := NewEnvProvider()

	got, err := p.Resolve(context.Background(), "env://WARDEN_TEST_KEY")
	if err != nil || got != "s3cret" {
		t.Fatalf("Resolve = %q, %v", got, err)
	}

	for _, ref := range []string{"env://", "env://WARDEN_TEST_MISSING", "vault://x#y"} {
		if _, err := p.Resolve(context.Background(), ref); !errors.Is(err, ErrSecretNotFound) {
			t.Errorf("Resolve(%q) error = %v, want ErrSecretNotFound", ref, err)
		}
	}
}

func newVaultServer(t *testing.T, data map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Vault-Token") != "root" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		if r.URL.Path != "/v1/secret/data/warden" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"data": data}})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestVaultProvider_Resolve(t *testing.T) {
	srv := newVaultServer(t, map[string]any{"ci": "vault-key", "count": 3})
	p, err := NewVaultProvider(VaultConfig{Address: srv.URL + "/", Token: "root"})
	if err != nil {
		t.Fatalf("NewVaultProvider: %v", err)
	}

	got, err := p.Resolve(context.Background(), "vault://secret/data/warden#ci")
	if err != nil || got != "vault-key" {
		t.Fatalf("Resolve = %q, %v", got, err)
	}

	tests := []struct {
		ref      string
		notFound bool
	}{
		{"vault://secret/data/warden", true},
		{"vault://secret/data/warden#missing", true},
		{"vault://secret/data/other#ci", true},
		{"vault://secret/data/warden#count", false},
		{"env://X", true},
	}
	for _, tt := range tests {
		_, err := p.Resolve(context.Background(), tt.ref)
		if err == nil {
			t.Errorf("Resolve(%q) succeeded, want error", tt.ref)
			continue
		}
		if errors.Is(err, ErrSecretNotFound) != tt.notFound {
			t.Errorf("Resolve(%q) error = %v, notFound want %v", tt.ref, err, tt.notFound)
		}
	}
}

func TestVaultProvider_Forbidden(t *testing.T) {
	srv := newVaultServer(t, nil)
	p, err := NewVaultProvider(VaultConfig{Address: srv.URL, Token: "wrong"})
	if err != nil {
		t.Fatalf("NewVaultProvider: %v", err)
	}
	_, err = p.Resolve(context.Background(), "vault://secret/data/warden#ci")
	if err == nil || !strings.Contains(err.Error(), "access denied") {
		t.Errorf("error = %v, want access denied", err)
	}
}

func TestNewVaultProvider_RequiresAddressAndToken(t *testing.T) {
	if _, err := NewVaultProvider(VaultConfig{Token: "t"}); err == nil {
		t.Error("expected error without address")
	}
	if _, err := NewVaultProvider(VaultConfig{Address: "http://vault"}); err == nil {
		t.Error("expected error without token")
	}
}

func TestCompositeProvider_ReportsOwningProviderError(t *testing.T) {
	srv := newVaultServer(t, map[string]any{"ci": "vault-key"})
	vault, err := NewVaultProvider(VaultConfig{Address: srv.URL, Token: "root"})
	if err != nil {
		t.Fatal(err)
	}
	t.Setenv("WARDEN_TEST_KEY", "env-key")
	c := NewCompositeProvider(NewEnvProvider(), nil, vault)

	if got, err := c.Resolve(context.Background(), "vault://secret/data/warden#ci"); err != nil || got != "vault-key" {
		t.Errorf("vault ref = %q, %v", got, err)
	}
	if got, err := c.Resolve(context.Background(), "env://WARDEN_TEST_KEY"); err != nil || got != "env-key" {
		t.Errorf("env ref = %q, %v", got, err)
	}

	_, err = c.Resolve(context.Background(), "env://WARDEN_TEST_UNSET")
	if err == nil || !strings.Contains(err.Error(), "WARDEN_TEST_UNSET") {
		t.Errorf("error = %v, want the env provider's error", err)
	}

	if _, err := NewCompositeProvider().Resolve(context.Background(), "env://X"); !errors.Is(err, ErrSecretNotFound) {
		t.Errorf("empty composite error = %v", err)
	}
}

func TestResolveAPIKeys(t *testing.T) {
	t.Setenv("WARDEN_TEST_CI", "ci-key")
	t.Setenv("WARDEN_TEST_DUP", "literal")
	p := NewEnvProvider()

	got, err := ResolveAPIKeys(context.Background(), p, map[string]string{
		"env://WARDEN_TEST_CI": "ci-bot",
		"literal":              "ops",
	})
	if err != nil {
		t.Fatalf("ResolveAPIKeys: %v", err)
	}
	if len(got) != 2 || got["ci-key"] != "ci-bot" || got["literal"] != "ops" {
		t.Errorf("resolved = %v", got)
	}

	if _, err := ResolveAPIKeys(context.Background(), p, map[string]string{"env://WARDEN_TEST_UNSET": "x"}); !errors.Is(err, ErrSecretNotFound) {
		t.Errorf("unset error = %v", err)
	}
	if _, err := ResolveAPIKeys(context.Background(), nil, map[string]string{"env://WARDEN_TEST_CI": "x"}); err == nil {
		t.Error("expected error without provider")
	}
	if _, err := ResolveAPIKeys(context.Background(), p, map[string]string{
		"env://WARDEN_TEST_DUP": "a",
		"literal":               "b",
	}); err == nil {
		t.Error("expected duplicate key error")
	}
}

func TestDefaultProvider(t *testing.T) {
	t.Setenv("VAULT_ADDR", "")
	c, err := DefaultProvider()
	if err != nil || len(c.providers) != 1 {
		t.Fatalf("DefaultProvider() = %v, %v", c, err)
	}

	t.Setenv("VAULT_ADDR", "http://vault:8200")
	t.Setenv("VAULT_TOKEN", "")
	if _, err := DefaultProvider(); err == nil {
		t.Error("expected error when VAULT_ADDR is set without a token")
	}

	t.Setenv("VAULT_TOKEN", "root")
	c, err = DefaultProvider()
	if err != nil || len(c.providers) != 2 {
		t.Errorf("DefaultProvider() with vault = %v, %v", c, err)
	}
}
