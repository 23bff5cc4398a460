package secrets

import (
	"context"
	"errors"
	"fmt"
)

// CompositeProvider tries each provider in order; the first success wins.
// On failure it reports the error of a provider that owns the scheme.
type CompositeProvider struct {
	providers []Provider
}

// NewCompositeProvider skips nil providers.
func NewCompositeProvider(providers ...Provider) *CompositeProvider {
	c := &CompositeProvider{}
	for _, p := range providers {
		if p != nil {
			c.providers = append(c.providers, p)
		}
	}
	return c
}

func (p *CompositeProvider) Name() string { return "composite" }

func (p *CompositeProvider) Resolve(ctx context.Context, ref string) (string, error) {
	var lastErr error
	for _, provider := range p.providers {
		value, err := provider.Resolve(ctx, ref)
		if err == nil {
			return value, nil
		}
		if lastErr == nil || !errors.Is(err, errUnhandled) {
			lastErr = err
		}
	}
	if lastErr != nil {
		return "", lastErr
	}
	return "", fmt.Errorf("%w: no provider could resolve %q", ErrSecretNotFound, ref)
}

// DefaultProvider resolves env:// references, plus vault:// references when
// VAULT_ADDR is set.
func DefaultProvider() (*CompositeProvider, error) {
	vcfg := VaultConfigFromEnv()
	if vcfg.Address == "" {
		return NewCompositeProvider(NewEnvProvider()), nil
	}
	vault, err := NewVaultProvider(vcfg)
	if err != nil {
		return nil, err
	}
	return NewCompositeProvider(NewEnvProvider(), vault), nil
}
