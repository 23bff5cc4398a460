// Package secrets resolves credential references such as "env://NAME" or
// "vault://secret/data/warden#ci" into their values, so gateway API keys
// never have to sit in the config file in plain text.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Provider resolves a reference into its secret value.
// Implementations must be safe for concurrent use.
type Provider interface {
	// Resolve returns the value behind ref, or an error wrapping
	// ErrSecretNotFound when the provider cannot find it.
	Resolve(ctx context.Context, ref string) (string, error)

	// Name identifies the provider in logs. Never includes secret material.
	Name() string
}

// ErrSecretNotFound is returned when a reference cannot be resolved.
var ErrSecretNotFound = errors.New("secret not found")

// errUnhandled marks a reference outside a provider's scheme.
var errUnhandled = fmt.Errorf("%w: unsupported reference scheme", ErrSecretNotFound)

var schemes = []string{"env://", "vault://"}

// IsReference reports whether s names a secret instead of holding one.
func IsReference(s string) bool {
	for _, scheme := range schemes {
		if strings.HasPrefix(s, scheme) {
			return true
		}
	}
	return false
}

// ResolveAPIKeys returns a copy of keys (API key to caller ID) in which every
// key that is a reference has been replaced by its resolved value.
// Literal keys pass through untouched.
func ResolveAPIKeys(ctx context.Context, p Provider, keys map[string]string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	for key, caller := range keys {
		value := key
		if IsReference(key) {
			if p == nil {
				return nil, fmt.Errorf("api key for caller %q: no secret provider for %q", caller, key)
			}
			var err error
			if value, err = p.Resolve(ctx, key); err != nil {
				return nil, fmt.Errorf("api key for caller %q: %w", caller, err)
			}
		}
		if other, dup := out[value]; dup && other != caller {
			return nil, fmt.Errorf("api key for caller %q resolves to the key of %q", caller, other)
		}
		out[value] = caller
	}
	return out, nil
}
