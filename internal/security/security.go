// Package security classifies shell commands and mount requests before
// anything is executed.
//
// The command policy is a textual heuristic, not a shell parser: creative
// quoting or encoding can bypass it. The sandbox runtimes are the primary
// boundary and this package is a second layer in front of them.
package security

import (
	"errors"
	"fmt"
)

// ErrSecurityViolation is matched by every *SecurityViolation via errors.Is.
var ErrSecurityViolation = errors.New("security violation")

// ViolationKind identifies which check rejected the input.
type ViolationKind int

const (
	ViolationBlocked      ViolationKind = iota // Command contains a blocked pattern.
	ViolationEndsWith                          // Command ends with a root-delete pattern.
	ViolationNotAllowed                        // First token not in the strict allowlist.
	ViolationMount                             // Mount rejected by the mount allowlist.
)

func (k ViolationKind) String() string {
	switch k {
	case ViolationBlocked:
		return "blocked_pattern"
	case ViolationEndsWith:
		return "blocked_suffix"
	case ViolationNotAllowed:
		return "not_in_allowlist"
	case ViolationMount:
		return "mount"
	default:
		return "unknown"
	}
}

// SecurityViolation reports why input was rejected. Pattern holds the
// matched blocklist entry or the offending command token.
type SecurityViolation struct {
	Kind    ViolationKind
	Pattern string
	Reason  string
}

func (v *SecurityViolation) Error() string {
	return "security violation: " + v.Reason
}

func (v *SecurityViolation) Is(target error) bool {
	return target == ErrSecurityViolation
}

func violationf(kind ViolationKind, pattern, format string, args ...any) *SecurityViolation {
	return &SecurityViolation{Kind: kind, Pattern: pattern, Reason: fmt.Sprintf(format, args...)}
}
