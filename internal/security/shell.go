package security

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

// DefaultBlockedPatterns are matched as case-insensitive substrings.
var DefaultBlockedPatterns = []string{
	"rm -rf / ", // trailing space
	"rm -rf /\t",
	"rm -fr / ",
	"rm -fr /\t",
	"> /dev/sd",
	"mkfs.",
	"mkfs ",
	"dd if=/dev/",
	"chmod -r 777 /",
	"chmod 777 /",
	"nc -e",
	"bash -i >& /dev/tcp",
	"/dev/tcp/",
	"/etc/shadow",
	"/etc/passwd",
	"~/.ssh/",
	".ssh/id_",
	":(){ :|:& };:",
	"fork()",
}

// DefaultBlockedRegexes are matched case-insensitively anywhere in the command.
var DefaultBlockedRegexes = []string{
	`curl\s.*\|\s*(ba)?sh`,
	`wget\s.*\|\s*(ba)?sh`,
	`chown\s+-r\s+\S+\s+/(\s|$)`,
}

// endPatterns block commands whose trimmed text ends with a root delete.
var endPatterns = []string{"rm -rf /", "rm -rf /*", "rm -fr /", "rm -fr /*"}

// AllowlistMode controls the second, first-token gate.
type AllowlistMode string

const (
	AllowlistOff    AllowlistMode = "off"
	AllowlistWarn   AllowlistMode = "warn"
	AllowlistStrict AllowlistMode = "strict"
)

// ParseAllowlistMode converts a config string. Empty means off.
func ParseAllowlistMode(s string) (AllowlistMode, error) {
	switch AllowlistMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", AllowlistOff:
		return AllowlistOff, nil
	case AllowlistWarn:
		return AllowlistWarn, nil
	case AllowlistStrict:
		return AllowlistStrict, nil
	default:
		return "", fmt.Errorf("unknown allowlist mode %q (want off, warn or strict)", s)
	}
}

// ShellPolicyConfig configures a CommandPolicy.
type ShellPolicyConfig struct {
	Enabled bool

	// BlockedPatterns and BlockedRegexes are added to the defaults, never replacing them.
	BlockedPatterns []string
	BlockedRegexes  []string

	// Allowlist holds permitted first tokens (e.g. "ls", "git").
	Allowlist     []string
	AllowlistMode AllowlistMode
}

type blockedRegex struct {
	source string
	re     *regexp.Regexp
}

// CommandPolicy decides whether a shell command may run. It performs no
// I/O and is immutable after construction, so it is safe for concurrent use.
//
// Evaluation order: blocklist first, always; the allowlist can only add
// rejections on top of it.
type CommandPolicy struct {
	enabled   bool
	patterns  []string
	regexes   []blockedRegex
	allowlist map[string]struct{}
	mode      AllowlistMode
	logger    *slog.Logger
}

// NewCommandPolicy builds a policy from configuration. Invalid regexes are
// reported as errors.
func NewCommandPolicy(cfg ShellPolicyConfig, logger *slog.Logger) (*CommandPolicy, error) {
	if !cfg.Enabled {
		return PermissiveCommandPolicy(), nil
	}

	if logger == nil {
		logger = slog.Default()
	}
	mode, err := ParseAllowlistMode(string(cfg.AllowlistMode))
	if err != nil {
		return nil, err
	}

	p := &CommandPolicy{
		enabled:   true,
		patterns:  append(append([]string(nil), DefaultBlockedPatterns...), cfg.BlockedPatterns...),
		allowlist: make(map[string]struct{}, len(cfg.Allowlist)),
		mode:      mode,
		logger:    logger,
	}

	for _, src := range append(append([]string(nil), DefaultBlockedRegexes...), cfg.BlockedRegexes...) {
		re, err := regexp.Compile("(?i)" + src)
		if err != nil {
			return nil, fmt.Errorf("compiling blocked regex %q: %w", src, err)
		}
		p.regexes = append(p.regexes, blockedRegex{source: src, re: re})
	}

	for _, cmd := range cfg.Allowlist {
		p.allowlist[strings.ToLower(strings.TrimSpace(cmd))] = struct{}{}
	}
	return p, nil
}

// DefaultCommandPolicy returns an enabled policy with the default blocklist
// and no allowlist.
func DefaultCommandPolicy(logger *slog.Logger) *CommandPolicy {
	p, err := NewCommandPolicy(ShellPolicyConfig{Enabled: true}, logger)
	if err != nil {
		// Defaults are constant and always compile.
		panic(err)
	}
	return p
}

// PermissiveCommandPolicy returns a policy that allows everything.
// Only use it for trusted contexts that are already sandboxed.
func PermissiveCommandPolicy() *CommandPolicy {
	return &CommandPolicy{mode: AllowlistOff, logger: slog.Default()}
}

// Enabled reports whether the policy performs any checks.
func (p *CommandPolicy) Enabled() bool { return p.enabled }

// Mode returns the allowlist mode.
func (p *CommandPolicy) Mode() AllowlistMode { return p.mode }

// Validate returns nil when command may run, or a *SecurityViolation
// naming the matched pattern.
func (p *CommandPolicy) Validate(command string) error {
	if !p.enabled {
		return nil
	}

	lower := strings.ToLower(command)
	trimmed := strings.TrimSpace(lower)

	for _, pattern := range endPatterns {
		if strings.HasSuffix(trimmed, pattern) {
			return violationf(ViolationEndsWith, pattern,
				"Command blocked: ends with prohibited pattern '%s'", pattern)
		}
	}

	for _, pattern := range p.patterns {
		if strings.Contains(lower, strings.ToLower(pattern)) {
			return violationf(ViolationBlocked, pattern,
				"Command blocked: contains prohibited pattern '%s'", pattern)
		}
	}

	for _, br := range p.regexes {
		if br.re.MatchString(command) {
			return violationf(ViolationBlocked, br.source,
				"Command blocked: matches prohibited pattern '%s'", br.source)
		}
	}

	return p.checkAllowlist(trimmed)
}

func (p *CommandPolicy) checkAllowlist(lower string) error {
	if p.mode == AllowlistOff {
		return nil
	}

	token := firstToken(lower)
	if _, ok := p.allowlist[token]; ok {
		return nil
	}

	if p.mode == AllowlistWarn {
		p.logger.Warn("command not in allowlist",
			slog.String("command", token),
			slog.String("mode", string(p.mode)),
		)
		return nil
	}
	return violationf(ViolationNotAllowed, token,
		"Command blocked: '%s' is not in allowlist", token)
}

// firstToken returns the first whitespace-delimited token, or "".
func firstToken(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
