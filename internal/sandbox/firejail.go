package sandbox

import "log/slog"

// FirejailConfig configures the Firejail backend.
type FirejailConfig struct {
	// Profile is passed as --profile=<Profile>. Empty means --noprofile,
	// the most restrictive firejail default.
	Profile string

	// ExtraArgs are inserted verbatim before the command separator.
	ExtraArgs []string
}

// FirejailRuntime wraps each command in the firejail namespace sandbox.
type FirejailRuntime struct {
	cfg    FirejailConfig
	logger *slog.Logger
}

// NewFirejailRuntime creates a Firejail backend.
func NewFirejailRuntime(cfg FirejailConfig, logger *slog.Logger) *FirejailRuntime {
	return &FirejailRuntime{cfg: cfg, logger: logger}
}

func (r *FirejailRuntime) Name() string { return NameFirejail }

// buildArgs returns: (--profile=P | --noprofile) [extra]* -- sh -c CMD
func (r *FirejailRuntime) buildArgs(command string) []string {
	args := make([]string, 0, len(r.cfg.ExtraArgs)+5)
	if r.cfg.Profile != "" {
		args = append(args, "--profile="+r.cfg.Profile)
	} else {
		args = append(args, "--noprofile")
	}
	args = append(args, r.cfg.ExtraArgs...)
	return append(args, "--", "sh", "-c", command)
}
