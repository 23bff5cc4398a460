package sandbox

import "log/slog"

// Default read-only system binds for bubblewrap.
var defaultBubblewrapROBinds = []string{"/usr", "/lib", "/lib64", "/bin", "/sbin", "/etc"}

// BubblewrapConfig configures the Bubblewrap backend.
type BubblewrapConfig struct {
	// ROBinds are bound read-only at the same path. Nil selects the defaults;
	// an empty non-nil slice binds nothing.
	ROBinds []string

	DevBind  bool // --dev /dev
	ProcBind bool // --proc /proc

	// ExtraArgs are inserted verbatim before the command.
	ExtraArgs []string
}

// DefaultBubblewrapConfig returns the default system binds with /dev and /proc.
func DefaultBubblewrapConfig() BubblewrapConfig {
	return BubblewrapConfig{
		ROBinds:  append([]string(nil), defaultBubblewrapROBinds...),
		DevBind:  true,
		ProcBind: true,
	}
}

// BubblewrapRuntime wraps each command in a bwrap sandbox.
type BubblewrapRuntime struct {
	cfg    BubblewrapConfig
	logger *slog.Logger
}

// NewBubblewrapRuntime creates a Bubblewrap backend.
func NewBubblewrapRuntime(cfg BubblewrapConfig, logger *slog.Logger) *BubblewrapRuntime {
	if cfg.ROBinds == nil {
		cfg.ROBinds = append([]string(nil), defaultBubblewrapROBinds...)
	}
	return &BubblewrapRuntime{cfg: cfg, logger: logger}
}

func (r *BubblewrapRuntime) Name() string { return NameBubblewrap }

// buildArgs returns:
//
//	[--ro-bind P P]* [--dev /dev] [--proc /proc] [--bind WD WD] --bind /tmp /tmp [extra]* sh -c CMD
func (r *BubblewrapRuntime) buildArgs(command, workdir string) []string {
	args := make([]string, 0, 3*len(r.cfg.ROBinds)+len(r.cfg.ExtraArgs)+12)
	for _, p := range r.cfg.ROBinds {
		args = append(args, "--ro-bind", p, p)
	}
	if r.cfg.DevBind {
		args = append(args, "--dev", "/dev")
	}
	if r.cfg.ProcBind {
		args = append(args, "--proc", "/proc")
	}
	if workdir != "" {
		args = append(args, "--bind", workdir, workdir)
	}
	args = append(args, "--bind", "/tmp", "/tmp")
	args = append(args, r.cfg.ExtraArgs...)
	return append(args, "sh", "-c", command)
}
