package security

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
)

// DefaultBlockedMountPatterns reject host paths that usually hold credentials.
var DefaultBlockedMountPatterns = []string{
	".ssh",
	".gnupg",
	".gpg",
	".aws",
	".azure",
	".gcloud",
	".kube",
	".docker",
	"credentials",
	".env",
	".netrc",
	"id_rsa",
	"id_ed25519",
	"private_key",
}

// MountAllowlist is the on-disk JSON document that governs extra mounts.
//
//	{"allowedRoots": [{"path": "~/projects", "allowReadWrite": true}], "blockedPatterns": ["secret"]}
type MountAllowlist struct {
	AllowedRoots    []AllowedRoot `json:"allowedRoots"`
	BlockedPatterns []string      `json:"blockedPatterns"`
}

// AllowedRoot is a directory under which mounts are permitted.
// Mounts under a root without AllowReadWrite are forced read-only.
type AllowedRoot struct {
	Path           string `json:"path"`
	AllowReadWrite bool   `json:"allowReadWrite"`
}

// Mount is a validated, canonical bind mount.
type Mount struct {
	HostPath      string
	ContainerPath string
	ReadOnly      bool
}

// String renders the mount in host:container[:ro] form.
func (m Mount) String() string {
	if m.ReadOnly {
		return m.HostPath + ":" + m.ContainerPath + ":ro"
	}
	return m.HostPath + ":" + m.ContainerPath
}

// LoadMountAllowlist reads the allowlist file at path (~ is expanded).
func LoadMountAllowlist(path string) (*MountAllowlist, error) {
	path = ExpandHome(path)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, violationf(ViolationMount, "", "Mount allowlist not found at '%s'", path)
		}
		return nil, violationf(ViolationMount, "", "Failed to read mount allowlist '%s': %v", path, err)
	}
	var al MountAllowlist
	if err := json.Unmarshal(data, &al); err != nil {
		return nil, violationf(ViolationMount, "", "Invalid mount allowlist JSON at '%s': %v", path, err)
	}
	return &al, nil
}

// ValidateExtraMounts checks host:container[:ro] specs against the allowlist
// file at allowlistPath and returns canonical mounts. An empty spec list
// never touches the allowlist.
func ValidateExtraMounts(specs []string, allowlistPath string) ([]Mount, error) {
	if len(specs) == 0 {
		return nil, nil
	}

	al, err := LoadMountAllowlist(allowlistPath)
	if err != nil {
		return nil, err
	}
	return al.Validate(specs)
}

// Validate checks specs against the allowlist.
func (al *MountAllowlist) Validate(specs []string) ([]Mount, error) {
	if len(al.AllowedRoots) == 0 {
		return nil, violationf(ViolationMount, "", "Mount allowlist has no allowedRoots entries")
	}

	blocked := append(append([]string(nil), DefaultBlockedMountPatterns...), al.BlockedPatterns...)

	mounts := make([]Mount, 0, len(specs))
	for _, spec := range specs {
		m, err := parseMountSpec(spec)
		if err != nil {
			return nil, err
		}

		host, err := canonicalize(ExpandHome(m.HostPath))
		if err != nil {
			return nil, err
		}
		m.HostPath = host

		if pattern, ok := containsBlocked(host, blocked); ok {
			return nil, violationf(ViolationMount, pattern,
				"Mount '%s' blocked by pattern '%s'", host, pattern)
		}

		root, ok := al.rootFor(host)
		if !ok {
			return nil, violationf(ViolationMount, "",
				"Mount '%s' is outside allowedRoots", host)
		}
		if !root.AllowReadWrite {
			m.ReadOnly = true
		}
		mounts = append(mounts, m)
	}
	return mounts, nil
}

// rootFor returns the first allowed root containing host. Roots that do
// not exist are ignored.
func (al *MountAllowlist) rootFor(host string) (AllowedRoot, bool) {
	for _, root := range al.AllowedRoots {
		rootPath, err := canonicalize(ExpandHome(root.Path))
		if err != nil {
			continue
		}
		if isUnder(host, rootPath) {
			return root, true
		}
	}
	return AllowedRoot{}, false
}

// CheckMountNotBlocked validates the syntax of spec and rejects sensitive
// host paths without consulting an allowlist.
func CheckMountNotBlocked(spec string) error {
	m, err := parseMountSpec(spec)
	if err != nil {
		return err
	}
	if pattern, ok := containsBlocked(ExpandHome(m.HostPath), DefaultBlockedMountPatterns); ok {
		return violationf(ViolationMount, pattern,
			"Mount '%s' blocked by sensitive pattern '%s'", spec, pattern)
	}
	if strings.Contains(m.HostPath, "..") {
		return violationf(ViolationMount, "..",
			"Mount host path '%s' contains path traversal", m.HostPath)
	}
	return nil
}

func parseMountSpec(spec string) (Mount, error) {
	parts := strings.Split(spec, ":")
	var m Mount
	switch {
	case len(parts) == 2:
		m = Mount{HostPath: parts[0], ContainerPath: parts[1]}
	case len(parts) == 3 && parts[2] == "ro":
		m = Mount{HostPath: parts[0], ContainerPath: parts[1], ReadOnly: true}
	case len(parts) == 3:
		return Mount{}, violationf(ViolationMount, "",
			"Invalid mount mode '%s'; only 'ro' is supported", parts[2])
	default:
		return Mount{}, violationf(ViolationMount, "",
			"Invalid mount format '%s'; expected 'host:container' or 'host:container:ro'", spec)
	}

	c := m.ContainerPath
	if c == "" || !strings.HasPrefix(c, "/") || strings.Contains(c, "..") {
		return Mount{}, violationf(ViolationMount, "",
			"Invalid container mount path '%s' in '%s'", c, spec)
	}
	return m, nil
}

func canonicalize(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err == nil {
		abs, err = filepath.EvalSymlinks(abs)
	}
	if err != nil {
		return "", violationf(ViolationMount, "",
			"Mount path '%s' is invalid or does not exist: %v", path, err)
	}
	return abs, nil
}

func containsBlocked(path string, patterns []string) (string, bool) {
	lower := strings.ToLower(path)
	for _, p := range patterns {
		if strings.Contains(lower, strings.ToLower(p)) {
			return p, true
		}
	}
	return "", false
}

func isUnder(path, root string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
