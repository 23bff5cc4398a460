// Package workspace manages the warden runtime directory structure.
// Command working directories and logs live under a single workspace root.
//
// Default workspace: ~/.warden/workspace (configurable via config or WARDEN_WORKSPACE).
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const defaultRelativePath = ".warden/workspace"

// Workspace resolves and creates warden's runtime directories.
type Workspace struct {
	Root string

	mu      sync.Mutex
	created map[string]bool
}

// New creates a Workspace rooted at the given path, expanding ~ and
// creating the root with 0750 permissions if needed.
func New(root string) (*Workspace, error) {
	resolved, err := resolvePath(root)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace root %q: %w", root, err)
	}

	w := &Workspace{
		Root:    resolved,
		created: make(map[string]bool),
	}
	if err := w.ensureDir(resolved, 0750); err != nil {
		return nil, fmt.Errorf("creating workspace root: %w", err)
	}
	return w, nil
}

// Default creates a Workspace at ~/.warden/workspace.
func Default() (*Workspace, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("determining home directory: %w", err)
	}
	return New(filepath.Join(home, defaultRelativePath))
}

// ScratchDir returns <root>/scratch/, the working directory for commands
// run without a caller.
func (w *Workspace) ScratchDir() string {
	return w.dir("scratch")
}

// CallersDir returns <root>/callers/.
func (w *Workspace) CallersDir() string {
	return w.dir("callers")
}

// LogsDir returns <root>/logs/.
func (w *Workspace) LogsDir() string {
	return w.dir("logs")
}

// CallerDir returns <root>/callers/<callerID>/, the workspace handed to the
// shell tool for that caller's commands. The ID is sanitized so it cannot
// escape the callers directory.
func (w *Workspace) CallerDir(callerID string) string {
	p := filepath.Join(w.CallersDir(), sanitizeName(callerID))
	_ = w.ensureDir(p, 0750)
	return p
}

// CleanScratch removes all contents of the scratch directory.
func (w *Workspace) CleanScratch() error {
	dir := filepath.Join(w.Root, "scratch")
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading scratch dir: %w", err)
	}
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(dir, entry.Name())); err != nil {
			return fmt.Errorf("removing scratch entry %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// EnsureAll creates all standard workspace directories.
// Called during onboarding and on first startup.
func (w *Workspace) EnsureAll() error {
	for _, name := range []string{"scratch", "callers", "logs"} {
		if err := w.ensureDir(filepath.Join(w.Root, name), 0750); err != nil {
			return err
		}
	}
	return nil
}

func (w *Workspace) dir(name string) string {
	p := filepath.Join(w.Root, name)
	_ = w.ensureDir(p, 0750)
	return p
}

// ensureDir creates a directory once; later calls hit the cache.
func (w *Workspace) ensureDir(path string, perm os.FileMode) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.created[path] {
		return nil
	}
	if err := os.MkdirAll(path, perm); err != nil {
		return fmt.Errorf("creating directory %s: %w", path, err)
	}
	w.created[path] = true
	return nil
}

func resolvePath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}

// sanitizeName replaces path separators and traversal sequences.
func sanitizeName(name string) string {
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\\", "_")
	name = strings.ReplaceAll(name, "..", "_")
	if name == "" {
		name = "_"
	}
	return name
}
