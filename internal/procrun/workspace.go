package procrun

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Workspace is a scratch directory private to one job run.
type Workspace struct {
	dir  string
	once sync.Once
	err  error
}

// NewWorkspace creates base/name, replacing any leftovers from an earlier run
// with the same name.
func NewWorkspace(base, name string) (*Workspace, error) {
	base = strings.TrimSpace(base)
	if base == "" {
		return nil, errors.New("workspace base directory required")
	}
	name = filepath.Base(strings.TrimSpace(name))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return nil, errors.New("workspace name required")
	}
	dir := filepath.Join(base, name)
	if err := os.RemoveAll(dir); err != nil {
		return nil, fmt.Errorf("clear workspace: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	return &Workspace{dir: dir}, nil
}

// Dir returns the workspace root.
func (w *Workspace) Dir() string {
	return w.dir
}

// Path returns the location of a file inside the workspace.
func (w *Workspace) Path(name string) string {
	return filepath.Join(w.dir, filepath.Base(name))
}

// Cleanup removes the workspace. Safe to call more than once.
func (w *Workspace) Cleanup() error {
	if w == nil {
		return nil
	}
	w.once.Do(func() {
		w.err = os.RemoveAll(w.dir)
	})
	return w.err
}
