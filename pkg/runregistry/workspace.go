package runregistry

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
)

// Workspace is a run-scoped working directory holding downloaded tables.
//
// Release removes the directory; it is safe to call more than once.
type Workspace struct {
	dir string

	mu       sync.Mutex
	released bool
}

// OpenWorkspace creates dir if needed and returns a workspace rooted there.
func OpenWorkspace(dir string) (*Workspace, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, fmt.Errorf("workspace dir is empty")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	return &Workspace{dir: dir}, nil
}

// Dir returns the workspace directory.
func (w *Workspace) Dir() string {
	return w.dir
}

// CachePath returns the local file caching the table of assetID.
func (w *Workspace) CachePath(assetID string) string {
	name := path.Base(strings.TrimRight(assetID, "/"))
	name = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':':
			return '_'
		}
		return r
	}, name)
	if name == "" || name == "." || name == ".." {
		name = "asset"
	}
	return filepath.Join(w.dir, name+".csv")
}

// Release deletes the workspace directory and everything in it.
func (w *Workspace) Release() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.released {
		return nil
	}
	if err := os.RemoveAll(w.dir); err != nil {
		return fmt.Errorf("release workspace: %w", err)
	}
	w.released = true
	return nil
}

// Released reports whether Release has completed.
func (w *Workspace) Released() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.released
}
