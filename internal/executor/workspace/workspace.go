// Package workspace owns the per-request scratch directories the judge
// compiles and runs code in.
//
// Every Acquire must be paired with exactly one Release, normally via defer:
//
//	ws, err := mgr.Acquire()
//	if err != nil { ... }
//	defer mgr.Release(ws)
//
// Release never fails from the caller's point of view. Entries that cannot be
// removed are logged and skipped.
package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/xid"
)

const dirPrefix = "judge-"

// Workspace is an exclusively-owned directory for one execution request.
type Workspace struct {
	Path      string
	CreatedAt time.Time
}

// Join resolves name inside the workspace.
func (w *Workspace) Join(name string) string {
	return filepath.Join(w.Path, name)
}

// Manager creates and removes workspaces under a root directory.
type Manager struct {
	root   string
	logger *slog.Logger
}

// NewManager returns a Manager rooted at root. An empty root means the
// system temp directory.
func NewManager(root string, logger *slog.Logger) (*Manager, error) {
	if root == "" {
		root = os.TempDir()
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("workspace: resolving root %q: %w", root, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("workspace: creating root %q: %w", abs, err)
	}
	return &Manager{root: abs, logger: logger}, nil
}

// Root returns the absolute directory workspaces are created under.
func (m *Manager) Root() string {
	return m.root
}

// Acquire creates a fresh workspace. The xid name is globally unique, and
// os.Mkdir fails rather than reuse an existing directory.
func (m *Manager) Acquire() (*Workspace, error) {
	path := filepath.Join(m.root, dirPrefix+xid.New().String())
	if err := os.Mkdir(path, 0o700); err != nil {
		return nil, fmt.Errorf("workspace: creating %q: %w", path, err)
	}

	ws := &Workspace{Path: path, CreatedAt: time.Now()}
	m.logger.Debug("workspace acquired", slog.String("path", path))
	return ws, nil
}

// WriteFile writes a source file into the workspace.
func (m *Manager) WriteFile(ws *Workspace, name string, data []byte) error {
	if err := os.WriteFile(ws.Join(name), data, 0o600); err != nil {
		return fmt.Errorf("workspace: writing %s: %w", name, err)
	}
	return nil
}

// Release removes the workspace tree children-first. Calling it on a
// workspace that is already gone is a no-op.
func (m *Manager) Release(ws *Workspace) {
	if ws == nil {
		return
	}

	var paths []string
	err := filepath.WalkDir(ws.Path, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			m.warn(path, err)
			// Keep walking siblings; the directory itself is still queued for removal.
			if d != nil && d.IsDir() {
				paths = append(paths, path)
				return fs.SkipDir
			}
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		m.warn(ws.Path, err)
	}

	// WalkDir visits parents before children, so reverse order removes
	// children first.
	for i := len(paths) - 1; i >= 0; i-- {
		if err := os.Remove(paths[i]); err != nil && !errors.Is(err, fs.ErrNotExist) {
			m.warn(paths[i], err)
		}
	}

	m.logger.Debug("workspace released",
		slog.String("path", ws.Path),
		slog.Duration("age", time.Since(ws.CreatedAt)),
	)
}

func (m *Manager) warn(path string, err error) {
	m.logger.Warn("workspace cleanup incomplete",
		slog.String("path", path),
		slog.String("error", err.Error()),
	)
}
