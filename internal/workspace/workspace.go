package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Manager owns per-project export directories under a common root.
type Manager struct {
	root string
}

// New ensures the workspace root exists and is accessible.
func New(root string) (*Manager, error) {
	if root == "" {
		return nil, fmt.Errorf("workspace root cannot be empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}
	return &Manager{root: abs}, nil
}

// Root returns the absolute workspace root.
func (m *Manager) Root() string {
	return m.root
}

// Path returns the directory for slug without touching the filesystem.
func (m *Manager) Path(slug string) (string, error) {
	if err := validSlug(slug); err != nil {
		return "", err
	}
	return filepath.Join(m.root, slug), nil
}

// Prepare recreates an empty directory for slug, discarding earlier contents.
func (m *Manager) Prepare(slug string) (string, error) {
	dir, err := m.Path(slug)
	if err != nil {
		return "", err
	}
	if err := os.RemoveAll(dir); err != nil {
		return "", fmt.Errorf("cleanup workspace: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create workspace: %w", err)
	}
	return dir, nil
}

// Remove deletes the directory for slug. A missing directory is not an error.
func (m *Manager) Remove(slug string) error {
	dir, err := m.Path(slug)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove workspace: %w", err)
	}
	return nil
}

// Exists reports whether slug has a directory.
func (m *Manager) Exists(slug string) bool {
	dir, err := m.Path(slug)
	if err != nil {
		return false
	}
	info, err := os.Stat(dir)
	return err == nil && info.IsDir()
}

// Files lists regular files under slug as sorted slash-separated paths.
func (m *Manager) Files(slug string) ([]string, error) {
	dir, err := m.Path(slug)
	if err != nil {
		return nil, err
	}
	var files []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list workspace: %w", err)
	}
	sort.Strings(files)
	return files, nil
}

// Only a single path element inside the root is accepted.
func validSlug(slug string) error {
	if slug == "" {
		return fmt.Errorf("workspace identifier cannot be empty")
	}
	if slug == "." || slug == ".." || strings.ContainsAny(slug, `/\`) {
		return fmt.Errorf("refusing workspace identifier %q outside workspace root", slug)
	}
	return nil
}
