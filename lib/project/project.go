// Package project manages the output root and the per-project directories
// recordings are written into.
package project

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Manager tracks the output root and the currently selected project.
type Manager struct {
	mu      sync.Mutex
	root    string
	current string
}

func NewManager(root, current string) *Manager {
	return &Manager{root: root, current: current}
}

// Root returns the output root directory.
func (m *Manager) Root() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.root
}

// SetRoot points the manager at a new output root, creating it if needed.
// The current project selection is cleared; it belonged to the old root.
func (m *Manager) SetRoot(path string) error {
	if path == "" {
		return fmt.Errorf("output folder cannot be empty")
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("failed to create output folder: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.root = path
	m.current = ""
	return nil
}

// List returns the project names under the root, sorted.
func (m *Manager) List() ([]string, error) {
	root := m.Root()
	entries, err := os.ReadDir(root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Create makes a new project directory.
func (m *Manager) Create(name string) error {
	if err := validateName(name); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Join(m.Root(), name), 0o755); err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}
	return nil
}

// Current returns the selected project name, if any.
func (m *Manager) Current() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current, m.current != ""
}

// SetCurrent selects an existing project.
func (m *Manager) SetCurrent(name string) error {
	if err := validateName(name); err != nil {
		return err
	}
	dir := filepath.Join(m.Root(), name)
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return fmt.Errorf("no project named %q", name)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = name
	return nil
}

// Dir resolves a project name to its directory.
func (m *Manager) Dir(name string) string {
	return filepath.Join(m.Root(), name)
}

// CurrentDir returns the selected project's directory and name; ok is false
// when no project is selected.
func (m *Manager) CurrentDir() (dir, name string, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == "" {
		return "", "", false
	}
	return filepath.Join(m.root, m.current), m.current, true
}

func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("project name cannot be empty")
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return fmt.Errorf("invalid project name %q", name)
	}
	return nil
}
