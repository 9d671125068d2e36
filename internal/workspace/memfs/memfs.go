// Package memfs provides an in-memory workspace.FileSystem for tests.
package memfs

import (
	"fmt"
	"io/fs"
	"maps"
	"path"
	"slices"
	"strings"
	"sync"
	"testing/fstest"
	"time"

	"kiln/internal/workspace"
)

// FS implements workspace.FileSystem on top of fstest.MapFS. Every write
// advances a logical clock so modification times differ between writes.
type FS struct {
	mu    sync.RWMutex
	files fstest.MapFS
	clock time.Time
}

var _ workspace.FileSystem = (*FS)(nil)

func New() *FS {
	return &FS{
		files: make(fstest.MapFS),
		clock: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (m *FS) tick() time.Time {
	m.clock = m.clock.Add(time.Second)
	return m.clock
}

// Add writes a text file; handy in fixtures.
func (m *FS) Add(name, content string) *FS {
	if err := m.WriteFile(name, []byte(content), 0o644); err != nil {
		panic(err)
	}
	return m
}

func (m *FS) Open(name string) (fs.File, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.files.Open(name)
}

func (m *FS) ReadFile(name string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fs.ReadFile(m.files, workspace.Clean(name))
}

func (m *FS) WriteFile(name string, data []byte, perm fs.FileMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	name = workspace.Clean(name)
	if f, ok := m.files[name]; ok && f.Mode.IsDir() {
		return &fs.PathError{Op: "write", Path: name, Err: fmt.Errorf("is a directory")}
	}
	if err := m.mkdirParentsLocked(name); err != nil {
		return err
	}
	m.files[name] = &fstest.MapFile{
		Data:    slices.Clone(data),
		Mode:    perm.Perm(),
		ModTime: m.tick(),
	}
	return nil
}

func (m *FS) Remove(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	name = workspace.Clean(name)
	f, ok := m.files[name]
	if !ok {
		if m.hasChildrenLocked(name) {
			return &fs.PathError{Op: "remove", Path: name, Err: fmt.Errorf("directory not empty")}
		}
		return &fs.PathError{Op: "remove", Path: name, Err: fs.ErrNotExist}
	}
	if f.Mode.IsDir() && m.hasChildrenLocked(name) {
		return &fs.PathError{Op: "remove", Path: name, Err: fmt.Errorf("directory not empty")}
	}
	delete(m.files, name)
	return nil
}

func (m *FS) RemoveAll(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	name = workspace.Clean(name)
	if name == "." {
		clear(m.files)
		return nil
	}
	prefix := name + "/"
	for p := range m.files {
		if p == name || strings.HasPrefix(p, prefix) {
			delete(m.files, p)
		}
	}
	return nil
}

func (m *FS) MkdirAll(name string, perm fs.FileMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	name = workspace.Clean(name)
	if name == "." {
		return nil
	}
	if err := m.mkdirParentsLocked(name); err != nil {
		return err
	}
	return m.mkdirLocked(name, perm)
}

func (m *FS) mkdirLocked(name string, perm fs.FileMode) error {
	if f, ok := m.files[name]; ok {
		if !f.Mode.IsDir() {
			return &fs.PathError{Op: "mkdir", Path: name, Err: fmt.Errorf("not a directory")}
		}
		return nil
	}
	m.files[name] = &fstest.MapFile{Mode: fs.ModeDir | perm.Perm(), ModTime: m.clock}
	return nil
}

func (m *FS) mkdirParentsLocked(name string) error {
	for dir := path.Dir(name); dir != "." && dir != "/"; dir = path.Dir(dir) {
		if err := m.mkdirLocked(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}

func (m *FS) hasChildrenLocked(name string) bool {
	prefix := name + "/"
	for p := range m.files {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return false
}

func (m *FS) ReadDir(name string) ([]fs.DirEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fs.ReadDir(m.files, workspace.Clean(name))
}

func (m *FS) Stat(name string) (fs.FileInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fs.Stat(m.files, workspace.Clean(name))
}

func (m *FS) Exists(name string) bool {
	_, err := m.Stat(name)
	return err == nil
}

// Files returns the regular files and their contents, sorted by path in
// iteration order of the returned map's keys via Paths.
func (m *FS) Files() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.files))
	for p, f := range m.files {
		if !f.Mode.IsDir() {
			out[p] = string(f.Data)
		}
	}
	return out
}

// Paths returns the sorted regular file paths under dir.
func (m *FS) Paths(dir string) []string {
	dir = workspace.Clean(dir)
	var out []string
	for _, p := range slices.Sorted(maps.Keys(m.Files())) {
		if dir == "." || strings.HasPrefix(p, dir+"/") {
			out = append(out, p)
		}
	}
	return out
}
