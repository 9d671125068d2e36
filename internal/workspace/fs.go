// Package workspace abstracts the file system a build reads sources from
// and writes artifacts to. Paths are slash-separated and relative to the
// root of the file system, which is the project directory.
package workspace

import (
	"errors"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// FileSystem is the subset of file operations the builder needs. It
// embeds fs.FS so fs.WalkDir works on every implementation.
type FileSystem interface {
	fs.FS

	ReadFile(name string) ([]byte, error)
	WriteFile(name string, data []byte, perm fs.FileMode) error
	Remove(name string) error
	RemoveAll(name string) error

	MkdirAll(name string, perm fs.FileMode) error
	ReadDir(name string) ([]fs.DirEntry, error)

	Stat(name string) (fs.FileInfo, error)
	Exists(name string) bool
}

// OSFileSystem is a FileSystem rooted at a directory on disk.
type OSFileSystem struct {
	root string
}

// NewOSFileSystem returns a FileSystem rooted at dir.
func NewOSFileSystem(dir string) *OSFileSystem {
	return &OSFileSystem{root: dir}
}

// Root returns the directory the file system is rooted at.
func (f *OSFileSystem) Root() string { return f.root }

func (f *OSFileSystem) abs(name string) string {
	return filepath.Join(f.root, filepath.FromSlash(Clean(name)))
}

func (f *OSFileSystem) Open(name string) (fs.File, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrInvalid}
	}
	return os.Open(f.abs(name))
}

func (f *OSFileSystem) ReadFile(name string) ([]byte, error) {
	return os.ReadFile(f.abs(name))
}

func (f *OSFileSystem) WriteFile(name string, data []byte, perm fs.FileMode) error {
	p := f.abs(name)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	return os.WriteFile(p, data, perm)
}

func (f *OSFileSystem) Remove(name string) error {
	return os.Remove(f.abs(name))
}

func (f *OSFileSystem) RemoveAll(name string) error {
	return os.RemoveAll(f.abs(name))
}

func (f *OSFileSystem) MkdirAll(name string, perm fs.FileMode) error {
	return os.MkdirAll(f.abs(name), perm)
}

func (f *OSFileSystem) ReadDir(name string) ([]fs.DirEntry, error) {
	return os.ReadDir(f.abs(name))
}

func (f *OSFileSystem) Stat(name string) (fs.FileInfo, error) {
	return os.Stat(f.abs(name))
}

func (f *OSFileSystem) Exists(name string) bool {
	_, err := os.Stat(f.abs(name))
	return err == nil
}

// Clean normalizes a workspace path: slash separators, no leading slash,
// NFC-normalized so differently encoded names compare equal. The root is
// ".".
func Clean(name string) string {
	name = norm.NFC.String(filepath.ToSlash(name))
	name = strings.TrimPrefix(path.Clean("/"+name), "/")
	if name == "" {
		return "."
	}
	return name
}

// Join joins workspace path elements, dropping "." components.
func Join(elem ...string) string {
	return Clean(path.Join(elem...))
}

// IsNotExist reports whether err means a missing file.
func IsNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

// CaseVariant returns the name of an entry in the directory of name that
// equals name ignoring case but differs from it, or "" when none exists.
func CaseVariant(fsys FileSystem, name string) (string, error) {
	dir, base := path.Split(Clean(name))
	dir = strings.TrimSuffix(dir, "/")
	if dir == "" {
		dir = "."
	}
	entries, err := fsys.ReadDir(dir)
	if err != nil {
		if IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	for _, e := range entries {
		if e.Name() != base && strings.EqualFold(e.Name(), base) {
			return Join(dir, e.Name()), nil
		}
	}
	return "", nil
}
