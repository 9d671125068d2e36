// Package markers keeps the problems and tasks attached to source units
// between builds.
package markers

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	"kiln/internal/diag"
)

const schema uint16 = 1

// Store maps locators to their problem and task markers. It is safe for
// concurrent use.
type Store struct {
	mu       sync.RWMutex
	problems map[string][]diag.Diagnostic
	tasks    map[string][]diag.Diagnostic
}

func New() *Store {
	return &Store{
		problems: make(map[string][]diag.Diagnostic),
		tasks:    make(map[string][]diag.Diagnostic),
	}
}

// SetProblems replaces the problems of one unit.
func (s *Store) SetProblems(locator string, ds []diag.Diagnostic) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set(s.problems, locator, ds)
}

// AddProblems appends problems to one unit.
func (s *Store) AddProblems(locator string, ds ...diag.Diagnostic) {
	if len(ds) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.problems[locator] = append(s.problems[locator], ds...)
}

// SetTasks replaces the tasks of one unit.
func (s *Store) SetTasks(locator string, ds []diag.Diagnostic) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set(s.tasks, locator, ds)
}

func set(m map[string][]diag.Diagnostic, locator string, ds []diag.Diagnostic) {
	if len(ds) == 0 {
		delete(m, locator)
		return
	}
	m[locator] = slices.Clone(ds)
}

// Remove drops every marker of one unit.
func (s *Store) Remove(locator string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.problems, locator)
	delete(s.tasks, locator)
}

// RemoveUnder drops the markers of every unit located below dir.
func (s *Store) RemoveUnder(dir string) {
	prefix := strings.TrimSuffix(dir, "/") + "/"
	s.mu.Lock()
	defer s.mu.Unlock()
	drop := func(loc string, _ []diag.Diagnostic) bool { return strings.HasPrefix(loc, prefix) }
	maps.DeleteFunc(s.problems, drop)
	maps.DeleteFunc(s.tasks, drop)
}

// Clear drops everything.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.problems)
	clear(s.tasks)
}

// Problems returns the problems of one unit.
func (s *Store) Problems(locator string) []diag.Diagnostic {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.problems[locator])
}

// Tasks returns the tasks of one unit.
func (s *Store) Tasks(locator string) []diag.Diagnostic {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.tasks[locator])
}

// All returns every problem followed by every task, ordered by locator
// and position.
func (s *Store) All() []diag.Diagnostic {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []diag.Diagnostic
	for _, m := range []map[string][]diag.Diagnostic{s.problems, s.tasks} {
		for _, loc := range slices.Sorted(maps.Keys(m)) {
			ds := slices.Clone(m[loc])
			slices.SortStableFunc(ds, func(a, b diag.Diagnostic) int {
				return int(a.Primary.Start) - int(b.Primary.Start)
			})
			out = append(out, ds...)
		}
	}
	return out
}

// Count returns the number of problems with the given severity.
func (s *Store) Count(sev diag.Severity) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, ds := range s.problems {
		for _, d := range ds {
			if d.Severity == sev {
				n++
			}
		}
	}
	return n
}

// HasErrors reports whether any unit carries an error.
func (s *Store) HasErrors() bool { return s.Count(diag.SevError) > 0 }

// Locators returns the units carrying problems, sorted.
func (s *Store) Locators() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.problems))
}

type file struct {
	Schema   uint16                       `msgpack:"schema"`
	Problems map[string][]diag.Diagnostic `msgpack:"problems"`
	Tasks    map[string][]diag.Diagnostic `msgpack:"tasks"`
}

// Save writes the store to path.
func (s *Store) Save(path string) error {
	s.mu.RLock()
	data, err := msgpack.Marshal(&file{Schema: schema, Problems: s.problems, Tasks: s.tasks})
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("markers: encode: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Load reads a store saved by Save. A missing or outdated file yields an
// empty store.
func Load(path string) (*Store, error) {
	s := New()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s, nil
		}
		return nil, err
	}
	var f file
	if err := msgpack.Unmarshal(data, &f); err != nil || f.Schema != schema {
		return s, nil
	}
	if f.Problems != nil {
		s.problems = f.Problems
	}
	if f.Tasks != nil {
		s.tasks = f.Tasks
	}
	return s, nil
}
