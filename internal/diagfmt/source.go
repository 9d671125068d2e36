package diagfmt

import (
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"fortio.org/safecast"

	"kiln/internal/diag"
)

// Group is the set of diagnostics of one project. Locators in Items are
// relative to Root.
type Group struct {
	Project string
	Root    string
	Items   []diag.Diagnostic
}

// position is a resolved 1-based line and column.
type position struct {
	Line uint32
	Col  uint32
}

// sources caches file contents read for context and column resolution.
type sources struct {
	read  func(string) ([]byte, error)
	files map[string][]byte
}

func newSources(read func(string) ([]byte, error)) *sources {
	if read == nil {
		read = os.ReadFile
	}
	return &sources{read: read, files: map[string][]byte{}}
}

func (s *sources) get(path string) []byte {
	if data, ok := s.files[path]; ok {
		return data
	}
	data, err := s.read(path)
	if err != nil {
		data = nil
	}
	s.files[path] = data
	return data
}

// resolve turns a span into start and end positions. Without content
// or offsets only the recorded line survives.
func resolve(content []byte, span diag.Span) (start, end position) {
	if content == nil || span.End == 0 || span.Start > span.End {
		return position{Line: span.Line}, position{Line: span.Line}
	}
	return offsetPosition(content, span.Start), offsetPosition(content, span.End)
}

func offsetPosition(content []byte, off uint32) position {
	n := min(int(off), len(content))
	line := 1 + strings.Count(string(content[:n]), "\n")
	lineStart := strings.LastIndexByte(string(content[:n]), '\n') + 1
	col := 1 + utf8.RuneCount(content[lineStart:n])
	l, err := safecast.Conv[uint32](line)
	if err != nil {
		return position{}
	}
	c, err := safecast.Conv[uint32](col)
	if err != nil {
		return position{Line: l}
	}
	return position{Line: l, Col: c}
}

// lineText returns line (1-based) without its newline.
func lineText(content []byte, line uint32) (string, bool) {
	if line == 0 {
		return "", false
	}
	lines := strings.Split(string(content), "\n")
	if int(line) > len(lines) {
		return "", false
	}
	return strings.TrimRight(lines[line-1], "\r"), true
}

func displayPath(root, locator string, mode PathMode, base string) string {
	abs := filepath.Join(root, filepath.FromSlash(locator))
	switch mode {
	case PathModeAbsolute:
		return abs
	case PathModeRelative:
		return locator
	case PathModeBasename:
		return filepath.Base(abs)
	}
	if base == "" {
		wd, err := os.Getwd()
		if err != nil {
			return abs
		}
		base = wd
	}
	if rel, err := filepath.Rel(base, abs); err == nil && !strings.HasPrefix(rel, "..") {
		return rel
	}
	return abs
}

func visible(d diag.Diagnostic, tasks bool) bool {
	return tasks || !d.IsTask()
}
