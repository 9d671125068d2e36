package project

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/bmatcuk/doublestar/v4"
)

const (
	DefaultMaxAtOnce      = 2000
	DefaultMaxCompileLoop = 5
	DefaultOutput         = "bin"
	DefaultSourceDir      = "src"
	StateDir              = ".kiln"
)

// Manifest is the decoded kiln.toml.
type Manifest struct {
	Project    projectSection      `toml:"project"`
	Build      buildSection        `toml:"build"`
	Sources    []sourceSection     `toml:"source"`
	Compiler   compilerSection     `toml:"compiler"`
	Dependency []dependencySection `toml:"dependency"`
}

type projectSection struct {
	Name string `toml:"name"`
}

type buildSection struct {
	Output                    string   `toml:"output"`
	MaxAtOnce                 *int     `toml:"max_at_once"`
	MaxCompileLoop            *int     `toml:"max_compile_loop"`
	RecreateModifiedArtifacts *bool    `toml:"recreate_modified_artifacts"`
	CopyResources             *bool    `toml:"copy_resources"`
	ResourceFilters           []string `toml:"resource_filters"`
}

type sourceSection struct {
	Dir     string   `toml:"dir"`
	Output  string   `toml:"output"`
	Include []string `toml:"include"`
	Exclude []string `toml:"exclude"`
}

type compilerSection struct {
	Options           map[string]string `toml:"options"`
	TaskTags          []string          `toml:"task_tags"`
	TaskPriorities    []string          `toml:"task_priorities"`
	TaskCaseSensitive *bool             `toml:"task_case_sensitive"`
}

type dependencySection struct {
	Path string `toml:"path"`
}

// LoadManifest parses kiln.toml at path and resolves it into a Project.
func LoadManifest(path string) (*Project, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	root, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, err
	}
	p, err := ParseManifest(string(data), root)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// ParseManifest decodes manifest text for a project rooted at root.
func ParseManifest(text, root string) (*Project, error) {
	var m Manifest
	meta, err := toml.Decode(text, &m)
	if err != nil {
		return nil, fmt.Errorf("failed to parse TOML: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown key %q", undecoded[0].String())
	}
	if !meta.IsDefined("project", "name") || strings.TrimSpace(m.Project.Name) == "" {
		return nil, fmt.Errorf("missing [project].name")
	}
	return m.resolve(root)
}

func (m *Manifest) resolve(root string) (*Project, error) {
	p := &Project{
		Name:            strings.TrimSpace(m.Project.Name),
		Root:            root,
		Output:          cleanRel(m.Build.Output, DefaultOutput),
		CompilerOptions: m.Compiler.Options,
		Options: BuildOptions{
			MaxAtOnce:                 intOr(m.Build.MaxAtOnce, DefaultMaxAtOnce),
			MaxCompileLoop:            intOr(m.Build.MaxCompileLoop, DefaultMaxCompileLoop),
			RecreateModifiedArtifacts: boolOr(m.Build.RecreateModifiedArtifacts, true),
			CopyResources:             boolOr(m.Build.CopyResources, true),
			ResourceFilters:           m.Build.ResourceFilters,
		},
	}
	if p.Options.MaxAtOnce < 0 {
		return nil, fmt.Errorf("[build].max_at_once must not be negative")
	}
	if p.Options.MaxCompileLoop < 1 {
		return nil, fmt.Errorf("[build].max_compile_loop must be at least 1")
	}
	for _, f := range p.Options.ResourceFilters {
		if !doublestar.ValidatePattern(f) {
			return nil, fmt.Errorf("invalid resource filter %q", f)
		}
	}

	p.Tasks = TaskConfig{Tags: m.Compiler.TaskTags, CaseSensitive: boolOr(m.Compiler.TaskCaseSensitive, true)}
	if len(p.Tasks.Tags) == 0 {
		p.Tasks.Tags = []string{"TODO", "FIXME", "XXX"}
		p.Tasks.Priorities = []string{"normal", "high", "normal"}
	} else {
		p.Tasks.Priorities = m.Compiler.TaskPriorities
	}

	sources := m.Sources
	if len(sources) == 0 {
		sources = []sourceSection{{Dir: DefaultSourceDir}}
	}
	seen := make(map[string]bool, len(sources))
	for _, s := range sources {
		dir := cleanRel(s.Dir, ".")
		if seen[dir] {
			return nil, fmt.Errorf("duplicate source root %q", dir)
		}
		seen[dir] = true
		for _, pat := range append(append([]string(nil), s.Include...), s.Exclude...) {
			if !doublestar.ValidatePattern(pat) {
				return nil, fmt.Errorf("source root %q: invalid pattern %q", dir, pat)
			}
		}
		out := p.Output
		if s.Output != "" {
			out = cleanRel(s.Output, p.Output)
		}
		p.SourceRoots = append(p.SourceRoots, &SourceRoot{
			Dir:     dir,
			Output:  out,
			Include: s.Include,
			Exclude: s.Exclude,
		})
	}
	for _, sr := range p.SourceRoots {
		if sr.Contains(sr.Output) && sr.Dir != "." {
			return nil, fmt.Errorf("output %q is inside source root %q", sr.Output, sr.Dir)
		}
	}

	for _, d := range m.Dependency {
		if strings.TrimSpace(d.Path) == "" {
			return nil, fmt.Errorf("[[dependency]] without path")
		}
		dir := d.Path
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(p.Root, filepath.FromSlash(dir))
		}
		p.Dependencies = append(p.Dependencies, filepath.Clean(dir))
	}
	return p, nil
}

func cleanRel(s, def string) string {
	s = strings.Trim(filepath.ToSlash(strings.TrimSpace(s)), "/")
	if s == "" {
		return def
	}
	return filepath.ToSlash(filepath.Clean(s))
}

func intOr(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

// DefaultManifest is written by `kiln init`.
func DefaultManifest(name string) string {
	return fmt.Sprintf(`[project]
name = %q

[build]
output = %q

[[source]]
dir = %q
`, name, DefaultOutput, DefaultSourceDir)
}
