// Package project models a kiln project: its manifest, source roots,
// output folders and prerequisite projects.
package project

import (
	"crypto/sha256"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// SourceExt is the kiln source file extension.
const SourceExt = ".kl"

// PackageInfoName is the simple name of a package declaration file.
const PackageInfoName = "package-info"

// Project is a resolved manifest.
type Project struct {
	Name            string
	Root            string // absolute directory
	Output          string // project-relative default output
	SourceRoots     []*SourceRoot
	Options         BuildOptions
	CompilerOptions map[string]string
	Tasks           TaskConfig
	Dependencies    []string // absolute roots of prerequisite projects
}

// BuildOptions tune the compile driver.
type BuildOptions struct {
	MaxAtOnce                 int // units per front-end call, 0 = unbounded
	MaxCompileLoop            int
	RecreateModifiedArtifacts bool
	CopyResources             bool
	ResourceFilters           []string
}

type TaskConfig struct {
	Tags          []string
	Priorities    []string
	CaseSensitive bool
}

// SourceRoot is one source folder and the output folder its artifacts go to.
type SourceRoot struct {
	Dir     string // project-relative
	Output  string // project-relative
	Include []string
	Exclude []string
}

// Contains reports whether the project-relative p is below the root.
func (r *SourceRoot) Contains(p string) bool {
	if r.Dir == "." {
		return true
	}
	return p == r.Dir || strings.HasPrefix(p, r.Dir+"/")
}

// Rel returns p relative to the root.
func (r *SourceRoot) Rel(p string) string {
	if r.Dir == "." {
		return p
	}
	return strings.TrimPrefix(strings.TrimPrefix(p, r.Dir), "/")
}

// Includes applies the include and exclude patterns to a path relative
// to the root. An empty include list includes everything.
func (r *SourceRoot) Includes(rel string) bool {
	if len(r.Include) > 0 && !matchAny(r.Include, rel) {
		return false
	}
	return !matchAny(r.Exclude, rel)
}

// FolderExcluded reports whether a folder relative to the root and
// everything below it can be skipped. Folders are never skipped while
// include patterns exist, since a pattern may reach into them.
func (r *SourceRoot) FolderExcluded(rel string) bool {
	if len(r.Include) > 0 || rel == "" || rel == "." {
		return false
	}
	return matchAny(r.Exclude, rel) || matchAny(r.Exclude, rel+"/")
}

func matchAny(patterns []string, rel string) bool {
	for _, p := range patterns {
		if ok, err := doublestar.Match(p, rel); err == nil && ok {
			return true
		}
	}
	return false
}

// IsSource reports whether name has the kiln source extension.
func IsSource(name string) bool {
	return strings.HasSuffix(name, SourceExt)
}

// TypeNameFor returns the initial type name of a source file relative
// to its root: "a/b/X.kl" -> "a/b/X".
func TypeNameFor(rel string) string {
	return strings.TrimSuffix(rel, SourceExt)
}

// IsPackageInfo reports whether a source path is a package declaration file.
func IsPackageInfo(rel string) bool {
	return path.Base(rel) == PackageInfoName+SourceExt
}

// IsFilteredResource reports whether a non-source file in a source root
// must not be copied to the output.
func (p *Project) IsFilteredResource(rel string) bool {
	base := path.Base(rel)
	for _, f := range p.Options.ResourceFilters {
		if ok, err := doublestar.Match(f, base); err == nil && ok {
			return true
		}
		if ok, err := doublestar.Match(f, rel); err == nil && ok {
			return true
		}
	}
	return false
}

// Outputs returns the distinct output folders in declaration order.
func (p *Project) Outputs() []string {
	var out []string
	for _, r := range p.SourceRoots {
		if !slices.Contains(out, r.Output) {
			out = append(out, r.Output)
		}
	}
	if len(out) == 0 {
		out = append(out, p.Output)
	}
	return out
}

// ID identifies the project's persisted state.
func (p *Project) ID() Digest {
	return DigestStrings(filepath.ToSlash(p.Root), p.Name)
}

// StatePath returns the directory holding persisted build data.
func (p *Project) StatePath() string {
	return filepath.Join(p.Root, StateDir)
}

// ConfigFingerprint covers everything that, when changed, invalidates
// incremental reasoning about the classpath: roots, outputs, patterns,
// prerequisites.
func (p *Project) ConfigFingerprint() Digest {
	parts := []string{"v1", p.Output}
	for _, r := range p.SourceRoots {
		parts = append(parts, "src", r.Dir, r.Output, strings.Join(r.Include, ","), strings.Join(r.Exclude, ","))
	}
	for _, d := range p.Dependencies {
		parts = append(parts, "dep", filepath.ToSlash(d))
	}
	return DigestStrings(parts...)
}

// CompilerFingerprint covers front-end options and task tags. A change
// forces a full build.
func (p *Project) CompilerFingerprint() Digest {
	tasks := DigestStrings(append(append([]string{boolString(p.Tasks.CaseSensitive)}, p.Tasks.Tags...), p.Tasks.Priorities...)...)
	return Combine(DigestMap(p.CompilerOptions), tasks, sha256.Sum256([]byte(compilerID)))
}

// compilerID changes whenever the embedded front-end emits different
// artifacts for the same input.
const compilerID = "kilnc/3"

func boolString(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
