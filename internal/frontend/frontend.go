// Package frontend is the contract between the build driver and a
// compiler front-end: what the driver hands over for one compile call,
// what the front-end reports back per unit, and how the front-end asks
// the driver for types it does not have in hand.
package frontend

import (
	"context"
	"path"
	"strings"

	"kiln/internal/artifact"
	"kiln/internal/diag"
	"kiln/internal/project"
)

// SourceUnit is one source file scheduled for compilation. Units are
// immutable and identified by Locator, which already includes the
// source root directory.
type SourceUnit struct {
	Locator         string // project-relative: "src/a/b/X.kl"
	Root            *project.SourceRoot
	InitialTypeName string // "a/b/X"
	// UpdateArtifact forces artifacts to be rewritten even when their
	// bytes are unchanged, so a touched source never looks newer than
	// its output.
	UpdateArtifact bool
}

// NewSourceUnit derives the initial type name from the locator.
func NewSourceUnit(root *project.SourceRoot, locator string, updateArtifact bool) *SourceUnit {
	return &SourceUnit{
		Locator:         locator,
		Root:            root,
		InitialTypeName: project.TypeNameFor(root.Rel(locator)),
		UpdateArtifact:  updateArtifact,
	}
}

// MainTypeName is the simple name the file name promises: "X".
func (u *SourceUnit) MainTypeName() string {
	return path.Base(u.InitialTypeName)
}

// PackageName is the package the location implies: "a/b".
func (u *SourceUnit) PackageName() string {
	if i := strings.LastIndexByte(u.InitialTypeName, '/'); i >= 0 {
		return u.InitialTypeName[:i]
	}
	return ""
}

// OutputDir is where the unit's artifacts are written.
func (u *SourceUnit) OutputDir() string { return u.Root.Output }

// IsPackageInfo reports whether the unit is a package declaration file.
func (u *SourceUnit) IsPackageInfo() bool { return project.IsPackageInfo(u.Locator) }

func (u *SourceUnit) String() string { return u.Locator }

// Answer is what a NameEnvironment returns for a type lookup. At most one
// of Source and Binary is set; neither means not found.
type Answer struct {
	Source *SourceUnit
	Binary *artifact.ClassFile
}

func (a Answer) Found() bool { return a.Source != nil || a.Binary != nil }

// NameEnvironment answers type lookups that the front-end cannot satisfy
// from the units it was given. Errors returned from FindType abort the
// compile call and are returned by Compile unchanged in their chain.
type NameEnvironment interface {
	FindType(ctx context.Context, typeName string) (Answer, error)
	IsPackage(ctx context.Context, pkg string) bool
	ReadSource(u *SourceUnit) ([]byte, error)
}

// Output is one artifact produced for a compiled type.
type Output struct {
	TypeName  string // "a/b/X", "a/b/X$In"
	Bytes     []byte
	Nested    bool   // member, local or anonymous type
	OuterMost string // top-level type enclosing TypeName
}

// Result is everything the front-end reports for one unit.
type Result struct {
	Unit    *SourceUnit
	Outputs []Output

	// names the unit's compiled output depends on
	Qualified []string
	Simple    []string
	Root      []string

	Problems []diag.Diagnostic
	Tasks    []diag.Diagnostic

	HasAnnotations bool
	// CheckSecondaryTypes is set when the unit defines top-level types
	// other than its main type.
	CheckSecondaryTypes bool
	// HasInconsistentHierarchy is set when a supertype could not be
	// resolved or is unusable.
	HasInconsistentHierarchy bool
}

// HasErrors reports whether any problem is an error.
func (r *Result) HasErrors() bool {
	for _, p := range r.Problems {
		if p.Severity >= diag.SevError {
			return true
		}
	}
	return false
}

// HasProblem reports whether a problem with code was reported.
func (r *Result) HasProblem(code diag.Code) bool {
	for _, p := range r.Problems {
		if p.Code == code {
			return true
		}
	}
	return false
}

// Request is one compile call.
type Request struct {
	Units []*SourceUnit
	// AdditionalUnits are pending units the front-end may pull in when it
	// needs their types. Units pulled in are compiled and reported too.
	AdditionalUnits []*SourceUnit
	Env             NameEnvironment
	// StatementRecovery asks for full error recovery; it is set for the
	// first chunk of a pass, which reports the problems users see first.
	StatementRecovery bool
	// Accept receives results in completion order. A non-nil error stops
	// the compile call and is returned from Compile.
	Accept func(*Result) error
}

// Compiler compiles source units.
type Compiler interface {
	Compile(ctx context.Context, req *Request) error
}

// CompilerFunc adapts a function to Compiler.
type CompilerFunc func(ctx context.Context, req *Request) error

func (f CompilerFunc) Compile(ctx context.Context, req *Request) error { return f(ctx, req) }
