package kilnc

import (
	"strings"

	"kiln/internal/artifact"
	"kiln/internal/diag"
)

// File is a parsed source unit.
type File struct {
	Locator     string
	Package     string // slash form, "" for the default package
	PackageSpan diag.Span
	HasPackage  bool
	Annotations []*TypeRef // package annotations, package-info only
	Imports     []*Import
	Types       []*TypeDecl
	Comments    []Comment
}

type Import struct {
	Path     string // slash form: "a/b/C" or "a/b" for on-demand
	OnDemand bool
	Span     diag.Span
}

// TypeRef is a type as written. Name keeps the source dots.
type TypeRef struct {
	Name      string
	Dims      int
	Primitive bool
	Span      diag.Span
}

// Segments splits a dotted name.
func (r *TypeRef) Segments() []string { return strings.Split(r.Name, ".") }

type TypeDecl struct {
	Name        string
	Binary      string // "a/b/A", "a/b/A$In", "a/b/A$1L", "a/b/A$1"
	Span        diag.Span
	Modifiers   artifact.Modifiers
	Interface   bool
	Annotations []*TypeRef
	Extends     []*TypeRef
	Implements  []*TypeRef
	Fields      []*FieldDecl
	Methods     []*MethodDecl
	Members     []*TypeDecl
	// Locals are local and anonymous types declared in bodies and
	// initializers of this type.
	Locals    []*TypeDecl
	Enclosing *TypeDecl
	Local     bool
	Anonymous bool
	File      *File

	// set for anonymous types: the instantiated type
	AnonBase *TypeRef
	// BodyRefs are type names used inside bodies and initializers.
	BodyRefs []BodyRef

	// naming counters, top-level types only
	anonSeq  int
	localSeq map[string]int

	resolved  bool
	super     *typeInfo
	superRef  *TypeRef
	ifaces    []*typeInfo
	ifaceRefs []*TypeRef
}

// Top returns the outermost enclosing type.
func (d *TypeDecl) Top() *TypeDecl {
	for d.Enclosing != nil {
		d = d.Enclosing
	}
	return d
}

// All returns d and every type declared inside it, depth first.
func (d *TypeDecl) All() []*TypeDecl {
	out := []*TypeDecl{d}
	for _, m := range d.Members {
		out = append(out, m.All()...)
	}
	for _, l := range d.Locals {
		out = append(out, l.All()...)
	}
	return out
}

func (d *TypeDecl) IsNested() bool { return d.Enclosing != nil }

type FieldDecl struct {
	Name      string
	Type      *TypeRef
	Modifiers artifact.Modifiers
	Span      diag.Span
}

type MethodDecl struct {
	Name        string // "<init>" for constructors
	Params      []*TypeRef
	Result      *TypeRef // nil for constructors
	Modifiers   artifact.Modifiers
	Annotations []*TypeRef
	Span        diag.Span
	HasBody     bool
	BodyDigest  string
}

// BodyRef is a type name seen in code. Strict refs (after new, or as
// the type of a declaration) must resolve; the rest are recorded only.
type BodyRef struct {
	Name   string
	Span   diag.Span
	Strict bool
	Scope  *TypeDecl
}
