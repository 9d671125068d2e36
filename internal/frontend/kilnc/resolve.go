package kilnc

import (
	"context"
	"fmt"
	"path"
	"strings"

	"golang.org/x/text/unicode/norm"

	"kiln/internal/diag"
	"kiln/internal/frontend"
	"kiln/internal/refs"
)

// unit is one source unit being compiled in a session.
type unit struct {
	src  *frontend.SourceUnit
	file *File
	rec  recorder
	bag  *diag.Bag

	// resolved descriptors of field, parameter and result types
	sig      map[*TypeRef]string
	annos    map[*TypeRef]string
	imports  map[*Import]*typeInfo
	rejected map[*TypeDecl]bool

	inconsistent bool
	annotated    bool
	importsDone  bool
}

func (u *unit) reporter() diag.Reporter { return diag.BagReporter{Bag: u.bag} }

func (u *unit) errorf(sp diag.Span, code diag.Code, args []string, format string, a ...any) {
	diag.ReportError(u.reporter(), code, sp, fmt.Sprintf(format, a...), args...)
}

// recorder turns resolved and attempted lookups into reference names.
type recorder struct{ ns *refs.NameSet }

// pkg records p, its prefixes as qualified names and its segments as
// simple names. The default package is the empty qualified name.
func (r recorder) pkg(p string) {
	if p == "" {
		r.ns.AddQualified("")
		return
	}
	for _, pre := range refs.PackagePrefixes(p) {
		r.ns.AddQualified(pre)
	}
	for _, seg := range strings.Split(p, "/") {
		r.ns.AddSimple(seg)
	}
	r.ns.AddRoot(refs.RootOf(p))
}

// typ records a type name "a/b/C$In".
func (r recorder) typ(name string) {
	pkg, simple := refs.SplitTypeName(name)
	r.pkg(pkg)
	if pkg == "" {
		r.ns.AddRoot(refs.OuterSimpleName(simple))
	}
	for _, seg := range strings.Split(simple, "$") {
		if seg != "" {
			r.ns.AddSimple(seg)
		}
	}
}

// session is one Compile call.
type session struct {
	ctx  context.Context
	opts Options
	req  *frontend.Request

	units     []*unit
	byLocator map[string]*unit
	byFile    map[*File]*unit
	types     map[string]*typeInfo // declared in loaded units, by binary name
	infos     map[*TypeDecl]*typeInfo
	binaries  map[string]*typeInfo // environment answers, nil when not found
	packages  map[string]bool
	err       error
}

func newSession(ctx context.Context, opts Options, req *frontend.Request) *session {
	return &session{
		ctx:       ctx,
		opts:      opts,
		req:       req,
		byLocator: make(map[string]*unit),
		byFile:    make(map[*File]*unit),
		types:     make(map[string]*typeInfo),
		infos:     make(map[*TypeDecl]*typeInfo),
		binaries:  make(map[string]*typeInfo),
		packages:  make(map[string]bool),
	}
}

// fail records the first error; lookups answer not-found afterwards.
func (s *session) fail(err error) {
	if s.err == nil {
		s.err = err
	}
}

// load reads, parses and registers a unit. Loading the same locator
// twice returns the first unit.
func (s *session) load(src *frontend.SourceUnit) *unit {
	if u, ok := s.byLocator[src.Locator]; ok {
		return u
	}
	data, err := s.req.Env.ReadSource(src)
	if err != nil {
		s.fail(fmt.Errorf("read %s: %w", src.Locator, err))
		return nil
	}
	u := &unit{
		src:      src,
		rec:      recorder{ns: refs.NewNameSet()},
		bag:      diag.NewBag(0),
		sig:      make(map[*TypeRef]string),
		annos:    make(map[*TypeRef]string),
		imports:  make(map[*Import]*typeInfo),
		rejected: make(map[*TypeDecl]bool),
	}
	u.file = Parse(norm.NFC.Bytes(data), src.Locator, u.reporter())
	s.units = append(s.units, u)
	s.byLocator[src.Locator] = u
	s.byFile[u.file] = u

	u.rec.pkg(u.file.Package)
	for _, prefix := range refs.PackagePrefixes(u.file.Package) {
		s.packages[prefix] = true
	}
	for _, d := range u.file.Types {
		u.rec.ns.AddSimple(d.Name)
		if prev, dup := s.types[d.Binary]; dup && prev.decl != d {
			u.rejected[d] = true
			continue
		}
		s.register(d)
	}
	return u
}

func (s *session) register(d *TypeDecl) {
	s.types[d.Binary] = s.info(d)
	for _, m := range d.Members {
		s.register(m)
	}
}

func (s *session) info(d *TypeDecl) *typeInfo {
	if ti, ok := s.infos[d]; ok {
		return ti
	}
	ti := &typeInfo{name: d.Binary, decl: d}
	s.infos[d] = ti
	return ti
}

// findType looks a binary type name up in the loaded units, the runtime
// library and finally the environment. A source answer loads the unit.
func (s *session) findType(name string) *typeInfo {
	if ti, ok := s.types[name]; ok {
		return ti
	}
	if ti, ok := builtins[name]; ok {
		return ti
	}
	if ti, ok := s.binaries[name]; ok {
		return ti
	}
	if s.err != nil {
		return nil
	}
	ans, err := s.req.Env.FindType(s.ctx, name)
	if err != nil {
		s.fail(err)
		return nil
	}
	var found *typeInfo
	switch {
	case ans.Source != nil:
		s.load(ans.Source)
		found = s.types[name]
	case ans.Binary != nil:
		found = &typeInfo{name: name, bin: ans.Binary}
	}
	s.binaries[name] = found
	return found
}

func (s *session) isPackage(pkg string) bool {
	if pkg == "" || builtinPackages[pkg] || s.packages[pkg] {
		return true
	}
	if s.err != nil {
		return false
	}
	ok := s.req.Env.IsPackage(s.ctx, pkg)
	if ok {
		s.packages[pkg] = true
	}
	return ok
}

// supers returns the direct supertypes of t.
func (s *session) supers(t *typeInfo) []*typeInfo {
	var out []*typeInfo
	if t.decl != nil {
		s.resolveHeader(t.decl)
		if t.decl.super != nil {
			out = append(out, t.decl.super)
		}
		return append(out, t.decl.ifaces...)
	}
	if t.bin.Super != "" {
		if sup := s.findType(t.bin.Super); sup != nil {
			out = append(out, sup)
		}
	}
	for _, i := range t.bin.Interfaces {
		if it := s.findType(i); it != nil {
			out = append(out, it)
		}
	}
	return out
}

// member finds a member type of t by simple name, including inherited
// ones.
func (s *session) member(t *typeInfo, simple string, seen map[string]bool) *typeInfo {
	if t == nil || seen[t.name] {
		return nil
	}
	seen[t.name] = true
	want := t.name + "$" + simple
	if t.decl != nil {
		for _, m := range t.decl.Members {
			if m.Name == simple {
				return s.info(m)
			}
		}
	} else {
		for _, m := range t.bin.MemberTypes {
			if m == want {
				return s.findType(want)
			}
		}
	}
	for _, sup := range s.supers(t) {
		if m := s.member(sup, simple, seen); m != nil {
			return m
		}
	}
	return nil
}

// lookupIn records and resolves pkg/name.
func (s *session) lookupIn(u *unit, pkg, name string) *typeInfo {
	full := name
	if pkg != "" {
		full = pkg + "/" + name
	}
	u.rec.typ(full)
	if !s.isPackage(pkg) {
		return nil
	}
	return s.findType(full)
}

// resolveSimple resolves a simple type name from scope: enclosing types
// and their members, the unit's own types, single-type imports, the
// unit's package, on-demand imports, then kiln/lang.
func (s *session) resolveSimple(u *unit, scope *TypeDecl, name string) *typeInfo {
	for d := scope; d != nil; d = d.Enclosing {
		if d.Name == name {
			return s.info(d)
		}
		if m := s.member(s.info(d), name, map[string]bool{}); m != nil {
			u.rec.typ(m.name)
			return m
		}
		for _, l := range d.Locals {
			if l.Local && l.Name == name {
				return s.info(l)
			}
		}
	}
	for _, t := range u.file.Types {
		if t.Name == name {
			return s.info(t)
		}
	}
	for _, imp := range u.file.Imports {
		if !imp.OnDemand && path.Base(imp.Path) == name {
			return s.resolveImport(u, imp)
		}
	}
	if t := s.lookupIn(u, u.file.Package, name); t != nil {
		return t
	}
	for _, imp := range u.file.Imports {
		if !imp.OnDemand {
			continue
		}
		if t := s.lookupIn(u, imp.Path, name); t != nil {
			return t
		}
		if owner := s.resolveImport(u, imp); owner != nil {
			if m := s.member(owner, name, map[string]bool{}); m != nil {
				u.rec.typ(m.name)
				return m
			}
		}
	}
	return s.lookupIn(u, "kiln/lang", name)
}

// resolvePath resolves a slash-separated name as package segments
// followed by a type and member types: "a/b/C/In".
func (s *session) resolvePath(u *unit, segs []string) *typeInfo {
	for k := 1; k < len(segs); k++ {
		pkg := strings.Join(segs[:k], "/")
		if t := s.lookupIn(u, pkg, segs[k]); t != nil {
			return s.members(u, t, segs[k+1:])
		}
	}
	if len(segs) == 1 {
		return s.lookupIn(u, "", segs[0])
	}
	return nil
}

func (s *session) members(u *unit, t *typeInfo, segs []string) *typeInfo {
	for _, seg := range segs {
		u.rec.typ(t.name + "$" + seg)
		m := s.member(t, seg, map[string]bool{})
		if m == nil {
			return nil
		}
		t = m
	}
	return t
}

// resolveDotted resolves a type name as written: "C", "Outer.In",
// "a.b.C" or "a.b.C.In".
func (s *session) resolveDotted(u *unit, scope *TypeDecl, dotted string) *typeInfo {
	segs := strings.Split(dotted, ".")
	if isTypeLike(segs[0]) || len(segs) == 1 {
		t := s.resolveSimple(u, scope, segs[0])
		if t == nil {
			return nil
		}
		return s.members(u, t, segs[1:])
	}
	return s.resolvePath(u, segs)
}

func (s *session) resolveImport(u *unit, imp *Import) *typeInfo {
	if t, ok := u.imports[imp]; ok {
		return t
	}
	t := s.resolvePath(u, strings.Split(imp.Path, "/"))
	u.imports[imp] = t
	return t
}

func (s *session) resolveImports(u *unit) {
	if u.importsDone {
		return
	}
	u.importsDone = true
	for _, imp := range u.file.Imports {
		name := strings.ReplaceAll(imp.Path, "/", ".")
		if imp.OnDemand {
			u.rec.pkg(imp.Path)
			if !s.isPackage(imp.Path) && s.resolveImport(u, imp) == nil {
				u.errorf(imp.Span, diag.ResImportNotFound, []string{name}, "the import %s.* cannot be resolved", name)
			}
			continue
		}
		if s.resolveImport(u, imp) == nil {
			u.errorf(imp.Span, diag.ResImportNotFound, []string{name}, "the import %s cannot be resolved", name)
		}
	}
}

func (s *session) undefined(u *unit, ref *TypeRef) {
	u.errorf(ref.Span, diag.ResUndefinedType, []string{ref.Name}, "%s cannot be resolved to a type", ref.Name)
}

// resolveHeader resolves the supertypes of d. Header resolution happens
// once per declaration; a re-entrant call sees a partial header, which
// only matters for cyclic hierarchies.
func (s *session) resolveHeader(d *TypeDecl) {
	if d.resolved {
		return
	}
	d.resolved = true
	u := s.byFile[d.File]
	scope := d.Enclosing

	if d.Anonymous {
		base := s.resolveDotted(u, scope, d.AnonBase.Name)
		switch {
		case base == nil:
			s.undefined(u, d.AnonBase)
		case base.isInterface():
			d.super = builtins[objectType]
			d.ifaces, d.ifaceRefs = []*typeInfo{base}, []*TypeRef{d.AnonBase}
		default:
			d.super, d.superRef = base, d.AnonBase
		}
		return
	}

	resolveList := func(list []*TypeRef) {
		for _, ref := range list {
			t := s.resolveDotted(u, scope, ref.Name)
			if t == nil {
				s.undefined(u, ref)
				u.inconsistent = true
				continue
			}
			d.ifaces = append(d.ifaces, t)
			d.ifaceRefs = append(d.ifaceRefs, ref)
		}
	}
	if d.Interface {
		resolveList(d.Extends)
		return
	}
	if len(d.Extends) > 0 {
		ref := d.Extends[0]
		if t := s.resolveDotted(u, scope, ref.Name); t != nil {
			d.super, d.superRef = t, ref
		} else {
			s.undefined(u, ref)
			u.inconsistent = true
		}
	} else if d.Binary != objectType {
		d.super = builtins[objectType]
	}
	resolveList(d.Implements)
}

// resolveRef resolves a member signature type to its descriptor form.
func (s *session) resolveRef(u *unit, scope *TypeDecl, ref *TypeRef) string {
	if d, ok := u.sig[ref]; ok {
		return d
	}
	var name string
	switch {
	case ref.Primitive:
		name = ref.Name
	default:
		if t := s.resolveDotted(u, scope, ref.Name); t != nil {
			name = t.name
		} else {
			s.undefined(u, ref)
			name = "?" + strings.ReplaceAll(ref.Name, ".", "/")
		}
	}
	desc := strings.Repeat("[", ref.Dims) + name
	u.sig[ref] = desc
	return desc
}

func (s *session) resolveAnnotations(u *unit, scope *TypeDecl, annos []*TypeRef) {
	for _, a := range annos {
		u.annotated = true
		if _, ok := u.annos[a]; ok {
			continue
		}
		t := s.resolveDotted(u, scope, a.Name)
		if t == nil {
			s.undefined(u, a)
			u.annos[a] = "?" + strings.ReplaceAll(a.Name, ".", "/")
			continue
		}
		u.annos[a] = t.name
	}
}

// resolveBodies resolves member signatures, annotations and the type
// names used in code of every declaration in u.
func (s *session) resolveBodies(u *unit) {
	s.resolveAnnotations(u, nil, u.file.Annotations)
	for _, top := range u.file.Types {
		if u.rejected[top] {
			continue
		}
		for _, d := range top.All() {
			s.resolveHeader(d)
			s.resolveAnnotations(u, d.Enclosing, d.Annotations)
			for _, f := range d.Fields {
				s.resolveRef(u, d, f.Type)
			}
			for _, m := range d.Methods {
				s.resolveAnnotations(u, d, m.Annotations)
				for _, p := range m.Params {
					s.resolveRef(u, d, p)
				}
				if m.Result != nil {
					s.resolveRef(u, d, m.Result)
				}
			}
			for _, ref := range d.BodyRefs {
				s.resolveBodyRef(u, ref)
			}
		}
	}
}

func (s *session) resolveBodyRef(u *unit, ref BodyRef) {
	segs := strings.Split(ref.Name, ".")
	if ref.Strict {
		if s.resolveDotted(u, ref.Scope, ref.Name) == nil {
			msg := fmt.Sprintf("%s cannot be resolved to a type", ref.Name)
			d := diag.New(s.opts.BodyTypeSeverity, diag.ResUndefinedType, ref.Span, msg).WithArguments(ref.Name)
			u.bag.Add(d)
		}
		return
	}
	if isTypeLike(segs[0]) {
		if t := s.resolveSimple(u, ref.Scope, segs[0]); t != nil {
			s.members(u, t, segs[1:])
		}
		return
	}
	for i, seg := range segs {
		if isTypeLike(seg) {
			s.resolvePath(u, segs[:i+1])
			return
		}
	}
}
