package kilnc

import (
	"strings"

	"kiln/internal/artifact"
	"kiln/internal/diag"
)

func (s *session) check(u *unit) {
	f := u.file
	if u.src.IsPackageInfo() {
		if len(f.Types) > 0 {
			u.errorf(f.Types[0].Span, diag.SynPackageInfoHasTypes, nil, "a package declaration file cannot declare types")
		}
		s.checkPackage(u)
		return
	}
	s.checkPackage(u)

	seen := make(map[string]bool, len(f.Types))
	for _, t := range f.Types {
		switch {
		case seen[t.Name]:
			u.rejected[t] = true
			u.errorf(t.Span, diag.ResDuplicateType, []string{t.Binary}, "the type %s is already defined", t.Name)
			continue
		case u.rejected[t]:
			u.errorf(t.Span, diag.ResDuplicateType, []string{t.Binary}, "the type %s is already defined", t.Name)
			continue
		}
		seen[t.Name] = true
		if t.Modifiers.Has(artifact.ModPublic) && t.Name != u.src.MainTypeName() {
			u.errorf(t.Span, diag.ResPublicTypeFileMismatch, []string{t.Name},
				"the public type %s must be defined in its own file", t.Name)
		}
		for _, d := range t.All() {
			s.checkHierarchy(u, d)
			s.checkMembers(u, d)
		}
	}
}

func (s *session) checkPackage(u *unit) {
	f := u.file
	want := u.src.PackageName()
	if f.Package == want {
		return
	}
	sp := f.PackageSpan
	if !f.HasPackage {
		sp = diag.Span{Locator: f.Locator, Line: 1}
	}
	declared := strings.ReplaceAll(f.Package, "/", ".")
	u.errorf(sp, diag.ResPackageMismatch, []string{declared, strings.ReplaceAll(want, "/", ".")},
		"the declared package %q does not match the expected package %q", declared, strings.ReplaceAll(want, "/", "."))
}

func (s *session) checkHierarchy(u *unit, d *TypeDecl) {
	s.resolveHeader(d)
	self := s.info(d)

	if !d.Interface && d.super != nil && d.superRef != nil {
		switch {
		case d.super.isInterface():
			u.errorf(d.superRef.Span, diag.ResClassExtendsInterface, []string{d.super.name},
				"the type %s cannot be the superclass of %s; a superclass must be a class", d.superRef.Name, displayName(d))
			u.inconsistent = true
		case d.super.isFinal():
			u.errorf(d.superRef.Span, diag.ResHierarchyHasProblems, []string{d.super.name},
				"the type %s cannot subclass the final class %s", displayName(d), d.superRef.Name)
		}
	}
	for i, it := range d.ifaces {
		if it.isInterface() {
			continue
		}
		ref := d.ifaceRefs[i]
		msg := "the type %s cannot be a superinterface of %s; a superinterface must be an interface"
		u.errorf(ref.Span, diag.ResImplementsNonInterface, []string{it.name}, msg, ref.Name, displayName(d))
		u.inconsistent = true
	}

	if s.reaches(self, d.Binary) {
		u.errorf(d.Span, diag.ResCycleInHierarchy, []string{d.Binary}, "cycle detected: the type %s cannot extend or implement itself or one of its own member types", displayName(d))
		u.inconsistent = true
		d.super, d.superRef = nil, nil
		d.ifaces, d.ifaceRefs = nil, nil
		if !d.Interface {
			d.super = builtins[objectType]
		}
	}
	s.recordHierarchy(u, self)
}

// reaches reports whether target is a proper supertype of t.
func (s *session) reaches(t *typeInfo, target string) bool {
	seen := map[string]bool{}
	stack := s.supers(t)
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur.name == target {
			return true
		}
		if seen[cur.name] {
			continue
		}
		seen[cur.name] = true
		stack = append(stack, s.supers(cur)...)
	}
	return false
}

// recordHierarchy records every transitive supertype of t: a structural
// change anywhere above t can change what t inherits.
func (s *session) recordHierarchy(u *unit, t *typeInfo) {
	seen := map[string]bool{t.name: true}
	stack := s.supers(t)
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[cur.name] {
			continue
		}
		seen[cur.name] = true
		u.rec.typ(cur.name)
		stack = append(stack, s.supers(cur)...)
	}
}

func (s *session) checkMembers(u *unit, d *TypeDecl) {
	fields := map[string]bool{}
	for _, f := range d.Fields {
		if fields[f.Name] {
			u.errorf(f.Span, diag.ResDuplicateMember, []string{f.Name}, "duplicate field %s.%s", displayName(d), f.Name)
		}
		fields[f.Name] = true
	}
	methods := map[string]bool{}
	for _, m := range d.Methods {
		key := m.Name + s.descriptor(u, d, m)
		if methods[key] {
			u.errorf(m.Span, diag.ResDuplicateMember, []string{m.Name}, "duplicate method %s in type %s", methodName(d, m), displayName(d))
		}
		methods[key] = true
	}
	members := map[string]bool{}
	for _, m := range d.Members {
		if members[m.Name] {
			u.errorf(m.Span, diag.ResDuplicateMember, []string{m.Name}, "the nested type %s is already defined", m.Name)
		}
		members[m.Name] = true
	}
}

func (s *session) descriptor(u *unit, d *TypeDecl, m *MethodDecl) string {
	params := make([]string, len(m.Params))
	for i, p := range m.Params {
		params[i] = s.resolveRef(u, d, p)
	}
	ret := "void"
	if m.Result != nil {
		ret = s.resolveRef(u, d, m.Result)
	}
	return "(" + strings.Join(params, ";") + ")" + ret
}

func displayName(d *TypeDecl) string {
	if d.Anonymous {
		return "new " + d.AnonBase.Name + "(){}"
	}
	return d.Name
}

func methodName(d *TypeDecl, m *MethodDecl) string {
	if m.Name == "<init>" {
		return d.Name + "()"
	}
	return m.Name + "()"
}
