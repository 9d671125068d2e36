package kilnc

import (
	"fmt"

	"kiln/internal/artifact"
	"kiln/internal/frontend"
	"kiln/internal/project"
)

// emit builds the result for u. Rejected duplicates produce no output.
func (s *session) emit(u *unit) (*frontend.Result, error) {
	res := &frontend.Result{Unit: u.src}
	f := u.file

	if u.src.IsPackageInfo() {
		name := project.PackageInfoName
		if f.Package != "" {
			name = f.Package + "/" + name
		}
		cf := &artifact.ClassFile{
			Name:        name,
			Source:      u.src.Locator,
			Kind:        artifact.KindPackageInfo,
			Annotations: s.annotationNames(u, f.Annotations),
		}
		out, err := encode(cf, name)
		if err != nil {
			return nil, err
		}
		res.Outputs = append(res.Outputs, out)
	} else {
		for _, top := range f.Types {
			if u.rejected[top] {
				continue
			}
			if top.Name != u.src.MainTypeName() {
				res.CheckSecondaryTypes = true
			}
			for _, d := range top.All() {
				out, err := encode(s.classFile(u, d), top.Binary)
				if err != nil {
					return nil, err
				}
				res.Outputs = append(res.Outputs, out)
			}
		}
	}

	u.bag.Sort()
	u.bag.Dedup()
	res.Problems = u.bag.Items()
	res.Tasks = scanTasks(f, s.opts)
	res.Qualified = u.rec.ns.Qualified()
	res.Simple = u.rec.ns.Simple()
	res.Root = u.rec.ns.Root()
	res.HasAnnotations = u.annotated
	res.HasInconsistentHierarchy = u.inconsistent
	return res, nil
}

func encode(cf *artifact.ClassFile, outerMost string) (frontend.Output, error) {
	data, err := artifact.Encode(cf)
	if err != nil {
		return frontend.Output{}, fmt.Errorf("encode %s: %w", cf.Name, err)
	}
	return frontend.Output{
		TypeName:  cf.Name,
		Bytes:     data,
		Nested:    cf.Nested,
		OuterMost: outerMost,
	}, nil
}

func (s *session) annotationNames(u *unit, annos []*TypeRef) []string {
	var out []string
	for _, a := range annos {
		out = append(out, u.annos[a])
	}
	return out
}

func (s *session) classFile(u *unit, d *TypeDecl) *artifact.ClassFile {
	cf := &artifact.ClassFile{
		Name:        d.Binary,
		Source:      u.src.Locator,
		Kind:        artifact.KindClass,
		Modifiers:   d.Modifiers,
		Annotations: s.annotationNames(u, d.Annotations),
		Nested:      d.IsNested(),
		Local:       d.Local,
		Anonymous:   d.Anonymous,
	}
	if d.Interface {
		cf.Kind = artifact.KindInterface
	} else if d.super != nil {
		cf.Super = d.super.name
	} else if d.Binary != objectType {
		cf.Super = objectType
	}
	for _, it := range d.ifaces {
		cf.Interfaces = append(cf.Interfaces, it.name)
	}
	if d.Enclosing != nil {
		cf.Enclosing = d.Enclosing.Binary
	}
	for _, f := range d.Fields {
		cf.Fields = append(cf.Fields, artifact.Field{Name: f.Name, Type: s.resolveRef(u, d, f.Type), Modifiers: f.Modifiers})
	}
	hasCtor := false
	for _, m := range d.Methods {
		if m.Name == "<init>" {
			hasCtor = true
		}
		cf.Methods = append(cf.Methods, artifact.Method{
			Name:       m.Name,
			Descriptor: s.descriptor(u, d, m),
			Modifiers:  m.Modifiers,
			BodyDigest: m.BodyDigest,
		})
	}
	if !d.Interface && !hasCtor {
		cf.Methods = append(cf.Methods, artifact.Method{
			Name:       "<init>",
			Descriptor: "()void",
			Modifiers:  d.Modifiers & artifact.ModPublic,
		})
	}
	for _, m := range d.Members {
		cf.MemberTypes = append(cf.MemberTypes, m.Binary)
	}
	return cf
}
