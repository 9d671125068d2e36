package artifact

import (
	"slices"
	"strings"
)

// HasStructuralChanges reports whether replacing old with next can change
// how other units compile against the type. Method bodies and private
// members are not part of the shape. Member ordering is ignored.
func HasStructuralChanges(old, next *ClassFile) bool {
	if old == nil || next == nil {
		return true
	}
	if old.Name != next.Name || old.Kind != next.Kind || old.Modifiers != next.Modifiers {
		return true
	}
	if old.Super != next.Super || old.Enclosing != next.Enclosing {
		return true
	}
	if old.Nested != next.Nested || old.Local != next.Local || old.Anonymous != next.Anonymous {
		return true
	}
	if !sameSet(old.Interfaces, next.Interfaces) ||
		!sameSet(old.Annotations, next.Annotations) ||
		!sameSet(old.MemberTypes, next.MemberTypes) {
		return true
	}
	if !sameSet(fieldShapes(old.Fields), fieldShapes(next.Fields)) {
		return true
	}
	return !sameSet(methodShapes(old.Methods), methodShapes(next.Methods))
}

func fieldShapes(fields []Field) []string {
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f.Modifiers.Has(ModPrivate) {
			continue
		}
		out = append(out, f.Name+" "+f.Type+" "+f.Modifiers.String())
	}
	return out
}

func methodShapes(methods []Method) []string {
	out := make([]string, 0, len(methods))
	for _, m := range methods {
		if m.Modifiers.Has(ModPrivate) {
			continue
		}
		out = append(out, m.Name+m.Descriptor+" "+m.Modifiers.String())
	}
	return out
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as, bs := slices.Clone(a), slices.Clone(b)
	slices.Sort(as)
	slices.Sort(bs)
	return slices.Equal(as, bs)
}

// Describe renders a one-line summary of the type header for traces.
func Describe(c *ClassFile) string {
	var sb strings.Builder
	if mods := c.Modifiers.String(); mods != "" {
		sb.WriteString(mods)
		sb.WriteByte(' ')
	}
	sb.WriteString(c.Kind.String())
	sb.WriteByte(' ')
	sb.WriteString(c.Name)
	if c.Super != "" {
		sb.WriteString(" extends ")
		sb.WriteString(c.Super)
	}
	if len(c.Interfaces) > 0 {
		sb.WriteString(" implements ")
		sb.WriteString(strings.Join(c.Interfaces, ", "))
	}
	return sb.String()
}
