package testkit

import (
	"fmt"

	"fortio.org/safecast"

	"kiln/internal/diag"
	"kiln/internal/frontend/kilnc"
)

// CheckSpanInvariants runs a minimal set of span invariants on a parsed unit:
// 1) every span is non-empty, carries the unit's locator and a line, and
// lies within the content
// 2) top-level types appear in source order
// 3) member and local types start after the name of their enclosing type
func CheckSpanInvariants(f *kilnc.File, content []byte) error {
	if f == nil {
		return fmt.Errorf("nil file")
	}
	size, err := safecast.Conv[uint32](len(content))
	if err != nil {
		return fmt.Errorf("len content overflow: %w", err)
	}
	check := func(what string, sp diag.Span) error {
		switch {
		case sp.End <= sp.Start:
			return fmt.Errorf("%s: empty span %d..%d", what, sp.Start, sp.End)
		case sp.End > size:
			return fmt.Errorf("%s: span end beyond content: %d > %d", what, sp.End, size)
		case sp.Locator != f.Locator:
			return fmt.Errorf("%s: span locator %q, want %q", what, sp.Locator, f.Locator)
		case sp.Line == 0:
			return fmt.Errorf("%s: span without a line", what)
		}
		return nil
	}

	if f.HasPackage {
		if err := check("package", f.PackageSpan); err != nil {
			return err
		}
	}
	for _, imp := range f.Imports {
		if err := check("import "+imp.Path, imp.Span); err != nil {
			return err
		}
	}
	var prev uint32
	for i, top := range f.Types {
		if i > 0 && top.Span.Start <= prev {
			return fmt.Errorf("type %s starts at %d, before the previous type at %d", top.Binary, top.Span.Start, prev)
		}
		prev = top.Span.Start
		for _, d := range top.All() {
			if err := checkDecl(d, check); err != nil {
				return err
			}
		}
	}
	return nil
}

func checkDecl(d *kilnc.TypeDecl, check func(string, diag.Span) error) error {
	// anonymous types are named after the instantiated type
	if err := check("type "+d.Binary, d.Span); err != nil {
		return err
	}
	if d.Enclosing != nil && d.Span.Start <= d.Enclosing.Span.Start {
		return fmt.Errorf("type %s starts at %d, before its enclosing %s at %d", d.Binary, d.Span.Start, d.Enclosing.Binary, d.Enclosing.Span.Start)
	}
	for _, fd := range d.Fields {
		if err := check("field "+d.Binary+"."+fd.Name, fd.Span); err != nil {
			return err
		}
	}
	for _, md := range d.Methods {
		if err := check("method "+d.Binary+"."+md.Name, md.Span); err != nil {
			return err
		}
	}
	for _, r := range d.BodyRefs {
		if err := check("reference "+r.Name, r.Span); err != nil {
			return err
		}
	}
	return nil
}
