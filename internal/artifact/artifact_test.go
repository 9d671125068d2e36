package artifact

import (
	"errors"
	"testing"
)

func sample() *ClassFile {
	return &ClassFile{
		Name:       "a/A",
		Source:     "src/a/A.kl",
		Kind:       KindClass,
		Modifiers:  ModPublic,
		Super:      "a/B",
		Interfaces: []string{"a/I", "a/J"},
		Fields: []Field{
			{Name: "f", Type: "a/T", Modifiers: ModPublic},
			{Name: "secret", Type: "int", Modifiers: ModPrivate},
		},
		Methods: []Method{
			{Name: "m", Descriptor: "(a/P)a/R", Modifiers: ModPublic, BodyDigest: "aa"},
		},
	}
}

func TestEncodeDecode(t *testing.T) {
	data, err := Encode(sample())
	if err != nil {
		t.Fatal(err)
	}
	got, err := Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "a/A" || got.Super != "a/B" || len(got.Fields) != 2 {
		t.Fatalf("decoded = %+v", got)
	}
	if _, err := Decode([]byte("not an artifact")); !errors.Is(err, ErrFormat) {
		t.Fatalf("expected ErrFormat, got %v", err)
	}
}

func TestBodyAndPrivateChangesAreNotStructural(t *testing.T) {
	old := sample()
	next := sample()
	next.Methods[0].BodyDigest = "bb"
	next.Fields[1].Type = "boolean"
	next.Interfaces = []string{"a/J", "a/I"}
	if HasStructuralChanges(old, next) {
		t.Fatal("body, private and ordering changes must not be structural")
	}
}

func TestShapeChangesAreStructural(t *testing.T) {
	cases := map[string]func(c *ClassFile){
		"super":     func(c *ClassFile) { c.Super = "a/C" },
		"kind":      func(c *ClassFile) { c.Kind = KindInterface },
		"field":     func(c *ClassFile) { c.Fields[0].Type = "a/U" },
		"method":    func(c *ClassFile) { c.Methods[0].Descriptor = "()a/R" },
		"modifiers": func(c *ClassFile) { c.Modifiers |= ModFinal },
		"member":    func(c *ClassFile) { c.MemberTypes = []string{"a/A$In"} },
		"anno":      func(c *ClassFile) { c.Annotations = []string{"Deprecated"} },
		"visibility": func(c *ClassFile) {
			c.Fields[1].Modifiers = ModPublic
		},
	}
	for name, mutate := range cases {
		next := sample()
		mutate(next)
		if !HasStructuralChanges(sample(), next) {
			t.Fatalf("%s change not detected", name)
		}
	}
}

func TestPaths(t *testing.T) {
	p := PathFor("bin", "a/b/C$D")
	if p != "bin/a/b/C$D.klass" {
		t.Fatalf("PathFor = %q", p)
	}
	if n, ok := TypeNameFor("bin", p); !ok || n != "a/b/C$D" {
		t.Fatalf("TypeNameFor = %q %v", n, ok)
	}
	if _, ok := TypeNameFor("bin", "other/a.klass"); ok {
		t.Fatal("path outside output dir accepted")
	}
}

func TestDescribe(t *testing.T) {
	if got := Describe(sample()); got != "public class a/A extends a/B implements a/I, a/J" {
		t.Fatalf("describe = %q", got)
	}
	if got := Describe(&ClassFile{Name: "a/I", Kind: KindInterface}); got != "interface a/I" {
		t.Fatalf("describe = %q", got)
	}
}
