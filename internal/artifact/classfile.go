// Package artifact defines the .klass artifact format emitted for every
// compiled type and the structural comparison the builder uses to decide
// whether dependents must be recompiled.
package artifact

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
)

const (
	Magic   uint32 = 0x4b4c4e31 // "KLN1"
	Version uint16 = 3

	// Ext is the artifact file extension.
	Ext = ".klass"
)

// ErrFormat is returned when bytes do not decode as an artifact.
var ErrFormat = errors.New("artifact: bad format")

type Kind uint8

const (
	KindClass Kind = iota + 1
	KindInterface
	KindPackageInfo
)

func (k Kind) String() string {
	switch k {
	case KindClass:
		return "class"
	case KindInterface:
		return "interface"
	case KindPackageInfo:
		return "package-info"
	}
	return "unknown"
}

// Modifiers is a bit set of declaration modifiers.
type Modifiers uint16

const (
	ModPublic Modifiers = 1 << iota
	ModPrivate
	ModProtected
	ModStatic
	ModFinal
	ModAbstract
)

var modifierNames = []struct {
	bit  Modifiers
	name string
}{
	{ModPublic, "public"},
	{ModPrivate, "private"},
	{ModProtected, "protected"},
	{ModStatic, "static"},
	{ModFinal, "final"},
	{ModAbstract, "abstract"},
}

// ParseModifier maps a keyword to its bit.
func ParseModifier(word string) (Modifiers, bool) {
	for _, m := range modifierNames {
		if m.name == word {
			return m.bit, true
		}
	}
	return 0, false
}

func (m Modifiers) Has(bit Modifiers) bool { return m&bit != 0 }

func (m Modifiers) String() string {
	var parts []string
	for _, n := range modifierNames {
		if m.Has(n.bit) {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, " ")
}

type Field struct {
	Name      string    `msgpack:"n"`
	Type      string    `msgpack:"t"`
	Modifiers Modifiers `msgpack:"m"`
}

// Method is a method or constructor. Descriptor is "(a/P;I)R" style:
// parameter type names joined by ';' followed by the return type.
type Method struct {
	Name       string    `msgpack:"n"`
	Descriptor string    `msgpack:"d"`
	Modifiers  Modifiers `msgpack:"m"`
	BodyDigest string    `msgpack:"b"`
}

// ClassFile is the decoded form of one .klass artifact.
type ClassFile struct {
	Magic   uint32 `msgpack:"magic"`
	Version uint16 `msgpack:"version"`

	Name      string    `msgpack:"name"` // "a/b/A", "a/b/A$Inner", "a/b/A$1Local"
	Source    string    `msgpack:"source"`
	Kind      Kind      `msgpack:"kind"`
	Modifiers Modifiers `msgpack:"mods"`

	Super       string   `msgpack:"super,omitempty"`
	Interfaces  []string `msgpack:"ifaces,omitempty"`
	Annotations []string `msgpack:"annos,omitempty"`
	Fields      []Field  `msgpack:"fields,omitempty"`
	Methods     []Method `msgpack:"methods,omitempty"`
	MemberTypes []string `msgpack:"members,omitempty"`

	Enclosing string `msgpack:"enclosing,omitempty"`
	Nested    bool   `msgpack:"nested,omitempty"`
	Local     bool   `msgpack:"local,omitempty"`
	Anonymous bool   `msgpack:"anon,omitempty"`
}

// IsInterface reports whether the type is an interface.
func (c *ClassFile) IsInterface() bool { return c.Kind == KindInterface }

// IsLocalOrAnonymous reports whether the type is declared inside a
// method body. Such types can never be referenced from other units.
func (c *ClassFile) IsLocalOrAnonymous() bool { return c.Local || c.Anonymous }

// Encode serializes c, stamping magic and version.
func Encode(c *ClassFile) ([]byte, error) {
	c.Magic = Magic
	c.Version = Version
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(c); err != nil {
		return nil, fmt.Errorf("artifact: encode %s: %w", c.Name, err)
	}
	return buf.Bytes(), nil
}

// Decode parses artifact bytes.
func Decode(data []byte) (*ClassFile, error) {
	var c ClassFile
	if err := msgpack.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	if c.Magic != Magic {
		return nil, fmt.Errorf("%w: bad magic %#x", ErrFormat, c.Magic)
	}
	if c.Version != Version {
		return nil, fmt.Errorf("%w: version %d, want %d", ErrFormat, c.Version, Version)
	}
	return &c, nil
}

// PathFor returns the artifact path for typeName under outputDir.
func PathFor(outputDir, typeName string) string {
	if outputDir == "" || outputDir == "." {
		return typeName + Ext
	}
	return outputDir + "/" + typeName + Ext
}

// TypeNameFor reverses PathFor. ok is false when p is not an artifact
// under outputDir.
func TypeNameFor(outputDir, p string) (string, bool) {
	if !strings.HasSuffix(p, Ext) {
		return "", false
	}
	if outputDir != "" && outputDir != "." {
		rest, found := strings.CutPrefix(p, outputDir+"/")
		if !found {
			return "", false
		}
		p = rest
	}
	return strings.TrimSuffix(p, Ext), true
}

// IsArtifact reports whether the file name has the artifact extension.
func IsArtifact(name string) bool { return strings.HasSuffix(name, Ext) }
