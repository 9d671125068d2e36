package kilnc

import (
	"kiln/internal/artifact"
)

// typeInfo is a resolved type: a declaration in a unit of the current
// compile, or a binary artifact.
type typeInfo struct {
	name string
	decl *TypeDecl
	bin  *artifact.ClassFile
}

func (t *typeInfo) isInterface() bool {
	if t.decl != nil {
		return t.decl.Interface
	}
	return t.bin.IsInterface()
}

func (t *typeInfo) modifiers() artifact.Modifiers {
	if t.decl != nil {
		return t.decl.Modifiers
	}
	return t.bin.Modifiers
}

func (t *typeInfo) isFinal() bool { return t.modifiers().Has(artifact.ModFinal) }

const objectType = "kiln/lang/Object"

// The runtime library every program sees. It never changes between
// builds, so it is served by the compiler rather than the environment.
var builtins = func() map[string]*typeInfo {
	pub := artifact.ModPublic
	defs := []*artifact.ClassFile{
		{Name: objectType, Kind: artifact.KindClass, Modifiers: pub},
		{Name: "kiln/lang/String", Kind: artifact.KindClass, Modifiers: pub | artifact.ModFinal, Super: objectType},
		{Name: "kiln/lang/System", Kind: artifact.KindClass, Modifiers: pub | artifact.ModFinal, Super: objectType},
		{Name: "kiln/lang/Integer", Kind: artifact.KindClass, Modifiers: pub | artifact.ModFinal, Super: objectType},
		{Name: "kiln/lang/Boolean", Kind: artifact.KindClass, Modifiers: pub | artifact.ModFinal, Super: objectType},
		{Name: "kiln/lang/Exception", Kind: artifact.KindClass, Modifiers: pub, Super: objectType},
		{Name: "kiln/lang/RuntimeException", Kind: artifact.KindClass, Modifiers: pub, Super: "kiln/lang/Exception"},
		{Name: "kiln/lang/Runnable", Kind: artifact.KindInterface, Modifiers: pub | artifact.ModAbstract},
		{Name: "kiln/lang/Deprecated", Kind: artifact.KindInterface, Modifiers: pub | artifact.ModAbstract},
		{Name: "kiln/lang/Override", Kind: artifact.KindInterface, Modifiers: pub | artifact.ModAbstract},
		{Name: "kiln/util/List", Kind: artifact.KindInterface, Modifiers: pub | artifact.ModAbstract},
		{Name: "kiln/util/Map", Kind: artifact.KindInterface, Modifiers: pub | artifact.ModAbstract},
		{Name: "kiln/util/ArrayList", Kind: artifact.KindClass, Modifiers: pub, Super: objectType, Interfaces: []string{"kiln/util/List"}},
		{Name: "kiln/util/HashMap", Kind: artifact.KindClass, Modifiers: pub, Super: objectType, Interfaces: []string{"kiln/util/Map"}},
	}
	out := make(map[string]*typeInfo, len(defs))
	for _, cf := range defs {
		out[cf.Name] = &typeInfo{name: cf.Name, bin: cf}
	}
	return out
}()

var builtinPackages = map[string]bool{"kiln": true, "kiln/lang": true, "kiln/util": true}
