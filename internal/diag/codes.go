package diag

import "fmt"

type Code uint16

const (
	UnknownCode Code = 0

	// syntax
	SynUnexpectedToken     Code = 1001
	SynUnterminatedComment Code = 1002
	SynUnterminatedString  Code = 1003
	SynExpectIdentifier    Code = 1004
	SynExpectSemicolon     Code = 1005
	SynUnclosedBrace       Code = 1006
	SynPackageInfoHasTypes Code = 1007

	// resolution
	ResUndefinedType          Code = 2001
	ResDuplicateType          Code = 2002
	ResImportNotFound         Code = 2003
	ResHierarchyHasProblems   Code = 2004
	ResClassExtendsInterface  Code = 2005
	ResImplementsNonInterface Code = 2006
	ResCycleInHierarchy       Code = 2007
	ResPackageMismatch        Code = 2008
	ResPublicTypeFileMismatch Code = 2009
	ResDuplicateMember        Code = 2010

	// builder
	BldDuplicateArtifact Code = 3001
	BldArtifactCollision Code = 3002
	BldMissingPrereq     Code = 3003
	BldPrereqCycle       Code = 3004
	BldOutputOverlap     Code = 3005
	BldInternal          Code = 3006
	BldParticipant       Code = 3007

	// tasks
	TaskTag Code = 4001
)

var codeDescription = map[Code]string{
	UnknownCode: "Unknown problem",

	SynUnexpectedToken:     "Unexpected token",
	SynUnterminatedComment: "Unterminated block comment",
	SynUnterminatedString:  "Unterminated string literal",
	SynExpectIdentifier:    "Identifier expected",
	SynExpectSemicolon:     "Missing ';'",
	SynUnclosedBrace:       "Unclosed '{'",
	SynPackageInfoHasTypes: "Package declaration file declares types",

	ResUndefinedType:          "Type cannot be resolved",
	ResDuplicateType:          "Type is already defined",
	ResImportNotFound:         "Import cannot be resolved",
	ResHierarchyHasProblems:   "Type hierarchy is inconsistent",
	ResClassExtendsInterface:  "Class extends an interface",
	ResImplementsNonInterface: "Implemented type is not an interface",
	ResCycleInHierarchy:       "Cycle in type hierarchy",
	ResPackageMismatch:        "Declared package does not match the file location",
	ResPublicTypeFileMismatch: "Public type must be declared in its own file",
	ResDuplicateMember:        "Duplicate member",

	BldDuplicateArtifact: "Duplicate artifact",
	BldArtifactCollision: "Artifact collides with an existing file",
	BldMissingPrereq:     "Prerequisite project is missing",
	BldPrereqCycle:       "Prerequisite projects form a cycle",
	BldOutputOverlap:     "Output folder overlaps a source root",
	BldInternal:          "Internal builder error",
	BldParticipant:       "Build participant failed",

	TaskTag: "Task",
}

func (c Code) ID() string {
	switch ic := int(c); {
	case ic >= 1000 && ic < 2000:
		return fmt.Sprintf("SYN%04d", ic)
	case ic >= 2000 && ic < 3000:
		return fmt.Sprintf("RES%04d", ic)
	case ic >= 3000 && ic < 4000:
		return fmt.Sprintf("BLD%04d", ic)
	case ic >= 4000 && ic < 5000:
		return fmt.Sprintf("TSK%04d", ic)
	}
	return "E0000"
}

func (c Code) Title() string {
	desc, ok := codeDescription[c]
	if !ok {
		return codeDescription[UnknownCode]
	}
	return desc
}

// Category groups codes the way markers are filtered in `kiln problems`.
func (c Code) Category() string {
	switch ic := int(c); {
	case ic >= 1000 && ic < 2000:
		return "syntax"
	case ic >= 2000 && ic < 3000:
		return "type"
	case ic >= 3000 && ic < 4000:
		return "buildpath"
	case ic >= 4000 && ic < 5000:
		return "task"
	}
	return "internal"
}

func (c Code) String() string {
	return fmt.Sprintf("[%s]: %s", c.ID(), c.Title())
}
