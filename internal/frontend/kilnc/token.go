package kilnc

import "fmt"

type Kind uint8

const (
	EOF Kind = iota
	Ident
	Number
	String
	Dot
	Comma
	Semi
	LBrace
	RBrace
	LParen
	RParen
	LBracket
	RBracket
	At
	Star
	Assign
	Op // any other operator, kept for bodies
	Invalid
)

var kindNames = [...]string{
	EOF:      "end of file",
	Ident:    "identifier",
	Number:   "number",
	String:   "string",
	Dot:      "'.'",
	Comma:    "','",
	Semi:     "';'",
	LBrace:   "'{'",
	RBrace:   "'}'",
	LParen:   "'('",
	RParen:   "')'",
	LBracket: "'['",
	RBracket: "']'",
	At:       "'@'",
	Star:     "'*'",
	Assign:   "'='",
	Op:       "operator",
	Invalid:  "invalid character",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", k)
}

// Token is a lexeme with its byte span and 1-based line.
type Token struct {
	Kind  Kind
	Text  string
	Start uint32
	End   uint32
	Line  uint32
}

func (t Token) Is(kind Kind, text string) bool {
	return t.Kind == kind && t.Text == text
}

var keywords = map[string]bool{
	"package": true, "import": true, "class": true, "interface": true,
	"extends": true, "implements": true, "new": true, "return": true,
	"public": true, "private": true, "protected": true, "static": true,
	"final": true, "abstract": true, "this": true, "super": true,
	"null": true, "true": true, "false": true, "if": true, "else": true,
	"while": true, "for": true, "do": true, "switch": true, "case": true,
	"default": true, "break": true, "continue": true, "throw": true,
	"throws": true, "try": true, "catch": true, "finally": true,
	"instanceof": true,
}

var primitives = map[string]bool{
	"void": true, "int": true, "long": true, "boolean": true, "char": true,
	"byte": true, "short": true, "float": true, "double": true,
}

// IsKeyword reports reserved words; primitives are not keywords.
func IsKeyword(s string) bool { return keywords[s] }

func IsPrimitive(s string) bool { return primitives[s] }
