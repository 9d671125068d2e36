package kilnc

import (
	"fmt"
	"unicode"
	"unicode/utf8"

	"fortio.org/safecast"

	"kiln/internal/diag"
)

// Comment is a comment body with its position, handed to the task scanner.
type Comment struct {
	Text  string
	Start uint32
	Line  uint32
}

// Lexer splits NFC-normalized kiln source into tokens. Comments are
// collected on the side.
type Lexer struct {
	src      []byte
	pos      int
	line     uint32
	locator  string
	look     *Token
	comments []Comment
	report   diag.Reporter
}

func NewLexer(src []byte, locator string, r diag.Reporter) *Lexer {
	return &Lexer{src: src, line: 1, locator: locator, report: r}
}

// Comments returns every comment seen so far.
func (lx *Lexer) Comments() []Comment { return lx.comments }

// Peek returns the next token without consuming it.
func (lx *Lexer) Peek() Token {
	if lx.look == nil {
		t := lx.scan()
		lx.look = &t
	}
	return *lx.look
}

// Next consumes and returns the next token. After EOF it keeps
// returning EOF.
func (lx *Lexer) Next() Token {
	if lx.look != nil {
		t := *lx.look
		lx.look = nil
		return t
	}
	return lx.scan()
}

func (lx *Lexer) offset(i int) uint32 {
	v, err := safecast.Conv[uint32](i)
	if err != nil {
		return ^uint32(0)
	}
	return v
}

func (lx *Lexer) errorf(code diag.Code, start int, format string, args ...any) {
	diag.ReportError(lx.report, code, diag.Span{
		Locator: lx.locator,
		Start:   lx.offset(start),
		End:     lx.offset(lx.pos),
		Line:    lx.line,
	}, fmt.Sprintf(format, args...))
}

func (lx *Lexer) skipTrivia() {
	for lx.pos < len(lx.src) {
		c := lx.src[lx.pos]
		switch {
		case c == '\n':
			lx.line++
			lx.pos++
		case c == ' ' || c == '\t' || c == '\r':
			lx.pos++
		case c == '/' && lx.at(1) == '/':
			start, line := lx.pos, lx.line
			for lx.pos < len(lx.src) && lx.src[lx.pos] != '\n' {
				lx.pos++
			}
			lx.comments = append(lx.comments, Comment{Text: string(lx.src[start+2 : lx.pos]), Start: lx.offset(start + 2), Line: line})
		case c == '/' && lx.at(1) == '*':
			start, line := lx.pos, lx.line
			lx.pos += 2
			closed := false
			for lx.pos < len(lx.src) {
				if lx.src[lx.pos] == '*' && lx.at(1) == '/' {
					closed = true
					break
				}
				if lx.src[lx.pos] == '\n' {
					lx.line++
				}
				lx.pos++
			}
			if !closed {
				lx.errorf(diag.SynUnterminatedComment, start, "unterminated block comment")
				lx.comments = append(lx.comments, Comment{Text: string(lx.src[start+2:]), Start: lx.offset(start + 2), Line: line})
				return
			}
			lx.comments = append(lx.comments, Comment{Text: string(lx.src[start+2 : lx.pos]), Start: lx.offset(start + 2), Line: line})
			lx.pos += 2
		default:
			return
		}
	}
}

func (lx *Lexer) at(n int) byte {
	if lx.pos+n < len(lx.src) {
		return lx.src[lx.pos+n]
	}
	return 0
}

func (lx *Lexer) scan() Token {
	lx.skipTrivia()
	start := lx.pos
	tok := func(k Kind) Token {
		return Token{Kind: k, Text: string(lx.src[start:lx.pos]), Start: lx.offset(start), End: lx.offset(lx.pos), Line: lx.line}
	}
	if lx.pos >= len(lx.src) {
		return tok(EOF)
	}

	r, size := utf8.DecodeRune(lx.src[lx.pos:])
	switch {
	case isIdentStart(r):
		for lx.pos < len(lx.src) {
			r, size := utf8.DecodeRune(lx.src[lx.pos:])
			if !isIdentPart(r) {
				break
			}
			lx.pos += size
		}
		return tok(Ident)
	case r >= '0' && r <= '9':
		for lx.pos < len(lx.src) && (isDigit(lx.src[lx.pos]) || lx.src[lx.pos] == '.' && isDigit(lx.at(1))) {
			lx.pos++
		}
		return tok(Number)
	case r == '"' || r == '\'':
		quote := lx.src[lx.pos]
		lx.pos++
		for lx.pos < len(lx.src) && lx.src[lx.pos] != quote && lx.src[lx.pos] != '\n' {
			if lx.src[lx.pos] == '\\' {
				lx.pos++
			}
			lx.pos++
		}
		if lx.pos >= len(lx.src) || lx.src[lx.pos] != quote {
			lx.errorf(diag.SynUnterminatedString, start, "unterminated string literal")
			return tok(String)
		}
		lx.pos++
		return tok(String)
	}

	lx.pos += size
	switch r {
	case '.':
		return tok(Dot)
	case ',':
		return tok(Comma)
	case ';':
		return tok(Semi)
	case '{':
		return tok(LBrace)
	case '}':
		return tok(RBrace)
	case '(':
		return tok(LParen)
	case ')':
		return tok(RParen)
	case '[':
		return tok(LBracket)
	case ']':
		return tok(RBracket)
	case '@':
		return tok(At)
	case '*':
		return tok(Star)
	case '=':
		if lx.at(0) == '=' {
			lx.pos++
			return tok(Op)
		}
		return tok(Assign)
	case '+', '-', '/', '%', '<', '>', '!', '&', '|', '^', '?', ':', '~':
		for lx.pos < len(lx.src) && isOpByte(lx.src[lx.pos]) {
			lx.pos++
		}
		return tok(Op)
	}
	lx.errorf(diag.SynUnexpectedToken, start, "invalid character %q", r)
	return tok(Invalid)
}

func isIdentStart(r rune) bool {
	return r == '_' || r == '$' || unicode.IsLetter(r)
}

func isIdentPart(r rune) bool {
	return isIdentStart(r) || unicode.IsDigit(r)
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

func isOpByte(b byte) bool {
	switch b {
	case '+', '-', '%', '<', '>', '!', '&', '|', '^', '=':
		return true
	}
	return false
}

// All scans the rest of the input. The last token is EOF.
func (lx *Lexer) All() []Token {
	var toks []Token
	for {
		t := lx.Next()
		toks = append(toks, t)
		if t.Kind == EOF {
			return toks
		}
	}
}
