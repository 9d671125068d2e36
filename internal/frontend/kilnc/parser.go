package kilnc

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"kiln/internal/artifact"
	"kiln/internal/diag"
	"kiln/internal/project"
)

// Parser holds the state for one file. Bodies are not parsed into
// statements; the parser only extracts type names, nested declarations
// and a digest of the body tokens.
type Parser struct {
	toks   []Token
	pos    int
	file   *File
	report diag.Reporter
}

// Parse lexes and parses src. Problems go to r; the returned file is
// always usable.
func Parse(src []byte, locator string, r diag.Reporter) *File {
	if r == nil {
		r = diag.NopReporter{}
	}
	lx := NewLexer(src, locator, r)
	p := &Parser{
		toks:   lx.All(),
		file:   &File{Locator: locator},
		report: r,
	}
	p.parseFile()
	p.file.Comments = lx.Comments()
	return p.file
}

func (p *Parser) peek() Token { return p.toks[p.pos] }

func (p *Parser) peekN(n int) Token {
	if p.pos+n < len(p.toks) {
		return p.toks[p.pos+n]
	}
	return p.toks[len(p.toks)-1]
}

func (p *Parser) advance() Token {
	t := p.toks[p.pos]
	if t.Kind != EOF {
		p.pos++
	}
	return t
}

func (p *Parser) at(k Kind) bool { return p.peek().Kind == k }

func (p *Parser) atWord(w string) bool { return p.peek().Is(Ident, w) }

func (p *Parser) span(t Token) diag.Span {
	return diag.Span{Locator: p.file.Locator, Start: t.Start, End: t.End, Line: t.Line}
}

// spanFrom covers start up to the last consumed token.
func (p *Parser) spanFrom(start Token) diag.Span {
	sp := p.span(start)
	if p.pos > 0 {
		if last := p.toks[p.pos-1]; last.End > sp.End {
			sp.End = last.End
		}
	}
	return sp
}

// diagSpan is the current token, or the end of the last one at EOF.
func (p *Parser) diagSpan() diag.Span {
	t := p.peek()
	if t.Kind == EOF && p.pos > 0 {
		last := p.toks[p.pos-1]
		return diag.Span{Locator: p.file.Locator, Start: last.End, End: last.End, Line: last.Line}
	}
	return p.span(t)
}

func (p *Parser) err(code diag.Code, msg string) {
	diag.ReportError(p.report, code, p.diagSpan(), msg)
}

func (p *Parser) errAt(sp diag.Span, code diag.Code, msg string) {
	diag.ReportError(p.report, code, sp, msg)
}

func describe(t Token) string {
	if t.Kind == EOF {
		return "end of file"
	}
	return strconv.Quote(t.Text)
}

func (p *Parser) expect(k Kind, code diag.Code, msg string) (Token, bool) {
	if p.at(k) {
		return p.advance(), true
	}
	p.err(code, fmt.Sprintf("%s, found %s", msg, describe(p.peek())))
	return Token{Kind: Invalid}, false
}

func (p *Parser) expectIdent() (Token, bool) {
	t := p.peek()
	if t.Kind == Ident && !IsKeyword(t.Text) && !IsPrimitive(t.Text) {
		return p.advance(), true
	}
	p.err(diag.SynExpectIdentifier, fmt.Sprintf("expected identifier, found %s", describe(t)))
	return Token{Kind: Invalid}, false
}

func (p *Parser) expectSemi() bool {
	_, ok := p.expect(Semi, diag.SynExpectSemicolon, "expected ';'")
	return ok
}

func (p *Parser) expectClose(k Kind, open Token) {
	if p.at(k) {
		p.advance()
		return
	}
	p.errAt(p.span(open), diag.SynUnclosedBrace, fmt.Sprintf("unclosed %s", open.Kind))
}

// skipMember drops tokens up to the end of the current member: a ';' or
// a balanced block at depth zero. A '}' at depth zero is left for the
// caller.
func (p *Parser) skipMember() {
	depth := 0
	for !p.at(EOF) {
		switch p.peek().Kind {
		case LBrace:
			depth++
		case RBrace:
			if depth == 0 {
				return
			}
			depth--
			if depth == 0 {
				p.advance()
				return
			}
		case Semi:
			if depth == 0 {
				p.advance()
				return
			}
		}
		p.advance()
	}
}

func (p *Parser) parseFile() {
	f := p.file
	mods, annos := p.parseModifiers()
	if p.atWord("package") {
		start := p.advance()
		if mods != 0 {
			p.errAt(p.span(start), diag.SynUnexpectedToken, "modifiers are not allowed on a package declaration")
			mods = 0
		}
		if name, ok := p.parseQualifiedName(); ok {
			f.Package = strings.ReplaceAll(name, ".", "/")
			f.HasPackage = true
			f.PackageSpan = p.spanFrom(start)
		}
		p.expectSemi()
		f.Annotations = annos
		annos = nil
	}
	for p.atWord("import") {
		p.parseImport()
	}
	for !p.at(EOF) {
		switch {
		case p.at(Semi):
			p.advance()
			continue
		case p.at(RBrace):
			p.err(diag.SynUnexpectedToken, "unexpected '}'")
			p.advance()
			continue
		case p.atWord("import"):
			p.err(diag.SynUnexpectedToken, "imports must precede type declarations")
			p.parseImport()
			continue
		}
		more, moreAnnos := p.parseModifiers()
		mods |= more
		annos = append(annos, moreAnnos...)
		if p.atWord("class") || p.atWord("interface") {
			if d := p.parseTypeDecl(mods, annos, nil, false); d != nil {
				f.Types = append(f.Types, d)
			}
		} else {
			p.err(diag.SynUnexpectedToken, fmt.Sprintf("expected type declaration, found %s", describe(p.peek())))
			p.skipMember()
		}
		mods, annos = 0, nil
	}
}

func (p *Parser) parseQualifiedName() (string, bool) {
	first, ok := p.expectIdent()
	if !ok {
		return "", false
	}
	parts := []string{first.Text}
	for p.at(Dot) {
		p.advance()
		id, ok := p.expectIdent()
		if !ok {
			return "", false
		}
		parts = append(parts, id.Text)
	}
	return strings.Join(parts, "."), true
}

// parseImport handles "import a.b.C;" and "import a.b.*;".
func (p *Parser) parseImport() {
	start := p.advance()
	first, ok := p.expectIdent()
	if !ok {
		p.skipMember()
		return
	}
	parts := []string{first.Text}
	onDemand := false
	for p.at(Dot) {
		p.advance()
		if p.at(Star) {
			p.advance()
			onDemand = true
			break
		}
		id, ok := p.expectIdent()
		if !ok {
			p.skipMember()
			return
		}
		parts = append(parts, id.Text)
	}
	sp := p.spanFrom(start)
	p.expectSemi()
	p.file.Imports = append(p.file.Imports, &Import{
		Path:     strings.Join(parts, "/"),
		OnDemand: onDemand,
		Span:     sp,
	})
}

func (p *Parser) parseModifiers() (artifact.Modifiers, []*TypeRef) {
	var mods artifact.Modifiers
	var annos []*TypeRef
	for {
		switch t := p.peek(); {
		case t.Kind == At:
			if a := p.parseAnnotation(); a != nil {
				annos = append(annos, a)
			}
		case t.Kind == Ident:
			bit, ok := artifact.ParseModifier(t.Text)
			if !ok {
				return mods, annos
			}
			p.advance()
			mods |= bit
		default:
			return mods, annos
		}
	}
}

// parseAnnotation reads "@Name" with an optional argument list, which
// is skipped.
func (p *Parser) parseAnnotation() *TypeRef {
	at := p.advance()
	name, ok := p.parseQualifiedName()
	if !ok {
		return nil
	}
	ref := &TypeRef{Name: name, Span: p.spanFrom(at)}
	if p.at(LParen) {
		open := p.advance()
		depth := 1
		for depth > 0 && !p.at(EOF) {
			switch p.advance().Kind {
			case LParen:
				depth++
			case RParen:
				depth--
			}
		}
		if depth > 0 {
			p.errAt(p.span(open), diag.SynUnclosedBrace, "unclosed '(' in annotation")
		}
	}
	return ref
}

func (p *Parser) binaryName(d *TypeDecl, enclosing *TypeDecl, local bool) string {
	switch {
	case enclosing == nil:
		if p.file.Package == "" {
			return d.Name
		}
		return p.file.Package + "/" + d.Name
	case local:
		top := enclosing.Top()
		if top.localSeq == nil {
			top.localSeq = make(map[string]int)
		}
		top.localSeq[d.Name]++
		return enclosing.Binary + "$" + strconv.Itoa(top.localSeq[d.Name]) + d.Name
	default:
		return enclosing.Binary + "$" + d.Name
	}
}

func (p *Parser) parseTypeDecl(mods artifact.Modifiers, annos []*TypeRef, enclosing *TypeDecl, local bool) *TypeDecl {
	kw := p.advance()
	d := &TypeDecl{
		Interface:   kw.Text == "interface",
		Modifiers:   mods,
		Annotations: annos,
		Enclosing:   enclosing,
		Local:       local,
		File:        p.file,
	}
	name, ok := p.expectIdent()
	if !ok {
		p.skipMember()
		return nil
	}
	d.Name = name.Text
	d.Span = p.span(name)
	d.Binary = p.binaryName(d, enclosing, local)
	if d.Interface {
		d.Modifiers |= artifact.ModAbstract
	}
	if enclosing != nil && enclosing.Interface {
		d.Modifiers |= artifact.ModPublic | artifact.ModStatic
	}

	if p.atWord("extends") {
		p.advance()
		d.Extends = p.parseTypeList()
		if !d.Interface && len(d.Extends) > 1 {
			p.errAt(d.Extends[1].Span, diag.SynUnexpectedToken, "a class can extend only one class")
			d.Extends = d.Extends[:1]
		}
	}
	if p.atWord("implements") {
		t := p.advance()
		list := p.parseTypeList()
		if d.Interface {
			p.errAt(p.span(t), diag.SynUnexpectedToken, "an interface cannot implement; use extends")
			d.Extends = append(d.Extends, list...)
		} else {
			d.Implements = list
		}
	}
	p.parseClassBody(d)
	return d
}

func (p *Parser) parseTypeList() []*TypeRef {
	var out []*TypeRef
	for {
		t, ok := p.parseType()
		if !ok {
			return out
		}
		out = append(out, t)
		if !p.at(Comma) {
			return out
		}
		p.advance()
	}
}

// scanChain reads Ident {"." Ident}. The current token must be an
// identifier.
func (p *Parser) scanChain() (string, diag.Span) {
	first := p.advance()
	parts := []string{first.Text}
	for p.at(Dot) {
		next := p.peekN(1)
		if next.Kind != Ident || IsKeyword(next.Text) {
			break
		}
		p.advance()
		parts = append(parts, p.advance().Text)
	}
	return strings.Join(parts, "."), p.spanFrom(first)
}

func (p *Parser) parseType() (*TypeRef, bool) {
	t := p.peek()
	if t.Kind != Ident || IsKeyword(t.Text) {
		p.err(diag.SynExpectIdentifier, fmt.Sprintf("expected type, found %s", describe(t)))
		return nil, false
	}
	var ref *TypeRef
	if IsPrimitive(t.Text) {
		p.advance()
		ref = &TypeRef{Name: t.Text, Primitive: true, Span: p.span(t)}
	} else {
		name, sp := p.scanChain()
		ref = &TypeRef{Name: name, Span: sp}
	}
	for p.at(LBracket) && p.peekN(1).Kind == RBracket {
		p.advance()
		p.advance()
		ref.Dims++
	}
	return ref, true
}

func (p *Parser) parseClassBody(d *TypeDecl) {
	if _, ok := p.expect(LBrace, diag.SynUnexpectedToken, "expected '{'"); !ok {
		p.skipMember()
		return
	}
	open := p.toks[p.pos-1]
	for !p.at(RBrace) && !p.at(EOF) {
		p.parseMember(d)
	}
	p.expectClose(RBrace, open)
}

func (p *Parser) parseMember(d *TypeDecl) {
	switch {
	case p.at(Semi):
		p.advance()
		return
	case p.at(LBrace):
		p.parseBlock(d)
		return
	case p.atWord("static") && p.peekN(1).Kind == LBrace:
		p.advance()
		p.parseBlock(d)
		return
	}

	mods, annos := p.parseModifiers()
	switch {
	case p.atWord("class") || p.atWord("interface"):
		if m := p.parseTypeDecl(mods, annos, d, false); m != nil {
			d.Members = append(d.Members, m)
		}
		return
	case p.peek().Is(Ident, d.Name) && p.peekN(1).Kind == LParen:
		start := p.advance()
		p.parseMethodRest(d, &MethodDecl{Name: "<init>", Modifiers: mods, Annotations: annos, Span: p.span(start)})
		return
	}

	typ, ok := p.parseType()
	if !ok {
		p.skipMember()
		return
	}
	name, ok := p.expectIdent()
	if !ok {
		p.skipMember()
		return
	}
	if p.at(LParen) {
		p.parseMethodRest(d, &MethodDecl{Name: name.Text, Result: typ, Modifiers: mods, Annotations: annos, Span: p.span(name)})
		return
	}

	if d.Interface {
		mods |= artifact.ModPublic | artifact.ModStatic | artifact.ModFinal
	}
	for {
		d.Fields = append(d.Fields, &FieldDecl{Name: name.Text, Type: typ, Modifiers: mods, Span: p.span(name)})
		if p.at(Assign) {
			p.advance()
			p.scanCode(d, Semi, Comma)
		}
		if !p.at(Comma) {
			break
		}
		p.advance()
		if name, ok = p.expectIdent(); !ok {
			p.skipMember()
			return
		}
	}
	if !p.expectSemi() {
		p.skipMember()
	}
}

func (p *Parser) parseMethodRest(d *TypeDecl, m *MethodDecl) {
	open := p.advance()
	for !p.at(RParen) && !p.at(EOF) {
		p.parseModifiers()
		t, ok := p.parseType()
		if !ok {
			break
		}
		m.Params = append(m.Params, t)
		if _, ok := p.expectIdent(); !ok {
			break
		}
		if !p.at(Comma) {
			break
		}
		p.advance()
	}
	if !p.at(RParen) {
		p.errAt(p.span(open), diag.SynUnclosedBrace, "unclosed '(' in parameter list")
		p.skipMember()
		d.Methods = append(d.Methods, m)
		return
	}
	p.advance()
	if p.atWord("throws") {
		p.advance()
		for _, t := range p.parseTypeList() {
			d.BodyRefs = append(d.BodyRefs, BodyRef{Name: t.Name, Span: t.Span, Strict: true, Scope: d})
		}
	}
	switch {
	case p.at(Semi):
		p.advance()
	case p.at(LBrace):
		m.HasBody = true
		start := p.pos
		p.parseBlock(d)
		m.BodyDigest = p.digest(start, p.pos)
	default:
		p.err(diag.SynExpectSemicolon, fmt.Sprintf("expected ';' or method body, found %s", describe(p.peek())))
		p.skipMember()
	}
	if d.Interface {
		m.Modifiers |= artifact.ModPublic
		if !m.HasBody {
			m.Modifiers |= artifact.ModAbstract
		}
	}
	d.Methods = append(d.Methods, m)
}

func (p *Parser) digest(start, end int) string {
	texts := make([]string, 0, end-start)
	for _, t := range p.toks[start:end] {
		texts = append(texts, t.Text)
	}
	return project.DigestStrings(texts...).Short()
}

func (p *Parser) parseBlock(owner *TypeDecl) {
	open := p.advance()
	p.scanCode(owner, RBrace)
	p.expectClose(RBrace, open)
}

// scanCode walks code tokens up to one of stops at depth zero, which is
// left unconsumed. An unmatched '}' also ends the scan.
func (p *Parser) scanCode(owner *TypeDecl, stops ...Kind) {
	for {
		t := p.peek()
		if t.Kind == EOF || slices.Contains(stops, t.Kind) {
			return
		}
		switch t.Kind {
		case LBrace:
			p.advance()
			p.scanCode(owner, RBrace)
			p.expectClose(RBrace, t)
		case LParen:
			p.advance()
			p.scanCode(owner, RParen)
			p.expectClose(RParen, t)
		case RParen:
			p.err(diag.SynUnexpectedToken, "unexpected ')'")
			p.advance()
		case RBrace:
			return
		case Ident:
			p.scanIdent(owner)
		default:
			p.advance()
		}
	}
}

func (p *Parser) scanIdent(owner *TypeDecl) {
	t := p.peek()
	if p.pos > 0 && p.toks[p.pos-1].Kind == Dot {
		p.advance()
		return
	}
	switch {
	case t.Text == "new":
		p.advance()
		p.scanNew(owner)
		return
	case t.Text == "class" && p.peekN(1).Kind == Ident:
		if l := p.parseTypeDecl(0, nil, owner, true); l != nil {
			owner.Locals = append(owner.Locals, l)
		}
		return
	case IsKeyword(t.Text) || IsPrimitive(t.Text):
		p.advance()
		return
	}

	name, sp := p.scanChain()
	for p.at(LBracket) && p.peekN(1).Kind == RBracket {
		p.advance()
		p.advance()
	}
	segs := strings.Split(name, ".")
	next := p.peek()
	strict := next.Kind == Ident && !IsKeyword(next.Text) && isTypeLike(segs[len(segs)-1])
	if strict || slices.ContainsFunc(segs, isTypeLike) {
		owner.BodyRefs = append(owner.BodyRefs, BodyRef{Name: name, Span: sp, Strict: strict, Scope: owner})
	}
}

func (p *Parser) scanNew(owner *TypeDecl) {
	t := p.peek()
	if t.Kind != Ident || IsKeyword(t.Text) {
		return
	}
	if IsPrimitive(t.Text) {
		p.advance()
		return
	}
	name, sp := p.scanChain()
	idx := len(owner.BodyRefs)
	owner.BodyRefs = append(owner.BodyRefs, BodyRef{Name: name, Span: sp, Strict: true, Scope: owner})
	if !p.at(LParen) {
		return
	}
	open := p.advance()
	p.scanCode(owner, RParen)
	p.expectClose(RParen, open)
	if !p.at(LBrace) {
		return
	}
	owner.BodyRefs = slices.Delete(owner.BodyRefs, idx, idx+1)
	top := owner.Top()
	top.anonSeq++
	anon := &TypeDecl{
		Binary:    owner.Binary + "$" + strconv.Itoa(top.anonSeq),
		Span:      sp,
		Enclosing: owner,
		Anonymous: true,
		File:      p.file,
		AnonBase:  &TypeRef{Name: name, Span: sp},
	}
	p.parseClassBody(anon)
	owner.Locals = append(owner.Locals, anon)
}

// isTypeLike reports whether an identifier looks like a type name.
func isTypeLike(s string) bool {
	r, _ := utf8.DecodeRuneInString(s)
	return unicode.IsUpper(r)
}
