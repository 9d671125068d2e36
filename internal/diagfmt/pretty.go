package diagfmt

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-runewidth"

	"kiln/internal/diag"
)

// Pretty prints diagnostics in a human readable form, one per entry:
//
//	<path>:<line>:<col>: <SEV> <CODE>: <Message>
//
// followed, with Context, by the source line and a ^~~~ underline of
// the span. Items are expected to be sorted.
func Pretty(w io.Writer, groups []Group, opts PrettyOpts) {
	p := newPainter(opts.Color)
	src := newSources(opts.ReadFile)
	for _, g := range groups {
		for _, d := range g.Items {
			if !visible(d, opts.ShowTasks) {
				continue
			}
			prettyOne(w, p, src, g, d, opts)
		}
	}
}

func prettyOne(w io.Writer, p painter, src *sources, g Group, d diag.Diagnostic, opts PrettyOpts) {
	path := displayPath(g.Root, d.Primary.Locator, opts.PathMode, opts.BaseDir)
	var content []byte
	if d.Primary.End > 0 || opts.Context {
		content = src.get(filepath.Join(g.Root, filepath.FromSlash(d.Primary.Locator)))
	}
	start, end := resolve(content, d.Primary)

	loc := path
	if start.Line > 0 {
		loc = fmt.Sprintf("%s:%d", path, start.Line)
		if start.Col > 0 {
			loc = fmt.Sprintf("%s:%d", loc, start.Col)
		}
	}
	head := fmt.Sprintf("%s: %s %s: %s", p.path(loc), p.severity(d), d.Code.ID(), d.Message)
	if opts.Width > 0 && runewidth.StringWidth(head) > opts.Width && !opts.Color {
		head = runewidth.Truncate(head, opts.Width, "...")
	}
	fmt.Fprintln(w, head)

	if !opts.Context || start.Line == 0 {
		return
	}
	text, ok := lineText(content, start.Line)
	if !ok {
		return
	}
	fmt.Fprintf(w, "  %s\n", strings.ReplaceAll(text, "\t", " "))
	if start.Col == 0 {
		return
	}
	fmt.Fprintf(w, "  %s\n", p.caret(underline(text, start, end)))
}

// underline draws ^~~ below the span on the first line, measuring by
// display width so wide runes line up.
func underline(text string, start, end position) string {
	runes := []rune(text)
	from := min(int(start.Col)-1, len(runes))
	to := len(runes)
	if end.Line == start.Line && int(end.Col)-1 > from {
		to = min(int(end.Col)-1, len(runes))
	}
	pad := runewidth.StringWidth(string(runes[:from]))
	width := max(runewidth.StringWidth(string(runes[from:to])), 1)
	return strings.Repeat(" ", pad) + "^" + strings.Repeat("~", width-1)
}

type painter struct {
	errC, warnC, infoC, locC, caretC *color.Color
}

func newPainter(on bool) painter {
	p := painter{
		errC:   color.New(color.FgRed, color.Bold),
		warnC:  color.New(color.FgYellow, color.Bold),
		infoC:  color.New(color.FgCyan),
		locC:   color.New(color.Bold),
		caretC: color.New(color.FgGreen),
	}
	for _, c := range []*color.Color{p.errC, p.warnC, p.infoC, p.locC, p.caretC} {
		if on {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

func (p painter) severity(d diag.Diagnostic) string {
	label := d.Severity.String()
	if d.IsTask() {
		label = "TASK(" + d.Priority.String() + ")"
		return p.infoC.Sprint(label)
	}
	switch d.Severity {
	case diag.SevError:
		return p.errC.Sprint(label)
	case diag.SevWarning:
		return p.warnC.Sprint(label)
	}
	return p.infoC.Sprint(label)
}

func (p painter) path(s string) string  { return p.locC.Sprint(s) }
func (p painter) caret(s string) string { return p.caretC.Sprint(s) }
