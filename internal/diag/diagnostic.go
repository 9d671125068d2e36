package diag

import "fmt"

// Span locates a diagnostic inside a source unit. Start and End are byte
// offsets (End exclusive); Line is 1-based and 0 when unknown.
type Span struct {
	Locator string
	Start   uint32
	End     uint32
	Line    uint32
}

func (s Span) String() string {
	if s.Line > 0 {
		return fmt.Sprintf("%s:%d", s.Locator, s.Line)
	}
	return s.Locator
}

type Diagnostic struct {
	Severity  Severity
	Code      Code
	Message   string
	Primary   Span
	Arguments []string // problem arguments, e.g. the unresolved type name
	Priority  Priority // tasks only
}

func New(sev Severity, code Code, primary Span, msg string) Diagnostic {
	return Diagnostic{Severity: sev, Code: code, Primary: primary, Message: msg}
}

func NewError(code Code, primary Span, msg string) Diagnostic {
	return New(SevError, code, primary, msg)
}

// NewTask builds a task marker for a tag found in a comment.
func NewTask(primary Span, msg string, prio Priority) Diagnostic {
	return Diagnostic{Severity: SevInfo, Code: TaskTag, Primary: primary, Message: msg, Priority: prio}
}

func (d Diagnostic) WithArguments(args ...string) Diagnostic {
	d.Arguments = append(d.Arguments, args...)
	return d
}

// IsTask reports whether d is a task marker rather than a problem.
func (d Diagnostic) IsTask() bool { return d.Code == TaskTag }

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s: %s %s: %s", d.Primary, d.Severity, d.Code.ID(), d.Message)
}
