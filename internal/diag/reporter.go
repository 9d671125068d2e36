package diag

// Reporter receives diagnostics from the front-end and the builder.
type Reporter interface {
	Report(d Diagnostic)
}

// BagReporter writes into a *Bag.
type BagReporter struct{ Bag *Bag }

func (r BagReporter) Report(d Diagnostic) {
	if r.Bag == nil {
		return
	}
	r.Bag.Add(d)
}

// NopReporter drops everything.
type NopReporter struct{}

func (NopReporter) Report(Diagnostic) {}

// MultiReporter fans out to several reporters.
type MultiReporter []Reporter

func (m MultiReporter) Report(d Diagnostic) {
	for _, r := range m {
		if r != nil {
			r.Report(d)
		}
	}
}

// ReportError is a shortcut for an error diagnostic.
func ReportError(r Reporter, code Code, primary Span, msg string, args ...string) {
	if r == nil {
		return
	}
	d := NewError(code, primary, msg)
	if len(args) > 0 {
		d = d.WithArguments(args...)
	}
	r.Report(d)
}

// ReportWarning is a shortcut for a warning diagnostic.
func ReportWarning(r Reporter, code Code, primary Span, msg string) {
	if r == nil {
		return
	}
	r.Report(New(SevWarning, code, primary, msg))
}
