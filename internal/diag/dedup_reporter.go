package diag

type dedupKey struct {
	code    Code
	sev     Severity
	locator string
	start   uint32
	end     uint32
	msg     string
}

// DedupReporter suppresses diagnostics with the same code, severity,
// span and message before forwarding to next.
type DedupReporter struct {
	next Reporter
	seen map[dedupKey]struct{}
}

func NewDedupReporter(next Reporter) *DedupReporter {
	return &DedupReporter{next: next, seen: make(map[dedupKey]struct{})}
}

func (r *DedupReporter) Report(d Diagnostic) {
	if r == nil {
		return
	}
	key := dedupKey{
		code:    d.Code,
		sev:     d.Severity,
		locator: d.Primary.Locator,
		start:   d.Primary.Start,
		end:     d.Primary.End,
		msg:     d.Message,
	}
	if _, ok := r.seen[key]; ok {
		return
	}
	r.seen[key] = struct{}{}
	if r.next != nil {
		r.next.Report(d)
	}
}
