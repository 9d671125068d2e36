package observ

import (
	"strings"
	"testing"
	"time"
)

func TestTimerNestedPhasesNotSummed(t *testing.T) {
	tm := NewTimer()
	outer := tm.Begin("build")
	done := tm.Track("build/compile")
	time.Sleep(time.Millisecond)
	done("3 units")
	tm.End(outer, "")

	r := tm.Report()
	if len(r.Phases) != 2 || r.Phases[1].Note != "3 units" {
		t.Fatalf("phases = %+v", r.Phases)
	}
	if r.TotalMS != r.Phases[0].DurationMS {
		t.Fatalf("total %.3f, want outer %.3f", r.TotalMS, r.Phases[0].DurationMS)
	}
	if s := tm.Summary(); !strings.Contains(s, "build/compile") || !strings.Contains(s, "// 3 units") {
		t.Fatalf("summary = %q", s)
	}
}

func TestNilTimer(t *testing.T) {
	var tm *Timer
	tm.Track("x")("")
	if r := tm.Report(); len(r.Phases) != 0 {
		t.Fatalf("nil timer reported %+v", r)
	}
}
