package kilnc

import (
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"fortio.org/safecast"

	"kiln/internal/diag"
)

type tagHit struct {
	at   int
	prio diag.Priority
}

// scanTasks reports a task for every tag found in a comment. A task's
// message runs from its tag to the next tag or the end of the line.
func scanTasks(f *File, opts Options) []diag.Diagnostic {
	if len(opts.TaskTags) == 0 {
		return nil
	}
	var out []diag.Diagnostic
	for _, c := range f.Comments {
		offset := 0
		for i, line := range strings.Split(c.Text, "\n") {
			hits := findTags(line, opts)
			for j, h := range hits {
				end := len(line)
				if j+1 < len(hits) {
					end = hits[j+1].at
				}
				msg := strings.TrimSpace(strings.TrimRight(line[h.at:end], "*/ \t\r"))
				start := uint32(0)
				if v, err := safecast.Conv[uint32](offset + h.at); err == nil {
					start = c.Start + v
				}
				lineNo := c.Line
				if v, err := safecast.Conv[uint32](i); err == nil {
					lineNo += v
				}
				sp := diag.Span{Locator: f.Locator, Start: start, End: start + uint32(len(msg)), Line: lineNo}
				out = append(out, diag.NewTask(sp, msg, h.prio))
			}
			offset += len(line) + 1
		}
	}
	return out
}

func findTags(line string, opts Options) []tagHit {
	hay := line
	if !opts.TaskCaseSensitive {
		hay = strings.ToUpper(line)
	}
	var hits []tagHit
	for i, tag := range opts.TaskTags {
		needle := tag
		if !opts.TaskCaseSensitive {
			needle = strings.ToUpper(tag)
		}
		if needle == "" {
			continue
		}
		prio := diag.PriorityNormal
		if i < len(opts.TaskPriorities) {
			prio = opts.TaskPriorities[i]
		}
		from := 0
		for {
			k := strings.Index(hay[from:], needle)
			if k < 0 {
				break
			}
			at := from + k
			from = at + len(needle)
			if boundaryBefore(line, at) && boundaryAfter(line, from) {
				hits = append(hits, tagHit{at: at, prio: prio})
			}
		}
	}
	slices.SortFunc(hits, func(a, b tagHit) int { return a.at - b.at })
	return hits
}

func boundaryBefore(s string, at int) bool {
	if at == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(s[:at])
	return !isWordRune(r)
}

func boundaryAfter(s string, end int) bool {
	if end >= len(s) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(s[end:])
	return !isWordRune(r)
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
