package diagfmt

import (
	"encoding/json"
	"io"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"kiln/internal/diag"
)

// LocationJSON locates a diagnostic for JSON and YAML output.
type LocationJSON struct {
	File      string `json:"file" yaml:"file"`
	StartByte uint32 `json:"start_byte" yaml:"start_byte"`
	EndByte   uint32 `json:"end_byte" yaml:"end_byte"`
	StartLine uint32 `json:"start_line,omitempty" yaml:"start_line,omitempty"`
	StartCol  uint32 `json:"start_col,omitempty" yaml:"start_col,omitempty"`
	EndLine   uint32 `json:"end_line,omitempty" yaml:"end_line,omitempty"`
	EndCol    uint32 `json:"end_col,omitempty" yaml:"end_col,omitempty"`
}

// DiagnosticJSON is one problem or task marker.
type DiagnosticJSON struct {
	Project   string       `json:"project" yaml:"project"`
	Severity  string       `json:"severity" yaml:"severity"`
	Code      string       `json:"code" yaml:"code"`
	Category  string       `json:"category" yaml:"category"`
	Message   string       `json:"message" yaml:"message"`
	Arguments []string     `json:"arguments,omitempty" yaml:"arguments,omitempty"`
	Priority  string       `json:"priority,omitempty" yaml:"priority,omitempty"`
	Location  LocationJSON `json:"location" yaml:"location"`
}

// DiagnosticsOutput is the root of JSON and YAML output.
type DiagnosticsOutput struct {
	Diagnostics []DiagnosticJSON `json:"diagnostics" yaml:"diagnostics"`
	Count       int              `json:"count" yaml:"count"`
	Errors      int              `json:"errors" yaml:"errors"`
	Warnings    int              `json:"warnings" yaml:"warnings"`
	Tasks       int              `json:"tasks" yaml:"tasks"`
}

// BuildDiagnosticsOutput assembles the output structure without encoding
// it. Counts cover every visible diagnostic even when Max truncates the
// list.
func BuildDiagnosticsOutput(groups []Group, opts JSONOpts) DiagnosticsOutput {
	out := DiagnosticsOutput{Diagnostics: []DiagnosticJSON{}}
	src := newSources(opts.ReadFile)
	for _, g := range groups {
		for _, d := range g.Items {
			if !visible(d, opts.IncludeTasks) {
				continue
			}
			out.Count++
			switch {
			case d.IsTask():
				out.Tasks++
			case d.Severity == diag.SevError:
				out.Errors++
			case d.Severity == diag.SevWarning:
				out.Warnings++
			}
			if opts.Max > 0 && len(out.Diagnostics) >= opts.Max {
				continue
			}
			out.Diagnostics = append(out.Diagnostics, makeDiagnostic(g, d, src, opts))
		}
	}
	return out
}

func makeDiagnostic(g Group, d diag.Diagnostic, src *sources, opts JSONOpts) DiagnosticJSON {
	dj := DiagnosticJSON{
		Project:   g.Project,
		Severity:  d.Severity.String(),
		Code:      d.Code.ID(),
		Category:  d.Code.Category(),
		Message:   d.Message,
		Arguments: d.Arguments,
		Location: LocationJSON{
			File:      displayPath(g.Root, d.Primary.Locator, opts.PathMode, opts.BaseDir),
			StartByte: d.Primary.Start,
			EndByte:   d.Primary.End,
			StartLine: d.Primary.Line,
		},
	}
	if d.IsTask() {
		dj.Priority = d.Priority.String()
	}
	if opts.IncludePositions {
		content := src.get(filepath.Join(g.Root, filepath.FromSlash(d.Primary.Locator)))
		start, end := resolve(content, d.Primary)
		dj.Location.StartLine, dj.Location.StartCol = start.Line, start.Col
		dj.Location.EndLine, dj.Location.EndCol = end.Line, end.Col
	}
	return dj
}

// JSON writes the diagnostics as indented JSON.
func JSON(w io.Writer, groups []Group, opts JSONOpts) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(BuildDiagnosticsOutput(groups, opts))
}

// YAML writes the diagnostics as a YAML document.
func YAML(w io.Writer, groups []Group, opts JSONOpts) error {
	return EncodeYAML(w, BuildDiagnosticsOutput(groups, opts))
}

// EncodeYAML writes v with two-space indentation.
func EncodeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}
