package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"kiln/internal/diag"
	"kiln/internal/diagfmt"
	"kiln/internal/driver"
	"kiln/internal/observ"
)

var buildCmd = &cobra.Command{
	Use:   "build [flags] [path]",
	Short: "Build a kiln project and its prerequisites",
	Long: `Build the project whose kiln.toml is found from [path] (default: the
current directory), prerequisites first. Only units affected by changes
since the last build are recompiled unless --full is given.`,
	Args: cobra.MaximumNArgs(1),
	RunE: buildExecution,
}

func init() {
	f := buildCmd.Flags()
	f.Bool("full", false, "discard saved state and rebuild everything")
	f.String("ui", "auto", "user interface (auto|on|off)")
	f.Int("max-at-once", 0, "units compiled per chunk (0 uses the project setting)")
	f.Int("cycle-rounds", driver.DefaultCycleRounds, "rebuild rounds for projects in a prerequisite cycle")
	f.String("format", "pretty", "report format (pretty|json|yaml)")
	f.Bool("context", true, "show the source line of each problem")
	bindFlags(f, "build")
}

// buildSummary is the machine-readable build report.
type buildSummary struct {
	Projects []projectSummary          `json:"projects" yaml:"projects"`
	Problems diagfmt.DiagnosticsOutput `json:"problems" yaml:"problems"`
	Timings  *observ.Report            `json:"timings,omitempty" yaml:"timings,omitempty"`
	TotalMS  float64                   `json:"total_ms" yaml:"total_ms"`
}

type projectSummary struct {
	Name      string   `json:"name" yaml:"name"`
	Outcome   string   `json:"outcome" yaml:"outcome"`
	Reason    string   `json:"reason,omitempty" yaml:"reason,omitempty"`
	Compiled  []string `json:"compiled,omitempty" yaml:"compiled,omitempty"`
	Loops     int      `json:"loops,omitempty" yaml:"loops,omitempty"`
	Error     string   `json:"error,omitempty" yaml:"error,omitempty"`
	ElapsedMS float64  `json:"elapsed_ms" yaml:"elapsed_ms"`
}

func buildExecution(cmd *cobra.Command, args []string) error {
	format := strings.ToLower(viper.GetString("build.format"))
	switch format {
	case "pretty", "json", "yaml":
	default:
		return fmt.Errorf("unsupported format %q (must be pretty, json or yaml)", format)
	}
	uiMode, err := parseSwitch("ui", viper.GetString("build.ui"))
	if err != nil {
		return err
	}

	ws, err := loadWorkspace(argDir(args))
	if err != nil {
		return err
	}

	var timer *observ.Timer
	if viper.GetBool("timings") || format != "pretty" {
		timer = observ.NewTimer()
	}
	opts := driver.BuildOptions{
		Full:        viper.GetBool("build.full"),
		CycleRounds: viper.GetInt("build.cycle-rounds"),
		Timings:     timer,
	}
	if n := viper.GetInt("build.max-at-once"); n > 0 {
		opts.MaxAtOnce = &n
	}

	var rep *driver.Report
	if format == "pretty" && !quiet() && uiMode.enabled(cmd.OutOrStdout()) {
		rep, err = runBuildWithUI(cmd.Context(), "kiln build", ws, opts)
	} else {
		rep, err = driver.Build(cmd.Context(), ws, opts)
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	groups := reportGroups(ws, rep)
	maxDiagnostics := viper.GetInt("max-diagnostics")
	switch format {
	case "json", "yaml":
		sum := summarize(rep, groups, maxDiagnostics)
		if viper.GetBool("timings") {
			tr := timer.Report()
			sum.Timings = &tr
		}
		if format == "json" {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			if err := enc.Encode(sum); err != nil {
				return err
			}
		} else if err := diagfmt.EncodeYAML(out, sum); err != nil {
			return err
		}
	default:
		if err := printBuildReport(out, rep, groups, maxDiagnostics); err != nil {
			return err
		}
		if viper.GetBool("timings") {
			if err := printTimings(out, timer); err != nil {
				return err
			}
		}
	}

	if failed := rep.Failed(); len(failed) > 0 {
		return fmt.Errorf("%d of %d projects failed to build", len(failed), len(rep.Projects))
	}
	if rep.HasErrors() {
		return fmt.Errorf("build finished with errors")
	}
	return nil
}

// reportGroups collects the workspace problems and the problems of every
// project, tasks excluded.
func reportGroups(ws *driver.Workspace, rep *driver.Report) []diagfmt.Group {
	groups := []diagfmt.Group{{Project: ws.Root.Name, Root: ws.Root.Root, Items: rep.Problems}}
	for _, p := range rep.Projects {
		if p.Markers == nil {
			continue
		}
		groups = append(groups, diagfmt.Group{Project: p.Project.Name, Root: p.Project.Root, Items: p.Markers.All()})
	}
	return groups
}

func summarize(rep *driver.Report, groups []diagfmt.Group, maxDiagnostics int) buildSummary {
	sum := buildSummary{
		Problems: diagfmt.BuildDiagnosticsOutput(groups, diagfmt.JSONOpts{PathMode: diagfmt.PathModeRelative, Max: maxDiagnostics}),
		TotalMS:  toMillis(rep.Elapsed),
	}
	for _, p := range rep.Projects {
		ps := projectSummary{Name: p.Project.Name, ElapsedMS: toMillis(p.Elapsed)}
		if p.Err != nil {
			ps.Outcome = "failed"
			ps.Error = p.Err.Error()
		} else {
			ps.Outcome = p.Result.Outcome.String()
			ps.Reason = p.Result.Reason
			ps.Compiled = p.Result.Compiled
			ps.Loops = p.Result.Loops
		}
		sum.Projects = append(sum.Projects, ps)
	}
	return sum
}

func printBuildReport(out io.Writer, rep *driver.Report, groups []diagfmt.Group, maxDiagnostics int) error {
	if !quiet() {
		for _, p := range rep.Projects {
			if _, err := fmt.Fprintln(out, projectLine(p)); err != nil {
				return err
			}
		}
	}
	diagfmt.Pretty(out, limitGroups(groups, maxDiagnostics), diagfmt.PrettyOpts{
		Color:    useColor(out),
		PathMode: diagfmt.PathModeAuto,
		Context:  viper.GetBool("build.context"),
	})
	errs, warns := 0, 0
	for _, g := range groups {
		for _, d := range g.Items {
			switch {
			case d.IsTask():
			case d.Severity == diag.SevError:
				errs++
			case d.Severity == diag.SevWarning:
				warns++
			}
		}
	}
	if errs+warns > 0 || !quiet() {
		_, err := fmt.Fprintf(out, "%s, %s in %.1f ms\n", plural(errs, "error"), plural(warns, "warning"), toMillis(rep.Elapsed))
		return err
	}
	return nil
}

func projectLine(p *driver.ProjectReport) string {
	if p.Err != nil {
		return fmt.Sprintf("%s: failed: %v", p.Project.Name, p.Err)
	}
	res := p.Result
	line := fmt.Sprintf("%s: %s", p.Project.Name, res.Outcome)
	if res.Reason != "" {
		line += " (" + res.Reason + ")"
	}
	if len(res.Compiled) > 0 {
		line += ", " + plural(len(res.Compiled), "unit") + " compiled"
	}
	if res.Loops > 1 {
		line += fmt.Sprintf(" in %d loops", res.Loops)
	}
	return line
}

// limitGroups keeps the first n problems across groups; tasks never
// count.
func limitGroups(groups []diagfmt.Group, n int) []diagfmt.Group {
	if n <= 0 {
		return groups
	}
	out := make([]diagfmt.Group, 0, len(groups))
	for _, g := range groups {
		var items []diag.Diagnostic
		for _, d := range g.Items {
			if d.IsTask() {
				continue
			}
			if n == 0 {
				break
			}
			items = append(items, d)
			n--
		}
		g.Items = items
		out = append(out, g)
	}
	return out
}

func plural(n int, word string) string {
	if n == 1 {
		return "1 " + word
	}
	return fmt.Sprintf("%d %ss", n, word)
}

// useColor applies --color to out; auto colors terminals only.
func useColor(out io.Writer) bool {
	mode, err := parseSwitch("color", viper.GetString("color"))
	return err == nil && mode.enabled(out)
}
