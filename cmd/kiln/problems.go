package main

import (
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"kiln/internal/diag"
	"kiln/internal/diagfmt"
	"kiln/internal/driver"
	"kiln/internal/version"
)

var problemsCmd = &cobra.Command{
	Use:   "problems [path]",
	Short: "List the problems and tasks recorded by the last build",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runProblems,
}

func init() {
	f := problemsCmd.Flags()
	f.String("format", "pretty", "output format (pretty|json|yaml|sarif)")
	f.Bool("tasks", false, "include task markers")
	f.String("severity", "info", "lowest severity to list (info|warning|error)")
	f.StringSlice("category", nil, "only these categories (syntax, type, buildpath, task)")
	f.String("path-mode", "auto", "how paths are shown (auto|absolute|relative|basename)")
	f.Bool("context", false, "show the source line of each problem")
	bindFlags(f, "problems")
}

func runProblems(cmd *cobra.Command, args []string) error {
	format := strings.ToLower(viper.GetString("problems.format"))
	minSev, err := diag.ParseSeverity(viper.GetString("problems.severity"))
	if err != nil {
		return err
	}
	pathMode, ok := diagfmt.ParsePathMode(viper.GetString("problems.path-mode"))
	if !ok {
		return fmt.Errorf("invalid --path-mode %q", viper.GetString("problems.path-mode"))
	}
	categories := viper.GetStringSlice("problems.category")
	tasks := viper.GetBool("problems.tasks") || slices.Contains(categories, "task")

	ws, err := loadWorkspace(argDir(args))
	if err != nil {
		return err
	}
	saved, err := driver.LoadMarkers(ws)
	if err != nil {
		return err
	}
	var groups []diagfmt.Group
	for _, pm := range saved {
		groups = append(groups, diagfmt.Group{
			Project: pm.Project.Name,
			Root:    pm.Project.Root,
			Items:   filterMarkers(pm.Markers.All(), minSev, categories),
		})
	}

	out := cmd.OutOrStdout()
	jsonOpts := diagfmt.JSONOpts{
		PathMode:         pathMode,
		IncludePositions: true,
		IncludeTasks:     tasks,
		Max:              viper.GetInt("max-diagnostics"),
	}
	switch format {
	case "pretty":
		diagfmt.Pretty(out, groups, diagfmt.PrettyOpts{
			Color:     useColor(out),
			PathMode:  pathMode,
			Context:   viper.GetBool("problems.context"),
			ShowTasks: tasks,
		})
		return nil
	case "json":
		return diagfmt.JSON(out, groups, jsonOpts)
	case "yaml":
		return diagfmt.YAML(out, groups, jsonOpts)
	case "sarif":
		return diagfmt.Sarif(out, groups, diagfmt.SarifRunMeta{
			ToolName:       "kiln",
			ToolVersion:    version.Get().Version,
			InvocationArgs: append([]string{"kiln"}, args...),
		}, nil)
	}
	return fmt.Errorf("unsupported format %q (must be pretty, json, yaml or sarif)", format)
}

// filterMarkers keeps tasks regardless of severity; the task flag decides
// whether they print.
func filterMarkers(ds []diag.Diagnostic, minSev diag.Severity, categories []string) []diag.Diagnostic {
	var out []diag.Diagnostic
	for _, d := range ds {
		if !d.IsTask() && d.Severity < minSev {
			continue
		}
		if len(categories) > 0 && !slices.Contains(categories, d.Code.Category()) {
			continue
		}
		out = append(out, d)
	}
	return out
}
