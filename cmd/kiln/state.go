package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"kiln/internal/diagfmt"
	"kiln/internal/driver"
)

var stateCmd = &cobra.Command{
	Use:   "state [path]",
	Short: "Show the saved build state of each project",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runState,
}

func init() {
	f := stateCmd.Flags()
	f.String("format", "pretty", "output format (pretty|json|yaml)")
	f.Bool("units", false, "list every recorded unit with its references")
	bindFlags(f, "state")
}

func runState(cmd *cobra.Command, args []string) error {
	format := strings.ToLower(viper.GetString("state.format"))
	ws, err := loadWorkspace(argDir(args))
	if err != nil {
		return err
	}
	sums, err := driver.InspectState(cmd.Context(), ws, viper.GetBool("state.units"))
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	switch format {
	case "pretty":
		return printStates(out, sums)
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(sums)
	case "yaml":
		return diagfmt.EncodeYAML(out, sums)
	}
	return fmt.Errorf("unsupported format %q (must be pretty, json or yaml)", format)
}

func printStates(out io.Writer, sums []driver.StateSummary) error {
	var b strings.Builder
	for _, s := range sums {
		if !s.Saved {
			fmt.Fprintf(&b, "%s: no saved build state\n", s.Project)
			continue
		}
		fmt.Fprintf(&b, "%s: build #%d, %d types", s.Project, s.BuildNumber, s.Types)
		if s.Noop {
			b.WriteString(", no-op")
		}
		fmt.Fprintf(&b, ", last structural change %s\n", s.LastStructuralBuild.Format("2006-01-02 15:04:05.000"))
		switch {
		case s.ChangedUnknown:
			b.WriteString("  changed types: unknown (full build)\n")
		case len(s.ChangedTypes) > 0:
			fmt.Fprintf(&b, "  changed types: %s\n", strings.Join(s.ChangedTypes, ", "))
		}
		for _, u := range s.Units {
			fmt.Fprintf(&b, "  %s\n", u.Locator)
			if len(u.DefinedTypes) > 0 {
				fmt.Fprintf(&b, "    defines:   %s\n", strings.Join(u.DefinedTypes, " "))
			}
			if len(u.Qualified) > 0 {
				fmt.Fprintf(&b, "    qualified: %s\n", strings.Join(u.Qualified, " "))
			}
			if len(u.Simple) > 0 {
				fmt.Fprintf(&b, "    simple:    %s\n", strings.Join(u.Simple, " "))
			}
			if len(u.Root) > 0 {
				fmt.Fprintf(&b, "    root:      %s\n", strings.Join(u.Root, " "))
			}
		}
	}
	_, err := io.WriteString(out, b.String())
	return err
}
