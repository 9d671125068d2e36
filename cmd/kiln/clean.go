package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"kiln/internal/driver"
)

var cleanCmd = &cobra.Command{
	Use:   "clean [path]",
	Short: "Remove build outputs and saved build state",
	Long: `Remove the output folders and the saved build state of the project and
its prerequisites. The next build is a full build.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runClean,
}

func init() {
	cleanCmd.Flags().Bool("state-only", false, "keep output folders, drop only the saved state")
	bindFlags(cleanCmd.Flags(), "clean")
}

func runClean(cmd *cobra.Command, args []string) error {
	ws, err := loadWorkspace(argDir(args))
	if err != nil {
		return err
	}
	opts := driver.CleanOptions{StateOnly: viper.GetBool("clean.state-only")}
	if err := driver.Clean(cmd.Context(), ws, opts); err != nil {
		return err
	}
	if quiet() {
		return nil
	}
	wd := workingDir()
	for _, p := range ws.Projects() {
		_, err := fmt.Fprintf(cmd.OutOrStdout(), "cleaned %s (%s)\n", p.Name, formatPathForOutput(wd, p.Root))
		if err != nil {
			return err
		}
	}
	return nil
}
