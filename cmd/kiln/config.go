package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"kiln/internal/prof"
)

// Flags are bound into viper under "<command>.<flag>" (bare for
// persistent flags) so KILN_BUILD_FULL=1 or KILN_TRACE_LEVEL=phase work
// like the flags.
func init() {
	viper.SetEnvPrefix("KILN")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()
}

func bindFlags(fs *pflag.FlagSet, prefix string) {
	fs.VisitAll(func(f *pflag.Flag) {
		key := f.Name
		if prefix != "" {
			key = prefix + "." + f.Name
		}
		_ = viper.BindPFlag(key, f)
	})
}

var (
	rootCleanup func()
	profiles    *prof.Session
)

func setupRoot(cmd *cobra.Command, _ []string) error {
	colorMode, err := parseSwitch("color", viper.GetString("color"))
	if err != nil {
		return err
	}
	color.NoColor = !colorMode.enabled(os.Stdout)
	cleanup, err := setupTracing(cmd)
	if err != nil {
		return err
	}
	rootCleanup = cleanup
	profiles, err = prof.Start(prof.Config{
		CPU:          viper.GetString("cpuprofile"),
		Mem:          viper.GetString("memprofile"),
		RuntimeTrace: viper.GetString("runtime-trace"),
	})
	return err
}

// teardownRoot stops profilers and flushes the tracer. It runs after
// Execute so a failing command is still traced.
func teardownRoot() {
	if err := profiles.Stop(); err != nil {
		fmt.Fprintf(rootCmd.ErrOrStderr(), "profile: %v\n", err)
	}
	profiles = nil
	if rootCleanup != nil {
		rootCleanup()
		rootCleanup = nil
	}
}

func quiet() bool { return viper.GetBool("quiet") }
