package main

import (
	"errors"
	"fmt"
	"os"

	"dockhand/cmd/dockhand/ui"
	"dockhand/internal/logging"

	"github.com/spf13/cobra"
)

// version is overridden at build time via -ldflags.
var version = "dev"

// configErrorExitCode is returned for configuration and usage errors; task
// runs report their own exit codes through exitCode errors.
const configErrorExitCode = 254

// exitCode carries a specific process exit code out of a command.
type exitCode int

func (e exitCode) Error() string {
	return fmt.Sprintf("exit code %d", int(e))
}

func main() {
	var debug bool

	if err := logging.Configure(logging.LevelWarn); err != nil {
		_, _ = os.Stderr.WriteString("configure logger: " + err.Error() + "\n")
		os.Exit(configErrorExitCode)
	}

	root := &cobra.Command{
		Use:           "dockhand",
		Short:         "Run development tasks inside ephemeral containers",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := logging.LevelWarn
			if debug {
				level = logging.LevelDebug
			}
			return logging.Configure(level)
		},
	}
	root.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	root.AddCommand(runCmd())
	root.AddCommand(tasksCmd())

	if err := root.Execute(); err != nil {
		var code exitCode
		if errors.As(err, &code) {
			os.Exit(int(code))
		}
		fmt.Fprintln(os.Stderr, ui.ErrorMsg("%v", err))
		os.Exit(configErrorExitCode)
	}
}
