package main

import (
	"os"
	"os/signal"
	"syscall"

	dockeradapter "dockhand/internal/adapter/docker"
	"dockhand/internal/config"
	"dockhand/internal/engine"
	"dockhand/internal/graph"
	"dockhand/internal/telemetry"

	"dockhand/cmd/dockhand/ui"

	"github.com/spf13/cobra"
)

func runCmd() *cobra.Command {
	var (
		configPath   string
		noCleanup    bool
		simpleOutput bool
		quiet        bool
		noColor      bool
		maxParallel  int
	)

	cmd := &cobra.Command{
		Use:   "run <task>",
		Short: "Run a task and the dependency containers it needs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			taskName := args[0]
			ui.ConfigureInteraction(noColor)

			project, err := config.Load(cmd.Context(), configPath)
			if err != nil {
				return err
			}
			g, err := graph.Resolve(project, taskName)
			if err != nil {
				return err
			}

			mode := ui.OutputAuto
			switch {
			case quiet:
				mode = ui.OutputQuiet
			case simpleOutput:
				mode = ui.OutputSimple
			}
			logger := ui.SelectEventLogger(mode, g)

			runtime, err := dockeradapter.NewRuntime()
			if err != nil {
				return err
			}
			defer runtime.Close()

			provider := telemetry.NewProvider()
			defer provider.Close()

			afterFailure := engine.CleanupAfterFailure
			if noCleanup {
				afterFailure = engine.DontCleanupAfterFailure
			}

			taskCtx := engine.NewTaskContext(g, engine.ContextOptions{
				ProjectName:     project.Name,
				AfterFailure:    afterFailure,
				ForwardProxyEnv: project.ForwardProxyEnv,
			})
			runner := &engine.StepRunner{
				Runtime:           runtime,
				Display:           logger,
				ProjectName:       project.Name,
				RunID:             engine.RunID(),
				TaskContainerName: g.TaskContainer,
				StdinIsTTY:        ui.StdinIsTTY(),
				ForwardProxyEnv:   project.ForwardProxyEnv,
			}
			dispatcher := &engine.Dispatcher{
				Context: taskCtx,
				Runner:  runner,
				Sink:    logger,
				Workers: maxParallel,
				Tracer:  provider.Tracer("dockhand/engine"),
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			result := dispatcher.Run(ctx)
			logger.RunFinished(result, taskName)

			if result.ExitCode != 0 {
				return exitCode(result.ExitCode)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "f", config.DefaultFilename, "Project configuration file")
	cmd.Flags().BoolVar(&noCleanup, "no-cleanup", false, "Leave containers behind when the task fails before running")
	cmd.Flags().BoolVar(&simpleOutput, "simple-output", false, "Print one line per event instead of live progress")
	cmd.Flags().BoolVar(&quiet, "quiet", false, "Only print failures")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	cmd.Flags().IntVar(&maxParallel, "max-parallelism", 0, "Maximum concurrent steps (default: logical core count)")

	return cmd
}
