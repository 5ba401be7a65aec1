package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/onkernel/swebench-blueprints/cmd/blueprints/config"
	"github.com/onkernel/swebench-blueprints/lib/blueprints"
	"github.com/onkernel/swebench-blueprints/lib/imagespec"
	"github.com/onkernel/swebench-blueprints/lib/logger"
	"github.com/onkernel/swebench-blueprints/lib/runloop"
)

func main() {
	var levelVar slog.LevelVar
	levelVar.Set(slog.LevelInfo)

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &levelVar}))
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCommand(config.Load(), &levelVar)
	if err := root.ExecuteContext(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			log.Warn("command interrupted", "error", err)
			os.Exit(130)
		}
		log.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func newRootCommand(cfg *config.Config, levelVar *slog.LevelVar) *cobra.Command {
	root := &cobra.Command{
		Use:           "blueprints",
		Short:         "Compose SWE-bench Dockerfiles and build them as Runloop blueprints",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	root.PersistentFlags().StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Set log verbosity (debug, info, warning, error)")
	root.PersistentFlags().StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log output format (text, json)")
	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		level, err := logger.ParseLevel(cfg.LogLevel)
		if err != nil {
			return err
		}
		levelVar.Set(level)
		return cfg.Validate()
	}

	root.AddCommand(
		newComposeCommand(cfg),
		newSubmitCommand(cfg),
		newStatusCommand(cfg),
		newListCommand(cfg),
	)
	return root
}

type datasetFlags struct {
	path        string
	split       string
	instanceIDs []string
}

func (f *datasetFlags) register(cmd *cobra.Command, cfg *config.Config) {
	cmd.Flags().StringVar(&f.path, "dataset", "", "Path to the image spec file (JSON or YAML)")
	cmd.Flags().StringVar(&f.split, "split", "", "Dataset split to select when the file is keyed by split")
	cmd.Flags().StringSliceVar(&f.instanceIDs, "instance-ids", nil, "Only process these instance ids (comma separated)")
	cmd.Flags().StringVar(&cfg.OutputDir, "output-dir", cfg.OutputDir, "Directory for spec, composite and summary artifacts")
	cmd.Flags().StringVar(&cfg.BaseImage, "base-image", cfg.BaseImage, "Base image for the composed Dockerfile")
	_ = cmd.MarkFlagRequired("dataset")
}

func (f *datasetFlags) load(log *slog.Logger) ([]imagespec.ImageSpec, error) {
	specs, err := imagespec.Load(f.path, f.split)
	if err != nil {
		return nil, err
	}
	if len(f.instanceIDs) == 0 {
		return specs, nil
	}

	filtered, missing := imagespec.Filter(specs, f.instanceIDs)
	if len(missing) > 0 {
		log.Warn("requested instances not found in dataset", "missing", strings.Join(missing, ","))
	}
	if len(filtered) == 0 {
		return nil, fmt.Errorf("none of the requested instances are in %s", f.path)
	}
	return filtered, nil
}

func newComposeCommand(cfg *config.Config) *cobra.Command {
	var ds datasetFlags

	cmd := &cobra.Command{
		Use:   "compose",
		Short: "Compose Dockerfiles and write artifacts without contacting the API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, cleanup, err := initializeComposer(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			cmdLogger := app.Logger.With("command", "compose")
			specs, err := ds.load(cmdLogger)
			if err != nil {
				return err
			}

			summary, err := app.BlueprintManager.Run(app.Ctx, specs, blueprints.RunOptions{ComposeOnly: true})
			return finishRun(cmd.Context(), cmd.OutOrStdout(), summary, err)
		},
	}

	ds.register(cmd, cfg)
	return cmd
}

func newSubmitCommand(cfg *config.Config) *cobra.Command {
	var ds datasetFlags

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Compose Dockerfiles, submit them as blueprints and wait for the builds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, cleanup, err := initializeApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			cmdLogger := app.Logger.With("command", "submit")
			specs, err := ds.load(cmdLogger)
			if err != nil {
				return err
			}

			summary, err := app.BlueprintManager.Run(app.Ctx, specs, blueprints.RunOptions{})
			return finishRun(cmd.Context(), cmd.OutOrStdout(), summary, err)
		},
	}

	ds.register(cmd, cfg)
	cmd.Flags().BoolVar(&cfg.SkipExisting, "skip-existing", cfg.SkipExisting, "Skip instances that already have a blueprint with the same name")
	cmd.Flags().IntVar(&cfg.MaxConcurrentBuilds, "concurrency", cfg.MaxConcurrentBuilds, "Maximum number of builds in flight")
	cmd.Flags().DurationVar(&cfg.PollInterval, "poll-interval", cfg.PollInterval, "Delay between status checks")
	cmd.Flags().DurationVar(&cfg.BuildTimeout, "build-timeout", cfg.BuildTimeout, "Give up waiting on a build after this long (0 disables)")
	cmd.Flags().IntVar(&cfg.MaxPolls, "max-polls", cfg.MaxPolls, "Give up waiting on a build after this many polls (0 disables)")
	cmd.Flags().BoolVar(&cfg.FailFast, "fail-fast", cfg.FailFast, "Stop the run at the first failed instance")
	return cmd
}

// finishRun prints the summary and maps the run result to the command error
func finishRun(ctx context.Context, out io.Writer, summary *blueprints.Summary, runErr error) error {
	if summary != nil {
		printSummary(out, summary)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if runErr != nil {
		return runErr
	}
	return summary.Err()
}

func printSummary(out io.Writer, s *blueprints.Summary) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "INSTANCE\tOUTCOME\tBLUEPRINT\tBUILD STATUS\tPOLLS\tERROR")
	for _, o := range s.Outcomes {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n", o.InstanceID, o.Status, o.BlueprintID, o.BuildStatus, o.Polls, o.Error)
	}
	w.Flush()

	fmt.Fprintf(out, "\nrun %s: %d total, %d composed, %d succeeded, %d skipped, %d failed, %d cancelled\n",
		s.RunID, s.Total, s.Composed, s.Succeeded, s.Skipped, s.Failed, s.Cancelled)
}

func newStatusCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "status <blueprint-id>",
		Short: "Show the build status of a blueprint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := strings.TrimSpace(args[0])
			if id == "" {
				return fmt.Errorf("blueprint id is required")
			}

			app, cleanup, err := initializeApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			bp, err := app.Client.GetBlueprint(app.Ctx, id)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "id:      %s\nname:    %s\nstatus:  %s\n", bp.ID, bp.Name, bp.Status)
			if bp.CreateTimeMs > 0 {
				fmt.Fprintf(out, "created: %s\n", time.UnixMilli(bp.CreateTimeMs).UTC().Format(time.RFC3339))
			}
			if bp.FailureReason != "" {
				fmt.Fprintf(out, "reason:  %s\n", bp.FailureReason)
			}
			return nil
		},
	}
}

func newListCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List existing blueprints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, cleanup, err := initializeApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			page, err := app.Client.ListBlueprints(app.Ctx, runloop.ListBlueprintsParams{Limit: cfg.ListLimit})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(page.Blueprints) == 0 {
				fmt.Fprintln(out, "no blueprints")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tSTATUS")
			for _, bp := range page.Blueprints {
				fmt.Fprintf(w, "%s\t%s\t%s\n", bp.ID, bp.Name, bp.Status)
			}
			w.Flush()
			if page.HasMore {
				fmt.Fprintf(out, "\nshowing first %d; raise --limit to see more\n", len(page.Blueprints))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&cfg.ListLimit, "limit", cfg.ListLimit, "Maximum number of blueprints to list")
	return cmd
}
