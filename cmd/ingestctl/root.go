package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/lyzr/assetingest/cmd/ingest/container"
	"github.com/lyzr/assetingest/common/bootstrap"
	"github.com/lyzr/assetingest/common/logger"
)

var (
	// Wired once per invocation in initializeApp
	appComponents *bootstrap.Components
	appContainer  *container.Container

	// Extra wiring options; tests use them to swap in memory backends
	setupOptions     []bootstrap.Option
	containerOptions []container.Option

	// Global flags
	outputJSON bool
	verbose    bool
	principal  string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "ingestctl",
	Short: "Operate the image asset ingestion pipeline",
	Long: StyleTitle.Render("ingestctl") + " - image asset ingestion\n\n" +
		"Runs the ingestion pipeline directly against the configured blob store\n" +
		"and catalog. Configuration is read from the environment and .env, the\n" +
		"same way the ingest service reads it.",
	SilenceUsage:      true,
	PersistentPreRunE: initializeApp,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute(ctx context.Context) {
	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		os.Exit(1)
	}
}

// run executes one command line and releases whatever it opened, even on failure
func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	err := rootCmd.ExecuteContext(ctx)
	if serr := shutdownApp(ctx); err == nil {
		err = serr
	}
	return err
}

func init() {
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(watchCmd)

	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "Print machine-readable JSON")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log pipeline activity to stderr")
	rootCmd.PersistentFlags().StringVar(&principal, "as", "ingestctl", "Principal recorded as the uploader")
}

func initializeApp(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	level := "warn"
	if verbose {
		level = "debug"
	}

	opts := []bootstrap.Option{
		bootstrap.WithoutTelemetry(),
		bootstrap.WithCustomLogger(logger.NewWithWriter(cmd.ErrOrStderr(), level, "text")),
	}
	opts = append(opts, setupOptions...)

	components, err := bootstrap.Setup(ctx, "ingestctl", opts...)
	if err != nil {
		return fmt.Errorf("failed to bootstrap: %w", err)
	}

	c, err := container.NewContainer(ctx, components, containerOptions...)
	if err != nil {
		components.Shutdown(ctx)
		return fmt.Errorf("failed to initialize services: %w", err)
	}

	// Cleanup failures are reclaimed before the process exits
	go c.Janitor.Start(ctx)

	appComponents = components
	appContainer = c
	return nil
}

func shutdownApp(ctx context.Context) error {
	if appComponents == nil {
		return nil
	}
	err := appComponents.Shutdown(context.WithoutCancel(ctx))
	appComponents, appContainer = nil, nil
	return err
}
