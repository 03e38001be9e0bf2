package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"kavitabot/internal/app"
	"kavitabot/internal/config"
	logx "kavitabot/pkg/logx"
)

const stopBudget = 20 * time.Second

func newRootCmd() *cobra.Command {
	var cfgPath string
	root := &cobra.Command{
		Use:          "kavitabot",
		Short:        "Discord bot for a Kavita manga server",
		Long:         "kavitabot answers slash commands about a Kavita library, posts scheduled digests and DMs subscribers about updated series.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), cfgPath)
		},
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", config.DefaultConfigPath(), "path to the config file (yaml or json)")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Connect to Discord and run until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), cfgPath)
		},
	}
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "kavitabot %s\n", version)
		},
	}
	root.AddCommand(runCmd, newJobsCmd(&cfgPath), versionCmd)
	return root
}

// loadConfig reads secrets from the environment (and .env) and parses the
// config file without starting anything.
func loadConfig(path string) (*config.Config, config.Secrets, error) {
	if err := config.LoadDotEnv(); err != nil {
		return nil, config.Secrets{}, fmt.Errorf("load .env: %w", err)
	}
	secrets, err := config.ReadSecrets()
	if err != nil {
		return nil, config.Secrets{}, fmt.Errorf("read environment: %w", err)
	}
	cfg, err := config.NewManager(path, secrets).Parse()
	return cfg, secrets, err
}

func run(parent context.Context, cfgPath string) error {
	_, secrets, err := loadConfig(cfgPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The app's own logger is closed by Stop; shutdown problems go here.
	out := logx.NewConsole("info").With(logx.String("comp", "main"))

	a, err := app.New(config.NewManager(cfgPath, secrets), version)
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		stopApp(out, a, app.StopStartError)
		return err
	}

	select {
	case <-ctx.Done():
	case <-a.Done():
	}
	reason := app.StopSignal
	if ctx.Err() == nil {
		reason = app.StopFatalError
	}
	stopApp(out, a, reason)
	if reason == app.StopFatalError {
		return a.Err()
	}
	return nil
}

type stopper interface {
	Stop(ctx context.Context, reason app.StopReason) error
}

func stopApp(log logx.Logger, a stopper, reason app.StopReason) {
	ctx, cancel := context.WithTimeout(context.Background(), stopBudget)
	defer cancel()
	if err := a.Stop(ctx, reason); err != nil {
		log.Warn("shutdown incomplete", logx.String("reason", string(reason)), logx.Err(err))
	}
}
