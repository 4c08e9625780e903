package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yzernik/squeakroad-sub000/internal/config"
	"github.com/yzernik/squeakroad-sub000/internal/logging"
	"github.com/yzernik/squeakroad-sub000/internal/node"
)

// version is overridden at link time with -ldflags "-X main.version=...".
var version = "dev"

func newRootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:           "squeaknode",
		Short:         "Run a squeaknode peer",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath)
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Start the node and block until interrupted",
			RunE: func(cmd *cobra.Command, args []string) error {
				return run(cmd.Context(), configPath)
			},
		},
		&cobra.Command{
			Use:   "config",
			Short: "Print the effective configuration as YAML",
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := config.Load(configPath)
				if err != nil {
					return err
				}
				out, err := cfg.Dump()
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(out)
				return err
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "squeaknode %s\n", version)
			},
		},
	)
	return root
}

func run(ctx context.Context, configPath string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := logging.New(cfg.Log)
	app, err := node.NewApp(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("squeaknode init: %w", err)
	}
	if err := app.Start(ctx); err != nil {
		app.Shutdown()
		return fmt.Errorf("squeaknode start: %w", err)
	}
	node.WaitForShutdown(app)
	return nil
}
