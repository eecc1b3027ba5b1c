// Command engine is a local, non-networked driver that wires the block
// builder, an in-memory storage backend and the loaded config together
// for manual runs during development. It is not a REST server — use
// `engine run` to start the builder loop.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	_ "go.uber.org/automaxprocs"

	"github.com/essential-contributions/essential-core/core/builder"
	"github.com/essential-contributions/essential-core/core/checker"
	"github.com/essential-contributions/essential-core/core/statevm"
	"github.com/essential-contributions/essential-core/core/storage"
	pkgconfig "github.com/essential-contributions/essential-core/pkg/config"
)

var log = logrus.WithField("component", "engine")

func main() {
	rootCmd := &cobra.Command{Use: "engine"}
	rootCmd.AddCommand(runCmd())
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	var env string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "run the block builder loop against an in-memory store until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := pkgconfig.Load(env)
			if err != nil {
				return fmt.Errorf("engine: %w", err)
			}
			configureLogging(cfg.Logging.Level)

			store := storage.NewInMemory()
			gasLimit := statevm.GasLimit{
				Total:    statevm.Unlimited,
				PerYield: statevm.DefaultPerYield,
			}
			if cfg.Engine.GasLimitTotal > 0 {
				gasLimit.Total = cfg.Engine.GasLimitTotal
			}
			if cfg.Engine.GasLimitPerYield > 0 {
				gasLimit.PerYield = cfg.Engine.GasLimitPerYield
			}

			chk, err := checker.New(store, gasLimit)
			if err != nil {
				return fmt.Errorf("engine: %w", err)
			}

			bcfg := builder.DefaultConfig()
			if cfg.Engine.RunLoopIntervalMS > 0 {
				bcfg.RunLoopInterval = cfg.RunLoopInterval()
			}
			if cfg.Engine.PruneFailedAfterMS > 0 {
				bcfg.PruneFailedAfter = cfg.PruneFailedAfter()
			}
			b := builder.New(bcfg, store, chk)

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			log.WithField("interval", bcfg.RunLoopInterval).Info("starting builder loop")
			if err := b.Run(ctx); err != nil && ctx.Err() == nil {
				return err
			}
			log.Info("builder loop stopped")
			return nil
		},
	}
	cmd.Flags().StringVar(&env, "env", "", "config environment to merge over default.yaml")
	return cmd
}

func configureLogging(level string) {
	logrus.SetFormatter(&logrus.JSONFormatter{})
	if lvl, err := logrus.ParseLevel(level); err == nil {
		logrus.SetLevel(lvl)
	}
}
