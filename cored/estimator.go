package cored

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/makar21/core-sub000/entities"
	"github.com/makar21/core-sub000/estimator"
	"github.com/makar21/core-sub000/node"
	"github.com/makar21/core-sub000/pkg/objectstore"
	"github.com/makar21/core-sub000/runner"
)

// StartEstimator runs a standalone estimation node until the context ends.
func StartEstimator(ctx context.Context, cancel context.CancelFunc, cfg PerformerConfig) error {
	g, ctx := errgroup.WithContext(ctx)

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}

	store, _, done, err := bootstrap(ctx, cfg.Ledger, cfg.Node, "estimator", entities.TypeEstimatorNode, cfg.Address, logger)
	if err != nil {
		return err
	}
	defer func() { _ = done() }()

	objects := objectstore.NewIPFS(cfg.IPFSURL, cfg.IPFSTimeout)

	var run runner.Runner
	switch cfg.Runtime {
	case RuntimeWasm:
		run = runner.NewWazeroRunner(logger)
	default:
		run = runner.NewHostRunner(logger, cfg.Interpreter, cfg.WorkDir)
	}

	estimateSvc := estimator.NewService(store, objects, run, cfg.WorkDir)

	listener, err := openListener(cfg.Ledger, "estimator-"+cfg.InstanceID, logger)
	if err != nil {
		return fmt.Errorf("failed to connect ledger stream: %w", err)
	}

	g.Go(func() error {
		return node.Poll(ctx, logger, cfg.PollInterval, listener, estimateSvc.ProcessTasks)
	})

	return g.Wait()
}

var estimatorCmd = []cobra.Command{
	{
		Use:   "start",
		Short: "Start estimator",
		Long:  `Start the estimator daemon with default settings.`,
		Run: func(cmd *cobra.Command, _ []string) {
			cfg := PerformerConfig{
				LogLevel:     "info",
				PollInterval: 5 * time.Second,
				IPFSURL:      "http://localhost:5001",
				IPFSTimeout:  time.Minute,
				Node:         NodeSettings{KeyDir: ".keys"},
				WorkDir:      "work",
				Runtime:      RuntimeHost,
				Interpreter:  "python3",
			}
			ctx, cancel := context.WithCancel(cmd.Context())
			if err := StartEstimator(ctx, cancel, cfg); err != nil {
				cmd.PrintErrf("failed to start estimator: %s", err.Error())
			}
			cancel()
		},
	},
}

func NewEstimatorCmd() *cobra.Command {
	cmd := cobra.Command{
		Use:   "estimator [start]",
		Short: "Estimator management",
		Long:  `Start the estimation daemon.`,
	}

	for i := range estimatorCmd {
		cmd.AddCommand(&estimatorCmd[i])
	}

	return &cmd
}
