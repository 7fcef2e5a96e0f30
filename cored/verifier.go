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
	"github.com/makar21/core-sub000/verifier"
)

// StartVerifier runs the verification and estimation capabilities of a
// verifier node until the context ends.
func StartVerifier(ctx context.Context, cancel context.CancelFunc, cfg PerformerConfig) error {
	g, ctx := errgroup.WithContext(ctx)

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}

	store, _, done, err := bootstrap(ctx, cfg.Ledger, cfg.Node, "verifier", entities.TypeVerifierNode, cfg.Address, logger)
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

	verifySvc := verifier.NewService(store, objects, run, cfg.WorkDir)
	estimateSvc := estimator.NewService(store, objects, run, cfg.WorkDir)

	listener, err := openListener(cfg.Ledger, "verifier-"+cfg.InstanceID, logger)
	if err != nil {
		return fmt.Errorf("failed to connect ledger stream: %w", err)
	}

	g.Go(func() error {
		return node.Poll(ctx, logger, cfg.PollInterval, listener, func(ctx context.Context) error {
			if err := verifySvc.ProcessTasks(ctx); err != nil {
				return err
			}

			return estimateSvc.ProcessTasks(ctx)
		})
	})

	return g.Wait()
}

var verifierCmd = []cobra.Command{
	{
		Use:   "start",
		Short: "Start verifier",
		Long:  `Start the verifier daemon with default settings.`,
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
			if err := StartVerifier(ctx, cancel, cfg); err != nil {
				cmd.PrintErrf("failed to start verifier: %s", err.Error())
			}
			cancel()
		},
	},
}

func NewVerifierCmd() *cobra.Command {
	cmd := cobra.Command{
		Use:   "verifier [start]",
		Short: "Verifier management",
		Long:  `Start the verification daemon.`,
	}

	for i := range verifierCmd {
		cmd.AddCommand(&verifierCmd[i])
	}

	return &cmd
}
