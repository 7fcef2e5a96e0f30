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
	"github.com/makar21/core-sub000/worker"
)

const (
	RuntimeHost = "host"
	RuntimeWasm = "wasm"
)

type PerformerConfig struct {
	LogLevel     string
	InstanceID   string
	Ledger       LedgerSettings
	Node         NodeSettings
	IPFSURL      string
	IPFSTimeout  time.Duration
	PollInterval time.Duration
	WorkDir      string
	Runtime      string
	Interpreter  string
	// Address is the payment address payouts for this node go to.
	Address string
}

// StartWorker runs the training and estimation capabilities of a worker
// node until the context ends.
func StartWorker(ctx context.Context, cancel context.CancelFunc, cfg PerformerConfig) error {
	g, ctx := errgroup.WithContext(ctx)

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}

	store, _, done, err := bootstrap(ctx, cfg.Ledger, cfg.Node, "worker", entities.TypeWorkerNode, cfg.Address, logger)
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

	trainSvc := worker.NewService(store, objects, run, cfg.WorkDir)
	estimateSvc := estimator.NewService(store, objects, run, cfg.WorkDir)

	listener, err := openListener(cfg.Ledger, "worker-"+cfg.InstanceID, logger)
	if err != nil {
		return fmt.Errorf("failed to connect ledger stream: %w", err)
	}

	g.Go(func() error {
		return node.Poll(ctx, logger, cfg.PollInterval, listener, func(ctx context.Context) error {
			if err := trainSvc.ProcessTasks(ctx); err != nil {
				return err
			}

			return estimateSvc.ProcessTasks(ctx)
		})
	})

	return g.Wait()
}

var workerCmd = []cobra.Command{
	{
		Use:   "start",
		Short: "Start worker",
		Long:  `Start the worker daemon with default settings.`,
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
			if err := StartWorker(ctx, cancel, cfg); err != nil {
				cmd.PrintErrf("failed to start worker: %s", err.Error())
			}
			cancel()
		},
	},
}

func NewWorkerCmd() *cobra.Command {
	cmd := cobra.Command{
		Use:   "worker [start]",
		Short: "Worker management",
		Long:  `Start the training worker daemon.`,
	}

	for i := range workerCmd {
		cmd.AddCommand(&workerCmd[i])
	}

	return &cmd
}
