package cored

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"

	"github.com/makar21/core-sub000/entities"
	"github.com/makar21/core-sub000/node"
	"github.com/makar21/core-sub000/pkg/objectstore"
	"github.com/makar21/core-sub000/pkg/payment"
	"github.com/makar21/core-sub000/pkg/prometheus"
	"github.com/makar21/core-sub000/pkg/server"
	httpserver "github.com/makar21/core-sub000/pkg/server/http"
	"github.com/makar21/core-sub000/pkg/tracing"
	"github.com/makar21/core-sub000/producer"
	"github.com/makar21/core-sub000/producer/api"
	"github.com/makar21/core-sub000/producer/middleware"
)

const producerSvcName = "producer"

type ProducerConfig struct {
	LogLevel     string
	InstanceID   string
	Ledger       LedgerSettings
	Node         NodeSettings
	IPFSURL      string
	IPFSTimeout  time.Duration
	PaymentURL   string
	PollInterval time.Duration
	Whitelist    producer.Whitelist
	Server       server.Config
	OTELURL      url.URL
	TraceRatio   float64
}

// StartProducer runs the producer state machine and its HTTP API until
// the context ends.
func StartProducer(ctx context.Context, cancel context.CancelFunc, cfg ProducerConfig) error {
	g, ctx := errgroup.WithContext(ctx)

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}

	var tp trace.TracerProvider
	switch {
	case cfg.OTELURL == (url.URL{}):
		tp = noop.NewTracerProvider()
	default:
		sdktp, err := tracing.NewProvider(ctx, producerSvcName, cfg.OTELURL, cfg.InstanceID, cfg.TraceRatio)
		if err != nil {
			return fmt.Errorf("failed to initialize opentelemetry: %w", err)
		}
		defer func() {
			if err := sdktp.Shutdown(ctx); err != nil {
				logger.Error("error shutting down tracer provider", slog.Any("error", err))
			}
		}()
		tp = sdktp
	}
	tracer := tp.Tracer(producerSvcName)

	store, _, done, err := bootstrap(ctx, cfg.Ledger, cfg.Node, producerSvcName, entities.TypeProducerNode, "", logger)
	if err != nil {
		return err
	}
	defer func() { _ = done() }()

	objects := objectstore.NewIPFS(cfg.IPFSURL, cfg.IPFSTimeout)

	var bridge payment.Bridge
	switch cfg.PaymentURL {
	case "":
		bridge = payment.NewFake()
	default:
		bridge = payment.NewHTTPGateway(cfg.PaymentURL, defLedgerTimeout)
	}

	svc := producer.NewService(store, objects, bridge, cfg.Whitelist)
	svc = middleware.Logging(logger, svc)
	svc = middleware.Tracing(tracer, svc)
	counter, latency := prometheus.MakeMetrics(producerSvcName, "api")
	svc = middleware.Metrics(counter, latency, svc)

	listener, err := openListener(cfg.Ledger, producerSvcName+"-"+cfg.InstanceID, logger)
	if err != nil {
		return fmt.Errorf("failed to connect ledger stream: %w", err)
	}

	g.Go(func() error {
		return node.Poll(ctx, logger, cfg.PollInterval, listener, svc.ProcessTasks)
	})

	hs := httpserver.NewServer(ctx, cancel, producerSvcName, cfg.Server, api.MakeHandler(svc, logger, cfg.InstanceID), logger)
	g.Go(func() error {
		return hs.Start()
	})
	g.Go(func() error {
		return server.StopSignalHandler(ctx, cancel, logger, producerSvcName, hs)
	})

	return g.Wait()
}

var producerCmd = []cobra.Command{
	{
		Use:   "start",
		Short: "Start producer",
		Long:  `Start the producer daemon with default settings.`,
		Run: func(cmd *cobra.Command, _ []string) {
			cfg := ProducerConfig{
				LogLevel:     "info",
				PollInterval: 5 * time.Second,
				IPFSURL:      "http://localhost:5001",
				IPFSTimeout:  time.Minute,
				Node:         NodeSettings{KeyDir: ".keys"},
				Server:       server.Config{Port: "7070"},
			}
			ctx, cancel := context.WithCancel(cmd.Context())
			if err := StartProducer(ctx, cancel, cfg); err != nil {
				cmd.PrintErrf("failed to start producer: %s", err.Error())
			}
			cancel()
		},
	},
}

func NewProducerCmd() *cobra.Command {
	cmd := cobra.Command{
		Use:   "producer [start]",
		Short: "Producer management",
		Long:  `Start the task producer daemon.`,
	}

	for i := range producerCmd {
		cmd.AddCommand(&producerCmd[i])
	}

	return &cmd
}
