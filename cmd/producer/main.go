package main

import (
	"context"
	"log"
	"net/url"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/makar21/core-sub000/cored"
	"github.com/makar21/core-sub000/pkg/server"
	"github.com/makar21/core-sub000/producer"
)

const (
	defHTTPPort   = "7070"
	envPrefixHTTP = "PRODUCER_HTTP_"
	pathEnv       = ".env"
)

type envConfig struct {
	LogLevel           string        `env:"PRODUCER_LOG_LEVEL"           envDefault:"info"`
	InstanceID         string        `env:"PRODUCER_INSTANCE_ID"`
	KeyDir             string        `env:"PRODUCER_KEY_DIR"             envDefault:".keys"`
	Name               string        `env:"PRODUCER_NAME"`
	LedgerURL          string        `env:"PRODUCER_LEDGER_URL"`
	LedgerDir          string        `env:"PRODUCER_LEDGER_DIR"          envDefault:"ledger.db"`
	StreamAddress      string        `env:"PRODUCER_STREAM_ADDRESS"`
	StreamQoS          uint8         `env:"PRODUCER_STREAM_QOS"          envDefault:"2"`
	StreamTimeout      time.Duration `env:"PRODUCER_STREAM_TIMEOUT"      envDefault:"30s"`
	IPFSURL            string        `env:"PRODUCER_IPFS_URL"            envDefault:"http://localhost:5001"`
	IPFSTimeout        time.Duration `env:"PRODUCER_IPFS_TIMEOUT"        envDefault:"1m"`
	PaymentURL         string        `env:"PRODUCER_PAYMENT_URL"`
	PollInterval       time.Duration `env:"PRODUCER_POLL_INTERVAL"       envDefault:"5s"`
	WorkerWhitelist    []string      `env:"PRODUCER_WORKER_WHITELIST"    envSeparator:","`
	VerifierWhitelist  []string      `env:"PRODUCER_VERIFIER_WHITELIST"  envSeparator:","`
	EstimatorWhitelist []string      `env:"PRODUCER_ESTIMATOR_WHITELIST" envSeparator:","`
	OTELURL            url.URL       `env:"PRODUCER_OTEL_URL"`
	TraceRatio         float64       `env:"PRODUCER_TRACE_RATIO"         envDefault:"0"`
}

func main() {
	if _, err := os.Stat(pathEnv); err == nil {
		_ = godotenv.Load(pathEnv)
	}

	cfg := envConfig{}
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("failed to load configuration : %s", err.Error())
	}

	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()
	}

	httpServerConfig := server.Config{Port: defHTTPPort}
	if err := env.ParseWithOptions(&httpServerConfig, env.Options{Prefix: envPrefixHTTP}); err != nil {
		log.Fatalf("failed to load HTTP server configuration : %s", err.Error())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := cored.StartProducer(ctx, cancel, cored.ProducerConfig{
		LogLevel:   cfg.LogLevel,
		InstanceID: cfg.InstanceID,
		Ledger: cored.LedgerSettings{
			URL:           cfg.LedgerURL,
			Dir:           cfg.LedgerDir,
			StreamAddress: cfg.StreamAddress,
			StreamQoS:     cfg.StreamQoS,
			StreamTimeout: cfg.StreamTimeout,
		},
		Node: cored.NodeSettings{
			KeyDir: cfg.KeyDir,
			Name:   cfg.Name,
		},
		IPFSURL:      cfg.IPFSURL,
		IPFSTimeout:  cfg.IPFSTimeout,
		PaymentURL:   cfg.PaymentURL,
		PollInterval: cfg.PollInterval,
		Whitelist: producer.Whitelist{
			Workers:    cfg.WorkerWhitelist,
			Verifiers:  cfg.VerifierWhitelist,
			Estimators: cfg.EstimatorWhitelist,
		},
		Server:     httpServerConfig,
		OTELURL:    cfg.OTELURL,
		TraceRatio: cfg.TraceRatio,
	})
	if err != nil {
		log.Fatalf("producer service exited with error: %s", err.Error())
	}
}
