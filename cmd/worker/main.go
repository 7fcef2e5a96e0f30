package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/makar21/core-sub000/cored"
)

const pathEnv = ".env"

type envConfig struct {
	LogLevel      string        `env:"WORKER_LOG_LEVEL"      envDefault:"info"`
	InstanceID    string        `env:"WORKER_INSTANCE_ID"`
	KeyDir        string        `env:"WORKER_KEY_DIR"        envDefault:".keys"`
	Name          string        `env:"WORKER_NAME"`
	LedgerURL     string        `env:"WORKER_LEDGER_URL"`
	LedgerDir     string        `env:"WORKER_LEDGER_DIR"     envDefault:"ledger.db"`
	StreamAddress string        `env:"WORKER_STREAM_ADDRESS"`
	StreamQoS     uint8         `env:"WORKER_STREAM_QOS"     envDefault:"2"`
	StreamTimeout time.Duration `env:"WORKER_STREAM_TIMEOUT" envDefault:"30s"`
	IPFSURL       string        `env:"WORKER_IPFS_URL"       envDefault:"http://localhost:5001"`
	IPFSTimeout   time.Duration `env:"WORKER_IPFS_TIMEOUT"   envDefault:"1m"`
	PollInterval  time.Duration `env:"WORKER_POLL_INTERVAL"  envDefault:"5s"`
	WorkDir       string        `env:"WORKER_WORK_DIR"       envDefault:"work"`
	Runtime       string        `env:"WORKER_RUNTIME"        envDefault:"host"`
	Interpreter   string        `env:"WORKER_INTERPRETER"    envDefault:"python3"`
	Address       string        `env:"WORKER_PAYMENT_ADDRESS"`
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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := cored.StartWorker(ctx, cancel, cored.PerformerConfig{
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
		PollInterval: cfg.PollInterval,
		WorkDir:      cfg.WorkDir,
		Runtime:      cfg.Runtime,
		Interpreter:  cfg.Interpreter,
		Address:      cfg.Address,
	})
	if err != nil {
		log.Fatalf("worker service exited with error: %s", err.Error())
	}
}
