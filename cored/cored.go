// Package cored wires role daemons together: ledger transport, key
// material, identity publication and the poll loop every role runs.
package cored

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/makar21/core-sub000/node"
	"github.com/makar21/core-sub000/pkg/asset"
	"github.com/makar21/core-sub000/pkg/entity"
	"github.com/makar21/core-sub000/pkg/ledger"
	"github.com/makar21/core-sub000/pkg/ledger/badgerledger"
	"github.com/makar21/core-sub000/pkg/ledger/httpledger"
	"github.com/makar21/core-sub000/pkg/ledger/stream"
)

const (
	defLedgerDir     = "ledger.db"
	defLedgerTimeout = 30 * time.Second
)

// LedgerSettings selects the ledger transport: a remote HTTP ledger when
// URL is set, otherwise an embedded badger ledger under Dir.
type LedgerSettings struct {
	URL           string
	Dir           string
	StreamAddress string
	StreamQoS     uint8
	StreamTimeout time.Duration
}

// NodeSettings is the identity side every role shares.
type NodeSettings struct {
	KeyDir string
	Name   string
}

type closer func() error

func openLedger(cfg LedgerSettings) (ledger.Ledger, closer, error) {
	if cfg.URL != "" {
		return httpledger.New(cfg.URL, defLedgerTimeout), func() error { return nil }, nil
	}

	dir := cfg.Dir
	if dir == "" {
		dir = defLedgerDir
	}
	l, err := badgerledger.New(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open embedded ledger: %w", err)
	}

	return l, l.Close, nil
}

func openListener(cfg LedgerSettings, clientID string, logger *slog.Logger) (*stream.Listener, error) {
	if cfg.StreamAddress == "" {
		return nil, nil
	}

	return stream.NewListener(cfg.StreamAddress, clientID, cfg.StreamQoS, cfg.StreamTimeout, logger)
}

// bootstrap opens the ledger, loads the role identity and publishes its
// record. The returned closer releases the ledger.
func bootstrap(ctx context.Context, lcfg LedgerSettings, ncfg NodeSettings, role, nodeType, address string, logger *slog.Logger) (*entity.Store, *node.Identity, closer, error) {
	driver, done, err := openLedger(lcfg)
	if err != nil {
		return nil, nil, nil, err
	}

	client := ledger.NewClient(driver, logger)
	id, err := node.LoadIdentity(ncfg.KeyDir, role, ncfg.Name)
	if err != nil {
		_ = done()

		return nil, nil, nil, fmt.Errorf("failed to load %s identity: %w", role, err)
	}

	store := entity.NewStore(client, id.Keys, asset.NewBatch(client), logger)
	if err := id.Publish(ctx, store, nodeType, address); err != nil {
		_ = done()

		return nil, nil, nil, fmt.Errorf("failed to publish %s identity: %w", role, err)
	}
	logger.Info("node identity published",
		slog.String("role", role),
		slog.String("name", id.Name),
		slog.String("public_key", id.Keys.PublicKey()),
	)

	return store, id, done, nil
}

func newLogger(level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("failed to parse log level: %w", err)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: lvl,
	}))
	slog.SetDefault(logger)

	return logger, nil
}
