// Package node carries what every role shares: key material bootstrap,
// identity publication on the ledger and the poll loop the role state
// machines run in.
package node

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/0x6flab/namegenerator"

	"github.com/makar21/core-sub000/entities"
	"github.com/makar21/core-sub000/pkg/crypto"
	"github.com/makar21/core-sub000/pkg/entity"
	"github.com/makar21/core-sub000/pkg/ledger/stream"
)

var namegen = namegenerator.NewGenerator()

// Identity is a node's key material and its published ledger record.
type Identity struct {
	Name string
	Keys *crypto.KeyPair
	Info *entities.NodeInfo
}

// LoadIdentity reads the role's keypair from keyDir, generating and
// saving a fresh one on first start. An empty name gets a generated one.
func LoadIdentity(keyDir, role, name string) (*Identity, error) {
	keys, err := crypto.Load(keyDir, role)
	if errors.Is(err, os.ErrNotExist) {
		keys, err = crypto.Generate()
		if err != nil {
			return nil, err
		}
		if err := keys.Save(keyDir, role); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}

	if name == "" {
		name = namegen.Generate()
	}

	return &Identity{Name: name, Keys: keys}, nil
}

// Publish writes the role's identity record. Record creation dedupes on
// identical data, so republishing on every start is safe.
func (id *Identity) Publish(ctx context.Context, store *entity.Store, typ, address string) error {
	info := entities.NewNodeInfo(typ)
	info.Name = id.Name
	info.EncryptionKey = id.Keys.EncryptionKey()
	info.Address = address

	if err := store.Create(ctx, info); err != nil {
		return err
	}
	id.Info = info

	return nil
}

// Poll runs fn every interval until ctx is done, waking early on ledger
// stream events when a listener is given. fn errors are logged, not
// fatal; the next pass starts from ledger state again.
func Poll(ctx context.Context, logger *slog.Logger, interval time.Duration, listener *stream.Listener, fn func(ctx context.Context) error) error {
	var events <-chan stream.Event
	if listener != nil {
		ch, err := listener.Events(ctx)
		if err != nil {
			return err
		}
		events = ch
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := fn(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Error("poll pass failed", slog.String("error", err.Error()))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-events:
			// Drain bursts so one commit storm triggers one pass.
			for {
				select {
				case <-events:
					continue
				default:
				}

				break
			}
		}
	}
}
