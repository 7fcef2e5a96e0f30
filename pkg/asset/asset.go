// Package asset wraps an on-ledger asset: a CREATE transaction carrying
// immutable data followed by TRANSFER transactions that replace metadata
// and ownership. The current logical state of an asset is its CREATE data
// merged with the metadata of its latest transaction.
package asset

import (
	"context"
	"fmt"
	"time"

	pkgerrors "github.com/makar21/core-sub000/pkg/errors"
	"github.com/makar21/core-sub000/pkg/ledger"
)

const (
	createdAtKey  = "created_at"
	modifiedAtKey = "modified_at"

	conditionEd25519 = "ed25519-sha-256"
)

// Client is the slice of the ledger client the asset layer needs.
type Client interface {
	Submit(ctx context.Context, tx ledger.Transaction) (ledger.Transaction, error)
	GetTransactions(ctx context.Context, assetID string) ([]ledger.Transaction, error)
	Query(ctx context.Context, match map[string]any, opts ledger.QueryOptions) ([]string, error)
	WaitCommitted(ctx context.Context, txIDs ...string) error
}

// Signer produces ledger signatures for one identity.
type Signer interface {
	PublicKey() string
	Sign(msg []byte) string
}

type Asset struct {
	client Client
	signer Signer
	batch  *Batch
	id     string
	txs    []ledger.Transaction
}

// Create builds and submits a CREATE transaction. If an asset with the same
// immutable data already exists for this signer, the existing asset is
// returned instead, and any metadata or recipient drift is reconciled by
// immediately appending a TRANSFER.
func Create(ctx context.Context, client Client, signer Signer, data, metadata map[string]any, recipients []string, batch *Batch) (*Asset, error) {
	metadata = withTimestamp(metadata, modifiedAtKey)

	// Dedupe on the caller's data, before the creation timestamp makes the
	// payload unique.
	existing, err := client.Query(ctx, data, ledger.QueryOptions{CreatedBy: signer.PublicKey(), Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		a, err := Load(ctx, client, signer, existing[0], batch)
		if err != nil {
			return nil, err
		}
		if a.driftsFrom(metadata, recipients) {
			if err := a.Save(ctx, metadata, recipients); err != nil {
				return nil, err
			}
		}

		return a, nil
	}

	data = withTimestamp(data, createdAtKey)
	if len(recipients) == 0 {
		recipients = []string{signer.PublicKey()}
	}

	tx := ledger.Transaction{
		Operation: ledger.OpCreate,
		Asset:     ledger.AssetRef{Data: data},
		Metadata:  metadata,
		Inputs: []ledger.Input{{
			OwnersBefore: []string{signer.PublicKey()},
		}},
		Outputs: []ledger.Output{{
			PublicKeys: recipients,
			Condition:  conditionEd25519,
		}},
	}
	tx.ID = ledger.ComputeID(tx)
	tx.Inputs[0].Fulfillment = signer.Sign(tx.SigningPayload())

	committed, err := client.Submit(ctx, tx)
	if err != nil {
		return nil, err
	}

	a := &Asset{
		client: client,
		signer: signer,
		batch:  batch,
		id:     committed.ID,
		txs:    []ledger.Transaction{committed},
	}
	a.deferOrWait(ctx, committed.ID)

	return a, nil
}

func Load(ctx context.Context, client Client, signer Signer, id string, batch *Batch) (*Asset, error) {
	txs, err := client.GetTransactions(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(txs) == 0 {
		return nil, fmt.Errorf("%w: asset %s", pkgerrors.ErrNotFound, id)
	}

	return &Asset{
		client: client,
		signer: signer,
		batch:  batch,
		id:     id,
		txs:    txs,
	}, nil
}

func (a *Asset) ID() string {
	return a.id
}

// Data is the immutable CREATE payload.
func (a *Asset) Data() map[string]any {
	return a.txs[0].Asset.Data
}

// Metadata is the mutable payload of the latest transaction.
func (a *Asset) Metadata() map[string]any {
	return a.txs[len(a.txs)-1].Metadata
}

// InitialMetadata is the mutable payload the asset was created with.
func (a *Asset) InitialMetadata() map[string]any {
	return a.txs[0].Metadata
}

func (a *Asset) Recipients() []string {
	return a.txs[len(a.txs)-1].Recipients()
}

func (a *Asset) CreatedBy() string {
	return a.txs[0].Inputs[0].OwnersBefore[0]
}

func (a *Asset) CreatedAt() time.Time {
	return parseTime(a.Data()[createdAtKey])
}

func (a *Asset) ModifiedAt() time.Time {
	if ts := parseTime(a.Metadata()[modifiedAtKey]); !ts.IsZero() {
		return ts
	}

	return a.CreatedAt()
}

func (a *Asset) Transactions() []ledger.Transaction {
	return a.txs
}

// Save appends a TRANSFER replacing metadata and, when recipients is
// non-empty, ownership. The chain tip must be confirmed before the next
// transaction may build on it; inside a batch the confirmation is deferred
// to the outermost batch exit, since the ledger orders chained submissions
// from the same client.
func (a *Asset) Save(ctx context.Context, metadata map[string]any, recipients []string) error {
	tip := a.txs[len(a.txs)-1]

	if a.batch == nil || !a.batch.Active() {
		if err := a.client.WaitCommitted(ctx, tip.ID); err != nil {
			return err
		}
	}

	if len(recipients) == 0 {
		recipients = []string{a.signer.PublicKey()}
	}
	metadata = withTimestamp(metadata, modifiedAtKey)

	tx := ledger.Transaction{
		Operation: ledger.OpTransfer,
		Asset:     ledger.AssetRef{ID: a.id},
		Metadata:  metadata,
		Inputs: []ledger.Input{{
			OwnersBefore: []string{a.signer.PublicKey()},
			Fulfills: &ledger.OutputLink{
				TransactionID: tip.ID,
				OutputIndex:   0,
			},
		}},
		Outputs: []ledger.Output{{
			PublicKeys: recipients,
			Condition:  conditionEd25519,
		}},
	}
	tx.ID = ledger.ComputeID(tx)
	tx.Inputs[0].Fulfillment = a.signer.Sign(tx.SigningPayload())

	committed, err := a.client.Submit(ctx, tx)
	if err != nil {
		return err
	}

	a.txs = append(a.txs, committed)
	a.deferOrWait(ctx, committed.ID)

	return nil
}

func (a *Asset) deferOrWait(_ context.Context, txID string) {
	if a.batch != nil && a.batch.Active() {
		a.batch.Defer(txID)
	}
	// Outside a batch the confirmation happens lazily: the next Save on
	// this asset waits on the tip before appending.
}

func (a *Asset) driftsFrom(metadata map[string]any, recipients []string) bool {
	current := a.Metadata()
	for k, v := range metadata {
		if k == modifiedAtKey {
			continue
		}
		if fmt.Sprintf("%v", current[k]) != fmt.Sprintf("%v", v) {
			return true
		}
	}
	if len(recipients) == 0 {
		return false
	}
	owners := a.Recipients()
	if len(owners) != len(recipients) {
		return true
	}
	for i := range owners {
		if owners[i] != recipients[i] {
			return true
		}
	}

	return false
}

func withTimestamp(m map[string]any, key string) map[string]any {
	out := make(map[string]any, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	if _, ok := out[key]; !ok {
		out[key] = time.Now().UTC().Format(time.RFC3339Nano)
	}

	return out
}

func parseTime(v any) time.Time {
	s, ok := v.(string)
	if !ok {
		return time.Time{}
	}
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}

	return ts
}
