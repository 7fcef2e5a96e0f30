// Package ledger models transactions on the replicated asset ledger and
// provides a retrying client on top of a pluggable driver.
//
// Every coordination record in the system is an asset: a CREATE transaction
// carrying immutable data followed by a chain of TRANSFER transactions, each
// replacing the metadata and possibly the owning public keys. Transaction
// ids are content derived, so resubmitting the same transaction always
// yields the same id.
package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
)

type Operation string

const (
	OpCreate   Operation = "CREATE"
	OpTransfer Operation = "TRANSFER"
)

var (
	// ErrConnection wraps transport failures. The client retries these.
	ErrConnection = errors.New("ledger connection error")
	// ErrDuplicateTransaction is reported when the exact transaction is
	// already committed. Treated as success by the client.
	ErrDuplicateTransaction = errors.New("duplicate transaction")
	// ErrDoubleSpend is reported when the spent output has already been
	// consumed by an identical racing submission. Treated as success by
	// the client.
	ErrDoubleSpend = errors.New("double spend")
	// ErrInvalidTransaction covers malformed or improperly signed
	// transactions. Never retried.
	ErrInvalidTransaction = errors.New("invalid transaction")
)

// AssetRef is either inline CREATE data or a reference to the asset a
// TRANSFER belongs to.
type AssetRef struct {
	Data map[string]any `json:"data,omitempty"`
	ID   string         `json:"id,omitempty"`
}

// OutputLink points an input at the output it spends.
type OutputLink struct {
	TransactionID string `json:"transaction_id"`
	OutputIndex   int    `json:"output_index"`
}

type Output struct {
	PublicKeys []string `json:"public_keys"`
	Condition  string   `json:"condition"`
}

type Input struct {
	OwnersBefore []string    `json:"owners_before"`
	Fulfills     *OutputLink `json:"fulfills"`
	Fulfillment  string      `json:"fulfillment"`
}

type Transaction struct {
	ID        string         `json:"id"`
	Operation Operation      `json:"operation"`
	Asset     AssetRef       `json:"asset"`
	Metadata  map[string]any `json:"metadata"`
	Inputs    []Input        `json:"inputs"`
	Outputs   []Output       `json:"outputs"`
}

// AssetID is the stable asset identifier the transaction belongs to. For
// CREATE transactions the asset id equals the transaction id.
func (t Transaction) AssetID() string {
	if t.Operation == OpCreate {
		return t.ID
	}

	return t.Asset.ID
}

// Recipients are the public keys owning the asset after this transaction.
func (t Transaction) Recipients() []string {
	var keys []string
	for _, out := range t.Outputs {
		keys = append(keys, out.PublicKeys...)
	}

	return keys
}

// SigningPayload is the canonical serialization the id and the input
// fulfillments are computed over.
func (t Transaction) SigningPayload() []byte {
	unsigned := t
	unsigned.ID = ""
	unsigned.Inputs = make([]Input, len(t.Inputs))
	for i, in := range t.Inputs {
		in.Fulfillment = ""
		unsigned.Inputs[i] = in
	}

	payload, err := json.Marshal(unsigned)
	if err != nil {
		// Transactions are built from JSON-safe maps only.
		panic(err)
	}

	return payload
}

// ComputeID derives the content-addressed transaction id.
func ComputeID(t Transaction) string {
	sum := sha256.Sum256(t.SigningPayload())

	return hex.EncodeToString(sum[:])
}

// QueryOptions narrows a Query to assets created by a given public key and
// pages through results.
type QueryOptions struct {
	CreatedBy string
	Skip      int
	Limit     int
}

// Ledger is the transaction API a driver must expose. Drivers report raw
// ledger errors; retry policy lives in Client.
type Ledger interface {
	// Submit validates and appends a signed transaction, returning the
	// committed form.
	Submit(ctx context.Context, tx Transaction) (Transaction, error)
	// IsCommitted reports whether the block holding the transaction is
	// committed.
	IsCommitted(ctx context.Context, txID string) (bool, error)
	// GetTransactions returns the full chain for an asset, CREATE first.
	GetTransactions(ctx context.Context, assetID string) ([]Transaction, error)
	// Query returns ids of assets whose CREATE data contains every
	// key/value pair in match.
	Query(ctx context.Context, match map[string]any, opts QueryOptions) ([]string, error)
}
