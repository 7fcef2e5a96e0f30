// Package badgerledger is an embedded, single-process implementation of the
// ledger driver on top of BadgerDB. It applies the same validation rules a
// replicated ledger node would: content-derived transaction ids, duplicate
// CREATE detection, spend-from-tip chaining and owner-only transfers. It
// backs local development mode and the test suite.
package badgerledger

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/makar21/core-sub000/pkg/crypto"
	pkgerrors "github.com/makar21/core-sub000/pkg/errors"
	"github.com/makar21/core-sub000/pkg/ledger"
)

const (
	txPrefix     = "tx/"
	chainPrefix  = "chain/"
	createPrefix = "create/"
	spentPrefix  = "spent/"
)

type Ledger struct {
	db *badger.DB
}

var _ ledger.Ledger = (*Ledger)(nil)

// New opens an embedded ledger at path. An empty path opens an in-memory
// instance, used by tests.
func New(path string) (*Ledger, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ledger.ErrConnection, err)
	}

	return &Ledger{db: db}, nil
}

func (l *Ledger) Close() error {
	return l.db.Close()
}

func (l *Ledger) Submit(_ context.Context, tx ledger.Transaction) (ledger.Transaction, error) {
	if err := validateShape(tx); err != nil {
		return ledger.Transaction{}, err
	}

	err := l.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(txPrefix + tx.ID)); err == nil {
			return ledger.ErrDuplicateTransaction
		}

		switch tx.Operation {
		case ledger.OpCreate:
			if err := l.applyCreate(txn, tx); err != nil {
				return err
			}
		case ledger.OpTransfer:
			if err := l.applyTransfer(txn, tx); err != nil {
				return err
			}
		default:
			return fmt.Errorf("%w: unknown operation %q", ledger.ErrInvalidTransaction, tx.Operation)
		}

		raw, err := json.Marshal(tx)
		if err != nil {
			return err
		}

		return txn.Set([]byte(txPrefix+tx.ID), raw)
	})
	if err != nil {
		return ledger.Transaction{}, err
	}

	return tx, nil
}

func (l *Ledger) applyCreate(txn *badger.Txn, tx ledger.Transaction) error {
	assetID := tx.ID

	data, err := json.Marshal(tx.Asset.Data)
	if err != nil {
		return err
	}
	if err := txn.Set([]byte(createPrefix+assetID), data); err != nil {
		return err
	}

	return setChain(txn, assetID, []string{tx.ID})
}

func (l *Ledger) applyTransfer(txn *badger.Txn, tx ledger.Transaction) error {
	assetID := tx.Asset.ID
	chain, err := getChain(txn, assetID)
	if err != nil {
		return fmt.Errorf("%w: unknown asset %s", ledger.ErrInvalidTransaction, assetID)
	}

	in := tx.Inputs[0]
	if in.Fulfills == nil {
		return fmt.Errorf("%w: transfer without fulfills", ledger.ErrInvalidTransaction)
	}

	spentKey := spentPrefix + in.Fulfills.TransactionID
	if _, err := txn.Get([]byte(spentKey)); err == nil {
		return ledger.ErrDoubleSpend
	}

	tip := chain[len(chain)-1]
	if in.Fulfills.TransactionID != tip {
		return fmt.Errorf("%w: transfer does not spend the chain tip", ledger.ErrInvalidTransaction)
	}

	tipTx, err := getTransaction(txn, tip)
	if err != nil {
		return err
	}
	if !isOwner(tipTx, in.OwnersBefore) {
		return fmt.Errorf("%w: signer does not own the spent output", ledger.ErrInvalidTransaction)
	}

	if err := txn.Set([]byte(spentKey), []byte(tx.ID)); err != nil {
		return err
	}

	return setChain(txn, assetID, append(chain, tx.ID))
}

func (l *Ledger) IsCommitted(_ context.Context, txID string) (bool, error) {
	// The embedded ledger has no block lag: a stored transaction is
	// committed by definition.
	err := l.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(txPrefix + txID))

		return err
	})
	if err == badger.ErrKeyNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	return true, nil
}

func (l *Ledger) GetTransactions(_ context.Context, assetID string) ([]ledger.Transaction, error) {
	var txs []ledger.Transaction
	err := l.db.View(func(txn *badger.Txn) error {
		chain, err := getChain(txn, assetID)
		if err != nil {
			return fmt.Errorf("%w: asset %s", pkgerrors.ErrNotFound, assetID)
		}
		for _, txID := range chain {
			tx, err := getTransaction(txn, txID)
			if err != nil {
				return err
			}
			txs = append(txs, tx)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return txs, nil
}

func (l *Ledger) Query(_ context.Context, match map[string]any, opts ledger.QueryOptions) ([]string, error) {
	var ids []string
	err := l.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte(createPrefix)})
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			raw, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			var data map[string]any
			if err := json.Unmarshal(raw, &data); err != nil {
				return err
			}
			if !matches(data, match) {
				continue
			}

			assetID := strings.TrimPrefix(string(item.Key()), createPrefix)
			if opts.CreatedBy != "" {
				tx, err := getTransaction(txn, assetID)
				if err != nil {
					return err
				}
				if len(tx.Inputs) == 0 || !contains(tx.Inputs[0].OwnersBefore, opts.CreatedBy) {
					continue
				}
			}
			ids = append(ids, assetID)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(ids)
	if opts.Skip > 0 {
		if opts.Skip >= len(ids) {
			return nil, nil
		}
		ids = ids[opts.Skip:]
	}
	if opts.Limit > 0 && opts.Limit < len(ids) {
		ids = ids[:opts.Limit]
	}

	return ids, nil
}

func validateShape(tx ledger.Transaction) error {
	if tx.ID == "" || len(tx.Inputs) == 0 || len(tx.Outputs) == 0 {
		return fmt.Errorf("%w: missing id, inputs or outputs", ledger.ErrInvalidTransaction)
	}
	if ledger.ComputeID(tx) != tx.ID {
		return fmt.Errorf("%w: id does not match payload", ledger.ErrInvalidTransaction)
	}

	payload := tx.SigningPayload()
	for _, in := range tx.Inputs {
		if len(in.OwnersBefore) == 0 {
			return fmt.Errorf("%w: input without owners", ledger.ErrInvalidTransaction)
		}
		if !crypto.Verify(in.OwnersBefore[0], payload, in.Fulfillment) {
			return fmt.Errorf("%w: bad fulfillment", ledger.ErrInvalidTransaction)
		}
	}

	return nil
}

func isOwner(tip ledger.Transaction, owners []string) bool {
	for _, owner := range owners {
		if contains(tip.Recipients(), owner) {
			return true
		}
	}

	return false
}

func contains(keys []string, key string) bool {
	for _, k := range keys {
		if k == key {
			return true
		}
	}

	return false
}

// matches requires every match entry to equal the stored CREATE data value
// after JSON normalization, so numeric types compare consistently.
func matches(data, match map[string]any) bool {
	for k, want := range match {
		got, ok := data[k]
		if !ok {
			return false
		}
		wantRaw, err := json.Marshal(want)
		if err != nil {
			return false
		}
		gotRaw, err := json.Marshal(got)
		if err != nil {
			return false
		}
		if string(wantRaw) != string(gotRaw) {
			return false
		}
	}

	return true
}

func getChain(txn *badger.Txn, assetID string) ([]string, error) {
	item, err := txn.Get([]byte(chainPrefix + assetID))
	if err != nil {
		return nil, err
	}
	raw, err := item.ValueCopy(nil)
	if err != nil {
		return nil, err
	}
	var chain []string
	if err := json.Unmarshal(raw, &chain); err != nil {
		return nil, err
	}

	return chain, nil
}

func setChain(txn *badger.Txn, assetID string, chain []string) error {
	raw, err := json.Marshal(chain)
	if err != nil {
		return err
	}

	return txn.Set([]byte(chainPrefix+assetID), raw)
}

func getTransaction(txn *badger.Txn, txID string) (ledger.Transaction, error) {
	item, err := txn.Get([]byte(txPrefix + txID))
	if err != nil {
		return ledger.Transaction{}, err
	}
	raw, err := item.ValueCopy(nil)
	if err != nil {
		return ledger.Transaction{}, err
	}
	var tx ledger.Transaction
	if err := json.Unmarshal(raw, &tx); err != nil {
		return ledger.Transaction{}, err
	}

	return tx, nil
}
