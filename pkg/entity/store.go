package entity

import (
	"context"
	"fmt"
	"iter"
	"log/slog"

	"github.com/makar21/core-sub000/pkg/asset"
	"github.com/makar21/core-sub000/pkg/crypto"
	pkgerrors "github.com/makar21/core-sub000/pkg/errors"
	"github.com/makar21/core-sub000/pkg/ledger"
)

const typeKey = "type"

// Keys is the key material a store reads and writes records with.
type Keys interface {
	asset.Signer
	EncryptionKey() string
	Decrypt(ciphertext string) ([]byte, error)
}

// Store reads and writes records on the ledger on behalf of one identity.
type Store struct {
	client asset.Client
	keys   Keys
	batch  *asset.Batch
	logger *slog.Logger
}

func NewStore(client asset.Client, keys Keys, batch *asset.Batch, logger *slog.Logger) *Store {
	return &Store{
		client: client,
		keys:   keys,
		batch:  batch,
		logger: logger,
	}
}

func (s *Store) Batch() *asset.Batch   { return s.batch }
func (s *Store) PublicKey() string     { return s.keys.PublicKey() }
func (s *Store) EncryptionKey() string { return s.keys.EncryptionKey() }
func (s *Store) Client() asset.Client  { return s.client }

type writeConfig struct {
	recipients []string
	encryptFor string
}

type WriteOption func(*writeConfig)

// TransferTo sets the public keys owning the asset after this write.
func TransferTo(publicKeys ...string) WriteOption {
	return func(c *writeConfig) { c.recipients = publicKeys }
}

// EncryptFor addresses the record's encrypted fields to the given
// encryption public key.
func EncryptFor(encryptionKey string) WriteOption {
	return func(c *writeConfig) { c.encryptFor = encryptionKey }
}

// Create submits the record's CREATE transaction: immutable fields as asset
// data, mutable fields as initial metadata. If an identical record already
// exists it is loaded instead and the fresh state is reported through r.
func (s *Store) Create(ctx context.Context, r Record, opts ...WriteOption) error {
	cfg := s.writeConfig(opts)

	data, metadata, err := s.split(r, cfg)
	if err != nil {
		return err
	}
	data[typeKey] = r.Schema().Type

	a, err := asset.Create(ctx, s.client, s.keys, data, metadata, cfg.recipients, s.batch)
	if err != nil {
		return err
	}

	return s.hydrate(r, a)
}

// Save appends a TRANSFER carrying the record's mutable fields.
func (s *Store) Save(ctx context.Context, r Record, opts ...WriteOption) error {
	if r.AssetID() == "" {
		return fmt.Errorf("%w: record has no asset id", pkgerrors.ErrInvalidData)
	}
	cfg := s.writeConfig(opts)

	_, metadata, err := s.split(r, cfg)
	if err != nil {
		return err
	}

	a, err := asset.Load(ctx, s.client, s.keys, r.AssetID(), s.batch)
	if err != nil {
		return err
	}
	if err := a.Save(ctx, metadata, cfg.recipients); err != nil {
		return err
	}

	return s.hydrate(r, a)
}

// Get loads the record with the given asset id into r.
func (s *Store) Get(ctx context.Context, r Record, id string) error {
	a, err := asset.Load(ctx, s.client, s.keys, id, s.batch)
	if err != nil {
		return err
	}
	if typ, _ := a.Data()[typeKey].(string); typ != r.Schema().Type {
		return fmt.Errorf("%w: asset %s is %q, want %q", pkgerrors.ErrInvalidData, id, typ, r.Schema().Type)
	}

	return s.hydrate(r, a)
}

// List lazily yields records of the given prototype whose immutable data
// matches the filters. newRecord allocates a fresh record per result.
func List[T Record](ctx context.Context, s *Store, newRecord func() T, match map[string]any) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T
		proto := newRecord()

		ids, err := s.QueryIDs(ctx, proto.Schema().Type, match)
		if err != nil {
			yield(zero, err)

			return
		}

		for _, id := range ids {
			r := newRecord()
			if err := s.Get(ctx, r, id); err != nil {
				if !yield(zero, err) {
					return
				}

				continue
			}
			if !yield(r, nil) {
				return
			}
		}
	}
}

// Collect drains a List sequence into a slice, stopping at the first
// error.
func Collect[T Record](seq iter.Seq2[T, error]) ([]T, error) {
	var out []T
	for r, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}

	return out, nil
}

// QueryIDs returns asset ids of records of the given type matching the
// immutable-data filters.
func (s *Store) QueryIDs(ctx context.Context, typ string, match map[string]any) ([]string, error) {
	full := make(map[string]any, len(match)+1)
	for k, v := range match {
		full[k] = v
	}
	full[typeKey] = typ

	return s.client.Query(ctx, full, ledger.QueryOptions{})
}

func (s *Store) Count(ctx context.Context, typ string, match map[string]any) (int, error) {
	ids, err := s.QueryIDs(ctx, typ, match)
	if err != nil {
		return 0, err
	}

	return len(ids), nil
}

func (s *Store) Exists(ctx context.Context, typ string, match map[string]any) (bool, error) {
	n, err := s.Count(ctx, typ, match)
	if err != nil {
		return false, err
	}

	return n > 0, nil
}

// Memo is a caller-owned cache for cross-record reference resolution within
// one poll pass. There is no global cache; callers decide the lifetime.
type Memo map[string]Record

// Resolve fetches the record behind a reference id, consulting the memo
// first.
func Resolve[T Record](ctx context.Context, s *Store, id string, memo Memo, newRecord func() T) (T, error) {
	var zero T
	if id == "" {
		return zero, fmt.Errorf("%w: empty reference", pkgerrors.ErrNotFound)
	}
	if memo != nil {
		if cached, ok := memo[id]; ok {
			if typed, ok := cached.(T); ok {
				return typed, nil
			}
		}
	}

	r := newRecord()
	if err := s.Get(ctx, r, id); err != nil {
		return zero, err
	}
	if memo != nil {
		memo[id] = r
	}

	return r, nil
}

func (s *Store) writeConfig(opts []WriteOption) writeConfig {
	cfg := writeConfig{encryptFor: s.keys.EncryptionKey()}
	for _, opt := range opts {
		opt(&cfg)
	}

	return cfg
}

// split partitions the record's values into slots, applying defaults,
// required checks and encryption.
func (s *Store) split(r Record, cfg writeConfig) (data, metadata map[string]any, err error) {
	values := r.Values()
	data = make(map[string]any)
	metadata = make(map[string]any)

	for _, f := range r.Schema().Fields {
		v, ok := values[f.Name]
		if !ok || v == nil {
			if f.Default != nil {
				v = f.Default
			} else if f.Required && !f.Nullable {
				return nil, nil, fmt.Errorf("%w: missing required field %q", pkgerrors.ErrInvalidData, f.Name)
			} else {
				continue
			}
		}

		if f.Encrypted {
			plaintext, ok := v.(string)
			if !ok {
				return nil, nil, fmt.Errorf("%w: encrypted field %q must be a string", pkgerrors.ErrInvalidData, f.Name)
			}
			// A value the reader could not decrypt is written back
			// untouched so a partial view never destroys ciphertext. Only
			// a value still matching the sealed bytes remembered at load
			// time counts as untouched; a reassigned value is sealed
			// normally.
			held := false
			if acc, ok := r.(metaAccessor); ok {
				if prev, armed := acc.sealedValue(f.Name); armed && prev == plaintext {
					held = true
				}
			}
			if !held {
				v, err = crypto.EncryptFor(cfg.encryptFor, []byte(plaintext))
				if err != nil {
					return nil, nil, fmt.Errorf("encrypting field %q: %w", f.Name, err)
				}
			}
		}

		switch f.Slot {
		case Immutable:
			data[f.Name] = v
		case Mutable:
			metadata[f.Name] = v
		}
	}

	return data, metadata, nil
}

// hydrate projects the asset's current state into the record. Encrypted
// fields that cannot be opened with the store's key keep their ciphertext
// and are flagged, not failed: the record may simply not be addressed to
// this reader yet.
func (s *Store) hydrate(r Record, a *asset.Asset) error {
	merged := make(map[string]any)
	for k, v := range a.Data() {
		merged[k] = v
	}
	for k, v := range a.Metadata() {
		merged[k] = v
	}

	acc, _ := r.(metaAccessor)
	if acc != nil {
		acc.setAssetMeta(a.CreatedBy(), a.Recipients(), a.CreatedAt(), a.ModifiedAt())
	}

	for _, f := range r.Schema().Fields {
		if !f.Encrypted {
			continue
		}
		ciphertext, ok := merged[f.Name].(string)
		if !ok || ciphertext == "" {
			continue
		}
		plaintext, err := s.keys.Decrypt(ciphertext)
		if err != nil {
			if acc != nil {
				acc.markCiphertext(f.Name, ciphertext)
			}

			continue
		}
		merged[f.Name] = string(plaintext)
	}

	r.SetAssetID(a.ID())

	return r.SetValues(merged)
}
