// Package entity maps typed, selectively encrypted records onto ledger
// assets. A record declares a schema: each field is assigned a storage slot
// (immutable fields live in the CREATE data, mutable fields in TRANSFER
// metadata) and may be marked encrypted, in which case its stored value is
// ciphertext addressed to a single recipient key chosen at write time.
package entity

import (
	"time"
)

type Slot uint8

const (
	Immutable Slot = iota
	Mutable
)

type Field struct {
	Name      string
	Slot      Slot
	Encrypted bool
	Required  bool
	Nullable  bool
	Default   any
}

type Schema struct {
	Type   string
	Fields []Field
}

func (s Schema) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}

	return Field{}, false
}

// Record is a typed view over an asset. Values and SetValues shuttle the
// schema fields in and out of the concrete type; the explicit maps replace
// reflection so each entity controls its own representation.
type Record interface {
	AssetID() string
	SetAssetID(id string)
	Schema() Schema
	Values() map[string]any
	SetValues(values map[string]any) error
}

// Meta carries the asset-level bookkeeping common to all records. Entities
// embed it.
type Meta struct {
	ID         string    `json:"id"`
	CreatedBy  string    `json:"created_by,omitempty"`
	Owners     []string  `json:"owners,omitempty"`
	CreatedAt  time.Time `json:"created_at,omitzero"`
	ModifiedAt time.Time `json:"modified_at,omitzero"`

	sealed map[string]string
}

func (m *Meta) AssetID() string      { return m.ID }
func (m *Meta) SetAssetID(id string) { m.ID = id }

// Ciphertext reports whether the named encrypted field could not be
// decrypted with the reader's key and still holds ciphertext. It lets a
// performer read the public portion of a record before the producer has
// addressed the encrypted fields to it.
func (m *Meta) Ciphertext(name string) bool {
	_, ok := m.sealed[name]

	return ok
}

func (m *Meta) markCiphertext(name, value string) {
	if m.sealed == nil {
		m.sealed = make(map[string]string)
	}
	m.sealed[name] = value
}

// sealedValue returns the ciphertext the field held when the record was
// loaded, if decryption failed then. A field whose current value still
// equals it has not been reassigned and must be written back untouched.
func (m *Meta) sealedValue(name string) (string, bool) {
	v, ok := m.sealed[name]

	return v, ok
}

func (m *Meta) setAssetMeta(createdBy string, owners []string, createdAt, modifiedAt time.Time) {
	m.CreatedBy = createdBy
	m.Owners = owners
	m.CreatedAt = createdAt
	m.ModifiedAt = modifiedAt
	m.sealed = nil
}

// OwnedBy reports whether the given public key may author the asset's next
// TRANSFER.
func (m *Meta) OwnedBy(publicKey string) bool {
	for _, owner := range m.Owners {
		if owner == publicKey {
			return true
		}
	}

	return false
}

type metaAccessor interface {
	markCiphertext(name, value string)
	sealedValue(name string) (string, bool)
	setAssetMeta(createdBy string, owners []string, createdAt, modifiedAt time.Time)
}
