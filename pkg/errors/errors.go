package errors

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrEmptyKey     = errors.New("empty key")
	ErrInvalidData  = errors.New("invalid data type")
	ErrEntityExists = errors.New("entity already exists")
	ErrNotOwner     = errors.New("not an owner of the asset")
	ErrCiphertext   = errors.New("field is still ciphertext")

	// ErrInvariant marks a programming-contract breach. Callers abort the
	// current poll pass when they see it instead of retrying past it.
	ErrInvariant = errors.New("invariant violation")
)
