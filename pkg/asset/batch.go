package asset

import (
	"context"
	"sync"
)

// Batch defers ledger confirmation across a scope of transaction
// submissions. A unit of work brackets itself with Begin/End; every asset
// write inside the scope registers its transaction instead of waiting
// inline, and the outermost End performs a single wait for the whole set.
// Begin/End pairs nest: only the outermost End blocks.
type Batch struct {
	client Client

	mu      sync.Mutex
	depth   int
	pending []string
}

func NewBatch(client Client) *Batch {
	return &Batch{client: client}
}

func (b *Batch) Begin() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.depth++
}

// End closes the innermost scope. On the outermost exit it blocks until
// every deferred transaction is committed.
func (b *Batch) End(ctx context.Context) error {
	b.mu.Lock()
	if b.depth == 0 {
		b.mu.Unlock()

		return nil
	}
	b.depth--
	if b.depth > 0 {
		b.mu.Unlock()

		return nil
	}
	pending := b.pending
	b.pending = nil
	b.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}

	return b.client.WaitCommitted(ctx, pending...)
}

func (b *Batch) Active() bool {
	if b == nil {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.depth > 0
}

func (b *Batch) Defer(txID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = append(b.pending, txID)
}
