package payment

import (
	"context"
	"fmt"
	"sync"

	pkgerrors "github.com/makar21/core-sub000/pkg/errors"
)

// Fake is an in-memory bridge for tests and local mode.
type Fake struct {
	mu            sync.Mutex
	balances      map[string]uint64
	finished      map[string]bool
	Distributions map[string][]Share
}

var _ Bridge = (*Fake)(nil)

func NewFake() *Fake {
	return &Fake{
		balances:      make(map[string]uint64),
		finished:      make(map[string]bool),
		Distributions: make(map[string][]Share),
	}
}

func (f *Fake) IssueJob(_ context.Context, taskID string, value uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	jobID := JobID(taskID)
	if _, ok := f.balances[jobID]; ok {
		return pkgerrors.ErrEntityExists
	}
	f.balances[jobID] = value

	return nil
}

func (f *Fake) Deposit(_ context.Context, taskID string, value uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	jobID := JobID(taskID)
	if _, ok := f.balances[jobID]; !ok {
		return fmt.Errorf("%w: job for task %s", pkgerrors.ErrNotFound, taskID)
	}
	f.balances[jobID] += value

	return nil
}

func (f *Fake) GetJobBalance(_ context.Context, taskID string) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.balances[JobID(taskID)], nil
}

func (f *Fake) Distribute(_ context.Context, taskID string, shares []Share) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	jobID := JobID(taskID)
	var total uint64
	for _, share := range shares {
		total += share.Amount
	}
	if total > f.balances[jobID] {
		return fmt.Errorf("distribute exceeds job balance: %d > %d", total, f.balances[jobID])
	}
	f.balances[jobID] -= total
	f.Distributions[jobID] = append(f.Distributions[jobID], shares...)

	return nil
}

func (f *Fake) FinishJob(_ context.Context, taskID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.finished[JobID(taskID)] = true

	return nil
}

func (f *Fake) DoesJobExist(_ context.Context, taskID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	_, ok := f.balances[JobID(taskID)]

	return ok, nil
}

func (f *Fake) Finished(taskID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.finished[JobID(taskID)]
}
