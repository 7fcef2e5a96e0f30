package runner

import (
	"context"
	"sync"
)

// Fake returns canned outputs per job kind and records every spec it ran.
type Fake struct {
	mu      sync.Mutex
	Outputs map[Kind]Output
	Errs    map[Kind]*TaskError
	ran     []Spec
}

func NewFake() *Fake {
	return &Fake{
		Outputs: make(map[Kind]Output),
		Errs:    make(map[Kind]*TaskError),
	}
}

func (f *Fake) Run(_ context.Context, spec Spec) (Output, *TaskError) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.ran = append(f.ran, spec)
	if err, ok := f.Errs[spec.Kind]; ok {
		return Output{}, err
	}

	return f.Outputs[spec.Kind], nil
}

func (f *Fake) Ran() []Spec {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]Spec(nil), f.ran...)
}
