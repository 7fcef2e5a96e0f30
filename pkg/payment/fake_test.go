package payment

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/makar21/core-sub000/pkg/errors"
)

func TestFakeJobLifecycle(t *testing.T) {
	ctx := context.Background()
	f := NewFake()

	ok, err := f.DoesJobExist(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, f.IssueJob(ctx, "t1", 40))
	assert.ErrorIs(t, f.IssueJob(ctx, "t1", 40), pkgerrors.ErrEntityExists)

	require.NoError(t, f.Deposit(ctx, "t1", 10))
	assert.ErrorIs(t, f.Deposit(ctx, "t2", 10), pkgerrors.ErrNotFound)

	balance, err := f.GetJobBalance(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, uint64(50), balance)

	require.NoError(t, f.FinishJob(ctx, "t1"))
	assert.True(t, f.Finished("t1"))
	assert.False(t, f.Finished("t2"))
}

func TestFakeDistribute(t *testing.T) {
	ctx := context.Background()
	f := NewFake()
	require.NoError(t, f.IssueJob(ctx, "t1", 10))

	shares := []Share{
		{Address: "pay-w1", Amount: 4},
		{Address: "pay-w2", Amount: 4},
	}
	require.NoError(t, f.Distribute(ctx, "t1", shares))

	balance, err := f.GetJobBalance(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), balance)
	assert.Equal(t, shares, f.Distributions[JobID("t1")])

	// The escrow never goes negative.
	err = f.Distribute(ctx, "t1", []Share{{Address: "pay-v1", Amount: 3}})
	assert.Error(t, err)
	balance, err = f.GetJobBalance(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), balance)
}

func TestJobIDStable(t *testing.T) {
	assert.Equal(t, JobID("t1"), JobID("t1"))
	assert.NotEqual(t, JobID("t1"), JobID("t2"))
	assert.Len(t, JobID("t1"), 64)
}
