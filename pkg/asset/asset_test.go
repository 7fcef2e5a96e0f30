package asset_test

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/makar21/core-sub000/pkg/asset"
	"github.com/makar21/core-sub000/pkg/crypto"
	"github.com/makar21/core-sub000/pkg/ledger"
	"github.com/makar21/core-sub000/pkg/ledger/badgerledger"
)

func newClient(t *testing.T) *ledger.Client {
	t.Helper()

	driver, err := badgerledger.New("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = driver.Close() })

	return ledger.NewClient(driver, slog.New(slog.DiscardHandler))
}

func newSigner(t *testing.T) *crypto.KeyPair {
	t.Helper()

	kp, err := crypto.Generate()
	require.NoError(t, err)

	return kp
}

func TestCreateLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	client := newClient(t)
	signer := newSigner(t)

	a, err := asset.Create(ctx, client, signer,
		map[string]any{"type": "dataset", "name": "digits"},
		map[string]any{"state": "draft"},
		nil, nil)
	require.NoError(t, err)
	require.NotEmpty(t, a.ID())

	loaded, err := asset.Load(ctx, client, signer, a.ID(), nil)
	require.NoError(t, err)
	assert.Equal(t, "digits", loaded.Data()["name"])
	assert.Equal(t, "draft", loaded.Metadata()["state"])
	assert.Equal(t, signer.PublicKey(), loaded.CreatedBy())
	assert.Equal(t, []string{signer.PublicKey()}, loaded.Recipients())
	assert.False(t, loaded.CreatedAt().IsZero())
}

func TestCreateDedupesOnData(t *testing.T) {
	ctx := context.Background()
	client := newClient(t)
	signer := newSigner(t)

	data := map[string]any{"type": "node_info", "node_id": signer.PublicKey()}

	first, err := asset.Create(ctx, client, signer, data, map[string]any{"address": "a1"}, nil, nil)
	require.NoError(t, err)

	// Same data from the same signer resolves to the existing asset.
	again, err := asset.Create(ctx, client, signer, data, map[string]any{"address": "a1"}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, first.ID(), again.ID())
	assert.Len(t, again.Transactions(), 1, "no drift means no transfer")

	// Another identity publishing the same data gets its own asset.
	other := newSigner(t)
	theirs, err := asset.Create(ctx, client, other, data, map[string]any{"address": "a1"}, nil, nil)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID(), theirs.ID())
}

func TestCreateReconcilesDrift(t *testing.T) {
	ctx := context.Background()
	client := newClient(t)
	signer := newSigner(t)

	data := map[string]any{"type": "node_info", "node_id": signer.PublicKey()}

	a, err := asset.Create(ctx, client, signer, data, map[string]any{"address": "old"}, nil, nil)
	require.NoError(t, err)

	// Republishing with changed metadata appends a transfer on the
	// existing chain instead of creating a second asset.
	again, err := asset.Create(ctx, client, signer, data, map[string]any{"address": "new"}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, a.ID(), again.ID())
	assert.Len(t, again.Transactions(), 2)
	assert.Equal(t, "new", again.Metadata()["address"])

	loaded, err := asset.Load(ctx, client, signer, a.ID(), nil)
	require.NoError(t, err)
	assert.Equal(t, "new", loaded.Metadata()["address"])
}

func TestSaveReplacesMetadataAndOwnership(t *testing.T) {
	ctx := context.Background()
	client := newClient(t)
	signer := newSigner(t)
	recipient := newSigner(t)

	a, err := asset.Create(ctx, client, signer,
		map[string]any{"type": "task_assignment", "task": "t1"},
		map[string]any{"state": "initial", "progress": 0},
		nil, nil)
	require.NoError(t, err)

	require.NoError(t, a.Save(ctx, map[string]any{"state": "ready"}, []string{recipient.PublicKey()}))

	loaded, err := asset.Load(ctx, client, signer, a.ID(), nil)
	require.NoError(t, err)
	assert.Equal(t, "ready", loaded.Metadata()["state"])
	assert.Nil(t, loaded.Metadata()["progress"], "transfer metadata replaces, not merges")
	assert.Equal(t, []string{recipient.PublicKey()}, loaded.Recipients())
	assert.Equal(t, "initial", loaded.InitialMetadata()["state"])

	// Ownership moved, so the original signer can no longer transfer.
	err = a.Save(ctx, map[string]any{"state": "stolen"}, nil)
	assert.Error(t, err)
}

func TestModifiedAtAdvances(t *testing.T) {
	ctx := context.Background()
	client := newClient(t)
	signer := newSigner(t)

	a, err := asset.Create(ctx, client, signer,
		map[string]any{"type": "task_declaration", "n": 1},
		map[string]any{"state": "estimate_is_required"},
		nil, nil)
	require.NoError(t, err)

	created := a.CreatedAt()
	require.NoError(t, a.Save(ctx, map[string]any{"state": "estimated"}, nil))
	assert.False(t, a.ModifiedAt().Before(created))
	assert.Equal(t, created, a.CreatedAt(), "creation time survives transfers")
}

// countingClient tallies ledger round trips so confirmation behavior is
// observable.
type countingClient struct {
	asset.Client
	submits int
	waits   int
}

func (c *countingClient) Submit(ctx context.Context, tx ledger.Transaction) (ledger.Transaction, error) {
	c.submits++

	return c.Client.Submit(ctx, tx)
}

func (c *countingClient) WaitCommitted(ctx context.Context, txIDs ...string) error {
	c.waits++

	return c.Client.WaitCommitted(ctx, txIDs...)
}

func TestBatchCollapsesConfirmationWaits(t *testing.T) {
	ctx := context.Background()
	signer := newSigner(t)

	spy := &countingClient{Client: newClient(t)}
	batch := asset.NewBatch(spy)
	batch.Begin()

	a, err := asset.Create(ctx, spy, signer,
		map[string]any{"type": "train_result", "n": 2},
		map[string]any{"state": "in_progress"},
		nil, batch)
	require.NoError(t, err)
	require.NoError(t, a.Save(ctx, map[string]any{"state": "in_progress", "tflops": 1}, nil))
	require.NoError(t, a.Save(ctx, map[string]any{"state": "finished", "tflops": 2}, nil))

	assert.Equal(t, 3, spy.submits)
	assert.Zero(t, spy.waits, "no confirmation wait inside the scope")

	require.NoError(t, batch.End(ctx))
	assert.Equal(t, 1, spy.waits, "one wait covers the whole scope")

	// The same writes outside a batch gate each append on the chain tip.
	unbatched := &countingClient{Client: newClient(t)}
	b, err := asset.Create(ctx, unbatched, signer,
		map[string]any{"type": "train_result", "n": 3},
		map[string]any{"state": "in_progress"},
		nil, nil)
	require.NoError(t, err)
	require.NoError(t, b.Save(ctx, map[string]any{"tflops": 1}, nil))
	require.NoError(t, b.Save(ctx, map[string]any{"tflops": 2}, nil))
	assert.Equal(t, 2, unbatched.waits, "each unbatched append waits on its parent")
}

func TestBatchDefersConfirmation(t *testing.T) {
	ctx := context.Background()
	client := newClient(t)
	signer := newSigner(t)

	batch := asset.NewBatch(client)
	batch.Begin()
	batch.Begin() // nested scope

	a, err := asset.Create(ctx, client, signer,
		map[string]any{"type": "train_result", "n": 1},
		map[string]any{"state": "in_progress"},
		nil, batch)
	require.NoError(t, err)
	require.NoError(t, a.Save(ctx, map[string]any{"state": "in_progress", "tflops": 2}, nil))
	require.NoError(t, a.Save(ctx, map[string]any{"state": "finished", "tflops": 4}, nil))

	require.NoError(t, batch.End(ctx))
	assert.True(t, batch.Active(), "inner end keeps the scope open")
	require.NoError(t, batch.End(ctx))
	assert.False(t, batch.Active())

	loaded, err := asset.Load(ctx, client, signer, a.ID(), nil)
	require.NoError(t, err)
	assert.Equal(t, "finished", loaded.Metadata()["state"])
	assert.Len(t, loaded.Transactions(), 3)
}
