package entity_test

import (
	"context"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/makar21/core-sub000/entities"
	"github.com/makar21/core-sub000/pkg/crypto"
	"github.com/makar21/core-sub000/pkg/entity"
	pkgerrors "github.com/makar21/core-sub000/pkg/errors"
	"github.com/makar21/core-sub000/pkg/ledger"
	"github.com/makar21/core-sub000/pkg/ledger/badgerledger"
)

func newLedgerClient(t *testing.T) *ledger.Client {
	t.Helper()

	driver, err := badgerledger.New("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = driver.Close() })

	return ledger.NewClient(driver, slog.New(slog.DiscardHandler))
}

func newStore(t *testing.T, client *ledger.Client) (*entity.Store, *crypto.KeyPair) {
	t.Helper()

	keys, err := crypto.Generate()
	require.NoError(t, err)

	return entity.NewStore(client, keys, nil, slog.New(slog.DiscardHandler)), keys
}

func declaration(producerID string) *entities.TaskDeclaration {
	return &entities.TaskDeclaration{
		ProducerID:       producerID,
		DatasetID:        "ds1",
		TrainModelID:     "m1",
		BatchSize:        32,
		Epochs:           4,
		WorkersRequested: 2,
	}
}

func TestCreateAppliesDefaults(t *testing.T) {
	ctx := context.Background()
	store, _ := newStore(t, newLedgerClient(t))

	td := declaration(store.PublicKey())
	require.NoError(t, store.Create(ctx, td))

	assert.NotEmpty(t, td.AssetID())
	assert.Equal(t, entities.TaskStateEstimateRequired, td.State)
	assert.Equal(t, 1, td.EpochsInIteration)
	assert.Equal(t, 1, td.VerifiersRequested)
	assert.Equal(t, 1, td.EstimatorsRequested)
	assert.True(t, td.OwnedBy(store.PublicKey()))
	assert.False(t, td.CreatedAt.IsZero())
}

func TestCreateMissingRequired(t *testing.T) {
	ctx := context.Background()
	store, _ := newStore(t, newLedgerClient(t))

	td := declaration(store.PublicKey())
	td.DatasetID = ""
	err := store.Create(ctx, td)
	require.ErrorIs(t, err, pkgerrors.ErrInvalidData)
	assert.Contains(t, err.Error(), "dataset_id")
}

func TestSaveRequiresAssetID(t *testing.T) {
	ctx := context.Background()
	store, _ := newStore(t, newLedgerClient(t))

	err := store.Save(ctx, declaration(store.PublicKey()))
	assert.ErrorIs(t, err, pkgerrors.ErrInvalidData)
}

func TestSaveRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, _ := newStore(t, newLedgerClient(t))

	td := declaration(store.PublicKey())
	require.NoError(t, store.Create(ctx, td))

	td.State = entities.TaskStateDeployment
	td.WorkersNeeded = 2
	require.NoError(t, store.Save(ctx, td))

	var got entities.TaskDeclaration
	require.NoError(t, store.Get(ctx, &got, td.AssetID()))
	assert.Equal(t, entities.TaskStateDeployment, got.State)
	assert.Equal(t, 2, got.WorkersNeeded)
	assert.Equal(t, "ds1", got.DatasetID, "immutable fields survive saves")
}

func TestGetWrongType(t *testing.T) {
	ctx := context.Background()
	store, _ := newStore(t, newLedgerClient(t))

	td := declaration(store.PublicKey())
	require.NoError(t, store.Create(ctx, td))

	var a entities.TaskAssignment
	assert.ErrorIs(t, store.Get(ctx, &a, td.AssetID()), pkgerrors.ErrInvalidData)
}

func TestGetUnknownID(t *testing.T) {
	ctx := context.Background()
	store, _ := newStore(t, newLedgerClient(t))

	var td entities.TaskDeclaration
	assert.ErrorIs(t, store.Get(ctx, &td, "no-such-asset"), pkgerrors.ErrNotFound)
}

func TestEncryptedFieldAddressing(t *testing.T) {
	ctx := context.Background()
	client := newLedgerClient(t)
	producer, _ := newStore(t, client)
	worker, workerKeys := newStore(t, client)

	data := &entities.TrainData{
		TaskDeclarationID: "t1",
		TaskAssignmentID:  "a1",
		CurrentIteration:  1,
		BatchSize:         32,
		Epochs:            2,
		ModelCodeHash:     "code-hash",
		TrainChunks:       `["c1","c2"]`,
	}
	require.NoError(t, producer.Create(ctx, data,
		entity.EncryptFor(workerKeys.EncryptionKey()),
		entity.TransferTo(worker.PublicKey(), producer.PublicKey()),
	))

	// The writer addressed the payload to the worker, so its own view
	// keeps the ciphertext.
	assert.True(t, data.Ciphertext("train_chunks"))
	assert.NotEqual(t, `["c1","c2"]`, data.TrainChunks)

	var got entities.TrainData
	require.NoError(t, worker.Get(ctx, &got, data.AssetID()))
	assert.False(t, got.Ciphertext("train_chunks"))
	assert.Equal(t, `["c1","c2"]`, got.TrainChunks)
	assert.Equal(t, "code-hash", got.ModelCodeHash)
}

func TestCiphertextWrittenBackUntouched(t *testing.T) {
	ctx := context.Background()
	client := newLedgerClient(t)
	producer, producerKeys := newStore(t, client)
	worker, _ := newStore(t, client)

	result := &entities.TrainResult{
		TaskDeclarationID: "t1",
		TaskAssignmentID:  "a1",
		WorkerID:          worker.PublicKey(),
		State:             entities.ResultFinished,
		CurrentIteration:  1,
		TFLOPs:            2,
		WeightsHash:       "weights-hash",
	}
	require.NoError(t, worker.Create(ctx, result,
		entity.EncryptFor(producerKeys.EncryptionKey()),
		entity.TransferTo(worker.PublicKey(), producer.PublicKey()),
	))
	require.True(t, result.Ciphertext("weights_ipfs"))

	// The worker updates its progress without being able to read the
	// weights field; the ciphertext must survive the rewrite.
	result.TFLOPs = 4
	require.NoError(t, worker.Save(ctx, result,
		entity.EncryptFor(producerKeys.EncryptionKey()),
		entity.TransferTo(worker.PublicKey(), producer.PublicKey()),
	))

	var got entities.TrainResult
	require.NoError(t, producer.Get(ctx, &got, result.AssetID()))
	assert.False(t, got.Ciphertext("weights_ipfs"))
	assert.Equal(t, "weights-hash", got.WeightsHash)
	assert.Equal(t, 4.0, got.TFLOPs)
}

func TestReassignedFieldSealedAfterFailedDecrypt(t *testing.T) {
	ctx := context.Background()
	client := newLedgerClient(t)
	producer, producerKeys := newStore(t, client)
	worker, _ := newStore(t, client)

	result := &entities.TrainResult{
		TaskDeclarationID: "t1",
		TaskAssignmentID:  "a1",
		WorkerID:          worker.PublicKey(),
		State:             entities.ResultFinished,
		CurrentIteration:  1,
		WeightsHash:       "weights-iter-1",
	}
	require.NoError(t, worker.Create(ctx, result,
		entity.EncryptFor(producerKeys.EncryptionKey()),
		entity.TransferTo(worker.PublicKey(), producer.PublicKey()),
	))

	// The worker reloads the record on the next iteration. It cannot open
	// its own sealed output, so the weights field comes back flagged.
	var reloaded entities.TrainResult
	require.NoError(t, worker.Get(ctx, &reloaded, result.AssetID()))
	require.True(t, reloaded.Ciphertext("weights_ipfs"))

	reloaded.CurrentIteration = 2
	reloaded.WeightsHash = "weights-iter-2"
	require.NoError(t, worker.Save(ctx, &reloaded,
		entity.EncryptFor(producerKeys.EncryptionKey()),
		entity.TransferTo(worker.PublicKey(), producer.PublicKey()),
	))

	// The fresh value must hit the ledger sealed: a reader without the
	// producer's key sees ciphertext, never the plaintext reference.
	var raw entities.TrainResult
	require.NoError(t, worker.Get(ctx, &raw, result.AssetID()))
	assert.True(t, raw.Ciphertext("weights_ipfs"))
	assert.NotEqual(t, "weights-iter-2", raw.WeightsHash)

	var got entities.TrainResult
	require.NoError(t, producer.Get(ctx, &got, result.AssetID()))
	assert.False(t, got.Ciphertext("weights_ipfs"))
	assert.Equal(t, "weights-iter-2", got.WeightsHash)
	assert.Equal(t, 2, got.CurrentIteration)
}

func TestListFiltersOnImmutableData(t *testing.T) {
	ctx := context.Background()
	store, _ := newStore(t, newLedgerClient(t))

	for i, task := range []string{"t1", "t1", "t2"} {
		a := &entities.TaskAssignment{
			ProducerID:        store.PublicKey(),
			TaskDeclarationID: task,
			WorkerID:          fmt.Sprintf("w%d", i),
			State:             entities.AssignmentInitial,
		}
		require.NoError(t, store.Create(ctx, a))
	}

	matched, err := entity.Collect(entity.List(ctx, store,
		func() *entities.TaskAssignment { return &entities.TaskAssignment{} },
		map[string]any{"task_declaration_id": "t2"},
	))
	require.NoError(t, err)
	require.Len(t, matched, 1)
	assert.Equal(t, "t2", matched[0].TaskDeclarationID)

	ok, err := store.Exists(ctx, entities.TypeTaskAssignment, map[string]any{"task_declaration_id": "t2"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Exists(ctx, entities.TypeTaskAssignment, map[string]any{"task_declaration_id": "t9"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestResolveMemo(t *testing.T) {
	ctx := context.Background()
	store, _ := newStore(t, newLedgerClient(t))

	td := declaration(store.PublicKey())
	require.NoError(t, store.Create(ctx, td))

	memo := entity.Memo{}
	first, err := entity.Resolve(ctx, store, td.AssetID(), memo,
		func() *entities.TaskDeclaration { return &entities.TaskDeclaration{} })
	require.NoError(t, err)

	second, err := entity.Resolve(ctx, store, td.AssetID(), memo,
		func() *entities.TaskDeclaration { return &entities.TaskDeclaration{} })
	require.NoError(t, err)
	assert.Same(t, first, second, "second lookup served from the memo")

	_, err = entity.Resolve(ctx, store, "", memo,
		func() *entities.TaskDeclaration { return &entities.TaskDeclaration{} })
	assert.ErrorIs(t, err, pkgerrors.ErrNotFound)
}
