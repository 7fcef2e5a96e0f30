package producer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/makar21/core-sub000/entities"
	pkgerrors "github.com/makar21/core-sub000/pkg/errors"
)

func TestAddTaskValidation(t *testing.T) {
	c := newTestCluster(t)
	datasetID, modelID := c.addFixtures(t)
	ctx := context.Background()

	cases := []struct {
		desc string
		spec TaskSpec
		err  error
	}{
		{
			desc: "valid spec",
			spec: TaskSpec{DatasetID: datasetID, TrainModelID: modelID, BatchSize: 32, Epochs: 1, WorkersRequested: 1},
		},
		{
			desc: "no workers",
			spec: TaskSpec{DatasetID: datasetID, TrainModelID: modelID, BatchSize: 32, Epochs: 1},
			err:  pkgerrors.ErrInvalidData,
		},
		{
			desc: "no epochs",
			spec: TaskSpec{DatasetID: datasetID, TrainModelID: modelID, BatchSize: 32, WorkersRequested: 1},
			err:  pkgerrors.ErrInvalidData,
		},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			task, err := c.svc.AddTask(ctx, tc.spec)
			if tc.err != nil {
				require.ErrorIs(t, err, tc.err)

				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, task.AssetID())
		})
	}
}

func TestAddTaskDefaults(t *testing.T) {
	c := newTestCluster(t)
	datasetID, modelID := c.addFixtures(t)

	task, err := c.svc.AddTask(context.Background(), TaskSpec{
		DatasetID:        datasetID,
		TrainModelID:     modelID,
		BatchSize:        64,
		Epochs:           3,
		WorkersRequested: 2,
	})
	require.NoError(t, err)

	assert.Equal(t, entities.TaskStateEstimateRequired, task.State)
	assert.Equal(t, 1, task.EpochsInIteration)
	assert.Equal(t, 1, task.VerifiersRequested)
	assert.Equal(t, 1, task.EstimatorsRequested)
	assert.Equal(t, 1, task.EstimatorsNeeded)
	assert.Equal(t, 3, task.TotalIterations())

	// The declaration round-trips through the ledger.
	got := c.task(t, task.AssetID())
	assert.Equal(t, task.Epochs, got.Epochs)
	assert.Equal(t, task.State, got.State)
	assert.Equal(t, c.svc.store.PublicKey(), got.ProducerID)
}

func TestFinishTaskTerminalGuard(t *testing.T) {
	c := newTestCluster(t)
	datasetID, modelID := c.addFixtures(t)
	ctx := context.Background()

	task, err := c.svc.AddTask(ctx, TaskSpec{
		DatasetID: datasetID, TrainModelID: modelID, BatchSize: 32, Epochs: 1, WorkersRequested: 1,
	})
	require.NoError(t, err)

	require.NoError(t, c.svc.CancelTask(ctx, task.AssetID()))
	assert.Equal(t, entities.TaskStateCanceled, c.task(t, task.AssetID()).State)

	err = c.svc.CancelTask(ctx, task.AssetID())
	require.ErrorIs(t, err, pkgerrors.ErrInvalidData)
	err = c.svc.StopTask(ctx, task.AssetID())
	require.ErrorIs(t, err, pkgerrors.ErrInvalidData)
}

func TestStopTaskCompletes(t *testing.T) {
	c := newTestCluster(t)
	datasetID, modelID := c.addFixtures(t)
	ctx := context.Background()

	task, err := c.svc.AddTask(ctx, TaskSpec{
		DatasetID: datasetID, TrainModelID: modelID, BatchSize: 32, Epochs: 1, WorkersRequested: 1,
	})
	require.NoError(t, err)

	require.NoError(t, c.svc.StopTask(ctx, task.AssetID()))
	assert.Equal(t, entities.TaskStateCompleted, c.task(t, task.AssetID()).State)
}

func TestIssueJobAndDeposit(t *testing.T) {
	c := newTestCluster(t)
	datasetID, modelID := c.addFixtures(t)
	ctx := context.Background()

	task, err := c.svc.AddTask(ctx, TaskSpec{
		DatasetID: datasetID, TrainModelID: modelID, BatchSize: 32, Epochs: 1, WorkersRequested: 1,
	})
	require.NoError(t, err)
	id := task.AssetID()

	// Depositing before the job exists is refused.
	err = c.svc.Deposit(ctx, id, 10)
	require.ErrorIs(t, err, pkgerrors.ErrNotFound)

	require.NoError(t, c.svc.IssueJob(ctx, id, 40))
	// A second issue tops up instead of failing.
	require.NoError(t, c.svc.IssueJob(ctx, id, 5))
	require.NoError(t, c.svc.Deposit(ctx, id, 5))

	status, err := c.svc.TaskStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, uint64(50), status.Balance)
}

func TestListTasksScopedToProducer(t *testing.T) {
	c := newTestCluster(t)
	datasetID, modelID := c.addFixtures(t)
	ctx := context.Background()

	_, err := c.svc.AddTask(ctx, TaskSpec{
		DatasetID: datasetID, TrainModelID: modelID, BatchSize: 32, Epochs: 1, WorkersRequested: 1,
	})
	require.NoError(t, err)

	// A second producer on the same ledger sees only its own jobs.
	otherStore, _ := c.newStore(t)
	publishNode(t, otherStore, entities.TypeProducerNode, "producer-2", "")
	other := NewService(otherStore, c.objects, c.bridge, Whitelist{}).(*service)

	mine, err := c.svc.ListTasks(ctx)
	require.NoError(t, err)
	assert.Len(t, mine, 1)

	theirs, err := other.ListTasks(ctx)
	require.NoError(t, err)
	assert.Empty(t, theirs)
}

func TestCreateDatasetChunks(t *testing.T) {
	c := newTestCluster(t)
	datasetID, modelID := c.addFixtures(t)
	ctx := context.Background()

	task, err := c.svc.AddTask(ctx, TaskSpec{
		DatasetID: datasetID, TrainModelID: modelID, BatchSize: 32, Epochs: 1, WorkersRequested: 1,
	})
	require.NoError(t, err)

	chunks, testDir, err := c.svc.trainChunks(ctx, task)
	require.NoError(t, err)
	assert.Len(t, chunks, 4)
	assert.NotEmpty(t, testDir)

	code, err := c.svc.modelCode(ctx, task)
	require.NoError(t, err)
	assert.NotEmpty(t, code)
}

func TestGetTaskUnknown(t *testing.T) {
	c := newTestCluster(t)

	_, err := c.svc.GetTask(context.Background(), "no-such-asset")
	require.ErrorIs(t, err, pkgerrors.ErrNotFound)
}
