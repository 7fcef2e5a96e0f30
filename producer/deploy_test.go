package producer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/makar21/core-sub000/entities"
	pkgerrors "github.com/makar21/core-sub000/pkg/errors"
)

func TestShardChunks(t *testing.T) {
	chunks := []string{"a", "b", "c", "d", "e", "f", "g"}

	cases := []struct {
		desc    string
		workers int
		index   int
		want    []string
	}{
		{desc: "first of three takes the ceiling", workers: 3, index: 0, want: []string{"a", "b", "c"}},
		{desc: "middle of three", workers: 3, index: 1, want: []string{"d", "e", "f"}},
		{desc: "last of three takes the remainder", workers: 3, index: 2, want: []string{"g"}},
		{desc: "single worker takes everything", workers: 1, index: 0, want: chunks},
		{desc: "even split", workers: 7, index: 3, want: []string{"d"}},
		{desc: "index past the data", workers: 8, index: 7, want: nil},
		{desc: "index out of range", workers: 3, index: 3, want: nil},
		{desc: "negative index", workers: 3, index: -1, want: nil},
		{desc: "no workers", workers: 0, index: 0, want: nil},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			assert.Equal(t, tc.want, shardChunks(chunks, tc.workers, tc.index))
		})
	}
}

func TestShardChunksCoverEverything(t *testing.T) {
	chunks := []string{"a", "b", "c", "d", "e"}
	workers := 2

	var all []string
	for i := 0; i < workers; i++ {
		all = append(all, shardChunks(chunks, workers, i)...)
	}
	assert.Equal(t, chunks, all, "shards partition the dataset without overlap")
}

func TestFreeShard(t *testing.T) {
	hold := func(state entities.AssignmentState, shard int) *entities.TaskAssignment {
		return &entities.TaskAssignment{State: state, ShardIndex: shard}
	}

	shard, err := freeShard([]*entities.TaskAssignment{
		hold(entities.AssignmentTraining, 0),
		hold(entities.AssignmentTraining, 2),
	}, 3)
	require.NoError(t, err)
	assert.Equal(t, 1, shard)

	// Quarantined holders release their slot.
	shard, err = freeShard([]*entities.TaskAssignment{
		hold(entities.AssignmentTraining, 1),
		hold(entities.AssignmentTimeout, 0),
	}, 2)
	require.NoError(t, err)
	assert.Equal(t, 0, shard)

	_, err = freeShard([]*entities.TaskAssignment{
		hold(entities.AssignmentTraining, 0),
		hold(entities.AssignmentTraining, 1),
	}, 2)
	require.ErrorIs(t, err, pkgerrors.ErrInvariant)
}

func TestFirstTrainOffer(t *testing.T) {
	offer := func(id, worker string, state entities.AssignmentState) *entities.TaskAssignment {
		a := &entities.TaskAssignment{WorkerID: worker, State: state}
		a.SetAssetID(id)

		return a
	}

	first := firstTrainOffer([]*entities.TaskAssignment{
		offer("a1", "w1", entities.AssignmentRejected),
		offer("a2", "w1", entities.AssignmentReady),
		offer("a3", "w1", entities.AssignmentReady),
		offer("a4", "w2", entities.AssignmentReady),
	})

	// Rejected offers never anchor the race; the oldest surviving offer
	// per identity wins.
	assert.Equal(t, map[string]string{"w1": "a2", "w2": "a4"}, first)
}

func TestAllowed(t *testing.T) {
	assert.True(t, allowed(nil, "anyone"), "empty whitelist admits everyone")
	assert.True(t, allowed([]string{"a", "b"}, "b"))
	assert.False(t, allowed([]string{"a"}, "b"))
}

func TestJobProgress(t *testing.T) {
	task := &entities.TaskDeclaration{Epochs: 4, EpochsInIteration: 2}

	task.CurrentIteration = 1
	assert.InDelta(t, 25.0, jobProgress(task, 50), 0.001)
	assert.InDelta(t, 50.0, jobProgress(task, 100), 0.001)

	task.CurrentIteration = 2
	assert.InDelta(t, 100.0, jobProgress(task, 100), 0.001)

	assert.Zero(t, jobProgress(&entities.TaskDeclaration{}, 50))
}

func TestStaleness(t *testing.T) {
	now := time.Now()

	// The later of the two writes anchors the clock.
	age := staleness(now.Add(-time.Hour), now.Add(-time.Minute))
	assert.InDelta(t, time.Minute.Seconds(), age.Seconds(), 1)

	age = staleness(now.Add(-time.Minute), now.Add(-time.Hour))
	assert.InDelta(t, time.Minute.Seconds(), age.Seconds(), 1)
}
