package producer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/makar21/core-sub000/entities"
	"github.com/makar21/core-sub000/estimator"
	"github.com/makar21/core-sub000/pkg/asset"
	"github.com/makar21/core-sub000/pkg/crypto"
	"github.com/makar21/core-sub000/pkg/entity"
	"github.com/makar21/core-sub000/pkg/ledger"
	"github.com/makar21/core-sub000/pkg/ledger/badgerledger"
	"github.com/makar21/core-sub000/pkg/objectstore"
	"github.com/makar21/core-sub000/pkg/payment"
	"github.com/makar21/core-sub000/runner"
	"github.com/makar21/core-sub000/verifier"
	"github.com/makar21/core-sub000/worker"
)

var discard = slog.New(slog.DiscardHandler)

type roleService interface {
	ProcessTasks(ctx context.Context) error
}

// testPerformer is one worker, verifier or estimator identity driven by a
// fake runtime.
type testPerformer struct {
	name string
	keys *crypto.KeyPair
	run  *runner.Fake
	svc  roleService
}

func (p *testPerformer) id() string { return p.keys.PublicKey() }

// testCluster runs every role against one embedded ledger and one shared
// object store, the same wiring local mode uses. Passes are driven by hand
// so tests control exactly who polls when.
type testCluster struct {
	client  *ledger.Client
	objects *objectstore.Memory
	bridge  *payment.Fake

	svc        *service
	performers []*testPerformer
}

func newTestCluster(t *testing.T) *testCluster {
	t.Helper()

	driver, err := badgerledger.New("")
	require.NoError(t, err)
	t.Cleanup(func() { driver.Close() })

	c := &testCluster{
		client:  ledger.NewClient(driver, discard),
		objects: objectstore.NewMemory(),
		bridge:  payment.NewFake(),
	}

	store, _ := c.newStore(t)
	publishNode(t, store, entities.TypeProducerNode, "producer", "")
	c.svc = NewService(store, c.objects, c.bridge, Whitelist{}).(*service)

	return c
}

func (c *testCluster) newStore(t *testing.T) (*entity.Store, *crypto.KeyPair) {
	t.Helper()
	keys, err := crypto.Generate()
	require.NoError(t, err)

	return entity.NewStore(c.client, keys, asset.NewBatch(c.client), discard), keys
}

func publishNode(t *testing.T, store *entity.Store, typ, name, address string) {
	t.Helper()
	info := entities.NewNodeInfo(typ)
	info.Name = name
	info.EncryptionKey = store.EncryptionKey()
	info.Address = address
	require.NoError(t, store.Create(context.Background(), info))
}

func (c *testCluster) addPerformer(t *testing.T, typ, name string, outputs map[runner.Kind]runner.Output) *testPerformer {
	t.Helper()
	store, keys := c.newStore(t)
	publishNode(t, store, typ, name, "pay-"+name)

	run := runner.NewFake()
	for kind, out := range outputs {
		run.Outputs[kind] = out
	}

	p := &testPerformer{name: name, keys: keys, run: run}
	switch typ {
	case entities.TypeWorkerNode:
		p.svc = worker.NewService(store, c.objects, run, t.TempDir())
	case entities.TypeVerifierNode:
		p.svc = verifier.NewService(store, c.objects, run, t.TempDir())
	case entities.TypeEstimatorNode:
		p.svc = estimator.NewService(store, c.objects, run, t.TempDir())
	}
	c.performers = append(c.performers, p)

	return p
}

func (c *testCluster) addWorker(t *testing.T, name string) *testPerformer {
	return c.addPerformer(t, entities.TypeWorkerNode, name, map[runner.Kind]runner.Output{
		runner.KindTrain: {
			WeightsPath: writeFile(t, name+" weights"),
			TFLOPs:      2,
			Loss:        0.4,
			Accuracy:    0.8,
		},
	})
}

func (c *testCluster) addVerifier(t *testing.T, name, verdict string) *testPerformer {
	return c.addPerformer(t, entities.TypeVerifierNode, name, map[runner.Kind]runner.Output{
		runner.KindVerify: {
			WeightsPath: writeFile(t, name+" summary"),
			Result:      verdict,
			TFLOPs:      1,
			Loss:        0.3,
			Accuracy:    0.85,
		},
	})
}

func (c *testCluster) addEstimator(t *testing.T, name string) *testPerformer {
	return c.addPerformer(t, entities.TypeEstimatorNode, name, map[runner.Kind]runner.Output{
		runner.KindEstimate: {TFLOPs: 4},
	})
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "artifact")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

// addFixtures publishes a four-chunk dataset with a test directory and a
// model code bundle.
func (c *testCluster) addFixtures(t *testing.T) (datasetID, modelID string) {
	t.Helper()
	ctx := context.Background()

	trainDir := t.TempDir()
	for i := 0; i < 4; i++ {
		name := filepath.Join(trainDir, fmt.Sprintf("chunk-%d", i))
		require.NoError(t, os.WriteFile(name, []byte(fmt.Sprintf("chunk %d", i)), 0o600))
	}
	testDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(testDir, "holdout"), []byte("holdout"), 0o600))

	ds, err := c.svc.CreateDataset(ctx, "digits", trainDir, testDir)
	require.NoError(t, err)
	m, err := c.svc.CreateModel(ctx, "cnn", writeFile(t, "model code"))
	require.NoError(t, err)

	return ds.AssetID(), m.AssetID()
}

// pass runs one poll pass: the listed performers first, then the producer.
func (c *testCluster) pass(t *testing.T, performers ...*testPerformer) {
	t.Helper()
	ctx := context.Background()
	for _, p := range performers {
		require.NoError(t, p.svc.ProcessTasks(ctx))
	}
	require.NoError(t, c.svc.ProcessTasks(ctx))
}

func (c *testCluster) passAll(t *testing.T) {
	t.Helper()
	c.pass(t, c.performers...)
}

func (c *testCluster) task(t *testing.T, id string) *entities.TaskDeclaration {
	t.Helper()
	task, err := c.svc.GetTask(context.Background(), id)
	require.NoError(t, err)

	return task
}

func (c *testCluster) settle(t *testing.T, id string, passes int, done func(*entities.TaskDeclaration) bool) *entities.TaskDeclaration {
	t.Helper()
	for i := 0; i < passes; i++ {
		c.passAll(t)
		if task := c.task(t, id); done(task) {
			return task
		}
	}
	t.Fatalf("task %s did not settle after %d passes, state %s", id, passes, c.task(t, id).State)

	return nil
}

// newTask reaches the funded deployment state: estimation done, escrow
// covering the cost, worker and verifier slots open.
func (c *testCluster) newTask(t *testing.T, spec TaskSpec, est *testPerformer) *entities.TaskDeclaration {
	t.Helper()
	ctx := context.Background()

	task, err := c.svc.AddTask(ctx, spec)
	require.NoError(t, err)

	c.pass(t, est) // offer admitted
	c.pass(t, est) // batch timed, cost extrapolated
	require.Equal(t, entities.TaskStateEstimated, c.task(t, task.AssetID()).State)

	require.NoError(t, c.svc.IssueJob(ctx, task.AssetID(), 100))
	c.pass(t) // escrow covers the estimate, deployment opens
	require.Equal(t, entities.TaskStateDeployment, c.task(t, task.AssetID()).State)

	return task
}

func trainRuns(p *testPerformer, kind runner.Kind) int {
	n := 0
	for _, spec := range p.run.Ran() {
		if spec.Kind == kind {
			n++
		}
	}

	return n
}

func assignmentOf(aa []*entities.TaskAssignment, workerID string) *entities.TaskAssignment {
	for _, a := range aa {
		if a.WorkerID == workerID {
			return a
		}
	}

	return nil
}

func payouts(bridge *payment.Fake, taskID string) (total uint64, byAddress map[string]uint64) {
	byAddress = make(map[string]uint64)
	for _, share := range bridge.Distributions[payment.JobID(taskID)] {
		total += share.Amount
		byAddress[share.Address] += share.Amount
	}

	return total, byAddress
}

func TestTaskLifecycle(t *testing.T) {
	c := newTestCluster(t)
	w1 := c.addWorker(t, "worker-1")
	w2 := c.addWorker(t, "worker-2")
	v := c.addVerifier(t, "verifier-1", "[false,false]")
	est := c.addEstimator(t, "estimator-1")

	datasetID, modelID := c.addFixtures(t)
	ctx := context.Background()

	task, err := c.svc.AddTask(ctx, TaskSpec{
		DatasetID:           datasetID,
		TrainModelID:        modelID,
		BatchSize:           32,
		Epochs:              2,
		EpochsInIteration:   1,
		WorkersRequested:    2,
		VerifiersRequested:  1,
		EstimatorsRequested: 1,
	})
	require.NoError(t, err)
	require.Equal(t, entities.TaskStateEstimateRequired, task.State)
	id := task.AssetID()

	estimated := c.settle(t, id, 10, func(task *entities.TaskDeclaration) bool {
		return task.State == entities.TaskStateEstimated
	})
	// 4 TFLOPs per batch, extrapolated over 4 chunks and 2 epochs.
	assert.InDelta(t, 32.0, estimated.EstimatedTFLOPs, 0.001)

	require.NoError(t, c.svc.IssueJob(ctx, id, 100))

	final := c.settle(t, id, 20, func(task *entities.TaskDeclaration) bool {
		return task.State.Terminal()
	})
	require.Equal(t, entities.TaskStateCompleted, final.State)
	assert.Equal(t, 2, final.CurrentIteration)
	assert.InDelta(t, 100.0, final.Progress, 0.001)
	assert.InDelta(t, 10.0, final.TFLOPs, 0.001)
	assert.NotEmpty(t, final.WeightsHash)

	// Every performer ran exactly once per iteration.
	assert.Equal(t, 2, trainRuns(w1, runner.KindTrain))
	assert.Equal(t, 2, trainRuns(w2, runner.KindTrain))
	assert.Equal(t, 2, trainRuns(v, runner.KindVerify))
	assert.Equal(t, 1, trainRuns(est, runner.KindEstimate))

	status, err := c.svc.TaskStatus(ctx, id)
	require.NoError(t, err)
	require.Len(t, status.Assignments, 2)
	shards := map[int]bool{}
	for _, a := range status.Assignments {
		assert.Equal(t, entities.AssignmentFinished, a.State)
		assert.Equal(t, []string{a.WorkerID}, a.Owners)
		shards[a.ShardIndex] = true
	}
	assert.Len(t, shards, 2, "workers must hold distinct shards")
	require.Len(t, status.Verifications, 1)
	assert.Equal(t, entities.AssignmentFinished, status.Verifications[0].State)

	total, byAddress := payouts(c.bridge, id)
	assert.Equal(t, uint64(10), total)
	assert.Equal(t, uint64(4), byAddress["pay-worker-1"])
	assert.Equal(t, uint64(4), byAddress["pay-worker-2"])
	assert.Equal(t, uint64(2), byAddress["pay-verifier-1"])
	assert.True(t, c.bridge.Finished(id))
	assert.Equal(t, uint64(90), status.Balance)

	// Terminal jobs are skipped; extra passes write nothing.
	modified := final.ModifiedAt
	c.passAll(t)
	c.passAll(t)
	assert.Equal(t, modified, c.task(t, id).ModifiedAt)
}

func TestProcessTasksRepollWritesNothing(t *testing.T) {
	c := newTestCluster(t)
	w := c.addWorker(t, "worker-1")
	v := c.addVerifier(t, "verifier-1", "[false]")
	est := c.addEstimator(t, "estimator-1")

	datasetID, modelID := c.addFixtures(t)
	ctx := context.Background()

	task := c.newTask(t, TaskSpec{
		DatasetID:        datasetID,
		TrainModelID:     modelID,
		BatchSize:        16,
		Epochs:           1,
		WorkersRequested: 1,
	}, est)
	id := task.AssetID()

	c.pass(t, w, v) // offers admitted, shard distributed
	before := c.task(t, id)
	require.Equal(t, entities.TaskStateEpochInProgress, before.State)

	// Nobody reported in between: re-polling must not touch the ledger.
	require.NoError(t, c.svc.ProcessTasks(ctx))
	require.NoError(t, c.svc.ProcessTasks(ctx))
	after := c.task(t, id)
	assert.Equal(t, before.State, after.State)
	assert.Equal(t, before.ModifiedAt, after.ModifiedAt)
}

func TestWorkerTimeoutReplacement(t *testing.T) {
	c := newTestCluster(t)
	w1 := c.addWorker(t, "worker-1")
	w2 := c.addWorker(t, "worker-2")
	v := c.addVerifier(t, "verifier-1", "[false,false]")
	est := c.addEstimator(t, "estimator-1")
	c.svc.trainDeadline = 50 * time.Millisecond

	datasetID, modelID := c.addFixtures(t)
	ctx := context.Background()

	task := c.newTask(t, TaskSpec{
		DatasetID:        datasetID,
		TrainModelID:     modelID,
		BatchSize:        32,
		Epochs:           1,
		WorkersRequested: 2,
	}, est)
	id := task.AssetID()

	c.pass(t, w1, w2, v)
	require.Equal(t, entities.TaskStateEpochInProgress, c.task(t, id).State)

	assignments, err := c.svc.taskAssignments(ctx, id)
	require.NoError(t, err)
	vacatedShard := assignmentOf(assignments, w2.id()).ShardIndex

	c.pass(t, w1) // worker-1 reports; worker-2 goes silent
	time.Sleep(60 * time.Millisecond)
	c.pass(t) // worker-2 quarantined, its slot returned

	quarantined := c.task(t, id)
	require.Equal(t, entities.TaskStateDeploymentTrain, quarantined.State)
	assert.Equal(t, 1, quarantined.WorkersNeeded)
	assert.Equal(t, 1, quarantined.CurrentIteration)

	assignments, err = c.svc.taskAssignments(ctx, id)
	require.NoError(t, err)
	timedOut := assignmentOf(assignments, w2.id())
	require.NotNil(t, timedOut)
	assert.Equal(t, entities.AssignmentTimeout, timedOut.State)
	assert.Equal(t, "no training result before deadline", timedOut.Reason)

	// A replacement must be a fresh identity: the quarantined worker's
	// record blocks any second offer from the same key.
	w3 := c.addWorker(t, "worker-3")
	c.pass(t, w3) // offer admitted into the vacated slot, shard redistributed
	require.Equal(t, entities.TaskStateEpochInProgress, c.task(t, id).State)

	assignments, err = c.svc.taskAssignments(ctx, id)
	require.NoError(t, err)
	replacement := assignmentOf(assignments, w3.id())
	require.NotNil(t, replacement)
	assert.Equal(t, vacatedShard, replacement.ShardIndex, "replacement inherits the vacated shard")

	retired := assignmentOf(assignments, w2.id())
	require.NotNil(t, retired)
	assert.Equal(t, entities.AssignmentForgotten, retired.State, "quarantined assignment retired once replaced")

	c.pass(t, w3) // replacement trains the same iteration
	c.pass(t, v)  // audit passes, job settles

	final := c.task(t, id)
	require.Equal(t, entities.TaskStateCompleted, final.State)
	assert.Equal(t, 1, final.CurrentIteration, "iteration must not advance on replacement")

	total, byAddress := payouts(c.bridge, id)
	assert.Equal(t, uint64(5), total)
	assert.Equal(t, uint64(2), byAddress["pay-worker-1"])
	assert.Equal(t, uint64(2), byAddress["pay-worker-3"])
	assert.Equal(t, uint64(1), byAddress["pay-verifier-1"])
	assert.Zero(t, byAddress["pay-worker-2"], "silent worker earns nothing")
}

func TestFraudQuarantineAndRedo(t *testing.T) {
	c := newTestCluster(t)
	w1 := c.addWorker(t, "worker-1")
	w2 := c.addWorker(t, "worker-2")
	v := c.addVerifier(t, "verifier-1", "[true,false]")
	est := c.addEstimator(t, "estimator-1")

	datasetID, modelID := c.addFixtures(t)
	ctx := context.Background()

	task := c.newTask(t, TaskSpec{
		DatasetID:        datasetID,
		TrainModelID:     modelID,
		BatchSize:        32,
		Epochs:           1,
		WorkersRequested: 2,
	}, est)
	id := task.AssetID()

	c.pass(t, w1, w2, v)
	c.pass(t, w1, w2)
	require.Equal(t, entities.TaskStateVerifyInProgress, c.task(t, id).State)

	c.pass(t, v) // audit flags one submission

	redo := c.task(t, id)
	require.Equal(t, entities.TaskStateDeploymentTrain, redo.State)
	assert.Equal(t, 1, redo.CurrentIteration, "fraud redo must not advance the iteration")
	assert.Equal(t, 1, redo.CurrentIterationRetry)
	assert.Equal(t, 1, redo.WorkersNeeded)

	assignments, err := c.svc.taskAssignments(ctx, id)
	require.NoError(t, err)
	var flagged *entities.TaskAssignment
	for _, a := range assignments {
		if a.State == entities.AssignmentFakeResults {
			require.Nil(t, flagged, "exactly one assignment flagged")
			flagged = a
		}
	}
	require.NotNil(t, flagged)
	assert.Equal(t, "flagged fraudulent by verifier", flagged.Reason)

	// The redo audits a fresh submission set and comes back clean.
	clean := v.run.Outputs[runner.KindVerify]
	clean.Result = "[false,false]"
	v.run.Outputs[runner.KindVerify] = clean

	w3 := c.addWorker(t, "worker-3")
	c.pass(t, w3) // replacement admitted, shard redistributed
	c.pass(t, w3) // replacement trains iteration 1 again
	require.Equal(t, entities.TaskStateVerifyInProgress, c.task(t, id).State)
	c.pass(t, v) // re-audit of the same iteration with new candidates

	final := c.task(t, id)
	require.Equal(t, entities.TaskStateCompleted, final.State)
	assert.Equal(t, 1, final.CurrentIteration)
	assert.Equal(t, 2, trainRuns(v, runner.KindVerify), "verifier re-audits the redone iteration")

	assignments, err = c.svc.taskAssignments(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, entities.AssignmentForgotten, assignmentOf(assignments, flagged.WorkerID).State,
		"flagged assignment retired once replaced")

	flaggedName := "worker-1"
	if flagged.WorkerID == w2.id() {
		flaggedName = "worker-2"
	}
	_, byAddress := payouts(c.bridge, id)
	assert.Zero(t, byAddress["pay-"+flaggedName], "fraudulent worker earns nothing")
	assert.Equal(t, uint64(2), byAddress["pay-worker-3"])
}

func TestSurplusOfferRejected(t *testing.T) {
	c := newTestCluster(t)
	w1 := c.addWorker(t, "worker-1")
	w2 := c.addWorker(t, "worker-2")
	w3 := c.addWorker(t, "worker-3")
	v := c.addVerifier(t, "verifier-1", "[false,false]")
	est := c.addEstimator(t, "estimator-1")

	datasetID, modelID := c.addFixtures(t)
	ctx := context.Background()

	task := c.newTask(t, TaskSpec{
		DatasetID:        datasetID,
		TrainModelID:     modelID,
		BatchSize:        32,
		Epochs:           1,
		WorkersRequested: 2,
	}, est)
	id := task.AssetID()

	c.pass(t, w1, w2, w3, v)
	require.Equal(t, entities.TaskStateEpochInProgress, c.task(t, id).State)

	assignments, err := c.svc.taskAssignments(ctx, id)
	require.NoError(t, err)
	require.Len(t, assignments, 3)

	training, rejected := 0, 0
	for _, a := range assignments {
		switch a.State {
		case entities.AssignmentTraining:
			training++
		case entities.AssignmentRejected:
			rejected++
			assert.Equal(t, []string{a.WorkerID}, a.Owners, "rejected offer returns to its worker")
		default:
			t.Fatalf("unexpected assignment state %s", a.State)
		}
	}
	assert.Equal(t, 2, training)
	assert.Equal(t, 1, rejected)

	// Later polls from the rejected worker never produce a second offer.
	c.pass(t, w1, w2, w3)
	assignments, err = c.svc.taskAssignments(ctx, id)
	require.NoError(t, err)
	assert.Len(t, assignments, 3)
}

func TestStaleOfferReassigned(t *testing.T) {
	c := newTestCluster(t)
	w := c.addWorker(t, "worker-1")
	v := c.addVerifier(t, "verifier-1", "[false]")
	est := c.addEstimator(t, "estimator-1")
	c.svc.offerTTL = 50 * time.Millisecond

	datasetID, modelID := c.addFixtures(t)
	ctx := context.Background()

	task := c.newTask(t, TaskSpec{
		DatasetID:        datasetID,
		TrainModelID:     modelID,
		BatchSize:        32,
		Epochs:           1,
		WorkersRequested: 1,
	}, est)
	id := task.AssetID()

	require.NoError(t, w.svc.ProcessTasks(ctx))
	require.NoError(t, v.svc.ProcessTasks(ctx))
	time.Sleep(60 * time.Millisecond)
	require.NoError(t, c.svc.ProcessTasks(ctx)) // stale offers are pinged, not accepted

	assignments, err := c.svc.taskAssignments(ctx, id)
	require.NoError(t, err)
	require.Len(t, assignments, 1)
	assert.Equal(t, entities.AssignmentReassign, assignments[0].State)
	assert.Equal(t, []string{assignments[0].WorkerID}, assignments[0].Owners)

	c.svc.offerTTL = defOfferTTL
	c.pass(t, w, v) // refreshed offers win the race
	require.Equal(t, entities.TaskStateEpochInProgress, c.task(t, id).State)

	c.pass(t, w)
	c.pass(t, v)
	require.Equal(t, entities.TaskStateCompleted, c.task(t, id).State)
}

func TestEstimatorTimeoutReplacement(t *testing.T) {
	c := newTestCluster(t)
	e1 := c.addEstimator(t, "estimator-1")
	c.svc.estimateDeadline = 50 * time.Millisecond

	datasetID, modelID := c.addFixtures(t)
	ctx := context.Background()

	task, err := c.svc.AddTask(ctx, TaskSpec{
		DatasetID:        datasetID,
		TrainModelID:     modelID,
		BatchSize:        32,
		Epochs:           1,
		WorkersRequested: 1,
	})
	require.NoError(t, err)
	id := task.AssetID()

	c.pass(t, e1) // offer admitted; estimator then goes silent
	require.Equal(t, entities.TaskStateEstimateInProgress, c.task(t, id).State)
	time.Sleep(60 * time.Millisecond)
	c.pass(t) // quarantined, slot returned

	returned := c.task(t, id)
	require.Equal(t, entities.TaskStateEstimateRequired, returned.State)
	assert.Equal(t, 1, returned.EstimatorsNeeded)

	e2 := c.addEstimator(t, "estimator-2")
	c.pass(t, e2)
	c.pass(t, e2)
	estimated := c.task(t, id)
	require.Equal(t, entities.TaskStateEstimated, estimated.State)
	assert.InDelta(t, 16.0, estimated.EstimatedTFLOPs, 0.001)

	estimations, err := c.svc.estimationAssignments(ctx, id)
	require.NoError(t, err)
	require.Len(t, estimations, 2)
	states := map[entities.AssignmentState]int{}
	for _, a := range estimations {
		states[a.State]++
	}
	assert.Equal(t, 1, states[entities.AssignmentForgotten], "quarantined estimator retired once replaced")
	assert.Equal(t, 1, states[entities.AssignmentFinished])

	_ = e1
}

func TestWhitelistExcludesWorkers(t *testing.T) {
	c := newTestCluster(t)
	w1 := c.addWorker(t, "worker-1")
	w2 := c.addWorker(t, "worker-2")
	v := c.addVerifier(t, "verifier-1", "[false]")
	est := c.addEstimator(t, "estimator-1")
	c.svc.whitelist = Whitelist{Workers: []string{w2.id()}}

	datasetID, modelID := c.addFixtures(t)
	ctx := context.Background()

	task := c.newTask(t, TaskSpec{
		DatasetID:        datasetID,
		TrainModelID:     modelID,
		BatchSize:        32,
		Epochs:           1,
		WorkersRequested: 1,
	}, est)
	id := task.AssetID()

	c.pass(t, w1, w2, v)
	require.Equal(t, entities.TaskStateEpochInProgress, c.task(t, id).State)

	assignments, err := c.svc.taskAssignments(ctx, id)
	require.NoError(t, err)
	require.Len(t, assignments, 2)
	assert.Equal(t, entities.AssignmentRejected, assignmentOf(assignments, w1.id()).State)
	assert.Equal(t, entities.AssignmentTraining, assignmentOf(assignments, w2.id()).State)
}

func TestWorkerErrorFailsTask(t *testing.T) {
	c := newTestCluster(t)
	w := c.addWorker(t, "worker-1")
	v := c.addVerifier(t, "verifier-1", "[false]")
	est := c.addEstimator(t, "estimator-1")
	w.run.Errs[runner.KindTrain] = &runner.TaskError{Kind: runner.ErrorKindCode, Message: "bad loss function"}

	datasetID, modelID := c.addFixtures(t)
	ctx := context.Background()

	task := c.newTask(t, TaskSpec{
		DatasetID:        datasetID,
		TrainModelID:     modelID,
		BatchSize:        32,
		Epochs:           1,
		WorkersRequested: 1,
	}, est)
	id := task.AssetID()

	c.pass(t, w, v)
	require.NoError(t, w.svc.ProcessTasks(ctx)) // training run reports the code error

	err := c.svc.ProcessTasks(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed")
	require.Equal(t, entities.TaskStateFailed, c.task(t, id).State)
}

// assignmentStates reads the state carried by every transaction in an
// assignment's chain, oldest first.
func assignmentStates(t *testing.T, c *testCluster, assetID string) []entities.AssignmentState {
	t.Helper()

	txs, err := c.client.GetTransactions(context.Background(), assetID)
	require.NoError(t, err)

	states := make([]entities.AssignmentState, 0, len(txs))
	for _, tx := range txs {
		s, _ := tx.Metadata["state"].(string)
		states = append(states, entities.AssignmentState(s))
	}

	return states
}

func assertTerminalSink(t *testing.T, c *testCluster, assetID string) {
	t.Helper()

	var sink entities.AssignmentState
	for _, s := range assignmentStates(t, c, assetID) {
		if sink != "" {
			assert.Equal(t, sink, s, "assignment %s left its sink state", assetID)

			continue
		}
		if s.Terminal() {
			sink = s
		}
	}
	assert.NotEmpty(t, sink, "assignment %s never reached a sink", assetID)
}

func TestAssignmentTerminalStatesAreSinks(t *testing.T) {
	c := newTestCluster(t)
	w1 := c.addWorker(t, "worker-1")
	w2 := c.addWorker(t, "worker-2")
	v := c.addVerifier(t, "verifier-1", "[false,false]")
	est := c.addEstimator(t, "estimator-1")
	c.svc.trainDeadline = 50 * time.Millisecond

	datasetID, modelID := c.addFixtures(t)
	ctx := context.Background()

	task := c.newTask(t, TaskSpec{
		DatasetID:        datasetID,
		TrainModelID:     modelID,
		BatchSize:        32,
		Epochs:           1,
		WorkersRequested: 2,
	}, est)
	id := task.AssetID()

	c.pass(t, w1, w2, v)
	c.pass(t, w1) // worker-2 goes silent
	time.Sleep(60 * time.Millisecond)
	c.pass(t) // quarantined, slot returned

	w3 := c.addWorker(t, "worker-3")
	c.pass(t, w3)
	c.pass(t, w3)
	c.pass(t, v)
	require.Equal(t, entities.TaskStateCompleted, c.task(t, id).State)

	// Every assignment ends in a sink and its history never leaves one:
	// worker-1 and worker-3 finish, worker-2 is retired, the verifier
	// finishes.
	assignments, err := c.svc.taskAssignments(ctx, id)
	require.NoError(t, err)
	require.Len(t, assignments, 3)
	for _, a := range assignments {
		assertTerminalSink(t, c, a.AssetID())
	}

	verifications, err := c.svc.verificationAssignments(ctx, id)
	require.NoError(t, err)
	require.Len(t, verifications, 1)
	assertTerminalSink(t, c, verifications[0].AssetID())
}

// assertWorkerSlotBalance recounts held worker slots against the
// declaration's needed counter. Quarantined and retired assignments hold
// no slot.
func assertWorkerSlotBalance(t *testing.T, c *testCluster, id string) {
	t.Helper()

	task := c.task(t, id)
	switch task.State {
	case entities.TaskStateDeployment, entities.TaskStateDeploymentTrain,
		entities.TaskStateEpochInProgress, entities.TaskStateVerifyInProgress,
		entities.TaskStateCompleted:
	default:
		return
	}

	assignments, err := c.svc.taskAssignments(context.Background(), id)
	require.NoError(t, err)
	active := 0
	for _, a := range assignments {
		if a.State.Active() {
			active++
		}
	}
	assert.Equal(t, task.WorkersRequested, task.WorkersNeeded+active,
		"worker slots out of balance in state %s", task.State)
}

func TestWorkerSlotConservation(t *testing.T) {
	c := newTestCluster(t)
	w1 := c.addWorker(t, "worker-1")
	w2 := c.addWorker(t, "worker-2")
	v := c.addVerifier(t, "verifier-1", "[false,false]")
	est := c.addEstimator(t, "estimator-1")
	c.svc.trainDeadline = 50 * time.Millisecond

	datasetID, modelID := c.addFixtures(t)

	task := c.newTask(t, TaskSpec{
		DatasetID:        datasetID,
		TrainModelID:     modelID,
		BatchSize:        32,
		Epochs:           1,
		WorkersRequested: 2,
	}, est)
	id := task.AssetID()

	assertWorkerSlotBalance(t, c, id)
	c.pass(t, w1, w2, v)
	assertWorkerSlotBalance(t, c, id)

	c.pass(t, w1) // worker-2 goes silent
	assertWorkerSlotBalance(t, c, id)
	time.Sleep(60 * time.Millisecond)
	c.pass(t) // quarantine returns the slot to the needed counter
	assertWorkerSlotBalance(t, c, id)

	w3 := c.addWorker(t, "worker-3")
	c.pass(t, w3)
	assertWorkerSlotBalance(t, c, id)

	c.pass(t, w3)
	c.pass(t, v)
	assertWorkerSlotBalance(t, c, id)
	require.Equal(t, entities.TaskStateCompleted, c.task(t, id).State)
}
