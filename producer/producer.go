// Package producer drives training jobs through their lifecycle: accept
// estimator offers, gate on funding, deploy data to accepted workers, poll
// iteration results, hand them to the verifier and settle payouts. All
// coordination happens through ledger records; the producer never talks to
// a performer directly.
package producer

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/makar21/core-sub000/entities"
	"github.com/makar21/core-sub000/pkg/entity"
	pkgerrors "github.com/makar21/core-sub000/pkg/errors"
	"github.com/makar21/core-sub000/pkg/objectstore"
	"github.com/makar21/core-sub000/pkg/payment"
)

const (
	// An in-flight result untouched for longer than its role deadline
	// converts the assignment to timeout and returns the slot.
	defEstimateDeadline = 10 * time.Minute
	defTrainDeadline    = 30 * time.Minute
	defVerifyDeadline   = 20 * time.Minute

	// Offers older than this are pinged with a reassign instead of being
	// accepted outright.
	defOfferTTL = 15 * time.Minute

	// Settlement units per TFLOP of reported work.
	costPerTFLOP = 1
)

// TaskSpec is the operator's description of a new training job.
type TaskSpec struct {
	DatasetID           string `json:"dataset_id"`
	TrainModelID        string `json:"train_model_id"`
	WeightsHash         string `json:"weights_ipfs,omitempty"`
	BatchSize           int    `json:"batch_size"`
	Epochs              int    `json:"epochs"`
	EpochsInIteration   int    `json:"epochs_in_iteration"`
	WorkersRequested    int    `json:"workers_requested"`
	VerifiersRequested  int    `json:"verifiers_requested"`
	EstimatorsRequested int    `json:"estimators_requested"`
}

// TaskStatus is the read-only view the monitor and the status API serve.
type TaskStatus struct {
	Task          *entities.TaskDeclaration          `json:"task"`
	Assignments   []*entities.TaskAssignment         `json:"assignments"`
	Verifications []*entities.VerificationAssignment `json:"verifications"`
	Estimations   []*entities.EstimationAssignment   `json:"estimations"`
	Balance       uint64                             `json:"balance"`
}

// Whitelist restricts which performer identities may take a slot. An empty
// list admits anyone.
type Whitelist struct {
	Workers    []string
	Verifiers  []string
	Estimators []string
}

func allowed(list []string, publicKey string) bool {
	if len(list) == 0 {
		return true
	}
	for _, id := range list {
		if id == publicKey {
			return true
		}
	}

	return false
}

type Service interface {
	CreateDataset(ctx context.Context, name, trainDir, testDir string) (*entities.Dataset, error)
	CreateModel(ctx context.Context, name, codePath string) (*entities.TrainModel, error)
	AddTask(ctx context.Context, spec TaskSpec) (*entities.TaskDeclaration, error)
	GetTask(ctx context.Context, id string) (*entities.TaskDeclaration, error)
	ListTasks(ctx context.Context) ([]*entities.TaskDeclaration, error)
	CancelTask(ctx context.Context, id string) error
	StopTask(ctx context.Context, id string) error
	IssueJob(ctx context.Context, id string, amount uint64) error
	Deposit(ctx context.Context, id string, amount uint64) error
	TaskStatus(ctx context.Context, id string) (TaskStatus, error)
	ProcessTasks(ctx context.Context) error
}

type service struct {
	store     *entity.Store
	objects   objectstore.Store
	bridge    payment.Bridge
	whitelist Whitelist

	estimateDeadline time.Duration
	trainDeadline    time.Duration
	verifyDeadline   time.Duration
	offerTTL         time.Duration
}

func NewService(store *entity.Store, objects objectstore.Store, bridge payment.Bridge, whitelist Whitelist) Service {
	return &service{
		store:     store,
		objects:   objects,
		bridge:    bridge,
		whitelist: whitelist,

		estimateDeadline: defEstimateDeadline,
		trainDeadline:    defTrainDeadline,
		verifyDeadline:   defVerifyDeadline,
		offerTTL:         defOfferTTL,
	}
}

func (svc *service) CreateDataset(ctx context.Context, name, trainDir, testDir string) (*entities.Dataset, error) {
	trainHash, err := svc.objects.AddDir(ctx, trainDir)
	if err != nil {
		return nil, err
	}
	var testHash string
	if testDir != "" {
		if testHash, err = svc.objects.AddDir(ctx, testDir); err != nil {
			return nil, err
		}
	}

	ds := &entities.Dataset{Name: name, TrainDirHash: trainHash, TestDirHash: testHash}
	if err := svc.store.Create(ctx, ds); err != nil {
		return nil, err
	}

	return ds, nil
}

func (svc *service) CreateModel(ctx context.Context, name, codePath string) (*entities.TrainModel, error) {
	codeHash, err := svc.objects.AddFile(ctx, codePath)
	if err != nil {
		return nil, err
	}

	m := &entities.TrainModel{Name: name, CodeHash: codeHash}
	if err := svc.store.Create(ctx, m); err != nil {
		return nil, err
	}

	return m, nil
}

func (svc *service) AddTask(ctx context.Context, spec TaskSpec) (*entities.TaskDeclaration, error) {
	if spec.WorkersRequested < 1 {
		return nil, fmt.Errorf("%w: at least one worker required", pkgerrors.ErrInvalidData)
	}
	if spec.Epochs < 1 {
		return nil, fmt.Errorf("%w: at least one epoch required", pkgerrors.ErrInvalidData)
	}

	t := &entities.TaskDeclaration{
		ProducerID:          svc.store.PublicKey(),
		DatasetID:           spec.DatasetID,
		TrainModelID:        spec.TrainModelID,
		WeightsHash:         spec.WeightsHash,
		BatchSize:           spec.BatchSize,
		Epochs:              spec.Epochs,
		EpochsInIteration:   spec.EpochsInIteration,
		WorkersRequested:    spec.WorkersRequested,
		VerifiersRequested:  spec.VerifiersRequested,
		EstimatorsRequested: spec.EstimatorsRequested,
		State:               entities.TaskStateEstimateRequired,
	}
	if t.EpochsInIteration < 1 {
		t.EpochsInIteration = 1
	}
	if t.VerifiersRequested < 1 {
		t.VerifiersRequested = 1
	}
	if t.EstimatorsRequested < 1 {
		t.EstimatorsRequested = 1
	}
	t.EstimatorsNeeded = t.EstimatorsRequested

	if err := svc.store.Create(ctx, t); err != nil {
		return nil, err
	}

	return t, nil
}

func (svc *service) GetTask(ctx context.Context, id string) (*entities.TaskDeclaration, error) {
	t := &entities.TaskDeclaration{}
	if err := svc.store.Get(ctx, t, id); err != nil {
		return nil, err
	}

	return t, nil
}

func (svc *service) ListTasks(ctx context.Context) ([]*entities.TaskDeclaration, error) {
	return entity.Collect(entity.List(ctx, svc.store,
		func() *entities.TaskDeclaration { return &entities.TaskDeclaration{} },
		map[string]any{"producer_id": svc.store.PublicKey()},
	))
}

func (svc *service) CancelTask(ctx context.Context, id string) error {
	return svc.finishTask(ctx, id, entities.TaskStateCanceled)
}

// StopTask ends the job gracefully: current results stand, no further
// iterations run.
func (svc *service) StopTask(ctx context.Context, id string) error {
	return svc.finishTask(ctx, id, entities.TaskStateCompleted)
}

func (svc *service) finishTask(ctx context.Context, id string, state entities.TaskState) error {
	t, err := svc.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if t.State.Terminal() {
		return fmt.Errorf("%w: task %s is already %s", pkgerrors.ErrInvalidData, id, t.State)
	}

	t.State = state

	return svc.store.Save(ctx, t)
}

func (svc *service) IssueJob(ctx context.Context, id string, amount uint64) error {
	t, err := svc.GetTask(ctx, id)
	if err != nil {
		return err
	}

	exists, err := svc.bridge.DoesJobExist(ctx, t.ID)
	if err != nil {
		return err
	}
	if exists {
		return svc.bridge.Deposit(ctx, t.ID, amount)
	}

	return svc.bridge.IssueJob(ctx, t.ID, amount)
}

func (svc *service) Deposit(ctx context.Context, id string, amount uint64) error {
	t, err := svc.GetTask(ctx, id)
	if err != nil {
		return err
	}

	return svc.bridge.Deposit(ctx, t.ID, amount)
}

func (svc *service) TaskStatus(ctx context.Context, id string) (TaskStatus, error) {
	t, err := svc.GetTask(ctx, id)
	if err != nil {
		return TaskStatus{}, err
	}

	assignments, err := svc.taskAssignments(ctx, t.ID)
	if err != nil {
		return TaskStatus{}, err
	}
	verifications, err := svc.verificationAssignments(ctx, t.ID)
	if err != nil {
		return TaskStatus{}, err
	}
	estimations, err := svc.estimationAssignments(ctx, t.ID)
	if err != nil {
		return TaskStatus{}, err
	}

	balance, err := svc.bridge.GetJobBalance(ctx, t.ID)
	if err != nil {
		balance = 0
	}

	return TaskStatus{
		Task:          t,
		Assignments:   assignments,
		Verifications: verifications,
		Estimations:   estimations,
		Balance:       balance,
	}, nil
}

// ProcessTasks runs one poll pass over every non-terminal task this
// producer owns. Each transition is an idempotent re-evaluation of ledger
// state; running the pass twice on an unchanged view writes nothing new.
func (svc *service) ProcessTasks(ctx context.Context) error {
	tasks, err := svc.ListTasks(ctx)
	if err != nil {
		return err
	}

	for _, t := range tasks {
		if t.State.Terminal() {
			continue
		}
		if err := svc.processTask(ctx, t); err != nil {
			return fmt.Errorf("task %s in %s: %w", t.ID, t.State, err)
		}
	}

	return nil
}

func (svc *service) processTask(ctx context.Context, t *entities.TaskDeclaration) error {
	switch t.State {
	case entities.TaskStateEstimateRequired:
		return svc.processEstimateRequired(ctx, t)
	case entities.TaskStateEstimateInProgress:
		return svc.processEstimateInProgress(ctx, t)
	case entities.TaskStateEstimated:
		return svc.processEstimated(ctx, t)
	case entities.TaskStateDeployment, entities.TaskStateDeploymentTrain:
		return svc.processDeployment(ctx, t)
	case entities.TaskStateEpochInProgress:
		return svc.processEpochInProgress(ctx, t)
	case entities.TaskStateVerifyInProgress:
		return svc.processVerifyInProgress(ctx, t)
	default:
		return fmt.Errorf("%w: task %s in unknown state %q", pkgerrors.ErrInvariant, t.ID, t.State)
	}
}

func (svc *service) taskAssignments(ctx context.Context, taskID string) ([]*entities.TaskAssignment, error) {
	return entity.Collect(entity.List(ctx, svc.store,
		func() *entities.TaskAssignment { return &entities.TaskAssignment{} },
		map[string]any{"task_declaration_id": taskID},
	))
}

func (svc *service) verificationAssignments(ctx context.Context, taskID string) ([]*entities.VerificationAssignment, error) {
	return entity.Collect(entity.List(ctx, svc.store,
		func() *entities.VerificationAssignment { return &entities.VerificationAssignment{} },
		map[string]any{"task_declaration_id": taskID},
	))
}

func (svc *service) estimationAssignments(ctx context.Context, taskID string) ([]*entities.EstimationAssignment, error) {
	return entity.Collect(entity.List(ctx, svc.store,
		func() *entities.EstimationAssignment { return &entities.EstimationAssignment{} },
		map[string]any{"task_declaration_id": taskID},
	))
}

// performerInfo resolves the identity record of the performer that signed
// with publicKey. The record carries the encryption key data payloads are
// addressed to and the payout address.
func (svc *service) performerInfo(ctx context.Context, publicKey string) (*entities.NodeInfo, error) {
	return entities.LookupNodeInfo(ctx, svc.store, publicKey,
		entities.TypeWorkerNode,
		entities.TypeVerifierNode,
		entities.TypeEstimatorNode,
	)
}

func (svc *service) taskFailed(ctx context.Context, t *entities.TaskDeclaration, reason string) error {
	t.State = entities.TaskStateFailed

	if err := svc.store.Save(ctx, t); err != nil {
		return err
	}

	return fmt.Errorf("task %s failed: %s", t.ID, reason)
}

func (svc *service) trainingCost(t *entities.TaskDeclaration) uint64 {
	return uint64(math.Ceil(t.EstimatedTFLOPs)) * costPerTFLOP
}

// trainChunks lists the dataset's training chunk hashes in stable order.
func (svc *service) trainChunks(ctx context.Context, t *entities.TaskDeclaration) ([]string, string, error) {
	ds := &entities.Dataset{}
	if err := svc.store.Get(ctx, ds, t.DatasetID); err != nil {
		return nil, "", err
	}

	_, files, err := svc.objects.Ls(ctx, ds.TrainDirHash)
	if err != nil {
		return nil, "", err
	}
	chunks := make([]string, 0, len(files))
	for _, f := range files {
		chunks = append(chunks, f.Hash)
	}

	return chunks, ds.TestDirHash, nil
}

func (svc *service) modelCode(ctx context.Context, t *entities.TaskDeclaration) (string, error) {
	m := &entities.TrainModel{}
	if err := svc.store.Get(ctx, m, t.TrainModelID); err != nil {
		return "", err
	}

	return m.CodeHash, nil
}

func encodeChunks(chunks []string) (string, error) {
	raw, err := json.Marshal(chunks)
	if err != nil {
		return "", err
	}

	return string(raw), nil
}

// staleness is the age of the performer's last visible write.
func staleness(assignmentModified, resultModified time.Time) time.Duration {
	last := assignmentModified
	if resultModified.After(last) {
		last = resultModified
	}

	return time.Since(last)
}
