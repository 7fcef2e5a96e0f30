// Package entities defines the domain records the roles coordinate
// through: the task declaration, the assignment/data/result triples for
// training, verification and estimation, dataset and model references, and
// the role identity records. Every record is an entity on the ledger;
// records reference each other by asset id only.
package entities

import (
	"github.com/makar21/core-sub000/pkg/entity"
)

type TaskState string

const (
	TaskStateEstimateRequired   TaskState = "estimate_is_required"
	TaskStateEstimateInProgress TaskState = "estimate_is_in_progress"
	TaskStateEstimated          TaskState = "estimated"
	TaskStateDeployment         TaskState = "deployment"
	TaskStateDeploymentTrain    TaskState = "deployment_train"
	TaskStateEpochInProgress    TaskState = "epoch_in_progress"
	TaskStateVerifyInProgress   TaskState = "verify_in_progress"
	TaskStateCompleted          TaskState = "completed"
	TaskStateFailed             TaskState = "failed"
	TaskStateCanceled           TaskState = "canceled"
)

// Terminal reports whether the job is finished for good. Every poll loop
// checks this first and skips terminal jobs.
func (s TaskState) Terminal() bool {
	switch s {
	case TaskStateCompleted, TaskStateFailed, TaskStateCanceled:
		return true
	default:
		return false
	}
}

const TypeTaskDeclaration = "task_declaration"

// TaskDeclaration is a training job published by a producer.
type TaskDeclaration struct {
	entity.Meta

	ProducerID          string `json:"producer_id"`
	DatasetID           string `json:"dataset_id"`
	TrainModelID        string `json:"train_model_id"`
	BatchSize           int    `json:"batch_size"`
	Epochs              int    `json:"epochs"`
	EpochsInIteration   int    `json:"epochs_in_iteration"`
	WorkersRequested    int    `json:"workers_requested"`
	VerifiersRequested  int    `json:"verifiers_requested"`
	EstimatorsRequested int    `json:"estimators_requested"`

	State                 TaskState `json:"state"`
	WeightsHash           string    `json:"weights_ipfs"`
	WorkersNeeded         int       `json:"workers_needed"`
	VerifiersNeeded       int       `json:"verifiers_needed"`
	EstimatorsNeeded      int       `json:"estimators_needed"`
	CurrentIteration      int       `json:"current_iteration"`
	CurrentIterationRetry int       `json:"current_iteration_retry"`
	Progress              float64   `json:"progress"`
	TFLOPs                float64   `json:"tflops"`
	EstimatedTFLOPs       float64   `json:"estimated_tflops"`
	Loss                  float64   `json:"loss"`
	Accuracy              float64   `json:"accuracy"`
}

func (t *TaskDeclaration) Schema() entity.Schema {
	return entity.Schema{
		Type: TypeTaskDeclaration,
		Fields: []entity.Field{
			{Name: "producer_id", Slot: entity.Immutable, Required: true},
			{Name: "dataset_id", Slot: entity.Immutable, Required: true},
			{Name: "train_model_id", Slot: entity.Immutable, Required: true},
			{Name: "batch_size", Slot: entity.Immutable, Required: true},
			{Name: "epochs", Slot: entity.Immutable, Required: true},
			{Name: "epochs_in_iteration", Slot: entity.Immutable, Default: 1},
			{Name: "workers_requested", Slot: entity.Immutable, Required: true},
			{Name: "verifiers_requested", Slot: entity.Immutable, Default: 1},
			{Name: "estimators_requested", Slot: entity.Immutable, Default: 1},
			{Name: "state", Slot: entity.Mutable, Default: string(TaskStateEstimateRequired)},
			{Name: "weights_ipfs", Slot: entity.Mutable, Nullable: true},
			{Name: "workers_needed", Slot: entity.Mutable},
			{Name: "verifiers_needed", Slot: entity.Mutable},
			{Name: "estimators_needed", Slot: entity.Mutable},
			{Name: "current_iteration", Slot: entity.Mutable},
			{Name: "current_iteration_retry", Slot: entity.Mutable},
			{Name: "progress", Slot: entity.Mutable},
			{Name: "tflops", Slot: entity.Mutable},
			{Name: "estimated_tflops", Slot: entity.Mutable},
			{Name: "loss", Slot: entity.Mutable},
			{Name: "accuracy", Slot: entity.Mutable},
		},
	}
}

func (t *TaskDeclaration) Values() map[string]any {
	return map[string]any{
		"producer_id":             t.ProducerID,
		"dataset_id":              t.DatasetID,
		"train_model_id":          t.TrainModelID,
		"batch_size":              t.BatchSize,
		"epochs":                  t.Epochs,
		"epochs_in_iteration":     t.EpochsInIteration,
		"workers_requested":       t.WorkersRequested,
		"verifiers_requested":     t.VerifiersRequested,
		"estimators_requested":    t.EstimatorsRequested,
		"state":                   string(t.State),
		"weights_ipfs":            t.WeightsHash,
		"workers_needed":          t.WorkersNeeded,
		"verifiers_needed":        t.VerifiersNeeded,
		"estimators_needed":       t.EstimatorsNeeded,
		"current_iteration":       t.CurrentIteration,
		"current_iteration_retry": t.CurrentIterationRetry,
		"progress":                t.Progress,
		"tflops":                  t.TFLOPs,
		"estimated_tflops":        t.EstimatedTFLOPs,
		"loss":                    t.Loss,
		"accuracy":                t.Accuracy,
	}
}

func (t *TaskDeclaration) SetValues(values map[string]any) error {
	t.ProducerID = asString(values["producer_id"])
	t.DatasetID = asString(values["dataset_id"])
	t.TrainModelID = asString(values["train_model_id"])
	t.BatchSize = asInt(values["batch_size"])
	t.Epochs = asInt(values["epochs"])
	t.EpochsInIteration = asInt(values["epochs_in_iteration"])
	t.WorkersRequested = asInt(values["workers_requested"])
	t.VerifiersRequested = asInt(values["verifiers_requested"])
	t.EstimatorsRequested = asInt(values["estimators_requested"])
	t.State = TaskState(asString(values["state"]))
	t.WeightsHash = asString(values["weights_ipfs"])
	t.WorkersNeeded = asInt(values["workers_needed"])
	t.VerifiersNeeded = asInt(values["verifiers_needed"])
	t.EstimatorsNeeded = asInt(values["estimators_needed"])
	t.CurrentIteration = asInt(values["current_iteration"])
	t.CurrentIterationRetry = asInt(values["current_iteration_retry"])
	t.Progress = asFloat(values["progress"])
	t.TFLOPs = asFloat(values["tflops"])
	t.EstimatedTFLOPs = asFloat(values["estimated_tflops"])
	t.Loss = asFloat(values["loss"])
	t.Accuracy = asFloat(values["accuracy"])

	return nil
}

// TotalIterations is the number of verification-bounded iterations the job
// trains for.
func (t *TaskDeclaration) TotalIterations() int {
	if t.EpochsInIteration <= 0 {
		return t.Epochs
	}
	n := t.Epochs / t.EpochsInIteration
	if t.Epochs%t.EpochsInIteration != 0 {
		n++
	}

	return n
}

func (t *TaskDeclaration) LastIteration() bool {
	return t.CurrentIteration >= t.TotalIterations()
}

// Ready reports whether deployment may proceed: every worker and verifier
// slot is filled.
func (t *TaskDeclaration) Ready() bool {
	return t.WorkersNeeded == 0 && t.VerifiersNeeded == 0
}
