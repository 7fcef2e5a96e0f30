package entities

import (
	"github.com/makar21/core-sub000/pkg/entity"
)

// AssignmentState is shared by the train, verification and estimation
// assignment machines. Each machine uses the subset that applies to it.
type AssignmentState string

const (
	// AssignmentInitial is the just-created offer, still owned by the
	// performer.
	AssignmentInitial AssignmentState = "initial"
	// AssignmentReady is an offer handed to the producer for the
	// acceptance race.
	AssignmentReady AssignmentState = "ready"
	// AssignmentAccepted means the producer took the offer but has not
	// distributed data yet.
	AssignmentAccepted   AssignmentState = "accepted"
	AssignmentTraining   AssignmentState = "training"
	AssignmentVerifying  AssignmentState = "verifying"
	AssignmentEstimating AssignmentState = "estimating"
	// AssignmentReassign asks a standby performer to refresh its offer
	// after a slot opened up.
	AssignmentReassign AssignmentState = "reassign"
	// AssignmentTimeout quarantines an assignment whose performer went
	// silent. Its slot is returned to the declaration.
	AssignmentTimeout AssignmentState = "timeout"
	// AssignmentFakeResults quarantines an assignment the verifier
	// flagged as fraudulent.
	AssignmentFakeResults AssignmentState = "fake_results"
	AssignmentFinished    AssignmentState = "finished"
	AssignmentRejected    AssignmentState = "rejected"
	// AssignmentForgotten retires a quarantined assignment once a
	// replacement holds its slot.
	AssignmentForgotten AssignmentState = "forgotten"
)

// Terminal states are sinks: an assignment never leaves them.
func (s AssignmentState) Terminal() bool {
	switch s {
	case AssignmentFinished, AssignmentRejected, AssignmentForgotten:
		return true
	default:
		return false
	}
}

// Active reports whether the assignment holds a slot on the declaration.
func (s AssignmentState) Active() bool {
	switch s {
	case AssignmentAccepted, AssignmentTraining, AssignmentVerifying, AssignmentEstimating, AssignmentFinished:
		return true
	default:
		return false
	}
}

const TypeTaskAssignment = "task_assignment"

// TaskAssignment links one worker to one task declaration plus the
// TrainData/TrainResult pair for the current iteration.
type TaskAssignment struct {
	entity.Meta

	ProducerID        string `json:"producer_id"`
	TaskDeclarationID string `json:"task_declaration_id"`
	WorkerID          string `json:"worker_id"`

	State         AssignmentState `json:"state"`
	TrainDataID   string          `json:"train_data_id"`
	TrainResultID string          `json:"train_result_id"`
	// ShardIndex is the dataset slot this worker trains. Assigned at
	// acceptance; a replacement worker inherits the vacated slot.
	ShardIndex int    `json:"shard_index"`
	Reason     string `json:"reason"`
}

func (a *TaskAssignment) Schema() entity.Schema {
	return entity.Schema{
		Type: TypeTaskAssignment,
		Fields: []entity.Field{
			{Name: "producer_id", Slot: entity.Immutable, Required: true},
			{Name: "task_declaration_id", Slot: entity.Immutable, Required: true},
			{Name: "worker_id", Slot: entity.Immutable, Required: true},
			{Name: "state", Slot: entity.Mutable, Default: string(AssignmentInitial)},
			{Name: "train_data_id", Slot: entity.Mutable, Nullable: true},
			{Name: "train_result_id", Slot: entity.Mutable, Nullable: true},
			{Name: "shard_index", Slot: entity.Mutable},
			{Name: "reason", Slot: entity.Mutable, Nullable: true},
		},
	}
}

func (a *TaskAssignment) Values() map[string]any {
	return map[string]any{
		"producer_id":         a.ProducerID,
		"task_declaration_id": a.TaskDeclarationID,
		"worker_id":           a.WorkerID,
		"state":               string(a.State),
		"train_data_id":       a.TrainDataID,
		"train_result_id":     a.TrainResultID,
		"shard_index":         a.ShardIndex,
		"reason":              a.Reason,
	}
}

func (a *TaskAssignment) SetValues(values map[string]any) error {
	a.ProducerID = asString(values["producer_id"])
	a.TaskDeclarationID = asString(values["task_declaration_id"])
	a.WorkerID = asString(values["worker_id"])
	a.State = AssignmentState(asString(values["state"]))
	a.TrainDataID = asString(values["train_data_id"])
	a.TrainResultID = asString(values["train_result_id"])
	a.ShardIndex = asInt(values["shard_index"])
	a.Reason = asString(values["reason"])

	return nil
}

const TypeTrainData = "train_data"

// TrainData is the producer-authored input for one worker and one
// iteration. A fresh record is created per iteration; it never mutates.
// The payload fields are encrypted to the assigned worker.
type TrainData struct {
	entity.Meta

	TaskDeclarationID string `json:"task_declaration_id"`
	TaskAssignmentID  string `json:"task_assignment_id"`
	CurrentIteration  int    `json:"current_iteration"`
	BatchSize         int    `json:"batch_size"`
	Epochs            int    `json:"epochs"`

	ModelCodeHash string `json:"model_code_ipfs"`
	WeightsHash   string `json:"weights_ipfs"`
	TrainChunks   string `json:"train_chunks"`
	TestChunks    string `json:"test_chunks"`
}

func (d *TrainData) Schema() entity.Schema {
	return entity.Schema{
		Type: TypeTrainData,
		Fields: []entity.Field{
			{Name: "task_declaration_id", Slot: entity.Immutable, Required: true},
			{Name: "task_assignment_id", Slot: entity.Immutable, Required: true},
			{Name: "current_iteration", Slot: entity.Immutable, Required: true},
			{Name: "batch_size", Slot: entity.Immutable, Required: true},
			{Name: "epochs", Slot: entity.Immutable, Required: true},
			{Name: "model_code_ipfs", Slot: entity.Immutable, Encrypted: true, Required: true},
			{Name: "weights_ipfs", Slot: entity.Immutable, Encrypted: true, Nullable: true},
			{Name: "train_chunks", Slot: entity.Immutable, Encrypted: true, Required: true},
			{Name: "test_chunks", Slot: entity.Immutable, Encrypted: true, Nullable: true},
		},
	}
}

func (d *TrainData) Values() map[string]any {
	return map[string]any{
		"task_declaration_id": d.TaskDeclarationID,
		"task_assignment_id":  d.TaskAssignmentID,
		"current_iteration":   d.CurrentIteration,
		"batch_size":          d.BatchSize,
		"epochs":              d.Epochs,
		"model_code_ipfs":     d.ModelCodeHash,
		"weights_ipfs":        d.WeightsHash,
		"train_chunks":        d.TrainChunks,
		"test_chunks":         d.TestChunks,
	}
}

func (d *TrainData) SetValues(values map[string]any) error {
	d.TaskDeclarationID = asString(values["task_declaration_id"])
	d.TaskAssignmentID = asString(values["task_assignment_id"])
	d.CurrentIteration = asInt(values["current_iteration"])
	d.BatchSize = asInt(values["batch_size"])
	d.Epochs = asInt(values["epochs"])
	d.ModelCodeHash = asString(values["model_code_ipfs"])
	d.WeightsHash = asString(values["weights_ipfs"])
	d.TrainChunks = asString(values["train_chunks"])
	d.TestChunks = asString(values["test_chunks"])

	return nil
}

// ResultState tracks a performer's progress within the current iteration.
type ResultState string

const (
	ResultInProgress ResultState = "in_progress"
	ResultFinished   ResultState = "finished"
)

const TypeTrainResult = "train_result"

// TrainResult is worker-authored: created once when training starts and
// updated every iteration. Output fields are encrypted to the producer.
type TrainResult struct {
	entity.Meta

	TaskDeclarationID string `json:"task_declaration_id"`
	TaskAssignmentID  string `json:"task_assignment_id"`
	WorkerID          string `json:"worker_id"`

	State            ResultState `json:"state"`
	CurrentIteration int         `json:"current_iteration"`
	Progress         float64     `json:"progress"`
	TFLOPs           float64     `json:"tflops"`
	WeightsHash      string      `json:"weights_ipfs"`
	Loss             float64     `json:"loss"`
	Accuracy         float64     `json:"accuracy"`
	Error            string      `json:"error"`
}

func (r *TrainResult) Schema() entity.Schema {
	return entity.Schema{
		Type: TypeTrainResult,
		Fields: []entity.Field{
			{Name: "task_declaration_id", Slot: entity.Immutable, Required: true},
			{Name: "task_assignment_id", Slot: entity.Immutable, Required: true},
			{Name: "worker_id", Slot: entity.Immutable, Required: true},
			{Name: "state", Slot: entity.Mutable, Default: string(ResultInProgress)},
			{Name: "current_iteration", Slot: entity.Mutable},
			{Name: "progress", Slot: entity.Mutable},
			{Name: "tflops", Slot: entity.Mutable},
			{Name: "weights_ipfs", Slot: entity.Mutable, Encrypted: true, Nullable: true},
			{Name: "loss", Slot: entity.Mutable},
			{Name: "accuracy", Slot: entity.Mutable},
			{Name: "error", Slot: entity.Mutable, Nullable: true},
		},
	}
}

func (r *TrainResult) Values() map[string]any {
	return map[string]any{
		"task_declaration_id": r.TaskDeclarationID,
		"task_assignment_id":  r.TaskAssignmentID,
		"worker_id":           r.WorkerID,
		"state":               string(r.State),
		"current_iteration":   r.CurrentIteration,
		"progress":            r.Progress,
		"tflops":              r.TFLOPs,
		"weights_ipfs":        r.WeightsHash,
		"loss":                r.Loss,
		"accuracy":            r.Accuracy,
		"error":               r.Error,
	}
}

func (r *TrainResult) SetValues(values map[string]any) error {
	r.TaskDeclarationID = asString(values["task_declaration_id"])
	r.TaskAssignmentID = asString(values["task_assignment_id"])
	r.WorkerID = asString(values["worker_id"])
	r.State = ResultState(asString(values["state"]))
	r.CurrentIteration = asInt(values["current_iteration"])
	r.Progress = asFloat(values["progress"])
	r.TFLOPs = asFloat(values["tflops"])
	r.WeightsHash = asString(values["weights_ipfs"])
	r.Loss = asFloat(values["loss"])
	r.Accuracy = asFloat(values["accuracy"])
	r.Error = asString(values["error"])

	return nil
}

// Finished reports completion of the given iteration.
func (r *TrainResult) Finished(iteration int) bool {
	return r.State == ResultFinished && r.CurrentIteration == iteration
}
