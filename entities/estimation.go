package entities

import (
	"github.com/makar21/core-sub000/pkg/entity"
)

const TypeEstimationAssignment = "estimation_assignment"

type EstimationAssignment struct {
	entity.Meta

	ProducerID        string `json:"producer_id"`
	TaskDeclarationID string `json:"task_declaration_id"`
	EstimatorID       string `json:"estimator_id"`

	State              AssignmentState `json:"state"`
	EstimationDataID   string          `json:"estimation_data_id"`
	EstimationResultID string          `json:"estimation_result_id"`
}

func (a *EstimationAssignment) Schema() entity.Schema {
	return entity.Schema{
		Type: TypeEstimationAssignment,
		Fields: []entity.Field{
			{Name: "producer_id", Slot: entity.Immutable, Required: true},
			{Name: "task_declaration_id", Slot: entity.Immutable, Required: true},
			{Name: "estimator_id", Slot: entity.Immutable, Required: true},
			{Name: "state", Slot: entity.Mutable, Default: string(AssignmentInitial)},
			{Name: "estimation_data_id", Slot: entity.Mutable, Nullable: true},
			{Name: "estimation_result_id", Slot: entity.Mutable, Nullable: true},
		},
	}
}

func (a *EstimationAssignment) Values() map[string]any {
	return map[string]any{
		"producer_id":          a.ProducerID,
		"task_declaration_id":  a.TaskDeclarationID,
		"estimator_id":         a.EstimatorID,
		"state":                string(a.State),
		"estimation_data_id":   a.EstimationDataID,
		"estimation_result_id": a.EstimationResultID,
	}
}

func (a *EstimationAssignment) SetValues(values map[string]any) error {
	a.ProducerID = asString(values["producer_id"])
	a.TaskDeclarationID = asString(values["task_declaration_id"])
	a.EstimatorID = asString(values["estimator_id"])
	a.State = AssignmentState(asString(values["state"]))
	a.EstimationDataID = asString(values["estimation_data_id"])
	a.EstimationResultID = asString(values["estimation_result_id"])

	return nil
}

const TypeEstimationData = "estimation_data"

// EstimationData is one training batch plus the model code and current
// weights, enough for the estimator to time a single pass. Encrypted to
// the estimator.
type EstimationData struct {
	entity.Meta

	TaskDeclarationID      string `json:"task_declaration_id"`
	EstimationAssignmentID string `json:"estimation_assignment_id"`
	BatchSize              int    `json:"batch_size"`

	ModelCodeHash string `json:"model_code_ipfs"`
	WeightsHash   string `json:"weights_ipfs"`
	ChunkHash     string `json:"chunk_ipfs"`
}

func (d *EstimationData) Schema() entity.Schema {
	return entity.Schema{
		Type: TypeEstimationData,
		Fields: []entity.Field{
			{Name: "task_declaration_id", Slot: entity.Immutable, Required: true},
			{Name: "estimation_assignment_id", Slot: entity.Immutable, Required: true},
			{Name: "batch_size", Slot: entity.Immutable, Required: true},
			{Name: "model_code_ipfs", Slot: entity.Immutable, Encrypted: true, Required: true},
			{Name: "weights_ipfs", Slot: entity.Immutable, Encrypted: true, Nullable: true},
			{Name: "chunk_ipfs", Slot: entity.Immutable, Encrypted: true, Required: true},
		},
	}
}

func (d *EstimationData) Values() map[string]any {
	return map[string]any{
		"task_declaration_id":      d.TaskDeclarationID,
		"estimation_assignment_id": d.EstimationAssignmentID,
		"batch_size":               d.BatchSize,
		"model_code_ipfs":          d.ModelCodeHash,
		"weights_ipfs":             d.WeightsHash,
		"chunk_ipfs":               d.ChunkHash,
	}
}

func (d *EstimationData) SetValues(values map[string]any) error {
	d.TaskDeclarationID = asString(values["task_declaration_id"])
	d.EstimationAssignmentID = asString(values["estimation_assignment_id"])
	d.BatchSize = asInt(values["batch_size"])
	d.ModelCodeHash = asString(values["model_code_ipfs"])
	d.WeightsHash = asString(values["weights_ipfs"])
	d.ChunkHash = asString(values["chunk_ipfs"])

	return nil
}

const TypeEstimationResult = "estimation_result"

// EstimationResult carries the estimator's measured throughput for one
// batch, from which the producer extrapolates the whole job.
type EstimationResult struct {
	entity.Meta

	TaskDeclarationID      string `json:"task_declaration_id"`
	EstimationAssignmentID string `json:"estimation_assignment_id"`
	EstimatorID            string `json:"estimator_id"`

	State    ResultState `json:"state"`
	TFLOPs   float64     `json:"tflops"`
	Progress float64     `json:"progress"`
	Error    string      `json:"error"`
}

func (r *EstimationResult) Schema() entity.Schema {
	return entity.Schema{
		Type: TypeEstimationResult,
		Fields: []entity.Field{
			{Name: "task_declaration_id", Slot: entity.Immutable, Required: true},
			{Name: "estimation_assignment_id", Slot: entity.Immutable, Required: true},
			{Name: "estimator_id", Slot: entity.Immutable, Required: true},
			{Name: "state", Slot: entity.Mutable, Default: string(ResultInProgress)},
			{Name: "tflops", Slot: entity.Mutable},
			{Name: "progress", Slot: entity.Mutable},
			{Name: "error", Slot: entity.Mutable, Nullable: true},
		},
	}
}

func (r *EstimationResult) Values() map[string]any {
	return map[string]any{
		"task_declaration_id":      r.TaskDeclarationID,
		"estimation_assignment_id": r.EstimationAssignmentID,
		"estimator_id":             r.EstimatorID,
		"state":                    string(r.State),
		"tflops":                   r.TFLOPs,
		"progress":                 r.Progress,
		"error":                    r.Error,
	}
}

func (r *EstimationResult) SetValues(values map[string]any) error {
	r.TaskDeclarationID = asString(values["task_declaration_id"])
	r.EstimationAssignmentID = asString(values["estimation_assignment_id"])
	r.EstimatorID = asString(values["estimator_id"])
	r.State = ResultState(asString(values["state"]))
	r.TFLOPs = asFloat(values["tflops"])
	r.Progress = asFloat(values["progress"])
	r.Error = asString(values["error"])

	return nil
}
