package entities

import (
	"encoding/json"

	"github.com/makar21/core-sub000/pkg/entity"
)

const TypeVerificationAssignment = "verification_assignment"

type VerificationAssignment struct {
	entity.Meta

	ProducerID        string `json:"producer_id"`
	TaskDeclarationID string `json:"task_declaration_id"`
	VerifierID        string `json:"verifier_id"`

	State                AssignmentState `json:"state"`
	VerificationDataID   string          `json:"verification_data_id"`
	VerificationResultID string          `json:"verification_result_id"`
}

func (a *VerificationAssignment) Schema() entity.Schema {
	return entity.Schema{
		Type: TypeVerificationAssignment,
		Fields: []entity.Field{
			{Name: "producer_id", Slot: entity.Immutable, Required: true},
			{Name: "task_declaration_id", Slot: entity.Immutable, Required: true},
			{Name: "verifier_id", Slot: entity.Immutable, Required: true},
			{Name: "state", Slot: entity.Mutable, Default: string(AssignmentInitial)},
			{Name: "verification_data_id", Slot: entity.Mutable, Nullable: true},
			{Name: "verification_result_id", Slot: entity.Mutable, Nullable: true},
		},
	}
}

func (a *VerificationAssignment) Values() map[string]any {
	return map[string]any{
		"producer_id":            a.ProducerID,
		"task_declaration_id":    a.TaskDeclarationID,
		"verifier_id":            a.VerifierID,
		"state":                  string(a.State),
		"verification_data_id":   a.VerificationDataID,
		"verification_result_id": a.VerificationResultID,
	}
}

func (a *VerificationAssignment) SetValues(values map[string]any) error {
	a.ProducerID = asString(values["producer_id"])
	a.TaskDeclarationID = asString(values["task_declaration_id"])
	a.VerifierID = asString(values["verifier_id"])
	a.State = AssignmentState(asString(values["state"]))
	a.VerificationDataID = asString(values["verification_data_id"])
	a.VerificationResultID = asString(values["verification_result_id"])

	return nil
}

// TrainResultRef points the verifier at one worker's weights for the
// iteration under audit.
type TrainResultRef struct {
	WorkerID      string `json:"worker_id"`
	AssignmentID  string `json:"assignment_id"`
	TrainResultID string `json:"train_result_id"`
	WeightsHash   string `json:"weights_ipfs"`
}

const TypeVerificationData = "verification_data"

// VerificationData is the producer-authored audit input for one iteration,
// encrypted to the verifier. A fresh record is created per iteration.
type VerificationData struct {
	entity.Meta

	TaskDeclarationID        string `json:"task_declaration_id"`
	VerificationAssignmentID string `json:"verification_assignment_id"`
	CurrentIteration         int    `json:"current_iteration"`

	ModelCodeHash string `json:"model_code_ipfs"`
	TestDirHash   string `json:"test_dir_ipfs"`
	TrainResults  string `json:"train_results"`
}

func (d *VerificationData) Schema() entity.Schema {
	return entity.Schema{
		Type: TypeVerificationData,
		Fields: []entity.Field{
			{Name: "task_declaration_id", Slot: entity.Immutable, Required: true},
			{Name: "verification_assignment_id", Slot: entity.Immutable, Required: true},
			{Name: "current_iteration", Slot: entity.Immutable, Required: true},
			{Name: "model_code_ipfs", Slot: entity.Immutable, Encrypted: true, Required: true},
			{Name: "test_dir_ipfs", Slot: entity.Immutable, Encrypted: true, Nullable: true},
			{Name: "train_results", Slot: entity.Immutable, Encrypted: true, Required: true},
		},
	}
}

func (d *VerificationData) Values() map[string]any {
	return map[string]any{
		"task_declaration_id":        d.TaskDeclarationID,
		"verification_assignment_id": d.VerificationAssignmentID,
		"current_iteration":          d.CurrentIteration,
		"model_code_ipfs":            d.ModelCodeHash,
		"test_dir_ipfs":              d.TestDirHash,
		"train_results":              d.TrainResults,
	}
}

func (d *VerificationData) SetValues(values map[string]any) error {
	d.TaskDeclarationID = asString(values["task_declaration_id"])
	d.VerificationAssignmentID = asString(values["verification_assignment_id"])
	d.CurrentIteration = asInt(values["current_iteration"])
	d.ModelCodeHash = asString(values["model_code_ipfs"])
	d.TestDirHash = asString(values["test_dir_ipfs"])
	d.TrainResults = asString(values["train_results"])

	return nil
}

// Refs decodes the train result references. Fails while the payload is
// still ciphertext.
func (d *VerificationData) Refs() ([]TrainResultRef, error) {
	var refs []TrainResultRef
	if err := json.Unmarshal([]byte(d.TrainResults), &refs); err != nil {
		return nil, err
	}

	return refs, nil
}

// WorkerVerdict is the verifier's judgment of one worker's submission.
type WorkerVerdict struct {
	WorkerID     string `json:"worker_id"`
	AssignmentID string `json:"assignment_id"`
	IsFake       bool   `json:"is_fake"`
}

const TypeVerificationResult = "verification_result"

// VerificationResult is verifier-authored: per-worker fraud verdicts plus
// the summarized weights for the iteration, encrypted to the producer.
type VerificationResult struct {
	entity.Meta

	TaskDeclarationID        string `json:"task_declaration_id"`
	VerificationAssignmentID string `json:"verification_assignment_id"`
	VerifierID               string `json:"verifier_id"`

	State            ResultState `json:"state"`
	CurrentIteration int         `json:"current_iteration"`
	// VerificationDataID names the audit input this verdict answers. An
	// iteration may be audited more than once (fraud redo, replacement
	// verifier), so the iteration number alone does not identify the run.
	VerificationDataID string  `json:"verification_data_id"`
	Result             string  `json:"result"`
	WeightsHash        string  `json:"weights_ipfs"`
	Loss               float64 `json:"loss"`
	Accuracy           float64 `json:"accuracy"`
	TFLOPs             float64 `json:"tflops"`
	Progress           float64 `json:"progress"`
	Error              string  `json:"error"`
}

func (r *VerificationResult) Schema() entity.Schema {
	return entity.Schema{
		Type: TypeVerificationResult,
		Fields: []entity.Field{
			{Name: "task_declaration_id", Slot: entity.Immutable, Required: true},
			{Name: "verification_assignment_id", Slot: entity.Immutable, Required: true},
			{Name: "verifier_id", Slot: entity.Immutable, Required: true},
			{Name: "state", Slot: entity.Mutable, Default: string(ResultInProgress)},
			{Name: "current_iteration", Slot: entity.Mutable},
			{Name: "verification_data_id", Slot: entity.Mutable, Nullable: true},
			{Name: "result", Slot: entity.Mutable, Encrypted: true, Nullable: true},
			{Name: "weights_ipfs", Slot: entity.Mutable, Nullable: true},
			{Name: "loss", Slot: entity.Mutable},
			{Name: "accuracy", Slot: entity.Mutable},
			{Name: "tflops", Slot: entity.Mutable},
			{Name: "progress", Slot: entity.Mutable},
			{Name: "error", Slot: entity.Mutable, Nullable: true},
		},
	}
}

func (r *VerificationResult) Values() map[string]any {
	return map[string]any{
		"task_declaration_id":        r.TaskDeclarationID,
		"verification_assignment_id": r.VerificationAssignmentID,
		"verifier_id":                r.VerifierID,
		"state":                      string(r.State),
		"current_iteration":          r.CurrentIteration,
		"verification_data_id":       r.VerificationDataID,
		"result":                     r.Result,
		"weights_ipfs":               r.WeightsHash,
		"loss":                       r.Loss,
		"accuracy":                   r.Accuracy,
		"tflops":                     r.TFLOPs,
		"progress":                   r.Progress,
		"error":                      r.Error,
	}
}

func (r *VerificationResult) SetValues(values map[string]any) error {
	r.TaskDeclarationID = asString(values["task_declaration_id"])
	r.VerificationAssignmentID = asString(values["verification_assignment_id"])
	r.VerifierID = asString(values["verifier_id"])
	r.State = ResultState(asString(values["state"]))
	r.CurrentIteration = asInt(values["current_iteration"])
	r.VerificationDataID = asString(values["verification_data_id"])
	r.Result = asString(values["result"])
	r.WeightsHash = asString(values["weights_ipfs"])
	r.Loss = asFloat(values["loss"])
	r.Accuracy = asFloat(values["accuracy"])
	r.TFLOPs = asFloat(values["tflops"])
	r.Progress = asFloat(values["progress"])
	r.Error = asString(values["error"])

	return nil
}

// Answers reports whether this verdict responds to the given audit input.
func (r *VerificationResult) Answers(dataID string) bool {
	return r.State == ResultFinished && dataID != "" && r.VerificationDataID == dataID
}

// Verdicts decodes the per-worker fraud flags.
func (r *VerificationResult) Verdicts() ([]WorkerVerdict, error) {
	if r.Result == "" {
		return nil, nil
	}
	var verdicts []WorkerVerdict
	if err := json.Unmarshal([]byte(r.Result), &verdicts); err != nil {
		return nil, err
	}

	return verdicts, nil
}
