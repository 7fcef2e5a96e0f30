package runner

import (
	"context"
	"fmt"
)

type Kind string

const (
	KindTrain    Kind = "train"
	KindVerify   Kind = "verify"
	KindEstimate Kind = "estimate"
)

// Spec describes one job handed to a runtime. All referenced paths are
// local; downloading from the object store is the caller's concern.
type Spec struct {
	Kind        Kind     `json:"kind"`
	TaskID      string   `json:"task_id"`
	CodePath    string   `json:"code_path"`
	WeightsPath string   `json:"weights_path,omitempty"`
	TrainDir    string   `json:"train_dir,omitempty"`
	TestDir     string   `json:"test_dir,omitempty"`
	Candidates  []string `json:"candidates,omitempty"`
	BatchSize   int      `json:"batch_size"`
	Epochs      int      `json:"epochs"`
}

type Output struct {
	WeightsPath string  `json:"weights_path,omitempty"`
	Loss        float64 `json:"loss,omitempty"`
	Accuracy    float64 `json:"accuracy,omitempty"`
	TFLOPs      float64 `json:"tflops"`
	Result      string  `json:"result,omitempty"`
}

const (
	ErrorKindCode     = "code"
	ErrorKindResource = "resource"
	ErrorKindInternal = "internal"
)

// TaskError distinguishes failures of the submitted code from failures of
// the runtime itself. Callers report the former on the result record and
// retry or abort on the latter.
type TaskError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

type Runner interface {
	Run(ctx context.Context, spec Spec) (Output, *TaskError)
}
