package sdk

import (
	"encoding/json"
	"net/http"
	"time"
)

const tasksEndpoint = "/tasks"

type TaskSpec struct {
	DatasetID           string `json:"dataset_id"`
	TrainModelID        string `json:"train_model_id"`
	WeightsHash         string `json:"weights_ipfs,omitempty"`
	BatchSize           int    `json:"batch_size"`
	Epochs              int    `json:"epochs"`
	EpochsInIteration   int    `json:"epochs_in_iteration,omitempty"`
	WorkersRequested    int    `json:"workers_requested"`
	VerifiersRequested  int    `json:"verifiers_requested,omitempty"`
	EstimatorsRequested int    `json:"estimators_requested,omitempty"`
}

type Task struct {
	ID                  string    `json:"id,omitempty"`
	ProducerID          string    `json:"producer_id,omitempty"`
	DatasetID           string    `json:"dataset_id,omitempty"`
	TrainModelID        string    `json:"train_model_id,omitempty"`
	BatchSize           int       `json:"batch_size,omitempty"`
	Epochs              int       `json:"epochs,omitempty"`
	EpochsInIteration   int       `json:"epochs_in_iteration,omitempty"`
	WorkersRequested    int       `json:"workers_requested,omitempty"`
	VerifiersRequested  int       `json:"verifiers_requested,omitempty"`
	EstimatorsRequested int       `json:"estimators_requested,omitempty"`
	State               string    `json:"state,omitempty"`
	WeightsHash         string    `json:"weights_ipfs,omitempty"`
	CurrentIteration    int       `json:"current_iteration,omitempty"`
	Progress            float64   `json:"progress,omitempty"`
	TFLOPs              float64   `json:"tflops,omitempty"`
	EstimatedTFLOPs     float64   `json:"estimated_tflops,omitempty"`
	Loss                float64   `json:"loss,omitempty"`
	Accuracy            float64   `json:"accuracy,omitempty"`
	CreatedAt           time.Time `json:"created_at,omitempty"`
	ModifiedAt          time.Time `json:"modified_at,omitempty"`
}

type TaskPage struct {
	Tasks []Task `json:"tasks"`
	Total int    `json:"total"`
}

// TaskStatus carries the task and its assignment records as the producer
// serves them, untyped because the CLI only pretty-prints them.
type TaskStatus struct {
	Task          Task  `json:"task"`
	Assignments   []any `json:"assignments"`
	Verifications []any `json:"verifications"`
	Estimations   []any `json:"estimations"`
	Balance       uint64 `json:"balance"`
}

type amountReq struct {
	Amount uint64 `json:"amount"`
}

func (sdk *coreSDK) AddTask(spec TaskSpec) (Task, error) {
	data, err := json.Marshal(spec)
	if err != nil {
		return Task{}, err
	}

	url := sdk.producerURL + tasksEndpoint

	body, err := sdk.processRequest(http.MethodPost, url, data, http.StatusCreated)
	if err != nil {
		return Task{}, err
	}

	var t Task
	if err := json.Unmarshal(body, &t); err != nil {
		return Task{}, err
	}

	return t, nil
}

func (sdk *coreSDK) GetTask(id string) (Task, error) {
	url := sdk.producerURL + tasksEndpoint + "/" + id

	body, err := sdk.processRequest(http.MethodGet, url, nil, http.StatusOK)
	if err != nil {
		return Task{}, err
	}

	var t Task
	if err := json.Unmarshal(body, &t); err != nil {
		return Task{}, err
	}

	return t, nil
}

func (sdk *coreSDK) ListTasks() (TaskPage, error) {
	url := sdk.producerURL + tasksEndpoint

	body, err := sdk.processRequest(http.MethodGet, url, nil, http.StatusOK)
	if err != nil {
		return TaskPage{}, err
	}

	var p TaskPage
	if err := json.Unmarshal(body, &p); err != nil {
		return TaskPage{}, err
	}

	return p, nil
}

func (sdk *coreSDK) TaskStatus(id string) (TaskStatus, error) {
	url := sdk.producerURL + tasksEndpoint + "/" + id + "/status"

	body, err := sdk.processRequest(http.MethodGet, url, nil, http.StatusOK)
	if err != nil {
		return TaskStatus{}, err
	}

	var s TaskStatus
	if err := json.Unmarshal(body, &s); err != nil {
		return TaskStatus{}, err
	}

	return s, nil
}

func (sdk *coreSDK) CancelTask(id string) error {
	url := sdk.producerURL + tasksEndpoint + "/" + id + "/cancel"

	_, err := sdk.processRequest(http.MethodPost, url, nil, http.StatusNoContent)

	return err
}

func (sdk *coreSDK) StopTask(id string) error {
	url := sdk.producerURL + tasksEndpoint + "/" + id + "/stop"

	_, err := sdk.processRequest(http.MethodPost, url, nil, http.StatusNoContent)

	return err
}

func (sdk *coreSDK) IssueJob(id string, amount uint64) error {
	data, err := json.Marshal(amountReq{Amount: amount})
	if err != nil {
		return err
	}
	url := sdk.producerURL + tasksEndpoint + "/" + id + "/issue"

	_, err = sdk.processRequest(http.MethodPost, url, data, http.StatusNoContent)

	return err
}

func (sdk *coreSDK) Deposit(id string, amount uint64) error {
	data, err := json.Marshal(amountReq{Amount: amount})
	if err != nil {
		return err
	}
	url := sdk.producerURL + tasksEndpoint + "/" + id + "/deposit"

	_, err = sdk.processRequest(http.MethodPost, url, data, http.StatusNoContent)

	return err
}
