// Package sdk is the HTTP client for the producer API, used by the CLI.
package sdk

import (
	"bytes"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
)

const CTJSON string = "application/json"

type SDK interface {
	// CreateDataset registers a dataset from producer-local directories.
	CreateDataset(name, trainDir, testDir string) (Dataset, error)

	// CreateModel registers a training model from a producer-local code path.
	CreateModel(name, codePath string) (Model, error)

	// AddTask declares a new training task.
	//
	// example:
	//  task, _ := sdk.AddTask(sdk.TaskSpec{
	//    DatasetID:    "...",
	//    TrainModelID: "...",
	//  })
	//  fmt.Println(task)
	AddTask(spec TaskSpec) (Task, error)

	// GetTask gets a task by id.
	GetTask(id string) (Task, error)

	// ListTasks lists all tasks of the producer.
	ListTasks() (TaskPage, error)

	// TaskStatus returns a task together with its assignment records.
	TaskStatus(id string) (TaskStatus, error)

	// CancelTask cancels a task before deployment.
	CancelTask(id string) error

	// StopTask stops a running task.
	StopTask(id string) error

	// IssueJob creates the payment job backing a task, with an initial
	// deposit.
	IssueJob(id string, amount uint64) error

	// Deposit adds funds to the payment job backing a task.
	Deposit(id string, amount uint64) error
}

type coreSDK struct {
	producerURL string
	client      *http.Client
}

type Config struct {
	ProducerURL     string
	TLSVerification bool
}

func NewSDK(cfg Config) SDK {
	return &coreSDK{
		producerURL: cfg.ProducerURL,
		client: &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					InsecureSkipVerify: !cfg.TLSVerification,
				},
			},
		},
	}
}

func (sdk *coreSDK) processRequest(method, reqURL string, data []byte, expectedRespCode int) ([]byte, error) {
	req, err := http.NewRequest(method, reqURL, bytes.NewReader(data))
	if err != nil {
		return []byte{}, err
	}

	req.Header.Add("Content-Type", CTJSON)

	resp, err := sdk.client.Do(req)
	if err != nil {
		return []byte{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return []byte{}, err
	}

	if resp.StatusCode != expectedRespCode {
		return []byte{}, fmt.Errorf("unexpected response code: %d", resp.StatusCode)
	}

	return body, nil
}
