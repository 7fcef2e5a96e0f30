package sdk

import (
	"encoding/json"
	"net/http"
	"time"
)

const (
	datasetsEndpoint = "/datasets"
	modelsEndpoint   = "/models"
)

type Dataset struct {
	ID           string    `json:"id,omitempty"`
	Name         string    `json:"name,omitempty"`
	TrainDirHash string    `json:"train_dir_ipfs,omitempty"`
	TestDirHash  string    `json:"test_dir_ipfs,omitempty"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
}

type Model struct {
	ID        string    `json:"id,omitempty"`
	Name      string    `json:"name,omitempty"`
	CodeHash  string    `json:"code_ipfs,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

type datasetReq struct {
	Name     string `json:"name"`
	TrainDir string `json:"train_dir"`
	TestDir  string `json:"test_dir"`
}

type modelReq struct {
	Name     string `json:"name"`
	CodePath string `json:"code_path"`
}

func (sdk *coreSDK) CreateDataset(name, trainDir, testDir string) (Dataset, error) {
	data, err := json.Marshal(datasetReq{Name: name, TrainDir: trainDir, TestDir: testDir})
	if err != nil {
		return Dataset{}, err
	}

	url := sdk.producerURL + datasetsEndpoint

	body, err := sdk.processRequest(http.MethodPost, url, data, http.StatusCreated)
	if err != nil {
		return Dataset{}, err
	}

	var d Dataset
	if err := json.Unmarshal(body, &d); err != nil {
		return Dataset{}, err
	}

	return d, nil
}

func (sdk *coreSDK) CreateModel(name, codePath string) (Model, error) {
	data, err := json.Marshal(modelReq{Name: name, CodePath: codePath})
	if err != nil {
		return Model{}, err
	}

	url := sdk.producerURL + modelsEndpoint

	body, err := sdk.processRequest(http.MethodPost, url, data, http.StatusCreated)
	if err != nil {
		return Model{}, err
	}

	var m Model
	if err := json.Unmarshal(body, &m); err != nil {
		return Model{}, err
	}

	return m, nil
}
