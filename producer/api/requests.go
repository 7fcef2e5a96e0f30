package api

import (
	"errors"

	pkgerrors "github.com/makar21/core-sub000/pkg/errors"
	"github.com/makar21/core-sub000/producer"
)

type taskReq struct {
	producer.TaskSpec `json:",inline"`
}

func (t *taskReq) validate() error {
	if t.DatasetID == "" {
		return errors.Join(pkgerrors.ErrInvalidData, errors.New("missing dataset id"))
	}
	if t.TrainModelID == "" {
		return errors.Join(pkgerrors.ErrInvalidData, errors.New("missing model id"))
	}

	return nil
}

type entityReq struct {
	id string
}

func (e *entityReq) validate() error {
	if e.id == "" {
		return errors.Join(pkgerrors.ErrInvalidData, errors.New("missing id"))
	}

	return nil
}

type amountReq struct {
	id     string
	Amount uint64 `json:"amount"`
}

func (a *amountReq) validate() error {
	if a.id == "" {
		return errors.Join(pkgerrors.ErrInvalidData, errors.New("missing id"))
	}
	if a.Amount == 0 {
		return errors.Join(pkgerrors.ErrInvalidData, errors.New("zero amount"))
	}

	return nil
}

type datasetReq struct {
	Name     string `json:"name"`
	TrainDir string `json:"train_dir"`
	TestDir  string `json:"test_dir"`
}

func (d *datasetReq) validate() error {
	if d.TrainDir == "" {
		return errors.Join(pkgerrors.ErrInvalidData, errors.New("missing train dir"))
	}

	return nil
}

type modelReq struct {
	Name     string `json:"name"`
	CodePath string `json:"code_path"`
}

func (m *modelReq) validate() error {
	if m.CodePath == "" {
		return errors.Join(pkgerrors.ErrInvalidData, errors.New("missing code path"))
	}

	return nil
}
