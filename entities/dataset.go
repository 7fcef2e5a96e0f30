package entities

import (
	"github.com/makar21/core-sub000/pkg/entity"
)

const TypeDataset = "dataset"

// Dataset references the content-addressed training and test shards. The
// training directory holds one chunk file per batch group; chunks are
// partitioned contiguously across workers at deployment.
type Dataset struct {
	entity.Meta

	Name         string `json:"name"`
	TrainDirHash string `json:"train_dir_ipfs"`
	TestDirHash  string `json:"test_dir_ipfs"`
}

func (d *Dataset) Schema() entity.Schema {
	return entity.Schema{
		Type: TypeDataset,
		Fields: []entity.Field{
			{Name: "name", Slot: entity.Immutable, Required: true},
			{Name: "train_dir_ipfs", Slot: entity.Immutable, Required: true},
			{Name: "test_dir_ipfs", Slot: entity.Immutable, Nullable: true},
		},
	}
}

func (d *Dataset) Values() map[string]any {
	return map[string]any{
		"name":           d.Name,
		"train_dir_ipfs": d.TrainDirHash,
		"test_dir_ipfs":  d.TestDirHash,
	}
}

func (d *Dataset) SetValues(values map[string]any) error {
	d.Name = asString(values["name"])
	d.TrainDirHash = asString(values["train_dir_ipfs"])
	d.TestDirHash = asString(values["test_dir_ipfs"])

	return nil
}

const TypeTrainModel = "train_model"

// TrainModel references the user-supplied training code bundle.
type TrainModel struct {
	entity.Meta

	Name     string `json:"name"`
	CodeHash string `json:"code_ipfs"`
}

func (m *TrainModel) Schema() entity.Schema {
	return entity.Schema{
		Type: TypeTrainModel,
		Fields: []entity.Field{
			{Name: "name", Slot: entity.Immutable, Required: true},
			{Name: "code_ipfs", Slot: entity.Immutable, Required: true},
		},
	}
}

func (m *TrainModel) Values() map[string]any {
	return map[string]any{
		"name":      m.Name,
		"code_ipfs": m.CodeHash,
	}
}

func (m *TrainModel) SetValues(values map[string]any) error {
	m.Name = asString(values["name"])
	m.CodeHash = asString(values["code_ipfs"])

	return nil
}
