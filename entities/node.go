package entities

import (
	"github.com/makar21/core-sub000/pkg/entity"
)

// NodeInfo is the identity record a role publishes at start. It carries
// the node's encryption public key, which counterparties use to address
// encrypted fields, and the payout address the payment bridge settles to.
type NodeInfo struct {
	entity.Meta

	typ string

	Name          string `json:"name"`
	EncryptionKey string `json:"enc_key"`
	Address       string `json:"address"`
}

const (
	TypeProducerNode  = "producer_node"
	TypeWorkerNode    = "worker_node"
	TypeVerifierNode  = "verifier_node"
	TypeEstimatorNode = "estimator_node"
)

func NewNodeInfo(typ string) *NodeInfo {
	return &NodeInfo{typ: typ}
}

func (n *NodeInfo) Schema() entity.Schema {
	return entity.Schema{
		Type: n.typ,
		Fields: []entity.Field{
			{Name: "name", Slot: entity.Immutable, Required: true},
			{Name: "enc_key", Slot: entity.Immutable, Required: true},
			{Name: "address", Slot: entity.Immutable, Nullable: true},
		},
	}
}

func (n *NodeInfo) Values() map[string]any {
	return map[string]any{
		"name":    n.Name,
		"enc_key": n.EncryptionKey,
		"address": n.Address,
	}
}

func (n *NodeInfo) SetValues(values map[string]any) error {
	n.Name = asString(values["name"])
	n.EncryptionKey = asString(values["enc_key"])
	n.Address = asString(values["address"])

	return nil
}
