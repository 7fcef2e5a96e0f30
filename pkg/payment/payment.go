// Package payment bridges to the external smart contract that escrows and
// settles job funds. The producer gates training on the job balance and
// triggers payout at completion; nothing here holds state of its own.
package payment

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
)

// Share is one payee's cut of a distribution.
type Share struct {
	Address string `json:"address"`
	Amount  uint64 `json:"amount"`
}

type Bridge interface {
	IssueJob(ctx context.Context, taskID string, value uint64) error
	Deposit(ctx context.Context, taskID string, value uint64) error
	GetJobBalance(ctx context.Context, taskID string) (uint64, error)
	Distribute(ctx context.Context, taskID string, shares []Share) error
	FinishJob(ctx context.Context, taskID string) error
	DoesJobExist(ctx context.Context, taskID string) (bool, error)
}

// JobID derives the contract-side job identifier from a task asset id. The
// derivation is one way so the contract never learns ledger internals.
func JobID(taskID string) string {
	sum := sha256.Sum256([]byte("job:" + taskID))

	return hex.EncodeToString(sum[:])
}
