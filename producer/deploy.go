package producer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/makar21/core-sub000/entities"
	"github.com/makar21/core-sub000/pkg/entity"
	pkgerrors "github.com/makar21/core-sub000/pkg/errors"
)

func activeTrainAssignments(assignments []*entities.TaskAssignment) int {
	n := 0
	for _, a := range assignments {
		if a.State.Active() {
			n++
		}
	}

	return n
}

func activeVerifications(assignments []*entities.VerificationAssignment) int {
	n := 0
	for _, a := range assignments {
		if a.State.Active() {
			n++
		}
	}

	return n
}

func firstTrainOffer(assignments []*entities.TaskAssignment) map[string]string {
	first := make(map[string]string)
	for _, a := range assignments {
		if a.State == entities.AssignmentRejected || a.State == entities.AssignmentForgotten {
			continue
		}
		if _, ok := first[a.WorkerID]; !ok {
			first[a.WorkerID] = a.AssetID()
		}
	}

	return first
}

func firstVerificationOffer(assignments []*entities.VerificationAssignment) map[string]string {
	first := make(map[string]string)
	for _, a := range assignments {
		if a.State == entities.AssignmentRejected || a.State == entities.AssignmentForgotten {
			continue
		}
		if _, ok := first[a.VerifierID]; !ok {
			first[a.VerifierID] = a.AssetID()
		}
	}

	return first
}

// freeShard returns the lowest dataset slot not held by an active
// assignment.
func freeShard(assignments []*entities.TaskAssignment, total int) (int, error) {
	taken := make(map[int]bool)
	for _, a := range assignments {
		if a.State.Active() {
			taken[a.ShardIndex] = true
		}
	}
	for i := 0; i < total; i++ {
		if !taken[i] {
			return i, nil
		}
	}

	return 0, fmt.Errorf("%w: all %d shards taken", pkgerrors.ErrInvariant, total)
}

// processDeployment runs the admission race for worker and verifier
// slots. It serves both the initial deployment and the selective
// redeployment after a timeout or fraud quarantine: only vacated slots
// accept new offers, workers already training are untouched.
func (svc *service) processDeployment(ctx context.Context, t *entities.TaskDeclaration) error {
	assignments, err := svc.taskAssignments(ctx, t.ID)
	if err != nil {
		return err
	}
	verifications, err := svc.verificationAssignments(ctx, t.ID)
	if err != nil {
		return err
	}

	workersNeeded := t.WorkersRequested - activeTrainAssignments(assignments)
	verifiersNeeded := t.VerifiersRequested - activeVerifications(verifications)
	if workersNeeded < 0 || verifiersNeeded < 0 {
		return fmt.Errorf("%w: task %s oversubscribed (workers %d, verifiers %d)",
			pkgerrors.ErrInvariant, t.ID, workersNeeded, verifiersNeeded)
	}

	batch := svc.store.Batch()
	batch.Begin()

	firstW := firstTrainOffer(assignments)
	for _, a := range assignments {
		if a.State != entities.AssignmentReady || !a.OwnedBy(svc.store.PublicKey()) {
			continue
		}

		// A stale offer gets pinged instead of accepted: the performer
		// answers with a fresh offer if it is still standing by.
		if time.Since(a.ModifiedAt) > svc.offerTTL {
			a.State = entities.AssignmentReassign
			if err := svc.store.Save(ctx, a, entity.TransferTo(a.WorkerID)); err != nil {
				return errors.Join(err, batch.End(ctx))
			}

			continue
		}

		accept := workersNeeded > 0 &&
			allowed(svc.whitelist.Workers, a.WorkerID) &&
			firstW[a.WorkerID] == a.AssetID()
		if !accept {
			a.State = entities.AssignmentRejected
			if err := svc.store.Save(ctx, a, entity.TransferTo(a.WorkerID)); err != nil {
				return errors.Join(err, batch.End(ctx))
			}

			continue
		}

		shard, err := freeShard(assignments, t.WorkersRequested)
		if err != nil {
			return errors.Join(err, batch.End(ctx))
		}
		a.State = entities.AssignmentAccepted
		a.ShardIndex = shard
		if err := svc.store.Save(ctx, a, entity.TransferTo(a.WorkerID, svc.store.PublicKey())); err != nil {
			return errors.Join(err, batch.End(ctx))
		}
		workersNeeded--
	}

	firstV := firstVerificationOffer(verifications)
	for _, a := range verifications {
		if a.State != entities.AssignmentReady || !a.OwnedBy(svc.store.PublicKey()) {
			continue
		}

		if time.Since(a.ModifiedAt) > svc.offerTTL {
			a.State = entities.AssignmentReassign
			if err := svc.store.Save(ctx, a, entity.TransferTo(a.VerifierID)); err != nil {
				return errors.Join(err, batch.End(ctx))
			}

			continue
		}

		accept := verifiersNeeded > 0 &&
			allowed(svc.whitelist.Verifiers, a.VerifierID) &&
			firstV[a.VerifierID] == a.AssetID()
		if !accept {
			a.State = entities.AssignmentRejected
			if err := svc.store.Save(ctx, a, entity.TransferTo(a.VerifierID)); err != nil {
				return errors.Join(err, batch.End(ctx))
			}

			continue
		}

		a.State = entities.AssignmentAccepted
		if err := svc.store.Save(ctx, a, entity.TransferTo(a.VerifierID, svc.store.PublicKey())); err != nil {
			return errors.Join(err, batch.End(ctx))
		}
		verifiersNeeded--
	}

	if err := batch.End(ctx); err != nil {
		return err
	}

	if workersNeeded == 0 && verifiersNeeded == 0 {
		if err := svc.retireQuarantined(ctx, assignments, verifications); err != nil {
			return err
		}

		return svc.deployTrainData(ctx, t, assignments)
	}

	if t.WorkersNeeded != workersNeeded || t.VerifiersNeeded != verifiersNeeded {
		t.WorkersNeeded = workersNeeded
		t.VerifiersNeeded = verifiersNeeded

		return svc.store.Save(ctx, t)
	}

	return nil
}

// retireQuarantined sinks quarantined assignments once replacements hold
// their slots. The record stays on the ledger for audit; the forgotten
// state keeps it out of every future offer race.
func (svc *service) retireQuarantined(ctx context.Context, assignments []*entities.TaskAssignment, verifications []*entities.VerificationAssignment) error {
	batch := svc.store.Batch()
	batch.Begin()

	for _, a := range assignments {
		if a.State != entities.AssignmentTimeout && a.State != entities.AssignmentFakeResults {
			continue
		}
		if !a.OwnedBy(svc.store.PublicKey()) {
			continue
		}
		a.State = entities.AssignmentForgotten
		if err := svc.store.Save(ctx, a); err != nil {
			return errors.Join(err, batch.End(ctx))
		}
	}
	for _, va := range verifications {
		if va.State != entities.AssignmentTimeout || !va.OwnedBy(svc.store.PublicKey()) {
			continue
		}
		va.State = entities.AssignmentForgotten
		if err := svc.store.Save(ctx, va); err != nil {
			return errors.Join(err, batch.End(ctx))
		}
	}

	return batch.End(ctx)
}

// deployTrainData hands every accepted worker its shard for the current
// iteration and moves the job into training.
func (svc *service) deployTrainData(ctx context.Context, t *entities.TaskDeclaration, assignments []*entities.TaskAssignment) error {
	if t.CurrentIteration == 0 {
		t.CurrentIteration = 1
	}

	chunks, testDir, err := svc.trainChunks(ctx, t)
	if err != nil {
		return err
	}
	codeHash, err := svc.modelCode(ctx, t)
	if err != nil {
		return err
	}

	batch := svc.store.Batch()
	batch.Begin()

	for _, a := range assignments {
		if a.State != entities.AssignmentAccepted {
			continue
		}
		if err := svc.distributeTrainData(ctx, t, a, chunks, testDir, codeHash); err != nil {
			return errors.Join(err, batch.End(ctx))
		}
	}

	if err := batch.End(ctx); err != nil {
		return err
	}

	t.State = entities.TaskStateEpochInProgress
	t.WorkersNeeded = 0
	t.VerifiersNeeded = 0

	return svc.store.Save(ctx, t)
}

// distributeTrainData creates the assignment's TrainData record for the
// current iteration, encrypted to its worker, and moves the assignment
// into training.
func (svc *service) distributeTrainData(ctx context.Context, t *entities.TaskDeclaration, a *entities.TaskAssignment, chunks []string, testDir, codeHash string) error {
	info, err := svc.performerInfo(ctx, a.WorkerID)
	if err != nil {
		return err
	}

	shard := shardChunks(chunks, t.WorkersRequested, a.ShardIndex)
	if len(shard) == 0 {
		return fmt.Errorf("%w: empty shard %d of %d for task %s",
			pkgerrors.ErrInvariant, a.ShardIndex, t.WorkersRequested, t.ID)
	}
	encoded, err := encodeChunks(shard)
	if err != nil {
		return err
	}

	data := &entities.TrainData{
		TaskDeclarationID: t.ID,
		TaskAssignmentID:  a.AssetID(),
		CurrentIteration:  t.CurrentIteration,
		BatchSize:         t.BatchSize,
		Epochs:            t.EpochsInIteration,
		ModelCodeHash:     codeHash,
		WeightsHash:       t.WeightsHash,
		TrainChunks:       encoded,
		TestChunks:        testDir,
	}
	if err := svc.store.Create(ctx, data, entity.EncryptFor(info.EncryptionKey)); err != nil {
		return err
	}

	a.State = entities.AssignmentTraining
	a.TrainDataID = data.AssetID()

	return svc.store.Save(ctx, a, entity.TransferTo(a.WorkerID, svc.store.PublicKey()))
}

// shardChunks is the contiguous partition of the dataset across worker
// slots.
func shardChunks(chunks []string, workers, index int) []string {
	if workers <= 0 || index < 0 || index >= workers {
		return nil
	}
	per := (len(chunks) + workers - 1) / workers
	lo := index * per
	if lo >= len(chunks) {
		return nil
	}
	hi := lo + per
	if hi > len(chunks) {
		hi = len(chunks)
	}

	return chunks[lo:hi]
}
