package producer

import (
	"context"
	"errors"
	"fmt"

	"github.com/makar21/core-sub000/entities"
	"github.com/makar21/core-sub000/pkg/entity"
	pkgerrors "github.com/makar21/core-sub000/pkg/errors"
)

func activeEstimations(assignments []*entities.EstimationAssignment) int {
	n := 0
	for _, a := range assignments {
		if a.State.Active() {
			n++
		}
	}

	return n
}

// firstEstimationOffer maps each estimator to its oldest non-rejected
// assignment. Any other offer from the same identity loses the admission
// race.
func firstEstimationOffer(assignments []*entities.EstimationAssignment) map[string]string {
	first := make(map[string]string)
	for _, a := range assignments {
		if a.State == entities.AssignmentRejected || a.State == entities.AssignmentForgotten {
			continue
		}
		if _, ok := first[a.EstimatorID]; !ok {
			first[a.EstimatorID] = a.AssetID()
		}
	}

	return first
}

// processEstimateRequired admits estimator offers and hands each accepted
// estimator one training batch to time.
func (svc *service) processEstimateRequired(ctx context.Context, t *entities.TaskDeclaration) error {
	assignments, err := svc.estimationAssignments(ctx, t.ID)
	if err != nil {
		return err
	}

	needed := t.EstimatorsRequested - activeEstimations(assignments)
	if needed < 0 {
		return fmt.Errorf("%w: task %s has %d active estimators, requested %d",
			pkgerrors.ErrInvariant, t.ID, activeEstimations(assignments), t.EstimatorsRequested)
	}

	first := firstEstimationOffer(assignments)

	batch := svc.store.Batch()
	batch.Begin()

	working := activeEstimations(assignments)
	for _, a := range assignments {
		if a.State != entities.AssignmentReady || !a.OwnedBy(svc.store.PublicKey()) {
			continue
		}

		accept := needed > 0 &&
			allowed(svc.whitelist.Estimators, a.EstimatorID) &&
			first[a.EstimatorID] == a.AssetID()
		if !accept {
			a.State = entities.AssignmentRejected
			if err := svc.store.Save(ctx, a, entity.TransferTo(a.EstimatorID)); err != nil {
				return errors.Join(err, batch.End(ctx))
			}

			continue
		}

		if err := svc.acceptEstimator(ctx, t, a); err != nil {
			return errors.Join(err, batch.End(ctx))
		}
		needed--
		working++
	}

	if err := batch.End(ctx); err != nil {
		return err
	}

	if needed == 0 && working > 0 {
		if err := svc.retireEstimations(ctx, assignments); err != nil {
			return err
		}

		t.State = entities.TaskStateEstimateInProgress
		t.EstimatorsNeeded = 0

		return svc.store.Save(ctx, t)
	}
	if t.EstimatorsNeeded != needed {
		t.EstimatorsNeeded = needed

		return svc.store.Save(ctx, t)
	}

	return nil
}

// retireEstimations sinks timed-out estimation assignments once the slots
// they vacated are staffed again.
func (svc *service) retireEstimations(ctx context.Context, assignments []*entities.EstimationAssignment) error {
	batch := svc.store.Batch()
	batch.Begin()

	for _, a := range assignments {
		if a.State != entities.AssignmentTimeout || !a.OwnedBy(svc.store.PublicKey()) {
			continue
		}
		a.State = entities.AssignmentForgotten
		if err := svc.store.Save(ctx, a); err != nil {
			return errors.Join(err, batch.End(ctx))
		}
	}

	return batch.End(ctx)
}

func (svc *service) acceptEstimator(ctx context.Context, t *entities.TaskDeclaration, a *entities.EstimationAssignment) error {
	info, err := svc.performerInfo(ctx, a.EstimatorID)
	if err != nil {
		return err
	}

	chunks, _, err := svc.trainChunks(ctx, t)
	if err != nil {
		return err
	}
	if len(chunks) == 0 {
		return fmt.Errorf("%w: dataset %s has no training chunks", pkgerrors.ErrInvalidData, t.DatasetID)
	}
	codeHash, err := svc.modelCode(ctx, t)
	if err != nil {
		return err
	}

	data := &entities.EstimationData{
		TaskDeclarationID:      t.ID,
		EstimationAssignmentID: a.AssetID(),
		BatchSize:              t.BatchSize,
		ModelCodeHash:          codeHash,
		WeightsHash:            t.WeightsHash,
		ChunkHash:              chunks[0],
	}
	if err := svc.store.Create(ctx, data, entity.EncryptFor(info.EncryptionKey)); err != nil {
		return err
	}

	a.State = entities.AssignmentEstimating
	a.EstimationDataID = data.AssetID()

	// Co-ownership keeps the producer able to quarantine the assignment
	// if the estimator goes silent.
	return svc.store.Save(ctx, a, entity.TransferTo(a.EstimatorID, svc.store.PublicKey()))
}

// processEstimateInProgress polls estimator results, quarantines stale
// estimators and extrapolates the job cost once every slot reports.
func (svc *service) processEstimateInProgress(ctx context.Context, t *entities.TaskDeclaration) error {
	assignments, err := svc.estimationAssignments(ctx, t.ID)
	if err != nil {
		return err
	}

	memo := entity.Memo{}
	timedOut := 0
	finished := 0
	var tflops float64

	for _, a := range assignments {
		switch a.State {
		case entities.AssignmentFinished:
			result, err := entity.Resolve(ctx, svc.store, a.EstimationResultID, memo,
				func() *entities.EstimationResult { return &entities.EstimationResult{} })
			if err != nil {
				return err
			}
			finished++
			tflops += result.TFLOPs

			continue
		case entities.AssignmentEstimating:
		default:
			continue
		}

		if a.EstimationResultID == "" {
			if staleness(a.ModifiedAt, a.CreatedAt) > svc.estimateDeadline {
				a.State = entities.AssignmentTimeout
				if err := svc.store.Save(ctx, a); err != nil {
					return err
				}
				timedOut++
			}

			continue
		}

		result, err := entity.Resolve(ctx, svc.store, a.EstimationResultID, memo,
			func() *entities.EstimationResult { return &entities.EstimationResult{} })
		if err != nil {
			return err
		}

		if result.Error != "" {
			return svc.taskFailed(ctx, t, "estimator reported error: "+result.Error)
		}
		if result.State == entities.ResultFinished {
			a.State = entities.AssignmentFinished
			if err := svc.store.Save(ctx, a, entity.TransferTo(a.EstimatorID)); err != nil {
				return err
			}
			finished++
			tflops += result.TFLOPs

			continue
		}
		if staleness(a.ModifiedAt, result.ModifiedAt) > svc.estimateDeadline {
			a.State = entities.AssignmentTimeout
			if err := svc.store.Save(ctx, a); err != nil {
				return err
			}
			timedOut++
		}
	}

	if timedOut > 0 {
		// Return the vacated slots and re-enter the admission race. The
		// slice reflects the timeout writes above, so the recount is the
		// authoritative needed value.
		t.State = entities.TaskStateEstimateRequired
		t.EstimatorsNeeded = t.EstimatorsRequested - activeEstimations(assignments)

		return svc.store.Save(ctx, t)
	}

	if finished < t.EstimatorsRequested {
		return nil
	}

	// One estimator timed one batch; the job is every chunk, every epoch.
	chunks, _, err := svc.trainChunks(ctx, t)
	if err != nil {
		return err
	}
	perBatch := tflops / float64(finished)
	t.EstimatedTFLOPs = perBatch * float64(len(chunks)*t.Epochs)
	t.State = entities.TaskStateEstimated

	return svc.store.Save(ctx, t)
}

// processEstimated gates deployment on the job's escrow covering the
// estimated training cost. The operator funds the job out of band.
func (svc *service) processEstimated(ctx context.Context, t *entities.TaskDeclaration) error {
	exists, err := svc.bridge.DoesJobExist(ctx, t.ID)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}

	balance, err := svc.bridge.GetJobBalance(ctx, t.ID)
	if err != nil {
		return err
	}
	if balance < svc.trainingCost(t) {
		return nil
	}

	t.State = entities.TaskStateDeployment
	t.WorkersNeeded = t.WorkersRequested
	t.VerifiersNeeded = t.VerifiersRequested

	return svc.store.Save(ctx, t)
}
