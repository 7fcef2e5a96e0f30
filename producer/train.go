package producer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/makar21/core-sub000/entities"
	"github.com/makar21/core-sub000/pkg/entity"
	pkgerrors "github.com/makar21/core-sub000/pkg/errors"
)

// processEpochInProgress polls training workers. Finished workers are
// counted toward the iteration; stale ones are quarantined and their slot
// returned; an error in user code fails the whole job. Once every worker
// reports, the iteration's weights go to the verifier.
func (svc *service) processEpochInProgress(ctx context.Context, t *entities.TaskDeclaration) error {
	assignments, err := svc.taskAssignments(ctx, t.ID)
	if err != nil {
		return err
	}

	memo := entity.Memo{}
	training := 0
	finished := 0
	timedOut := 0
	var progressSum, tflopsSum float64

	for _, a := range assignments {
		if a.State != entities.AssignmentTraining {
			continue
		}
		training++

		if a.TrainResultID == "" {
			if staleness(a.ModifiedAt, a.CreatedAt) > svc.trainDeadline {
				if err := svc.quarantineWorker(ctx, a, "no training result before deadline"); err != nil {
					return err
				}
				timedOut++
			}

			continue
		}

		result, err := entity.Resolve(ctx, svc.store, a.TrainResultID, memo,
			func() *entities.TrainResult { return &entities.TrainResult{} })
		if err != nil {
			return err
		}

		if result.Error != "" {
			return svc.taskFailed(ctx, t, "worker "+a.WorkerID+" reported error: "+result.Error)
		}

		tflopsSum += result.TFLOPs
		if result.Finished(t.CurrentIteration) {
			finished++
			progressSum += 100

			continue
		}

		if staleness(a.ModifiedAt, result.ModifiedAt) > svc.trainDeadline {
			if err := svc.quarantineWorker(ctx, a, "training result stalled past deadline"); err != nil {
				return err
			}
			timedOut++

			continue
		}
		progressSum += result.Progress
	}

	if timedOut > 0 {
		t.State = entities.TaskStateDeploymentTrain
		t.WorkersNeeded = t.WorkersRequested - activeTrainAssignments(assignments)

		return svc.store.Save(ctx, t)
	}

	if training != t.WorkersRequested {
		return fmt.Errorf("%w: task %s has %d training workers, requested %d",
			pkgerrors.ErrInvariant, t.ID, training, t.WorkersRequested)
	}

	if finished == training {
		return svc.startVerification(ctx, t, assignments, memo)
	}

	progress := jobProgress(t, progressSum/float64(training))
	if progress != t.Progress || tflopsSum != t.TFLOPs {
		t.Progress = progress
		t.TFLOPs = tflopsSum

		return svc.store.Save(ctx, t)
	}

	return nil
}

func (svc *service) quarantineWorker(ctx context.Context, a *entities.TaskAssignment, reason string) error {
	a.State = entities.AssignmentTimeout
	a.Reason = reason

	return svc.store.Save(ctx, a)
}

// startVerification bundles the iteration's weight references for the
// verifier(s) and moves the job into verification.
func (svc *service) startVerification(ctx context.Context, t *entities.TaskDeclaration, assignments []*entities.TaskAssignment, memo entity.Memo) error {
	verifications, err := svc.verificationAssignments(ctx, t.ID)
	if err != nil {
		return err
	}

	var refs []entities.TrainResultRef
	for _, a := range assignments {
		if a.State != entities.AssignmentTraining {
			continue
		}
		result, err := entity.Resolve(ctx, svc.store, a.TrainResultID, memo,
			func() *entities.TrainResult { return &entities.TrainResult{} })
		if err != nil {
			return err
		}
		refs = append(refs, entities.TrainResultRef{
			WorkerID:      a.WorkerID,
			AssignmentID:  a.AssetID(),
			TrainResultID: a.TrainResultID,
			WeightsHash:   result.WeightsHash,
		})
	}
	encoded, err := json.Marshal(refs)
	if err != nil {
		return err
	}

	_, testDir, err := svc.trainChunks(ctx, t)
	if err != nil {
		return err
	}
	codeHash, err := svc.modelCode(ctx, t)
	if err != nil {
		return err
	}

	batch := svc.store.Batch()
	batch.Begin()

	assigned := 0
	for _, va := range verifications {
		if va.State != entities.AssignmentAccepted && va.State != entities.AssignmentVerifying {
			continue
		}

		info, err := svc.performerInfo(ctx, va.VerifierID)
		if err != nil {
			return errors.Join(err, batch.End(ctx))
		}

		data := &entities.VerificationData{
			TaskDeclarationID:        t.ID,
			VerificationAssignmentID: va.AssetID(),
			CurrentIteration:         t.CurrentIteration,
			ModelCodeHash:            codeHash,
			TestDirHash:              testDir,
			TrainResults:             string(encoded),
		}
		if err := svc.store.Create(ctx, data, entity.EncryptFor(info.EncryptionKey)); err != nil {
			return errors.Join(err, batch.End(ctx))
		}

		va.State = entities.AssignmentVerifying
		va.VerificationDataID = data.AssetID()
		if err := svc.store.Save(ctx, va, entity.TransferTo(va.VerifierID, svc.store.PublicKey())); err != nil {
			return errors.Join(err, batch.End(ctx))
		}
		assigned++
	}

	if err := batch.End(ctx); err != nil {
		return err
	}

	if assigned == 0 {
		return fmt.Errorf("%w: task %s has no verifier to audit iteration %d",
			pkgerrors.ErrInvariant, t.ID, t.CurrentIteration)
	}

	t.State = entities.TaskStateVerifyInProgress
	t.Progress = jobProgress(t, 100)

	return svc.store.Save(ctx, t)
}

// jobProgress folds the current iteration's completion into the job-wide
// percentage.
func jobProgress(t *entities.TaskDeclaration, iterationProgress float64) float64 {
	total := t.TotalIterations()
	if total == 0 {
		return 0
	}
	done := float64(t.CurrentIteration - 1)

	return (done + iterationProgress/100) / float64(total) * 100
}
