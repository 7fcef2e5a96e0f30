package producer

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/makar21/core-sub000/entities"
	"github.com/makar21/core-sub000/pkg/entity"
	pkgerrors "github.com/makar21/core-sub000/pkg/errors"
	"github.com/makar21/core-sub000/pkg/payment"
)

// processVerifyInProgress polls the verifier's audit of the current
// iteration. A fraud verdict quarantines the flagged workers and redoes
// the iteration with replacements; a clean verdict adopts the summarized
// weights and either advances the iteration or completes the job.
func (svc *service) processVerifyInProgress(ctx context.Context, t *entities.TaskDeclaration) error {
	verifications, err := svc.verificationAssignments(ctx, t.ID)
	if err != nil {
		return err
	}

	memo := entity.Memo{}
	for _, va := range verifications {
		if va.State != entities.AssignmentVerifying {
			continue
		}

		if va.VerificationResultID == "" {
			if staleness(va.ModifiedAt, va.CreatedAt) > svc.verifyDeadline {
				return svc.quarantineVerifier(ctx, t, va, verifications)
			}

			continue
		}

		result, err := entity.Resolve(ctx, svc.store, va.VerificationResultID, memo,
			func() *entities.VerificationResult { return &entities.VerificationResult{} })
		if err != nil {
			return err
		}

		if result.Error != "" {
			return svc.taskFailed(ctx, t, "verifier reported error: "+result.Error)
		}
		if !result.Answers(va.VerificationDataID) {
			if staleness(va.ModifiedAt, result.ModifiedAt) > svc.verifyDeadline {
				return svc.quarantineVerifier(ctx, t, va, verifications)
			}

			continue
		}

		return svc.applyVerdict(ctx, t, result)
	}

	return nil
}

func (svc *service) quarantineVerifier(ctx context.Context, t *entities.TaskDeclaration, va *entities.VerificationAssignment, verifications []*entities.VerificationAssignment) error {
	va.State = entities.AssignmentTimeout
	if err := svc.store.Save(ctx, va); err != nil {
		return err
	}

	t.State = entities.TaskStateDeploymentTrain
	t.VerifiersNeeded = t.VerifiersRequested - activeVerifications(verifications)

	return svc.store.Save(ctx, t)
}

func (svc *service) applyVerdict(ctx context.Context, t *entities.TaskDeclaration, result *entities.VerificationResult) error {
	verdicts, err := result.Verdicts()
	if err != nil {
		return fmt.Errorf("parsing verdicts for task %s: %w", t.ID, err)
	}

	var fakes []entities.WorkerVerdict
	for _, v := range verdicts {
		if v.IsFake {
			fakes = append(fakes, v)
		}
	}
	if len(fakes) > 0 {
		return svc.quarantineFakes(ctx, t, fakes)
	}

	t.WeightsHash = result.WeightsHash
	t.Loss = result.Loss
	t.Accuracy = result.Accuracy

	if t.LastIteration() {
		return svc.completeTask(ctx, t)
	}

	return svc.nextIteration(ctx, t)
}

// quarantineFakes marks the flagged assignments, returns their slots and
// redoes the current iteration with replacement workers. The iteration
// counter does not advance.
func (svc *service) quarantineFakes(ctx context.Context, t *entities.TaskDeclaration, fakes []entities.WorkerVerdict) error {
	assignments, err := svc.taskAssignments(ctx, t.ID)
	if err != nil {
		return err
	}
	byID := make(map[string]*entities.TaskAssignment, len(assignments))
	for _, a := range assignments {
		byID[a.AssetID()] = a
	}

	batch := svc.store.Batch()
	batch.Begin()

	for _, v := range fakes {
		a, ok := byID[v.AssignmentID]
		if !ok {
			return errors.Join(
				fmt.Errorf("%w: verdict names unknown assignment %s", pkgerrors.ErrInvariant, v.AssignmentID),
				batch.End(ctx),
			)
		}
		if a.State != entities.AssignmentTraining {
			continue
		}
		a.State = entities.AssignmentFakeResults
		a.Reason = "flagged fraudulent by verifier"
		if err := svc.store.Save(ctx, a); err != nil {
			return errors.Join(err, batch.End(ctx))
		}
	}

	if err := batch.End(ctx); err != nil {
		return err
	}

	t.State = entities.TaskStateDeploymentTrain
	t.WorkersNeeded = t.WorkersRequested - activeTrainAssignments(assignments)
	t.CurrentIterationRetry++

	return svc.store.Save(ctx, t)
}

// nextIteration distributes fresh TrainData, built on the verifier's
// summarized weights, to the same worker set.
func (svc *service) nextIteration(ctx context.Context, t *entities.TaskDeclaration) error {
	assignments, err := svc.taskAssignments(ctx, t.ID)
	if err != nil {
		return err
	}

	t.CurrentIteration++
	t.CurrentIterationRetry = 0

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
		if a.State != entities.AssignmentTraining {
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

	return svc.store.Save(ctx, t)
}

// completeTask settles payouts proportional to reported work, closes the
// escrowed job and moves every surviving assignment to its finished sink.
func (svc *service) completeTask(ctx context.Context, t *entities.TaskDeclaration) error {
	assignments, err := svc.taskAssignments(ctx, t.ID)
	if err != nil {
		return err
	}
	verifications, err := svc.verificationAssignments(ctx, t.ID)
	if err != nil {
		return err
	}

	memo := entity.Memo{}
	var shares []payment.Share
	var tflopsTotal float64

	for _, a := range assignments {
		if a.State != entities.AssignmentTraining {
			continue
		}
		result, err := entity.Resolve(ctx, svc.store, a.TrainResultID, memo,
			func() *entities.TrainResult { return &entities.TrainResult{} })
		if err != nil {
			return err
		}
		tflopsTotal += result.TFLOPs
		share, err := svc.shareFor(ctx, a.WorkerID, result.TFLOPs)
		if err != nil {
			return err
		}
		if share != nil {
			shares = append(shares, *share)
		}
	}
	for _, va := range verifications {
		if va.State != entities.AssignmentVerifying {
			continue
		}
		result, err := entity.Resolve(ctx, svc.store, va.VerificationResultID, memo,
			func() *entities.VerificationResult { return &entities.VerificationResult{} })
		if err != nil {
			return err
		}
		tflopsTotal += result.TFLOPs
		share, err := svc.shareFor(ctx, va.VerifierID, result.TFLOPs)
		if err != nil {
			return err
		}
		if share != nil {
			shares = append(shares, *share)
		}
	}

	if len(shares) > 0 {
		if err := svc.bridge.Distribute(ctx, t.ID, shares); err != nil {
			return err
		}
	}
	if err := svc.bridge.FinishJob(ctx, t.ID); err != nil {
		return err
	}

	batch := svc.store.Batch()
	batch.Begin()

	for _, a := range assignments {
		if a.State != entities.AssignmentTraining {
			continue
		}
		a.State = entities.AssignmentFinished
		if err := svc.store.Save(ctx, a, entity.TransferTo(a.WorkerID)); err != nil {
			return errors.Join(err, batch.End(ctx))
		}
	}
	for _, va := range verifications {
		if va.State != entities.AssignmentVerifying {
			continue
		}
		va.State = entities.AssignmentFinished
		if err := svc.store.Save(ctx, va, entity.TransferTo(va.VerifierID)); err != nil {
			return errors.Join(err, batch.End(ctx))
		}
	}

	if err := batch.End(ctx); err != nil {
		return err
	}

	t.State = entities.TaskStateCompleted
	t.Progress = 100
	t.TFLOPs = tflopsTotal

	return svc.store.Save(ctx, t)
}

func (svc *service) shareFor(ctx context.Context, publicKey string, tflops float64) (*payment.Share, error) {
	info, err := svc.performerInfo(ctx, publicKey)
	if err != nil {
		return nil, err
	}
	if info.Address == "" {
		return nil, nil
	}

	amount := uint64(math.Ceil(tflops)) * costPerTFLOP
	if amount == 0 {
		return nil, nil
	}

	return &payment.Share{Address: info.Address, Amount: amount}, nil
}
