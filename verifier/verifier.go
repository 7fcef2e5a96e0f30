// Package verifier audits workers' training submissions. The verifier
// offers itself to deploying tasks, evaluates every worker's weights for
// the iteration under audit, flags fraudulent submissions and summarizes
// the accepted ones into the iteration's new weights.
package verifier

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/makar21/core-sub000/entities"
	"github.com/makar21/core-sub000/pkg/entity"
	"github.com/makar21/core-sub000/pkg/objectstore"
	"github.com/makar21/core-sub000/runner"
)

type Service interface {
	ProcessTasks(ctx context.Context) error
}

type service struct {
	store   *entity.Store
	objects objectstore.Store
	run     runner.Runner
	workDir string
}

func NewService(store *entity.Store, objects objectstore.Store, run runner.Runner, workDir string) Service {
	return &service{
		store:   store,
		objects: objects,
		run:     run,
		workDir: workDir,
	}
}

func (svc *service) ProcessTasks(ctx context.Context) error {
	if err := svc.offerForDeployingTasks(ctx); err != nil {
		return err
	}

	assignments, err := entity.Collect(entity.List(ctx, svc.store,
		func() *entities.VerificationAssignment { return &entities.VerificationAssignment{} },
		map[string]any{"verifier_id": svc.store.PublicKey()},
	))
	if err != nil {
		return err
	}

	for _, a := range assignments {
		if err := svc.processAssignment(ctx, a); err != nil {
			return fmt.Errorf("verification %s in %s: %w", a.AssetID(), a.State, err)
		}
	}

	return nil
}

func (svc *service) offerForDeployingTasks(ctx context.Context) error {
	tasks, err := entity.Collect(entity.List(ctx, svc.store,
		func() *entities.TaskDeclaration { return &entities.TaskDeclaration{} },
		nil,
	))
	if err != nil {
		return err
	}

	for _, t := range tasks {
		if t.State != entities.TaskStateDeployment && t.State != entities.TaskStateDeploymentTrain {
			continue
		}
		if t.VerifiersNeeded <= 0 {
			continue
		}

		exists, err := svc.store.Exists(ctx, entities.TypeVerificationAssignment, map[string]any{
			"task_declaration_id": t.ID,
			"verifier_id":         svc.store.PublicKey(),
		})
		if err != nil {
			return err
		}
		if exists {
			continue
		}

		a := &entities.VerificationAssignment{
			ProducerID:        t.ProducerID,
			TaskDeclarationID: t.ID,
			VerifierID:        svc.store.PublicKey(),
			State:             entities.AssignmentInitial,
		}
		if err := svc.store.Create(ctx, a); err != nil {
			return err
		}
		if a.State != entities.AssignmentInitial {
			continue
		}

		a.State = entities.AssignmentReady
		if err := svc.store.Save(ctx, a, entity.TransferTo(t.ProducerID)); err != nil {
			return err
		}
	}

	return nil
}

func (svc *service) processAssignment(ctx context.Context, a *entities.VerificationAssignment) error {
	switch a.State {
	case entities.AssignmentReassign:
		a.State = entities.AssignmentReady

		return svc.store.Save(ctx, a, entity.TransferTo(a.ProducerID))
	case entities.AssignmentVerifying:
		return svc.verify(ctx, a)
	default:
		return nil
	}
}

func (svc *service) verify(ctx context.Context, a *entities.VerificationAssignment) error {
	if a.VerificationDataID == "" {
		return nil
	}

	data := &entities.VerificationData{}
	if err := svc.store.Get(ctx, data, a.VerificationDataID); err != nil {
		return err
	}
	if data.Ciphertext("train_results") {
		return nil
	}
	refs, err := data.Refs()
	if err != nil {
		return err
	}

	result, fresh, err := svc.openResult(ctx, a)
	if err != nil {
		return err
	}
	if result.Error != "" || result.Answers(a.VerificationDataID) {
		return nil
	}

	producerKey, err := svc.producerEncryptionKey(ctx, a.ProducerID)
	if err != nil {
		return err
	}

	if fresh {
		a.VerificationResultID = result.AssetID()
		if err := svc.store.Save(ctx, a, entity.TransferTo(svc.store.PublicKey(), a.ProducerID)); err != nil {
			return err
		}
	}

	out, taskErr := svc.runVerification(ctx, a, data, refs)
	if taskErr != nil {
		raw, err := json.Marshal(taskErr)
		if err != nil {
			return err
		}
		result.Error = string(raw)

		return svc.store.Save(ctx, result, entity.EncryptFor(producerKey))
	}

	// The eval routine reports one flag per candidate, in input order.
	var flags []bool
	if err := json.Unmarshal([]byte(out.Result), &flags); err != nil {
		return fmt.Errorf("decoding verdict flags: %w", err)
	}
	if len(flags) != len(refs) {
		return fmt.Errorf("verdict count %d does not match %d candidates", len(flags), len(refs))
	}
	verdicts := make([]entities.WorkerVerdict, len(refs))
	for i, ref := range refs {
		verdicts[i] = entities.WorkerVerdict{
			WorkerID:     ref.WorkerID,
			AssignmentID: ref.AssignmentID,
			IsFake:       flags[i],
		}
	}
	encoded, err := json.Marshal(verdicts)
	if err != nil {
		return err
	}

	var weightsHash string
	if out.WeightsPath != "" {
		if weightsHash, err = svc.objects.AddFile(ctx, out.WeightsPath); err != nil {
			return err
		}
	}

	result.State = entities.ResultFinished
	result.CurrentIteration = data.CurrentIteration
	result.VerificationDataID = a.VerificationDataID
	result.Progress = 100
	result.TFLOPs += out.TFLOPs
	result.Result = string(encoded)
	result.WeightsHash = weightsHash
	result.Loss = out.Loss
	result.Accuracy = out.Accuracy

	return svc.store.Save(ctx, result, entity.EncryptFor(producerKey))
}

func (svc *service) openResult(ctx context.Context, a *entities.VerificationAssignment) (*entities.VerificationResult, bool, error) {
	if a.VerificationResultID != "" {
		result := &entities.VerificationResult{}
		if err := svc.store.Get(ctx, result, a.VerificationResultID); err != nil {
			return nil, false, err
		}

		return result, false, nil
	}

	result := &entities.VerificationResult{
		TaskDeclarationID:        a.TaskDeclarationID,
		VerificationAssignmentID: a.AssetID(),
		VerifierID:               svc.store.PublicKey(),
		State:                    entities.ResultInProgress,
	}
	if err := svc.store.Create(ctx, result); err != nil {
		return nil, false, err
	}

	return result, true, nil
}

func (svc *service) runVerification(ctx context.Context, a *entities.VerificationAssignment, data *entities.VerificationData, refs []entities.TrainResultRef) (runner.Output, *runner.TaskError) {
	dir, err := os.MkdirTemp(svc.workDir, "verify-")
	if err != nil {
		return runner.Output{}, &runner.TaskError{Kind: runner.ErrorKindInternal, Message: err.Error()}
	}
	defer os.RemoveAll(dir)

	codePath, err := svc.objects.Download(ctx, data.ModelCodeHash, dir)
	if err != nil {
		return runner.Output{}, &runner.TaskError{Kind: runner.ErrorKindInternal, Message: err.Error()}
	}

	var testDir string
	if data.TestDirHash != "" {
		testDir = filepath.Join(dir, "test")
		if err := os.Mkdir(testDir, 0o700); err != nil {
			return runner.Output{}, &runner.TaskError{Kind: runner.ErrorKindInternal, Message: err.Error()}
		}
		if _, err := svc.objects.Download(ctx, data.TestDirHash, testDir); err != nil {
			return runner.Output{}, &runner.TaskError{Kind: runner.ErrorKindInternal, Message: err.Error()}
		}
	}

	candidates := make([]string, 0, len(refs))
	for _, ref := range refs {
		path, err := svc.objects.Download(ctx, ref.WeightsHash, dir)
		if err != nil {
			return runner.Output{}, &runner.TaskError{Kind: runner.ErrorKindInternal, Message: err.Error()}
		}
		candidates = append(candidates, path)
	}

	return svc.run.Run(ctx, runner.Spec{
		Kind:       runner.KindVerify,
		TaskID:     a.TaskDeclarationID,
		CodePath:   codePath,
		TestDir:    testDir,
		Candidates: candidates,
	})
}

func (svc *service) producerEncryptionKey(ctx context.Context, producerID string) (string, error) {
	info, err := entities.LookupNodeInfo(ctx, svc.store, producerID, entities.TypeProducerNode)
	if err != nil {
		return "", err
	}

	return info.EncryptionKey, nil
}
