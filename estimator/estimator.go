// Package estimator predicts a job's compute cost before it is funded.
// The estimator times the model code on a single training batch and
// reports throughput; the producer extrapolates from there. Worker and
// verifier nodes also run this capability alongside their own.
package estimator

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

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
	if err := svc.offerForEstimatingTasks(ctx); err != nil {
		return err
	}

	assignments, err := entity.Collect(entity.List(ctx, svc.store,
		func() *entities.EstimationAssignment { return &entities.EstimationAssignment{} },
		map[string]any{"estimator_id": svc.store.PublicKey()},
	))
	if err != nil {
		return err
	}

	for _, a := range assignments {
		if err := svc.processAssignment(ctx, a); err != nil {
			return fmt.Errorf("estimation %s in %s: %w", a.AssetID(), a.State, err)
		}
	}

	return nil
}

func (svc *service) offerForEstimatingTasks(ctx context.Context) error {
	tasks, err := entity.Collect(entity.List(ctx, svc.store,
		func() *entities.TaskDeclaration { return &entities.TaskDeclaration{} },
		nil,
	))
	if err != nil {
		return err
	}

	for _, t := range tasks {
		if t.State != entities.TaskStateEstimateRequired || t.EstimatorsNeeded <= 0 {
			continue
		}

		exists, err := svc.store.Exists(ctx, entities.TypeEstimationAssignment, map[string]any{
			"task_declaration_id": t.ID,
			"estimator_id":        svc.store.PublicKey(),
		})
		if err != nil {
			return err
		}
		if exists {
			continue
		}

		a := &entities.EstimationAssignment{
			ProducerID:        t.ProducerID,
			TaskDeclarationID: t.ID,
			EstimatorID:       svc.store.PublicKey(),
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

func (svc *service) processAssignment(ctx context.Context, a *entities.EstimationAssignment) error {
	switch a.State {
	case entities.AssignmentReassign:
		a.State = entities.AssignmentReady

		return svc.store.Save(ctx, a, entity.TransferTo(a.ProducerID))
	case entities.AssignmentEstimating:
		return svc.estimate(ctx, a)
	default:
		return nil
	}
}

func (svc *service) estimate(ctx context.Context, a *entities.EstimationAssignment) error {
	if a.EstimationDataID == "" {
		return nil
	}

	data := &entities.EstimationData{}
	if err := svc.store.Get(ctx, data, a.EstimationDataID); err != nil {
		return err
	}
	if data.Ciphertext("chunk_ipfs") {
		return nil
	}

	result, fresh, err := svc.openResult(ctx, a)
	if err != nil {
		return err
	}
	if result.Error != "" || result.State == entities.ResultFinished {
		return nil
	}

	producerKey, err := svc.producerEncryptionKey(ctx, a.ProducerID)
	if err != nil {
		return err
	}

	if fresh {
		a.EstimationResultID = result.AssetID()
		if err := svc.store.Save(ctx, a, entity.TransferTo(svc.store.PublicKey(), a.ProducerID)); err != nil {
			return err
		}
	}

	out, taskErr := svc.runEstimation(ctx, a, data)
	if taskErr != nil {
		raw, err := json.Marshal(taskErr)
		if err != nil {
			return err
		}
		result.Error = string(raw)

		return svc.store.Save(ctx, result, entity.EncryptFor(producerKey))
	}

	result.State = entities.ResultFinished
	result.Progress = 100
	result.TFLOPs = out.TFLOPs

	return svc.store.Save(ctx, result, entity.EncryptFor(producerKey))
}

func (svc *service) openResult(ctx context.Context, a *entities.EstimationAssignment) (*entities.EstimationResult, bool, error) {
	if a.EstimationResultID != "" {
		result := &entities.EstimationResult{}
		if err := svc.store.Get(ctx, result, a.EstimationResultID); err != nil {
			return nil, false, err
		}

		return result, false, nil
	}

	result := &entities.EstimationResult{
		TaskDeclarationID:      a.TaskDeclarationID,
		EstimationAssignmentID: a.AssetID(),
		EstimatorID:            svc.store.PublicKey(),
		State:                  entities.ResultInProgress,
	}
	if err := svc.store.Create(ctx, result); err != nil {
		return nil, false, err
	}

	return result, true, nil
}

func (svc *service) runEstimation(ctx context.Context, a *entities.EstimationAssignment, data *entities.EstimationData) (runner.Output, *runner.TaskError) {
	dir, err := os.MkdirTemp(svc.workDir, "estimate-")
	if err != nil {
		return runner.Output{}, &runner.TaskError{Kind: runner.ErrorKindInternal, Message: err.Error()}
	}
	defer os.RemoveAll(dir)

	codePath, err := svc.objects.Download(ctx, data.ModelCodeHash, dir)
	if err != nil {
		return runner.Output{}, &runner.TaskError{Kind: runner.ErrorKindInternal, Message: err.Error()}
	}

	var weightsPath string
	if data.WeightsHash != "" {
		if weightsPath, err = svc.objects.Download(ctx, data.WeightsHash, dir); err != nil {
			return runner.Output{}, &runner.TaskError{Kind: runner.ErrorKindInternal, Message: err.Error()}
		}
	}

	chunkPath, err := svc.objects.Download(ctx, data.ChunkHash, dir)
	if err != nil {
		return runner.Output{}, &runner.TaskError{Kind: runner.ErrorKindInternal, Message: err.Error()}
	}

	return svc.run.Run(ctx, runner.Spec{
		Kind:        runner.KindEstimate,
		TaskID:      a.TaskDeclarationID,
		CodePath:    codePath,
		WeightsPath: weightsPath,
		TrainDir:    chunkPath,
		BatchSize:   data.BatchSize,
		Epochs:      1,
	})
}

func (svc *service) producerEncryptionKey(ctx context.Context, producerID string) (string, error) {
	info, err := entities.LookupNodeInfo(ctx, svc.store, producerID, entities.TypeProducerNode)
	if err != nil {
		return "", err
	}

	return info.EncryptionKey, nil
}
