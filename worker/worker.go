// Package worker trains assigned dataset shards. The worker offers itself
// to deploying tasks, waits for its assignment to be accepted and fed,
// runs the user-supplied training code out of process and publishes the
// result encrypted to the producer.
package worker

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

// ProcessTasks runs one poll pass: offer for deploying tasks, then
// advance every assignment this worker holds.
func (svc *service) ProcessTasks(ctx context.Context) error {
	if err := svc.offerForDeployingTasks(ctx); err != nil {
		return err
	}

	assignments, err := entity.Collect(entity.List(ctx, svc.store,
		func() *entities.TaskAssignment { return &entities.TaskAssignment{} },
		map[string]any{"worker_id": svc.store.PublicKey()},
	))
	if err != nil {
		return err
	}

	for _, a := range assignments {
		if err := svc.processAssignment(ctx, a); err != nil {
			return fmt.Errorf("assignment %s in %s: %w", a.AssetID(), a.State, err)
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
		if t.WorkersNeeded <= 0 {
			continue
		}

		exists, err := svc.store.Exists(ctx, entities.TypeTaskAssignment, map[string]any{
			"task_declaration_id": t.ID,
			"worker_id":           svc.store.PublicKey(),
		})
		if err != nil {
			return err
		}
		if exists {
			continue
		}

		a := &entities.TaskAssignment{
			ProducerID:        t.ProducerID,
			TaskDeclarationID: t.ID,
			WorkerID:          svc.store.PublicKey(),
			State:             entities.AssignmentInitial,
		}
		if err := svc.store.Create(ctx, a); err != nil {
			return err
		}
		// Creation dedupes, so a racing pass may hand back an assignment
		// that is already past the offer.
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

func (svc *service) processAssignment(ctx context.Context, a *entities.TaskAssignment) error {
	switch a.State {
	case entities.AssignmentReassign:
		// The producer pinged this standby offer; refresh it and re-enter
		// the admission race.
		a.State = entities.AssignmentReady

		return svc.store.Save(ctx, a, entity.TransferTo(a.ProducerID))
	case entities.AssignmentTraining:
		return svc.train(ctx, a)
	default:
		return nil
	}
}

func (svc *service) train(ctx context.Context, a *entities.TaskAssignment) error {
	if a.TrainDataID == "" {
		return nil
	}

	data := &entities.TrainData{}
	if err := svc.store.Get(ctx, data, a.TrainDataID); err != nil {
		return err
	}
	if data.Ciphertext("train_chunks") {
		// Not addressed to this worker yet.
		return nil
	}

	result, fresh, err := svc.openResult(ctx, a)
	if err != nil {
		return err
	}
	if result.Error != "" || result.Finished(data.CurrentIteration) {
		return nil
	}

	producerKey, err := svc.producerEncryptionKey(ctx, a.ProducerID)
	if err != nil {
		return err
	}

	if fresh {
		// Link the result before the long training run so the producer
		// sees activity immediately.
		a.TrainResultID = result.AssetID()
		if err := svc.store.Save(ctx, a, entity.TransferTo(svc.store.PublicKey(), a.ProducerID)); err != nil {
			return err
		}
	}

	out, taskErr := svc.runTraining(ctx, a, data)
	if taskErr != nil {
		raw, err := json.Marshal(taskErr)
		if err != nil {
			return err
		}
		result.Error = string(raw)

		return svc.store.Save(ctx, result, entity.EncryptFor(producerKey))
	}

	weightsHash, err := svc.objects.AddFile(ctx, out.WeightsPath)
	if err != nil {
		return err
	}

	result.State = entities.ResultFinished
	result.CurrentIteration = data.CurrentIteration
	result.Progress = 100
	result.TFLOPs += out.TFLOPs
	result.WeightsHash = weightsHash
	result.Loss = out.Loss
	result.Accuracy = out.Accuracy

	return svc.store.Save(ctx, result, entity.EncryptFor(producerKey))
}

// openResult finds the assignment's TrainResult or creates it on first
// training start. The result lives for the whole job and is updated every
// iteration.
func (svc *service) openResult(ctx context.Context, a *entities.TaskAssignment) (*entities.TrainResult, bool, error) {
	if a.TrainResultID != "" {
		result := &entities.TrainResult{}
		if err := svc.store.Get(ctx, result, a.TrainResultID); err != nil {
			return nil, false, err
		}

		return result, false, nil
	}

	result := &entities.TrainResult{
		TaskDeclarationID: a.TaskDeclarationID,
		TaskAssignmentID:  a.AssetID(),
		WorkerID:          svc.store.PublicKey(),
		State:             entities.ResultInProgress,
	}
	if err := svc.store.Create(ctx, result); err != nil {
		return nil, false, err
	}

	return result, true, nil
}

func (svc *service) runTraining(ctx context.Context, a *entities.TaskAssignment, data *entities.TrainData) (runner.Output, *runner.TaskError) {
	dir, err := os.MkdirTemp(svc.workDir, "train-")
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

	var chunks []string
	if err := json.Unmarshal([]byte(data.TrainChunks), &chunks); err != nil {
		return runner.Output{}, &runner.TaskError{Kind: runner.ErrorKindInternal, Message: "decoding train chunks: " + err.Error()}
	}
	trainDir := filepath.Join(dir, "train")
	if err := os.Mkdir(trainDir, 0o700); err != nil {
		return runner.Output{}, &runner.TaskError{Kind: runner.ErrorKindInternal, Message: err.Error()}
	}
	for _, chunk := range chunks {
		if _, err := svc.objects.Download(ctx, chunk, trainDir); err != nil {
			return runner.Output{}, &runner.TaskError{Kind: runner.ErrorKindInternal, Message: err.Error()}
		}
	}

	var testDir string
	if data.TestChunks != "" {
		testDir = filepath.Join(dir, "test")
		if err := os.Mkdir(testDir, 0o700); err != nil {
			return runner.Output{}, &runner.TaskError{Kind: runner.ErrorKindInternal, Message: err.Error()}
		}
		if _, err := svc.objects.Download(ctx, data.TestChunks, testDir); err != nil {
			return runner.Output{}, &runner.TaskError{Kind: runner.ErrorKindInternal, Message: err.Error()}
		}
	}

	return svc.run.Run(ctx, runner.Spec{
		Kind:        runner.KindTrain,
		TaskID:      a.TaskDeclarationID,
		CodePath:    codePath,
		WeightsPath: weightsPath,
		TrainDir:    trainDir,
		TestDir:     testDir,
		BatchSize:   data.BatchSize,
		Epochs:      data.Epochs,
	})
}

func (svc *service) producerEncryptionKey(ctx context.Context, producerID string) (string, error) {
	info, err := entities.LookupNodeInfo(ctx, svc.store, producerID, entities.TypeProducerNode)
	if err != nil {
		return "", err
	}

	return info.EncryptionKey, nil
}
