package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/makar21/core-sub000/entities"
	"github.com/makar21/core-sub000/producer"
)

type loggingMiddleware struct {
	logger *slog.Logger
	svc    producer.Service
}

func Logging(logger *slog.Logger, svc producer.Service) producer.Service {
	return &loggingMiddleware{
		logger: logger,
		svc:    svc,
	}
}

func (lm *loggingMiddleware) CreateDataset(ctx context.Context, name, trainDir, testDir string) (resp *entities.Dataset, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Group("dataset",
				slog.String("name", name),
				slog.String("train_dir", trainDir),
				slog.String("test_dir", testDir),
			),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Create dataset failed", args...)

			return
		}
		lm.logger.Info("Create dataset completed successfully", args...)
	}(time.Now())

	return lm.svc.CreateDataset(ctx, name, trainDir, testDir)
}

func (lm *loggingMiddleware) CreateModel(ctx context.Context, name, codePath string) (resp *entities.TrainModel, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Group("model",
				slog.String("name", name),
				slog.String("code_path", codePath),
			),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Create model failed", args...)

			return
		}
		lm.logger.Info("Create model completed successfully", args...)
	}(time.Now())

	return lm.svc.CreateModel(ctx, name, codePath)
}

func (lm *loggingMiddleware) AddTask(ctx context.Context, spec producer.TaskSpec) (resp *entities.TaskDeclaration, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Group("task",
				slog.String("dataset_id", spec.DatasetID),
				slog.String("model_id", spec.TrainModelID),
				slog.Int("workers", spec.WorkersRequested),
			),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Add task failed", args...)

			return
		}
		args = append(args, slog.String("id", resp.ID))
		lm.logger.Info("Add task completed successfully", args...)
	}(time.Now())

	return lm.svc.AddTask(ctx, spec)
}

func (lm *loggingMiddleware) GetTask(ctx context.Context, id string) (resp *entities.TaskDeclaration, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Group("task",
				slog.String("id", id),
			),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Get task failed", args...)

			return
		}
		lm.logger.Info("Get task completed successfully", args...)
	}(time.Now())

	return lm.svc.GetTask(ctx, id)
}

func (lm *loggingMiddleware) ListTasks(ctx context.Context) (resp []*entities.TaskDeclaration, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("List tasks failed", args...)

			return
		}
		args = append(args, slog.Int("count", len(resp)))
		lm.logger.Info("List tasks completed successfully", args...)
	}(time.Now())

	return lm.svc.ListTasks(ctx)
}

func (lm *loggingMiddleware) CancelTask(ctx context.Context, id string) (err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Group("task",
				slog.String("id", id),
			),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Cancel task failed", args...)

			return
		}
		lm.logger.Info("Cancel task completed successfully", args...)
	}(time.Now())

	return lm.svc.CancelTask(ctx, id)
}

func (lm *loggingMiddleware) StopTask(ctx context.Context, id string) (err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Group("task",
				slog.String("id", id),
			),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Stop task failed", args...)

			return
		}
		lm.logger.Info("Stop task completed successfully", args...)
	}(time.Now())

	return lm.svc.StopTask(ctx, id)
}

func (lm *loggingMiddleware) IssueJob(ctx context.Context, id string, amount uint64) (err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Group("job",
				slog.String("task_id", id),
				slog.Uint64("amount", amount),
			),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Issue job failed", args...)

			return
		}
		lm.logger.Info("Issue job completed successfully", args...)
	}(time.Now())

	return lm.svc.IssueJob(ctx, id, amount)
}

func (lm *loggingMiddleware) Deposit(ctx context.Context, id string, amount uint64) (err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Group("job",
				slog.String("task_id", id),
				slog.Uint64("amount", amount),
			),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Deposit failed", args...)

			return
		}
		lm.logger.Info("Deposit completed successfully", args...)
	}(time.Now())

	return lm.svc.Deposit(ctx, id, amount)
}

func (lm *loggingMiddleware) TaskStatus(ctx context.Context, id string) (resp producer.TaskStatus, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Group("task",
				slog.String("id", id),
			),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Task status failed", args...)

			return
		}
		lm.logger.Info("Task status completed successfully", args...)
	}(time.Now())

	return lm.svc.TaskStatus(ctx, id)
}

func (lm *loggingMiddleware) ProcessTasks(ctx context.Context) (err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Process tasks failed", args...)

			return
		}
		lm.logger.Debug("Process tasks completed successfully", args...)
	}(time.Now())

	return lm.svc.ProcessTasks(ctx)
}
