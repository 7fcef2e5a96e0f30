package middleware

import (
	"context"

	"github.com/makar21/core-sub000/entities"
	"github.com/makar21/core-sub000/producer"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var _ producer.Service = (*tracing)(nil)

type tracing struct {
	tracer trace.Tracer
	svc    producer.Service
}

func Tracing(tracer trace.Tracer, svc producer.Service) producer.Service {
	return &tracing{tracer, svc}
}

func (tm *tracing) CreateDataset(ctx context.Context, name, trainDir, testDir string) (*entities.Dataset, error) {
	ctx, span := tm.tracer.Start(ctx, "create-dataset", trace.WithAttributes(
		attribute.String("name", name),
	))
	defer span.End()

	return tm.svc.CreateDataset(ctx, name, trainDir, testDir)
}

func (tm *tracing) CreateModel(ctx context.Context, name, codePath string) (*entities.TrainModel, error) {
	ctx, span := tm.tracer.Start(ctx, "create-model", trace.WithAttributes(
		attribute.String("name", name),
	))
	defer span.End()

	return tm.svc.CreateModel(ctx, name, codePath)
}

func (tm *tracing) AddTask(ctx context.Context, spec producer.TaskSpec) (*entities.TaskDeclaration, error) {
	ctx, span := tm.tracer.Start(ctx, "add-task", trace.WithAttributes(
		attribute.String("dataset_id", spec.DatasetID),
		attribute.String("model_id", spec.TrainModelID),
		attribute.Int("workers", spec.WorkersRequested),
	))
	defer span.End()

	return tm.svc.AddTask(ctx, spec)
}

func (tm *tracing) GetTask(ctx context.Context, id string) (*entities.TaskDeclaration, error) {
	ctx, span := tm.tracer.Start(ctx, "get-task", trace.WithAttributes(
		attribute.String("id", id),
	))
	defer span.End()

	return tm.svc.GetTask(ctx, id)
}

func (tm *tracing) ListTasks(ctx context.Context) ([]*entities.TaskDeclaration, error) {
	ctx, span := tm.tracer.Start(ctx, "list-tasks")
	defer span.End()

	return tm.svc.ListTasks(ctx)
}

func (tm *tracing) CancelTask(ctx context.Context, id string) error {
	ctx, span := tm.tracer.Start(ctx, "cancel-task", trace.WithAttributes(
		attribute.String("id", id),
	))
	defer span.End()

	return tm.svc.CancelTask(ctx, id)
}

func (tm *tracing) StopTask(ctx context.Context, id string) error {
	ctx, span := tm.tracer.Start(ctx, "stop-task", trace.WithAttributes(
		attribute.String("id", id),
	))
	defer span.End()

	return tm.svc.StopTask(ctx, id)
}

func (tm *tracing) IssueJob(ctx context.Context, id string, amount uint64) error {
	ctx, span := tm.tracer.Start(ctx, "issue-job", trace.WithAttributes(
		attribute.String("task_id", id),
		attribute.Int64("amount", int64(amount)),
	))
	defer span.End()

	return tm.svc.IssueJob(ctx, id, amount)
}

func (tm *tracing) Deposit(ctx context.Context, id string, amount uint64) error {
	ctx, span := tm.tracer.Start(ctx, "deposit", trace.WithAttributes(
		attribute.String("task_id", id),
		attribute.Int64("amount", int64(amount)),
	))
	defer span.End()

	return tm.svc.Deposit(ctx, id, amount)
}

func (tm *tracing) TaskStatus(ctx context.Context, id string) (producer.TaskStatus, error) {
	ctx, span := tm.tracer.Start(ctx, "task-status", trace.WithAttributes(
		attribute.String("id", id),
	))
	defer span.End()

	return tm.svc.TaskStatus(ctx, id)
}

func (tm *tracing) ProcessTasks(ctx context.Context) error {
	ctx, span := tm.tracer.Start(ctx, "process-tasks")
	defer span.End()

	return tm.svc.ProcessTasks(ctx)
}
