package middleware

import (
	"context"
	"time"

	"github.com/go-kit/kit/metrics"
	"github.com/makar21/core-sub000/entities"
	"github.com/makar21/core-sub000/producer"
)

var _ producer.Service = (*metricsMiddleware)(nil)

type metricsMiddleware struct {
	counter metrics.Counter
	latency metrics.Histogram
	svc     producer.Service
}

func Metrics(counter metrics.Counter, latency metrics.Histogram, svc producer.Service) producer.Service {
	return &metricsMiddleware{
		counter: counter,
		latency: latency,
		svc:     svc,
	}
}

func (mm *metricsMiddleware) CreateDataset(ctx context.Context, name, trainDir, testDir string) (*entities.Dataset, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "create-dataset").Add(1)
		mm.latency.With("method", "create-dataset").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.CreateDataset(ctx, name, trainDir, testDir)
}

func (mm *metricsMiddleware) CreateModel(ctx context.Context, name, codePath string) (*entities.TrainModel, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "create-model").Add(1)
		mm.latency.With("method", "create-model").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.CreateModel(ctx, name, codePath)
}

func (mm *metricsMiddleware) AddTask(ctx context.Context, spec producer.TaskSpec) (*entities.TaskDeclaration, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "add-task").Add(1)
		mm.latency.With("method", "add-task").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.AddTask(ctx, spec)
}

func (mm *metricsMiddleware) GetTask(ctx context.Context, id string) (*entities.TaskDeclaration, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "get-task").Add(1)
		mm.latency.With("method", "get-task").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.GetTask(ctx, id)
}

func (mm *metricsMiddleware) ListTasks(ctx context.Context) ([]*entities.TaskDeclaration, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "list-tasks").Add(1)
		mm.latency.With("method", "list-tasks").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.ListTasks(ctx)
}

func (mm *metricsMiddleware) CancelTask(ctx context.Context, id string) error {
	defer func(begin time.Time) {
		mm.counter.With("method", "cancel-task").Add(1)
		mm.latency.With("method", "cancel-task").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.CancelTask(ctx, id)
}

func (mm *metricsMiddleware) StopTask(ctx context.Context, id string) error {
	defer func(begin time.Time) {
		mm.counter.With("method", "stop-task").Add(1)
		mm.latency.With("method", "stop-task").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.StopTask(ctx, id)
}

func (mm *metricsMiddleware) IssueJob(ctx context.Context, id string, amount uint64) error {
	defer func(begin time.Time) {
		mm.counter.With("method", "issue-job").Add(1)
		mm.latency.With("method", "issue-job").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.IssueJob(ctx, id, amount)
}

func (mm *metricsMiddleware) Deposit(ctx context.Context, id string, amount uint64) error {
	defer func(begin time.Time) {
		mm.counter.With("method", "deposit").Add(1)
		mm.latency.With("method", "deposit").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.Deposit(ctx, id, amount)
}

func (mm *metricsMiddleware) TaskStatus(ctx context.Context, id string) (producer.TaskStatus, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "task-status").Add(1)
		mm.latency.With("method", "task-status").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.TaskStatus(ctx, id)
}

func (mm *metricsMiddleware) ProcessTasks(ctx context.Context) error {
	defer func(begin time.Time) {
		mm.counter.With("method", "process-tasks").Add(1)
		mm.latency.With("method", "process-tasks").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.ProcessTasks(ctx)
}
