package api

import (
	"context"

	"github.com/go-kit/kit/endpoint"
	pkgerrors "github.com/makar21/core-sub000/pkg/errors"
	"github.com/makar21/core-sub000/producer"
)

func createDatasetEndpoint(svc producer.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(datasetReq)
		if !ok {
			return datasetResponse{}, pkgerrors.ErrInvalidData
		}
		if err := req.validate(); err != nil {
			return datasetResponse{}, err
		}

		ds, err := svc.CreateDataset(ctx, req.Name, req.TrainDir, req.TestDir)
		if err != nil {
			return datasetResponse{}, err
		}

		return datasetResponse{
			Dataset: ds,
		}, nil
	}
}

func createModelEndpoint(svc producer.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(modelReq)
		if !ok {
			return modelResponse{}, pkgerrors.ErrInvalidData
		}
		if err := req.validate(); err != nil {
			return modelResponse{}, err
		}

		m, err := svc.CreateModel(ctx, req.Name, req.CodePath)
		if err != nil {
			return modelResponse{}, err
		}

		return modelResponse{
			TrainModel: m,
		}, nil
	}
}

func addTaskEndpoint(svc producer.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(taskReq)
		if !ok {
			return taskResponse{}, pkgerrors.ErrInvalidData
		}
		if err := req.validate(); err != nil {
			return taskResponse{}, err
		}

		t, err := svc.AddTask(ctx, req.TaskSpec)
		if err != nil {
			return taskResponse{}, err
		}

		return taskResponse{
			TaskDeclaration: t,
			created:         true,
		}, nil
	}
}

func getTaskEndpoint(svc producer.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(entityReq)
		if !ok {
			return taskResponse{}, pkgerrors.ErrInvalidData
		}
		if err := req.validate(); err != nil {
			return taskResponse{}, err
		}

		t, err := svc.GetTask(ctx, req.id)
		if err != nil {
			return taskResponse{}, err
		}

		return taskResponse{
			TaskDeclaration: t,
		}, nil
	}
}

func listTasksEndpoint(svc producer.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		tasks, err := svc.ListTasks(ctx)
		if err != nil {
			return listTaskResponse{}, err
		}

		return listTaskResponse{
			Tasks: tasks,
			Total: len(tasks),
		}, nil
	}
}

func taskStatusEndpoint(svc producer.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(entityReq)
		if !ok {
			return taskStatusResponse{}, pkgerrors.ErrInvalidData
		}
		if err := req.validate(); err != nil {
			return taskStatusResponse{}, err
		}

		status, err := svc.TaskStatus(ctx, req.id)
		if err != nil {
			return taskStatusResponse{}, err
		}

		return taskStatusResponse{
			TaskStatus: status,
		}, nil
	}
}

func cancelTaskEndpoint(svc producer.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(entityReq)
		if !ok {
			return emptyResponse{}, pkgerrors.ErrInvalidData
		}
		if err := req.validate(); err != nil {
			return emptyResponse{}, err
		}

		if err := svc.CancelTask(ctx, req.id); err != nil {
			return emptyResponse{}, err
		}

		return emptyResponse{}, nil
	}
}

func stopTaskEndpoint(svc producer.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(entityReq)
		if !ok {
			return emptyResponse{}, pkgerrors.ErrInvalidData
		}
		if err := req.validate(); err != nil {
			return emptyResponse{}, err
		}

		if err := svc.StopTask(ctx, req.id); err != nil {
			return emptyResponse{}, err
		}

		return emptyResponse{}, nil
	}
}

func issueJobEndpoint(svc producer.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(amountReq)
		if !ok {
			return emptyResponse{}, pkgerrors.ErrInvalidData
		}
		if err := req.validate(); err != nil {
			return emptyResponse{}, err
		}

		if err := svc.IssueJob(ctx, req.id, req.Amount); err != nil {
			return emptyResponse{}, err
		}

		return emptyResponse{}, nil
	}
}

func depositEndpoint(svc producer.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(amountReq)
		if !ok {
			return emptyResponse{}, pkgerrors.ErrInvalidData
		}
		if err := req.validate(); err != nil {
			return emptyResponse{}, err
		}

		if err := svc.Deposit(ctx, req.id, req.Amount); err != nil {
			return emptyResponse{}, err
		}

		return emptyResponse{}, nil
	}
}
