package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	kithttp "github.com/go-kit/kit/transport/http"
	"github.com/makar21/core-sub000/pkg/api"
	pkgerrors "github.com/makar21/core-sub000/pkg/errors"
	"github.com/makar21/core-sub000/producer"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func MakeHandler(svc producer.Service, logger *slog.Logger, instanceID string) http.Handler {
	mux := chi.NewRouter()

	opts := []kithttp.ServerOption{
		kithttp.ServerErrorEncoder(api.LoggingErrorEncoder(logger, api.EncodeError)),
	}

	mux.Post("/datasets", otelhttp.NewHandler(kithttp.NewServer(
		createDatasetEndpoint(svc),
		decodeDatasetReq,
		api.EncodeResponse,
		opts...,
	), "create-dataset").ServeHTTP)

	mux.Post("/models", otelhttp.NewHandler(kithttp.NewServer(
		createModelEndpoint(svc),
		decodeModelReq,
		api.EncodeResponse,
		opts...,
	), "create-model").ServeHTTP)

	mux.Route("/tasks", func(r chi.Router) {
		r.Post("/", otelhttp.NewHandler(kithttp.NewServer(
			addTaskEndpoint(svc),
			decodeTaskReq,
			api.EncodeResponse,
			opts...,
		), "add-task").ServeHTTP)
		r.Get("/", otelhttp.NewHandler(kithttp.NewServer(
			listTasksEndpoint(svc),
			decodeNopReq,
			api.EncodeResponse,
			opts...,
		), "list-tasks").ServeHTTP)
		r.Route("/{taskID}", func(r chi.Router) {
			r.Get("/", otelhttp.NewHandler(kithttp.NewServer(
				getTaskEndpoint(svc),
				decodeEntityReq("taskID"),
				api.EncodeResponse,
				opts...,
			), "get-task").ServeHTTP)
			r.Get("/status", otelhttp.NewHandler(kithttp.NewServer(
				taskStatusEndpoint(svc),
				decodeEntityReq("taskID"),
				api.EncodeResponse,
				opts...,
			), "task-status").ServeHTTP)
			r.Post("/cancel", otelhttp.NewHandler(kithttp.NewServer(
				cancelTaskEndpoint(svc),
				decodeEntityReq("taskID"),
				api.EncodeResponse,
				opts...,
			), "cancel-task").ServeHTTP)
			r.Post("/stop", otelhttp.NewHandler(kithttp.NewServer(
				stopTaskEndpoint(svc),
				decodeEntityReq("taskID"),
				api.EncodeResponse,
				opts...,
			), "stop-task").ServeHTTP)
			r.Post("/issue", otelhttp.NewHandler(kithttp.NewServer(
				issueJobEndpoint(svc),
				decodeAmountReq("taskID"),
				api.EncodeResponse,
				opts...,
			), "issue-job").ServeHTTP)
			r.Post("/deposit", otelhttp.NewHandler(kithttp.NewServer(
				depositEndpoint(svc),
				decodeAmountReq("taskID"),
				api.EncodeResponse,
				opts...,
			), "deposit").ServeHTTP)
		})
	})

	mux.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", api.ContentType)
		w.WriteHeader(http.StatusOK)
		if err := json.NewEncoder(w).Encode(map[string]string{
			"status":      "pass",
			"instance_id": instanceID,
		}); err != nil {
			logger.Warn("health encode failed", slog.Any("error", err))
		}
	})
	mux.Handle("/metrics", promhttp.Handler())

	return mux
}

func decodeTaskReq(_ context.Context, r *http.Request) (any, error) {
	var req taskReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, errors.Join(pkgerrors.ErrInvalidData, err)
	}

	return req, nil
}

func decodeDatasetReq(_ context.Context, r *http.Request) (any, error) {
	var req datasetReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, errors.Join(pkgerrors.ErrInvalidData, err)
	}

	return req, nil
}

func decodeModelReq(_ context.Context, r *http.Request) (any, error) {
	var req modelReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, errors.Join(pkgerrors.ErrInvalidData, err)
	}

	return req, nil
}

func decodeNopReq(_ context.Context, _ *http.Request) (any, error) {
	return nil, nil
}

func decodeEntityReq(key string) kithttp.DecodeRequestFunc {
	return func(_ context.Context, r *http.Request) (any, error) {
		return entityReq{
			id: chi.URLParam(r, key),
		}, nil
	}
}

func decodeAmountReq(key string) kithttp.DecodeRequestFunc {
	return func(_ context.Context, r *http.Request) (any, error) {
		req := amountReq{
			id: chi.URLParam(r, key),
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, errors.Join(pkgerrors.ErrInvalidData, err)
		}

		return req, nil
	}
}
