package api

import (
	"net/http"

	"github.com/makar21/core-sub000/entities"
	"github.com/makar21/core-sub000/pkg/api"
	"github.com/makar21/core-sub000/producer"
)

var (
	_ api.Response = (*taskResponse)(nil)
	_ api.Response = (*listTaskResponse)(nil)
	_ api.Response = (*taskStatusResponse)(nil)
	_ api.Response = (*datasetResponse)(nil)
	_ api.Response = (*modelResponse)(nil)
	_ api.Response = (*emptyResponse)(nil)
)

type taskResponse struct {
	*entities.TaskDeclaration
	created bool
}

func (t taskResponse) Code() int {
	if t.created {
		return http.StatusCreated
	}

	return http.StatusOK
}

func (t taskResponse) Headers() map[string]string {
	if t.created {
		return map[string]string{
			"Location": "/tasks/" + t.ID,
		}
	}

	return map[string]string{}
}

func (t taskResponse) Empty() bool {
	return false
}

type listTaskResponse struct {
	Tasks []*entities.TaskDeclaration `json:"tasks"`
	Total int                         `json:"total"`
}

func (l listTaskResponse) Code() int {
	return http.StatusOK
}

func (l listTaskResponse) Headers() map[string]string {
	return map[string]string{}
}

func (l listTaskResponse) Empty() bool {
	return false
}

type taskStatusResponse struct {
	producer.TaskStatus
}

func (t taskStatusResponse) Code() int {
	return http.StatusOK
}

func (t taskStatusResponse) Headers() map[string]string {
	return map[string]string{}
}

func (t taskStatusResponse) Empty() bool {
	return false
}

type datasetResponse struct {
	*entities.Dataset
}

func (d datasetResponse) Code() int {
	return http.StatusCreated
}

func (d datasetResponse) Headers() map[string]string {
	return map[string]string{
		"Location": "/datasets/" + d.ID,
	}
}

func (d datasetResponse) Empty() bool {
	return false
}

type modelResponse struct {
	*entities.TrainModel
}

func (m modelResponse) Code() int {
	return http.StatusCreated
}

func (m modelResponse) Headers() map[string]string {
	return map[string]string{
		"Location": "/models/" + m.ID,
	}
}

func (m modelResponse) Empty() bool {
	return false
}

type emptyResponse struct{}

func (e emptyResponse) Code() int {
	return http.StatusNoContent
}

func (e emptyResponse) Headers() map[string]string {
	return map[string]string{}
}

func (e emptyResponse) Empty() bool {
	return true
}
