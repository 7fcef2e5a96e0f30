package sdk

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorded struct {
	method string
	path   string
	body   []byte
}

func newServer(t *testing.T, status int, response any) (*httptest.Server, *recorded) {
	t.Helper()

	rec := &recorded{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.method = r.Method
		rec.path = r.URL.Path
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		rec.body = body

		w.WriteHeader(status)
		if response != nil {
			require.NoError(t, json.NewEncoder(w).Encode(response))
		}
	}))
	t.Cleanup(srv.Close)

	return srv, rec
}

func TestAddTask(t *testing.T) {
	srv, rec := newServer(t, http.StatusCreated, Task{ID: "t1", State: "estimate_is_required"})
	s := NewSDK(Config{ProducerURL: srv.URL})

	task, err := s.AddTask(TaskSpec{
		DatasetID:        "ds1",
		TrainModelID:     "m1",
		BatchSize:        32,
		Epochs:           4,
		WorkersRequested: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, "t1", task.ID)
	assert.Equal(t, "estimate_is_required", task.State)

	assert.Equal(t, http.MethodPost, rec.method)
	assert.Equal(t, "/tasks", rec.path)
	var sent TaskSpec
	require.NoError(t, json.Unmarshal(rec.body, &sent))
	assert.Equal(t, "ds1", sent.DatasetID)
	assert.Equal(t, 2, sent.WorkersRequested)
}

func TestGetTask(t *testing.T) {
	srv, rec := newServer(t, http.StatusOK, Task{ID: "t1", Progress: 50})
	s := NewSDK(Config{ProducerURL: srv.URL})

	task, err := s.GetTask("t1")
	require.NoError(t, err)
	assert.Equal(t, 50.0, task.Progress)
	assert.Equal(t, "/tasks/t1", rec.path)
	assert.Equal(t, http.MethodGet, rec.method)
}

func TestListTasks(t *testing.T) {
	srv, rec := newServer(t, http.StatusOK, TaskPage{Tasks: []Task{{ID: "t1"}, {ID: "t2"}}, Total: 2})
	s := NewSDK(Config{ProducerURL: srv.URL})

	page, err := s.ListTasks()
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
	require.Len(t, page.Tasks, 2)
	assert.Equal(t, "/tasks", rec.path)
}

func TestTaskStatus(t *testing.T) {
	srv, rec := newServer(t, http.StatusOK, TaskStatus{Task: Task{ID: "t1"}, Balance: 90})
	s := NewSDK(Config{ProducerURL: srv.URL})

	status, err := s.TaskStatus("t1")
	require.NoError(t, err)
	assert.Equal(t, uint64(90), status.Balance)
	assert.Equal(t, "/tasks/t1/status", rec.path)
}

func TestTaskActions(t *testing.T) {
	cases := []struct {
		desc     string
		call     func(s SDK) error
		wantPath string
		wantBody string
	}{
		{
			desc:     "cancel",
			call:     func(s SDK) error { return s.CancelTask("t1") },
			wantPath: "/tasks/t1/cancel",
		},
		{
			desc:     "stop",
			call:     func(s SDK) error { return s.StopTask("t1") },
			wantPath: "/tasks/t1/stop",
		},
		{
			desc:     "issue job",
			call:     func(s SDK) error { return s.IssueJob("t1", 100) },
			wantPath: "/tasks/t1/issue",
			wantBody: `{"amount":100}`,
		},
		{
			desc:     "deposit",
			call:     func(s SDK) error { return s.Deposit("t1", 25) },
			wantPath: "/tasks/t1/deposit",
			wantBody: `{"amount":25}`,
		},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			srv, rec := newServer(t, http.StatusNoContent, nil)
			s := NewSDK(Config{ProducerURL: srv.URL})

			require.NoError(t, tc.call(s))
			assert.Equal(t, http.MethodPost, rec.method)
			assert.Equal(t, tc.wantPath, rec.path)
			if tc.wantBody != "" {
				assert.JSONEq(t, tc.wantBody, string(rec.body))
			}
		})
	}
}

func TestCreateDataset(t *testing.T) {
	srv, rec := newServer(t, http.StatusCreated, Dataset{ID: "ds1", TrainDirHash: "memdir123"})
	s := NewSDK(Config{ProducerURL: srv.URL})

	ds, err := s.CreateDataset("digits", "/data/train", "/data/test")
	require.NoError(t, err)
	assert.Equal(t, "ds1", ds.ID)
	assert.Equal(t, "/datasets", rec.path)
	assert.JSONEq(t, `{"name":"digits","train_dir":"/data/train","test_dir":"/data/test"}`, string(rec.body))
}

func TestCreateModel(t *testing.T) {
	srv, rec := newServer(t, http.StatusCreated, Model{ID: "m1", CodeHash: "mem456"})
	s := NewSDK(Config{ProducerURL: srv.URL})

	m, err := s.CreateModel("cnn", "/code/model.py")
	require.NoError(t, err)
	assert.Equal(t, "mem456", m.CodeHash)
	assert.Equal(t, "/models", rec.path)
}

func TestUnexpectedStatus(t *testing.T) {
	srv, _ := newServer(t, http.StatusInternalServerError, nil)
	s := NewSDK(Config{ProducerURL: srv.URL})

	_, err := s.GetTask("t1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}
