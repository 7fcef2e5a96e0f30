package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPGateway calls a contract gateway service that relays to the chain.
type HTTPGateway struct {
	baseURL string
	client  *http.Client
}

var _ Bridge = (*HTTPGateway)(nil)

func NewHTTPGateway(baseURL string, timeout time.Duration) *HTTPGateway {
	return &HTTPGateway{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (g *HTTPGateway) IssueJob(ctx context.Context, taskID string, value uint64) error {
	return g.post(ctx, "/jobs", map[string]any{"job_id": JobID(taskID), "value": value}, nil)
}

func (g *HTTPGateway) Deposit(ctx context.Context, taskID string, value uint64) error {
	return g.post(ctx, "/jobs/"+JobID(taskID)+"/deposit", map[string]any{"value": value}, nil)
}

func (g *HTTPGateway) GetJobBalance(ctx context.Context, taskID string) (uint64, error) {
	var out struct {
		Balance uint64 `json:"balance"`
	}
	if err := g.get(ctx, "/jobs/"+JobID(taskID)+"/balance", &out); err != nil {
		return 0, err
	}

	return out.Balance, nil
}

func (g *HTTPGateway) Distribute(ctx context.Context, taskID string, shares []Share) error {
	return g.post(ctx, "/jobs/"+JobID(taskID)+"/distribute", map[string]any{"shares": shares}, nil)
}

func (g *HTTPGateway) FinishJob(ctx context.Context, taskID string) error {
	return g.post(ctx, "/jobs/"+JobID(taskID)+"/finish", nil, nil)
}

func (g *HTTPGateway) DoesJobExist(ctx context.Context, taskID string) (bool, error) {
	var out struct {
		Exists bool `json:"exists"`
	}
	if err := g.get(ctx, "/jobs/"+JobID(taskID), &out); err != nil {
		return false, err
	}

	return out.Exists, nil
}

func (g *HTTPGateway) post(ctx context.Context, path string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	return g.do(req, out)
}

func (g *HTTPGateway) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+path, nil)
	if err != nil {
		return err
	}

	return g.do(req, out)
}

func (g *HTTPGateway) do(req *http.Request, out any) error {
	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("payment gateway: unexpected status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
