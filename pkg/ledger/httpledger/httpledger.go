// Package httpledger talks to a remote ledger node over its JSON HTTP API.
package httpledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/makar21/core-sub000/pkg/ledger"
)

const contentTypeJSON = "application/json"

type Ledger struct {
	baseURL string
	client  *http.Client
}

var _ ledger.Ledger = (*Ledger)(nil)

func New(baseURL string, timeout time.Duration) *Ledger {
	return &Ledger{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func (l *Ledger) Submit(ctx context.Context, tx ledger.Transaction) (ledger.Transaction, error) {
	body, err := json.Marshal(tx)
	if err != nil {
		return ledger.Transaction{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.baseURL+"/transactions", bytes.NewReader(body))
	if err != nil {
		return ledger.Transaction{}, err
	}
	req.Header.Set("Content-Type", contentTypeJSON)

	resp, err := l.client.Do(req)
	if err != nil {
		return ledger.Transaction{}, fmt.Errorf("%w: %w", ledger.ErrConnection, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated, http.StatusAccepted:
		var committed ledger.Transaction
		if err := json.NewDecoder(resp.Body).Decode(&committed); err != nil {
			return ledger.Transaction{}, err
		}

		return committed, nil
	case http.StatusConflict:
		var er errorResponse
		_ = json.NewDecoder(resp.Body).Decode(&er)
		if er.Error == "double_spend" {
			return ledger.Transaction{}, ledger.ErrDoubleSpend
		}

		return ledger.Transaction{}, ledger.ErrDuplicateTransaction
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return ledger.Transaction{}, ledger.ErrInvalidTransaction
	default:
		return ledger.Transaction{}, fmt.Errorf("%w: unexpected status %d", ledger.ErrConnection, resp.StatusCode)
	}
}

func (l *Ledger) IsCommitted(ctx context.Context, txID string) (bool, error) {
	var status struct {
		Status string `json:"status"`
	}
	if err := l.get(ctx, "/transactions/"+txID+"/status", &status); err != nil {
		return false, err
	}

	return status.Status == "committed", nil
}

func (l *Ledger) GetTransactions(ctx context.Context, assetID string) ([]ledger.Transaction, error) {
	var txs []ledger.Transaction
	if err := l.get(ctx, "/assets/"+assetID+"/transactions", &txs); err != nil {
		return nil, err
	}

	return txs, nil
}

func (l *Ledger) Query(ctx context.Context, match map[string]any, opts ledger.QueryOptions) ([]string, error) {
	body, err := json.Marshal(map[string]any{"match": match})
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	if opts.CreatedBy != "" {
		q.Set("created_by", opts.CreatedBy)
	}
	if opts.Skip > 0 {
		q.Set("skip", strconv.Itoa(opts.Skip))
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	endpoint := l.baseURL + "/assets/query"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentTypeJSON)

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ledger.ErrConnection, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: unexpected status %d", ledger.ErrConnection, resp.StatusCode)
	}

	var ids []string
	if err := json.NewDecoder(resp.Body).Decode(&ids); err != nil {
		return nil, err
	}

	return ids, nil
}

func (l *Ledger) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.baseURL+path, nil)
	if err != nil {
		return err
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ledger.ErrConnection, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)

		return fmt.Errorf("%w: unexpected status %d", ledger.ErrConnection, resp.StatusCode)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
