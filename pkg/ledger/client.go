package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	defaultMaxAttempts   = 10
	defaultRetryInterval = time.Second
	confirmPollInterval  = time.Second
)

// Client wraps a Ledger driver with bounded retry on transport errors and
// idempotent duplicate handling on submit.
type Client struct {
	driver        Ledger
	logger        *slog.Logger
	maxAttempts   uint
	retryInterval time.Duration
}

type ClientOption func(*Client)

func WithMaxAttempts(n uint) ClientOption {
	return func(c *Client) { c.maxAttempts = n }
}

func WithRetryInterval(d time.Duration) ClientOption {
	return func(c *Client) { c.retryInterval = d }
}

func NewClient(driver Ledger, logger *slog.Logger, opts ...ClientOption) *Client {
	c := &Client{
		driver:        driver,
		logger:        logger,
		maxAttempts:   defaultMaxAttempts,
		retryInterval: defaultRetryInterval,
	}
	for _, opt := range opts {
		opt(c)
	}

	return c
}

func retry[T any](ctx context.Context, c *Client, op func() (T, error)) (T, error) {
	wrapped := func() (T, error) {
		v, err := op()
		if err != nil && !errors.Is(err, ErrConnection) {
			return v, backoff.Permanent(err)
		}

		return v, err
	}

	return backoff.Retry(ctx, wrapped,
		backoff.WithBackOff(backoff.NewConstantBackOff(c.retryInterval)),
		backoff.WithMaxTries(c.maxAttempts),
	)
}

// Submit sends a signed transaction. A duplicate or double-spend response
// means an identical transaction already made it in (ids are content
// derived), so it is returned as the committed result rather than an error.
func (c *Client) Submit(ctx context.Context, tx Transaction) (Transaction, error) {
	committed, err := retry(ctx, c, func() (Transaction, error) {
		return c.driver.Submit(ctx, tx)
	})
	switch {
	case err == nil:
		return committed, nil
	case errors.Is(err, ErrDuplicateTransaction), errors.Is(err, ErrDoubleSpend):
		c.logger.Debug("transaction already committed",
			slog.String("tx_id", tx.ID),
			slog.Any("reason", err),
		)

		return tx, nil
	default:
		return Transaction{}, fmt.Errorf("submitting transaction %s: %w", tx.ID, err)
	}
}

func (c *Client) IsCommitted(ctx context.Context, txID string) (bool, error) {
	return retry(ctx, c, func() (bool, error) {
		return c.driver.IsCommitted(ctx, txID)
	})
}

func (c *Client) GetTransactions(ctx context.Context, assetID string) ([]Transaction, error) {
	return retry(ctx, c, func() ([]Transaction, error) {
		return c.driver.GetTransactions(ctx, assetID)
	})
}

func (c *Client) Query(ctx context.Context, match map[string]any, opts QueryOptions) ([]string, error) {
	return retry(ctx, c, func() ([]string, error) {
		return c.driver.Query(ctx, match, opts)
	})
}

// WaitCommitted blocks until every listed transaction is in a committed
// block, polling at one second intervals.
func (c *Client) WaitCommitted(ctx context.Context, txIDs ...string) error {
	for _, txID := range txIDs {
		for {
			committed, err := c.IsCommitted(ctx, txID)
			if err != nil {
				return fmt.Errorf("confirming transaction %s: %w", txID, err)
			}
			if committed {
				break
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(confirmPollInterval):
			}
		}
	}

	return nil
}
