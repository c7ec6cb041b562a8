package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"go.uber.org/zap"
)

// StatusError is a non-2xx reply from the /info endpoint.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Body)
}

// Client posts read-only queries to /info. Transport faults, 429 and 5xx
// replies are retried with backoff; everything else is returned as is.
type Client struct {
	baseURL  string
	http     *http.Client
	log      *zap.Logger
	pipeline failsafe.Executor[any]
}

func New(baseURL string, timeout time.Duration, maxRetries int, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	retry := retrypolicy.NewBuilder[any]().
		HandleIf(func(_ any, err error) bool {
			return retryable(err)
		}).
		WithBackoff(200*time.Millisecond, 3*time.Second).
		WithMaxRetries(maxRetries).
		OnRetry(func(e failsafe.ExecutionEvent[any]) {
			log.Warn("retrying info request", zap.Int("attempt", e.Attempts()), zap.Error(e.LastError()))
		}).
		Build()
	return &Client{
		baseURL:  baseURL,
		http:     &http.Client{Timeout: timeout},
		log:      log,
		pipeline: failsafe.With[any](retry),
	}
}

type InfoRequest struct {
	Type string `json:"type"`
	User string `json:"user,omitempty"`
}

func (c *Client) Info(ctx context.Context, req any) (map[string]any, error) {
	resp, err := c.InfoAny(ctx, req)
	if err != nil {
		return nil, err
	}
	data, ok := resp.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("info response is %T, want object", resp)
	}
	return data, nil
}

func (c *Client) InfoAny(ctx context.Context, req any) (any, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	return c.pipeline.WithContext(ctx).GetWithExecution(func(_ failsafe.Execution[any]) (any, error) {
		return c.post(ctx, "/info", payload)
	})
}

func (c *Client) post(ctx context.Context, path string, payload []byte) (any, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	var data any
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, err
	}
	return data, nil
}

func retryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var status *StatusError
	if errors.As(err, &status) {
		return status.StatusCode == http.StatusTooManyRequests || status.StatusCode >= 500
	}
	var syntax *json.SyntaxError
	return !errors.As(err, &syntax)
}
