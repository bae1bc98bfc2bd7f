package gameclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/park285/matka-round-server/pkg/wire"
	"github.com/valyala/fasthttp"
)

// StateClient probes the plain HTTP endpoints of a round server.
type StateClient struct {
	baseURL string
	http    *fasthttp.Client

	defaultTimeout time.Duration
	retryMax       int
}

type Option func(*StateClient)

func WithTimeout(d time.Duration) Option {
	return func(c *StateClient) { c.defaultTimeout = d }
}

func WithRetry(max int) Option {
	return func(c *StateClient) { c.retryMax = max }
}

func NewStateClient(baseURL string, opts ...Option) *StateClient {
	c := &StateClient{
		baseURL:        strings.TrimRight(baseURL, "/"),
		http:           &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 8},
		defaultTimeout: 5 * time.Second,
		retryMax:       3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Health is the /healthz body.
type Health struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
}

// StatusError is returned for non-2xx replies.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("round server status=%d body=%s", e.Code, e.Body)
}

func (c *StateClient) State(ctx context.Context) (*wire.GameStatePayload, error) {
	var st wire.GameStatePayload
	if err := c.getJSON(ctx, "/state", &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Health returns the decoded body even when the server reports 503.
func (c *StateClient) Health(ctx context.Context) (*Health, error) {
	var h Health
	err := c.getJSON(ctx, "/healthz", &h)
	var se *StatusError
	if errors.As(err, &se) && json.Unmarshal([]byte(se.Body), &h) == nil {
		return &h, err
	}
	if err != nil {
		return nil, err
	}
	return &h, nil
}

func (c *StateClient) getJSON(ctx context.Context, path string, out any) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(fasthttp.MethodGet)
	req.SetRequestURI(c.baseURL + path)
	req.Header.Set("Accept", "application/json")

	attempts := c.retryMax
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := c.http.DoDeadline(req, resp, c.computeDeadline(ctx))
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
		} else if status := resp.StatusCode(); status < 200 || status >= 300 {
			lastErr = &StatusError{Code: status, Body: truncate(string(resp.Body()), 512)}
			if !shouldRetryStatus(status) || status == fasthttp.StatusServiceUnavailable {
				return lastErr
			}
		} else {
			if err := json.Unmarshal(resp.Body(), out); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
			return nil
		}
		if attempt == attempts {
			break
		}
		if err := sleepWithContext(ctx, DefaultBackoff().Delay(attempt)); err != nil {
			return lastErr
		}
	}
	return lastErr
}

func (c *StateClient) computeDeadline(ctx context.Context) time.Time {
	clientDL := time.Now().Add(c.defaultTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(clientDL) {
		return dl
	}
	return clientDL
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func shouldRetryStatus(code int) bool {
	switch code {
	case 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
