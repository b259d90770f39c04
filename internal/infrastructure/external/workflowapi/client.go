// Package workflowapi is the HTTP client for the workflow engine. It
// implements the decision evaluation and message sending ports.
package workflowapi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cenkalti/backoff/v4"

	"github.com/garyjia/case-event-handler/internal/application/port"
	"github.com/garyjia/case-event-handler/internal/domain/dmn"
	"github.com/garyjia/case-event-handler/internal/domain/workflow"
)

const (
	serviceAuthorizationHeader = "ServiceAuthorization"
	maxErrorBody               = 4 << 10
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// Config holds workflow API client configuration
type Config struct {
	BaseURL         string
	Timeout         time.Duration
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxElapsedTime  time.Duration
}

// StatusError reports a non-2xx response
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// Client calls the workflow engine's decision and message endpoints
type Client struct {
	cfg        Config
	baseURL    string
	httpClient *http.Client
	tokens     port.ServiceTokenGenerator
	logger     Logger
}

// NewClient creates a workflow API client. tokens may be nil when the engine
// does not require service authorization.
func NewClient(cfg Config, tokens port.ServiceTokenGenerator, logger Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 200 * time.Millisecond
	}
	if cfg.MaxElapsedTime <= 0 {
		cfg.MaxElapsedTime = time.Minute
	}
	return &Client{
		cfg:        cfg,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		tokens:     tokens,
		logger:     logger,
	}
}

// Evaluate runs the decision table tableKey, scoped to tenantID when set.
func (c *Client) Evaluate(ctx context.Context, tableKey, tenantID string, req dmn.EvaluateRequest) ([]dmn.Row, error) {
	path := "/workflow/decision-definition/key/" + url.PathEscape(tableKey)
	if tenantID != "" {
		path += "/tenant-id/" + url.PathEscape(tenantID)
	}
	path += "/evaluate"

	var resp dmn.EvaluateResponse
	if err := c.post(ctx, path, req, &resp); err != nil {
		return nil, fmt.Errorf("%w: table %s: %w", port.ErrRemoteEvaluation, tableKey, err)
	}
	return resp.Rows(), nil
}

// SendMessage correlates or starts a workflow process with msg
func (c *Client) SendMessage(ctx context.Context, msg workflow.SendMessageRequest) error {
	if err := c.post(ctx, "/workflow/message", msg, nil); err != nil {
		return fmt.Errorf("%w: message %s: %w", port.ErrRemoteDispatch, msg.MessageName, err)
	}
	return nil
}

// post sends body as JSON and decodes a 2xx response into out when non-nil.
// Transport errors and 5xx responses are retried; 4xx responses are not.
func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := sonic.ConfigStd.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	attempt := 0
	operation := func() error {
		attempt++
		respBody, err := c.do(ctx, path, payload)
		if err != nil {
			var statusErr *StatusError
			if errors.As(err, &statusErr) && statusErr.StatusCode < http.StatusInternalServerError {
				return backoff.Permanent(err)
			}
			if c.logger != nil {
				c.logger.Error("Workflow API call failed",
					"path", path,
					"attempt", attempt,
					"error", err,
				)
			}
			return err
		}
		if out == nil || len(respBody) == 0 {
			return nil
		}
		if err := sonic.ConfigStd.Unmarshal(respBody, out); err != nil {
			return backoff.Permanent(fmt.Errorf("decode response: %w", err))
		}
		return nil
	}

	return backoff.Retry(operation, c.newBackOff(ctx))
}

func (c *Client) do(ctx context.Context, path string, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	if c.tokens != nil {
		token, err := c.tokens.Generate(ctx)
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("service token: %w", err))
		}
		req.Header.Set(serviceAuthorizationHeader, "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return data, nil
}

func (c *Client) newBackOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.cfg.InitialInterval
	exp.MaxElapsedTime = c.cfg.MaxElapsedTime
	return backoff.WithContext(backoff.WithMaxRetries(exp, c.cfg.MaxRetries), ctx)
}
