// Package inference talks to the independently deployed model services over HTTP:
// the leaf classifier, the treatment retrieval engine, an OpenAI-compatible LLM
// endpoint and the vendor directory. Transient failures are retried with backoff.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aretw0/sasya/internal/logging"
)

// maxResponseSize bounds a response body.
const maxResponseSize = 16 << 20

// Option configures a client.
type Option func(*client)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *client) {
		cl.http = c
	}
}

// WithRetryConfig overrides DefaultRetryConfig.
func WithRetryConfig(cfg RetryConfig) Option {
	return func(cl *client) {
		cl.retry = cfg
	}
}

// WithAPIKey sends key as a bearer token.
func WithAPIKey(key string) Option {
	return func(cl *client) {
		cl.apiKey = key
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(cl *client) {
		cl.logger = logger
	}
}

// client is the HTTP plumbing shared by the service clients.
type client struct {
	service string
	baseURL string
	apiKey  string
	http    *http.Client
	retry   RetryConfig
	logger  *slog.Logger
}

func newClient(service, baseURL string, opts []Option) (*client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("%s: base url is required", service)
	}
	c := &client{
		service: service,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 60 * time.Second},
		retry:   DefaultRetryConfig(),
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// send issues one request and returns the body of a 2xx response.
func (c *client) send(ctx context.Context, method, path string, in any, accept string) ([]byte, error) {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return nil, NewFatalError(fmt.Errorf("encode request: %w", err))
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, NewFatalError(fmt.Errorf("create request: %w", err))
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, NewTransientError(fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, NewTransientError(fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, classifyStatus(resp.StatusCode, data)
	}
	return data, nil
}

// call sends with retries and hands the successful body to decode. Decode errors are fatal.
func (c *client) call(ctx context.Context, method, path string, in any, accept string, decode func([]byte) error) error {
	start := time.Now()
	err := c.retry.do(ctx, func(ctx context.Context) error {
		data, err := c.send(ctx, method, path, in, accept)
		if err != nil {
			c.logger.Debug("Service call failed", "service", c.service, "path", path, "err", err)
			return err
		}
		if err := decode(data); err != nil {
			return NewFatalError(fmt.Errorf("decode response: %w", err))
		}
		return nil
	})
	if err != nil {
		c.logger.Warn("Service unavailable", "service", c.service, "path", path, "duration", time.Since(start), "err", err)
		return unavailable(c.service, err)
	}
	return nil
}
