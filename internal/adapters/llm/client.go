package llm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/flowsmith-ai/flowsmith/internal/config"
	"github.com/flowsmith-ai/flowsmith/internal/core"
	"github.com/flowsmith-ai/flowsmith/internal/logging"
)

// maxResponseSize caps completion response bodies.
const maxResponseSize = 10 << 20 // 10MB

// Client implements core.Completer over a registered provider.
type Client struct {
	provider   Provider
	baseURL    string
	apiKey     string
	model      string
	timeout    time.Duration
	httpClient *http.Client
	logger     *logging.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) ClientOption {
	return func(client *Client) {
		client.logger = logger
	}
}

// NewClient creates a completion client from configuration. Unknown
// provider names fail fast with the registered alternatives listed.
func NewClient(cfg config.CompleterConfig, opts ...ClientOption) (*Client, error) {
	provider := Lookup(cfg.Provider)
	if provider == nil {
		return nil, fmt.Errorf("unknown completer provider %q (registered: %v)", cfg.Provider, Providers())
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 45 * time.Second
	}

	c := &Client{
		provider:   provider,
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		timeout:    timeout,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Complete sends one completion request. The request's own timeout, when
// set, bounds this call tighter than the client default.
func (c *Client) Complete(ctx context.Context, req core.CompletionRequest) (*core.Completion, error) {
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("at least one message is required")
	}

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	body, err := c.provider.BuildRequestBody(c.model, req)
	if err != nil {
		return nil, fmt.Errorf("building completion request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.provider.BuildURL(c.baseURL), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building completion request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.provider.SetHeaders(httpReq, c.apiKey)

	started := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, core.ErrTimeout("completion timed out").WithCause(err)
		}
		return nil, fmt.Errorf("completion request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("reading completion response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, core.ErrRateLimited("completion provider is rate limiting")
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, core.ErrAuth("completion provider rejected credentials")
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, fmt.Errorf("completion provider returned %d: %s", resp.StatusCode, truncate(string(data), 200))
	}

	completion, err := c.provider.ParseResponse(data)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("completion finished",
		"provider", c.provider.Name(),
		"model", c.model,
		"tokens", completion.TokensUsed,
		"elapsed", time.Since(started).String())
	return completion, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
