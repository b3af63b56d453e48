// Package engine talks to the workflow engine's REST API. The engine
// has no tenant awareness; isolation is carried entirely by the
// workflow names submitted through this client.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/flowsmith-ai/flowsmith/internal/core"
	"github.com/flowsmith-ai/flowsmith/internal/logging"
)

// maxResponseSize caps engine response bodies.
const maxResponseSize = 1 << 20 // 1MB

// apiKeyHeader is the engine's API key header.
const apiKeyHeader = "X-N8N-API-KEY"

// Client implements core.EngineClient against an n8n-compatible HTTP
// API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *logging.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithAPIKey sets the engine API key.
func WithAPIKey(key string) Option {
	return func(client *Client) {
		client.apiKey = key
	}
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(client *Client) {
		client.logger = logger
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(client *Client) {
		client.httpClient.Timeout = d
	}
}

// NewClient creates an engine client for the given base URL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// workflowPayload is the engine's workflow representation on the wire.
type workflowPayload struct {
	ID          string            `json:"id,omitempty"`
	Name        string            `json:"name"`
	Active      bool              `json:"active,omitempty"`
	Nodes       []nodePayload     `json:"nodes"`
	Connections map[string][]edge `json:"connections"`
	Settings    map[string]string `json:"settings,omitempty"`
}

type nodePayload struct {
	ID         string                 `json:"id"`
	Name       string                 `json:"name"`
	Type       string                 `json:"type"`
	Parameters map[string]interface{} `json:"parameters"`
	Position   [2]int                 `json:"position"`
}

type edge struct {
	Node string `json:"node"`
}

// CreateWorkflow submits a definition to the engine. Engine rejections
// come back classified so the coordinator can decide between healing,
// backoff and giving up.
func (c *Client) CreateWorkflow(ctx context.Context, def *core.WorkflowDefinition) (*core.EngineWorkflow, error) {
	body, err := json.Marshal(toPayload(def))
	if err != nil {
		return nil, fmt.Errorf("encoding workflow: %w", err)
	}

	var created workflowPayload
	if err := c.do(ctx, http.MethodPost, "/api/v1/workflows", bytes.NewReader(body), &created); err != nil {
		return nil, err
	}

	c.logger.Info("workflow created", "engine_id", created.ID, "name", created.Name)
	return &core.EngineWorkflow{
		ID:       created.ID,
		Name:     created.Name,
		Active:   created.Active,
		Endpoint: webhookEndpoint(def),
	}, nil
}

// GetWorkflow fetches a workflow by engine id.
func (c *Client) GetWorkflow(ctx context.Context, id string) (*core.EngineWorkflow, error) {
	var wf workflowPayload
	if err := c.do(ctx, http.MethodGet, "/api/v1/workflows/"+id, nil, &wf); err != nil {
		return nil, err
	}
	return &core.EngineWorkflow{ID: wf.ID, Name: wf.Name, Active: wf.Active}, nil
}

// DeleteWorkflow removes a workflow from the engine.
func (c *Client) DeleteWorkflow(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/workflows/"+id, nil, nil)
}

// Health probes the engine. Used by the doctor command and the HTTP
// health endpoint.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil)
}

// do performs one engine request, decoding a JSON response into out
// when out is non-nil. Non-2xx responses are turned into classified
// domain errors.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set(apiKeyHeader, c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return core.ErrTimeout("engine request cancelled or timed out").WithCause(err)
		}
		return core.ErrTimeout("engine unreachable").WithCause(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("reading engine response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Classify(resp.StatusCode, data)
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decoding engine response: %w", err)
		}
	}
	return nil
}

// toPayload converts the internal definition to the engine's wire
// shape. Connections become the engine's adjacency map keyed by source
// node id.
func toPayload(def *core.WorkflowDefinition) workflowPayload {
	p := workflowPayload{
		Name:        def.Name,
		Nodes:       make([]nodePayload, 0, len(def.Nodes)),
		Connections: make(map[string][]edge, len(def.Connections)),
		Settings:    def.Metadata,
	}
	for _, n := range def.Nodes {
		p.Nodes = append(p.Nodes, nodePayload{
			ID:         n.ID,
			Name:       n.Name,
			Type:       n.Type,
			Parameters: n.Parameters,
			Position:   n.Position,
		})
	}
	for _, conn := range def.Connections {
		p.Connections[conn.From] = append(p.Connections[conn.From], edge{Node: conn.To})
	}
	return p
}

// webhookEndpoint derives the invocation path for webhook-triggered
// workflows. Other trigger types have no external endpoint.
func webhookEndpoint(def *core.WorkflowDefinition) string {
	for _, n := range def.Nodes {
		if n.Type != "webhook" {
			continue
		}
		if path, ok := n.Parameters["path"].(string); ok && path != "" {
			return "/webhook/" + strings.TrimPrefix(path, "/")
		}
		return "/webhook/" + def.Name
	}
	return ""
}
