// Package httprequest provides the outbound HTTP call node. It also backs
// the named integration node types (webhook, shopify, woocommerce, sheets,
// n8n, typebot, flowise), which are HTTP calls with a preconfigured target.
package httprequest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/convoflow/convoflow/pkg/models"
	"github.com/convoflow/convoflow/pkg/protocol"
	"github.com/convoflow/convoflow/pkg/template"
)

const defaultTimeoutSeconds = 30

var (
	// ErrURLMissing is returned when the request URL is absent from configuration.
	ErrURLMissing = errors.New("missing or invalid 'url' in configuration")
	// ErrServerError is returned when the upstream responds with a 5xx status.
	ErrServerError = errors.New("server error during HTTP request")
)

// HTTPNode performs an HTTP request and optionally captures the response
// into a session variable.
type HTTPNode struct {
	id     string
	config Config
}

// Config defines the configuration for an HTTP request node.
type Config struct {
	URL      string
	Method   string
	Headers  map[string]string
	Body     string
	Timeout  time.Duration
	Variable string
	Scope    models.VariableScope
}

// NewHTTPNode creates an HTTP request node from configuration.
func NewHTTPNode(id string, config map[string]any) (*HTTPNode, error) {
	url, ok := config["url"].(string)
	if !ok || url == "" {
		return nil, ErrURLMissing
	}

	cfg := Config{
		URL:     url,
		Method:  http.MethodGet,
		Headers: make(map[string]string),
		Timeout: defaultTimeoutSeconds * time.Second,
		Scope:   models.ScopeSession,
	}

	if method, ok := config["method"].(string); ok && method != "" {
		cfg.Method = strings.ToUpper(method)
	}

	if headersConfig, ok := config["headers"].(map[string]any); ok {
		for k, v := range headersConfig {
			if strVal, ok := v.(string); ok {
				cfg.Headers[k] = strVal
			}
		}
	}

	if body, ok := config["body"].(string); ok {
		cfg.Body = body
	}

	if timeout, ok := config["timeout_seconds"].(float64); ok && timeout > 0 {
		cfg.Timeout = time.Duration(timeout) * time.Second
	}

	if variable, ok := config["variable"].(string); ok {
		cfg.Variable = variable
	}

	if scope, ok := config["scope"].(string); ok && scope != "" {
		cfg.Scope = models.VariableScope(scope)
	}

	return &HTTPNode{id: id, config: cfg}, nil
}

// Execute performs the request and advances on the first normal edge. The
// response is recorded in the node output and, when configured, stored as
// a session variable for later nodes to template against.
func (n *HTTPNode) Execute(ctx context.Context, ec protocol.ExecutionContext) (protocol.Outcome, error) {
	req, err := n.buildRequest(ctx, &ec)
	if err != nil {
		return protocol.Outcome{}, err
	}

	client := &http.Client{Timeout: n.config.Timeout}

	resp, err := client.Do(req)
	if err != nil {
		return protocol.Outcome{}, fmt.Errorf("%w: http request: %w", protocol.ErrIntegration, err)
	}

	result, err := n.processResponse(ctx, resp, &ec)
	if err != nil {
		return protocol.Outcome{}, err
	}

	if n.config.Variable != "" {
		err = ec.Variables.Set(ctx, n.config.Scope, n.config.Variable, result, models.VariableOptions{})
		if err != nil {
			return protocol.Outcome{}, fmt.Errorf("failed to store response variable %q: %w", n.config.Variable, err)
		}
	}

	return protocol.Advance("").WithOutput(result), nil
}

func (n *HTTPNode) buildRequest(ctx context.Context, ec *protocol.ExecutionContext) (*http.Request, error) {
	url, err := template.RenderString(ctx, n.config.URL, ec)
	if err != nil {
		return nil, fmt.Errorf("failed to render url template: %w", err)
	}

	bodyReader, err := n.buildRequestBody(ctx, ec)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, n.config.Method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create http request: %w", err)
	}

	for key, value := range n.config.Headers {
		headerValue, err := template.RenderString(ctx, value, ec)
		if err != nil {
			return nil, fmt.Errorf("failed to render header %q template: %w", key, err)
		}

		req.Header.Set(key, headerValue)
	}

	if req.Header.Get("Content-Type") == "" && n.config.Body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	return req, nil
}

func (n *HTTPNode) buildRequestBody(ctx context.Context, ec *protocol.ExecutionContext) (io.Reader, error) {
	if n.config.Body == "" {
		return nil, nil
	}

	body, err := template.RenderWithContext(ctx, n.config.Body, ec)
	if err != nil {
		return nil, fmt.Errorf("failed to render body template: %w", err)
	}

	var bodyBytes []byte
	if str, ok := body.(string); ok {
		bodyBytes = []byte(str)
	} else {
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}
	}

	return strings.NewReader(string(bodyBytes)), nil
}

func (n *HTTPNode) processResponse(ctx context.Context, resp *http.Response, ec *protocol.ExecutionContext) (map[string]any, error) {
	defer func() {
		_ = resp.Body.Close()
	}()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("%w: %w: status %d", protocol.ErrIntegration, ErrServerError, resp.StatusCode)
	}

	var body any

	err = json.Unmarshal(bodyBytes, &body)
	if err != nil {
		body = string(bodyBytes)

		ec.Logger.WarnContext(ctx, "Failed to parse response as JSON, returning as string", "error", err)
	}

	return map[string]any{
		"status_code": resp.StatusCode,
		"body":        body,
	}, nil
}
