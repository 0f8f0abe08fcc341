package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
)

// Config represents the configuration for the agent service client
type Config struct {
	// BaseURL is the base URL of the agent service
	BaseURL string
	// APIKey is sent as a bearer token when set
	APIKey string
	// HTTPClient is an optional custom HTTP client
	HTTPClient *http.Client
}

// HTTPWorker invokes agents hosted by a remote agent service.
type HTTPWorker struct {
	config *Config
	client *http.Client
}

var _ Worker = (*HTTPWorker)(nil)

// NewHTTPWorker creates a new agent service client with the given configuration
func NewHTTPWorker(config *Config) (*HTTPWorker, error) {
	if config == nil || config.BaseURL == "" {
		return nil, errors.New("agent service base URL is required")
	}

	client := config.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	return &HTTPWorker{
		config: config,
		client: client,
	}, nil
}

// APIError defines a standardized error response from the agent service
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code,omitempty"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("[%s] %s (Status: %d)", e.Code, e.Message, e.StatusCode)
	}
	return fmt.Sprintf("%s (Status: %d)", e.Message, e.StatusCode)
}

type invokeResponse struct {
	Result
	Error string `json:"error,omitempty"`
}

// Invoke posts req to {BaseURL}/agents/{id}/invoke. The deadline comes from ctx.
func (w *HTTPWorker) Invoke(ctx context.Context, req Request) (*Result, error) {
	if req.AgentID == "" {
		return nil, errors.New("agent_id is required")
	}

	endpoint := fmt.Sprintf("%s/agents/%s/invoke", w.config.BaseURL, url.PathEscape(req.AgentID))

	reqBody, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if w.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+w.config.APIKey)
	}

	httpResp, err := w.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		var apiErr APIError
		if err := json.NewDecoder(httpResp.Body).Decode(&apiErr); err != nil || apiErr.Message == "" {
			return nil, &APIError{
				StatusCode: httpResp.StatusCode,
				Message:    fmt.Sprintf("request failed with status code %d", httpResp.StatusCode),
			}
		}
		apiErr.StatusCode = httpResp.StatusCode
		return nil, &apiErr
	}

	var resp invokeResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if resp.Error != "" {
		return nil, errors.New(resp.Error)
	}
	if resp.Content == "" {
		return nil, errors.New("agent returned empty content")
	}

	return &resp.Result, nil
}
