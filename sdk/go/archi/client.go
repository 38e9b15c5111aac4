// Package archi is a Go client for the Archi workflow REST API.
package archi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. Synchronous submissions block until the workflow ends,
// so it is longer than a typical API call.
const DefaultHTTPTimeout = 5 * time.Minute

// Client wraps the HTTP interactions with the Archi REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// RetryPolicy controls how often a failing step is retried.
type RetryPolicy struct {
	MaxRetries        int     `json:"max_retries"`
	InitialDelay      float64 `json:"initial_delay"`
	BackoffMultiplier float64 `json:"backoff_multiplier"`
}

// Step is a single action in a workflow. Timeout is in seconds.
type Step struct {
	ID           string         `json:"id,omitempty"`
	ActionType   string         `json:"action_type"`
	Parameters   map[string]any `json:"parameters,omitempty"`
	Dependencies []string       `json:"dependencies,omitempty"`
	Timeout      float64        `json:"timeout,omitempty"`
	Critical     *bool          `json:"critical,omitempty"`
	RetryPolicy  *RetryPolicy   `json:"retry_policy,omitempty"`
}

// Workflow is the submission payload.
type Workflow struct {
	ID          string       `json:"id,omitempty"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Steps       []Step       `json:"steps"`
	RetryPolicy *RetryPolicy `json:"retry_policy,omitempty"`
	CreatedBy   string       `json:"created_by,omitempty"`
}

// StepResult is the outcome of one step.
type StepResult struct {
	StepID        string         `json:"step_id"`
	StepIndex     int            `json:"step_index"`
	ActionType    string         `json:"action_type"`
	Success       bool           `json:"success"`
	Attempt       int            `json:"attempt"`
	ExecutionTime float64        `json:"execution_time"`
	Error         string         `json:"error,omitempty"`
	Payload       map[string]any `json:"payload,omitempty"`
}

// WorkflowResult is the terminal summary of a run.
type WorkflowResult struct {
	WorkflowID      string       `json:"workflow_id"`
	WorkflowName    string       `json:"workflow_name"`
	Status          string       `json:"status"`
	Success         bool         `json:"success"`
	SuccessRate     float64      `json:"success_rate"`
	TotalSteps      int          `json:"total_steps"`
	SuccessfulSteps int          `json:"successful_steps"`
	ExecutionTime   float64      `json:"execution_time"`
	StepResults     []StepResult `json:"step_results"`
	RetryAttempts   int          `json:"retry_attempts"`
	StartTime       time.Time    `json:"start_time"`
	EndTime         time.Time    `json:"end_time"`
}

// Status is the payload of a status query. Progress fields are set while the
// workflow is running, Success and ExecutionTime once it has finished.
type Status struct {
	WorkflowID    string     `json:"workflow_id"`
	Status        string     `json:"status"`
	StartTime     *time.Time `json:"start_time,omitempty"`
	CurrentStep   *int       `json:"current_step,omitempty"`
	TotalSteps    *int       `json:"total_steps,omitempty"`
	Success       *bool      `json:"success,omitempty"`
	ExecutionTime *float64   `json:"execution_time,omitempty"`
}

// Finished reports whether the workflow reached a terminal status.
func (s Status) Finished() bool {
	switch s.Status {
	case "completed", "failed", "cancelled":
		return true
	}
	return false
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"error"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("archi api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("archi api error (%d): %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// NewClient instantiates a client for the Archi API. When httpClient is nil,
// a default client with DefaultHTTPTimeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// SubmitWorkflow runs a workflow synchronously and returns its result.
func (c *Client) SubmitWorkflow(ctx context.Context, wf Workflow) (WorkflowResult, error) {
	var result WorkflowResult
	if err := c.post(ctx, "/api/v1/workflows", nil, wf, &result); err != nil {
		return WorkflowResult{}, err
	}
	return result, nil
}

// SubmitWorkflowAsync starts a workflow in the background and returns its id.
func (c *Client) SubmitWorkflowAsync(ctx context.Context, wf Workflow) (string, error) {
	var accepted struct {
		WorkflowID string `json:"workflow_id"`
	}
	if err := c.post(ctx, "/api/v1/workflows", url.Values{"async": {"true"}}, wf, &accepted); err != nil {
		return "", err
	}
	return accepted.WorkflowID, nil
}

// GetStatus fetches the status of a workflow.
func (c *Client) GetStatus(ctx context.Context, workflowID string) (Status, error) {
	var status Status
	if err := c.get(ctx, "/api/v1/workflows/"+url.PathEscape(workflowID), &status); err != nil {
		return Status{}, err
	}
	return status, nil
}

// GetResult fetches the stored result of a finished workflow.
func (c *Client) GetResult(ctx context.Context, workflowID string) (WorkflowResult, error) {
	var result WorkflowResult
	if err := c.get(ctx, "/api/v1/workflows/"+url.PathEscape(workflowID)+"/result", &result); err != nil {
		return WorkflowResult{}, err
	}
	return result, nil
}

// CancelWorkflow cancels a running workflow. It returns false when the
// workflow is not running.
func (c *Client) CancelWorkflow(ctx context.Context, workflowID string) (bool, error) {
	var out struct {
		Cancelled bool `json:"cancelled"`
	}
	err := c.post(ctx, "/api/v1/workflows/"+url.PathEscape(workflowID)+"/cancel", nil, nil, &out)
	if IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return out.Cancelled, nil
}

// WaitForResult polls the status until the workflow finishes, then returns
// its result.
func (c *Client) WaitForResult(ctx context.Context, workflowID string, interval time.Duration) (WorkflowResult, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		status, err := c.GetStatus(ctx, workflowID)
		if err != nil {
			return WorkflowResult{}, err
		}
		if status.Finished() {
			return c.GetResult(ctx, workflowID)
		}
		select {
		case <-ctx.Done():
			return WorkflowResult{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) post(ctx context.Context, endpoint string, query url.Values, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, query, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, query url.Values, body io.Reader) (*http.Request, error) {
	u, err := url.Parse(strings.TrimRight(c.baseURL.String(), "/") + endpoint)
	if err != nil {
		return nil, fmt.Errorf("build url: %w", err)
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, &apiErr)
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return &apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
