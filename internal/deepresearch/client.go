package deepresearch

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
)

const (
	maxErrorBody = 4 << 10

	pathCreate       = "/api/consulting-research"
	pathStatus       = "/api/consulting-research/status"
	pathPublicStatus = "/api/consulting-research/public-status"
	pathCancel       = "/api/consulting-research/cancel"
	pathFollowUp     = "/api/consulting-research/follow-up"
	pathTogglePublic = "/api/consulting-research/toggle-public"
)

// Client talks to the research API. Every method is a single round trip;
// retrying is the caller's business.
type Client struct {
	baseURL    string
	alertEmail string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithAlertEmail sets the address the API notifies when a task it creates
// finishes.
func WithAlertEmail(email string) Option {
	return func(c *Client) { c.alertEmail = email }
}

// NewClient creates a client for the API rooted at baseURL. Requests carry
// no client timeout; they end with their context.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// FetchStatus reads the status of a task the caller owns. With an empty
// credential the request is sent without an Authorization header.
func (c *Client) FetchStatus(ctx context.Context, taskID, credential string) (Snapshot, error) {
	return c.fetch(ctx, pathStatus, taskID, credential)
}

// FetchPublicStatus reads the status of a shared or example task.
func (c *Client) FetchPublicStatus(ctx context.Context, taskID string) (Snapshot, error) {
	return c.fetch(ctx, pathPublicStatus, taskID, "")
}

func (c *Client) fetch(ctx context.Context, path, taskID, credential string) (Snapshot, error) {
	if taskID == "" {
		return Snapshot{}, errors.New("task id is required")
	}
	q := url.Values{"taskId": {taskID}}
	resp, err := c.do(ctx, http.MethodGet, path+"?"+q.Encode(), credential, nil)
	if err != nil {
		return Snapshot{}, err
	}
	defer resp.Body.Close()

	var w wireSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&w); err != nil {
		return Snapshot{}, fmt.Errorf("%w: decoding status for %s: %v", ErrMalformedResponse, taskID, err)
	}
	snap, err := w.snapshot(taskID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: decoding output for %s: %v", ErrMalformedResponse, taskID, err)
	}
	return snap, nil
}

// Cancel asks the API to stop a task.
func (c *Client) Cancel(ctx context.Context, taskID, credential string) error {
	resp, err := c.do(ctx, http.MethodPost, pathCancel, credential, map[string]any{"taskId": taskID})
	if err != nil {
		return err
	}
	drain(resp)
	return nil
}

// SendFollowUp spawns a task contextualized by the report of taskID and
// returns the new task id.
func (c *Client) SendFollowUp(ctx context.Context, taskID, instruction, credential string) (string, error) {
	body := map[string]any{"taskId": taskID, "instruction": instruction}
	if c.alertEmail != "" {
		body["alertEmail"] = c.alertEmail
	}
	resp, err := c.do(ctx, http.MethodPost, pathFollowUp, credential, body)
	if err != nil {
		return "", err
	}
	return decodeTaskID(resp)
}

// ToggleShare marks a report public or private.
func (c *Client) ToggleShare(ctx context.Context, taskID string, isPublic bool, credential string) error {
	resp, err := c.do(ctx, http.MethodPost, pathTogglePublic, credential, map[string]any{
		"taskId":   taskID,
		"isPublic": isPublic,
	})
	if err != nil {
		return err
	}
	drain(resp)
	return nil
}

// CreateTask launches a new research task and returns its id. The request
// is validated first.
func (c *Client) CreateTask(ctx context.Context, req CreateRequest, credential string) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	if req.AlertEmail == "" {
		req.AlertEmail = c.alertEmail
	}
	resp, err := c.do(ctx, http.MethodPost, pathCreate, credential, req.payload())
	if err != nil {
		return "", err
	}
	return decodeTaskID(resp)
}

func (c *Client) do(ctx context.Context, method, path, credential string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshaling request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if credential != "" {
		req.Header.Set("Authorization", "Bearer "+credential)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}

	msg := errorMessage(resp)
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, &AuthExpiredError{Code: resp.StatusCode, Message: msg}
	}
	return nil, &StatusError{Code: resp.StatusCode, Message: msg}
}

// errorMessage extracts {"error": "..."} or {"message": "..."} from an
// error body, falling back to the raw text. It closes the body.
func errorMessage(resp *http.Response) string {
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &payload) == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	return strings.TrimSpace(string(raw))
}

func decodeTaskID(resp *http.Response) (string, error) {
	defer resp.Body.Close()
	var out struct {
		DeepresearchID string `json:"deepresearch_id"`
		TaskID         string `json:"task_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	id := out.DeepresearchID
	if id == "" {
		id = out.TaskID
	}
	if id == "" {
		return "", fmt.Errorf("%w: response carries no task id", ErrMalformedResponse)
	}
	return id, nil
}

func drain(resp *http.Response) {
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	resp.Body.Close()
}
