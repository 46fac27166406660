package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/studiofit/logsync/internal/worklog"
)

// APIError is returned for any non-2xx response.
//
// Retry policy deliberately does not branch on the status code: 4xx and 5xx
// both consume a retry attempt (see the engine's backoff handling).
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("remote service returned %d: %s", e.StatusCode, e.Body)
}

// HTTPClient implements Client over the service's JSON HTTP API.
type HTTPClient struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewHTTPClient creates a client for the given base URL. The token, if
// non-empty, is sent as a bearer credential on every request.
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// CreateWorkoutLog implements Client.CreateWorkoutLog.
func (c *HTTPClient) CreateWorkoutLog(ctx context.Context, log worklog.RemoteWorkoutLog) (*CreateResult, error) {
	var result CreateResult
	if err := c.do(ctx, http.MethodPost, "/v1/workout-logs", log, &result); err != nil {
		return nil, err
	}
	if result.ServerID == "" {
		return nil, fmt.Errorf("create response missing server id")
	}
	return &result, nil
}

// UpdateWorkoutLog implements Client.UpdateWorkoutLog.
func (c *HTTPClient) UpdateWorkoutLog(ctx context.Context, serverID string, log worklog.RemoteWorkoutLog) error {
	path := "/v1/workout-logs/" + url.PathEscape(serverID)
	return c.do(ctx, http.MethodPut, path, log, nil)
}

// DeleteWorkoutLog implements Client.DeleteWorkoutLog.
func (c *HTTPClient) DeleteWorkoutLog(ctx context.Context, serverID string) error {
	path := "/v1/workout-logs/" + url.PathEscape(serverID)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// FetchWorkoutLogs implements Client.FetchWorkoutLogs.
func (c *HTTPClient) FetchWorkoutLogs(ctx context.Context, userID string, limit int) ([]worklog.RemoteWorkoutLog, error) {
	path := "/v1/users/" + url.PathEscape(userID) + "/workout-logs"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}

	var logs []worklog.RemoteWorkoutLog
	if err := c.do(ctx, http.MethodGet, path, nil, &logs); err != nil {
		return nil, err
	}
	return logs, nil
}

// FetchAggregateStats implements Client.FetchAggregateStats.
func (c *HTTPClient) FetchAggregateStats(ctx context.Context, userID string) (json.RawMessage, error) {
	path := "/v1/users/" + url.PathEscape(userID) + "/stats"

	var stats json.RawMessage
	if err := c.do(ctx, http.MethodGet, path, nil, &stats); err != nil {
		return nil, err
	}
	return stats, nil
}

// Submit implements Client.Submit.
func (c *HTTPClient) Submit(ctx context.Context, operation, entityType string, payload json.RawMessage) error {
	path := "/v1/sync/" + url.PathEscape(entityType) + "/" + url.PathEscape(operation)
	return c.do(ctx, http.MethodPost, path, payload, nil)
}

// do executes one JSON request/response round trip. A non-2xx status maps
// to *APIError with the response body attached for diagnostics.
func (c *HTTPClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(respBody)),
		}
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}
