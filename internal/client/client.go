// Package client is a Go client of the public widget API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ashureev/surveysync/internal/domain"
)

const defaultTimeout = 10 * time.Second

// NetworkError reports a failed API call. Status is zero when the request
// never got a response.
type NetworkError struct {
	Code            string `json:"code"`
	Message         string `json:"message"`
	Status          int    `json:"status"`
	URL             string `json:"url"`
	ResponseMessage string `json:"responseMessage,omitempty"`
}

func (e *NetworkError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("%s: %s", e.URL, e.Message)
	}
	return fmt.Sprintf("%s: %s (status %d)", e.URL, e.Message, e.Status)
}

// Client calls the API of one environment.
type Client struct {
	apiHost       string
	environmentID string
	http          *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New creates a client for environmentID on apiHost.
func New(apiHost, environmentID string, opts ...Option) *Client {
	c := &Client{
		apiHost:       strings.TrimRight(apiHost, "/"),
		environmentID: environmentID,
		http:          &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// EnvironmentID returns the environment the client talks to.
func (c *Client) EnvironmentID() string {
	return c.environmentID
}

// SyncInput identifies the visitor on a sync call.
type SyncInput struct {
	PersonID  string `json:"personId,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	JSVersion string `json:"jsVersion,omitempty"`
}

// Sync reconciles person and session and returns the state snapshot.
func (c *Client) Sync(ctx context.Context, in SyncInput) (*domain.State, error) {
	var state domain.State
	if err := c.do(ctx, http.MethodPost, c.path("in-app", "sync"), in, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// SetAttribute sets key=value on the person and returns the new state.
func (c *Client) SetAttribute(ctx context.Context, personID, key, value string) (*domain.State, error) {
	body := map[string]string{"key": key, "value": value}
	var state domain.State
	if err := c.do(ctx, http.MethodPost, c.path("people", personID, "set-attribute"), body, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// SetUserID identifies the person and returns the new state.
func (c *Client) SetUserID(ctx context.Context, personID, sessionID, userID string) (*domain.State, error) {
	body := map[string]string{"userId": userID, "sessionId": sessionID}
	var state domain.State
	if err := c.do(ctx, http.MethodPost, c.path("people", personID, "user-id"), body, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// TrackAction records an action in the session.
func (c *Client) TrackAction(ctx context.Context, sessionID, name string, properties map[string]string) error {
	body := map[string]any{"sessionId": sessionID, "name": name, "properties": properties}
	return c.do(ctx, http.MethodPost, c.path("actions"), body, nil)
}

// CreateDisplay records that surveyID was shown to personID.
func (c *Client) CreateDisplay(ctx context.Context, surveyID, personID string) (*domain.Display, error) {
	body := map[string]string{"surveyId": surveyID}
	if personID != "" {
		body["personId"] = personID
	}
	var display domain.Display
	if err := c.do(ctx, http.MethodPost, c.path("displays"), body, &display); err != nil {
		return nil, err
	}
	return &display, nil
}

// UpdateDisplay links a display to its response.
func (c *Client) UpdateDisplay(ctx context.Context, displayID, responseID string) (*domain.Display, error) {
	var display domain.Display
	if err := c.do(ctx, http.MethodPut, c.path("displays", displayID), map[string]string{"responseId": responseID}, &display); err != nil {
		return nil, err
	}
	return &display, nil
}

// CreateResponseInput is the body of a response creation.
type CreateResponseInput struct {
	SurveyID    string               `json:"surveyId"`
	DisplayID   string               `json:"displayId,omitempty"`
	PersonID    string               `json:"personId,omitempty"`
	Data        domain.ResponseData  `json:"data"`
	Finished    bool                 `json:"finished"`
	Meta        *domain.ResponseMeta `json:"meta,omitempty"`
	SingleUseID string               `json:"singleUseId,omitempty"`
}

// CreateResponse stores the first answers of a response.
func (c *Client) CreateResponse(ctx context.Context, in CreateResponseInput) (*domain.Response, error) {
	var response domain.Response
	if err := c.do(ctx, http.MethodPost, c.path("responses"), in, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

// UpdateResponse merges data into a stored response.
func (c *Client) UpdateResponse(ctx context.Context, responseID string, data domain.ResponseData, finished bool) (*domain.Response, error) {
	body := map[string]any{"data": data, "finished": finished}
	var response domain.Response
	if err := c.do(ctx, http.MethodPut, c.path("responses", responseID), body, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

func (c *Client) path(parts ...string) string {
	escaped := make([]string, 0, len(parts)+1)
	escaped = append(escaped, url.PathEscape(c.environmentID))
	for _, p := range parts {
		escaped = append(escaped, url.PathEscape(p))
	}
	return "/api/v1/client/" + strings.Join(escaped, "/")
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	target := c.apiHost + path

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return &NetworkError{Code: "network_error", Message: err.Error(), URL: target}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &NetworkError{Code: "network_error", Message: err.Error(), URL: target}
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return &NetworkError{Code: "network_error", Message: err.Error(), Status: resp.StatusCode, URL: target}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		_ = json.Unmarshal(payload, &apiErr)
		return &NetworkError{
			Code:            "network_error",
			Message:         fmt.Sprintf("%s %s failed: %s", method, path, strings.TrimSpace(string(payload))),
			Status:          resp.StatusCode,
			URL:             target,
			ResponseMessage: apiErr.Message,
		}
	}

	if out == nil || len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return &NetworkError{Code: "network_error", Message: "decode response: " + err.Error(), Status: resp.StatusCode, URL: target}
	}
	return nil
}
