package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/greenlight-sh/greenlight/pkg/types"
)

// Client talks to a greenlight server over its REST API
type Client struct {
	base string
	http *retryablehttp.Client
}

// New creates a client for the server at baseURL (e.g. "http://localhost:8080")
func New(baseURL string) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.HTTPClient.Timeout = 30 * time.Second
	rc.Logger = nil

	return &Client{base: baseURL, http: rc}
}

// APIError is a non-2xx response from the server
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf := &bytes.Buffer{}
		if err := json.NewEncoder(buf).Encode(body); err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = buf
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			Error string `json:"error"`
		}
		message := resp.Status
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
			message = apiErr.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: message}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// RegisterService registers a new service definition
func (c *Client) RegisterService(ctx context.Context, service *types.Service) (*types.Service, error) {
	var out types.Service
	if err := c.do(ctx, http.MethodPost, "/api/v1/services", service, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetService fetches a service by ID or name
func (c *Client) GetService(ctx context.Context, idOrName string) (*types.Service, error) {
	var out types.Service
	if err := c.do(ctx, http.MethodGet, "/api/v1/services/"+url.PathEscape(idOrName), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListServices lists all registered services
func (c *Client) ListServices(ctx context.Context) ([]*types.Service, error) {
	var out []*types.Service
	if err := c.do(ctx, http.MethodGet, "/api/v1/services", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateRelease starts a release of image for the given service
func (c *Client) CreateRelease(ctx context.Context, serviceIDOrName, image string) (*types.Release, error) {
	var out types.Release
	path := fmt.Sprintf("/api/v1/services/%s/releases", url.PathEscape(serviceIDOrName))
	if err := c.do(ctx, http.MethodPost, path, map[string]string{"image": image}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetRelease fetches a release by ID
func (c *Client) GetRelease(ctx context.Context, id string) (*types.Release, error) {
	var out types.Release
	if err := c.do(ctx, http.MethodGet, "/api/v1/releases/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListReleases lists all releases, newest first
func (c *Client) ListReleases(ctx context.Context) ([]*types.Release, error) {
	var out []*types.Release
	if err := c.do(ctx, http.MethodGet, "/api/v1/releases", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListServiceReleases lists a service's releases, newest first
func (c *Client) ListServiceReleases(ctx context.Context, serviceIDOrName string) ([]*types.Release, error) {
	var out []*types.Release
	path := fmt.Sprintf("/api/v1/services/%s/releases", url.PathEscape(serviceIDOrName))
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Approve approves a release waiting at the approval gate
func (c *Client) Approve(ctx context.Context, releaseID, approver, comment string) (*types.Release, error) {
	return c.decide(ctx, releaseID, "approve", approver, comment)
}

// Reject rejects a release waiting at the approval gate
func (c *Client) Reject(ctx context.Context, releaseID, approver, comment string) (*types.Release, error) {
	return c.decide(ctx, releaseID, "reject", approver, comment)
}

func (c *Client) decide(ctx context.Context, releaseID, verb, approver, comment string) (*types.Release, error) {
	var out types.Release
	path := fmt.Sprintf("/api/v1/releases/%s/%s", url.PathEscape(releaseID), verb)
	body := map[string]string{"approver": approver, "comment": comment}
	if err := c.do(ctx, http.MethodPost, path, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Rollback creates a pre-approved release back to the service's
// previous image
func (c *Client) Rollback(ctx context.Context, serviceIDOrName, operator string) (*types.Release, error) {
	var out types.Release
	path := fmt.Sprintf("/api/v1/services/%s/rollback", url.PathEscape(serviceIDOrName))
	if err := c.do(ctx, http.MethodPost, path, map[string]string{"operator": operator}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ReleaseEvents fetches a release's audit trail, oldest first
func (c *Client) ReleaseEvents(ctx context.Context, releaseID string) ([]*types.Event, error) {
	var out []*types.Event
	path := fmt.Sprintf("/api/v1/releases/%s/events", url.PathEscape(releaseID))
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}
