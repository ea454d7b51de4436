package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/FilipeAphrody/arcade-gateway/internal/domain"
)

// headerAuthenticatedUser carries the caller's identity to the catalog
// service so it can stamp ownership on created resources.
const headerAuthenticatedUser = "X-Authenticated-User"

// Response is the upstream reply passed back to the gateway's own handler.
type Response struct {
	StatusCode int
	Body       []byte
	IsJSON     bool
}

// Client proxies requests to the game catalog service.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a catalog client. The timeout bounds each attempt so
// a stalled upstream cannot hold gateway connections open.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Forward relays a request to the catalog service and returns the raw
// response. GET requests that fail with a transient error are retried
// once; mutations never are, to avoid duplicate writes.
func (c *Client) Forward(ctx context.Context, method, path string, query url.Values, body []byte, userEmail string) (*Response, error) {
	resp, err := c.do(ctx, method, path, query, body, userEmail)
	if err != nil && method == http.MethodGet && isTransient(err) {
		select {
		case <-ctx.Done():
			return nil, domain.ErrUpstreamUnavailable
		case <-time.After(200 * time.Millisecond):
		}
		resp, err = c.do(ctx, method, path, query, body, userEmail)
	}
	if err != nil {
		if isTransient(err) {
			return nil, domain.ErrUpstreamUnavailable
		}
		return nil, err
	}
	return resp, nil
}

// GetResource fetches a single catalog resource as a decoded JSON object.
// Used for ownership checks before a mutation is forwarded.
func (c *Client) GetResource(ctx context.Context, resourceType, resourceID string) (map[string]interface{}, error) {
	path := fmt.Sprintf("/%ss/%s", resourceType, resourceID)
	resp, err := c.Forward(ctx, http.MethodGet, path, nil, nil, "")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, domain.ErrResourceNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, domain.ErrUpstreamUnavailable
	}
	var payload map[string]interface{}
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode upstream resource: %w", err)
	}
	return payload, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body []byte, userEmail string) (*Response, error) {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build upstream request: %w", err)
	}
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	if userEmail != "" {
		req.Header.Set(headerAuthenticatedUser, userEmail)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read upstream response: %w", err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Body:       data,
		IsJSON:     strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json"),
	}, nil
}

// isTransient reports whether the error looks like a connectivity or
// timeout failure rather than a request-shaping bug.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	return false
}
