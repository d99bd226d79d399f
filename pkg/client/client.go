package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cuemby/tinymistd/pkg/api"
	"github.com/cuemby/tinymistd/pkg/types"
)

// DefaultTimeout bounds every call except RequestPreview
const DefaultTimeout = 10 * time.Second

// PreviewTimeout bounds RequestPreview, which may wait for a server to boot
const PreviewTimeout = 30 * time.Second

// APIError is a non-2xx reply from the daemon
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("tinymistd returned %d: %s", e.StatusCode, e.Message)
}

// Client talks to a running daemon's admin API
type Client struct {
	base string
	http *http.Client
}

// NewClient creates a client for the daemon listening on addr
// (host:port or a full http URL)
func NewClient(addr string) *Client {
	base := addr
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &Client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{},
	}
}

// Binary returns the daemon's binary resolution and acquisition state
func (c *Client) Binary() (types.BinaryInfo, error) {
	ctx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
	defer cancel()

	var info types.BinaryInfo
	err := c.do(ctx, http.MethodGet, "/v1/binary", nil, &info)
	return info, err
}

// OpenDocument reports that path was opened
func (c *Client) OpenDocument(path string) (*api.DocumentResponse, error) {
	ctx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
	defer cancel()

	var resp api.DocumentResponse
	if err := c.do(ctx, http.MethodPost, "/v1/documents/open", pathQuery(path), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CloseDocument reports that path was closed
func (c *Client) CloseDocument(path string) (*api.CloseResponse, error) {
	ctx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
	defer cancel()

	var resp api.CloseResponse
	if err := c.do(ctx, http.MethodPost, "/v1/documents/close", pathQuery(path), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RequestPreview starts or reuses the preview server for path
func (c *Client) RequestPreview(path string) (*api.PreviewResponse, error) {
	ctx, cancel := context.WithTimeout(context.Background(), PreviewTimeout)
	defer cancel()

	var resp api.PreviewResponse
	if err := c.do(ctx, http.MethodPost, "/v1/previews", pathQuery(path), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListPreviews lists running preview servers
func (c *Client) ListPreviews() ([]api.PreviewResponse, error) {
	ctx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
	defer cancel()

	var resp []api.PreviewResponse
	err := c.do(ctx, http.MethodGet, "/v1/previews", nil, &resp)
	return resp, err
}

func pathQuery(path string) url.Values {
	return url.Values{"path": []string{path}}
}

func (c *Client) do(ctx context.Context, method, route string, query url.Values, out any) error {
	target := c.base + route
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach tinymistd: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		var body api.ErrorResponse
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if err := json.Unmarshal(data, &body); err != nil || body.Error == "" {
			body.Error = strings.TrimSpace(string(data))
		}
		return &APIError{StatusCode: resp.StatusCode, Message: body.Error}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// IsUnavailable reports whether err means the daemon is shutting down
func IsUnavailable(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusServiceUnavailable
}
