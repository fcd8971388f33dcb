package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrTransport wraps network-level failures talking to the backend.
var ErrTransport = errors.New("detection backend unreachable")

// StatusError is returned when the backend answers with a non-2xx status.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("detection backend returned HTTP %d", e.Code)
}

const maxSnapshotBytes = 64 << 10

// Client fetches snapshots from the detection backend.
type Client struct {
	url     string
	timeout time.Duration
	http    *http.Client
}

// NewClient returns a client for baseURL+path. A zero timeout means the
// caller's context alone bounds each request.
func NewClient(baseURL, path string, timeout time.Duration) *Client {
	return &Client{
		url:     strings.TrimRight(baseURL, "/") + "/" + strings.TrimLeft(path, "/"),
		timeout: timeout,
		http:    &http.Client{},
	}
}

// URL returns the snapshot endpoint.
func (c *Client) URL() string {
	return c.url
}

// Fetch issues a single request for the latest snapshot.
func (c *Client) Fetch(ctx context.Context) (Snapshot, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return Snapshot{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.http.Do(req)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxSnapshotBytes))
		return Snapshot{}, &StatusError{Code: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSnapshotBytes))
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: read body: %v", ErrTransport, err)
	}
	return DecodeSnapshot(body)
}
