// Package backendcompat checks that a detection backend speaks the contract
// the console depends on. Point BACKEND_BASE_URL at a live backend to run
// against it; otherwise the in-process simulator is used.
package backendcompat

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/dj-oyu/safety-monitor/internal/backendsim"
)

const defaultRequestTimeout = 2 * time.Second

type backendClient struct {
	baseURL string
	client  *http.Client
	live    bool
}

func newBackendClient(t *testing.T) *backendClient {
	t.Helper()
	if baseURL := os.Getenv("BACKEND_BASE_URL"); baseURL != "" {
		client := &http.Client{Timeout: defaultRequestTimeout}
		if !isReachable(client, baseURL+"/detection_info") {
			t.Skipf("backend not reachable at %s", baseURL)
		}
		return &backendClient{
			baseURL: strings.TrimRight(baseURL, "/"),
			client:  client,
			live:    true,
		}
	}

	cfg := backendsim.DefaultConfig()
	cfg.FrameInterval = 20 * time.Millisecond
	sim := backendsim.New(cfg)
	sim.Begin()
	srv := httptest.NewServer(sim.Handler())
	t.Cleanup(srv.Close)

	return &backendClient{
		baseURL: srv.URL,
		client:  srv.Client(),
	}
}

func isReachable(client *http.Client, url string) bool {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 500
}

func (c *backendClient) get(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	resp := c.getResponse(t, path)
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	_ = resp.Body.Close()
	return resp, body
}

func (c *backendClient) getResponse(t *testing.T, path string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

// readPrefix reads until want appears in the body or limit bytes are seen.
func readPrefix(t *testing.T, body io.Reader, want string, limit int) []byte {
	t.Helper()
	buf := make([]byte, 0, limit)
	tmp := make([]byte, 4096)
	for len(buf) < limit {
		n, err := body.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
			if strings.Contains(string(buf), want) {
				return buf
			}
		}
		if err != nil {
			t.Fatalf("stream ended before %q: %v", want, err)
		}
	}
	t.Fatalf("no %q in first %d bytes", want, limit)
	return nil
}
