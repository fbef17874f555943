package health

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// maxBody bounds how much of a /health answer is read
const maxBody = 4096

// HTTPChecker probes the peer controller's /health endpoint. It proves more
// than reachability: the peer's controller process must be up as well.
type HTTPChecker struct {
	// URL is the full URL to check (e.g., "http://10.0.2.10:9321/health")
	URL string

	// StatusMin and StatusMax bound the accepted status codes (200-299)
	StatusMin int
	StatusMax int

	// ExpectNode, when set, must match the "node" field of the answer so a
	// different service on the peer's address is not mistaken for it
	ExpectNode string

	Client *http.Client
}

// NewHTTPChecker creates a new HTTP checker
func NewHTTPChecker(url string) *HTTPChecker {
	return &HTTPChecker{
		URL:       url,
		StatusMin: http.StatusOK,
		StatusMax: 299,
		Client:    &http.Client{Timeout: 2 * time.Second},
	}
}

// Check performs the HTTP probe
func (h *HTTPChecker) Check(ctx context.Context) Result {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.URL, nil)
	if err != nil {
		return failed(start, "failed to create request: %v", err)
	}

	resp, err := h.Client.Do(req)
	if err != nil {
		return failed(start, "request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < h.StatusMin || resp.StatusCode > h.StatusMax {
		return failed(start, "HTTP %d (expected %d-%d)", resp.StatusCode, h.StatusMin, h.StatusMax)
	}

	if h.ExpectNode != "" {
		var body struct {
			Node string `json:"node"`
		}
		if err := json.NewDecoder(io.LimitReader(resp.Body, maxBody)).Decode(&body); err != nil {
			return failed(start, "unreadable health answer: %v", err)
		}
		if body.Node != h.ExpectNode {
			return failed(start, "answered by node %q, expected %q", body.Node, h.ExpectNode)
		}
	}

	return Result{
		Alive:     true,
		Message:   fmt.Sprintf("HTTP %d", resp.StatusCode),
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

func (h *HTTPChecker) Type() CheckType {
	return CheckTypeHTTP
}

// WithStatusRange sets the accepted status code range
func (h *HTTPChecker) WithStatusRange(min, max int) *HTTPChecker {
	h.StatusMin = min
	h.StatusMax = max
	return h
}

// WithExpectedNode requires the answer to come from node
func (h *HTTPChecker) WithExpectedNode(node string) *HTTPChecker {
	h.ExpectNode = node
	return h
}

// WithTimeout sets the HTTP client timeout
func (h *HTTPChecker) WithTimeout(timeout time.Duration) *HTTPChecker {
	h.Client.Timeout = timeout
	return h
}
