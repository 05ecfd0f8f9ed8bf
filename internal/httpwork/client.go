// Package httpwork provides the HTTP work executor used by the taskpoll
// runner binary.
//
// A [Client] submits one poll cycle's accumulated payloads to a configured
// target URL. Payloads travel as a JSON array in the request body for
// body-carrying methods, or as repeated "arg" query parameters for GET and
// HEAD. The result is a compact [Summary] suitable as a poller work result.
package httpwork

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const maxResponseBodySize = 1 << 20 // 1MB

// connection pooling limits to prevent resource exhaustion under fast
// polling intervals
const (
	defaultMaxIdleConns        = 100
	defaultMaxIdleConnsPerHost = 10
	defaultMaxConnsPerHost     = 10
	defaultIdleConnTimeout     = 60 * time.Second
)

// Summary is the work result of one submitted cycle.
type Summary struct {
	// StatusCode is the HTTP status code returned by the target.
	StatusCode int

	// Latency is the total time taken for the request.
	Latency time.Duration

	// BodySize is the number of response body bytes read (capped at 1MB).
	BodySize int
}

// Client is an HTTP client wrapper optimized for repeated submissions to a
// single target.
//
// Timeouts are applied per request via context, not as a global client
// timeout, so the caller's work timeout and the request timeout stay
// independent. Response bodies are capped at 1MB.
type Client struct {
	httpClient *http.Client
}

// NewClient creates a new submission [Client] with pooled connections.
func NewClient() *Client {
	return &Client{
		httpClient: &http.Client{
			// no default timeout - per-request timeouts via context
			Transport: &http.Transport{
				MaxIdleConns:        defaultMaxIdleConns,
				MaxIdleConnsPerHost: defaultMaxIdleConnsPerHost,
				MaxConnsPerHost:     defaultMaxConnsPerHost,
				IdleConnTimeout:     defaultIdleConnTimeout,
			},
		},
	}
}

// Submit delivers one cycle's payloads to the target and returns a
// [Summary], or an error if the request could not be completed or the
// target answered with a 4xx/5xx status.
//
// If method is empty, GET is used. For GET and HEAD the payloads are
// attached as repeated "arg" query parameters; for all other methods they
// are sent as a JSON array body (omitted entirely when the cycle had no
// payloads).
func (c *Client) Submit(ctx context.Context, method, target string, headers map[string]string, timeout time.Duration, payloads []string) (Summary, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()

	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	requestURL := target

	switch method {
	case http.MethodGet, http.MethodHead:
		if len(payloads) > 0 {
			u, err := url.Parse(target)
			if err != nil {
				return Summary{}, fmt.Errorf("invalid target url: %w", err)
			}
			q := u.Query()
			for _, p := range payloads {
				q.Add("arg", p)
			}
			u.RawQuery = q.Encode()
			requestURL = u.String()
		}
	default:
		if len(payloads) > 0 {
			encoded, err := json.Marshal(payloads)
			if err != nil {
				return Summary{}, fmt.Errorf("failed to encode payloads: %w", err)
			}
			body = bytes.NewReader(encoded)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, requestURL, body)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Summary{}, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	// read (and cap) the body so the connection can be reused
	n, err := io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return Summary{}, fmt.Errorf("failed to read response body: %w", err)
	}

	summary := Summary{
		StatusCode: resp.StatusCode,
		Latency:    time.Since(start),
		BodySize:   int(n),
	}

	if resp.StatusCode >= 400 {
		return summary, fmt.Errorf("target returned status %d", resp.StatusCode)
	}
	return summary, nil
}

// Close closes all idle connections in the client's connection pool.
//
// Safe to call multiple times and on a nil client. After Close, the client
// remains usable; new connections are established as needed.
func (c *Client) Close() {
	if c == nil || c.httpClient == nil {
		return
	}
	if transport, ok := c.httpClient.Transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}
}
