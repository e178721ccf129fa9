// Package httputil holds the HTTP plumbing shared by discovery and the host
// API: an injectable client and JSON/PNG response helpers.
package httputil

import (
	"bytes"
	"io"
	"net/http"
	"sync"
	"time"
)

// HTTPClient is the part of *http.Client used by source discovery.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// StandardClient wraps *http.Client to implement HTTPClient.
type StandardClient struct {
	*http.Client
}

// NewStandardClient returns a StandardClient with the given request timeout.
// A zero timeout leaves requests bounded only by their context.
func NewStandardClient(timeout time.Duration) *StandardClient {
	return &StandardClient{Client: &http.Client{Timeout: timeout}}
}

// Do sends an HTTP request.
func (c *StandardClient) Do(req *http.Request) (*http.Response, error) {
	return c.Client.Do(req)
}

// MockHTTPClient returns canned responses in the order they were queued and
// records every request it receives.
type MockHTTPClient struct {
	mu          sync.Mutex
	requests    []*http.Request
	responses   []*MockResponse
	responseIdx int
}

// MockResponse is one canned reply. A non-nil Error is returned instead of a
// response.
type MockResponse struct {
	StatusCode int
	Body       string
	Error      error
}

// NewMockHTTPClient creates an empty mock.
func NewMockHTTPClient() *MockHTTPClient {
	return &MockHTTPClient{}
}

// AddResponse queues a response with the given status and body.
func (m *MockHTTPClient) AddResponse(statusCode int, body string) *MockHTTPClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, &MockResponse{StatusCode: statusCode, Body: body})
	return m
}

// AddErrorResponse queues a transport error.
func (m *MockHTTPClient) AddErrorResponse(err error) *MockHTTPClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, &MockResponse{Error: err})
	return m
}

// Do records req and returns the next queued response. Once the queue is
// exhausted the last response is repeated; with nothing queued it returns an
// empty 200.
func (m *MockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = append(m.requests, req)

	var resp *MockResponse
	switch {
	case m.responseIdx < len(m.responses):
		resp = m.responses[m.responseIdx]
		m.responseIdx++
	case len(m.responses) > 0:
		resp = m.responses[len(m.responses)-1]
	default:
		resp = &MockResponse{StatusCode: http.StatusOK}
	}

	if resp.Error != nil {
		return nil, resp.Error
	}
	return &http.Response{
		StatusCode: resp.StatusCode,
		Status:     http.StatusText(resp.StatusCode),
		Body:       io.NopCloser(bytes.NewBufferString(resp.Body)),
		Header:     make(http.Header),
		Request:    req,
	}, nil
}

// Requests returns a copy of the recorded requests.
func (m *MockHTTPClient) Requests() []*http.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*http.Request(nil), m.requests...)
}

// RequestCount returns the number of recorded requests.
func (m *MockHTTPClient) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}
