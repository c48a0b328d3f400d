package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	httputil "medslots/pkg/http"
)

// Client wraps http.Client with test-friendly methods. Requests carry the
// identity headers of the session set with As.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	UserID     string
	SessionID  string
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// As returns a copy of the client acting for one user session.
func (c *Client) As(userID, sessionID string) *Client {
	cp := *c
	cp.UserID = userID
	cp.SessionID = sessionID
	return &cp
}

// Response wraps HTTP response with the decoded envelope.
type Response struct {
	*http.Response
	Body     []byte
	Envelope Envelope
}

type Envelope struct {
	IsSuccess bool            `json:"isSuccess"`
	Code      int             `json:"code"`
	Message   string          `json:"message"`
	Data      json.RawMessage `json:"data"`
}

// DecodeData decodes the envelope's data field into target.
func (r *Response) DecodeData(t *testing.T, target any) {
	t.Helper()
	if err := json.Unmarshal(r.Envelope.Data, target); err != nil {
		t.Fatalf("failed to decode response data: %v. Body: %s", err, string(r.Body))
	}
}

func (c *Client) GET(t *testing.T, path string) *Response {
	t.Helper()
	return c.request(t, http.MethodGet, path, nil, nil)
}

func (c *Client) POST(t *testing.T, path string, body any) *Response {
	t.Helper()
	return c.request(t, http.MethodPost, path, body, nil)
}

func (c *Client) DELETE(t *testing.T, path string) *Response {
	t.Helper()
	return c.request(t, http.MethodDelete, path, nil, nil)
}

func (c *Client) POSTWithHeaders(t *testing.T, path string, body any, headers map[string]string) *Response {
	t.Helper()
	return c.request(t, http.MethodPost, path, body, headers)
}

func (c *Client) request(t *testing.T, method, path string, body any, headers map[string]string) *Response {
	t.Helper()

	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(context.Background(), method, c.BaseURL+path, reqBody)
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.UserID != "" {
		req.Header.Set(httputil.HeaderUserID, c.UserID)
	}
	if c.SessionID != "" {
		req.Header.Set(httputil.HeaderSessionID, c.SessionID)
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}

	out := &Response{Response: resp, Body: respBody}
	if len(respBody) > 0 {
		if err := json.Unmarshal(respBody, &out.Envelope); err != nil {
			t.Fatalf("response is not an envelope: %v. Body: %s", err, string(respBody))
		}
	}
	return out
}

// WaitForHealthy polls the readiness endpoint until the service and its
// dependencies answer.
func (c *Client) WaitForHealthy(t *testing.T, maxWait time.Duration) {
	t.Helper()

	deadline := time.Now().Add(maxWait)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for time.Now().Before(deadline) {
		resp, err := c.HTTPClient.Get(c.BaseURL + "/ready")
		if err == nil && resp.StatusCode == http.StatusOK {
			resp.Body.Close()
			return
		}
		if resp != nil {
			resp.Body.Close()
		}
		<-ticker.C
	}

	t.Fatalf("service did not become ready within %v", maxWait)
}

// AssertStatusCode fails the test if status code doesn't match
func AssertStatusCode(t *testing.T, resp *Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Fatalf("expected status %d, got %d. Body: %s", expected, resp.StatusCode, string(resp.Body))
	}
	if resp.Envelope.Code != expected {
		t.Fatalf("envelope code %d does not match status %d", resp.Envelope.Code, expected)
	}
}
