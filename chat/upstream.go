package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Request is the body of POST /api/chat, forwarded to the medical backend.
type Request struct {
	Question  string          `json:"question"`
	ModelType string          `json:"model_type"`
	UserInfo  json.RawMessage `json:"user_info,omitempty"`
}

// Upstream opens a newline-delimited JSON answer stream for a question.
// The caller closes the returned reader.
type Upstream interface {
	Open(ctx context.Context, req Request) (io.ReadCloser, error)
}

// UpstreamError is a non-2xx reply from the backend. The relay passes the
// status and body through to the client.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream returned %d: %s", e.StatusCode, e.Body)
}

// HTTPUpstream posts questions to the external medical backend.
type HTTPUpstream struct {
	URL    string
	Client *http.Client
}

// NewHTTPUpstream bounds each request's headers by timeout. The body is
// streamed and only limited by the request context.
func NewHTTPUpstream(url string, timeout time.Duration) *HTTPUpstream {
	return &HTTPUpstream{
		URL: url,
		Client: &http.Client{Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			ResponseHeaderTimeout: timeout,
		}},
	}
}

func (u *HTTPUpstream) Open(ctx context.Context, req Request) (io.ReadCloser, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := u.Client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("call upstream: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	return resp.Body, nil
}
