package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"alertdesk/internal/domain"
	"alertdesk/internal/permanent"

	"github.com/tidwall/gjson"
)

const defaultMaxBodyBytes = 8 << 20

// HTTPRequest is one validated outbound request.
type HTTPRequest struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    string
	Timeout time.Duration
}

// HTTPResponse is the captured response of one request.
type HTTPResponse struct {
	StatusCode int
	Reason     string
	Body       []byte
}

// Success reports 2xx status.
func (r HTTPResponse) Success() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// BuildRequest validates HTTP source settings from rule or stat config.
// Params: HTTP source fields (headers as JSON object text).
// Returns: request or configuration error.
func BuildRequest(src domain.HTTPSource) (HTTPRequest, error) {
	url := strings.TrimSpace(src.URL)
	if url == "" {
		return HTTPRequest{}, permanent.Errorf("api url is not configured")
	}
	method := strings.ToUpper(strings.TrimSpace(src.Method))
	if method == "" {
		method = http.MethodGet
	}
	if method != http.MethodGet && method != http.MethodPost {
		return HTTPRequest{}, permanent.Errorf("unsupported http method %q", src.Method)
	}
	headers, err := parseHeaders(src.Headers)
	if err != nil {
		return HTTPRequest{}, err
	}
	timeout := src.Timeout
	if timeout <= 0 {
		timeout = domain.DefaultAPITimeout
	}
	return HTTPRequest{
		Method:  method,
		URL:     url,
		Headers: headers,
		Body:    src.Body,
		Timeout: timeout,
	}, nil
}

func parseHeaders(raw string) (map[string]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if !gjson.Valid(raw) {
		return nil, permanent.Errorf("api headers are not valid json")
	}
	parsed := gjson.Parse(raw)
	if !parsed.IsObject() {
		return nil, permanent.Errorf("api headers must be a json object")
	}
	headers := make(map[string]string)
	parsed.ForEach(func(key, value gjson.Result) bool {
		headers[key.String()] = value.String()
		return true
	})
	return headers, nil
}

// HTTPClient executes data-source requests with per-request timeout.
type HTTPClient struct {
	client       *http.Client
	maxBodyBytes int64
}

// NewHTTPClient creates fetcher over client (http.DefaultClient when nil).
func NewHTTPClient(client *http.Client) *HTTPClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPClient{client: client, maxBodyBytes: defaultMaxBodyBytes}
}

// Fetch performs one request and reads a bounded body.
// Params: context (cancellation aborts the call) and validated request.
// Returns: captured response or transport error.
func (c *HTTPClient) Fetch(ctx context.Context, req HTTPRequest) (HTTPResponse, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	var body io.Reader
	if req.Method == http.MethodPost {
		body = strings.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return HTTPResponse{}, permanent.Errorf("build request: %w", err)
	}
	for name, value := range req.Headers {
		httpReq.Header.Set(name, value)
	}
	if body != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return HTTPResponse{}, fmt.Errorf("http %s %s: %w", req.Method, req.URL, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodyBytes))
	if err != nil {
		return HTTPResponse{}, fmt.Errorf("read response body: %w", err)
	}
	return HTTPResponse{
		StatusCode: resp.StatusCode,
		Reason:     http.StatusText(resp.StatusCode),
		Body:       payload,
	}, nil
}
