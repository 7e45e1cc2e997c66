package capability

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Logger is the minimal structured-logging interface capability adapters
// depend on, so they can be constructed without pulling in zap directly.
type Logger interface {
	Debugw(msg string, kv ...any)
}

// httpTransport performs a single HTTP round trip per call. This is the
// teacher's cursor/client.go doRequest, generalized to any provider rather
// than hardcoded to the Cursor Background Agents API, but with its retry
// loop stripped out: retry and backoff belong to the Stage Runner, which
// owns the one budget (timeout, retry count, backoff sequence) a stage is
// allowed to spend against a capability. A second retry loop here would
// spend that budget twice without the Stage Runner ever finding out.
type httpTransport struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     Logger
}

func newHTTPTransport(baseURL, apiKey string, timeout time.Duration, logger Logger) *httpTransport {
	return &httpTransport{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

func (t *httpTransport) logDebug(msg string, kv ...any) {
	if t.logger != nil {
		t.logger.Debugw(msg, kv...)
	}
}

// providerResponse is the outcome of one HTTP round trip, carrying enough
// information for the caller to classify it into a provider-specific error
// kind.
type providerResponse struct {
	StatusCode int
	Body       []byte
}

// do performs a single request attempt and returns the response -- even a
// 429 or 5xx one -- so the caller can classify it. It returns a non-nil
// error only when no response was obtained at all (a dial/transport
// failure or a body read failure). Whether and when to retry is entirely
// the caller's decision.
func (t *httpTransport) do(ctx context.Context, method, path string, body any) (*providerResponse, error) {
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
	}

	fullURL := t.baseURL + path

	var reqBody io.Reader
	if bodyBytes != nil {
		reqBody = bytes.NewReader(bodyBytes)
	}
	req, err := http.NewRequestWithContext(ctx, method, fullURL, reqBody)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+t.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		t.logDebug("provider transport error", "url", fullURL, "error", err.Error())
		return nil, fmt.Errorf("transport error: %w", err)
	}

	respBody, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		t.logDebug("provider retryable status", "url", fullURL, "status", resp.StatusCode)
	}

	return &providerResponse{StatusCode: resp.StatusCode, Body: respBody}, nil
}
