package capability

import (
	"context"
	"encoding/json"
	"time"
)

// httpLLMRequest is the wire shape sent to the completion endpoint. The
// schema is passed through verbatim so the provider can enforce it
// server-side (structured-output mode), matching how cursor/client.go hands
// the Background Agents API an opaque prompt payload.
type httpLLMRequest struct {
	Prompt string          `json:"prompt"`
	Schema json.RawMessage `json:"schema"`
}

type httpLLMResponse struct {
	Output json.RawMessage `json:"output"`
	Error  string          `json:"error,omitempty"`
}

// HTTPLLMClient implements LLMCompletion over a JSON/HTTP provider.
type HTTPLLMClient struct {
	transport *httpTransport
}

// NewHTTPLLMClient builds an LLMCompletion backed by an HTTP endpoint.
func NewHTTPLLMClient(baseURL, apiKey string, timeout time.Duration, logger Logger) *HTTPLLMClient {
	return &HTTPLLMClient{transport: newHTTPTransport(baseURL, apiKey, timeout, logger)}
}

func (c *HTTPLLMClient) Complete(ctx context.Context, prompt string, schema []byte, deadline time.Time) ([]byte, error) {
	if until := time.Until(deadline); until <= 0 {
		return nil, &LLMError{Kind: LLMTimeout, Err: context.DeadlineExceeded}
	} else {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, until)
		defer cancel()
	}

	resp, err := c.transport.do(ctx, "POST", "/v1/completions", httpLLMRequest{
		Prompt: prompt,
		Schema: schema,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, &LLMError{Kind: LLMTimeout, Err: err}
		}
		return nil, &LLMError{Kind: LLMOther, Err: err}
	}

	if resp.StatusCode != 200 {
		return nil, &LLMError{Kind: LLMOther, Err: statusError(resp)}
	}

	var parsed httpLLMResponse
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		return nil, &LLMError{Kind: LLMInvalidJSON, Err: err}
	}
	if parsed.Error != "" {
		return nil, &LLMError{Kind: LLMOther, Err: errString(parsed.Error)}
	}
	if len(parsed.Output) == 0 {
		return nil, &LLMError{Kind: LLMInvalidJSON, Err: errString("empty output field")}
	}
	return parsed.Output, nil
}
