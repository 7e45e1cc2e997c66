package capability

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"time"
)

type httpModerationTextRequest struct {
	Text string `json:"text"`
}

type httpModerationImageRequest struct {
	ImageBase64 string `json:"image_base64"`
}

type httpModerationResponse struct {
	Safe   bool   `json:"safe"`
	Reason string `json:"reason,omitempty"`
}

// HTTPModerationClient implements ContentModeration over a JSON/HTTP
// provider. Stages B and G call this with zero configured retries, so its
// timeout is set short and no retry or backoff is attempted; the transport
// makes a single round trip per call.
type HTTPModerationClient struct {
	transport *httpTransport
}

// NewHTTPModerationClient builds a ContentModeration backed by an HTTP
// endpoint.
func NewHTTPModerationClient(baseURL, apiKey string, timeout time.Duration, logger Logger) *HTTPModerationClient {
	return &HTTPModerationClient{transport: newHTTPTransport(baseURL, apiKey, timeout, logger)}
}

func (c *HTTPModerationClient) ClassifyText(ctx context.Context, text string) (ModerationVerdict, error) {
	resp, err := c.transport.do(ctx, "POST", "/v1/moderate/text", httpModerationTextRequest{Text: text})
	if err != nil {
		return ModerationVerdict{}, err
	}
	return parseModerationResponse(resp)
}

func (c *HTTPModerationClient) ClassifyImage(ctx context.Context, imageBytes []byte) (ModerationVerdict, error) {
	resp, err := c.transport.do(ctx, "POST", "/v1/moderate/image", httpModerationImageRequest{
		ImageBase64: base64.StdEncoding.EncodeToString(imageBytes),
	})
	if err != nil {
		return ModerationVerdict{}, err
	}
	return parseModerationResponse(resp)
}

func parseModerationResponse(resp *providerResponse) (ModerationVerdict, error) {
	if resp.StatusCode != 200 {
		return ModerationVerdict{}, statusError(resp)
	}
	var parsed httpModerationResponse
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		return ModerationVerdict{}, err
	}
	return ModerationVerdict{Safe: parsed.Safe, Reason: parsed.Reason}, nil
}
