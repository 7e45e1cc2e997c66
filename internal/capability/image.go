package capability

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"
)

type httpImageRequest struct {
	Prompt         string `json:"prompt"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
	StyleToken     string `json:"style_token"`
}

type httpImageResponse struct {
	ImageBase64 string `json:"image_base64"`
}

// HTTPImageClient implements ImageGeneration over a JSON/HTTP provider.
type HTTPImageClient struct {
	transport *httpTransport
}

// NewHTTPImageClient builds an ImageGeneration backed by an HTTP endpoint.
func NewHTTPImageClient(baseURL, apiKey string, timeout time.Duration, logger Logger) *HTTPImageClient {
	return &HTTPImageClient{transport: newHTTPTransport(baseURL, apiKey, timeout, logger)}
}

func (c *HTTPImageClient) Generate(ctx context.Context, prompt, negativePrompt, styleToken string, deadline time.Time) ([]byte, error) {
	if until := time.Until(deadline); until <= 0 {
		return nil, &ImageError{Kind: ImageTimeout, Err: context.DeadlineExceeded}
	} else {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, until)
		defer cancel()
	}

	resp, err := c.transport.do(ctx, "POST", "/v1/images", httpImageRequest{
		Prompt:         prompt,
		NegativePrompt: negativePrompt,
		StyleToken:     styleToken,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, &ImageError{Kind: ImageTimeout, Err: err}
		}
		return nil, &ImageError{Kind: ImageOther, Err: err}
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &ImageError{Kind: ImageRateLimit, Err: statusError(resp)}
	}
	if resp.StatusCode != 200 {
		return nil, &ImageError{Kind: ImageOther, Err: statusError(resp)}
	}

	var parsed httpImageResponse
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		return nil, &ImageError{Kind: ImageOther, Err: err}
	}
	raw, err := base64.StdEncoding.DecodeString(parsed.ImageBase64)
	if err != nil {
		return nil, &ImageError{Kind: ImageOther, Err: err}
	}
	return raw, nil
}
