package resolver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// ErrUpstreamUnavailable wraps every way the remote provider can fail:
// transport errors, timeouts, non-2xx statuses, and unusable bodies.
var ErrUpstreamUnavailable = errors.New("text generator unavailable")

// Generator produces a reply for a prompt.
type Generator interface {
	Generate(ctx context.Context, text string) (string, error)
}

// GeneratorFunc adapts a plain function to Generator.
type GeneratorFunc func(ctx context.Context, text string) (string, error)

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, text string) (string, error) {
	return f(ctx, text)
}

// maxResponseBytes caps how much of the provider body is read.
const maxResponseBytes = 1 << 20

// HTTPGenerator calls a DeepAI-compatible text-generation endpoint:
// POST {"text": ...} with an Api-Key header, answer {"output": "..."}.
type HTTPGenerator struct {
	URL    string
	APIKey string
	Client *http.Client
}

// NewHTTPGenerator returns an HTTPGenerator whose client is traced with
// otelhttp and bounded by timeout.
func NewHTTPGenerator(url, apiKey string, timeout time.Duration) *HTTPGenerator {
	return &HTTPGenerator{
		URL:    url,
		APIKey: apiKey,
		Client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

type generateRequest struct {
	Text string `json:"text"`
}

type generateResponse struct {
	Output *string `json:"output"`
}

// Generate implements Generator.
func (g *HTTPGenerator) Generate(ctx context.Context, text string) (string, error) {
	body, err := json.Marshal(generateRequest{Text: text})
	if err != nil {
		return "", fmt.Errorf("%w: encode request: %v", ErrUpstreamUnavailable, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.URL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: build request: %v", ErrUpstreamUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Api-Key", g.APIKey)

	client := g.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return "", fmt.Errorf("%w: status %d", ErrUpstreamUnavailable, resp.StatusCode)
	}

	var out generateResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrUpstreamUnavailable, err)
	}
	if out.Output == nil {
		return "", fmt.Errorf("%w: response has no output field", ErrUpstreamUnavailable)
	}
	if strings.TrimSpace(*out.Output) == "" {
		return "", fmt.Errorf("%w: empty output", ErrUpstreamUnavailable)
	}
	return *out.Output, nil
}
