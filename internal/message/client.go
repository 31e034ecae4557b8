package message

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/oriru-app/oriru-core/internal/alert"
)

// Generator turns a (station name, persona) pair into prose. Implementations
// may fail or time out; the resolver absorbs that.
type Generator interface {
	Generate(ctx context.Context, stationName string, persona alert.Persona) (string, error)
}

// Client calls the remote message-generation service over HTTP. Requests are
// rate-limited to a bounded number per rolling minute.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	limiter    *rate.Limiter
}

// NewClient creates a generation client. requestsPerMinute bounds outbound
// calls across all alerts sharing this client.
func NewClient(baseURL, apiKey string, requestsPerMinute int, timeout time.Duration) *Client {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 30
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	rps := float64(requestsPerMinute) / 60.0
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		apiKey:     apiKey,
		limiter:    rate.NewLimiter(rate.Limit(rps), 1),
	}
}

type generateRequest struct {
	Station string `json:"station"`
	Persona string `json:"persona"`
}

type generateResponse struct {
	Text string `json:"text"`
}

// Generate performs one rate-limited request. The caller's context bounds
// both the limiter wait and the HTTP exchange.
func (c *Client) Generate(ctx context.Context, stationName string, persona alert.Persona) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait: %w", err)
	}

	payload, err := json.Marshal(generateRequest{Station: stationName, Persona: string(persona)})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/generate", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("generate request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("generate returned %d: %s", resp.StatusCode, truncate(body, 200))
	}

	var out generateResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if out.Text == "" {
		return "", fmt.Errorf("generate returned empty text")
	}
	return out.Text, nil
}

func truncate(b []byte, maxLen int) string {
	if len(b) <= maxLen {
		return string(b)
	}
	return string(b[:maxLen]) + "..."
}
