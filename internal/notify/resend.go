package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const resendEndpoint = "https://api.resend.com/emails"

// ResendClient sends operator email through the Resend HTTP API.
// Nil-safe: when not configured, Send reports a skip instead of failing.
type ResendClient struct {
	httpClient *http.Client
	apiKey     string
	logger     *slog.Logger
}

// NewResendClient creates a Resend sender. Returns nil if apiKey is empty
// (notifications disabled).
func NewResendClient(apiKey string, logger *slog.Logger) *ResendClient {
	if apiKey == "" {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ResendClient{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		apiKey:     apiKey,
		logger:     logger,
	}
}

// Message is one outbound email with HTML and text alternatives.
type Message struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
	Text    string   `json:"text"`
}

// Send posts one message. Returns the raw response body for the audit log.
func (c *ResendClient) Send(ctx context.Context, msg Message) (string, error) {
	if c == nil {
		return "", fmt.Errorf("email sender not configured")
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("encode email: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, resendEndpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("send email: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return string(body), fmt.Errorf("resend returned %d: %s", resp.StatusCode, truncate(body, 200))
	}
	return string(body), nil
}

func truncate(b []byte, maxLen int) string {
	if len(b) <= maxLen {
		return string(b)
	}
	return string(b[:maxLen]) + "..."
}
