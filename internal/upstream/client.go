package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// Client fetches the current player set from the Wonky endpoint.
type Client struct {
	httpClient *http.Client
	url        string
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// NewClient creates an upstream client. The limiter guards against the read
// endpoints and the controller both triggering refreshes in a tight loop.
func NewClient(url string, timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		url:        url,
		// One refresh per 10s burst 2 is far above the 15-minute cadence.
		limiter: rate.NewLimiter(rate.Every(10*time.Second), 2),
		logger:  logger,
	}
}

// wireRecord mirrors the upstream JSON shape. Timestamps arrive as ISO-8601
// strings and are parsed leniently: an unparseable updatedAt becomes nil.
type wireRecord struct {
	ID           string  `json:"ID"`
	IGN          string  `json:"IGN"`
	DiscordName  string  `json:"discordName"`
	DisplayName  *string `json:"displayName"`
	FarmerRole   *string `json:"farmerRole"`
	Grade        string  `json:"grade"`
	Active       bool    `json:"active"`
	IsGuest      bool    `json:"isGuest"`
	EB           float64 `json:"EB"`
	SE           float64 `json:"SE"`
	PE           int     `json:"PE"`
	TE           *int    `json:"TE"`
	NumPrestiges *int    `json:"numPrestiges"`
	UpdatedAt    string  `json:"updatedAt"`
	Gains        struct {
		Saturday *float64     `json:"saturday"`
		EggDay   []YearlyGain `json:"eggDay"`
	} `json:"gains"`
	MaxMysticalEggs *int `json:"maxMysticalEggs"`
}

// Fetch performs one GET against the configured endpoint and returns the
// player set. A non-2xx response, an empty array, or a non-array payload is
// an error; the controller treats any error as "no data" and leaves all
// state untouched.
func (c *Client) Fetch(ctx context.Context) ([]PlayerRecord, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch players: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("upstream returned %d: %s", resp.StatusCode, truncate(body, 200))
	}

	records, unparseable, err := DecodeRecords(body)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("upstream returned empty player array")
	}

	if unparseable > 0 {
		c.logger.Warn("Upstream records with unparseable updatedAt",
			"count", unparseable, "total", len(records))
	}

	return records, nil
}

// DecodeRecords parses a wire-format player array. The second return value
// counts records whose updatedAt could not be parsed; those records are kept
// with a nil UpdatedAt. Also used by the manual import endpoint, which
// accepts the same shape the feed emits.
func DecodeRecords(data []byte) ([]PlayerRecord, int, error) {
	var wire []wireRecord
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, 0, fmt.Errorf("decode player array: %w", err)
	}

	records := make([]PlayerRecord, 0, len(wire))
	unparseable := 0
	for _, w := range wire {
		r := PlayerRecord{
			ID:              w.ID,
			IGN:             w.IGN,
			DisplayName:     w.DisplayName,
			DiscordName:     w.DiscordName,
			FarmerRole:      w.FarmerRole,
			Grade:           w.Grade,
			Active:          w.Active,
			IsGuest:         w.IsGuest,
			EB:              w.EB,
			SE:              w.SE,
			PE:              w.PE,
			TE:              w.TE,
			NumPrestiges:    w.NumPrestiges,
			GainsSaturday:   w.Gains.Saturday,
			MaxMysticalEggs: w.MaxMysticalEggs,
			EggDay:          w.Gains.EggDay,
		}
		if t, err := parseInstant(w.UpdatedAt); err == nil {
			r.UpdatedAt = &t
		} else {
			unparseable++
		}
		records = append(records, r)
	}

	return records, unparseable, nil
}

// parseInstant accepts the ISO-8601 variants the upstream has been observed
// to emit (with and without fractional seconds or zone designator).
func parseInstant(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}

// truncate returns a truncated string representation for error messages.
func truncate(b []byte, maxLen int) string {
	if len(b) <= maxLen {
		return string(b)
	}
	return string(b[:maxLen]) + "..."
}
