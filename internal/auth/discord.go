package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const discordAPIBase = "https://discord.com/api/v10"

// User is the IdP's view of the authenticated account.
type User struct {
	ID            string  `json:"id"`
	Username      string  `json:"username"`
	Discriminator string  `json:"discriminator"`
	GlobalName    *string `json:"global_name"`
	Avatar        *string `json:"avatar"`
}

// Member is the user's membership in the configured guild.
type Member struct {
	Roles []string `json:"roles"`
	Nick  *string  `json:"nick"`
}

// DiscordClient talks to the Discord OAuth2 and guild-member endpoints.
type DiscordClient struct {
	httpClient   *http.Client
	baseURL      string
	clientID     string
	clientSecret string
	limiter      *rate.Limiter
	logger       *slog.Logger
}

// NewDiscordClient creates a Discord API client with rate limiting.
func NewDiscordClient(clientID, clientSecret string, logger *slog.Logger) *DiscordClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &DiscordClient{
		httpClient:   &http.Client{Timeout: 15 * time.Second},
		baseURL:      discordAPIBase,
		clientID:     clientID,
		clientSecret: clientSecret,
		// Discord's global limit is 50/s; logins are far below that.
		limiter: rate.NewLimiter(rate.Limit(10), 10),
		logger:  logger,
	}
}

// tokenResponse is the OAuth2 token endpoint payload.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope"`
}

// ExchangeCode swaps an authorization code for a user access token.
func (c *DiscordClient) ExchangeCode(ctx context.Context, code, redirectURI string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait: %w", err)
	}

	form := url.Values{
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {redirectURI},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token exchange: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read token response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, truncate(body, 200))
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if tr.AccessToken == "" {
		return "", fmt.Errorf("token endpoint returned no access token")
	}
	return tr.AccessToken, nil
}

// CurrentUser fetches the authenticated user's profile.
func (c *DiscordClient) CurrentUser(ctx context.Context, accessToken string) (User, error) {
	var u User
	if err := c.get(ctx, "/users/@me", accessToken, &u); err != nil {
		return User{}, err
	}
	if u.ID == "" {
		return User{}, fmt.Errorf("current user response missing id")
	}
	return u, nil
}

// ErrNotMember is returned when the user is not in the configured guild.
var ErrNotMember = fmt.Errorf("not a member of the guild")

// GuildMember fetches the user's membership in the given guild. A 404 from
// the IdP means "not a member" and maps to ErrNotMember.
func (c *DiscordClient) GuildMember(ctx context.Context, accessToken, guildID string) (*Member, error) {
	var m Member
	err := c.get(ctx, "/users/@me/guilds/"+guildID+"/member", accessToken, &m)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotMember
		}
		return nil, err
	}
	return &m, nil
}

// notFoundError marks a 404 from the IdP so callers can branch on it.
type notFoundError struct{ path string }

func (e *notFoundError) Error() string { return fmt.Sprintf("discord %s returned 404", e.path) }

func isNotFound(err error) bool {
	var nf *notFoundError
	return errors.As(err, &nf)
}

// get performs a rate-limited bearer-authenticated GET.
func (c *DiscordClient) get(ctx context.Context, path, accessToken string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("discord %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return &notFoundError{path: path}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("discord %s returned %d: %s", path, resp.StatusCode, truncate(body, 200))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func truncate(b []byte, maxLen int) string {
	if len(b) <= maxLen {
		return string(b)
	}
	return string(b[:maxLen]) + "..."
}
