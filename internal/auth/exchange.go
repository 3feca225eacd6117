package auth

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// IdentityProvider is the slice of the Discord client the exchanger needs.
type IdentityProvider interface {
	ExchangeCode(ctx context.Context, code, redirectURI string) (string, error)
	CurrentUser(ctx context.Context, accessToken string) (User, error)
	GuildMember(ctx context.Context, accessToken, guildID string) (*Member, error)
}

// AccessDeniedError carries a user-readable message explaining the required
// guild or role.
type AccessDeniedError struct {
	Message string
}

func (e *AccessDeniedError) Error() string { return e.Message }

// Exchanger turns a Discord authorization code into a signed session token.
type Exchanger struct {
	idp    IdentityProvider
	tokens *TokenManager

	guildID     string
	majRoleID   string
	ycRoleID    string
	adminRoleID string

	now func() time.Time
}

// NewExchanger creates an Exchanger. Membership rules: the user must hold
// the Maj or YC role to get in at all; YC or the leader role grants admin.
func NewExchanger(idp IdentityProvider, tokens *TokenManager, guildID, majRoleID, ycRoleID, adminRoleID string) *Exchanger {
	return &Exchanger{
		idp:         idp,
		tokens:      tokens,
		guildID:     guildID,
		majRoleID:   majRoleID,
		ycRoleID:    ycRoleID,
		adminRoleID: adminRoleID,
		now:         time.Now,
	}
}

// ExchangeResult is the successful outcome of an identity exchange.
type ExchangeResult struct {
	Token       string
	User        User
	AccessLevel string
	ExpiresAt   time.Time
}

// Exchange performs the full flow: code → IdP access token → profile →
// guild membership → role check → minted session token.
func (e *Exchanger) Exchange(ctx context.Context, code, redirectURI string) (ExchangeResult, error) {
	accessToken, err := e.idp.ExchangeCode(ctx, code, redirectURI)
	if err != nil {
		return ExchangeResult{}, fmt.Errorf("exchange authorization code: %w", err)
	}

	user, err := e.idp.CurrentUser(ctx, accessToken)
	if err != nil {
		return ExchangeResult{}, fmt.Errorf("fetch user profile: %w", err)
	}

	member, err := e.idp.GuildMember(ctx, accessToken, e.guildID)
	if errors.Is(err, ErrNotMember) {
		return ExchangeResult{}, &AccessDeniedError{
			Message: "You must be a member of the Discord server to sign in.",
		}
	}
	if err != nil {
		return ExchangeResult{}, fmt.Errorf("fetch guild membership: %w", err)
	}

	roles := make(map[string]struct{}, len(member.Roles))
	for _, r := range member.Roles {
		roles[r] = struct{}{}
	}

	_, hasMaj := roles[e.majRoleID]
	_, hasYC := roles[e.ycRoleID]
	_, hasAdmin := roles[e.adminRoleID]

	if !hasMaj && !hasYC {
		return ExchangeResult{}, &AccessDeniedError{
			Message: "Your account does not hold a role with leaderboard access.",
		}
	}

	level := AccessUser
	if hasYC || hasAdmin {
		level = AccessAdmin
	}

	token, exp, err := e.tokens.Mint(user, level, e.now())
	if err != nil {
		return ExchangeResult{}, err
	}

	return ExchangeResult{
		Token:       token,
		User:        user,
		AccessLevel: level,
		ExpiresAt:   exp,
	}, nil
}
