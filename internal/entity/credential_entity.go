package entity

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

// Credential is the access/refresh token pair of the signed-in user.
// ExpiresHint is advisory: the server is the authority on expiry.
type Credential struct {
	AccessToken  string
	RefreshToken string
	ExpiresHint  time.Time
}

// NewCredential derives the expiry hint from the access token's exp claim.
// Tokens that are not JWTs simply get no hint.
func NewCredential(accessToken, refreshToken string) Credential {
	return Credential{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresHint:  expiryFromJWT(accessToken),
	}
}

func expiryFromJWT(token string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}

// Expired reports whether the hint says the token is dead at now+skew.
func (c Credential) Expired(now time.Time, skew time.Duration) bool {
	if c.ExpiresHint.IsZero() {
		return false
	}
	return !now.Add(skew).Before(c.ExpiresHint)
}

// WithAccessToken keeps the refresh token when the refresh endpoint only
// hands back a new access token.
func (c Credential) WithAccessToken(accessToken string) Credential {
	return NewCredential(accessToken, c.RefreshToken)
}

// OAuth2 is the bearer token form handed to oauth2.TokenSource consumers.
func (c Credential) OAuth2() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  c.AccessToken,
		TokenType:    "Bearer",
		RefreshToken: c.RefreshToken,
		Expiry:       c.ExpiresHint,
	}
}
