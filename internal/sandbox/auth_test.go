package sandbox

import (
	"testing"
	"time"

	"ai-qa-sync/internal/dto"
	"ai-qa-sync/internal/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAuth(t *testing.T, ttl time.Duration) *AuthService {
	t.Helper()
	s := NewAuthService("secret", ttl, logger.NewNopLogger())
	require.NoError(t, s.AddAccount("Student@Example.com", "pw-123"))
	return s
}

func TestAuthServiceLoginAndVerify(t *testing.T) {
	s := newTestAuth(t, time.Minute)

	_, err := s.Login(dto.LoginRequest{Email: "student@example.com", Password: "wrong"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = s.Login(dto.LoginRequest{Email: "nobody@example.com", Password: "pw-123"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	res, err := s.Login(dto.LoginRequest{Email: "student@example.com", Password: "pw-123"})
	require.NoError(t, err)
	userId, err := s.Verify(res.AccessToken)
	require.NoError(t, err)
	assert.NotEqual(t, "", userId.String())

	_, err = s.Verify(res.AccessToken + "x")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthServiceExpiredToken(t *testing.T) {
	s := newTestAuth(t, -time.Minute)
	res, err := s.Login(dto.LoginRequest{Email: "student@example.com", Password: "pw-123"})
	require.NoError(t, err)

	_, err = s.Verify(res.AccessToken)
	assert.ErrorIs(t, err, ErrTokenExpired)

	refreshed, err := s.Refresh(dto.RefreshRequest{RefreshToken: res.RefreshToken})
	require.NoError(t, err)
	assert.NotEmpty(t, refreshed.AccessToken)
}

func TestAuthServiceLogoutRevokesRefresh(t *testing.T) {
	s := newTestAuth(t, time.Minute)
	res, err := s.Login(dto.LoginRequest{Email: "student@example.com", Password: "pw-123"})
	require.NoError(t, err)

	s.Logout(dto.LogoutRequest{RefreshToken: res.RefreshToken})
	_, err = s.Refresh(dto.RefreshRequest{RefreshToken: res.RefreshToken})
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)
}
