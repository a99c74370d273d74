package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"ai-qa-sync/internal/dto"
	"ai-qa-sync/internal/entity"
	"ai-qa-sync/internal/pkg/apperror"

	"github.com/go-playground/validator/v10"
)

var errNoRefreshToken = errors.New("no refresh token")

// AuthAPI holds the unauthenticated auth endpoints. It is the gate's
// Refresher, so it must never go through the gate itself.
type AuthAPI struct {
	baseURL  string
	http     *http.Client
	validate *validator.Validate
}

var _ Refresher = (*AuthAPI)(nil)

func NewAuthAPI(baseURL string, timeout time.Duration) *AuthAPI {
	return &AuthAPI{
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     &http.Client{Timeout: timeout},
		validate: validator.New(),
	}
}

func (a *AuthAPI) Login(ctx context.Context, email, password string) (entity.Credential, error) {
	req := dto.LoginRequest{Email: email, Password: password}
	if err := a.validate.Struct(req); err != nil {
		return entity.Credential{}, err
	}

	var out dto.LoginResponse
	if err := a.postJSON(ctx, endpointLogin, req, &out); err != nil {
		return entity.Credential{}, err
	}
	if out.AccessToken == "" {
		return entity.Credential{}, apperror.Rejected(http.StatusOK, "login response carried no access token")
	}
	return entity.NewCredential(out.AccessToken, out.RefreshToken), nil
}

// Refresh trades cred's refresh token for a new access token. A rotated
// refresh token replaces the old one.
func (a *AuthAPI) Refresh(ctx context.Context, cred entity.Credential) (entity.Credential, error) {
	if cred.RefreshToken == "" {
		return entity.Credential{}, errNoRefreshToken
	}

	var out dto.RefreshResponse
	if err := a.postJSON(ctx, endpointRefresh, dto.RefreshRequest{RefreshToken: cred.RefreshToken}, &out); err != nil {
		return entity.Credential{}, err
	}
	if out.AccessToken == "" {
		return entity.Credential{}, apperror.Rejected(http.StatusOK, "refresh response carried no access token")
	}

	next := cred.WithAccessToken(out.AccessToken)
	if out.RefreshToken != "" {
		next.RefreshToken = out.RefreshToken
	}
	return next, nil
}

// Logout revokes the refresh token server-side.
func (a *AuthAPI) Logout(ctx context.Context, cred entity.Credential) error {
	if cred.RefreshToken == "" {
		return nil
	}
	return a.postJSON(ctx, endpointLogout, dto.LogoutRequest{RefreshToken: cred.RefreshToken}, nil)
}

func (a *AuthAPI) postJSON(ctx context.Context, path string, in, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return apperror.Transport(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperror.Rejected(resp.StatusCode, "malformed response body")
	}
	return nil
}
