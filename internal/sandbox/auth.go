package sandbox

import (
	"errors"
	"strings"
	"sync"
	"time"

	"ai-qa-sync/internal/dto"
	"ai-qa-sync/internal/pkg/logger"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"golang.org/x/crypto/bcrypt"
)

const refreshTTL = 7 * 24 * time.Hour

var (
	ErrInvalidCredentials  = errors.New("invalid email or password")
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	ErrTokenExpired        = errors.New("token expired")
	ErrInvalidToken        = errors.New("invalid token")
)

type account struct {
	userId       uuid.UUID
	passwordHash []byte
}

// AuthService issues short-lived access tokens and long-lived refresh tokens
// for a fixed set of accounts.
type AuthService struct {
	secret    []byte
	accessTTL time.Duration
	logger    logger.ILogger

	mu       sync.RWMutex
	accounts map[string]account

	refresh *cache.Cache
}

func NewAuthService(secret string, accessTTL time.Duration, log logger.ILogger) *AuthService {
	return &AuthService{
		secret:    []byte(secret),
		accessTTL: accessTTL,
		logger:    log,
		accounts:  make(map[string]account),
		refresh:   cache.New(refreshTTL, time.Hour),
	}
}

func (s *AuthService) AddAccount(email, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[strings.ToLower(email)] = account{userId: uuid.New(), passwordHash: hash}
	return nil
}

func (s *AuthService) Login(req dto.LoginRequest) (*dto.LoginResponse, error) {
	s.mu.RLock()
	acc, ok := s.accounts[strings.ToLower(req.Email)]
	s.mu.RUnlock()
	if !ok || bcrypt.CompareHashAndPassword(acc.passwordHash, []byte(req.Password)) != nil {
		return nil, ErrInvalidCredentials
	}

	access, err := s.issueAccess(acc.userId)
	if err != nil {
		return nil, err
	}
	refresh := uuid.NewString()
	s.refresh.SetDefault(refresh, acc.userId)

	s.logger.Info("SandboxAuth", "Login successful", map[string]interface{}{"user_id": acc.userId})
	return &dto.LoginResponse{AccessToken: access, RefreshToken: refresh}, nil
}

func (s *AuthService) Refresh(req dto.RefreshRequest) (*dto.RefreshResponse, error) {
	v, ok := s.refresh.Get(req.RefreshToken)
	if !ok {
		return nil, ErrInvalidRefreshToken
	}
	access, err := s.issueAccess(v.(uuid.UUID))
	if err != nil {
		return nil, err
	}
	return &dto.RefreshResponse{AccessToken: access}, nil
}

// Logout revokes the refresh token. Unknown tokens are ignored.
func (s *AuthService) Logout(req dto.LogoutRequest) {
	s.refresh.Delete(req.RefreshToken)
}

// Verify checks an access token and returns its user.
func (s *AuthService) Verify(tokenStr string) (uuid.UUID, error) {
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return uuid.Nil, ErrTokenExpired
		}
		return uuid.Nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return uuid.Nil, ErrInvalidToken
	}
	userIdStr, _ := claims["user_id"].(string)
	userId, err := uuid.Parse(userIdStr)
	if err != nil {
		return uuid.Nil, ErrInvalidToken
	}
	return userId, nil
}

func (s *AuthService) issueAccess(userId uuid.UUID) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"user_id": userId.String(),
		"jti":     uuid.NewString(),
		"iat":     now.Unix(),
		"exp":     now.Add(s.accessTTL).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}
