package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"ai-qa-sync/internal/entity"
	"ai-qa-sync/internal/pkg/apperror"
	"ai-qa-sync/internal/pkg/logger"
	"ai-qa-sync/internal/repository/contract"
	"ai-qa-sync/pkg/events"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

const moduleAuthGate = "AuthGate"

type GateState int

const (
	GateIdle GateState = iota
	GateRefreshing
	GateInvalidated
)

func (s GateState) String() string {
	switch s {
	case GateIdle:
		return "IDLE"
	case GateRefreshing:
		return "REFRESHING"
	case GateInvalidated:
		return "INVALIDATED"
	}
	return "UNKNOWN"
}

var (
	errNotSignedIn = errors.New("not signed in")
	errLoggedOut   = errors.New("logged out")
)

// Refresher exchanges the refresh token of cred for a new credential.
type Refresher interface {
	Refresh(ctx context.Context, cred entity.Credential) (entity.Credential, error)
}

type GateConfig struct {
	RefreshTimeout time.Duration
	ExpirySkew     time.Duration
}

// AuthGate owns the session credential and is its only writer. However many
// requests fail with an expired token at once, at most one refresh call is in
// flight; everyone who asked shares its outcome.
type AuthGate struct {
	repo      contract.ICredentialRepository
	refresher Refresher
	cfg       GateConfig
	logger    logger.ILogger
	publisher events.Publisher
	group     singleflight.Group

	// persistMu orders writes to repo so a Clear is never overtaken by a
	// Save from a refresh that lost to a logout.
	persistMu sync.Mutex

	mu    sync.RWMutex
	cred  *entity.Credential
	state GateState
	done  chan struct{}
	err   error
}

var _ oauth2.TokenSource = (*AuthGate)(nil)

func NewAuthGate(
	repo contract.ICredentialRepository,
	refresher Refresher,
	log logger.ILogger,
	cfg GateConfig,
	publisher events.Publisher,
) *AuthGate {
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = 30 * time.Second
	}
	return &AuthGate{
		repo:      repo,
		refresher: refresher,
		cfg:       cfg,
		logger:    log,
		publisher: publisher,
		state:     GateIdle,
		done:      make(chan struct{}),
	}
}

// Restore loads the persisted credential. It reports whether one was found.
func (g *AuthGate) Restore(ctx context.Context) (bool, error) {
	cred, err := g.repo.Load(ctx)
	if err != nil {
		return false, err
	}
	if cred == nil || cred.AccessToken == "" {
		return false, nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.cred = cred
	g.state = GateIdle
	g.resetSessionLocked()
	return true, nil
}

// SignIn installs a freshly issued credential and starts a new session.
func (g *AuthGate) SignIn(ctx context.Context, cred entity.Credential) error {
	g.persistMu.Lock()
	defer g.persistMu.Unlock()

	g.mu.Lock()
	g.cred = &cred
	g.state = GateIdle
	g.resetSessionLocked()
	g.mu.Unlock()

	if err := g.repo.Save(ctx, cred); err != nil {
		return err
	}
	g.logger.Info(moduleAuthGate, "Signed in", map[string]interface{}{"expires_hint": cred.ExpiresHint})
	return nil
}

func (g *AuthGate) resetSessionLocked() {
	select {
	case <-g.done:
		g.done = make(chan struct{})
	default:
	}
	g.err = nil
}

// ValidToken returns the token to put on the next request, refreshing first
// when the expiry hint says the current one is already dead.
func (g *AuthGate) ValidToken(ctx context.Context) (string, error) {
	g.mu.RLock()
	cred, state := g.cred, g.state
	g.mu.RUnlock()

	if state == GateInvalidated || cred == nil {
		return "", g.invalidErr()
	}
	if cred.Expired(time.Now(), g.cfg.ExpirySkew) {
		return g.EnsureValid(ctx, cred.AccessToken)
	}
	return cred.AccessToken, nil
}

// EnsureValid is called after a request carrying staleToken came back with an
// expiry signal. If the credential has moved on since, the caller just gets the
// current token; otherwise it joins (or starts) the single in-flight refresh.
func (g *AuthGate) EnsureValid(ctx context.Context, staleToken string) (string, error) {
	g.mu.RLock()
	cred, state := g.cred, g.state
	g.mu.RUnlock()

	if state == GateInvalidated || cred == nil {
		return "", g.invalidErr()
	}
	if cred.AccessToken != staleToken {
		return cred.AccessToken, nil
	}

	ch := g.group.DoChan(staleToken, func() (interface{}, error) {
		return g.refresh(staleToken)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		// The refresh keeps going for everybody else.
		return "", apperror.Transport(ctx.Err())
	}
}

// Refresh forces a refresh of the current token.
func (g *AuthGate) Refresh(ctx context.Context) (string, error) {
	g.mu.RLock()
	cred := g.cred
	g.mu.RUnlock()
	if cred == nil {
		return "", g.invalidErr()
	}
	return g.EnsureValid(ctx, cred.AccessToken)
}

func (g *AuthGate) refresh(staleToken string) (string, error) {
	g.mu.Lock()
	if g.state == GateInvalidated || g.cred == nil {
		g.mu.Unlock()
		return "", g.invalidErr()
	}
	if g.cred.AccessToken != staleToken {
		token := g.cred.AccessToken
		g.mu.Unlock()
		return token, nil
	}
	g.state = GateRefreshing
	current := *g.cred
	g.mu.Unlock()

	// Detached from any single caller: one of them giving up must not fail
	// the refresh for the rest.
	ctx, cancel := context.WithTimeout(context.Background(), g.cfg.RefreshTimeout)
	defer cancel()
	ctx, span := otel.Tracer("ai-qa-sync/service").Start(ctx, "auth.refresh")
	defer span.End()

	g.logger.Info(moduleAuthGate, "Refreshing access token", nil)
	next, err := g.refresher.Refresh(ctx, current)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "refresh failed")
		g.invalidate(context.Background(), err)
		return "", g.invalidErr()
	}

	g.persistMu.Lock()
	defer g.persistMu.Unlock()

	if g.State() != GateRefreshing {
		// Logged out while the refresh was in flight.
		return "", g.invalidErr()
	}
	if err := g.repo.Save(ctx, next); err != nil {
		g.logger.Warn(moduleAuthGate, "Failed to persist refreshed credential", map[string]interface{}{"error": err.Error()})
	}

	g.mu.Lock()
	if g.state != GateRefreshing {
		// Logged out during Save. Its Clear runs once persistMu is released.
		g.mu.Unlock()
		return "", g.invalidErr()
	}
	g.cred = &next
	g.state = GateIdle
	g.mu.Unlock()

	g.logger.Info(moduleAuthGate, "Access token refreshed", map[string]interface{}{"expires_hint": next.ExpiresHint})
	return next.AccessToken, nil
}

func (g *AuthGate) invalidate(ctx context.Context, cause error) {
	g.mu.Lock()
	if g.state == GateInvalidated {
		g.mu.Unlock()
		return
	}
	g.state = GateInvalidated
	g.cred = nil
	g.err = apperror.AuthInvalid(cause)
	close(g.done)
	g.mu.Unlock()

	g.persistMu.Lock()
	err := g.repo.Clear(ctx)
	g.persistMu.Unlock()
	if err != nil {
		g.logger.Error(moduleAuthGate, "Failed to clear credential", map[string]interface{}{"error": err.Error()})
	}
	g.logger.Warn(moduleAuthGate, "Session terminated", map[string]interface{}{"reason": cause.Error()})
	events.Emit(ctx, g.publisher, events.New(events.TypeSessionTerminated, map[string]interface{}{
		"reason": cause.Error(),
	}))
}

// Logout ends the session locally. Revoking the refresh token server-side is
// the caller's job.
func (g *AuthGate) Logout(ctx context.Context) {
	g.invalidate(ctx, errLoggedOut)
}

func (g *AuthGate) invalidErr() error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.err != nil {
		return g.err
	}
	return apperror.AuthInvalid(errNotSignedIn)
}

// Token implements oauth2.TokenSource for consumers that only need a usable
// bearer token, like the push channel dialer.
func (g *AuthGate) Token() (*oauth2.Token, error) {
	token, err := g.ValidToken(context.Background())
	if err != nil {
		return nil, err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.cred != nil && g.cred.AccessToken == token {
		return g.cred.OAuth2(), nil
	}
	return &oauth2.Token{AccessToken: token, TokenType: "Bearer"}, nil
}

// Credential returns a copy of the live credential.
func (g *AuthGate) Credential() (entity.Credential, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.cred == nil {
		return entity.Credential{}, false
	}
	return *g.cred, true
}

func (g *AuthGate) State() GateState {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state
}

// Done is closed when the session is terminated. A later SignIn hands out a
// new channel.
func (g *AuthGate) Done() <-chan struct{} {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.done
}

// Err is the reason the session ended, nil while it is alive.
func (g *AuthGate) Err() error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.err
}
