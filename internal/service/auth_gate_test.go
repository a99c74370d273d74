package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ai-qa-sync/internal/entity"
	"ai-qa-sync/internal/pkg/apperror"
	"ai-qa-sync/internal/pkg/logger"
	"ai-qa-sync/internal/repository/memory"
	"ai-qa-sync/pkg/events"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRefresher struct {
	calls   atomic.Int32
	release chan struct{}
	next    string
	err     error
}

func (f *fakeRefresher) Refresh(ctx context.Context, cred entity.Credential) (entity.Credential, error) {
	f.calls.Add(1)
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return entity.Credential{}, ctx.Err()
		}
	}
	if f.err != nil {
		return entity.Credential{}, f.err
	}
	return cred.WithAccessToken(f.next), nil
}

func newTestGate(t *testing.T, refresher Refresher, pub events.Publisher) (*AuthGate, *memory.CredentialRepository) {
	t.Helper()
	repo := memory.NewCredentialRepository()
	gate := NewAuthGate(repo, refresher, logger.NewNopLogger(), GateConfig{RefreshTimeout: time.Second}, pub)
	require.NoError(t, gate.SignIn(context.Background(), entity.Credential{AccessToken: "a-1", RefreshToken: "r-1"}))
	return gate, repo
}

func concurrently(n int, fn func(i int)) {
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			fn(i)
		}(i)
	}
	wg.Wait()
}

func TestEnsureValidSingleFlight(t *testing.T) {
	refresher := &fakeRefresher{release: make(chan struct{}), next: "a-2"}
	gate, repo := newTestGate(t, refresher, nil)

	const callers = 20
	tokens := make([]string, callers)
	errs := make([]error, callers)

	go func() {
		time.Sleep(50 * time.Millisecond)
		close(refresher.release)
	}()
	concurrently(callers, func(i int) {
		tokens[i], errs[i] = gate.EnsureValid(context.Background(), "a-1")
	})

	assert.EqualValues(t, 1, refresher.calls.Load())
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "a-2", tokens[i])
	}
	assert.Equal(t, GateIdle, gate.State())

	stored, err := repo.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a-2", stored.AccessToken)
	assert.Equal(t, "r-1", stored.RefreshToken)
}

func TestEnsureValidStaleTokenSkipsRefresh(t *testing.T) {
	refresher := &fakeRefresher{next: "a-2"}
	gate, _ := newTestGate(t, refresher, nil)

	tok, err := gate.EnsureValid(context.Background(), "a-1")
	require.NoError(t, err)
	require.Equal(t, "a-2", tok)

	// A request that was sent with a-1 before the refresh landed.
	tok, err = gate.EnsureValid(context.Background(), "a-1")
	require.NoError(t, err)
	assert.Equal(t, "a-2", tok)
	assert.EqualValues(t, 1, refresher.calls.Load())
}

func TestEnsureValidFailureInvalidatesSession(t *testing.T) {
	pub := &recordingPublisher{}
	refresher := &fakeRefresher{release: make(chan struct{}), err: errors.New("refresh token revoked")}
	gate, repo := newTestGate(t, refresher, pub)

	const callers = 10
	errs := make([]error, callers)
	go func() {
		time.Sleep(30 * time.Millisecond)
		close(refresher.release)
	}()
	concurrently(callers, func(i int) {
		_, errs[i] = gate.EnsureValid(context.Background(), "a-1")
	})

	assert.EqualValues(t, 1, refresher.calls.Load())
	for _, err := range errs {
		assert.ErrorIs(t, err, apperror.ErrAuthInvalid)
	}
	assert.Equal(t, GateInvalidated, gate.State())
	assert.ErrorIs(t, gate.Err(), apperror.ErrAuthInvalid)

	select {
	case <-gate.Done():
	default:
		t.Fatal("done channel not closed")
	}

	stored, err := repo.Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, stored)
	assert.Equal(t, []string{events.TypeSessionTerminated}, pub.types())

	_, err = gate.EnsureValid(context.Background(), "a-1")
	assert.ErrorIs(t, err, apperror.ErrAuthInvalid)
	_, err = gate.ValidToken(context.Background())
	assert.ErrorIs(t, err, apperror.ErrAuthInvalid)
	assert.EqualValues(t, 1, refresher.calls.Load(), "no refresh after invalidation")
}

func TestEnsureValidCallerCancelDoesNotAbortRefresh(t *testing.T) {
	refresher := &fakeRefresher{release: make(chan struct{}), next: "a-2"}
	gate, _ := newTestGate(t, refresher, nil)

	ctx, cancel := context.WithCancel(context.Background())
	impatient := make(chan error, 1)
	go func() {
		_, err := gate.EnsureValid(ctx, "a-1")
		impatient <- err
	}()

	patient := make(chan string, 1)
	go func() {
		tok, _ := gate.EnsureValid(context.Background(), "a-1")
		patient <- tok
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-impatient, context.Canceled)

	close(refresher.release)
	assert.Equal(t, "a-2", <-patient)
	assert.Equal(t, GateIdle, gate.State())
}

func TestRefreshTimeoutInvalidates(t *testing.T) {
	refresher := &fakeRefresher{release: make(chan struct{})}
	repo := memory.NewCredentialRepository()
	gate := NewAuthGate(repo, refresher, logger.NewNopLogger(), GateConfig{RefreshTimeout: 20 * time.Millisecond}, nil)
	require.NoError(t, gate.SignIn(context.Background(), entity.Credential{AccessToken: "a-1", RefreshToken: "r-1"}))

	_, err := gate.EnsureValid(context.Background(), "a-1")
	assert.ErrorIs(t, err, apperror.ErrAuthInvalid)
	assert.ErrorIs(t, gate.Err(), context.DeadlineExceeded)
}

func TestValidTokenRefreshesExpiredHint(t *testing.T) {
	refresher := &fakeRefresher{next: "a-2"}
	repo := memory.NewCredentialRepository()
	gate := NewAuthGate(repo, refresher, logger.NewNopLogger(), GateConfig{ExpirySkew: 5 * time.Second}, nil)

	expired := entity.NewCredential(tokenExpiringAt(time.Now().Add(-time.Minute)), "r-1")
	require.NoError(t, gate.SignIn(context.Background(), expired))

	tok, err := gate.ValidToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a-2", tok)
	assert.EqualValues(t, 1, refresher.calls.Load())

	fresh := entity.NewCredential(tokenExpiringAt(time.Now().Add(time.Hour)), "r-1")
	require.NoError(t, gate.SignIn(context.Background(), fresh))
	tok, err = gate.ValidToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, fresh.AccessToken, tok)
	assert.EqualValues(t, 1, refresher.calls.Load())
}

func TestLogoutAndSignInAgain(t *testing.T) {
	pub := &recordingPublisher{}
	gate, repo := newTestGate(t, &fakeRefresher{next: "a-2"}, pub)
	firstDone := gate.Done()

	gate.Logout(context.Background())
	assert.Equal(t, GateInvalidated, gate.State())
	<-firstDone
	_, ok := gate.Credential()
	assert.False(t, ok)

	require.NoError(t, gate.SignIn(context.Background(), entity.Credential{AccessToken: "b-1", RefreshToken: "r-2"}))
	assert.Equal(t, GateIdle, gate.State())
	assert.NoError(t, gate.Err())
	assert.NotEqual(t, firstDone, gate.Done())

	tok, err := gate.Token()
	require.NoError(t, err)
	assert.Equal(t, "b-1", tok.AccessToken)
	assert.Equal(t, "Bearer", tok.TokenType)

	stored, err := repo.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "b-1", stored.AccessToken)
	assert.Equal(t, []string{events.TypeSessionTerminated}, pub.types())
}

func TestRestore(t *testing.T) {
	repo := memory.NewCredentialRepository()
	gate := NewAuthGate(repo, &fakeRefresher{}, logger.NewNopLogger(), GateConfig{}, nil)

	found, err := gate.Restore(context.Background())
	require.NoError(t, err)
	assert.False(t, found)
	_, err = gate.ValidToken(context.Background())
	assert.ErrorIs(t, err, apperror.ErrAuthInvalid)

	require.NoError(t, repo.Save(context.Background(), entity.Credential{AccessToken: "a-9", RefreshToken: "r-9"}))
	found, err = gate.Restore(context.Background())
	require.NoError(t, err)
	assert.True(t, found)
	tok, err := gate.ValidToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a-9", tok)
}

// pausingRepository blocks the Save after the first one until release closes.
type pausingRepository struct {
	*memory.CredentialRepository
	saves   atomic.Int32
	entered chan struct{}
	release chan struct{}
}

func (r *pausingRepository) Save(ctx context.Context, cred entity.Credential) error {
	if r.saves.Add(1) > 1 {
		close(r.entered)
		<-r.release
	}
	return r.CredentialRepository.Save(ctx, cred)
}

func TestLogoutDuringRefreshSaveLeavesStoreEmpty(t *testing.T) {
	repo := &pausingRepository{
		CredentialRepository: memory.NewCredentialRepository(),
		entered:              make(chan struct{}),
		release:              make(chan struct{}),
	}
	gate := NewAuthGate(repo, &fakeRefresher{next: "a-2"}, logger.NewNopLogger(), GateConfig{RefreshTimeout: time.Second}, nil)
	require.NoError(t, gate.SignIn(context.Background(), entity.Credential{AccessToken: "a-1", RefreshToken: "r-1"}))

	type result struct {
		token string
		err   error
	}
	refreshed := make(chan result, 1)
	go func() {
		tok, err := gate.EnsureValid(context.Background(), "a-1")
		refreshed <- result{tok, err}
	}()

	<-repo.entered
	loggedOut := make(chan struct{})
	go func() {
		gate.Logout(context.Background())
		close(loggedOut)
	}()
	require.Eventually(t, func() bool { return gate.State() == GateInvalidated }, time.Second, 5*time.Millisecond)
	close(repo.release)

	res := <-refreshed
	<-loggedOut
	assert.Empty(t, res.token)
	assert.ErrorIs(t, res.err, apperror.ErrAuthInvalid)
	assert.Equal(t, GateInvalidated, gate.State())

	stored, err := repo.Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestTokenCarriesRefreshTokenAndExpiry(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	access := tokenExpiringAt(exp)
	repo := memory.NewCredentialRepository()
	gate := NewAuthGate(repo, &fakeRefresher{}, logger.NewNopLogger(), GateConfig{}, nil)
	require.NoError(t, gate.SignIn(context.Background(), entity.NewCredential(access, "r-1")))

	tok, err := gate.Token()
	require.NoError(t, err)
	assert.Equal(t, access, tok.AccessToken)
	assert.Equal(t, "r-1", tok.RefreshToken)
	assert.Equal(t, "Bearer", tok.TokenType)
	assert.True(t, exp.Equal(tok.Expiry))
}
