package store

import (
	"errors"
	"sync"
	"testing"
	"time"

	"ai-qa-sync/internal/entity"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConversationStreamWithoutCoalescing(t *testing.T) {
	c := NewConversation("doc-1", 0)

	var mu sync.Mutex
	var versions []uint64
	var contents []string
	unsubscribe := c.Subscribe(func(s Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		versions = append(versions, s.Version)
		contents = append(contents, s.Messages[len(s.Messages)-1].Content)
	})
	defer unsubscribe()

	c.Append(entity.Message{Role: entity.RoleUser, Content: "What is stoichiometry?"})
	session := uuid.New()
	msgId := c.BeginStream(session)

	for _, f := range []string{"Sto", "ichi", "ometry is..."} {
		require.True(t, c.ApplyFragment(session, f))
	}
	require.True(t, c.CompleteStream(session, []entity.Source{{DocumentId: "doc-1"}}, true))

	snap := c.Snapshot()
	require.Len(t, snap.Messages, 2)
	answer := snap.Messages[1]
	assert.Equal(t, msgId, answer.Id)
	assert.Equal(t, "Stoichiometry is...", answer.Content)
	assert.False(t, answer.Streaming)
	assert.True(t, answer.Cached)
	assert.Len(t, answer.Sources, 1)
	assert.Equal(t, uuid.Nil, snap.ActiveSession)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []uint64{1, 2, 3, 4, 5, 6}, versions)
	assert.Equal(t, []string{"What is stoichiometry?", "", "Sto", "Stoichi", "Stoichiometry is...", "Stoichiometry is..."}, contents)
}

func TestConversationCoalescingPreservesText(t *testing.T) {
	c := NewConversation("doc-1", 20*time.Millisecond)

	var mu sync.Mutex
	notifications := 0
	c.Subscribe(func(Snapshot) {
		mu.Lock()
		notifications++
		mu.Unlock()
	})

	session := uuid.New()
	c.BeginStream(session)
	fragments := []string{"The ", "mole ", "ratio ", "comes ", "from ", "the ", "balanced ", "equation."}
	for _, f := range fragments {
		require.True(t, c.ApplyFragment(session, f))
	}

	assert.Eventually(t, func() bool {
		return c.Snapshot().Messages[0].Content == "The mole ratio comes from the balanced equation."
	}, time.Second, 5*time.Millisecond)

	c.ApplyFragment(session, " Done")
	require.True(t, c.CompleteStream(session, nil, false))
	assert.Equal(t, "The mole ratio comes from the balanced equation. Done", c.Snapshot().Messages[0].Content)

	mu.Lock()
	defer mu.Unlock()
	assert.Less(t, notifications, len(fragments)+2, "fragments are batched")
}

func TestConversationFragmentGuard(t *testing.T) {
	c := NewConversation("doc-1", 0)
	session := uuid.New()

	assert.False(t, c.ApplyFragment(session, "orphan"), "no active stream")

	c.BeginStream(session)
	assert.False(t, c.ApplyFragment(uuid.New(), "other session"))

	require.True(t, c.CancelStream(session))
	assert.False(t, c.ApplyFragment(session, "after cancel"))
	assert.False(t, c.CompleteStream(session, nil, false), "terminal once")

	next := uuid.New()
	c.BeginStream(next)
	c.Append(entity.Message{Role: entity.RoleUser, Content: "interrupting"})
	assert.False(t, c.ApplyFragment(next, "late"), "target is no longer last")

	for _, m := range c.Snapshot().Messages {
		assert.NotContains(t, m.Content, "orphan")
		assert.NotContains(t, m.Content, "late")
	}
}

func TestConversationFailKeepsPartialContent(t *testing.T) {
	c := NewConversation("doc-1", 0)
	session := uuid.New()
	c.BeginStream(session)
	c.ApplyFragment(session, "Partial")
	require.True(t, c.FailStream(session, errors.New("connection reset")))

	m := c.Snapshot().Messages[0]
	assert.Equal(t, "Partial", m.Content)
	assert.True(t, m.Errored)
	assert.Equal(t, "connection reset", m.Error)
	assert.False(t, m.Streaming)
}

func TestConversationBeginStreamClosesPrevious(t *testing.T) {
	c := NewConversation("doc-1", time.Hour)
	first := uuid.New()
	c.BeginStream(first)
	c.ApplyFragment(first, "pending text")

	second := uuid.New()
	c.BeginStream(second)

	snap := c.Snapshot()
	require.Len(t, snap.Messages, 2)
	assert.Equal(t, "pending text", snap.Messages[0].Content, "pending text flushed on close")
	assert.Equal(t, true, snap.Messages[0].Metadata["cancelled"])
	assert.False(t, snap.Messages[0].Streaming)
	assert.True(t, snap.Messages[1].Streaming)
	assert.Equal(t, second, snap.ActiveSession)
}

func TestConversationSnapshotsAreIsolated(t *testing.T) {
	c := NewConversation("doc-1", 0)
	session := uuid.New()
	c.BeginStream(session)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			c.ApplyFragment(session, "x")
		}
		c.CompleteStream(session, nil, false)
	}()
	for i := 0; i < 200; i++ {
		snap := c.Snapshot()
		for _, m := range snap.Messages {
			for _, r := range m.Content {
				assert.Equal(t, 'x', r)
			}
		}
	}
	wg.Wait()
	assert.Len(t, c.Snapshot().Messages[0].Content, 200)
}

func TestConversationUnsubscribe(t *testing.T) {
	c := NewConversation("doc-1", 0)
	calls := 0
	unsubscribe := c.Subscribe(func(Snapshot) { calls++ })
	c.Append(entity.Message{Role: entity.RoleUser, Content: "one"})
	unsubscribe()
	unsubscribe()
	c.Append(entity.Message{Role: entity.RoleUser, Content: "two"})
	assert.Equal(t, 1, calls)

	c.Subscribe(func(Snapshot) { panic("listener bug") })
	assert.NotPanics(t, func() { c.Append(entity.Message{Role: entity.RoleUser, Content: "three"}) })
}

func TestConversationListenerMayMutate(t *testing.T) {
	c := NewConversation("doc-1", 0)

	var mu sync.Mutex
	var versions []uint64
	c.Subscribe(func(s Snapshot) {
		mu.Lock()
		versions = append(versions, s.Version)
		mu.Unlock()
		last := s.Messages[len(s.Messages)-1]
		if last.Role == entity.RoleUser && last.Content == "What is a mole?" {
			c.Append(entity.Message{Role: entity.RoleAssistant, Content: "question received"})
		}
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Append(entity.Message{Role: entity.RoleUser, Content: "What is a mole?"})
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Append from a listener did not return")
	}

	snap := c.Snapshot()
	require.Len(t, snap.Messages, 2)
	assert.Equal(t, "question received", snap.Messages[1].Content)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []uint64{1, 2}, versions)
}
