package store

import (
	"strings"
	"sync"
	"time"

	"ai-qa-sync/internal/entity"

	"github.com/google/uuid"
)

// Snapshot is a consistent, immutable view of a conversation.
type Snapshot struct {
	TargetId      string
	Messages      []entity.Message
	Version       uint64
	ActiveSession uuid.UUID
}

type Listener func(Snapshot)

type activeStream struct {
	sessionId uuid.UUID
	messageId uuid.UUID
	pending   strings.Builder
}

// Conversation is the ordered message list for one target. Fragments only
// land on the Assistant message that the active stream session targets;
// anything else is dropped. With a coalescing window, fragments are batched
// and listeners see them at most once per window.
type Conversation struct {
	targetId string
	window   time.Duration

	// deliverMu guards the snapshot queue. Snapshots are queued under mu, so
	// listeners see versions in order, and are delivered outside both locks
	// by whichever caller finds no delivery running.
	deliverMu  sync.Mutex
	queue      []Snapshot
	delivering bool

	mu         sync.RWMutex
	messages   []entity.Message
	active     *activeStream
	version    uint64
	flushTimer *time.Timer
	flushGen   uint64

	listenersMu  sync.Mutex
	listeners    map[uint64]Listener
	nextListener uint64
}

func NewConversation(targetId string, window time.Duration) *Conversation {
	return &Conversation{
		targetId:  targetId,
		window:    window,
		listeners: make(map[uint64]Listener),
	}
}

func (c *Conversation) TargetId() string { return c.targetId }

// Append adds a finished message and returns it with Id and Timestamp set.
func (c *Conversation) Append(msg entity.Message) entity.Message {
	if msg.Id == uuid.Nil {
		msg.Id = uuid.New()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	msg.Streaming = false

	c.mutate(func() bool {
		c.messages = append(c.messages, msg.Clone())
		return true
	})
	return msg
}

// BeginStream appends the Assistant placeholder that sessionId will fill.
// A still-active previous stream is closed as cancelled first.
func (c *Conversation) BeginStream(sessionId uuid.UUID) uuid.UUID {
	msgId := uuid.New()
	c.mutate(func() bool {
		if c.active != nil {
			c.endLocked(markCancelled)
		}
		c.messages = append(c.messages, entity.Message{
			Id:        msgId,
			Role:      entity.RoleAssistant,
			Timestamp: time.Now(),
			Streaming: true,
		})
		c.active = &activeStream{sessionId: sessionId, messageId: msgId}
		return true
	})
	return msgId
}

// ApplyFragment appends text to the streaming message. It reports false, and
// changes nothing, unless sessionId is the active session and its message is
// still the last one.
func (c *Conversation) ApplyFragment(sessionId uuid.UUID, fragment string) bool {
	applied := false
	c.mutate(func() bool {
		last, ok := c.targetLocked(sessionId)
		if !ok {
			return false
		}
		applied = true
		if c.window <= 0 {
			last.Content += fragment
			return true
		}
		c.active.pending.WriteString(fragment)
		if c.flushTimer == nil {
			gen := c.flushGen
			c.flushTimer = time.AfterFunc(c.window, func() { c.flush(gen) })
		}
		return false
	})
	return applied
}

// CompleteStream finalizes the streaming message with the answer metadata.
func (c *Conversation) CompleteStream(sessionId uuid.UUID, sources []entity.Source, cached bool) bool {
	return c.end(sessionId, func(m *entity.Message) {
		if sources != nil {
			m.Sources = append([]entity.Source(nil), sources...)
		}
		m.Cached = cached
	})
}

// FailStream finalizes the streaming message as errored. Whatever content
// already arrived stays.
func (c *Conversation) FailStream(sessionId uuid.UUID, cause error) bool {
	return c.end(sessionId, func(m *entity.Message) {
		m.Errored = true
		if cause != nil {
			m.Error = cause.Error()
		}
	})
}

func (c *Conversation) CancelStream(sessionId uuid.UUID) bool {
	return c.end(sessionId, markCancelled)
}

func markCancelled(m *entity.Message) {
	if m.Metadata == nil {
		m.Metadata = map[string]interface{}{}
	}
	m.Metadata["cancelled"] = true
}

func (c *Conversation) end(sessionId uuid.UUID, finish func(*entity.Message)) bool {
	ended := false
	c.mutate(func() bool {
		if c.active == nil || c.active.sessionId != sessionId {
			return false
		}
		c.endLocked(finish)
		ended = true
		return true
	})
	return ended
}

// endLocked flushes pending text into the streaming message, finalizes it and
// drops the active stream.
func (c *Conversation) endLocked(finish func(*entity.Message)) {
	c.stopFlushLocked()
	if m := c.messageLocked(c.active.messageId); m != nil {
		m.Content += c.active.pending.String()
		m.Streaming = false
		finish(m)
	}
	c.active = nil
}

func (c *Conversation) flush(gen uint64) {
	c.mutate(func() bool {
		if gen != c.flushGen {
			return false
		}
		c.flushTimer = nil
		c.flushGen++
		if c.active == nil || c.active.pending.Len() == 0 {
			return false
		}
		m := c.messageLocked(c.active.messageId)
		if m == nil {
			return false
		}
		m.Content += c.active.pending.String()
		c.active.pending.Reset()
		return true
	})
}

func (c *Conversation) stopFlushLocked() {
	if c.flushTimer != nil {
		c.flushTimer.Stop()
		c.flushTimer = nil
	}
	c.flushGen++
}

func (c *Conversation) targetLocked(sessionId uuid.UUID) (*entity.Message, bool) {
	if c.active == nil || c.active.sessionId != sessionId || len(c.messages) == 0 {
		return nil, false
	}
	last := &c.messages[len(c.messages)-1]
	if last.Role != entity.RoleAssistant || last.Id != c.active.messageId {
		return nil, false
	}
	return last, true
}

func (c *Conversation) messageLocked(id uuid.UUID) *entity.Message {
	for i := len(c.messages) - 1; i >= 0; i-- {
		if c.messages[i].Id == id {
			return &c.messages[i]
		}
	}
	return nil
}

// mutate runs fn under the write lock and, when fn reports a change, bumps
// the version and queues the snapshot for listeners. A listener may call back
// into the conversation; its change is delivered after the current one.
func (c *Conversation) mutate(fn func() bool) {
	c.mu.Lock()
	if !fn() {
		c.mu.Unlock()
		return
	}
	c.version++
	snap := c.snapshotLocked()
	c.deliverMu.Lock()
	c.queue = append(c.queue, snap)
	c.deliverMu.Unlock()
	c.mu.Unlock()

	c.deliver()
}

func (c *Conversation) deliver() {
	c.deliverMu.Lock()
	if c.delivering {
		c.deliverMu.Unlock()
		return
	}
	c.delivering = true
	for len(c.queue) > 0 {
		snap := c.queue[0]
		c.queue = c.queue[1:]
		c.deliverMu.Unlock()
		c.notify(snap)
		c.deliverMu.Lock()
	}
	c.queue = nil
	c.delivering = false
	c.deliverMu.Unlock()
}

func (c *Conversation) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshotLocked()
}

func (c *Conversation) snapshotLocked() Snapshot {
	snap := Snapshot{
		TargetId: c.targetId,
		Messages: make([]entity.Message, len(c.messages)),
		Version:  c.version,
	}
	for i, m := range c.messages {
		snap.Messages[i] = m.Clone()
	}
	if c.active != nil {
		snap.ActiveSession = c.active.sessionId
	}
	return snap
}

// Subscribe registers l for every change. The returned func unsubscribes.
func (c *Conversation) Subscribe(l Listener) func() {
	c.listenersMu.Lock()
	id := c.nextListener
	c.nextListener++
	c.listeners[id] = l
	c.listenersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.listenersMu.Lock()
			delete(c.listeners, id)
			c.listenersMu.Unlock()
		})
	}
}

func (c *Conversation) notify(snap Snapshot) {
	c.listenersMu.Lock()
	ls := make([]Listener, 0, len(c.listeners))
	for _, l := range c.listeners {
		ls = append(ls, l)
	}
	c.listenersMu.Unlock()

	for _, l := range ls {
		safeCall[Snapshot](l, snap)
	}
}

func safeCall[T any](fn func(T), v T) {
	defer func() { _ = recover() }()
	fn(v)
}
