package entity

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type StreamState string

const (
	StreamActive    StreamState = "ACTIVE"
	StreamCompleted StreamState = "COMPLETED"
	StreamCancelled StreamState = "CANCELLED"
	StreamFailed    StreamState = "FAILED"
)

func (s StreamState) Terminal() bool {
	return s != StreamActive
}

// StreamSession is one answer being streamed for one question.
// The buffer only grows while the session is Active.
type StreamSession struct {
	Id        uuid.UUID
	TargetId  string
	Question  string
	StartedAt time.Time

	mu      sync.RWMutex
	state   StreamState
	buffer  []string
	endedAt time.Time
}

func NewStreamSession(targetId, question string) *StreamSession {
	return &StreamSession{
		Id:        uuid.New(),
		TargetId:  targetId,
		Question:  question,
		StartedAt: time.Now(),
		state:     StreamActive,
	}
}

// Append records a fragment. Returns false once the session is terminal.
func (s *StreamSession) Append(fragment string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return false
	}
	s.buffer = append(s.buffer, fragment)
	return true
}

// Finish moves an Active session to a terminal state exactly once.
func (s *StreamSession) Finish(state StreamState) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() || !state.Terminal() {
		return false
	}
	s.state = state
	s.endedAt = time.Now()
	return true
}

func (s *StreamSession) State() StreamState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *StreamSession) Fragments() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.buffer))
	copy(out, s.buffer)
	return out
}

func (s *StreamSession) EndedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.endedAt
}
