package service

import (
	"context"
	"sync"
	"time"

	"ai-qa-sync/internal/entity"
	"ai-qa-sync/internal/pkg/logger"
	"ai-qa-sync/pkg/events"
	"ai-qa-sync/pkg/store"

	"github.com/google/uuid"
)

const moduleChat = "ChatService"

// Turn is one question and its streamed answer.
type Turn struct {
	TargetId  string
	MessageId uuid.UUID
	handle    *StreamHandle
	done      chan struct{}
}

func (t *Turn) SessionId() uuid.UUID { return t.handle.Id() }

func (t *Turn) Session() *entity.StreamSession { return t.handle.Session() }

// Done is closed once the answer has settled in the conversation.
func (t *Turn) Done() <-chan struct{} { return t.done }

// ChatService keeps one conversation per target and at most one answer
// streaming into each.
type ChatService struct {
	consumer  *StreamConsumer
	window    time.Duration
	logger    logger.ILogger
	publisher events.Publisher

	mu            sync.Mutex
	conversations map[string]*store.Conversation
	active        map[string]*Turn
}

func NewChatService(consumer *StreamConsumer, window time.Duration, log logger.ILogger, publisher events.Publisher) *ChatService {
	return &ChatService{
		consumer:      consumer,
		window:        window,
		logger:        log,
		publisher:     publisher,
		conversations: make(map[string]*store.Conversation),
		active:        make(map[string]*Turn),
	}
}

func (s *ChatService) Conversation(targetId string) *store.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationLocked(targetId)
}

func (s *ChatService) conversationLocked(targetId string) *store.Conversation {
	conv, ok := s.conversations[targetId]
	if !ok {
		conv = store.NewConversation(targetId, s.window)
		s.conversations[targetId] = conv
	}
	return conv
}

// Ask streams an answer to question into the target's conversation. An
// answer still streaming for the same target is cancelled first.
func (s *ChatService) Ask(ctx context.Context, targetId, question string) (*Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv := s.conversationLocked(targetId)
	if prev := s.active[targetId]; prev != nil {
		s.cancelLocked(ctx, conv, prev)
	}

	h, err := s.consumer.Start(ctx, targetId, question)
	if err != nil {
		return nil, err
	}

	conv.Append(entity.Message{Role: entity.RoleUser, Content: question})
	turn := &Turn{
		TargetId:  targetId,
		MessageId: conv.BeginStream(h.Id()),
		handle:    h,
		done:      make(chan struct{}),
	}
	s.active[targetId] = turn

	go s.drain(ctx, conv, turn)
	return turn, nil
}

// Cancel stops the answer streaming for targetId, if any.
func (s *ChatService) Cancel(ctx context.Context, targetId string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	turn := s.active[targetId]
	if turn == nil {
		return false
	}
	s.cancelLocked(ctx, s.conversationLocked(targetId), turn)
	return true
}

func (s *ChatService) cancelLocked(ctx context.Context, conv *store.Conversation, turn *Turn) {
	turn.handle.Cancel()
	if conv.CancelStream(turn.handle.Id()) {
		events.Emit(ctx, s.publisher, events.New(events.TypeStreamCancelled, map[string]interface{}{
			"target_id":  turn.TargetId,
			"session_id": turn.handle.Id().String(),
		}))
	}
	delete(s.active, turn.TargetId)
}

func (s *ChatService) drain(ctx context.Context, conv *store.Conversation, turn *Turn) {
	defer close(turn.done)
	h := turn.handle
	payload := func() map[string]interface{} {
		return map[string]interface{}{
			"target_id":  turn.TargetId,
			"session_id": h.Id().String(),
			"message_id": turn.MessageId.String(),
		}
	}

	for {
		ev, ok := h.Next(context.Background())
		if !ok {
			break
		}
		switch ev.Kind {
		case StreamEventFragment:
			conv.ApplyFragment(h.Id(), ev.Fragment)

		case StreamEventCompleted:
			if conv.CompleteStream(h.Id(), ev.Meta.Sources, ev.Meta.Cached) {
				data := payload()
				data["cached"] = ev.Meta.Cached
				events.Emit(ctx, s.publisher, events.New(events.TypeStreamCompleted, data))
			}

		case StreamEventFailed:
			if conv.FailStream(h.Id(), ev.Err) {
				data := payload()
				data["error"] = ev.Err.Error()
				data["retryable"] = ev.Retryable
				events.Emit(ctx, s.publisher, events.New(events.TypeStreamFailed, data))
				s.logger.Warn(moduleChat, "Answer failed", data)
			}
		}
	}

	// Parent context ended without an explicit cancel.
	if h.Session().State() == entity.StreamCancelled {
		conv.CancelStream(h.Id())
	}

	s.mu.Lock()
	if s.active[turn.TargetId] == turn {
		delete(s.active, turn.TargetId)
	}
	s.mu.Unlock()
}
