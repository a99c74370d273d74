package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"

	"ai-qa-sync/internal/dto"
	"ai-qa-sync/internal/entity"
	"ai-qa-sync/internal/pkg/apperror"
	"ai-qa-sync/internal/pkg/logger"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

const moduleStream = "StreamConsumer"

const defaultReadBuffer = 4096

type StreamEventKind int

const (
	StreamEventFragment StreamEventKind = iota
	StreamEventCompleted
	StreamEventFailed
)

func (k StreamEventKind) String() string {
	switch k {
	case StreamEventFragment:
		return "fragment"
	case StreamEventCompleted:
		return "completed"
	case StreamEventFailed:
		return "failed"
	}
	return "unknown"
}

// AnswerMeta is what the server says about an answer besides its text.
type AnswerMeta struct {
	Cached  bool
	Sources []entity.Source
}

type StreamEvent struct {
	SessionId uuid.UUID
	Kind      StreamEventKind
	Fragment  string
	Meta      AnswerMeta
	Err       error
	Retryable bool
}

// StreamOpener starts the answer request. The response body is the stream.
type StreamOpener interface {
	OpenStream(ctx context.Context, req dto.AskRequest) (*http.Response, error)
}

type StreamConsumer struct {
	opener   StreamOpener
	logger   logger.ILogger
	validate *validator.Validate
	bufSize  int
}

func NewStreamConsumer(opener StreamOpener, log logger.ILogger) *StreamConsumer {
	return &StreamConsumer{
		opener:   opener,
		logger:   log,
		validate: validator.New(),
		bufSize:  defaultReadBuffer,
	}
}

// StreamHandle is the consumer side of one session. Events come out of Next
// in arrival order: fragments, then at most one Completed or Failed.
type StreamHandle struct {
	session   *entity.StreamSession
	events    chan StreamEvent
	cancel    context.CancelFunc
	done      chan struct{}
	cancelled atomic.Bool
	once      sync.Once
}

func (h *StreamHandle) Session() *entity.StreamSession { return h.session }

func (h *StreamHandle) Id() uuid.UUID { return h.session.Id }

// Next blocks for the next event. It returns false once the stream is over
// or has been cancelled.
func (h *StreamHandle) Next(ctx context.Context) (StreamEvent, bool) {
	if h.cancelled.Load() {
		return StreamEvent{}, false
	}
	select {
	case ev, ok := <-h.events:
		if !ok || h.cancelled.Load() {
			return StreamEvent{}, false
		}
		return ev, true
	case <-ctx.Done():
		return StreamEvent{}, false
	}
}

// Cancel stops the session. Nothing is delivered after it returns, and
// calling it twice is harmless.
func (h *StreamHandle) Cancel() {
	h.once.Do(func() {
		h.cancelled.Store(true)
		h.session.Finish(entity.StreamCancelled)
		h.cancel()
	})
}

// Done is closed once the connection is released.
func (h *StreamHandle) Done() <-chan struct{} { return h.done }

func (h *StreamHandle) emit(ctx context.Context, ev StreamEvent) bool {
	if h.cancelled.Load() {
		return false
	}
	ev.SessionId = h.session.Id
	select {
	case h.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// Start validates the question and opens the stream in the background.
func (c *StreamConsumer) Start(ctx context.Context, targetId, question string) (*StreamHandle, error) {
	req := dto.AskRequest{Question: question, TargetId: targetId}
	if err := c.validate.Struct(req); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	h := &StreamHandle{
		session: entity.NewStreamSession(targetId, question),
		events:  make(chan StreamEvent),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go c.pump(runCtx, h, req)
	return h, nil
}

func (c *StreamConsumer) pump(ctx context.Context, h *StreamHandle, req dto.AskRequest) {
	defer close(h.done)
	defer close(h.events)
	defer h.cancel()

	ctx, span := otel.Tracer("ai-qa-sync/service").Start(ctx, "stream.consume")
	span.SetAttributes(
		attribute.String("session.id", h.session.Id.String()),
		attribute.String("target.id", req.TargetId),
	)
	defer span.End()

	resp, err := c.opener.OpenStream(ctx, req)
	if err != nil {
		c.fail(ctx, h, err, apperror.IsRetryable(err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.fail(ctx, h, decodeError(resp), false)
		return
	}
	meta := answerMetaFromHeaders(resp.Header)

	buf := make([]byte, c.bufSize)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			fragment := string(buf[:n])
			if !h.session.Append(fragment) {
				return
			}
			if !h.emit(ctx, StreamEvent{Kind: StreamEventFragment, Fragment: fragment}) {
				c.settleCancelled(h)
				return
			}
		}
		if errors.Is(err, io.EOF) {
			if h.session.Finish(entity.StreamCompleted) {
				h.emit(ctx, StreamEvent{Kind: StreamEventCompleted, Meta: meta})
				c.logger.Debug(moduleStream, "Stream completed", map[string]interface{}{
					"session_id": h.session.Id,
					"fragments":  len(h.session.Fragments()),
				})
			}
			return
		}
		if err != nil {
			c.fail(ctx, h, apperror.Transport(err), true)
			return
		}
	}
}

// fail reports a failure unless the session was cancelled, in which case the
// stream just ends.
func (c *StreamConsumer) fail(ctx context.Context, h *StreamHandle, err error, retryable bool) {
	if h.cancelled.Load() || ctx.Err() != nil {
		c.settleCancelled(h)
		return
	}
	if !h.session.Finish(entity.StreamFailed) {
		return
	}
	c.logger.Warn(moduleStream, "Stream failed", map[string]interface{}{
		"session_id": h.session.Id,
		"retryable":  retryable,
		"error":      err.Error(),
	})
	h.emit(ctx, StreamEvent{Kind: StreamEventFailed, Err: err, Retryable: retryable})
}

func (c *StreamConsumer) settleCancelled(h *StreamHandle) {
	if h.session.Finish(entity.StreamCancelled) {
		c.logger.Debug(moduleStream, "Stream cancelled", map[string]interface{}{"session_id": h.session.Id})
	}
}

func answerMetaFromHeaders(h http.Header) AnswerMeta {
	var meta AnswerMeta
	if v := h.Get(dto.HeaderAnswerCached); v != "" {
		meta.Cached, _ = strconv.ParseBool(v)
	}
	if v := h.Get(dto.HeaderAnswerSources); v != "" {
		_ = json.Unmarshal([]byte(v), &meta.Sources)
	}
	return meta
}
