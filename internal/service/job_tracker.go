package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"ai-qa-sync/internal/dto"
	"ai-qa-sync/internal/entity"
	"ai-qa-sync/internal/pkg/apperror"
	"ai-qa-sync/internal/pkg/logger"
	"ai-qa-sync/pkg/events"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

const moduleJobTracker = "JobTracker"

var errEmptyJobId = errors.New("job id is required")

type TrackerState string

const (
	TrackerConnecting TrackerState = "CONNECTING"
	TrackerLive       TrackerState = "LIVE"
	TrackerPolling    TrackerState = "POLLING"
	TrackerCompleted  TrackerState = "COMPLETED"
	TrackerFailed     TrackerState = "FAILED"
	TrackerStopped    TrackerState = "STOPPED"
)

type JobEventSource string

const (
	SourcePush    JobEventSource = "push"
	SourcePoll    JobEventSource = "poll"
	SourceTimeout JobEventSource = "timeout"
)

// JobEvent is one accepted status change.
type JobEvent struct {
	Status entity.JobStatus
	Source JobEventSource
	// Err is set when the tracker itself ended the job.
	Err error
}

// PushChannel is an open push connection; see websocket.Channel.
type PushChannel interface {
	Run(ctx context.Context, heartbeat time.Duration, handle func(dto.PushMessage) bool) error
}

type PushConnector interface {
	Connect(ctx context.Context, jobId string) (PushChannel, error)
}

type PushConnectorFunc func(ctx context.Context, jobId string) (PushChannel, error)

func (f PushConnectorFunc) Connect(ctx context.Context, jobId string) (PushChannel, error) {
	return f(ctx, jobId)
}

type StatusPoller interface {
	PollStatus(ctx context.Context, jobId string) (*dto.JobStatusResponse, error)
}

type TrackerConfig struct {
	HeartbeatInterval time.Duration
	PollInterval      time.Duration
	MaxPollAttempts   int
}

// JobTracker follows an ingestion job to a terminal status. It prefers the
// push channel and switches to polling, for good, the moment push fails.
type JobTracker struct {
	connector PushConnector
	poller    StatusPoller
	cfg       TrackerConfig
	logger    logger.ILogger
	publisher events.Publisher
}

func NewJobTracker(connector PushConnector, poller StatusPoller, cfg TrackerConfig, log logger.ILogger, publisher events.Publisher) *JobTracker {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 25 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.MaxPollAttempts <= 0 {
		cfg.MaxPollAttempts = 300
	}
	return &JobTracker{
		connector: connector,
		poller:    poller,
		cfg:       cfg,
		logger:    log,
		publisher: publisher,
	}
}

type JobHandle struct {
	jobId   string
	events  chan JobEvent
	cancel  context.CancelFunc
	done    chan struct{}
	stopped atomic.Bool
	once    sync.Once

	mu     sync.RWMutex
	state  TrackerState
	status entity.JobStatus
}

func (h *JobHandle) JobId() string { return h.jobId }

// Next blocks for the next status change. It returns false after the
// terminal event has been read, or once the handle is stopped.
func (h *JobHandle) Next(ctx context.Context) (JobEvent, bool) {
	if h.stopped.Load() {
		return JobEvent{}, false
	}
	select {
	case ev, ok := <-h.events:
		if !ok || h.stopped.Load() {
			return JobEvent{}, false
		}
		return ev, true
	case <-ctx.Done():
		return JobEvent{}, false
	}
}

// Stop ends tracking and releases the connection or timer. Idempotent.
func (h *JobHandle) Stop() {
	h.once.Do(func() {
		h.stopped.Store(true)
		h.mu.Lock()
		if !h.status.Phase.Terminal() {
			h.state = TrackerStopped
		}
		h.mu.Unlock()
		h.cancel()
	})
}

func (h *JobHandle) Done() <-chan struct{} { return h.done }

func (h *JobHandle) State() TrackerState {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

func (h *JobHandle) Status() entity.JobStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.status
}

func (h *JobHandle) setState(s TrackerState) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != TrackerStopped {
		h.state = s
	}
}

func (h *JobHandle) terminal() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.status.Phase.Terminal()
}

func (t *JobTracker) Track(ctx context.Context, jobId string) (*JobHandle, error) {
	if jobId == "" {
		return nil, errEmptyJobId
	}
	runCtx, cancel := context.WithCancel(ctx)
	h := &JobHandle{
		jobId:  jobId,
		events: make(chan JobEvent),
		cancel: cancel,
		done:   make(chan struct{}),
		state:  TrackerConnecting,
		status: entity.NewJobStatus(jobId),
	}
	go t.run(runCtx, h)
	return h, nil
}

func (t *JobTracker) run(ctx context.Context, h *JobHandle) {
	defer close(h.done)
	defer close(h.events)
	defer h.cancel()

	ctx, span := otel.Tracer("ai-qa-sync/service").Start(ctx, "job.track")
	span.SetAttributes(attribute.String("job.id", h.jobId))
	defer span.End()

	if t.tryPush(ctx, h) || ctx.Err() != nil {
		return
	}
	span.AddEvent("fallback to polling")
	t.poll(ctx, h)
}

// tryPush reports whether the job ended over the push channel.
func (t *JobTracker) tryPush(ctx context.Context, h *JobHandle) bool {
	if t.connector == nil {
		return false
	}
	ch, err := t.connector.Connect(ctx, h.jobId)
	if err != nil {
		if ctx.Err() == nil {
			t.logger.Warn(moduleJobTracker, "Push channel unavailable, polling instead", map[string]interface{}{
				"job_id": h.jobId,
				"error":  err.Error(),
			})
		}
		return false
	}

	h.setState(TrackerLive)
	err = ch.Run(ctx, t.cfg.HeartbeatInterval, func(msg dto.PushMessage) bool {
		st, ok := statusFromPush(h.Status(), msg)
		if !ok {
			return false
		}
		return t.apply(ctx, h, JobEvent{Status: st, Source: SourcePush})
	})
	if h.terminal() {
		return true
	}
	if err != nil && ctx.Err() == nil {
		t.logger.Warn(moduleJobTracker, "Push channel lost, polling instead", map[string]interface{}{
			"job_id": h.jobId,
			"error":  err.Error(),
		})
	}
	return false
}

func (t *JobTracker) poll(ctx context.Context, h *JobHandle) {
	h.setState(TrackerPolling)
	ticker := time.NewTicker(t.cfg.PollInterval)
	defer ticker.Stop()

	for attempt := 1; attempt <= t.cfg.MaxPollAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}

		resp, err := t.poller.PollStatus(ctx, h.jobId)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if apperror.IsRetryable(err) {
				t.logger.Debug(moduleJobTracker, "Poll attempt failed", map[string]interface{}{
					"job_id":  h.jobId,
					"attempt": attempt,
					"error":   err.Error(),
				})
				continue
			}
			t.apply(ctx, h, JobEvent{
				Status: entity.JobStatus{JobId: h.jobId, Phase: entity.PhaseFailed, Message: err.Error()},
				Source: SourcePoll,
				Err:    err,
			})
			return
		}

		st, ok := statusFromPoll(h.jobId, resp)
		if !ok {
			t.logger.Warn(moduleJobTracker, "Unknown job status", map[string]interface{}{"job_id": h.jobId, "status": resp.Status})
			continue
		}
		if t.apply(ctx, h, JobEvent{Status: st, Source: SourcePoll}) {
			return
		}
	}

	t.apply(ctx, h, JobEvent{
		Status: entity.JobStatus{JobId: h.jobId, Phase: entity.PhaseFailed, Message: "timed out waiting for job"},
		Source: SourceTimeout,
		Err:    apperror.Timeout("job did not finish within the polling budget"),
	})
}

// apply folds ev into the handle's status and emits it when something
// changed. It reports whether the job is now terminal.
func (t *JobTracker) apply(ctx context.Context, h *JobHandle, ev JobEvent) bool {
	h.mu.Lock()
	changed := h.status.Advance(ev.Status)
	current := h.status
	terminal := current.Phase.Terminal()
	if terminal && h.state != TrackerStopped {
		if current.Phase == entity.PhaseCompleted {
			h.state = TrackerCompleted
		} else {
			h.state = TrackerFailed
		}
	}
	h.mu.Unlock()

	if !changed {
		return terminal
	}
	ev.Status = current
	t.publish(ctx, ev)

	if !h.stopped.Load() {
		select {
		case h.events <- ev:
		case <-ctx.Done():
		}
	}
	return terminal
}

func (t *JobTracker) publish(ctx context.Context, ev JobEvent) {
	eventType := events.TypeJobStatus
	switch ev.Status.Phase {
	case entity.PhaseCompleted:
		eventType = events.TypeJobCompleted
	case entity.PhaseFailed:
		eventType = events.TypeJobFailed
	}
	events.Emit(ctx, t.publisher, events.New(eventType, map[string]interface{}{
		"job_id":   ev.Status.JobId,
		"phase":    string(ev.Status.Phase),
		"progress": ev.Status.Progress,
		"source":   string(ev.Source),
		"message":  ev.Status.Message,
	}))
	if ev.Status.Phase.Terminal() {
		t.logger.Info(moduleJobTracker, "Job finished", map[string]interface{}{
			"job_id": ev.Status.JobId,
			"phase":  ev.Status.Phase,
			"source": ev.Source,
		})
	}
}

// statusFromPush reads a status frame against the handle's current status.
// A frame without a status only carries progress or a message for the
// current phase.
func statusFromPush(current entity.JobStatus, msg dto.PushMessage) (entity.JobStatus, bool) {
	if msg.Type != dto.PushTypeStatus {
		return entity.JobStatus{}, false
	}
	phase := current.Phase
	if msg.Status != "" {
		parsed, ok := entity.ParsePhase(msg.Status)
		if !ok {
			return entity.JobStatus{}, false
		}
		phase = parsed
	}
	st := entity.JobStatus{JobId: current.JobId, Phase: phase, Message: msg.Message}
	if msg.Progress != nil {
		st.Progress = *msg.Progress
	}
	return st, true
}

func statusFromPoll(jobId string, resp *dto.JobStatusResponse) (entity.JobStatus, bool) {
	phase, ok := entity.ParsePhase(resp.Status)
	if !ok {
		return entity.JobStatus{}, false
	}
	st := entity.JobStatus{JobId: jobId, Phase: phase, Message: resp.Message}
	if resp.Progress != nil {
		st.Progress = *resp.Progress
	} else {
		st.Progress = entity.ProgressFromCounters(resp.ProcessedChunks, resp.TotalChunks)
	}
	return st, true
}
