package sandbox

import (
	"context"
	"strings"
	"sync"
	"time"

	"ai-qa-sync/internal/dto"
	"ai-qa-sync/internal/pkg/logger"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
)

const wordsPerChunk = 50

// Broadcaster delivers push frames for a job; websocket.Hub implements it.
type Broadcaster interface {
	Publish(jobId string, msg dto.PushMessage)
	Drop(jobId string)
}

type UploadRequest struct {
	TargetId string
	Filename string
	Content  []byte
	// Close push connections once progress reaches this value; 0 never.
	DropPushAt int
}

type job struct {
	req     UploadRequest
	status  dto.JobStatusResponse
	dropped bool
}

// JobSimulator walks uploaded documents through the ingestion phases,
// publishing every step and serving the latest state to pollers. Finished
// jobs expire after the retention period.
type JobSimulator struct {
	ctx       context.Context
	step      time.Duration
	retention time.Duration
	hub       Broadcaster
	knowledge *Knowledge
	logger    logger.ILogger

	// mu guards the fields of every job; jobs itself is safe for concurrent use.
	mu   sync.RWMutex
	jobs *cache.Cache
	wg   sync.WaitGroup
}

func NewJobSimulator(ctx context.Context, step, retention time.Duration, hub Broadcaster, knowledge *Knowledge, log logger.ILogger) *JobSimulator {
	if retention <= 0 {
		retention = time.Hour
	}
	return &JobSimulator{
		ctx:       ctx,
		step:      step,
		retention: retention,
		hub:       hub,
		knowledge: knowledge,
		logger:    log,
		jobs:      cache.New(cache.NoExpiration, retention),
	}
}

func (s *JobSimulator) Submit(req UploadRequest) string {
	jobId := uuid.NewString()
	total := len(strings.Fields(string(req.Content)))/wordsPerChunk + 1

	s.jobs.Set(jobId, &job{
		req: req,
		status: dto.JobStatusResponse{
			JobId:       jobId,
			Status:      "uploading",
			TotalChunks: total,
			Progress:    intPtr(0),
		},
	}, cache.NoExpiration)

	s.wg.Add(1)
	go s.run(jobId)
	s.logger.Info("JobSimulator", "Job submitted", map[string]interface{}{
		"job_id":    jobId,
		"target_id": req.TargetId,
		"file":      req.Filename,
		"chunks":    total,
	})
	return jobId
}

func (s *JobSimulator) Status(jobId string) (dto.JobStatusResponse, bool) {
	j, ok := s.lookup(jobId)
	if !ok {
		return dto.JobStatusResponse{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := j.status
	out.Progress = intPtr(*j.status.Progress)
	return out, true
}

func (s *JobSimulator) lookup(jobId string) (*job, bool) {
	v, found := s.jobs.Get(jobId)
	if !found {
		return nil, false
	}
	return v.(*job), true
}

// Wait blocks until every running job has finished.
func (s *JobSimulator) Wait() {
	s.wg.Wait()
}

func (s *JobSimulator) run(jobId string) {
	defer s.wg.Done()

	j, ok := s.lookup(jobId)
	if !ok {
		return
	}
	s.mu.RLock()
	req := j.req
	total := j.status.TotalChunks
	s.mu.RUnlock()

	steps := []func() bool{
		func() bool { return s.advance(jobId, "uploading", 5, 0, "") },
		func() bool { return s.advance(jobId, "extracting", 15, 0, "") },
	}
	for _, step := range steps {
		if !step() || !s.sleep() {
			return
		}
	}

	if strings.TrimSpace(string(req.Content)) == "" {
		s.advance(jobId, "failed", 15, 0, "document has no extractable text")
		return
	}

	if !s.advance(jobId, "chunking", 30, 0, "") || !s.sleep() {
		return
	}
	for processed := 1; processed <= total; processed++ {
		if !s.advance(jobId, "embedding", 30+60*processed/total, processed, "") || !s.sleep() {
			return
		}
	}
	if !s.advance(jobId, "finalizing", 95, total, "") || !s.sleep() {
		return
	}

	s.knowledge.Add(req.TargetId, req.Filename, string(req.Content))
	s.advance(jobId, "completed", 100, total, "")
}

func (s *JobSimulator) advance(jobId, status string, progress, processed int, message string) bool {
	j, ok := s.lookup(jobId)
	if !ok {
		return false
	}
	s.mu.Lock()
	j.status.Status = status
	j.status.Progress = intPtr(progress)
	j.status.ProcessedChunks = processed
	j.status.Message = message
	drop := j.req.DropPushAt > 0 && !j.dropped && progress >= j.req.DropPushAt
	if drop {
		j.dropped = true
	}
	s.mu.Unlock()

	if status == "completed" || status == "failed" {
		s.jobs.Set(jobId, j, s.retention)
	}

	if drop {
		// Pushed clients never see this step; they have to poll for it.
		s.hub.Drop(jobId)
	} else {
		s.hub.Publish(jobId, dto.PushMessage{
			Type:     dto.PushTypeStatus,
			Status:   status,
			Progress: intPtr(progress),
			Message:  message,
		})
	}
	return s.ctx.Err() == nil
}

func (s *JobSimulator) sleep() bool {
	select {
	case <-time.After(s.step):
		return true
	case <-s.ctx.Done():
		return false
	}
}

func intPtr(v int) *int { return &v }
