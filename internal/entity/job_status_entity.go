package entity

import (
	"strings"
	"time"
)

type JobPhase string

const (
	PhaseUploading  JobPhase = "UPLOADING"
	PhaseExtracting JobPhase = "EXTRACTING"
	PhaseChunking   JobPhase = "CHUNKING"
	PhaseEmbedding  JobPhase = "EMBEDDING"
	PhaseFinalizing JobPhase = "FINALIZING"
	PhaseCompleted  JobPhase = "COMPLETED"
	PhaseFailed     JobPhase = "FAILED"
)

var phaseRank = map[JobPhase]int{
	PhaseUploading:  1,
	PhaseExtracting: 2,
	PhaseChunking:   3,
	PhaseEmbedding:  4,
	PhaseFinalizing: 5,
	PhaseCompleted:  6,
	PhaseFailed:     7,
}

var phaseAliases = map[string]JobPhase{
	"uploading":  PhaseUploading,
	"pending":    PhaseUploading,
	"queued":     PhaseUploading,
	"extracting": PhaseExtracting,
	"processing": PhaseExtracting,
	"chunking":   PhaseChunking,
	"embedding":  PhaseEmbedding,
	"finalizing": PhaseFinalizing,
	"completed":  PhaseCompleted,
	"complete":   PhaseCompleted,
	"ready":      PhaseCompleted,
	"done":       PhaseCompleted,
	"failed":     PhaseFailed,
	"error":      PhaseFailed,
}

// ParsePhase maps a wire status onto the phase vocabulary.
func ParsePhase(status string) (JobPhase, bool) {
	phase, ok := phaseAliases[strings.ToLower(strings.TrimSpace(status))]
	return phase, ok
}

func (p JobPhase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseFailed
}

func (p JobPhase) Valid() bool {
	_, ok := phaseRank[p]
	return ok
}

// JobStatus is the last known state of one ingestion job.
type JobStatus struct {
	JobId     string    `json:"job_id"`
	Phase     JobPhase  `json:"phase"`
	Progress  int       `json:"progress"`
	Message   string    `json:"message,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

func NewJobStatus(jobId string) JobStatus {
	return JobStatus{
		JobId:     jobId,
		Phase:     PhaseUploading,
		UpdatedAt: time.Now(),
	}
}

// Advance folds an observed status into s.
//
// Phase and progress never move backwards; Failed is accepted from any
// non-terminal phase and a terminal status is never left. Completed pins
// progress to 100. It returns whether anything visible changed.
func (s *JobStatus) Advance(next JobStatus) bool {
	if s.Phase.Terminal() || !next.Phase.Valid() {
		return false
	}

	if next.Phase == PhaseFailed {
		s.Phase = PhaseFailed
		if next.Message != "" {
			s.Message = next.Message
		}
		s.UpdatedAt = time.Now()
		return true
	}

	if phaseRank[next.Phase] < phaseRank[s.Phase] {
		return false
	}

	progress := clampProgress(next.Progress)
	if next.Phase == PhaseCompleted {
		progress = 100
	}
	if progress < s.Progress {
		progress = s.Progress
	}

	changed := next.Phase != s.Phase || progress != s.Progress ||
		(next.Message != "" && next.Message != s.Message)
	if !changed {
		return false
	}

	s.Phase = next.Phase
	s.Progress = progress
	if next.Message != "" {
		s.Message = next.Message
	}
	s.UpdatedAt = time.Now()
	return true
}

func clampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// ProgressFromCounters turns processed/total units into a percentage.
func ProgressFromCounters(processed, total int) int {
	if total <= 0 {
		return 0
	}
	return clampProgress(processed * 100 / total)
}
