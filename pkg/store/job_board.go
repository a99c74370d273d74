package store

import (
	"sync"
	"time"

	"ai-qa-sync/internal/entity"

	"github.com/patrickmn/go-cache"
)

// JobBoard holds the latest status of every tracked ingestion job. Finished
// jobs stay visible for the retention period, then expire.
type JobBoard struct {
	mu        sync.Mutex
	cache     *cache.Cache
	retention time.Duration

	listenersMu  sync.Mutex
	listeners    map[uint64]func(entity.JobStatus)
	nextListener uint64
}

func NewJobBoard(retention time.Duration) *JobBoard {
	if retention <= 0 {
		retention = time.Hour
	}
	return &JobBoard{
		cache:     cache.New(cache.NoExpiration, retention),
		retention: retention,
		listeners: make(map[uint64]func(entity.JobStatus)),
	}
}

// Register starts tracking jobId at Uploading. Registering a known job is a
// no-op.
func (b *JobBoard) Register(jobId string) entity.JobStatus {
	b.mu.Lock()
	if v, found := b.cache.Get(jobId); found {
		b.mu.Unlock()
		return v.(entity.JobStatus)
	}
	st := entity.NewJobStatus(jobId)
	b.cache.Set(jobId, st, cache.NoExpiration)
	b.mu.Unlock()

	b.notify(st)
	return st
}

// Apply folds an observed status into the board. Regressions are ignored; it
// reports whether the stored status changed.
func (b *JobBoard) Apply(next entity.JobStatus) bool {
	b.mu.Lock()
	current := entity.NewJobStatus(next.JobId)
	if v, found := b.cache.Get(next.JobId); found {
		current = v.(entity.JobStatus)
	}
	if !current.Advance(next) {
		b.mu.Unlock()
		return false
	}
	expiry := cache.NoExpiration
	if current.Phase.Terminal() {
		expiry = b.retention
	}
	b.cache.Set(next.JobId, current, expiry)
	b.mu.Unlock()

	b.notify(current)
	return true
}

func (b *JobBoard) Get(jobId string) (entity.JobStatus, bool) {
	v, found := b.cache.Get(jobId)
	if !found {
		return entity.JobStatus{}, false
	}
	return v.(entity.JobStatus), true
}

// All returns every job still on the board.
func (b *JobBoard) All() []entity.JobStatus {
	items := b.cache.Items()
	out := make([]entity.JobStatus, 0, len(items))
	for _, item := range items {
		out = append(out, item.Object.(entity.JobStatus))
	}
	return out
}

func (b *JobBoard) Subscribe(l func(entity.JobStatus)) func() {
	b.listenersMu.Lock()
	id := b.nextListener
	b.nextListener++
	b.listeners[id] = l
	b.listenersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.listenersMu.Lock()
			delete(b.listeners, id)
			b.listenersMu.Unlock()
		})
	}
}

func (b *JobBoard) notify(st entity.JobStatus) {
	b.listenersMu.Lock()
	ls := make([]func(entity.JobStatus), 0, len(b.listeners))
	for _, l := range b.listeners {
		ls = append(ls, l)
	}
	b.listenersMu.Unlock()

	for _, l := range ls {
		safeCall(l, st)
	}
}
