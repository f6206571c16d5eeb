// Package job tracks async runs submitted over the API. The store is
// bounded in both directions: finished jobs expire after a TTL, and a
// max size evicts the oldest entries when submissions outpace expiry.
// Jobs are bookkeeping only; the runs they produce live in the results
// store.
package job

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openquant/crucible/internal/core"
)

// Status is a job's lifecycle phase.
type Status string

const (
	StatusPending  Status = "pending"
	StatusRunning  Status = "running"
	StatusComplete Status = "complete"
	StatusFailed   Status = "failed"
)

// terminal reports whether a status can no longer change.
func (s Status) terminal() bool {
	return s == StatusComplete || s == StatusFailed
}

// Failure is a failed job's terminal error, flattened for transport.
type Failure struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// FailureFrom flattens an error, keeping the structured code when the
// error carries one.
func FailureFrom(err error) *Failure {
	if err == nil {
		return nil
	}
	var cerr *core.Error
	if errors.As(err, &cerr) {
		msg := cerr.Message
		if cerr.Cause != nil {
			msg += ": " + cerr.Cause.Error()
		}
		return &Failure{Code: cerr.Code, Message: msg}
	}
	return &Failure{Code: core.ErrRunFailed.Code, Message: err.Error()}
}

// Job is one submitted run. Result holds a small completion summary;
// the full record is read from the results store under its run ID.
type Job struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Status    Status    `json:"status"`
	Progress  int       `json:"progress"`
	Result    any       `json:"result,omitempty"`
	Error     *Failure  `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store is an in-memory job table.
type Store struct {
	mu      sync.RWMutex
	jobs    map[string]*Job
	order   []string // insertion order, oldest first
	maxSize int
	ttl     time.Duration
}

// NewStore creates a job store holding at most maxSize jobs, expiring
// finished ones after ttl.
func NewStore(maxSize int, ttl time.Duration) *Store {
	return &Store{
		jobs:    make(map[string]*Job),
		order:   make([]string, 0, maxSize),
		maxSize: maxSize,
		ttl:     ttl,
	}
}

// Create registers a new pending job.
func (s *Store) Create(kind string) *Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.purgeLocked(time.Now())
	if len(s.order) >= s.maxSize && len(s.order) > 0 {
		oldest := s.order[0]
		delete(s.jobs, oldest)
		s.order = s.order[1:]
	}

	now := time.Now()
	j := &Job{
		ID:        uuid.NewString(),
		Kind:      kind,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.jobs[j.ID] = j
	s.order = append(s.order, j.ID)

	cp := *j
	return &cp
}

// Get returns a copy of the job, or ErrJobNotFound when it never
// existed, was evicted, or has expired.
func (s *Store) Get(id string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.jobs[id]
	if !ok || s.expired(j, time.Now()) {
		return nil, core.WrapError(core.ErrJobNotFound, nil)
	}
	cp := *j
	return &cp, nil
}

// Update applies fn to the job under the write lock and stamps
// UpdatedAt. Workers finishing after their job was evicted get
// ErrJobNotFound and must treat it as a no-op.
func (s *Store) Update(id string, fn func(*Job)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return core.WrapError(core.ErrJobNotFound, nil)
	}
	fn(j)
	j.UpdatedAt = time.Now()
	return nil
}

// List returns unexpired jobs, newest first.
func (s *Store) List() []Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now()
	out := make([]Job, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		j := s.jobs[s.order[i]]
		if j == nil || s.expired(j, now) {
			continue
		}
		out = append(out, *j)
	}
	return out
}

// Active counts pending and running jobs of a kind.
func (s *Store) Active(kind string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, j := range s.jobs {
		if j.Kind == kind && !j.Status.terminal() {
			n++
		}
	}
	return n
}

// expired reports whether a finished job has outlived the TTL. Jobs
// still pending or running never expire; they are evicted only by the
// size bound.
func (s *Store) expired(j *Job, now time.Time) bool {
	return j.Status.terminal() && now.Sub(j.UpdatedAt) > s.ttl
}

func (s *Store) purgeLocked(now time.Time) {
	kept := s.order[:0]
	for _, id := range s.order {
		j := s.jobs[id]
		if j != nil && s.expired(j, now) {
			delete(s.jobs, id)
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
}
