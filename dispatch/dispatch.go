// Package dispatch is the boundary between the engine and message delivery.
// The engine hands fully-resolved jobs to a Sink; everything past the sink
// (sessions, sockets, provider APIs) is someone else's problem.
package dispatch

import (
	"context"
	"sync"

	"github.com/c360/replyflow/event"
)

// Sink accepts jobs for delivery. Enqueue returning nil means the job is
// durably handed off; the engine treats it as sent for state purposes.
type Sink interface {
	Enqueue(ctx context.Context, job event.DispatchJob) error
}

// MemorySink collects jobs in memory. Used in tests and as a null sink.
type MemorySink struct {
	mu   sync.Mutex
	jobs []event.DispatchJob

	// FailWith, when set, makes Enqueue return this error instead of
	// recording the job.
	FailWith error
}

// NewMemorySink creates an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Enqueue implements Sink.
func (s *MemorySink) Enqueue(_ context.Context, job event.DispatchJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailWith != nil {
		return s.FailWith
	}
	s.jobs = append(s.jobs, job)
	return nil
}

// Jobs returns a copy of the enqueued jobs in order.
func (s *MemorySink) Jobs() []event.DispatchJob {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]event.DispatchJob, len(s.jobs))
	copy(out, s.jobs)
	return out
}

// Len returns the number of enqueued jobs.
func (s *MemorySink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// Reset drops all recorded jobs.
func (s *MemorySink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = nil
}
