package queue

import (
	"context"
	"sync"
)

// Memory is an in-process queue. Tests assert on the captured jobs; the dev
// single-process mode drains them with a handler goroutine. Pending jobs
// are held in an unbounded slice so a publish never blocks or drops.
type Memory struct {
	mu      sync.Mutex
	jobs    []CampaignJob
	pending []CampaignJob
	wake    chan struct{}
}

func NewMemory() *Memory {
	return &Memory{wake: make(chan struct{}, 1)}
}

func (q *Memory) PublishCampaignJob(_ context.Context, job CampaignJob) error {
	q.mu.Lock()
	q.jobs = append(q.jobs, job)
	q.pending = append(q.pending, job)
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

// Jobs returns every job published so far.
func (q *Memory) Jobs() []CampaignJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]CampaignJob, len(q.jobs))
	copy(out, q.jobs)
	return out
}

func (q *Memory) take() (CampaignJob, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return CampaignJob{}, false
	}
	job := q.pending[0]
	q.pending = q.pending[1:]
	return job, true
}

// Consume drains published jobs until ctx is done. Handler errors are not
// retried here; the in-memory queue is for tests and development only.
func (q *Memory) Consume(ctx context.Context, handler Handler) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if job, ok := q.take(); ok {
			_ = handler(ctx, job)
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-q.wake:
		}
	}
}
