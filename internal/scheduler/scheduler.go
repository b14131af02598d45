// Package scheduler runs one-shot jobs at deadlines kept in a min-heap.
// Jobs are keyed by id; scheduling an existing id replaces its deadline.
package scheduler

import (
	"container/heap"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arequipa/aire-server/internal/logger"
)

// ErrStopped is returned by Schedule after Stop
var ErrStopped = errors.New("scheduler is stopped")

type job struct {
	id    string
	due   time.Time
	run   func()
	index int
}

type jobHeap []*job

func (h jobHeap) Len() int           { return len(h) }
func (h jobHeap) Less(i, j int) bool { return h[i].due.Before(h[j].due) }

func (h jobHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *jobHeap) Push(x interface{}) {
	j := x.(*job)
	j.index = len(*h)
	*h = append(*h, j)
}

func (h *jobHeap) Pop() interface{} {
	old := *h
	n := len(old)
	j := old[n-1]
	old[n-1] = nil
	j.index = -1
	*h = old[:n-1]
	return j
}

// Scheduler fires jobs when their deadline passes
type Scheduler struct {
	mu      sync.Mutex
	jobs    jobHeap
	byID    map[string]*job
	stopped bool

	wakeup  chan struct{}
	stopCh  chan struct{}
	loopWg  sync.WaitGroup
	running sync.WaitGroup

	fired  atomic.Uint64
	panics atomic.Uint64
}

// New creates a stopped scheduler; call Start to begin firing jobs
func New() *Scheduler {
	return &Scheduler{
		byID:   make(map[string]*job),
		wakeup: make(chan struct{}, 1),
		stopCh: make(chan struct{}),
	}
}

// Start runs the scheduling loop
func (s *Scheduler) Start() {
	s.loopWg.Add(1)
	go s.loop()
}

// Stop halts the loop and waits for running jobs. Pending jobs never fire.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	close(s.stopCh)
	s.mu.Unlock()

	s.loopWg.Wait()
	s.running.Wait()
}

// Schedule runs fn at due, replacing any job with the same id
func (s *Scheduler) Schedule(id string, due time.Time, fn func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrStopped
	}

	if existing, ok := s.byID[id]; ok {
		heap.Remove(&s.jobs, existing.index)
	}

	j := &job{id: id, due: due, run: fn}
	heap.Push(&s.jobs, j)
	s.byID[id] = j

	if s.jobs[0] == j {
		select {
		case s.wakeup <- struct{}{}:
		default:
		}
	}
	return nil
}

// Cancel removes a pending job and reports whether it existed
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.byID[id]
	if !ok {
		return false
	}
	heap.Remove(&s.jobs, j.index)
	delete(s.byID, id)
	return true
}

// Next returns the deadline of a pending job
func (s *Scheduler) Next(id string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.byID[id]
	if !ok {
		return time.Time{}, false
	}
	return j.due, true
}

func (s *Scheduler) loop() {
	defer s.loopWg.Done()

	for {
		s.mu.Lock()
		if s.stopped {
			s.mu.Unlock()
			return
		}

		wait := time.Hour
		if len(s.jobs) > 0 {
			next := s.jobs[0]
			wait = time.Until(next.due)
			if wait <= 0 {
				heap.Pop(&s.jobs)
				delete(s.byID, next.id)
				s.running.Add(1)
				s.mu.Unlock()

				go s.fire(next)
				continue
			}
		}
		s.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-s.wakeup:
			timer.Stop()
		case <-s.stopCh:
			timer.Stop()
			return
		}
	}
}

func (s *Scheduler) fire(j *job) {
	defer s.running.Done()
	defer func() {
		if r := recover(); r != nil {
			s.panics.Add(1)
			log := logger.WithComponent("scheduler")
			log.Error().
				Str("job", j.id).
				Interface("panic", r).
				Msg("scheduled job panicked")
		}
	}()

	s.fired.Add(1)
	j.run()
}

// Stats returns scheduler statistics
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	pending := len(s.jobs)
	s.mu.Unlock()

	return Stats{
		Pending: pending,
		Fired:   s.fired.Load(),
		Panics:  s.panics.Load(),
	}
}

// Stats contains scheduler counters
type Stats struct {
	Pending int
	Fired   uint64
	Panics  uint64
}
