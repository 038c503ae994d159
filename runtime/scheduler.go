package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Scheduler holds the pending delay continuations, one per instance id.
// Scheduling again for the same id replaces the previous timer.
type Scheduler struct {
	l       *slog.Logger
	mu      sync.Mutex
	seq     uint64
	timers  map[string]scheduled
	closed  bool
	running sync.WaitGroup
}

type scheduled struct {
	seq   uint64
	timer *time.Timer
}

func NewScheduler(l *slog.Logger) *Scheduler {
	return &Scheduler{l: l, timers: make(map[string]scheduled)}
}

// Schedule runs fn after d unless Cancel is called for id first.
func (s *Scheduler) Schedule(id string, d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		s.l.Debug("scheduler closed, delay dropped", "instance", id)
		return
	}
	if prev, ok := s.timers[id]; ok {
		prev.timer.Stop()
	}
	s.seq++
	seq := s.seq
	t := time.AfterFunc(d, func() {
		s.mu.Lock()
		cur, ok := s.timers[id]
		if !ok || cur.seq != seq {
			s.mu.Unlock()
			return
		}
		delete(s.timers, id)
		s.running.Add(1)
		s.mu.Unlock()

		defer s.running.Done()
		fn()
	})
	s.timers[id] = scheduled{seq: seq, timer: t}
	s.l.Debug("delay scheduled", "instance", id, "after", d)
}

// Cancel stops the pending continuation for id and reports whether one existed.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.timers[id]
	if !ok {
		return false
	}
	cur.timer.Stop()
	delete(s.timers, id)
	return true
}

func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Shutdown drops every pending continuation and waits for the ones already
// running, or until ctx is done. Delays are in-memory only, so a restarted
// process leaves those instances parked on their delay node.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	for id, cur := range s.timers {
		cur.timer.Stop()
		delete(s.timers, id)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.running.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for running delay continuations: %w", ctx.Err())
	}
}
