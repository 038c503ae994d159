package runtime

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestLocker_SerializesPerKey(t *testing.T) {
	l := NewLocker()
	key := ContactKey{TenantID: "t", SessionID: "s", ContactID: "c"}

	var (
		wg      sync.WaitGroup
		inside  int32
		maxSeen int32
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.Lock(key)
			n := atomic.AddInt32(&inside, 1)
			if n > atomic.LoadInt32(&maxSeen) {
				atomic.StoreInt32(&maxSeen, n)
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()

	if maxSeen != 1 {
		t.Errorf("%d goroutines held the same key at once", maxSeen)
	}
	if l.Len() != 0 {
		t.Errorf("lock entries leaked: %d", l.Len())
	}
}

func TestLocker_IndependentKeys(t *testing.T) {
	l := NewLocker()
	a := ContactKey{TenantID: "t", SessionID: "s", ContactID: "a"}
	b := ContactKey{TenantID: "t", SessionID: "s", ContactID: "b"}

	unlockA := l.Lock(a)
	done := make(chan struct{})
	go func() {
		unlock := l.Lock(b)
		unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("locking b blocked on a")
	}
	unlockA()
}

func newTestScheduler() *Scheduler {
	return NewScheduler(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestScheduler_Fires(t *testing.T) {
	s := newTestScheduler()
	fired := make(chan struct{})
	s.Schedule("i1", 10*time.Millisecond, func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("continuation did not fire")
	}
	if s.Pending() != 0 {
		t.Errorf("pending = %d after firing", s.Pending())
	}
}

func TestScheduler_CancelAndReplace(t *testing.T) {
	s := newTestScheduler()
	var calls int32

	s.Schedule("i1", 20*time.Millisecond, func() { atomic.AddInt32(&calls, 1) })
	if !s.Cancel("i1") {
		t.Fatal("Cancel should report a pending continuation")
	}
	if s.Cancel("i1") {
		t.Error("second Cancel should report nothing pending")
	}

	replaced := make(chan struct{})
	s.Schedule("i2", 20*time.Millisecond, func() { atomic.AddInt32(&calls, 10) })
	s.Schedule("i2", 30*time.Millisecond, func() { atomic.AddInt32(&calls, 100); close(replaced) })

	select {
	case <-replaced:
	case <-time.After(time.Second):
		t.Fatal("replacement did not fire")
	}
	time.Sleep(30 * time.Millisecond)
	if got := atomic.LoadInt32(&calls); got != 100 {
		t.Errorf("calls = %d, want only the replacement to run", got)
	}
}

func TestScheduler_Shutdown(t *testing.T) {
	s := newTestScheduler()
	var calls int32
	for _, id := range []string{"a", "b", "c"} {
		s.Schedule(id, 20*time.Millisecond, func() { atomic.AddInt32(&calls, 1) })
	}
	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)
	if calls != 0 || s.Pending() != 0 {
		t.Errorf("calls = %d, pending = %d after shutdown", calls, s.Pending())
	}
}

func TestScheduler_ShutdownWaitsForRunningContinuation(t *testing.T) {
	s := newTestScheduler()
	started := make(chan struct{})
	release := make(chan struct{})
	var finished int32
	s.Schedule("a", time.Millisecond, func() {
		close(started)
		<-release
		atomic.StoreInt32(&finished, 1)
	})
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := s.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Shutdown with a running continuation = %v, want deadline exceeded", err)
	}

	close(release)
	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown after the continuation returned: %v", err)
	}
	if atomic.LoadInt32(&finished) != 1 {
		t.Error("Shutdown returned before the running continuation finished")
	}

	var calls int32
	s.Schedule("b", time.Millisecond, func() { atomic.AddInt32(&calls, 1) })
	time.Sleep(20 * time.Millisecond)
	if calls != 0 || s.Pending() != 0 {
		t.Errorf("scheduling after shutdown ran %d continuations, pending %d", calls, s.Pending())
	}
}
