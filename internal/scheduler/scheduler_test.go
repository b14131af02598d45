package scheduler

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func waitFor(t *testing.T, ch <-chan int, n int) []int {
	t.Helper()
	var got []int
	timeout := time.After(2 * time.Second)
	for len(got) < n {
		select {
		case v := <-ch:
			got = append(got, v)
		case <-timeout:
			t.Fatalf("Timed out after %d of %d jobs: %v", len(got), n, got)
		}
	}
	return got
}

func TestScheduler_Schedule(t *testing.T) {
	s := New()
	s.Start()
	defer s.Stop()

	done := make(chan int, 1)
	if err := s.Schedule("inactivity-1", time.Now().Add(20*time.Millisecond), func() { done <- 1 }); err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}

	waitFor(t, done, 1)
	if st := s.Stats(); st.Fired != 1 || st.Pending != 0 {
		t.Errorf("Unexpected stats: %+v", st)
	}
}

func TestScheduler_Ordering(t *testing.T) {
	s := New()
	s.Start()
	defer s.Stop()

	out := make(chan int, 3)
	now := time.Now()
	s.Schedule("c", now.Add(90*time.Millisecond), func() { out <- 3 })
	s.Schedule("a", now.Add(30*time.Millisecond), func() { out <- 1 })
	s.Schedule("b", now.Add(60*time.Millisecond), func() { out <- 2 })

	got := waitFor(t, out, 3)
	if got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Errorf("Jobs fired out of order: %v", got)
	}
}

func TestScheduler_Cancel(t *testing.T) {
	s := New()
	s.Start()
	defer s.Stop()

	out := make(chan int, 2)
	s.Schedule("cancelled", time.Now().Add(20*time.Millisecond), func() { out <- 1 })
	s.Schedule("marker", time.Now().Add(60*time.Millisecond), func() { out <- 2 })

	if !s.Cancel("cancelled") {
		t.Fatal("Cancel returned false")
	}
	if s.Cancel("cancelled") {
		t.Error("Second Cancel returned true")
	}

	if got := waitFor(t, out, 1); got[0] != 2 {
		t.Errorf("Cancelled job fired: %v", got)
	}
}

func TestScheduler_Reschedule(t *testing.T) {
	s := New()
	s.Start()
	defer s.Stop()

	out := make(chan int, 2)
	s.Schedule("job", time.Now().Add(time.Hour), func() { out <- 1 })
	s.Schedule("job", time.Now().Add(20*time.Millisecond), func() { out <- 10 })

	if got := waitFor(t, out, 1); got[0] != 10 {
		t.Errorf("Expected replacement job, got %v", got)
	}
	if _, ok := s.Next("job"); ok {
		t.Error("Fired job still pending")
	}
}

func TestScheduler_PanicRecovered(t *testing.T) {
	s := New()
	s.Start()
	defer s.Stop()

	out := make(chan int, 1)
	s.Schedule("boom", time.Now(), func() { panic("boom") })
	s.Schedule("after", time.Now().Add(30*time.Millisecond), func() { out <- 1 })

	waitFor(t, out, 1)
	if st := s.Stats(); st.Panics != 1 {
		t.Errorf("Expected 1 panic, got %d", st.Panics)
	}
}

func TestScheduler_Stop(t *testing.T) {
	s := New()
	s.Start()

	var mu sync.Mutex
	finished := false
	started := make(chan int, 1)
	s.Schedule("slow", time.Now(), func() {
		started <- 1
		time.Sleep(30 * time.Millisecond)
		mu.Lock()
		finished = true
		mu.Unlock()
	})
	s.Schedule("later", time.Now().Add(time.Hour), func() {})

	waitFor(t, started, 1)
	s.Stop()

	mu.Lock()
	if !finished {
		t.Error("Stop returned before the running job finished")
	}
	mu.Unlock()

	if err := s.Schedule("x", time.Now(), func() {}); !errors.Is(err, ErrStopped) {
		t.Errorf("Expected ErrStopped, got %v", err)
	}
	if due, ok := s.Next("later"); !ok || due.IsZero() {
		t.Error("Expected pending job to stay listed")
	}
}
