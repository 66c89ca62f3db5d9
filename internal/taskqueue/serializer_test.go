package taskqueue

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestSerializerRunsJobsInOrder(t *testing.T) {
	s := NewSerializer("test", 0)
	defer s.Shutdown()

	var order []int
	done := make(chan struct{})

	for i := 0; i < 5; i++ {
		i := i
		s.Post(func() {
			order = append(order, i)
			if i == 4 {
				close(done)
			}
		})
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for jobs to run")
	}

	for i, v := range order {
		if v != i {
			t.Fatalf("order = %v, want 0..4 in sequence", order)
		}
	}
}

func TestSerializerAwaitReturnsError(t *testing.T) {
	s := NewSerializer("test", 0)
	defer s.Shutdown()

	wantErr := errors.New("boom")
	err := s.Await(func() error {
		return wantErr
	})

	if !errors.Is(err, wantErr) {
		t.Fatalf("Await err = %v, want %v", err, wantErr)
	}
}

func TestSerializerShutdownDrainsQueuedJobs(t *testing.T) {
	s := NewSerializer("test", 8)

	var ran int32
	for i := 0; i < 8; i++ {
		s.Post(func() {
			atomic.AddInt32(&ran, 1)
		})
	}

	s.Shutdown()

	if got := atomic.LoadInt32(&ran); got != 8 {
		t.Fatalf("ran = %d, want 8", got)
	}
}

func TestSerializerName(t *testing.T) {
	s := NewSerializer("router", 0)
	defer s.Shutdown()

	if s.Name() != "router" {
		t.Fatalf("Name() = %q, want %q", s.Name(), "router")
	}
}
