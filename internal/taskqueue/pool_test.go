package taskqueue

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestPoolSpawnStopsPreviousWorker(t *testing.T) {
	p := NewPool("test")

	firstCanceled := make(chan struct{})
	p.Spawn(context.Background(), "ep-1", func(ctx context.Context, _ uint64) {
		<-ctx.Done()
		close(firstCanceled)
	})

	secondStarted := make(chan struct{})
	p.Spawn(context.Background(), "ep-1", func(ctx context.Context, _ uint64) {
		close(secondStarted)
		<-ctx.Done()
	})

	select {
	case <-firstCanceled:
	case <-time.After(time.Second):
		t.Fatal("first worker was never canceled")
	}

	select {
	case <-secondStarted:
	case <-time.After(time.Second):
		t.Fatal("second worker never started")
	}

	p.StopAll()
	p.Wait()
}

func TestPoolStopCancelsNamedWorker(t *testing.T) {
	p := NewPool("test")

	canceled := make(chan struct{})
	p.Spawn(context.Background(), "ep-2", func(ctx context.Context, _ uint64) {
		<-ctx.Done()
		close(canceled)
	})

	p.Stop("ep-2")

	select {
	case <-canceled:
	case <-time.After(time.Second):
		t.Fatal("worker was never canceled by Stop")
	}

	p.Wait()
}

func TestPoolStopAllCancelsEveryWorker(t *testing.T) {
	p := NewPool("test")

	const n = 4
	var remaining int32 = n

	for i := 0; i < n; i++ {
		p.Spawn(context.Background(), string(rune('a'+i)), func(ctx context.Context, _ uint64) {
			<-ctx.Done()
			atomic.AddInt32(&remaining, -1)
		})
	}

	p.StopAll()
	p.Wait()

	if got := atomic.LoadInt32(&remaining); got != 0 {
		t.Fatalf("remaining = %d, want 0", got)
	}
}

func TestPoolParentCancelStopsWorker(t *testing.T) {
	p := NewPool("test")
	parent, cancel := context.WithCancel(context.Background())

	stopped := make(chan struct{})
	p.Spawn(parent, "ep-3", func(ctx context.Context, _ uint64) {
		<-ctx.Done()
		close(stopped)
	})

	cancel()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("worker did not observe parent cancellation")
	}

	p.Wait()
}
