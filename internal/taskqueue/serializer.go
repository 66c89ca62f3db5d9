// Package taskqueue provides the single-goroutine serializers, named
// worker pools, and one-shot alarms that the connections core uses in
// place of shared locks.
package taskqueue

import "sync"

// Serializer runs submitted jobs one at a time, in submission order, on a
// single dedicated goroutine: the "serial thread" the service router and
// the endpoint manager run their strategy-claim and registry mutations
// on, so those mutations never interleave.
type Serializer struct {
	name string
	jobs chan func()
	done chan struct{}
	once sync.Once
}

// NewSerializer starts a Serializer with the given name (used only for
// diagnostics) and a bounded job queue of the given depth.
func NewSerializer(name string, queueDepth int) *Serializer {
	if queueDepth <= 0 {
		queueDepth = 64
	}

	s := &Serializer{
		name: name,
		jobs: make(chan func(), queueDepth),
		done: make(chan struct{}),
	}

	go s.run()

	return s
}

// Name returns the serializer's diagnostic name.
func (s *Serializer) Name() string {
	return s.name
}

func (s *Serializer) run() {
	defer close(s.done)

	for job := range s.jobs {
		job()
	}
}

// Post enqueues job to run on the serializer's goroutine and returns
// immediately. It does not block the caller and does not report whether
// job has run.
func (s *Serializer) Post(job func()) {
	s.jobs <- job
}

// Await enqueues job and blocks until it has completed, returning
// whatever error job produces. Use this when the caller needs the
// operation's status before replying to its own caller, emulating a
// synchronous result callback without true async callbacks in Go.
func (s *Serializer) Await(job func() error) error {
	result := make(chan error, 1)

	s.Post(func() {
		result <- job()
	})

	return <-result
}

// Shutdown stops accepting new jobs and waits for the goroutine to drain
// and exit. Jobs already queued run to completion; Post after Shutdown
// panics, matching a closed channel's semantics.
func (s *Serializer) Shutdown() {
	s.once.Do(func() {
		close(s.jobs)
	})
	<-s.done
}
