package endpoint

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dantte-lp/gonearby/internal/channel"
	"github.com/dantte-lp/gonearby/internal/frame"
	"github.com/dantte-lp/gonearby/internal/taskqueue"
)

// FrameHandler processes one frame received on behalf of endpointID. It
// runs on the endpoint's reader goroutine, so a handler that needs to do
// slow work should hand off to its own serializer (the payload manager
// and the bandwidth-upgrade engine each do this).
type FrameHandler func(endpointID string, f *frame.Frame)

// LostHandler is invoked when an endpoint's reader worker exits on a read
// error, or when the keep-alive worker removes the endpoint after a
// timeout. Remove, Rebind and StopAll do not invoke it.
type LostHandler func(endpointID string, cause error)

// Manager owns every connected Endpoint's lifecycle: it starts and stops
// the per-endpoint reader and keep-alive workers, and fans incoming
// frames out to whichever components have registered interest.
type Manager struct {
	logger *slog.Logger

	serializer *taskqueue.Serializer
	readers    *taskqueue.Pool
	keepAlives *taskqueue.Pool

	mu        sync.Mutex
	endpoints map[string]*Endpoint

	handlerMu sync.RWMutex
	handlers  map[frame.Type][]FrameHandler

	lostMu sync.RWMutex
	lost   []LostHandler
}

// NewManager constructs an empty Manager.
func NewManager(logger *slog.Logger) *Manager {
	return &Manager{
		logger:     logger.With(slog.String("component", "endpoint.manager")),
		serializer: taskqueue.NewSerializer("endpoint-manager", 0),
		readers:    taskqueue.NewPool("endpoint-readers"),
		keepAlives: taskqueue.NewPool("endpoint-keepalives"),
		endpoints:  make(map[string]*Endpoint),
		handlers:   make(map[frame.Type][]FrameHandler),
	}
}

// RegisterHandler adds fn to the list of handlers invoked for frames of
// type t, across every endpoint.
func (m *Manager) RegisterHandler(t frame.Type, fn FrameHandler) {
	m.handlerMu.Lock()
	defer m.handlerMu.Unlock()
	m.handlers[t] = append(m.handlers[t], fn)
}

// OnLost registers fn to run when any endpoint's reader worker exits.
func (m *Manager) OnLost(fn LostHandler) {
	m.lostMu.Lock()
	defer m.lostMu.Unlock()
	m.lost = append(m.lost, fn)
}

// Add registers ep and starts its reader and keep-alive workers. parent's
// cancellation stops both workers.
func (m *Manager) Add(parent context.Context, ep *Endpoint) error {
	if ep.KeepAliveInterval <= 0 {
		ep.KeepAliveInterval = DefaultKeepAliveInterval
	}
	if ep.KeepAliveTimeout <= 0 {
		ep.KeepAliveTimeout = DefaultKeepAliveTimeout
	}

	err := m.serializer.Await(func() error {
		if _, exists := m.endpoints[ep.ID]; exists {
			return fmt.Errorf("endpoint manager: endpoint %q already added", ep.ID)
		}
		m.endpoints[ep.ID] = ep
		return nil
	})
	if err != nil {
		return err
	}

	m.readers.Spawn(parent, ep.ID, func(ctx context.Context, gen uint64) {
		m.readLoop(ctx, ep, gen)
	})
	m.keepAlives.Spawn(parent, ep.ID, func(ctx context.Context, gen uint64) {
		m.keepAliveLoop(ctx, ep, gen)
	})

	return nil
}

// Get returns the endpoint registered under id, if any.
func (m *Manager) Get(id string) (*Endpoint, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ep, ok := m.endpoints[id]
	return ep, ok
}

// Remove stops id's workers, closes its channel, and drops it from the
// registry. It is idempotent.
func (m *Manager) Remove(id string) {
	m.readers.Stop(id)
	m.keepAlives.Stop(id)

	m.mu.Lock()
	ep, ok := m.endpoints[id]
	delete(m.endpoints, id)
	m.mu.Unlock()

	if ok {
		_ = ep.CurrentChannel().Close()
	}
}

// Rebind swaps id's Channel for newChannel and restarts its reader and
// keep-alive workers against it, used by the bandwidth-upgrade engine
// once a new medium's channel has taken over for an existing endpoint.
// The old channel is closed after the swap. The swap itself, like every
// other mutation of which channel is current for this endpoint, runs on
// m.serializer rather than under a plain mutex.
func (m *Manager) Rebind(parent context.Context, id string, newChannel *Endpoint) error {
	m.mu.Lock()
	ep, ok := m.endpoints[id]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("endpoint manager: rebind: endpoint %q not found", id)
	}

	var old *channel.Channel
	err := m.serializer.Await(func() error {
		old = ep.setChannel(newChannel.Channel)
		if newChannel.Mediums != nil {
			ep.Mediums = newChannel.Mediums
		}
		return nil
	})
	if err != nil {
		return err
	}

	m.readers.Spawn(parent, id, func(ctx context.Context, gen uint64) {
		m.readLoop(ctx, ep, gen)
	})
	m.keepAlives.Spawn(parent, id, func(ctx context.Context, gen uint64) {
		m.keepAliveLoop(ctx, ep, gen)
	})

	_ = old.Close()

	return nil
}

// StopAll stops every endpoint's workers and closes every channel.
func (m *Manager) StopAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.endpoints))
	for id := range m.endpoints {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.Remove(id)
	}

	m.readers.Wait()
	m.keepAlives.Wait()
}

func (m *Manager) readLoop(ctx context.Context, ep *Endpoint, gen uint64) {
	// Recv has no way to abort a blocked read beyond closing the channel
	// it's reading from, so honoring ctx cancellation (taskqueue/pool.go's
	// Spawn contract) means closing this generation's channel ourselves
	// rather than relying solely on Rebind/Remove's own explicit Close.
	// ch is the channel this generation was entered with, not whatever
	// CurrentChannel reports by the time ctx is canceled -- a superseding
	// Rebind may have already swapped ep.Channel to a new medium by then,
	// and closing that would tear down the upgrade this loop has nothing
	// to do with.
	ch := ep.CurrentChannel()
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = ch.Close()
		case <-stop:
		}
	}()

	var cause error

	for {
		f, err := ep.CurrentChannel().Recv(ctx)
		if err != nil {
			cause = err
			break
		}

		if err := frame.Validate(f); err != nil {
			m.logger.Debug("dropping invalid frame",
				slog.String("endpoint_id", ep.ID),
				slog.String("error", err.Error()),
			)
			continue
		}

		m.dispatch(ep.ID, f)
	}

	// A rebind spawns a new reader against the upgraded channel and
	// closes the old one to unblock this loop's Recv; that closure
	// alone must not read as a disconnect.
	if !m.readers.IsCurrent(ep.ID, gen) {
		return
	}

	m.notifyLost(ep.ID, cause)
}

func (m *Manager) dispatch(endpointID string, f *frame.Frame) {
	m.handlerMu.RLock()
	handlers := append([]FrameHandler(nil), m.handlers[f.Type]...)
	m.handlerMu.RUnlock()

	for _, h := range handlers {
		h(endpointID, f)
	}
}

func (m *Manager) notifyLost(endpointID string, cause error) {
	m.lostMu.RLock()
	handlers := append([]LostHandler(nil), m.lost...)
	m.lostMu.RUnlock()

	for _, h := range handlers {
		h(endpointID, cause)
	}
}

func (m *Manager) keepAliveLoop(ctx context.Context, ep *Endpoint, gen uint64) {
	ticker := time.NewTicker(ep.KeepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !m.keepAlives.IsCurrent(ep.ID, gen) {
				return
			}

			if time.Since(ep.CurrentChannel().LastActivity()) > ep.KeepAliveTimeout {
				m.logger.Warn("endpoint keep-alive timeout", slog.String("endpoint_id", ep.ID))
				m.Remove(ep.ID)
				m.notifyLost(ep.ID, fmt.Errorf("endpoint manager: keep-alive timeout for %q", ep.ID))
				return
			}

			if err := ep.SendKeepAlive(); err != nil {
				m.logger.Debug("keep-alive send failed",
					slog.String("endpoint_id", ep.ID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
