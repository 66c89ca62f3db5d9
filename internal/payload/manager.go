package payload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/dantte-lp/gonearby/internal/endpoint"
	"github.com/dantte-lp/gonearby/internal/frame"
	"github.com/dantte-lp/gonearby/internal/taskqueue"
)

// ErrCanceled is delivered to a host-side Read on an IncomingPayload when
// either side sends a CONTROL CANCELED sub-frame.
var ErrCanceled = errors.New("payload: transfer canceled")

// ErrOffsetMismatch fails an incoming transfer whose DATA chunk's offset
// does not match the running reassembly offset -- a duplicated, reordered,
// or dropped chunk.
var ErrOffsetMismatch = errors.New("payload: received chunk at unexpected offset")

// IncomingHandler is invoked once an incoming payload's header arrives,
// before its body has necessarily finished streaming in.
type IncomingHandler func(endpointID string, p *IncomingPayload)

// Manager chunks outgoing Payloads into DATA frames and reassembles
// incoming ones, one worker per in-flight outgoing transfer.
type Manager struct {
	logger    *slog.Logger
	endpoints *endpoint.Manager
	senders   *taskqueue.Pool

	mu       sync.Mutex
	incoming map[string]*incomingState

	outboundMu sync.Mutex
	outbound   map[outboundKey]frame.ControlEvent

	handlerMu  sync.RWMutex
	onIncoming []IncomingHandler
}

type incomingState struct {
	payload        *IncomingPayload
	writer         *io.PipeWriter
	expectedOffset int64
}

// outboundKey identifies one (endpoint, payload) leg of a multi-target
// outgoing transfer, used to correlate a CONTROL frame the receiver sends
// back against the sendLoop addressing it.
type outboundKey struct {
	endpointID string
	payloadID  int64
}

// NewManager constructs a Manager and registers it as the PAYLOAD_TRANSFER
// handler on mgr.
func NewManager(mgr *endpoint.Manager, logger *slog.Logger) *Manager {
	m := &Manager{
		logger:    logger.With(slog.String("component", "payload.manager")),
		endpoints: mgr,
		senders:   taskqueue.NewPool("payload-senders"),
		incoming:  make(map[string]*incomingState),
		outbound:  make(map[outboundKey]frame.ControlEvent),
	}

	mgr.RegisterHandler(frame.TypePayloadTransfer, m.handleFrame)

	return m
}

// OnIncoming registers fn to run whenever a new incoming payload's header
// arrives.
func (m *Manager) OnIncoming(fn IncomingHandler) {
	m.handlerMu.Lock()
	defer m.handlerMu.Unlock()
	m.onIncoming = append(m.onIncoming, fn)
}

// sendKey identifies one outgoing transfer's worker. A single payload sent
// to several endpoints (the normal case for a cluster/star strategy) runs
// as one worker fanning out to every target, not one worker per endpoint.
func sendKey(payloadID int64) string {
	return fmt.Sprintf("send/%d", payloadID)
}

// recvKey identifies one inbound transfer: a (sender endpoint, payload id)
// pair, since two endpoints may independently assign the same payload id.
func recvKey(endpointID string, payloadID int64) string {
	return fmt.Sprintf("%s/%d", endpointID, payloadID)
}

// SendPayload chunks p into DATA frames addressed to every id in
// endpointIDs, running on its own goroutine keyed by payload id. A target
// whose channel disappears or whose write fails is dropped from the
// transfer without aborting delivery to the rest; CancelPayload (or
// canceling ctx) aborts delivery to whichever targets remain.
func (m *Manager) SendPayload(ctx context.Context, endpointIDs []string, p *Payload) {
	ids := append([]string(nil), endpointIDs...)

	m.senders.Spawn(ctx, sendKey(p.ID), func(workerCtx context.Context, _ uint64) {
		m.sendLoop(workerCtx, ids, p)
	})
}

func (m *Manager) sendLoop(ctx context.Context, endpointIDs []string, p *Payload) {
	targets := make(map[string]*endpoint.Endpoint, len(endpointIDs))
	watched := make([]string, 0, len(endpointIDs))

	for _, id := range endpointIDs {
		ep, ok := m.endpoints.Get(id)
		if !ok {
			m.logger.Warn("send payload: unknown endpoint",
				slog.String("endpoint_id", id), slog.Int64("payload_id", p.ID))
			continue
		}
		targets[id] = ep
		watched = append(watched, id)
		m.watchOutboundControl(id, p.ID)
	}
	defer func() {
		for _, id := range watched {
			m.unwatchOutboundControl(id, p.ID)
		}
	}()

	if len(targets) == 0 {
		m.logger.Warn("send payload: no reachable endpoints", slog.Int64("payload_id", p.ID))
		return
	}

	header := frame.PayloadHeader{ID: p.ID, Type: p.Type, TotalSize: p.TotalSize}
	buf := make([]byte, MaxChunkSize)
	var offset int64

	for {
		if ctx.Err() != nil {
			m.broadcastControl(targets, header, frame.ControlEventCanceled, offset)
			return
		}

		n, readErr := p.data.Read(buf)
		last := errors.Is(readErr, io.EOF)
		if readErr != nil && !last {
			m.broadcastControl(targets, header, frame.ControlEventError, offset)
			return
		}

		chunk := &frame.PayloadChunk{Offset: offset, Body: append([]byte(nil), buf[:n]...)}
		if last {
			chunk.Flags = int32(frame.FlagLastChunk)
		}

		for id, ep := range targets {
			if event, canceled := m.drainOutboundControl(id, p.ID); canceled {
				m.logger.Debug("send payload: target reported remote cancellation",
					slog.String("endpoint_id", id), slog.Int64("payload_id", p.ID), slog.Int("event", int(event)))
				delete(targets, id)
				continue
			}

			if err := ep.CurrentChannel().WaitUntilResumed(ctx); err != nil {
				m.broadcastControl(targets, header, frame.ControlEventCanceled, offset)
				return
			}

			if err := ep.SendDataChunk(header, chunk); err != nil {
				m.logger.Warn("send data chunk failed",
					slog.String("endpoint_id", id), slog.Int64("payload_id", p.ID), slog.String("error", err.Error()))
				delete(targets, id)
			}
		}

		if len(targets) == 0 {
			m.logger.Warn("send payload: no targets remain", slog.Int64("payload_id", p.ID))
			return
		}

		offset += int64(n)

		if last {
			return
		}
	}
}

func (m *Manager) broadcastControl(targets map[string]*endpoint.Endpoint, header frame.PayloadHeader, event frame.ControlEvent, offset int64) {
	for _, ep := range targets {
		m.sendControl(ep, header, event, offset)
	}
}

func (m *Manager) sendControl(ep *endpoint.Endpoint, header frame.PayloadHeader, event frame.ControlEvent, offset int64) {
	if err := ep.SendControl(header, &frame.ControlMessage{Event: event, Offset: offset}); err != nil {
		m.logger.Debug("send control failed", slog.String("error", err.Error()))
	}
}

func (m *Manager) watchOutboundControl(endpointID string, payloadID int64) {
	m.outboundMu.Lock()
	defer m.outboundMu.Unlock()
	m.outbound[outboundKey{endpointID, payloadID}] = frame.ControlEventUnknown
}

func (m *Manager) unwatchOutboundControl(endpointID string, payloadID int64) {
	m.outboundMu.Lock()
	defer m.outboundMu.Unlock()
	delete(m.outbound, outboundKey{endpointID, payloadID})
}

// drainOutboundControl reports whether the receiver at endpointID has
// signaled CANCELED or ERROR for payloadID since the last check.
func (m *Manager) drainOutboundControl(endpointID string, payloadID int64) (frame.ControlEvent, bool) {
	m.outboundMu.Lock()
	defer m.outboundMu.Unlock()

	k := outboundKey{endpointID, payloadID}
	event, ok := m.outbound[k]
	if !ok || event == frame.ControlEventUnknown {
		return frame.ControlEventUnknown, false
	}
	return event, true
}

// recordOutboundControl delivers event to the sendLoop watching
// (endpointID, payloadID), if one is registered. It reports whether a
// watcher was found, so handleControl can tell an outbound acknowledgment
// apart from a CONTROL frame belonging to an inbound transfer.
func (m *Manager) recordOutboundControl(endpointID string, payloadID int64, event frame.ControlEvent) bool {
	m.outboundMu.Lock()
	defer m.outboundMu.Unlock()

	k := outboundKey{endpointID, payloadID}
	if _, ok := m.outbound[k]; !ok {
		return false
	}
	m.outbound[k] = event
	return true
}

// CancelPayload stops an in-flight outgoing transfer (addressed to every
// target it was sent to, not just endpointID) and notifies endpointID's
// peer, or, for an incoming transfer, closes its reader with ErrCanceled
// and notifies the peer.
func (m *Manager) CancelPayload(endpointID string, payloadID int64) {
	m.senders.Stop(sendKey(payloadID))

	key := recvKey(endpointID, payloadID)

	m.mu.Lock()
	state, ok := m.incoming[key]
	if ok {
		delete(m.incoming, key)
	}
	m.mu.Unlock()

	if ok {
		_ = state.writer.CloseWithError(ErrCanceled)
	}

	if ep, found := m.endpoints.Get(endpointID); found {
		header := frame.PayloadHeader{ID: payloadID}
		m.sendControl(ep, header, frame.ControlEventCanceled, 0)
	}
}

func (m *Manager) handleFrame(endpointID string, f *frame.Frame) {
	pt := f.PayloadTransfer

	switch pt.PacketType {
	case frame.PacketTypeData:
		m.handleData(endpointID, recvKey(endpointID, pt.Header.ID), pt)
	case frame.PacketTypeControl:
		m.handleControl(endpointID, pt)
	}
}

func (m *Manager) handleData(endpointID, key string, pt *frame.PayloadTransfer) {
	m.mu.Lock()
	state, exists := m.incoming[key]
	if !exists {
		r, w := io.Pipe()
		state = &incomingState{
			payload: &IncomingPayload{
				ID:        pt.Header.ID,
				Type:      pt.Header.Type,
				TotalSize: pt.Header.TotalSize,
				reader:    r,
			},
			writer: w,
		}
		m.incoming[key] = state
	}
	m.mu.Unlock()

	if !exists {
		m.handlerMu.RLock()
		handlers := append([]IncomingHandler(nil), m.onIncoming...)
		m.handlerMu.RUnlock()
		for _, h := range handlers {
			h(endpointID, state.payload)
		}
	}

	if pt.Chunk == nil {
		return
	}

	if pt.Chunk.Offset != state.expectedOffset {
		m.logger.Debug("incoming payload offset mismatch, failing transfer",
			slog.String("endpoint_id", endpointID),
			slog.Int64("payload_id", pt.Header.ID),
			slog.Int64("got_offset", pt.Chunk.Offset),
			slog.Int64("want_offset", state.expectedOffset),
		)
		m.failIncoming(endpointID, key, state, pt.Header, ErrOffsetMismatch)
		return
	}

	if len(pt.Chunk.Body) > 0 {
		if _, err := state.writer.Write(pt.Chunk.Body); err != nil {
			m.logger.Debug("incoming payload write failed", slog.String("error", err.Error()))
			m.failIncoming(endpointID, key, state, pt.Header, err)
			return
		}
	}
	state.expectedOffset += int64(len(pt.Chunk.Body))

	if pt.Chunk.LastChunk() {
		m.mu.Lock()
		delete(m.incoming, key)
		m.mu.Unlock()
		_ = state.writer.Close()
	}
}

// failIncoming tears down a reassembly in progress: the local reader sees
// cause, and the sender is told, via a CONTROL CANCEL, to stop sending.
func (m *Manager) failIncoming(endpointID, key string, state *incomingState, header frame.PayloadHeader, cause error) {
	m.mu.Lock()
	delete(m.incoming, key)
	m.mu.Unlock()

	_ = state.writer.CloseWithError(cause)

	if ep, found := m.endpoints.Get(endpointID); found {
		m.sendControl(ep, header, frame.ControlEventCanceled, state.expectedOffset)
	}
}

func (m *Manager) handleControl(endpointID string, pt *frame.PayloadTransfer) {
	// A CONTROL frame reporting CANCELED/ERROR for a payload id this
	// endpoint is a send target of acknowledges an outbound transfer
	// rather than driving one we're receiving.
	if m.recordOutboundControl(endpointID, pt.Header.ID, pt.Control.Event) {
		return
	}

	key := recvKey(endpointID, pt.Header.ID)

	m.mu.Lock()
	state, ok := m.incoming[key]
	if ok {
		delete(m.incoming, key)
	}
	m.mu.Unlock()

	if !ok {
		return
	}

	switch pt.Control.Event {
	case frame.ControlEventCanceled:
		_ = state.writer.CloseWithError(ErrCanceled)
	default:
		_ = state.writer.CloseWithError(fmt.Errorf("payload: remote reported error at offset %d", pt.Control.Offset))
	}
}

// StopAll stops every in-flight outgoing transfer and waits for their
// goroutines to exit (used for graceful shutdown and tests).
func (m *Manager) StopAll() {
	m.senders.StopAll()
	m.senders.Wait()
}
