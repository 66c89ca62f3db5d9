// Package session implements ClientSession: the per-host state machine
// that tracks advertising/discovery records and the connection lifecycle
// of every known endpoint, and dispatches best-effort callbacks to the
// host. It coordinates the service router but owns no channels or
// frames itself.
package session

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
	"time"

	events "github.com/docker/go-events"
	"github.com/google/uuid"

	"github.com/dantte-lp/gonearby/internal/frame"
	"github.com/dantte-lp/gonearby/internal/router"
	"github.com/dantte-lp/gonearby/internal/status"
)

// Direction records which side initiated a connection.
type Direction int

const (
	DirectionOutbound Direction = iota
	DirectionInbound
)

// State is one of the states the data model assigns to a ClientSession's
// endpoint entry: Pending, LocalAccepted,
// RemoteAccepted, Connected, Disconnected.
type State int

const (
	StatePending State = iota
	StateLocalAccepted
	StateRemoteAccepted
	StateConnected
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "Pending"
	case StateLocalAccepted:
		return "LocalAccepted"
	case StateRemoteAccepted:
		return "RemoteAccepted"
	case StateConnected:
		return "Connected"
	default:
		return "Disconnected"
	}
}

// ConnectionOptions carries the negotiated per-endpoint parameters.
type ConnectionOptions struct {
	KeepAliveInterval    time.Duration
	KeepAliveTimeout     time.Duration
	AutoUpgradeBandwidth bool
}

// ConnectionListener receives the lifecycle callbacks for one endpoint,
// delivered in the order initiated → accepted/rejected → disconnected
//.
type ConnectionListener interface {
	OnInitiated(endpointID string, info []byte)
	OnAccepted(endpointID string)
	OnRejected(endpointID string, code status.Code)
	OnDisconnected(endpointID string)
}

// PayloadListener receives incoming payloads for one accepted endpoint.
// It is set once, by local_accepted, and never replaced.
type PayloadListener interface {
	OnPayloadReceived(endpointID string, payloadID int64)
}

// DiscoveryListener receives found/lost notifications while discovering.
type DiscoveryListener interface {
	OnEndpointFound(endpointID string, info []byte, medium frame.Medium)
	OnEndpointLost(endpointID string)
}

// AdvertisingRecord is the session's current advertising claim, or nil if
// the session is not advertising.
type AdvertisingRecord struct {
	ServiceID string
	Listener  ConnectionListener
	Mediums   []frame.Medium
}

// DiscoveryRecord is the session's current discovery claim, or nil if the
// session is not discovering.
type DiscoveryRecord struct {
	ServiceID string
	Listener  DiscoveryListener
	Mediums   []frame.Medium
}

type endpointEntry struct {
	direction Direction
	state     State
	info      []byte
	options   ConnectionOptions

	connectionListener ConnectionListener
	payloadListener    PayloadListener

	localResponded, localAccepted   bool
	remoteResponded, remoteAccepted bool
}

// Session is one ClientSession: one per host attach. All mutating methods are safe for concurrent use.
type Session struct {
	logger     *slog.Logger
	router     *router.Router
	sessionKey string

	clientID uint64
	queue    *events.Queue

	mu              sync.Mutex
	localEndpointID string
	advertising     *AdvertisingRecord
	discovery       *DiscoveryRecord
	endpoints       map[string]*endpointEntry
	found           map[string]string // endpoint id -> found-epoch token
}

// New constructs a Session bound to r for strategy arbitration and
// endpoint bookkeeping.
func New(r *router.Router, logger *slog.Logger) *Session {
	clientID := randomUint64()
	log := logger.With(slog.String("component", "session"))

	return &Session{
		logger:     log,
		router:     r,
		sessionKey: fmt.Sprintf("session-%016x", clientID),
		clientID:   clientID,
		queue:      events.NewQueue(&callbackSink{logger: log}),
		endpoints:  make(map[string]*endpointEntry),
		found:      make(map[string]string),
	}
}

// callbackSink adapts a plain func() callback to events.Sink so the
// session's notification queue can drive it through docker/go-events' Queue, which
// already implements ordered, non-blocking, single-consumer delivery.
type callbackSink struct {
	logger *slog.Logger
}

func (c *callbackSink) Write(event events.Event) (err error) {
	fn, ok := event.(func())
	if !ok {
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("session listener callback panicked", slog.Any("panic", r))
		}
	}()
	fn()

	return nil
}

func (c *callbackSink) Close() error { return nil }

// LocalEndpointID returns the session's current 4-character endpoint id,
// or "" if the session is Idle.
func (s *Session) LocalEndpointID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.localEndpointID
}

// ensureLocalEndpointIDLocked assigns a fresh endpoint id if the session
// does not already have one. Caller must hold s.mu.
func (s *Session) ensureLocalEndpointIDLocked() {
	if s.localEndpointID == "" {
		s.localEndpointID = deriveEndpointID(s.clientID)
	}
}

// clearLocalEndpointIDIfIdleLocked drops the local endpoint id once no
// endpoint, advertising, or discovery record references it. Caller must
// hold s.mu.
func (s *Session) clearLocalEndpointIDIfIdleLocked() {
	if len(s.endpoints) == 0 && s.advertising == nil && s.discovery == nil {
		s.localEndpointID = ""
	}
}

// StartAdvertising begins advertising serviceID under strategy. It fails with AlreadyAdvertising if the
// session is already advertising, or with whatever router.Acquire
// returns if strategy conflicts with the active controller.
func (s *Session) StartAdvertising(serviceID string, strategy router.Strategy, listener ConnectionListener, mediums []frame.Medium) error {
	s.mu.Lock()
	if s.advertising != nil {
		s.mu.Unlock()
		return status.New(status.AlreadyAdvertising, serviceID)
	}
	s.mu.Unlock()

	if err := s.router.Acquire(s.sessionKey, strategy); err != nil {
		return err
	}

	s.mu.Lock()
	s.ensureLocalEndpointIDLocked()
	s.advertising = &AdvertisingRecord{ServiceID: serviceID, Listener: listener, Mediums: mediums}
	s.mu.Unlock()

	return nil
}

// StopAdvertising ends the session's advertising record. Idempotent.
func (s *Session) StopAdvertising() {
	s.mu.Lock()
	s.advertising = nil
	s.clearLocalEndpointIDIfIdleLocked()
	s.mu.Unlock()
}

// StartDiscovering begins discovering serviceID under strategy, symmetric to StartAdvertising.
func (s *Session) StartDiscovering(serviceID string, strategy router.Strategy, listener DiscoveryListener, mediums []frame.Medium) error {
	s.mu.Lock()
	if s.discovery != nil {
		s.mu.Unlock()
		return status.New(status.AlreadyDiscovering, serviceID)
	}
	s.mu.Unlock()

	if err := s.router.Acquire(s.sessionKey, strategy); err != nil {
		return err
	}

	s.mu.Lock()
	s.ensureLocalEndpointIDLocked()
	s.discovery = &DiscoveryRecord{ServiceID: serviceID, Listener: listener, Mediums: mediums}
	s.mu.Unlock()

	return nil
}

// StopDiscovering ends the session's discovery record and forgets every
// endpoint found while it was active, so a later re-discovery delivers
// fresh found events. Idempotent.
func (s *Session) StopDiscovering() {
	s.mu.Lock()
	s.discovery = nil
	s.found = make(map[string]string)
	s.clearLocalEndpointIDIfIdleLocked()
	s.mu.Unlock()
}

// OnEndpointFound delivers a found event to the discovery listener, once
// per endpoint id until a matching OnEndpointLost.
func (s *Session) OnEndpointFound(endpointID string, info []byte, medium frame.Medium) {
	s.mu.Lock()
	if _, already := s.found[endpointID]; already {
		s.mu.Unlock()
		return
	}
	epoch := uuid.NewString()
	s.found[endpointID] = epoch
	disc := s.discovery
	s.mu.Unlock()

	if disc == nil || disc.Listener == nil {
		return
	}
	listener := disc.Listener
	s.notify(func() { listener.OnEndpointFound(endpointID, info, medium) })
}

// OnEndpointLost clears the dedup entry for endpointID and delivers a
// lost event, reopening the door for a future OnEndpointFound.
func (s *Session) OnEndpointLost(endpointID string) {
	s.mu.Lock()
	delete(s.found, endpointID)
	disc := s.discovery
	s.mu.Unlock()

	if disc == nil || disc.Listener == nil {
		return
	}
	listener := disc.Listener
	s.notify(func() { listener.OnEndpointLost(endpointID) })
}

// OnConnectionInitiated records a new (or re-offered) endpoint in state
// Pending and notifies listener:
// AlreadyConnectedToEndpoint if a Connected entry already exists.
func (s *Session) OnConnectionInitiated(endpointID string, info []byte, direction Direction, options ConnectionOptions, listener ConnectionListener) error {
	s.mu.Lock()
	if existing, ok := s.endpoints[endpointID]; ok && existing.state == StateConnected {
		s.mu.Unlock()
		return status.New(status.AlreadyConnectedToEndpoint, endpointID)
	}

	s.ensureLocalEndpointIDLocked()
	s.endpoints[endpointID] = &endpointEntry{
		direction:          direction,
		state:              StatePending,
		info:               info,
		options:            options,
		connectionListener: listener,
	}
	s.router.RegisterEndpoint(s.sessionKey, endpointID)
	s.mu.Unlock()

	if listener != nil {
		s.notify(func() { listener.OnInitiated(endpointID, info) })
	}

	return nil
}

// LocalAccepted records the local host's accept decision and sets the
// payload listener that will receive this endpoint's incoming payloads
// once Connected.
func (s *Session) LocalAccepted(endpointID string, payloadListener PayloadListener) error {
	return s.respond(endpointID, true, true, status.Success, payloadListener)
}

// LocalRejected records the local host's reject decision.
func (s *Session) LocalRejected(endpointID string) error {
	return s.respond(endpointID, true, false, status.ConnectionRejected, nil)
}

// RemoteAccepted records the remote peer's accept decision, as reported
// by a CONNECTION_RESPONSE frame.
func (s *Session) RemoteAccepted(endpointID string) error {
	return s.respond(endpointID, false, true, status.Success, nil)
}

// RemoteRejected records the remote peer's reject decision, carrying the
// status code the peer reported.
func (s *Session) RemoteRejected(endpointID string, code status.Code) error {
	return s.respond(endpointID, false, false, code, nil)
}

// respond implements the shared half of local_accepted/local_rejected/
// remote_accepted/remote_rejected: each side may respond at
// most once, and the endpoint transitions to Connected only once both
// sides have accepted.
func (s *Session) respond(endpointID string, local, accepted bool, rejectCode status.Code, payloadListener PayloadListener) error {
	s.mu.Lock()

	e, ok := s.endpoints[endpointID]
	if !ok {
		s.mu.Unlock()
		return status.New(status.EndpointUnknown, endpointID)
	}

	if local {
		if e.localResponded {
			s.mu.Unlock()
			return status.New(status.OutOfOrderAPICall, "local side already responded for "+endpointID)
		}
		e.localResponded = true
		e.localAccepted = accepted
		if accepted {
			e.payloadListener = payloadListener
		}
	} else {
		if e.remoteResponded {
			s.mu.Unlock()
			return status.New(status.OutOfOrderAPICall, "remote side already responded for "+endpointID)
		}
		e.remoteResponded = true
		e.remoteAccepted = accepted
	}

	if !accepted {
		e.state = StateDisconnected
		listener := e.connectionListener
		s.mu.Unlock()

		if listener != nil {
			s.notify(func() { listener.OnRejected(endpointID, rejectCode) })
		}
		return nil
	}

	switch {
	case e.localResponded && e.remoteResponded && e.localAccepted && e.remoteAccepted:
		e.state = StateConnected
	case local:
		e.state = StateLocalAccepted
	case e.state == StatePending:
		e.state = StateRemoteAccepted
	}

	connected := e.state == StateConnected
	listener := e.connectionListener
	s.mu.Unlock()

	if connected && listener != nil {
		s.notify(func() { listener.OnAccepted(endpointID) })
	}

	return nil
}

// OnDisconnected removes endpointID's record and, if notify, delivers
// the disconnected callback; the local endpoint id is cleared if this
// was the last reason to hold one.
func (s *Session) OnDisconnected(endpointID string, notify bool) {
	s.mu.Lock()
	e, ok := s.endpoints[endpointID]
	if ok {
		delete(s.endpoints, endpointID)
	}
	s.clearLocalEndpointIDIfIdleLocked()
	s.mu.Unlock()

	s.router.UnregisterEndpoint(s.sessionKey, endpointID)

	if !ok || !notify || e.connectionListener == nil {
		return
	}
	listener := e.connectionListener
	s.notify(func() { listener.OnDisconnected(endpointID) })
}

// State reports the current connection state of endpointID.
func (s *Session) State(endpointID string) (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.endpoints[endpointID]
	if !ok {
		return StateDisconnected, false
	}
	return e.state, true
}

// PayloadListenerFor returns the payload listener accepted for
// endpointID, if any.
func (s *Session) PayloadListenerFor(endpointID string) (PayloadListener, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.endpoints[endpointID]
	if !ok || e.payloadListener == nil {
		return nil, false
	}
	return e.payloadListener, true
}

// StopAllEndpoints disconnects every endpoint this session owns without
// releasing its controller claim. The
// session's own bookkeeping for each endpoint is cleared as the endpoint
// manager's lost-handler reports each disconnection back through
// OnDisconnected. Idempotent.
func (s *Session) StopAllEndpoints() {
	s.router.StopAllEndpoints(s.sessionKey)
}

// Detach tears down the session: every owned endpoint is disconnected,
// the controller claim is released, and advertising/discovery stop
//.
func (s *Session) Detach() {
	s.router.Detach(s.sessionKey)

	s.mu.Lock()
	s.advertising = nil
	s.discovery = nil
	s.endpoints = make(map[string]*endpointEntry)
	s.found = make(map[string]string)
	s.localEndpointID = ""
	s.mu.Unlock()

	_ = s.queue.Close()
}

// notify enqueues fn for asynchronous, in-order delivery so a host
// callback can never block the caller. The queue is closed once Detach has run, after which
// enqueuing silently fails rather than panicking a torn-down session.
func (s *Session) notify(fn func()) {
	_ = s.queue.Write(fn)
}

// deriveEndpointID produces a 4-character endpoint id: the first 4
// characters of the standard base64 encoding of
// SHA-256("client" || random_int64).
func deriveEndpointID(clientID uint64) string {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], clientID)

	h := sha256.New()
	h.Write([]byte("client"))
	h.Write(buf[:])
	sum := h.Sum(nil)

	encoded := base64.StdEncoding.EncodeToString(sum)
	return encoded[:4]
}

func randomUint64() uint64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		panic("session: crypto/rand unavailable: " + err.Error())
	}
	return binary.BigEndian.Uint64(buf[:])
}
