// Package host wires the core packages (router, endpoint manager,
// payload manager, upgrade engine, and one ClientSession per attached
// client) into the single aggregate the control-plane server dispatches
// every RPC against.
package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/dantte-lp/gonearby/internal/channel"
	"github.com/dantte-lp/gonearby/internal/endpoint"
	"github.com/dantte-lp/gonearby/internal/frame"
	"github.com/dantte-lp/gonearby/internal/medium"
	"github.com/dantte-lp/gonearby/internal/payload"
	"github.com/dantte-lp/gonearby/internal/router"
	"github.com/dantte-lp/gonearby/internal/session"
	"github.com/dantte-lp/gonearby/internal/status"
	"github.com/dantte-lp/gonearby/internal/ukey2"
	"github.com/dantte-lp/gonearby/internal/upgrade"
)

// ErrUnknownClient indicates the client handle named in a request is not
// currently attached.
var ErrUnknownClient = errors.New("host: unknown client handle")

// ErrUnsupportedMedium indicates no driver is registered for a medium
// named in a request.
var ErrUnsupportedMedium = errors.New("host: unsupported medium")

// Event is one notification the host pushes to an attached client's
// event stream: exactly one of the pointer fields below is non-nil,
// forming a tagged union.
type Event struct {
	EndpointFound        *EndpointFoundEvent
	EndpointLost         *EndpointLostEvent
	ConnectionInitiated  *ConnectionInitiatedEvent
	ConnectionAccepted   *ConnectionAcceptedEvent
	ConnectionRejected   *ConnectionRejectedEvent
	ConnectionDisconnected *ConnectionDisconnectedEvent
	PayloadReceived      *PayloadReceivedEvent
}

type EndpointFoundEvent struct {
	EndpointID string
	Info       []byte
	Medium     frame.Medium
}

type EndpointLostEvent struct {
	EndpointID string
}

type ConnectionInitiatedEvent struct {
	EndpointID string
	Info       []byte
	AuthToken  string
}

type ConnectionAcceptedEvent struct {
	EndpointID string
}

type ConnectionRejectedEvent struct {
	EndpointID string
	Code       status.Code
}

type ConnectionDisconnectedEvent struct {
	EndpointID string
}

type PayloadReceivedEvent struct {
	EndpointID string
	PayloadID  int64
}

// client is the host's bookkeeping for one attached client handle.
type client struct {
	sess   *session.Session
	events chan Event
}

// Host is the shared runtime all attached clients dispatch through: one
// Router, one endpoint Manager, one payload Manager, one upgrade Engine,
// and a registry of per-client Sessions, the full
// dependency chain assembled once per daemon process.
type Host struct {
	logger *slog.Logger

	Endpoints *endpoint.Manager
	Router    *router.Router
	Payloads  *payload.Manager
	Upgrades  *upgrade.Engine

	bgCtx    context.Context
	bgCancel context.CancelFunc

	mu                  sync.Mutex
	clients             map[string]*client
	mediums             map[frame.Medium]medium.Driver
	pending             map[string]*pendingConnection // endpoint id -> in-flight handshake
	advertisingByMedium map[frame.Medium]string        // medium -> handle currently advertising on it
	payloadSeq          int64
}

// pendingConnection tracks a dialed-but-not-yet-accepted connection so
// AcceptConnection/RejectConnection can locate its channel and auth
// token.
type pendingConnection struct {
	ch        *channel.Channel
	authToken string
	clientID  string
}

// New constructs a Host with fresh Router/Manager/Engine instances.
func New(logger *slog.Logger) *Host {
	log := logger.With(slog.String("component", "host"))
	endpoints := endpoint.NewManager(log)
	bgCtx, bgCancel := context.WithCancel(context.Background())

	h := &Host{
		logger:    log,
		Endpoints: endpoints,
		Router:    router.New(endpoints, log),
		Payloads:  payload.NewManager(endpoints, log),
		Upgrades:  upgrade.NewEngine(endpoints, log),
		bgCtx:               bgCtx,
		bgCancel:            bgCancel,
		clients:             make(map[string]*client),
		mediums:             make(map[frame.Medium]medium.Driver),
		pending:             make(map[string]*pendingConnection),
		advertisingByMedium: make(map[frame.Medium]string),
	}

	h.Payloads.OnIncoming(h.onPayloadIncoming)
	h.Endpoints.OnLost(h.onEndpointLost)

	return h
}

// RegisterMedium makes driver available for dialing and accepting
// connections on m, and shares its listener/dialer with the upgrade
// engine so bandwidth-upgrade can target the same medium.
func (h *Host) RegisterMedium(m frame.Medium, driver medium.Driver, listener medium.Listener) {
	h.mu.Lock()
	h.mediums[m] = driver
	h.mu.Unlock()

	h.Upgrades.RegisterMedium(m, listener, driver)
}

// -------------------------------------------------------------------------
// Client Lifecycle — attach_client / detach_client
// -------------------------------------------------------------------------

// AttachClient creates a new ClientSession and returns an opaque client
// handle plus the channel its events arrive on.
func (h *Host) AttachClient() (string, <-chan Event) {
	sess := session.New(h.Router, h.logger)
	handle := fmt.Sprintf("client-%016x", rand.Uint64()) //nolint:gosec // handle is an opaque lookup key, not a security token

	c := &client{sess: sess, events: make(chan Event, 64)}

	h.mu.Lock()
	h.clients[handle] = c
	h.mu.Unlock()

	return handle, c.events
}

// DetachClient tears down the client's session and closes its event
// channel.
func (h *Host) DetachClient(handle string) error {
	h.mu.Lock()
	c, ok := h.clients[handle]
	delete(h.clients, handle)
	h.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownClient, handle)
	}

	h.clearAdvertising(handle)
	c.sess.Detach()
	close(c.events)

	return nil
}

// Events returns handle's event channel, for a control-plane layer that
// attaches a streaming RPC to an already-attached client separately from
// AttachClient itself.
func (h *Host) Events(handle string) (<-chan Event, error) {
	c, err := h.lookup(handle)
	if err != nil {
		return nil, err
	}
	return c.events, nil
}

func (h *Host) lookup(handle string) (*client, error) {
	h.mu.Lock()
	c, ok := h.clients[handle]
	h.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownClient, handle)
	}
	return c, nil
}

func (c *client) push(ev Event) {
	select {
	case c.events <- ev:
	default:
		// Best-effort: a slow or absent watcher must never block the
		// session; the caller must never block.
	}
}

// -------------------------------------------------------------------------
// Advertising / Discovery
// -------------------------------------------------------------------------

// connectionListener adapts one client's event channel to
// session.ConnectionListener, enriching the initiated event with the
// auth token stashed in h.pending (the ConnectionListener interface
// itself carries no auth token parameter, so it is surfaced out-of-band).
type connectionListener struct {
	c *client
	h *Host
}

func (l connectionListener) OnInitiated(endpointID string, info []byte) {
	l.h.mu.Lock()
	p := l.h.pending[endpointID]
	l.h.mu.Unlock()

	ev := ConnectionInitiatedEvent{EndpointID: endpointID, Info: info}
	if p != nil {
		ev.AuthToken = p.authToken
	}
	l.c.push(Event{ConnectionInitiated: &ev})
}

func (l connectionListener) OnAccepted(endpointID string) {
	l.c.push(Event{ConnectionAccepted: &ConnectionAcceptedEvent{EndpointID: endpointID}})
}

func (l connectionListener) OnRejected(endpointID string, code status.Code) {
	l.c.push(Event{ConnectionRejected: &ConnectionRejectedEvent{EndpointID: endpointID, Code: code}})
}

func (l connectionListener) OnDisconnected(endpointID string) {
	l.c.push(Event{ConnectionDisconnected: &ConnectionDisconnectedEvent{EndpointID: endpointID}})
}

// discoveryListener adapts one client's event channel to
// session.DiscoveryListener.
type discoveryListener struct{ c *client }

func (l discoveryListener) OnEndpointFound(endpointID string, info []byte, m frame.Medium) {
	l.c.push(Event{EndpointFound: &EndpointFoundEvent{EndpointID: endpointID, Info: info, Medium: m}})
}

func (l discoveryListener) OnEndpointLost(endpointID string) {
	l.c.push(Event{EndpointLost: &EndpointLostEvent{EndpointID: endpointID}})
}

// payloadListener adapts one client's event channel to
// session.PayloadListener.
type payloadListener struct{ c *client }

func (l payloadListener) OnPayloadReceived(endpointID string, payloadID int64) {
	l.c.push(Event{PayloadReceived: &PayloadReceivedEvent{EndpointID: endpointID, PayloadID: payloadID}})
}

// StartAdvertising begins advertising serviceID for handle's client
// .
func (h *Host) StartAdvertising(handle, serviceID string, strategy router.Strategy, mediums []frame.Medium) error {
	c, err := h.lookup(handle)
	if err != nil {
		return err
	}
	if err := c.sess.StartAdvertising(serviceID, strategy, connectionListener{c: c, h: h}, mediums); err != nil {
		return err
	}

	h.mu.Lock()
	for _, m := range mediums {
		h.advertisingByMedium[m] = handle
	}
	h.mu.Unlock()

	return nil
}

// StopAdvertising ends handle's advertising claim.
func (h *Host) StopAdvertising(handle string) error {
	c, err := h.lookup(handle)
	if err != nil {
		return err
	}
	c.sess.StopAdvertising()
	h.clearAdvertising(handle)
	return nil
}

// clearAdvertising removes every medium->handle mapping pointing at
// handle, used when that client stops advertising or detaches.
func (h *Host) clearAdvertising(handle string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for m, hdl := range h.advertisingByMedium {
		if hdl == handle {
			delete(h.advertisingByMedium, m)
		}
	}
}

// StartDiscovering begins discovering serviceID for handle's client.
func (h *Host) StartDiscovering(handle, serviceID string, strategy router.Strategy, mediums []frame.Medium) error {
	c, err := h.lookup(handle)
	if err != nil {
		return err
	}
	return c.sess.StartDiscovering(serviceID, strategy, discoveryListener{c}, mediums)
}

// StopDiscovering ends handle's discovery claim.
func (h *Host) StopDiscovering(handle string) error {
	c, err := h.lookup(handle)
	if err != nil {
		return err
	}
	c.sess.StopDiscovering()
	return nil
}

// InjectEndpoint announces a declaratively known peer to handle's
// discovery listener without an actual wire discovery broadcast;
// restricted to Bluetooth per the declarative config contract
// (DESIGN.md, Open Question 2).
func (h *Host) InjectEndpoint(handle, endpointID string, info []byte) error {
	c, err := h.lookup(handle)
	if err != nil {
		return err
	}
	c.sess.OnEndpointFound(endpointID, info, frame.MediumBluetooth)
	return nil
}

// GetLocalEndpointID returns handle's current local endpoint id.
func (h *Host) GetLocalEndpointID(handle string) (string, error) {
	c, err := h.lookup(handle)
	if err != nil {
		return "", err
	}
	return c.sess.LocalEndpointID(), nil
}

// -------------------------------------------------------------------------
// Connection Establishment
// -------------------------------------------------------------------------

// RequestConnection dials endpointID at target over m, runs the UKEY2
// initiator handshake, exchanges CONNECTION_REQUEST/CONNECTION_RESPONSE,
// and records the endpoint in Pending state.
func (h *Host) RequestConnection(ctx context.Context, handle, endpointID, target string, m frame.Medium, info []byte, opts session.ConnectionOptions) error {
	c, err := h.lookup(handle)
	if err != nil {
		return err
	}

	h.mu.Lock()
	driver, ok := h.mediums[m]
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedMedium, m)
	}

	conn, err := driver.Dial(ctx, target)
	if err != nil {
		return fmt.Errorf("host: dial %s: %w", m, err)
	}

	ch := channel.New(conn)

	result, err := ukey2.RunInitiator(ctx, ch)
	if err != nil {
		_ = ch.Close()
		return status.New(status.Error, "handshake: "+err.Error())
	}
	ch.SetCipher(result.Cipher)

	if err := ch.Send(&frame.Frame{
		Type: frame.TypeConnectionRequest,
		ConnectionRequest: &frame.ConnectionRequest{
			EndpointID:          endpointID,
			EndpointInfo:        info,
			Mediums:             []frame.Medium{m},
			KeepAliveIntervalMS: int32(opts.KeepAliveInterval.Milliseconds()),
			KeepAliveTimeoutMS:  int32(opts.KeepAliveTimeout.Milliseconds()),
		},
	}); err != nil {
		_ = ch.Close()
		return fmt.Errorf("host: send connection_request: %w", err)
	}

	h.mu.Lock()
	h.pending[endpointID] = &pendingConnection{ch: ch, authToken: result.AuthToken, clientID: handle}
	h.mu.Unlock()

	if err := c.sess.OnConnectionInitiated(endpointID, info, session.DirectionOutbound, opts, connectionListener{c: c, h: h}); err != nil {
		_ = ch.Close()
		return err
	}

	go h.watchPendingResponse(handle, endpointID, ch)

	return nil
}

// AcceptIncomingAuto routes a freshly accepted Connection to whichever
// attached client currently advertises on m, for a composition root that
// owns one shared listener per medium instead of a listener per
// advertising client. Returns an error if no client is advertising on m.
func (h *Host) AcceptIncomingAuto(ctx context.Context, m frame.Medium, conn medium.Connection) error {
	h.mu.Lock()
	handle, ok := h.advertisingByMedium[m]
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("host: no client advertising on %s", m)
	}
	return h.AcceptIncoming(ctx, handle, conn)
}

// AcceptIncoming runs the UKEY2 responder handshake on a freshly accepted
// Connection, reads the peer's CONNECTION_REQUEST, and records the
// endpoint as a Pending, inbound entry on handle's session (the
// responder half of "request_connection").
func (h *Host) AcceptIncoming(ctx context.Context, handle string, conn medium.Connection) error {
	c, err := h.lookup(handle)
	if err != nil {
		return err
	}

	ch := channel.New(conn)

	result, err := ukey2.RunResponder(ctx, ch)
	if err != nil {
		_ = ch.Close()
		return status.New(status.ConnectionRejected, "handshake: "+err.Error())
	}
	ch.SetCipher(result.Cipher)

	f, err := ch.Recv(ctx)
	if err != nil || f.Type != frame.TypeConnectionRequest || f.ConnectionRequest == nil {
		_ = ch.Close()
		return status.New(status.ConnectionRejected, "expected connection_request")
	}
	cr := f.ConnectionRequest

	h.mu.Lock()
	h.pending[cr.EndpointID] = &pendingConnection{ch: ch, authToken: result.AuthToken, clientID: handle}
	h.mu.Unlock()

	opts := session.ConnectionOptions{
		KeepAliveInterval: time.Duration(cr.KeepAliveIntervalMS) * time.Millisecond,
		KeepAliveTimeout:  time.Duration(cr.KeepAliveTimeoutMS) * time.Millisecond,
	}
	if err := c.sess.OnConnectionInitiated(cr.EndpointID, cr.EndpointInfo, session.DirectionInbound, opts, connectionListener{c: c, h: h}); err != nil {
		_ = ch.Close()
		return err
	}

	go h.watchPendingResponse(handle, cr.EndpointID, ch)

	return nil
}

// watchPendingResponse waits for the single CONNECTION_RESPONSE frame a
// pending channel's peer may send (when the peer's side accepts or
// rejects first) and applies it through OnRemoteResponse. It reads at
// most one frame: once the endpoint is promoted, the endpoint manager's
// own read loop owns the channel.
func (h *Host) watchPendingResponse(handle, endpointID string, ch *channel.Channel) {
	f, err := ch.Recv(h.bgCtx)
	if err != nil {
		return
	}
	if f.Type != frame.TypeConnectionResponse || f.ConnectionResponse == nil {
		return
	}
	if err := h.OnRemoteResponse(h.bgCtx, handle, endpointID, status.Code(f.ConnectionResponse.Status)); err != nil {
		h.logger.Warn("apply connection_response failed", slog.String("endpoint_id", endpointID), slog.String("error", err.Error()))
	}
}

// AcceptConnection records handle's accept decision for endpointID,
// immediately tells the peer over the pending channel so its own
// accept/reject can progress independently, and, once both sides have
// accepted, promotes the pending channel into a live Endpoint owned by
// the endpoint manager ("accept_connection").
func (h *Host) AcceptConnection(ctx context.Context, handle, endpointID string) error {
	c, err := h.lookup(handle)
	if err != nil {
		return err
	}

	if err := c.sess.LocalAccepted(endpointID, payloadListener{c}); err != nil {
		return err
	}

	h.mu.Lock()
	p, ok := h.pending[endpointID]
	h.mu.Unlock()
	if ok {
		if err := p.ch.Send(&frame.Frame{
			Type:               frame.TypeConnectionResponse,
			ConnectionResponse: &frame.ConnectionResponse{Status: int32(status.Success)},
		}); err != nil {
			h.logger.Warn("send connection_response failed", slog.String("endpoint_id", endpointID), slog.String("error", err.Error()))
		}
	}

	return h.promoteIfConnected(ctx, handle, endpointID)
}

// RejectConnection records handle's reject decision for endpointID,
// sending a CONNECTION_RESPONSE carrying
// ConnectionRejected and discarding the pending channel.
func (h *Host) RejectConnection(handle, endpointID string) error {
	c, err := h.lookup(handle)
	if err != nil {
		return err
	}

	if err := c.sess.LocalRejected(endpointID); err != nil {
		return err
	}

	h.mu.Lock()
	p, ok := h.pending[endpointID]
	delete(h.pending, endpointID)
	h.mu.Unlock()

	if ok {
		_ = p.ch.Send(&frame.Frame{
			Type:               frame.TypeConnectionResponse,
			ConnectionResponse: &frame.ConnectionResponse{Status: int32(status.ConnectionRejected)},
		})
		_ = p.ch.Close()
	}

	return nil
}

// OnRemoteResponse applies a peer's CONNECTION_RESPONSE (read by the
// caller off the pending channel before promotion) to endpointID's
// session entry.
func (h *Host) OnRemoteResponse(ctx context.Context, handle, endpointID string, code status.Code) error {
	c, err := h.lookup(handle)
	if err != nil {
		return err
	}

	if code == status.Success {
		if err := c.sess.RemoteAccepted(endpointID); err != nil {
			return err
		}
		return h.promoteIfConnected(ctx, handle, endpointID)
	}

	return c.sess.RemoteRejected(endpointID, code)
}

// promoteIfConnected moves endpointID from the pending-channel table
// into the endpoint manager once the session reports it Connected.
func (h *Host) promoteIfConnected(ctx context.Context, handle, endpointID string) error {
	c, err := h.lookup(handle)
	if err != nil {
		return err
	}

	st, ok := c.sess.State(endpointID)
	if !ok || st != session.StateConnected {
		return nil
	}

	h.mu.Lock()
	p, ok := h.pending[endpointID]
	delete(h.pending, endpointID)
	h.mu.Unlock()
	if !ok {
		return nil
	}

	ep := &endpoint.Endpoint{ID: endpointID, Channel: p.ch, Mediums: []frame.Medium{p.ch.Medium()}}
	if err := h.Endpoints.Add(ctx, ep); err != nil {
		return fmt.Errorf("host: promote endpoint %q: %w", endpointID, err)
	}

	return nil
}

// -------------------------------------------------------------------------
// Payload Transfer
// -------------------------------------------------------------------------

// SendPayload sends a Bytes payload of body to every id in endpointIDs and
// returns the payload id assigned; a target missing from the endpoint
// registry is dropped from the send rather than failing the whole call,
// unless none of them are connected. Stream and File payloads are
// available to in-process callers through the payload package directly;
// the control-plane wire surface only carries Bytes bodies.
func (h *Host) SendPayload(ctx context.Context, handle string, endpointIDs []string, body []byte) (int64, error) {
	if _, err := h.lookup(handle); err != nil {
		return 0, err
	}

	connected := make([]string, 0, len(endpointIDs))
	for _, id := range endpointIDs {
		if _, ok := h.Endpoints.Get(id); ok {
			connected = append(connected, id)
		}
	}
	if len(connected) == 0 {
		return 0, status.New(status.NotConnectedToEndpoint, strings.Join(endpointIDs, ","))
	}

	h.mu.Lock()
	h.payloadSeq++
	id := h.payloadSeq
	h.mu.Unlock()

	h.Payloads.SendPayload(ctx, connected, payload.NewBytesPayload(id, body))

	return id, nil
}

// CancelPayload cancels payloadID on endpointID.
func (h *Host) CancelPayload(handle, endpointID string, payloadID int64) error {
	if _, err := h.lookup(handle); err != nil {
		return err
	}
	h.Payloads.CancelPayload(endpointID, payloadID)
	return nil
}

func (h *Host) onPayloadIncoming(endpointID string, p *payload.IncomingPayload) {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		if listener, ok := c.sess.PayloadListenerFor(endpointID); ok {
			listener.OnPayloadReceived(endpointID, p.ID)
			return
		}
	}
}

// -------------------------------------------------------------------------
// Disconnection / Bandwidth Upgrade
// -------------------------------------------------------------------------

// DisconnectFromEndpoint tears down endpointID for handle's client.
// Idempotent.
func (h *Host) DisconnectFromEndpoint(handle, endpointID string) error {
	c, err := h.lookup(handle)
	if err != nil {
		return err
	}
	h.Endpoints.Remove(endpointID)
	c.sess.OnDisconnected(endpointID, true)
	return nil
}

// StopAllEndpoints disconnects every endpoint owned by handle's client
// . Idempotent.
func (h *Host) StopAllEndpoints(handle string) error {
	c, err := h.lookup(handle)
	if err != nil {
		return err
	}
	c.sess.StopAllEndpoints()
	return nil
}

// InitiateBandwidthUpgrade moves endpointID onto newMedium.
func (h *Host) InitiateBandwidthUpgrade(ctx context.Context, handle, endpointID string, newMedium frame.Medium, credentials *frame.UpgradePathInfo) error {
	if _, err := h.lookup(handle); err != nil {
		return err
	}
	return h.Upgrades.InitiateUpgrade(ctx, endpointID, newMedium, credentials)
}

func (h *Host) onEndpointLost(endpointID string, cause error) {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	if cause != nil {
		h.logger.Debug("endpoint lost", slog.String("endpoint_id", endpointID), slog.String("error", cause.Error()))
	}

	for _, c := range clients {
		if _, ok := c.sess.State(endpointID); ok {
			c.sess.OnDisconnected(endpointID, true)
		}
	}
}

// Close stops every endpoint worker and payload transfer (used at daemon
// shutdown).
func (h *Host) Close() {
	h.bgCancel()
	h.Payloads.StopAll()
	h.Endpoints.StopAll()
}
