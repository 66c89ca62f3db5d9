// Package upgrade implements the bandwidth-upgrade engine: moving an
// already-connected endpoint from its current medium (typically
// Bluetooth, used only to bootstrap the connection) onto a
// higher-throughput one such as Wi-Fi LAN, without the host ever seeing
// the swap.
//
// The exchange runs four BANDWIDTH_UPGRADE_NEGOTIATION events:
//  1. UPGRADE_PATH_AVAILABLE, sent over the prior channel by the
//     initiator, carrying the new medium's UpgradePathInfo credentials.
//  2. CLIENT_INTRODUCTION, sent over the newly dialed channel by the
//     responder, naming the endpoint id the new channel belongs to.
//  3. LAST_WRITE_TO_PRIOR_CHANNEL, sent over the prior channel by each
//     side once its new channel is set up.
//  4. SAFE_TO_CLOSE_PRIOR_CHANNEL, sent over the prior channel by each
//     side once the peer's LAST_WRITE_TO_PRIOR_CHANNEL has arrived;
//     CloseDelay after the peer's SAFE_TO_CLOSE_PRIOR_CHANNEL arrives,
//     each side rebinds the endpoint to the new channel, which closes the
//     prior one. Each wait for a peer event gives up after 5*CloseDelay.
package upgrade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dantte-lp/gonearby/internal/channel"
	"github.com/dantte-lp/gonearby/internal/endpoint"
	"github.com/dantte-lp/gonearby/internal/frame"
	"github.com/dantte-lp/gonearby/internal/medium"
	"github.com/dantte-lp/gonearby/internal/ukey2"
)

// ErrUpgradeInProgress is returned by InitiateUpgrade when an upgrade is
// already running for the given endpoint.
var ErrUpgradeInProgress = errors.New("upgrade: already in progress for this endpoint")

// CloseDelay is how long the engine waits after SAFE_TO_CLOSE_PRIOR_CHANNEL
// before actually closing the prior channel, giving any frame already in
// flight on it time to arrive.
const CloseDelay = 2 * time.Second

// Engine drives bandwidth-upgrade negotiations for every connected
// endpoint.
type Engine struct {
	logger    *slog.Logger
	endpoints *endpoint.Manager

	mu        sync.Mutex
	inFlight  map[string]*attempt
	listeners map[frame.Medium]medium.Listener
	dialers   map[frame.Medium]medium.Dialer
}

type attempt struct {
	id             string
	priorLastWrite chan struct{}
	safeToClose    chan struct{}
}

// NewEngine constructs an Engine and registers it as the
// BANDWIDTH_UPGRADE_NEGOTIATION handler on mgr.
func NewEngine(mgr *endpoint.Manager, logger *slog.Logger) *Engine {
	e := &Engine{
		logger:    logger.With(slog.String("component", "upgrade.engine")),
		endpoints: mgr,
		inFlight:  make(map[string]*attempt),
		listeners: make(map[frame.Medium]medium.Listener),
		dialers:   make(map[frame.Medium]medium.Dialer),
	}

	mgr.RegisterHandler(frame.TypeBandwidthUpgradeNegotiation, e.handleFrame)

	return e
}

// RegisterMedium makes a driver's listener and dialer available as an
// upgrade target.
func (e *Engine) RegisterMedium(m frame.Medium, ln medium.Listener, dialer medium.Dialer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners[m] = ln
	e.dialers[m] = dialer
}

// InitiateUpgrade moves endpointID's channel onto newMedium. credentials
// describes how the responder should dial back in (e.g. the tcplan
// listener's bound address for WIFI_LAN).
func (e *Engine) InitiateUpgrade(ctx context.Context, endpointID string, newMedium frame.Medium, credentials *frame.UpgradePathInfo) error {
	e.mu.Lock()
	if _, exists := e.inFlight[endpointID]; exists {
		e.mu.Unlock()
		return ErrUpgradeInProgress
	}
	attemptID := uuid.NewString()
	e.inFlight[endpointID] = &attempt{
		id:             attemptID,
		priorLastWrite: make(chan struct{}, 2),
		safeToClose:    make(chan struct{}, 2),
	}
	e.mu.Unlock()

	e.logger.Info("upgrade attempt started",
		slog.String("upgrade_id", attemptID),
		slog.String("endpoint_id", endpointID),
		slog.String("medium", newMedium.String()),
	)

	ep, ok := e.endpoints.Get(endpointID)
	if !ok {
		e.clearAttempt(endpointID)
		return fmt.Errorf("upgrade: unknown endpoint %q", endpointID)
	}

	e.mu.Lock()
	ln, hasListener := e.listeners[newMedium]
	e.mu.Unlock()
	if !hasListener {
		e.clearAttempt(endpointID)
		return fmt.Errorf("upgrade: %w: no listener registered for %s", medium.ErrUnsupported, newMedium)
	}

	if err := ep.SendBandwidthUpgrade(&frame.BandwidthUpgradeNegotiation{
		EventType:   frame.UpgradeEventUpgradePathAvailable,
		UpgradePath: credentials,
	}); err != nil {
		e.clearAttempt(endpointID)
		return fmt.Errorf("upgrade: send upgrade_path_available: %w", err)
	}

	go e.acceptNewChannel(ctx, endpointID, ln)

	return nil
}

func (e *Engine) acceptNewChannel(ctx context.Context, endpointID string, ln medium.Listener) {
	conn, err := ln.Accept(ctx)
	if err != nil {
		e.logger.Warn("upgrade: accept on new medium failed", slog.String("endpoint_id", endpointID), slog.String("error", err.Error()))
		e.clearAttempt(endpointID)
		return
	}

	newCh := channel.New(conn)

	result, err := ukey2.RunResponder(ctx, newCh)
	if err != nil {
		e.logger.Warn("upgrade: handshake failed on new medium", slog.String("endpoint_id", endpointID), slog.String("error", err.Error()))
		_ = newCh.Close()
		e.clearAttempt(endpointID)
		return
	}
	newCh.SetCipher(result.Cipher)

	introFrame, err := newCh.Recv(ctx)
	if err != nil {
		e.logger.Warn("upgrade: recv client_introduction failed", slog.String("endpoint_id", endpointID), slog.String("error", err.Error()))
		_ = newCh.Close()
		e.clearAttempt(endpointID)
		return
	}
	if introFrame.Type != frame.TypeBandwidthUpgradeNegotiation ||
		introFrame.BandwidthUpgradeNegotiation == nil ||
		introFrame.BandwidthUpgradeNegotiation.EventType != frame.UpgradeEventClientIntroduction ||
		introFrame.BandwidthUpgradeNegotiation.ClientIntroductionEndpointID != endpointID {
		e.logger.Warn("upgrade: unexpected frame in place of client_introduction", slog.String("endpoint_id", endpointID))
		_ = newCh.Close()
		e.clearAttempt(endpointID)
		return
	}

	e.completeUpgrade(ctx, endpointID, newCh)
}

// DialNewMedium is run by the responder side of the negotiation once it
// receives UPGRADE_PATH_AVAILABLE: it dials the new medium, runs the
// initiator side of UKEY2, announces itself with CLIENT_INTRODUCTION,
// and rebinds the endpoint.
func (e *Engine) DialNewMedium(ctx context.Context, endpointID string, target string, upgradePath *frame.UpgradePathInfo) error {
	e.mu.Lock()
	dialer, ok := e.dialers[upgradePath.Medium]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("upgrade: %w: no dialer registered for %s", medium.ErrUnsupported, upgradePath.Medium)
	}

	conn, err := dialer.Dial(ctx, target)
	if err != nil {
		return fmt.Errorf("upgrade: dial new medium: %w", err)
	}

	newCh := channel.New(conn)

	result, err := ukey2.RunInitiator(ctx, newCh)
	if err != nil {
		_ = newCh.Close()
		return fmt.Errorf("upgrade: handshake on new medium: %w", err)
	}
	newCh.SetCipher(result.Cipher)

	if err := newCh.Send(&frame.Frame{
		Type: frame.TypeBandwidthUpgradeNegotiation,
		BandwidthUpgradeNegotiation: &frame.BandwidthUpgradeNegotiation{
			EventType:                    frame.UpgradeEventClientIntroduction,
			ClientIntroductionEndpointID: endpointID,
		},
	}); err != nil {
		_ = newCh.Close()
		return fmt.Errorf("upgrade: send client_introduction: %w", err)
	}

	e.completeUpgrade(ctx, endpointID, newCh)
	return nil
}

func (e *Engine) completeUpgrade(ctx context.Context, endpointID string, newCh *channel.Channel) {
	ep, ok := e.endpoints.Get(endpointID)
	if !ok {
		_ = newCh.Close()
		e.clearAttempt(endpointID)
		return
	}

	if err := ep.SendBandwidthUpgrade(&frame.BandwidthUpgradeNegotiation{
		EventType: frame.UpgradeEventLastWriteToPrior,
	}); err != nil {
		e.logger.Debug("upgrade: send last_write_to_prior failed", slog.String("error", err.Error()))
	}

	e.waitPriorLastWrite(ctx, endpointID)

	if err := ep.SendBandwidthUpgrade(&frame.BandwidthUpgradeNegotiation{
		EventType: frame.UpgradeEventSafeToClosePrior,
	}); err != nil {
		e.logger.Debug("upgrade: send safe_to_close_prior failed", slog.String("error", err.Error()))
	}

	e.waitSafeToClose(ctx, endpointID)

	if err := e.endpoints.Rebind(ctx, endpointID, &endpoint.Endpoint{Channel: newCh, Mediums: []frame.Medium{newCh.Medium()}}); err != nil {
		e.logger.Warn("upgrade: rebind failed", slog.String("endpoint_id", endpointID), slog.String("error", err.Error()))
	}

	e.clearAttempt(endpointID)
}

func (e *Engine) waitPriorLastWrite(ctx context.Context, endpointID string) {
	e.mu.Lock()
	a := e.inFlight[endpointID]
	e.mu.Unlock()
	if a == nil {
		return
	}
	select {
	case <-a.priorLastWrite:
	case <-ctx.Done():
	case <-time.After(CloseDelay * 5):
	}
}

func (e *Engine) waitSafeToClose(ctx context.Context, endpointID string) {
	e.mu.Lock()
	a := e.inFlight[endpointID]
	e.mu.Unlock()
	if a == nil {
		return
	}
	select {
	case <-a.safeToClose:
	case <-ctx.Done():
	case <-time.After(CloseDelay * 5):
	}
	time.Sleep(CloseDelay)
}

func (e *Engine) clearAttempt(endpointID string) {
	e.mu.Lock()
	a := e.inFlight[endpointID]
	delete(e.inFlight, endpointID)
	e.mu.Unlock()

	if a != nil {
		e.logger.Info("upgrade attempt finished", slog.String("upgrade_id", a.id), slog.String("endpoint_id", endpointID))
	}
}

func (e *Engine) handleFrame(endpointID string, f *frame.Frame) {
	bun := f.BandwidthUpgradeNegotiation

	switch bun.EventType {
	case frame.UpgradeEventUpgradePathAvailable:
		e.logger.Info("upgrade path available", slog.String("endpoint_id", endpointID), slog.String("medium", bun.UpgradePath.Medium.String()))
		// The host (or session layer) is responsible for choosing the
		// dial target and calling DialNewMedium; the engine only parses
		// and surfaces the offer here.
	case frame.UpgradeEventLastWriteToPrior:
		e.signal(endpointID, func(a *attempt) { a.priorLastWrite <- struct{}{} })
	case frame.UpgradeEventSafeToClosePrior:
		e.signal(endpointID, func(a *attempt) { a.safeToClose <- struct{}{} })
	}
}

func (e *Engine) signal(endpointID string, fn func(*attempt)) {
	e.mu.Lock()
	a, ok := e.inFlight[endpointID]
	e.mu.Unlock()
	if ok {
		fn(a)
	}
}
