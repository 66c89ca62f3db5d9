// Package router implements the service router (strategy gate): the
// single serialized work queue that owns at most one ServiceController
// at a time and arbitrates which session may advertise, discover, or
// connect under which Strategy.
package router

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/dantte-lp/gonearby/internal/endpoint"
	"github.com/dantte-lp/gonearby/internal/status"
	"github.com/dantte-lp/gonearby/internal/taskqueue"
)

// Strategy is the network topology policy a ServiceController implements
//.
type Strategy int

const (
	StrategyNone Strategy = iota
	StrategyP2PCluster
	StrategyP2PStar
	StrategyP2PPointToPoint
)

func (s Strategy) String() string {
	switch s {
	case StrategyP2PCluster:
		return "P2P_CLUSTER"
	case StrategyP2PStar:
		return "P2P_STAR"
	case StrategyP2PPointToPoint:
		return "P2P_POINT_TO_POINT"
	default:
		return "NONE"
	}
}

// controller is the strategy the Router currently enforces, shared by
// every session whose strategy matches it.
type controller struct {
	strategy Strategy
	sessions map[string]struct{}
}

// Router is the service router: every controller-affecting call runs on
// its serializer so state transitions never race.
type Router struct {
	logger     *slog.Logger
	endpoints  *endpoint.Manager
	serializer *taskqueue.Serializer

	mu         sync.Mutex
	ctrl       *controller
	sessionEps map[string]map[string]struct{}
}

// New constructs an empty Router.
func New(endpoints *endpoint.Manager, logger *slog.Logger) *Router {
	return &Router{
		logger:     logger.With(slog.String("component", "router")),
		endpoints:  endpoints,
		serializer: taskqueue.NewSerializer("service-router", 0),
		sessionEps: make(map[string]map[string]struct{}),
	}
}

// Acquire claims strategy on behalf of sessionID:
//   - if no controller exists, one is installed for strategy;
//   - if a controller exists with a matching strategy, sessionID joins it;
//   - if a controller exists with a different strategy, the caller fails
//     with AlreadyHaveActiveStrategy unless it is that controller's sole
//     remaining session and has no connected endpoints, in which case the
//     controller is replaced.
func (r *Router) Acquire(sessionID string, strategy Strategy) error {
	return r.serializer.Await(func() error {
		r.mu.Lock()
		defer r.mu.Unlock()

		if r.ctrl == nil {
			r.ctrl = &controller{strategy: strategy, sessions: map[string]struct{}{sessionID: {}}}
			return nil
		}

		if r.ctrl.strategy == strategy {
			r.ctrl.sessions[sessionID] = struct{}{}
			return nil
		}

		_, alreadyMember := r.ctrl.sessions[sessionID]
		soleSession := len(r.ctrl.sessions) == 1 && alreadyMember
		hasEndpoints := len(r.sessionEps[sessionID]) > 0

		if soleSession && !hasEndpoints {
			r.ctrl = &controller{strategy: strategy, sessions: map[string]struct{}{sessionID: {}}}
			return nil
		}

		return status.New(status.AlreadyHaveActiveStrategy, fmt.Sprintf("router already runs %s", r.ctrl.strategy))
	})
}

// CurrentStrategy reports the strategy the active controller implements,
// or StrategyNone if no controller exists.
func (r *Router) CurrentStrategy() Strategy {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ctrl == nil {
		return StrategyNone
	}
	return r.ctrl.strategy
}

// Dispatch runs fn on the router's serial thread: every
// controller-affecting call (start/stop advertising, start/stop
// discovery, request/accept/reject/disconnect, send/cancel payload,
// initiate upgrade) goes through here so state transitions never race.
func (r *Router) Dispatch(fn func() error) error {
	return r.serializer.Await(fn)
}

// RegisterEndpoint records that endpointID belongs to sessionID, so a
// later StopAllEndpoints or Detach knows to disconnect it.
func (r *Router) RegisterEndpoint(sessionID, endpointID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.sessionEps[sessionID]
	if !ok {
		set = make(map[string]struct{})
		r.sessionEps[sessionID] = set
	}
	set[endpointID] = struct{}{}
}

// UnregisterEndpoint removes the (sessionID, endpointID) association
// without touching the endpoint's connection.
func (r *Router) UnregisterEndpoint(sessionID, endpointID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if set, ok := r.sessionEps[sessionID]; ok {
		delete(set, endpointID)
	}
}

// StopAllEndpoints disconnects every endpoint owned by sessionID. Idempotent: calling it twice, or on a
// session with no endpoints, is a no-op the second time.
func (r *Router) StopAllEndpoints(sessionID string) {
	r.mu.Lock()
	set := r.sessionEps[sessionID]
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	delete(r.sessionEps, sessionID)
	r.mu.Unlock()

	for _, id := range ids {
		r.endpoints.Remove(id)
	}
}

// Detach releases sessionID's controller claim and disconnects every
// endpoint it owns. Idempotent.
func (r *Router) Detach(sessionID string) {
	r.StopAllEndpoints(sessionID)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ctrl == nil {
		return
	}

	delete(r.ctrl.sessions, sessionID)
	if len(r.ctrl.sessions) == 0 {
		r.ctrl = nil
	}
}
