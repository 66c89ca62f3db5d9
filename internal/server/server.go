// Package server implements the ConnectRPC control plane for the
// connections-core daemon, wrapping a *host.Host.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"connectrpc.com/connect"

	"github.com/dantte-lp/gonearby/internal/frame"
	"github.com/dantte-lp/gonearby/internal/host"
	"github.com/dantte-lp/gonearby/internal/router"
	"github.com/dantte-lp/gonearby/internal/session"
	"github.com/dantte-lp/gonearby/internal/status"
)

// serviceName names the RPC service for procedure paths, mirroring the
// "<package>.<Service>" shape protoc-gen-connect-go would have produced
// had a .proto schema and toolchain been available.
const serviceName = "nearby.v1.NearbyService"

// Sentinel errors for the server package.
var (
	// ErrInvalidMedium indicates an unrecognized medium name in the request.
	ErrInvalidMedium = errors.New("invalid medium name")

	// ErrInvalidStrategy indicates an unrecognized strategy name in the request.
	ErrInvalidStrategy = errors.New("invalid strategy name")
)

func procedure(method string) string {
	return "/" + serviceName + "/" + method
}

// Procedure returns the full RPC path for method, for callers (nearbyctl,
// integration tests) constructing a connect.Client directly against this
// service instead of going through a generated client.
func Procedure(method string) string {
	return procedure(method)
}

// NearbyServer implements every RPC by delegating to a *host.Host. It is
// a thin adapter between the wire shapes in types.go and the domain API.
type NearbyServer struct {
	host   *host.Host
	logger *slog.Logger
}

// New creates a NearbyServer wrapping h and returns the base path and an
// http.Handler to mount at that path (e.g. via http.ServeMux.Handle).
func New(h *host.Host, logger *slog.Logger, opts ...connect.HandlerOption) (string, http.Handler) {
	srv := &NearbyServer{
		host:   h,
		logger: logger.With(slog.String("component", "server")),
	}

	opts = append([]connect.HandlerOption{connect.WithCodec(Codec{})}, opts...)

	mux := http.NewServeMux()
	mux.Handle(procedure("AttachClient"), connect.NewUnaryHandler(procedure("AttachClient"), srv.AttachClient, opts...))
	mux.Handle(procedure("DetachClient"), connect.NewUnaryHandler(procedure("DetachClient"), srv.DetachClient, opts...))
	mux.Handle(procedure("StartAdvertising"), connect.NewUnaryHandler(procedure("StartAdvertising"), srv.StartAdvertising, opts...))
	mux.Handle(procedure("StopAdvertising"), connect.NewUnaryHandler(procedure("StopAdvertising"), srv.StopAdvertising, opts...))
	mux.Handle(procedure("StartDiscovering"), connect.NewUnaryHandler(procedure("StartDiscovering"), srv.StartDiscovering, opts...))
	mux.Handle(procedure("StopDiscovering"), connect.NewUnaryHandler(procedure("StopDiscovering"), srv.StopDiscovering, opts...))
	mux.Handle(procedure("InjectEndpoint"), connect.NewUnaryHandler(procedure("InjectEndpoint"), srv.InjectEndpoint, opts...))
	mux.Handle(procedure("GetLocalEndpointID"), connect.NewUnaryHandler(procedure("GetLocalEndpointID"), srv.GetLocalEndpointID, opts...))
	mux.Handle(procedure("RequestConnection"), connect.NewUnaryHandler(procedure("RequestConnection"), srv.RequestConnection, opts...))
	mux.Handle(procedure("AcceptConnection"), connect.NewUnaryHandler(procedure("AcceptConnection"), srv.AcceptConnection, opts...))
	mux.Handle(procedure("RejectConnection"), connect.NewUnaryHandler(procedure("RejectConnection"), srv.RejectConnection, opts...))
	mux.Handle(procedure("SendPayload"), connect.NewUnaryHandler(procedure("SendPayload"), srv.SendPayload, opts...))
	mux.Handle(procedure("CancelPayload"), connect.NewUnaryHandler(procedure("CancelPayload"), srv.CancelPayload, opts...))
	mux.Handle(procedure("DisconnectFromEndpoint"), connect.NewUnaryHandler(procedure("DisconnectFromEndpoint"), srv.DisconnectFromEndpoint, opts...))
	mux.Handle(procedure("StopAllEndpoints"), connect.NewUnaryHandler(procedure("StopAllEndpoints"), srv.StopAllEndpoints, opts...))
	mux.Handle(procedure("InitiateBandwidthUpgrade"), connect.NewUnaryHandler(procedure("InitiateBandwidthUpgrade"), srv.InitiateBandwidthUpgrade, opts...))
	mux.Handle(procedure("WatchEvents"), connect.NewServerStreamHandler(procedure("WatchEvents"), srv.WatchEvents, opts...))

	return "/" + serviceName + "/", mux
}

// -------------------------------------------------------------------------
// Client Lifecycle
// -------------------------------------------------------------------------

func (s *NearbyServer) AttachClient(ctx context.Context, _ *connect.Request[AttachClientRequest]) (*connect.Response[AttachClientResponse], error) {
	handle, _ := s.host.AttachClient()
	s.logger.InfoContext(ctx, "AttachClient called", slog.String("client_handle", handle))
	return connect.NewResponse(&AttachClientResponse{ClientHandle: handle}), nil
}

func (s *NearbyServer) DetachClient(ctx context.Context, req *connect.Request[DetachClientRequest]) (*connect.Response[DetachClientResponse], error) {
	s.logger.InfoContext(ctx, "DetachClient called", slog.String("client_handle", req.Msg.ClientHandle))

	if err := s.host.DetachClient(req.Msg.ClientHandle); err != nil {
		return nil, mapHostError(err, "detach client")
	}
	return connect.NewResponse(&DetachClientResponse{}), nil
}

// -------------------------------------------------------------------------
// Advertising / Discovery
// -------------------------------------------------------------------------

func (s *NearbyServer) StartAdvertising(ctx context.Context, req *connect.Request[StartAdvertisingRequest]) (*connect.Response[StartAdvertisingResponse], error) {
	strat, err := parseStrategy(req.Msg.Strategy)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	mediums, err := parseMediums(req.Msg.Mediums)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}

	if err := s.host.StartAdvertising(req.Msg.ClientHandle, req.Msg.ServiceID, strat, mediums); err != nil {
		return nil, mapHostError(err, "start advertising")
	}
	return connect.NewResponse(&StartAdvertisingResponse{}), nil
}

func (s *NearbyServer) StopAdvertising(ctx context.Context, req *connect.Request[StopAdvertisingRequest]) (*connect.Response[StopAdvertisingResponse], error) {
	if err := s.host.StopAdvertising(req.Msg.ClientHandle); err != nil {
		return nil, mapHostError(err, "stop advertising")
	}
	return connect.NewResponse(&StopAdvertisingResponse{}), nil
}

func (s *NearbyServer) StartDiscovering(ctx context.Context, req *connect.Request[StartDiscoveringRequest]) (*connect.Response[StartDiscoveringResponse], error) {
	strat, err := parseStrategy(req.Msg.Strategy)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	mediums, err := parseMediums(req.Msg.Mediums)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}

	if err := s.host.StartDiscovering(req.Msg.ClientHandle, req.Msg.ServiceID, strat, mediums); err != nil {
		return nil, mapHostError(err, "start discovering")
	}
	return connect.NewResponse(&StartDiscoveringResponse{}), nil
}

func (s *NearbyServer) StopDiscovering(ctx context.Context, req *connect.Request[StopDiscoveringRequest]) (*connect.Response[StopDiscoveringResponse], error) {
	if err := s.host.StopDiscovering(req.Msg.ClientHandle); err != nil {
		return nil, mapHostError(err, "stop discovering")
	}
	return connect.NewResponse(&StopDiscoveringResponse{}), nil
}

func (s *NearbyServer) InjectEndpoint(ctx context.Context, req *connect.Request[InjectEndpointRequest]) (*connect.Response[InjectEndpointResponse], error) {
	if err := s.host.InjectEndpoint(req.Msg.ClientHandle, req.Msg.EndpointID, req.Msg.EndpointInfo); err != nil {
		return nil, mapHostError(err, "inject endpoint")
	}
	return connect.NewResponse(&InjectEndpointResponse{}), nil
}

func (s *NearbyServer) GetLocalEndpointID(ctx context.Context, req *connect.Request[GetLocalEndpointIDRequest]) (*connect.Response[GetLocalEndpointIDResponse], error) {
	id, err := s.host.GetLocalEndpointID(req.Msg.ClientHandle)
	if err != nil {
		return nil, mapHostError(err, "get local endpoint id")
	}
	return connect.NewResponse(&GetLocalEndpointIDResponse{EndpointID: id}), nil
}

// -------------------------------------------------------------------------
// Connection Establishment
// -------------------------------------------------------------------------

func (s *NearbyServer) RequestConnection(ctx context.Context, req *connect.Request[RequestConnectionRequest]) (*connect.Response[RequestConnectionResponse], error) {
	m, err := parseMedium(req.Msg.Medium)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}

	opts := session.ConnectionOptions{
		KeepAliveInterval:    durationFromMS(req.Msg.KeepAliveIntervalMS),
		KeepAliveTimeout:     durationFromMS(req.Msg.KeepAliveTimeoutMS),
		AutoUpgradeBandwidth: req.Msg.AutoUpgradeBandwidth,
	}

	if err := s.host.RequestConnection(ctx, req.Msg.ClientHandle, req.Msg.EndpointID, req.Msg.Target, m, req.Msg.EndpointInfo, opts); err != nil {
		return nil, mapHostError(err, "request connection")
	}
	return connect.NewResponse(&RequestConnectionResponse{}), nil
}

func (s *NearbyServer) AcceptConnection(ctx context.Context, req *connect.Request[AcceptConnectionRequest]) (*connect.Response[AcceptConnectionResponse], error) {
	if err := s.host.AcceptConnection(ctx, req.Msg.ClientHandle, req.Msg.EndpointID); err != nil {
		return nil, mapHostError(err, "accept connection")
	}
	return connect.NewResponse(&AcceptConnectionResponse{}), nil
}

func (s *NearbyServer) RejectConnection(ctx context.Context, req *connect.Request[RejectConnectionRequest]) (*connect.Response[RejectConnectionResponse], error) {
	if err := s.host.RejectConnection(req.Msg.ClientHandle, req.Msg.EndpointID); err != nil {
		return nil, mapHostError(err, "reject connection")
	}
	return connect.NewResponse(&RejectConnectionResponse{}), nil
}

// -------------------------------------------------------------------------
// Payload Transfer
// -------------------------------------------------------------------------

func (s *NearbyServer) SendPayload(ctx context.Context, req *connect.Request[SendPayloadRequest]) (*connect.Response[SendPayloadResponse], error) {
	id, err := s.host.SendPayload(ctx, req.Msg.ClientHandle, req.Msg.EndpointIDs, req.Msg.Body)
	if err != nil {
		return nil, mapHostError(err, "send payload")
	}
	return connect.NewResponse(&SendPayloadResponse{PayloadID: id}), nil
}

func (s *NearbyServer) CancelPayload(ctx context.Context, req *connect.Request[CancelPayloadRequest]) (*connect.Response[CancelPayloadResponse], error) {
	if err := s.host.CancelPayload(req.Msg.ClientHandle, req.Msg.EndpointID, req.Msg.PayloadID); err != nil {
		return nil, mapHostError(err, "cancel payload")
	}
	return connect.NewResponse(&CancelPayloadResponse{}), nil
}

// -------------------------------------------------------------------------
// Disconnection / Bandwidth Upgrade
// -------------------------------------------------------------------------

func (s *NearbyServer) DisconnectFromEndpoint(ctx context.Context, req *connect.Request[DisconnectFromEndpointRequest]) (*connect.Response[DisconnectFromEndpointResponse], error) {
	if err := s.host.DisconnectFromEndpoint(req.Msg.ClientHandle, req.Msg.EndpointID); err != nil {
		return nil, mapHostError(err, "disconnect from endpoint")
	}
	return connect.NewResponse(&DisconnectFromEndpointResponse{}), nil
}

func (s *NearbyServer) StopAllEndpoints(ctx context.Context, req *connect.Request[StopAllEndpointsRequest]) (*connect.Response[StopAllEndpointsResponse], error) {
	if err := s.host.StopAllEndpoints(req.Msg.ClientHandle); err != nil {
		return nil, mapHostError(err, "stop all endpoints")
	}
	return connect.NewResponse(&StopAllEndpointsResponse{}), nil
}

func (s *NearbyServer) InitiateBandwidthUpgrade(ctx context.Context, req *connect.Request[InitiateBandwidthUpgradeRequest]) (*connect.Response[InitiateBandwidthUpgradeResponse], error) {
	newMedium, err := parseMedium(req.Msg.NewMedium)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}

	credentials := upgradeCredentialsFromWire(newMedium, req.Msg.Credentials)

	if err := s.host.InitiateBandwidthUpgrade(ctx, req.Msg.ClientHandle, req.Msg.EndpointID, newMedium, credentials); err != nil {
		return nil, mapHostError(err, "initiate bandwidth upgrade")
	}
	return connect.NewResponse(&InitiateBandwidthUpgradeResponse{}), nil
}

// -------------------------------------------------------------------------
// Event Stream
// -------------------------------------------------------------------------

// WatchEvents streams every notification for one attached client
// (server-side streaming), mirroring WatchSessionEvents.
func (s *NearbyServer) WatchEvents(ctx context.Context, req *connect.Request[WatchEventsRequest], stream *connect.ServerStream[WatchEventsResponse]) error {
	s.logger.InfoContext(ctx, "WatchEvents called", slog.String("client_handle", req.Msg.ClientHandle))

	ch, err := s.host.Events(req.Msg.ClientHandle)
	if err != nil {
		return mapHostError(err, "watch events")
	}

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("watch events: %w", ctx.Err())
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			if err := stream.Send(eventToWire(ev)); err != nil {
				return fmt.Errorf("send event: %w", err)
			}
		}
	}
}

// -------------------------------------------------------------------------
// Wire Conversions
// -------------------------------------------------------------------------

func parseStrategy(name string) (router.Strategy, error) {
	switch name {
	case "P2P_CLUSTER":
		return router.StrategyP2PCluster, nil
	case "P2P_STAR":
		return router.StrategyP2PStar, nil
	case "P2P_POINT_TO_POINT":
		return router.StrategyP2PPointToPoint, nil
	default:
		return router.StrategyNone, fmt.Errorf("%q: %w", name, ErrInvalidStrategy)
	}
}

func parseMedium(name string) (frame.Medium, error) {
	switch name {
	case "BLUETOOTH":
		return frame.MediumBluetooth, nil
	case "BLE":
		return frame.MediumBLE, nil
	case "WIFI_LAN":
		return frame.MediumWifiLAN, nil
	case "WIFI_DIRECT":
		return frame.MediumWifiDirect, nil
	case "WIFI_HOTSPOT":
		return frame.MediumWifiHotspot, nil
	case "WEB_RTC":
		return frame.MediumWebRTC, nil
	default:
		return frame.MediumUnknown, fmt.Errorf("%q: %w", name, ErrInvalidMedium)
	}
}

func parseMediums(names []string) ([]frame.Medium, error) {
	mediums := make([]frame.Medium, 0, len(names))
	for _, name := range names {
		m, err := parseMedium(name)
		if err != nil {
			return nil, err
		}
		mediums = append(mediums, m)
	}
	return mediums, nil
}

func durationFromMS(ms int64) (d time.Duration) {
	return time.Duration(ms) * time.Millisecond
}

func upgradeCredentialsFromWire(m frame.Medium, c UpgradeCredentials) *frame.UpgradePathInfo {
	info := &frame.UpgradePathInfo{Medium: m}

	switch m {
	case frame.MediumWifiLAN:
		info.WifiLAN = &frame.WifiLANCredentials{IPAddress: c.WifiLANAddress, Port: c.WifiLANPort}
	case frame.MediumBluetooth:
		info.Bluetooth = &frame.BluetoothCredentials{ServiceName: c.BluetoothName, MAC: c.BluetoothMAC}
	}

	return info
}

func eventToWire(ev host.Event) *WatchEventsResponse {
	resp := &WatchEventsResponse{}

	switch {
	case ev.EndpointFound != nil:
		resp.EndpointFound = &EndpointFoundEvent{
			EndpointID:   ev.EndpointFound.EndpointID,
			EndpointInfo: ev.EndpointFound.Info,
			Medium:       ev.EndpointFound.Medium.String(),
		}
	case ev.EndpointLost != nil:
		resp.EndpointLost = &EndpointLostEvent{EndpointID: ev.EndpointLost.EndpointID}
	case ev.ConnectionInitiated != nil:
		resp.ConnectionInitiated = &ConnectionInitiatedEvent{
			EndpointID:   ev.ConnectionInitiated.EndpointID,
			EndpointInfo: ev.ConnectionInitiated.Info,
			AuthToken:    ev.ConnectionInitiated.AuthToken,
		}
	case ev.ConnectionAccepted != nil:
		resp.ConnectionAccepted = &ConnectionAcceptedEvent{EndpointID: ev.ConnectionAccepted.EndpointID}
	case ev.ConnectionRejected != nil:
		resp.ConnectionRejected = &ConnectionRejectedEvent{
			EndpointID: ev.ConnectionRejected.EndpointID,
			Code:       ev.ConnectionRejected.Code.String(),
		}
	case ev.ConnectionDisconnected != nil:
		resp.ConnectionDisconnected = &ConnectionDisconnectedEvent{EndpointID: ev.ConnectionDisconnected.EndpointID}
	case ev.PayloadReceived != nil:
		resp.PayloadReceived = &PayloadReceivedEvent{
			EndpointID: ev.PayloadReceived.EndpointID,
			PayloadID:  ev.PayloadReceived.PayloadID,
		}
	}

	return resp
}

// mapHostError translates host/session/status errors into ConnectRPC
// error codes.
func mapHostError(err error, operation string) *connect.Error {
	var st *status.Status
	if errors.As(err, &st) {
		return connect.NewError(statusCodeToConnect(st.Code), fmt.Errorf("%s: %w", operation, err))
	}

	switch {
	case errors.Is(err, host.ErrUnknownClient):
		return connect.NewError(connect.CodeNotFound, fmt.Errorf("%s: %w", operation, err))
	case errors.Is(err, host.ErrUnsupportedMedium):
		return connect.NewError(connect.CodeFailedPrecondition, fmt.Errorf("%s: %w", operation, err))
	default:
		return connect.NewError(connect.CodeInternal, fmt.Errorf("%s: %w", operation, err))
	}
}

func statusCodeToConnect(code status.Code) connect.Code {
	switch code {
	case status.OutOfOrderAPICall,
		status.AlreadyHaveActiveStrategy,
		status.AlreadyAdvertising,
		status.AlreadyDiscovering,
		status.AlreadyListening,
		status.NotConnectedToEndpoint:
		return connect.CodeFailedPrecondition
	case status.AlreadyConnectedToEndpoint:
		return connect.CodeAlreadyExists
	case status.EndpointUnknown, status.PayloadUnknown:
		return connect.CodeNotFound
	case status.ConnectionRejected:
		return connect.CodePermissionDenied
	case status.EndpointIOError, status.BluetoothError, status.BLEError, status.WifiLANError:
		return connect.CodeUnavailable
	default:
		return connect.CodeInternal
	}
}
