package server

// Request/response shapes for every RPC the control plane exposes.
//
// There is no protoc/buf toolchain available to generate message types
// from a .proto schema, so these are hand-written Go structs carried
// over the wire by a connect.Codec (codec.go) instead of generated
// proto.Message implementations. Field names are chosen to round-trip
// cleanly through JSON; a future move to generated protobuf types would
// only touch this file and codec.go, not the handlers in server.go.

// AttachClientRequest has no fields: a new client session is created
// fresh on every call.
type AttachClientRequest struct{}

// AttachClientResponse carries the opaque handle the caller must pass to
// every subsequent RPC.
type AttachClientResponse struct {
	ClientHandle string `json:"client_handle"`
}

// DetachClientRequest names the client session to tear down.
type DetachClientRequest struct {
	ClientHandle string `json:"client_handle"`
}

// DetachClientResponse is empty on success.
type DetachClientResponse struct{}

// StartAdvertisingRequest begins advertising serviceID under strategy
// over the given mediums (each a frame.Medium name, e.g. "WIFI_LAN").
type StartAdvertisingRequest struct {
	ClientHandle string   `json:"client_handle"`
	ServiceID    string   `json:"service_id"`
	Strategy     string   `json:"strategy"`
	Mediums      []string `json:"mediums"`
	EndpointInfo []byte   `json:"endpoint_info"`
}

// StartAdvertisingResponse is empty on success.
type StartAdvertisingResponse struct{}

// StopAdvertisingRequest ends the caller's advertising claim.
type StopAdvertisingRequest struct {
	ClientHandle string `json:"client_handle"`
}

// StopAdvertisingResponse is empty on success.
type StopAdvertisingResponse struct{}

// StartDiscoveringRequest begins discovering serviceID under strategy
// over the given mediums.
type StartDiscoveringRequest struct {
	ClientHandle string   `json:"client_handle"`
	ServiceID    string   `json:"service_id"`
	Strategy     string   `json:"strategy"`
	Mediums      []string `json:"mediums"`
}

// StartDiscoveringResponse is empty on success.
type StartDiscoveringResponse struct{}

// StopDiscoveringRequest ends the caller's discovery claim.
type StopDiscoveringRequest struct {
	ClientHandle string `json:"client_handle"`
}

// StopDiscoveringResponse is empty on success.
type StopDiscoveringResponse struct{}

// InjectEndpointRequest announces a declaratively known peer, bypassing the wire discovery broadcast.
type InjectEndpointRequest struct {
	ClientHandle string `json:"client_handle"`
	EndpointID   string `json:"endpoint_id"`
	EndpointInfo []byte `json:"endpoint_info"`
}

// InjectEndpointResponse is empty on success.
type InjectEndpointResponse struct{}

// GetLocalEndpointIDRequest asks for the caller's current local endpoint id.
type GetLocalEndpointIDRequest struct {
	ClientHandle string `json:"client_handle"`
}

// GetLocalEndpointIDResponse carries the local endpoint id.
type GetLocalEndpointIDResponse struct {
	EndpointID string `json:"endpoint_id"`
}

// RequestConnectionRequest dials target over medium and initiates a
// connection to endpointID.
type RequestConnectionRequest struct {
	ClientHandle         string `json:"client_handle"`
	EndpointID           string `json:"endpoint_id"`
	Target               string `json:"target"`
	Medium               string `json:"medium"`
	EndpointInfo         []byte `json:"endpoint_info"`
	KeepAliveIntervalMS  int64  `json:"keep_alive_interval_ms"`
	KeepAliveTimeoutMS   int64  `json:"keep_alive_timeout_ms"`
	AutoUpgradeBandwidth bool   `json:"auto_upgrade_bandwidth"`
}

// RequestConnectionResponse is empty on success; the outcome (accepted,
// rejected) arrives asynchronously on WatchEvents.
type RequestConnectionResponse struct{}

// AcceptConnectionRequest records the caller's accept decision.
type AcceptConnectionRequest struct {
	ClientHandle string `json:"client_handle"`
	EndpointID   string `json:"endpoint_id"`
}

// AcceptConnectionResponse is empty on success.
type AcceptConnectionResponse struct{}

// RejectConnectionRequest records the caller's reject decision.
type RejectConnectionRequest struct {
	ClientHandle string `json:"client_handle"`
	EndpointID   string `json:"endpoint_id"`
}

// RejectConnectionResponse is empty on success.
type RejectConnectionResponse struct{}

// SendPayloadRequest sends a Bytes payload to every endpoint in
// EndpointIDs (the normal case for a P2P_CLUSTER/P2P_STAR strategy fans
// one payload out to several connected peers at once). Stream and File
// payloads are only reachable to in-process callers through the payload
// package directly; the wire surface carries Bytes bodies only.
type SendPayloadRequest struct {
	ClientHandle string   `json:"client_handle"`
	EndpointIDs  []string `json:"endpoint_ids"`
	Body         []byte   `json:"body"`
}

// SendPayloadResponse carries the id assigned to the new payload.
type SendPayloadResponse struct {
	PayloadID int64 `json:"payload_id"`
}

// CancelPayloadRequest cancels an in-flight payload transfer.
type CancelPayloadRequest struct {
	ClientHandle string `json:"client_handle"`
	EndpointID   string `json:"endpoint_id"`
	PayloadID    int64  `json:"payload_id"`
}

// CancelPayloadResponse is empty on success.
type CancelPayloadResponse struct{}

// DisconnectFromEndpointRequest tears down one endpoint.
type DisconnectFromEndpointRequest struct {
	ClientHandle string `json:"client_handle"`
	EndpointID   string `json:"endpoint_id"`
}

// DisconnectFromEndpointResponse is empty on success.
type DisconnectFromEndpointResponse struct{}

// StopAllEndpointsRequest tears down every endpoint the caller owns.
type StopAllEndpointsRequest struct {
	ClientHandle string `json:"client_handle"`
}

// StopAllEndpointsResponse is empty on success.
type StopAllEndpointsResponse struct{}

// UpgradeCredentials carries the one medium-specific credentials sub-message
// applicable to NewMedium (mirrors frame.UpgradePathInfo). Only the field
// matching NewMedium is read.
type UpgradeCredentials struct {
	WifiLANAddress  string `json:"wifi_lan_address,omitempty"`
	WifiLANPort     int32  `json:"wifi_lan_port,omitempty"`
	BluetoothName   string `json:"bluetooth_service_name,omitempty"`
	BluetoothMAC    []byte `json:"bluetooth_mac,omitempty"`
}

// InitiateBandwidthUpgradeRequest moves endpointID onto a higher-bandwidth
// medium.
type InitiateBandwidthUpgradeRequest struct {
	ClientHandle string             `json:"client_handle"`
	EndpointID   string             `json:"endpoint_id"`
	NewMedium    string             `json:"new_medium"`
	Credentials  UpgradeCredentials `json:"credentials"`
}

// InitiateBandwidthUpgradeResponse is empty on success.
type InitiateBandwidthUpgradeResponse struct{}

// WatchEventsRequest opens the caller's event stream.
type WatchEventsRequest struct {
	ClientHandle string `json:"client_handle"`
}

// WatchEventsResponse is one notification from the host's per-client event
// stream; exactly one of the pointer fields is non-nil, mirroring
// host.Event's tagged union.
type WatchEventsResponse struct {
	EndpointFound          *EndpointFoundEvent          `json:"endpoint_found,omitempty"`
	EndpointLost           *EndpointLostEvent           `json:"endpoint_lost,omitempty"`
	ConnectionInitiated    *ConnectionInitiatedEvent    `json:"connection_initiated,omitempty"`
	ConnectionAccepted     *ConnectionAcceptedEvent     `json:"connection_accepted,omitempty"`
	ConnectionRejected     *ConnectionRejectedEvent     `json:"connection_rejected,omitempty"`
	ConnectionDisconnected *ConnectionDisconnectedEvent `json:"connection_disconnected,omitempty"`
	PayloadReceived        *PayloadReceivedEvent        `json:"payload_received,omitempty"`
}

type EndpointFoundEvent struct {
	EndpointID   string `json:"endpoint_id"`
	EndpointInfo []byte `json:"endpoint_info"`
	Medium       string `json:"medium"`
}

type EndpointLostEvent struct {
	EndpointID string `json:"endpoint_id"`
}

type ConnectionInitiatedEvent struct {
	EndpointID   string `json:"endpoint_id"`
	EndpointInfo []byte `json:"endpoint_info"`
	AuthToken    string `json:"auth_token"`
}

type ConnectionAcceptedEvent struct {
	EndpointID string `json:"endpoint_id"`
}

type ConnectionRejectedEvent struct {
	EndpointID string `json:"endpoint_id"`
	Code       string `json:"code"`
}

type ConnectionDisconnectedEvent struct {
	EndpointID string `json:"endpoint_id"`
}

type PayloadReceivedEvent struct {
	EndpointID string `json:"endpoint_id"`
	PayloadID  int64  `json:"payload_id"`
}
