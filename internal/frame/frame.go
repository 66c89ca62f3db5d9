// Package frame implements the V1 wire frame: every channel carries a
// sequence of length-prefixed, protocol-buffer-shaped messages. Encoding
// uses google.golang.org/protobuf/encoding/protowire directly (no protoc
// toolchain is available to this build) rather than hand-rolled binary
// layouts, so the wire format stays interoperable with a real protobuf
// schema built from the same field numbers.
package frame

// Type discriminates the outer V1 frame's payload.
type Type int32

const (
	// TypeConnectionRequest carries a CONNECTION_REQUEST.
	TypeConnectionRequest Type = 1
	// TypeConnectionResponse carries a CONNECTION_RESPONSE.
	TypeConnectionResponse Type = 2
	// TypePayloadTransfer carries a PAYLOAD_TRANSFER.
	TypePayloadTransfer Type = 3
	// TypeBandwidthUpgradeNegotiation carries a BANDWIDTH_UPGRADE_NEGOTIATION.
	TypeBandwidthUpgradeNegotiation Type = 4
	// TypeKeepAlive has no body.
	TypeKeepAlive Type = 5
)

func (t Type) String() string {
	switch t {
	case TypeConnectionRequest:
		return "CONNECTION_REQUEST"
	case TypeConnectionResponse:
		return "CONNECTION_RESPONSE"
	case TypePayloadTransfer:
		return "PAYLOAD_TRANSFER"
	case TypeBandwidthUpgradeNegotiation:
		return "BANDWIDTH_UPGRADE_NEGOTIATION"
	case TypeKeepAlive:
		return "KEEP_ALIVE"
	default:
		return "UNKNOWN"
	}
}

// Medium tags a transport the core can run an endpoint over.
type Medium int32

const (
	MediumUnknown         Medium = 0
	MediumBluetooth       Medium = 1
	MediumBLE             Medium = 2
	MediumWifiLAN         Medium = 3
	MediumWifiDirect      Medium = 4
	MediumWifiHotspot     Medium = 5
	MediumWebRTC          Medium = 6
)

func (m Medium) String() string {
	switch m {
	case MediumBluetooth:
		return "BLUETOOTH"
	case MediumBLE:
		return "BLE"
	case MediumWifiLAN:
		return "WIFI_LAN"
	case MediumWifiDirect:
		return "WIFI_DIRECT"
	case MediumWifiHotspot:
		return "WIFI_HOTSPOT"
	case MediumWebRTC:
		return "WEB_RTC"
	default:
		return "UNKNOWN_MEDIUM"
	}
}

// PayloadType identifies the kind of a Payload.
type PayloadType int32

const (
	PayloadTypeUnknown PayloadType = 0
	PayloadTypeBytes   PayloadType = 1
	PayloadTypeFile    PayloadType = 2
	PayloadTypeStream  PayloadType = 3
)

func (t PayloadType) String() string {
	switch t {
	case PayloadTypeBytes:
		return "BYTES"
	case PayloadTypeFile:
		return "FILE"
	case PayloadTypeStream:
		return "STREAM"
	default:
		return "UNKNOWN_PAYLOAD_TYPE"
	}
}

// PacketType discriminates a PAYLOAD_TRANSFER's sub-frame.
type PacketType int32

const (
	PacketTypeUnknown PacketType = 0
	PacketTypeData    PacketType = 1
	PacketTypeControl PacketType = 2
)

// ChunkFlag bits on a PayloadChunk.
type ChunkFlag int32

// FlagLastChunk is bit 0: this chunk completes the payload.
const FlagLastChunk ChunkFlag = 1 << 0

// ControlEvent identifies a CONTROL sub-frame's event.
type ControlEvent int32

const (
	ControlEventUnknown  ControlEvent = 0
	ControlEventAvailable ControlEvent = 1
	ControlEventCanceled ControlEvent = 2
	ControlEventError    ControlEvent = 3
)

// UpgradeEvent identifies a BANDWIDTH_UPGRADE_NEGOTIATION sub-event.
type UpgradeEvent int32

const (
	UpgradeEventUnknown              UpgradeEvent = 0
	UpgradeEventUpgradePathAvailable UpgradeEvent = 1
	UpgradeEventClientIntroduction   UpgradeEvent = 2
	UpgradeEventLastWriteToPrior     UpgradeEvent = 3
	UpgradeEventSafeToClosePrior     UpgradeEvent = 4
)

// IndeterminateSize is the sentinel total_size for a Stream payload whose
// length is not known in advance.
const IndeterminateSize int64 = -1

// ConnectionRequest is the CONNECTION_REQUEST sub-frame.
type ConnectionRequest struct {
	EndpointID          string
	EndpointInfo        []byte
	Nonce               int32
	Supports5GHz        bool
	BSSID               string
	Mediums             []Medium
	KeepAliveIntervalMS int32
	KeepAliveTimeoutMS  int32
}

// ConnectionResponse is the CONNECTION_RESPONSE sub-frame. No
// field is required: unknown status codes are surfaced, not rejected.
type ConnectionResponse struct {
	Status int32
}

// PayloadHeader describes a payload's identity for the wire.
type PayloadHeader struct {
	ID        int64
	Type      PayloadType
	TotalSize int64
}

// PayloadChunk is one DATA fragment of a payload.
type PayloadChunk struct {
	Flags  int32
	Offset int64
	Body   []byte
}

// LastChunk reports whether FlagLastChunk is set.
func (c PayloadChunk) LastChunk() bool {
	return c.Flags&int32(FlagLastChunk) != 0
}

// ControlMessage is a CONTROL sub-frame.
type ControlMessage struct {
	Event  ControlEvent
	Offset int64
}

// PayloadTransfer is the PAYLOAD_TRANSFER sub-frame. Exactly one
// of Chunk or Control is set, selected by PacketType.
type PayloadTransfer struct {
	Header     PayloadHeader
	PacketType PacketType
	Chunk      *PayloadChunk
	Control    *ControlMessage
}

// WifiHotspotCredentials is the WIFI_HOTSPOT medium-specific credentials
// sub-message.
type WifiHotspotCredentials struct {
	SSID     string
	Password string
	Gateway  string
}

// WifiDirectCredentials is the WIFI_DIRECT medium-specific credentials
// sub-message.
type WifiDirectCredentials struct {
	SSID      string
	Password  string
	Frequency int32
}

// WifiLANCredentials is the WIFI_LAN medium-specific credentials
// sub-message.
type WifiLANCredentials struct {
	IPAddress string
	Port      int32
}

// BluetoothCredentials is the BLUETOOTH medium-specific credentials
// sub-message.
type BluetoothCredentials struct {
	ServiceName string
	MAC         []byte
}

// WebRTCCredentials is the WEB_RTC medium-specific credentials
// sub-message, keyed on a stable peer id derived from the local
// endpoint id.
type WebRTCCredentials struct {
	PeerID string
}

// UpgradePathInfo carries the new medium's connection credentials.
// Exactly one credentials field is populated, chosen by Medium.
type UpgradePathInfo struct {
	Medium      Medium
	WifiHotspot *WifiHotspotCredentials
	WifiDirect  *WifiDirectCredentials
	WifiLAN     *WifiLANCredentials
	Bluetooth   *BluetoothCredentials
	WebRTC      *WebRTCCredentials
}

// BandwidthUpgradeNegotiation is the BANDWIDTH_UPGRADE_NEGOTIATION
// sub-frame.
type BandwidthUpgradeNegotiation struct {
	EventType                    UpgradeEvent
	UpgradePath                  *UpgradePathInfo
	ClientIntroductionEndpointID string
}

// Frame is the V1 outer frame. Exactly one of the
// sub-frame fields is populated, selected by Type; KEEP_ALIVE has none.
type Frame struct {
	Type                        Type
	ConnectionRequest           *ConnectionRequest
	ConnectionResponse          *ConnectionResponse
	PayloadTransfer             *PayloadTransfer
	BandwidthUpgradeNegotiation *BandwidthUpgradeNegotiation
}
