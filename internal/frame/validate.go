package frame

import (
	"fmt"
	"net"
	"regexp"
)

// wifiDirectSSID matches the DIRECT-xx... group-owner SSID form Wi-Fi
// Direct assigns.
var wifiDirectSSID = regexp.MustCompile(`^DIRECT-[A-Za-z0-9]{2}.*`)

// Validate checks f against the per-frame-type field rules.
// It does not validate wire encodability (Decode already guarantees that);
// it validates the application-level invariants a decoded Frame must
// satisfy before the endpoint manager or payload manager may act on it.
func Validate(f *Frame) error {
	if f == nil {
		return fmt.Errorf("frame: nil frame")
	}

	switch f.Type {
	case TypeConnectionRequest:
		return validateConnectionRequest(f.ConnectionRequest)
	case TypeConnectionResponse:
		return validateConnectionResponse(f.ConnectionResponse)
	case TypePayloadTransfer:
		return validatePayloadTransfer(f.PayloadTransfer)
	case TypeBandwidthUpgradeNegotiation:
		return validateBandwidthUpgrade(f.BandwidthUpgradeNegotiation)
	case TypeKeepAlive:
		return nil
	default:
		return fmt.Errorf("frame: unknown frame type %d", f.Type)
	}
}

func validateConnectionRequest(cr *ConnectionRequest) error {
	if cr == nil {
		return fmt.Errorf("connection_request: missing body")
	}
	if cr.EndpointID == "" {
		return fmt.Errorf("connection_request: endpoint_id must be present and non-empty")
	}
	if cr.EndpointInfo == nil {
		return fmt.Errorf("connection_request: endpoint_info must be present")
	}
	return nil
}

func validateConnectionResponse(cr *ConnectionResponse) error {
	if cr == nil {
		return fmt.Errorf("connection_response: missing body")
	}
	// Unknown status values are surfaced to the host, not rejected here
	//: only presence is required.
	return nil
}

func validatePayloadTransfer(pt *PayloadTransfer) error {
	if pt == nil {
		return fmt.Errorf("payload_transfer: missing body")
	}
	if pt.Header.ID == 0 {
		return fmt.Errorf("payload_transfer: payload_header.id must be present")
	}
	if pt.Header.TotalSize < 0 && pt.Header.TotalSize != IndeterminateSize {
		return fmt.Errorf("payload_transfer: payload_header.total_size must be >= 0 or the indeterminate sentinel")
	}

	switch pt.PacketType {
	case PacketTypeData:
		if pt.Chunk == nil {
			return fmt.Errorf("payload_transfer: packet_type DATA requires payload_chunk")
		}
		if pt.Chunk.Offset < 0 {
			return fmt.Errorf("payload_transfer: payload_chunk.offset must be >= 0")
		}
		if pt.Header.TotalSize != IndeterminateSize && pt.Chunk.Offset > pt.Header.TotalSize {
			return fmt.Errorf("payload_transfer: payload_chunk.offset must be <= total_size")
		}
		if len(pt.Chunk.Body) == 0 && pt.Chunk.Flags&int32(FlagLastChunk) == 0 {
			return fmt.Errorf("payload_transfer: payload_chunk.body must be present unless last_chunk is set")
		}
	case PacketTypeControl:
		if pt.Control == nil {
			return fmt.Errorf("payload_transfer: packet_type CONTROL requires control_message")
		}
		if pt.Control.Event == ControlEventUnknown {
			return fmt.Errorf("payload_transfer: control_message.event must be set")
		}
		if pt.Control.Offset < 0 {
			return fmt.Errorf("payload_transfer: control_message.offset must be >= 0")
		}
		if pt.Header.TotalSize != IndeterminateSize && pt.Control.Offset > pt.Header.TotalSize {
			return fmt.Errorf("payload_transfer: control_message.offset must be <= total_size")
		}
	default:
		return fmt.Errorf("payload_transfer: unknown packet_type %d", pt.PacketType)
	}

	return nil
}

func validateBandwidthUpgrade(bun *BandwidthUpgradeNegotiation) error {
	if bun == nil {
		return fmt.Errorf("bandwidth_upgrade_negotiation: missing body")
	}

	switch bun.EventType {
	case UpgradeEventUpgradePathAvailable:
		if bun.UpgradePath == nil {
			return fmt.Errorf("bandwidth_upgrade_negotiation: UPGRADE_PATH_AVAILABLE requires upgrade_path_info")
		}
		return validateUpgradePathInfo(bun.UpgradePath)
	case UpgradeEventClientIntroduction:
		if bun.ClientIntroductionEndpointID == "" {
			return fmt.Errorf("bandwidth_upgrade_negotiation: CLIENT_INTRODUCTION requires endpoint_id")
		}
	case UpgradeEventLastWriteToPrior, UpgradeEventSafeToClosePrior:
		// No further body required.
	default:
		return fmt.Errorf("bandwidth_upgrade_negotiation: unknown event_type %d", bun.EventType)
	}

	return nil
}

func validateUpgradePathInfo(u *UpgradePathInfo) error {
	switch u.Medium {
	case MediumWifiHotspot:
		if u.WifiHotspot == nil || u.WifiHotspot.SSID == "" {
			return fmt.Errorf("upgrade_path_info: WIFI_HOTSPOT requires ssid")
		}
		if n := len(u.WifiHotspot.Password); n < 8 || n > 64 {
			return fmt.Errorf("upgrade_path_info: WIFI_HOTSPOT password must be 8-64 characters")
		}
		if net.ParseIP(u.WifiHotspot.Gateway) == nil {
			return fmt.Errorf("upgrade_path_info: WIFI_HOTSPOT gateway must be a valid IP address")
		}
	case MediumWifiDirect:
		if u.WifiDirect == nil {
			return fmt.Errorf("upgrade_path_info: WIFI_DIRECT requires credentials")
		}
		if len(u.WifiDirect.SSID) >= 32 || !wifiDirectSSID.MatchString(u.WifiDirect.SSID) {
			return fmt.Errorf("upgrade_path_info: WIFI_DIRECT ssid must match %s and be under 32 characters", wifiDirectSSID.String())
		}
		if n := len(u.WifiDirect.Password); n < 8 || n > 64 {
			return fmt.Errorf("upgrade_path_info: WIFI_DIRECT password must be 8-64 characters")
		}
		if u.WifiDirect.Frequency < -1 {
			return fmt.Errorf("upgrade_path_info: WIFI_DIRECT frequency must be >= -1")
		}
	case MediumWifiLAN:
		if u.WifiLAN == nil || u.WifiLAN.IPAddress == "" {
			return fmt.Errorf("upgrade_path_info: WIFI_LAN requires ip_address")
		}
		if u.WifiLAN.Port < 0 {
			return fmt.Errorf("upgrade_path_info: WIFI_LAN port must be >= 0")
		}
	case MediumBluetooth:
		if u.Bluetooth == nil || len(u.Bluetooth.MAC) == 0 {
			return fmt.Errorf("upgrade_path_info: BLUETOOTH requires a mac address")
		}
		if u.Bluetooth.ServiceName == "" {
			return fmt.Errorf("upgrade_path_info: BLUETOOTH requires a service_name")
		}
	case MediumWebRTC:
		if u.WebRTC == nil || u.WebRTC.PeerID == "" {
			return fmt.Errorf("upgrade_path_info: WEB_RTC requires peer_id")
		}
	case MediumBLE:
		return fmt.Errorf("upgrade_path_info: BLE is not a valid upgrade target medium")
	default:
		return fmt.Errorf("upgrade_path_info: unknown medium %d", u.Medium)
	}

	return nil
}
