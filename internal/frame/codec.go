package frame

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers, held stable across the outer frame and every sub-message
// so a real .proto schema compiled from these comments would round-trip
// byte-for-byte with this codec.
const (
	fieldFrameType                    = 1
	fieldFrameConnectionRequest       = 2
	fieldFrameConnectionResponse      = 3
	fieldFramePayloadTransfer         = 4
	fieldFrameBandwidthUpgrade        = 5

	fieldCRendpointID           = 1
	fieldCRendpointInfo         = 2
	fieldCRnonce                = 3
	fieldCRsupports5GHz         = 4
	fieldCRbssid                = 5
	fieldCRmediums              = 6
	fieldCRkeepAliveIntervalMS  = 7
	fieldCRkeepAliveTimeoutMS   = 8

	fieldCRRstatus = 1

	fieldPHid        = 1
	fieldPHtype      = 2
	fieldPHtotalSize = 3

	fieldPCflags  = 1
	fieldPCoffset = 2
	fieldPCbody   = 3

	fieldCMevent  = 1
	fieldCMoffset = 2

	fieldPTheader     = 1
	fieldPTpacketType = 2
	fieldPTchunk      = 3
	fieldPTcontrol    = 4

	fieldWHssid     = 1
	fieldWHpassword = 2
	fieldWHgateway  = 3

	fieldWDssid      = 1
	fieldWDpassword  = 2
	fieldWDfrequency = 3

	fieldWLipAddress = 1
	fieldWLport      = 2

	fieldBTserviceName = 1
	fieldBTmac         = 2

	fieldWRpeerID = 1

	fieldUPImedium      = 1
	fieldUPIwifiHotspot = 2
	fieldUPIwifiDirect  = 3
	fieldUPIwifiLAN     = 4
	fieldUPIbluetooth   = 5
	fieldUPIwebrtc      = 6

	fieldBUNeventType    = 1
	fieldBUNupgradePath  = 2
	fieldBUNclientIntroEndpointID = 3
)

// Encode serializes f to its protobuf-wire-shaped byte representation.
func Encode(f *Frame) []byte {
	var b []byte

	b = protowire.AppendTag(b, fieldFrameType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(f.Type))

	switch f.Type {
	case TypeConnectionRequest:
		if f.ConnectionRequest != nil {
			b = appendMessage(b, fieldFrameConnectionRequest, encodeConnectionRequest(f.ConnectionRequest))
		}
	case TypeConnectionResponse:
		if f.ConnectionResponse != nil {
			b = appendMessage(b, fieldFrameConnectionResponse, encodeConnectionResponse(f.ConnectionResponse))
		}
	case TypePayloadTransfer:
		if f.PayloadTransfer != nil {
			b = appendMessage(b, fieldFramePayloadTransfer, encodePayloadTransfer(f.PayloadTransfer))
		}
	case TypeBandwidthUpgradeNegotiation:
		if f.BandwidthUpgradeNegotiation != nil {
			b = appendMessage(b, fieldFrameBandwidthUpgrade, encodeBandwidthUpgrade(f.BandwidthUpgradeNegotiation))
		}
	case TypeKeepAlive:
		// no body
	}

	return b
}

func appendMessage(b []byte, field protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, field, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

func appendString(b []byte, field protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, field, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendBytesField(b []byte, field protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, field, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendVarint(b []byte, field protowire.Number, v int64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, field, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(v))
}

func appendBool(b []byte, field protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	b = protowire.AppendTag(b, field, protowire.VarintType)
	return protowire.AppendVarint(b, 1)
}

func encodeConnectionRequest(cr *ConnectionRequest) []byte {
	var b []byte
	b = appendString(b, fieldCRendpointID, cr.EndpointID)
	b = appendBytesField(b, fieldCRendpointInfo, cr.EndpointInfo)
	b = appendVarint(b, fieldCRnonce, int64(cr.Nonce))
	b = appendBool(b, fieldCRsupports5GHz, cr.Supports5GHz)
	b = appendString(b, fieldCRbssid, cr.BSSID)
	for _, m := range cr.Mediums {
		b = protowire.AppendTag(b, fieldCRmediums, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m))
	}
	b = appendVarint(b, fieldCRkeepAliveIntervalMS, int64(cr.KeepAliveIntervalMS))
	b = appendVarint(b, fieldCRkeepAliveTimeoutMS, int64(cr.KeepAliveTimeoutMS))
	return b
}

func encodeConnectionResponse(cr *ConnectionResponse) []byte {
	var b []byte
	b = appendVarint(b, fieldCRRstatus, int64(cr.Status))
	return b
}

func encodePayloadHeader(h PayloadHeader) []byte {
	var b []byte
	b = appendVarint(b, fieldPHid, h.ID)
	b = appendVarint(b, fieldPHtype, int64(h.Type))
	// total_size must be encodable even when zero or the -1 sentinel, so it
	// is zigzag-free but always written explicitly rather than omitted.
	b = protowire.AppendTag(b, fieldPHtotalSize, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(h.TotalSize))
	return b
}

func encodePayloadChunk(c *PayloadChunk) []byte {
	var b []byte
	b = appendVarint(b, fieldPCflags, int64(c.Flags))
	b = appendVarint(b, fieldPCoffset, c.Offset)
	b = appendBytesField(b, fieldPCbody, c.Body)
	return b
}

func encodeControlMessage(c *ControlMessage) []byte {
	var b []byte
	b = appendVarint(b, fieldCMevent, int64(c.Event))
	b = appendVarint(b, fieldCMoffset, c.Offset)
	return b
}

func encodePayloadTransfer(pt *PayloadTransfer) []byte {
	var b []byte
	b = appendMessage(b, fieldPTheader, encodePayloadHeader(pt.Header))
	b = appendVarint(b, fieldPTpacketType, int64(pt.PacketType))
	if pt.Chunk != nil {
		b = appendMessage(b, fieldPTchunk, encodePayloadChunk(pt.Chunk))
	}
	if pt.Control != nil {
		b = appendMessage(b, fieldPTcontrol, encodeControlMessage(pt.Control))
	}
	return b
}

func encodeUpgradePathInfo(u *UpgradePathInfo) []byte {
	var b []byte
	b = appendVarint(b, fieldUPImedium, int64(u.Medium))
	if u.WifiHotspot != nil {
		var c []byte
		c = appendString(c, fieldWHssid, u.WifiHotspot.SSID)
		c = appendString(c, fieldWHpassword, u.WifiHotspot.Password)
		c = appendString(c, fieldWHgateway, u.WifiHotspot.Gateway)
		b = appendMessage(b, fieldUPIwifiHotspot, c)
	}
	if u.WifiDirect != nil {
		var c []byte
		c = appendString(c, fieldWDssid, u.WifiDirect.SSID)
		c = appendString(c, fieldWDpassword, u.WifiDirect.Password)
		c = appendVarint(c, fieldWDfrequency, int64(u.WifiDirect.Frequency))
		b = appendMessage(b, fieldUPIwifiDirect, c)
	}
	if u.WifiLAN != nil {
		var c []byte
		c = appendString(c, fieldWLipAddress, u.WifiLAN.IPAddress)
		c = appendVarint(c, fieldWLport, int64(u.WifiLAN.Port))
		b = appendMessage(b, fieldUPIwifiLAN, c)
	}
	if u.Bluetooth != nil {
		var c []byte
		c = appendString(c, fieldBTserviceName, u.Bluetooth.ServiceName)
		c = appendBytesField(c, fieldBTmac, u.Bluetooth.MAC)
		b = appendMessage(b, fieldUPIbluetooth, c)
	}
	if u.WebRTC != nil {
		var c []byte
		c = appendString(c, fieldWRpeerID, u.WebRTC.PeerID)
		b = appendMessage(b, fieldUPIwebrtc, c)
	}
	return b
}

func encodeBandwidthUpgrade(bun *BandwidthUpgradeNegotiation) []byte {
	var b []byte
	b = appendVarint(b, fieldBUNeventType, int64(bun.EventType))
	if bun.UpgradePath != nil {
		b = appendMessage(b, fieldBUNupgradePath, encodeUpgradePathInfo(bun.UpgradePath))
	}
	b = appendString(b, fieldBUNclientIntroEndpointID, bun.ClientIntroductionEndpointID)
	return b
}

// Decode parses a protobuf-wire-shaped byte slice into a Frame. It rejects
// truncated or malformed input but does not itself enforce Validate's
// semantic rules.
func Decode(data []byte) (*Frame, error) {
	f := &Frame{}

	b := data
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("frame: malformed tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch num {
		case fieldFrameType:
			v, n, err := consumeVarint(b, typ)
			if err != nil {
				return nil, err
			}
			f.Type = Type(v)
			b = b[n:]

		case fieldFrameConnectionRequest:
			msg, n, err := consumeBytes(b, typ)
			if err != nil {
				return nil, err
			}
			cr, err := decodeConnectionRequest(msg)
			if err != nil {
				return nil, err
			}
			f.ConnectionRequest = cr
			b = b[n:]

		case fieldFrameConnectionResponse:
			msg, n, err := consumeBytes(b, typ)
			if err != nil {
				return nil, err
			}
			f.ConnectionResponse = decodeConnectionResponse(msg)
			b = b[n:]

		case fieldFramePayloadTransfer:
			msg, n, err := consumeBytes(b, typ)
			if err != nil {
				return nil, err
			}
			pt, err := decodePayloadTransfer(msg)
			if err != nil {
				return nil, err
			}
			f.PayloadTransfer = pt
			b = b[n:]

		case fieldFrameBandwidthUpgrade:
			msg, n, err := consumeBytes(b, typ)
			if err != nil {
				return nil, err
			}
			bun := decodeBandwidthUpgrade(msg)
			f.BandwidthUpgradeNegotiation = bun
			b = b[n:]

		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("frame: malformed unknown field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}

	return f, nil
}

func consumeVarint(b []byte, typ protowire.Type) (uint64, int, error) {
	if typ != protowire.VarintType {
		return 0, 0, fmt.Errorf("frame: expected varint, got wire type %d", typ)
	}
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, 0, fmt.Errorf("frame: malformed varint: %w", protowire.ParseError(n))
	}
	return v, n, nil
}

func consumeBytes(b []byte, typ protowire.Type) ([]byte, int, error) {
	if typ != protowire.BytesType {
		return nil, 0, fmt.Errorf("frame: expected length-delimited field, got wire type %d", typ)
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, 0, fmt.Errorf("frame: malformed length-delimited field: %w", protowire.ParseError(n))
	}
	return v, n, nil
}

func decodeConnectionRequest(data []byte) (*ConnectionRequest, error) {
	cr := &ConnectionRequest{}
	b := data
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("connection_request: malformed tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch num {
		case fieldCRendpointID:
			v, n, err := consumeBytes(b, typ)
			if err != nil {
				return nil, err
			}
			cr.EndpointID = string(v)
			b = b[n:]
		case fieldCRendpointInfo:
			v, n, err := consumeBytes(b, typ)
			if err != nil {
				return nil, err
			}
			cr.EndpointInfo = append([]byte(nil), v...)
			b = b[n:]
		case fieldCRnonce:
			v, n, err := consumeVarint(b, typ)
			if err != nil {
				return nil, err
			}
			cr.Nonce = int32(v)
			b = b[n:]
		case fieldCRsupports5GHz:
			v, n, err := consumeVarint(b, typ)
			if err != nil {
				return nil, err
			}
			cr.Supports5GHz = v != 0
			b = b[n:]
		case fieldCRbssid:
			v, n, err := consumeBytes(b, typ)
			if err != nil {
				return nil, err
			}
			cr.BSSID = string(v)
			b = b[n:]
		case fieldCRmediums:
			v, n, err := consumeVarint(b, typ)
			if err != nil {
				return nil, err
			}
			cr.Mediums = append(cr.Mediums, Medium(v))
			b = b[n:]
		case fieldCRkeepAliveIntervalMS:
			v, n, err := consumeVarint(b, typ)
			if err != nil {
				return nil, err
			}
			cr.KeepAliveIntervalMS = int32(v)
			b = b[n:]
		case fieldCRkeepAliveTimeoutMS:
			v, n, err := consumeVarint(b, typ)
			if err != nil {
				return nil, err
			}
			cr.KeepAliveTimeoutMS = int32(v)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("connection_request: malformed unknown field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return cr, nil
}

func decodeConnectionResponse(data []byte) *ConnectionResponse {
	cr := &ConnectionResponse{}
	b := data
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return cr
		}
		b = b[n:]
		if num == fieldCRRstatus && typ == protowire.VarintType {
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return cr
			}
			cr.Status = int32(v)
			b = b[n:]
			continue
		}
		n = protowire.ConsumeFieldValue(num, typ, b)
		if n < 0 {
			return cr
		}
		b = b[n:]
	}
	return cr
}

func decodePayloadHeader(data []byte) PayloadHeader {
	var h PayloadHeader
	b := data
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return h
		}
		b = b[n:]
		if typ != protowire.VarintType {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return h
			}
			b = b[n:]
			continue
		}
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return h
		}
		switch num {
		case fieldPHid:
			h.ID = int64(v)
		case fieldPHtype:
			h.Type = PayloadType(v)
		case fieldPHtotalSize:
			h.TotalSize = int64(v)
		}
		b = b[n:]
	}
	return h
}

func decodePayloadChunk(data []byte) *PayloadChunk {
	c := &PayloadChunk{}
	b := data
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return c
		}
		b = b[n:]
		switch num {
		case fieldPCflags:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return c
			}
			c.Flags = int32(v)
			b = b[n:]
		case fieldPCoffset:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return c
			}
			c.Offset = int64(v)
			b = b[n:]
		case fieldPCbody:
			v, n, err := consumeBytes(b, typ)
			if err != nil {
				return c
			}
			c.Body = append([]byte(nil), v...)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return c
			}
			b = b[n:]
		}
	}
	return c
}

func decodeControlMessage(data []byte) *ControlMessage {
	c := &ControlMessage{}
	b := data
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return c
		}
		b = b[n:]
		if typ != protowire.VarintType {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return c
			}
			b = b[n:]
			continue
		}
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return c
		}
		switch num {
		case fieldCMevent:
			c.Event = ControlEvent(v)
		case fieldCMoffset:
			c.Offset = int64(v)
		}
		b = b[n:]
	}
	return c
}

func decodePayloadTransfer(data []byte) (*PayloadTransfer, error) {
	pt := &PayloadTransfer{}
	b := data
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("payload_transfer: malformed tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch num {
		case fieldPTheader:
			msg, n, err := consumeBytes(b, typ)
			if err != nil {
				return nil, err
			}
			pt.Header = decodePayloadHeader(msg)
			b = b[n:]
		case fieldPTpacketType:
			v, n, err := consumeVarint(b, typ)
			if err != nil {
				return nil, err
			}
			pt.PacketType = PacketType(v)
			b = b[n:]
		case fieldPTchunk:
			msg, n, err := consumeBytes(b, typ)
			if err != nil {
				return nil, err
			}
			pt.Chunk = decodePayloadChunk(msg)
			b = b[n:]
		case fieldPTcontrol:
			msg, n, err := consumeBytes(b, typ)
			if err != nil {
				return nil, err
			}
			pt.Control = decodeControlMessage(msg)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("payload_transfer: malformed unknown field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return pt, nil
}

func decodeUpgradePathInfo(data []byte) *UpgradePathInfo {
	u := &UpgradePathInfo{}
	b := data
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return u
		}
		b = b[n:]

		switch num {
		case fieldUPImedium:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return u
			}
			u.Medium = Medium(v)
			b = b[n:]
		case fieldUPIwifiHotspot:
			msg, n, err := consumeBytes(b, typ)
			if err != nil {
				return u
			}
			u.WifiHotspot = decodeWifiHotspot(msg)
			b = b[n:]
		case fieldUPIwifiDirect:
			msg, n, err := consumeBytes(b, typ)
			if err != nil {
				return u
			}
			u.WifiDirect = decodeWifiDirect(msg)
			b = b[n:]
		case fieldUPIwifiLAN:
			msg, n, err := consumeBytes(b, typ)
			if err != nil {
				return u
			}
			u.WifiLAN = decodeWifiLAN(msg)
			b = b[n:]
		case fieldUPIbluetooth:
			msg, n, err := consumeBytes(b, typ)
			if err != nil {
				return u
			}
			u.Bluetooth = decodeBluetooth(msg)
			b = b[n:]
		case fieldUPIwebrtc:
			msg, n, err := consumeBytes(b, typ)
			if err != nil {
				return u
			}
			u.WebRTC = decodeWebRTC(msg)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return u
			}
			b = b[n:]
		}
	}
	return u
}

func decodeWifiHotspot(data []byte) *WifiHotspotCredentials {
	c := &WifiHotspotCredentials{}
	b := data
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return c
		}
		b = b[n:]
		v, n, err := consumeBytes(b, typ)
		if err != nil {
			return c
		}
		switch num {
		case fieldWHssid:
			c.SSID = string(v)
		case fieldWHpassword:
			c.Password = string(v)
		case fieldWHgateway:
			c.Gateway = string(v)
		}
		b = b[n:]
	}
	return c
}

func decodeWifiDirect(data []byte) *WifiDirectCredentials {
	c := &WifiDirectCredentials{}
	b := data
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return c
		}
		b = b[n:]
		switch num {
		case fieldWDssid:
			v, n, err := consumeBytes(b, typ)
			if err != nil {
				return c
			}
			c.SSID = string(v)
			b = b[n:]
		case fieldWDpassword:
			v, n, err := consumeBytes(b, typ)
			if err != nil {
				return c
			}
			c.Password = string(v)
			b = b[n:]
		case fieldWDfrequency:
			v, n, err := consumeVarint(b, typ)
			if err != nil {
				return c
			}
			c.Frequency = int32(v)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return c
			}
			b = b[n:]
		}
	}
	return c
}

func decodeWifiLAN(data []byte) *WifiLANCredentials {
	c := &WifiLANCredentials{}
	b := data
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return c
		}
		b = b[n:]
		switch num {
		case fieldWLipAddress:
			v, n, err := consumeBytes(b, typ)
			if err != nil {
				return c
			}
			c.IPAddress = string(v)
			b = b[n:]
		case fieldWLport:
			v, n, err := consumeVarint(b, typ)
			if err != nil {
				return c
			}
			c.Port = int32(v)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return c
			}
			b = b[n:]
		}
	}
	return c
}

func decodeBluetooth(data []byte) *BluetoothCredentials {
	c := &BluetoothCredentials{}
	b := data
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return c
		}
		b = b[n:]
		v, n, err := consumeBytes(b, typ)
		if err != nil {
			return c
		}
		switch num {
		case fieldBTserviceName:
			c.ServiceName = string(v)
		case fieldBTmac:
			c.MAC = append([]byte(nil), v...)
		}
		b = b[n:]
	}
	return c
}

func decodeWebRTC(data []byte) *WebRTCCredentials {
	c := &WebRTCCredentials{}
	b := data
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return c
		}
		b = b[n:]
		v, n, err := consumeBytes(b, typ)
		if err != nil {
			return c
		}
		if num == fieldWRpeerID {
			c.PeerID = string(v)
		}
		b = b[n:]
	}
	return c
}

func decodeBandwidthUpgrade(data []byte) *BandwidthUpgradeNegotiation {
	bun := &BandwidthUpgradeNegotiation{}
	b := data
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return bun
		}
		b = b[n:]

		switch num {
		case fieldBUNeventType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return bun
			}
			bun.EventType = UpgradeEvent(v)
			b = b[n:]
		case fieldBUNupgradePath:
			msg, n, err := consumeBytes(b, typ)
			if err != nil {
				return bun
			}
			bun.UpgradePath = decodeUpgradePathInfo(msg)
			b = b[n:]
		case fieldBUNclientIntroEndpointID:
			v, n, err := consumeBytes(b, typ)
			if err != nil {
				return bun
			}
			bun.ClientIntroductionEndpointID = string(v)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return bun
			}
			b = b[n:]
		}
	}
	return bun
}
