package frame

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeConnectionRequest(t *testing.T) {
	want := &Frame{
		Type: TypeConnectionRequest,
		ConnectionRequest: &ConnectionRequest{
			EndpointID:          "AbCd",
			EndpointInfo:        []byte("endpoint-info"),
			Nonce:               42,
			Supports5GHz:        true,
			BSSID:               "aa:bb:cc:dd:ee:ff",
			Mediums:             []Medium{MediumBluetooth, MediumWifiLAN},
			KeepAliveIntervalMS: 5000,
			KeepAliveTimeoutMS:  30000,
		},
	}

	got, err := Decode(Encode(want))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if got.Type != want.Type {
		t.Fatalf("Type = %v, want %v", got.Type, want.Type)
	}
	if got.ConnectionRequest.EndpointID != want.ConnectionRequest.EndpointID {
		t.Errorf("EndpointID = %q, want %q", got.ConnectionRequest.EndpointID, want.ConnectionRequest.EndpointID)
	}
	if !bytes.Equal(got.ConnectionRequest.EndpointInfo, want.ConnectionRequest.EndpointInfo) {
		t.Errorf("EndpointInfo = %q, want %q", got.ConnectionRequest.EndpointInfo, want.ConnectionRequest.EndpointInfo)
	}
	if got.ConnectionRequest.Nonce != want.ConnectionRequest.Nonce {
		t.Errorf("Nonce = %d, want %d", got.ConnectionRequest.Nonce, want.ConnectionRequest.Nonce)
	}
	if !got.ConnectionRequest.Supports5GHz {
		t.Errorf("Supports5GHz = false, want true")
	}
	if len(got.ConnectionRequest.Mediums) != 2 {
		t.Fatalf("Mediums = %v, want 2 entries", got.ConnectionRequest.Mediums)
	}

	if err := Validate(got); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestEncodeDecodePayloadTransferData(t *testing.T) {
	want := &Frame{
		Type: TypePayloadTransfer,
		PayloadTransfer: &PayloadTransfer{
			Header:     PayloadHeader{ID: 7, Type: PayloadTypeBytes, TotalSize: 1024},
			PacketType: PacketTypeData,
			Chunk: &PayloadChunk{
				Flags:  int32(FlagLastChunk),
				Offset: 512,
				Body:   []byte("chunk-body"),
			},
		},
	}

	got, err := Decode(Encode(want))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if got.PayloadTransfer.Header.ID != 7 || got.PayloadTransfer.Header.TotalSize != 1024 {
		t.Errorf("header = %+v, want ID=7 TotalSize=1024", got.PayloadTransfer.Header)
	}
	if !got.PayloadTransfer.Chunk.LastChunk() {
		t.Errorf("LastChunk() = false, want true")
	}
	if got.PayloadTransfer.Chunk.Offset != 512 {
		t.Errorf("Offset = %d, want 512", got.PayloadTransfer.Chunk.Offset)
	}
	if !bytes.Equal(got.PayloadTransfer.Chunk.Body, []byte("chunk-body")) {
		t.Errorf("Body = %q, want %q", got.PayloadTransfer.Chunk.Body, "chunk-body")
	}

	if err := Validate(got); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestEncodeDecodeIndeterminateStream(t *testing.T) {
	want := &Frame{
		Type: TypePayloadTransfer,
		PayloadTransfer: &PayloadTransfer{
			Header:     PayloadHeader{ID: 9, Type: PayloadTypeStream, TotalSize: IndeterminateSize},
			PacketType: PacketTypeData,
			Chunk:      &PayloadChunk{Offset: 0, Body: []byte("s")},
		},
	}

	got, err := Decode(Encode(want))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.PayloadTransfer.Header.TotalSize != IndeterminateSize {
		t.Errorf("TotalSize = %d, want %d", got.PayloadTransfer.Header.TotalSize, IndeterminateSize)
	}
	if err := Validate(got); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestEncodeDecodeBandwidthUpgradeWifiLAN(t *testing.T) {
	want := &Frame{
		Type: TypeBandwidthUpgradeNegotiation,
		BandwidthUpgradeNegotiation: &BandwidthUpgradeNegotiation{
			EventType: UpgradeEventUpgradePathAvailable,
			UpgradePath: &UpgradePathInfo{
				Medium:  MediumWifiLAN,
				WifiLAN: &WifiLANCredentials{IPAddress: "192.168.1.5", Port: 7531},
			},
		},
	}

	got, err := Decode(Encode(want))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if got.BandwidthUpgradeNegotiation.UpgradePath.WifiLAN.IPAddress != "192.168.1.5" {
		t.Errorf("IPAddress = %q, want %q", got.BandwidthUpgradeNegotiation.UpgradePath.WifiLAN.IPAddress, "192.168.1.5")
	}
	if got.BandwidthUpgradeNegotiation.UpgradePath.WifiLAN.Port != 7531 {
		t.Errorf("Port = %d, want 7531", got.BandwidthUpgradeNegotiation.UpgradePath.WifiLAN.Port)
	}

	if err := Validate(got); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestValidateRejectsMissingFields(t *testing.T) {
	cases := []struct {
		name  string
		frame *Frame
	}{
		{
			name:  "connection request without endpoint id",
			frame: &Frame{Type: TypeConnectionRequest, ConnectionRequest: &ConnectionRequest{EndpointInfo: []byte("x")}},
		},
		{
			name:  "payload transfer data without chunk",
			frame: &Frame{Type: TypePayloadTransfer, PayloadTransfer: &PayloadTransfer{Header: PayloadHeader{ID: 1}, PacketType: PacketTypeData}},
		},
		{
			name: "upgrade path available without wifi lan ip address",
			frame: &Frame{
				Type: TypeBandwidthUpgradeNegotiation,
				BandwidthUpgradeNegotiation: &BandwidthUpgradeNegotiation{
					EventType:   UpgradeEventUpgradePathAvailable,
					UpgradePath: &UpgradePathInfo{Medium: MediumWifiLAN, WifiLAN: &WifiLANCredentials{Port: 7531}},
				},
			},
		},
		{
			name: "upgrade path targeting BLE",
			frame: &Frame{
				Type: TypeBandwidthUpgradeNegotiation,
				BandwidthUpgradeNegotiation: &BandwidthUpgradeNegotiation{
					EventType:   UpgradeEventUpgradePathAvailable,
					UpgradePath: &UpgradePathInfo{Medium: MediumBLE},
				},
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := Validate(tc.frame); err == nil {
				t.Fatalf("Validate() = nil, want error")
			}
		})
	}
}

func TestKeepAliveRoundTrip(t *testing.T) {
	want := &Frame{Type: TypeKeepAlive}

	got, err := Decode(Encode(want))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Type != TypeKeepAlive {
		t.Errorf("Type = %v, want KEEP_ALIVE", got.Type)
	}
	if err := Validate(got); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestDecodeRejectsTruncatedInput(t *testing.T) {
	full := Encode(&Frame{
		Type: TypePayloadTransfer,
		PayloadTransfer: &PayloadTransfer{
			Header:     PayloadHeader{ID: 1, TotalSize: 10},
			PacketType: PacketTypeData,
			Chunk:      &PayloadChunk{Body: []byte("hello")},
		},
	})

	if _, err := Decode(full[:len(full)-2]); err == nil {
		t.Fatalf("Decode(truncated) = nil error, want error")
	}
}
