package frame

import "testing"

func TestValidateAcceptsWifiLANPortZero(t *testing.T) {
	f := &Frame{
		Type: TypeBandwidthUpgradeNegotiation,
		BandwidthUpgradeNegotiation: &BandwidthUpgradeNegotiation{
			EventType:   UpgradeEventUpgradePathAvailable,
			UpgradePath: &UpgradePathInfo{Medium: MediumWifiLAN, WifiLAN: &WifiLANCredentials{IPAddress: "10.0.0.1", Port: 0}},
		},
	}
	if err := Validate(f); err != nil {
		t.Errorf("Validate() = %v, want nil (port 0 is a valid WIFI_LAN port)", err)
	}
}

func TestValidatePayloadTransferOffsetAndBody(t *testing.T) {
	cases := []struct {
		name    string
		pt      *PayloadTransfer
		wantErr bool
	}{
		{
			name: "offset within total size",
			pt: &PayloadTransfer{
				Header:     PayloadHeader{ID: 1, TotalSize: 100},
				PacketType: PacketTypeData,
				Chunk:      &PayloadChunk{Offset: 50, Body: []byte("x")},
			},
		},
		{
			name: "offset beyond total size",
			pt: &PayloadTransfer{
				Header:     PayloadHeader{ID: 1, TotalSize: 100},
				PacketType: PacketTypeData,
				Chunk:      &PayloadChunk{Offset: 200, Body: []byte("x")},
			},
			wantErr: true,
		},
		{
			name: "indeterminate total size allows any offset",
			pt: &PayloadTransfer{
				Header:     PayloadHeader{ID: 1, TotalSize: IndeterminateSize},
				PacketType: PacketTypeData,
				Chunk:      &PayloadChunk{Offset: 1 << 30, Body: []byte("x")},
			},
		},
		{
			name: "empty body without last_chunk flag",
			pt: &PayloadTransfer{
				Header:     PayloadHeader{ID: 1, TotalSize: 100},
				PacketType: PacketTypeData,
				Chunk:      &PayloadChunk{Offset: 0},
			},
			wantErr: true,
		},
		{
			name: "empty body with last_chunk flag",
			pt: &PayloadTransfer{
				Header:     PayloadHeader{ID: 1, TotalSize: 100},
				PacketType: PacketTypeData,
				Chunk:      &PayloadChunk{Offset: 100, Flags: int32(FlagLastChunk)},
			},
		},
		{
			name: "control offset beyond total size",
			pt: &PayloadTransfer{
				Header:     PayloadHeader{ID: 1, TotalSize: 100},
				PacketType: PacketTypeControl,
				Control:    &ControlMessage{Event: ControlEventCanceled, Offset: 200},
			},
			wantErr: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := validatePayloadTransfer(tc.pt)
			if tc.wantErr && err == nil {
				t.Fatalf("validatePayloadTransfer() = nil, want error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("validatePayloadTransfer() = %v, want nil", err)
			}
		})
	}
}

func TestValidateUpgradePathInfoMediumCredentials(t *testing.T) {
	cases := []struct {
		name    string
		info    *UpgradePathInfo
		wantErr bool
	}{
		{
			name: "wifi hotspot valid",
			info: &UpgradePathInfo{Medium: MediumWifiHotspot, WifiHotspot: &WifiHotspotCredentials{SSID: "nearby", Password: "longenough", Gateway: "192.168.43.1"}},
		},
		{
			name:    "wifi hotspot password too short",
			info:    &UpgradePathInfo{Medium: MediumWifiHotspot, WifiHotspot: &WifiHotspotCredentials{SSID: "nearby", Password: "short", Gateway: "192.168.43.1"}},
			wantErr: true,
		},
		{
			name:    "wifi hotspot gateway not an ip",
			info:    &UpgradePathInfo{Medium: MediumWifiHotspot, WifiHotspot: &WifiHotspotCredentials{SSID: "nearby", Password: "longenough", Gateway: "not-an-ip"}},
			wantErr: true,
		},
		{
			name: "wifi direct valid",
			info: &UpgradePathInfo{Medium: MediumWifiDirect, WifiDirect: &WifiDirectCredentials{SSID: "DIRECT-ab-nearby", Password: "longenough", Frequency: 2437}},
		},
		{
			name:    "wifi direct ssid missing the DIRECT- prefix",
			info:    &UpgradePathInfo{Medium: MediumWifiDirect, WifiDirect: &WifiDirectCredentials{SSID: "nearby", Password: "longenough", Frequency: 2437}},
			wantErr: true,
		},
		{
			name:    "wifi direct frequency below -1",
			info:    &UpgradePathInfo{Medium: MediumWifiDirect, WifiDirect: &WifiDirectCredentials{SSID: "DIRECT-ab-nearby", Password: "longenough", Frequency: -2}},
			wantErr: true,
		},
		{
			name:    "bluetooth missing service name",
			info:    &UpgradePathInfo{Medium: MediumBluetooth, Bluetooth: &BluetoothCredentials{MAC: []byte{1, 2, 3, 4, 5, 6}}},
			wantErr: true,
		},
		{
			name: "bluetooth valid",
			info: &UpgradePathInfo{Medium: MediumBluetooth, Bluetooth: &BluetoothCredentials{MAC: []byte{1, 2, 3, 4, 5, 6}, ServiceName: "nearby"}},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := validateUpgradePathInfo(tc.info)
			if tc.wantErr && err == nil {
				t.Fatalf("validateUpgradePathInfo() = nil, want error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("validateUpgradePathInfo() = %v, want nil", err)
			}
		})
	}
}
