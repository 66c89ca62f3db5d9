package upgrade

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/dantte-lp/gonearby/internal/channel"
	"github.com/dantte-lp/gonearby/internal/endpoint"
	"github.com/dantte-lp/gonearby/internal/frame"
	"github.com/dantte-lp/gonearby/internal/medium/loopback"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func priorChannelPipe(t *testing.T, d *loopback.Driver, name string) (*channel.Channel, *channel.Channel) {
	t.Helper()

	ln, err := d.Listen(name)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	serverCh := make(chan *channel.Channel, 1)
	go func() {
		c, err := ln.Accept(context.Background())
		if err != nil {
			return
		}
		serverCh <- channel.New(c)
	}()

	clientConn, err := d.Dial(context.Background(), name)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	select {
	case server := <-serverCh:
		return channel.New(clientConn), server
	case <-time.After(time.Second):
		t.Fatal("Accept never completed")
		return nil, nil
	}
}

func TestBandwidthUpgradeRebindsEndpoint(t *testing.T) {
	priorDriver := loopback.NewDriver()
	newDriver := loopback.NewDriver()

	priorClientCh, priorServerCh := priorChannelPipe(t, priorDriver, "prior/"+t.Name())

	clientMgr := endpoint.NewManager(discardLogger())
	serverMgr := endpoint.NewManager(discardLogger())
	defer clientMgr.StopAll()
	defer serverMgr.StopAll()

	clientEngine := NewEngine(clientMgr, discardLogger())
	serverEngine := NewEngine(serverMgr, discardLogger())

	newLn, err := newDriver.Listen("new-medium-addr")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer newLn.Close()
	clientEngine.RegisterMedium(frame.MediumWifiLAN, newLn, newDriver)
	serverEngine.RegisterMedium(frame.MediumWifiLAN, nil, newDriver)

	const endpointID = "shared-endpoint"

	clientEp := &endpoint.Endpoint{ID: endpointID, Channel: priorClientCh, KeepAliveInterval: time.Hour, KeepAliveTimeout: time.Hour}
	serverEp := &endpoint.Endpoint{ID: endpointID, Channel: priorServerCh, KeepAliveInterval: time.Hour, KeepAliveTimeout: time.Hour}

	if err := clientMgr.Add(context.Background(), clientEp); err != nil {
		t.Fatalf("Add client: %v", err)
	}
	if err := serverMgr.Add(context.Background(), serverEp); err != nil {
		t.Fatalf("Add server: %v", err)
	}

	// The server side learns of the offer via its own registered handler
	// in a real session; here the test plays that role directly by
	// driving DialNewMedium once it observes UPGRADE_PATH_AVAILABLE.
	serverMgr.RegisterHandler(frame.TypeBandwidthUpgradeNegotiation, func(epID string, f *frame.Frame) {
		if f.BandwidthUpgradeNegotiation.EventType != frame.UpgradeEventUpgradePathAvailable {
			return
		}
		go func() {
			if err := serverEngine.DialNewMedium(context.Background(), epID, "new-medium-addr", f.BandwidthUpgradeNegotiation.UpgradePath); err != nil {
				t.Errorf("DialNewMedium: %v", err)
			}
		}()
	})

	credentials := &frame.UpgradePathInfo{
		Medium:  frame.MediumWifiLAN,
		WifiLAN: &frame.WifiLANCredentials{IPAddress: "new-medium-addr", Port: 1},
	}

	if err := clientEngine.InitiateUpgrade(context.Background(), endpointID, frame.MediumWifiLAN, credentials); err != nil {
		t.Fatalf("InitiateUpgrade: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		clientEp, ok := clientMgr.Get(endpointID)
		if ok && clientEp.CurrentChannel().Medium() == frame.MediumWifiLAN {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	clientEpAfter, ok := clientMgr.Get(endpointID)
	if !ok {
		t.Fatal("client endpoint vanished")
	}
	if clientEpAfter.CurrentChannel().Medium() != frame.MediumWifiLAN {
		t.Fatalf("client endpoint still on prior medium after upgrade attempt")
	}
}

func TestInitiateUpgradeRejectsConcurrentAttempt(t *testing.T) {
	priorDriver := loopback.NewDriver()
	_, serverCh := priorChannelPipe(t, priorDriver, t.Name())

	mgr := endpoint.NewManager(discardLogger())
	defer mgr.StopAll()

	engine := NewEngine(mgr, discardLogger())

	newDriver := loopback.NewDriver()
	ln, err := newDriver.Listen("addr")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()
	engine.RegisterMedium(frame.MediumWifiLAN, ln, newDriver)

	ep := &endpoint.Endpoint{ID: "ep", Channel: serverCh, KeepAliveInterval: time.Hour, KeepAliveTimeout: time.Hour}
	if err := mgr.Add(context.Background(), ep); err != nil {
		t.Fatalf("Add: %v", err)
	}

	creds := &frame.UpgradePathInfo{Medium: frame.MediumWifiLAN, WifiLAN: &frame.WifiLANCredentials{IPAddress: "addr", Port: 1}}

	if err := engine.InitiateUpgrade(context.Background(), "ep", frame.MediumWifiLAN, creds); err != nil {
		t.Fatalf("first InitiateUpgrade: %v", err)
	}

	if err := engine.InitiateUpgrade(context.Background(), "ep", frame.MediumWifiLAN, creds); err == nil {
		t.Fatal("second InitiateUpgrade() = nil error, want ErrUpgradeInProgress")
	}
}
