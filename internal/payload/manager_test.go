package payload

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/dantte-lp/gonearby/internal/channel"
	"github.com/dantte-lp/gonearby/internal/endpoint"
	"github.com/dantte-lp/gonearby/internal/frame"
	"github.com/dantte-lp/gonearby/internal/medium/loopback"
)

func testPipe(t *testing.T) (*channel.Channel, *channel.Channel) {
	t.Helper()
	return testPipeNamed(t, t.Name())
}

func testPipeNamed(t *testing.T, addr string) (*channel.Channel, *channel.Channel) {
	t.Helper()

	d := loopback.NewDriver()
	ln, err := d.Listen(addr)
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

	clientConn, err := d.Dial(context.Background(), addr)
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

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSendPayloadBytesRoundTrip(t *testing.T) {
	clientConn, serverConn := testPipe(t)

	clientMgr := endpoint.NewManager(discardLogger())
	serverMgr := endpoint.NewManager(discardLogger())
	defer clientMgr.StopAll()
	defer serverMgr.StopAll()

	clientPayloads := payloadManagerFor(clientMgr)
	serverPayloads := payloadManagerFor(serverMgr)
	defer clientPayloads.StopAll()
	defer serverPayloads.StopAll()

	received := make(chan *IncomingPayload, 1)
	serverPayloads.OnIncoming(func(endpointID string, p *IncomingPayload) {
		received <- p
	})

	clientEp := &endpoint.Endpoint{ID: "client", Channel: clientConn, KeepAliveInterval: time.Hour, KeepAliveTimeout: time.Hour}
	serverEp := &endpoint.Endpoint{ID: "server", Channel: serverConn, KeepAliveInterval: time.Hour, KeepAliveTimeout: time.Hour}

	if err := clientMgr.Add(context.Background(), clientEp); err != nil {
		t.Fatalf("Add client: %v", err)
	}
	if err := serverMgr.Add(context.Background(), serverEp); err != nil {
		t.Fatalf("Add server: %v", err)
	}

	want := []byte("hello from the payload manager")
	clientPayloads.SendPayload(context.Background(), []string{"client"}, NewBytesPayload(1, want))

	var incoming *IncomingPayload
	select {
	case incoming = <-received:
	case <-time.After(time.Second):
		t.Fatal("incoming payload never arrived")
	}

	got, err := io.ReadAll(incoming)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != string(want) {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestSendLargePayloadChunks(t *testing.T) {
	clientConn, serverConn := testPipe(t)

	clientMgr := endpoint.NewManager(discardLogger())
	serverMgr := endpoint.NewManager(discardLogger())
	defer clientMgr.StopAll()
	defer serverMgr.StopAll()

	clientPayloads := payloadManagerFor(clientMgr)
	serverPayloads := payloadManagerFor(serverMgr)
	defer clientPayloads.StopAll()
	defer serverPayloads.StopAll()

	received := make(chan *IncomingPayload, 1)
	serverPayloads.OnIncoming(func(endpointID string, p *IncomingPayload) {
		received <- p
	})

	clientEp := &endpoint.Endpoint{ID: "client2", Channel: clientConn, KeepAliveInterval: time.Hour, KeepAliveTimeout: time.Hour}
	serverEp := &endpoint.Endpoint{ID: "server2", Channel: serverConn, KeepAliveInterval: time.Hour, KeepAliveTimeout: time.Hour}

	if err := clientMgr.Add(context.Background(), clientEp); err != nil {
		t.Fatalf("Add client: %v", err)
	}
	if err := serverMgr.Add(context.Background(), serverEp); err != nil {
		t.Fatalf("Add server: %v", err)
	}

	want := make([]byte, MaxChunkSize*3+17)
	for i := range want {
		want[i] = byte(i % 251)
	}

	clientPayloads.SendPayload(context.Background(), []string{"client2"}, NewBytesPayload(2, want))

	var incoming *IncomingPayload
	select {
	case incoming = <-received:
	case <-time.After(time.Second):
		t.Fatal("incoming payload never arrived")
	}

	got, err := io.ReadAll(incoming)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("len(got) = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("byte %d differs: got %d, want %d", i, got[i], want[i])
		}
	}
}

// payloadManagerFor is a thin indirection so both test functions share
// construction logic without exporting a test-only constructor.
func payloadManagerFor(mgr *endpoint.Manager) *Manager {
	return NewManager(mgr, discardLogger())
}

func TestSendPayloadFanOutToMultipleEndpoints(t *testing.T) {
	clientConnA, serverConnA := testPipeNamed(t, t.Name()+"/a")
	clientConnB, serverConnB := testPipeNamed(t, t.Name()+"/b")

	clientMgr := endpoint.NewManager(discardLogger())
	serverMgrA := endpoint.NewManager(discardLogger())
	serverMgrB := endpoint.NewManager(discardLogger())
	defer clientMgr.StopAll()
	defer serverMgrA.StopAll()
	defer serverMgrB.StopAll()

	clientPayloads := payloadManagerFor(clientMgr)
	serverPayloadsA := payloadManagerFor(serverMgrA)
	serverPayloadsB := payloadManagerFor(serverMgrB)
	defer clientPayloads.StopAll()
	defer serverPayloadsA.StopAll()
	defer serverPayloadsB.StopAll()

	receivedA := make(chan *IncomingPayload, 1)
	receivedB := make(chan *IncomingPayload, 1)
	serverPayloadsA.OnIncoming(func(endpointID string, p *IncomingPayload) { receivedA <- p })
	serverPayloadsB.OnIncoming(func(endpointID string, p *IncomingPayload) { receivedB <- p })

	epA := &endpoint.Endpoint{ID: "peerA", Channel: clientConnA, KeepAliveInterval: time.Hour, KeepAliveTimeout: time.Hour}
	epB := &endpoint.Endpoint{ID: "peerB", Channel: clientConnB, KeepAliveInterval: time.Hour, KeepAliveTimeout: time.Hour}
	serverEpA := &endpoint.Endpoint{ID: "serverA", Channel: serverConnA, KeepAliveInterval: time.Hour, KeepAliveTimeout: time.Hour}
	serverEpB := &endpoint.Endpoint{ID: "serverB", Channel: serverConnB, KeepAliveInterval: time.Hour, KeepAliveTimeout: time.Hour}

	if err := clientMgr.Add(context.Background(), epA); err != nil {
		t.Fatalf("Add peerA: %v", err)
	}
	if err := clientMgr.Add(context.Background(), epB); err != nil {
		t.Fatalf("Add peerB: %v", err)
	}
	if err := serverMgrA.Add(context.Background(), serverEpA); err != nil {
		t.Fatalf("Add serverA: %v", err)
	}
	if err := serverMgrB.Add(context.Background(), serverEpB); err != nil {
		t.Fatalf("Add serverB: %v", err)
	}

	want := []byte("fanned out to both cluster peers")
	clientPayloads.SendPayload(context.Background(), []string{"peerA", "peerB"}, NewBytesPayload(1, want))

	for name, ch := range map[string]chan *IncomingPayload{"peerA": receivedA, "peerB": receivedB} {
		select {
		case incoming := <-ch:
			got, err := io.ReadAll(incoming)
			if err != nil {
				t.Fatalf("%s: ReadAll: %v", name, err)
			}
			if string(got) != string(want) {
				t.Fatalf("%s: got %q, want %q", name, got, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("%s: incoming payload never arrived", name)
		}
	}
}

func TestSendPayloadDropsUnknownTargetKeepsRest(t *testing.T) {
	clientConn, serverConn := testPipe(t)

	clientMgr := endpoint.NewManager(discardLogger())
	serverMgr := endpoint.NewManager(discardLogger())
	defer clientMgr.StopAll()
	defer serverMgr.StopAll()

	clientPayloads := payloadManagerFor(clientMgr)
	serverPayloads := payloadManagerFor(serverMgr)
	defer clientPayloads.StopAll()
	defer serverPayloads.StopAll()

	received := make(chan *IncomingPayload, 1)
	serverPayloads.OnIncoming(func(endpointID string, p *IncomingPayload) { received <- p })

	clientEp := &endpoint.Endpoint{ID: "known", Channel: clientConn, KeepAliveInterval: time.Hour, KeepAliveTimeout: time.Hour}
	serverEp := &endpoint.Endpoint{ID: "server3", Channel: serverConn, KeepAliveInterval: time.Hour, KeepAliveTimeout: time.Hour}

	if err := clientMgr.Add(context.Background(), clientEp); err != nil {
		t.Fatalf("Add client: %v", err)
	}
	if err := serverMgr.Add(context.Background(), serverEp); err != nil {
		t.Fatalf("Add server: %v", err)
	}

	want := []byte("one good target, one missing")
	clientPayloads.SendPayload(context.Background(), []string{"known", "never-connected"}, NewBytesPayload(3, want))

	select {
	case incoming := <-received:
		got, err := io.ReadAll(incoming)
		if err != nil {
			t.Fatalf("ReadAll: %v", err)
		}
		if string(got) != string(want) {
			t.Fatalf("got %q, want %q", got, want)
		}
	case <-time.After(time.Second):
		t.Fatal("incoming payload never arrived at the known target")
	}
}

func TestHandleDataFailsTransferOnOffsetMismatch(t *testing.T) {
	mgr := payloadManagerFor(endpoint.NewManager(discardLogger()))

	var notified *IncomingPayload
	mgr.OnIncoming(func(endpointID string, p *IncomingPayload) { notified = p })

	header := frame.PayloadHeader{ID: 42, Type: frame.PayloadTypeBytes, TotalSize: 10}

	mgr.handleData("peer", recvKey("peer", header.ID), &frame.PayloadTransfer{
		Header:     header,
		PacketType: frame.PacketTypeData,
		Chunk:      &frame.PayloadChunk{Offset: 0, Body: []byte("hello")},
	})
	if notified == nil {
		t.Fatalf("OnIncoming handler never ran")
	}

	mgr.handleData("peer", recvKey("peer", header.ID), &frame.PayloadTransfer{
		Header:     header,
		PacketType: frame.PacketTypeData,
		Chunk:      &frame.PayloadChunk{Offset: 999, Body: []byte("out-of-order")},
	})

	_, err := io.ReadAll(notified)
	if !errors.Is(err, ErrOffsetMismatch) {
		t.Fatalf("ReadAll error = %v, want %v", err, ErrOffsetMismatch)
	}

	mgr.mu.Lock()
	_, stillTracked := mgr.incoming[recvKey("peer", header.ID)]
	mgr.mu.Unlock()
	if stillTracked {
		t.Fatalf("incoming transfer still tracked after offset mismatch")
	}
}
