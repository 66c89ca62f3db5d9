package server_test

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"connectrpc.com/connect"

	"github.com/dantte-lp/gonearby/internal/host"
	"github.com/dantte-lp/gonearby/internal/server"
)

// testClient holds the test server's base URL and HTTP client; callUnary
// builds a fresh connect client per call from them, since there is no
// generated service client to carry the procedures together.
type testClient struct {
	baseURL string
	http    connect.HTTPClient
}

func callUnary[Req, Res any](tc testClient, ctx context.Context, method string, req *Req) (*Res, error) {
	client := connect.NewClient[Req, Res](tc.http, tc.baseURL+server.Procedure(method), connect.WithCodec(server.Codec{}))
	resp, err := client.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

// setupTestServer creates a real HTTP server backed by a fresh *host.Host
// and returns a testClient connected to it. The server and host are
// cleaned up when the test finishes.
func setupTestServer(t *testing.T) testClient {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)
	h := host.New(logger)
	t.Cleanup(h.Close)

	path, handler := server.New(h, logger)
	mux := http.NewServeMux()
	mux.Handle(path, handler)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return testClient{baseURL: srv.URL, http: srv.Client()}
}

func mustAttach(t *testing.T, tc testClient) string {
	t.Helper()
	resp, err := callUnary[server.AttachClientRequest, server.AttachClientResponse](tc, context.Background(), "AttachClient", &server.AttachClientRequest{})
	if err != nil {
		t.Fatalf("AttachClient: %v", err)
	}
	return resp.ClientHandle
}

func connectCode(t *testing.T, err error) connect.Code {
	t.Helper()
	var connectErr *connect.Error
	if !errors.As(err, &connectErr) {
		t.Fatalf("expected connect.Error, got %T: %v", err, err)
	}
	return connectErr.Code()
}

// -------------------------------------------------------------------------
// TestAttachDetachClient
// -------------------------------------------------------------------------

func TestAttachDetachClient(t *testing.T) {
	t.Parallel()

	tc := setupTestServer(t)
	handle := mustAttach(t, tc)
	if handle == "" {
		t.Fatal("client handle is empty")
	}

	_, err := callUnary[server.DetachClientRequest, server.DetachClientResponse](tc, context.Background(), "DetachClient", &server.DetachClientRequest{ClientHandle: handle})
	if err != nil {
		t.Fatalf("DetachClient: %v", err)
	}

	// A second detach of the same handle must fail: it is no longer attached.
	_, err = callUnary[server.DetachClientRequest, server.DetachClientResponse](tc, context.Background(), "DetachClient", &server.DetachClientRequest{ClientHandle: handle})
	if err == nil {
		t.Fatal("expected error detaching an already-detached client, got nil")
	}
	if code := connectCode(t, err); code != connect.CodeNotFound {
		t.Errorf("code = %s, want NotFound", code)
	}
}

// -------------------------------------------------------------------------
// TestStartStopAdvertising
// -------------------------------------------------------------------------

func TestStartStopAdvertising(t *testing.T) {
	t.Parallel()

	tc := setupTestServer(t)
	handle := mustAttach(t, tc)

	_, err := callUnary[server.StartAdvertisingRequest, server.StartAdvertisingResponse](tc, context.Background(), "StartAdvertising", &server.StartAdvertisingRequest{
		ClientHandle: handle,
		ServiceID:    "com.example.chat",
		Strategy:     "P2P_CLUSTER",
		Mediums:      []string{"WIFI_LAN"},
		EndpointInfo: []byte("alice"),
	})
	if err != nil {
		t.Fatalf("StartAdvertising: %v", err)
	}

	_, err = callUnary[server.StopAdvertisingRequest, server.StopAdvertisingResponse](tc, context.Background(), "StopAdvertising", &server.StopAdvertisingRequest{ClientHandle: handle})
	if err != nil {
		t.Fatalf("StopAdvertising: %v", err)
	}
}

// -------------------------------------------------------------------------
// TestStartAdvertisingInvalidStrategy
// -------------------------------------------------------------------------

func TestStartAdvertisingInvalidStrategy(t *testing.T) {
	t.Parallel()

	tc := setupTestServer(t)
	handle := mustAttach(t, tc)

	_, err := callUnary[server.StartAdvertisingRequest, server.StartAdvertisingResponse](tc, context.Background(), "StartAdvertising", &server.StartAdvertisingRequest{
		ClientHandle: handle,
		ServiceID:    "com.example.chat",
		Strategy:     "NOT_A_STRATEGY",
		Mediums:      []string{"WIFI_LAN"},
	})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if code := connectCode(t, err); code != connect.CodeInvalidArgument {
		t.Errorf("code = %s, want InvalidArgument", code)
	}
}

// -------------------------------------------------------------------------
// TestStartAdvertisingInvalidMedium
// -------------------------------------------------------------------------

func TestStartAdvertisingInvalidMedium(t *testing.T) {
	t.Parallel()

	tc := setupTestServer(t)
	handle := mustAttach(t, tc)

	_, err := callUnary[server.StartAdvertisingRequest, server.StartAdvertisingResponse](tc, context.Background(), "StartAdvertising", &server.StartAdvertisingRequest{
		ClientHandle: handle,
		ServiceID:    "com.example.chat",
		Strategy:     "P2P_CLUSTER",
		Mediums:      []string{"CARRIER_PIGEON"},
	})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if code := connectCode(t, err); code != connect.CodeInvalidArgument {
		t.Errorf("code = %s, want InvalidArgument", code)
	}
}

// -------------------------------------------------------------------------
// TestStartStopDiscovering
// -------------------------------------------------------------------------

func TestStartStopDiscovering(t *testing.T) {
	t.Parallel()

	tc := setupTestServer(t)
	handle := mustAttach(t, tc)

	_, err := callUnary[server.StartDiscoveringRequest, server.StartDiscoveringResponse](tc, context.Background(), "StartDiscovering", &server.StartDiscoveringRequest{
		ClientHandle: handle,
		ServiceID:    "com.example.chat",
		Strategy:     "P2P_CLUSTER",
		Mediums:      []string{"WIFI_LAN"},
	})
	if err != nil {
		t.Fatalf("StartDiscovering: %v", err)
	}

	_, err = callUnary[server.StopDiscoveringRequest, server.StopDiscoveringResponse](tc, context.Background(), "StopDiscovering", &server.StopDiscoveringRequest{ClientHandle: handle})
	if err != nil {
		t.Fatalf("StopDiscovering: %v", err)
	}
}

// -------------------------------------------------------------------------
// TestInjectEndpointAndWatchEvents
// -------------------------------------------------------------------------

func TestInjectEndpointAndWatchEvents(t *testing.T) {
	t.Parallel()

	tc := setupTestServer(t)
	handle := mustAttach(t, tc)

	_, err := callUnary[server.StartDiscoveringRequest, server.StartDiscoveringResponse](tc, context.Background(), "StartDiscovering", &server.StartDiscoveringRequest{
		ClientHandle: handle,
		ServiceID:    "com.example.chat",
		Strategy:     "P2P_CLUSTER",
		Mediums:      []string{"BLUETOOTH"},
	})
	if err != nil {
		t.Fatalf("StartDiscovering: %v", err)
	}

	watchClient := connect.NewClient[server.WatchEventsRequest, server.WatchEventsResponse](
		tc.http, tc.baseURL+server.Procedure("WatchEvents"), connect.WithCodec(server.Codec{}),
	)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	stream, err := watchClient.CallServerStream(ctx, connect.NewRequest(&server.WatchEventsRequest{ClientHandle: handle}))
	if err != nil {
		t.Fatalf("WatchEvents: %v", err)
	}
	t.Cleanup(func() { _ = stream.Close() })

	_, err = callUnary[server.InjectEndpointRequest, server.InjectEndpointResponse](tc, context.Background(), "InjectEndpoint", &server.InjectEndpointRequest{
		ClientHandle: handle,
		EndpointID:   "ABCD",
		EndpointInfo: []byte("bob"),
	})
	if err != nil {
		t.Fatalf("InjectEndpoint: %v", err)
	}

	if !stream.Receive() {
		t.Fatalf("expected an event, stream ended: %v", stream.Err())
	}
	ev := stream.Msg()
	if ev.EndpointFound == nil {
		t.Fatalf("expected endpoint_found event, got %+v", ev)
	}
	if ev.EndpointFound.EndpointID != "ABCD" {
		t.Errorf("EndpointID = %q, want ABCD", ev.EndpointFound.EndpointID)
	}
	if ev.EndpointFound.Medium != "BLUETOOTH" {
		t.Errorf("Medium = %q, want BLUETOOTH", ev.EndpointFound.Medium)
	}
}

// -------------------------------------------------------------------------
// TestGetLocalEndpointIDUnknownClient
// -------------------------------------------------------------------------

func TestGetLocalEndpointIDUnknownClient(t *testing.T) {
	t.Parallel()

	tc := setupTestServer(t)

	_, err := callUnary[server.GetLocalEndpointIDRequest, server.GetLocalEndpointIDResponse](tc, context.Background(), "GetLocalEndpointID", &server.GetLocalEndpointIDRequest{
		ClientHandle: "client-does-not-exist",
	})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if code := connectCode(t, err); code != connect.CodeNotFound {
		t.Errorf("code = %s, want NotFound", code)
	}
}

// -------------------------------------------------------------------------
// TestSendPayloadNotConnected
// -------------------------------------------------------------------------

func TestSendPayloadNotConnected(t *testing.T) {
	t.Parallel()

	tc := setupTestServer(t)
	handle := mustAttach(t, tc)

	_, err := callUnary[server.SendPayloadRequest, server.SendPayloadResponse](tc, context.Background(), "SendPayload", &server.SendPayloadRequest{
		ClientHandle: handle,
		EndpointIDs:  []string{"not-connected"},
		Body:         []byte("hello"),
	})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if code := connectCode(t, err); code != connect.CodeFailedPrecondition {
		t.Errorf("code = %s, want FailedPrecondition", code)
	}
}

// -------------------------------------------------------------------------
// TestDisconnectFromEndpointIsIdempotent
// -------------------------------------------------------------------------

func TestDisconnectFromEndpointIsIdempotent(t *testing.T) {
	t.Parallel()

	tc := setupTestServer(t)
	handle := mustAttach(t, tc)

	_, err := callUnary[server.DisconnectFromEndpointRequest, server.DisconnectFromEndpointResponse](tc, context.Background(), "DisconnectFromEndpoint", &server.DisconnectFromEndpointRequest{
		ClientHandle: handle,
		EndpointID:   "never-existed",
	})
	if err != nil {
		t.Fatalf("DisconnectFromEndpoint: %v", err)
	}
}
