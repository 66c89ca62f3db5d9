//go:build integration

package integration_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"connectrpc.com/connect"
	"gopkg.in/yaml.v3"

	"github.com/dantte-lp/gonearby/internal/host"
	"github.com/dantte-lp/gonearby/internal/server"
)

// cliTestEnv bundles an in-process ConnectRPC server backed by a real
// host.Host. This mirrors the nearbyctl client setup without requiring a
// running daemon.
type cliTestEnv struct {
	rpcURL  string
	rpcHTTP connect.HTTPClient
}

func newCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)
	h := host.New(logger)
	t.Cleanup(h.Close)

	path, handler := server.New(h, logger)
	mux := http.NewServeMux()
	mux.Handle(path, handler)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return &cliTestEnv{rpcURL: srv.URL, rpcHTTP: srv.Client()}
}

// call mirrors cmd/nearbyctl/commands/client.go's callUnary: a fresh
// connect.Client per procedure, since there is no generated service stub.
func cliCall[Req, Res any](env *cliTestEnv, method string, req *Req) (*Res, error) {
	client := connect.NewClient[Req, Res](env.rpcHTTP, env.rpcURL+server.Procedure(method), connect.WithCodec(server.Codec{}))
	resp, err := client.CallUnary(context.Background(), connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

func cliMustAttach(t *testing.T, env *cliTestEnv) string {
	t.Helper()
	resp, err := cliCall[server.AttachClientRequest, server.AttachClientResponse](env, "AttachClient", &server.AttachClientRequest{})
	if err != nil {
		t.Fatalf("AttachClient: %v", err)
	}
	return resp.ClientHandle
}

func connectCode(t *testing.T, err error) connect.Code {
	t.Helper()
	connectErr, ok := err.(*connect.Error)
	if !ok {
		t.Fatalf("expected *connect.Error, got %T: %v", err, err)
	}
	return connectErr.Code()
}

// TestCLIAttachDetachHandleLifecycle exercises the handle lifecycle a CLI
// session drives through "client attach"/"client detach": a fresh handle
// works for one RPC, and using it again after detach is rejected.
func TestCLIAttachDetachHandleLifecycle(t *testing.T) {
	env := newCLITestEnv(t)
	handle := cliMustAttach(t, env)

	if _, err := cliCall[server.DetachClientRequest, server.DetachClientResponse](
		env, "DetachClient", &server.DetachClientRequest{ClientHandle: handle}); err != nil {
		t.Fatalf("DetachClient: %v", err)
	}

	_, err := cliCall[server.StartAdvertisingRequest, server.StartAdvertisingResponse](
		env, "StartAdvertising", &server.StartAdvertisingRequest{
			ClientHandle: handle,
			ServiceID:    "com.example.chat",
			Strategy:     "P2P_CLUSTER",
			Mediums:      []string{"WIFI_LAN"},
		})
	if code := connectCode(t, err); code != connect.CodeNotFound {
		t.Errorf("StartAdvertising after detach: code = %v, want NotFound", code)
	}
}

// TestCLIUnknownHandleRejected verifies every handle-scoped RPC nearbyctl
// drives rejects a handle that was never attached.
func TestCLIUnknownHandleRejected(t *testing.T) {
	env := newCLITestEnv(t)

	_, err := cliCall[server.StartDiscoveringRequest, server.StartDiscoveringResponse](
		env, "StartDiscovering", &server.StartDiscoveringRequest{
			ClientHandle: "client-does-not-exist",
			ServiceID:    "com.example.chat",
			Strategy:     "P2P_CLUSTER",
			Mediums:      []string{"WIFI_LAN"},
		})
	if code := connectCode(t, err); code != connect.CodeNotFound {
		t.Errorf("code = %v, want NotFound", code)
	}
}

// TestCLIInvalidStrategyRejected verifies an unrecognized strategy string
// (as a typo'd --strategy flag would produce) is rejected as
// InvalidArgument rather than silently defaulting.
func TestCLIInvalidStrategyRejected(t *testing.T) {
	env := newCLITestEnv(t)
	handle := cliMustAttach(t, env)

	_, err := cliCall[server.StartAdvertisingRequest, server.StartAdvertisingResponse](
		env, "StartAdvertising", &server.StartAdvertisingRequest{
			ClientHandle: handle,
			ServiceID:    "com.example.chat",
			Strategy:     "P2P_MESH",
			Mediums:      []string{"WIFI_LAN"},
		})
	if code := connectCode(t, err); code != connect.CodeInvalidArgument {
		t.Errorf("code = %v, want InvalidArgument", code)
	}
}

// TestCLIUnsupportedMediumRejected verifies dialing a medium no driver was
// registered for -- the state a "connection request" hits if the daemon
// was started without that medium's listen address configured -- surfaces
// as FailedPrecondition, not a generic error.
func TestCLIUnsupportedMediumRejected(t *testing.T) {
	env := newCLITestEnv(t)
	handle := cliMustAttach(t, env)

	_, err := cliCall[server.RequestConnectionRequest, server.RequestConnectionResponse](
		env, "RequestConnection", &server.RequestConnectionRequest{
			ClientHandle:        handle,
			EndpointID:          "some-endpoint",
			Target:              "127.0.0.1:1",
			Medium:              "BLUETOOTH",
			KeepAliveIntervalMS: 5000,
			KeepAliveTimeoutMS:  30000,
		})
	if code := connectCode(t, err); code != connect.CodeFailedPrecondition {
		t.Errorf("code = %v, want FailedPrecondition", code)
	}
}

// --- Output format round-trip, mirroring the view cmd/nearbyctl/commands/
// format.go renders a WatchEventsResponse through, without importing the
// unexported commands package. ---

type watchEventView struct {
	Kind       string `json:"kind" yaml:"kind"`
	EndpointID string `json:"endpoint_id" yaml:"endpoint_id"`
	Medium     string `json:"medium,omitempty" yaml:"medium,omitempty"`
}

func buildWatchEventView(ev *server.WatchEventsResponse) watchEventView {
	switch {
	case ev.EndpointFound != nil:
		return watchEventView{Kind: "endpoint_found", EndpointID: ev.EndpointFound.EndpointID, Medium: ev.EndpointFound.Medium}
	case ev.ConnectionAccepted != nil:
		return watchEventView{Kind: "connection_accepted", EndpointID: ev.ConnectionAccepted.EndpointID}
	case ev.PayloadReceived != nil:
		return watchEventView{Kind: "payload_received", EndpointID: ev.PayloadReceived.EndpointID}
	default:
		return watchEventView{Kind: "unknown"}
	}
}

func TestCLIOutputFormats(t *testing.T) {
	ev := &server.WatchEventsResponse{
		EndpointFound: &server.EndpointFoundEvent{EndpointID: "ABCD1234", Medium: "WIFI_LAN"},
	}

	t.Run("json", func(t *testing.T) {
		data, err := json.MarshalIndent(buildWatchEventView(ev), "", "  ")
		if err != nil {
			t.Fatalf("JSON marshal: %v", err)
		}

		out := string(data)
		if !strings.Contains(out, "ABCD1234") {
			t.Errorf("JSON output missing endpoint id: %s", out)
		}
		if !strings.Contains(out, "endpoint_found") {
			t.Errorf("JSON output missing kind: %s", out)
		}
	})

	t.Run("yaml_roundtrip", func(t *testing.T) {
		view := buildWatchEventView(ev)

		data, err := yaml.Marshal(view)
		if err != nil {
			t.Fatalf("YAML marshal: %v", err)
		}

		var decoded watchEventView
		if err := yaml.Unmarshal(data, &decoded); err != nil {
			t.Fatalf("YAML unmarshal: %v", err)
		}

		if decoded.EndpointID != "ABCD1234" {
			t.Errorf("YAML roundtrip endpoint_id = %q, want %q", decoded.EndpointID, "ABCD1234")
		}
		if decoded.Medium != "WIFI_LAN" {
			t.Errorf("YAML roundtrip medium = %q, want %q", decoded.Medium, "WIFI_LAN")
		}
	})
}
