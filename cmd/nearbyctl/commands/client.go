package commands

import (
	"context"

	"connectrpc.com/connect"

	"github.com/dantte-lp/gonearby/internal/server"
)

// callUnary invokes one control-plane RPC, building a fresh typed
// connect.Client for it since there is no generated service stub
// bundling every procedure together.
func callUnary[Req, Res any](ctx context.Context, method string, req *Req) (*Res, error) {
	c := connect.NewClient[Req, Res](rpc, baseURL+server.Procedure(method), connect.WithCodec(server.Codec{}))
	resp, err := c.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

// streamServer opens a server-streaming RPC, for WatchEvents.
func streamServer[Req, Res any](ctx context.Context, method string, req *Req) (*connect.ServerStreamForClient[Res], error) {
	c := connect.NewClient[Req, Res](rpc, baseURL+server.Procedure(method), connect.WithCodec(server.Codec{}))
	return c.CallServerStream(ctx, connect.NewRequest(req))
}

func requireHandle() error {
	if clientHandle == "" {
		return errHandleRequired
	}
	return nil
}
