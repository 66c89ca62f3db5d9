// Package tcplan implements the Wi-Fi LAN medium over plain
// TCP. Real Wi-Fi LAN discovery normally layers NSD/mDNS over this, but
// the connections core only needs a byte-stream Connection once an
// address is known; address exchange happens one layer up, in the
// UpgradePathInfo carried by a BANDWIDTH_UPGRADE_NEGOTIATION frame or in an out-of-band advertisement.
package tcplan

import (
	"context"
	"fmt"
	"net"

	"github.com/dantte-lp/gonearby/internal/frame"
	"github.com/dantte-lp/gonearby/internal/medium"
)

// conn adapts a *net.TCPConn to medium.Connection.
type conn struct {
	*net.TCPConn
}

func (c *conn) Medium() frame.Medium { return frame.MediumWifiLAN }
func (c *conn) RemoteInfo() string   { return c.RemoteAddr().String() }

// Listener wraps a net.Listener, converting Accept into a context-aware
// call.
type Listener struct {
	ln net.Listener
}

// Driver implements medium.Driver over TCP.
type Driver struct{}

// NewDriver constructs a tcplan Driver.
func NewDriver() *Driver { return &Driver{} }

// Medium reports WIFI_LAN.
func (d *Driver) Medium() frame.Medium { return frame.MediumWifiLAN }

// Listen opens a TCP listener at localAddr (a host:port or :port spec).
func (d *Driver) Listen(localAddr string) (medium.Listener, error) {
	ln, err := net.Listen("tcp", localAddr)
	if err != nil {
		return nil, fmt.Errorf("tcplan listen %s: %w", localAddr, err)
	}

	return &Listener{ln: ln}, nil
}

// Dial opens a TCP connection to target (a host:port).
func (d *Driver) Dial(ctx context.Context, target string) (medium.Connection, error) {
	var dialer net.Dialer

	c, err := dialer.DialContext(ctx, "tcp", target)
	if err != nil {
		return nil, fmt.Errorf("tcplan dial %s: %w", target, err)
	}

	tc, ok := c.(*net.TCPConn)
	if !ok {
		_ = c.Close()
		return nil, fmt.Errorf("tcplan dial %s: unexpected connection type %T", target, c)
	}

	return &conn{TCPConn: tc}, nil
}

// Accept blocks until a peer dials in or ctx is canceled. Listener.Close
// unblocks any in-flight Accept by closing the underlying net.Listener,
// which ctx cancellation alone cannot do; Accept additionally honors ctx
// so callers get a prompt return on shutdown instead of relying solely on
// Close having already run.
func (l *Listener) Accept(ctx context.Context) (medium.Connection, error) {
	type result struct {
		c   net.Conn
		err error
	}

	ch := make(chan result, 1)
	go func() {
		c, err := l.ln.Accept()
		ch <- result{c: c, err: err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("tcplan accept: %w", r.err)
		}
		tc, ok := r.c.(*net.TCPConn)
		if !ok {
			_ = r.c.Close()
			return nil, fmt.Errorf("tcplan accept: unexpected connection type %T", r.c)
		}
		return &conn{TCPConn: tc}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Medium reports WIFI_LAN.
func (l *Listener) Medium() frame.Medium { return frame.MediumWifiLAN }

// Close stops accepting new connections.
func (l *Listener) Close() error {
	if err := l.ln.Close(); err != nil {
		return fmt.Errorf("tcplan close: %w", err)
	}
	return nil
}

// Addr returns the listener's bound address, useful for tests that bind
// to port 0 and need the ephemeral port actually chosen.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}
