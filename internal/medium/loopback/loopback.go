// Package loopback is an in-memory medium driver used by this
// repository's tests. It stands in for a real
// radio medium: Dial connects directly to a named Listener registered in
// the same process via a package-level registry, with net.Pipe providing
// the two matched io.ReadWriteCloser halves instead of a real socket.
package loopback

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/dantte-lp/gonearby/internal/frame"
	"github.com/dantte-lp/gonearby/internal/medium"
)

// ErrAddressInUse indicates Listen was called twice for the same address
// without an intervening Close.
var ErrAddressInUse = errors.New("loopback: address already in use")

// ErrNoListener indicates Dial targeted an address with no registered
// Listener.
var ErrNoListener = errors.New("loopback: no listener at address")

// registry maps bind addresses to the listener currently owning them.
// Loopback connections never leave the process, so a single shared map
// is sufficient; real mediums would instead resolve addresses over the
// network.
var (
	mu       sync.Mutex
	registry = make(map[string]*Listener)
)

// conn adapts one half of a net.Pipe to medium.Connection.
type conn struct {
	net.Conn
	remote string
}

func (c *conn) Medium() frame.Medium { return frame.MediumWifiLAN }
func (c *conn) RemoteInfo() string   { return c.remote }

// Listener accepts Connections dialed to its registered address.
type Listener struct {
	addr    string
	incoming chan net.Conn
	closed  chan struct{}
	once    sync.Once
}

// Driver implements medium.Driver entirely in memory.
type Driver struct{}

// NewDriver constructs a loopback Driver.
func NewDriver() *Driver { return &Driver{} }

// Medium reports the medium this driver stands in for.
func (d *Driver) Medium() frame.Medium { return frame.MediumWifiLAN }

// Listen registers a Listener at localAddr. localAddr is an opaque
// string key, typically the local endpoint id.
func (d *Driver) Listen(localAddr string) (medium.Listener, error) {
	mu.Lock()
	defer mu.Unlock()

	if _, exists := registry[localAddr]; exists {
		return nil, fmt.Errorf("loopback listen %s: %w", localAddr, ErrAddressInUse)
	}

	l := &Listener{
		addr:     localAddr,
		incoming: make(chan net.Conn, 16),
		closed:   make(chan struct{}),
	}
	registry[localAddr] = l

	return l, nil
}

// Dial connects to the Listener registered at target.
func (d *Driver) Dial(ctx context.Context, target string) (medium.Connection, error) {
	mu.Lock()
	l, ok := registry[target]
	mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("loopback dial %s: %w", target, ErrNoListener)
	}

	client, server := net.Pipe()

	select {
	case l.incoming <- server:
	case <-l.closed:
		_ = client.Close()
		_ = server.Close()
		return nil, fmt.Errorf("loopback dial %s: %w", target, medium.ErrClosed)
	case <-ctx.Done():
		_ = client.Close()
		_ = server.Close()
		return nil, ctx.Err()
	}

	return &conn{Conn: client, remote: target}, nil
}

// Accept blocks until a Dial targets this listener's address.
func (l *Listener) Accept(ctx context.Context) (medium.Connection, error) {
	select {
	case c := <-l.incoming:
		return &conn{Conn: c, remote: l.addr}, nil
	case <-l.closed:
		return nil, medium.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Medium reports the medium this listener accepts on.
func (l *Listener) Medium() frame.Medium { return frame.MediumWifiLAN }

// Close unregisters the listener and unblocks any pending Accept.
func (l *Listener) Close() error {
	l.once.Do(func() {
		mu.Lock()
		delete(registry, l.addr)
		mu.Unlock()
		close(l.closed)
	})
	return nil
}
