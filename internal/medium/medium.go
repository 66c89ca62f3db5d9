// Package medium defines the polymorphic transport abstraction the
// connections core runs endpoints over.
// Every driver implements the same Connection/Listener/Dialer shape so
// the endpoint manager and bandwidth-upgrade engine never branch on which
// medium backs a given channel. This repository ships two drivers: the
// in-memory loopback and tcplan, a TCP stand-in for Wi-Fi LAN.
package medium

import (
	"context"
	"errors"
	"io"

	"github.com/dantte-lp/gonearby/internal/frame"
)

// ErrClosed is returned by operations on a Connection or Listener that has
// already been closed.
var ErrClosed = errors.New("medium: connection closed")

// ErrUnsupported is returned by a Dialer or Listener asked to act on a
// Medium it does not implement.
var ErrUnsupported = errors.New("medium: unsupported medium")

// Connection is a single bidirectional byte stream over one medium,
// carrying the V1 frame sequence. Channel wraps a Connection; Connection
// itself knows nothing about frames.
type Connection interface {
	io.ReadWriteCloser

	// Medium identifies the transport this connection runs over.
	Medium() frame.Medium

	// RemoteInfo is a diagnostic, medium-specific description of the peer
	// (MAC address, IP:port, peer id, ...), for logging only.
	RemoteInfo() string
}

// Listener accepts incoming Connections on one medium (the advertiser
// side of StartAdvertising).
type Listener interface {
	// Accept blocks until an incoming Connection arrives or ctx is
	// canceled.
	Accept(ctx context.Context) (Connection, error)

	// Medium identifies the transport this listener accepts on.
	Medium() frame.Medium

	// Close stops the listener. Blocked Accept calls return ErrClosed.
	Close() error
}

// Dialer opens outgoing Connections on one medium (the discoverer side of
// RequestConnection, and the bandwidth-upgrade engine's initiator
// dialing the new medium).
type Dialer interface {
	// Dial opens a Connection to target, a medium-specific address (an
	// in-memory endpoint id for loopback, a host:port for tcplan).
	Dial(ctx context.Context, target string) (Connection, error)

	// Medium identifies the transport this dialer connects over.
	Medium() frame.Medium
}

// Driver bundles a Listener factory and Dialer for one medium, the unit
// the session wires into the endpoint manager and the bandwidth-upgrade
// engine.
type Driver interface {
	Dialer

	// Listen starts accepting incoming connections at localAddr, a
	// medium-specific bind specification.
	Listen(localAddr string) (Listener, error)
}
