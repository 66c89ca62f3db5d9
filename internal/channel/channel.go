// Package channel wraps a medium.Connection with the V1 frame codec, an
// optional encryption context, and the pause/resume gate the payload
// manager uses for receiver-side backpressure.
package channel

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/dantte-lp/gonearby/internal/frame"
	"github.com/dantte-lp/gonearby/internal/medium"
)

// MaxFrameSize bounds a single wire frame.
const MaxFrameSize = 1 << 24 // 16 MiB

// ErrFrameTooLarge is returned by Recv when a peer declares a frame length
// beyond MaxFrameSize.
var ErrFrameTooLarge = errors.New("channel: frame exceeds maximum size")

// Cipher is the minimal interface a completed UKEY2 handshake exposes to a
// Channel. It is declared here rather than imported from package ukey2 to
// keep channel a leaf of the dependency graph.
type Cipher interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

// Channel is one encrypted (once a handshake completes), frame-oriented
// connection to a remote endpoint over a single medium. It owns no serial thread of its own: callers (the endpoint
// manager's reader worker, the payload manager's per-payload executor)
// serialize their own access.
type Channel struct {
	conn   medium.Connection
	r      *bufio.Reader
	medium frame.Medium

	mu     sync.Mutex
	cipher Cipher
	paused bool
	gate   chan struct{} // closed while unpaused; replaced (open) while paused

	createdAt    time.Time
	lastActivity time.Time
}

// New wraps conn in a Channel. The channel starts unencrypted and
// unpaused; SetCipher is called once the UKEY2 handshake completes.
func New(conn medium.Connection) *Channel {
	gate := make(chan struct{})
	close(gate)

	now := time.Now()
	return &Channel{
		conn:         conn,
		r:            bufio.NewReader(conn),
		medium:       conn.Medium(),
		gate:         gate,
		createdAt:    now,
		lastActivity: now,
	}
}

// Medium reports the transport this channel runs over.
func (c *Channel) Medium() frame.Medium {
	return c.medium
}

// RemoteInfo returns the underlying connection's diagnostic peer
// description.
func (c *Channel) RemoteInfo() string {
	return c.conn.RemoteInfo()
}

// SetCipher installs the encryption context negotiated by UKEY2. Frames
// sent or received after this call are encrypted/decrypted transparently.
func (c *Channel) SetCipher(cipher Cipher) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cipher = cipher
}

// CreatedAt returns when the channel was constructed.
func (c *Channel) CreatedAt() time.Time {
	return c.createdAt
}

// LastActivity returns the timestamp of the most recent successful Recv
// or RecvRaw (or of construction, before any read), used by the
// keep-alive worker to detect a stalled peer. Sends do not refresh it.
func (c *Channel) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

func (c *Channel) touch() {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

// Pause makes subsequent Recv and RecvRaw calls wait, before reading
// anything, until Resume is called. Nothing is read off the connection
// while the channel is paused.
func (c *Channel) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.paused {
		return
	}
	c.paused = true
	c.gate = make(chan struct{})
}

// Resume releases any Recv blocked by Pause.
func (c *Channel) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.paused {
		return
	}
	c.paused = false
	close(c.gate)
}

// Paused reports whether the channel is currently gating Recv.
func (c *Channel) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

func (c *Channel) waitUnpaused(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	gate := c.gate
	c.mu.Unlock()

	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitUntilResumed blocks until the channel is unpaused or ctx is
// canceled. The payload manager's send loop calls this between chunks to
// honor write-side backpressure without holding its own pause state.
func (c *Channel) WaitUntilResumed(ctx context.Context) error {
	return c.waitUnpaused(ctx)
}

// Send encodes f and writes it to the wire as a 4-byte big-endian length
// prefix followed by the (optionally encrypted) frame bytes.
func (c *Channel) Send(f *frame.Frame) error {
	payload := frame.Encode(f)

	c.mu.Lock()
	cipher := c.cipher
	c.mu.Unlock()

	if cipher != nil {
		ct, err := cipher.Encrypt(payload)
		if err != nil {
			return fmt.Errorf("channel send: encrypt: %w", err)
		}
		payload = ct
	}

	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))

	if _, err := c.conn.Write(header[:]); err != nil {
		return fmt.Errorf("channel send: write length: %w", err)
	}
	if _, err := c.conn.Write(payload); err != nil {
		return fmt.Errorf("channel send: write body: %w", err)
	}

	return nil
}

// Recv blocks until the next frame arrives. ctx is honored only before
// the read starts: Recv returns ctx's error if ctx is already canceled,
// or is canceled while the channel is paused. A read already in progress
// ends only when data arrives or the channel is closed. It decodes but
// does not Validate the frame; callers apply frame.Validate themselves.
func (c *Channel) Recv(ctx context.Context) (*frame.Frame, error) {
	if err := c.waitUnpaused(ctx); err != nil {
		return nil, err
	}

	var header [4]byte
	if _, err := io.ReadFull(c.r, header[:]); err != nil {
		return nil, fmt.Errorf("channel recv: read length: %w", err)
	}

	length := binary.BigEndian.Uint32(header[:])
	if length > MaxFrameSize {
		return nil, fmt.Errorf("channel recv: length %d: %w", length, ErrFrameTooLarge)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(c.r, body); err != nil {
		return nil, fmt.Errorf("channel recv: read body: %w", err)
	}

	c.mu.Lock()
	cipher := c.cipher
	c.mu.Unlock()

	if cipher != nil {
		pt, err := cipher.Decrypt(body)
		if err != nil {
			return nil, fmt.Errorf("channel recv: decrypt: %w", err)
		}
		body = pt
	}

	f, err := frame.Decode(body)
	if err != nil {
		return nil, fmt.Errorf("channel recv: decode: %w", err)
	}

	c.touch()
	return f, nil
}

// SendRaw writes buf as a length-prefixed message with no frame codec and
// no encryption, used by the UKEY2 handshake before a cipher exists.
func (c *Channel) SendRaw(buf []byte) error {
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(buf)))

	if _, err := c.conn.Write(header[:]); err != nil {
		return fmt.Errorf("channel send raw: write length: %w", err)
	}
	if _, err := c.conn.Write(buf); err != nil {
		return fmt.Errorf("channel send raw: write body: %w", err)
	}

	return nil
}

// RecvRaw reads one length-prefixed message with no frame codec and no
// decryption, used by the UKEY2 handshake before a cipher exists.
func (c *Channel) RecvRaw(ctx context.Context) ([]byte, error) {
	if err := c.waitUnpaused(ctx); err != nil {
		return nil, err
	}

	var header [4]byte
	if _, err := io.ReadFull(c.r, header[:]); err != nil {
		return nil, fmt.Errorf("channel recv raw: read length: %w", err)
	}

	length := binary.BigEndian.Uint32(header[:])
	if length > MaxFrameSize {
		return nil, fmt.Errorf("channel recv raw: length %d: %w", length, ErrFrameTooLarge)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(c.r, body); err != nil {
		return nil, fmt.Errorf("channel recv raw: read body: %w", err)
	}

	c.touch()
	return body, nil
}

// Close closes the underlying connection and unblocks any Recv paused
// indefinitely.
func (c *Channel) Close() error {
	c.Resume()
	if err := c.conn.Close(); err != nil {
		return fmt.Errorf("channel close: %w", err)
	}
	return nil
}
