// Package endpoint owns the set of connected remote endpoints: one
// reader worker and one keep-alive worker per endpoint, and the registry frame
// handlers (the payload manager, the bandwidth-upgrade engine) attach to
// in order to receive frames for the endpoints they care about.
package endpoint

import (
	"sync"
	"time"

	"github.com/dantte-lp/gonearby/internal/channel"
	"github.com/dantte-lp/gonearby/internal/frame"
)

// DefaultKeepAliveInterval and DefaultKeepAliveTimeout are the values
// Manager.Add applies to an Endpoint whose KeepAliveInterval or
// KeepAliveTimeout is zero or negative.
const (
	DefaultKeepAliveInterval = 5 * time.Second
	DefaultKeepAliveTimeout  = 30 * time.Second
)

// Endpoint is one connected remote peer: its identity, the channel
// carrying its frames, and the keep-alive parameters negotiated during
// connection setup.
//
// Channel may be set directly at construction, before the endpoint is
// registered with a Manager. Once registered, a bandwidth upgrade can
// rebind it to a new medium at any time; every access after that point
// -- by the reader/keep-alive workers or by the Send* helpers below --
// must go through CurrentChannel, which is safe for concurrent use with
// Manager.Rebind.
type Endpoint struct {
	ID      string
	Info    []byte
	Channel *channel.Channel

	chMu sync.Mutex

	KeepAliveInterval time.Duration
	KeepAliveTimeout  time.Duration

	Mediums []frame.Medium
}

// CurrentChannel returns the channel presently serving this endpoint.
func (e *Endpoint) CurrentChannel() *channel.Channel {
	e.chMu.Lock()
	defer e.chMu.Unlock()
	return e.Channel
}

// setChannel installs ch as the current channel and returns whichever
// channel was current before the swap.
func (e *Endpoint) setChannel(ch *channel.Channel) *channel.Channel {
	e.chMu.Lock()
	old := e.Channel
	e.Channel = ch
	e.chMu.Unlock()
	return old
}

// SendConnectionResponse writes a CONNECTION_RESPONSE frame carrying the
// given status code.
func (e *Endpoint) SendConnectionResponse(status int32) error {
	return e.CurrentChannel().Send(&frame.Frame{
		Type:               frame.TypeConnectionResponse,
		ConnectionResponse: &frame.ConnectionResponse{Status: status},
	})
}

// SendKeepAlive writes a KEEP_ALIVE frame.
func (e *Endpoint) SendKeepAlive() error {
	return e.CurrentChannel().Send(&frame.Frame{Type: frame.TypeKeepAlive})
}

// SendDataChunk writes one PAYLOAD_TRANSFER/DATA frame.
func (e *Endpoint) SendDataChunk(header frame.PayloadHeader, chunk *frame.PayloadChunk) error {
	return e.CurrentChannel().Send(&frame.Frame{
		Type: frame.TypePayloadTransfer,
		PayloadTransfer: &frame.PayloadTransfer{
			Header:     header,
			PacketType: frame.PacketTypeData,
			Chunk:      chunk,
		},
	})
}

// SendControl writes one PAYLOAD_TRANSFER/CONTROL frame.
func (e *Endpoint) SendControl(header frame.PayloadHeader, control *frame.ControlMessage) error {
	return e.CurrentChannel().Send(&frame.Frame{
		Type: frame.TypePayloadTransfer,
		PayloadTransfer: &frame.PayloadTransfer{
			Header:     header,
			PacketType: frame.PacketTypeControl,
			Control:    control,
		},
	})
}

// SendBandwidthUpgrade writes a BANDWIDTH_UPGRADE_NEGOTIATION frame.
func (e *Endpoint) SendBandwidthUpgrade(bun *frame.BandwidthUpgradeNegotiation) error {
	return e.CurrentChannel().Send(&frame.Frame{
		Type:                        frame.TypeBandwidthUpgradeNegotiation,
		BandwidthUpgradeNegotiation: bun,
	})
}
