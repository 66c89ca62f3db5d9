// Package payload implements payload transfer over an already-connected
// endpoint: chunking an outgoing Payload into PAYLOAD_TRANSFER/DATA
// frames, reassembling an incoming one, and the CONTROL sub-frame used
// for mid-transfer cancellation.
package payload

import (
	"io"

	"github.com/dantte-lp/gonearby/internal/frame"
)

// MaxChunkSize bounds a single DATA frame's body.
const MaxChunkSize = 64 * 1024

// Payload is an outgoing unit of data the host hands to SendPayload
//.
type Payload struct {
	ID        int64
	Type      frame.PayloadType
	TotalSize int64 // frame.IndeterminateSize for an open-ended Stream
	data      io.Reader
}

// NewBytesPayload wraps an in-memory byte slice as a BYTES payload.
func NewBytesPayload(id int64, data []byte) *Payload {
	return &Payload{
		ID:        id,
		Type:      frame.PayloadTypeBytes,
		TotalSize: int64(len(data)),
		data:      newByteReader(data),
	}
}

// NewStreamPayload wraps r as a STREAM payload. size is
// frame.IndeterminateSize if the stream's length is not known in advance.
func NewStreamPayload(id int64, r io.Reader, size int64) *Payload {
	return &Payload{ID: id, Type: frame.PayloadTypeStream, TotalSize: size, data: r}
}

// NewFilePayload wraps r as a FILE payload of the given size.
func NewFilePayload(id int64, r io.Reader, size int64) *Payload {
	return &Payload{ID: id, Type: frame.PayloadTypeFile, TotalSize: size, data: r}
}

func newByteReader(b []byte) io.Reader {
	return &sliceReader{data: b}
}

type sliceReader struct {
	data []byte
	pos  int
}

func (r *sliceReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	n := copy(p, r.data[r.pos:])
	r.pos += n
	return n, nil
}

// IncomingPayload is delivered to the host as soon as its header arrives;
// the host reads the body as it streams in.
type IncomingPayload struct {
	ID        int64
	Type      frame.PayloadType
	TotalSize int64

	reader *io.PipeReader
}

// Read implements io.Reader, blocking until more data arrives or the
// transfer completes/fails/is canceled.
func (p *IncomingPayload) Read(b []byte) (int, error) {
	return p.reader.Read(b)
}

// Close abandons the incoming payload; pending Read calls return
// io.ErrClosedPipe.
func (p *IncomingPayload) Close() error {
	return p.reader.Close()
}
